package matching

import (
	"sort"

	"github.com/aluiziolira/go-price-compare/metrics"
	"github.com/aluiziolira/go-price-compare/models"
)

const fullSourceCoverage = 3.0

// ComparisonBuilder turns per-source search results into enriched, ranked match groups.
type ComparisonBuilder struct {
	normalizer *Normalizer
	matcher    *Matcher
	metrics    *metrics.Metrics
}

// NewComparisonBuilder wires a builder with the default normalizer. m may be nil.
func NewComparisonBuilder(m *metrics.Metrics) *ComparisonBuilder {
	n := NewNormalizer()
	return &ComparisonBuilder{normalizer: n, matcher: NewMatcher(n), metrics: m}
}

// BuildComparison flattens results in source-id order, tagging each listing with its source,
// partitions them at threshold and enriches every group.
func (b *ComparisonBuilder) BuildComparison(results map[string][]*models.ScrapedProduct, threshold float64) []*models.MatchGroup {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var all []*models.ScrapedProduct
	for _, id := range ids {
		for _, p := range results[id] {
			if p == nil {
				continue
			}
			tagged := *p
			tagged.SourceID = id
			all = append(all, &tagged)
		}
	}

	groups := b.matcher.Partition(all, threshold)
	for _, g := range groups {
		b.Enrich(g)
	}
	b.metrics.AddGroups(len(groups))
	return groups
}

// Enrich fills the derived fields of g in place and returns it.
func (b *ComparisonBuilder) Enrich(g *models.MatchGroup) *models.MatchGroup {
	if g == nil {
		return nil
	}
	all := g.All()
	features := make([]Features, len(all))
	for i, p := range all {
		features[i] = b.normalizer.Analyze(p.Name)
	}

	g.PriceRange = priceRange(all)
	g.CommonAttributes = commonAttributes(features)
	g.Savings = savings(all)
	g.BestDeal = bestDeal(all, g.PriceRange)
	g.SourceDistribution = make(map[string]int, len(g.Sources))
	for _, s := range g.Sources {
		g.SourceDistribution[s]++
	}
	g.Confidence = confidence(g, features)
	return g
}

// commonAttributes keeps the attribute keys every product has, with identical values.
func commonAttributes(features []Features) map[string]string {
	common := map[string]string{}
	if len(features) == 0 {
		return common
	}
	for k, v := range features[0].Specs {
		shared := true
		for _, f := range features[1:] {
			if f.Specs[k] != v {
				shared = false
				break
			}
		}
		if shared {
			common[k] = v
		}
	}
	return common
}

func savings(products []*models.ScrapedProduct) models.Savings {
	priced := 0
	var lo, hi float64
	for _, p := range products {
		if !p.HasPrice() {
			continue
		}
		v := *p.Price
		if priced == 0 || v < lo {
			lo = v
		}
		if priced == 0 || v > hi {
			hi = v
		}
		priced++
	}
	if priced < 2 || hi <= 0 {
		return models.Savings{}
	}
	amount := hi - lo
	return models.Savings{Amount: amount, Percent: amount / hi * 100}
}

func bestDeal(products []*models.ScrapedProduct, pr models.PriceRange) *models.ScrapedProduct {
	if pr.Min == nil {
		return nil
	}
	for _, p := range products {
		if p.HasPrice() && *p.Price == *pr.Min {
			return p
		}
	}
	return nil
}

// confidence averages the applicable factors: source coverage, mean similarity,
// price consistency and brand agreement.
func confidence(g *models.MatchGroup, features []Features) float64 {
	factors := []float64{min(1, float64(g.DistinctSources())/fullSourceCoverage)}

	if len(g.SimilarityScores) > 0 {
		factors = append(factors, g.MeanSimilarity())
	}
	if pr := g.PriceRange; pr.Min != nil && pr.Max != nil && *pr.Max > 0 {
		width := (*pr.Max - *pr.Min) / *pr.Max
		factors = append(factors, 1-min(1, width))
	}
	factors = append(factors, brandAgreement(features))

	var sum float64
	for _, f := range factors {
		sum += f
	}
	return clamp01(sum / float64(len(factors)))
}

// brandAgreement is 1 when every recognised brand is the same, 0 when they conflict
// and 0.5 when no brand is recognised.
func brandAgreement(features []Features) float64 {
	brand := ""
	for _, f := range features {
		if f.Brand == "" {
			continue
		}
		if brand == "" {
			brand = f.Brand
			continue
		}
		if f.Brand != brand {
			return 0
		}
	}
	if brand == "" {
		return 0.5
	}
	return 1
}
