package matching

import (
	"math"
	"slices"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/aluiziolira/go-price-compare/models"
)

// Scoring weights.
const (
	brandBonus        = 0.2
	categoryBonus     = 0.1
	specWeight        = 0.15
	pricePenalty      = 0.1
	priceGapThreshold = 0.5

	// A single-source group survives only when a member matched above this score.
	corroborationThreshold = 0.85
)

// DefaultThreshold is the minimum similarity for a product to join a group.
const DefaultThreshold = 0.7

// Matcher scores product pairs and clusters listings into match groups.
type Matcher struct {
	normalizer *Normalizer
}

// NewMatcher returns a matcher using n, or a default normalizer when n is nil.
func NewMatcher(n *Normalizer) *Matcher {
	if n == nil {
		n = NewNormalizer()
	}
	return &Matcher{normalizer: n}
}

// Similarity scores how likely a and b are the same product, in [0, 1].
func (m *Matcher) Similarity(a, b *models.ScrapedProduct) float64 {
	if a == nil || b == nil {
		return 0
	}
	return similarity(a, m.normalizer.Analyze(a.Name), b, m.normalizer.Analyze(b.Name))
}

func similarity(a *models.ScrapedProduct, fa Features, b *models.ScrapedProduct, fb Features) float64 {
	score := nameRatio(fa.Normalized, fb.Normalized)
	if fa.Brand != "" && fa.Brand == fb.Brand {
		score += brandBonus
	}
	if fa.Category != "" && fa.Category == fb.Category {
		score += categoryBonus
	}
	score += specOverlap(fa.Specs, fb.Specs) * specWeight
	if a.HasPrice() && b.HasPrice() {
		pa, pb := *a.Price, *b.Price
		if math.Abs(pa-pb)/math.Max(pa, pb) > priceGapThreshold {
			score -= pricePenalty
		}
	}
	return clamp01(score)
}

// nameRatio is 1 - editDistance/maxLen over runes; an empty name never matches.
func nameRatio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// specOverlap is the share of keys present in both maps whose values agree.
func specOverlap(a, b map[string]string) float64 {
	common, matching := 0, 0
	for k, va := range a {
		vb, ok := b[k]
		if !ok {
			continue
		}
		common++
		if va == vb {
			matching++
		}
	}
	if common == 0 {
		return 0
	}
	return float64(matching) / float64(common)
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

// Partition clusters products greedily in input order. Each unassigned product opens a group
// and absorbs every later unassigned product scoring at least threshold against it, so a
// product lands in whichever group reaches it first. Groups are kept when they span more than
// one source or hold a member that matched above the corroboration threshold, and are
// returned by distinct source count then mean similarity, both descending. A non-positive
// threshold selects DefaultThreshold.
func (m *Matcher) Partition(products []*models.ScrapedProduct, threshold float64) []*models.MatchGroup {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	features := make([]Features, len(products))
	for i, p := range products {
		if p != nil {
			features[i] = m.normalizer.Analyze(p.Name)
		}
	}

	assigned := make([]bool, len(products))
	var groups []*models.MatchGroup
	for i, primary := range products {
		if assigned[i] || primary == nil {
			continue
		}
		assigned[i] = true
		g := &models.MatchGroup{
			Primary: primary,
			Sources: []string{primary.SourceID},
		}
		for j := i + 1; j < len(products); j++ {
			if assigned[j] || products[j] == nil {
				continue
			}
			score := similarity(primary, features[i], products[j], features[j])
			if score < threshold {
				continue
			}
			assigned[j] = true
			g.Members = append(g.Members, products[j])
			g.Sources = append(g.Sources, products[j].SourceID)
			g.SimilarityScores = append(g.SimilarityScores, score)
		}
		if !keep(g) {
			continue
		}
		g.PriceRange = priceRange(g.All())
		groups = append(groups, g)
	}

	slices.SortStableFunc(groups, func(a, b *models.MatchGroup) int {
		if da, db := a.DistinctSources(), b.DistinctSources(); da != db {
			return db - da
		}
		ma, mb := a.MeanSimilarity(), b.MeanSimilarity()
		switch {
		case ma > mb:
			return -1
		case ma < mb:
			return 1
		}
		return 0
	})
	return groups
}

func keep(g *models.MatchGroup) bool {
	if g.DistinctSources() > 1 {
		return true
	}
	return len(g.Members) > 0 && slices.Max(g.SimilarityScores) > corroborationThreshold
}

func priceRange(products []*models.ScrapedProduct) models.PriceRange {
	var (
		pr  models.PriceRange
		sum float64
		n   int
	)
	for _, p := range products {
		if !p.HasPrice() {
			continue
		}
		v := *p.Price
		if pr.Min == nil || v < *pr.Min {
			pr.Min = models.Float(v)
		}
		if pr.Max == nil || v > *pr.Max {
			pr.Max = models.Float(v)
		}
		sum += v
		n++
	}
	if n > 0 {
		pr.Avg = models.Float(sum / float64(n))
	}
	return pr
}
