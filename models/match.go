package models

// PriceRange summarises known prices within a match group. Fields are nil when no member is priced.
type PriceRange struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
	Avg *float64 `json:"avg"`
}

// Savings is the spread between the most and least expensive priced members.
type Savings struct {
	Amount  float64 `json:"amount"`
	Percent float64 `json:"percent"`
}

// MatchGroup clusters listings judged to be the same underlying product.
type MatchGroup struct {
	Primary            *ScrapedProduct   `json:"primary"`
	Members            []*ScrapedProduct `json:"members"`
	Sources            []string          `json:"sources"`
	SimilarityScores   []float64         `json:"similarity_scores"`
	PriceRange         PriceRange        `json:"price_range"`
	CommonAttributes   map[string]string `json:"common_attributes"`
	Savings            Savings           `json:"savings"`
	BestDeal           *ScrapedProduct   `json:"best_deal,omitempty"`
	Confidence         float64           `json:"confidence"`
	SourceDistribution map[string]int    `json:"source_distribution"`
}

// All returns the primary followed by the absorbed members.
func (g *MatchGroup) All() []*ScrapedProduct {
	out := make([]*ScrapedProduct, 0, len(g.Members)+1)
	if g.Primary != nil {
		out = append(out, g.Primary)
	}
	return append(out, g.Members...)
}

// DistinctSources counts unique source ids touched by the group.
func (g *MatchGroup) DistinctSources() int {
	seen := make(map[string]struct{}, len(g.Sources))
	for _, s := range g.Sources {
		seen[s] = struct{}{}
	}
	return len(seen)
}

// MeanSimilarity averages the member scores, or returns zero for a lone primary.
func (g *MatchGroup) MeanSimilarity() float64 {
	if len(g.SimilarityScores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range g.SimilarityScores {
		sum += s
	}
	return sum / float64(len(g.SimilarityScores))
}
