// Package matching reconciles listings from different sources: name normalisation and
// attribute extraction, pairwise similarity, greedy grouping and comparison enrichment.
package matching

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Spec keys produced by Normalizer.Specs.
const (
	SpecStorage = "storage"
	SpecRAM     = "ram"
	SpecScreen  = "screen_size"
	SpecModel   = "model"
)

type alias struct {
	name    string
	aliases []string
}

// Lookup order matters: the first brand or category with a matching alias wins.
var defaultBrands = []alias{
	{"samsung", []string{"samsung", "galaxy"}},
	{"apple", []string{"apple", "iphone", "ipad", "macbook", "mac"}},
	{"huawei", []string{"huawei", "honor"}},
	{"xiaomi", []string{"xiaomi", "mi", "redmi", "poco"}},
	{"oppo", []string{"oppo", "oneplus"}},
	{"tecno", []string{"tecno", "infinix", "itel"}},
	{"hp", []string{"hp", "hewlett packard"}},
	{"dell", []string{"dell"}},
	{"lenovo", []string{"lenovo", "thinkpad"}},
	{"asus", []string{"asus"}},
	{"acer", []string{"acer"}},
	{"lg", []string{"lg"}},
	{"sony", []string{"sony", "xperia"}},
	{"nokia", []string{"nokia", "hmd"}},
}

var defaultCategories = []alias{
	{"smartphone", []string{"phone", "smartphone", "mobile", "cell", "android", "ios"}},
	{"laptop", []string{"laptop", "notebook", "ultrabook", "macbook", "chromebook"}},
	{"tablet", []string{"tablet", "ipad", "tab"}},
	{"headphones", []string{"headphones", "earphones", "earbuds", "airpods"}},
	{"tv", []string{"tv", "television", "smart tv", "led", "oled", "qled"}},
	{"appliance", []string{"fridge", "refrigerator", "washing machine", "microwave", "oven"}},
}

var defaultFillers = []string{"new", "original", "genuine", "brand", "latest", "hot", "sale"}

var (
	storageRe   = regexp.MustCompile(`(\d+)\s*(gb|tb|mb)\b`)
	ramSuffixRe = regexp.MustCompile(`^\s*(?:ram|memory)\b`)
	ramRe       = regexp.MustCompile(`(\d+)\s*gb\s*(?:ram|memory)\b`)
	screenRe    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*inch`)
	modelRe     = regexp.MustCompile(`\b[a-z]+\d+[a-z]*\b`)
)

// Features is everything the matcher needs to know about one product name.
type Features struct {
	Normalized string
	Brand      string
	Category   string
	Specs      map[string]string
}

// Normalizer canonicalises product names and extracts brand, category and specs.
// It holds only read-only tables and is safe for concurrent use.
type Normalizer struct {
	brands     []alias
	categories []alias
	fillers    map[string]struct{}
}

// NewNormalizer returns a normalizer with the built-in brand, category and filler tables.
func NewNormalizer() *Normalizer {
	fillers := make(map[string]struct{}, len(defaultFillers))
	for _, f := range defaultFillers {
		fillers[f] = struct{}{}
	}
	return &Normalizer{brands: defaultBrands, categories: defaultCategories, fillers: fillers}
}

// fold lowercases s and strips diacritics.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// NormalizeName lowercases, replaces punctuation with spaces, collapses whitespace and drops filler words.
func (n *Normalizer) NormalizeName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, fold(name))

	words := strings.Fields(cleaned)
	kept := words[:0]
	for _, w := range words {
		if _, filler := n.fillers[w]; !filler {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

// Brand returns the canonical brand for name, or "" when none is recognised.
func (n *Normalizer) Brand(name string) string {
	return lookup(n.brands, n.NormalizeName(name))
}

// Category returns the product category for name, or "" when none is recognised.
func (n *Normalizer) Category(name string) string {
	return lookup(n.categories, n.NormalizeName(name))
}

// lookup matches aliases as whole words or phrases of the normalised name.
func lookup(table []alias, normalized string) string {
	if normalized == "" {
		return ""
	}
	padded := " " + normalized + " "
	for _, entry := range table {
		for _, a := range entry.aliases {
			if strings.Contains(padded, " "+a+" ") {
				return entry.name
			}
		}
	}
	return ""
}

// Specs extracts storage, RAM, screen size and model tokens. Absent attributes are omitted.
func (n *Normalizer) Specs(name string) map[string]string {
	text := fold(name)
	specs := make(map[string]string)

	for _, m := range storageRe.FindAllStringSubmatchIndex(text, -1) {
		if ramSuffixRe.MatchString(text[m[1]:]) {
			continue
		}
		specs[SpecStorage] = text[m[2]:m[3]] + strings.ToUpper(text[m[4]:m[5]])
		break
	}
	if m := ramRe.FindStringSubmatch(text); m != nil {
		specs[SpecRAM] = m[1] + "GB"
	}
	if m := screenRe.FindStringSubmatch(text); m != nil {
		specs[SpecScreen] = m[1] + " inch"
	}
	if models := modelRe.FindAllString(text, -1); len(models) > 0 {
		specs[SpecModel] = strings.Join(models, " ")
	}
	return specs
}

// Analyze computes all features of name in one pass over the tables.
func (n *Normalizer) Analyze(name string) Features {
	normalized := n.NormalizeName(name)
	return Features{
		Normalized: normalized,
		Brand:      lookup(n.brands, normalized),
		Category:   lookup(n.categories, normalized),
		Specs:      n.Specs(name),
	}
}
