package parser

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-price-compare/models"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantNil bool
	}{
		{in: "KSh 45,000", want: 45000},
		{in: "Negotiable", wantNil: true},
		{in: "25k", want: 25000},
		{in: "20,000 - 25,000", want: 20000},
		{in: "KSh 20,000 – KSh 25,000", want: 20000},
		{in: "18,500 to 19,000", want: 18500},
		{in: "1.2m", want: 1200000},
		{in: "KSh 1,299.50", want: 1299.5},
		{in: "45000 KSh", want: 45000},
		{in: "Call for price", wantNil: true},
		{in: "Contact seller", wantNil: true},
		{in: "", wantNil: true},
		{in: "KSh 0", wantNil: true},
		{in: "free", wantNil: true},
		{in: "64mb", want: 64},
		{in: "KSh 45 000", want: 45000},
		{in: "KSh 45\u00a0000", want: 45000},
		{in: "KSh 45\u202f000", want: 45000},
		{in: "KSh 1 299 999", want: 1299999},
		{in: "45 000 KES", want: 45000},
		{in: "KSh 20 000 - KSh 25 000", want: 20000},
		{in: "2 pcs", want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParsePrice(tt.in)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("ParsePrice(%q) = %v, want nil", tt.in, *got)
				}
				return
			}
			if got == nil {
				t.Fatalf("ParsePrice(%q) = nil, want %v", tt.in, tt.want)
			}
			if *got != tt.want {
				t.Fatalf("ParsePrice(%q) = %v, want %v", tt.in, *got, tt.want)
			}
		})
	}
}

func TestParseHelpers(t *testing.T) {
	if got := ParsePercent("-35%"); got == nil || *got != 35 {
		t.Fatalf("ParsePercent = %v, want 35", got)
	}
	if got := ParseRating("4.3 out of 5"); got == nil || *got != 4.3 {
		t.Fatalf("ParseRating = %v, want 4.3", got)
	}
	if got := ParseCount("(1,204)"); got == nil || *got != 1204 {
		t.Fatalf("ParseCount = %v, want 1204", got)
	}
	if got := ParseCount("no reviews"); got != nil {
		t.Fatalf("ParseCount = %v, want nil", *got)
	}
}

func TestCleanName(t *testing.T) {
	in := "Samsung Galaxy A14 128GB KSh 21,500 KSh 25,000 -14% 4.2 out of 5 (87)"
	if got := CleanName(in); got != "Samsung Galaxy A14 128GB" {
		t.Fatalf("CleanName = %q", got)
	}

	spaced := "Tecno Spark 10 KSh 15 999 128GB"
	if got := CleanName(spaced); got != "Tecno Spark 10 128GB" {
		t.Fatalf("CleanName(%q) = %q", spaced, got)
	}
}

const fixtureCard = `<div class="card">
  <h3><a href="/p/1.html" title="Title Attr">  Tecno   Spark 10 </a></h3>
  <span class="price">Negotiable</span>
  <span class="amount">KSh 15,999</span>
  <img class="lazy" src="data:image/gif;base64,AAAA" data-src="/img/1.jpg">
</div>`

func fixture(t *testing.T, html string) *goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return doc.Selection
}

func TestTextChainFallsThroughMissingSelectors(t *testing.T) {
	root := fixture(t, fixtureCard)
	m, ok := TextChain(".missing", "h3 a", ".title").First(root)
	if !ok {
		t.Fatalf("expected a match")
	}
	if m.Value != "Tecno Spark 10" {
		t.Fatalf("value=%q", m.Value)
	}
	if m.Strategy != "text:h3 a" {
		t.Fatalf("strategy=%q", m.Strategy)
	}
}

func TestChainFindSkipsRejectedValues(t *testing.T) {
	root := fixture(t, fixtureCard)
	accept := func(s string) bool { return ParsePrice(s) != nil }
	m, ok := TextChain(".price", ".amount").Find(root, accept)
	if !ok {
		t.Fatalf("expected price match")
	}
	if m.Value != "KSh 15,999" {
		t.Fatalf("value=%q", m.Value)
	}
}

func TestAttrChainSkipsDataURIs(t *testing.T) {
	root := fixture(t, fixtureCard)
	m, ok := AttrChain(ImageAttrs, "img").First(root)
	if !ok || m.Value != "/img/1.jpg" {
		t.Fatalf("image=%q ok=%v", m.Value, ok)
	}
}

func TestChainRecoversFromPanickingStrategy(t *testing.T) {
	root := fixture(t, fixtureCard)
	chain := append(Chain{{
		Name: "boom",
		Extract: func(*goquery.Selection) (string, *goquery.Selection) {
			panic("broken strategy")
		},
	}}, TextChain("h3 a")...)
	m, ok := chain.First(root)
	if !ok || m.Value != "Tecno Spark 10" {
		t.Fatalf("expected fallback after panic, got %q ok=%v", m.Value, ok)
	}
}

func TestSelectFirst(t *testing.T) {
	root := fixture(t, `<ul><li class="b">1</li><li class="b">2</li><li class="c">3</li></ul>`)
	items, sel := SelectFirst(root, []string{".a", ".b", ".c"})
	if sel != ".b" || items.Length() != 2 {
		t.Fatalf("selector=%q length=%d", sel, items.Length())
	}
	none, sel := SelectFirst(root, []string{".z"})
	if sel != "" || none.Length() != 0 {
		t.Fatalf("expected empty selection")
	}
}

func TestValidateProduct(t *testing.T) {
	price := 100.0
	tests := []struct {
		name    string
		product *models.ScrapedProduct
		wantErr bool
	}{
		{name: "nil", product: nil, wantErr: true},
		{name: "missing name", product: &models.ScrapedProduct{URL: "http://x", SourceID: "a"}, wantErr: true},
		{name: "no price no url", product: &models.ScrapedProduct{Name: "x", SourceID: "a"}, wantErr: true},
		{name: "missing source", product: &models.ScrapedProduct{Name: "x", Price: &price}, wantErr: true},
		{name: "url only", product: &models.ScrapedProduct{Name: "x", URL: "http://x", SourceID: "a"}},
		{name: "price only", product: &models.ScrapedProduct{Name: "x", Price: &price, SourceID: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProduct(tt.product)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

func TestInStock(t *testing.T) {
	if !InStock("") || !InStock("In stock") {
		t.Fatalf("expected in stock")
	}
	if InStock("Out of Stock") || InStock("SOLD OUT") {
		t.Fatalf("expected out of stock")
	}
}
