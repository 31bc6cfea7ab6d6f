package scraper

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-price-compare/config"
	"github.com/aluiziolira/go-price-compare/models"
	"github.com/aluiziolira/go-price-compare/parser"
)

const maxDescriptionRunes = 500

var hrefAttr = []string{"href"}

type listingChains struct {
	name, link, price, originalPrice, image parser.Chain
	stock, location, rating, reviews        parser.Chain
	discount                                parser.Chain
}

func newListingChains(sel config.ListingSelectors) listingChains {
	return listingChains{
		name:          parser.TextChain(sel.Name...),
		link:          parser.AttrChain(hrefAttr, sel.Link...),
		price:         parser.TextChain(sel.Price...),
		originalPrice: parser.TextChain(sel.OriginalPrice...),
		image:         parser.AttrChain(parser.ImageAttrs, sel.Image...),
		stock:         parser.TextChain(sel.Stock...),
		location:      parser.TextChain(sel.Location...),
		rating:        parser.TextChain(sel.Rating...),
		reviews:       parser.TextChain(sel.Reviews...),
		discount:      parser.TextChain(sel.Discount...),
	}
}

type detailChains struct {
	name, price, originalPrice, description parser.Chain
	stock, location                         parser.Chain
	images, specs                           []string
}

func newDetailChains(sel config.DetailSelectors) detailChains {
	return detailChains{
		name:          parser.TextChain(sel.Name...),
		price:         parser.TextChain(sel.Price...),
		originalPrice: parser.TextChain(sel.OriginalPrice...),
		description:   parser.TextChain(sel.Description...),
		stock:         parser.TextChain(sel.Stock...),
		location:      parser.TextChain(sel.Location...),
		images:        sel.Images,
		specs:         sel.Specs,
	}
}

func hasPrice(v string) bool { return parser.ParsePrice(v) != nil }

// candidate is one listing card; anchor is set when the card was found through a fallback link.
type candidate struct {
	node   *goquery.Selection
	anchor *goquery.Selection
}

// ParseListing extracts every product card on a result page. Cards that fail extraction are
// logged and skipped; they never abort the rest of the page.
func (s *SelectorScraper) ParseListing(body []byte, pageURL string) ([]*models.ScrapedProduct, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	pageBase := s.base
	if u, err := url.Parse(pageURL); err == nil && u.Host != "" {
		pageBase = u
	}

	cards, matched := s.candidates(doc.Selection)
	slog.Debug("listing candidates",
		slog.String("source", s.src.ID),
		slog.String("selector", matched),
		slog.Int("count", len(cards)),
	)

	products := make([]*models.ScrapedProduct, 0, len(cards))
	seen := make(map[string]struct{}, len(cards))
	for i, c := range cards {
		p, err := s.extractListing(c, pageBase)
		if err != nil {
			slog.Debug("listing card skipped",
				slog.String("source", s.src.ID),
				slog.Int("index", i),
				slog.Any("error", err),
			)
			continue
		}
		if p.URL != "" {
			if _, dup := seen[p.URL]; dup {
				continue
			}
			seen[p.URL] = struct{}{}
		}
		products = append(products, p)
	}
	return products, nil
}

func (s *SelectorScraper) candidates(root *goquery.Selection) ([]candidate, string) {
	items, matched := parser.SelectFirst(root, s.src.Listing.Items)
	var cards []candidate
	items.Each(func(_ int, node *goquery.Selection) {
		cards = append(cards, candidate{node: node})
	})
	if len(cards) > 0 || s.src.Listing.FallbackLinks == "" {
		return cards, matched
	}

	limit := s.src.Listing.FallbackLimit
	root.Find(s.src.Listing.FallbackLinks).EachWithBreak(func(_ int, link *goquery.Selection) bool {
		cards = append(cards, candidate{node: link.Parent(), anchor: link})
		return limit <= 0 || len(cards) < limit
	})
	return cards, "fallback:" + s.src.Listing.FallbackLinks
}

func (s *SelectorScraper) extractListing(c candidate, pageBase *url.URL) (p *models.ScrapedProduct, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("listing extraction panicked", slog.String("source", s.src.ID), slog.Any("panic", r))
			err = fmt.Errorf("extraction panic: %v", r)
		}
	}()

	el := c.node
	name, nameNode := "", (*goquery.Selection)(nil)
	if m, ok := s.listing.name.First(el); ok {
		name, nameNode = m.Value, m.Node
	}
	if name == "" && c.anchor != nil {
		name = parser.CollapseSpace(c.anchor.Text())
		if name == "" {
			name = c.anchor.AttrOr("title", "")
		}
	}
	name = parser.CleanName(name)

	link := s.findLink(el, c.anchor, nameNode)
	if link != "" {
		link = resolve(pageBase, link)
	}

	var price *float64
	if m, ok := s.listing.price.Find(el, hasPrice); ok {
		price = parser.ParsePrice(m.Value)
	}

	p, err = models.NewScrapedProduct(name, s.src.ID, price, link)
	if err != nil {
		return nil, err
	}
	p.Currency = s.src.Currency
	p.SourceName = s.src.Name

	if m, ok := s.listing.originalPrice.Find(el, hasPrice); ok {
		p.OriginalPrice = parser.ParsePrice(m.Value)
	}
	if m, ok := s.listing.image.First(el); ok {
		p.ImageURL = resolve(pageBase, m.Value)
	}
	if m, ok := s.listing.rating.First(el); ok {
		p.Rating = parser.ParseRating(m.Value)
	}
	if m, ok := s.listing.reviews.First(el); ok {
		p.ReviewsCount = parser.ParseCount(m.Value)
	}
	if m, ok := s.listing.discount.First(el); ok {
		p.DiscountPercent = parser.ParsePercent(m.Value)
	}
	if p.DiscountPercent == nil && p.HasPrice() && p.OriginalPrice != nil && *p.OriginalPrice > *p.Price {
		p.DiscountPercent = models.Float((*p.OriginalPrice - *p.Price) / *p.OriginalPrice * 100)
	}
	if m, ok := s.listing.location.First(el); ok {
		p.Location = m.Value
	}
	if m, ok := s.listing.stock.First(el); ok {
		p.InStock = parser.InStock(m.Value)
	}
	return p, nil
}

// findLink prefers the fallback anchor, then the anchor holding the name, then the link chain.
func (s *SelectorScraper) findLink(el, anchor, nameNode *goquery.Selection) string {
	if anchor != nil {
		if href := anchor.AttrOr("href", ""); s.acceptLink(href) {
			return href
		}
	}
	if nameNode != nil {
		a := nameNode
		if goquery.NodeName(a) != "a" {
			a = nameNode.Closest("a")
		}
		if href := a.AttrOr("href", ""); s.acceptLink(href) {
			return href
		}
	}
	if m, ok := s.listing.link.Find(el, s.acceptLink); ok {
		return m.Value
	}
	return ""
}

func (s *SelectorScraper) acceptLink(href string) bool {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return false
	}
	for _, ex := range s.src.Links.Exclude {
		if strings.Contains(href, ex) {
			return false
		}
	}
	if len(s.src.Links.Include) == 0 {
		return true
	}
	for _, in := range s.src.Links.Include {
		if strings.Contains(href, in) {
			return true
		}
	}
	return false
}

// ParseDetails extracts a product from its own page. Fields the page lacks stay empty.
func (s *SelectorScraper) ParseDetails(body []byte, productURL string) (p *models.ScrapedProduct, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("detail extraction panicked", slog.String("source", s.src.ID), slog.Any("panic", r))
			p, err = nil, fmt.Errorf("extraction panic: %v", r)
		}
	}()

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	root := doc.Selection
	pageBase := s.base
	if u, err := url.Parse(productURL); err == nil && u.Host != "" {
		pageBase = u
	}

	var name string
	if m, ok := s.detail.name.First(root); ok {
		name = parser.CleanName(m.Value)
	}
	var price *float64
	if m, ok := s.detail.price.Find(root, hasPrice); ok {
		price = parser.ParsePrice(m.Value)
	}
	p, err = models.NewScrapedProduct(name, s.src.ID, price, productURL)
	if err != nil {
		return nil, err
	}
	p.Currency = s.src.Currency
	p.SourceName = s.src.Name

	if m, ok := s.detail.originalPrice.Find(root, hasPrice); ok {
		p.OriginalPrice = parser.ParsePrice(m.Value)
	}
	if m, ok := s.detail.description.First(root); ok {
		p.Description = truncateRunes(m.Value, maxDescriptionRunes)
	}
	if m, ok := s.detail.location.First(root); ok {
		p.Location = m.Value
	}
	if m, ok := s.detail.stock.First(root); ok {
		p.InStock = parser.InStock(m.Value)
	}

	images, _ := parser.SelectFirst(root, s.detail.images)
	seen := map[string]struct{}{}
	images.Each(func(_ int, img *goquery.Selection) {
		src := parser.FirstAttr(img, parser.ImageAttrs...)
		if src == "" {
			return
		}
		src = resolve(pageBase, src)
		if _, dup := seen[src]; dup {
			return
		}
		seen[src] = struct{}{}
		p.Images = append(p.Images, src)
	})
	if len(p.Images) > 0 {
		p.ImageURL = p.Images[0]
	}

	rows, _ := parser.SelectFirst(root, s.detail.specs)
	rows.Each(func(_ int, row *goquery.Selection) {
		key, value := specPair(row)
		if key == "" || value == "" {
			return
		}
		if p.Specifications == nil {
			p.Specifications = make(map[string]string)
		}
		p.Specifications[key] = value
	})
	return p, nil
}

// specPair reads a table row (th/td or two tds) or a "Key: Value" list item.
func specPair(row *goquery.Selection) (string, string) {
	cells := row.Find("th, td")
	if cells.Length() >= 2 {
		return parser.CollapseSpace(cells.Eq(0).Text()), parser.CollapseSpace(cells.Eq(1).Text())
	}
	text := parser.CollapseSpace(row.Text())
	key, value, ok := strings.Cut(text, ":")
	if !ok {
		return "", ""
	}
	return strings.TrimSpace(key), strings.TrimSpace(value)
}

func resolve(base *url.URL, ref string) string {
	u, err := base.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return u.String()
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n]))
}
