// Package models defines the data structures shared by scrapers, the orchestrator and the matcher.
package models

import (
	"errors"
	"maps"
	"slices"
	"strings"
	"time"
)

// DefaultCurrency is applied to listings whose source does not declare one.
const DefaultCurrency = "KES"

// ErrIncompleteProduct is returned when a listing lacks a name or has neither price nor URL.
var ErrIncompleteProduct = errors.New("product: name and one of price or url are required")

// ScrapedProduct is one listing from one source.
type ScrapedProduct struct {
	Name            string            `json:"name"`
	Price           *float64          `json:"price"`
	OriginalPrice   *float64          `json:"original_price,omitempty"`
	DiscountPercent *float64          `json:"discount_percent,omitempty"`
	Currency        string            `json:"currency"`
	URL             string            `json:"url,omitempty"`
	ImageURL        string            `json:"image_url,omitempty"`
	SourceID        string            `json:"source_id"`
	SourceName      string            `json:"source_name,omitempty"`
	InStock         bool              `json:"in_stock"`
	Rating          *float64          `json:"rating,omitempty"`
	ReviewsCount    *int              `json:"reviews_count,omitempty"`
	Location        string            `json:"location,omitempty"`
	Description     string            `json:"description,omitempty"`
	Specifications  map[string]string `json:"specifications,omitempty"`
	Images          []string          `json:"images,omitempty"`
	ScrapedAt       time.Time         `json:"scraped_at"`
}

// NewScrapedProduct builds a listing, refusing records that cannot be compared or visited.
func NewScrapedProduct(name, sourceID string, price *float64, url string) (*ScrapedProduct, error) {
	p := &ScrapedProduct{
		Name:      strings.TrimSpace(name),
		Price:     price,
		Currency:  DefaultCurrency,
		URL:       strings.TrimSpace(url),
		SourceID:  sourceID,
		InStock:   true,
		ScrapedAt: time.Now().UTC(),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate reports whether the listing satisfies the construction invariant.
func (p *ScrapedProduct) Validate() error {
	if p == nil {
		return ErrIncompleteProduct
	}
	if strings.TrimSpace(p.Name) == "" {
		return ErrIncompleteProduct
	}
	if p.Price == nil && strings.TrimSpace(p.URL) == "" {
		return ErrIncompleteProduct
	}
	return nil
}

// HasPrice reports whether a positive price is known.
func (p *ScrapedProduct) HasPrice() bool {
	return p != nil && p.Price != nil && *p.Price > 0
}

// Clone returns a deep copy; nothing in the copy aliases p.
func (p *ScrapedProduct) Clone() *ScrapedProduct {
	if p == nil {
		return nil
	}
	c := *p
	c.Price = clonePtr(p.Price)
	c.OriginalPrice = clonePtr(p.OriginalPrice)
	c.DiscountPercent = clonePtr(p.DiscountPercent)
	c.Rating = clonePtr(p.Rating)
	c.ReviewsCount = clonePtr(p.ReviewsCount)
	c.Specifications = maps.Clone(p.Specifications)
	c.Images = slices.Clone(p.Images)
	return &c
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// PriceValue returns the price or zero when unknown.
func (p *ScrapedProduct) PriceValue() float64 {
	if !p.HasPrice() {
		return 0
	}
	return *p.Price
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Int returns a pointer to v.
func Int(v int) *int {
	return &v
}
