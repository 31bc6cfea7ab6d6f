// Package parser holds the shared extraction utilities: price parsing, selector-fallback chains and record checks.
package parser

import (
	"fmt"
	"strings"

	"github.com/aluiziolira/go-price-compare/models"
)

var outOfStockMarkers = []string{"out of stock", "sold out", "unavailable", "not available"}

// ValidateProduct ensures a scraper captured the fields downstream consumers need.
func ValidateProduct(p *models.ScrapedProduct) error {
	if p == nil {
		return fmt.Errorf("product is nil")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("product missing name")
	}
	if p.Price == nil && strings.TrimSpace(p.URL) == "" {
		return fmt.Errorf("product %q has neither price nor url", p.Name)
	}
	if p.Price != nil && *p.Price < 0 {
		return fmt.Errorf("product %q has negative price", p.Name)
	}
	if strings.TrimSpace(p.SourceID) == "" {
		return fmt.Errorf("product %q missing source", p.Name)
	}
	return nil
}

// InStock interprets availability text. Empty text means the listing is assumed available.
func InStock(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range outOfStockMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	return true
}
