package config

import (
	"fmt"
	"net/url"
	"time"
)

// SearchConfig describes how a source lays out its search and category URLs.
type SearchConfig struct {
	Path              string            `mapstructure:"path"`
	QueryParam        string            `mapstructure:"query_param"`
	PageParam         string            `mapstructure:"page_param"`
	OmitFirstPage     bool              `mapstructure:"omit_first_page"`
	Params            map[string]string `mapstructure:"params"`
	CategoryPageParam string            `mapstructure:"category_page_param"`
}

// ListingSelectors are ordered fallback chains applied to a search results page.
type ListingSelectors struct {
	Items         []string `mapstructure:"items"`
	FallbackLinks string   `mapstructure:"fallback_links"`
	FallbackLimit int      `mapstructure:"fallback_limit"`
	Name          []string `mapstructure:"name"`
	Link          []string `mapstructure:"link"`
	Price         []string `mapstructure:"price"`
	OriginalPrice []string `mapstructure:"original_price"`
	Image         []string `mapstructure:"image"`
	Stock         []string `mapstructure:"stock"`
	Location      []string `mapstructure:"location"`
	Rating        []string `mapstructure:"rating"`
	Reviews       []string `mapstructure:"reviews"`
	Discount      []string `mapstructure:"discount"`
}

// DetailSelectors are ordered fallback chains applied to a single product page.
type DetailSelectors struct {
	Name          []string `mapstructure:"name"`
	Price         []string `mapstructure:"price"`
	OriginalPrice []string `mapstructure:"original_price"`
	Description   []string `mapstructure:"description"`
	Images        []string `mapstructure:"images"`
	Specs         []string `mapstructure:"specs"`
	Stock         []string `mapstructure:"stock"`
	Location      []string `mapstructure:"location"`
}

// LinkFilter rejects navigation links that are not product pages.
type LinkFilter struct {
	Include []string `mapstructure:"include"`
	Exclude []string `mapstructure:"exclude"`
}

// SourceConfig holds the scraping parameters of one external site.
type SourceConfig struct {
	ID              string           `mapstructure:"id"`
	Name            string           `mapstructure:"name"`
	BaseURL         string           `mapstructure:"base_url"`
	Currency        string           `mapstructure:"currency"`
	RequiresBrowser bool             `mapstructure:"requires_browser"`
	WaitSelector    string           `mapstructure:"wait_selector"`
	Delay           DelayWindow      `mapstructure:"delay"`
	DetailDelay     DelayWindow      `mapstructure:"detail_delay"`
	Search          SearchConfig     `mapstructure:"search"`
	Listing         ListingSelectors `mapstructure:"listing"`
	Detail          DetailSelectors  `mapstructure:"detail"`
	Links           LinkFilter       `mapstructure:"links"`
}

func (s *SourceConfig) applyDefaults() {
	if s.Currency == "" {
		s.Currency = "KES"
	}
	if s.Name == "" {
		s.Name = s.ID
	}
	if s.Search.QueryParam == "" {
		s.Search.QueryParam = "q"
	}
	if s.Search.PageParam == "" {
		s.Search.PageParam = "page"
	}
	if s.Search.CategoryPageParam == "" {
		s.Search.CategoryPageParam = "page"
	}
	if s.Listing.FallbackLimit == 0 {
		s.Listing.FallbackLimit = 20
	}
}

// Validate checks the fields every scraper variant depends on.
func (s *SourceConfig) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("source id cannot be empty")
	}
	if s.BaseURL == "" {
		return fmt.Errorf("source %s: base URL cannot be empty", s.ID)
	}
	parsed, err := url.Parse(s.BaseURL)
	if err != nil {
		return fmt.Errorf("source %s: invalid base URL: %w", s.ID, err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("source %s: base URL must include a host", s.ID)
	}
	if len(s.Listing.Items) == 0 && s.Listing.FallbackLinks == "" {
		return fmt.Errorf("source %s: listing item selectors cannot be empty", s.ID)
	}
	if len(s.Listing.Name) == 0 {
		return fmt.Errorf("source %s: listing name selectors cannot be empty", s.ID)
	}
	if err := s.Delay.validate("source " + s.ID + " delay"); err != nil {
		return err
	}
	return s.DetailDelay.validate("source " + s.ID + " detail delay")
}

// DefaultSources returns the built-in Kenyan retailer and classifieds sources.
func DefaultSources() []SourceConfig {
	sources := []SourceConfig{
		jumiaSource(),
		jijiSource(),
		kilimallSource(),
		kenyatronicsSource(),
		zurimallSource(),
	}
	for i := range sources {
		sources[i].applyDefaults()
	}
	return sources
}

func jumiaSource() SourceConfig {
	return SourceConfig{
		ID:          "jumia",
		Name:        "Jumia Kenya",
		BaseURL:     "https://www.jumia.co.ke",
		Delay:       Window(2*time.Second, 4*time.Second),
		DetailDelay: Window(2*time.Second, 4*time.Second),
		Search: SearchConfig{
			Path:          "/catalog/",
			QueryParam:    "q",
			PageParam:     "page",
			OmitFirstPage: true,
		},
		Listing: ListingSelectors{
			Items:         []string{"article[data-catalog-id]", ".prd._fb.col.c-prd", ".prd", "[data-id]", ".core", "article.prd", ".itm"},
			Name:          []string{".name a", ".prd-name a", "h3 a", ".core a", "[data-catalog-id] a", ".info a", ".name", ".prd-name", "h3", ".info h3", ".title"},
			Link:          []string{`a[href*=".html"]`, `a[href*="/"]`, `a[href*="jumia.co.ke"]`},
			Price:         []string{".prc", ".price", ".prd-price", ".current-price", ".-b.-tal.-fs24"},
			OriginalPrice: []string{".old-price", ".original-price", ".crossed-out-price", ".-tal.-gy5.-lthr"},
			Image:         []string{"img", ".image img", ".prd-image img"},
			Rating:        []string{".stars", ".rating", "[data-rating]"},
			Reviews:       []string{".rev", ".reviews-count"},
			Discount:      []string{".discount", ".sale-flag", ".-paxs"},
			Stock:         []string{".stock", ".availability"},
		},
		Detail: DetailSelectors{
			Name:          []string{"h1", ".name", ".-fs20.-pts.-pbxs"},
			Price:         []string{".prc", ".-b.-tal.-fs24"},
			OriginalPrice: []string{".old-price", ".-tal.-gy5.-lthr"},
			Description:   []string{".markup", ".description", ".-pvs"},
			Images:        []string{".thumbs img", ".gallery img"},
			Specs:         []string{".key-features li", ".specifications tr"},
			Stock:         []string{".stock", ".availability"},
		},
		Links: LinkFilter{
			Include: []string{".html", "/catalog/"},
			Exclude: []string{"login", "account", "customer", "auth", "signin", "signup", "tkWl=", "return=", "redirect"},
		},
	}
}

func jijiSource() SourceConfig {
	return SourceConfig{
		ID:          "jiji",
		Name:        "Jiji Kenya",
		BaseURL:     "https://jiji.co.ke",
		Delay:       Window(3*time.Second, 6*time.Second),
		DetailDelay: Window(2*time.Second, 4*time.Second),
		Search: SearchConfig{
			Path:       "/search",
			QueryParam: "query",
			PageParam:  "page",
		},
		Listing: ListingSelectors{
			Items:         []string{`[data-testid="advert-list-item"]`, ".b-advert-card", ".advert-card", ".listing-item", ".ad-item", "article[data-id]"},
			FallbackLinks: `a[href*="/ads/"]`,
			FallbackLimit: 20,
			Name:          []string{`[data-testid="advert-title"]`, ".advert-title", ".ad-title", "h3 a", ".title a", "a[title]"},
			Link:          []string{"a[href]"},
			Price:         []string{`[data-testid="advert-price"]`, ".advert-price", ".price", ".ad-price", ".listing-price", ".amount", ".cost"},
			Image:         []string{`img[data-testid="advert-image"]`, ".advert-image img", "img", ".image img"},
			Location:      []string{`[data-testid="advert-location"]`, ".advert-location", ".location", ".ad-location", ".area"},
		},
		Detail: DetailSelectors{
			Name:        []string{"h1", ".ad-title", `[data-testid="ad-title"]`},
			Price:       []string{".price", ".ad-price", `[data-testid="ad-price"]`},
			Description: []string{".description", ".ad-description", `[data-testid="ad-description"]`},
			Images:      []string{".gallery img", ".ad-images img", ".image-gallery img"},
			Location:    []string{".location", ".ad-location"},
		},
	}
}

// Kilimall renders its catalogue client side, so listings only exist after a browser pass.
func kilimallSource() SourceConfig {
	return SourceConfig{
		ID:              "kilimall",
		Name:            "Kilimall",
		BaseURL:         "https://www.kilimall.co.ke",
		RequiresBrowser: true,
		WaitSelector:    ".product-item, .list-item, [data-product-id]",
		Delay:           Window(2*time.Second, 4*time.Second),
		DetailDelay:     Window(2*time.Second, 4*time.Second),
		Search: SearchConfig{
			Path:       "/search",
			QueryParam: "q",
			PageParam:  "page",
		},
		Listing: ListingSelectors{
			Items:         []string{".product-item", ".category-item", ".list-item", ".product-box", "[data-product-id]"},
			FallbackLinks: `a[href*="/goods/"]`,
			FallbackLimit: 20,
			Name:          []string{".goods-name", ".product-name", ".title", "h3", ".name a", "a[title]"},
			Link:          []string{`a[href*="/goods/"]`, "a[href]"},
			Price:         []string{".price-current", ".current-price", ".price", ".goods-price", ".sale-price", ".now-price"},
			OriginalPrice: []string{".price-original", ".original-price", ".old-price", ".was-price"},
			Image:         []string{"img", ".goods-img img", ".product-img img"},
			Rating:        []string{".rating", ".stars"},
			Discount:      []string{".discount", ".off"},
		},
		Detail: DetailSelectors{
			Name:        []string{"h1", ".product-title", ".goods-name"},
			Price:       []string{".current-price", ".price", ".sale-price"},
			Description: []string{".description", ".product-desc", ".goods-desc"},
			Images:      []string{".product-images img", ".goods-gallery img"},
		},
	}
}

func kenyatronicsSource() SourceConfig {
	return SourceConfig{
		ID:          "kenyatronics",
		Name:        "Kenyatronics",
		BaseURL:     "https://kenyatronics.com",
		Delay:       Window(2*time.Second, 4*time.Second),
		DetailDelay: Window(1*time.Second, 3*time.Second),
		Search: SearchConfig{
			Path:          "/",
			QueryParam:    "s",
			PageParam:     "paged",
			OmitFirstPage: true,
		},
		Listing: ListingSelectors{
			Items:         []string{".product", ".woocommerce-product", ".product-item", "article.product", ".product-box", ".item"},
			Name:          []string{".product-title a", "h2 a", "h3 a", ".entry-title a", `a[href*="/product/"]`, ".product-name a", ".product-title", "h2", "h3", ".entry-title", ".product-name"},
			Link:          []string{`a[href*="/product/"]`, `a[href*="kenyatronics.com"]`, "a"},
			Price:         []string{".price ins .amount", ".price .amount", ".price", ".amount", ".product-price", ".current-price", ".sale-price"},
			OriginalPrice: []string{".price del .amount", ".price .was", ".original-price"},
			Image:         []string{".product-image img", ".product-gallery img", "img"},
			Stock:         []string{".stock", ".out-of-stock"},
		},
		Detail: DetailSelectors{
			Name:        []string{"h1.product_title", "h1", ".product-title"},
			Price:       []string{".summary .price ins .amount", ".summary .price .amount", ".price .amount", ".price"},
			Description: []string{".product-description", ".entry-content", ".product-details"},
			Images:      []string{".woocommerce-product-gallery img", ".product-gallery img"},
			Specs:       []string{".product-attributes tr", ".product-specs li", ".specifications tr", ".shop_attributes tr"},
			Stock:       []string{".stock"},
		},
		Links: LinkFilter{
			Include: []string{"/product/", "kenyatronics.com"},
		},
	}
}

func zurimallSource() SourceConfig {
	return SourceConfig{
		ID:          "zurimall",
		Name:        "Zurimall",
		BaseURL:     "https://zurimall.co.ke",
		Delay:       Window(2*time.Second, 4*time.Second),
		DetailDelay: Window(1*time.Second, 3*time.Second),
		Search: SearchConfig{
			Path:       "/shop",
			QueryParam: "s",
			PageParam:  "paged",
			Params: map[string]string{
				"product_cat": "mobile-phones",
				"post_type":   "product",
			},
		},
		Listing: ListingSelectors{
			Items:         []string{"li.product-type-simple", "li.type-product", ".products .product", ".product-grid-item", ".product-small"},
			Name:          []string{"h2.woocommerce-loop-product__title", ".product-title", ".name", ".product-name a", ".product_title", "h1.product_title", ".product-info h3", ".entry-title"},
			Link:          []string{`a[href*="/product/"]`, `a[href*="zurimall.co.ke"]`, "a"},
			Price:         []string{"span.price ins .amount", ".price ins .amount", "span.price .amount", "p.price span.amount", ".product-price .amount", ".summary .price .amount", ".regular-price", "span[data-price]"},
			OriginalPrice: []string{".price del .woocommerce-Price-amount", ".price .was", "del .amount"},
			Image:         []string{".product-gallery-image img", ".product-image img[srcset]", ".attachment-woocommerce_thumbnail", ".product-thumb img", ".wp-post-image", "img.lazy-load", "img"},
			Stock:         []string{".stock", ".out-of-stock"},
		},
		Detail: DetailSelectors{
			Name:        []string{"h1.product_title", "h1", ".product-title"},
			Price:       []string{".summary .price ins .amount", ".summary .price .amount", ".price .amount"},
			Description: []string{".woocommerce-product-details__short-description", "#tab-description", ".product-description"},
			Images:      []string{".woocommerce-product-gallery img", ".product-gallery img"},
			Specs:       []string{".shop_attributes tr", ".product-specs li"},
			Stock:       []string{".stock"},
		},
		Links: LinkFilter{
			Include: []string{"/product/", "zurimall.co.ke"},
		},
	}
}
