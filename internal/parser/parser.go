// Package parser turns fetched storefront content into normalized candidate
// products, dispatching on the source type to a selector-driven HTML
// extractor or a dot-path JSON extractor. Per-item failures accumulate as
// parse errors and never abort the batch.
package parser

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ezalhq/radar/internal/models"
	"github.com/ezalhq/radar/internal/profile"
	"github.com/ezalhq/radar/internal/util"
)

// Result is the output contract of one parse pass. Success is false only
// when the profile is missing/invalid or the document could not be loaded;
// partial extraction failures keep Success true with a non-empty Errors
// list.
type Result struct {
	Success    bool
	Products   []models.ParsedProduct
	Errors     []string
	TotalFound int
	Elapsed    time.Duration
}

type Engine struct {
	profiles *profile.Registry
}

func NewEngine(profiles *profile.Registry) *Engine {
	return &Engine{profiles: profiles}
}

// ParseContent extracts candidate products from raw content using the named
// profile, dispatching on sourceType.
func (e *Engine) ParseContent(content []byte, sourceType models.SourceType, profileID string) Result {
	start := time.Now()
	fail := func(msg string) Result {
		return Result{Success: false, Errors: []string{msg}, Elapsed: time.Since(start)}
	}

	p, err := e.profiles.Get(profileID)
	if err != nil {
		return fail(err.Error())
	}
	if p.SourceType != sourceType {
		return fail(fmt.Sprintf("profile %s is for %s sources, got %s", profileID, p.SourceType, sourceType))
	}

	var res Result
	switch sourceType {
	case models.SourceHTML:
		res = parseHTML(content, p)
	case models.SourceJSONAPI:
		res = parseJSON(content, p)
	default:
		return fail(fmt.Sprintf("unsupported source type %q", sourceType))
	}
	res.Elapsed = time.Since(start)
	return res
}

func parseHTML(content []byte, p profile.Profile) Result {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return Result{Success: false, Errors: []string{"failed to load document: " + err.Error()}}
	}

	sel := p.Selectors
	res := Result{Success: true}

	doc.Find(sel.Container).Each(func(i int, s *goquery.Selection) {
		res.TotalFound++

		product, itemErr := extractHTMLProduct(s, p, i)
		if itemErr != "" {
			res.Errors = append(res.Errors, fmt.Sprintf("item %d: %s", i, itemErr))
			return
		}
		res.Products = append(res.Products, product)
	})
	return res
}

func extractHTMLProduct(s *goquery.Selection, p profile.Profile, index int) (models.ParsedProduct, string) {
	sel := p.Selectors

	name := strings.TrimSpace(s.Find(sel.Name).First().Text())
	if name == "" {
		return models.ParsedProduct{}, "missing product name"
	}

	price := util.ExtractMoney(s.Find(sel.Price).First().Text())
	if price <= 0 {
		return models.ParsedProduct{}, fmt.Sprintf("no usable price for %q", name)
	}

	product := models.ParsedProduct{
		Name:    name,
		Price:   price,
		InStock: true,
	}

	if sel.Brand != "" {
		product.Brand = strings.TrimSpace(s.Find(sel.Brand).First().Text())
	}
	if sel.RegularPrice != "" {
		product.RegularPrice = util.ExtractMoney(s.Find(sel.RegularPrice).First().Text())
	}
	if sel.Size != "" {
		product.Size = strings.TrimSpace(s.Find(sel.Size).First().Text())
	}

	rawCategory := ""
	if sel.Category != "" {
		rawCategory = strings.TrimSpace(s.Find(sel.Category).First().Text())
	}
	if rawCategory != "" {
		product.Category = p.MapCategory(rawCategory)
	}
	if product.Category == "" || product.Category == profile.CategoryOther {
		if inferred := InferCategory(name); inferred != profile.CategoryOther {
			product.Category = inferred
		} else if product.Category == "" {
			product.Category = profile.CategoryOther
		}
	}

	if sel.Potency != "" {
		product.THCPercent, product.CBDPercent = ExtractPotency(s.Find(sel.Potency).First().Text())
	}
	product.StrainType = InferStrain(rawCategory + " " + name)

	// Stock is two-tier: explicit indicator first, then a phrase scan over
	// the node's full text.
	if sel.StockIndicator != "" && s.Find(sel.StockIndicator).Length() > 0 {
		product.InStock = false
	} else if containsStockoutPhrase(s.Text()) {
		product.InStock = false
	}

	if sel.Image != "" {
		img := s.Find(sel.Image).First()
		if src, ok := img.Attr("src"); ok {
			product.ImageURL = src
		} else if src, ok := img.Attr("data-src"); ok {
			product.ImageURL = src
		}
	}
	if sel.URL != "" {
		if href, ok := s.Find(sel.URL).First().Attr("href"); ok {
			product.ProductURL = href
		}
	}

	// Menu markup rarely exposes an id, so synthesize a stable-enough one.
	product.ExternalID = SynthesizeExternalID(product.Brand, product.Name, index)
	return product, ""
}

var stockoutPhrases = []string{"out of stock", "sold out"}

func containsStockoutPhrase(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range stockoutPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// SynthesizeExternalID builds a deterministic external id from brand, name
// and list position.
func SynthesizeExternalID(brand, name string, index int) string {
	slug := func(s string) string {
		return strings.ReplaceAll(strings.Join(strings.Fields(strings.ToLower(s)), "-"), "/", "-")
	}
	b := slug(brand)
	if b == "" {
		b = "unbranded"
	}
	return fmt.Sprintf("%s:%s:%d", b, slug(name), index)
}
