package profile

import (
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/ezalhq/radar/internal/models"
)

//go:embed profiles.json
var embeddedProfiles embed.FS

// LoadRegistry builds the profile registry in the following order:
// 1. Embedded profiles.json
// 2. External file defined by RADAR_PROFILES_PATH
// 3. Hardcoded defaults
func LoadRegistry() (*Registry, error) {
	data, err := embeddedProfiles.ReadFile("profiles.json")
	if err == nil {
		reg, parseErr := LoadRegistryFromBytes(data)
		if parseErr == nil {
			slog.Info("Loaded parser profiles from embedded config", "count", len(reg.profiles))
			return reg, nil
		}
		slog.Warn("Embedded profiles failed to parse. Trying file fallback.", "error", parseErr)
	}

	if path := os.Getenv("RADAR_PROFILES_PATH"); path != "" {
		if reg, err := LoadRegistryFromFile(path); err == nil {
			slog.Info("Loaded parser profiles from external file", "path", path)
			return reg, nil
		} else {
			slog.Warn("Failed to load external profiles, falling back to defaults", "path", path, "error", err)
		}
	}

	slog.Info("Using hardcoded default parser profiles")
	return NewRegistry(DefaultProfiles())
}

func LoadRegistryFromFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile config file: %w", err)
	}
	return LoadRegistryFromBytes(data)
}

func LoadRegistryFromBytes(data []byte) (*Registry, error) {
	var profiles []Profile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse profile config JSON: %w", err)
	}
	return NewRegistry(profiles)
}

// DefaultProfiles returns the fallback profile set if no JSON file loads.
// The embedded profiles.json is the single source of truth and should match.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			ID:         "dutchie_menu_v1",
			Version:    1,
			SourceType: models.SourceHTML,
			Selectors: &SelectorMap{
				Container:      "div[data-testid='product-card']",
				Name:           ".product-card__name",
				Brand:          ".product-card__brand",
				Price:          ".product-card__price",
				RegularPrice:   ".product-card__price--strikethrough",
				Category:       ".product-card__category",
				Potency:        ".product-card__potency",
				Size:           ".product-card__size",
				StockIndicator: ".product-card__out-of-stock",
				Image:          ".product-card__image img",
				URL:            "a.product-card__link",
			},
			Pagination: Pagination{Kind: PaginationScroll, MaxPages: 10},
		},
		{
			ID:         "jane_menu_v1",
			Version:    1,
			SourceType: models.SourceHTML,
			Selectors: &SelectorMap{
				Container:      "div.product-tile",
				Name:           ".product-tile__title",
				Brand:          ".product-tile__brand",
				Price:          ".product-tile__price",
				Category:       ".product-tile__kind",
				Potency:        ".product-tile__percentages",
				StockIndicator: ".product-tile__unavailable",
				Image:          "img.product-tile__photo",
				URL:            "a.product-tile__anchor",
			},
			Pagination: Pagination{Kind: PaginationPageParam, Param: "page", MaxPages: 20},
			Categories: map[string]string{"sale": CategoryOther, "specials": CategoryOther},
		},
		{
			ID:         "weedmaps_api_v1",
			Version:    1,
			SourceType: models.SourceJSONAPI,
			JSONPaths: &JSONPathMap{
				Products:     "data.menu_items",
				Name:         "name",
				Brand:        "brand.name",
				Price:        "prices[0].price",
				RegularPrice: "prices[0].regular_price",
				Category:     "category.name",
				Potency:      "thc_percentage",
				Size:         "prices[0].label",
				InStock:      "is_available",
				Image:        "image_url",
				URL:          "web_url",
			},
			Pagination: Pagination{Kind: PaginationOffset, Param: "offset", MaxPages: 15},
		},
		{
			ID:         "generic_menu_v1",
			Version:    1,
			SourceType: models.SourceHTML,
			Selectors: &SelectorMap{
				Container: ".menu-item",
				Name:      ".item-name",
				Brand:     ".item-brand",
				Price:     ".item-price",
			},
			Pagination: Pagination{Kind: PaginationNone},
		},
	}
}
