// Package profile holds the versioned parser-profile registry: per-platform
// extraction configuration mapping a profile id to either CSS selectors
// (HTML sources) or dot-path field mappings (JSON sources), plus category
// normalization and pagination hints. Pure data and lookups; no I/O.
package profile

import (
	"fmt"
	"strings"

	"github.com/ezalhq/radar/internal/models"
)

// Canonical product categories. Anything unrecognized maps to CategoryOther.
const (
	CategoryFlower      = "flower"
	CategoryPreRoll     = "pre_roll"
	CategoryVape        = "vape"
	CategoryEdible      = "edible"
	CategoryConcentrate = "concentrate"
	CategoryTopical     = "topical"
	CategoryTincture    = "tincture"
	CategoryOther       = "other"
)

// SelectorMap configures HTML extraction. Container selects one node per
// candidate product; the remaining selectors are resolved within it.
type SelectorMap struct {
	Container      string `json:"container"`
	Name           string `json:"name"`
	Brand          string `json:"brand,omitempty"`
	Price          string `json:"price"`
	RegularPrice   string `json:"regular_price,omitempty"`
	Category       string `json:"category,omitempty"`
	Potency        string `json:"potency,omitempty"`
	Size           string `json:"size,omitempty"`
	StockIndicator string `json:"stock_indicator,omitempty"`
	Image          string `json:"image,omitempty"`
	URL            string `json:"url,omitempty"`
}

// JSONPathMap configures JSON extraction. Products is the dot path to the
// array of items; the remaining paths are resolved within each item and
// support one level of field[index] array indexing.
type JSONPathMap struct {
	Products     string `json:"products"`
	Name         string `json:"name"`
	Brand        string `json:"brand,omitempty"`
	Price        string `json:"price"`
	RegularPrice string `json:"regular_price,omitempty"`
	Category     string `json:"category,omitempty"`
	Potency      string `json:"potency,omitempty"`
	Size         string `json:"size,omitempty"`
	InStock      string `json:"in_stock,omitempty"`
	Image        string `json:"image,omitempty"`
	URL          string `json:"url,omitempty"`
}

type PaginationKind string

const (
	PaginationNone      PaginationKind = "none"
	PaginationScroll    PaginationKind = "scroll"
	PaginationPageParam PaginationKind = "page_param"
	PaginationOffset    PaginationKind = "offset"
)

type Pagination struct {
	Kind     PaginationKind `json:"kind"`
	Param    string         `json:"param,omitempty"`
	MaxPages int            `json:"max_pages,omitempty"`
}

// Profile is one immutable extraction strategy. New extraction logic is a
// new profile id/version, never an in-place edit.
type Profile struct {
	ID         string            `json:"id"`
	Version    int               `json:"version"`
	SourceType models.SourceType `json:"source_type"`
	Selectors  *SelectorMap      `json:"selectors,omitempty"`
	JSONPaths  *JSONPathMap      `json:"json_paths,omitempty"`
	Pagination Pagination        `json:"pagination"`
	Categories map[string]string `json:"categories,omitempty"`
}

// Validate checks that the variant matching SourceType is populated.
func (p Profile) Validate() error {
	switch p.SourceType {
	case models.SourceHTML:
		if p.Selectors == nil || p.Selectors.Container == "" {
			return fmt.Errorf("profile %s: html profile requires a container selector", p.ID)
		}
	case models.SourceJSONAPI:
		if p.JSONPaths == nil || p.JSONPaths.Products == "" {
			return fmt.Errorf("profile %s: json profile requires a products path", p.ID)
		}
	default:
		return fmt.Errorf("profile %s: unknown source type %q", p.ID, p.SourceType)
	}
	return nil
}

type Registry struct {
	profiles map[string]Profile
}

func NewRegistry(profiles []Profile) (*Registry, error) {
	m := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := m[p.ID]; dup {
			return nil, fmt.Errorf("duplicate profile id %s", p.ID)
		}
		m[p.ID] = p
	}
	return &Registry{profiles: m}, nil
}

// Get looks a profile up by exact id. There is no fuzzy resolution; callers
// must supply the correct profile id per source.
func (r *Registry) Get(id string) (Profile, error) {
	p, ok := r.profiles[id]
	if !ok {
		return Profile{}, fmt.Errorf("parser profile %q: %w", id, models.ErrNotFound)
	}
	return p, nil
}

func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.profiles))
	for id := range r.profiles {
		ids = append(ids, id)
	}
	return ids
}

// globalCategories normalizes vocabulary shared across storefront platforms.
// Profile-level tables are consulted first and may override these.
var globalCategories = map[string]string{
	"flower": CategoryFlower, "flowers": CategoryFlower, "bud": CategoryFlower, "buds": CategoryFlower,
	"pre-roll": CategoryPreRoll, "pre-rolls": CategoryPreRoll, "preroll": CategoryPreRoll,
	"prerolls": CategoryPreRoll, "joint": CategoryPreRoll, "joints": CategoryPreRoll,
	"vape": CategoryVape, "vapes": CategoryVape, "vaporizers": CategoryVape,
	"cartridge": CategoryVape, "cartridges": CategoryVape, "carts": CategoryVape,
	"edible": CategoryEdible, "edibles": CategoryEdible, "gummies": CategoryEdible,
	"chocolates": CategoryEdible, "beverages": CategoryEdible,
	"concentrate": CategoryConcentrate, "concentrates": CategoryConcentrate, "extracts": CategoryConcentrate,
	"rosin": CategoryConcentrate, "shatter": CategoryConcentrate, "wax": CategoryConcentrate,
	"topical": CategoryTopical, "topicals": CategoryTopical, "lotions": CategoryTopical,
	"tincture": CategoryTincture, "tinctures": CategoryTincture, "oils": CategoryTincture,
	"sublinguals": CategoryTincture,
}

// MapCategory normalizes a raw platform category label, consulting the
// profile's own table first, then the global table, falling back to "other".
func (p Profile) MapCategory(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return CategoryOther
	}
	if p.Categories != nil {
		if mapped, ok := p.Categories[key]; ok {
			return mapped
		}
	}
	if mapped, ok := globalCategories[key]; ok {
		return mapped
	}
	return CategoryOther
}
