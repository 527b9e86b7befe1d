package parser

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ezalhq/radar/internal/models"
	"github.com/ezalhq/radar/internal/profile"
	"github.com/ezalhq/radar/internal/util"
)

func parseJSON(content []byte, p profile.Profile) Result {
	var doc interface{}
	if err := json.Unmarshal(content, &doc); err != nil {
		return Result{Success: false, Errors: []string{"failed to load JSON document: " + err.Error()}}
	}

	paths := p.JSONPaths
	items, err := resolveArray(doc, paths.Products)
	if err != nil {
		return Result{Success: false, Errors: []string{"products path: " + err.Error()}}
	}

	res := Result{Success: true}
	for i, item := range items {
		res.TotalFound++

		product, itemErr := extractJSONProduct(item, p, i)
		if itemErr != "" {
			res.Errors = append(res.Errors, fmt.Sprintf("item %d: %s", i, itemErr))
			continue
		}
		res.Products = append(res.Products, product)
	}
	return res
}

func extractJSONProduct(item interface{}, p profile.Profile, index int) (models.ParsedProduct, string) {
	paths := p.JSONPaths

	name := strings.TrimSpace(resolveString(item, paths.Name))
	if name == "" {
		return models.ParsedProduct{}, "missing product name"
	}

	price := resolveFloat(item, paths.Price)
	if price <= 0 {
		return models.ParsedProduct{}, fmt.Sprintf("no usable price for %q", name)
	}

	product := models.ParsedProduct{
		Name:         name,
		Price:        price,
		Brand:        strings.TrimSpace(resolveString(item, paths.Brand)),
		RegularPrice: resolveFloat(item, paths.RegularPrice),
		Size:         strings.TrimSpace(resolveString(item, paths.Size)),
		ImageURL:     resolveString(item, paths.Image),
		ProductURL:   resolveString(item, paths.URL),
		InStock:      true,
	}

	rawCategory := resolveString(item, paths.Category)
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

	if paths.Potency != "" {
		if v, ok := resolvePath(item, paths.Potency); ok {
			switch potency := v.(type) {
			case float64:
				product.THCPercent = potency
			case string:
				product.THCPercent, product.CBDPercent = ExtractPotency(potency)
			}
		}
	}
	product.StrainType = InferStrain(rawCategory + " " + name)

	if paths.InStock != "" {
		if v, ok := resolvePath(item, paths.InStock); ok {
			product.InStock = coerceBool(v)
		}
	}

	product.ExternalID = SynthesizeExternalID(product.Brand, product.Name, index)
	return product, ""
}

// resolvePath walks a dot path like "prices[0].price" through decoded JSON.
// One level of [index] array indexing is supported per segment.
func resolvePath(doc interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	current := doc
	for _, segment := range strings.Split(path, ".") {
		field := segment
		arrayIndex := -1
		if open := strings.Index(segment, "["); open >= 0 && strings.HasSuffix(segment, "]") {
			idx, err := strconv.Atoi(segment[open+1 : len(segment)-1])
			if err != nil {
				return nil, false
			}
			field = segment[:open]
			arrayIndex = idx
		}

		if field != "" {
			obj, ok := current.(map[string]interface{})
			if !ok {
				return nil, false
			}
			current, ok = obj[field]
			if !ok {
				return nil, false
			}
		}

		if arrayIndex >= 0 {
			arr, ok := current.([]interface{})
			if !ok || arrayIndex >= len(arr) {
				return nil, false
			}
			current = arr[arrayIndex]
		}
	}
	return current, true
}

func resolveArray(doc interface{}, path string) ([]interface{}, error) {
	v, ok := resolvePath(doc, path)
	if !ok {
		return nil, fmt.Errorf("path %q not found", path)
	}
	arr, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("path %q is not an array", path)
	}
	return arr, nil
}

func resolveString(doc interface{}, path string) string {
	v, ok := resolvePath(doc, path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func resolveFloat(doc interface{}, path string) float64 {
	v, ok := resolvePath(doc, path)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case string:
		return util.ExtractMoney(n)
	default:
		return 0
	}
}

func coerceBool(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		lower := strings.ToLower(b)
		return lower == "true" || lower == "yes" || lower == "in_stock" || lower == "available"
	case float64:
		return b != 0
	default:
		return false
	}
}
