package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ezalhq/radar/internal/models"
	"github.com/ezalhq/radar/internal/profile"
	"github.com/ezalhq/radar/internal/util"
)

// categoryKeywords maps name keywords to canonical categories, checked in
// order so the more specific forms win (pre-roll before flower).
var categoryKeywords = []struct {
	category string
	words    []string
}{
	{profile.CategoryPreRoll, []string{"pre-roll", "preroll", "pre roll", "joint", "blunt"}},
	{profile.CategoryVape, []string{"vape", "cart", "cartridge", "pen", "disposable"}},
	{profile.CategoryEdible, []string{"gummy", "gummies", "edible", "chocolate", "cookie", "brownie", "beverage", "drink", "mints"}},
	{profile.CategoryConcentrate, []string{"rosin", "resin", "shatter", "wax", "badder", "dab", "concentrate", "distillate"}},
	{profile.CategoryTincture, []string{"tincture", "sublingual", "drops"}},
	{profile.CategoryTopical, []string{"topical", "balm", "lotion", "cream", "salve"}},
	{profile.CategoryFlower, []string{"flower", "eighth", "quarter oz", "half oz", "ounce", "3.5g", "7g", "14g", "28g"}},
}

// InferCategory guesses a canonical category from a product name. Returns
// "other" when nothing matches.
func InferCategory(name string) string {
	lower := strings.ToLower(name)
	for _, ck := range categoryKeywords {
		for _, w := range ck.words {
			if strings.Contains(lower, w) {
				return ck.category
			}
		}
	}
	return profile.CategoryOther
}

// InferStrain guesses a strain type from a strain field or product name.
func InferStrain(text string) models.StrainType {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "indica"):
		return models.StrainIndica
	case strings.Contains(lower, "sativa"):
		return models.StrainSativa
	case strings.Contains(lower, "hybrid"):
		return models.StrainHybrid
	case strings.Contains(lower, "cbd"):
		return models.StrainCBD
	default:
		return models.StrainUnknown
	}
}

var (
	thcRegex = regexp.MustCompile(`(?i)thc[:\s]*(\d+(?:\.\d+)?)\s*%`)
	cbdRegex = regexp.MustCompile(`(?i)cbd[:\s]*(\d+(?:\.\d+)?)\s*%`)
)

// ExtractPotency pulls THC and CBD percentages out of a potency blurb like
// "THC: 24.5% | CBD: 0.3%". An unlabeled lone percentage is treated as THC.
func ExtractPotency(text string) (thc, cbd float64) {
	if m := thcRegex.FindStringSubmatch(text); m != nil {
		thc, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := cbdRegex.FindStringSubmatch(text); m != nil {
		cbd, _ = strconv.ParseFloat(m[1], 64)
	}
	if thc == 0 && cbd == 0 {
		thc = util.ExtractPercent(text)
	}
	return thc, cbd
}
