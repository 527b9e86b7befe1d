package util

import (
	"regexp"
	"strconv"
	"strings"
)

// moneyRegex matches the first currency-like token: optional $, digits with
// optional thousands separators, optional decimals. "From $1,234.50" -> 1234.50.
var moneyRegex = regexp.MustCompile(`\$?\s*(\d{1,3}(?:,\d{3})+|\d+)(\.\d{1,2})?`)

// ExtractMoney pulls the first currency-like numeric token out of free text.
// Returns 0 when no token is found.
func ExtractMoney(s string) float64 {
	m := moneyRegex.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	whole := strings.ReplaceAll(m[1], ",", "")
	v, err := strconv.ParseFloat(whole+m[2], 64)
	if err != nil {
		return 0
	}
	return v
}

var percentRegex = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)

// ExtractPercent pulls the first percentage token out of free text, e.g.
// "THC: 24.5%" -> 24.5. Returns 0 when no token is found.
func ExtractPercent(s string) float64 {
	m := percentRegex.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return v
}
