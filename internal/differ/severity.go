package differ

import (
	"math"

	"github.com/ezalhq/radar/internal/models"
	"github.com/ezalhq/radar/internal/profile"
)

// Band holds the price-move magnitude thresholds (absolute percent) between
// severity levels for one category.
type Band struct {
	Medium   float64
	High     float64
	Critical float64
}

// SeverityTable maps delta magnitude to severity per category. Thresholds
// are category-dependent, so the table is configuration, not constants.
type SeverityTable struct {
	Default      Band
	PerCategory  map[string]Band
	MAPSensitive map[string]bool
}

// DefaultSeverityTable returns the stock thresholds: below 5% is noise,
// 15% is a real move, 30% is a pricing event. Vape and concentrate carry
// MAP-sensitive branding, so new listings there escalate.
func DefaultSeverityTable() SeverityTable {
	return SeverityTable{
		Default: Band{Medium: 5, High: 15, Critical: 30},
		PerCategory: map[string]Band{
			profile.CategoryFlower: {Medium: 5, High: 20, Critical: 40},
		},
		MAPSensitive: map[string]bool{
			profile.CategoryVape:        true,
			profile.CategoryConcentrate: true,
		},
	}
}

func (t SeverityTable) band(category string) Band {
	if b, ok := t.PerCategory[category]; ok {
		return b
	}
	return t.Default
}

// PriceSeverity grades a price move by absolute delta percentage; the
// mapping is monotonic in magnitude.
func (t SeverityTable) PriceSeverity(category string, deltaPercent float64) models.Severity {
	magnitude := math.Abs(deltaPercent)
	b := t.band(category)
	switch {
	case magnitude >= b.Critical:
		return models.SeverityCritical
	case magnitude >= b.High:
		return models.SeverityHigh
	case magnitude >= b.Medium:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// NewProductSeverity grades a new listing: medium by default, critical in
// MAP-sensitive categories where undercutting breaks brand agreements.
func (t SeverityTable) NewProductSeverity(category string) models.Severity {
	if t.MAPSensitive[category] {
		return models.SeverityCritical
	}
	return models.SeverityMedium
}

// StockSeverity grades stock transitions; they default to medium.
func (t SeverityTable) StockSeverity() models.Severity {
	return models.SeverityMedium
}
