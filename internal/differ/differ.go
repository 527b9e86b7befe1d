// Package differ reconciles a fresh batch of parsed products against the
// stored per-competitor state, persisting price points and emitting typed
// insights for the changes it finds.
package differ

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ezalhq/radar/internal/models"
)

// priceEpsilon is the negligible-change floor: sub-cent wobble from price
// formatting is not a price move.
const priceEpsilon = 0.01

type Differ struct {
	products ProductStore
	insights InsightStore
	severity SeverityTable
	now      func() time.Time
}

func New(products ProductStore, insights InsightStore, severity SeverityTable) *Differ {
	return &Differ{
		products: products,
		insights: insights,
		severity: severity,
		now:      time.Now,
	}
}

// WithClock overrides the differ clock. Tests only.
func (d *Differ) WithClock(now func() time.Time) *Differ {
	d.now = now
	return d
}

// Stats summarizes one diff pass.
type Stats struct {
	Upserted     int
	New          int
	PriceChanged int
	StockChanged int
	Insights     int
}

// ProcessBatch reconciles parsed products for one source's competitor.
// Identity is (competitor, brand, normalized name, size). Products absent
// from the batch are never deleted; when the source is flagged FullMenu,
// absence flips the stored record to out-of-stock instead.
func (d *Differ) ProcessBatch(ctx context.Context, tenantID string, source models.DataSource, batch []models.ParsedProduct) (Stats, error) {
	var stats Stats
	if len(batch) == 0 {
		return stats, nil
	}

	now := d.now()
	seen := make(map[string]bool, len(batch))

	for _, parsed := range batch {
		id := models.ProductKey(source.CompetitorID, parsed.Brand, parsed.Name, parsed.Size)
		if seen[id] {
			// Duplicate row in the same batch; first occurrence wins.
			continue
		}
		seen[id] = true

		existing, err := d.products.GetProduct(ctx, tenantID, id)
		if err != nil {
			return stats, fmt.Errorf("failed to load product %s: %w", id, err)
		}

		if existing == nil {
			if err := d.createProduct(ctx, tenantID, id, source.CompetitorID, parsed, now, &stats); err != nil {
				return stats, err
			}
			continue
		}

		if err := d.reconcileProduct(ctx, tenantID, existing, parsed, now, &stats); err != nil {
			return stats, err
		}
	}

	if source.FullMenu {
		if err := d.flagAbsentProducts(ctx, tenantID, source.CompetitorID, seen, now, &stats); err != nil {
			return stats, err
		}
	}

	return stats, nil
}

func (d *Differ) createProduct(ctx context.Context, tenantID, id, competitorID string, parsed models.ParsedProduct, now time.Time, stats *Stats) error {
	product := models.CompetitiveProduct{
		ID:           id,
		CompetitorID: competitorID,
		Brand:        parsed.Brand,
		Name:         parsed.Name,
		Size:         parsed.Size,
		Category:     parsed.Category,
		StrainType:   parsed.StrainType,
		THCPercent:   parsed.THCPercent,
		CBDPercent:   parsed.CBDPercent,
		Price:        parsed.Price,
		RegularPrice: parsed.RegularPrice,
		InStock:      parsed.InStock,
		LastSeenAt:   now,
		ImageURL:     parsed.ImageURL,
		ProductURL:   parsed.ProductURL,
		Description:  parsed.Description,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := d.products.UpsertProduct(ctx, tenantID, product); err != nil {
		return fmt.Errorf("failed to create product %s: %w", id, err)
	}
	if err := d.products.AppendPricePoint(ctx, tenantID, id, models.PricePoint{Price: parsed.Price, CapturedAt: now}); err != nil {
		slog.Warn("Failed to append initial price point", "product", id, "error", err)
	}
	stats.Upserted++
	stats.New++

	d.emit(ctx, tenantID, models.Insight{
		Type:         models.InsightNewProduct,
		CompetitorID: competitorID,
		Brand:        parsed.Brand,
		ProductID:    id,
		ProductName:  parsed.Name,
		CurrentValue: parsed.Price,
		Severity:     d.severity.NewProductSeverity(parsed.Category),
	}, stats)
	return nil
}

func (d *Differ) reconcileProduct(ctx context.Context, tenantID string, existing *models.CompetitiveProduct, parsed models.ParsedProduct, now time.Time, stats *Stats) error {
	oldPrice := existing.Price
	wasInStock := existing.InStock

	priceMoved := oldPrice > 0 && math.Abs(parsed.Price-oldPrice) > priceEpsilon
	if priceMoved {
		if err := d.products.AppendPricePoint(ctx, tenantID, existing.ID, models.PricePoint{Price: parsed.Price, CapturedAt: now}); err != nil {
			slog.Warn("Failed to append price point", "product", existing.ID, "error", err)
		}

		deltaPercent := (parsed.Price - oldPrice) / oldPrice * 100
		insightType := models.InsightPriceIncrease
		if parsed.Price < oldPrice {
			insightType = models.InsightPriceDrop
		}
		d.emit(ctx, tenantID, models.Insight{
			Type:          insightType,
			CompetitorID:  existing.CompetitorID,
			Brand:         existing.Brand,
			ProductID:     existing.ID,
			ProductName:   existing.Name,
			PreviousValue: oldPrice,
			CurrentValue:  parsed.Price,
			DeltaPercent:  deltaPercent,
			Severity:      d.severity.PriceSeverity(existing.Category, deltaPercent),
		}, stats)
		stats.PriceChanged++
	}

	stockMoved := wasInStock != parsed.InStock
	if stockMoved {
		insightType := models.InsightBackInStock
		if wasInStock {
			insightType = models.InsightOutOfStock
		}
		d.emit(ctx, tenantID, models.Insight{
			Type:         insightType,
			CompetitorID: existing.CompetitorID,
			Brand:        existing.Brand,
			ProductID:    existing.ID,
			ProductName:  existing.Name,
			CurrentValue: parsed.Price,
			Severity:     d.severity.StockSeverity(),
		}, stats)
		stats.StockChanged++
	}

	existing.Price = parsed.Price
	if parsed.RegularPrice > 0 {
		existing.RegularPrice = parsed.RegularPrice
	}
	existing.InStock = parsed.InStock
	existing.Category = parsed.Category
	existing.StrainType = parsed.StrainType
	if parsed.THCPercent > 0 {
		existing.THCPercent = parsed.THCPercent
	}
	if parsed.CBDPercent > 0 {
		existing.CBDPercent = parsed.CBDPercent
	}
	if parsed.ImageURL != "" {
		existing.ImageURL = parsed.ImageURL
	}
	if parsed.ProductURL != "" {
		existing.ProductURL = parsed.ProductURL
	}
	existing.LastSeenAt = now
	existing.UpdatedAt = now

	if err := d.products.UpsertProduct(ctx, tenantID, *existing); err != nil {
		return fmt.Errorf("failed to update product %s: %w", existing.ID, err)
	}
	stats.Upserted++
	return nil
}

// flagAbsentProducts flips in-stock records missing from a full-menu batch
// to out-of-stock. Records are never deleted; history stays queryable.
func (d *Differ) flagAbsentProducts(ctx context.Context, tenantID, competitorID string, seen map[string]bool, now time.Time, stats *Stats) error {
	stored, err := d.products.ListProductsByCompetitor(ctx, tenantID, competitorID)
	if err != nil {
		return fmt.Errorf("failed to list products for absence check: %w", err)
	}
	for i := range stored {
		product := stored[i]
		if seen[product.ID] || !product.InStock {
			continue
		}
		product.InStock = false
		product.UpdatedAt = now
		if err := d.products.UpsertProduct(ctx, tenantID, product); err != nil {
			slog.Warn("Failed to flag absent product", "product", product.ID, "error", err)
			continue
		}
		d.emit(ctx, tenantID, models.Insight{
			Type:         models.InsightOutOfStock,
			CompetitorID: competitorID,
			Brand:        product.Brand,
			ProductID:    product.ID,
			ProductName:  product.Name,
			CurrentValue: product.Price,
			Severity:     d.severity.StockSeverity(),
		}, stats)
		stats.StockChanged++
	}
	return nil
}

func (d *Differ) emit(ctx context.Context, tenantID string, in models.Insight, stats *Stats) {
	in.ID = uuid.NewString()
	in.CreatedAt = d.now()
	if _, err := d.insights.CreateInsight(ctx, tenantID, in); err != nil {
		slog.Warn("Failed to persist insight", "type", in.Type, "product", in.ProductID, "error", err)
		return
	}
	stats.Insights++
}

// RecentInsights returns insights matching the filter, most recent first.
func (d *Differ) RecentInsights(ctx context.Context, tenantID string, f InsightFilter) ([]models.Insight, error) {
	return d.insights.ListInsights(ctx, tenantID, f)
}

// PriceHistory returns the stored price series for one product, newest
// first, bounded by limit.
func (d *Differ) PriceHistory(ctx context.Context, tenantID, productID string, limit int) ([]models.PricePoint, error) {
	return d.products.ListPricePoints(ctx, tenantID, productID, limit)
}

// PriceGap is one "we're priced differently" finding.
type PriceGap struct {
	ProductID       string  `json:"productId"`
	CompetitorID    string  `json:"competitorId"`
	Brand           string  `json:"brand"`
	Name            string  `json:"name"`
	Size            string  `json:"size,omitempty"`
	Category        string  `json:"category"`
	OurPrice        float64 `json:"ourPrice"`
	CompetitorPrice float64 `json:"competitorPrice"`
	GapAbsolute     float64 `json:"gapAbsolute"`
	GapPercent      float64 `json:"gapPercent"`
}

// GapOptions filters a price-gap query. OurPrices maps OwnPriceKey of the
// tenant's own catalog items to their price; products with no counterpart
// are skipped.
type GapOptions struct {
	CompetitorID  string
	Brand         string
	MinGapPercent float64
	OurPrices     map[string]float64
}

// OwnPriceKey derives the lookup key for the tenant's own catalog entry
// matching a competitor product.
func OwnPriceKey(brand, name, size string) string {
	return models.ProductKey("own", brand, name, size)
}

// FindPriceGaps computes ourPrice - competitorPrice across matching stored
// products. Read-only; pairs with a zero competitor or own price never
// produce a gap.
func (d *Differ) FindPriceGaps(ctx context.Context, tenantID string, opts GapOptions) ([]PriceGap, error) {
	stored, err := d.products.ListProductsByCompetitor(ctx, tenantID, opts.CompetitorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list products for gap query: %w", err)
	}

	var gaps []PriceGap
	for _, product := range stored {
		if product.Price <= 0 {
			continue
		}
		if opts.Brand != "" && !strings.EqualFold(product.Brand, opts.Brand) {
			continue
		}
		ourPrice, ok := opts.OurPrices[OwnPriceKey(product.Brand, product.Name, product.Size)]
		if !ok || ourPrice <= 0 {
			continue
		}

		gapAbsolute := ourPrice - product.Price
		gapPercent := gapAbsolute / product.Price * 100
		if opts.MinGapPercent > 0 && math.Abs(gapPercent) < opts.MinGapPercent {
			continue
		}
		gaps = append(gaps, PriceGap{
			ProductID:       product.ID,
			CompetitorID:    product.CompetitorID,
			Brand:           product.Brand,
			Name:            product.Name,
			Size:            product.Size,
			Category:        product.Category,
			OurPrice:        ourPrice,
			CompetitorPrice: product.Price,
			GapAbsolute:     gapAbsolute,
			GapPercent:      gapPercent,
		})
	}
	return gaps, nil
}
