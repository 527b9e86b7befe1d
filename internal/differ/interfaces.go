package differ

import (
	"context"

	"github.com/ezalhq/radar/internal/models"
)

// ProductStore abstracts persistence of competitive products and their
// append-only price history.
type ProductStore interface {
	GetProduct(ctx context.Context, tenantID, id string) (*models.CompetitiveProduct, error)
	ListProductsByCompetitor(ctx context.Context, tenantID, competitorID string) ([]models.CompetitiveProduct, error)
	UpsertProduct(ctx context.Context, tenantID string, p models.CompetitiveProduct) error
	AppendPricePoint(ctx context.Context, tenantID, productID string, pp models.PricePoint) error
	ListPricePoints(ctx context.Context, tenantID, productID string, limit int) ([]models.PricePoint, error)
}

// InsightFilter narrows ListInsights. Zero value returns everything
// undismissed.
type InsightFilter struct {
	CompetitorID     string
	Brand            string
	Type             models.InsightType
	IncludeDismissed bool
	Limit            int
}

// InsightStore abstracts insight persistence.
type InsightStore interface {
	CreateInsight(ctx context.Context, tenantID string, in models.Insight) (string, error)
	ListInsights(ctx context.Context, tenantID string, f InsightFilter) ([]models.Insight, error)
}
