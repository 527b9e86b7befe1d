package models

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned by stores when the requested document does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when attempting to create a document that already exists.
var ErrAlreadyExists = errors.New("already exists")

type CompetitorType string

const (
	CompetitorDispensary CompetitorType = "dispensary"
	CompetitorBrand      CompetitorType = "brand"
	CompetitorChain      CompetitorType = "chain"
)

// Competitor is a watched business. Soft-deleted via Active=false, never
// hard-deleted: products and insights keep referencing it.
type Competitor struct {
	ID         string         `firestore:"-"`
	TenantID   string         `firestore:"tenantId" validate:"required"`
	Name       string         `firestore:"name" validate:"required"`
	Type       CompetitorType `firestore:"type" validate:"required,oneof=dispensary brand chain"`
	State      string         `firestore:"state,omitempty"`
	City       string         `firestore:"city,omitempty"`
	Zip        string         `firestore:"zip,omitempty"`
	Domain     string         `firestore:"domain,omitempty"`
	BrandFocus []string       `firestore:"brandFocus,omitempty"`
	Active     bool           `firestore:"active"`
	CreatedAt  time.Time      `firestore:"createdAt"`
	UpdatedAt  time.Time      `firestore:"updatedAt"`
}

type SourceType string

const (
	SourceHTML    SourceType = "html"
	SourceJSONAPI SourceType = "json_api"
)

type SourceKind string

const (
	SourceKindMenu    SourceKind = "menu"
	SourceKindPricing SourceKind = "pricing"
	SourceKindPromo   SourceKind = "promo"
)

// DataSource is one fetchable endpoint for a Competitor. NextDueAt is set on
// creation (due immediately) and advanced only by MarkDiscovered after a
// discovery attempt, never by polling.
type DataSource struct {
	ID              string            `firestore:"-"`
	CompetitorID    string            `firestore:"competitorId" validate:"required"`
	Kind            SourceKind        `firestore:"kind" validate:"required,oneof=menu pricing promo"`
	SourceType      SourceType        `firestore:"sourceType" validate:"required,oneof=html json_api"`
	BaseURL         string            `firestore:"baseUrl" validate:"required,url"`
	ProfileID       string            `firestore:"profileId" validate:"required"`
	CadenceMinutes  int               `firestore:"cadenceMinutes" validate:"gt=0"`
	Priority        int               `firestore:"priority"`
	RobotsAllowed   bool              `firestore:"robotsAllowed"`
	Headers         map[string]string `firestore:"headers,omitempty"`
	// FullMenu marks sources whose parser captures the entire menu in one
	// pass; only those sources get the absence-means-out-of-stock inference.
	FullMenu        bool      `firestore:"fullMenu"`
	LastDiscoveryAt time.Time `firestore:"lastDiscoveryAt,omitempty"`
	NextDueAt       time.Time `firestore:"nextDueAt"`
	Active          bool      `firestore:"active"`
	CreatedAt       time.Time `firestore:"createdAt"`
	UpdatedAt       time.Time `firestore:"updatedAt"`
}

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobDone      JobStatus = "done"
	JobError     JobStatus = "error"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether a job can no longer change state.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobError || s == JobCancelled
}

// DiscoveryJob is a scheduled unit of work. One job produces at most one run.
type DiscoveryJob struct {
	ID           string    `firestore:"-"`
	SourceID     string    `firestore:"sourceId"`
	CompetitorID string    `firestore:"competitorId"`
	ScheduledFor time.Time `firestore:"scheduledFor"`
	Status       JobStatus `firestore:"status"`
	CreatedBy    string    `firestore:"createdBy"` // "scheduler" or "manual"
	RunID        string    `firestore:"runId,omitempty"`
	Error        string    `firestore:"error,omitempty"`
	CreatedAt    time.Time `firestore:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// DiscoveryRun is the execution record of one fetch attempt.
type DiscoveryRun struct {
	ID              string    `firestore:"-"`
	SourceID        string    `firestore:"sourceId"`
	CompetitorID    string    `firestore:"competitorId"`
	JobID           string    `firestore:"jobId"`
	StartedAt       time.Time `firestore:"startedAt"`
	FinishedAt      time.Time `firestore:"finishedAt,omitempty"`
	Status          RunStatus `firestore:"status"`
	HTTPStatus      int       `firestore:"httpStatus,omitempty"`
	ContentType     string    `firestore:"contentType,omitempty"`
	ContentHash     string    `firestore:"contentHash,omitempty"`
	SnapshotPath    string    `firestore:"snapshotPath,omitempty"`
	DurationMillis  int64     `firestore:"durationMillis"`
	ProductsFound   int       `firestore:"productsFound"`
	ProductsNew     int       `firestore:"productsNew"`
	ProductsChanged int       `firestore:"productsChanged"`
	Error           string    `firestore:"error,omitempty"`
}

type StrainType string

const (
	StrainIndica  StrainType = "indica"
	StrainSativa  StrainType = "sativa"
	StrainHybrid  StrainType = "hybrid"
	StrainCBD     StrainType = "cbd"
	StrainUnknown StrainType = "unknown"
)

// ParsedProduct is one normalized candidate extracted from fetched content.
type ParsedProduct struct {
	ExternalID   string
	Name         string
	Brand        string
	Category     string
	Size         string
	StrainType   StrainType
	THCPercent   float64
	CBDPercent   float64
	Price        float64
	RegularPrice float64
	InStock      bool
	ImageURL     string
	ProductURL   string
	Description  string
}

// CompetitiveProduct is the durable record of "this competitor currently
// sells this SKU at this price". Never deleted; absence in a fresh full-menu
// batch flips InStock to false instead.
type CompetitiveProduct struct {
	ID           string     `firestore:"-"`
	CompetitorID string     `firestore:"competitorId"`
	Brand        string     `firestore:"brand"`
	Name         string     `firestore:"name"`
	Size         string     `firestore:"size,omitempty"`
	Category     string     `firestore:"category"`
	StrainType   StrainType `firestore:"strainType,omitempty"`
	THCPercent   float64    `firestore:"thcPercent,omitempty"`
	CBDPercent   float64    `firestore:"cbdPercent,omitempty"`
	Price        float64    `firestore:"price"`
	RegularPrice float64    `firestore:"regularPrice,omitempty"`
	InStock      bool       `firestore:"inStock"`
	LastSeenAt   time.Time  `firestore:"lastSeenAt"`
	ImageURL     string     `firestore:"imageUrl,omitempty"`
	ProductURL   string     `firestore:"productUrl,omitempty"`
	Description  string     `firestore:"description,omitempty"`
	CreatedAt    time.Time  `firestore:"createdAt"`
	UpdatedAt    time.Time  `firestore:"updatedAt"`
}

// ProductKey derives the stable identity of a competitive product from
// (competitor, brand, normalized name, size). Survives price and metadata
// edits across runs.
func ProductKey(competitorID, brand, name, size string) string {
	norm := func(s string) string {
		return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
	}
	h := sha256.Sum256([]byte(competitorID + "|" + norm(brand) + "|" + norm(name) + "|" + norm(size)))
	return hex.EncodeToString(h[:])
}

// PricePoint is an append-only time series entry per CompetitiveProduct.
type PricePoint struct {
	Price      float64   `firestore:"price"`
	CapturedAt time.Time `firestore:"capturedAt"`
}

type InsightType string

const (
	InsightNewProduct    InsightType = "new_product"
	InsightPriceDrop     InsightType = "price_drop"
	InsightPriceIncrease InsightType = "price_increase"
	InsightOutOfStock    InsightType = "out_of_stock"
	InsightBackInStock   InsightType = "back_in_stock"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Insight is an emitted, dismissible competitive event. Created by the diff
// pass; only the Dismissed flag is mutated afterwards, from outside this core.
type Insight struct {
	ID            string      `firestore:"-"`
	Type          InsightType `firestore:"type"`
	CompetitorID  string      `firestore:"competitorId"`
	Brand         string      `firestore:"brand,omitempty"`
	ProductID     string      `firestore:"productId,omitempty"`
	ProductName   string      `firestore:"productName,omitempty"`
	PreviousValue float64     `firestore:"previousValue,omitempty"`
	CurrentValue  float64     `firestore:"currentValue,omitempty"`
	DeltaPercent  float64     `firestore:"deltaPercent,omitempty"`
	Severity      Severity    `firestore:"severity"`
	Dismissed     bool        `firestore:"dismissed"`
	CreatedAt     time.Time   `firestore:"createdAt"`
}
