package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ezalhq/radar/internal/differ"
	"github.com/ezalhq/radar/internal/fetcher"
	"github.com/ezalhq/radar/internal/models"
	"github.com/ezalhq/radar/internal/parser"
)

// BatchDiffer is the slice of the differ the pipeline invokes.
type BatchDiffer interface {
	ProcessBatch(ctx context.Context, tenantID string, source models.DataSource, batch []models.ParsedProduct) (differ.Stats, error)
}

// PipelineProcessor composes parse and diff into the fetcher's Processor
// hook, so the discoverer's state machine stays free of extraction logic.
type PipelineProcessor struct {
	parser *parser.Engine
	differ BatchDiffer
}

func NewPipelineProcessor(p *parser.Engine, d BatchDiffer) *PipelineProcessor {
	return &PipelineProcessor{parser: p, differ: d}
}

// Process extracts products from fetched content and reconciles them
// against stored state. A parse that succeeds with zero products is a
// valid empty menu; the diff pass is skipped and nothing is flagged absent.
func (p *PipelineProcessor) Process(ctx context.Context, tenantID string, source models.DataSource, body []byte) (fetcher.ProcessStats, error) {
	var stats fetcher.ProcessStats

	result := p.parser.ParseContent(body, source.SourceType, source.ProfileID)
	if !result.Success {
		return stats, fmt.Errorf("parse failed for profile %s: %s", source.ProfileID, strings.Join(result.Errors, "; "))
	}
	if len(result.Errors) > 0 {
		slog.Warn("Parse completed with item errors", "source", source.ID, "profile", source.ProfileID, "errors", len(result.Errors))
	}

	stats.Found = len(result.Products)
	if stats.Found == 0 {
		slog.Info("Parse found no products", "source", source.ID, "profile", source.ProfileID)
		return stats, nil
	}

	diffStats, err := p.differ.ProcessBatch(ctx, tenantID, source, result.Products)
	if err != nil {
		return stats, fmt.Errorf("diff failed for source %s: %w", source.ID, err)
	}
	stats.New = diffStats.New
	stats.Changed = diffStats.PriceChanged + diffStats.StockChanged
	return stats, nil
}
