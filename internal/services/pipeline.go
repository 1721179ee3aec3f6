package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/flyerextract/internal/models"
	"golang.org/x/sync/errgroup"
)

// PipelineOptions are the per-run limits of a Pipeline.
type PipelineOptions struct {
	RenderDPI        int
	MaxPagesPerBatch int
	MaxPayloadBytes  int
	MaxConcurrency   int
	ErrorPolicy      OfferErrorPolicy
	RetryFailed      bool
}

// Pipeline drives every flyer through rasterize, batch, extract, normalize and
// record. Flyers are independent; only the ledger is shared.
type Pipeline struct {
	renderer   PageRenderer
	extractor  OfferExtractor
	normalizer *Normalizer
	ledger     Ledger
	sink       DatasetSink
	assets     AssetStore
	options    PipelineOptions
	now        func() time.Time
}

// NewPipeline wires the stages together. assets may be nil.
func NewPipeline(renderer PageRenderer, extractor OfferExtractor, normalizer *Normalizer, ledger Ledger, sink DatasetSink, assets AssetStore, options PipelineOptions) (*Pipeline, error) {
	if renderer == nil || extractor == nil || normalizer == nil || ledger == nil || sink == nil {
		return nil, fmt.Errorf("NewPipeline: renderer, extractor, normalizer, ledger and sink are required")
	}
	if options.MaxConcurrency < 1 {
		options.MaxConcurrency = 1
	}
	if options.ErrorPolicy == "" {
		options.ErrorPolicy = PolicyDrop
	}
	return &Pipeline{
		renderer:   renderer,
		extractor:  extractor,
		normalizer: normalizer,
		ledger:     ledger,
		sink:       sink,
		assets:     assets,
		options:    options,
		now:        time.Now,
	}, nil
}

// Run processes the discovered files with at most MaxConcurrency flyers in
// flight. A failing flyer is recorded and the run continues; a ledger failure
// cancels the run and is returned together with the partial report.
func (p *Pipeline) Run(ctx context.Context, files []DiscoveredFile) (*models.RunReport, error) {
	report := &models.RunReport{StartedAt: p.now().UTC(), Sources: make([]models.SourceResult, len(files))}
	slog.Info("Starting run.", "flyers", len(files), "maxConcurrency", p.options.MaxConcurrency)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.options.MaxConcurrency)

	for i, file := range files {
		if file.Err != nil {
			slog.Warn("Skipping unusable flyer file.", "path", file.Path, "error", file.Err)
			report.Sources[i] = models.SourceResult{FileName: fileNameOf(file), State: models.StateFailed, Reason: file.Err.Error()}
			continue
		}
		if gctx.Err() != nil {
			report.Sources[i] = models.SourceResult{FileName: file.Source.FileName, State: models.StateDiscovered, Reason: "not started: run aborted"}
			continue
		}
		g.Go(func() error {
			result, err := p.ProcessSource(gctx, file.Source)
			report.Sources[i] = result
			return err
		})
	}

	err := g.Wait()
	report.FinishedAt = p.now().UTC()
	slog.Info("Run finished.",
		"completed", report.Count(models.StateCompleted),
		"skipped", report.Count(models.StateSkippedAlreadyProcessed),
		"failed", report.Count(models.StateFailed),
	)
	return report, err
}

// ProcessSource runs one flyer to a terminal state. The returned error is
// non-nil only when the ledger failed, which must stop the whole run; flyer
// level failures are reported in the result.
func (p *Pipeline) ProcessSource(ctx context.Context, src models.FlyerSource) (models.SourceResult, error) {
	logCtx := slog.With("flyer", src.FileName, "sourceKey", src.Key())
	result := models.SourceResult{FileName: src.FileName, State: models.StateDiscovered}

	entry, skip, err := ShouldSkip(ctx, p.ledger, src, p.options.RetryFailed)
	if err != nil {
		logCtx.Error("Failed to read the ledger.", "error", err)
		result.State, result.Reason = models.StateFailed, err.Error()
		return result, err
	}
	if skip {
		logCtx.Info("Flyer already processed. Skipping.", "outcome", entry.Outcome, "processedAt", entry.ProcessedAt)
		result.State = models.StateSkippedAlreadyProcessed
		result.Reason = fmt.Sprintf("recorded as %s at %s", entry.Outcome, entry.ProcessedAt.Format(time.RFC3339))
		return result, nil
	}

	result.State = models.StateRasterizing
	rendered, err := p.renderer.Render(ctx, src, p.options.RenderDPI)
	if err != nil {
		return p.handleError(ctx, logCtx, src, result, "failed to rasterize flyer", err)
	}
	defer rendered.Close()
	src.PageCount = len(rendered.Pages)

	result.State = models.StateBatching
	batches, err := PlanBatches(rendered.Pages, p.options.MaxPagesPerBatch, p.options.MaxPayloadBytes)
	if err != nil {
		return p.handleError(ctx, logCtx, src, result, "failed to plan batches", err)
	}
	result.Batches = len(batches)

	result.State = models.StateExtracting
	extracted := make([]*models.ExtractionResult, 0, len(batches))
	for _, batch := range batches {
		if ctx.Err() != nil {
			return p.abandon(logCtx, result, ctx.Err())
		}
		logCtx.Info("Extracting batch.", "batch", batch.Index, "firstPage", batch.FirstPage(), "lastPage", batch.LastPage())
		// A batch already sent is allowed to finish when the run is cancelled.
		out, err := p.extractor.Extract(context.WithoutCancel(ctx), batch)
		if err != nil {
			return p.handleError(ctx, logCtx, src, result, fmt.Sprintf("failed to extract batch %d", batch.Index), err)
		}
		extracted = append(extracted, out)
	}
	if ctx.Err() != nil {
		return p.abandon(logCtx, result, ctx.Err())
	}

	result.State = models.StateNormalizing
	dataset := p.buildDataset(ctx, logCtx, src, rendered.Pages, extracted)
	dataset.Source.BatchCount = len(batches)
	result.OfferCount = len(dataset.ProductOffers)
	result.Dropped = dataset.DroppedOffers

	uri, err := p.sink.Write(ctx, dataset)
	if err != nil {
		return p.handleError(ctx, logCtx, src, result, "failed to write dataset", err)
	}
	result.DatasetURI = uri

	if err := p.ledger.RecordResult(ctx, src, models.OutcomeSuccess, result.OfferCount, nil); err != nil {
		logCtx.Error("CRITICAL: Failed to record success in the ledger.", "error", err)
		result.State, result.Reason = models.StateFailed, err.Error()
		return result, err
	}
	result.State = models.StateCompleted
	logCtx.Info("Flyer processed.", "offers", result.OfferCount, "dropped", result.Dropped, "dataset", uri)
	return result, nil
}

// handleError logs a flyer failure and records it in the ledger. Only a ledger
// failure is returned as an error.
func (p *Pipeline) handleError(ctx context.Context, logCtx *slog.Logger, src models.FlyerSource, result models.SourceResult, message string, originalErr error) (models.SourceResult, error) {
	if ctx.Err() != nil {
		return p.abandon(logCtx, result, originalErr)
	}
	fullError := fmt.Errorf("%s: %w", message, originalErr)
	logCtx.Error(message, "state", result.State, "error", originalErr)
	result.State, result.Reason = models.StateFailed, fullError.Error()

	if err := p.ledger.RecordResult(ctx, src, models.OutcomeFailure, 0, fullError); err != nil {
		logCtx.Error("CRITICAL: Failed to record failure in the ledger.", "ledgerError", err)
		return result, err
	}
	return result, nil
}

// abandon stops a flyer of a cancelled run without touching the ledger, so the
// next run starts it again.
func (p *Pipeline) abandon(logCtx *slog.Logger, result models.SourceResult, cause error) (models.SourceResult, error) {
	logCtx.Warn("Run cancelled. Abandoning flyer.", "state", result.State, "error", cause)
	result.State, result.Reason = models.StateFailed, fmt.Sprintf("abandoned: %v", cause)
	return result, nil
}

func (p *Pipeline) buildDataset(ctx context.Context, logCtx *slog.Logger, src models.FlyerSource, pages []models.PageImage, extracted []*models.ExtractionResult) *models.SourceDataset {
	pageByIndex := make(map[int]models.PageImage, len(pages))
	for _, page := range pages {
		pageByIndex[page.Index] = page
	}

	dataset := &models.SourceDataset{
		Source: models.SourceMetadata{
			FileName:      src.FileName,
			Retailer:      src.Retailer,
			SaleTitle:     src.SaleTitle,
			ValidFrom:     src.ValidFrom.Format(models.DateLayout),
			ValidUntil:    src.ValidUntil.Format(models.DateLayout),
			PageCount:     src.PageCount,
			ContentDigest: src.ContentDigest,
		},
		ProductOffers:         []models.NormalizedOffer{},
		CategoryAnnouncements: []models.Announcement{},
		GeneratedAt:           p.now().UTC(),
	}

	for _, out := range extracted {
		for _, raw := range out.ProductOffers {
			offer, err := p.normalizer.Normalize(raw, src)
			if err != nil {
				if IsIdentityError(err) || p.options.ErrorPolicy == PolicyDrop {
					logCtx.Warn("Dropping offer.", "productName", raw.ProductName, "sourcePageIndex", raw.SourcePageIndex, "error", err)
					dataset.DroppedOffers++
					continue
				}
				offer.NeedsReview = true
				offer.ReviewReasons = reviewReasons(err)
			}
			if p.assets != nil && offer.ProductHash != "" {
				if page, ok := pageByIndex[offer.SourcePageIndex]; ok {
					uri, err := p.assets.Store(ctx, offer.ProductHash, page)
					if err != nil {
						logCtx.Warn("Failed to store product image.", "productHash", offer.ProductHash, "error", err)
					} else {
						offer.ImageURI = uri
					}
				}
			}
			dataset.ProductOffers = append(dataset.ProductOffers, offer)
		}
		for _, raw := range out.CategoryAnnouncements {
			dataset.CategoryAnnouncements = append(dataset.CategoryAnnouncements, p.normalizer.NormalizeAnnouncement(raw, src))
		}
	}
	return dataset
}

func reviewReasons(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var reasons []string
		for _, e := range joined.Unwrap() {
			reasons = append(reasons, e.Error())
		}
		return reasons
	}
	return []string{err.Error()}
}

func fileNameOf(file DiscoveredFile) string {
	var fe *FilenameError
	if errors.As(file.Err, &fe) {
		return fe.FileName
	}
	return file.Path
}
