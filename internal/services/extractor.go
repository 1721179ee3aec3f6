package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/flyerextract/internal/gcp"
	"github.com/Lllllllleong/flyerextract/internal/models"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// OfferExtractor sends one batch of page images to the extraction service.
type OfferExtractor interface {
	Extract(ctx context.Context, batch models.Batch) (*models.ExtractionResult, error)
}

// ContentGenerator is the part of *genai.GenerativeModel the extractor uses.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// ExtractorConfig bounds the cost of one batch.
type ExtractorConfig struct {
	MaxAttempts       int
	CallTimeout       time.Duration
	InitialBackoff    time.Duration
	RequestsPerSecond float64
	Burst             int
}

// VertexExtractor calls a schema-constrained Gemini model and re-validates the
// answer locally.
type VertexExtractor struct {
	model     ContentGenerator
	validator *ResponseValidator
	limiter   *rate.Limiter
	config    ExtractorConfig
}

// NewVertexExtractor creates an extractor. The rate limiter is shared by every
// flyer processed through it.
func NewVertexExtractor(model ContentGenerator, config ExtractorConfig) (*VertexExtractor, error) {
	if model == nil {
		return nil, fmt.Errorf("NewVertexExtractor: model cannot be nil")
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 3 * time.Minute
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = time.Second
	}
	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	if config.Burst < 1 {
		config.Burst = 1
	}
	validator, err := NewResponseValidator()
	if err != nil {
		return nil, err
	}
	return &VertexExtractor{
		model:     model,
		validator: validator,
		limiter:   rate.NewLimiter(limit, config.Burst),
		config:    config,
	}, nil
}

// Extract returns the offers and announcements found on the batch pages.
// Transient failures and malformed output are retried with doubling backoff up
// to MaxAttempts; the result is an *ExtractionError when the budget is spent or
// the failure is not retryable.
func (e *VertexExtractor) Extract(ctx context.Context, batch models.Batch) (*models.ExtractionResult, error) {
	logCtx := slog.With("batch", batch.Index, "firstPage", batch.FirstPage(), "lastPage", batch.LastPage())
	parts := buildBatchParts(batch)

	backoff := e.config.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, &ExtractionError{Batch: batch.Index, Attempts: attempt - 1, Err: err}
		}

		result, err := e.callOnce(ctx, parts)
		if err == nil {
			return filterToBatch(logCtx, result, batch), nil
		}
		lastErr = err
		if !isTransientExtractionFailure(ctx, err) {
			logCtx.Error("Extraction failed with a non-retryable error.", "attempt", attempt, "error", err)
			return nil, &ExtractionError{Batch: batch.Index, Attempts: attempt, Err: err}
		}
		if attempt == e.config.MaxAttempts {
			break
		}

		logCtx.Warn(
			"Extraction failed, will retry.",
			"attempt", attempt,
			"maxAttempts", e.config.MaxAttempts,
			"backoff", backoff.String(),
			"error", err,
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			logCtx.Error("Context cancelled during backoff. Aborting retries.", "error", ctx.Err())
			return nil, &ExtractionError{Batch: batch.Index, Attempts: attempt, Err: ctx.Err()}
		}
	}

	logCtx.Error("Extraction failed after all retries.", "error", lastErr)
	var malformed *errMalformedOutput
	return nil, &ExtractionError{
		Batch:     batch.Index,
		Attempts:  e.config.MaxAttempts,
		Transient: !errors.As(lastErr, &malformed),
		Err:       fmt.Errorf("retry budget exhausted: %w", lastErr),
	}
}

func (e *VertexExtractor) callOnce(ctx context.Context, parts []genai.Part) (*models.ExtractionResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.config.CallTimeout)
	defer cancel()

	resp, err := e.model.GenerateContent(callCtx, parts...)
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens {
		return nil, &errMalformedOutput{err: errors.New("response truncated at the token limit")}
	}
	return e.validator.Decode(extractJSONContent(resp))
}

// buildBatchParts labels every image with its absolute page index so the model
// can report where each offer was found.
func buildBatchParts(batch models.Batch) []genai.Part {
	parts := make([]genai.Part, 0, 2*len(batch.Pages)+1)
	for _, page := range batch.Pages {
		parts = append(parts,
			genai.Text(fmt.Sprintf("Page %d:", page.Index)),
			genai.Blob{MIMEType: page.MIMEType, Data: page.Data},
		)
	}
	return append(parts, genai.Text(gcp.ExtractorUserPrompt))
}

// extractJSONContent robustly gets the raw text content from the model response.
func extractJSONContent(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	// Clean potential markdown fences just in case
	cleanJSON := strings.TrimSpace(sb.String())
	cleanJSON = strings.TrimPrefix(cleanJSON, "```json")
	cleanJSON = strings.TrimPrefix(cleanJSON, "```")
	cleanJSON = strings.TrimSuffix(cleanJSON, "```")
	return strings.TrimSpace(cleanJSON)
}

// filterToBatch drops items whose page index does not belong to the batch;
// they cannot be mapped back to a page image.
func filterToBatch(logCtx *slog.Logger, result *models.ExtractionResult, batch models.Batch) *models.ExtractionResult {
	out := &models.ExtractionResult{
		ProductOffers:         make([]models.RawOffer, 0, len(result.ProductOffers)),
		CategoryAnnouncements: make([]models.RawAnnouncement, 0, len(result.CategoryAnnouncements)),
	}
	for _, offer := range result.ProductOffers {
		if !batch.Contains(offer.SourcePageIndex) {
			logCtx.Warn("Dropping offer with a page index outside the batch.", "productName", offer.ProductName, "sourcePageIndex", offer.SourcePageIndex)
			continue
		}
		out.ProductOffers = append(out.ProductOffers, offer)
	}
	for _, ann := range result.CategoryAnnouncements {
		if !batch.Contains(ann.SourcePageIndex) {
			logCtx.Warn("Dropping announcement with a page index outside the batch.", "categoryAffected", ann.CategoryAffected, "sourcePageIndex", ann.SourcePageIndex)
			continue
		}
		out.CategoryAnnouncements = append(out.CategoryAnnouncements, ann)
	}
	return out
}

// isTransientExtractionFailure sorts failures into retryable (network,
// rate-limit, quota, timeouts, malformed output) and fatal (auth, bad request,
// blocked content, caller cancellation).
func isTransientExtractionFailure(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var malformed *errMalformedOutput
	if errors.As(err, &malformed) {
		return true
	}
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code == http.StatusRequestTimeout || gerr.Code >= 500
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted, codes.Internal, codes.Unknown:
		return true
	}
	return false
}
