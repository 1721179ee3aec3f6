package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Lllllllleong/flyerextract/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRenderer returns pageCounts[src.Key()] small pages.
type fakeRenderer struct {
	pageCounts map[string]int
	err        error
}

func (r *fakeRenderer) Render(_ context.Context, src models.FlyerSource, dpi int) (*RenderedFlyer, error) {
	if r.err != nil {
		return nil, &RasterizationError{Path: src.Path, Err: r.err}
	}
	pages := make([]models.PageImage, r.pageCounts[src.Key()])
	for i := range pages {
		pages[i] = models.PageImage{SourceKey: src.Key(), Index: i, DPI: dpi, MIMEType: "image/jpeg", Data: []byte(fmt.Sprintf("page-%d", i))}
	}
	return NewRenderedFlyer(pages), nil
}

// fakeExtractor returns one offer per page, named after the source and page.
type fakeExtractor struct {
	mu       sync.Mutex
	batches  []models.Batch
	failKeys map[string]error
	price    string
}

func (x *fakeExtractor) Extract(_ context.Context, batch models.Batch) (*models.ExtractionResult, error) {
	x.mu.Lock()
	x.batches = append(x.batches, batch)
	x.mu.Unlock()

	key := batch.Pages[0].SourceKey
	if err := x.failKeys[key]; err != nil {
		return nil, &ExtractionError{Batch: batch.Index, Attempts: 1, Err: err}
	}
	price := x.price
	if price == "" {
		price = "1,99 €"
	}
	result := &models.ExtractionResult{}
	for _, page := range batch.Pages {
		result.ProductOffers = append(result.ProductOffers, models.RawOffer{
			ProductName:           fmt.Sprintf("Item %s %d", key, page.Index),
			Category:              string(models.CategoryPantryBaking),
			CurrentPrice:          price,
			PackageSize:           "500 g",
			AvailabilityDateRange: "N/A",
			SourcePageIndex:       page.Index,
		})
	}
	return result, nil
}

func (x *fakeExtractor) callsFor(key string) []models.Batch {
	x.mu.Lock()
	defer x.mu.Unlock()
	var out []models.Batch
	for _, b := range x.batches {
		if b.Pages[0].SourceKey == key {
			out = append(out, b)
		}
	}
	return out
}

// brokenLedger finds nothing and fails every write.
type brokenLedger struct {
	mu      sync.Mutex
	records []string
}

func (l *brokenLedger) Lookup(context.Context, string) (models.LedgerEntry, bool, error) {
	return models.LedgerEntry{}, false, nil
}

func (l *brokenLedger) RecordResult(_ context.Context, src models.FlyerSource, _ models.Outcome, _ int, _ error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, src.Key())
	return &LedgerIOError{Op: "append", Err: errors.New("disk full")}
}

func (l *brokenLedger) Entries(context.Context) ([]models.LedgerEntry, error) { return nil, nil }
func (l *brokenLedger) Close() error { return nil }

type pipelineFixture struct {
	pipeline  *Pipeline
	ledger    *FileLedger
	extractor *fakeExtractor
	outputDir string
}

func newPipelineFixture(t *testing.T, pageCounts map[string]int, opts PipelineOptions) *pipelineFixture {
	t.Helper()
	dir := t.TempDir()
	ledger, err := OpenFileLedger(filepath.Join(dir, "ledger.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	outputDir := filepath.Join(dir, "out")
	sink, err := NewJSONDatasetSink(outputDir, nil, "")
	require.NoError(t, err)

	extractor := &fakeExtractor{failKeys: map[string]error{}}
	if opts.MaxPagesPerBatch == 0 {
		opts.MaxPagesPerBatch = 4
	}
	if opts.MaxPayloadBytes == 0 {
		opts.MaxPayloadBytes = 1 << 20
	}
	opts.RenderDPI = 300
	p, err := NewPipeline(&fakeRenderer{pageCounts: pageCounts}, extractor, NewNormalizer(NewProductHasher(false)), ledger, sink, nil, opts)
	require.NoError(t, err)
	return &pipelineFixture{pipeline: p, ledger: ledger, extractor: extractor, outputDir: outputDir}
}

func readOutput(t *testing.T, dir, pdfName string) models.SourceDataset {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(dir, datasetFileName(pdfName)))
	require.NoError(t, err)
	var dataset models.SourceDataset
	require.NoError(t, json.Unmarshal(content, &dataset))
	return dataset
}

func TestPipeline_TwelvePageFlyer(t *testing.T) {
	src := sourceWithKey("twelve", "SPAR_2025-10-20_Weekly_Deals.pdf")
	f := newPipelineFixture(t, map[string]int{"twelve": 12}, PipelineOptions{MaxPagesPerBatch: 4})

	report, err := f.pipeline.Run(context.Background(), []DiscoveredFile{{Path: src.Path, Source: src}})
	require.NoError(t, err)
	require.Len(t, report.Sources, 1)
	result := report.Sources[0]
	assert.Equal(t, models.StateCompleted, result.State)
	assert.Equal(t, 3, result.Batches)
	assert.Equal(t, 12, result.OfferCount)

	calls := f.extractor.callsFor("twelve")
	require.Len(t, calls, 3)
	for i, b := range calls {
		assert.Len(t, b.Pages, 4)
		assert.Equal(t, i*4, b.FirstPage())
	}

	dataset := readOutput(t, f.outputDir, src.FileName)
	require.Len(t, dataset.ProductOffers, 12)
	assert.Equal(t, 12, dataset.Source.PageCount)
	assert.Equal(t, 3, dataset.Source.BatchCount)
	for _, offer := range dataset.ProductOffers {
		batch := calls[offer.SourcePageIndex/4]
		assert.True(t, batch.Contains(offer.SourcePageIndex))
		assert.Len(t, offer.ProductHash, 64)
		assert.Equal(t, "SPAR", offer.Retailer)
		assert.Equal(t, "2025-10-20", offer.OfferStartDate)
		assert.Equal(t, "2025-10-26", offer.OfferEndDate)
	}

	entry, found, err := f.ledger.Lookup(context.Background(), "twelve")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.OutcomeSuccess, entry.Outcome)
	assert.Equal(t, 12, entry.OfferCount)
}

func TestPipeline_RecordedSourcesAreNotExtractedAgain(t *testing.T) {
	ctx := context.Background()
	done := sourceWithKey("done", "SPAR_2025-10-20_A.pdf")
	failed := sourceWithKey("failed", "SPAR_2025-10-20_B.pdf")
	f := newPipelineFixture(t, map[string]int{"done": 3, "failed": 3}, PipelineOptions{MaxConcurrency: 2})
	require.NoError(t, f.ledger.RecordResult(ctx, done, models.OutcomeSuccess, 3, nil))
	require.NoError(t, f.ledger.RecordResult(ctx, failed, models.OutcomeFailure, 0, errors.New("earlier")))

	report, err := f.pipeline.Run(ctx, []DiscoveredFile{{Source: done}, {Source: failed}})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(models.StateSkippedAlreadyProcessed))
	assert.Empty(t, f.extractor.batches)
}

func TestPipeline_RetryFailedReprocessesFailures(t *testing.T) {
	ctx := context.Background()
	failed := sourceWithKey("failed", "SPAR_2025-10-20_B.pdf")
	f := newPipelineFixture(t, map[string]int{"failed": 2}, PipelineOptions{RetryFailed: true})
	require.NoError(t, f.ledger.RecordResult(ctx, failed, models.OutcomeFailure, 0, errors.New("earlier")))

	report, err := f.pipeline.Run(ctx, []DiscoveredFile{{Source: failed}})
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, report.Sources[0].State)

	entry, _, _ := f.ledger.Lookup(ctx, "failed")
	assert.Equal(t, models.OutcomeSuccess, entry.Outcome)
}

func TestPipeline_FailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	good := sourceWithKey("good", "SPAR_2025-10-20_Good.pdf")
	bad := sourceWithKey("bad", "BILLA_2025-10-20_Bad.pdf")
	f := newPipelineFixture(t, map[string]int{"good": 5, "bad": 5}, PipelineOptions{MaxConcurrency: 2})
	f.extractor.failKeys["bad"] = errors.New("permission denied")
	malformed := DiscoveredFile{Path: "downloads/flyer.pdf", Err: &FilenameError{FileName: "flyer.pdf", Reason: "expected RETAILER_YYYY-MM-DD_SaleTitle"}}

	report, err := f.pipeline.Run(ctx, []DiscoveredFile{{Source: bad}, malformed, {Source: good}})
	require.NoError(t, err)
	require.Len(t, report.Sources, 3)
	assert.Equal(t, models.StateFailed, report.Sources[0].State)
	assert.Contains(t, report.Sources[0].Reason, "permission denied")
	assert.Equal(t, models.StateFailed, report.Sources[1].State)
	assert.Equal(t, "flyer.pdf", report.Sources[1].FileName)
	assert.Equal(t, models.StateCompleted, report.Sources[2].State)

	entry, found, _ := f.ledger.Lookup(ctx, "bad")
	require.True(t, found)
	assert.Equal(t, models.OutcomeFailure, entry.Outcome)
	assert.Contains(t, entry.Error, "permission denied")

	entries, err := f.ledger.Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "malformed names never reach the ledger")

	_, err = os.Stat(filepath.Join(f.outputDir, datasetFileName(bad.FileName)))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestPipeline_OfferErrorPolicy(t *testing.T) {
	ctx := context.Background()
	src := sourceWithKey("prices", "SPAR_2025-10-20_A.pdf")

	drop := newPipelineFixture(t, map[string]int{"prices": 2}, PipelineOptions{ErrorPolicy: PolicyDrop})
	drop.extractor.price = "ask in store"
	report, err := drop.pipeline.Run(ctx, []DiscoveredFile{{Source: src}})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Sources[0].OfferCount)
	assert.Equal(t, 2, report.Sources[0].Dropped)

	flag := newPipelineFixture(t, map[string]int{"prices": 2}, PipelineOptions{ErrorPolicy: PolicyFlag})
	flag.extractor.price = "ask in store"
	_, err = flag.pipeline.Run(ctx, []DiscoveredFile{{Source: src}})
	require.NoError(t, err)
	dataset := readOutput(t, flag.outputDir, src.FileName)
	require.Len(t, dataset.ProductOffers, 2)
	for _, offer := range dataset.ProductOffers {
		assert.True(t, offer.NeedsReview)
		assert.NotEmpty(t, offer.ReviewReasons)
		assert.False(t, offer.CurrentPrice.Valid)
	}
}

func TestPipeline_RasterizationFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	src := sourceWithKey("broken", "SPAR_2025-10-20_A.pdf")
	f := newPipelineFixture(t, nil, PipelineOptions{})
	f.pipeline.renderer = &fakeRenderer{err: errors.New("encrypted")}

	report, err := f.pipeline.Run(ctx, []DiscoveredFile{{Source: src}})
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, report.Sources[0].State)
	assert.Contains(t, report.Sources[0].Reason, "rasterize")

	entry, found, _ := f.ledger.Lookup(ctx, "broken")
	require.True(t, found)
	assert.Equal(t, models.OutcomeFailure, entry.Outcome)
}

func TestPipeline_LedgerFailureAbortsRun(t *testing.T) {
	first := sourceWithKey("first", "SPAR_2025-10-20_A.pdf")
	second := sourceWithKey("second", "SPAR_2025-10-20_B.pdf")
	extractor := &fakeExtractor{failKeys: map[string]error{}}
	ledger := &brokenLedger{}
	sink, err := NewJSONDatasetSink(t.TempDir(), nil, "")
	require.NoError(t, err)
	p, err := NewPipeline(&fakeRenderer{pageCounts: map[string]int{"first": 2, "second": 2}}, extractor,
		NewNormalizer(NewProductHasher(false)), ledger, sink, nil,
		PipelineOptions{RenderDPI: 300, MaxPagesPerBatch: 4, MaxPayloadBytes: 1 << 20, MaxConcurrency: 1})
	require.NoError(t, err)

	report, err := p.Run(context.Background(), []DiscoveredFile{{Source: first}, {Source: second}})
	var lerr *LedgerIOError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, models.StateFailed, report.Sources[0].State)
	assert.NotEqual(t, models.StateCompleted, report.Sources[1].State)
	assert.Empty(t, extractor.callsFor("second"))
	assert.Equal(t, []string{"first"}, ledger.records)
}

func TestPipeline_CancelledRunWritesNothing(t *testing.T) {
	src := sourceWithKey("late", "SPAR_2025-10-20_A.pdf")
	f := newPipelineFixture(t, map[string]int{"late": 4}, PipelineOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.pipeline.Run(ctx, []DiscoveredFile{{Source: src}})
	require.NoError(t, err)
	assert.False(t, report.Sources[0].State == models.StateCompleted)
	assert.Empty(t, f.extractor.batches)

	entries, err := f.ledger.Entries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}
