package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/flyerextract/internal/gcp"
)

// OpenLedger opens the ledger backend named in cfg. The returned close function
// releases the ledger and any client created for it.
func OpenLedger(ctx context.Context, cfg PipelineConfig) (Ledger, func() error, error) {
	switch cfg.LedgerBackend {
	case LedgerBackendFirestore:
		client, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, &LedgerIOError{Op: "open", Err: err}
		}
		ledger, err := NewFirestoreLedger(client, cfg.FirestoreCollection)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return ledger, func() error { return errors.Join(ledger.Close(), client.Close()) }, nil
	default:
		ledger, err := OpenFileLedger(cfg.LedgerPath)
		if err != nil {
			return nil, nil, err
		}
		return ledger, ledger.Close, nil
	}
}

// Runtime owns the cloud clients behind a Pipeline.
type Runtime struct {
	Pipeline *Pipeline

	vertex  *gcp.VertexClient
	storage *storage.Client
}

// NewRuntime builds a Pipeline backed by Vertex AI, go-fitz and the sinks named
// in cfg. The ledger stays owned by the caller.
func NewRuntime(ctx context.Context, cfg PipelineConfig, ledger Ledger) (*Runtime, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	rt := &Runtime{}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	vertex, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.Region, cfg.VertexModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vertex AI client: %w", err)
	}
	rt.vertex = vertex

	extractor, err := NewVertexExtractor(vertex.ExtractorModel, cfg.Extract)
	if err != nil {
		return nil, err
	}

	if cfg.OutputBucket != "" || cfg.AssetBucket != "" {
		rt.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Storage client: %w", err)
		}
	}

	var outputBucket *storage.BucketHandle
	if cfg.OutputBucket != "" {
		outputBucket = rt.storage.Bucket(cfg.OutputBucket)
	}
	sink, err := NewJSONDatasetSink(cfg.OutputDir, outputBucket, cfg.OutputBucket)
	if err != nil {
		return nil, err
	}

	var assets AssetStore
	switch {
	case cfg.AssetBucket != "":
		assets, err = NewGCSAssetStore(rt.storage.Bucket(cfg.AssetBucket), cfg.AssetBucket)
	case cfg.AssetDir != "":
		assets, err = NewLocalAssetStore(cfg.AssetDir)
	}
	if err != nil {
		return nil, err
	}

	normalizer := NewNormalizer(NewProductHasher(cfg.HashIncludeRetailer))
	rt.Pipeline, err = NewPipeline(NewRasterizer(cfg.JPEGQuality), extractor, normalizer, ledger, sink, assets, PipelineOptions{
		RenderDPI:        cfg.RenderDPI,
		MaxPagesPerBatch: cfg.MaxPagesPerBatch,
		MaxPayloadBytes:  cfg.MaxPayloadBytes,
		MaxConcurrency:   cfg.MaxConcurrency,
		ErrorPolicy:      cfg.OfferErrorPolicy,
		RetryFailed:      cfg.RetryFailed,
	})
	if err != nil {
		return nil, err
	}

	ok = true
	slog.Info("Pipeline initialized.", "model", cfg.VertexModel, "region", cfg.Region, "ledger", cfg.LedgerBackend)
	return rt, nil
}

// StorageClient returns the shared Storage client, creating it on first use.
func (r *Runtime) StorageClient(ctx context.Context) (*storage.Client, error) {
	if r.storage != nil {
		return r.storage, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	r.storage = client
	return client, nil
}

func (r *Runtime) Close() error {
	var errs []error
	if r.vertex != nil {
		errs = append(errs, r.vertex.Close())
	}
	if r.storage != nil {
		errs = append(errs, r.storage.Close())
	}
	return errors.Join(errs...)
}

var _ Ledger = (*FirestoreLedger)(nil)
var _ Ledger = (*FileLedger)(nil)

