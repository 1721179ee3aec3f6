package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Lllllllleong/flyerextract/internal/gcp"
	"github.com/Lllllllleong/flyerextract/internal/models"
)

// FlyerFunction processes one flyer uploaded to a GCS bucket. State lives in
// Firestore and datasets are written to OUTPUT_BUCKET.
type FlyerFunction struct {
	runtime      *Runtime
	ledger       Ledger
	closeLedger  func() error
	trigger      *gcp.WorkflowTrigger
	validityDays int
}

func NewFlyerFunction(ctx context.Context) (*FlyerFunction, error) {
	cfg, err := LoadPipelineConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	if cfg.OutputBucket == "" {
		return nil, fmt.Errorf("OUTPUT_BUCKET environment variable must be set")
	}
	cfg.LedgerBackend = LedgerBackendFirestore
	cfg.OutputDir = ""
	// One flyer per invocation.
	cfg.MaxConcurrency = 1

	ledger, closeLedger, err := OpenLedger(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	runtime, err := NewRuntime(ctx, cfg, ledger)
	if err != nil {
		closeLedger()
		return nil, err
	}

	f := &FlyerFunction{
		runtime:      runtime,
		ledger:       ledger,
		closeLedger:  closeLedger,
		validityDays: cfg.ValidityDays,
	}
	if cfg.WorkflowID != "" {
		f.trigger, err = gcp.NewWorkflowTrigger(ctx, cfg.ProjectID, cfg.WorkflowLocation, cfg.WorkflowID)
		if err != nil {
			f.Close()
			return nil, err
		}
	}
	slog.Info("Flyer function initialized.", "outputBucket", cfg.OutputBucket, "workflowId", cfg.WorkflowID)
	return f, nil
}

// Process downloads the uploaded PDF and runs it through the pipeline. Files
// that can never succeed (wrong type, malformed name) are logged and
// acknowledged; a failed flyer or ledger error is returned.
func (f *FlyerFunction) Process(ctx context.Context, e models.StorageObjectEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	logCtx.Info("Processing new GCS object.")

	if !strings.EqualFold(filepath.Ext(e.Name), ".pdf") {
		logCtx.Info("Object is not a PDF. Ignoring.")
		return nil
	}

	tempDir, err := os.MkdirTemp("", "flyer-function-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	// The local copy keeps the object's base name; it carries retailer and date.
	localPath := filepath.Join(tempDir, filepath.Base(e.Name))
	if err := f.streamGCSObject(ctx, e.Bucket, e.Name, localPath); err != nil {
		logCtx.Error("Failed to download source PDF", "error", err)
		return err
	}

	src, err := LoadFlyerSource(localPath, f.validityDays)
	var fe *FilenameError
	if errors.As(err, &fe) {
		logCtx.Error("Flyer name does not follow the naming convention. Ignoring.", "error", err)
		return nil
	}
	if err != nil {
		logCtx.Error("Failed to inspect source PDF", "error", err)
		return err
	}

	result, err := f.runtime.Pipeline.ProcessSource(ctx, src)
	if err != nil {
		return err
	}
	switch result.State {
	case models.StateSkippedAlreadyProcessed:
		return nil
	case models.StateCompleted:
		return f.triggerWorkflow(ctx, logCtx, src, result)
	default:
		return fmt.Errorf("flyer %s failed: %s", src.FileName, result.Reason)
	}
}

func (f *FlyerFunction) triggerWorkflow(ctx context.Context, logCtx *slog.Logger, src models.FlyerSource, result models.SourceResult) error {
	if f.trigger == nil {
		return nil
	}
	logCtx.Info("Triggering workflow.")
	execution, err := f.trigger.Trigger(ctx, models.DatasetLoadRequest{
		SourceKey:  src.Key(),
		FileName:   src.FileName,
		Retailer:   src.Retailer,
		DatasetURI: result.DatasetURI,
		OfferCount: result.OfferCount,
	})
	if err != nil {
		logCtx.Error("Failed to trigger workflow execution", "error", err)
		return err
	}
	logCtx.Info("Workflow execution started.", "execution", execution)
	return nil
}

func (f *FlyerFunction) streamGCSObject(ctx context.Context, bucket, object, destPath string) error {
	client, err := f.runtime.StorageClient(ctx)
	if err != nil {
		return err
	}
	gcsReader, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer gcsReader.Close()
	localFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file at %s: %w", destPath, err)
	}
	defer localFile.Close()
	if _, err := io.Copy(localFile, gcsReader); err != nil {
		return fmt.Errorf("failed to copy GCS object to local file: %w", err)
	}
	return nil
}

func (f *FlyerFunction) Close() error {
	var errs []error
	if f.trigger != nil {
		errs = append(errs, f.trigger.Close())
	}
	errs = append(errs, f.runtime.Close(), f.closeLedger())
	return errors.Join(errs...)
}
