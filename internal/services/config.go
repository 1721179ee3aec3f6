package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/Lllllllleong/flyerextract/internal/gcp"
)

const (
	LedgerBackendFile      = "file"
	LedgerBackendFirestore = "firestore"
)

// PipelineConfig holds every tunable of a run. LoadPipelineConfig fills it from
// the environment; the CLI may override fields from flags before Validate.
type PipelineConfig struct {
	ProjectID   string
	Region      string
	VertexModel string

	InputDir     string
	OutputDir    string
	MergedOutput string

	LedgerBackend       string
	LedgerPath          string
	FirestoreCollection string
	RetryFailed         bool

	RenderDPI        int
	JPEGQuality      int
	MaxPagesPerBatch int
	MaxPayloadBytes  int
	MaxConcurrency   int
	ValidityDays     int

	Extract ExtractorConfig

	OfferErrorPolicy    OfferErrorPolicy
	HashIncludeRetailer bool

	OutputBucket     string
	AssetBucket      string
	AssetDir         string
	WorkflowID       string
	WorkflowLocation string
}

// LoadPipelineConfig reads the configuration from environment variables and
// validates it.
func LoadPipelineConfig() (PipelineConfig, error) {
	var errs []error
	intEnv := func(key string, fallback int) int {
		v, err := gcp.GetEnvInt(key, fallback)
		errs = append(errs, err)
		return v
	}
	boolEnv := func(key string, fallback bool) bool {
		v, err := gcp.GetEnvBool(key, fallback)
		errs = append(errs, err)
		return v
	}
	durationEnv := func(key string, fallback time.Duration) time.Duration {
		v, err := gcp.GetEnvDuration(key, fallback)
		errs = append(errs, err)
		return v
	}
	rps, err := gcp.GetEnvFloat("EXTRACT_RPS", 0.5)
	errs = append(errs, err)
	policy, err := ParseOfferErrorPolicy(gcp.GetEnv("OFFER_ERROR_POLICY", string(PolicyDrop)))
	errs = append(errs, err)

	cfg := PipelineConfig{
		ProjectID:   gcp.GetEnv("PROJECT_ID", ""),
		Region:      gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		VertexModel: gcp.GetEnv("VERTEX_MODEL", "gemini-2.5-flash"),

		InputDir:     gcp.GetEnv("INPUT_DIR", "downloads"),
		OutputDir:    gcp.GetEnv("OUTPUT_DIR", "extracted_json"),
		MergedOutput: gcp.GetEnv("MERGED_OUTPUT", "merged_retail_data.json"),

		LedgerBackend:       gcp.GetEnv("LEDGER_BACKEND", LedgerBackendFile),
		LedgerPath:          gcp.GetEnv("LEDGER_PATH", "processed_flyer_log.jsonl"),
		FirestoreCollection: gcp.GetEnv("FIRESTORE_COLLECTION", "processed_flyers"),
		RetryFailed:         boolEnv("LEDGER_RETRY_FAILED", false),

		RenderDPI:        intEnv("RENDER_DPI", 300),
		JPEGQuality:      intEnv("RENDER_JPEG_QUALITY", 90),
		MaxPagesPerBatch: intEnv("MAX_PAGES_PER_BATCH", 30),
		MaxPayloadBytes:  intEnv("MAX_PAYLOAD_BYTES", 18<<20),
		MaxConcurrency:   intEnv("MAX_CONCURRENCY", 2),
		ValidityDays:     intEnv("FLYER_VALIDITY_DAYS", 7),

		Extract: ExtractorConfig{
			MaxAttempts:       intEnv("EXTRACT_MAX_ATTEMPTS", 4),
			CallTimeout:       durationEnv("EXTRACT_TIMEOUT", 3*time.Minute),
			InitialBackoff:    durationEnv("EXTRACT_INITIAL_BACKOFF", 2*time.Second),
			RequestsPerSecond: rps,
			Burst:             intEnv("EXTRACT_BURST", 1),
		},

		OfferErrorPolicy:    policy,
		HashIncludeRetailer: boolEnv("HASH_INCLUDE_RETAILER", false),

		OutputBucket:     gcp.GetEnv("OUTPUT_BUCKET", ""),
		AssetBucket:      gcp.GetEnv("ASSET_BUCKET", ""),
		AssetDir:         gcp.GetEnv("ASSET_DIR", ""),
		WorkflowID:       gcp.GetEnv("WORKFLOW_ID", ""),
		WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
	}
	if err := errors.Join(errs...); err != nil {
		return PipelineConfig{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks limits and the combinations that need extra settings.
func (c PipelineConfig) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	positive("RENDER_DPI", c.RenderDPI)
	positive("MAX_PAGES_PER_BATCH", c.MaxPagesPerBatch)
	positive("MAX_PAYLOAD_BYTES", c.MaxPayloadBytes)
	positive("MAX_CONCURRENCY", c.MaxConcurrency)
	positive("FLYER_VALIDITY_DAYS", c.ValidityDays)
	positive("EXTRACT_MAX_ATTEMPTS", c.Extract.MaxAttempts)
	positive("EXTRACT_BURST", c.Extract.Burst)
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("RENDER_JPEG_QUALITY must be within 1..100, got %d", c.JPEGQuality))
	}
	if c.Extract.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("EXTRACT_TIMEOUT must be positive"))
	}
	if c.Extract.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("EXTRACT_RPS cannot be negative"))
	}
	switch c.OfferErrorPolicy {
	case PolicyDrop, PolicyFlag:
	default:
		errs = append(errs, fmt.Errorf("unknown offer error policy %q", c.OfferErrorPolicy))
	}
	switch c.LedgerBackend {
	case LedgerBackendFile:
		if c.LedgerPath == "" {
			errs = append(errs, fmt.Errorf("LEDGER_PATH must be set for the file ledger"))
		}
	case LedgerBackendFirestore:
		if c.ProjectID == "" {
			errs = append(errs, fmt.Errorf("PROJECT_ID must be set for the firestore ledger"))
		}
	default:
		errs = append(errs, fmt.Errorf("LEDGER_BACKEND must be %q or %q, got %q", LedgerBackendFile, LedgerBackendFirestore, c.LedgerBackend))
	}
	if c.AssetBucket != "" && c.AssetDir != "" {
		errs = append(errs, fmt.Errorf("ASSET_BUCKET and ASSET_DIR are mutually exclusive"))
	}
	return errors.Join(errs...)
}
