package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/flyerextract/internal/gcp"
	"github.com/Lllllllleong/flyerextract/internal/models"
)

// DatasetSink persists the dataset of one flyer and returns where it went.
type DatasetSink interface {
	Write(ctx context.Context, dataset *models.SourceDataset) (string, error)
}

// JSONDatasetSink writes <dir>/<pdf base>.json and, when a bucket is set, a
// write-once copy at <retailer>/<pdf base>-<digest prefix>.json in that bucket.
// A corrected re-download of a flyer gets its own object.
type JSONDatasetSink struct {
	dir        string
	bucket     *storage.BucketHandle
	bucketName string
}

// NewJSONDatasetSink needs at least one destination. bucket may be nil.
func NewJSONDatasetSink(dir string, bucket *storage.BucketHandle, bucketName string) (*JSONDatasetSink, error) {
	if dir == "" && bucket == nil {
		return nil, fmt.Errorf("NewJSONDatasetSink: an output directory or bucket is required")
	}
	if bucket != nil && bucketName == "" {
		return nil, fmt.Errorf("NewJSONDatasetSink: bucketName cannot be empty when a bucket is set")
	}
	return &JSONDatasetSink{dir: dir, bucket: bucket, bucketName: bucketName}, nil
}

// Write returns the GCS URI when a bucket is configured, otherwise the local path.
func (s *JSONDatasetSink) Write(ctx context.Context, dataset *models.SourceDataset) (string, error) {
	content, err := json.MarshalIndent(dataset, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal dataset for %s: %w", dataset.Source.FileName, err)
	}
	name := datasetFileName(dataset.Source.FileName)

	uri := ""
	if s.dir != "" {
		localPath := filepath.Join(s.dir, name)
		if err := writeFileAtomically(localPath, content); err != nil {
			return "", err
		}
		uri = localPath
	}

	if s.bucket != nil {
		objectName := datasetObjectName(dataset.Source)
		created, err := gcp.SaveToGCSAtomically(ctx, s.bucket, objectName, "application/json", content)
		if err != nil {
			return "", fmt.Errorf("failed to upload dataset %s: %w", objectName, err)
		}
		if !created {
			slog.Warn("Dataset object already exists; keeping the stored copy.", "gcsObject", objectName)
		}
		uri = fmt.Sprintf("gs://%s/%s", s.bucketName, objectName)
	}
	return uri, nil
}

const objectDigestLength = 12

func datasetObjectName(source models.SourceMetadata) string {
	base := strings.TrimSuffix(datasetFileName(source.FileName), ".json")
	if digest := source.ContentDigest; digest != "" {
		if len(digest) > objectDigestLength {
			digest = digest[:objectDigestLength]
		}
		base += "-" + digest
	}
	return path.Join(source.Retailer, base+".json")
}

func datasetFileName(pdfName string) string {
	base := filepath.Base(pdfName)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".json"
}

// writeFileAtomically writes to a temp file in the target directory and renames
// it over target, so readers never see a partial file.
func writeFileAtomically(target string, content []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", target, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", target, err)
	}
	return nil
}
