package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/flyerextract/internal/gcp"
	"github.com/Lllllllleong/flyerextract/internal/models"
)

// AssetStore keeps one image per productHash. The first stored page wins;
// later calls for the same hash return the existing URI.
type AssetStore interface {
	Store(ctx context.Context, productHash string, page models.PageImage) (string, error)
}

func assetObjectName(productHash string) string {
	return path.Join("products", productHash+".jpg")
}

// uriCache remembers hashes already stored during this process.
type uriCache struct {
	mu   sync.Mutex
	uris map[string]string
}

func (c *uriCache) get(hash string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	uri, ok := c.uris[hash]
	return uri, ok
}

func (c *uriCache) put(hash, uri string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uris == nil {
		c.uris = make(map[string]string)
	}
	c.uris[hash] = uri
}

// GCSAssetStore writes products/<hash>.jpg to a bucket with a DoesNotExist
// precondition.
type GCSAssetStore struct {
	bucket     *storage.BucketHandle
	bucketName string
	cache      uriCache
}

func NewGCSAssetStore(bucket *storage.BucketHandle, bucketName string) (*GCSAssetStore, error) {
	if bucket == nil || bucketName == "" {
		return nil, fmt.Errorf("NewGCSAssetStore: bucket and bucketName are required")
	}
	return &GCSAssetStore{bucket: bucket, bucketName: bucketName}, nil
}

func (s *GCSAssetStore) Store(ctx context.Context, productHash string, page models.PageImage) (string, error) {
	if uri, ok := s.cache.get(productHash); ok {
		return uri, nil
	}
	objectName := assetObjectName(productHash)
	if _, err := gcp.SaveToGCSAtomically(ctx, s.bucket, objectName, page.MIMEType, page.Data); err != nil {
		return "", fmt.Errorf("failed to store product image %s: %w", objectName, err)
	}
	uri := fmt.Sprintf("gs://%s/%s", s.bucketName, objectName)
	s.cache.put(productHash, uri)
	return uri, nil
}

// LocalAssetStore writes products/<hash>.jpg under a directory.
type LocalAssetStore struct {
	dir   string
	cache uriCache
}

func NewLocalAssetStore(dir string) (*LocalAssetStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("NewLocalAssetStore: dir cannot be empty")
	}
	return &LocalAssetStore{dir: dir}, nil
}

func (s *LocalAssetStore) Store(_ context.Context, productHash string, page models.PageImage) (string, error) {
	if uri, ok := s.cache.get(productHash); ok {
		return uri, nil
	}
	target := filepath.Join(s.dir, filepath.FromSlash(assetObjectName(productHash)))
	_, err := os.Stat(target)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		if err := writeFileAtomically(target, page.Data); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("failed to stat %s: %w", target, err)
	}
	s.cache.put(productHash, target)
	return target, nil
}
