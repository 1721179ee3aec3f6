package services

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/Lllllllleong/flyerextract/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONDatasetSink_WritesLocalFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "extracted_json")
	sink, err := NewJSONDatasetSink(dir, nil, "")
	require.NoError(t, err)

	dataset := &models.SourceDataset{
		Source:        models.SourceMetadata{FileName: "SPAR_2025-10-20_Weekly.pdf", Retailer: "SPAR"},
		ProductOffers: []models.NormalizedOffer{{ProductName: "Milk"}},
	}
	uri, err := sink.Write(context.Background(), dataset)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "SPAR_2025-10-20_Weekly.json"), uri)

	content, err := os.ReadFile(uri)
	require.NoError(t, err)
	var decoded models.SourceDataset
	require.NoError(t, json.Unmarshal(content, &decoded))
	assert.Equal(t, "Milk", decoded.ProductOffers[0].ProductName)

	// Rewrites replace the file and leave no temp files behind.
	_, err = sink.Write(context.Background(), dataset)
	require.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDatasetObjectName_IncludesContentDigest(t *testing.T) {
	original := models.SourceMetadata{
		FileName:      "SPAR_2025-10-20_Weekly.pdf",
		Retailer:      "SPAR",
		ContentDigest: "3f2a9c1d8e7b6a5f4e3d2c1b0a998877",
	}
	corrected := original
	corrected.ContentDigest = "0b1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e"

	assert.Equal(t, "SPAR/SPAR_2025-10-20_Weekly-3f2a9c1d8e7b.json", datasetObjectName(original))
	assert.NotEqual(t, datasetObjectName(original), datasetObjectName(corrected))

	noDigest := original
	noDigest.ContentDigest = ""
	assert.Equal(t, "SPAR/SPAR_2025-10-20_Weekly.json", datasetObjectName(noDigest))
}

func TestNewJSONDatasetSink_NeedsDestination(t *testing.T) {
	_, err := NewJSONDatasetSink("", nil, "")
	assert.Error(t, err)
}

func TestLocalAssetStore_FirstImageWins(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewLocalAssetStore(dir)
	require.NoError(t, err)

	first := models.PageImage{Index: 1, MIMEType: "image/jpeg", Data: []byte("first")}
	second := models.PageImage{Index: 7, MIMEType: "image/jpeg", Data: []byte("second")}
	uri, err := store.Store(ctx, "abc", first)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "products", "abc.jpg"), uri)

	again, err := store.Store(ctx, "abc", second)
	require.NoError(t, err)
	assert.Equal(t, uri, again)

	// A new process sees the existing file and keeps it.
	fresh, err := NewLocalAssetStore(dir)
	require.NoError(t, err)
	_, err = fresh.Store(ctx, "abc", second)
	require.NoError(t, err)

	content, err := os.ReadFile(uri)
	require.NoError(t, err)
	assert.Equal(t, "first", string(content))
}
