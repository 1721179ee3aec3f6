package services

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Lllllllleong/flyerextract/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDataset(t *testing.T, dir, name string, dataset models.SourceDataset) {
	t.Helper()
	content, err := json.Marshal(dataset)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), content, 0o644))
}

func TestMergeDatasets(t *testing.T) {
	dir := t.TempDir()
	h := NewProductHasher(false)
	milk := h.HashFields(string(models.CategoryDairyEggs), "Milk", "1 L", "")
	bread := h.HashFields(string(models.CategoryBreadBakery), "Bread", "500 g", "")

	writeDataset(t, dir, "SPAR_2025-10-20_A.json", models.SourceDataset{
		Source: models.SourceMetadata{FileName: "SPAR_2025-10-20_A.pdf", Retailer: "SPAR"},
		ProductOffers: []models.NormalizedOffer{
			{ProductHash: milk, ProductName: "Milk", Category: models.CategoryDairyEggs, PackageSize: "1 L", Retailer: "SPAR", SourceFile: "SPAR_2025-10-20_A.pdf"},
			{ProductHash: bread, ProductName: "Bread", Category: models.CategoryBreadBakery, PackageSize: "500 g", Retailer: "SPAR", SourceFile: "SPAR_2025-10-20_A.pdf"},
		},
	})
	writeDataset(t, dir, "BILLA_2025-10-21_B.json", models.SourceDataset{
		Source: models.SourceMetadata{FileName: "BILLA_2025-10-21_B.pdf", Retailer: "BILLA"},
		ProductOffers: []models.NormalizedOffer{
			{ProductHash: milk, ProductName: "MILK", Category: models.CategoryDairyEggs, PackageSize: "1 l", SourceFile: "BILLA_2025-10-21_B.pdf", ImageURI: "products/milk.jpg"},
		},
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "merged_retail_data.json"), []byte("{}"), 0o644))

	now := time.Date(2025, time.October, 22, 9, 0, 0, 0, time.UTC)
	merged, err := MergeDatasets(dir, now, "merged_retail_data.json")
	require.NoError(t, err)

	assert.Equal(t, 3, merged.Metadata.TotalOffers)
	assert.Equal(t, 2, merged.Metadata.UniqueProducts)
	assert.Equal(t, 3, merged.Metadata.MergedFromFiles)
	assert.Equal(t, []string{"broken.json"}, merged.Metadata.SkippedFiles)
	assert.Equal(t, now, merged.Metadata.DateGenerated)

	// BILLA sorts first, so its milk offer is the first sighting.
	require.Len(t, merged.Products, 2)
	assert.Equal(t, milk, merged.Products[0].ProductHash)
	assert.Equal(t, "MILK", merged.Products[0].ProductName)
	assert.Equal(t, []string{"BILLA", "SPAR"}, merged.Products[0].Retailers)
	assert.Equal(t, 2, merged.Products[0].OfferCount)
	assert.Equal(t, "products/milk.jpg", merged.Products[0].ImageURI)
	assert.Equal(t, "BILLA_2025-10-21_B.pdf", merged.Products[0].FirstSeenIn)

	assert.Equal(t, "BILLA", merged.MergedOffers[0].Retailer, "retailer comes from the dataset when missing")

	out := filepath.Join(dir, "merged_retail_data.json")
	require.NoError(t, WriteMergedDataset(out, merged))
	content, err := os.ReadFile(out)
	require.NoError(t, err)
	var decoded models.MergedDataset
	require.NoError(t, json.Unmarshal(content, &decoded))
	assert.Equal(t, 3, decoded.Metadata.TotalOffers)
}

func TestMergeDatasets_MissingDirectory(t *testing.T) {
	_, err := MergeDatasets(filepath.Join(t.TempDir(), "nope"), time.Now())
	assert.Error(t, err)
}
