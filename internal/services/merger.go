package services

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Lllllllleong/flyerextract/internal/models"
)

// MergeDatasets reads every per-flyer dataset in dir (in name order) and
// combines their offers. Files that cannot be decoded are logged and listed in
// the metadata instead of failing the merge. Files whose base name is in
// exclude are ignored, so a merged file can live in the same directory.
func MergeDatasets(dir string, now time.Time, exclude ...string) (*models.MergedDataset, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset directory %s: %w", dir, err)
	}
	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		skip[filepath.Base(name)] = true
	}

	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(name), ".json") || skip[name] {
			continue
		}
		files = append(files, name)
	}
	sort.Strings(files)
	slog.Info("Merging datasets.", "dir", dir, "files", len(files))

	merged := &models.MergedDataset{
		Metadata:     models.MergeMetadata{MergedFromFiles: len(files), DateGenerated: now.UTC()},
		MergedOffers: []models.NormalizedOffer{},
		Products:     []models.ProductSummary{},
	}
	products := make(map[string]int)

	for _, name := range files {
		filePath := filepath.Join(dir, name)
		dataset, err := readDataset(filePath)
		if err != nil {
			slog.Error("Failed to decode dataset. Skipping.", "file", filePath, "error", err)
			merged.Metadata.SkippedFiles = append(merged.Metadata.SkippedFiles, name)
			continue
		}
		if len(dataset.ProductOffers) == 0 {
			slog.Warn("Dataset has no product offers.", "file", filePath)
			continue
		}

		for _, offer := range dataset.ProductOffers {
			if offer.Retailer == "" {
				offer.Retailer = dataset.Source.Retailer
			}
			merged.MergedOffers = append(merged.MergedOffers, offer)
			if offer.ProductHash == "" {
				continue
			}
			idx, seen := products[offer.ProductHash]
			if !seen {
				idx = len(merged.Products)
				products[offer.ProductHash] = idx
				merged.Products = append(merged.Products, models.ProductSummary{
					ProductHash: offer.ProductHash,
					ProductName: offer.ProductName,
					Category:    offer.Category,
					PackageSize: offer.PackageSize,
					FirstSeenIn: offer.SourceFile,
				})
			}
			summary := &merged.Products[idx]
			summary.OfferCount++
			if summary.ImageURI == "" {
				summary.ImageURI = offer.ImageURI
			}
			summary.Retailers = appendUnique(summary.Retailers, offer.Retailer)
		}
		slog.Info("Added offers from dataset.", "file", name, "retailer", dataset.Source.Retailer, "offers", len(dataset.ProductOffers))
	}

	for i := range merged.Products {
		sort.Strings(merged.Products[i].Retailers)
	}
	merged.Metadata.TotalOffers = len(merged.MergedOffers)
	merged.Metadata.UniqueProducts = len(merged.Products)
	return merged, nil
}

// WriteMergedDataset writes merged as indented JSON to target.
func WriteMergedDataset(target string, merged *models.MergedDataset) error {
	content, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal merged dataset: %w", err)
	}
	return writeFileAtomically(target, content)
}

func readDataset(filePath string) (*models.SourceDataset, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var dataset models.SourceDataset
	if err := json.Unmarshal(content, &dataset); err != nil {
		return nil, err
	}
	return &dataset, nil
}

func appendUnique(list []string, value string) []string {
	if value == "" {
		return list
	}
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}
