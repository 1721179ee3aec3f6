package services

import (
	"fmt"

	"github.com/Lllllllleong/flyerextract/internal/models"
)

// PlanBatches packs pages greedily, in order, into batches of at most maxPages
// pages and maxBytes bytes. A page larger than maxBytes is never dropped; it
// forms a batch of its own.
func PlanBatches(pages []models.PageImage, maxPages, maxBytes int) ([]models.Batch, error) {
	if maxPages <= 0 {
		return nil, fmt.Errorf("maxPages must be positive, got %d", maxPages)
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("maxBytes must be positive, got %d", maxBytes)
	}

	var batches []models.Batch
	var current []models.PageImage
	currentBytes := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		batches = append(batches, models.Batch{Index: len(batches), Pages: current})
		current = nil
		currentBytes = 0
	}

	for _, page := range pages {
		size := page.ByteSize()
		if len(current) > 0 && (len(current)+1 > maxPages || currentBytes+size > maxBytes) {
			flush()
		}
		current = append(current, page)
		currentBytes += size
	}
	flush()

	return batches, nil
}
