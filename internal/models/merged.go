package models

import "time"

// MergeMetadata describes a merged dataset.
type MergeMetadata struct {
	TotalOffers     int       `json:"totalOffers"`
	UniqueProducts  int       `json:"uniqueProducts"`
	MergedFromFiles int       `json:"mergedFromFiles"`
	SkippedFiles    []string  `json:"skippedFiles,omitempty"`
	DateGenerated   time.Time `json:"dateGenerated"`
}

// ProductSummary groups every offer that shares a productHash.
type ProductSummary struct {
	ProductHash string   `json:"productHash"`
	ProductName string   `json:"productName"`
	Category    Category `json:"category"`
	PackageSize string   `json:"packageSize,omitempty"`
	Retailers   []string `json:"retailers"`
	OfferCount  int      `json:"offerCount"`
	ImageURI    string   `json:"imageUri,omitempty"`
	FirstSeenIn string   `json:"firstSeenIn"`
}

// MergedDataset is the cross-flyer view written to merged_retail_data.json.
type MergedDataset struct {
	Metadata     MergeMetadata     `json:"metadata"`
	MergedOffers []NormalizedOffer `json:"mergedOffers"`
	Products     []ProductSummary  `json:"products"`
}
