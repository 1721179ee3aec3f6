package models

import "time"

// Outcome is the terminal result recorded for a processed flyer.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// LedgerEntry represents one row of the processed-file ledger.
// The same shape is stored as a JSON line locally and as a Firestore document.
type LedgerEntry struct {
	Key         string    `json:"key" firestore:"key"`
	SourcePath  string    `json:"sourcePath" firestore:"sourcePath,omitempty"`
	FileName    string    `json:"fileName" firestore:"fileName,omitempty"`
	Outcome     Outcome   `json:"outcome" firestore:"outcome"`
	OfferCount  int       `json:"offerCount" firestore:"offerCount"`
	Error       string    `json:"error,omitempty" firestore:"errorDetails,omitempty"`
	ProcessedAt time.Time `json:"processedAt" firestore:"processedAt"`
}
