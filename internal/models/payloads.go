package models

// These structs define the JSON payloads exchanged with the Cloud Workflow that
// loads extracted datasets into the downstream database.

// DatasetLoadRequest is the argument of the workflow execution triggered after a
// flyer has been extracted.
type DatasetLoadRequest struct {
	SourceKey  string `json:"sourceKey"`
	FileName   string `json:"fileName"`
	Retailer   string `json:"retailer"`
	DatasetURI string `json:"datasetUri"`
	OfferCount int    `json:"offerCount"`
}

// StorageObjectEvent is the data payload of a GCS "object finalized" CloudEvent.
type StorageObjectEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}
