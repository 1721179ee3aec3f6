package services

import (
	"errors"
	"fmt"
)

// RasterizationError means a PDF could not be turned into page images. It is
// fatal for the flyer.
type RasterizationError struct {
	Path string
	Err  error
}

func (e *RasterizationError) Error() string {
	return fmt.Sprintf("rasterize %s: %v", e.Path, e.Err)
}

func (e *RasterizationError) Unwrap() error { return e.Err }

// ExtractionError is a failed call to the extraction service. Transient errors
// are retried; everything else aborts the flyer.
type ExtractionError struct {
	Batch     int
	Attempts  int
	Transient bool
	Err       error
}

func (e *ExtractionError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s extraction error on batch %d after %d attempt(s): %v", kind, e.Batch, e.Attempts, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// IsTransientExtraction reports whether err is a retryable extraction failure.
func IsTransientExtraction(err error) bool {
	var xe *ExtractionError
	return errors.As(err, &xe) && xe.Transient
}

var (
	ErrNoPriceToken    = errors.New("no number-like token")
	ErrUnknownCategory = errors.New("unknown category")
	ErrEmptyName       = errors.New("empty product name")
)

// PriceParseError means a price string holds no usable amount.
type PriceParseError struct {
	Field string
	Raw   string
	Err   error
}

func (e *PriceParseError) Error() string {
	return fmt.Sprintf("cannot parse %s %q: %v", e.Field, e.Raw, e.Err)
}

func (e *PriceParseError) Unwrap() error { return e.Err }

// CategoryValidationError means a category is not a member of the enumeration.
type CategoryValidationError struct {
	Raw string
}

func (e *CategoryValidationError) Error() string {
	return fmt.Sprintf("category %q is not in the enumeration", e.Raw)
}

func (e *CategoryValidationError) Unwrap() error { return ErrUnknownCategory }

// DateParseError means a date-like token is not a valid calendar date.
type DateParseError struct {
	Raw string
	Err error
}

func (e *DateParseError) Error() string {
	return fmt.Sprintf("cannot parse date %q: %v", e.Raw, e.Err)
}

func (e *DateParseError) Unwrap() error { return e.Err }

// NameValidationError means the product name is empty after cleanup.
type NameValidationError struct {
	Raw string
}

func (e *NameValidationError) Error() string {
	return fmt.Sprintf("product name %q is empty after cleanup", e.Raw)
}

func (e *NameValidationError) Unwrap() error { return ErrEmptyName }

// LedgerIOError means processed state can no longer be trusted. It aborts the run.
type LedgerIOError struct {
	Op  string
	Err error
}

func (e *LedgerIOError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *LedgerIOError) Unwrap() error { return e.Err }

// FilenameError means a flyer file does not follow RETAILER_YYYY-MM-DD_SaleTitle.pdf.
// Err is set when a lower-level parse failed.
type FilenameError struct {
	FileName string
	Reason   string
	Err      error
}

func (e *FilenameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed flyer filename %q: %s: %v", e.FileName, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed flyer filename %q: %s", e.FileName, e.Reason)
}

func (e *FilenameError) Unwrap() error { return e.Err }
