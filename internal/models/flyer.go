package models

import "time"

// DateLayout is the calendar date format used in filenames and output records.
const DateLayout = "2006-01-02"

// FlyerSource describes one input PDF. It is discovered at run start and is
// immutable for the run.
type FlyerSource struct {
	Path          string    `json:"path"`
	FileName      string    `json:"fileName"`
	Retailer      string    `json:"retailer"`
	SaleTitle     string    `json:"saleTitle"`
	ValidFrom     time.Time `json:"validFrom"`
	ValidUntil    time.Time `json:"validUntil"`
	PageCount     int       `json:"pageCount,omitempty"`
	ContentDigest string    `json:"contentDigest"`
	SizeBytes     int64     `json:"sizeBytes"`
	ModTime       time.Time `json:"modTime"`
}

// Key returns the ledger key of the source: the SHA-256 digest of its bytes.
func (s FlyerSource) Key() string {
	return s.ContentDigest
}

// PageImage is one rasterized page, owned by the processing run of its source.
type PageImage struct {
	SourceKey string `json:"-"`
	Index     int    `json:"index"`
	DPI       int    `json:"dpi"`
	MIMEType  string `json:"mimeType"`
	Data      []byte `json:"-"`
}

// ByteSize is the payload size the page contributes to a request.
func (p PageImage) ByteSize() int {
	return len(p.Data)
}

// Batch is a contiguous, ordered run of pages submitted in one extraction request.
type Batch struct {
	Index int         `json:"index"`
	Pages []PageImage `json:"pages"`
}

// FirstPage returns the index of the first page, or -1 for an empty batch.
func (b Batch) FirstPage() int {
	if len(b.Pages) == 0 {
		return -1
	}
	return b.Pages[0].Index
}

// LastPage returns the index of the last page, or -1 for an empty batch.
func (b Batch) LastPage() int {
	if len(b.Pages) == 0 {
		return -1
	}
	return b.Pages[len(b.Pages)-1].Index
}

// Contains reports whether pageIndex belongs to the batch.
func (b Batch) Contains(pageIndex int) bool {
	for _, p := range b.Pages {
		if p.Index == pageIndex {
			return true
		}
	}
	return false
}

func (b Batch) ByteSize() int {
	total := 0
	for _, p := range b.Pages {
		total += p.ByteSize()
	}
	return total
}
