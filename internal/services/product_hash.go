package services

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/Lllllllleong/flyerextract/internal/models"
	"github.com/gowebpki/jcs"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// productHashVersion is part of the digested tuple. Bump it whenever the field
// set or the folding rules change so old and new hashes never collide.
const productHashVersion = "v1"

// ProductHasher derives the productHash of an offer.
//
// Identity fields are category, product name and package size, plus the
// retailer when includeRetailer is set. Each field is NFKC-normalized, fully
// case-folded and whitespace-collapsed. The tuple is encoded as a JSON array,
// canonicalized with RFC 8785 (JCS) and digested with SHA-256; the result is
// 64 lowercase hex characters. Price, dates, page and source file never
// contribute.
type ProductHasher struct {
	includeRetailer bool
}

func NewProductHasher(includeRetailer bool) *ProductHasher {
	return &ProductHasher{includeRetailer: includeRetailer}
}

// Hash returns the productHash of a normalized offer.
func (h *ProductHasher) Hash(offer models.NormalizedOffer) string {
	retailer := ""
	if h.includeRetailer {
		retailer = offer.Retailer
	}
	return h.HashFields(string(offer.Category), offer.ProductName, offer.PackageSize, retailer)
}

// HashFields hashes the identity tuple directly. retailer is ignored unless the
// hasher was built with includeRetailer.
func (h *ProductHasher) HashFields(category, name, packageSize, retailer string) string {
	tuple := []string{productHashVersion, foldIdentity(category), foldIdentity(name), foldIdentity(packageSize)}
	if h.includeRetailer {
		tuple = append(tuple, foldIdentity(retailer))
	}

	raw, _ := json.Marshal(tuple)
	canonical, err := jcs.Transform(raw)
	if err != nil {
		// A marshalled []string is always valid JSON.
		canonical = raw
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// foldIdentity is the text folding applied to every identity field.
func foldIdentity(s string) string {
	s = norm.NFKC.String(s)
	// Casers keep state; a fresh one per call keeps Hash safe for concurrent use.
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}
