package services

import (
	"regexp"
	"testing"

	"github.com/Lllllllleong/flyerextract/internal/models"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var hexDigest = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestProductHash_FoldsCaseAndWhitespace(t *testing.T) {
	h := NewProductHasher(false)
	cat := string(models.CategoryDairyEggs)

	a := h.HashFields(cat, "  Bio  Vollmilch ", "1 L", "")
	b := h.HashFields(cat, "bio vollmilch", "1 l", "")
	assert.Equal(t, a, b)
	assert.Regexp(t, hexDigest, a)

	// Full case folding maps ß to ss.
	assert.Equal(t, h.HashFields(cat, "Weißbier", "0,5 L", ""), h.HashFields(cat, "WEISSBIER", "0,5 l", ""))
	// NFKC folds compatibility forms such as full-width letters.
	assert.Equal(t, h.HashFields(cat, "ＭＩＬＫ", "1 L", ""), h.HashFields(cat, "milk", "1 L", ""))
}

func TestProductHash_FieldsThatMatter(t *testing.T) {
	h := NewProductHasher(false)
	cat := string(models.CategoryDairyEggs)
	base := h.HashFields(cat, "Vollmilch", "1 L", "")

	assert.NotEqual(t, base, h.HashFields(cat, "Vollmilch", "0,5 L", ""))
	assert.NotEqual(t, base, h.HashFields(string(models.CategoryDrinks), "Vollmilch", "1 L", ""))
	assert.NotEqual(t, base, h.HashFields(cat, "Vollmilch 3.5%", "1 L", ""))
	// Field boundaries are kept; moving text between fields changes the hash.
	assert.NotEqual(t, h.HashFields(cat, "Milk 1", "L", ""), h.HashFields(cat, "Milk", "1 L", ""))
}

func TestProductHash_RetailerOnlyWhenConfigured(t *testing.T) {
	cat := string(models.CategoryDairyEggs)

	global := NewProductHasher(false)
	assert.Equal(t, global.HashFields(cat, "Milk", "1 L", "SPAR"), global.HashFields(cat, "Milk", "1 L", "BILLA"))

	perRetailer := NewProductHasher(true)
	assert.NotEqual(t, perRetailer.HashFields(cat, "Milk", "1 L", "SPAR"), perRetailer.HashFields(cat, "Milk", "1 L", "BILLA"))
	assert.Equal(t, perRetailer.HashFields(cat, "Milk", "1 L", "spar"), perRetailer.HashFields(cat, "Milk", "1 L", "SPAR"))
}

func TestProductHash_IgnoresPriceDateAndSource(t *testing.T) {
	h := NewProductHasher(false)
	a := models.NormalizedOffer{
		ProductName:     "Butter",
		Category:        models.CategoryDairyEggs,
		PackageSize:     "250 g",
		CurrentPrice:    decimal.NewNullDecimal(decimal.RequireFromString("1.99")),
		OfferStartDate:  "2025-10-20",
		SourcePageIndex: 1,
		SourceFile:      "SPAR_2025-10-20_A.pdf",
	}
	b := a
	b.CurrentPrice = decimal.NewNullDecimal(decimal.RequireFromString("2.49"))
	b.OfferStartDate = "2025-11-03"
	b.SourcePageIndex = 9
	b.SourceFile = "BILLA_2025-11-03_B.pdf"
	b.Retailer = "BILLA"

	assert.Equal(t, h.Hash(a), h.Hash(b))
}

func TestProductHashDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	h := NewProductHasher(true)

	properties.Property("hashing is deterministic and well formed", prop.ForAll(
		func(category, name, size, retailer string) bool {
			a := h.HashFields(category, name, size, retailer)
			b := NewProductHasher(true).HashFields(category, name, size, retailer)
			return a == b && hexDigest.MatchString(a)
		},
		gen.AnyString(),
		gen.AnyString(),
		gen.AnyString(),
		gen.AlphaString(),
	))

	properties.Property("padding whitespace never changes the hash", prop.ForAll(
		func(name, size string) bool {
			cat := string(models.CategoryMiscellaneous)
			return h.HashFields(cat, name, size, "X") == h.HashFields(cat, "  "+name+"\t", size+" ", "X")
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
