package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Prices are written as JSON numbers. Quoted amounts still decode.
func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// Category is a member of the fixed product category enumeration.
type Category string

const (
	CategoryFreshProduce  Category = "Fresh Produce (Obst & Gemüse)"
	CategoryMeatPoultry   Category = "Meat & Poultry (Fleisch & Geflügel)"
	CategoryFishSeafood   Category = "Fish & Seafood (Fisch)"
	CategoryDairyEggs     Category = "Dairy & Eggs (Milchprodukte & Eier)"
	CategoryFrozen        Category = "Frozen Foods (Tiefkühl)"
	CategoryPantryBaking  Category = "Pantry & Baking (Grundnahrungsmittel)"
	CategoryDrinks        Category = "Drinks & Beverages (Getränke)"
	CategorySnacks        Category = "Snacks & Confectionery (Süßwaren & Snacks)"
	CategoryHousehold     Category = "Household & Cleaning (Haushalt)"
	CategoryPetSupplies   Category = "Pet Supplies (Tiernahrung)"
	CategoryHealthBeauty  Category = "Health & Beauty (Drogerie)"
	CategoryBreadBakery   Category = "Bread & Bakery (Brot & Gebäck)"
	CategoryMiscellaneous Category = "Miscellaneous"
)

// Categories lists the enumeration in the order it is presented to the model.
var Categories = []Category{
	CategoryFreshProduce,
	CategoryMeatPoultry,
	CategoryFishSeafood,
	CategoryDairyEggs,
	CategoryFrozen,
	CategoryPantryBaking,
	CategoryDrinks,
	CategorySnacks,
	CategoryHousehold,
	CategoryPetSupplies,
	CategoryHealthBeauty,
	CategoryBreadBakery,
	CategoryMiscellaneous,
}

// CategoryNames returns the enumeration as plain strings.
func CategoryNames() []string {
	names := make([]string, len(Categories))
	for i, c := range Categories {
		names[i] = string(c)
	}
	return names
}

// ParseCategory accepts exact enumeration members only.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// RawOffer is one product offer as returned by the extraction service.
type RawOffer struct {
	ProductName           string   `json:"productName"`
	Category              string   `json:"category"`
	CurrentPrice          string   `json:"currentPrice"`
	OldPrice              string   `json:"oldPrice,omitempty"`
	PackageSize           string   `json:"packageSize"`
	UnitPrice             string   `json:"unitPrice,omitempty"`
	Discount              string   `json:"discount,omitempty"`
	AvailabilityDateRange string   `json:"availabilityDateRange"`
	SearchTags            []string `json:"searchTags,omitempty"`
	SourcePageIndex       int      `json:"sourcePageIndex"`
}

// RawAnnouncement is a category-wide promotional banner.
type RawAnnouncement struct {
	AnnouncementType      string `json:"announcementType,omitempty"`
	CategoryAffected      string `json:"categoryAffected"`
	DiscountValue         string `json:"discountValue"`
	Details               string `json:"details,omitempty"`
	AvailabilityDateRange string `json:"availabilityDateRange"`
	SourcePageIndex       int    `json:"sourcePageIndex"`
}

// ExtractionResult is the decoded response for one batch.
type ExtractionResult struct {
	ProductOffers         []RawOffer        `json:"productOffers"`
	CategoryAnnouncements []RawAnnouncement `json:"categoryAnnouncements"`
}

// NormalizedOffer is a database-ready offer record.
type NormalizedOffer struct {
	ProductHash     string              `json:"productHash"`
	ProductName     string              `json:"productName"`
	Category        Category            `json:"category"`
	Retailer        string              `json:"retailer"`
	PackageSize     string              `json:"packageSize,omitempty"`
	CurrentPrice    decimal.NullDecimal `json:"currentPrice"`
	OldPrice        decimal.NullDecimal `json:"oldPrice"`
	UnitPrice       string              `json:"unitPrice,omitempty"`
	Discount        string              `json:"discount,omitempty"`
	OfferStartDate  string              `json:"offerStartDate"`
	OfferEndDate    string              `json:"offerEndDate"`
	SearchTags      []string            `json:"searchTags,omitempty"`
	SourcePageIndex int                 `json:"sourcePageIndex"`
	SourceFile      string              `json:"sourceFile"`
	ImageURI        string              `json:"imageUri,omitempty"`
	NeedsReview     bool                `json:"needsReview,omitempty"`
	ReviewReasons   []string            `json:"reviewReasons,omitempty"`
}

// Announcement is a cleaned category-wide banner.
type Announcement struct {
	AnnouncementType string `json:"announcementType,omitempty"`
	CategoryAffected string `json:"categoryAffected"`
	DiscountValue    string `json:"discountValue"`
	Details          string `json:"details,omitempty"`
	StartDate        string `json:"startDate"`
	EndDate          string `json:"endDate"`
	SourcePageIndex  int    `json:"sourcePageIndex"`
}

// SourceMetadata summarizes the flyer a dataset was extracted from.
type SourceMetadata struct {
	FileName      string `json:"fileName"`
	Retailer      string `json:"retailer"`
	SaleTitle     string `json:"saleTitle"`
	ValidFrom     string `json:"validFrom"`
	ValidUntil    string `json:"validUntil"`
	PageCount     int    `json:"pageCount"`
	BatchCount    int    `json:"batchCount"`
	ContentDigest string `json:"contentDigest"`
}

// SourceDataset is the output document of one processed flyer.
type SourceDataset struct {
	Source                SourceMetadata    `json:"source"`
	ProductOffers         []NormalizedOffer `json:"productOffers"`
	CategoryAnnouncements []Announcement    `json:"categoryAnnouncements"`
	DroppedOffers         int               `json:"droppedOffers"`
	GeneratedAt           time.Time         `json:"generatedAt"`
}
