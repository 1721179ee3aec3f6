package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/flyerextract/internal/models"
)

// --- Extractor Model Prompts ---
const ExtractorSystemPrompt = "You are an expert Retail Data Normalization Engine. You read scanned supermarket flyer pages and return every product offer and category-wide promotion as structured JSON. Accuracy and completeness are of utmost importance."
const ExtractorUserPrompt = `You will be provided with a batch of high-resolution page images from a single retail flyer. Each image is preceded by a label "Page N:" where N is the page index of the image within the whole flyer.

Follow these instructions to extract the flyer content:

1. Identify and extract data for every distinct **individual product offer** (e.g., Milk, Bread, Cheese) found on these pages.
2. Identify and extract data for every **category-wide promotional announcement** (e.g., '25% off all frozen goods').
3. **Category:** For the 'category' field you MUST choose a value from the ENUM list in the schema. Do not invent new categories.
4. **Search Tags:** For every product offer, generate 5-10 descriptive, multilingual keywords (e.g., ['milk', 'milch', 'dairy', 'drink', 'vollmilch']) in 'searchTags'.
5. **Page:** Set 'sourcePageIndex' to the N of the "Page N:" label of the image the offer appears on.
6. For optional fields like 'oldPrice', 'unitPrice' or 'discount', use the string 'N/A' if the information is not explicitly visible in the image.
7. Copy prices and dates exactly as printed, including currency symbols. Do not convert them.
8. Ensure 'productName' is clean and free of price or date clutter.

The output MUST be a single JSON object that strictly conforms to the provided schema.`

// FlyerResponseSchema is the response contract of the extractor model. The same
// schema is re-applied locally to every response.
func FlyerResponseSchema() *genai.Schema {
	str := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Description: desc}
	}
	pageIndex := &genai.Schema{
		Type:        genai.TypeInteger,
		Description: "The N of the 'Page N:' label of the image this item was found on.",
	}

	offer := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"productName": str("The name of the item on offer."),
			"category": {
				Type:        genai.TypeString,
				Description: "The normalized product category. MUST be one of the enumerated values.",
				Enum:        models.CategoryNames(),
			},
			"currentPrice":          str("The current promotional price, including currency (e.g., 5.99€)."),
			"oldPrice":              str("The original, non-sale price before discount (e.g., 7.99€). If not visible, use 'N/A'."),
			"packageSize":           str("The size of the product package (e.g., '530 g', '1 kg', '3 pcs', '1 liter')."),
			"unitPrice":             str("The price per standardized unit (e.g., '11.30/kg'). If not found, use 'N/A'."),
			"discount":              str("The discount amount or percentage (e.g., '25% off' or '-1.00€'). If not found, use 'N/A'."),
			"availabilityDateRange": str("The start and end date of the offer (e.g., '20.10. - 22.10.' or 'Mon-Wed'). If not found, use 'N/A'."),
			"searchTags": {
				Type:        genai.TypeArray,
				Items:       &genai.Schema{Type: genai.TypeString},
				Description: "5-10 descriptive, multilingual keywords for fuzzy search.",
			},
			"sourcePageIndex": pageIndex,
		},
		Required: []string{"productName", "category", "currentPrice", "packageSize", "availabilityDateRange", "sourcePageIndex"},
	}

	announcement := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"announcementType":      str("The nature of the promotion (e.g., 'Category Discount', 'Coupon Required', 'Weekend Special')."),
			"categoryAffected":      str("The category the discount applies to (e.g., 'All Beer', 'Frozen Pizzas')."),
			"discountValue":         str("The main discount value (e.g., '25% off', 'Buy 1 Get 1 Free')."),
			"details":               str("Key conditions or exclusions on the banner. If none are visible, use 'N/A'."),
			"availabilityDateRange": str("The date range of the banner discount. If not found, use 'N/A'."),
			"sourcePageIndex":       pageIndex,
		},
		Required: []string{"categoryAffected", "discountValue", "availabilityDateRange", "sourcePageIndex"},
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"productOffers": {
				Type:        genai.TypeArray,
				Items:       offer,
				Description: "An array of detailed information for individual products on sale.",
			},
			"categoryAnnouncements": {
				Type:        genai.TypeArray,
				Items:       announcement,
				Description: "An array of prominent, category-wide banner discounts. If none are found, return an empty array.",
			},
		},
		Required: []string{"productOffers", "categoryAnnouncements"},
	}
}

// VertexClient holds the pre-configured generative models for the app.
type VertexClient struct {
	ExtractorModel *genai.GenerativeModel
	baseClient     *genai.Client
}

// NewVertexClient creates a new client holding the flyer extractor model.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	extractorModel := baseClient.GenerativeModel(modelName)
	extractorModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(ExtractorSystemPrompt)},
	}
	extractorModel.GenerationConfig = genai.GenerationConfig{
		// Force schema-constrained JSON output.
		ResponseMIMEType: "application/json",
		ResponseSchema:   FlyerResponseSchema(),
		Temperature:      genai.Ptr[float32](0.0),
	}
	extractorModel.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	return &VertexClient{
		ExtractorModel: extractorModel,
		baseClient:     baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
