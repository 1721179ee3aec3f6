package services

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/flyerextract/internal/models"
	"github.com/shopspring/decimal"
)

// OfferErrorPolicy decides what happens to an offer with a bad field.
type OfferErrorPolicy string

const (
	// PolicyDrop omits the offer and logs a warning.
	PolicyDrop OfferErrorPolicy = "drop"
	// PolicyFlag keeps the offer with NeedsReview set. Unparsable values stay null.
	PolicyFlag OfferErrorPolicy = "flag"
)

// ParseOfferErrorPolicy validates a policy name.
func ParseOfferErrorPolicy(s string) (OfferErrorPolicy, error) {
	switch OfferErrorPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyDrop:
		return PolicyDrop, nil
	case PolicyFlag:
		return PolicyFlag, nil
	}
	return "", fmt.Errorf("unknown offer error policy %q (want drop or flag)", s)
}

// Normalizer turns raw extracted fields into canonical values. It performs no
// I/O; the same inputs always produce the same output.
type Normalizer struct {
	hasher *ProductHasher
}

func NewNormalizer(hasher *ProductHasher) *Normalizer {
	return &Normalizer{hasher: hasher}
}

// Normalize cleans one raw offer. The returned offer is filled in as far as
// possible even when an error is returned, so a flag policy can keep it. The
// error joins every field problem found. Category and name errors leave the
// offer without a productHash.
func (n *Normalizer) Normalize(raw models.RawOffer, src models.FlyerSource) (models.NormalizedOffer, error) {
	var errs []error

	offer := models.NormalizedOffer{
		ProductName:     CleanName(raw.ProductName),
		Retailer:        src.Retailer,
		PackageSize:     CleanName(optionalField(raw.PackageSize)),
		UnitPrice:       CleanName(optionalField(raw.UnitPrice)),
		Discount:        CleanName(optionalField(raw.Discount)),
		SearchTags:      cleanSearchTags(raw.SearchTags),
		SourcePageIndex: raw.SourcePageIndex,
		SourceFile:      src.FileName,
	}

	identityOK := true
	if offer.ProductName == "" {
		errs = append(errs, &NameValidationError{Raw: raw.ProductName})
		identityOK = false
	}
	category, ok := models.ParseCategory(strings.TrimSpace(raw.Category))
	if !ok {
		errs = append(errs, &CategoryValidationError{Raw: raw.Category})
		identityOK = false
	}
	offer.Category = category

	if price, err := ParsePrice("currentPrice", raw.CurrentPrice); err != nil {
		errs = append(errs, err)
	} else {
		offer.CurrentPrice = decimal.NewNullDecimal(price)
	}
	if old := optionalField(raw.OldPrice); old != "" {
		if price, err := ParsePrice("oldPrice", old); err != nil {
			errs = append(errs, err)
		} else {
			offer.OldPrice = decimal.NewNullDecimal(price)
		}
	}

	start, end, err := ResolveOfferDates(raw.AvailabilityDateRange, src)
	if err != nil {
		errs = append(errs, err)
		start, end = src.ValidFrom, src.ValidUntil
	}
	offer.OfferStartDate = start.Format(models.DateLayout)
	offer.OfferEndDate = end.Format(models.DateLayout)

	if identityOK && n.hasher != nil {
		offer.ProductHash = n.hasher.Hash(offer)
	}
	return offer, errors.Join(errs...)
}

// NormalizeAnnouncement cleans a category-wide banner. Unresolvable dates fall
// back to the flyer window.
func (n *Normalizer) NormalizeAnnouncement(raw models.RawAnnouncement, src models.FlyerSource) models.Announcement {
	start, end, err := ResolveOfferDates(raw.AvailabilityDateRange, src)
	if err != nil {
		start, end = src.ValidFrom, src.ValidUntil
	}
	return models.Announcement{
		AnnouncementType: CleanName(optionalField(raw.AnnouncementType)),
		CategoryAffected: CleanName(raw.CategoryAffected),
		DiscountValue:    CleanName(raw.DiscountValue),
		Details:          CleanName(optionalField(raw.Details)),
		StartDate:        start.Format(models.DateLayout),
		EndDate:          end.Format(models.DateLayout),
		SourcePageIndex:  raw.SourcePageIndex,
	}
}

// IsIdentityError reports whether err leaves an offer without identity fields.
// Such offers are never kept, whatever the policy.
func IsIdentityError(err error) bool {
	var ce *CategoryValidationError
	var ne *NameValidationError
	return errors.As(err, &ce) || errors.As(err, &ne)
}

// CleanName trims s and collapses internal whitespace runs. Casing is kept.
func CleanName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// optionalField maps the model's "not visible" markers to the empty string.
func optionalField(s string) string {
	t := strings.TrimSpace(s)
	switch strings.ToLower(t) {
	case "", "n/a", "na", "-", "none", "null":
		return ""
	}
	return t
}

func cleanSearchTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		t := strings.ToLower(CleanName(tag))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// priceToken matches number-like tokens: digits grouped by spaces in threes
// ("1 299,00"), digits with optional separators and a trailing ",-" / ".-", or
// a bare fraction like ".99".
var priceToken = regexp.MustCompile(`\d{1,3}(?:[ \x{00A0}\x{202F}]\d{3}\b)+(?:[.,]\d+)?(?:[.,]-)?|\d+(?:['’.,]\d+)*(?:[.,]-)?|[.,]\d+`)

// ParsePrice extracts a decimal amount from a free-text price such as "$12.99",
// "12,99 €", "1.299,00", "1 299,00 €" or "2,-". Currency symbols and words are
// ignored. When the text holds several numbers ("2 für 3,99", "2x 1,49") the
// first one with a cents part wins; otherwise the first number is used.
func ParsePrice(field, raw string) (decimal.Decimal, error) {
	tokens := priceToken.FindAllString(raw, -1)
	if len(tokens) == 0 {
		return decimal.Decimal{}, &PriceParseError{Field: field, Raw: raw, Err: ErrNoPriceToken}
	}
	token, _ := normalizePriceToken(tokens[0])
	for _, candidate := range tokens {
		if normalized, hasCents := normalizePriceToken(candidate); hasCents {
			token = normalized
			break
		}
	}

	amount, err := decimal.NewFromString(token)
	if err != nil {
		return decimal.Decimal{}, &PriceParseError{Field: field, Raw: raw, Err: err}
	}
	return amount, nil
}

// normalizePriceToken rewrites a matched token into decimal.NewFromString
// syntax and reports whether it carries a cents part (",99" or ",-").
func normalizePriceToken(token string) (string, bool) {
	dash := strings.HasSuffix(token, ",-") || strings.HasSuffix(token, ".-")
	token = strings.TrimSuffix(strings.TrimSuffix(token, ",-"), ".-")
	token = strings.NewReplacer("'", "", "’", "", " ", "", "\u00a0", "", "\u202f", "").Replace(token)
	if strings.HasPrefix(token, ".") || strings.HasPrefix(token, ",") {
		token = "0" + token
	}

	lastComma := strings.LastIndex(token, ",")
	lastDot := strings.LastIndex(token, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		// Both present: the later one is the decimal separator.
		if lastComma > lastDot {
			token = strings.ReplaceAll(token, ".", "")
			token = strings.Replace(token, ",", ".", 1)
		} else {
			token = strings.ReplaceAll(token, ",", "")
		}
	case lastComma >= 0:
		token = normalizeSingleSeparator(token, ",")
	case lastDot >= 0:
		token = normalizeSingleSeparator(token, ".")
	}
	return token, dash || strings.Contains(token, ".")
}

// normalizeSingleSeparator resolves a token that uses only sep. A single
// occurrence followed by one or two digits is a decimal separator; anything
// else is a thousands separator.
func normalizeSingleSeparator(token, sep string) string {
	if strings.Count(token, sep) == 1 {
		frac := token[strings.Index(token, sep)+1:]
		if len(frac) <= 2 {
			return strings.Replace(token, sep, ".", 1)
		}
	}
	return strings.ReplaceAll(token, sep, "")
}

var (
	isoDateToken = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	dayMonthDate = regexp.MustCompile(`\b(\d{1,2})[./](\d{1,2})(?:[./](\d{4}|\d{2})\b)?`)
	untilWords   = regexp.MustCompile(`(?i)^\s*(bis|until|till|to|thru|through|gültig bis|valid until)\b`)
)

type dateToken struct {
	raw              string
	year, month, day int
	hasYear          bool
	position         int
}

// ResolveOfferDates derives the start and end date of an offer from free text
// such as "20.10. - 22.10.", "ab 22.10.", "bis 22.10.2025" or "2025-10-20".
// Years missing from the text come from the flyer window. Text without any
// date token inherits the flyer validity window.
func ResolveOfferDates(raw string, src models.FlyerSource) (time.Time, time.Time, error) {
	text := optionalField(raw)
	tokens := findDateTokens(text)
	if len(tokens) == 0 {
		return src.ValidFrom, src.ValidUntil, nil
	}

	dates := make([]time.Time, 0, len(tokens))
	for _, tok := range tokens {
		d, err := tok.resolve(src.ValidFrom)
		if err != nil {
			return time.Time{}, time.Time{}, &DateParseError{Raw: raw, Err: err}
		}
		dates = append(dates, d)
	}

	if len(dates) == 1 {
		if untilWords.MatchString(text) {
			start := src.ValidFrom
			if dates[0].Before(start) {
				start = dates[0]
			}
			return start, dates[0], nil
		}
		end := src.ValidUntil
		if end.Before(dates[0]) {
			end = dates[0]
		}
		return dates[0], end, nil
	}

	start, end := dates[0], dates[len(dates)-1]
	if end.Before(start) && !tokens[len(tokens)-1].hasYear {
		end = end.AddDate(1, 0, 0)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, &DateParseError{Raw: raw, Err: errors.New("end date before start date")}
	}
	return start, end, nil
}

func findDateTokens(text string) []dateToken {
	if text == "" {
		return nil
	}
	var tokens []dateToken
	for _, m := range isoDateToken.FindAllStringSubmatchIndex(text, -1) {
		tokens = append(tokens, dateToken{
			raw:      text[m[0]:m[1]],
			year:     atoi(text[m[2]:m[3]]),
			month:    atoi(text[m[4]:m[5]]),
			day:      atoi(text[m[6]:m[7]]),
			hasYear:  true,
			position: m[0],
		})
	}
	masked := isoDateToken.ReplaceAllStringFunc(text, func(s string) string { return strings.Repeat(" ", len(s)) })
	for _, m := range dayMonthDate.FindAllStringSubmatchIndex(masked, -1) {
		tok := dateToken{
			raw:      masked[m[0]:m[1]],
			day:      atoi(masked[m[2]:m[3]]),
			month:    atoi(masked[m[4]:m[5]]),
			position: m[0],
		}
		if m[6] >= 0 {
			tok.year = atoi(masked[m[6]:m[7]])
			if tok.year < 100 {
				tok.year += 2000
			}
			tok.hasYear = true
		}
		// Out-of-range pairs such as "8.00" or "12.99" are times or amounts, not dates.
		if tok.day < 1 || tok.day > 31 || tok.month < 1 || tok.month > 12 {
			continue
		}
		tokens = append(tokens, tok)
	}
	// Keep reading order.
	for i := 1; i < len(tokens); i++ {
		for j := i; j > 0 && tokens[j].position < tokens[j-1].position; j-- {
			tokens[j], tokens[j-1] = tokens[j-1], tokens[j]
		}
	}
	return tokens
}

// resolve turns the token into a calendar date. A missing year is taken from
// anchor and rolls into the next year when that lands more than six months
// before anchor. Year-less dates never resolve to an earlier year.
func (t dateToken) resolve(anchor time.Time) (time.Time, error) {
	if t.month < 1 || t.month > 12 {
		return time.Time{}, fmt.Errorf("month %d out of range in %q", t.month, t.raw)
	}
	year := t.year
	if !t.hasYear {
		year = anchor.Year()
	}
	d := time.Date(year, time.Month(t.month), t.day, 0, 0, 0, 0, time.UTC)
	if d.Day() != t.day || int(d.Month()) != t.month {
		return time.Time{}, fmt.Errorf("%q is not a calendar date", t.raw)
	}
	if !t.hasYear && d.Before(anchor.AddDate(0, -6, 0)) {
		d = d.AddDate(1, 0, 0)
	}
	return d, nil
}

func atoi(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}
