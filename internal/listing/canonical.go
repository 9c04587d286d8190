package listing

import (
	"strconv"
	"strings"
	"time"

	"homefeed/internal/constants"
	"homefeed/internal/extraction"
)

// saleCategories get a one_time price period instead of the per-year rental
// default.
var saleCategories = map[string]bool{
	"sale": true,
	"land": true,
}

// Canonicalize expands a coerced extraction candidate into the full stored
// shape, defaulting every substructure. sourceKey is the raw message's dedupe
// key; ordinal is 1-based.
func Canonicalize(c extraction.Candidate, sourceKey string, ordinal int, truncated bool, now time.Time) ListingRecord {
	rec := ListingRecord{
		ID:          ListingID(sourceKey, ordinal),
		Title:       strOrEmpty(c.Title),
		Description: strOrEmpty(c.Description),
		Property: Property{
			Type:       strOrEmpty(c.Property.Type),
			Bedrooms:   c.Property.Bedrooms,
			Bathrooms:  c.Property.Bathrooms,
			Toilets:    c.Property.Toilets,
			Furnished:  c.Property.Furnished,
			Serviced:   c.Property.Serviced,
			NewlyBuilt: c.Property.NewlyBuilt,
			Features:   emptySliceIfNil(c.Property.Features),
		},
		Address: Address{
			Area:  strOrEmpty(c.Address.Area),
			City:  strOrEmpty(c.Address.City),
			State: strOrEmpty(c.Address.State),
			Raw:   strOrEmpty(c.Address.Raw),
		},
		Deal: Deal{
			Category:     strings.ToLower(strOrEmpty(c.Deal.Category)),
			Availability: strOrEmpty(c.Deal.Availability),
			Price: Price{
				Amount:     c.Deal.Price.Amount,
				Currency:   strOrEmpty(c.Deal.Price.Currency),
				Period:     strings.ToLower(strOrEmpty(c.Deal.Price.Period)),
				Negotiable: c.Deal.Price.Negotiable,
			},
		},
		Contact: Contact{
			Phone:    strOrEmpty(c.Contact.Phone),
			Name:     strOrEmpty(c.Contact.Name),
			WhatsApp: strOrEmpty(c.Contact.WhatsApp),
		},
		Quality: Quality{
			Confidence: floatOrZero(c.Confidence),
		},
		Audit: Audit{
			Assumptions:    emptySliceIfNil(c.Assumptions),
			ParserVersion:  constants.ParserVersion,
			ExtractedAt:    now,
			TruncatedInput: truncated,
		},
		Provenance: Provenance{
			DedupeKey: sourceKey,
			Ordinal:   ordinal,
		},
		Status: StatusActive,
	}

	applyMoneyDefaults(&rec, c.HasDeal())
	rec.Quality.Completeness = completeness(rec)
	if rec.Title == "" {
		rec.Title = synthesizeTitle(rec)
	}
	return rec
}

// applyMoneyDefaults fills currency and period when the model implied a deal
// but left them out. Rentals default to a per-year cycle, sales to one_time.
func applyMoneyDefaults(rec *ListingRecord, hasDeal bool) {
	if !hasDeal {
		return
	}
	if rec.Deal.Price.Currency == "" {
		rec.Deal.Price.Currency = constants.DefaultCurrency
	}
	if rec.Deal.Price.Period == "" {
		if saleCategories[rec.Deal.Category] {
			rec.Deal.Price.Period = "one_time"
		} else {
			rec.Deal.Price.Period = "year"
		}
	}
}

// completeness scores how much of the record's core fields are filled, in
// [0,1]. It is a search-ranking signal, not a validity gate.
func completeness(rec ListingRecord) float64 {
	checks := []bool{
		rec.Property.Type != "",
		rec.Property.Bedrooms != nil,
		rec.Address.Area != "" || rec.Address.City != "",
		rec.Address.State != "",
		rec.Deal.Category != "",
		rec.Deal.Price.Amount != nil,
		rec.Contact.Phone != "" || rec.Contact.WhatsApp != "",
		rec.Description != "",
	}
	filled := 0
	for _, ok := range checks {
		if ok {
			filled++
		}
	}
	return float64(filled) / float64(len(checks))
}

func synthesizeTitle(rec ListingRecord) string {
	var parts []string
	if rec.Property.Bedrooms != nil {
		parts = append(parts, plural(*rec.Property.Bedrooms, "bedroom"))
	}
	if rec.Property.Type != "" {
		parts = append(parts, rec.Property.Type)
	}
	location := rec.Address.Area
	if location == "" {
		location = rec.Address.City
	}
	if location != "" {
		parts = append(parts, "in "+location)
	}
	if len(parts) == 0 {
		return "Property listing"
	}
	return strings.Join(parts, " ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func floatOrZero(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func emptySliceIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
