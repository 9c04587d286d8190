package listing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homefeed/internal/extraction"
)

func strPtr(s string) *string   { return &s }
func intPtr(i int) *int         { return &i }
func f64Ptr(f float64) *float64 { return &f }

func TestListingID_Deterministic(t *testing.T) {
	assert.Equal(t, "wa:wamid.abc#1", ListingID("wa:wamid.abc", 1))
	assert.Equal(t, "wa:wamid.abc#2", ListingID("wa:wamid.abc", 2))
}

func TestCanonicalize_FullySpecified(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	candidate := extraction.Candidate{
		Title: strPtr("2 Bedroom Flat in Lekki"),
		Property: extraction.CandidateProperty{
			Type:     strPtr("flat"),
			Bedrooms: intPtr(2),
			Features: []string{"fitted kitchen"},
		},
		Address: extraction.CandidateAddress{
			Area:  strPtr("Lekki"),
			State: strPtr("Lagos"),
		},
		Deal: extraction.CandidateDeal{
			Category: strPtr("Rent"),
			Price: extraction.CandidatePrice{
				Amount:   f64Ptr(1200000),
				Currency: strPtr("NGN"),
				Period:   strPtr("year"),
			},
		},
		Confidence: f64Ptr(0.85),
	}

	rec := Canonicalize(candidate, "wa:wamid.abc", 1, false, now)

	assert.Equal(t, "wa:wamid.abc#1", rec.ID)
	assert.Equal(t, "2 Bedroom Flat in Lekki", rec.Title)
	assert.Equal(t, "rent", rec.Deal.Category)
	assert.Equal(t, float64(1200000), *rec.Deal.Price.Amount)
	assert.Equal(t, "NGN", rec.Deal.Price.Currency)
	assert.Equal(t, StatusActive, rec.Status)
	assert.Equal(t, 0.85, rec.Quality.Confidence)
	assert.Equal(t, "wa:wamid.abc", rec.Provenance.DedupeKey)
	assert.Equal(t, 1, rec.Provenance.Ordinal)
	assert.Equal(t, now, rec.Audit.ExtractedAt)
}

func TestCanonicalize_EmptyCandidateStillFullyShaped(t *testing.T) {
	rec := Canonicalize(extraction.Candidate{}, "wa:k", 1, false, time.Now().UTC())

	// No nil substructure slices; the stored document is always complete.
	require.NotNil(t, rec.Property.Features)
	require.NotNil(t, rec.Audit.Assumptions)
	assert.Empty(t, rec.Deal.Price.Currency)
	assert.Equal(t, 0.0, rec.Quality.Confidence)
	assert.Equal(t, "Property listing", rec.Title)
}

func TestCanonicalize_MoneyDefaultsForRent(t *testing.T) {
	candidate := extraction.Candidate{
		Deal: extraction.CandidateDeal{
			Category: strPtr("rent"),
			Price:    extraction.CandidatePrice{Amount: f64Ptr(500000)},
		},
	}
	rec := Canonicalize(candidate, "wa:k", 1, false, time.Now().UTC())

	assert.Equal(t, "NGN", rec.Deal.Price.Currency)
	assert.Equal(t, "year", rec.Deal.Price.Period)
}

func TestCanonicalize_MoneyDefaultsForSale(t *testing.T) {
	candidate := extraction.Candidate{
		Deal: extraction.CandidateDeal{
			Category: strPtr("sale"),
			Price:    extraction.CandidatePrice{Amount: f64Ptr(45000000)},
		},
	}
	rec := Canonicalize(candidate, "wa:k", 1, false, time.Now().UTC())

	assert.Equal(t, "NGN", rec.Deal.Price.Currency)
	assert.Equal(t, "one_time", rec.Deal.Price.Period)
}

func TestCanonicalize_NoDealNoMoneyDefaults(t *testing.T) {
	rec := Canonicalize(extraction.Candidate{Title: strPtr("just a flat")}, "wa:k", 1, false, time.Now().UTC())

	assert.Empty(t, rec.Deal.Price.Currency)
	assert.Empty(t, rec.Deal.Price.Period)
}

func TestCanonicalize_SynthesizedTitle(t *testing.T) {
	candidate := extraction.Candidate{
		Property: extraction.CandidateProperty{
			Type:     strPtr("flat"),
			Bedrooms: intPtr(2),
		},
		Address: extraction.CandidateAddress{Area: strPtr("Lekki")},
	}
	rec := Canonicalize(candidate, "wa:k", 1, false, time.Now().UTC())

	assert.Equal(t, "2 bedrooms flat in Lekki", rec.Title)
}

func TestCanonicalize_CompletenessGrows(t *testing.T) {
	empty := Canonicalize(extraction.Candidate{}, "wa:k", 1, false, time.Now().UTC())

	rich := Canonicalize(extraction.Candidate{
		Description: strPtr("clean flat"),
		Property:    extraction.CandidateProperty{Type: strPtr("flat"), Bedrooms: intPtr(2)},
		Address:     extraction.CandidateAddress{City: strPtr("Lagos"), State: strPtr("Lagos")},
		Deal: extraction.CandidateDeal{
			Category: strPtr("rent"),
			Price:    extraction.CandidatePrice{Amount: f64Ptr(1200000)},
		},
		Contact: extraction.CandidateContact{Phone: strPtr("234801")},
	}, "wa:k", 1, false, time.Now().UTC())

	assert.Equal(t, 0.0, empty.Quality.Completeness)
	assert.Equal(t, 1.0, rich.Quality.Completeness)
}

func TestCanonicalize_TruncatedFlagRecorded(t *testing.T) {
	rec := Canonicalize(extraction.Candidate{}, "wa:k", 1, true, time.Now().UTC())
	assert.True(t, rec.Audit.TruncatedInput)
}
