package extraction

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"homefeed/pkg/errors"
)

const (
	maxFeatureItems    = 20
	maxAssumptionLen   = 300
	maxAssumptionItems = 10
)

// decodeListings turns raw model output into coerced candidates. Model output
// is treated as hostile: every field goes through a coercion that yields the
// right Go type or nil, never an error. Only a top-level shape violation
// (not JSON, no listings array) is an extraction error.
func decodeListings(raw string, maxListings int) ([]Candidate, error) {
	raw = strings.TrimSpace(raw)
	// Some models wrap JSON-mode output in a code fence anyway.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	if raw == "" {
		return nil, errors.ErrExtraction.WithDetail("reason", "empty model output")
	}

	var envelope struct {
		Listings []json.RawMessage `json:"listings"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, errors.ErrExtraction.WithCause(err).WithDetail("reason", "model output is not a JSON object")
	}

	if len(envelope.Listings) > maxListings {
		envelope.Listings = envelope.Listings[:maxListings]
	}

	candidates := make([]Candidate, 0, len(envelope.Listings))
	for _, item := range envelope.Listings {
		var fields map[string]interface{}
		if err := json.Unmarshal(item, &fields); err != nil {
			continue // non-object array member, drop it
		}
		candidates = append(candidates, coerceCandidate(fields))
	}
	return candidates, nil
}

func coerceCandidate(fields map[string]interface{}) Candidate {
	c := Candidate{
		Title:       coerceString(fields["title"]),
		Description: coerceString(fields["description"]),
		Confidence:  coerceConfidence(fields["confidence"]),
		Assumptions: coerceStringSlice(fields["assumptions"], maxAssumptionItems),
	}

	if prop, ok := fields["property"].(map[string]interface{}); ok {
		c.Property = CandidateProperty{
			Type:       coerceString(prop["type"]),
			Bedrooms:   coerceInt(prop["bedrooms"]),
			Bathrooms:  coerceInt(prop["bathrooms"]),
			Toilets:    coerceInt(prop["toilets"]),
			Furnished:  coerceBool(prop["furnished"]),
			Serviced:   coerceBool(prop["serviced"]),
			NewlyBuilt: coerceBool(prop["newly_built"]),
			Features:   coerceStringSlice(prop["features"], maxFeatureItems),
		}
	}

	if addr, ok := fields["address"].(map[string]interface{}); ok {
		c.Address = CandidateAddress{
			Area:  coerceString(addr["area"]),
			City:  coerceString(addr["city"]),
			State: coerceString(addr["state"]),
			Raw:   coerceString(addr["raw"]),
		}
	}

	if deal, ok := fields["deal"].(map[string]interface{}); ok {
		c.Deal.Category = coerceString(deal["category"])
		c.Deal.Availability = coerceString(deal["availability"])
		if price, ok := deal["price"].(map[string]interface{}); ok {
			c.Deal.Price = CandidatePrice{
				Amount:     coerceNumber(price["amount"]),
				Currency:   coerceString(price["currency"]),
				Period:     coerceString(price["period"]),
				Negotiable: coerceBool(price["negotiable"]),
			}
		}
	}

	if contact, ok := fields["contact"].(map[string]interface{}); ok {
		c.Contact = CandidateContact{
			Phone:    coerceString(contact["phone"]),
			Name:     coerceString(contact["name"]),
			WhatsApp: coerceString(contact["whatsapp"]),
		}
	}

	return c
}

// coerceString accepts strings and stringifies numbers; anything else is nil.
// Unknown enum-like values are passed through untouched.
func coerceString(v interface{}) *string {
	switch s := v.(type) {
	case string:
		trimmed := strings.TrimSpace(s)
		if trimmed == "" {
			return nil
		}
		return &trimmed
	case float64:
		str := strconv.FormatFloat(s, 'f', -1, 64)
		return &str
	default:
		return nil
	}
}

func coerceNumber(v interface{}) *float64 {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return nil
		}
		return &n
	case string:
		// Models sometimes quote numbers, or leave thousand separators in.
		cleaned := strings.ReplaceAll(strings.TrimSpace(n), ",", "")
		if parsed, err := strconv.ParseFloat(cleaned, 64); err == nil {
			return &parsed
		}
		return nil
	default:
		return nil
	}
}

func coerceInt(v interface{}) *int {
	n := coerceNumber(v)
	if n == nil || *n < 0 || *n > math.MaxInt32 {
		return nil
	}
	i := int(*n)
	return &i
}

func coerceBool(v interface{}) *bool {
	switch b := v.(type) {
	case bool:
		return &b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes":
			t := true
			return &t
		case "false", "no":
			f := false
			return &f
		}
		return nil
	default:
		return nil
	}
}

// coerceStringSlice keeps string members of an arbitrary array, dropping the
// rest, and caps the result.
func coerceStringSlice(v interface{}, maxItems int) []string {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, item := range arr {
		s := coerceString(item)
		if s == nil {
			continue
		}
		val := *s
		if len(val) > maxAssumptionLen {
			val = val[:maxAssumptionLen]
		}
		out = append(out, val)
		if len(out) == maxItems {
			break
		}
	}
	return out
}

// coerceConfidence clamps into [0,1]; out-of-range numbers are clamped, not
// dropped, since a confidence of 3 still means "confident".
func coerceConfidence(v interface{}) *float64 {
	n := coerceNumber(v)
	if n == nil {
		return nil
	}
	clamped := math.Min(math.Max(*n, 0), 1)
	return &clamped
}
