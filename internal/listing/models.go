package listing

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// ListingRecord is the canonical stored shape in the properties collection.
// Every substructure is always present; canonicalization guarantees partial
// extraction output never produces a malformed record.
type ListingRecord struct {
	ID          string     `bson:"_id" json:"id"`
	Title       string     `bson:"title" json:"title"`
	Description string     `bson:"description" json:"description"`
	Property    Property   `bson:"property" json:"property"`
	Address     Address    `bson:"address" json:"address"`
	Deal        Deal       `bson:"deal" json:"deal"`
	Contact     Contact    `bson:"contact" json:"contact"`
	Quality     Quality    `bson:"quality" json:"quality"`
	Audit       Audit      `bson:"audit" json:"audit"`
	Provenance  Provenance `bson:"provenance" json:"provenance"`
	Status      Status     `bson:"status" json:"status"`
	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at" json:"updated_at"`
}

type Property struct {
	Type       string   `bson:"type" json:"type"`
	Bedrooms   *int     `bson:"bedrooms" json:"bedrooms"`
	Bathrooms  *int     `bson:"bathrooms" json:"bathrooms"`
	Toilets    *int     `bson:"toilets" json:"toilets"`
	Furnished  *bool    `bson:"furnished" json:"furnished"`
	Serviced   *bool    `bson:"serviced" json:"serviced"`
	NewlyBuilt *bool    `bson:"newly_built" json:"newly_built"`
	Features   []string `bson:"features" json:"features"`
}

type Address struct {
	Area  string `bson:"area" json:"area"`
	City  string `bson:"city" json:"city"`
	State string `bson:"state" json:"state"`
	Raw   string `bson:"raw" json:"raw"`
}

type Deal struct {
	Category     string `bson:"category" json:"category"`
	Price        Price  `bson:"price" json:"price"`
	Availability string `bson:"availability" json:"availability"`
}

type Price struct {
	Amount     *float64 `bson:"amount" json:"amount"`
	Currency   string   `bson:"currency" json:"currency"`
	Period     string   `bson:"period" json:"period"`
	Negotiable *bool    `bson:"negotiable" json:"negotiable"`
}

type Contact struct {
	Phone    string `bson:"phone" json:"phone"`
	Name     string `bson:"name" json:"name"`
	WhatsApp string `bson:"whatsapp" json:"whatsapp"`
}

type Quality struct {
	Confidence   float64 `bson:"confidence" json:"confidence"`
	Completeness float64 `bson:"completeness" json:"completeness"`
}

type Audit struct {
	Assumptions    []string  `bson:"assumptions" json:"assumptions"`
	ParserVersion  string    `bson:"parser_version" json:"parser_version"`
	ExtractedAt    time.Time `bson:"extracted_at" json:"extracted_at"`
	TruncatedInput bool      `bson:"truncated_input" json:"truncated_input"`
}

type Provenance struct {
	SourceMessageIDs []string `bson:"source_message_ids" json:"source_message_ids"`
	DedupeKey        string   `bson:"dedupe_key" json:"dedupe_key"`
	Ordinal          int      `bson:"ordinal" json:"ordinal"`
}

// ListingID derives the stable identity for the ordinal-th listing (1-based)
// extracted from a message. Re-extraction resolves to the same ids, so
// repeated processing overwrites instead of duplicating.
func ListingID(dedupeKey string, ordinal int) string {
	return fmt.Sprintf("%s#%d", dedupeKey, ordinal)
}
