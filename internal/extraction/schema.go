package extraction

// Candidate is one structured listing as extracted from a message. Pointer
// fields distinguish "model said null" from a real value; the listing layer
// is responsible for defaulting them into the canonical stored shape.
type Candidate struct {
	Title       *string           `json:"title"`
	Description *string           `json:"description"`
	Property    CandidateProperty `json:"property"`
	Address     CandidateAddress  `json:"address"`
	Deal        CandidateDeal     `json:"deal"`
	Contact     CandidateContact  `json:"contact"`
	Confidence  *float64          `json:"confidence"`
	Assumptions []string          `json:"assumptions"`
}

type CandidateProperty struct {
	Type       *string  `json:"type"`
	Bedrooms   *int     `json:"bedrooms"`
	Bathrooms  *int     `json:"bathrooms"`
	Toilets    *int     `json:"toilets"`
	Furnished  *bool    `json:"furnished"`
	Serviced   *bool    `json:"serviced"`
	NewlyBuilt *bool    `json:"newly_built"`
	Features   []string `json:"features"`
}

type CandidateAddress struct {
	Area  *string `json:"area"`
	City  *string `json:"city"`
	State *string `json:"state"`
	Raw   *string `json:"raw"`
}

type CandidateDeal struct {
	Category     *string        `json:"category"`
	Price        CandidatePrice `json:"price"`
	Availability *string        `json:"availability"`
}

type CandidatePrice struct {
	Amount     *float64 `json:"amount"`
	Currency   *string  `json:"currency"`
	Period     *string  `json:"period"`
	Negotiable *bool    `json:"negotiable"`
}

type CandidateContact struct {
	Phone    *string `json:"phone"`
	Name     *string `json:"name"`
	WhatsApp *string `json:"whatsapp"`
}

// Result carries the extracted candidates plus usage accounting for one
// model call.
type Result struct {
	Listings         []Candidate
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Truncated        bool
}

// HasDeal reports whether the model implied a transaction at all; money
// defaults only apply when it did.
func (c *Candidate) HasDeal() bool {
	return c.Deal.Category != nil || c.Deal.Price.Amount != nil
}
