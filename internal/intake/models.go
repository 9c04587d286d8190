package intake

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

type MessageStatus string

const (
	StatusPending    MessageStatus = "pending"
	StatusProcessing MessageStatus = "processing"
	StatusProcessed  MessageStatus = "processed"
	StatusFailed     MessageStatus = "failed"
)

// RawMessage is one inbound message as stored in incoming_messages.
// The dedupe key is the document id, so re-delivery of the same provider
// message can never create a second record.
type RawMessage struct {
	DedupeKey   string          `bson:"_id" json:"dedupe_key"`
	Ingest      IngestInfo      `bson:"ingest" json:"ingest"`
	Text        string          `bson:"text" json:"text"`
	Media       []MediaRef      `bson:"media,omitempty" json:"media,omitempty"`
	Sender      Sender          `bson:"sender" json:"sender"`
	Raw         bson.M          `bson:"raw,omitempty" json:"-"`
	ReceivedAt  time.Time       `bson:"received_at" json:"received_at"`
	FirstSeenAt time.Time       `bson:"first_seen_at" json:"first_seen_at"`
	LastSeenAt  time.Time       `bson:"last_seen_at" json:"last_seen_at"`
	Processing  ProcessingState `bson:"processing" json:"processing"`
}

type IngestInfo struct {
	MessageID string `bson:"message_id,omitempty" json:"message_id,omitempty"`
	Provider  string `bson:"provider" json:"provider"`
}

type Sender struct {
	Phone string `bson:"phone,omitempty" json:"phone,omitempty"`
	Name  string `bson:"name,omitempty" json:"name,omitempty"`
}

type MediaRef struct {
	Type     string `bson:"type" json:"type"`
	MediaID  string `bson:"media_id,omitempty" json:"media_id,omitempty"`
	MimeType string `bson:"mime_type,omitempty" json:"mime_type,omitempty"`
	Caption  string `bson:"caption,omitempty" json:"caption,omitempty"`
}

// ProcessingState tracks the claim-based state machine:
// pending -> processing -> {processed | pending (retry) | failed}.
type ProcessingState struct {
	Status        MessageStatus `bson:"status" json:"status"`
	Attempts      int           `bson:"attempts" json:"attempts"`
	ClaimedAt     *time.Time    `bson:"claimed_at,omitempty" json:"claimed_at,omitempty"`
	HeartbeatAt   *time.Time    `bson:"heartbeat_at,omitempty" json:"heartbeat_at,omitempty"`
	LastError     string        `bson:"last_error,omitempty" json:"last_error,omitempty"`
	WorkerBatchID string        `bson:"worker_batch_id,omitempty" json:"worker_batch_id,omitempty"`
	ProcessedAt   *time.Time    `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
	ListingCount  int           `bson:"listing_count" json:"listing_count"`
	TokenUsage    TokenUsage    `bson:"token_usage" json:"token_usage"`
}

type TokenUsage struct {
	Prompt     int `bson:"prompt" json:"prompt"`
	Completion int `bson:"completion" json:"completion"`
	Total      int `bson:"total" json:"total"`
}

func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		Prompt:     u.Prompt + other.Prompt,
		Completion: u.Completion + other.Completion,
		Total:      u.Total + other.Total,
	}
}

// NormalizedMessage is the canonical form the normalizer produces from one
// webhook message before it is upserted.
type NormalizedMessage struct {
	DedupeKey  string
	MessageID  string
	Text       string
	Media      []MediaRef
	Sender     Sender
	Provider   string
	ReceivedAt time.Time
	Raw        bson.M
}

// HasUsableText reports whether the message carries text worth sending to
// extraction. Media captions count.
func (m *RawMessage) HasUsableText() bool {
	return strings.TrimSpace(m.Text) != ""
}
