package intake

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"homefeed/internal/constants"
	"homefeed/pkg/errors"
)

// Envelope mirrors the WhatsApp Business Cloud API webhook payload. Only the
// fields the pipeline reads are typed; everything else rides along in Raw so
// provider additions never break parsing.
type Envelope struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string            `json:"messaging_product"`
	Metadata         Metadata          `json:"metadata"`
	Contacts         []Contact         `json:"contacts"`
	Messages         []EnvelopeMessage `json:"messages"`
	Statuses         []json.RawMessage `json:"statuses"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type EnvelopeMessage struct {
	From      string        `json:"from"`
	ID        string        `json:"id"`
	Timestamp string        `json:"timestamp"`
	Type      string        `json:"type"`
	Text      *TextBody     `json:"text"`
	Image     *MediaBody    `json:"image"`
	Video     *MediaBody    `json:"video"`
	Document  *MediaBody    `json:"document"`
	Audio     *MediaBody    `json:"audio"`
	Context   *MessageRef   `json:"context"`
	Errors    []interface{} `json:"errors"`
}

type TextBody struct {
	Body string `json:"body"`
}

type MediaBody struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

type MessageRef struct {
	From string `json:"from"`
	ID   string `json:"id"`
}

// ParseEnvelope normalizes a webhook payload into the messages it carries,
// also reporting how many delivery items were skipped (status updates,
// non-message changes). Status-only deliveries produce an empty slice, not
// an error. A payload that is not valid JSON or has no entry array is a
// validation error.
func ParseEnvelope(body []byte, provider string, now time.Time) ([]NormalizedMessage, int, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, 0, errors.ErrValidation.WithCause(err).WithDetail("reason", "malformed JSON body")
	}
	if len(env.Entry) == 0 {
		return nil, 0, errors.ErrValidation.WithDetail("reason", "payload has no entries")
	}

	var out []NormalizedMessage
	skipped := 0
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			if change.Field != "" && change.Field != "messages" {
				skipped++
				continue
			}
			skipped += len(change.Value.Statuses)
			names := contactNames(change.Value.Contacts)
			for _, msg := range change.Value.Messages {
				out = append(out, normalizeMessage(msg, names, provider, now))
			}
		}
	}
	return out, skipped, nil
}

func contactNames(contacts []Contact) map[string]string {
	if len(contacts) == 0 {
		return nil
	}
	names := make(map[string]string, len(contacts))
	for _, c := range contacts {
		if c.WaID != "" && c.Profile.Name != "" {
			names[c.WaID] = c.Profile.Name
		}
	}
	return names
}

func normalizeMessage(msg EnvelopeMessage, names map[string]string, provider string, now time.Time) NormalizedMessage {
	text := ""
	if msg.Text != nil {
		text = msg.Text.Body
	}

	var media []MediaRef
	for _, m := range []struct {
		kind string
		body *MediaBody
	}{
		{"image", msg.Image},
		{"video", msg.Video},
		{"document", msg.Document},
		{"audio", msg.Audio},
	} {
		if m.body == nil {
			continue
		}
		media = append(media, MediaRef{
			Type:     m.kind,
			MediaID:  m.body.ID,
			MimeType: m.body.MimeType,
			Caption:  m.body.Caption,
		})
		// Captions are the only text a media-only message carries.
		if text == "" && m.body.Caption != "" {
			text = m.body.Caption
		}
	}

	received := now
	if ts, err := strconv.ParseInt(msg.Timestamp, 10, 64); err == nil && ts > 0 {
		received = time.Unix(ts, 0).UTC()
	}

	raw, err := toBSON(msg)
	if err != nil {
		raw = nil
	}

	return NormalizedMessage{
		DedupeKey:  DedupeKey(msg.ID, msg.From, msg.Timestamp, text),
		MessageID:  msg.ID,
		Text:       text,
		Media:      media,
		Sender: Sender{
			Phone: msg.From,
			Name:  names[msg.From],
		},
		Provider:   provider,
		ReceivedAt: received,
		Raw:        raw,
	}
}

// DedupeKey derives the stable identity for a message. The provider message
// id is authoritative; when it is missing the key is synthesized from the
// sender, timestamp and text so a replayed delivery still collapses onto the
// same record.
func DedupeKey(messageID, from, timestamp, text string) string {
	if messageID != "" {
		return constants.DedupeKeyPrefix + messageID
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", from, timestamp, strings.TrimSpace(text))))
	return constants.DedupeKeyPrefix + constants.SynthesizedDedupeInfix + hex.EncodeToString(sum[:])[:24]
}

func toBSON(v interface{}) (bson.M, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m bson.M
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
