package intake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homefeed/pkg/errors"
)

func webhookBody(messages string) []byte {
	return []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "entry-1",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"contacts": [{"wa_id": "2348012345678", "profile": {"name": "Chinedu"}}],
					"messages": [` + messages + `]
				}
			}]
		}]
	}`)
}

func TestParseEnvelope_TextMessage(t *testing.T) {
	body := webhookBody(`{
		"from": "2348012345678",
		"id": "wamid.abc123",
		"timestamp": "1700000000",
		"type": "text",
		"text": {"body": "2 bedroom flat, Lekki, ₦1.2m/year"}
	}`)

	messages, skipped, err := ParseEnvelope(body, "whatsapp", time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, 0, skipped)

	msg := messages[0]
	assert.Equal(t, "wa:wamid.abc123", msg.DedupeKey)
	assert.Equal(t, "wamid.abc123", msg.MessageID)
	assert.Equal(t, "2 bedroom flat, Lekki, ₦1.2m/year", msg.Text)
	assert.Equal(t, "2348012345678", msg.Sender.Phone)
	assert.Equal(t, "Chinedu", msg.Sender.Name)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), msg.ReceivedAt)
}

func TestParseEnvelope_ImageCaptionBecomesText(t *testing.T) {
	body := webhookBody(`{
		"from": "2348012345678",
		"id": "wamid.img1",
		"timestamp": "1700000000",
		"type": "image",
		"image": {"id": "media-1", "mime_type": "image/jpeg", "caption": "3 bed duplex Ajah"}
	}`)

	messages, _, err := ParseEnvelope(body, "whatsapp", time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, messages, 1)

	msg := messages[0]
	assert.Equal(t, "3 bed duplex Ajah", msg.Text)
	require.Len(t, msg.Media, 1)
	assert.Equal(t, "image", msg.Media[0].Type)
	assert.Equal(t, "media-1", msg.Media[0].MediaID)
}

func TestParseEnvelope_StatusOnlyDelivery(t *testing.T) {
	body := []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "entry-1",
			"changes": [{
				"field": "messages",
				"value": {
					"statuses": [{"id": "wamid.abc", "status": "delivered"}]
				}
			}]
		}]
	}`)

	messages, skipped, err := ParseEnvelope(body, "whatsapp", time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, messages)
	assert.Equal(t, 1, skipped)
}

func TestParseEnvelope_MalformedJSON(t *testing.T) {
	_, _, err := ParseEnvelope([]byte("{not json"), "whatsapp", time.Now().UTC())
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestParseEnvelope_NoEntries(t *testing.T) {
	_, _, err := ParseEnvelope([]byte(`{"object": "whatsapp_business_account", "entry": []}`), "whatsapp", time.Now().UTC())
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestParseEnvelope_UnknownFieldsIgnored(t *testing.T) {
	body := webhookBody(`{
		"from": "2348012345678",
		"id": "wamid.future",
		"timestamp": "1700000000",
		"type": "some_future_type",
		"future_payload": {"anything": true}
	}`)

	messages, _, err := ParseEnvelope(body, "whatsapp", time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "wa:wamid.future", messages[0].DedupeKey)
	assert.Empty(t, messages[0].Text)
}

func TestDedupeKey_FromMessageID(t *testing.T) {
	assert.Equal(t, "wa:wamid.x", DedupeKey("wamid.x", "234801", "1700000000", "hello"))
}

func TestDedupeKey_SynthesizedFallback(t *testing.T) {
	key1 := DedupeKey("", "234801", "1700000000", "  hello  ")
	key2 := DedupeKey("", "234801", "1700000000", "hello")

	assert.True(t, len(key1) > len("wa:anon:"))
	assert.Contains(t, key1, "wa:anon:")
	// Whitespace around the text does not change the identity.
	assert.Equal(t, key1, key2)

	// Different content means a different identity.
	other := DedupeKey("", "234801", "1700000001", "hello")
	assert.NotEqual(t, key1, other)
}
