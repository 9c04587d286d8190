package extraction

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"homefeed/internal/config"
	"homefeed/internal/logger"
	"homefeed/pkg/errors"
)

type fakeModel struct {
	response string
	info     map[string]any
	err      error
	lastText string
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, msg := range messages {
		if msg.Role == llms.ChatMessageTypeHuman {
			for _, part := range msg.Parts {
				if text, ok := part.(llms.TextContent); ok {
					f.lastText = text.Text
				}
			}
		}
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{Content: f.response, GenerationInfo: f.info},
		},
	}, nil
}

func (f *fakeModel) Call(_ context.Context, _ string, _ ...llms.CallOption) (string, error) {
	return f.response, f.err
}

func testClient(model llms.Model, maxChars int) *Client {
	return newClientWithModel(model, config.ExtractionConfig{
		Model:         "test-model",
		MaxInputChars: maxChars,
		MaxListings:   5,
	}, logger.NopLogger())
}

func TestClient_Extract_ParsesListingsAndUsage(t *testing.T) {
	model := &fakeModel{
		response: `{"listings": [{"title": "2 bed flat", "property": {"bedrooms": 2}}]}`,
		info: map[string]any{
			"PromptTokens":     120,
			"CompletionTokens": 80,
			"TotalTokens":      200,
		},
	}
	client := testClient(model, 2400)

	result, err := client.Extract(context.Background(), "2 bedroom flat, Lekki, ₦1.2m/year", ExtractOptions{MessageID: "wa:m1"})
	require.NoError(t, err)
	require.Len(t, result.Listings, 1)
	assert.Equal(t, 2, *result.Listings[0].Property.Bedrooms)
	assert.Equal(t, 120, result.PromptTokens)
	assert.Equal(t, 80, result.CompletionTokens)
	assert.Equal(t, 200, result.TotalTokens)
	assert.False(t, result.Truncated)
}

func TestClient_Extract_TruncatesLongInput(t *testing.T) {
	model := &fakeModel{response: `{"listings": []}`}
	client := testClient(model, 100)

	long := strings.Repeat("very long listing text ", 50)
	result, err := client.Extract(context.Background(), long, ExtractOptions{})
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.LessOrEqual(t, len([]rune(model.lastText)), 100)
}

func TestClient_Extract_EmptyInputRejected(t *testing.T) {
	client := testClient(&fakeModel{response: `{"listings": []}`}, 2400)

	_, err := client.Extract(context.Background(), "   \n  ", ExtractOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestClient_Extract_ModelErrorIsExtractionError(t *testing.T) {
	client := testClient(&fakeModel{err: context.DeadlineExceeded}, 2400)

	_, err := client.Extract(context.Background(), "mini flat Ikeja", ExtractOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsExtraction(err))
}

func TestClient_Extract_NonJSONOutputIsExtractionError(t *testing.T) {
	client := testClient(&fakeModel{response: "no listings here"}, 2400)

	_, err := client.Extract(context.Background(), "mini flat Ikeja", ExtractOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsExtraction(err))
}

func TestClient_Extract_TotalsDerivedWhenMissing(t *testing.T) {
	model := &fakeModel{
		response: `{"listings": []}`,
		info: map[string]any{
			"PromptTokens":     10,
			"CompletionTokens": 5,
		},
	}
	client := testClient(model, 2400)

	result, err := client.Extract(context.Background(), "shop to let Onitsha", ExtractOptions{})
	require.NoError(t, err)
	assert.Equal(t, 15, result.TotalTokens)
}
