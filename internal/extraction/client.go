package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"homefeed/internal/config"
	"homefeed/internal/constants"
	"homefeed/internal/logger"
	"homefeed/pkg/errors"
	"homefeed/pkg/metrics"
	"homefeed/pkg/tracing"
)

const systemPrompt = `You extract structured property listings from Nigerian real-estate WhatsApp messages.
Respond with a JSON object of the form {"listings": [...]}. Each listing has:
title, description, property {type, bedrooms, bathrooms, toilets, furnished, serviced, newly_built, features},
address {area, city, state, raw}, deal {category, price {amount, currency, period, negotiable}, availability},
contact {phone, name, whatsapp}, confidence (0..1), assumptions (array of strings).
Every field must be present; use null for anything the message does not state.
Prices are numbers without separators ("1.2m" means 1200000). Currency is usually NGN.
deal.category is one of rent, sale, shortlet, land, or the seller's own wording.
A message with no property listing yields {"listings": []}.
Extract at most %d listings.`

// Extractor is what the worker depends on; the concrete client and its
// circuit-breaker wrapper both satisfy it.
type Extractor interface {
	Extract(ctx context.Context, text string, opts ExtractOptions) (*Result, error)
}

type ExtractOptions struct {
	MessageID   string
	MaxListings int
}

// Client calls a chat-completion model in JSON mode and coerces the output.
// The client itself never retries; retry policy belongs to the worker's
// state machine.
type Client struct {
	model         llms.Model
	modelName     string
	maxInputChars int
	maxListings   int
	timeout       time.Duration
	logger        logger.Logger
}

func NewClient(cfg config.ExtractionConfig, log logger.Logger) (*Client, error) {
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build extraction model client: %w", err)
	}
	return newClientWithModel(llm, cfg, log), nil
}

func newClientWithModel(model llms.Model, cfg config.ExtractionConfig, log logger.Logger) *Client {
	maxChars := cfg.MaxInputChars
	if maxChars <= 0 {
		maxChars = constants.DefaultMaxInputChars
	}
	maxListings := cfg.MaxListings
	if maxListings <= 0 {
		maxListings = constants.DefaultMaxListings
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = constants.DefaultExtractTimeout
	}
	return &Client{
		model:         model,
		modelName:     cfg.Model,
		maxInputChars: maxChars,
		maxListings:   maxListings,
		timeout:       timeout,
		logger:        log,
	}
}

// Extract sends one message's text to the model and returns coerced
// candidates. Empty or non-JSON model output is a hard extraction error.
func (c *Client) Extract(ctx context.Context, text string, opts ExtractOptions) (*Result, error) {
	ctx, span := tracing.GetTracer("intake-service").Start(ctx, "extraction.extract")
	defer span.End()

	input, truncated := c.prepareInput(text)
	if input == "" {
		return nil, errors.ErrValidation.WithDetail("reason", "no text to extract from")
	}

	maxListings := opts.MaxListings
	if maxListings <= 0 || maxListings > c.maxListings {
		maxListings = c.maxListings
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.model.GenerateContent(callCtx,
		[]llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, fmt.Sprintf(systemPrompt, maxListings)),
			llms.TextParts(llms.ChatMessageTypeHuman, input),
		},
		llms.WithTemperature(0),
		llms.WithJSONMode(),
	)
	duration := time.Since(start)
	if err != nil {
		metrics.ExtractionRequestsTotal.WithLabelValues("error").Inc()
		metrics.ObserveExtractionDuration(duration, "error")
		return nil, errors.ErrExtraction.WithCause(err).WithDetail("message_id", opts.MessageID)
	}
	if len(resp.Choices) == 0 {
		metrics.ExtractionRequestsTotal.WithLabelValues("error").Inc()
		metrics.ObserveExtractionDuration(duration, "error")
		return nil, errors.ErrExtraction.WithDetail("reason", "model returned no choices")
	}

	choice := resp.Choices[0]
	listings, err := decodeListings(choice.Content, maxListings)
	if err != nil {
		metrics.ExtractionRequestsTotal.WithLabelValues("invalid").Inc()
		metrics.ObserveExtractionDuration(duration, "invalid")
		return nil, err
	}

	result := &Result{
		Listings:  listings,
		Truncated: truncated,
	}
	result.PromptTokens = generationInfoInt(choice.GenerationInfo, "PromptTokens")
	result.CompletionTokens = generationInfoInt(choice.GenerationInfo, "CompletionTokens")
	result.TotalTokens = generationInfoInt(choice.GenerationInfo, "TotalTokens")
	if result.TotalTokens == 0 {
		result.TotalTokens = result.PromptTokens + result.CompletionTokens
	}

	metrics.ExtractionRequestsTotal.WithLabelValues("ok").Inc()
	metrics.ObserveExtractionDuration(duration, "ok")
	metrics.AddExtractionTokens(result.PromptTokens, result.CompletionTokens)
	if truncated {
		metrics.ExtractionTruncatedTotal.Inc()
	}

	c.logger.DebugwCtx(ctx, "Extraction completed",
		"message_id", opts.MessageID,
		"model", c.modelName,
		"listings", len(result.Listings),
		"total_tokens", result.TotalTokens,
		"truncated", truncated,
	)
	return result, nil
}

// prepareInput trims whitespace and hard-truncates to the configured budget.
// Truncation is on runes so a multi-byte character is never split.
func (c *Client) prepareInput(text string) (string, bool) {
	input := strings.TrimSpace(text)
	runes := []rune(input)
	if len(runes) <= c.maxInputChars {
		return input, false
	}
	return string(runes[:c.maxInputChars]), true
}

func generationInfoInt(info map[string]any, key string) int {
	if info == nil {
		return 0
	}
	switch v := info[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
