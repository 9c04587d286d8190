package intake

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasUsableText(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"plain text", "2 bed flat Surulere", true},
		{"padded text", "  available now  ", true},
		{"empty", "", false},
		{"ascii whitespace only", " \n\t\r ", false},
		{"unicode whitespace only", "\u00a0\u2003\u3000", false},
		{"text behind unicode padding", "\u00a0mini flat\u00a0", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &RawMessage{Text: tt.text}
			assert.Equal(t, tt.want, msg.HasUsableText())
		})
	}
}

func TestTokenUsage_Add(t *testing.T) {
	sum := TokenUsage{Prompt: 100, Completion: 40, Total: 140}.
		Add(TokenUsage{Prompt: 10, Completion: 5, Total: 15})
	assert.Equal(t, TokenUsage{Prompt: 110, Completion: 45, Total: 155}, sum)
}
