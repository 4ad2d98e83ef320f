package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "bare object",
			content: `{"signal": "bullish"}`,
			want:    `{"signal": "bullish"}`,
		},
		{
			name:    "object with prose around it",
			content: `Here is my analysis: {"signal": "bearish", "confidence": 70} hope that helps`,
			want:    `{"signal": "bearish", "confidence": 70}`,
		},
		{
			name:    "json fenced code block",
			content: "```json\n{\"signal\": \"neutral\"}\n```",
			want:    `{"signal": "neutral"}`,
		},
		{
			name:    "plain fenced code block",
			content: "```\n{\"a\": 1}\n```",
			want:    `{"a": 1}`,
		},
		{
			name:    "nested objects",
			content: `{"a": {"b": {"c": 1}}, "d": 2}`,
			want:    `{"a": {"b": {"c": 1}}, "d": 2}`,
		},
		{
			name:    "braces inside strings ignored",
			content: `{"reasoning": "watch the {open} brace", "ok": true}`,
			want:    `{"reasoning": "watch the {open} brace", "ok": true}`,
		},
		{
			name:    "escaped quote inside string",
			content: `{"reasoning": "he said \"buy {now}\"", "ok": true}`,
			want:    `{"reasoning": "he said \"buy {now}\"", "ok": true}`,
		},
		{
			name:    "no object",
			content: "I cannot answer that.",
			want:    "",
		},
		{
			name:    "unbalanced object",
			content: `{"a": 1`,
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.content))
		})
	}
}
