package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "bare object",
			in:   `{"intents": []}`,
			want: `{"intents": []}`,
		},
		{
			name: "bare object with whitespace",
			in:   "  \n{\"a\": 1}\n  ",
			want: `{"a": 1}`,
		},
		{
			name: "fenced block",
			in:   "Here you go:\n```json\n{\"a\": 1}\n```\nDone.",
			want: `{"a": 1}`,
		},
		{
			name: "fenced block without language tag",
			in:   "```\n{\"a\": 1}\n```",
			want: `{"a": 1}`,
		},
		{
			name: "balanced braces in prose",
			in:   `The result is {"a": {"b": 2}} as requested.`,
			want: `{"a": {"b": 2}}`,
		},
		{
			name: "braces inside string literals",
			in:   `prefix {"text": "a } inside"} suffix`,
			want: `{"text": "a } inside"}`,
		},
		{
			name: "no object",
			in:   "I could not determine any intents.",
			want: "",
		},
		{
			name: "unbalanced",
			in:   `{"a": 1`,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSONObject(tt.in))
		})
	}
}
