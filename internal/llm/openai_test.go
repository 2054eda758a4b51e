package llm

import (
	"testing"
)

func TestNewOpenAIClient_RequiresKey(t *testing.T) {
	if _, err := NewOpenAIClient(Config{}, nil); err == nil {
		t.Error("expected an error without an API key")
	}
	if _, err := NewOpenAIClient(Config{APIKey: "sk-test"}, nil); err != nil {
		t.Errorf("unexpected error with a key: %v", err)
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare json", `{"a": 1}`, `{"a": 1}`},
		{"plain fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"json fence", "```json\n[\"x\"]\n```", `["x"]`},
		{"leading whitespace", "  \n```json\n{}\n```  ", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(stripFences(tt.in)); got != tt.want {
				t.Errorf("stripFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
