package id

import (
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	id := Generate("req")

	// Check format
	if !strings.HasPrefix(id, "req-") {
		t.Errorf("expected ID to start with 'req-', got %s", id)
	}

	// Check uniqueness
	id2 := Generate("req")
	if id == id2 {
		t.Error("expected different IDs for consecutive calls")
	}
}

func TestGenerate_NoPrefix(t *testing.T) {
	id := Generate("")
	if len(id) != 36 {
		t.Errorf("expected bare UUID, got %s", id)
	}
}

func TestGenerate_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := Generate("scope")
		if seen[id] {
			t.Errorf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{Generate("req"), true},
		{Generate(""), true},
		{Generate("multi-part-prefix"), true},
		{"", false},
		{"req-123", false},
		{"../../etc/passwd", false},
		{"reqx" + Generate("")[0:36], false},
		{strings.Repeat("a", 200), false},
	}

	for _, tt := range tests {
		if got := Valid(tt.in); got != tt.want {
			t.Errorf("Valid(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
