package phone

import (
	"testing"

	"whatsapp-campaigns/internal/apperrors"
)

func TestCanonical(t *testing.T) {
	c := New("EC")
	tests := []struct {
		in   string
		want string
	}{
		{"0991234567", "+593991234567"},
		{"+593 99 123 4567", "+593991234567"},
		{"whatsapp:+593991234567", "+593991234567"},
		{"WhatsApp:+593991234567", "+593991234567"},
		{"00593991234567", "+593991234567"},
		{"+1 415 555 2671", "+14155552671"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := c.Canonical(tt.in)
			if err != nil {
				t.Fatalf("Canonical(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("Canonical(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCanonicalRejects(t *testing.T) {
	c := New("")
	for _, in := range []string{"", "abc", "12", "whatsapp:"} {
		if _, err := c.Canonical(in); !apperrors.IsValidation(err) {
			t.Fatalf("Canonical(%q): expected validation error, got %v", in, err)
		}
	}
}

func TestChannel(t *testing.T) {
	if got := Channel("+593991234567"); got != "whatsapp:+593991234567" {
		t.Fatalf("got %q", got)
	}
}
