package utils

import "testing"

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"a@x.com", true},
		{"  Bob.Smith@Example.org ", true},
		{"", false},
		{"bob", false},
		{"bob@localhost", false},
		{"bob@.com", false},
		{"bob@x.com.", false},
		{"a@b@x.com", false},
		{"Bob <bob@x.com>", false},
	}
	for _, tt := range tests {
		if got := IsValidEmail(tt.in); got != tt.want {
			t.Errorf("IsValidEmail(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCollapseSpaces(t *testing.T) {
	if got := CollapseSpaces("  Japan \t Trip\n2026 "); got != "Japan Trip 2026" {
		t.Fatalf("got %q", got)
	}
}
