package domain

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewAccessCode_Alphabet(t *testing.T) {
	if len(AccessCodeAlphabet) != 32 {
		t.Fatalf("alphabet has %d symbols", len(AccessCodeAlphabet))
	}
	for _, banned := range "IO01" {
		if strings.ContainsRune(AccessCodeAlphabet, banned) {
			t.Fatalf("alphabet contains ambiguous %q", banned)
		}
	}
	for i := 0; i < 200; i++ {
		code, err := NewAccessCode()
		if err != nil {
			t.Fatal(err)
		}
		if !IsAccessCode(code) {
			t.Fatalf("generated invalid code %q", code)
		}
	}
}

func TestNewAccessCode_ReaderFailure(t *testing.T) {
	if _, err := newAccessCode(bytes.NewReader(nil)); err == nil {
		t.Fatal("expected error from exhausted reader")
	}
}

func TestIsAccessCode(t *testing.T) {
	tests := map[string]bool{
		"ABC234":  true,
		"abc234":  false,
		"ABC23":   false,
		"ABC2345": false,
		"ABCI23":  false,
		"ABC0O1":  false,
	}
	for code, want := range tests {
		if got := IsAccessCode(code); got != want {
			t.Errorf("IsAccessCode(%q) = %v, want %v", code, got, want)
		}
	}
	if got := NormalizeAccessCode("  abc234 "); got != "ABC234" {
		t.Errorf("NormalizeAccessCode = %q", got)
	}
}
