package internal

import (
	"strings"
	"testing"
)

func TestRandomStringAlphabet(t *testing.T) {
	const alphabet = "ab01"
	s, err := RandomString(64, alphabet)
	if err != nil {
		t.Fatalf("random string: %v", err)
	}
	if len(s) != 64 {
		t.Fatalf("expected 64 chars, got %d", len(s))
	}
	for _, r := range s {
		if !strings.ContainsRune(alphabet, r) {
			t.Fatalf("character %q outside alphabet", r)
		}
	}
}

func TestRandomStringRejectsBadInput(t *testing.T) {
	if _, err := RandomString(0, "ab"); err == nil {
		t.Fatal("expected error for zero length")
	}
	if _, err := RandomString(4, ""); err == nil {
		t.Fatal("expected error for empty alphabet")
	}
}

func TestRandomBytes(t *testing.T) {
	a, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("random bytes: %v", err)
	}
	b, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("random bytes: %v", err)
	}
	if len(a) != 32 || string(a) == string(b) {
		t.Fatal("expected two distinct 32 byte values")
	}
	if _, err := RandomBytes(0); err == nil {
		t.Fatal("expected error for zero size")
	}
}
