package auth

import (
	"encoding/base64"
	"testing"
)

func TestGenerateSecret_IsRandomAndURLSafe(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		s, err := GenerateSecret()
		if err != nil {
			t.Fatalf("GenerateSecret failed: %v", err)
		}
		raw, err := base64.RawURLEncoding.DecodeString(s)
		if err != nil {
			t.Fatalf("secret is not raw url base64: %v", err)
		}
		if len(raw) != SecretLength {
			t.Errorf("expected %d bytes, got %d", SecretLength, len(raw))
		}
		if seen[s] {
			t.Fatalf("duplicate secret generated")
		}
		seen[s] = true
	}
}

func TestDigest_IsDeterministic(t *testing.T) {
	if Digest("abc") != Digest("abc") {
		t.Error("digest should be deterministic")
	}
	if Digest("abc") == Digest("abd") {
		t.Error("different inputs should not share a digest")
	}
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := Digest("abc"); got != want {
		t.Errorf("Digest(abc) = %s, want %s", got, want)
	}
}
