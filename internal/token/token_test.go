package token

import (
	"encoding/hex"
	"testing"
)

func TestHashDeterministic(t *testing.T) {
	inputs := []string{"", "a", "correct horse battery staple", "пароль", "日本語トークン"}
	for _, in := range inputs {
		first := Hash(in)
		second := Hash(in)
		if first != second {
			t.Fatalf("Hash(%q) not deterministic: %s vs %s", in, first, second)
		}
		if len(first) != 64 {
			t.Fatalf("Hash(%q) length = %d, want 64", in, len(first))
		}
		if _, err := hex.DecodeString(first); err != nil {
			t.Fatalf("Hash(%q) is not hex: %v", in, err)
		}
	}
	if Hash("a") == Hash("b") {
		t.Fatal("distinct inputs produced identical digests")
	}
}

func TestGenerateLengths(t *testing.T) {
	tok, err := Generate(SessionBytes)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(tok) != 128 {
		t.Fatalf("session token length = %d, want 128", len(tok))
	}
	tok, err = Generate(ResetBytes)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(tok) != 64 {
		t.Fatalf("reset token length = %d, want 64", len(tok))
	}
	if _, err := Generate(0); err == nil {
		t.Fatal("expected error for zero length")
	}
	if _, err := Generate(-8); err == nil {
		t.Fatal("expected error for negative length")
	}
}

func TestGenerateUnique(t *testing.T) {
	const n = 10000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		tok, err := Generate(ResetBytes)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate token after %d generations", i)
		}
		seen[tok] = struct{}{}
	}
}

func TestEqual(t *testing.T) {
	if !Equal("abc123", "abc123") {
		t.Fatal("identical strings compare unequal")
	}
	if Equal("abc123", "abc124") {
		t.Fatal("different strings compare equal")
	}
	if Equal("short", "longer-value") {
		t.Fatal("different lengths compare equal")
	}
}
