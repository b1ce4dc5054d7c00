package util

import (
	"strings"
	"testing"
)

func TestGenerateRandomHexLength(t *testing.T) {
	for _, n := range []int{0, 1, 8, 16, 32} {
		got := GenerateRandomHex(n)
		if len(got) != n {
			t.Errorf("GenerateRandomHex(%d) returned %d chars", n, len(got))
		}
		for _, c := range got {
			if !strings.ContainsRune("0123456789abcdef", c) {
				t.Errorf("GenerateRandomHex(%d) produced non-hex char %q", n, c)
			}
		}
	}
}

func TestGenerateRandomHexNegativeLength(t *testing.T) {
	if got := GenerateRandomHex(-5); got != "" {
		t.Errorf("expected empty string for negative length, got %q", got)
	}
}

func TestGenerateLockToken(t *testing.T) {
	token := GenerateLockToken()
	if !strings.HasPrefix(token, "handler_") {
		t.Errorf("lock token missing prefix: %q", token)
	}
	if len(token) != len("handler_")+16 {
		t.Errorf("unexpected token length: %q", token)
	}
	if GenerateLockToken() == token {
		t.Error("two lock tokens should not collide")
	}
}
