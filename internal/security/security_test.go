package security

import (
	"encoding/base64"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasherRoundTrip(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)
	hash, err := h.Hash("correct-horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "correct-horse" {
		t.Fatal("hash must not equal the password")
	}
	if !h.Verify(hash, "correct-horse") {
		t.Fatal("expected matching password to verify")
	}
	if h.Verify(hash, "wrong") {
		t.Fatal("expected mismatch to fail")
	}
}

func TestPasswordHasherClampsInvalidCost(t *testing.T) {
	h := NewPasswordHasher(99)
	hash, err := h.Hash("pw-ok")
	if err != nil {
		t.Fatalf("hash with clamped cost: %v", err)
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		t.Fatalf("read cost: %v", err)
	}
	if cost != bcrypt.DefaultCost {
		t.Fatalf("expected default cost %d, got %d", bcrypt.DefaultCost, cost)
	}
}

func TestNewSessionTokenIsOpaqueAndUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		token, err := NewSessionToken()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		raw, err := base64.RawURLEncoding.DecodeString(token)
		if err != nil {
			t.Fatalf("token is not url-safe base64: %v", err)
		}
		if len(raw) != sessionTokenBytes {
			t.Fatalf("expected %d random bytes, got %d", sessionTokenBytes, len(raw))
		}
		if seen[token] {
			t.Fatal("duplicate token generated")
		}
		seen[token] = true
	}
}

func TestDeviceFingerprintIsStableAndDistinct(t *testing.T) {
	a := DeviceFingerprint("Mozilla/5.0 (iPhone)", "192.0.2.1")
	b := DeviceFingerprint("Mozilla/5.0 (iPhone)", "192.0.2.1")
	if a != b {
		t.Fatal("same inputs must map to the same fingerprint")
	}
	if len(a) != 64 {
		t.Fatalf("expected sha256 hex, got len %d", len(a))
	}
	if a == DeviceFingerprint("Mozilla/5.0 (iPhone)", "192.0.2.2") {
		t.Fatal("different ip must change the fingerprint")
	}
	if a == DeviceFingerprint("Mozilla/5.0 (Android)", "192.0.2.1") {
		t.Fatal("different user agent must change the fingerprint")
	}
}

func TestDeviceName(t *testing.T) {
	cases := map[string]string{
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0)":  "iPhone",
		"Mozilla/5.0 (iPad; CPU OS 17_0)":           "iPad",
		"Mozilla/5.0 (Linux; Android 14; Pixel 8)":  "Android",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64)": "Windows",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X)":   "Mac",
		"Mozilla/5.0 (X11; Linux x86_64)":           "Linux",
		"":                                          "Unknown device",
		"curl/8.4.0":                                "curl/8.4.0",
	}
	for ua, want := range cases {
		if got := DeviceName(ua); got != want {
			t.Fatalf("DeviceName(%q)=%q want %q", ua, got, want)
		}
	}

	long := strings.Repeat("x", 64)
	if got := DeviceName(long); len(got) != 32 {
		t.Fatalf("expected long unknown agent truncated to 32, got len %d", len(got))
	}
}
