package integration

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestRegisterLoginVerifyRoundTrip(t *testing.T) {
	ts := newAuthTestServer(t)
	defer ts.close()

	reg := registerBroker(t, ts, "roundtrip@example.com")
	if reg.Token == "" {
		t.Fatal("expected a session token from registration")
	}
	if reg.Broker.Profile != "seller" {
		t.Fatalf("unexpected profile %q", reg.Broker.Profile)
	}

	resp, env := doJSON(t, ts, http.MethodGet, "/api/v1/me", nil, reg.Token)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("me failed: status=%d error=%+v", resp.StatusCode, env.Error)
	}
	var me struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(env.Data, &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.Email != "roundtrip@example.com" {
		t.Fatalf("expected registered email, got %q", me.Email)
	}

	second := login(t, ts, "roundtrip@example.com", "Valid#Pass1234", "Mozilla/5.0 (iPhone)")
	if second.Token == reg.Token {
		t.Fatal("each login must mint a fresh token")
	}
}

func TestLoginGenericFailuresAndDisabledDistinct(t *testing.T) {
	ts := newAuthTestServer(t)
	defer ts.close()
	registerBroker(t, ts, "failures@example.com")

	resp, env := doJSON(t, ts, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": "ghost@example.com", "password": "whatever",
	}, "")
	if resp.StatusCode != http.StatusUnauthorized || env.Error == nil || env.Error.Code != "INVALID_CREDENTIALS" {
		t.Fatalf("unknown email: status=%d error=%+v", resp.StatusCode, env.Error)
	}
	unknownMsg := env.Error.Message

	resp, env = doJSON(t, ts, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": "failures@example.com", "password": "wrong-pass",
	}, "")
	if resp.StatusCode != http.StatusUnauthorized || env.Error == nil || env.Error.Code != "INVALID_CREDENTIALS" {
		t.Fatalf("bad password: status=%d error=%+v", resp.StatusCode, env.Error)
	}
	if env.Error.Message != unknownMsg {
		t.Fatalf("failure payloads must be indistinguishable: %q vs %q", unknownMsg, env.Error.Message)
	}
}

func TestFourthDeviceLoginEvictsOldestSeat(t *testing.T) {
	ts := newAuthTestServer(t)
	defer ts.close()
	reg := registerBroker(t, ts, "devices@example.com")

	agents := []string{"Mozilla/5.0 (iPhone)", "Mozilla/5.0 (Windows NT 10.0)", "Mozilla/5.0 (X11; Linux x86_64)"}
	tokens := []string{reg.Token}
	for _, ua := range agents {
		data := login(t, ts, "devices@example.com", "Valid#Pass1234", ua)
		tokens = append(tokens, data.Token)
	}

	// the registration device (default test user agent) was first in; it is
	// the least recently used of the four
	resp, _ := doJSON(t, ts, http.MethodGet, "/api/v1/me", nil, tokens[0])
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected evicted first token rejected, got %d", resp.StatusCode)
	}
	for _, token := range tokens[1:] {
		resp, _ := doJSON(t, ts, http.MethodGet, "/api/v1/me", nil, token)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected surviving token accepted, got %d", resp.StatusCode)
		}
	}

	resp, env := doJSON(t, ts, http.MethodGet, "/api/v1/me/sessions", nil, tokens[len(tokens)-1])
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list sessions: status=%d", resp.StatusCode)
	}
	var data struct {
		Sessions []struct {
			ID        uint `json:"id"`
			IsCurrent bool `json:"is_current"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(data.Sessions) != 3 {
		t.Fatalf("expected quota of 3 seats, got %d", len(data.Sessions))
	}
}

func TestLogoutInvalidatesTokenAndIsIdempotent(t *testing.T) {
	ts := newAuthTestServer(t)
	defer ts.close()
	reg := registerBroker(t, ts, "logout@example.com")

	resp, _ := doJSON(t, ts, http.MethodPost, "/api/v1/auth/logout", nil, reg.Token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout failed: %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, ts, http.MethodGet, "/api/v1/me", nil, reg.Token)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected token dead after logout, got %d", resp.StatusCode)
	}

	// the logout route sits behind session auth, so a dead token is a 401
	// rather than a silent success; a fresh session can still log out twice
	// at the service level, which the service tests cover
	resp, _ = doJSON(t, ts, http.MethodPost, "/api/v1/auth/logout", nil, reg.Token)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for dead token, got %d", resp.StatusCode)
	}
}
