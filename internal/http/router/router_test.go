package router

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vendaflow/broker-auth-service/internal/domain"
	"github.com/vendaflow/broker-auth-service/internal/health"
	"github.com/vendaflow/broker-auth-service/internal/http/handler"
	"github.com/vendaflow/broker-auth-service/internal/service"
)

type unhealthyChecker struct{}

func (unhealthyChecker) Check(ctx context.Context) health.CheckResult {
	return health.CheckResult{Name: "database", Healthy: false, Error: "db down"}
}

const stubToken = "stub-session-token"

type stubAuthService struct{}

func (stubAuthService) Register(ctx context.Context, in service.RegisterInput, device service.DeviceContext) (string, *service.BrokerSummary, error) {
	return stubToken, &service.BrokerSummary{ID: 1, Email: in.Email, Profile: in.Profile}, nil
}

func (stubAuthService) Login(ctx context.Context, email, password string, device service.DeviceContext) (string, *service.BrokerSummary, error) {
	if password != "correct-horse" {
		return "", nil, service.ErrInvalidCredentials
	}
	return stubToken, &service.BrokerSummary{ID: 1, Email: email}, nil
}

func (stubAuthService) Verify(ctx context.Context, token string) (*service.SessionIdentity, error) {
	if token != stubToken {
		return nil, nil
	}
	return &service.SessionIdentity{
		Session: &domain.Session{ID: 7, BrokerID: 1, Token: token},
		Broker:  &domain.Broker{ID: 1, Email: "broker@example.com", Profile: domain.ProfileSeller, IsActive: true},
	}, nil
}

func (s stubAuthService) VerifyFromDevice(ctx context.Context, token, ip string) (*service.SessionIdentity, error) {
	return s.Verify(ctx, token)
}

func (stubAuthService) Logout(ctx context.Context, token string) error { return nil }

func (stubAuthService) ListSessions(ctx context.Context, callerToken string) ([]service.SessionView, error) {
	if callerToken != stubToken {
		return nil, service.ErrUnauthenticated
	}
	return []service.SessionView{{ID: 7, DeviceName: "iPhone", IsCurrent: true}}, nil
}

func (stubAuthService) RevokeSession(ctx context.Context, callerToken string, sessionID uint) error {
	if callerToken != stubToken {
		return service.ErrUnauthenticated
	}
	if sessionID != 7 {
		return service.ErrSessionNotFound
	}
	return nil
}

type stubResetService struct{}

func (stubResetService) RequestReset(ctx context.Context, email string) error { return nil }

func (stubResetService) RedeemReset(ctx context.Context, email, code, newPassword string) error {
	if code != "123456" {
		return service.ErrResetCodeInvalid
	}
	return nil
}

func newRouterTestDeps() Dependencies {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auth := stubAuthService{}
	return Dependencies{
		AuthHandler:                handler.NewAuthHandler(auth, stubResetService{}, nil, logger),
		SessionHandler:             handler.NewSessionHandler(auth, logger),
		AuthService:                auth,
		CORSOrigins:                []string{"http://localhost"},
		AuthRateLimitRPM:           1000,
		PasswordForgotRateLimitRPM: 1000,
		APIRateLimitRPM:            1000,
		EnableOTelHTTP:             false,
	}
}

func perform(r http.Handler, method, target string, headers map[string]string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "10.10.10.10:1234"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestRouterHealthReadyNilAndUnreadyBranches(t *testing.T) {
	t.Run("nil readiness returns ready", func(t *testing.T) {
		dep := newRouterTestDeps()
		dep.Readiness = nil
		r := NewRouter(dep)

		rr := perform(r, http.MethodGet, "/health/ready", nil, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), `"status":"ready"`) {
			t.Fatalf("expected ready status payload, got %s", rr.Body.String())
		}
	})

	t.Run("unready dependency returns 503", func(t *testing.T) {
		dep := newRouterTestDeps()
		dep.Readiness = health.NewProbeRunner(time.Second, 0, unhealthyChecker{})
		r := NewRouter(dep)

		rr := perform(r, http.MethodGet, "/health/ready", nil, "")
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), `"code":"DEPENDENCY_UNREADY"`) {
			t.Fatalf("expected DEPENDENCY_UNREADY error envelope, got %s", rr.Body.String())
		}
	})
}

func TestRouterHealthLiveAlwaysOKWithDefaultLimiter(t *testing.T) {
	dep := newRouterTestDeps()
	r := NewRouter(dep)

	rr := perform(r, http.MethodGet, "/health/live", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Fatalf("expected health live payload, got %s", rr.Body.String())
	}
}

func TestRouterFallbackGlobalRateLimiterWhenCustomNil(t *testing.T) {
	dep := newRouterTestDeps()
	dep.APIRateLimitRPM = 1
	dep.GlobalRateLimiter = nil
	r := NewRouter(dep)

	first := perform(r, http.MethodGet, "/health/live", nil, "")
	if first.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", first.Code)
	}
	second := perform(r, http.MethodGet, "/health/live", nil, "")
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429 from fallback limiter, got %d", second.Code)
	}
}

func TestRouterProtectedRoutesRequireSession(t *testing.T) {
	dep := newRouterTestDeps()
	r := NewRouter(dep)

	cases := []struct {
		name   string
		method string
		path   string
	}{
		{"me", http.MethodGet, "/api/v1/me"},
		{"sessions", http.MethodGet, "/api/v1/me/sessions"},
		{"revoke", http.MethodDelete, "/api/v1/me/sessions/7"},
		{"logout", http.MethodPost, "/api/v1/auth/logout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := perform(r, tc.method, tc.path, nil, "")
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401 without bearer token, got %d body=%s", rr.Code, rr.Body.String())
			}
			var env map[string]any
			_ = json.NewDecoder(rr.Body).Decode(&env)
			errObj, _ := env["error"].(map[string]any)
			if code, _ := errObj["code"].(string); code != "UNAUTHORIZED" {
				t.Fatalf("expected UNAUTHORIZED error code, got %+v", errObj)
			}
		})
	}
}

func TestRouterAuthenticatedSessionFlow(t *testing.T) {
	dep := newRouterTestDeps()
	r := NewRouter(dep)
	authz := map[string]string{"Authorization": "Bearer " + stubToken}

	rr := perform(r, http.MethodGet, "/api/v1/me", authz, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from /me, got %d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "broker@example.com") {
		t.Fatalf("expected broker profile in payload, got %s", rr.Body.String())
	}

	rr = perform(r, http.MethodGet, "/api/v1/me/sessions", authz, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from session list, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"is_current":true`) {
		t.Fatalf("expected current session flagged, got %s", rr.Body.String())
	}

	rr = perform(r, http.MethodDelete, "/api/v1/me/sessions/7", authz, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from revoke, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = perform(r, http.MethodDelete, "/api/v1/me/sessions/9999", authz, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", rr.Code)
	}
}

func TestRouterLoginErrorCollapsesToGenericPayload(t *testing.T) {
	dep := newRouterTestDeps()
	r := NewRouter(dep)

	rr := perform(r, http.MethodPost, "/api/v1/auth/login", nil, `{"email":"b@example.com","password":"wrong"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"code":"INVALID_CREDENTIALS"`) {
		t.Fatalf("expected generic credential error, got %s", rr.Body.String())
	}
}
