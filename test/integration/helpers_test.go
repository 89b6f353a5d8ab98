package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vendaflow/broker-auth-service/internal/domain"
	"github.com/vendaflow/broker-auth-service/internal/health"
	"github.com/vendaflow/broker-auth-service/internal/http/handler"
	"github.com/vendaflow/broker-auth-service/internal/http/router"
	"github.com/vendaflow/broker-auth-service/internal/repository"
	"github.com/vendaflow/broker-auth-service/internal/security"
	"github.com/vendaflow/broker-auth-service/internal/service"
)

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *errorPayload   `json:"error"`
}

// memoryChannel captures reset-code deliveries for assertions.
type memoryChannel struct {
	mu     sync.Mutex
	bodies []string
}

func (c *memoryChannel) Notify(ctx context.Context, title, body string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodies = append(c.bodies, body)
	return true
}

func (c *memoryChannel) lastBody(t *testing.T) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.bodies) == 0 {
		t.Fatal("no notification captured")
	}
	return c.bodies[len(c.bodies)-1]
}

type testServer struct {
	baseURL string
	client  *http.Client
	channel *memoryChannel
	close   func()
}

func newAuthTestServer(t *testing.T) *testServer {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Broker{}, &domain.Session{}, &domain.PasswordResetCode{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	lg := slog.New(slog.NewTextHandler(io.Discard, nil))
	brokers := repository.NewBrokerRepository(db)
	sessions := repository.NewSessionRepository(db)
	codes := repository.NewResetCodeRepository(db)
	hasher := security.NewPasswordHasher(bcrypt.MinCost)
	channel := &memoryChannel{}

	authSvc := service.NewAuthService(brokers, sessions, hasher, 30*24*time.Hour, 3, lg)
	resetSvc := service.NewPasswordResetService(brokers, codes, hasher, channel, 15*time.Minute, lg)

	mux := router.NewRouter(router.Dependencies{
		AuthHandler:                handler.NewAuthHandler(authSvc, resetSvc, nil, lg),
		SessionHandler:             handler.NewSessionHandler(authSvc, lg),
		AuthService:                authSvc,
		AuthRateLimitRPM:           10000,
		PasswordForgotRateLimitRPM: 10000,
		APIRateLimitRPM:            10000,
		Readiness:                  health.NewProbeRunner(time.Second, 0, health.DatabaseChecker{DB: db}),
	})

	srv := httptest.NewServer(mux)
	return &testServer{
		baseURL: srv.URL,
		client:  srv.Client(),
		channel: channel,
		close:   srv.Close,
	}
}

func doJSON(t *testing.T, ts *testServer, method, path string, body any, bearer string) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.baseURL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := ts.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && err != io.EOF {
		t.Fatalf("decode envelope for %s %s: %v", method, path, err)
	}
	return resp, env
}

type authData struct {
	Token  string `json:"token"`
	Broker struct {
		ID      uint   `json:"id"`
		Email   string `json:"email"`
		Profile string `json:"profile"`
	} `json:"broker"`
}

func registerBroker(t *testing.T, ts *testServer, email string) authData {
	t.Helper()
	resp, env := doJSON(t, ts, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"first_name": "Ana",
		"last_name":  "Souza",
		"email":      email,
		"password":   "Valid#Pass1234",
		"profile":    "seller",
	}, "")
	if resp.StatusCode != http.StatusCreated || !env.Success {
		t.Fatalf("register failed: status=%d success=%v error=%+v", resp.StatusCode, env.Success, env.Error)
	}
	var data authData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode register data: %v", err)
	}
	return data
}

func login(t *testing.T, ts *testServer, email, password, userAgent string) authData {
	t.Helper()
	raw, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req, err := http.NewRequest(http.MethodPost, ts.baseURL+"/api/v1/auth/login", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("build login: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := ts.client.Do(req)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode login envelope: %v", err)
	}
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("login failed: status=%d error=%+v", resp.StatusCode, env.Error)
	}
	var data authData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode login data: %v", err)
	}
	return data
}
