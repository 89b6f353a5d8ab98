package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vendaflow/broker-auth-service/internal/domain"
	"github.com/vendaflow/broker-auth-service/internal/observability"
	"github.com/vendaflow/broker-auth-service/internal/repository"
	"github.com/vendaflow/broker-auth-service/internal/security"
)

const minPasswordLength = 6

// DeviceContext is the connection metadata a login arrives with. The
// fingerprint is a heuristic device key, not a security boundary.
type DeviceContext struct {
	Fingerprint string
	DeviceName  string
	IP          string
}

type RegisterInput struct {
	FirstName     string
	LastName      string
	Email         string
	Password      string
	Profile       string
	SellerCode    string
	BrokerageCode string
	BrokerageName string
}

// BrokerSummary is the public-safe projection of a broker. It never carries
// the password hash.
type BrokerSummary struct {
	ID            uint       `json:"id"`
	FirstName     string     `json:"first_name"`
	LastName      string     `json:"last_name"`
	Email         string     `json:"email"`
	Profile       string     `json:"profile"`
	SellerCode    string     `json:"seller_code,omitempty"`
	BrokerageCode string     `json:"brokerage_code,omitempty"`
	BrokerageName string     `json:"brokerage_name,omitempty"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
}

// SessionIdentity is what a verified token resolves to.
type SessionIdentity struct {
	Session *domain.Session
	Broker  *domain.Broker
}

type SessionView struct {
	ID         uint      `json:"id"`
	DeviceName string    `json:"device_name"`
	LastIP     string    `json:"last_ip"`
	LastUsedAt time.Time `json:"last_used_at"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	IsCurrent  bool      `json:"is_current"`
}

type AuthService struct {
	brokers    repository.BrokerRepository
	sessions   repository.SessionRepository
	hasher     *security.PasswordHasher
	sessionTTL time.Duration
	maxDevices int
	logger     *slog.Logger
	now        func() time.Time
}

func NewAuthService(
	brokers repository.BrokerRepository,
	sessions repository.SessionRepository,
	hasher *security.PasswordHasher,
	sessionTTL time.Duration,
	maxDevices int,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		brokers:    brokers,
		sessions:   sessions,
		hasher:     hasher,
		sessionTTL: sessionTTL,
		maxDevices: maxDevices,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput, device DeviceContext) (string, *BrokerSummary, error) {
	if err := validateRegisterInput(in); err != nil {
		observability.RecordAuthRegister("invalid_input")
		return "", nil, err
	}
	email := repository.NormalizeEmail(in.Email)

	if _, err := s.brokers.FindByEmail(email); err == nil {
		observability.RecordAuthRegister("email_taken")
		return "", nil, ErrEmailTaken
	} else if !errors.Is(err, repository.ErrBrokerNotFound) {
		observability.RecordAuthRegister("error")
		return "", nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		observability.RecordAuthRegister("error")
		return "", nil, err
	}
	broker := &domain.Broker{
		FirstName:     strings.TrimSpace(in.FirstName),
		LastName:      strings.TrimSpace(in.LastName),
		Email:         email,
		PasswordHash:  hash,
		Profile:       in.Profile,
		SellerCode:    optional(in.SellerCode),
		BrokerageCode: optional(in.BrokerageCode),
		BrokerageName: optional(in.BrokerageName),
		IsActive:      true,
	}
	if err := s.brokers.Create(broker); err != nil {
		// a concurrent registration can slip past the FindByEmail check and
		// lose the insert race on the unique index
		if errors.Is(err, repository.ErrDuplicateEmail) {
			observability.RecordAuthRegister("email_taken")
			return "", nil, ErrEmailTaken
		}
		observability.RecordAuthRegister("error")
		return "", nil, err
	}

	token, err := s.issueSession(ctx, broker, device)
	if err != nil {
		observability.RecordAuthRegister("error")
		return "", nil, err
	}
	observability.RecordAuthRegister("success")
	return token, Summarize(broker), nil
}

// Login keeps "unknown email" and "wrong password" distinct at this level;
// the HTTP boundary collapses them into one generic response.
func (s *AuthService) Login(ctx context.Context, email, password string, device DeviceContext) (string, *BrokerSummary, error) {
	broker, err := s.brokers.FindByEmail(email)
	if err != nil {
		if errors.Is(err, repository.ErrBrokerNotFound) {
			observability.RecordAuthLogin("unknown_email")
			return "", nil, ErrBrokerNotFound
		}
		observability.RecordAuthLogin("error")
		return "", nil, err
	}
	if !broker.IsActive {
		observability.RecordAuthLogin("disabled")
		return "", nil, ErrAccountDisabled
	}
	if !s.hasher.Verify(broker.PasswordHash, password) {
		observability.RecordAuthLogin("bad_password")
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.issueSession(ctx, broker, device)
	if err != nil {
		observability.RecordAuthLogin("error")
		return "", nil, err
	}
	observability.RecordAuthLogin("success")
	return token, Summarize(broker), nil
}

// issueSession creates the session row under the device quota and records
// the login time. The eviction decision lives in the session repository so
// it runs inside one transaction.
func (s *AuthService) issueSession(_ context.Context, broker *domain.Broker, device DeviceContext) (string, error) {
	token, err := security.NewSessionToken()
	if err != nil {
		return "", err
	}
	now := s.now()
	session := &domain.Session{
		BrokerID:          broker.ID,
		Token:             token,
		DeviceFingerprint: device.Fingerprint,
		DeviceName:        device.DeviceName,
		LastIP:            device.IP,
		LastUsedAt:        now,
		ExpiresAt:         now.Add(s.sessionTTL),
	}
	if err := s.sessions.ReplaceDeviceSession(session, s.maxDevices, now); err != nil {
		return "", err
	}
	if err := s.brokers.TouchLastLogin(broker.ID, now); err != nil {
		s.logger.Warn("touch last login failed", "broker_id", broker.ID, "error", err)
	}
	last := now
	broker.LastLoginAt = &last
	return token, nil
}

// Verify resolves a bearer token to its session and owning broker. An
// unknown, malformed, or expired token and a disabled owner all yield
// (nil, nil): absence, never an error, so callers degrade to a logged-out
// view. Errors are reserved for the persistence layer being unavailable.
func (s *AuthService) Verify(ctx context.Context, token string) (*SessionIdentity, error) {
	if token == "" {
		observability.RecordSessionVerification(ctx, "missing")
		return nil, nil
	}
	session, err := s.sessions.FindByToken(token)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			observability.RecordSessionVerification(ctx, "unknown")
			return nil, nil
		}
		observability.RecordSessionVerification(ctx, "error")
		return nil, err
	}
	if session.Expired(s.now()) {
		observability.RecordSessionVerification(ctx, "expired")
		return nil, nil
	}
	broker, err := s.brokers.FindByID(session.BrokerID)
	if err != nil {
		if errors.Is(err, repository.ErrBrokerNotFound) {
			observability.RecordSessionVerification(ctx, "orphaned")
			return nil, nil
		}
		observability.RecordSessionVerification(ctx, "error")
		return nil, err
	}
	if !broker.IsActive {
		observability.RecordSessionVerification(ctx, "disabled")
		return nil, nil
	}
	// best-effort touch; a failed write never invalidates the read
	if err := s.sessions.Touch(session.ID, session.LastIP, s.now()); err != nil {
		s.logger.Warn("session touch failed", "session_id", session.ID, "error", err)
	}
	observability.RecordSessionVerification(ctx, "valid")
	return &SessionIdentity{Session: session, Broker: broker}, nil
}

// VerifyFromDevice is Verify plus an IP refresh from the current connection.
func (s *AuthService) VerifyFromDevice(ctx context.Context, token, ip string) (*SessionIdentity, error) {
	identity, err := s.Verify(ctx, token)
	if err != nil || identity == nil {
		return identity, err
	}
	if ip != "" && ip != identity.Session.LastIP {
		if err := s.sessions.Touch(identity.Session.ID, ip, s.now()); err != nil {
			s.logger.Warn("session ip refresh failed", "session_id", identity.Session.ID, "error", err)
		} else {
			identity.Session.LastIP = ip
		}
	}
	return identity, nil
}

// Logout is idempotent: deleting a token that no longer exists is success.
func (s *AuthService) Logout(_ context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.sessions.DeleteByToken(token)
}

func (s *AuthService) ListSessions(ctx context.Context, callerToken string) ([]SessionView, error) {
	identity, err := s.Verify(ctx, callerToken)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, ErrUnauthenticated
	}
	sessions, err := s.sessions.ListActiveByBrokerID(identity.Broker.ID, s.now())
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, SessionView{
			ID:         session.ID,
			DeviceName: session.DeviceName,
			LastIP:     session.LastIP,
			LastUsedAt: session.LastUsedAt,
			CreatedAt:  session.CreatedAt,
			ExpiresAt:  session.ExpiresAt,
			IsCurrent:  session.Token == callerToken,
		})
	}
	return views, nil
}

// RevokeSession deletes one of the caller's own sessions. The ownership
// check is strict: a session id belonging to another broker reads as not
// found. Revoking the caller's current session is allowed and equivalent to
// logout for that seat.
func (s *AuthService) RevokeSession(ctx context.Context, callerToken string, sessionID uint) error {
	identity, err := s.Verify(ctx, callerToken)
	if err != nil {
		return err
	}
	if identity == nil {
		observability.RecordSessionRevocation(ctx, "unauthenticated")
		return ErrUnauthenticated
	}
	target, err := s.sessions.FindByIDForBroker(identity.Broker.ID, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			observability.RecordSessionRevocation(ctx, "not_found")
			return ErrSessionNotFound
		}
		observability.RecordSessionRevocation(ctx, "error")
		return err
	}
	if err := s.sessions.DeleteByID(target.ID); err != nil {
		observability.RecordSessionRevocation(ctx, "error")
		return err
	}
	observability.RecordSessionRevocation(ctx, "revoked")
	return nil
}

func validateRegisterInput(in RegisterInput) error {
	if strings.TrimSpace(in.FirstName) == "" {
		return fmt.Errorf("%w: first name is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.LastName) == "" {
		return fmt.Errorf("%w: last name is required", ErrInvalidInput)
	}
	email := repository.NormalizeEmail(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}
	if len(in.Password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	if !domain.ValidProfile(in.Profile) {
		return fmt.Errorf("%w: unknown profile %q", ErrInvalidInput, in.Profile)
	}
	return nil
}

// Summarize projects a broker into its public-safe shape.
func Summarize(b *domain.Broker) *BrokerSummary {
	return &BrokerSummary{
		ID:            b.ID,
		FirstName:     b.FirstName,
		LastName:      b.LastName,
		Email:         b.Email,
		Profile:       b.Profile,
		SellerCode:    deref(b.SellerCode),
		BrokerageCode: deref(b.BrokerageCode),
		BrokerageName: deref(b.BrokerageName),
		LastLoginAt:   b.LastLoginAt,
	}
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
