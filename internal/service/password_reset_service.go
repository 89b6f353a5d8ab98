package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/vendaflow/broker-auth-service/internal/domain"
	"github.com/vendaflow/broker-auth-service/internal/observability"
	"github.com/vendaflow/broker-auth-service/internal/repository"
	"github.com/vendaflow/broker-auth-service/internal/security"
)

type PasswordResetService struct {
	brokers repository.BrokerRepository
	codes   repository.ResetCodeRepository
	hasher  *security.PasswordHasher
	channel NotificationChannel
	codeTTL time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

func NewPasswordResetService(
	brokers repository.BrokerRepository,
	codes repository.ResetCodeRepository,
	hasher *security.PasswordHasher,
	channel NotificationChannel,
	codeTTL time.Duration,
	logger *slog.Logger,
) *PasswordResetService {
	return &PasswordResetService{
		brokers: brokers,
		codes:   codes,
		hasher:  hasher,
		channel: channel,
		codeTTL: codeTTL,
		logger:  logger,
		now:     time.Now,
	}
}

// RequestReset silently succeeds for unknown addresses so the endpoint
// cannot be used to enumerate accounts. When the broker exists, any code
// previously issued for the email stops being redeemable before the new one
// is stored.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) error {
	broker, err := s.brokers.FindByEmail(email)
	if err != nil {
		if errors.Is(err, repository.ErrBrokerNotFound) {
			observability.RecordPasswordResetRequest(ctx, "unknown_email")
			return nil
		}
		observability.RecordPasswordResetRequest(ctx, "error")
		return err
	}

	code, err := newResetCode()
	if err != nil {
		observability.RecordPasswordResetRequest(ctx, "error")
		return err
	}
	if _, err := s.codes.InvalidateByEmail(broker.Email); err != nil {
		observability.RecordPasswordResetRequest(ctx, "error")
		return err
	}
	now := s.now()
	if err := s.codes.Create(&domain.PasswordResetCode{
		BrokerID:  broker.ID,
		Email:     broker.Email,
		Code:      code,
		ExpiresAt: now.Add(s.codeTTL),
	}); err != nil {
		observability.RecordPasswordResetRequest(ctx, "error")
		return err
	}

	// best-effort delivery; a broken channel must look exactly like success
	delivered := s.channel.Notify(ctx, "Password reset",
		fmt.Sprintf("Your password reset code is %s. It expires in %d minutes.", code, int(s.codeTTL.Minutes())))
	if !delivered {
		s.logger.Warn("reset code delivery failed", "broker_id", broker.ID)
	}
	observability.RecordPasswordResetRequest(ctx, "issued")
	return nil
}

// RedeemReset consumes a valid code: the broker's password is replaced, the
// code is marked used, and every other outstanding code for the email is
// invalidated so an older leaked code cannot be replayed afterwards.
// Existing sessions are left alone.
func (s *PasswordResetService) RedeemReset(ctx context.Context, email, code, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		observability.RecordPasswordResetRedemption(ctx, "invalid_input")
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	resetCode, err := s.codes.FindValid(email, code, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrResetCodeNotFound) {
			observability.RecordPasswordResetRedemption(ctx, "invalid_or_expired")
			return ErrResetCodeInvalid
		}
		observability.RecordPasswordResetRedemption(ctx, "error")
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		observability.RecordPasswordResetRedemption(ctx, "error")
		return err
	}
	if err := s.brokers.UpdatePassword(resetCode.BrokerID, hash); err != nil {
		observability.RecordPasswordResetRedemption(ctx, "error")
		return err
	}
	if err := s.codes.MarkUsed(resetCode.ID); err != nil {
		observability.RecordPasswordResetRedemption(ctx, "error")
		return err
	}
	if _, err := s.codes.InvalidateByEmail(resetCode.Email); err != nil {
		observability.RecordPasswordResetRedemption(ctx, "error")
		return err
	}
	observability.RecordPasswordResetRedemption(ctx, "success")
	return nil
}

// newResetCode draws a uniform 6-digit code; leading zeros are valid.
func newResetCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generate reset code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
