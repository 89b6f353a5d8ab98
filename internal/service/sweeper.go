package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/vendaflow/broker-auth-service/internal/observability"
	"github.com/vendaflow/broker-auth-service/internal/repository"
)

// Sweeper periodically deletes expired session and reset-code rows. It is a
// safety net independent of quota eviction: it bounds storage growth and
// eventually corrects any quota overshoot a crashed issuance left behind.
// Failures are logged and retried on the next tick, never fatal.
type Sweeper struct {
	sessions repository.SessionRepository
	codes    repository.ResetCodeRepository
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewSweeper(sessions repository.SessionRepository, codes repository.ResetCodeRepository, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		sessions: sessions,
		codes:    codes,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce deletes everything expired as of now and returns how many
// session rows went away.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	now := s.now()
	deleted, err := s.sessions.DeleteExpired(now)
	if err != nil {
		observability.RecordSweeperRun(ctx, "error", deleted)
		return deleted, err
	}
	codesDeleted, err := s.codes.DeleteExpired(now)
	if err != nil {
		observability.RecordSweeperRun(ctx, "error", deleted)
		return deleted, err
	}
	observability.RecordSweeperRun(ctx, "success", deleted)
	if deleted > 0 || codesDeleted > 0 {
		s.logger.Info("sweep completed", "sessions_deleted", deleted, "reset_codes_deleted", codesDeleted)
	}
	return deleted, nil
}
