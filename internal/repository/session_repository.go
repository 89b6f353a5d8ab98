package repository

import (
	"context"
	"errors"
	"time"

	"github.com/vendaflow/broker-auth-service/internal/domain"
	"github.com/vendaflow/broker-auth-service/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRepository interface {
	Create(s *domain.Session) error
	FindByToken(token string) (*domain.Session, error)
	FindByIDForBroker(brokerID, sessionID uint) (*domain.Session, error)
	ListActiveByBrokerID(brokerID uint, now time.Time) ([]domain.Session, error)
	ReplaceDeviceSession(s *domain.Session, maxDevices int, now time.Time) error
	Touch(id uint, ip string, usedAt time.Time) error
	DeleteByID(id uint) error
	DeleteByToken(token string) error
	DeleteExpired(now time.Time) (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(s *domain.Session) error {
	err := r.db.Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindByToken(token string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.Where("token = ?", token).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "session", "find_by_token", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "session", "find_by_token", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "find_by_token", "success")
	return &s, nil
}

func (r *GormSessionRepository) FindByIDForBroker(brokerID, sessionID uint) (*domain.Session, error) {
	var s domain.Session
	err := r.db.Where("broker_id = ? AND id = ?", brokerID, sessionID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "session", "find_by_id_for_broker", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "session", "find_by_id_for_broker", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "find_by_id_for_broker", "success")
	return &s, nil
}

func (r *GormSessionRepository) ListActiveByBrokerID(brokerID uint, now time.Time) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.Where("broker_id = ? AND expires_at > ?", brokerID, now).
		Order("last_used_at DESC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "list_active_by_broker_id", "error")
		return sessions, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "list_active_by_broker_id", "success")
	return sessions, err
}

// ReplaceDeviceSession inserts s while holding the broker's device quota.
// Within one transaction it locks the broker row, deletes the row sharing
// s's fingerprint if there is one, then deletes stalest rows until a seat is
// free. Eviction loops so a login also shrinks any overshoot left behind by
// earlier writes back under the quota. The fingerprint check must run before
// the quota check: a re-login from a known device replaces its own seat and
// never evicts another device.
func (r *GormSessionRepository) ReplaceDeviceSession(s *domain.Session, maxDevices int, now time.Time) error {
	evicted := "none"
	err := r.db.Transaction(func(tx *gorm.DB) error {
		// the parent lock serializes issuance per broker; locking the session
		// rows alone cannot stop two concurrent logins with spare capacity
		// from both inserting. sqlite serializes writers on its own and
		// rejects FOR UPDATE.
		if tx.Dialector.Name() == "postgres" {
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Select("id").First(&domain.Broker{}, s.BrokerID).Error; err != nil {
				return err
			}
		}
		var active []domain.Session
		if err := tx.Where("broker_id = ? AND expires_at > ?", s.BrokerID, now).
			Order("last_used_at ASC").
			Find(&active).Error; err != nil {
			return err
		}
		for i := range active {
			if active[i].DeviceFingerprint == s.DeviceFingerprint {
				if err := tx.Delete(&domain.Session{}, active[i].ID).Error; err != nil {
					return err
				}
				evicted = "same_device"
				active = append(active[:i], active[i+1:]...)
				break
			}
		}
		// active is ordered last_used_at ASC; index 0 holds the stalest seat
		for len(active) >= maxDevices {
			if err := tx.Delete(&domain.Session{}, active[0].ID).Error; err != nil {
				return err
			}
			active = active[1:]
			evicted = "lru"
		}
		return tx.Create(s).Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "replace_device_session", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "replace_device_session", "success")
	observability.RecordSessionIssued(context.Background(), evicted)
	return nil
}

// Touch updates usage metadata only. ExpiresAt is deliberately untouched:
// verification never extends a session's validity window.
func (r *GormSessionRepository) Touch(id uint, ip string, usedAt time.Time) error {
	err := r.db.Model(&domain.Session{}).Where("id = ?", id).
		Updates(map[string]any{"last_used_at": usedAt, "last_ip": ip}).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "touch", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "touch", "success")
	return nil
}

func (r *GormSessionRepository) DeleteByID(id uint) error {
	err := r.db.Delete(&domain.Session{}, id).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "delete_by_id", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "delete_by_id", "success")
	return nil
}

func (r *GormSessionRepository) DeleteByToken(token string) error {
	err := r.db.Where("token = ?", token).Delete(&domain.Session{}).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "delete_by_token", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "delete_by_token", "success")
	return nil
}

func (r *GormSessionRepository) DeleteExpired(now time.Time) (int64, error) {
	res := r.db.Where("expires_at <= ?", now).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "delete_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "delete_expired", "success")
	return res.RowsAffected, nil
}
