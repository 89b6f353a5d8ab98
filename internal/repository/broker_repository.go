package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/vendaflow/broker-auth-service/internal/domain"
	"github.com/vendaflow/broker-auth-service/internal/observability"

	"gorm.io/gorm"
)

var (
	ErrBrokerNotFound = errors.New("broker not found")
	ErrDuplicateEmail = errors.New("email already exists")
)

type BrokerRepository interface {
	Create(b *domain.Broker) error
	FindByEmail(email string) (*domain.Broker, error)
	FindByID(id uint) (*domain.Broker, error)
	UpdatePassword(id uint, hash string) error
	SetActive(id uint, active bool) error
	TouchLastLogin(id uint, at time.Time) error
}

type GormBrokerRepository struct{ db *gorm.DB }

func NewBrokerRepository(db *gorm.DB) BrokerRepository { return &GormBrokerRepository{db: db} }

func (r *GormBrokerRepository) Create(b *domain.Broker) error {
	b.Email = NormalizeEmail(b.Email)
	err := r.db.Create(b).Error
	if err != nil {
		if isDuplicateKey(err) {
			observability.RecordRepositoryOperation(context.Background(), "broker", "create", "duplicate")
			return ErrDuplicateEmail
		}
		observability.RecordRepositoryOperation(context.Background(), "broker", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "broker", "create", "success")
	return nil
}

// isDuplicateKey matches the unique-index violation across drivers; the
// string checks cover connections opened without gorm's error translation.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

func (r *GormBrokerRepository) FindByEmail(email string) (*domain.Broker, error) {
	var b domain.Broker
	err := r.db.Where("email = ?", NormalizeEmail(email)).First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "broker", "find_by_email", "not_found")
			return nil, ErrBrokerNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "broker", "find_by_email", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "broker", "find_by_email", "success")
	return &b, nil
}

func (r *GormBrokerRepository) FindByID(id uint) (*domain.Broker, error) {
	var b domain.Broker
	err := r.db.First(&b, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "broker", "find_by_id", "not_found")
			return nil, ErrBrokerNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "broker", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "broker", "find_by_id", "success")
	return &b, nil
}

func (r *GormBrokerRepository) UpdatePassword(id uint, hash string) error {
	err := r.db.Model(&domain.Broker{}).Where("id = ?", id).
		Update("password_hash", hash).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "broker", "update_password", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "broker", "update_password", "success")
	return nil
}

func (r *GormBrokerRepository) SetActive(id uint, active bool) error {
	err := r.db.Model(&domain.Broker{}).Where("id = ?", id).
		Update("is_active", active).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "broker", "set_active", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "broker", "set_active", "success")
	return nil
}

func (r *GormBrokerRepository) TouchLastLogin(id uint, at time.Time) error {
	err := r.db.Model(&domain.Broker{}).Where("id = ?", id).
		Update("last_login_at", at).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "broker", "touch_last_login", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "broker", "touch_last_login", "success")
	return nil
}

// NormalizeEmail lowercases and trims an address. Uniqueness is enforced on
// the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
