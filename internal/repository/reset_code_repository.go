package repository

import (
	"context"
	"errors"
	"time"

	"github.com/vendaflow/broker-auth-service/internal/domain"
	"github.com/vendaflow/broker-auth-service/internal/observability"

	"gorm.io/gorm"
)

var ErrResetCodeNotFound = errors.New("reset code not found")

type ResetCodeRepository interface {
	Create(c *domain.PasswordResetCode) error
	FindValid(email, code string, now time.Time) (*domain.PasswordResetCode, error)
	MarkUsed(id uint) error
	InvalidateByEmail(email string) (int64, error)
	DeleteExpired(now time.Time) (int64, error)
}

type GormResetCodeRepository struct{ db *gorm.DB }

func NewResetCodeRepository(db *gorm.DB) ResetCodeRepository { return &GormResetCodeRepository{db: db} }

func (r *GormResetCodeRepository) Create(c *domain.PasswordResetCode) error {
	c.Email = NormalizeEmail(c.Email)
	err := r.db.Create(c).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "reset_code", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "reset_code", "create", "success")
	return nil
}

// FindValid returns the newest unused, unexpired code matching email+code.
// Preferring the most recent row makes duplicate codes resolve to the latest
// issuance.
func (r *GormResetCodeRepository) FindValid(email, code string, now time.Time) (*domain.PasswordResetCode, error) {
	var c domain.PasswordResetCode
	err := r.db.Where("email = ? AND code = ? AND used = ? AND expires_at > ?",
		NormalizeEmail(email), code, false, now).
		Order("created_at DESC").
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "reset_code", "find_valid", "not_found")
			return nil, ErrResetCodeNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "reset_code", "find_valid", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "reset_code", "find_valid", "success")
	return &c, nil
}

func (r *GormResetCodeRepository) MarkUsed(id uint) error {
	err := r.db.Model(&domain.PasswordResetCode{}).Where("id = ?", id).
		Update("used", true).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "reset_code", "mark_used", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "reset_code", "mark_used", "success")
	return nil
}

// InvalidateByEmail marks every unused code for the email as used. Called
// when a new code is issued and again when any code is redeemed, so at most
// one code per email is ever redeemable.
func (r *GormResetCodeRepository) InvalidateByEmail(email string) (int64, error) {
	res := r.db.Model(&domain.PasswordResetCode{}).
		Where("email = ? AND used = ?", NormalizeEmail(email), false).
		Update("used", true)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "reset_code", "invalidate_by_email", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "reset_code", "invalidate_by_email", "success")
	return res.RowsAffected, nil
}

func (r *GormResetCodeRepository) DeleteExpired(now time.Time) (int64, error) {
	res := r.db.Where("expires_at <= ?", now).Delete(&domain.PasswordResetCode{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "reset_code", "delete_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "reset_code", "delete_expired", "success")
	return res.RowsAffected, nil
}
