package repository

import (
	"context"
	"errors"
	"time"

	"github.com/aydintuna/sms-router/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PhoneMappingRepository is the Phone Identity Store port. Resolve sits on
// the hot path of every inbound webhook and must stay an indexed exact-match
// lookup.
type PhoneMappingRepository interface {
	Resolve(ctx context.Context, phone string) (string, error)
	Register(ctx context.Context, phone string, userID string) (*domain.PhoneMapping, error)
	Deactivate(ctx context.Context, phone string) error
	GetByPhone(ctx context.Context, phone string) (*domain.PhoneMapping, error)
}

type GormPhoneMappingRepo struct {
	db *gorm.DB
}

func NewGormPhoneMappingRepo(db *gorm.DB) *GormPhoneMappingRepo {
	return &GormPhoneMappingRepo{db: db}
}

// Resolve returns the user id for an active mapping. Deactivated mappings
// are treated identically to absent ones so lookups fail closed.
func (r *GormPhoneMappingRepo) Resolve(ctx context.Context, phone string) (string, error) {
	var model PhoneMappingModel
	err := r.db.WithContext(ctx).
		Select("user_id").
		Where("phone_number = ? AND status = ?", phone, domain.MappingStatusActive).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return model.UserID, nil
}

// Register creates an active mapping. Registering a phone already actively
// mapped to the same user is an idempotent success; mapped to a different
// user it is a conflict; the prior mapping must be deactivated first.
func (r *GormPhoneMappingRepo) Register(ctx context.Context, phone string, userID string) (*domain.PhoneMapping, error) {
	var result *domain.PhoneMapping

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing PhoneMappingModel
		err := tx.
			Where("phone_number = ? AND status = ?", phone, domain.MappingStatusActive).
			First(&existing).Error
		if err == nil {
			if existing.UserID == userID {
				result = phoneMappingModelToDomain(&existing)
				return nil
			}
			return domain.ErrConflict
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		model := PhoneMappingModel{
			ID:          uuid.NewString(),
			PhoneNumber: phone,
			UserID:      userID,
			Status:      domain.MappingStatusActive,
			CreatedAt:   now,
			VerifiedAt:  &now,
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}

		result = phoneMappingModelToDomain(&model)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Deactivate soft-deactivates the active mapping for a phone. Mappings are
// never physically deleted so the audit trail survives reassignment.
func (r *GormPhoneMappingRepo) Deactivate(ctx context.Context, phone string) error {
	result := r.db.WithContext(ctx).
		Model(&PhoneMappingModel{}).
		Where("phone_number = ? AND status = ?", phone, domain.MappingStatusActive).
		Update("status", domain.MappingStatusInactive)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormPhoneMappingRepo) GetByPhone(ctx context.Context, phone string) (*domain.PhoneMapping, error) {
	var model PhoneMappingModel
	err := r.db.WithContext(ctx).
		Where("phone_number = ?", phone).
		Order("created_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return phoneMappingModelToDomain(&model), nil
}
