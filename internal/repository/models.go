package repository

import (
	"time"

	"github.com/aydintuna/sms-router/internal/domain"
)

// PhoneMappingModel is the persistence model for the phone_mappings table.
type PhoneMappingModel struct {
	ID          string               `gorm:"type:uuid;primaryKey"`
	PhoneNumber string               `gorm:"type:varchar(20);not null"`
	UserID      string               `gorm:"type:uuid;not null"`
	Status      domain.MappingStatus `gorm:"type:varchar(10);not null"`
	CreatedAt   time.Time
	VerifiedAt  *time.Time
}

func (PhoneMappingModel) TableName() string {
	return "phone_mappings"
}

// UsageLogModel is the persistence model for the usage_log_entries table.
type UsageLogModel struct {
	ID                string             `gorm:"type:uuid;primaryKey"`
	UserID            *string            `gorm:"type:uuid"`
	PhoneNumber       string             `gorm:"type:varchar(20);not null"`
	Direction         domain.Direction   `gorm:"type:varchar(10);not null"`
	Content           string             `gorm:"type:text;not null"`
	Success           bool               `gorm:"not null;default:false"`
	DurationMs        int64              `gorm:"not null;default:0"`
	ErrorCode         *int               `gorm:"type:int"`
	ErrorMessage      *string            `gorm:"type:text"`
	RetryCount        int                `gorm:"not null;default:0"`
	MaxRetries        int                `gorm:"not null;default:0"`
	NextRetryAt       *time.Time
	FinalStatus       domain.FinalStatus `gorm:"type:varchar(20);not null"`
	ProviderMessageID *string            `gorm:"type:varchar(64)"`
	DeliveredAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (UsageLogModel) TableName() string {
	return "usage_log_entries"
}

func phoneMappingModelFromDomain(m *domain.PhoneMapping) *PhoneMappingModel {
	if m == nil {
		return nil
	}

	return &PhoneMappingModel{
		ID:          m.ID,
		PhoneNumber: m.PhoneNumber,
		UserID:      m.UserID,
		Status:      m.Status,
		CreatedAt:   m.CreatedAt,
		VerifiedAt:  m.VerifiedAt,
	}
}

func phoneMappingModelToDomain(m *PhoneMappingModel) *domain.PhoneMapping {
	if m == nil {
		return nil
	}

	return &domain.PhoneMapping{
		ID:          m.ID,
		PhoneNumber: m.PhoneNumber,
		UserID:      m.UserID,
		Status:      m.Status,
		CreatedAt:   m.CreatedAt,
		VerifiedAt:  m.VerifiedAt,
	}
}

func usageLogModelFromDomain(e *domain.UsageLogEntry) *UsageLogModel {
	if e == nil {
		return nil
	}

	return &UsageLogModel{
		ID:                e.ID,
		UserID:            e.UserID,
		PhoneNumber:       e.PhoneNumber,
		Direction:         e.Direction,
		Content:           e.Content,
		Success:           e.Success,
		DurationMs:        e.DurationMs,
		ErrorCode:         e.ErrorCode,
		ErrorMessage:      e.ErrorMessage,
		RetryCount:        e.RetryCount,
		MaxRetries:        e.MaxRetries,
		NextRetryAt:       e.NextRetryAt,
		FinalStatus:       e.FinalStatus,
		ProviderMessageID: e.ProviderMessageID,
		DeliveredAt:       e.DeliveredAt,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}

func usageLogModelToDomain(m *UsageLogModel) *domain.UsageLogEntry {
	if m == nil {
		return nil
	}

	return &domain.UsageLogEntry{
		ID:                m.ID,
		UserID:            m.UserID,
		PhoneNumber:       m.PhoneNumber,
		Direction:         m.Direction,
		Content:           m.Content,
		Success:           m.Success,
		DurationMs:        m.DurationMs,
		ErrorCode:         m.ErrorCode,
		ErrorMessage:      m.ErrorMessage,
		RetryCount:        m.RetryCount,
		MaxRetries:        m.MaxRetries,
		NextRetryAt:       m.NextRetryAt,
		FinalStatus:       m.FinalStatus,
		ProviderMessageID: m.ProviderMessageID,
		DeliveredAt:       m.DeliveredAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}
