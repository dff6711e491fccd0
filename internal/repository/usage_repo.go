package repository

import (
	"context"
	"errors"
	"time"

	"github.com/aydintuna/sms-router/internal/domain"
	"gorm.io/gorm"
)

// StatusCount is one row of a grouped usage rollup.
type StatusCount struct {
	Direction domain.Direction   `gorm:"column:direction"`
	Status    domain.FinalStatus `gorm:"column:final_status"`
	Count     int64              `gorm:"column:count"`
}

// SummaryParams scopes an analytics rollup. A nil UserID means system-wide.
type SummaryParams struct {
	UserID *string
	From   *time.Time
	To     *time.Time
}

// UsageLogRepository owns all usage log mutation. The usage log is the sole
// coordination point of the retry pipeline: every mutation is an atomic
// conditional update keyed on the current status, never read-modify-write.
type UsageLogRepository interface {
	Create(ctx context.Context, e *domain.UsageLogEntry) error
	GetByID(ctx context.Context, id string) (*domain.UsageLogEntry, error)
	GetInboundByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.UsageLogEntry, error)
	GetDueForRetry(ctx context.Context, limit int, staleClaimBefore time.Time) ([]domain.UsageLogEntry, error)
	ClaimForRetry(ctx context.Context, id string, staleClaimBefore time.Time) (bool, error)
	MarkSent(ctx context.Context, id string, providerMessageID string) error
	MarkFailed(ctx context.Context, id string, retryCount int, errorCode *int, errorMessage *string) error
	ScheduleRetry(ctx context.Context, id string, retryCount int, maxRetries int, nextRetryAt time.Time, errorCode *int, errorMessage *string) error
	ApplyDeliveryStatus(ctx context.Context, providerMessageID string, status domain.FinalStatus, deliveredAt *time.Time) (bool, error)
	CountsByStatus(ctx context.Context, params SummaryParams) ([]StatusCount, error)
}

type GormUsageLogRepo struct {
	db *gorm.DB
}

func NewGormUsageLogRepo(db *gorm.DB) *GormUsageLogRepo {
	return &GormUsageLogRepo{db: db}
}

func (r *GormUsageLogRepo) Create(ctx context.Context, e *domain.UsageLogEntry) error {
	model := usageLogModelFromDomain(e)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if e != nil {
		*e = *usageLogModelToDomain(model)
	}
	return nil
}

func (r *GormUsageLogRepo) GetByID(ctx context.Context, id string) (*domain.UsageLogEntry, error) {
	var model UsageLogModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return usageLogModelToDomain(&model), nil
}

func (r *GormUsageLogRepo) GetInboundByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.UsageLogEntry, error) {
	var model UsageLogModel
	err := r.db.WithContext(ctx).
		Where("provider_message_id = ? AND direction = ?", providerMessageID, domain.DirectionInbound).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return usageLogModelToDomain(&model), nil
}

// GetDueForRetry selects retry-eligible entries: PENDING_RETRY entries whose
// next_retry_at has passed, plus RETRYING entries whose claim went stale
// because an owner crashed mid-send.
func (r *GormUsageLogRepo) GetDueForRetry(ctx context.Context, limit int, staleClaimBefore time.Time) ([]domain.UsageLogEntry, error) {
	var models []UsageLogModel
	err := r.db.WithContext(ctx).
		Where("(final_status = ? AND next_retry_at <= ?) OR (final_status = ? AND updated_at < ?)",
			domain.StatusPendingRetry, time.Now().UTC(),
			domain.StatusRetrying, staleClaimBefore,
		).
		Order("next_retry_at ASC NULLS FIRST").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]domain.UsageLogEntry, 0, len(models))
	for i := range models {
		entries = append(entries, *usageLogModelToDomain(&models[i]))
	}

	return entries, nil
}

// ClaimForRetry moves an entry from PENDING_RETRY to RETRYING with a single
// conditional update. Exactly one of any number of concurrent claimants wins,
// which is what prevents double-delivery across scheduler passes. Stale
// RETRYING claims may be re-claimed after staleClaimBefore.
func (r *GormUsageLogRepo) ClaimForRetry(ctx context.Context, id string, staleClaimBefore time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&UsageLogModel{}).
		Where("id = ? AND (final_status = ? OR (final_status = ? AND updated_at < ?))",
			id, domain.StatusPendingRetry, domain.StatusRetrying, staleClaimBefore,
		).
		Updates(map[string]any{
			"final_status":  domain.StatusRetrying,
			"next_retry_at": nil,
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormUsageLogRepo) MarkSent(ctx context.Context, id string, providerMessageID string) error {
	updates := map[string]any{
		"final_status":  domain.StatusSent,
		"success":       true,
		"next_retry_at": nil,
	}
	if providerMessageID != "" {
		updates["provider_message_id"] = providerMessageID
	}

	result := r.db.WithContext(ctx).
		Model(&UsageLogModel{}).
		Where("id = ? AND final_status = ?", id, domain.StatusRetrying).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormUsageLogRepo) MarkFailed(ctx context.Context, id string, retryCount int, errorCode *int, errorMessage *string) error {
	result := r.db.WithContext(ctx).
		Model(&UsageLogModel{}).
		Where("id = ? AND final_status = ?", id, domain.StatusRetrying).
		Updates(map[string]any{
			"final_status":  domain.StatusFailed,
			"success":       false,
			"retry_count":   retryCount,
			"next_retry_at": nil,
			"error_code":    errorCode,
			"error_message": errorMessage,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormUsageLogRepo) ScheduleRetry(ctx context.Context, id string, retryCount int, maxRetries int, nextRetryAt time.Time, errorCode *int, errorMessage *string) error {
	result := r.db.WithContext(ctx).
		Model(&UsageLogModel{}).
		Where("id = ? AND final_status = ?", id, domain.StatusRetrying).
		Updates(map[string]any{
			"final_status":  domain.StatusPendingRetry,
			"retry_count":   retryCount,
			"max_retries":   maxRetries,
			"next_retry_at": nextRetryAt,
			"error_code":    errorCode,
			"error_message": errorMessage,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// ApplyDeliveryStatus records a delivery callback. The precedence guard in
// the WHERE clause makes the update commutative: a DELIVERED confirmation
// wins no matter when it arrives, and a late low-rank status never downgrades
// the entry. Returns false when no row matched (unknown id or outranked).
func (r *GormUsageLogRepo) ApplyDeliveryStatus(ctx context.Context, providerMessageID string, status domain.FinalStatus, deliveredAt *time.Time) (bool, error) {
	rankCase := `CASE final_status
		WHEN 'DELIVERED' THEN 5
		WHEN 'FAILED' THEN 4
		WHEN 'SENT' THEN 3
		WHEN 'RETRYING' THEN 2
		WHEN 'PENDING_RETRY' THEN 1
		ELSE 0 END`

	updates := map[string]any{
		"final_status":  status,
		"success":       status == domain.StatusDelivered || status == domain.StatusSent,
		"next_retry_at": nil,
	}
	if deliveredAt != nil {
		updates["delivered_at"] = *deliveredAt
	}

	result := r.db.WithContext(ctx).
		Model(&UsageLogModel{}).
		Where("provider_message_id = ? AND direction = ?", providerMessageID, domain.DirectionOutbound).
		Where(rankCase+" < ?", status.Precedence()).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormUsageLogRepo) CountsByStatus(ctx context.Context, params SummaryParams) ([]StatusCount, error) {
	query := r.db.WithContext(ctx).
		Model(&UsageLogModel{}).
		Select("direction, final_status, COUNT(*) as count")

	if params.UserID != nil {
		query = query.Where("user_id = ?", *params.UserID)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
	}

	var counts []StatusCount
	err := query.
		Group("direction, final_status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}
