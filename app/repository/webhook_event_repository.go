package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/BillingSync/app/models"
	"github.com/ManuelReschke/BillingSync/internal/pkg/database"
)

type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates the ledger repository backed by GORM.
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

// CreateIfNotExists is a single INSERT .. ON CONFLICT DO NOTHING on event_id. The unique index,
// not an application check, decides which of two concurrent deliveries wins.
func (r *webhookEventRepository) CreateIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	tx := database.Conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *webhookEventRepository) GetByEventID(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	var e models.WebhookEvent
	if err := database.Conn(ctx, r.db).Where("event_id = ?", eventID).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *webhookEventRepository) UpdateStatus(ctx context.Context, eventID string, status models.WebhookEventStatus, errMsg *string) error {
	updates := map[string]interface{}{
		"status":        status,
		"error_message": errMsg,
		"updated_at":    time.Now(),
	}
	if status.CountsAsFailure() {
		updates["retry_count"] = gorm.Expr("retry_count + 1")
	}
	if status == models.WebhookEventStatusProcessed {
		updates["processed_at"] = time.Now()
	}

	tx := database.Conn(ctx, r.db).Model(&models.WebhookEvent{}).Where("event_id = ?", eventID).Updates(updates)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return r.ensureExists(ctx, eventID)
	}
	return nil
}

// Claim moves the event to processing if it is in one of from, or has sat in processing since
// before staleProcessingBefore. It is a single conditional UPDATE: of two workers racing for
// the same event, exactly one gets true.
func (r *webhookEventRepository) Claim(ctx context.Context, eventID string, from []models.WebhookEventStatus, staleProcessingBefore time.Time) (bool, error) {
	tx := database.Conn(ctx, r.db).Model(&models.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Where("(status IN ? OR (status = ? AND updated_at < ?))", from, models.WebhookEventStatusProcessing, staleProcessingBefore).
		Updates(map[string]interface{}{
			"status":     models.WebhookEventStatusProcessing,
			"updated_at": time.Now(),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *webhookEventRepository) ResetForReplay(ctx context.Context, eventID string) error {
	tx := database.Conn(ctx, r.db).Model(&models.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"status":        models.WebhookEventStatusQueued,
			"error_message": nil,
			"processed_at":  nil,
			"updated_at":    time.Now(),
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return r.ensureExists(ctx, eventID)
	}
	return nil
}

// ensureExists distinguishes a missing row from an update that changed nothing (MySQL reports
// changed rows, not matched rows).
func (r *webhookEventRepository) ensureExists(ctx context.Context, eventID string) error {
	var count int64
	if err := database.Conn(ctx, r.db).Model(&models.WebhookEvent{}).Where("event_id = ?", eventID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *webhookEventRepository) ListByStatus(ctx context.Context, status models.WebhookEventStatus, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	q := database.Conn(ctx, r.db).Order("updated_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&events).Error
	return events, err
}

func (r *webhookEventRepository) ListStale(ctx context.Context, statuses []models.WebhookEventStatus, updatedBefore time.Time, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	q := database.Conn(ctx, r.db).
		Where("status IN ? AND updated_at < ?", statuses, updatedBefore).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&events).Error
	return events, err
}

func (r *webhookEventRepository) CountByStatus(ctx context.Context) (map[models.WebhookEventStatus]int64, error) {
	var rows []struct {
		Status models.WebhookEventStatus
		Count  int64
	}
	err := database.Conn(ctx, r.db).Model(&models.WebhookEvent{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	result := make(map[models.WebhookEventStatus]int64, len(rows))
	for _, row := range rows {
		result[row.Status] = row.Count
	}
	return result, nil
}
