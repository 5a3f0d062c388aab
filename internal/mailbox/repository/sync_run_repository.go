package repository

import (
	"context"
	"errors"
	"time"

	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type gormSyncRunRepository struct {
	db *gorm.DB
}

func NewSyncRunRepository(db *gorm.DB) SyncRunRepository {
	return &gormSyncRunRepository{db: db}
}

func (r *gormSyncRunRepository) Create(ctx context.Context, run *domain.SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.Status = domain.SyncStatusRunning
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *gormSyncRunRepository) Finish(ctx context.Context, run *domain.SyncRun) (bool, error) {
	if !run.Finished() {
		return false, errors.New("finish requires a terminal status")
	}
	if run.FinishedAt == nil {
		now := time.Now()
		run.FinishedAt = &now
	}

	result := r.db.WithContext(ctx).Model(&domain.SyncRun{}).
		Where("id = ? AND status = ?", run.ID, domain.SyncStatusRunning).
		Updates(map[string]interface{}{
			"status":           run.Status,
			"error_message":    run.ErrorMessage,
			"messages_fetched": run.MessagesFetched,
			"messages_stored":  run.MessagesStored,
			"finished_at":      run.FinishedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *gormSyncRunRepository) FindByID(ctx context.Context, id string) (*domain.SyncRun, error) {
	var run domain.SyncRun
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

func (r *gormSyncRunRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]*domain.SyncRun, error) {
	var runs []*domain.SyncRun
	err := r.db.WithContext(ctx).
		Where("mailbox_account_id = ?", accountID).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

func (r *gormSyncRunRepository) MarkStale(ctx context.Context, startedBefore time.Time, message string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&domain.SyncRun{}).
		Where("status = ? AND started_at < ?", domain.SyncStatusRunning, startedBefore).
		Updates(map[string]interface{}{
			"status":        domain.SyncStatusError,
			"error_message": message,
			"finished_at":   time.Now(),
		})
	return result.RowsAffected, result.Error
}
