package repository

import (
	"context"
	"time"

	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormMailboxMessageRepository struct {
	db *gorm.DB
}

func NewMailboxMessageRepository(db *gorm.DB) MailboxMessageRepository {
	return &gormMailboxMessageRepository{db: db}
}

func (r *gormMailboxMessageRepository) Upsert(ctx context.Context, msg *domain.MailboxMessage) (bool, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "mailbox_account_id"}, {Name: "provider_message_id"}},
			DoNothing: true,
		}).
		Create(msg)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *gormMailboxMessageRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.MailboxMessage, int64, error) {
	var messages []*domain.MailboxMessage
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.MailboxMessage{}).Where("mailbox_account_id = ?", accountID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("received_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	if err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

func (r *gormMailboxMessageRepository) CountByAccount(ctx context.Context, accountID string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&domain.MailboxMessage{}).
		Where("mailbox_account_id = ?", accountID).
		Count(&total).Error
	return total, err
}
