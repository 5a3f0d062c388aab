package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// gormMailboxAccountRepository implements MailboxAccountRepository using GORM
type gormMailboxAccountRepository struct {
	db *gorm.DB
}

// NewMailboxAccountRepository creates a new GORM-based MailboxAccountRepository
func NewMailboxAccountRepository(db *gorm.DB) MailboxAccountRepository {
	return &gormMailboxAccountRepository{db: db}
}

func (r *gormMailboxAccountRepository) Create(ctx context.Context, account *domain.MailboxAccount) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if account.Status == "" {
		account.Status = domain.StatusConnected
	}
	if account.HistoryBackfillDays <= 0 {
		account.HistoryBackfillDays = domain.DefaultBackfillDays
	}
	account.EmailAddress = normalizeEmail(account.EmailAddress)
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *gormMailboxAccountRepository) Update(ctx context.Context, account *domain.MailboxAccount) error {
	account.EmailAddress = normalizeEmail(account.EmailAddress)
	return r.db.WithContext(ctx).Save(account).Error
}

func (r *gormMailboxAccountRepository) FindByID(ctx context.Context, id string) (*domain.MailboxAccount, error) {
	var account domain.MailboxAccount
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *gormMailboxAccountRepository) FindByOwnerAndEmail(ctx context.Context, userID string, provider domain.Provider, email string) (*domain.MailboxAccount, error) {
	var account domain.MailboxAccount
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND provider = ? AND email_address = ?", userID, provider, normalizeEmail(email)).
		Order("created_at ASC").
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *gormMailboxAccountRepository) FindByEmail(ctx context.Context, provider domain.Provider, email string) ([]*domain.MailboxAccount, error) {
	var accounts []*domain.MailboxAccount
	err := r.db.WithContext(ctx).
		Where("provider = ? AND email_address = ?", provider, normalizeEmail(email)).
		Find(&accounts).Error
	return accounts, err
}

func (r *gormMailboxAccountRepository) ListByUser(ctx context.Context, userID string) ([]*domain.MailboxAccount, error) {
	var accounts []*domain.MailboxAccount
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&accounts).Error
	return accounts, err
}

func (r *gormMailboxAccountRepository) ListSyncable(ctx context.Context) ([]*domain.MailboxAccount, error) {
	var accounts []*domain.MailboxAccount
	err := r.db.WithContext(ctx).
		Where("status IN ?", []domain.AccountStatus{domain.StatusConnected, domain.StatusError}).
		Order("created_at ASC").
		Find(&accounts).Error
	return accounts, err
}

func (r *gormMailboxAccountRepository) UpdateTokens(ctx context.Context, id, accessCipher, refreshCipher string, expiresAt *time.Time) error {
	updates := map[string]interface{}{
		"access_token_cipher": accessCipher,
		"token_expires_at":    expiresAt,
		"updated_at":          time.Now(),
	}
	if refreshCipher != "" {
		updates["refresh_token_cipher"] = refreshCipher
	}
	return r.db.WithContext(ctx).Model(&domain.MailboxAccount{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormMailboxAccountRepository) MarkSynced(ctx context.Context, id string, at time.Time, full bool) error {
	updates := map[string]interface{}{
		"last_sync_at": at,
		"status":       domain.StatusConnected,
		"last_error":   "",
		"updated_at":   time.Now(),
	}
	if full {
		updates["last_history_sync_at"] = at
	}
	return r.db.WithContext(ctx).Model(&domain.MailboxAccount{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormMailboxAccountRepository) SetStatus(ctx context.Context, id string, status domain.AccountStatus, lastError string) error {
	return r.db.WithContext(ctx).Model(&domain.MailboxAccount{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     status,
		"last_error": lastError,
		"updated_at": time.Now(),
	}).Error
}

func (r *gormMailboxAccountRepository) UpdateBackfillDays(ctx context.Context, id string, days int) error {
	return r.db.WithContext(ctx).Model(&domain.MailboxAccount{}).Where("id = ?", id).Updates(map[string]interface{}{
		"history_backfill_days": days,
		"updated_at":            time.Now(),
	}).Error
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
