package mail

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/mailscope-backend/internal/domain/mail"
	"github.com/yungbote/mailscope-backend/internal/pkg/dbctx"
	"github.com/yungbote/mailscope-backend/internal/platform/logger"
)

type EmailRepo interface {
	// Upsert writes an email keyed by its provider message id. On conflict the
	// fixed provider field set is overwritten ("last write wins"); enrichment
	// fields written by later pipeline stages are never touched here.
	Upsert(dbc dbctx.Context, email *mail.Email) (*mail.Email, error)
	GetByID(dbc dbctx.Context, userID, emailID uuid.UUID) (*mail.Email, error)
	GetByIDs(dbc dbctx.Context, userID uuid.UUID, ids []uuid.UUID) ([]*mail.Email, error)
	GetByMessageID(dbc dbctx.Context, userID uuid.UUID, messageID string) (*mail.Email, error)
	// GetThread returns every email sharing a conversation id, oldest first.
	GetThread(dbc dbctx.Context, userID uuid.UUID, conversationID string) ([]*mail.Email, error)
	UpdateFields(dbc dbctx.Context, emailID uuid.UUID, updates map[string]interface{}) error
	// SetStatus records a stage transition together with the attempt timestamp.
	SetStatus(dbc dbctx.Context, emailID uuid.UUID, status string) error
	// MarkFailed records the terminal failure state with its structured error.
	MarkFailed(dbc dbctx.Context, emailID uuid.UUID, lastError string) error
	MarkCompleted(dbc dbctx.Context, emailID uuid.UUID) error
	// ClearFailure resets a failed email so an operator-triggered reprocess
	// can run it through the pipeline again.
	ClearFailure(dbc dbctx.Context, userID, emailID uuid.UUID) (bool, error)
	DeleteByMessageIDs(dbc dbctx.Context, userID uuid.UUID, messageIDs []string) (int64, error)
}

type emailRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEmailRepo(db *gorm.DB, baseLog *logger.Logger) EmailRepo {
	return &emailRepo{
		db:  db,
		log: baseLog.With("repo", "EmailRepo"),
	}
}

// providerColumns is the fixed provider field set merged on re-delivery.
var providerColumns = []string{
	"user_id", "folder_id", "conversation_id", "internet_message_id",
	"subject", "preview", "body_text", "body_html", "body_fingerprint",
	"from_addr", "reply_to", "to_addrs", "cc_addrs", "bcc_addrs",
	"tags", "attachments", "attachment_count", "has_attachments",
	"is_read", "is_draft", "sent_at", "received_at", "updated_at",
}

func (r *emailRepo) Upsert(dbc dbctx.Context, email *mail.Email) (*mail.Email, error) {
	tx := r.tx(dbc)
	if email == nil || email.MessageID == "" {
		return nil, errors.New("email with message_id required")
	}
	email.UpdatedAt = time.Now().UTC()
	if err := tx.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}},
			DoUpdates: clause.AssignmentColumns(providerColumns),
		}).
		Create(email).Error; err != nil {
		return nil, err
	}
	// On conflict the insert resolved to the existing row, whose id and
	// enrichment fields the input struct does not carry. Re-read either way.
	return r.GetByMessageID(dbc, email.UserID, email.MessageID)
}

func (r *emailRepo) GetByID(dbc dbctx.Context, userID, emailID uuid.UUID) (*mail.Email, error) {
	tx := r.tx(dbc)
	if emailID == uuid.Nil {
		return nil, nil
	}
	var email mail.Email
	q := tx.WithContext(dbc.Ctx).Where("id = ?", emailID)
	if userID != uuid.Nil {
		q = q.Where("user_id = ?", userID)
	}
	err := q.Limit(1).Find(&email).Error
	if err != nil {
		return nil, err
	}
	if email.ID == uuid.Nil {
		return nil, nil
	}
	return &email, nil
}

func (r *emailRepo) GetByIDs(dbc dbctx.Context, userID uuid.UUID, ids []uuid.UUID) ([]*mail.Email, error) {
	tx := r.tx(dbc)
	var out []*mail.Email
	if len(ids) == 0 {
		return out, nil
	}
	q := tx.WithContext(dbc.Ctx).Where("id IN ?", ids)
	if userID != uuid.Nil {
		q = q.Where("user_id = ?", userID)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *emailRepo) GetByMessageID(dbc dbctx.Context, userID uuid.UUID, messageID string) (*mail.Email, error) {
	tx := r.tx(dbc)
	if messageID == "" {
		return nil, nil
	}
	var email mail.Email
	q := tx.WithContext(dbc.Ctx).Where("message_id = ?", messageID)
	if userID != uuid.Nil {
		q = q.Where("user_id = ?", userID)
	}
	err := q.Limit(1).Find(&email).Error
	if err != nil {
		return nil, err
	}
	if email.ID == uuid.Nil {
		return nil, nil
	}
	return &email, nil
}

func (r *emailRepo) GetThread(dbc dbctx.Context, userID uuid.UUID, conversationID string) ([]*mail.Email, error) {
	tx := r.tx(dbc)
	var out []*mail.Email
	if conversationID == "" || userID == uuid.Nil {
		return out, nil
	}
	if err := tx.WithContext(dbc.Ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Order("received_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *emailRepo) UpdateFields(dbc dbctx.Context, emailID uuid.UUID, updates map[string]interface{}) error {
	tx := r.tx(dbc)
	if emailID == uuid.Nil || len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now().UTC()
	return tx.WithContext(dbc.Ctx).
		Model(&mail.Email{}).
		Where("id = ?", emailID).
		Updates(updates).Error
}

func (r *emailRepo) SetStatus(dbc dbctx.Context, emailID uuid.UUID, status string) error {
	now := time.Now().UTC()
	return r.UpdateFields(dbc, emailID, map[string]interface{}{
		"pipeline_status": status,
		"last_attempt_at": now,
	})
}

func (r *emailRepo) MarkFailed(dbc dbctx.Context, emailID uuid.UUID, lastError string) error {
	now := time.Now().UTC()
	return r.UpdateFields(dbc, emailID, map[string]interface{}{
		"pipeline_status": mail.StatusFailed,
		"last_error":      lastError,
		"last_attempt_at": now,
		"completed_at":    now,
	})
}

func (r *emailRepo) MarkCompleted(dbc dbctx.Context, emailID uuid.UUID) error {
	now := time.Now().UTC()
	return r.UpdateFields(dbc, emailID, map[string]interface{}{
		"pipeline_status": mail.StatusCompleted,
		"last_error":      "",
		"last_attempt_at": now,
		"completed_at":    now,
	})
}

func (r *emailRepo) ClearFailure(dbc dbctx.Context, userID, emailID uuid.UUID) (bool, error) {
	tx := r.tx(dbc)
	if emailID == uuid.Nil {
		return false, nil
	}
	res := tx.WithContext(dbc.Ctx).
		Model(&mail.Email{}).
		Where("id = ? AND user_id = ? AND pipeline_status = ?", emailID, userID, mail.StatusFailed).
		Updates(map[string]interface{}{
			"pipeline_status": mail.StatusPending,
			"last_error":      "",
			"completed_at":    nil,
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *emailRepo) DeleteByMessageIDs(dbc dbctx.Context, userID uuid.UUID, messageIDs []string) (int64, error) {
	tx := r.tx(dbc)
	if len(messageIDs) == 0 {
		return 0, nil
	}
	// Hard delete so points cascade; soft-deleted rows would strand vectors.
	res := tx.WithContext(dbc.Ctx).
		Unscoped().
		Where("user_id = ? AND message_id IN ?", userID, messageIDs).
		Delete(&mail.Email{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *emailRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}
