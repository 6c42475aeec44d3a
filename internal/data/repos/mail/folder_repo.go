package mail

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/mailscope-backend/internal/domain/mail"
	"github.com/yungbote/mailscope-backend/internal/pkg/dbctx"
	"github.com/yungbote/mailscope-backend/internal/platform/logger"
)

type FolderRepo interface {
	Upsert(dbc dbctx.Context, folder *mail.Folder) (*mail.Folder, error)
	ListActive(dbc dbctx.Context, userID uuid.UUID) ([]*mail.Folder, error)
	// ClaimLease wins the folder for one sweep by conditionally extending the
	// lease column. Returns false when another replica holds a live lease.
	ClaimLease(dbc dbctx.Context, folderID uuid.UUID, ttl time.Duration) (bool, error)
	// ReleaseLease clears the lease and persists the new delta cursor.
	ReleaseLease(dbc dbctx.Context, folderID uuid.UUID, deltaToken string) error
	SetActive(dbc dbctx.Context, folderID uuid.UUID, active bool) error
}

type folderRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFolderRepo(db *gorm.DB, baseLog *logger.Logger) FolderRepo {
	return &folderRepo{
		db:  db,
		log: baseLog.With("repo", "FolderRepo"),
	}
}

func (r *folderRepo) Upsert(dbc dbctx.Context, folder *mail.Folder) (*mail.Folder, error) {
	tx := r.tx(dbc)
	folder.UpdatedAt = time.Now().UTC()
	if err := tx.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "folder_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "name", "updated_at"}),
		}).
		Create(folder).Error; err != nil {
		return nil, err
	}
	if folder.ID == uuid.Nil {
		var existing mail.Folder
		if err := tx.WithContext(dbc.Ctx).
			Where("folder_id = ?", folder.FolderID).
			Limit(1).Find(&existing).Error; err != nil {
			return nil, err
		}
		return &existing, nil
	}
	return folder, nil
}

func (r *folderRepo) ListActive(dbc dbctx.Context, userID uuid.UUID) ([]*mail.Folder, error) {
	tx := r.tx(dbc)
	var out []*mail.Folder
	q := tx.WithContext(dbc.Ctx).Where("sync_active = ?", true)
	if userID != uuid.Nil {
		q = q.Where("user_id = ?", userID)
	}
	if err := q.Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *folderRepo) ClaimLease(dbc dbctx.Context, folderID uuid.UUID, ttl time.Duration) (bool, error) {
	tx := r.tx(dbc)
	if folderID == uuid.Nil {
		return false, nil
	}
	now := time.Now().UTC()
	until := now.Add(ttl)
	res := tx.WithContext(dbc.Ctx).
		Model(&mail.Folder{}).
		Where("id = ? AND sync_active = ? AND (sync_lease_until IS NULL OR sync_lease_until < ?)",
			folderID, true, now).
		Updates(map[string]interface{}{
			"sync_lease_until": until,
			"updated_at":       now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *folderRepo) ReleaseLease(dbc dbctx.Context, folderID uuid.UUID, deltaToken string) error {
	tx := r.tx(dbc)
	if folderID == uuid.Nil {
		return nil
	}
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"sync_lease_until": nil,
		"last_synced_at":   now,
		"updated_at":       now,
	}
	if deltaToken != "" {
		updates["delta_token"] = deltaToken
	}
	return tx.WithContext(dbc.Ctx).
		Model(&mail.Folder{}).
		Where("id = ?", folderID).
		Updates(updates).Error
}

func (r *folderRepo) SetActive(dbc dbctx.Context, folderID uuid.UUID, active bool) error {
	tx := r.tx(dbc)
	return tx.WithContext(dbc.Ctx).
		Model(&mail.Folder{}).
		Where("id = ?", folderID).
		Updates(map[string]interface{}{
			"sync_active": active,
			"updated_at":  time.Now().UTC(),
		}).Error
}

func (r *folderRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}
