package mail

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/mailscope-backend/internal/domain/mail"
	"github.com/yungbote/mailscope-backend/internal/pkg/dbctx"
	"github.com/yungbote/mailscope-backend/internal/platform/logger"
)

type PointRepo interface {
	// ReplaceForEmail swaps the full point set of one email in a single
	// transaction. A retried persist therefore never leaves a mixed set of
	// old and new points behind.
	ReplaceForEmail(dbc dbctx.Context, emailID uuid.UUID, points []*mail.Point) error
	GetByEmail(dbc dbctx.Context, emailID uuid.UUID) ([]*mail.Point, error)
	DeleteForEmail(dbc dbctx.Context, emailID uuid.UUID) (int64, error)
}

type pointRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPointRepo(db *gorm.DB, baseLog *logger.Logger) PointRepo {
	return &pointRepo{
		db:  db,
		log: baseLog.With("repo", "PointRepo"),
	}
}

func (r *pointRepo) ReplaceForEmail(dbc dbctx.Context, emailID uuid.UUID, points []*mail.Point) error {
	tx := r.tx(dbc)
	if emailID == uuid.Nil {
		return nil
	}
	run := func(inner *gorm.DB) error {
		if err := inner.WithContext(dbc.Ctx).
			Where("email_id = ?", emailID).
			Delete(&mail.Point{}).Error; err != nil {
			return err
		}
		if len(points) == 0 {
			return nil
		}
		return inner.WithContext(dbc.Ctx).Create(points).Error
	}
	if dbc.Tx != nil {
		// Caller already owns a transaction; run inside it.
		return run(tx)
	}
	return tx.Transaction(run)
}

func (r *pointRepo) GetByEmail(dbc dbctx.Context, emailID uuid.UUID) ([]*mail.Point, error) {
	tx := r.tx(dbc)
	var out []*mail.Point
	if emailID == uuid.Nil {
		return out, nil
	}
	if err := tx.WithContext(dbc.Ctx).
		Where("email_id = ?", emailID).
		Order("point_type ASC, ordinal ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *pointRepo) DeleteForEmail(dbc dbctx.Context, emailID uuid.UUID) (int64, error) {
	tx := r.tx(dbc)
	if emailID == uuid.Nil {
		return 0, nil
	}
	res := tx.WithContext(dbc.Ctx).
		Where("email_id = ?", emailID).
		Delete(&mail.Point{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *pointRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}
