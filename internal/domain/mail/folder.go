package mail

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Folder tracks one provider mail folder and its delta-sync cursor.
// SyncLeaseUntil is a durable claim: a sweep only runs a folder after
// winning a conditional update on this column, so concurrent replicas
// never sync the same folder twice.
type Folder struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID   uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	FolderID string    `gorm:"column:folder_id;not null;uniqueIndex" json:"folder_id"`
	Name     string    `gorm:"column:name" json:"name"`

	DeltaToken     string     `gorm:"column:delta_token" json:"delta_token,omitempty"`
	SyncActive     bool       `gorm:"column:sync_active;not null;default:true" json:"sync_active"`
	SyncLeaseUntil *time.Time `gorm:"column:sync_lease_until;index" json:"sync_lease_until,omitempty"`
	LastSyncedAt   *time.Time `gorm:"column:last_synced_at" json:"last_synced_at,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Folder) TableName() string { return "mail_folders" }
