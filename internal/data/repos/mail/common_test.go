package mail

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	domain "github.com/yungbote/mailscope-backend/internal/domain/mail"
	"github.com/yungbote/mailscope-backend/internal/pkg/dbctx"
	"github.com/yungbote/mailscope-backend/internal/platform/logger"
)

// The production schema uses postgres defaults, so tests create a plain
// schema and assign ids themselves.
const testSchema = `
CREATE TABLE emails (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	folder_id TEXT,
	message_id TEXT NOT NULL UNIQUE,
	conversation_id TEXT,
	internet_message_id TEXT,
	subject TEXT,
	preview TEXT,
	body_text TEXT,
	body_html TEXT,
	processed_body TEXT,
	language TEXT,
	translated_subject TEXT,
	translated_body TEXT,
	summarized_body TEXT,
	thread_summary TEXT,
	body_fingerprint TEXT,
	from_addr TEXT,
	reply_to TEXT,
	to_addrs TEXT,
	cc_addrs TEXT,
	bcc_addrs TEXT,
	tags TEXT,
	attachments TEXT,
	attachment_count INTEGER NOT NULL DEFAULT 0,
	has_attachments INTEGER NOT NULL DEFAULT 0,
	is_read INTEGER NOT NULL DEFAULT 0,
	is_draft INTEGER NOT NULL DEFAULT 0,
	sent_at DATETIME,
	received_at DATETIME,
	pipeline_status TEXT NOT NULL DEFAULT 'pending',
	last_error TEXT,
	last_attempt_at DATETIME,
	completed_at DATETIME,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	deleted_at DATETIME
);
CREATE TABLE email_points (
	id TEXT PRIMARY KEY,
	email_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	point_type TEXT NOT NULL,
	ordinal INTEGER NOT NULL DEFAULT 0,
	index_id TEXT NOT NULL UNIQUE,
	vector TEXT,
	sparse_indices TEXT,
	sparse_values TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE mail_folders (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	folder_id TEXT NOT NULL UNIQUE,
	name TEXT,
	delta_token TEXT,
	sync_active INTEGER NOT NULL DEFAULT 1,
	sync_lease_until DATETIME,
	last_synced_at DATETIME,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	deleted_at DATETIME
);
`

var testDBSeq int64

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	// A named in-memory database with a shared cache keeps the schema visible
	// across the pool's connections; the counter isolates parallel tests.
	dsn := fmt.Sprintf("file:repotest%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Exec(testSchema).Error; err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func testDBC(t *testing.T) dbctx.Context {
	t.Helper()
	return dbctx.Context{Ctx: context.Background()}
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func testEmail(userID uuid.UUID, messageID string) *domain.Email {
	received := time.Now().UTC().Add(-time.Hour)
	return &domain.Email{
		ID:             uuid.New(),
		UserID:         userID,
		MessageID:      messageID,
		ConversationID: "conv-1",
		Subject:        "quarterly numbers",
		BodyText:       "the quarterly numbers look strong",
		ReceivedAt:     &received,
		PipelineStatus: domain.StatusPending,
	}
}
