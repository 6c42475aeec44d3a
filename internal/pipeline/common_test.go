package pipeline

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

	repos "github.com/yungbote/mailscope-backend/internal/data/repos/mail"
	domain "github.com/yungbote/mailscope-backend/internal/domain/mail"
	"github.com/yungbote/mailscope-backend/internal/enrich"
	"github.com/yungbote/mailscope-backend/internal/pkg/dbctx"
	"github.com/yungbote/mailscope-backend/internal/platform/graphmail"
	"github.com/yungbote/mailscope-backend/internal/platform/logger"
	"github.com/yungbote/mailscope-backend/internal/platform/qdrant"
	"github.com/yungbote/mailscope-backend/internal/platform/sparsembed"
)

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
`

var testDBSeq int64

type stageHarness struct {
	stages   *Stages
	emails   repos.EmailRepo
	points   repos.PointRepo
	ai       *fakeAI
	sparse   *fakeSparse
	store    *fakeStore
	provider *fakeProvider
}

func newHarness(t *testing.T) *stageHarness {
	t.Helper()
	dsn := fmt.Sprintf("file:pipetest%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
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

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	// The real token counter fetches its vocabulary on first use; tests
	// stand in a constant answer and override it per case where needed.
	prevBudget := overTokenBudget
	overTokenBudget = func(text string) (bool, error) { return false, nil }
	t.Cleanup(func() { overTokenBudget = prevBudget })

	ai := &fakeAI{t: t}
	sparse := &fakeSparse{}
	store := &fakeStore{}
	provider := &fakeProvider{}
	emails := repos.NewEmailRepo(db, log)
	points := repos.NewPointRepo(db, log)

	return &stageHarness{
		stages:   NewStages(log, emails, points, enrich.NewService(log, ai), ai, sparse, store, provider),
		emails:   emails,
		points:   points,
		ai:       ai,
		sparse:   sparse,
		store:    store,
		provider: provider,
	}
}

func (h *stageHarness) insertEmail(t *testing.T, email *domain.Email) *domain.Email {
	t.Helper()
	saved, err := h.emails.Upsert(dbctx.Context{Ctx: context.Background()}, email)
	if err != nil {
		t.Fatalf("insert email: %v", err)
	}
	return saved
}

func (h *stageHarness) reload(t *testing.T, userID, emailID uuid.UUID) *domain.Email {
	t.Helper()
	email, err := h.emails.GetByID(dbctx.Context{Ctx: context.Background()}, userID, emailID)
	if err != nil {
		t.Fatalf("reload email: %v", err)
	}
	if email == nil {
		t.Fatalf("email %s not found", emailID)
	}
	return email
}

func baseEmail(userID uuid.UUID, messageID string) *domain.Email {
	received := time.Now().UTC().Add(-time.Hour)
	return &domain.Email{
		ID:              uuid.New(),
		UserID:          userID,
		MessageID:       messageID,
		Subject:         "budget review",
		BodyText:        "please see the attached budget figures",
		BodyFingerprint: domain.Fingerprint("please see the attached budget figures"),
		ReceivedAt:      &received,
		PipelineStatus:  domain.StatusPending,
	}
}

// fakeAI fails the test on any call whose handler was not installed, so a
// test asserting "no model call happens" just leaves every handler nil.
type fakeAI struct {
	t *testing.T

	embedFn func(ctx context.Context, inputs []string) ([][]float32, error)
	jsonFn  func(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error)
	textFn  func(ctx context.Context, system, user string) (string, error)

	embedCalls int
	jsonCalls  int
	textCalls  int
}

func (f *fakeAI) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	f.embedCalls++
	if f.embedFn == nil {
		f.t.Errorf("unexpected Embed call with %d inputs", len(inputs))
		return nil, fmt.Errorf("unexpected Embed call")
	}
	return f.embedFn(ctx, inputs)
}

func (f *fakeAI) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	f.jsonCalls++
	if f.jsonFn == nil {
		f.t.Errorf("unexpected GenerateJSON call: schema=%s", schemaName)
		return nil, fmt.Errorf("unexpected GenerateJSON call")
	}
	return f.jsonFn(ctx, system, user, schemaName, schema)
}

func (f *fakeAI) GenerateText(ctx context.Context, system, user string) (string, error) {
	f.textCalls++
	if f.textFn == nil {
		f.t.Errorf("unexpected GenerateText call")
		return "", fmt.Errorf("unexpected GenerateText call")
	}
	return f.textFn(ctx, system, user)
}

// denseEmbed returns one small vector per input.
func denseEmbed(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{0.1, 0.2, float32(i)}
	}
	return out, nil
}

type fakeSparse struct {
	err   error
	calls int
}

func (f *fakeSparse) Embed(ctx context.Context, inputs []string) ([]sparsembed.Vector, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]sparsembed.Vector, len(inputs))
	for i := range inputs {
		out[i] = sparsembed.Vector{
			Indices: []uint32{3, uint32(17 + i)},
			Values:  []float32{0.5, 0.25},
		}
	}
	return out, nil
}

type fakeStore struct {
	upserts   [][]qdrant.Point
	deleted   []string
	upsertErr error
	queryHits []qdrant.ScoredPoint
}

func (f *fakeStore) EnsureCollection(ctx context.Context) error { return nil }

func (f *fakeStore) UpsertPoints(ctx context.Context, points []qdrant.Point) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, points)
	return nil
}

func (f *fakeStore) DeleteByEmail(ctx context.Context, userID, emailID string) error {
	f.deleted = append(f.deleted, emailID)
	return nil
}

func (f *fakeStore) Query(ctx context.Context, params qdrant.QueryParams) ([]qdrant.ScoredPoint, error) {
	return f.queryHits, nil
}

type fakeProvider struct {
	msg      *graphmail.Message
	fetchErr error
	pages    []*graphmail.DeltaPage
}

func (f *fakeProvider) FetchMessage(ctx context.Context, messageID string) (*graphmail.Message, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if f.msg == nil {
		return nil, fmt.Errorf("no message configured")
	}
	return f.msg, nil
}

func (f *fakeProvider) ListFolderDelta(ctx context.Context, folderID, deltaToken, pageLink string) (*graphmail.DeltaPage, error) {
	if len(f.pages) == 0 {
		return &graphmail.DeltaPage{DeltaLink: "delta-final"}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}
