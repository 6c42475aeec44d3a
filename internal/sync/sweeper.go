package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	repos "github.com/yungbote/mailscope-backend/internal/data/repos/mail"
	domain "github.com/yungbote/mailscope-backend/internal/domain/mail"
	"github.com/yungbote/mailscope-backend/internal/observability"
	"github.com/yungbote/mailscope-backend/internal/pipeline"
	"github.com/yungbote/mailscope-backend/internal/pkg/dbctx"
	"github.com/yungbote/mailscope-backend/internal/platform/envutil"
	"github.com/yungbote/mailscope-backend/internal/platform/graphmail"
	"github.com/yungbote/mailscope-backend/internal/platform/logger"
	"github.com/yungbote/mailscope-backend/internal/platform/qdrant"
)

// Enqueuer is how the sweeper hands changed messages to whichever pipeline
// backend is running.
type Enqueuer interface {
	EnqueueIngest(ctx context.Context, env pipeline.Envelope) error
}

// Sweeper walks the active folders' delta feeds on an interval. Each folder
// is guarded by a database lease, so replicas share the folder set without
// syncing any folder twice.
type Sweeper struct {
	log      *logger.Logger
	folders  repos.FolderRepo
	emails   repos.EmailRepo
	provider graphmail.Client
	store    qdrant.Store
	enqueue  Enqueuer
	metrics  *observability.Metrics

	interval time.Duration
	leaseTTL time.Duration
}

func NewSweeper(
	log *logger.Logger,
	folders repos.FolderRepo,
	emails repos.EmailRepo,
	provider graphmail.Client,
	store qdrant.Store,
	enqueue Enqueuer,
	metrics *observability.Metrics,
) (*Sweeper, error) {
	if folders == nil || emails == nil || provider == nil || store == nil || enqueue == nil {
		return nil, fmt.Errorf("sweeper missing deps")
	}
	return &Sweeper{
		log:      log.With("service", "FolderSweeper"),
		folders:  folders,
		emails:   emails,
		provider: provider,
		store:    store,
		enqueue:  enqueue,
		metrics:  metrics,
		interval: envutil.DurationSeconds("SYNC_SWEEP_INTERVAL_SECONDS", 120),
		leaseTTL: envutil.DurationSeconds("SYNC_LEASE_TTL_SECONDS", 300),
	}, nil
}

// Start runs the sweep loop until ctx is canceled.
func (s *Sweeper) Start(ctx context.Context, userID uuid.UUID) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			if err := s.SweepAll(ctx, userID); err != nil && ctx.Err() == nil {
				s.log.Error("Folder sweep failed", "error", err.Error())
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// SweepAll runs one delta pass over every active folder the caller can
// claim.
func (s *Sweeper) SweepAll(ctx context.Context, userID uuid.UUID) error {
	dbc := dbctx.Context{Ctx: ctx}
	folders, err := s.folders.ListActive(dbc, userID)
	if err != nil {
		return fmt.Errorf("sweep: list folders: %w", err)
	}

	for _, folder := range folders {
		claimed, err := s.folders.ClaimLease(dbc, folder.ID, s.leaseTTL)
		if err != nil {
			s.log.Error("Lease claim failed", "folder_id", folder.FolderID, "error", err.Error())
			continue
		}
		if !claimed {
			continue
		}
		if err := s.SweepFolder(ctx, folder); err != nil {
			s.log.Error("Folder sweep failed",
				"folder_id", folder.FolderID,
				"error", err.Error(),
			)
			// Keep the old cursor so the next sweep retries the same window.
			if relErr := s.folders.ReleaseLease(dbc, folder.ID, ""); relErr != nil {
				s.log.Error("Lease release failed", "folder_id", folder.FolderID, "error", relErr.Error())
			}
		}
	}
	return nil
}

// SweepFolder pages through one folder's delta feed, enqueues ingest for
// every changed message and removes tombstoned ones. The new delta cursor
// is only persisted after the whole walk succeeds.
func (s *Sweeper) SweepFolder(ctx context.Context, folder *domain.Folder) error {
	dbc := dbctx.Context{Ctx: ctx}

	var (
		pageLink  string
		deltaLink string
		changed   int
		removed   int
	)
	for {
		page, err := s.provider.ListFolderDelta(ctx, folder.FolderID, folder.DeltaToken, pageLink)
		if err != nil {
			return fmt.Errorf("delta page: %w", err)
		}

		for i := range page.Messages {
			msg := &page.Messages[i]
			if msg.Removed != nil {
				if err := s.removeMessage(ctx, folder.UserID, msg.ID); err != nil {
					return err
				}
				s.metrics.SweepMessage("removed")
				removed++
				continue
			}
			env := pipeline.Envelope{
				UserID:    folder.UserID,
				MessageID: msg.ID,
				FolderID:  folder.FolderID,
			}
			if err := s.enqueue.EnqueueIngest(ctx, env); err != nil {
				return fmt.Errorf("enqueue ingest: %w", err)
			}
			s.metrics.SweepMessage("changed")
			changed++
		}

		if page.DeltaLink != "" {
			deltaLink = page.DeltaLink
			break
		}
		if page.NextLink == "" {
			break
		}
		pageLink = page.NextLink
	}

	if err := s.folders.ReleaseLease(dbc, folder.ID, deltaLink); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	if changed > 0 || removed > 0 {
		s.log.Info("Folder sweep finished",
			"folder_id", folder.FolderID,
			"changed", changed,
			"removed", removed,
		)
	}
	return nil
}

// removeMessage deletes the local row and its vectors for a provider
// tombstone. A tombstone for a message that was never ingested is a no-op.
func (s *Sweeper) removeMessage(ctx context.Context, userID uuid.UUID, messageID string) error {
	if strings.TrimSpace(messageID) == "" {
		return nil
	}
	dbc := dbctx.Context{Ctx: ctx}
	email, err := s.emails.GetByMessageID(dbc, userID, messageID)
	if err != nil {
		return fmt.Errorf("lookup removed message: %w", err)
	}
	if email == nil {
		return nil
	}

	if _, err := s.emails.DeleteByMessageIDs(dbc, userID, []string{messageID}); err != nil {
		return fmt.Errorf("delete removed message: %w", err)
	}
	if err := s.store.DeleteByEmail(ctx, userID.String(), email.ID.String()); err != nil {
		// The row is gone; stale vectors are filtered at query time by the
		// database join and cleaned up on the next successful delete.
		s.log.Warn("Vector delete failed for removed message",
			"email_id", email.ID,
			"error", err.Error(),
		)
	}
	return nil
}
