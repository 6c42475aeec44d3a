package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	repos "github.com/yungbote/mailscope-backend/internal/data/repos/mail"
	domain "github.com/yungbote/mailscope-backend/internal/domain/mail"
	"github.com/yungbote/mailscope-backend/internal/enrich"
	"github.com/yungbote/mailscope-backend/internal/pkg/dbctx"
	perrors "github.com/yungbote/mailscope-backend/internal/pkg/errors"
	"github.com/yungbote/mailscope-backend/internal/platform/graphmail"
	"github.com/yungbote/mailscope-backend/internal/platform/logger"
	"github.com/yungbote/mailscope-backend/internal/platform/openai"
	"github.com/yungbote/mailscope-backend/internal/platform/qdrant"
	"github.com/yungbote/mailscope-backend/internal/platform/sparsembed"
)

// SummarizationThresholdChars is the enriched-body length at which a
// summary is generated. The comparison is inclusive.
const SummarizationThresholdChars = 1600

var pointIndexNamespace = uuid.MustParse("4c1f6d3a-9be2-47c3-8f41-2a6c90d15e77")

// Seam for tests; the tokenizer loads its vocabulary lazily.
var overTokenBudget = enrich.OverTokenBudget

// Outcome tells the backend how to continue after a stage. Proceed=false
// without an error is a clean stop (skip condition), not a failure.
type Outcome struct {
	EmailID uuid.UUID
	Proceed bool
}

// Stages holds the shared stage logic both orchestration backends run.
// Every method is safe to re-enter: persisted state is re-checked before
// any expensive call, and each sub-step's fields are written immediately.
type Stages struct {
	log      *logger.Logger
	emails   repos.EmailRepo
	points   repos.PointRepo
	enrich   *enrich.Service
	ai       openai.Client
	sparse   sparsembed.Client
	store    qdrant.Store
	provider graphmail.Client
}

func NewStages(
	log *logger.Logger,
	emails repos.EmailRepo,
	points repos.PointRepo,
	enrichSvc *enrich.Service,
	ai openai.Client,
	sparse sparsembed.Client,
	store qdrant.Store,
	provider graphmail.Client,
) *Stages {
	return &Stages{
		log:      log.With("service", "PipelineStages"),
		emails:   emails,
		points:   points,
		enrich:   enrichSvc,
		ai:       ai,
		sparse:   sparse,
		store:    store,
		provider: provider,
	}
}

// Ingest fetches the provider message and upserts the local row. A message
// the provider no longer has is deleted locally, vectors included, and the
// run stops cleanly. A completed email whose body
// fingerprint is unchanged re-saves provider metadata and stops; nothing
// downstream needs to rerun.
func (s *Stages) Ingest(ctx context.Context, env Envelope) (Outcome, error) {
	dbc := dbctx.Context{Ctx: ctx}
	if strings.TrimSpace(env.MessageID) == "" {
		return Outcome{}, perrors.Fatalf("ingest: message id required")
	}

	msg, err := s.provider.FetchMessage(ctx, env.MessageID)
	if err != nil {
		if graphmail.IsNotFound(err) {
			return s.removeDeleted(ctx, env)
		}
		return Outcome{}, fmt.Errorf("ingest: fetch message: %w", err)
	}

	email := mapProviderMessage(env.UserID, msg)
	existing, err := s.emails.GetByMessageID(dbc, env.UserID, env.MessageID)
	if err != nil {
		return Outcome{}, fmt.Errorf("ingest: lookup existing: %w", err)
	}

	saved, err := s.emails.Upsert(dbc, email)
	if err != nil {
		return Outcome{}, fmt.Errorf("ingest: upsert: %w", err)
	}

	if existing != nil &&
		existing.BodyFingerprint == saved.BodyFingerprint &&
		existing.PipelineStatus == domain.StatusCompleted {
		s.log.Debug("Body unchanged on completed email, skipping enrichment",
			"email_id", saved.ID,
		)
		return Outcome{EmailID: saved.ID, Proceed: false}, nil
	}

	if err := s.emails.SetStatus(dbc, saved.ID, domain.StatusIngested); err != nil {
		return Outcome{}, fmt.Errorf("ingest: set status: %w", err)
	}
	return Outcome{EmailID: saved.ID, Proceed: true}, nil
}

// removeDeleted drops the local copy of a message the provider reports
// gone. The row cascade-deletes its points; the vector delete is best
// effort because stale vectors are filtered at query time by the database
// join.
func (s *Stages) removeDeleted(ctx context.Context, env Envelope) (Outcome, error) {
	dbc := dbctx.Context{Ctx: ctx}
	existing, err := s.emails.GetByMessageID(dbc, env.UserID, env.MessageID)
	if err != nil {
		return Outcome{}, fmt.Errorf("ingest: lookup removed message: %w", err)
	}
	if existing == nil {
		s.log.Warn("Message gone at provider, skipping ingest", "message_id", env.MessageID)
		return Outcome{Proceed: false}, nil
	}

	if _, err := s.emails.DeleteByMessageIDs(dbc, env.UserID, []string{env.MessageID}); err != nil {
		return Outcome{}, fmt.Errorf("ingest: delete removed email: %w", err)
	}
	if err := s.store.DeleteByEmail(ctx, env.UserID.String(), existing.ID.String()); err != nil {
		s.log.Warn("Failed to delete vectors for removed email",
			"email_id", existing.ID,
			"error", err.Error(),
		)
	}
	s.log.Info("Deleted email removed at provider",
		"email_id", existing.ID,
		"message_id", env.MessageID,
	)
	return Outcome{EmailID: existing.ID, Proceed: false}, nil
}

// Process runs the enrichment sub-steps. Each one checks its own output
// field first, so a retried delivery only redoes work that never landed.
func (s *Stages) Process(ctx context.Context, env Envelope) (Outcome, error) {
	dbc := dbctx.Context{Ctx: ctx}
	email, err := s.emails.GetByID(dbc, env.UserID, env.EmailID)
	if err != nil {
		return Outcome{}, fmt.Errorf("process: load email: %w", err)
	}
	if email == nil {
		s.log.Warn("Email not found, skipping process", "email_id", env.EmailID)
		return Outcome{Proceed: false}, nil
	}

	if email.ProcessedBody == "" {
		res, err := s.enrich.Cleanup(ctx, enrich.CleanupInput{
			Subject:  email.Subject,
			From:     addressString(email.FromAddress()),
			To:       addressesString(email.ToAddresses()),
			Date:     timeString(email.ReceivedAt),
			BodyText: email.BodyText,
			BodyHTML: email.BodyHTML,
		})
		if err != nil {
			return Outcome{}, fmt.Errorf("process: %w", err)
		}
		// Body and language land together; a half-written pair would make
		// the translate check below misfire.
		if err := s.emails.UpdateFields(dbc, email.ID, map[string]interface{}{
			"processed_body": res.Body,
			"language":       res.Language,
		}); err != nil {
			return Outcome{}, fmt.Errorf("process: save cleanup: %w", err)
		}
		email.ProcessedBody = res.Body
		email.Language = res.Language
	}

	if email.Language != "" && email.Language != enrich.TargetLanguage && email.TranslatedBody == "" {
		body, err := s.enrich.Translate(ctx, email.ProcessedBody)
		if err != nil {
			return Outcome{}, fmt.Errorf("process: %w", err)
		}
		translatedSubject := ""
		if strings.TrimSpace(email.Subject) != "" {
			subject, err := s.enrich.Translate(ctx, email.Subject)
			if err != nil {
				return Outcome{}, fmt.Errorf("process: %w", err)
			}
			translatedSubject = subject.Text
		}
		if err := s.emails.UpdateFields(dbc, email.ID, map[string]interface{}{
			"translated_body":    body.Text,
			"translated_subject": translatedSubject,
		}); err != nil {
			return Outcome{}, fmt.Errorf("process: save translation: %w", err)
		}
		email.TranslatedBody = body.Text
		email.TranslatedSubject = translatedSubject
	}

	enrichedBody := email.EnrichedBody()
	if len(enrichedBody) >= SummarizationThresholdChars && email.SummarizedBody == "" {
		summary, err := s.enrich.Summarize(ctx, enrichedBody)
		if err != nil {
			return Outcome{}, fmt.Errorf("process: %w", err)
		}
		if err := s.emails.UpdateFields(dbc, email.ID, map[string]interface{}{
			"summarized_body": summary,
		}); err != nil {
			return Outcome{}, fmt.Errorf("process: save summary: %w", err)
		}
		email.SummarizedBody = summary
	}

	if email.ConversationID != "" && email.ThreadSummary == "" {
		thread, err := s.emails.GetThread(dbc, env.UserID, email.ConversationID)
		if err != nil {
			return Outcome{}, fmt.Errorf("process: load thread: %w", err)
		}
		if len(thread) > 1 {
			bodies := make([]string, 0, len(thread))
			for _, t := range thread {
				bodies = append(bodies, t.EnrichedBody())
			}
			summary, err := s.enrich.SummarizeThread(ctx, bodies)
			if err != nil {
				return Outcome{}, fmt.Errorf("process: %w", err)
			}
			if err := s.emails.UpdateFields(dbc, email.ID, map[string]interface{}{
				"thread_summary": summary,
			}); err != nil {
				return Outcome{}, fmt.Errorf("process: save thread summary: %w", err)
			}
		}
	}

	if err := s.emails.SetStatus(dbc, email.ID, domain.StatusProcessed); err != nil {
		return Outcome{}, fmt.Errorf("process: set status: %w", err)
	}
	return Outcome{EmailID: email.ID, Proceed: true}, nil
}

type embedUnit struct {
	pointType string
	ordinal   int
	text      string
}

// Embed builds the document set, generates dense and sparse vectors
// concurrently, and persists the merged point set. A body over the token
// budget with no summary to stand in for it cannot be represented and is
// a fatal failure.
func (s *Stages) Embed(ctx context.Context, env Envelope) (Outcome, error) {
	dbc := dbctx.Context{Ctx: ctx}
	email, err := s.emails.GetByID(dbc, env.UserID, env.EmailID)
	if err != nil {
		return Outcome{}, fmt.Errorf("embed: load email: %w", err)
	}
	if email == nil {
		s.log.Warn("Email not found, skipping embed", "email_id", env.EmailID)
		return Outcome{Proceed: false}, nil
	}
	if email.ProcessedBody == "" {
		return Outcome{}, perrors.Fatalf("embed: processed body missing for email %s", email.ID)
	}

	units, err := s.buildEmbedUnits(email)
	if err != nil {
		return Outcome{}, err
	}
	if len(units) == 0 {
		s.log.Warn("No documents to embed, skipping", "email_id", email.ID)
		return Outcome{EmailID: email.ID, Proceed: true}, nil
	}

	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = u.text
	}

	var (
		dense  [][]float32
		sparse []sparsembed.Vector
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := s.ai.Embed(gctx, texts)
		if err != nil {
			return fmt.Errorf("dense embed: %w", err)
		}
		dense = out
		return nil
	})
	g.Go(func() error {
		out, err := s.sparse.Embed(gctx, texts)
		if err != nil {
			return fmt.Errorf("sparse embed: %w", err)
		}
		sparse = out
		return nil
	})
	if err := g.Wait(); err != nil {
		return Outcome{}, fmt.Errorf("embed: %w", err)
	}
	if len(dense) != len(units) || len(sparse) != len(units) {
		return Outcome{}, fmt.Errorf("embed: vector count mismatch: units=%d dense=%d sparse=%d",
			len(units), len(dense), len(sparse))
	}

	points := make([]*domain.Point, 0, len(units))
	for i, u := range units {
		p := &domain.Point{
			ID:        uuid.New(),
			EmailID:   email.ID,
			UserID:    email.UserID,
			PointType: u.pointType,
			Ordinal:   u.ordinal,
			IndexID:   stablePointID(email.ID, u.pointType, u.ordinal),
		}
		p.SetDenseVector(dense[i])
		p.SetSparse(sparse[i].Indices, sparse[i].Values)
		points = append(points, p)
	}

	if err := s.Persist(ctx, email.ID, points); err != nil {
		return Outcome{}, err
	}
	if err := s.emails.SetStatus(dbc, email.ID, domain.StatusEmbedded); err != nil {
		return Outcome{}, fmt.Errorf("embed: set status: %w", err)
	}
	return Outcome{EmailID: email.ID, Proceed: true}, nil
}

// Persist replaces the email's whole point set in one transaction.
func (s *Stages) Persist(ctx context.Context, emailID uuid.UUID, points []*domain.Point) error {
	dbc := dbctx.Context{Ctx: ctx}
	if err := s.points.ReplaceForEmail(dbc, emailID, points); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	return nil
}

func (s *Stages) buildEmbedUnits(email *domain.Email) ([]embedUnit, error) {
	enrichedBody := email.EnrichedBody()
	subject := email.EnrichedSubject()

	chunks, err := enrich.SplitBody(enrichedBody)
	if err != nil {
		return nil, fmt.Errorf("embed: chunk body: %w", err)
	}

	var units []embedUnit
	// Chunks carry no subject prefix: the full/summary point already holds
	// it, and repeating it across every chunk overweights those terms.
	if len(chunks) > 1 {
		for i, c := range chunks {
			units = append(units, embedUnit{pointType: domain.PointTypeChunk, ordinal: i, text: c})
		}
	}

	switch {
	case email.SummarizedBody != "":
		units = append(units, embedUnit{
			pointType: domain.PointTypeSummary,
			text:      fmt.Sprintf("Subject: %s\n\nSummary: %s", subject, email.SummarizedBody),
		})
	default:
		over, err := overTokenBudget(enrichedBody)
		if err != nil {
			return nil, fmt.Errorf("embed: count tokens: %w", err)
		}
		if over {
			return nil, perrors.Fatalf("embed: body exceeds token budget and no summary exists for email %s", email.ID)
		}
		units = append(units, embedUnit{
			pointType: domain.PointTypeFull,
			text:      fmt.Sprintf("Subject: %s\n\nBody: %s", subject, enrichedBody),
		})
	}
	return units, nil
}

// Index pushes the stored point set into the vector index and closes the
// run. An email with no points indexes nothing but still completes.
func (s *Stages) Index(ctx context.Context, env Envelope) (Outcome, error) {
	dbc := dbctx.Context{Ctx: ctx}
	email, err := s.emails.GetByID(dbc, env.UserID, env.EmailID)
	if err != nil {
		return Outcome{}, fmt.Errorf("index: load email: %w", err)
	}
	if email == nil {
		s.log.Warn("Email not found, skipping index", "email_id", env.EmailID)
		return Outcome{Proceed: false}, nil
	}

	points, err := s.points.GetByEmail(dbc, email.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("index: load points: %w", err)
	}
	if len(points) == 0 {
		s.log.Warn("Email has no points, skipping index", "email_id", email.ID)
	} else {
		qdrantPoints, err := buildIndexPoints(email, points)
		if err != nil {
			return Outcome{}, err
		}
		if err := s.store.UpsertPoints(ctx, qdrantPoints); err != nil {
			return Outcome{}, fmt.Errorf("index: upsert: %w", err)
		}
	}

	if err := s.emails.MarkCompleted(dbc, email.ID); err != nil {
		return Outcome{}, fmt.Errorf("index: mark completed: %w", err)
	}
	return Outcome{EmailID: email.ID, Proceed: true}, nil
}

// Fail records the terminal failure state after a fatal error or an
// exhausted retry budget.
func (s *Stages) Fail(ctx context.Context, env Envelope, stage string, cause error) {
	if env.EmailID == uuid.Nil {
		return
	}
	dbc := dbctx.Context{Ctx: ctx}
	lastError := fmt.Sprintf("%s: %v", stage, cause)
	if err := s.emails.MarkFailed(dbc, env.EmailID, lastError); err != nil {
		s.log.Error("Failed to record pipeline failure",
			"email_id", env.EmailID,
			"stage", stage,
			"error", err.Error(),
		)
	}
}

func buildIndexPoints(email *domain.Email, points []*domain.Point) ([]qdrant.Point, error) {
	chunkTotal := 0
	for _, p := range points {
		if p.PointType == domain.PointTypeChunk {
			chunkTotal++
		}
	}

	attachmentNames := make([]string, 0)
	for _, a := range email.AttachmentList() {
		if a.Filename != "" {
			attachmentNames = append(attachmentNames, a.Filename)
		}
	}

	base := map[string]any{
		qdrant.PayloadUserIDKey:  email.UserID.String(),
		qdrant.PayloadEmailIDKey: email.ID.String(),
		qdrant.PayloadSubjectKey: email.EnrichedSubject(),
		"language":               email.Language,
		qdrant.PayloadFromKey:    addressString(email.FromAddress()),
		"to":                     addressesString(email.ToAddresses()),
		"cc":                     addressesString(email.CcAddresses()),
		"bcc":                    addressesString(email.BccAddresses()),
		"tags":                   strings.Join(email.TagList(), ","),
		"attachment_count":       email.AttachmentCount,
		"attachments":            strings.Join(attachmentNames, ","),
	}
	if email.SentAt != nil {
		base["sent_at"] = email.SentAt.Unix()
	}
	if email.ReceivedAt != nil {
		base[qdrant.PayloadReceivedAtKey] = email.ReceivedAt.Unix()
	}

	out := make([]qdrant.Point, 0, len(points))
	for _, p := range points {
		dense := p.DenseVector()
		if len(dense) == 0 {
			return nil, fmt.Errorf("index: point %s has no dense vector", p.IndexID)
		}
		indices, values := p.Sparse()

		payload := make(map[string]any, len(base)+3)
		for k, v := range base {
			payload[k] = v
		}
		payload[qdrant.PayloadPointTypeKey] = p.PointType
		if p.PointType == domain.PointTypeChunk {
			payload[qdrant.PayloadOrdinalKey] = p.Ordinal
			payload["chunk_total"] = chunkTotal
		}

		out = append(out, qdrant.Point{
			ID:            p.IndexID.String(),
			Dense:         dense,
			SparseIndices: indices,
			SparseValues:  values,
			Payload:       payload,
		})
	}
	return out, nil
}

func mapProviderMessage(userID uuid.UUID, msg *graphmail.Message) *domain.Email {
	bodyText := ""
	bodyHTML := ""
	if strings.EqualFold(msg.Body.ContentType, "html") {
		bodyHTML = msg.Body.Content
	} else {
		bodyText = msg.Body.Content
	}

	attachments := make([]domain.Attachment, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		attachments = append(attachments, domain.Attachment{
			ID:        a.ID,
			Filename:  a.Name,
			MimeType:  a.ContentType,
			SizeBytes: a.Size,
			IsInline:  a.IsInline,
		})
	}

	fingerprintSource := bodyText
	if fingerprintSource == "" {
		fingerprintSource = bodyHTML
	}

	email := &domain.Email{
		UserID:            userID,
		FolderID:          msg.ParentFolderID,
		MessageID:         msg.ID,
		ConversationID:    msg.ConversationID,
		InternetMessageID: msg.InternetMessageID,
		Subject:           msg.Subject,
		Preview:           msg.BodyPreview,
		BodyText:          bodyText,
		BodyHTML:          bodyHTML,
		BodyFingerprint:   domain.Fingerprint(fingerprintSource),
		From:              domain.MarshalAddress(toAddress(msg.From)),
		ReplyTo:           domain.MarshalAddresses(toAddresses(msg.ReplyTo)),
		To:                domain.MarshalAddresses(toAddresses(msg.ToRecipients)),
		Cc:                domain.MarshalAddresses(toAddresses(msg.CcRecipients)),
		Bcc:               domain.MarshalAddresses(toAddresses(msg.BccRecipients)),
		Tags:              domain.MarshalStrings(msg.Categories),
		Attachments:       domain.MarshalAttachments(attachments),
		AttachmentCount:   len(attachments),
		HasAttachments:    msg.HasAttachments || len(attachments) > 0,
		IsRead:            msg.IsRead,
		IsDraft:           msg.IsDraft,
		SentAt:            msg.SentDateTime,
		ReceivedAt:        msg.ReceivedDateTime,
		PipelineStatus:    domain.StatusPending,
	}
	return email
}

func toAddress(r *graphmail.Recipient) *domain.Address {
	if r == nil {
		return nil
	}
	return &domain.Address{
		Name:    r.EmailAddress.Name,
		Address: r.EmailAddress.Address,
	}
}

func toAddresses(rs []graphmail.Recipient) []domain.Address {
	out := make([]domain.Address, 0, len(rs))
	for i := range rs {
		if a := toAddress(&rs[i]); a != nil {
			out = append(out, *a)
		}
	}
	return out
}

func stablePointID(emailID uuid.UUID, pointType string, ordinal int) uuid.UUID {
	key := fmt.Sprintf("%s|%s|%d", emailID, pointType, ordinal)
	return uuid.NewSHA1(pointIndexNamespace, []byte(key))
}

func addressString(a *domain.Address) string {
	if a == nil {
		return ""
	}
	return a.String()
}

func addressesString(addrs []domain.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ",")
}

func timeString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
