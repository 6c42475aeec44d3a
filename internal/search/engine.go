package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	repos "github.com/yungbote/mailscope-backend/internal/data/repos/mail"
	domain "github.com/yungbote/mailscope-backend/internal/domain/mail"
	"github.com/yungbote/mailscope-backend/internal/pkg/dbctx"
	"github.com/yungbote/mailscope-backend/internal/platform/logger"
	"github.com/yungbote/mailscope-backend/internal/platform/openai"
	"github.com/yungbote/mailscope-backend/internal/platform/qdrant"
	"github.com/yungbote/mailscope-backend/internal/platform/sparsembed"
)

const (
	DefaultLimit = 10
	MaxLimit     = 50

	// pointOversample widens the vector query so grouping by email still
	// leaves enough distinct emails to fill the page.
	pointOversample = 3
)

// ErrInvalidParams marks caller mistakes so the HTTP layer can answer 400.
var ErrInvalidParams = errors.New("search")

type Params struct {
	UserID   uuid.UUID
	Query    string
	Limit    int
	Strategy Strategy
	// ScoreThreshold drops fused hits scoring below it when set.
	ScoreThreshold *float64
	// IncludeBody keeps the full body fields on results. Off by default;
	// summary fields are always returned.
	IncludeBody  bool
	ReceivedFrom *time.Time
	ReceivedTo   *time.Time
}

// Result is one email with its fused, reranked score.
type Result struct {
	Email *domain.Email `json:"email"`
	Score float64       `json:"score"`
	// BestMatchType names the point type that scored highest before
	// reranking: "full", "summary" or "chunk".
	BestMatchType string `json:"best_match_type"`
}

type Engine struct {
	log    *logger.Logger
	ai     openai.Client
	sparse sparsembed.Client
	store  qdrant.Store
	emails repos.EmailRepo
}

func NewEngine(
	log *logger.Logger,
	ai openai.Client,
	sparse sparsembed.Client,
	store qdrant.Store,
	emails repos.EmailRepo,
) *Engine {
	return &Engine{
		log:    log.With("service", "SearchEngine"),
		ai:     ai,
		sparse: sparse,
		store:  store,
		emails: emails,
	}
}

// Search embeds the query on both legs concurrently, runs the fused vector
// query, groups the hits by email and reranks the groups.
func (e *Engine) Search(ctx context.Context, params Params) ([]Result, error) {
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidParams)
	}
	if params.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id required", ErrInvalidParams)
	}
	limit := params.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	strategy := params.Strategy
	if strategy == "" {
		strategy = StrategyWeighted
	}
	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidParams, strategy)
	}

	var (
		dense     []float32
		sparseVec sparsembed.Vector
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := e.ai.Embed(gctx, []string{query})
		if err != nil {
			return fmt.Errorf("dense query embed: %w", err)
		}
		if len(out) != 1 {
			return fmt.Errorf("dense query embed: want 1 vector got %d", len(out))
		}
		dense = out[0]
		return nil
	})
	g.Go(func() error {
		out, err := e.sparse.Embed(gctx, []string{query})
		if err != nil {
			return fmt.Errorf("sparse query embed: %w", err)
		}
		if len(out) != 1 {
			return fmt.Errorf("sparse query embed: want 1 vector got %d", len(out))
		}
		sparseVec = out[0]
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	hits, err := e.store.Query(ctx, qdrant.QueryParams{
		UserID:         params.UserID.String(),
		Dense:          dense,
		SparseIndices:  sparseVec.Indices,
		SparseValues:   sparseVec.Values,
		Limit:          limit * pointOversample,
		ScoreThreshold: params.ScoreThreshold,
		ReceivedFrom:   params.ReceivedFrom,
		ReceivedTo:     params.ReceivedTo,
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	groups := groupHits(hits)
	ranked := rankGroups(groups, strategy)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	return e.resolve(ctx, params.UserID, ranked, params.IncludeBody)
}

// resolve joins the ranked groups against the database in one batch. Groups
// whose email no longer exists (or belongs to another user) are dropped.
// Body fields ride along only when the caller asked for them.
func (e *Engine) resolve(ctx context.Context, userID uuid.UUID, ranked []emailGroup, includeBody bool) ([]Result, error) {
	ids := make([]uuid.UUID, 0, len(ranked))
	for _, grp := range ranked {
		ids = append(ids, grp.emailID)
	}

	emails, err := e.emails.GetByIDs(dbctx.Context{Ctx: ctx}, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("search: load emails: %w", err)
	}
	byID := make(map[uuid.UUID]*domain.Email, len(emails))
	for _, em := range emails {
		byID[em.ID] = em
	}

	results := make([]Result, 0, len(ranked))
	for _, grp := range ranked {
		email, ok := byID[grp.emailID]
		if !ok {
			e.log.Debug("Dropping stale search hit", "email_id", grp.emailID)
			continue
		}
		if !includeBody {
			email = stripBodies(email)
		}
		results = append(results, Result{
			Email:         email,
			Score:         grp.score,
			BestMatchType: grp.bestMatchType,
		})
	}
	return results, nil
}

// stripBodies copies the email without its full body fields. Preview and
// summary fields stay, so the default response is enough to render a hit.
func stripBodies(email *domain.Email) *domain.Email {
	trimmed := *email
	trimmed.BodyText = ""
	trimmed.BodyHTML = ""
	trimmed.ProcessedBody = ""
	trimmed.TranslatedBody = ""
	return &trimmed
}

type scoredHit struct {
	score     float64
	pointType string
	ordinal   int
	hasOrd    bool
}

type emailGroup struct {
	emailID       uuid.UUID
	hits          []scoredHit
	score         float64
	bestMatchType string
	receivedAt    int64
}

func groupHits(hits []qdrant.ScoredPoint) []emailGroup {
	byEmail := make(map[uuid.UUID]*emailGroup)
	order := make([]uuid.UUID, 0)

	for _, h := range hits {
		rawID, _ := h.Payload[qdrant.PayloadEmailIDKey].(string)
		emailID, err := uuid.Parse(rawID)
		if err != nil || emailID == uuid.Nil {
			continue
		}

		grp, ok := byEmail[emailID]
		if !ok {
			grp = &emailGroup{emailID: emailID}
			if ts, ok := asInt64(h.Payload[qdrant.PayloadReceivedAtKey]); ok {
				grp.receivedAt = ts
			}
			byEmail[emailID] = grp
			order = append(order, emailID)
		}

		sh := scoredHit{score: h.Score}
		sh.pointType, _ = h.Payload[qdrant.PayloadPointTypeKey].(string)
		if ord, ok := asInt64(h.Payload[qdrant.PayloadOrdinalKey]); ok {
			sh.ordinal = int(ord)
			sh.hasOrd = true
		}
		grp.hits = append(grp.hits, sh)
	}

	out := make([]emailGroup, 0, len(byEmail))
	for _, id := range order {
		out = append(out, *byEmail[id])
	}
	return out
}

func rankGroups(groups []emailGroup, strategy Strategy) []emailGroup {
	for i := range groups {
		groups[i].score = scoreGroup(groups[i].hits, strategy)
		groups[i].bestMatchType = bestMatchType(groups[i].hits)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].score != groups[j].score {
			return groups[i].score > groups[j].score
		}
		if groups[i].receivedAt != groups[j].receivedAt {
			return groups[i].receivedAt > groups[j].receivedAt
		}
		return groups[i].emailID.String() < groups[j].emailID.String()
	})
	return groups
}

// bestMatchType is the type of the highest raw-scoring point, before any
// strategy weighting.
func bestMatchType(hits []scoredHit) string {
	best := ""
	bestScore := -1.0
	for _, h := range hits {
		if h.score > bestScore {
			bestScore = h.score
			best = h.pointType
		}
	}
	return best
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	default:
		return 0, false
	}
}
