package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/mailscope-backend/internal/platform/logger"
)

const (
	// Named vectors inside the collection. Every point carries both.
	DenseVectorName  = "content"
	SparseVectorName = "sparse_content"

	// Payload keys written at upsert and read back by search.
	PayloadUserIDKey     = "user_id"
	PayloadEmailIDKey    = "email_id"
	PayloadPointTypeKey  = "point_type"
	PayloadOrdinalKey    = "ordinal"
	PayloadReceivedAtKey = "received_at"
	PayloadSubjectKey    = "subject"
	PayloadFromKey       = "from"

	maxErrorBodyBytes = 1024
)

// Point is one upsert unit: dense + sparse vectors plus payload.
type Point struct {
	ID            string
	Dense         []float32
	SparseIndices []uint32
	SparseValues  []float32
	Payload       map[string]any
}

// ScoredPoint is one fused-query hit.
type ScoredPoint struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// QueryParams describes one hybrid query. Both vector legs are prefetched
// at an oversampled limit and fused server-side with reciprocal rank fusion.
type QueryParams struct {
	UserID        string
	Dense         []float32
	SparseIndices []uint32
	SparseValues  []float32
	Limit         int
	// ScoreThreshold drops fused hits scoring below it when set.
	ScoreThreshold *float64
	ReceivedFrom   *time.Time
	ReceivedTo     *time.Time
}

type Store interface {
	// EnsureCollection creates the collection and its payload indexes when
	// absent. Safe to call on every boot.
	EnsureCollection(ctx context.Context) error
	UpsertPoints(ctx context.Context, points []Point) error
	DeleteByEmail(ctx context.Context, userID, emailID string) error
	Query(ctx context.Context, params QueryParams) ([]ScoredPoint, error)
}

type store struct {
	log     *logger.Logger
	cfg     Config
	baseURL string
	http    *http.Client
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

func NewStore(log *logger.Logger, cfg Config) (Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateConfig(cfg, true); err != nil {
		return nil, err
	}
	return &store{
		log:     log.With("service", "QdrantStore"),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}, nil
}

func (s *store) EnsureCollection(ctx context.Context) error {
	const op = "ensure_collection"

	exists, err := s.collectionExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		// m=0 disables the global HNSW graph; payload_m builds per-tenant
		// graphs under the user_id index instead.
		req := map[string]any{
			"vectors": map[string]any{
				DenseVectorName: map[string]any{
					"size":     s.cfg.VectorDim,
					"distance": "Cosine",
				},
			},
			"sparse_vectors": map[string]any{
				SparseVectorName: map[string]any{},
			},
			"hnsw_config": map[string]any{
				"m":         0,
				"payload_m": 16,
			},
		}
		if err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath(""), req, nil); err != nil {
			return err
		}
		s.log.Info("Qdrant collection created",
			"collection", s.cfg.Collection,
			"vector_dim", s.cfg.VectorDim,
		)
	}

	indexes := []map[string]any{
		{
			"field_name": PayloadUserIDKey,
			"field_schema": map[string]any{
				"type":      "keyword",
				"is_tenant": true,
			},
		},
		{
			"field_name":   PayloadReceivedAtKey,
			"field_schema": "integer",
		},
	}
	for _, idx := range indexes {
		err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/index?wait=true"), idx, nil)
		if err != nil && !isAlreadyExists(err) {
			return err
		}
	}
	return nil
}

func (s *store) collectionExists(ctx context.Context) (bool, error) {
	const op = "collection_exists"
	var result struct {
		Exists bool `json:"exists"`
	}
	if err := s.doJSON(ctx, op, http.MethodGet, s.collectionPath("/exists"), nil, &result); err != nil {
		return false, err
	}
	return result.Exists, nil
}

func (s *store) UpsertPoints(ctx context.Context, points []Point) error {
	const op = "upsert"
	if len(points) == 0 {
		return nil
	}

	body := make([]map[string]any, 0, len(points))
	for _, p := range points {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return opErr(op, OperationErrorValidation, "point id is required", nil)
		}
		if len(p.Dense) == 0 {
			return opErr(op, OperationErrorValidation, fmt.Sprintf("point %q has empty dense vector", id), nil)
		}
		if s.cfg.VectorDim > 0 && len(p.Dense) != s.cfg.VectorDim {
			return opErr(op, OperationErrorValidation,
				fmt.Sprintf("point %q dimension mismatch: expected=%d got=%d", id, s.cfg.VectorDim, len(p.Dense)), nil)
		}
		if len(p.SparseIndices) != len(p.SparseValues) {
			return opErr(op, OperationErrorValidation,
				fmt.Sprintf("point %q sparse indices/values mismatch: %d/%d", id, len(p.SparseIndices), len(p.SparseValues)), nil)
		}
		vector := map[string]any{
			DenseVectorName: p.Dense,
		}
		if len(p.SparseIndices) > 0 {
			vector[SparseVectorName] = map[string]any{
				"indices": p.SparseIndices,
				"values":  p.SparseValues,
			}
		}
		body = append(body, map[string]any{
			"id":      id,
			"vector":  vector,
			"payload": p.Payload,
		})
	}

	req := map[string]any{"points": body}
	return s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/points?wait=true"), req, nil)
}

func (s *store) DeleteByEmail(ctx context.Context, userID, emailID string) error {
	const op = "delete_by_email"
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(emailID) == "" {
		return opErr(op, OperationErrorValidation, "user id and email id required", nil)
	}
	req := map[string]any{
		"filter": map[string]any{
			"must": []any{
				matchCondition(PayloadUserIDKey, userID),
				matchCondition(PayloadEmailIDKey, emailID),
			},
		},
	}
	return s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/delete?wait=true"), req, nil)
}

type queryResultItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

func (s *store) Query(ctx context.Context, params QueryParams) ([]ScoredPoint, error) {
	const op = "query"
	if strings.TrimSpace(params.UserID) == "" {
		return nil, opErr(op, OperationErrorValidation, "user id required", nil)
	}
	if len(params.Dense) == 0 {
		return nil, opErr(op, OperationErrorValidation, "dense query vector required", nil)
	}
	if s.cfg.VectorDim > 0 && len(params.Dense) != s.cfg.VectorDim {
		return nil, opErr(op, OperationErrorValidation,
			fmt.Sprintf("query vector dimension mismatch: expected=%d got=%d", s.cfg.VectorDim, len(params.Dense)), nil)
	}
	if len(params.SparseIndices) != len(params.SparseValues) {
		return nil, opErr(op, OperationErrorValidation,
			fmt.Sprintf("sparse query indices/values mismatch: %d/%d", len(params.SparseIndices), len(params.SparseValues)), nil)
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}

	filter := s.queryFilter(params)
	// Each leg oversamples so fusion has enough candidates to rank.
	prefetchLimit := limit * 3

	prefetch := []map[string]any{
		{
			"query":  params.Dense,
			"using":  DenseVectorName,
			"limit":  prefetchLimit,
			"filter": filter,
		},
	}
	if len(params.SparseIndices) > 0 {
		prefetch = append(prefetch, map[string]any{
			"query": map[string]any{
				"indices": params.SparseIndices,
				"values":  params.SparseValues,
			},
			"using":  SparseVectorName,
			"limit":  prefetchLimit,
			"filter": filter,
		})
	}

	req := map[string]any{
		"prefetch":     prefetch,
		"query":        map[string]any{"fusion": "rrf"},
		"limit":        limit,
		"with_payload": true,
	}
	if params.ScoreThreshold != nil {
		req["score_threshold"] = *params.ScoreThreshold
	}

	var result struct {
		Points []queryResultItem `json:"points"`
	}
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/query"), req, &result); err != nil {
		return nil, err
	}

	out := make([]ScoredPoint, 0, len(result.Points))
	for _, item := range result.Points {
		id := decodePointID(item.ID)
		if id == "" {
			continue
		}
		out = append(out, ScoredPoint{
			ID:      id,
			Score:   item.Score,
			Payload: item.Payload,
		})
	}
	return out, nil
}

func (s *store) queryFilter(params QueryParams) map[string]any {
	must := []any{
		matchCondition(PayloadUserIDKey, params.UserID),
	}
	if params.ReceivedFrom != nil || params.ReceivedTo != nil {
		rng := map[string]any{}
		if params.ReceivedFrom != nil {
			rng["gte"] = params.ReceivedFrom.Unix()
		}
		if params.ReceivedTo != nil {
			rng["lte"] = params.ReceivedTo.Unix()
		}
		must = append(must, map[string]any{
			"key":   PayloadReceivedAtKey,
			"range": rng,
		})
	}
	return map[string]any{"must": must}
}

func (s *store) collectionPath(suffix string) string {
	path := "/collections/" + s.cfg.Collection
	if strings.TrimSpace(suffix) == "" {
		return path
	}
	return path + suffix
}

func matchCondition(key string, value any) map[string]any {
	return map[string]any{
		"key":   key,
		"match": map[string]any{"value": value},
	}
}

func (s *store) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 10*maxErrorBodyBytes))
	if readErr != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	var envelope qdrantEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(envelope.Status); statusErr != "" {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    statusErr,
		}
	}

	if out == nil {
		return nil
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func classifyHTTPCallError(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}

	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}

	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil {
		if strings.TrimSpace(statusObject.Error) != "" {
			return strings.TrimSpace(statusObject.Error)
		}
	}

	return fmt.Sprintf("qdrant status=%s", status)
}

func isAlreadyExists(err error) bool {
	var opErrTyped *OperationError
	if !errors.As(err, &opErrTyped) {
		return false
	}
	msg := strings.ToLower(opErrTyped.Message)
	return strings.Contains(msg, "already exists") || opErrTyped.StatusCode == http.StatusConflict
}

func decodePointID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var idString string
	if err := json.Unmarshal(raw, &idString); err == nil {
		return strings.TrimSpace(idString)
	}
	var idNumber int64
	if err := json.Unmarshal(raw, &idNumber); err == nil {
		return fmt.Sprintf("%d", idNumber)
	}
	return strings.TrimSpace(string(raw))
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}
