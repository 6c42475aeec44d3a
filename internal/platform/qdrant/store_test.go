package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/yungbote/mailscope-backend/internal/platform/logger"
)

func TestStoreUpsertRequestShape(t *testing.T) {
	var captured map[string]any
	s := newTestStore(t, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPut {
			t.Fatalf("method: want=%s got=%s", http.MethodPut, r.Method)
		}
		if r.URL.Path != "/collections/emails/points" {
			t.Fatalf("path: want=%q got=%q", "/collections/emails/points", r.URL.Path)
		}
		if r.URL.RawQuery != "wait=true" {
			t.Fatalf("query: want=%q got=%q", "wait=true", r.URL.RawQuery)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, map[string]any{"status": "acknowledged"}), nil
	})

	err := s.UpsertPoints(context.Background(), []Point{
		{
			ID:            "point-1",
			Dense:         []float32{1, 2, 3},
			SparseIndices: []uint32{7, 42},
			SparseValues:  []float32{0.5, 0.25},
			Payload: map[string]any{
				PayloadEmailIDKey:   "email-1",
				PayloadUserIDKey:    "user-1",
				PayloadPointTypeKey: "chunk",
				PayloadOrdinalKey:   0,
			},
		},
		{
			ID:      "point-2",
			Dense:   []float32{4, 5, 6},
			Payload: map[string]any{PayloadPointTypeKey: "full"},
		},
	})
	if err != nil {
		t.Fatalf("UpsertPoints: %v", err)
	}

	pointsRaw, ok := captured["points"].([]any)
	if !ok {
		t.Fatalf("points type: got=%T", captured["points"])
	}
	if len(pointsRaw) != 2 {
		t.Fatalf("points length: want=2 got=%d", len(pointsRaw))
	}

	first, ok := pointsRaw[0].(map[string]any)
	if !ok {
		t.Fatalf("point[0] type: got=%T", pointsRaw[0])
	}
	vector, ok := first["vector"].(map[string]any)
	if !ok {
		t.Fatalf("vector type: got=%T", first["vector"])
	}
	if _, exists := vector[DenseVectorName]; !exists {
		t.Fatalf("missing dense vector %q", DenseVectorName)
	}
	sparse, ok := vector[SparseVectorName].(map[string]any)
	if !ok {
		t.Fatalf("sparse vector type: got=%T", vector[SparseVectorName])
	}
	indices, ok := sparse["indices"].([]any)
	if !ok || len(indices) != 2 {
		t.Fatalf("sparse indices: got=%v", sparse["indices"])
	}

	second, ok := pointsRaw[1].(map[string]any)
	if !ok {
		t.Fatalf("point[1] type: got=%T", pointsRaw[1])
	}
	vector2, ok := second["vector"].(map[string]any)
	if !ok {
		t.Fatalf("vector2 type: got=%T", second["vector"])
	}
	if _, exists := vector2[SparseVectorName]; exists {
		t.Fatalf("point without sparse values must omit %q", SparseVectorName)
	}
}

func TestStoreUpsertRejectsDimensionMismatch(t *testing.T) {
	s := newTestStore(t, func(r *http.Request) (*http.Response, error) {
		t.Fatalf("no request expected")
		return nil, nil
	})

	err := s.UpsertPoints(context.Background(), []Point{
		{ID: "point-1", Dense: []float32{1, 2}},
	})
	var opErrTyped *OperationError
	if !errors.As(err, &opErrTyped) {
		t.Fatalf("expected OperationError, got=%T", err)
	}
	if opErrTyped.Code != OperationErrorValidation {
		t.Fatalf("error code: want=%q got=%q", OperationErrorValidation, opErrTyped.Code)
	}
}

func TestStoreQueryFusedRequestShape(t *testing.T) {
	var captured map[string]any
	s := newTestStore(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/collections/emails/points/query" {
			t.Fatalf("path: want=%q got=%q", "/collections/emails/points/query", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, map[string]any{
			"points": []map[string]any{
				{"id": "point-a", "score": 0.9, "payload": map[string]any{PayloadEmailIDKey: "email-1"}},
				{"id": "point-b", "score": 0.4, "payload": map[string]any{PayloadEmailIDKey: "email-2"}},
			},
		}), nil
	})

	from := time.Unix(1700000000, 0).UTC()
	hits, err := s.Query(context.Background(), QueryParams{
		UserID:        "user-1",
		Dense:         []float32{1, 2, 3},
		SparseIndices: []uint32{3},
		SparseValues:  []float32{0.7},
		Limit:         5,
		ReceivedFrom:  &from,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits length: want=2 got=%d", len(hits))
	}
	if hits[0].ID != "point-a" || hits[0].Score != 0.9 {
		t.Fatalf("hit[0]: got=%+v", hits[0])
	}

	prefetch, ok := captured["prefetch"].([]any)
	if !ok {
		t.Fatalf("prefetch type: got=%T", captured["prefetch"])
	}
	if len(prefetch) != 2 {
		t.Fatalf("prefetch legs: want=2 got=%d", len(prefetch))
	}
	denseLeg, ok := prefetch[0].(map[string]any)
	if !ok {
		t.Fatalf("dense leg type: got=%T", prefetch[0])
	}
	if denseLeg["using"] != DenseVectorName {
		t.Fatalf("dense leg using: want=%q got=%v", DenseVectorName, denseLeg["using"])
	}
	if denseLeg["limit"] != float64(15) {
		t.Fatalf("dense leg limit: want=15 got=%v", denseLeg["limit"])
	}
	filter, ok := denseLeg["filter"].(map[string]any)
	if !ok {
		t.Fatalf("filter type: got=%T", denseLeg["filter"])
	}
	must, ok := filter["must"].([]any)
	if !ok || len(must) != 2 {
		t.Fatalf("filter must: got=%v", filter["must"])
	}

	fusion, ok := captured["query"].(map[string]any)
	if !ok || fusion["fusion"] != "rrf" {
		t.Fatalf("fusion query: got=%v", captured["query"])
	}
	if captured["limit"] != float64(5) {
		t.Fatalf("limit: want=5 got=%v", captured["limit"])
	}
}

func TestStoreQueryScoreThreshold(t *testing.T) {
	var captured map[string]any
	s := newTestStore(t, func(r *http.Request) (*http.Response, error) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, map[string]any{"points": []map[string]any{}}), nil
	})

	threshold := 0.42
	_, err := s.Query(context.Background(), QueryParams{
		UserID:         "user-1",
		Dense:          []float32{1, 2, 3},
		Limit:          3,
		ScoreThreshold: &threshold,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if captured["score_threshold"] != 0.42 {
		t.Fatalf("score_threshold: want=0.42 got=%v", captured["score_threshold"])
	}

	captured = nil
	_, err = s.Query(context.Background(), QueryParams{
		UserID: "user-1",
		Dense:  []float32{1, 2, 3},
		Limit:  3,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if _, present := captured["score_threshold"]; present {
		t.Fatalf("score_threshold must be omitted when unset")
	}
}

func TestStoreQueryOmitsSparseLegWithoutSparseQuery(t *testing.T) {
	var captured map[string]any
	s := newTestStore(t, func(r *http.Request) (*http.Response, error) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, map[string]any{"points": []map[string]any{}}), nil
	})

	_, err := s.Query(context.Background(), QueryParams{
		UserID: "user-1",
		Dense:  []float32{1, 2, 3},
		Limit:  3,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	prefetch, ok := captured["prefetch"].([]any)
	if !ok {
		t.Fatalf("prefetch type: got=%T", captured["prefetch"])
	}
	if len(prefetch) != 1 {
		t.Fatalf("prefetch legs: want=1 got=%d", len(prefetch))
	}
}

func TestStoreQueryRequiresUserID(t *testing.T) {
	s := newTestStore(t, func(r *http.Request) (*http.Response, error) {
		t.Fatalf("no request expected")
		return nil, nil
	})
	_, err := s.Query(context.Background(), QueryParams{
		Dense: []float32{1, 2, 3},
	})
	var opErrTyped *OperationError
	if !errors.As(err, &opErrTyped) {
		t.Fatalf("expected OperationError, got=%T", err)
	}
	if opErrTyped.Code != OperationErrorValidation {
		t.Fatalf("error code: want=%q got=%q", OperationErrorValidation, opErrTyped.Code)
	}
}

func TestStoreDeleteByEmailFilter(t *testing.T) {
	var captured map[string]any
	s := newTestStore(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/collections/emails/points/delete" {
			t.Fatalf("path: got=%q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, map[string]any{"status": "acknowledged"}), nil
	})

	if err := s.DeleteByEmail(context.Background(), "user-1", "email-1"); err != nil {
		t.Fatalf("DeleteByEmail: %v", err)
	}
	filter, ok := captured["filter"].(map[string]any)
	if !ok {
		t.Fatalf("filter type: got=%T", captured["filter"])
	}
	must, ok := filter["must"].([]any)
	if !ok || len(must) != 2 {
		t.Fatalf("filter must: got=%v", filter["must"])
	}
}

func TestClassifyHTTPCallErrorTimeout(t *testing.T) {
	err := classifyHTTPCallError("query", "timeout", context.DeadlineExceeded)
	var opErrTyped *OperationError
	if !errors.As(err, &opErrTyped) {
		t.Fatalf("expected OperationError, got=%T", err)
	}
	if opErrTyped.Code != OperationErrorTimeout {
		t.Fatalf("error code: want=%q got=%q", OperationErrorTimeout, opErrTyped.Code)
	}
}

func TestClassifyHTTPCallErrorTransport(t *testing.T) {
	err := classifyHTTPCallError("query", "transport", fmt.Errorf("boom"))
	var opErrTyped *OperationError
	if !errors.As(err, &opErrTyped) {
		t.Fatalf("expected OperationError, got=%T", err)
	}
	if opErrTyped.Code != OperationErrorTransportFailed {
		t.Fatalf("error code: want=%q got=%q", OperationErrorTransportFailed, opErrTyped.Code)
	}
}

func newTestStore(t *testing.T, roundTrip func(*http.Request) (*http.Response, error)) *store {
	t.Helper()
	client := &http.Client{
		Transport: roundTripFunc(roundTrip),
	}
	return &store{
		log:     newTestLogger(t),
		cfg:     Config{Collection: "emails", VectorDim: 3},
		baseURL: "http://qdrant.local",
		http:    client,
	}
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() {
		log.Sync()
	})
	return log
}

func okResponse(t *testing.T, result any) *http.Response {
	t.Helper()
	payload := map[string]any{
		"result": result,
		"status": "ok",
		"time":   0.001,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader(raw)),
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
