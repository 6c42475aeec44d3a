package sparsembed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/mailscope-backend/internal/pkg/httpx"
	"github.com/yungbote/mailscope-backend/internal/platform/logger"
)

// Vector is one sparse embedding: parallel index/value arrays over a
// learned vocabulary (SPLADE-style).
type Vector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// Client talks to the sparse embedding sidecar.
type Client interface {
	Embed(ctx context.Context, inputs []string) ([]Vector, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	httpClient *http.Client
	maxRetries int
}

func NewClient(log *logger.Logger) (Client, error) {
	baseURL := strings.TrimSpace(os.Getenv("SPARSE_EMBED_URL"))
	if baseURL == "" {
		return nil, fmt.Errorf("missing SPARSE_EMBED_URL")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeoutSec := 60
	if v := os.Getenv("SPARSE_EMBED_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	maxRetries := 3
	if v := os.Getenv("SPARSE_EMBED_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	return &client{
		log:        log.With("service", "SparseEmbedClient"),
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
	}, nil
}

type sparseHTTPError struct {
	StatusCode int
	Body       string
}

func (e *sparseHTTPError) Error() string {
	return fmt.Sprintf("sparse embed http %d: %s", e.StatusCode, e.Body)
}

func (e *sparseHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

type embedRequest struct {
	Inputs []string `json:"inputs"`
}

type embedResponse struct {
	Vectors []Vector `json:"vectors"`
}

func (c *client) Embed(ctx context.Context, inputs []string) ([]Vector, error) {
	if len(inputs) == 0 {
		return []Vector{}, nil
	}

	var resp embedResponse
	if err := c.do(ctx, "/embed", embedRequest{Inputs: inputs}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Vectors) != len(inputs) {
		return nil, fmt.Errorf("sparse embed count mismatch: requested=%d returned=%d", len(inputs), len(resp.Vectors))
	}
	for i, v := range resp.Vectors {
		if len(v.Indices) != len(v.Values) {
			return nil, fmt.Errorf("sparse embed vector %d: indices/values length mismatch %d/%d", i, len(v.Indices), len(v.Values))
		}
	}
	return resp.Vectors, nil
}

func (c *client) do(ctx context.Context, path string, body any, out any) error {
	backoff := 500 * time.Millisecond

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("sparse embed decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}

		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			return err
		}

		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 5*time.Second))
		c.log.Warn("Sparse embed request retrying",
			"path", path,
			"attempt", attempt+1,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}

func (c *client) doOnce(ctx context.Context, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &sparseHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}
