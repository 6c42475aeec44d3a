package graphmail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/mailscope-backend/internal/pkg/httpx"
	"github.com/yungbote/mailscope-backend/internal/platform/logger"
)

// Message is the provider representation of one mail item.
type Message struct {
	ID                string       `json:"id"`
	ConversationID    string       `json:"conversationId"`
	InternetMessageID string       `json:"internetMessageId"`
	Subject           string       `json:"subject"`
	BodyPreview       string       `json:"bodyPreview"`
	Body              MessageBody  `json:"body"`
	From              *Recipient   `json:"from"`
	ReplyTo           []Recipient  `json:"replyTo"`
	ToRecipients      []Recipient  `json:"toRecipients"`
	CcRecipients      []Recipient  `json:"ccRecipients"`
	BccRecipients     []Recipient  `json:"bccRecipients"`
	Categories        []string     `json:"categories"`
	Attachments       []Attachment `json:"attachments"`
	HasAttachments    bool         `json:"hasAttachments"`
	IsRead            bool         `json:"isRead"`
	IsDraft           bool         `json:"isDraft"`
	SentDateTime      *time.Time   `json:"sentDateTime"`
	ReceivedDateTime  *time.Time   `json:"receivedDateTime"`
	ParentFolderID    string       `json:"parentFolderId"`

	// Removed marks a tombstone entry in a delta page.
	Removed *RemovedMarker `json:"@removed"`
}

type MessageBody struct {
	ContentType string `json:"contentType"` // "text" | "html"
	Content     string `json:"content"`
}

type Recipient struct {
	EmailAddress struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type Attachment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	IsInline    bool   `json:"isInline"`
}

type RemovedMarker struct {
	Reason string `json:"reason"`
}

// DeltaPage is one page of a folder delta walk. NextLink pages within the
// current walk; DeltaLink is the cursor to store for the next sweep.
type DeltaPage struct {
	Messages  []Message
	NextLink  string
	DeltaLink string
}

type Client interface {
	FetchMessage(ctx context.Context, messageID string) (*Message, error)
	// ListFolderDelta starts or resumes a delta walk. Pass pageLink to follow
	// a NextLink, otherwise the walk starts from deltaToken (or from scratch
	// when both are empty).
	ListFolderDelta(ctx context.Context, folderID, deltaToken, pageLink string) (*DeltaPage, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	pageSize   int
}

func NewClient(log *logger.Logger) (Client, error) {
	baseURL := strings.TrimSpace(os.Getenv("GRAPH_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://graph.microsoft.com/v1.0"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	token := strings.TrimSpace(os.Getenv("GRAPH_ACCESS_TOKEN"))
	if token == "" {
		return nil, fmt.Errorf("missing GRAPH_ACCESS_TOKEN")
	}

	timeoutSec := 60
	if v := os.Getenv("GRAPH_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	maxRetries := 3
	if v := os.Getenv("GRAPH_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	pageSize := 50
	if v := os.Getenv("GRAPH_DELTA_PAGE_SIZE"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			pageSize = parsed
		}
	}

	return &client{
		log:        log.With("service", "GraphMailClient"),
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
		pageSize:   pageSize,
	}, nil
}

type graphHTTPError struct {
	StatusCode int
	Body       string
}

func (e *graphHTTPError) Error() string {
	return fmt.Sprintf("graph http %d: %s", e.StatusCode, e.Body)
}

func (e *graphHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// ErrNotFound marks a message the provider no longer has.
var ErrNotFound = errors.New("graphmail: message not found")

// IsNotFound reports whether err is the provider's 404 for a message that no
// longer exists (moved or hard-deleted between enqueue and fetch).
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var httpErr *graphHTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound
}

func (c *client) FetchMessage(ctx context.Context, messageID string) (*Message, error) {
	if strings.TrimSpace(messageID) == "" {
		return nil, fmt.Errorf("message id required")
	}
	path := "/me/messages/" + url.PathEscape(messageID) + "?$expand=attachments($select=id,name,contentType,size,isInline)"
	var msg Message
	if err := c.get(ctx, c.baseURL+path, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

type deltaResponse struct {
	Value     []Message `json:"value"`
	NextLink  string    `json:"@odata.nextLink"`
	DeltaLink string    `json:"@odata.deltaLink"`
}

func (c *client) ListFolderDelta(ctx context.Context, folderID, deltaToken, pageLink string) (*DeltaPage, error) {
	var target string
	switch {
	case strings.TrimSpace(pageLink) != "":
		target = pageLink
	case strings.TrimSpace(deltaToken) != "":
		target = deltaToken
	default:
		if strings.TrimSpace(folderID) == "" {
			return nil, fmt.Errorf("folder id required")
		}
		target = fmt.Sprintf("%s/me/mailFolders/%s/messages/delta?$top=%d",
			c.baseURL, url.PathEscape(folderID), c.pageSize)
	}

	var resp deltaResponse
	if err := c.get(ctx, target, &resp); err != nil {
		return nil, err
	}
	return &DeltaPage{
		Messages:  resp.Value,
		NextLink:  resp.NextLink,
		DeltaLink: resp.DeltaLink,
	}, nil
}

func (c *client) get(ctx context.Context, rawURL string, out any) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, rawURL)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("graph decode error: %w; raw=%s", uErr, truncate(raw))
			}
			return nil
		}

		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			return err
		}

		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 30*time.Second))
		c.log.Warn("Graph request retrying",
			"attempt", attempt+1,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}

func (c *client) doOnce(ctx context.Context, rawURL string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

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
		return resp, raw, &graphHTTPError{StatusCode: resp.StatusCode, Body: truncate(raw)}
	}
	return resp, raw, nil
}

func truncate(raw []byte) string {
	const max = 1024
	if len(raw) <= max {
		return string(raw)
	}
	return string(raw[:max]) + "..."
}
