// Package workspace is the HTTP client for the destination document platform:
// two-step image uploads, child-page creation, and ordered block appends.
package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/lectern/internal/blocks"
)

const defaultBaseURL = "https://api.notion.com/v1"

// Config configures the workspace client.
type Config struct {
	APIKey      string
	Version     string // API version header value
	BaseURL     string // optional (tests)
	Timeout     time.Duration
	MaxAttempts uint
	RetryBase   time.Duration
	HTTPClient  *http.Client // optional (tests)
	Logger      *slog.Logger
}

// Client talks to the platform API. All calls retry transient failures with
// exponential backoff; a retried append is safe only because the coordinator
// never issues the next append until the previous one succeeded.
type Client struct {
	apiKey      string
	version     string
	baseURL     string
	maxAttempts uint
	retryBase   time.Duration
	httpClient  *http.Client
	logger      *slog.Logger
}

// New creates a workspace client.
func New(cfg Config) *Client {
	if cfg.Version == "" {
		cfg.Version = "2022-06-28"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBase == 0 {
		cfg.RetryBase = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		apiKey:      cfg.APIKey,
		version:     cfg.Version,
		baseURL:     cfg.BaseURL,
		maxAttempts: cfg.MaxAttempts,
		retryBase:   cfg.RetryBase,
		httpClient:  httpClient,
		logger:      cfg.Logger.With("component", "workspace"),
	}
}

// APIError is a non-2xx platform response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("workspace API error: status %d: %s", e.Status, e.Body)
}

// Retryable reports whether the failure is worth another attempt.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests ||
		e.Status == http.StatusRequestTimeout ||
		e.Status >= 500
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	// Transport errors (resets, timeouts) have no status; retry them.
	return true
}

// UploadImage pushes one image through the platform's two-step upload flow
// and returns the file upload ID for referencing it from an image block.
func (c *Client) UploadImage(ctx context.Context, filename string, data []byte) (string, error) {
	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var uploadID string
	err := c.do(ctx, "upload image", func() error {
		id, err := c.createFileUpload(ctx, filename, contentType)
		if err != nil {
			return err
		}
		if err := c.sendFileUpload(ctx, id, filename, contentType, data); err != nil {
			return err
		}
		uploadID = id
		return nil
	})
	if err != nil {
		return "", err
	}

	c.logger.Debug("uploaded image", "filename", filename, "bytes", len(data), "upload_id", uploadID)
	return uploadID, nil
}

func (c *Client) createFileUpload(ctx context.Context, filename, contentType string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"filename":     filename,
		"content_type": contentType,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/file_uploads", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	var created struct {
		ID string `json:"id"`
	}
	if err := c.roundTrip(req, &created); err != nil {
		return "", fmt.Errorf("create file upload: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("create file upload: response missing id")
	}
	return created.ID, nil
}

func (c *Client) sendFileUpload(ctx context.Context, uploadID, filename, contentType string, data []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreatePart(fileHeader(filename, contentType))
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/file_uploads/%s/send", c.baseURL, uploadID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	if err := c.roundTrip(req, nil); err != nil {
		return fmt.Errorf("send file upload: %w", err)
	}
	return nil
}

// AppendChildren appends one batch of blocks to the end of a page. The caller
// is responsible for keeping batches under the platform's block ceiling.
func (c *Client) AppendChildren(ctx context.Context, pageID string, children []blocks.Block) error {
	if len(children) == 0 {
		return nil
	}

	payload, err := json.Marshal(map[string]any{"children": children})
	if err != nil {
		return fmt.Errorf("encode children: %w", err)
	}

	return c.do(ctx, "append children", func() error {
		url := fmt.Sprintf("%s/blocks/%s/children", c.baseURL, pageID)
		req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		c.setHeaders(req)
		req.Header.Set("Content-Type", "application/json")
		return c.roundTrip(req, nil)
	})
}

// CreatePage creates a child page under parentID and returns the new page ID.
func (c *Client) CreatePage(ctx context.Context, parentID, title string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"parent": map[string]string{"page_id": parentID},
		"properties": map[string]any{
			"title": map[string]any{
				"title": []map[string]any{
					{"text": map[string]string{"content": title}},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}

	var created struct {
		ID string `json:"id"`
	}
	err = c.do(ctx, "create page", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/pages", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		c.setHeaders(req)
		req.Header.Set("Content-Type", "application/json")
		return c.roundTrip(req, &created)
	})
	if err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("create page: response missing id")
	}

	c.logger.Info("created page", "title", title, "page_id", created.ID)
	return created.ID, nil
}

// do runs op under the client retry policy.
func (c *Client) do(ctx context.Context, name string, op func() error) error {
	return retry.Do(op,
		retry.Context(ctx),
		retry.Attempts(c.maxAttempts),
		retry.Delay(c.retryBase),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(500*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("workspace call failed, retrying",
				"op", name,
				"attempt", n+1,
				"error", err)
		}),
	)
}

func (c *Client) roundTrip(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Notion-Version", c.version)
	req.Header.Set("Accept", "application/json")
}

func fileHeader(filename, contentType string) textproto.MIMEHeader {
	return textproto.MIMEHeader{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="file"; filename=%q`, filename)},
		"Content-Type":        {contentType},
	}
}
