package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackzampolin/lectern/internal/blocks"
)

func newTestClient(baseURL string) *Client {
	return New(Config{
		APIKey:      "secret-token",
		BaseURL:     baseURL,
		MaxAttempts: 3,
		RetryBase:   time.Millisecond,
	})
}

func TestUploadImage(t *testing.T) {
	var createPayload map[string]string
	var sentBytes []byte
	var sentFilename string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret-token" {
			t.Fatalf("missing auth header")
		}
		if r.Header.Get("Notion-Version") != "2022-06-28" {
			t.Fatalf("missing version header, got %q", r.Header.Get("Notion-Version"))
		}

		switch r.URL.Path {
		case "/file_uploads":
			body, _ := io.ReadAll(r.Body)
			if err := json.Unmarshal(body, &createPayload); err != nil {
				t.Fatalf("unmarshal create payload: %v", err)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"upload-123","status":"pending"}`))

		case "/file_uploads/upload-123/send":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Fatalf("parse multipart: %v", err)
			}
			f, header, err := r.FormFile("file")
			if err != nil {
				t.Fatalf("form file: %v", err)
			}
			defer f.Close()
			sentBytes, _ = io.ReadAll(f)
			sentFilename = header.Filename
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"upload-123","status":"uploaded"}`))

		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	c := newTestClient(server.URL)

	id, err := c.UploadImage(context.Background(), "slide-004.png", []byte("png-bytes"))
	if err != nil {
		t.Fatalf("UploadImage() error = %v", err)
	}
	if id != "upload-123" {
		t.Fatalf("upload id = %q", id)
	}
	if createPayload["filename"] != "slide-004.png" {
		t.Fatalf("create filename = %q", createPayload["filename"])
	}
	if createPayload["content_type"] != "image/png" {
		t.Fatalf("create content_type = %q", createPayload["content_type"])
	}
	if string(sentBytes) != "png-bytes" {
		t.Fatalf("sent bytes = %q", sentBytes)
	}
	if sentFilename != "slide-004.png" {
		t.Fatalf("sent filename = %q", sentFilename)
	}
}

func TestUploadImageRetriesTransient(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/file_uploads":
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"message":"rate limited"}`))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"upload-9"}`))
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"upload-9"}`))
		}
	}))
	defer server.Close()

	c := newTestClient(server.URL)

	id, err := c.UploadImage(context.Background(), "slide.png", []byte("data"))
	if err != nil {
		t.Fatalf("UploadImage() error = %v", err)
	}
	if id != "upload-9" {
		t.Fatalf("upload id = %q", id)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 create calls, got %d", calls.Load())
	}
}

func TestUploadImageHonorsConfiguredAttemptCeiling(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"rate limited"}`))
	}))
	defer server.Close()

	c := New(Config{
		APIKey:      "secret-token",
		BaseURL:     server.URL,
		MaxAttempts: 2,
		RetryBase:   time.Millisecond,
	})

	_, err := c.UploadImage(context.Background(), "slide.png", []byte("data"))
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls.Load() != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", calls.Load())
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusTooManyRequests {
		t.Fatalf("expected 429 APIError, got %v", err)
	}
}

func TestUploadImagePermanentFailure(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"integration lacks capability"}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)

	_, err := c.UploadImage(context.Background(), "slide.png", []byte("data"))
	if err == nil {
		t.Fatal("expected error for 403 response")
	}
	if calls.Load() != 1 {
		t.Fatalf("403 must not be retried, got %d calls", calls.Load())
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.Status != http.StatusForbidden {
		t.Fatalf("status = %d", apiErr.Status)
	}
}

func TestAppendChildren(t *testing.T) {
	var gotPath, gotMethod string
	var payload struct {
		Children []json.RawMessage `json:"children"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","results":[]}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)

	children := []blocks.Block{
		blocks.Paragraph(blocks.TextRun("hello")),
		blocks.Divider(),
	}
	if err := c.AppendChildren(context.Background(), "page-1", children); err != nil {
		t.Fatalf("AppendChildren() error = %v", err)
	}
	if gotMethod != http.MethodPatch {
		t.Fatalf("method = %s", gotMethod)
	}
	if gotPath != "/blocks/page-1/children" {
		t.Fatalf("path = %s", gotPath)
	}
	if len(payload.Children) != 2 {
		t.Fatalf("children = %d, want 2", len(payload.Children))
	}
	if !strings.Contains(string(payload.Children[0]), `"type":"paragraph"`) {
		t.Fatalf("first child = %s", payload.Children[0])
	}
}

func TestAppendChildrenEmptyIsNoop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for empty batch")
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	if err := c.AppendChildren(context.Background(), "page-1", nil); err != nil {
		t.Fatalf("AppendChildren() error = %v", err)
	}
}

func TestCreatePage(t *testing.T) {
	var payload map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pages" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"page","id":"page-new"}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)

	id, err := c.CreatePage(context.Background(), "parent-1", "Lecture 12: Markov Chains")
	if err != nil {
		t.Fatalf("CreatePage() error = %v", err)
	}
	if id != "page-new" {
		t.Fatalf("page id = %q", id)
	}

	parent, _ := payload["parent"].(map[string]any)
	if parent["page_id"] != "parent-1" {
		t.Fatalf("parent = %v", payload["parent"])
	}
	raw, _ := json.Marshal(payload["properties"])
	if !strings.Contains(string(raw), "Lecture 12: Markov Chains") {
		t.Fatalf("properties = %s", raw)
	}
}
