package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
)

// apiClient talks to the knowledge base HTTP API.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.Status, e.Message)
}

type submitResult struct {
	Message    string `json:"message"`
	JobID      string `json:"job_id"`
	Processing bool   `json:"processing"`
}

func (c *apiClient) upload(ctx context.Context, chatID, path string) (*submitResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		part, err := writer.CreateFormFile("pdf", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, file)
		}
		if err == nil {
			err = writer.Close()
		}
		_ = pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatURL(chatID, "documents"), pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var out submitResult
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) jobStatus(ctx context.Context, jobID string) (*domain.UploadJob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, err
	}
	var job domain.UploadJob
	if err := c.do(req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *apiClient) retrieve(ctx context.Context, chatID, query string, topK int) (*domain.RetrievalResult, error) {
	payload, err := json.Marshal(map[string]any{"query": query, "top_k": topK})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatURL(chatID, "retrieve"), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out domain.RetrievalResult
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) remove(ctx context.Context, chatID, filename string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.chatURL(chatID, "documents/"+url.PathEscape(filename)), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// waitForJob polls until the job reaches a terminal status, calling onUpdate
// whenever the stage or progress changes.
func (c *apiClient) waitForJob(ctx context.Context, jobID string, interval time.Duration, onUpdate func(*domain.UploadJob)) (*domain.UploadJob, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last domain.UploadJob
	for {
		job, err := c.jobStatus(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Stage != last.Stage || job.Progress != last.Progress || job.Status != last.Status {
			onUpdate(job)
			last = *job
		}
		if job.Status.IsTerminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *apiClient) chatURL(chatID, suffix string) string {
	return c.baseURL + "/v1/chats/" + url.PathEscape(chatID) + "/" + suffix
}

func (c *apiClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var body struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &body) != nil || body.Error == "" {
			body.Error = strings.TrimSpace(string(raw))
		}
		return &apiError{Status: resp.StatusCode, Message: body.Error}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
