// Package llamaparse extracts page text through the LlamaCloud parsing API.
package llamaparse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/chat-knowledge-base/internal/core/ports"
	"github.com/kirillkom/chat-knowledge-base/internal/infrastructure/resilience"
)

const (
	DefaultBaseURL      = "https://api.cloud.llamaindex.ai"
	DefaultTimeout      = 600 * time.Second
	defaultPollInterval = 2 * time.Second
	parsingInstruction  = "Extract all text, tables, and structure."
)

type Options struct {
	BaseURL      string
	Timeout      time.Duration
	PollInterval time.Duration
	Executor     *resilience.Executor
	Logger       *slog.Logger
}

type Extractor struct {
	apiKey       string
	baseURL      string
	timeout      time.Duration
	pollInterval time.Duration
	httpClient   *http.Client
	executor     *resilience.Executor
	logger       *slog.Logger
}

func New(apiKey string, opts Options) *Extractor {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Executor == nil {
		opts.Executor = resilience.NewExecutor(resilience.DefaultPolicy(), resilience.WithLogger(opts.Logger))
	}
	return &Extractor{
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		timeout:      opts.Timeout,
		pollInterval: opts.PollInterval,
		httpClient:   &http.Client{Timeout: 2 * time.Minute},
		executor:     opts.Executor,
		logger:       opts.Logger,
	}
}

var _ ports.PageExtractor = (*Extractor)(nil)

type jobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error_message,omitempty"`
}

type resultPage struct {
	Page      json.RawMessage `json:"page"`
	PageLabel json.RawMessage `json:"page_label"`
	Text      string          `json:"text"`
	MD        string          `json:"md"`
}

type resultResponse struct {
	Pages []resultPage `json:"pages"`
}

// ExtractPages uploads the file, waits for the parse job and groups the
// returned parts by page number.
func (e *Extractor) ExtractPages(ctx context.Context, path string, report ports.ProgressFunc) (map[int]string, error) {
	if report == nil {
		report = func(float64) {}
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	jobID, err := e.upload(ctx, path)
	if err != nil {
		return nil, err
	}
	report(10)
	e.logger.Info("llamaparse_job_started", "parse_job_id", jobID, "file", filepath.Base(path))

	if err := e.waitForJob(ctx, jobID, report); err != nil {
		return nil, err
	}

	var result resultResponse
	err = e.executor.Execute(ctx, "llamaparse.result", func(callCtx context.Context) error {
		return e.getJSON(callCtx, "/api/v1/parsing/job/"+jobID+"/result/json", &result, "result")
	}, resilience.ClassifyHTTP)
	if err != nil {
		return nil, resilience.MarkTemporary("llamaparse result", err, resilience.ClassifyHTTP)
	}
	report(100)
	return groupPages(result.Pages), nil
}

func (e *Extractor) upload(ctx context.Context, path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}

	var job jobResponse
	err = e.executor.Execute(ctx, "llamaparse.upload", func(callCtx context.Context) error {
		body := &bytes.Buffer{}
		mw := multipart.NewWriter(body)
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err != nil {
			return fmt.Errorf("create form file: %w", err)
		}
		if _, err := part.Write(raw); err != nil {
			return fmt.Errorf("write form file: %w", err)
		}
		if err := mw.WriteField("parsing_instruction", parsingInstruction); err != nil {
			return fmt.Errorf("write form field: %w", err)
		}
		if err := mw.Close(); err != nil {
			return fmt.Errorf("close multipart body: %w", err)
		}

		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, e.baseURL+"/api/v1/parsing/upload", body)
		if err != nil {
			return fmt.Errorf("create upload request: %w", err)
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return e.do(req, &job, "upload")
	}, resilience.ClassifyHTTP)
	if err != nil {
		return "", resilience.MarkTemporary("llamaparse upload", err, resilience.ClassifyHTTP)
	}
	if job.ID == "" {
		return "", errors.New("llamaparse upload returned no job id")
	}
	return job.ID, nil
}

// waitForJob polls until SUCCESS, a failure status, or ctx expiry. Progress
// creeps towards 90 while the job is pending.
func (e *Extractor) waitForJob(ctx context.Context, jobID string, report ports.ProgressFunc) error {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	progress := 10.0
	for {
		var job jobResponse
		err := e.executor.Execute(ctx, "llamaparse.status", func(callCtx context.Context) error {
			return e.getJSON(callCtx, "/api/v1/parsing/job/"+jobID, &job, "status")
		}, resilience.ClassifyHTTP)
		if err != nil {
			return resilience.MarkTemporary("llamaparse status", err, resilience.ClassifyHTTP)
		}

		switch strings.ToUpper(job.Status) {
		case "SUCCESS":
			return nil
		case "ERROR", "CANCELED", "CANCELLED":
			return fmt.Errorf("llamaparse job %s ended with %s: %s", jobID, job.Status, job.Error)
		}

		progress += (90 - progress) * 0.2
		report(progress)

		select {
		case <-ctx.Done():
			return fmt.Errorf("llamaparse job %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (e *Extractor) getJSON(ctx context.Context, path string, out any, operation string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	return e.do(req, out, operation)
}

func (e *Extractor) do(req *http.Request, out any, operation string) error {
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llamaparse %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return resilience.NewStatusError("llamaparse", operation, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func groupPages(pages []resultPage) map[int]string {
	parts := make(map[int][]string)
	for _, p := range pages {
		text := p.MD
		if strings.TrimSpace(text) == "" {
			text = p.Text
		}
		num := pageNumber(p.PageLabel)
		if num == 0 {
			num = pageNumber(p.Page)
		}
		if num == 0 {
			num = 1
		}
		parts[num] = append(parts[num], text)
	}

	out := make(map[int]string, len(parts))
	for num, texts := range parts {
		out[num] = strings.Join(texts, "\n\n")
	}
	return out
}

// pageNumber accepts numbers or numeric strings ("3", "3.0"); anything else
// yields 0.
func pageNumber(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		s = string(raw)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 1 {
		return 0
	}
	return int(f)
}
