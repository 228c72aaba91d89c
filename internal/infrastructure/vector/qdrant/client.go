package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
	"github.com/kirillkom/chat-knowledge-base/internal/infrastructure/resilience"
)

const (
	payloadText    = "text"
	payloadChunkID = "chunk_id"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor

	ensureMu sync.Mutex
	ensured  map[string]int
}

// New builds a REST client. A nil executor gets the default policy.
func New(baseURL string, executor *resilience.Executor) *Client {
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultPolicy())
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		executor:   executor,
		ensured:    make(map[string]int),
	}
}

func (c *Client) EnsureCollection(ctx context.Context, name string, dimension int) error {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	if size, ok := c.ensured[name]; ok && size == dimension {
		return nil
	}

	err := c.do(ctx, http.MethodGet, collectionPath(name), nil, nil, "get collection")
	if err == nil {
		c.ensured[name] = dimension
		return nil
	}
	if !isNotFound(err) {
		return err
	}

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	// 409 or "already exists" means another writer created it first.
	err = c.do(ctx, http.MethodPut, collectionPath(name), reqBody, nil, "ensure collection")
	if err != nil && !alreadyExists(err) {
		return err
	}
	c.ensured[name] = dimension
	return nil
}

func (c *Client) Upsert(ctx context.Context, collection string, records []domain.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	points := make([]point, 0, len(records))
	for _, rec := range records {
		payload := make(map[string]any, len(rec.Metadata)+2)
		for k, v := range rec.Metadata {
			payload[k] = v
		}
		payload[payloadText] = rec.Text
		payload[payloadChunkID] = rec.ID
		points = append(points, point{
			ID:      pointID(rec.ID),
			Vector:  rec.Vector,
			Payload: payload,
		})
	}

	return c.do(ctx, http.MethodPut, collectionPath(collection)+"/points?wait=true", map[string]any{"points": points}, nil, "upsert")
}

func (c *Client) Query(ctx context.Context, collection string, vector []float32, limit int) ([]domain.VectorHit, error) {
	reqBody := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, collectionPath(collection)+"/points/search", reqBody, &searchResp, "search"); err != nil {
		return nil, err
	}

	out := make([]domain.VectorHit, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		meta := make(map[string]string, len(r.Payload))
		for k := range r.Payload {
			if k == payloadText || k == payloadChunkID {
				continue
			}
			meta[k] = getStringPayload(r.Payload, k)
		}
		out = append(out, domain.VectorHit{
			ID:       getStringPayload(r.Payload, payloadChunkID),
			Text:     getStringPayload(r.Payload, payloadText),
			Metadata: meta,
			// Cosine collections report similarity; convert to distance.
			Distance: 1 - r.Score,
		})
	}
	return out, nil
}

func (c *Client) DeleteCollection(ctx context.Context, name string) error {
	c.ensureMu.Lock()
	delete(c.ensured, name)
	c.ensureMu.Unlock()

	err := c.do(ctx, http.MethodDelete, collectionPath(name), nil, nil, "delete collection")
	if isNotFound(err) {
		return nil
	}
	return err
}

func (c *Client) DeleteDocument(ctx context.Context, collection, docID string) error {
	reqBody := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "doc_id", "match": map[string]any{"value": docID}},
			},
		},
	}
	err := c.do(ctx, http.MethodPost, collectionPath(collection)+"/points/delete?wait=true", reqBody, nil, "delete points")
	if isNotFound(err) {
		return nil
	}
	return err
}

func isNotFound(err error) bool {
	return resilience.HasStatus(err, http.StatusNotFound)
}

// alreadyExists matches qdrant's answers to a create that lost a race.
func alreadyExists(err error) bool {
	var statusErr *resilience.StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.StatusCode == http.StatusConflict ||
		(statusErr.StatusCode == http.StatusBadRequest && strings.Contains(statusErr.Body, "already exists"))
}

// do runs one request through the executor. 404 and 409 are answers, not
// outages, so they are neither retried nor counted by the breaker.
func (c *Client) do(ctx context.Context, method, path string, payload, out any, operation string) error {
	err := c.executor.Execute(ctx, "qdrant."+strings.ReplaceAll(operation, " ", "_"), func(callCtx context.Context) error {
		return c.roundTrip(callCtx, method, path, payload, out, operation)
	}, resilience.ClassifyHTTP)
	if err != nil && !isNotFound(err) && !alreadyExists(err) {
		return resilience.MarkTemporary("qdrant "+operation, err, resilience.ClassifyHTTP)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload, out any, operation string) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", operation, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return resilience.NewStatusError("qdrant", operation, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func collectionPath(name string) string {
	return "/collections/" + url.PathEscape(name)
}

// pointID maps a chunk id onto the UUID space qdrant accepts.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
