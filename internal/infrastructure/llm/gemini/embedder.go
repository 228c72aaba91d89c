package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kirillkom/chat-knowledge-base/internal/infrastructure/resilience"
)

// maxBatch is the request limit of BatchEmbedContents.
const maxBatch = 100

type batchFunc func(ctx context.Context, texts []string) ([][]float32, error)

type queryFunc func(ctx context.Context, text string) ([]float32, error)

type Embedder struct {
	client     *genai.Client
	modelName  string
	executor   *resilience.Executor
	embedBatch batchFunc
	embedQuery queryFunc
}

type Option func(*Embedder)

// WithExecutor shares an executor (and its breakers) with other backends.
func WithExecutor(executor *resilience.Executor) Option {
	return func(e *Embedder) {
		if executor != nil {
			e.executor = executor
		}
	}
}

func NewEmbedder(ctx context.Context, apiKey, modelName string, opts ...Option) (*Embedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if modelName == "" {
		modelName = "gemini-embedding-001"
	}
	e := &Embedder{client: cl, modelName: modelName}
	e.embedBatch = e.batchEmbedContents
	e.embedQuery = e.embedContent
	for _, opt := range opts {
		opt(e)
	}
	if e.executor == nil {
		e.executor = resilience.NewExecutor(resilience.DefaultPolicy())
	}
	return e, nil
}

func (g *Embedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Embed sends texts in requests of at most maxBatch items. Each request is
// retried on its own.
func (g *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		batch := texts[start:min(start+maxBatch, len(texts))]
		vectors, err := resilience.Call(ctx, g.executor, "gemini.embed", func(callCtx context.Context) ([][]float32, error) {
			return g.embedBatch(callCtx, batch)
		}, classify)
		if err != nil {
			return nil, resilience.MarkTemporary("gemini batch embed", err, classify)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("gemini returned %d vectors for %d inputs", len(vectors), len(batch))
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (g *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := resilience.Call(ctx, g.executor, "gemini.embed_query", func(callCtx context.Context) ([]float32, error) {
		return g.embedQuery(callCtx, text)
	}, classify)
	if err != nil {
		return nil, resilience.MarkTemporary("gemini embed query", err, classify)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vector, nil
}

func (g *Embedder) batchEmbedContents(ctx context.Context, texts []string) ([][]float32, error) {
	em := g.client.EmbeddingModel(g.modelName)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini batch embed: %w", err)
	}
	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		out = append(out, e.Values)
	}
	return out, nil
}

func (g *Embedder) embedContent(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.client.EmbeddingModel(g.modelName).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embed query: %w", err)
	}
	if resp.Embedding == nil {
		return nil, nil
	}
	return resp.Embedding.Values, nil
}

// classify maps gRPC and REST API errors onto the HTTP verdicts.
func classify(err error) resilience.Verdict {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return resilience.ClassifyHTTP(&resilience.StatusError{
			Backend:    "gemini",
			StatusCode: apiErr.Code,
			Status:     http.StatusText(apiErr.Code),
		})
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.Aborted, codes.Internal:
			return resilience.Verdict{Retryable: true, RecordFailure: true}
		case codes.Canceled, codes.DeadlineExceeded:
			return resilience.Verdict{}
		default:
			return resilience.Verdict{Retryable: false, RecordFailure: false}
		}
	}
	return resilience.ClassifyHTTP(err)
}
