package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
	"github.com/kirillkom/chat-knowledge-base/internal/core/ports"
)

const (
	defaultVectorBatchSize = 100
	dedupPrefixChars       = 100
)

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// CollectionName is the per-chat collection name.
func CollectionName(chatID string) string {
	return "chat_" + unsafeIDChars.ReplaceAllString(chatID, "_")
}

// VectorStoreManager owns per-chat collections on top of a VectorIndex.
type VectorStoreManager struct {
	embedder  ports.Embedder
	index     ports.VectorIndex
	batchSize int
	logger    *slog.Logger

	mu        sync.Mutex
	chatLocks map[string]*sync.Mutex
	ensured   map[string]int
}

func NewVectorStoreManager(embedder ports.Embedder, index ports.VectorIndex, batchSize int, logger *slog.Logger) *VectorStoreManager {
	if batchSize <= 0 {
		batchSize = defaultVectorBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorStoreManager{
		embedder:  embedder,
		index:     index,
		batchSize: batchSize,
		logger:    logger,
		chatLocks: make(map[string]*sync.Mutex),
		ensured:   make(map[string]int),
	}
}

func (m *VectorStoreManager) chatLock(chatID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.chatLocks[chatID]
	if !ok {
		lock = &sync.Mutex{}
		m.chatLocks[chatID] = lock
	}
	return lock
}

// EnsureCollection returns the chat collection name, creating it on first use.
func (m *VectorStoreManager) EnsureCollection(ctx context.Context, chatID string, dimension int) (string, error) {
	name := CollectionName(chatID)
	lock := m.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	dim, ok := m.ensured[chatID]
	m.mu.Unlock()
	if ok && dim == dimension {
		return name, nil
	}

	if err := m.index.EnsureCollection(ctx, name, dimension); err != nil {
		return "", fmt.Errorf("ensure collection %s: %w", name, err)
	}
	m.mu.Lock()
	m.ensured[chatID] = dimension
	m.mu.Unlock()
	return name, nil
}

// AddChunks embeds all chunks in one call and inserts them in batches. Any
// failure is returned as ErrIngestionFailed.
func (m *VectorStoreManager) AddChunks(ctx context.Context, chatID string, chunks []domain.Chunk, report ports.ProgressFunc) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	if report == nil {
		report = func(float64) {}
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := m.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, domain.WrapError(domain.ErrIngestionFailed, "embed chunks", err)
	}
	if len(vectors) != len(chunks) {
		return 0, domain.WrapError(domain.ErrIngestionFailed, "embed chunks",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(chunks)))
	}
	if len(vectors[0]) == 0 {
		return 0, domain.WrapError(domain.ErrIngestionFailed, "embed chunks", errors.New("empty embedding vector"))
	}

	collection, err := m.EnsureCollection(ctx, chatID, len(vectors[0]))
	if err != nil {
		return 0, domain.WrapError(domain.ErrIngestionFailed, "add chunks", err)
	}

	records := make([]domain.VectorRecord, len(chunks))
	for i, c := range chunks {
		records[i] = domain.VectorRecord{
			ID:       chunkID(c.Metadata.DocID, i),
			Text:     c.Content,
			Metadata: c.Metadata.Values(),
			Vector:   vectors[i],
		}
	}

	added := 0
	for start := 0; start < len(records); start += m.batchSize {
		end := min(start+m.batchSize, len(records))
		if err := m.index.Upsert(ctx, collection, records[start:end]); err != nil {
			return added, domain.WrapError(domain.ErrIngestionFailed, "add chunks",
				fmt.Errorf("batch %d-%d: %w", start, end, err))
		}
		added += end - start
		report(float64(end) / float64(len(records)) * 100)
	}
	return added, nil
}

// Query returns deduplicated results sorted by descending similarity. Backend
// failures are logged and yield no results.
func (m *VectorStoreManager) Query(ctx context.Context, chatID, query string, topK int) []domain.ScoredChunk {
	vector, err := m.embedder.EmbedQuery(ctx, query)
	if err != nil {
		m.logger.Error("vector_query_embed_failed", "chat_id", chatID, "error", err.Error())
		return nil
	}
	hits, err := m.index.Query(ctx, CollectionName(chatID), vector, topK)
	if err != nil {
		m.logger.Error("vector_query_failed", "chat_id", chatID, "error", err.Error())
		return nil
	}

	seen := make(map[string]struct{}, len(hits))
	out := make([]domain.ScoredChunk, 0, len(hits))
	for _, h := range hits {
		key := prefix(h.Text, dedupPrefixChars)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, domain.ScoredChunk{
			Content:    h.Text,
			Metadata:   h.Metadata,
			Similarity: 1 - h.Distance/2,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out
}

// DeleteCollection drops the chat collection; missing collections are fine.
func (m *VectorStoreManager) DeleteCollection(ctx context.Context, chatID string) error {
	lock := m.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	delete(m.ensured, chatID)
	m.mu.Unlock()

	if err := m.index.DeleteCollection(ctx, CollectionName(chatID)); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return nil
}

func (m *VectorStoreManager) DeleteDocument(ctx context.Context, chatID, docID string) error {
	if err := m.index.DeleteDocument(ctx, CollectionName(chatID), domain.SanitizeMetadataValue(docID)); err != nil {
		return fmt.Errorf("delete document chunks: %w", err)
	}
	return nil
}

func chunkID(docID string, idx int) string {
	short := docID
	if len(short) > 8 {
		short = short[:8]
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return unsafeIDChars.ReplaceAllString(fmt.Sprintf("doc_%s_chunk_%d_%s", short, idx, suffix), "_")
}

func prefix(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
