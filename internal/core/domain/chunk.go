package domain

import "strconv"

const (
	ChunkTypeText  = "text"
	ChunkTypeTable = "table"
)

type ChunkMetadata struct {
	DocID      string
	Source     string
	Page       int
	Type       string
	DocType    string
	ChunkIndex int
	TableIndex int
}

// Values renders the metadata as sanitized strings. Text chunks carry
// chunk_index, table chunks carry table_index.
func (m ChunkMetadata) Values() map[string]string {
	out := map[string]string{
		"doc_id":   m.DocID,
		"source":   m.Source,
		"page":     strconv.Itoa(m.Page),
		"type":     m.Type,
		"doc_type": m.DocType,
	}
	if m.Type == ChunkTypeTable {
		out["table_index"] = strconv.Itoa(m.TableIndex)
	} else {
		out["chunk_index"] = strconv.Itoa(m.ChunkIndex)
	}
	return SanitizeMetadata(out)
}

type Chunk struct {
	Content   string
	WordCount int
	Metadata  ChunkMetadata
}

// VectorRecord is a chunk ready for the vector index.
type VectorRecord struct {
	ID       string
	Text     string
	Metadata map[string]string
	Vector   []float32
}

// VectorHit is a raw index result. Distance is cosine distance in [0, 2].
type VectorHit struct {
	ID       string
	Text     string
	Metadata map[string]string
	Distance float64
}

// ChunkInput is one document's extracted content handed to the chunker.
type ChunkInput struct {
	DocID  string
	Source string
	Pages  []PageText
	Tables []Table
}

// ChunkResult holds the capped chunk list and how many chunks were dropped.
type ChunkResult struct {
	Chunks    []Chunk
	Truncated int
}
