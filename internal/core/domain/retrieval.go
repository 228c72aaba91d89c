package domain

// ScoredChunk is a deduplicated query result with similarity in [0, 1].
type ScoredChunk struct {
	Content    string
	Metadata   map[string]string
	Similarity float64
}

type SourceRecord struct {
	ID          int     `json:"id"`
	Source      string  `json:"source"`
	Location    string  `json:"location"`
	DocType     string  `json:"doc_type"`
	ContentType string  `json:"content_type"`
	Page        string  `json:"page,omitempty"`
	Similarity  float64 `json:"similarity"`
	Content     string  `json:"content"`
	FullContent string  `json:"full_content"`
}

type RetrievalResult struct {
	Context string         `json:"context"`
	Sources []SourceRecord `json:"sources"`
}
