package domain

import "time"

const (
	DocTypePDF           = "pdf"
	DocumentStatusActive = "active"
)

type ProcessingStats struct {
	Pages                 int     `json:"pages"`
	Tables                int     `json:"tables"`
	TotalChunks           int     `json:"total_chunks"`
	TruncatedChunks       int     `json:"truncated_chunks"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
	Backend               string  `json:"backend"`
}

// DocumentRecord is what the chat store keeps for every ingested file.
type DocumentRecord struct {
	DocID           string          `json:"doc_id"`
	Filename        string          `json:"filename"`
	DocType         string          `json:"doc_type"`
	FileHash        string          `json:"file_hash"`
	FileSize        int64           `json:"file_size"`
	ChunksCount     int             `json:"chunks_count"`
	Status          string          `json:"status"`
	UploadedAt      time.Time       `json:"uploaded_at"`
	ProcessingStats ProcessingStats `json:"processing_stats"`
}

// PageText is the cleaned text of a single 1-based page.
type PageText struct {
	Page int
	Text string
}

// Table is a rendered table found on a page. Index is 0-based within the page.
type Table struct {
	Content string
	Page    int
	Index   int
}

// Extraction is the output of the text extraction engine.
type Extraction struct {
	Backend string
	Pages   map[int]string
}

// ChatOverview lists a chat's stored documents next to its in-flight jobs.
type ChatOverview struct {
	ChatID    string           `json:"chat_id"`
	Documents []DocumentRecord `json:"documents"`
	Jobs      []UploadJob      `json:"processing_jobs"`
	TotalDocs int              `json:"total_docs"`
}
