package domain

import (
	"fmt"
	"time"
)

type JobStatus string

const (
	JobQueued      JobStatus = "queued"
	JobDownloading JobStatus = "downloading"
	JobProcessing  JobStatus = "processing"
	JobFinished    JobStatus = "finished"
	JobFailed      JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobFinished || s == JobFailed
}

// ReservationError tells why a chat cannot take another upload named
// filename, or nil when it can. stored counts the chat's documents and active
// its non-terminal jobs.
func ReservationError(filename string, stored, active, limit int, nameTaken bool) error {
	if stored+active >= limit {
		return WrapError(ErrLimitExceeded, "submit document", fmt.Errorf("maximum %d PDFs allowed per chat", limit))
	}
	if nameTaken {
		return WrapError(ErrDuplicateDocument, "submit document", fmt.Errorf("file %q is already being processed", filename))
	}
	return nil
}

// ProcessingStage names the pipeline step a job is in. Stages are ordered and
// a job only moves forward through them.
type ProcessingStage string

const (
	StageNotProcessing     ProcessingStage = "not_processing"
	StageLlamaLoading      ProcessingStage = "llama_loading"
	StagePyMuPdfLoading    ProcessingStage = "pymupdf_loading"
	StageTesseractLoading  ProcessingStage = "tesseract_loading"
	StageExtractingContent ProcessingStage = "extracting_content"
	StageExtractingTables  ProcessingStage = "extracting_tables"
	StageCreatingChunks    ProcessingStage = "creating_chunks"
	StageAddingToVectorDB  ProcessingStage = "adding_to_vector_store"
	StageSavingMetadata    ProcessingStage = "saving_metadata"
)

var stageOrder = map[ProcessingStage]int{
	StageNotProcessing:     0,
	StageLlamaLoading:      1,
	StagePyMuPdfLoading:    2,
	StageTesseractLoading:  3,
	StageExtractingContent: 4,
	StageExtractingTables:  5,
	StageCreatingChunks:    6,
	StageAddingToVectorDB:  7,
	StageSavingMetadata:    8,
}

// Order returns the position of the stage in the pipeline, -1 if unknown.
func (s ProcessingStage) Order() int {
	idx, ok := stageOrder[s]
	if !ok {
		return -1
	}
	return idx
}

type UploadJob struct {
	JobID       string          `json:"job_id"`
	ChatID      string          `json:"chat_id"`
	Filename    string          `json:"filename"`
	Status      JobStatus       `json:"status"`
	Stage       ProcessingStage `json:"stage"`
	Progress    float64         `json:"progress"`
	ChunksAdded int             `json:"chunks_added"`
	Error       string          `json:"error,omitempty"`
	Backend     string          `json:"backend,omitempty"`
	SourceURI   string          `json:"source_uri,omitempty"`
	FileHash    string          `json:"file_hash,omitempty"`
	FileSize    int64           `json:"file_size"`
	StorageKey  string          `json:"-"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}
