package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("CHUNK_SIZE", "")
	t.Setenv("MAX_PDFS_PER_CHAT", "")
	t.Setenv("RAG_TOP_K", "")
	t.Setenv("JOB_TIMEOUT", "")
	t.Setenv("OCR_ENABLED", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ChunkSize != 1000 || cfg.ChunkOverlap != 200 {
		t.Fatalf("unexpected chunk defaults: %d/%d", cfg.ChunkSize, cfg.ChunkOverlap)
	}
	if cfg.MaxPDFsPerChat != 5 {
		t.Fatalf("expected 5 pdfs per chat, got %d", cfg.MaxPDFsPerChat)
	}
	if cfg.MaxPDFSizeBytes() != 50<<20 {
		t.Fatalf("expected 50MB limit, got %d", cfg.MaxPDFSizeBytes())
	}
	if cfg.RAGTopK != 15 {
		t.Fatalf("expected default top k 15, got %d", cfg.RAGTopK)
	}
	if cfg.JobTimeout != 15*time.Minute {
		t.Fatalf("expected 15m job timeout, got %s", cfg.JobTimeout)
	}
	if !cfg.OCREnabled {
		t.Fatalf("expected OCR enabled by default")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("JOB_TIMEOUT", "90")
	t.Setenv("STAGE_TIMEOUT", "2m")
	t.Setenv("API_RATE_LIMIT_RPS", "2.5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test ,")
	t.Setenv("OCR_ENABLED", "false")
	t.Setenv("CHUNK_SIZE", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.JobTimeout != 90*time.Second || cfg.StageTimeout != 2*time.Minute {
		t.Fatalf("unexpected timeouts %s/%s", cfg.JobTimeout, cfg.StageTimeout)
	}
	if cfg.APIRateLimitRPS != 2.5 {
		t.Fatalf("expected rps 2.5, got %v", cfg.APIRateLimitRPS)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "http://b.test" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.OCREnabled {
		t.Fatalf("expected OCR disabled")
	}
	if cfg.ChunkSize != 1000 {
		t.Fatalf("invalid int should fall back, got %d", cfg.ChunkSize)
	}
}

func TestLoadConfigFileBelowEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.yaml")
	content := "VECTOR_BACKEND: pgvector\nmax_pdfs_per_chat: 8\nS3_REGION: eu-west-1\nCORS_ALLOWED_ORIGINS:\n  - http://x.test\n  - http://y.test\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("VECTOR_BACKEND", "memory")
	t.Setenv("MAX_PDFS_PER_CHAT", "")
	t.Setenv("S3_REGION", "")
	t.Setenv("S3_ENDPOINT", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.VectorBackend != "memory" {
		t.Fatalf("environment must win over file, got %q", cfg.VectorBackend)
	}
	if cfg.MaxPDFsPerChat != 8 {
		t.Fatalf("expected file value 8, got %d", cfg.MaxPDFsPerChat)
	}
	if !cfg.S3Enabled() {
		t.Fatalf("expected s3 enabled from file region")
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("expected list from file, got %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
