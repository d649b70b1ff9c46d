// Package ledger records processing receipts for raw artifacts so repeated
// runs can detect already-loaded content and skip it.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/civicdata/kawasaki-etl/internal/catalog"
	"github.com/civicdata/kawasaki-etl/internal/config"
)

// Receipt is the persisted evidence that a specific file version was loaded.
// downloaded_at reflects the artifact's filesystem modification time, not
// the wall clock at receipt-write time.
type Receipt struct {
	DatasetID    string `json:"dataset_id"`
	Category     string `json:"category"`
	SourceURL    string `json:"source_url"`
	RawPath      string `json:"raw_path"`
	SHA256       string `json:"sha256"`
	DownloadedAt string `json:"downloaded_at"`
	ProcessedAt  string `json:"processed_at"`
}

// Ledger reads and writes receipts under the meta directory, mirroring the
// raw storage hierarchy.
type Ledger struct {
	metaDir   string
	chunkSize int
	logger    *slog.Logger
}

// New builds a Ledger from application settings.
func New(cfg config.Settings, logger *slog.Logger) *Ledger {
	chunk := cfg.ChunkSize
	if chunk <= 0 {
		chunk = config.DefaultChunkSize
	}
	return &Ledger{metaDir: cfg.MetaDir, chunkSize: chunk, logger: logger}
}

// DigestFile streams the file through SHA-256 in fixed chunks and returns
// the hex digest. The file is never loaded into memory whole.
func (l *Ledger) DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for hashing %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, l.chunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash file %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ReceiptPath returns the receipt location for a raw artifact:
// <meta>/<category>/<dataset_id>/<raw filename>.json.
func (l *Ledger) ReceiptPath(ds catalog.Dataset, rawPath string) string {
	return filepath.Join(l.metaDir, ds.Category, ds.ID, filepath.Base(rawPath)+".json")
}

// WriteReceipt persists the receipt for a successfully loaded artifact,
// overwriting any previous one.
func (l *Ledger) WriteReceipt(ds catalog.Dataset, rawPath, digest string, processedAt time.Time) error {
	info, err := os.Stat(rawPath)
	if err != nil {
		return fmt.Errorf("stat raw artifact %s: %w", rawPath, err)
	}

	receipt := Receipt{
		DatasetID:    ds.ID,
		Category:     ds.Category,
		SourceURL:    ds.URL,
		RawPath:      rawPath,
		SHA256:       digest,
		DownloadedAt: info.ModTime().UTC().Format(time.RFC3339),
		ProcessedAt:  processedAt.UTC().Format(time.RFC3339),
	}

	path := l.ReceiptPath(ds, rawPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create receipt directory for %s: %w", path, err)
	}

	data, err := json.MarshalIndent(receipt, "", "  ")
	if err != nil {
		return fmt.Errorf("encode receipt for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write receipt %s: %w", path, err)
	}

	l.logger.Info("Receipt written.",
		slog.String("dataset_id", ds.ID),
		slog.String("receipt", path),
		slog.String("sha256", digest))
	return nil
}

// AlreadyProcessed reports whether a valid receipt proves this exact artifact
// version was loaded. Every identity field must match; a missing, corrupted
// or unreadable receipt means "not processed" so failures bias toward
// redundant work, never silent skips.
func (l *Ledger) AlreadyProcessed(ds catalog.Dataset, rawPath, digest string) bool {
	path := l.ReceiptPath(ds, rawPath)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Warn("Receipt unreadable, treating dataset as unprocessed.",
				slog.String("receipt", path), "error", err)
		}
		return false
	}

	var receipt Receipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		l.logger.Warn("Receipt corrupted, treating dataset as unprocessed.",
			slog.String("receipt", path), "error", err)
		return false
	}

	matches := receipt.DatasetID == ds.ID &&
		receipt.Category == ds.Category &&
		receipt.SourceURL == ds.URL &&
		receipt.RawPath == rawPath &&
		receipt.SHA256 == digest

	if matches {
		l.logger.Info("Dataset already processed, skipping.",
			slog.String("dataset_id", ds.ID),
			slog.String("receipt", path))
		return true
	}

	l.logger.Info("Receipt does not match current artifact, reprocessing.",
		slog.String("dataset_id", ds.ID),
		slog.String("receipt", path),
		slog.Bool("sha256_match", receipt.SHA256 == digest))
	return false
}

// ReadReceipt loads a single receipt file.
func ReadReceipt(path string) (Receipt, error) {
	var receipt Receipt
	data, err := os.ReadFile(path)
	if err != nil {
		return receipt, fmt.Errorf("read receipt %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &receipt); err != nil {
		return receipt, fmt.Errorf("decode receipt %s: %w", path, err)
	}
	return receipt, nil
}

// ListReceipts returns the receipt paths recorded for a dataset, sorted.
func (l *Ledger) ListReceipts(ds catalog.Dataset) ([]string, error) {
	pattern := filepath.Join(l.metaDir, ds.Category, ds.ID, "*.json")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("list receipts for %s: %w", ds.ID, err)
	}
	return paths, nil
}
