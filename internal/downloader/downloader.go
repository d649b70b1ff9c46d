// Package downloader retrieves raw dataset files over HTTP(S), streaming
// them to the deterministic raw-data layout.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/civicdata/kawasaki-etl/internal/catalog"
	"github.com/civicdata/kawasaki-etl/internal/config"
)

// Failure classes for a fetch. HTTP status >= 400 is fatal, not retried.
type FailureKind int

const (
	KindTimeout FailureKind = iota
	KindNetwork
	KindHTTP
)

// Localized operator-facing messages; the underlying cause stays chained for
// diagnostics.
const (
	msgTimeout  = "ダウンロードがタイムアウトしました"
	msgNetwork  = "ネットワークエラーによりダウンロードに失敗しました"
	msgHTTP     = "HTTP エラーによりダウンロードに失敗しました"
	msgFilename = "URL からファイル名を特定できませんでした"
)

// TransferError is the single error kind surfaced for all fetch failures.
type TransferError struct {
	Kind   FailureKind
	URL    string
	Status int
	msg    string
	err    error
}

func (e *TransferError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *TransferError) Unwrap() error { return e.err }

// Fetcher downloads files with a fixed timeout and chunked writes.
type Fetcher struct {
	client    *http.Client
	chunkSize int
	rawDir    string
	logger    *slog.Logger
}

// New builds a Fetcher from application settings.
func New(cfg config.Settings, logger *slog.Logger) *Fetcher {
	chunk := cfg.ChunkSize
	if chunk <= 0 {
		chunk = config.DefaultChunkSize
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = config.DefaultHTTPTimeout
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return errors.New("too many redirects")
				}
				return nil
			},
		},
		chunkSize: chunk,
		rawDir:    cfg.RawDir,
		logger:    logger,
	}
}

// RawPath returns the deterministic raw artifact path for a dataset:
// <raw>/<category>/<dataset_id>/<filename from url>.
func (f *Fetcher) RawPath(ds catalog.Dataset) (string, error) {
	parsed, err := url.Parse(ds.URL)
	if err != nil {
		return "", &TransferError{Kind: KindNetwork, URL: ds.URL, msg: msgFilename, err: err}
	}
	filename := path.Base(parsed.Path)
	if filename == "" || filename == "." || filename == "/" {
		return "", &TransferError{Kind: KindNetwork, URL: ds.URL, msg: msgFilename}
	}
	return filepath.Join(f.rawDir, ds.Category, ds.ID, filename), nil
}

// Download streams the response body for url to dest in fixed-size chunks,
// creating parent directories as needed. A partial file from a failed write
// is left behind; callers treat zero-byte or partial files as not fetched.
func (f *Fetcher) Download(ctx context.Context, rawURL, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", dest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &TransferError{Kind: KindNetwork, URL: rawURL, msg: msgNetwork, err: err}
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		kind, msg := classify(err)
		f.logger.Error("Download failed.",
			slog.String("url", rawURL), slog.String("dest", dest), "error", err)
		return &TransferError{Kind: kind, URL: rawURL, msg: msg, err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		f.logger.Error("Download failed with bad status.",
			slog.String("url", rawURL), slog.String("status", resp.Status))
		return &TransferError{
			Kind:   KindHTTP,
			URL:    rawURL,
			Status: resp.StatusCode,
			msg:    msgHTTP,
			err:    fmt.Errorf("HTTP %d", resp.StatusCode),
		}
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}

	buf := make([]byte, f.chunkSize)
	written, copyErr := io.CopyBuffer(out, resp.Body, buf)
	closeErr := out.Close()

	if copyErr != nil {
		kind, msg := classify(copyErr)
		f.logger.Error("Download interrupted while streaming body.",
			slog.String("url", rawURL), slog.String("dest", dest),
			slog.Int64("bytes_written", written), "error", copyErr)
		return &TransferError{Kind: kind, URL: rawURL, msg: msg, err: copyErr}
	}
	if closeErr != nil {
		return fmt.Errorf("close %s: %w", dest, closeErr)
	}

	f.logger.Info("Download complete.",
		slog.String("url", rawURL),
		slog.String("dest", dest),
		slog.Int64("bytes", written),
		slog.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return nil
}

// DownloadIfNeeded computes the dataset's raw path and downloads only when
// the file is absent or empty. This short-circuit is the primary cost
// avoidance and makes no network call when the artifact is already on disk.
func (f *Fetcher) DownloadIfNeeded(ctx context.Context, ds catalog.Dataset) (string, error) {
	dest, err := f.RawPath(ds)
	if err != nil {
		return "", err
	}

	if info, statErr := os.Stat(dest); statErr == nil && info.Size() > 0 {
		f.logger.Info("Raw file already exists, skipping download.",
			slog.String("dataset_id", ds.ID),
			slog.String("path", dest),
			slog.Int64("size", info.Size()))
		return dest, nil
	}

	f.logger.Info("Starting dataset download.",
		slog.String("dataset_id", ds.ID),
		slog.String("url", ds.URL),
		slog.String("dest", dest))

	if err := f.Download(ctx, ds.URL, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// classify maps a transport-level error to a failure kind. Timeouts are
// separated from other network failures; everything here precedes an HTTP
// status, so KindHTTP never originates in classify.
func classify(err error) (FailureKind, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout, msgTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout, msgTimeout
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return KindTimeout, msgTimeout
	}
	return KindNetwork, msgNetwork
}
