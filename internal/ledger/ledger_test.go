package ledger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/civicdata/kawasaki-etl/internal/catalog"
	"github.com/civicdata/kawasaki-etl/internal/config"
)

func testLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.MetaDir = filepath.Join(dir, "meta")
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil))), dir
}

func testDataset() catalog.Dataset {
	return catalog.Dataset{
		ID:       "wifi_2024",
		Category: "wifi",
		URL:      "https://example.jp/data/usage.csv",
	}
}

func writeRaw(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "usage.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDigestFileTracksContent(t *testing.T) {
	l, dir := testLedger(t)
	raw := writeRaw(t, dir, "date,count\n2024-04-01,5\n")

	d1, err := l.DigestFile(raw)
	if err != nil {
		t.Fatalf("DigestFile: %v", err)
	}
	if len(d1) != 64 {
		t.Fatalf("digest length = %d, want 64 hex chars", len(d1))
	}

	d2, err := l.DigestFile(raw)
	if err != nil {
		t.Fatal(err)
	}
	if d1 != d2 {
		t.Error("same content produced different digests")
	}

	if err := os.WriteFile(raw, []byte("date,count\n2024-04-01,6\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	d3, err := l.DigestFile(raw)
	if err != nil {
		t.Fatal(err)
	}
	if d1 == d3 {
		t.Error("changed content produced identical digest")
	}
}

func TestReceiptRoundTrip(t *testing.T) {
	l, dir := testLedger(t)
	ds := testDataset()
	raw := writeRaw(t, dir, "date,count\n")

	digest, err := l.DigestFile(raw)
	if err != nil {
		t.Fatal(err)
	}
	if l.AlreadyProcessed(ds, raw, digest) {
		t.Fatal("no receipt yet, AlreadyProcessed should be false")
	}

	if err := l.WriteReceipt(ds, raw, digest, time.Now()); err != nil {
		t.Fatalf("WriteReceipt: %v", err)
	}
	if !l.AlreadyProcessed(ds, raw, digest) {
		t.Error("receipt written, AlreadyProcessed should be true")
	}

	r, err := ReadReceipt(l.ReceiptPath(ds, raw))
	if err != nil {
		t.Fatalf("ReadReceipt: %v", err)
	}
	if r.DatasetID != ds.ID || r.SHA256 != digest || r.SourceURL != ds.URL {
		t.Errorf("receipt fields = %+v", r)
	}
	if _, err := time.Parse(time.RFC3339, r.ProcessedAt); err != nil {
		t.Errorf("processed_at %q not RFC3339: %v", r.ProcessedAt, err)
	}
}

func TestAlreadyProcessedDigestMismatch(t *testing.T) {
	l, dir := testLedger(t)
	ds := testDataset()
	raw := writeRaw(t, dir, "v1")

	digest, err := l.DigestFile(raw)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.WriteReceipt(ds, raw, digest, time.Now()); err != nil {
		t.Fatal(err)
	}

	if l.AlreadyProcessed(ds, raw, strings.Repeat("0", 64)) {
		t.Error("different digest must not match the receipt")
	}
}

func TestAlreadyProcessedCorruptReceipt(t *testing.T) {
	l, dir := testLedger(t)
	ds := testDataset()
	raw := writeRaw(t, dir, "v1")

	path := l.ReceiptPath(ds, raw)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	// A receipt that cannot be parsed means "not processed", never an abort.
	if l.AlreadyProcessed(ds, raw, strings.Repeat("a", 64)) {
		t.Error("corrupt receipt treated as processed")
	}
}

func TestListReceipts(t *testing.T) {
	l, dir := testLedger(t)
	ds := testDataset()
	raw := writeRaw(t, dir, "v1")

	paths, err := l.ListReceipts(ds)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 0 {
		t.Fatalf("receipts before write = %d, want 0", len(paths))
	}

	digest, err := l.DigestFile(raw)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.WriteReceipt(ds, raw, digest, time.Now()); err != nil {
		t.Fatal(err)
	}

	paths, err = l.ListReceipts(ds)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 {
		t.Fatalf("receipts = %d, want 1", len(paths))
	}
}
