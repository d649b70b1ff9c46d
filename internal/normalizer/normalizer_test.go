package normalizer

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/japanese"

	"github.com/civicdata/kawasaki-etl/internal/config"
)

func testNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	cfg := config.Default()
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestNormalizeHeader(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  date  ", "date"},
		{"スポット　ID", "スポット ID"},   // ideographic space collapses
		{"ＡＢＣ１２３", "ABC123"},          // full-width folds to half-width
		{"接続数\n(回)", "接続数 (回)"},       // newline is whitespace
		{"spot   name", "spot name"}, // runs collapse
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeHeader(c.in); got != c.want {
			t.Errorf("NormalizeHeader(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeHeaderIdempotent(t *testing.T) {
	inputs := []string{"　日付　", "ＳＰＯＴ  ｉｄ", "接続　回数"}
	for _, in := range inputs {
		once := NormalizeHeader(in)
		if twice := NormalizeHeader(once); twice != once {
			t.Errorf("NormalizeHeader not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func sjisBytes(t *testing.T, s string) []byte {
	t.Helper()
	b, err := japanese.ShiftJIS.NewEncoder().Bytes([]byte(s))
	if err != nil {
		t.Fatalf("encode shift_jis: %v", err)
	}
	return b
}

func TestNormalizeCSVShiftJIS(t *testing.T) {
	dir := t.TempDir()
	raw := sjisBytes(t, "日付,スポットID,接続数\n2024-04-01,S001,12\n")
	src := writeFile(t, dir, "usage.csv", raw)

	n := testNormalizer(t)
	dest := filepath.Join(dir, "out", "usage_normalized.csv")
	tbl, err := n.NormalizeCSV(src, dest)
	if err != nil {
		t.Fatalf("NormalizeCSV: %v", err)
	}
	if !tbl.HasColumn("日付") || !tbl.HasColumn("スポットID") {
		t.Errorf("headers not decoded, got %v", tbl.Columns)
	}
	if got := tbl.Cell(0, "接続数"); got != "12" {
		t.Errorf("cell = %q, want 12", got)
	}

	out, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(out), "日付") {
		t.Errorf("output not UTF-8: %q", out)
	}
}

func TestNormalizeCSVWithBOM(t *testing.T) {
	dir := t.TempDir()
	raw := append([]byte{0xEF, 0xBB, 0xBF}, []byte("date,spot_id\n2024-04-01,S001\n")...)
	src := writeFile(t, dir, "bom.csv", raw)

	n := testNormalizer(t)
	tbl, err := n.NormalizeCSV(src, filepath.Join(dir, "bom_out.csv"))
	if err != nil {
		t.Fatalf("NormalizeCSV: %v", err)
	}
	// The signature must not leak into the first header.
	if tbl.Columns[0] != "date" {
		t.Errorf("first column = %q, want date", tbl.Columns[0])
	}
}

func TestNormalizeCSVUndecodable(t *testing.T) {
	dir := t.TempDir()
	// Bytes invalid in every candidate encoding.
	src := writeFile(t, dir, "bad.csv", []byte{0xFF, 0xFF, 0xFF, 0xFF})

	n := testNormalizer(t)
	_, err := n.NormalizeCSV(src, filepath.Join(dir, "bad_out.csv"))
	if err == nil {
		t.Fatal("expected encoding error")
	}
	var encErr *EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("error type = %T, want *EncodingError", err)
	}
	for _, name := range []string{"utf-8", "shift_jis", "euc-jp", "iso-2022-jp"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error message missing tried encoding %q: %s", name, err)
		}
	}
}

func TestDecodeFallbackOrder(t *testing.T) {
	n := testNormalizer(t)

	// Valid UTF-8 should decode as utf-8 even though SJIS could also accept it.
	_, name, err := n.decode("x.csv", []byte("date,count\n"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if name != "utf-8" {
		t.Errorf("encoding = %q, want utf-8", name)
	}

	// A BOM hands the file to utf-8-sig.
	_, name, err = n.decode("x.csv", append([]byte{0xEF, 0xBB, 0xBF}, "date\n"...))
	if err != nil {
		t.Fatalf("decode bom: %v", err)
	}
	if name != "utf-8-sig" {
		t.Errorf("encoding = %q, want utf-8-sig", name)
	}

	// SJIS multibyte text is invalid UTF-8 and falls through to shift_jis.
	_, name, err = n.decode("x.csv", sjisBytes(t, "日付,接続数\n"))
	if err != nil {
		t.Fatalf("decode sjis: %v", err)
	}
	if name != "shift_jis" {
		t.Errorf("encoding = %q, want shift_jis", name)
	}
}

func TestNormalizeWorkbook(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "book.xlsx")

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	f.SetSheetRow(sheet, "A1", &[]any{"日付", "スポットID", "接続数"})
	f.SetSheetRow(sheet, "A2", &[]any{"2024-04-01", "S001", 12})
	if _, err := f.NewSheet("集計 (4月)"); err != nil {
		t.Fatal(err)
	}
	f.SetSheetRow("集計 (4月)", "A1", &[]any{"date", "total"})
	f.SetSheetRow("集計 (4月)", "A2", &[]any{"2024-04-01", 99})
	if err := f.SaveAs(src); err != nil {
		t.Fatalf("save workbook: %v", err)
	}
	f.Close()

	n := testNormalizer(t)
	outDir := filepath.Join(dir, "out")
	results, err := n.NormalizeWorkbook(src, outDir)
	if err != nil {
		t.Fatalf("NormalizeWorkbook: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d sheets, want 2", len(results))
	}

	first, ok := results[sheet]
	if !ok {
		t.Fatalf("missing result for sheet %q", sheet)
	}
	if got := first.Table.Cell(0, "スポットID"); got != "S001" {
		t.Errorf("cell = %q, want S001", got)
	}

	for _, r := range results {
		if _, err := os.Stat(r.Path); err != nil {
			t.Errorf("output %s not written: %v", r.Path, err)
		}
		base := filepath.Base(r.Path)
		if !strings.HasPrefix(base, "book_") || !strings.HasSuffix(base, ".csv") {
			t.Errorf("output name %q not derived from workbook stem", base)
		}
	}
}

func buildZip(t *testing.T, path string, members map[string][]byte) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range members {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNormalizeZip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "archive.zip")
	buildZip(t, src, map[string][]byte{
		"april/usage.csv": []byte("date,spot_id\n2024-04-01,S001\n"),
		"readme.txt":      []byte("not a csv"),
		"may.CSV":         sjisBytes(t, "日付,スポットID\n2024-05-01,S002\n"),
	})

	n := testNormalizer(t)
	outDir := filepath.Join(dir, "out")
	results, err := n.NormalizeZip(src, outDir)
	if err != nil {
		t.Fatalf("NormalizeZip: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2 (txt member skipped)", len(results))
	}
	for _, r := range results {
		if _, err := os.Stat(r.Path); err != nil {
			t.Errorf("output %s not written: %v", r.Path, err)
		}
	}
}

func TestNormalizeZipCollidingMembers(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "archive.zip")
	// Same basename in two archive directories collides after flattening.
	buildZip(t, src, map[string][]byte{
		"april/usage.csv": []byte("date\n2024-04-01\n"),
		"may/usage.csv":   []byte("date\n2024-05-01\n"),
	})

	n := testNormalizer(t)
	outDir := filepath.Join(dir, "out")
	results, err := n.NormalizeZip(src, outDir)
	if err != nil {
		t.Fatalf("NormalizeZip: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	seen := map[string]bool{}
	for _, r := range results {
		if seen[r.Path] {
			t.Fatalf("duplicate output path %s", r.Path)
		}
		seen[r.Path] = true
	}
	if !seen[filepath.Join(outDir, "archive_usage.csv")] ||
		!seen[filepath.Join(outDir, "archive_usage_1.csv")] {
		t.Errorf("collision suffix not applied, got %v", seen)
	}
}

func TestSanitizeSheetName(t *testing.T) {
	cases := map[string]string{
		"Sheet1":   "Sheet1",
		"集計 (4月)": "_4_",
		"":         "sheet",
		"a b/c":    "a_b_c",
	}
	for in, want := range cases {
		if got := sanitizeSheetName(in); got != want {
			t.Errorf("sanitizeSheetName(%q) = %q, want %q", in, got, want)
		}
	}
}
