// Package normalizer converts raw downloaded files (CSV in unknown
// encodings, Excel workbooks, ZIPs of CSVs) into canonical UTF-8 CSV with
// cleaned column headers.
package normalizer

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/unicode/norm"

	"github.com/civicdata/kawasaki-etl/internal/config"
	"github.com/civicdata/kawasaki-etl/internal/table"
)

// EncodingError reports that a file could not be decoded by any candidate
// encoding. The message enumerates every encoding tried.
type EncodingError struct {
	Path  string
	Tried []string
	err   error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("CSV の読み込みに失敗しました: %s (試したエンコーディング: %s)",
		e.Path, strings.Join(e.Tried, ", "))
}

func (e *EncodingError) Unwrap() error { return e.err }

var (
	whitespaceRun  = regexp.MustCompile(`\s+`)
	unsafeSheetRun = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
	utf8BOM        = []byte{0xEF, 0xBB, 0xBF}
)

// NormalizeHeader returns the canonical form of a column header: Unicode
// compatibility (NFKC) normalization, trimmed, with internal whitespace runs
// collapsed to single spaces. NFKC folds full-width characters to their
// half-width equivalents. The function is idempotent.
func NormalizeHeader(name string) string {
	normalized := strings.TrimSpace(norm.NFKC.String(name))
	return whitespaceRun.ReplaceAllString(normalized, " ")
}

// Result is one normalized output: the in-memory table plus where its UTF-8
// CSV form was written.
type Result struct {
	Name  string
	Path  string
	Table *table.Table
}

// Normalizer reads raw files and writes normalized CSV outputs.
type Normalizer struct {
	encodings []config.EncodingCandidate
	logger    *slog.Logger
}

// New builds a Normalizer with the given candidate encodings.
func New(cfg config.Settings, logger *slog.Logger) *Normalizer {
	encodings := cfg.Encodings
	if len(encodings) == 0 {
		encodings = config.DefaultEncodings()
	}
	return &Normalizer{encodings: encodings, logger: logger}
}

// normalizeColumns rewrites every column name with NormalizeHeader.
func normalizeColumns(t *table.Table) {
	for i, c := range t.Columns {
		t.Columns[i] = NormalizeHeader(c)
	}
}

// decode attempts each candidate encoding in order and returns UTF-8 bytes
// plus the name of the encoding that succeeded. A candidate succeeds only if
// decoding neither errors nor introduces replacement characters.
func (n *Normalizer) decode(path string, raw []byte) ([]byte, string, error) {
	var tried []string
	var lastErr error

	for _, candidate := range n.encodings {
		tried = append(tried, candidate.Name)

		var decoded []byte
		var err error
		switch {
		case candidate.Encoding == nil:
			// Plain UTF-8. A signature means this candidate is wrong;
			// the utf-8-sig entry owns BOM-prefixed files.
			if bytes.HasPrefix(raw, utf8BOM) || !utf8.Valid(raw) {
				n.logger.Debug("Failed to decode with encoding.",
					slog.String("path", path), slog.String("encoding", candidate.Name))
				continue
			}
			decoded = raw
		default:
			decoded, err = candidate.Encoding.NewDecoder().Bytes(raw)
			if err != nil || !cleanUTF8(decoded) {
				lastErr = err
				n.logger.Debug("Failed to decode with encoding.",
					slog.String("path", path), slog.String("encoding", candidate.Name))
				continue
			}
			if candidate.Name == "utf-8-sig" && !bytes.HasPrefix(raw, utf8BOM) {
				// Without a signature this is indistinguishable from plain
				// UTF-8, which already had its chance.
				continue
			}
		}

		n.logger.Debug("Decoded file.",
			slog.String("path", path), slog.String("encoding", candidate.Name))
		return decoded, candidate.Name, nil
	}

	return nil, "", &EncodingError{Path: path, Tried: tried, err: lastErr}
}

// cleanUTF8 reports whether decoded output is valid UTF-8 free of the
// replacement characters legacy decoders substitute for invalid input.
func cleanUTF8(b []byte) bool {
	return utf8.Valid(b) && !bytes.ContainsRune(b, utf8.RuneError)
}

// readDelimited loads a delimited file, trying candidate encodings, and
// returns the table with normalized headers.
func (n *Normalizer) readDelimited(path string) (*table.Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	decoded, encodingName, err := n.decode(path, raw)
	if err != nil {
		return nil, err
	}

	t, err := table.ReadCSV(bytes.NewReader(decoded))
	if err != nil {
		return nil, fmt.Errorf("parse %s (decoded as %s): %w", path, encodingName, err)
	}
	normalizeColumns(t)
	return t, nil
}

// NormalizeCSV normalizes one delimited file and writes the UTF-8 result to
// dest. Encoding detection failure is the only expected error; filesystem
// errors propagate as fatal.
func (n *Normalizer) NormalizeCSV(path, dest string) (*table.Table, error) {
	t, err := n.readDelimited(path)
	if err != nil {
		return nil, err
	}
	if err := t.WriteCSVFile(dest); err != nil {
		return nil, err
	}
	n.logger.Info("Normalized CSV written.",
		slog.String("source", path),
		slog.String("dest", dest),
		slog.Int("rows", t.Len()))
	return t, nil
}

// sanitizeSheetName makes a sheet name filesystem-safe by replacing runs of
// non-alphanumeric characters.
func sanitizeSheetName(name string) string {
	safe := unsafeSheetRun.ReplaceAllString(name, "_")
	if safe == "" {
		return "sheet"
	}
	return safe
}

// NormalizeWorkbook loads every sheet of an Excel workbook, normalizes
// headers per sheet, and writes one UTF-8 CSV per sheet into destDir named
// <stem>_<safe sheet name>.csv. Returns results keyed by original sheet name.
func (n *Normalizer) NormalizeWorkbook(path, destDir string) (map[string]Result, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer f.Close()

	stem := fileStem(path)
	results := make(map[string]Result)

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q of %s: %w", sheet, path, err)
		}

		var t *table.Table
		if len(rows) == 0 {
			t = table.New(nil)
		} else {
			t = table.New(rows[0])
			for _, row := range rows[1:] {
				t.AppendRow(row)
			}
		}
		normalizeColumns(t)

		dest := filepath.Join(destDir, fmt.Sprintf("%s_%s.csv", stem, sanitizeSheetName(sheet)))
		if err := t.WriteCSVFile(dest); err != nil {
			return nil, err
		}
		n.logger.Info("Normalized workbook sheet.",
			slog.String("source", path),
			slog.String("sheet", sheet),
			slog.String("dest", dest),
			slog.Int("rows", t.Len()))

		results[sheet] = Result{Name: sheet, Path: dest, Table: t}
	}

	return results, nil
}

// NormalizeZip extracts every archive member with a case-insensitive .csv
// extension to a scratch directory, normalizes each, and writes outputs into
// destDir named <zip stem>_<member stem>.csv. Name collisions get an
// incrementing numeric suffix so no output is silently overwritten.
func (n *Normalizer) NormalizeZip(path, destDir string) ([]Result, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	defer archive.Close()

	scratch, err := os.MkdirTemp("", "kawaetl-zip-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	zipStem := fileStem(path)
	used := make(map[string]bool)
	var results []Result

	for i, member := range archive.File {
		if member.FileInfo().IsDir() {
			continue
		}
		if !strings.EqualFold(filepath.Ext(member.Name), ".csv") {
			continue
		}

		memberBase := filepath.Base(member.Name)
		extracted := filepath.Join(scratch, fmt.Sprintf("%d_%s", i, memberBase))
		if err := extractMember(member, extracted); err != nil {
			return nil, fmt.Errorf("extract %s from %s: %w", member.Name, path, err)
		}

		t, err := n.readDelimited(extracted)
		if err != nil {
			return nil, err
		}

		memberStem := strings.TrimSuffix(memberBase, filepath.Ext(memberBase))
		dest := filepath.Join(destDir, fmt.Sprintf("%s_%s.csv", zipStem, memberStem))
		for counter := 1; used[dest] || exists(dest); counter++ {
			dest = filepath.Join(destDir, fmt.Sprintf("%s_%s_%d.csv", zipStem, memberStem, counter))
		}

		if err := t.WriteCSVFile(dest); err != nil {
			return nil, err
		}
		used[dest] = true
		n.logger.Info("Normalized CSV from archive.",
			slog.String("source", path),
			slog.String("member", member.Name),
			slog.String("dest", dest),
			slog.Int("rows", t.Len()))

		results = append(results, Result{Name: member.Name, Path: dest, Table: t})
	}

	return results, nil
}

func extractMember(member *zip.File, dest string) error {
	rc, err := member.Open()
	if err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		rc.Close()
		return err
	}
	_, copyErr := io.Copy(out, rc)
	closeOutErr := out.Close()
	closeRcErr := rc.Close()
	for _, e := range []error{copyErr, closeOutErr, closeRcErr} {
		if e != nil {
			return e
		}
	}
	return nil
}

func fileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
