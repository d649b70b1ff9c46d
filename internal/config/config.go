package config

import (
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
)

// Defaults for the on-disk layout shared by the fetcher, normalizer and ledger.
const (
	DefaultRawDir        = "data/raw"
	DefaultNormalizedDir = "data/normalized"
	DefaultMetaDir       = "data/meta"

	DefaultDatasetsPath = "configs/datasets.yml"
	DefaultDBConfigPath = "configs/db.yml"
	DefaultDBAlias      = "default"

	// Chunk size for streaming downloads and file hashing.
	DefaultChunkSize = 64 * 1024

	DefaultHTTPTimeout = 30 * time.Second
)

// EncodingCandidate is one entry in the ordered list of encodings tried when
// reading delimited text. A nil Encoding means plain UTF-8 without signature.
type EncodingCandidate struct {
	Name     string
	Encoding encoding.Encoding
}

// DefaultEncodings returns the candidate encodings for municipal CSV files,
// tried in order. ShiftJIS uses the Microsoft cp932 table, so one entry
// covers files published under either the cp932 or shift_jis label.
func DefaultEncodings() []EncodingCandidate {
	return []EncodingCandidate{
		{Name: "utf-8", Encoding: nil},
		{Name: "utf-8-sig", Encoding: unicode.UTF8BOM},
		{Name: "shift_jis", Encoding: japanese.ShiftJIS},
		{Name: "euc-jp", Encoding: japanese.EUCJP},
		{Name: "iso-2022-jp", Encoding: japanese.ISO2022JP},
	}
}

// Settings holds application configuration. Components receive the values
// they need from here rather than reading package globals, so tests can point
// each component at scratch directories.
type Settings struct {
	RawDir        string
	NormalizedDir string
	MetaDir       string

	DatasetsPath string
	DBConfigPath string
	DBAlias      string

	ChunkSize   int
	HTTPTimeout time.Duration
	Encodings   []EncodingCandidate
}

// Default returns Settings populated with the standard layout and encoding
// candidates.
func Default() Settings {
	return Settings{
		RawDir:        DefaultRawDir,
		NormalizedDir: DefaultNormalizedDir,
		MetaDir:       DefaultMetaDir,
		DatasetsPath:  DefaultDatasetsPath,
		DBConfigPath:  DefaultDBConfigPath,
		DBAlias:       DefaultDBAlias,
		ChunkSize:     DefaultChunkSize,
		HTTPTimeout:   DefaultHTTPTimeout,
		Encodings:     DefaultEncodings(),
	}
}
