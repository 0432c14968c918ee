// Package transform prepares raw source files for validation and loading:
// spreadsheet-to-CSV conversion, encoding normalization to UTF-8, ZIP
// archive extraction, and CSV column surgery.
//
// Every operation is idempotent and produces deterministic output.
package transform

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotSpreadsheet reports that a file with a spreadsheet extension is
	// not a valid XLSX container. Callers treat this as a signal to copy the
	// file through verbatim instead.
	ErrNotSpreadsheet = errors.New("not a valid xlsx container")

	// ErrSheetNotFound reports that the requested worksheet does not exist.
	ErrSheetNotFound = errors.New("worksheet not found")
)

// TransformResult describes a completed spreadsheet conversion.
type TransformResult struct {
	InputPath   string
	OutputPath  string
	RowCount    int // data rows written, header excluded
	ColumnCount int
	Elapsed     time.Duration
}

// EncodingResult describes a completed encoding normalization.
type EncodingResult struct {
	InputPath        string
	OutputPath       string
	DetectedEncoding string
	Confidence       float64
	ByteCount        int64
	HadBOM           bool
}

// ExtractResult describes a single member extracted from a ZIP archive.
type ExtractResult struct {
	ArchivePath   string
	ExtractedPath string
	OriginalName  string
	ByteSize      int64
	Skipped       bool
}

// EncodingError reports that encoding detection confidence fell below the
// acceptance threshold, carrying the top candidates for diagnostics.
type EncodingError struct {
	Path       string
	Confidence float64
	Candidates []string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf(
		"low confidence (%.2f) detecting encoding for %q, top candidates: %s",
		e.Confidence, e.Path, joinCandidates(e.Candidates),
	)
}

func joinCandidates(candidates []string) string {
	if len(candidates) == 0 {
		return "none"
	}

	out := candidates[0]
	for _, c := range candidates[1:] {
		out += ", " + c
	}

	return out
}
