package transform

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/ianaindex"
)

// confidenceThreshold is the minimum detection score (0..1) accepted before
// rewriting a file based on the guessed encoding.
const confidenceThreshold = 0.7

var (
	utf8BOM    = []byte{0xef, 0xbb, 0xbf}
	utf16LEBOM = []byte{0xff, 0xfe}
	utf16BEBOM = []byte{0xfe, 0xff}
)

// NormalizeEncoding detects the encoding of inputPath and rewrites it as
// UTF-8 at outputPath, stripping any leading BOM. When outputPath equals
// inputPath and the content is already BOM-free UTF-8 the file is left
// untouched.
func NormalizeEncoding(inputPath, outputPath string) (EncodingResult, error) {
	raw, err := os.ReadFile(inputPath)
	if err != nil {
		return EncodingResult{}, fmt.Errorf("read %q: %w", inputPath, err)
	}

	// Detect before stripping the BOM, it is the strongest UTF-16 signal.
	charset, confidence, err := detectEncoding(inputPath, raw)
	if err != nil {
		return EncodingResult{}, err
	}

	hadBOM := hasBOM(raw)
	if hadBOM {
		raw = stripBOM(raw)
	}

	utf8Compatible := isUTF8Compatible(charset)

	if utf8Compatible && !hadBOM && outputPath == inputPath {
		return EncodingResult{
			InputPath:        inputPath,
			OutputPath:       outputPath,
			DetectedEncoding: charset,
			Confidence:       confidence,
			ByteCount:        int64(len(raw)),
			HadBOM:           false,
		}, nil
	}

	content := raw
	if !utf8Compatible {
		content, err = transcode(raw, charset)
		if err != nil {
			return EncodingResult{}, fmt.Errorf("transcode %q from %s: %w", inputPath, charset, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return EncodingResult{}, fmt.Errorf("create output directory: %w", err)
	}

	if err := os.WriteFile(outputPath, content, 0o644); err != nil {
		return EncodingResult{}, fmt.Errorf("write %q: %w", outputPath, err)
	}

	return EncodingResult{
		InputPath:        inputPath,
		OutputPath:       outputPath,
		DetectedEncoding: charset,
		Confidence:       confidence,
		ByteCount:        int64(len(content)),
		HadBOM:           hadBOM,
	}, nil
}

// detectEncoding names the charset of raw content with a 0..1 confidence
// score. Valid UTF-8 short-circuits the statistical detector, which scores
// plain ASCII unreliably.
func detectEncoding(path string, raw []byte) (string, float64, error) {
	if utf8.Valid(raw) {
		return "UTF-8", 1.0, nil
	}

	results, err := chardet.NewTextDetector().DetectAll(raw)
	if err != nil || len(results) == 0 {
		return "", 0, fmt.Errorf("detect encoding for %q: no candidates", path)
	}

	best := results[0]
	confidence := float64(best.Confidence) / 100

	if confidence < confidenceThreshold {
		return "", 0, &EncodingError{
			Path:       path,
			Confidence: confidence,
			Candidates: topCandidates(results, 3),
		}
	}

	return best.Charset, confidence, nil
}

// isUTF8Compatible reports whether content in the named charset is already
// valid UTF-8 as stored.
func isUTF8Compatible(charset string) bool {
	normalized := strings.ToLower(strings.ReplaceAll(charset, "-", ""))

	return normalized == "utf8" || normalized == "ascii" || normalized == "usascii"
}

// transcode decodes raw bytes from the named IANA charset into UTF-8.
func transcode(raw []byte, charset string) ([]byte, error) {
	enc, err := ianaindex.IANA.Encoding(charset)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", charset)
	}

	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, err
	}

	return decoded, nil
}

func topCandidates(results []chardet.Result, n int) []string {
	if len(results) < n {
		n = len(results)
	}

	candidates := make([]string, 0, n)
	for _, r := range results[:n] {
		candidates = append(candidates, fmt.Sprintf("%s (%.2f)", r.Charset, float64(r.Confidence)/100))
	}

	return candidates
}

func hasBOM(data []byte) bool {
	return bytes.HasPrefix(data, utf8BOM) ||
		bytes.HasPrefix(data, utf16LEBOM) ||
		bytes.HasPrefix(data, utf16BEBOM)
}

func stripBOM(data []byte) []byte {
	switch {
	case bytes.HasPrefix(data, utf8BOM):
		return data[len(utf8BOM):]
	case bytes.HasPrefix(data, utf16LEBOM):
		return data[len(utf16LEBOM):]
	case bytes.HasPrefix(data, utf16BEBOM):
		return data[len(utf16BEBOM):]
	}

	return data
}
