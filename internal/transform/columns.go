package transform

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// RenameColumns rewrites the header row of a CSV file in place, replacing
// column names per the mapping. Matching trims surrounding whitespace but
// is otherwise exact. Reports whether the file changed.
func RenameColumns(csvPath string, columnMap map[string]string) (bool, error) {
	raw, err := os.ReadFile(csvPath)
	if err != nil {
		return false, fmt.Errorf("read %q: %w", csvPath, err)
	}

	content := string(raw)

	header, rest, _ := strings.Cut(content, "\n")
	if header == "" {
		return false, nil
	}

	parts := strings.Split(header, ",")
	changed := false

	for i, part := range parts {
		if renamed, ok := columnMap[strings.TrimSpace(part)]; ok {
			parts[i] = renamed
			changed = true
		}
	}

	if !changed {
		return false, nil
	}

	rewritten := strings.Join(parts, ",") + "\n" + rest
	if err := os.WriteFile(csvPath, []byte(rewritten), 0o644); err != nil {
		return false, fmt.Errorf("write %q: %w", csvPath, err)
	}

	return true, nil
}

// StripColumns removes columns not present in the allowed set, rewriting
// the whole file with proper CSV parsing so quoted fields holding commas
// survive. Comparison is case-insensitive. Reports whether the file
// changed.
func StripColumns(csvPath string, allowed []string) (bool, error) {
	in, err := os.Open(csvPath)
	if err != nil {
		return false, fmt.Errorf("open %q: %w", csvPath, err)
	}

	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()

	_ = in.Close()

	if err != nil {
		return false, fmt.Errorf("parse %q: %w", csvPath, err)
	}

	if len(records) == 0 {
		return false, nil
	}

	allowedLower := make(map[string]struct{}, len(allowed))
	for _, col := range allowed {
		allowedLower[strings.ToLower(col)] = struct{}{}
	}

	header := records[0]

	var keep []int

	for i, col := range header {
		if _, ok := allowedLower[strings.ToLower(strings.TrimSpace(col))]; ok {
			keep = append(keep, i)
		}
	}

	if len(keep) == len(header) {
		return false, nil
	}

	out, err := os.Create(csvPath)
	if err != nil {
		return false, fmt.Errorf("rewrite %q: %w", csvPath, err)
	}

	writer := csv.NewWriter(out)

	for _, record := range records {
		projected := make([]string, 0, len(keep))
		for _, i := range keep {
			if i < len(record) {
				projected = append(projected, record[i])
			} else {
				projected = append(projected, "")
			}
		}

		if err := writer.Write(projected); err != nil {
			_ = out.Close()

			return false, fmt.Errorf("write %q: %w", csvPath, err)
		}
	}

	writer.Flush()

	if err := writer.Error(); err != nil {
		_ = out.Close()

		return false, fmt.Errorf("flush %q: %w", csvPath, err)
	}

	return true, out.Close()
}
