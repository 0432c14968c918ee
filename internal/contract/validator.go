package contract

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// typeSampleRows caps how many data rows per file get type-checked.
const typeSampleRows = 1000

// Type patterns. DATE accepts a midnight timestamp suffix and INTEGER an
// optional .0 suffix because spreadsheet cell rendering produces both.
var (
	datePattern      = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}([T ]00:00:00)?$`)
	timePattern      = regexp.MustCompile(`^\d{1,2}:\d{2}(:\d{2})?$`)
	integerPattern   = regexp.MustCompile(`^-?\d+(\.0)?$`)
	decimalPattern   = regexp.MustCompile(`^-?\d+\.?\d*$`)
	timestampPattern = regexp.MustCompile(
		`^\d{1,2}/\d{1,2}/\d{4}\s+\d{1,2}:\d{2}$|^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}(:\d{2})?$`)
)

// ValidationError reports the first deviation of a CSV file from its
// schema contract. No partial processing happens after one is raised.
type ValidationError struct {
	FilePath        string
	ExpectedColumns []string
	ActualColumns   []string
	Mismatches      []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema validation failed for %q: %s",
		e.FilePath, strings.Join(e.Mismatches, "; "))
}

// ValidationResult is the outcome of validating one CSV file.
type ValidationResult struct {
	FilePath    string
	DatasetName string
	RowCount    int // data rows, header excluded
	ColumnCount int
}

// Validator checks CSV files against a single schema contract in two
// phases: structural column presence, then type conformance on a sample
// of rows. The first deviation aborts the file.
type Validator struct {
	schema Schema
	logger *slog.Logger
}

// NewValidator returns a Validator bound to one dataset's contract.
func NewValidator(schema Schema, logger *slog.Logger) *Validator {
	return &Validator{schema: schema, logger: logger}
}

// ValidateFile validates a single CSV file, returning a *ValidationError
// on the first structural or type deviation.
func (v *Validator) ValidateFile(csvPath string) (ValidationResult, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("open %q: %w", csvPath, err)
	}

	defer func() {
		_ = f.Close()
	}()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return ValidationResult{}, &ValidationError{
			FilePath:        csvPath,
			ExpectedColumns: v.schema.ColumnNames(),
			Mismatches:      []string{"file has no header row"},
		}
	}

	if err != nil {
		return ValidationResult{}, fmt.Errorf("read header of %q: %w", csvPath, err)
	}

	if err := v.validateStructure(csvPath, header); err != nil {
		return ValidationResult{}, err
	}

	// Column index per contract column, keyed by lowercased header.
	indexByName := make(map[string]int, len(header))
	for i, col := range header {
		indexByName[strings.ToLower(strings.TrimSpace(col))] = i
	}

	totalRows := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}

		if err != nil {
			return ValidationResult{}, fmt.Errorf("read %q: %w", csvPath, err)
		}

		totalRows++

		if totalRows <= typeSampleRows {
			if err := v.validateRowTypes(csvPath, header, indexByName, record, totalRows); err != nil {
				return ValidationResult{}, err
			}
		}
	}

	if totalRows < v.schema.MinRowCount {
		v.logger.Warn("row count below sanity threshold",
			slog.String("file", filepath.Base(csvPath)),
			slog.Int("rows", totalRows),
			slog.Int("expected_min", v.schema.MinRowCount))
	}

	v.logger.Info("valid",
		slog.String("file", filepath.Base(csvPath)),
		slog.Int("rows", totalRows),
		slog.Int("columns", len(header)))

	return ValidationResult{
		FilePath:    csvPath,
		DatasetName: v.schema.DatasetName,
		RowCount:    totalRows,
		ColumnCount: len(header),
	}, nil
}

// validateStructure fails on missing required columns. Extras and case
// mismatches only warn.
func (v *Validator) validateStructure(csvPath string, header []string) error {
	actualLower := make(map[string]struct{}, len(header))
	for _, col := range header {
		actualLower[strings.ToLower(strings.TrimSpace(col))] = struct{}{}
	}

	var missing []string

	for _, col := range v.schema.Columns {
		if _, ok := actualLower[strings.ToLower(col.Name)]; !ok {
			missing = append(missing, col.Name)
		}
	}

	if len(missing) > 0 {
		return &ValidationError{
			FilePath:        csvPath,
			ExpectedColumns: v.schema.ColumnNames(),
			ActualColumns:   header,
			Mismatches: []string{
				fmt.Sprintf("missing required columns: %s", strings.Join(missing, ", ")),
			},
		}
	}

	expectedLower := make(map[string]string, len(v.schema.Columns))
	for _, col := range v.schema.Columns {
		expectedLower[strings.ToLower(col.Name)] = col.Name
	}

	for _, col := range header {
		trimmed := strings.TrimSpace(col)

		expected, ok := expectedLower[strings.ToLower(trimmed)]
		if !ok {
			v.logger.Warn("extra column not in contract",
				slog.String("file", filepath.Base(csvPath)),
				slog.String("column", trimmed))

			continue
		}

		if trimmed != expected {
			v.logger.Warn("column case mismatch",
				slog.String("file", filepath.Base(csvPath)),
				slog.String("expected", expected),
				slog.String("found", trimmed))
		}
	}

	return nil
}

// validateRowTypes checks one record against the contract types, failing
// on the first offending value.
func (v *Validator) validateRowTypes(csvPath string, header []string, indexByName map[string]int, record []string, rowNumber int) error {
	for _, col := range v.schema.Columns {
		idx, ok := indexByName[strings.ToLower(col.Name)]
		if !ok || idx >= len(record) {
			continue
		}

		value := strings.TrimSpace(record[idx])

		if value == "" || strings.EqualFold(value, "NULL") {
			if !col.Nullable {
				return v.rowError(csvPath, header, fmt.Sprintf(
					"row %d: column %q is empty but not nullable", rowNumber, col.Name))
			}

			continue
		}

		if !checkType(value, col.Type) {
			return v.rowError(csvPath, header, fmt.Sprintf(
				"row %d: column %q value %q does not match expected type %s",
				rowNumber, col.Name, truncate(value, 50), col.Type))
		}
	}

	return nil
}

func (v *Validator) rowError(csvPath string, header []string, mismatch string) error {
	return &ValidationError{
		FilePath:        csvPath,
		ExpectedColumns: v.schema.ColumnNames(),
		ActualColumns:   header,
		Mismatches:      []string{mismatch},
	}
}

func checkType(value string, t ColumnType) bool {
	switch t {
	case TypeString:
		return true
	case TypeDate:
		return datePattern.MatchString(value)
	case TypeTime:
		return timePattern.MatchString(value)
	case TypeInteger:
		return integerPattern.MatchString(value)
	case TypeDecimal:
		return decimalPattern.MatchString(value)
	case TypeTimestamp:
		return timestampPattern.MatchString(value)
	}

	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n]
}

// ValidateDir validates every CSV file under dir in sorted order,
// stopping at the first failure. Results for files validated before the
// failure are returned alongside the error. A directory with no CSV
// files only warns.
func (v *Validator) ValidateDir(dir string) ([]ValidationResult, error) {
	var csvFiles []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() && strings.HasSuffix(strings.ToLower(path), ".csv") {
			csvFiles = append(csvFiles, path)
		}

		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		v.logger.Warn("validated directory does not exist", slog.String("dir", dir))

		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("walk %q: %w", dir, err)
	}

	if len(csvFiles) == 0 {
		v.logger.Warn("no csv files found", slog.String("dir", dir))

		return nil, nil
	}

	results := make([]ValidationResult, 0, len(csvFiles))

	for _, path := range csvFiles {
		result, err := v.ValidateFile(path)
		if err != nil {
			return results, err
		}

		results = append(results, result)
	}

	return results, nil
}
