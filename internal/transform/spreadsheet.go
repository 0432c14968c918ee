package transform

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// zipMagic is the local-file-header signature every XLSX container starts
// with. Files missing it are CSVs (or junk) mislabeled with an .xlsx
// extension, which the open-data portal occasionally serves.
var zipMagic = []byte{'P', 'K', 0x03, 0x04}

// ConvertSpreadsheet converts a single XLSX file to UTF-8 CSV using
// streaming row reads, so large workbooks never load fully into memory.
// An empty sheet name selects the active worksheet. Returns
// ErrNotSpreadsheet when the input is not a ZIP container.
func ConvertSpreadsheet(xlsxPath, csvPath, sheet string) (TransformResult, error) {
	start := time.Now()

	if err := checkZipMagic(xlsxPath); err != nil {
		return TransformResult{}, err
	}

	workbook, err := excelize.OpenFile(xlsxPath)
	if err != nil {
		return TransformResult{}, fmt.Errorf("open workbook %q: %w", xlsxPath, err)
	}

	defer func() {
		_ = workbook.Close()
	}()

	sheet, err = resolveSheet(workbook, sheet, xlsxPath)
	if err != nil {
		return TransformResult{}, err
	}

	if err := os.MkdirAll(filepath.Dir(csvPath), 0o755); err != nil {
		return TransformResult{}, fmt.Errorf("create output directory: %w", err)
	}

	out, err := os.Create(csvPath)
	if err != nil {
		return TransformResult{}, fmt.Errorf("create %q: %w", csvPath, err)
	}

	defer func() {
		_ = out.Close()
	}()

	rows, err := workbook.Rows(sheet)
	if err != nil {
		return TransformResult{}, fmt.Errorf("stream rows from %q: %w", xlsxPath, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	writer := csv.NewWriter(out)

	var rowCount, columnCount int

	for i := 0; rows.Next(); i++ {
		columns, err := rows.Columns()
		if err != nil {
			return TransformResult{}, fmt.Errorf("read row %d of %q: %w", i+1, xlsxPath, err)
		}

		if i == 0 {
			columnCount = len(columns)
		} else {
			rowCount++
			// Streaming reads drop trailing empty cells. Pad data rows back
			// out to the header width so every CSV record has equal length.
			for len(columns) < columnCount {
				columns = append(columns, "")
			}
		}

		if err := writer.Write(columns); err != nil {
			return TransformResult{}, fmt.Errorf("write csv row: %w", err)
		}
	}

	writer.Flush()

	if err := writer.Error(); err != nil {
		return TransformResult{}, fmt.Errorf("flush %q: %w", csvPath, err)
	}

	if err := out.Close(); err != nil {
		return TransformResult{}, fmt.Errorf("close %q: %w", csvPath, err)
	}

	return TransformResult{
		InputPath:   xlsxPath,
		OutputPath:  csvPath,
		RowCount:    rowCount,
		ColumnCount: columnCount,
		Elapsed:     time.Since(start),
	}, nil
}

// checkZipMagic distinguishes real XLSX containers from CSVs served with an
// .xlsx extension.
func checkZipMagic(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %q: %w", path, err)
	}

	defer func() {
		_ = f.Close()
	}()

	header := make([]byte, len(zipMagic))
	if _, err := f.Read(header); err != nil || !bytes.Equal(header, zipMagic) {
		return fmt.Errorf("%q (may be a CSV with .xlsx extension): %w", path, ErrNotSpreadsheet)
	}

	return nil
}

// resolveSheet picks the worksheet to read, listing the available sheets
// when the requested one is missing.
func resolveSheet(workbook *excelize.File, sheet, xlsxPath string) (string, error) {
	names := workbook.GetSheetList()

	if sheet == "" {
		if len(names) == 0 {
			return "", fmt.Errorf("workbook %q has no worksheets: %w", xlsxPath, ErrSheetNotFound)
		}

		return workbook.GetSheetName(workbook.GetActiveSheetIndex()), nil
	}

	for _, name := range names {
		if name == sheet {
			return sheet, nil
		}
	}

	return "", fmt.Errorf("sheet %q in %q: %w, available sheets: %s",
		sheet, xlsxPath, ErrSheetNotFound, strings.Join(names, ", "))
}
