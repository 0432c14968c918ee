package transform

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeWorkbook(t *testing.T, sheet string, rows [][]any) string {
	t.Helper()

	f := excelize.NewFile()

	index, err := f.NewSheet(sheet)
	require.NoError(t, err)

	f.SetActiveSheet(index)
	require.NoError(t, f.DeleteSheet("Sheet1"))

	for r, row := range rows {
		for c, value := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, cell, value))
		}
	}

	path := filepath.Join(t.TempDir(), "input.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	return path
}

func TestConvertSpreadsheet(t *testing.T) {
	t.Run("converts rows and pads empty cells", func(t *testing.T) {
		xlsxPath := writeWorkbook(t, "Delays", [][]any{
			{"Date", "Time", "Station", "Min Delay"},
			{"2023-01-01", "02:15", "Bloor", 5},
			{"2023-01-02", "06:40", "Union", ""},
		})

		csvPath := filepath.Join(t.TempDir(), "out", "delays.csv")

		result, err := ConvertSpreadsheet(xlsxPath, csvPath, "Delays")
		require.NoError(t, err)

		assert.Equal(t, 2, result.RowCount)
		assert.Equal(t, 4, result.ColumnCount)

		content, err := os.ReadFile(csvPath)
		require.NoError(t, err)

		lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
		require.Len(t, lines, 3)
		assert.Equal(t, "Date,Time,Station,Min Delay", lines[0])
		assert.Equal(t, "2023-01-01,02:15,Bloor,5", lines[1])
		assert.Equal(t, "2023-01-02,06:40,Union,", lines[2], "missing cell padded to header width")
	})

	t.Run("missing sheet error lists available sheets", func(t *testing.T) {
		xlsxPath := writeWorkbook(t, "Delays", [][]any{{"Date"}})

		_, err := ConvertSpreadsheet(xlsxPath, filepath.Join(t.TempDir(), "out.csv"), "Nope")
		require.ErrorIs(t, err, ErrSheetNotFound)
		assert.Contains(t, err.Error(), "Delays")
	})

	t.Run("csv masquerading as xlsx", func(t *testing.T) {
		fake := filepath.Join(t.TempDir(), "fake.xlsx")
		require.NoError(t, os.WriteFile(fake, []byte("Date,Time\n2023-01-01,02:15\n"), 0o644))

		_, err := ConvertSpreadsheet(fake, filepath.Join(t.TempDir(), "out.csv"), "")
		assert.ErrorIs(t, err, ErrNotSpreadsheet)
	})
}

func TestNormalizeEncoding(t *testing.T) {
	t.Run("clean utf8 in place is a no-op", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "clean.csv")
		content := []byte("Date,Station\n2023-01-01,Bloor\n")
		require.NoError(t, os.WriteFile(path, content, 0o644))

		result, err := NormalizeEncoding(path, path)
		require.NoError(t, err)

		assert.False(t, result.HadBOM)
		assert.Equal(t, int64(len(content)), result.ByteCount)

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, content, got)
	})

	t.Run("strips utf8 bom", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bom.csv")
		body := []byte("Date,Station\n2023-01-01,Bloor\n")
		require.NoError(t, os.WriteFile(path, append([]byte{0xef, 0xbb, 0xbf}, body...), 0o644))

		result, err := NormalizeEncoding(path, path)
		require.NoError(t, err)

		assert.True(t, result.HadBOM)

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, body, got)
	})

	t.Run("transcodes utf16le to utf8", func(t *testing.T) {
		text := "Date,Station\n2023-01-01,Bloor\n"

		var buf bytes.Buffer

		buf.Write([]byte{0xff, 0xfe})
		for _, r := range text {
			buf.WriteByte(byte(r))
			buf.WriteByte(0x00)
		}

		in := filepath.Join(t.TempDir(), "utf16.csv")
		out := filepath.Join(t.TempDir(), "utf8.csv")
		require.NoError(t, os.WriteFile(in, buf.Bytes(), 0o644))

		result, err := NormalizeEncoding(in, out)
		require.NoError(t, err)

		assert.True(t, result.HadBOM)

		got, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Equal(t, text, string(got))
	})
}

func TestBOMHelpers(t *testing.T) {
	assert.True(t, hasBOM([]byte{0xef, 0xbb, 0xbf, 'a'}))
	assert.True(t, hasBOM([]byte{0xff, 0xfe, 'a', 0x00}))
	assert.True(t, hasBOM([]byte{0xfe, 0xff, 0x00, 'a'}))
	assert.False(t, hasBOM([]byte("plain text")))

	assert.Equal(t, []byte("a"), stripBOM([]byte{0xef, 0xbb, 0xbf, 'a'}))
	assert.Equal(t, []byte("plain"), stripBOM([]byte("plain")))
}

func writeArchive(t *testing.T, members map[string]string) string {
	t.Helper()

	var buf bytes.Buffer

	zw := zip.NewWriter(&buf)
	for name, content := range members {
		// Stored members keep payload bytes verbatim, which lets the
		// corruption test target them directly.
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		require.NoError(t, err)

		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "archive.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	return path
}

func TestExtractArchive(t *testing.T) {
	t.Run("extracts and flattens csv members only", func(t *testing.T) {
		zipPath := writeArchive(t, map[string]string{
			"ridership-2023-01.csv":            "Trip Id,Start Time\n1,2023-01-01\n",
			"nested/dir/ridership-2023-02.csv": "Trip Id,Start Time\n2,2023-02-01\n",
			"__MACOSX/._ridership-2023-01.csv": "resource fork junk",
			"readme.txt":                       "not a csv",
		})

		outDir := filepath.Join(t.TempDir(), "extracted")

		results, err := ExtractArchive(zipPath, outDir)
		require.NoError(t, err)
		require.Len(t, results, 2)

		assert.FileExists(t, filepath.Join(outDir, "ridership-2023-01.csv"))
		assert.FileExists(t, filepath.Join(outDir, "ridership-2023-02.csv"), "nested member flattened")
		assert.NoFileExists(t, filepath.Join(outDir, "readme.txt"))
		assert.NoDirExists(t, filepath.Join(outDir, "__MACOSX"))
	})

	t.Run("skips existing member with matching size", func(t *testing.T) {
		zipPath := writeArchive(t, map[string]string{
			"ridership-2023-01.csv": "Trip Id\n1\n",
		})

		outDir := t.TempDir()

		first, err := ExtractArchive(zipPath, outDir)
		require.NoError(t, err)
		require.Len(t, first, 1)
		assert.False(t, first[0].Skipped)

		second, err := ExtractArchive(zipPath, outDir)
		require.NoError(t, err)
		require.Len(t, second, 1)
		assert.True(t, second[0].Skipped)
	})

	t.Run("corrupt member fails before anything extracts", func(t *testing.T) {
		marker := "UNIQUE-PAYLOAD-MARKER"
		zipPath := writeArchive(t, map[string]string{
			"ridership-2023-01.csv": "Trip Id,Start Time\n1," + marker + "\n",
		})

		raw, err := os.ReadFile(zipPath)
		require.NoError(t, err)

		// Flip a payload byte so the member fails its integrity check.
		idx := bytes.IndexByte(raw, 'U')
		require.Positive(t, idx)
		raw[idx] ^= 0xff
		require.NoError(t, os.WriteFile(zipPath, raw, 0o644))

		outDir := filepath.Join(t.TempDir(), "extracted")

		_, err = ExtractArchive(zipPath, outDir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ridership-2023-01.csv")
		assert.NoFileExists(t, filepath.Join(outDir, "ridership-2023-01.csv"))
	})
}

func TestRenameColumns(t *testing.T) {
	unifiedBusRenames := map[string]string{
		"Line":    "Route",
		"Station": "Location",
		"Code":    "Incident",
		"Bound":   "Direction",
	}

	t.Run("applies unified schema renames", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bus.csv")
		require.NoError(t, os.WriteFile(path, []byte(
			"Date,Line,Station,Code,Bound,Min Delay\n2025-01-01,36,Finch West,MECH,N,10\n",
		), 0o644))

		changed, err := RenameColumns(path, unifiedBusRenames)
		require.NoError(t, err)
		assert.True(t, changed)

		content, err := os.ReadFile(path)
		require.NoError(t, err)

		lines := strings.SplitN(string(content), "\n", 2)
		assert.Equal(t, "Date,Route,Location,Incident,Direction,Min Delay", lines[0])
		assert.Equal(t, "2025-01-01,36,Finch West,MECH,N,10\n", lines[1], "data rows untouched")
	})

	t.Run("no matches leaves file untouched", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bus.csv")
		original := "Date,Route,Location\n2025-01-01,36,Finch West\n"
		require.NoError(t, os.WriteFile(path, []byte(original), 0o644))

		changed, err := RenameColumns(path, unifiedBusRenames)
		require.NoError(t, err)
		assert.False(t, changed)

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, original, string(content))
	})

	t.Run("exact match only", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bus.csv")
		require.NoError(t, os.WriteFile(path, []byte("Date,Lineage,Line\nx,y,z\n"), 0o644))

		changed, err := RenameColumns(path, map[string]string{"Line": "Route"})
		require.NoError(t, err)
		assert.True(t, changed)

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(content), "Date,Lineage,Route\n"))
	})
}

func TestStripColumns(t *testing.T) {
	t.Run("removes columns outside the allowed set", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "trips.csv")
		require.NoError(t, os.WriteFile(path, []byte(
			"Trip Id,Start Time,Notes\n1,2023-01-01,\"stopped, briefly\"\n",
		), 0o644))

		changed, err := StripColumns(path, []string{"TRIP ID", "START TIME"})
		require.NoError(t, err)
		assert.True(t, changed, "comparison is case-insensitive")

		content, err := os.ReadFile(path)
		require.NoError(t, err)

		lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
		require.Len(t, lines, 2)
		assert.Equal(t, "Trip Id,Start Time", lines[0])
		assert.Equal(t, "1,2023-01-01", lines[1])
	})

	t.Run("all columns allowed is a no-op", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "trips.csv")
		original := "Trip Id,Start Time\n1,2023-01-01\n"
		require.NoError(t, os.WriteFile(path, []byte(original), 0o644))

		changed, err := StripColumns(path, []string{"Trip Id", "Start Time"})
		require.NoError(t, err)
		assert.False(t, changed)

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, original, string(content))
	})

	t.Run("short rows padded to kept width", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "trips.csv")
		require.NoError(t, os.WriteFile(path, []byte("A,B,C\n1,2,3\n4\n"), 0o644))

		changed, err := StripColumns(path, []string{"A", "C"})
		require.NoError(t, err)
		assert.True(t, changed)

		content, err := os.ReadFile(path)
		require.NoError(t, err)

		lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
		require.Len(t, lines, 3)
		assert.Equal(t, "4,", lines[2])
	})
}
