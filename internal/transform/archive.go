package transform

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ExtractArchive extracts the CSV members of a ZIP archive into outDir,
// flattening any internal directory structure. Archive integrity is
// verified up front so a corrupt member fails the whole archive before
// anything is written. Members already on disk with a matching size are
// skipped.
func ExtractArchive(zipPath, outDir string) ([]ExtractResult, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open archive %q: %w", zipPath, err)
	}

	defer func() {
		_ = reader.Close()
	}()

	if err := verifyArchive(&reader.Reader, zipPath); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	var results []ExtractResult

	for _, member := range reader.File {
		if !isCSVMember(member) {
			continue
		}

		target := filepath.Join(outDir, path.Base(member.Name))
		size := int64(member.UncompressedSize64)

		if info, err := os.Stat(target); err == nil && info.Size() == size {
			results = append(results, ExtractResult{
				ArchivePath:   zipPath,
				ExtractedPath: target,
				OriginalName:  member.Name,
				ByteSize:      size,
				Skipped:       true,
			})

			continue
		}

		if err := extractMember(member, target); err != nil {
			return nil, fmt.Errorf("extract %q from %q: %w", member.Name, zipPath, err)
		}

		results = append(results, ExtractResult{
			ArchivePath:   zipPath,
			ExtractedPath: target,
			OriginalName:  member.Name,
			ByteSize:      size,
			Skipped:       false,
		})
	}

	return results, nil
}

// verifyArchive reads every member to completion, which forces the CRC
// check, and names the first member that fails it.
func verifyArchive(reader *zip.Reader, zipPath string) error {
	for _, member := range reader.File {
		if member.FileInfo().IsDir() {
			continue
		}

		rc, err := member.Open()
		if err != nil {
			return fmt.Errorf("corrupt archive %q: bad member %q: %w", zipPath, member.Name, err)
		}

		_, err = io.Copy(io.Discard, rc)

		_ = rc.Close()

		if err != nil {
			return fmt.Errorf("corrupt archive %q: bad member %q: %w", zipPath, member.Name, err)
		}
	}

	return nil
}

// isCSVMember filters archive members to CSV files, excluding directories
// and macOS resource-fork metadata.
func isCSVMember(member *zip.File) bool {
	if member.FileInfo().IsDir() {
		return false
	}

	if strings.Contains(member.Name, "__MACOSX") {
		return false
	}

	return strings.HasSuffix(strings.ToLower(member.Name), ".csv")
}

func extractMember(member *zip.File, target string) error {
	src, err := member.Open()
	if err != nil {
		return err
	}

	defer func() {
		_ = src.Close()
	}()

	dst, err := os.Create(target)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()

		return err
	}

	return dst.Close()
}
