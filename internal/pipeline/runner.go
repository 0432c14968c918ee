package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/toronto-mobility/ingestor/internal/config"
	"github.com/toronto-mobility/ingestor/internal/contract"
	"github.com/toronto-mobility/ingestor/internal/download"
	"github.com/toronto-mobility/ingestor/internal/manifest"
	"github.com/toronto-mobility/ingestor/internal/transform"
	"github.com/toronto-mobility/ingestor/internal/warehouse"
)

const (
	manifestFileName = ".manifest.json"

	// minYear gates historical files out of the transform stage. Files
	// whose path carries an older four digit year are left untouched in
	// the raw directory.
	minYear = 2020

	// renameYear is the first year the TTC changed bus and streetcar
	// delay column headings. Files from this year on are renamed back to
	// the contract headings.
	renameYear = 2025
)

// The rename maps rewrite header names in place and never reorder
// columns. The bulk load maps columns positionally, so a source file
// whose column order deviates from the table layout misloads even after
// renaming. Observed 2025 files keep the legacy order, only the names
// changed.

// busRenames maps 2025+ TTC bus delay headings to the contract headings.
var busRenames = map[string]string{
	"Line":    "Route",
	"Station": "Location",
	"Code":    "Incident",
	"Bound":   "Direction",
}

// streetcarRenames maps 2025+ TTC streetcar delay headings to the
// contract headings.
var streetcarRenames = map[string]string{
	"Station": "Location",
	"Code":    "Incident",
}

// loadFunc loads validated CSV files for one dataset inside a single
// transaction and reports the merge outcome.
type loadFunc func(ctx context.Context, datasetName string, csvFiles []string) (warehouse.MergeResult, error)

// Options configures a pipeline Runner.
type Options struct {
	RawDir       string
	ValidatedDir string
	SkipDownload bool
	StageBucket  string
	Store        warehouse.ObjectStore
	Credentials  warehouse.Credentials
	Pool         warehouse.PoolConfig
	Logger       *slog.Logger
}

// Runner executes the full pipeline for a set of datasets. Datasets are
// processed sequentially and independently, a failure in one never stops
// the others.
type Runner struct {
	rawDir       string
	validatedDir string
	skipDownload bool
	downloader   *download.Downloader
	logger       *slog.Logger
	load         loadFunc
}

// NewRunner builds a Runner that loads through a fresh warehouse
// connection per dataset.
func NewRunner(opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{
		rawDir:       opts.RawDir,
		validatedDir: opts.ValidatedDir,
		skipDownload: opts.SkipDownload,
		downloader:   download.New(logger),
		logger:       logger,
	}
	r.load = func(ctx context.Context, datasetName string, csvFiles []string) (warehouse.MergeResult, error) {
		return loadWithConnection(ctx, opts, logger, datasetName, csvFiles)
	}

	return r
}

// loadWithConnection opens a warehouse connection, loads the dataset in
// one transaction, and closes the connection again. Each dataset gets
// its own connection so a poisoned session cannot leak across datasets.
func loadWithConnection(ctx context.Context, opts Options, logger *slog.Logger, datasetName string, csvFiles []string) (warehouse.MergeResult, error) {
	var merge warehouse.MergeResult

	err := warehouse.WithConnection(ctx, opts.Credentials, opts.Pool, func(conn *warehouse.Connection) error {
		tx, err := conn.BeginTx(ctx)
		if err != nil {
			return err
		}

		loader := warehouse.NewLoader(opts.Store, opts.StageBucket, logger)

		result, err := loader.LoadDataset(ctx, tx, datasetName, csvFiles)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}

			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing load for %s: %w", datasetName, err)
		}

		merge = result

		return nil
	})

	return merge, err
}

// Run executes all stages for every dataset and aggregates the results.
func (r *Runner) Run(ctx context.Context, datasets []config.DatasetConfig) Result {
	start := time.Now()
	result := Result{RunID: newRunID(), Success: true}

	r.logger.Info("pipeline starting",
		slog.String("run_id", result.RunID),
		slog.Int("datasets", len(datasets)))

	for _, ds := range datasets {
		dr := r.runDataset(ctx, ds)
		result.Datasets = append(result.Datasets, dr)

		switch dr.Status {
		case StatusFailed:
			result.Success = false
			r.logger.Error("dataset failed",
				slog.String("dataset", dr.DatasetName),
				slog.String("stage", string(dr.Stage)),
				slog.String("error", dr.ErrorMessage))
		case StatusSkipped:
			r.logger.Info("dataset skipped", slog.String("dataset", dr.DatasetName))
		default:
			r.logger.Info("dataset complete",
				slog.String("dataset", dr.DatasetName),
				slog.Int64("rows", dr.RowsLoaded),
				slog.Duration("elapsed", dr.Elapsed))
		}
	}

	result.Elapsed = time.Since(start)

	return result
}

func (r *Runner) runDataset(ctx context.Context, ds config.DatasetConfig) DatasetResult {
	start := time.Now()
	res := DatasetResult{DatasetName: ds.Name, Stage: StageDownload, Status: StatusSuccess}

	fail := func(err error) DatasetResult {
		res.Status = StatusFailed
		res.ErrorMessage = err.Error()
		res.Elapsed = time.Since(start)

		return res
	}

	if r.skipDownload {
		r.logger.Info("download skipped", slog.String("dataset", ds.Name))
	} else if err := r.runDownload(ctx, ds); err != nil {
		return fail(err)
	}

	rawDir := filepath.Join(r.rawDir, ds.OutputDir)
	if _, err := os.Stat(rawDir); errors.Is(err, fs.ErrNotExist) {
		res.Status = StatusSkipped
		res.Elapsed = time.Since(start)

		return res
	}

	res.Stage = StageTransform
	if err := r.runTransform(ds); err != nil {
		return fail(err)
	}

	res.Stage = StageValidate
	csvFiles, err := r.runValidate(ds)
	if err != nil {
		return fail(err)
	}

	res.Stage = StageLoad
	if len(csvFiles) == 0 {
		return fail(fmt.Errorf("no validated CSV files found for %s", ds.Name))
	}

	merge, err := r.load(ctx, ds.Name, csvFiles)
	if err != nil {
		return fail(err)
	}

	res.RowsLoaded = merge.RowsInserted + merge.RowsUpdated
	res.Elapsed = time.Since(start)

	return res
}

// runDownload fetches into the raw root. The download strategies place
// files under <rawDir>/<output_dir>/<year>/, and all datasets share the
// single manifest at <rawDir>/.manifest.json.
func (r *Runner) runDownload(ctx context.Context, ds config.DatasetConfig) error {
	man, err := manifest.Load(filepath.Join(r.rawDir, manifestFileName))
	if err != nil {
		return fmt.Errorf("loading manifest for %s: %w", ds.Name, err)
	}

	if pruned := man.Prune(); pruned > 0 {
		r.logger.Info("pruned stale manifest entries",
			slog.String("dataset", ds.Name),
			slog.Int("pruned", pruned))
	}

	if _, err := r.downloader.Run(ctx, ds, r.rawDir, man); err != nil {
		return err
	}

	return nil
}

// runTransform converts raw downloads into validated CSV candidates:
// spreadsheets become CSV, archives are unpacked, weather files are
// copied through, and every output is normalized to UTF-8.
func (r *Runner) runTransform(ds config.DatasetConfig) error {
	rawDir := filepath.Join(r.rawDir, ds.OutputDir)
	validatedDir := filepath.Join(r.validatedDir, ds.OutputDir)

	var err error
	switch {
	case strings.HasPrefix(ds.Name, "ttc_"):
		err = r.convertSpreadsheets(rawDir, validatedDir)
	case ds.FileFormat == config.FormatZIP:
		err = r.extractArchives(rawDir, validatedDir)
	default:
		err = r.copyThrough(rawDir, validatedDir)
	}
	if err != nil {
		return err
	}

	if err := r.applyRenames(ds, validatedDir); err != nil {
		return err
	}

	if err := r.stripExtraColumns(ds, validatedDir); err != nil {
		return err
	}

	return r.normalizeEncodings(validatedDir)
}

// stripExtraColumns drops columns the warehouse table does not carry.
// The load copies positionally, so a stray source column would shift
// every value after it. Weather files keep their full column set, the
// weather table stores all of it.
func (r *Runner) stripExtraColumns(ds config.DatasetConfig, validatedDir string) error {
	if ds.Name == "weather_daily" {
		return nil
	}

	schema, err := contract.ByName(ds.Name)
	if err != nil {
		return err
	}

	files, err := listFiles(validatedDir, ".csv")
	if err != nil {
		return err
	}

	for _, f := range files {
		changed, err := transform.StripColumns(f, schema.ColumnNames())
		if err != nil {
			return err
		}
		if changed {
			r.logger.Info("stripped extra columns", slog.String("file", filepath.Base(f)))
		}
	}

	return nil
}

func (r *Runner) convertSpreadsheets(rawDir, validatedDir string) error {
	inputs, err := listFiles(rawDir, ".xlsx")
	if err != nil {
		return err
	}

	for _, in := range inputs {
		rel, err := filepath.Rel(rawDir, in)
		if err != nil {
			return err
		}
		if year := yearFromPath(rel); year != 0 && year < minYear {
			continue
		}

		out := filepath.Join(validatedDir, strings.TrimSuffix(rel, filepath.Ext(rel))+".csv")
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return err
		}

		result, err := transform.ConvertSpreadsheet(in, out, "")
		if errors.Is(err, transform.ErrNotSpreadsheet) {
			// Some portal uploads are plain CSV behind an .xlsx name.
			r.logger.Warn("copying non-spreadsheet verbatim", slog.String("file", rel))
			if err := copyFile(in, out); err != nil {
				return err
			}

			continue
		}
		if err != nil {
			return err
		}

		r.logger.Info("converted",
			slog.String("file", rel),
			slog.Int("rows", result.RowCount))
	}

	return nil
}

func (r *Runner) extractArchives(rawDir, validatedDir string) error {
	archives, err := listFiles(rawDir, ".zip")
	if err != nil {
		return err
	}

	for _, in := range archives {
		rel, err := filepath.Rel(rawDir, in)
		if err != nil {
			return err
		}
		if year := yearFromPath(rel); year != 0 && year < minYear {
			continue
		}

		outDir := filepath.Join(validatedDir, filepath.Dir(rel))
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return err
		}

		results, err := transform.ExtractArchive(in, outDir)
		if err != nil {
			return err
		}

		r.logger.Info("extracted",
			slog.String("archive", rel),
			slog.Int("members", len(results)))
	}

	return nil
}

func (r *Runner) copyThrough(rawDir, validatedDir string) error {
	inputs, err := listFiles(rawDir, ".csv")
	if err != nil {
		return err
	}

	for _, in := range inputs {
		rel, err := filepath.Rel(rawDir, in)
		if err != nil {
			return err
		}

		out := filepath.Join(validatedDir, rel)
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return err
		}
		if err := copyFile(in, out); err != nil {
			return err
		}
	}

	return nil
}

// applyRenames rewrites 2025+ TTC bus and streetcar headings back to
// the contract headings.
func (r *Runner) applyRenames(ds config.DatasetConfig, validatedDir string) error {
	var renames map[string]string
	switch ds.Name {
	case "ttc_bus_delays":
		renames = busRenames
	case "ttc_streetcar_delays":
		renames = streetcarRenames
	default:
		return nil
	}

	files, err := listFiles(validatedDir, ".csv")
	if err != nil {
		return err
	}

	for _, f := range files {
		rel, err := filepath.Rel(validatedDir, f)
		if err != nil {
			return err
		}
		if year := yearFromPath(rel); year < renameYear {
			continue
		}

		changed, err := transform.RenameColumns(f, renames)
		if err != nil {
			return err
		}
		if changed {
			r.logger.Info("renamed columns", slog.String("file", rel))
		}
	}

	return nil
}

func (r *Runner) normalizeEncodings(validatedDir string) error {
	files, err := listFiles(validatedDir, ".csv")
	if err != nil {
		return err
	}

	for _, f := range files {
		result, err := transform.NormalizeEncoding(f, f)
		if err != nil {
			return err
		}
		if result.DetectedEncoding != "UTF-8" || result.HadBOM {
			r.logger.Info("normalized encoding",
				slog.String("file", filepath.Base(f)),
				slog.String("from", result.DetectedEncoding))
		}
	}

	return nil
}

// TransformAndValidate runs only the transform and validate stages for
// one dataset, returning per file validation results. The validator CLI
// uses this to check files without touching the warehouse.
func (r *Runner) TransformAndValidate(ds config.DatasetConfig) ([]contract.ValidationResult, error) {
	if err := r.runTransform(ds); err != nil {
		return nil, err
	}

	schema, err := contract.ByName(ds.Name)
	if err != nil {
		return nil, err
	}

	return contract.NewValidator(schema, r.logger).ValidateDir(filepath.Join(r.validatedDir, ds.OutputDir))
}

func (r *Runner) runValidate(ds config.DatasetConfig) ([]string, error) {
	schema, err := contract.ByName(ds.Name)
	if err != nil {
		return nil, err
	}

	validatedDir := filepath.Join(r.validatedDir, ds.OutputDir)

	results, err := contract.NewValidator(schema, r.logger).ValidateDir(validatedDir)
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(results))
	for _, res := range results {
		files = append(files, res.FilePath)
	}

	return files, nil
}

// listFiles returns every file under dir with the given extension, in
// sorted order. A missing dir yields an empty list.
func listFiles(dir, ext string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ext) {
			files = append(files, path)
		}

		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sort.Strings(files)

	return files, nil
}

// yearFromPath returns the first four digit path component, or zero when
// none is present.
func yearFromPath(rel string) int {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		base := strings.TrimSuffix(part, filepath.Ext(part))
		if len(base) != 4 {
			continue
		}
		if year, err := strconv.Atoi(base); err == nil {
			return year
		}
	}

	return 0
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()

		return err
	}

	return out.Close()
}
