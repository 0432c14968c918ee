package warehouse

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/lib/pq"
)

// LoadError reports a failed warehouse load operation with its context.
type LoadError struct {
	Table    string
	FilePath string
	Err      error
}

func (e *LoadError) Error() string {
	switch {
	case e.Table != "" && e.FilePath != "":
		return fmt.Sprintf("load %s from %s: %v", e.Table, e.FilePath, e.Err)
	case e.Table != "":
		return fmt.Sprintf("load %s: %v", e.Table, e.Err)
	default:
		return fmt.Sprintf("load: %v", e.Err)
	}
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// MergeResult reports the outcome of one merge-based dataset load.
type MergeResult struct {
	TargetTable  string
	RowsInserted int64
	RowsUpdated  int64
	RowsCopied   int64
	Elapsed      time.Duration
}

// Loader stages validated CSV files into the object store and merges them
// into the raw warehouse tables. Transaction boundaries belong to the
// caller: every LoadDataset call runs inside the transaction it is given.
type Loader struct {
	store  ObjectStore
	bucket string
	logger *slog.Logger
}

// NewLoader builds a Loader over the given staging store and bucket.
func NewLoader(store ObjectStore, bucket string, logger *slog.Logger) *Loader {
	return &Loader{store: store, bucket: bucket, logger: logger}
}

// LoadDataset stages csvFiles and merges everything under the dataset's
// stage prefix into its raw table. The merge deduplicates on the natural
// keys: matched rows are updated in place, unmatched rows inserted.
func (l *Loader) LoadDataset(ctx context.Context, tx *sql.Tx, datasetName string, csvFiles []string) (MergeResult, error) {
	start := time.Now()

	cfg, err := TableConfigFor(datasetName)
	if err != nil {
		return MergeResult{}, err
	}

	if err := l.store.EnsureBucket(ctx, l.bucket); err != nil {
		return MergeResult{}, &LoadError{Table: cfg.TableName, Err: err}
	}

	for _, csvPath := range csvFiles {
		stagePath := cfg.StagePrefix + "/" + filepath.Base(csvPath)

		result, err := StageFile(ctx, l.store, l.bucket, csvPath, stagePath)
		if err != nil {
			return MergeResult{}, &LoadError{Table: cfg.TableName, FilePath: csvPath, Err: err}
		}

		l.logger.Info("staged",
			slog.String("file", filepath.Base(csvPath)),
			slog.String("key", result.StagePath),
			slog.String("status", string(result.Status)),
			slog.Int64("source_bytes", result.SourceSize),
			slog.Int64("staged_bytes", result.StagedSize))
	}

	stagingTable, err := l.createStagingTable(ctx, tx, cfg)
	if err != nil {
		return MergeResult{}, err
	}

	defer func() {
		// ON COMMIT DROP covers the happy path. The explicit drop keeps
		// repeated loads inside one transaction from colliding.
		_, _ = tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", stagingTable))
	}()

	copied, err := l.copyFromStage(ctx, tx, stagingTable, cfg)
	if err != nil {
		return MergeResult{}, err
	}

	inserted, updated, err := l.merge(ctx, tx, stagingTable, cfg)
	if err != nil {
		return MergeResult{}, err
	}

	l.logger.Info("merged",
		slog.String("table", cfg.TableName),
		slog.Int64("copied", copied),
		slog.Int64("inserted", inserted),
		slog.Int64("updated", updated))

	return MergeResult{
		TargetTable:  cfg.TableName,
		RowsInserted: inserted,
		RowsUpdated:  updated,
		RowsCopied:   copied,
		Elapsed:      time.Since(start),
	}, nil
}

// createStagingTable makes a transaction-scoped clone of the target table.
// The random suffix keeps concurrent sessions from colliding on the name.
func (l *Loader) createStagingTable(ctx context.Context, tx *sql.Tx, cfg TableConfig) (string, error) {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	name := strings.ReplaceAll(cfg.TableName, ".", "_") + "_staging_" + suffix

	ddl := fmt.Sprintf(
		"CREATE TEMPORARY TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		name, cfg.TableName)

	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return "", &LoadError{Table: cfg.TableName, Err: fmt.Errorf("create staging table: %w", err)}
	}

	return name, nil
}

// copyFromStage bulk-copies every staged object under the dataset prefix
// into the staging table. The first malformed row aborts the whole copy.
func (l *Loader) copyFromStage(ctx context.Context, tx *sql.Tx, stagingTable string, cfg TableConfig) (int64, error) {
	keys, err := l.store.List(ctx, l.bucket, cfg.StagePrefix+"/")
	if err != nil {
		return 0, &LoadError{Table: cfg.TableName, Err: err}
	}

	if len(keys) == 0 {
		return 0, &LoadError{Table: cfg.TableName, Err: fmt.Errorf("no staged objects under %s/", cfg.StagePrefix)}
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(stagingTable, cfg.Columns...))
	if err != nil {
		return 0, &LoadError{Table: cfg.TableName, Err: fmt.Errorf("prepare copy: %w", err)}
	}

	var total int64

	for _, key := range keys {
		n, err := l.copyObject(ctx, stmt, key, len(cfg.Columns))
		if err != nil {
			_ = stmt.Close()

			return 0, &LoadError{Table: cfg.TableName, FilePath: key, Err: err}
		}

		total += n
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()

		return 0, &LoadError{Table: cfg.TableName, Err: fmt.Errorf("flush copy: %w", err)}
	}

	if err := stmt.Close(); err != nil {
		return 0, &LoadError{Table: cfg.TableName, Err: fmt.Errorf("close copy: %w", err)}
	}

	return total, nil
}

// copyObject streams one gzipped CSV object through the prepared COPY
// statement. Values are positional; empty cells become NULL.
func (l *Loader) copyObject(ctx context.Context, stmt *sql.Stmt, key string, columnCount int) (int64, error) {
	data, err := l.store.Get(ctx, l.bucket, key)
	if err != nil {
		return 0, err
	}

	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("decompress: %w", err)
	}

	defer func() {
		_ = zr.Close()
	}()

	reader := csv.NewReader(zr)
	reader.FieldsPerRecord = columnCount

	// Header row carries source column names, not data.
	if _, err := reader.Read(); err == io.EOF {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}

	var rows int64

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}

		if err != nil {
			return 0, fmt.Errorf("row %d: %w", rows+2, err)
		}

		values := make([]any, columnCount)
		for i, field := range record {
			if field == "" {
				values[i] = nil
			} else {
				values[i] = field
			}
		}

		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return 0, fmt.Errorf("copy row %d: %w", rows+2, err)
		}

		rows++
	}

	return rows, nil
}

// merge upserts the staging table into the target on the natural keys.
func (l *Loader) merge(ctx context.Context, tx *sql.Tx, stagingTable string, cfg TableConfig) (inserted, updated int64, err error) {
	onClause := make([]string, len(cfg.NaturalKeys))
	for i, key := range cfg.NaturalKeys {
		onClause[i] = fmt.Sprintf("target.%s IS NOT DISTINCT FROM staging.%s", key, key)
	}

	match := strings.Join(onClause, " AND ")

	keySet := make(map[string]struct{}, len(cfg.NaturalKeys))
	for _, key := range cfg.NaturalKeys {
		keySet[key] = struct{}{}
	}

	var updateSet []string

	for _, col := range cfg.Columns {
		if _, isKey := keySet[col]; !isKey {
			updateSet = append(updateSet, fmt.Sprintf("%s = staging.%s", col, col))
		}
	}

	if len(updateSet) > 0 {
		updateSQL := fmt.Sprintf(
			"UPDATE %s AS target SET %s FROM %s AS staging WHERE %s",
			cfg.TableName, strings.Join(updateSet, ", "), stagingTable, match)

		result, execErr := tx.ExecContext(ctx, updateSQL)
		if execErr != nil {
			return 0, 0, &LoadError{Table: cfg.TableName, Err: fmt.Errorf("merge update: %w", execErr)}
		}

		updated, _ = result.RowsAffected()
	}

	cols := strings.Join(cfg.Columns, ", ")

	// DISTINCT ON the natural keys collapses duplicate rows within one
	// load, so a key repeated across source files inserts once.
	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT DISTINCT ON (%s) %s FROM %s AS staging WHERE NOT EXISTS "+
			"(SELECT 1 FROM %s AS target WHERE %s)",
		cfg.TableName, cols, strings.Join(cfg.NaturalKeys, ", "), cols, stagingTable,
		cfg.TableName, match)

	result, execErr := tx.ExecContext(ctx, insertSQL)
	if execErr != nil {
		return 0, 0, &LoadError{Table: cfg.TableName, Err: fmt.Errorf("merge insert: %w", execErr)}
	}

	inserted, _ = result.RowsAffected()

	return inserted, updated, nil
}
