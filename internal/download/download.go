// Package download fetches dataset resources from the Toronto Open Data
// catalog API and the Environment Canada bulk CSV endpoint, with
// manifest-based idempotent skips and SHA-256 integrity hashing.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/toronto-mobility/ingestor/internal/config"
	"github.com/toronto-mobility/ingestor/internal/manifest"
)

const (
	chunkSize       = 64 * 1024
	bodySnippetSize = 200

	catalogTimeout = 300 * time.Second
	weatherTimeout = 120 * time.Second

	// Delay between consecutive Environment Canada requests. The endpoint
	// rate-limits aggressive clients; the first request is never delayed.
	weatherRequestDelay = 2 * time.Second
)

// ErrUnsupportedSource is returned when a dataset's source type has no
// registered download strategy.
var ErrUnsupportedSource = errors.New("unsupported source type")

// Error reports a non-2xx HTTP response while fetching a resource. It is not
// retried inside the downloader; transport-level retries happen in the HTTP
// client and retry-or-abandon beyond that is the orchestrator's call.
type Error struct {
	URL        string
	StatusCode int
	Body       string // truncated response body
}

func (e *Error) Error() string {
	return fmt.Sprintf("HTTP %d for %s: %s", e.StatusCode, e.URL, e.Body)
}

// Result describes the outcome of one file download. Skipped results carry
// the recorded manifest fields and HTTPStatus zero.
type Result struct {
	FilePath          string
	URL               string
	HTTPStatus        int
	ByteSize          int64
	DownloadTimestamp string
	SHA256Hash        string
	Skipped           bool
}

type strategyFunc func(ctx context.Context, ds config.DatasetConfig, outputBase string, man *manifest.Manifest) ([]Result, error)

// Downloader fetches dataset files. One instance serves a whole run; the
// weather limiter spaces bulk-endpoint requests across datasets.
type Downloader struct {
	catalogClient  *http.Client
	weatherClient  *http.Client
	weatherLimiter *rate.Limiter
	strategies     map[config.SourceType]strategyFunc
	logger         *slog.Logger
}

// New creates a Downloader with retrying HTTP clients and the per-source
// strategy table.
func New(logger *slog.Logger) *Downloader {
	d := &Downloader{
		catalogClient:  newHTTPClient(catalogTimeout),
		weatherClient:  newHTTPClient(weatherTimeout),
		weatherLimiter: rate.NewLimiter(rate.Every(weatherRequestDelay), 1),
		logger:         logger,
	}

	d.strategies = map[config.SourceType]strategyFunc{
		config.SourceCatalog:     d.downloadCatalog,
		config.SourceWeatherBulk: d.downloadWeather,
	}

	return d
}

// Run downloads every in-range resource of one dataset, dispatching on the
// dataset's source type.
func (d *Downloader) Run(ctx context.Context, ds config.DatasetConfig, outputBase string, man *manifest.Manifest) ([]Result, error) {
	strategy, ok := d.strategies[ds.SourceType]
	if !ok {
		return nil, fmt.Errorf("%w: %q for dataset %s", ErrUnsupportedSource, ds.SourceType, ds.Name)
	}

	return strategy(ctx, ds, outputBase, man)
}

// skippedResult synthesizes a Result from an existing manifest entry without
// touching the network.
func skippedResult(entry manifest.Entry) Result {
	return Result{
		FilePath:          entry.FilePath,
		URL:               entry.URL,
		HTTPStatus:        0,
		ByteSize:          entry.ByteSize,
		DownloadTimestamp: entry.DownloadTimestamp,
		SHA256Hash:        entry.SHA256Hash,
		Skipped:           true,
	}
}

// fetchToFile streams a GET response to dest in fixed-size chunks, hashing
// the bytes as they are written. Files of several hundred MB must never be
// buffered whole in memory.
func (d *Downloader) fetchToFile(ctx context.Context, client *http.Client, url, dest string) (Result, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return Result{}, fmt.Errorf("create download dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("build request for %s: %w", url, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch %s: %w", url, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, bodySnippetSize))

		return Result{}, &Error{URL: url, StatusCode: resp.StatusCode, Body: string(snippet)}
	}

	out, err := os.Create(dest)
	if err != nil {
		return Result{}, fmt.Errorf("create %s: %w", dest, err)
	}

	hasher := sha256.New()
	buf := make([]byte, chunkSize)

	written, err := io.CopyBuffer(io.MultiWriter(out, hasher), resp.Body, buf)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return Result{}, fmt.Errorf("stream %s to %s: %w", url, dest, err)
	}

	return Result{
		FilePath:          dest,
		URL:               url,
		HTTPStatus:        resp.StatusCode,
		ByteSize:          written,
		DownloadTimestamp: time.Now().UTC().Format(time.RFC3339),
		SHA256Hash:        hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// recordDownload upserts the manifest entry for a completed download and
// persists immediately so a later crash cannot forget it.
func recordDownload(man *manifest.Manifest, res Result) error {
	if man == nil {
		return nil
	}

	man.Upsert(manifest.Entry{
		URL:               res.URL,
		FilePath:          res.FilePath,
		ByteSize:          res.ByteSize,
		SHA256Hash:        res.SHA256Hash,
		DownloadTimestamp: res.DownloadTimestamp,
		HTTPStatus:        res.HTTPStatus,
	})

	return man.Save()
}
