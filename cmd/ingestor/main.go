// Package main provides the end to end ingestion CLI. It downloads,
// transforms, validates, and loads one or all datasets, then prints an
// execution summary. The exit code is zero only when every dataset
// succeeded.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/toronto-mobility/ingestor/internal/config"
	"github.com/toronto-mobility/ingestor/internal/pipeline"
	"github.com/toronto-mobility/ingestor/internal/warehouse"
)

func main() {
	var (
		all          = flag.Bool("all", false, "Ingest every dataset")
		dataset      = flag.String("dataset", "", "Ingest a single dataset by name")
		rawDir       = flag.String("raw-dir", "data/raw", "Directory for raw downloads")
		validatedDir = flag.String("validated-dir", "data/validated", "Directory for validated CSV files")
		skipDownload = flag.Bool("skip-download", false, "Reuse raw files already on disk")
		verbose      = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	_ = godotenv.Load()

	logger := config.NewLogger(*verbose)

	datasets, err := selectDatasets(*all, *dataset)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	creds, err := warehouse.ResolveCredentials(warehouse.Credentials{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolving warehouse credentials: %v\n", err)
		os.Exit(1)
	}

	store, err := newObjectStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuring stage store: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := pipeline.NewRunner(pipeline.Options{
		RawDir:       *rawDir,
		ValidatedDir: *validatedDir,
		SkipDownload: *skipDownload,
		StageBucket:  config.GetEnvStr("STAGE_BUCKET", "mobility-stage"),
		Store:        store,
		Credentials:  creds,
		Pool:         warehouse.LoadPoolConfig(),
		Logger:       logger,
	})

	result := runner.Run(ctx, datasets)

	fmt.Print(result.Summary())

	if !result.Success {
		os.Exit(1)
	}
}

// newObjectStore picks S3 staging when an endpoint is configured and
// falls back to a local filesystem stage otherwise.
func newObjectStore() (warehouse.ObjectStore, error) {
	endpoint := os.Getenv("STAGE_S3_ENDPOINT")
	if endpoint == "" {
		return warehouse.NewLocalStore(config.GetEnvStr("STAGE_DIR", "data/stage")), nil
	}

	return warehouse.NewS3Store(
		endpoint,
		os.Getenv("STAGE_S3_ACCESS_KEY"),
		os.Getenv("STAGE_S3_SECRET_KEY"),
		config.GetEnvStr("STAGE_S3_REGION", "us-east-1"),
	)
}

func selectDatasets(all bool, name string) ([]config.DatasetConfig, error) {
	if all == (name != "") {
		return nil, fmt.Errorf("specify exactly one of --all or --dataset")
	}

	if all {
		return config.Datasets(), nil
	}

	ds, err := config.DatasetByName(name)
	if err != nil {
		return nil, err
	}

	return []config.DatasetConfig{ds}, nil
}
