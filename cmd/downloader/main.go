// Package main provides the standalone download CLI. It fetches raw
// source files for one or all datasets into the raw data directory,
// skipping anything the manifest already records.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/toronto-mobility/ingestor/internal/config"
	"github.com/toronto-mobility/ingestor/internal/download"
	"github.com/toronto-mobility/ingestor/internal/manifest"
)

func main() {
	var (
		all       = flag.Bool("all", false, "Download every dataset")
		dataset   = flag.String("dataset", "", "Download a single dataset by name")
		outputDir = flag.String("output-dir", "data/raw", "Directory for raw downloads")
		year      = flag.Int("year", 0, "Fetch a single year instead of the full range")
		verbose   = flag.Bool("verbose", false, "Enable debug logging")
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// One manifest at the raw root covers every dataset.
	man, err := manifest.Load(filepath.Join(*outputDir, ".manifest.json"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading manifest: %v\n", err)
		os.Exit(1)
	}

	if pruned := man.Prune(); pruned > 0 {
		logger.Info("pruned stale manifest entries", slog.Int("pruned", pruned))
	}

	d := download.New(logger)

	for _, ds := range datasets {
		if *year > 0 {
			ds = ds.WithYearRange(*year, *year)
		}

		results, err := d.Run(ctx, ds, *outputDir, man)
		if err != nil {
			logger.Error("download failed",
				slog.String("dataset", ds.Name),
				slog.String("error", err.Error()))

			continue
		}

		logger.Info("dataset downloaded",
			slog.String("dataset", ds.Name),
			slog.Int("files", len(results)))
	}
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
