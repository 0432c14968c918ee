package download

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/toronto-mobility/ingestor/internal/config"
	"github.com/toronto-mobility/ingestor/internal/manifest"
)

// ErrMissingStationID is wrapped when a weather dataset lacks its station identifier.
var errMissingStationID = fmt.Errorf("weather dataset missing station id")

// weatherURL builds the Environment Canada bulk download URL for one year of
// daily observations. Month is a required parameter but timeframe=2 returns
// the full year regardless.
func weatherURL(baseURL string, stationID, year, month int) string {
	return fmt.Sprintf(
		"%s/climate_data/bulk_data_e.html?format=csv&stationID=%d&Year=%d&Month=%d&timeframe=2",
		baseURL, stationID, year, month,
	)
}

// downloadWeather fetches one daily-observations CSV per year in the
// dataset's range. Requests after the first wait on the shared limiter so the
// endpoint sees at most one request per fixed delay window.
func (d *Downloader) downloadWeather(ctx context.Context, ds config.DatasetConfig, outputBase string, man *manifest.Manifest) ([]Result, error) {
	if ds.StationID == 0 {
		return nil, fmt.Errorf("%w: dataset %s", errMissingStationID, ds.Name)
	}

	var results []Result

	for year := ds.StartYear; year <= ds.EndYear; year++ {
		url := weatherURL(ds.BaseURL, ds.StationID, year, 1)
		dest := filepath.Join(
			outputBase, ds.OutputDir, strconv.Itoa(year),
			fmt.Sprintf("weather_daily_%d.csv", year),
		)

		if man != nil && man.ShouldSkip(url) {
			entry, _ := man.Find(url)
			d.logger.Info("skipped (manifest)", slog.String("file", dest))
			results = append(results, skippedResult(entry))

			continue
		}

		// The limiter's initial token makes the first request immediate;
		// each subsequent Wait blocks for the configured delay.
		if err := d.weatherLimiter.Wait(ctx); err != nil {
			return results, fmt.Errorf("weather rate limit wait: %w", err)
		}

		d.logger.Info("downloading weather year",
			slog.Int("year", year),
			slog.String("dest", dest),
		)

		result, err := d.fetchToFile(ctx, d.weatherClient, url, dest)
		if err != nil {
			return results, err
		}

		if err := recordDownload(man, result); err != nil {
			return results, err
		}

		results = append(results, result)
	}

	return results, nil
}
