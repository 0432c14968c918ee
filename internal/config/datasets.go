package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SourceType identifies the origin system a dataset is fetched from.
type SourceType string

const (
	// SourceCatalog marks datasets served by the Toronto Open Data catalog API.
	SourceCatalog SourceType = "catalog"
	// SourceWeatherBulk marks datasets served by the Environment Canada bulk CSV endpoint.
	SourceWeatherBulk SourceType = "weather_bulk"
)

// FileFormat is the expected format of a dataset's downloaded resources.
type FileFormat string

const (
	// FormatXLSX marks spreadsheet workbooks.
	FormatXLSX FileFormat = "xlsx"
	// FormatCSV marks plain CSV files.
	FormatCSV FileFormat = "csv"
	// FormatZIP marks ZIP archives of CSV files.
	FormatZIP FileFormat = "zip"
)

// ErrUnknownDataset is returned by DatasetByName for names missing from the registry.
var ErrUnknownDataset = errors.New("unknown dataset")

// DatasetConfig is the immutable descriptor for a single source dataset.
// Instances come from the fixed registry and are never mutated; year-range
// overrides produce a fresh copy via WithYearRange.
type DatasetConfig struct {
	Name       string
	SourceType SourceType
	BaseURL    string
	CatalogID  string // catalog package identifier, empty for weather
	StationID  int    // Environment Canada station, zero for catalog sources
	ClimateID  string // Environment Canada climate identifier, zero for catalog sources
	StartYear  int
	EndYear    int
	FileFormat FileFormat
	OutputDir  string // subdirectory under the raw data root
}

// WithYearRange returns a copy of the config restricted to [start, end].
func (d DatasetConfig) WithYearRange(start, end int) DatasetConfig {
	d.StartYear = start
	d.EndYear = end

	return d
}

// Registry constants. Catalog package identifiers come from the Toronto Open
// Data Portal; station 51459 is Toronto Pearson International.
const (
	catalogBase = "https://ckan0.cf.opendata.inter.prod-toronto.ca"
	weatherBase = "https://climate.weather.gc.ca"

	subwayCatalogID    = "996cfe8d-fb35-40ce-b569-698d51fc683b"
	busCatalogID       = "e271cdae-8788-4980-96ce-6a5c95bc6618"
	streetcarCatalogID = "b68cb71b-44a7-4394-97e2-5d2f41462a5d"
	bikeShareCatalogID = "7e876c24-177c-4605-9cef-e50dd74c617f"

	weatherStationID = 51459
	weatherClimateID = "6158733"

	startYear = 2019
)

func buildRegistry() []DatasetConfig {
	endYear := time.Now().UTC().Year()

	return []DatasetConfig{
		{
			Name:       "ttc_subway_delays",
			SourceType: SourceCatalog,
			BaseURL:    catalogBase,
			CatalogID:  subwayCatalogID,
			StartYear:  startYear,
			EndYear:    endYear,
			FileFormat: FormatXLSX,
			OutputDir:  "ttc_subway",
		},
		{
			Name:       "ttc_bus_delays",
			SourceType: SourceCatalog,
			BaseURL:    catalogBase,
			CatalogID:  busCatalogID,
			StartYear:  startYear,
			EndYear:    endYear,
			FileFormat: FormatXLSX,
			OutputDir:  "ttc_bus",
		},
		{
			Name:       "ttc_streetcar_delays",
			SourceType: SourceCatalog,
			BaseURL:    catalogBase,
			CatalogID:  streetcarCatalogID,
			StartYear:  startYear,
			EndYear:    endYear,
			FileFormat: FormatXLSX,
			OutputDir:  "ttc_streetcar",
		},
		{
			Name:       "bike_share_ridership",
			SourceType: SourceCatalog,
			BaseURL:    catalogBase,
			CatalogID:  bikeShareCatalogID,
			StartYear:  startYear,
			EndYear:    endYear,
			FileFormat: FormatZIP,
			OutputDir:  "bike_share",
		},
		{
			Name:       "weather_daily",
			SourceType: SourceWeatherBulk,
			BaseURL:    weatherBase,
			StationID:  weatherStationID,
			ClimateID:  weatherClimateID,
			StartYear:  startYear,
			EndYear:    endYear,
			FileFormat: FormatCSV,
			OutputDir:  "weather",
		},
	}
}

var registry = buildRegistry()

// Datasets returns the fixed five-dataset registry. The returned slice is a
// copy; callers may reorder it freely.
func Datasets() []DatasetConfig {
	out := make([]DatasetConfig, len(registry))
	copy(out, registry)

	return out
}

// DatasetNames returns registry names in declaration order.
func DatasetNames() []string {
	names := make([]string, len(registry))
	for i, d := range registry {
		names[i] = d.Name
	}

	return names
}

// DatasetByName looks up a dataset config by its machine-readable name.
// Unknown names produce an error listing every valid name.
func DatasetByName(name string) (DatasetConfig, error) {
	for _, d := range registry {
		if d.Name == name {
			return d, nil
		}
	}

	return DatasetConfig{}, fmt.Errorf(
		"%w %q, valid names are: %s",
		ErrUnknownDataset, name, strings.Join(DatasetNames(), ", "),
	)
}
