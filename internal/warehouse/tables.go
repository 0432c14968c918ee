package warehouse

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrUnknownTable indicates a dataset with no raw table mapping.
var ErrUnknownTable = errors.New("unknown table for dataset")

// TableConfig maps a source dataset to its raw warehouse table.
type TableConfig struct {
	// TableName is the schema-qualified target table.
	TableName string

	// Columns lists target column names in CSV positional order.
	Columns []string

	// NaturalKeys are the columns forming the dedup key for merges.
	NaturalKeys []string

	// StagePrefix is the object key prefix within the staging bucket.
	StagePrefix string
}

var tableRegistry = map[string]TableConfig{
	"ttc_subway_delays": {
		TableName: "raw.ttc_subway_delays",
		Columns: []string{
			"date", "time", "day", "station", "code",
			"min_delay", "min_gap", "bound", "line",
		},
		NaturalKeys: []string{"date", "time", "station", "line", "code", "min_delay"},
		StagePrefix: "ttc_subway",
	},
	"ttc_bus_delays": {
		TableName: "raw.ttc_bus_delays",
		Columns: []string{
			"date", "route", "time", "day", "location",
			"delay_code", "min_delay", "min_gap", "direction",
		},
		NaturalKeys: []string{"date", "time", "route", "direction", "delay_code", "min_delay"},
		StagePrefix: "ttc_bus",
	},
	"ttc_streetcar_delays": {
		TableName: "raw.ttc_streetcar_delays",
		Columns: []string{
			"date", "route", "time", "day", "location",
			"delay_code", "min_delay", "min_gap", "direction",
		},
		NaturalKeys: []string{"date", "time", "route", "direction", "delay_code", "min_delay"},
		StagePrefix: "ttc_streetcar",
	},
	"bike_share_ridership": {
		TableName: "raw.bike_share_trips",
		Columns: []string{
			"trip_id", "trip_duration", "start_station_id", "start_time",
			"start_station_name", "end_station_id", "end_time",
			"end_station_name", "bike_id", "user_type",
		},
		NaturalKeys: []string{"trip_id"},
		StagePrefix: "bike_share",
	},
	"weather_daily": {
		TableName: "raw.weather_daily",
		// Environment Canada bulk CSVs carry the full station layout.
		Columns: []string{
			"longitude", "latitude", "station_name", "climate_id", "date_time",
			"year", "month", "day", "data_quality",
			"max_temp_c", "max_temp_flag",
			"min_temp_c", "min_temp_flag",
			"mean_temp_c", "mean_temp_flag",
			"heat_deg_days_c", "heat_deg_days_flag",
			"cool_deg_days_c", "cool_deg_days_flag",
			"total_rain_mm", "total_rain_flag",
			"total_snow_cm", "total_snow_flag",
			"total_precip_mm", "total_precip_flag",
			"snow_on_grnd_cm", "snow_on_grnd_flag",
			"dir_of_max_gust_10s_deg", "dir_of_max_gust_flag",
			"spd_of_max_gust_kmh", "spd_of_max_gust_flag",
		},
		NaturalKeys: []string{"date_time"},
		StagePrefix: "weather",
	},
}

// TableConfigFor looks up the raw table mapping for a dataset.
func TableConfigFor(datasetName string) (TableConfig, error) {
	cfg, ok := tableRegistry[datasetName]
	if !ok {
		return TableConfig{}, fmt.Errorf("%w %q, valid names are: %s",
			ErrUnknownTable, datasetName, strings.Join(tableNames(), ", "))
	}

	return cfg, nil
}

func tableNames() []string {
	names := make([]string, 0, len(tableRegistry))
	for name := range tableRegistry {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}
