// Package contract defines the schema contracts for the five source
// datasets and the two-phase validation engine that enforces them against
// CSV files.
//
// Contracts target the 2020-present column naming convention. The 2019
// TTC bus and streetcar files use incompatible column names and sit
// outside the validation scope.
package contract

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ColumnType is the logical data type a column's values must conform to.
type ColumnType string

const (
	TypeDate      ColumnType = "DATE"
	TypeTime      ColumnType = "TIME"
	TypeString    ColumnType = "STRING"
	TypeInteger   ColumnType = "INTEGER"
	TypeDecimal   ColumnType = "DECIMAL"
	TypeTimestamp ColumnType = "TIMESTAMP"
)

// ErrUnknownContract indicates a dataset name with no registered contract.
var ErrUnknownContract = errors.New("unknown contract for dataset")

// Column is the schema expectation for a single CSV column.
type Column struct {
	// Name is the exact header as it appears in the source CSV.
	Name     string
	Type     ColumnType
	Nullable bool
}

// Schema is the full contract for one source dataset.
type Schema struct {
	DatasetName string
	Columns     []Column

	// MinRowCount is a lower-bound sanity check. Files with fewer data
	// rows trigger a warning, not a failure.
	MinRowCount int
}

// ColumnNames returns the ordered expected column names.
func (s Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}

	return names
}

var registry = map[string]Schema{
	"ttc_subway_delays": {
		DatasetName: "ttc_subway_delays",
		Columns: []Column{
			{Name: "Date", Type: TypeDate, Nullable: false},
			{Name: "Time", Type: TypeTime, Nullable: false},
			{Name: "Day", Type: TypeString, Nullable: false},
			{Name: "Station", Type: TypeString, Nullable: true},
			{Name: "Code", Type: TypeString, Nullable: true},
			{Name: "Min Delay", Type: TypeInteger, Nullable: true},
			{Name: "Min Gap", Type: TypeInteger, Nullable: true},
			{Name: "Bound", Type: TypeString, Nullable: true},
			{Name: "Line", Type: TypeString, Nullable: true},
		},
		MinRowCount: 100,
	},
	"ttc_bus_delays": {
		DatasetName: "ttc_bus_delays",
		Columns: []Column{
			{Name: "Date", Type: TypeDate, Nullable: false},
			{Name: "Route", Type: TypeString, Nullable: true},
			{Name: "Time", Type: TypeTime, Nullable: false},
			{Name: "Day", Type: TypeString, Nullable: false},
			{Name: "Location", Type: TypeString, Nullable: true},
			{Name: "Incident", Type: TypeString, Nullable: true},
			{Name: "Min Delay", Type: TypeInteger, Nullable: true},
			{Name: "Min Gap", Type: TypeInteger, Nullable: true},
			{Name: "Direction", Type: TypeString, Nullable: true},
		},
		MinRowCount: 100,
	},
	"ttc_streetcar_delays": {
		DatasetName: "ttc_streetcar_delays",
		Columns: []Column{
			{Name: "Date", Type: TypeDate, Nullable: false},
			{Name: "Line", Type: TypeString, Nullable: true},
			{Name: "Time", Type: TypeTime, Nullable: false},
			{Name: "Day", Type: TypeString, Nullable: false},
			{Name: "Location", Type: TypeString, Nullable: true},
			{Name: "Incident", Type: TypeString, Nullable: true},
			{Name: "Min Delay", Type: TypeInteger, Nullable: true},
			{Name: "Min Gap", Type: TypeInteger, Nullable: true},
			{Name: "Bound", Type: TypeString, Nullable: true},
		},
		MinRowCount: 100,
	},
	"bike_share_ridership": {
		DatasetName: "bike_share_ridership",
		Columns: []Column{
			{Name: "Trip Id", Type: TypeString, Nullable: false},
			// The double space in "Trip  Duration" is present in every
			// source CSV.
			{Name: "Trip  Duration", Type: TypeInteger, Nullable: true},
			{Name: "Start Station Id", Type: TypeInteger, Nullable: true},
			{Name: "Start Time", Type: TypeTimestamp, Nullable: true},
			{Name: "Start Station Name", Type: TypeString, Nullable: true},
			{Name: "End Station Id", Type: TypeInteger, Nullable: true},
			{Name: "End Time", Type: TypeTimestamp, Nullable: true},
			{Name: "End Station Name", Type: TypeString, Nullable: true},
			{Name: "Bike Id", Type: TypeInteger, Nullable: true},
			{Name: "User Type", Type: TypeString, Nullable: true},
		},
		MinRowCount: 100,
	},
	"weather_daily": {
		DatasetName: "weather_daily",
		// Environment Canada CSVs carry 30+ columns. Only the five key
		// columns are contracted, the rest pass through as warnings.
		Columns: []Column{
			{Name: "Date/Time", Type: TypeDate, Nullable: false},
			{Name: "Mean Temp (°C)", Type: TypeDecimal, Nullable: true},
			{Name: "Total Precip (mm)", Type: TypeDecimal, Nullable: true},
			{Name: "Snow on Grnd (cm)", Type: TypeDecimal, Nullable: true},
			{Name: "Spd of Max Gust (km/h)", Type: TypeDecimal, Nullable: true},
		},
		MinRowCount: 100,
	},
}

// ByName looks up the schema contract for a dataset.
func ByName(datasetName string) (Schema, error) {
	schema, ok := registry[datasetName]
	if !ok {
		return Schema{}, fmt.Errorf("%w %q, valid names are: %s",
			ErrUnknownContract, datasetName, strings.Join(Names(), ", "))
	}

	return schema, nil
}

// Names returns the registered dataset names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}
