package config

import (
	"strings"
	"testing"
)

func TestDatasetRegistry(t *testing.T) {
	datasets := Datasets()

	if len(datasets) != 5 {
		t.Fatalf("Datasets() returned %d entries, want 5", len(datasets))
	}

	t.Run("weather dataset carries station identifiers", func(t *testing.T) {
		weather, err := DatasetByName("weather_daily")
		if err != nil {
			t.Fatalf("DatasetByName() unexpected error: %v", err)
		}

		if weather.SourceType != SourceWeatherBulk {
			t.Errorf("SourceType = %v, want %v", weather.SourceType, SourceWeatherBulk)
		}

		if weather.StationID == 0 || weather.ClimateID == "" {
			t.Errorf("weather dataset missing station identifiers: %+v", weather)
		}
	})

	t.Run("catalog datasets carry catalog ids", func(t *testing.T) {
		for _, d := range datasets {
			if d.SourceType != SourceCatalog {
				continue
			}

			if d.CatalogID == "" {
				t.Errorf("dataset %s missing catalog id", d.Name)
			}

			if d.StationID != 0 {
				t.Errorf("dataset %s unexpectedly carries a station id", d.Name)
			}
		}
	})

	t.Run("output dirs are unique", func(t *testing.T) {
		seen := make(map[string]string)
		for _, d := range datasets {
			if prev, ok := seen[d.OutputDir]; ok {
				t.Errorf("output dir %q shared by %s and %s", d.OutputDir, prev, d.Name)
			}
			seen[d.OutputDir] = d.Name
		}
	})
}

func TestDatasetByNameUnknown(t *testing.T) {
	_, err := DatasetByName("ttc_monorail_delays")
	if err == nil {
		t.Fatal("DatasetByName() expected error for unknown name")
	}

	for _, name := range DatasetNames() {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not list valid name %q", err, name)
		}
	}
}

func TestWithYearRange(t *testing.T) {
	original, err := DatasetByName("ttc_subway_delays")
	if err != nil {
		t.Fatalf("DatasetByName() unexpected error: %v", err)
	}

	restricted := original.WithYearRange(2023, 2023)

	if restricted.StartYear != 2023 || restricted.EndYear != 2023 {
		t.Errorf("WithYearRange() = (%d, %d), want (2023, 2023)", restricted.StartYear, restricted.EndYear)
	}

	// Registry entry must be untouched.
	reloaded, _ := DatasetByName("ttc_subway_delays")
	if reloaded.StartYear != original.StartYear || reloaded.EndYear != original.EndYear {
		t.Errorf("registry entry mutated: %+v", reloaded)
	}
}
