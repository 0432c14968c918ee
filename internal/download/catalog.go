package download

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/toronto-mobility/ingestor/internal/config"
	"github.com/toronto-mobility/ingestor/internal/manifest"
)

var (
	// Four-digit year embedded in a catalog resource name ("ttc-subway-delay-data-2023").
	yearPattern = regexp.MustCompile(`(20[1-2]\d)`)

	// Characters replaced when deriving a filesystem-safe filename.
	unsafeFilenameChars = regexp.MustCompile(`[^\w.-]`)
)

type catalogResource struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Format string `json:"format"`
}

type catalogResponse struct {
	Result struct {
		Resources []catalogResource `json:"resources"`
	} `json:"result"`
}

// downloadCatalog resolves a dataset's resource list via the catalog
// package-metadata endpoint, filters to the configured year range and file
// format, and downloads each matching resource.
func (d *Downloader) downloadCatalog(ctx context.Context, ds config.DatasetConfig, outputBase string, man *manifest.Manifest) ([]Result, error) {
	resources, err := d.resolveResources(ctx, ds)
	if err != nil {
		return nil, err
	}

	filtered := filterResources(resources, ds.StartYear, ds.EndYear, string(ds.FileFormat))

	d.logger.Info("resolved catalog resources",
		slog.String("dataset", ds.Name),
		slog.Int("total", len(resources)),
		slog.Int("in_range", len(filtered)),
	)

	results := make([]Result, 0, len(filtered))

	for _, res := range filtered {
		if res.URL == "" {
			continue
		}

		year := extractYear(res.Name)
		yearDir := "unknown"
		if year > 0 {
			yearDir = strconv.Itoa(year)
		}

		dest := filepath.Join(outputBase, ds.OutputDir, yearDir, resourceFilename(res))

		if man != nil && man.ShouldSkip(res.URL) {
			entry, _ := man.Find(res.URL)
			d.logger.Info("skipped (manifest)", slog.String("file", dest))
			results = append(results, skippedResult(entry))

			continue
		}

		d.logger.Info("downloading", slog.String("url", res.URL), slog.String("dest", dest))

		result, err := d.fetchToFile(ctx, d.catalogClient, res.URL, dest)
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

// resolveResources calls the package-metadata endpoint and decodes the
// resource list.
func (d *Downloader) resolveResources(ctx context.Context, ds config.DatasetConfig) ([]catalogResource, error) {
	url := fmt.Sprintf("%s/api/3/action/package_show?id=%s", ds.BaseURL, ds.CatalogID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}

	resp, err := d.catalogClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query catalog for %s: %w", ds.Name, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, bodySnippetSize))

		return nil, &Error{URL: url, StatusCode: resp.StatusCode, Body: string(snippet)}
	}

	var decoded catalogResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode catalog response for %s: %w", ds.Name, err)
	}

	return decoded.Result.Resources, nil
}

// extractYear pulls a four-digit year out of a resource name, zero if absent.
func extractYear(name string) int {
	match := yearPattern.FindString(name)
	if match == "" {
		return 0
	}

	year, _ := strconv.Atoi(match)

	return year
}

func filterResources(resources []catalogResource, startYear, endYear int, format string) []catalogResource {
	var filtered []catalogResource

	for _, res := range resources {
		year := extractYear(res.Name)
		if year == 0 || year < startYear || year > endYear {
			continue
		}

		if format != "" && !strings.EqualFold(res.Format, format) {
			continue
		}

		filtered = append(filtered, res)
	}

	return filtered
}

// resourceFilename derives a filesystem-safe filename from the resource name,
// falling back to the URL's last path segment.
func resourceFilename(res catalogResource) string {
	if res.Name != "" {
		safe := unsafeFilenameChars.ReplaceAllString(res.Name, "_")
		format := strings.ToLower(res.Format)

		if format != "" && !strings.HasSuffix(strings.ToLower(safe), "."+format) {
			safe += "." + format
		}

		return safe
	}

	if base := path.Base(res.URL); base != "." && base != "/" {
		return base
	}

	return "unknown"
}
