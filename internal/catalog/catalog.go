// Package catalog loads the terminal catalog (levels, categories, POIs and
// per-floor overlays) from a data directory or over HTTP.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-wayfind/internal/wayfind"
)

// Catalog file locations relative to the data root.
const (
	LevelsPath     = "json/eap-levels.json"
	CategoriesPath = "json/eap-categories.json"
	POIsPath       = "json/eap-poi.geojson"
)

func decodeLevels(b []byte) ([]wayfind.Level, error) {
	var levels []wayfind.Level
	if err := json.Unmarshal(b, &levels); err != nil {
		return nil, fmt.Errorf("decode levels: %w", err)
	}
	return levels, nil
}

func decodeCategories(b []byte) ([]wayfind.Category, error) {
	var cats []wayfind.Category
	if err := json.Unmarshal(b, &cats); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	return cats, nil
}

func decodeCollection(name string, b []byte) (*geojson.FeatureCollection, error) {
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return fc, nil
}

// Check loads the whole catalog through loader and audits it. Floor
// overlays that fail to load are reported as errors.
func Check(ctx context.Context, loader wayfind.CatalogLoader) (wayfind.Report, error) {
	levels, err := loader.FetchLevels(ctx)
	if err != nil {
		return wayfind.Report{}, err
	}
	cats, err := loader.FetchCategories(ctx)
	if err != nil {
		return wayfind.Report{}, err
	}
	fc, err := loader.FetchPOIs(ctx)
	if err != nil {
		return wayfind.Report{}, err
	}
	cat := wayfind.NewCatalog(levels, cats)
	report := cat.Audit(wayfind.DecodePOIs(fc))
	for _, l := range levels {
		if l.GeoJSONURL == "" {
			continue
		}
		if _, err := loader.FetchFloorOverlay(ctx, l); err != nil {
			return report, fmt.Errorf("level %s: %w", l.ID, err)
		}
	}
	return report, nil
}
