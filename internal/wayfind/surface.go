package wayfind

import (
	"context"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Errors returned by MapSurface implementations.
var (
	ErrSourceExists   = errors.New("source already exists")
	ErrLayerExists    = errors.New("layer already exists")
	ErrLayerNotFound  = errors.New("layer not found")
	ErrSourceNotFound = errors.New("source not found")
	ErrImageExists    = errors.New("image already exists")
)

// Camera is a fly-to target.
type Camera struct {
	Center  orb.Point `json:"center"`
	Zoom    float64   `json:"zoom"`
	Bearing float64   `json:"bearing,omitempty"`
}

// Image is a decoded or referenced icon ready to be registered on the map.
type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Data   []byte `json:"-"`
}

// Event is a map interaction on a layer.
type Event struct {
	Type       string
	LayerID    string
	Properties map[string]any
	LngLat     *orb.Point
}

// MapSurface is the mutable map the controller drives.
type MapSurface interface {
	AddSource(id string, data *geojson.FeatureCollection) error
	AddLayer(layer Layer, beforeID string) error
	SetFilter(layerID string, filter Expr) error
	SetLayoutProperty(layerID, prop string, value any) error
	LoadImage(ctx context.Context, url string) (Image, error)
	AddImage(id string, img Image) error
	FlyTo(cam Camera) error
	OpenPopup(at orb.Point, html string) error
	ClosePopup() error
	On(event, layerID string, handler func(Event))
}

// CatalogLoader fetches the catalog and per-floor overlays.
type CatalogLoader interface {
	FetchLevels(ctx context.Context) ([]Level, error)
	FetchCategories(ctx context.Context) ([]Category, error)
	FetchPOIs(ctx context.Context) (*geojson.FeatureCollection, error)
	FetchFloorOverlay(ctx context.Context, level Level) (*geojson.FeatureCollection, error)
}

// History reflects selection into the page URL without reloading.
type History interface {
	SetParam(key, value string)
	DelParam(key string)
}

// Recorder receives controller metrics.
type Recorder interface {
	ObserveFetch(resource string, err error)
	IncReconcile()
}

// StatusError is a non-success response from a catalog endpoint.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.Code)
}

// IsNotFound reports whether err is a 404 StatusError.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == 404
}
