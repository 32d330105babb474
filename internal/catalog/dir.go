package catalog

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-wayfind/internal/wayfind"
)

// DirLoader reads the catalog from a file system laid out like the web root.
type DirLoader struct {
	FS fs.FS
}

// NewDirLoader returns a loader over the directory dir.
func NewDirLoader(dir string) *DirLoader {
	return &DirLoader{FS: os.DirFS(dir)}
}

func (d *DirLoader) read(name string) ([]byte, error) {
	p := cleanPath(name)
	b, err := fs.ReadFile(d.FS, p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &wayfind.StatusError{URL: p, Code: http.StatusNotFound}
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return b, nil
}

func (d *DirLoader) FetchLevels(ctx context.Context) ([]wayfind.Level, error) {
	b, err := d.read(LevelsPath)
	if err != nil {
		return nil, err
	}
	return decodeLevels(b)
}

func (d *DirLoader) FetchCategories(ctx context.Context) ([]wayfind.Category, error) {
	b, err := d.read(CategoriesPath)
	if err != nil {
		return nil, err
	}
	return decodeCategories(b)
}

func (d *DirLoader) FetchPOIs(ctx context.Context) (*geojson.FeatureCollection, error) {
	b, err := d.read(POIsPath)
	if err != nil {
		return nil, err
	}
	return decodeCollection(POIsPath, b)
}

func (d *DirLoader) FetchFloorOverlay(ctx context.Context, level wayfind.Level) (*geojson.FeatureCollection, error) {
	if level.GeoJSONURL == "" {
		return nil, fmt.Errorf("level %s has no overlay", level.ID)
	}
	b, err := d.read(level.GeoJSONURL)
	if err != nil {
		return nil, err
	}
	return decodeCollection(level.GeoJSONURL, b)
}

// LoadImage reads an icon and its dimensions. Icons stay referenced by URL;
// the browser fetches the pixels itself.
func (d *DirLoader) LoadImage(ctx context.Context, u string) (wayfind.Image, error) {
	p := cleanPath(u)
	f, err := d.FS.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return wayfind.Image{}, &wayfind.StatusError{URL: p, Code: http.StatusNotFound}
	}
	if err != nil {
		return wayfind.Image{}, err
	}
	defer f.Close()
	img := wayfind.Image{URL: u}
	if strings.EqualFold(path.Ext(p), ".svg") {
		return img, nil
	}
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return wayfind.Image{}, fmt.Errorf("decode %s: %w", p, err)
	}
	img.Width, img.Height = cfg.Width, cfg.Height
	return img, nil
}

// cleanPath turns a page-relative URL into an fs.FS path.
func cleanPath(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	p := path.Clean("/" + u)
	return strings.TrimPrefix(p, "/")
}

var _ wayfind.CatalogLoader = (*DirLoader)(nil)
