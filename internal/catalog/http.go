package catalog

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-wayfind/internal/wayfind"
)

// maxBody caps catalog downloads.
const maxBody = 64 << 20

// HTTPLoader fetches the catalog from a web root.
type HTTPLoader struct {
	Base   *url.URL
	Client *http.Client
}

// NewHTTPLoader parses base, which should end in "/".
func NewHTTPLoader(base string, client *http.Client) (*HTTPLoader, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("catalog url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("catalog url %q: scheme must be http or https", base)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPLoader{Base: u, Client: client}, nil
}

func (h *HTTPLoader) resolve(ref string) (string, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("catalog ref %q: %w", ref, err)
	}
	return h.Base.ResolveReference(r).String(), nil
}

func (h *HTTPLoader) get(ctx context.Context, ref string) ([]byte, error) {
	u, err := h.resolve(ref)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &wayfind.StatusError{URL: u, Code: resp.StatusCode}
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u, err)
	}
	return b, nil
}

func (h *HTTPLoader) FetchLevels(ctx context.Context) ([]wayfind.Level, error) {
	b, err := h.get(ctx, LevelsPath)
	if err != nil {
		return nil, err
	}
	return decodeLevels(b)
}

func (h *HTTPLoader) FetchCategories(ctx context.Context) ([]wayfind.Category, error) {
	b, err := h.get(ctx, CategoriesPath)
	if err != nil {
		return nil, err
	}
	return decodeCategories(b)
}

func (h *HTTPLoader) FetchPOIs(ctx context.Context) (*geojson.FeatureCollection, error) {
	b, err := h.get(ctx, POIsPath)
	if err != nil {
		return nil, err
	}
	return decodeCollection(POIsPath, b)
}

func (h *HTTPLoader) FetchFloorOverlay(ctx context.Context, level wayfind.Level) (*geojson.FeatureCollection, error) {
	if level.GeoJSONURL == "" {
		return nil, fmt.Errorf("level %s has no overlay", level.ID)
	}
	b, err := h.get(ctx, level.GeoJSONURL)
	if err != nil {
		return nil, err
	}
	return decodeCollection(level.GeoJSONURL, b)
}

// LoadImage fetches an icon to validate it and returns it referenced by its
// absolute URL.
func (h *HTTPLoader) LoadImage(ctx context.Context, ref string) (wayfind.Image, error) {
	u, err := h.resolve(ref)
	if err != nil {
		return wayfind.Image{}, err
	}
	b, err := h.get(ctx, ref)
	if err != nil {
		return wayfind.Image{}, err
	}
	img := wayfind.Image{URL: u}
	if strings.EqualFold(path.Ext(cleanPath(ref)), ".svg") {
		return img, nil
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return wayfind.Image{}, fmt.Errorf("decode %s: %w", u, err)
	}
	img.Width, img.Height = cfg.Width, cfg.Height
	return img, nil
}

var _ wayfind.CatalogLoader = (*HTTPLoader)(nil)
