// Package style builds the MapLibre basemap style for the terminal map.
package style

import (
	"fmt"
	"strings"

	"github.com/joeblew999/plat-wayfind/internal/wayfind"
)

// Theme is a basemap color scheme.
type Theme string

const (
	Dark  Theme = "dark"
	Light Theme = "light"
)

// ParseTheme accepts "dark" or "light" (case-insensitive). An empty string
// yields Dark.
func ParseTheme(s string) (Theme, error) {
	switch Theme(strings.ToLower(strings.TrimSpace(s))) {
	case "", Dark:
		return Dark, nil
	case Light:
		return Light, nil
	}
	return "", fmt.Errorf("unknown theme %q", s)
}

// Toggle returns the other theme.
func (t Theme) Toggle() Theme {
	if t == Light {
		return Dark
	}
	return Light
}

// Style is a MapLibre style document (version 8).
type Style struct {
	Version int               `json:"version"`
	Name    string            `json:"name,omitempty"`
	Glyphs  string            `json:"glyphs,omitempty"`
	Sprite  string            `json:"sprite,omitempty"`
	Center  []float64         `json:"center,omitempty"`
	Zoom    float64           `json:"zoom,omitempty"`
	Bearing float64           `json:"bearing,omitempty"`
	Sources map[string]Source `json:"sources"`
	Layers  []Layer           `json:"layers"`
}

// Source is a style source.
type Source struct {
	Type        string `json:"type"`
	URL         string `json:"url,omitempty"`
	Data        any    `json:"data,omitempty"`
	Attribution string `json:"attribution,omitempty"`
}

// Layer is a style layer. SourceLayer is only set for vector tile layers.
type Layer struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Source      string         `json:"source,omitempty"`
	SourceLayer string         `json:"source-layer,omitempty"`
	MinZoom     float64        `json:"minzoom,omitempty"`
	Filter      any            `json:"filter,omitempty"`
	Paint       map[string]any `json:"paint,omitempty"`
	Layout      map[string]any `json:"layout,omitempty"`
}

// FromLayer converts a controller layer into a style layer.
func FromLayer(l wayfind.Layer) Layer {
	out := Layer{ID: l.ID, Type: l.Type, Source: l.Source, Paint: l.Paint, Layout: l.Layout}
	if l.Filter != nil {
		out.Filter = l.Filter
	}
	return out
}

// Clone returns a copy that shares no maps or slices with s at the top level.
func (s Style) Clone() Style {
	out := s
	out.Sources = make(map[string]Source, len(s.Sources))
	for k, v := range s.Sources {
		out.Sources[k] = v
	}
	out.Layers = append([]Layer(nil), s.Layers...)
	if s.Center != nil {
		out.Center = append([]float64(nil), s.Center...)
	}
	return out
}

// BasemapSourceID is the vector source backed by the PMTiles archive.
const BasemapSourceID = "eap"

// Options locates the basemap assets.
type Options struct {
	// BaseURL is prepended to the archive path, e.g. "http://localhost:8086".
	BaseURL string
	// Archive is the PMTiles path below BaseURL.
	Archive string
	// Glyphs is the font glyph URL template.
	Glyphs string
	// SpriteBase is the sprite URL without the theme suffix.
	SpriteBase string
	// Attribution is shown for the basemap source.
	Attribution string
	Home        wayfind.Camera
}

// DefaultOptions matches the layout of the bundled web assets.
func DefaultOptions() Options {
	return Options{
		Archive:     "/protomaps/eap.pmtiles",
		Glyphs:      "https://protomaps.github.io/basemaps-assets/fonts/{fontstack}/{range}.pbf",
		SpriteBase:  "https://protomaps.github.io/basemaps-assets/sprites/v4/",
		Attribution: `<a href="https://protomaps.com">Protomaps</a> © <a href="https://openstreetmap.org">OpenStreetMap</a>`,
		Home:        wayfind.DefaultHome,
	}
}

// Build returns the basemap style for a theme. Basemap POIs are left out so
// they never compete with the terminal's own POI layer.
func Build(theme Theme, opts Options) Style {
	if opts.Archive == "" {
		opts = mergeDefaults(opts)
	}
	p := paletteFor(theme)
	home := opts.Home
	if home == (wayfind.Camera{}) {
		home = wayfind.DefaultHome
	}
	return Style{
		Version: 8,
		Name:    "eap-" + string(theme),
		Glyphs:  opts.Glyphs,
		Sprite:  opts.SpriteBase + string(theme),
		Center:  []float64{home.Center[0], home.Center[1]},
		Zoom:    home.Zoom,
		Bearing: home.Bearing,
		Sources: map[string]Source{
			BasemapSourceID: {
				Type:        "vector",
				URL:         "pmtiles://" + strings.TrimRight(opts.BaseURL, "/") + opts.Archive,
				Attribution: opts.Attribution,
			},
		},
		Layers: basemapLayers(p),
	}
}

func mergeDefaults(o Options) Options {
	d := DefaultOptions()
	d.BaseURL = o.BaseURL
	if o.Glyphs != "" {
		d.Glyphs = o.Glyphs
	}
	if o.SpriteBase != "" {
		d.SpriteBase = o.SpriteBase
	}
	if o.Attribution != "" {
		d.Attribution = o.Attribution
	}
	if o.Home != (wayfind.Camera{}) {
		d.Home = o.Home
	}
	return d
}
