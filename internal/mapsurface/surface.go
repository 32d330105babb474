// Package mapsurface is a headless model of a MapLibre map. It implements
// the controller's MapSurface and records every mutation as an Op that a
// browser replays on the real map.
package mapsurface

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-wayfind/internal/style"
	"github.com/joeblew999/plat-wayfind/internal/wayfind"
)

// Op kinds.
const (
	OpSetStyle    = "setStyle"
	OpAddSource   = "addSource"
	OpAddLayer    = "addLayer"
	OpSetFilter   = "setFilter"
	OpSetLayout   = "setLayoutProperty"
	OpAddImage    = "addImage"
	OpFlyTo       = "flyTo"
	OpOpenPopup   = "openPopup"
	OpClosePopup  = "closePopup"
	OpSetParam    = "setParam"
	OpDeleteParam = "deleteParam"
)

// Op is one map mutation as replayed by the browser.
type Op struct {
	Kind   string `json:"op"`
	ID     string `json:"id,omitempty"`
	Before string `json:"before,omitempty"`
	Prop   string `json:"prop,omitempty"`
	Value  any    `json:"value,omitempty"`
}

// Popup is the open popup.
type Popup struct {
	At   orb.Point `json:"lngLat"`
	HTML string    `json:"html"`
}

// ImageLoader resolves an icon URL into an image.
type ImageLoader interface {
	LoadImage(ctx context.Context, url string) (wayfind.Image, error)
}

// ImageLoaderFunc adapts a function to ImageLoader.
type ImageLoaderFunc func(ctx context.Context, url string) (wayfind.Image, error)

func (f ImageLoaderFunc) LoadImage(ctx context.Context, url string) (wayfind.Image, error) {
	return f(ctx, url)
}

// Surface is a headless map. It is safe for concurrent use.
type Surface struct {
	mu       sync.Mutex
	base     style.Style
	sources  map[string]*geojson.FeatureCollection
	srcOrder []string
	layers   []wayfind.Layer
	images   map[string]wayfind.Image
	camera   wayfind.Camera
	popup    *Popup
	params   url.Values
	handlers map[string][]func(wayfind.Event)

	loader ImageLoader
	bus    *Bus[Op]
}

// New creates a surface showing base. A nil loader accepts every image URL
// without reading it.
func New(base style.Style, loader ImageLoader) *Surface {
	if loader == nil {
		loader = ImageLoaderFunc(func(_ context.Context, u string) (wayfind.Image, error) {
			return wayfind.Image{URL: u}, nil
		})
	}
	cam := wayfind.DefaultHome
	if len(base.Center) == 2 {
		cam = wayfind.Camera{Center: orb.Point{base.Center[0], base.Center[1]}, Zoom: base.Zoom, Bearing: base.Bearing}
	}
	return &Surface{
		base:     base.Clone(),
		sources:  map[string]*geojson.FeatureCollection{},
		images:   map[string]wayfind.Image{},
		camera:   cam,
		params:   url.Values{},
		handlers: map[string][]func(wayfind.Event){},
		loader:   loader,
		bus:      NewBus[Op](256),
	}
}

// Ops returns the operation stream.
func (s *Surface) Ops() *Bus[Op] { return s.bus }

func (s *Surface) publish(op Op) { s.bus.Publish(op) }

// AddSource registers a GeoJSON source.
func (s *Surface) AddSource(id string, fc *geojson.FeatureCollection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[id]; ok {
		return fmt.Errorf("%w: %s", wayfind.ErrSourceExists, id)
	}
	if _, ok := s.base.Sources[id]; ok {
		return fmt.Errorf("%w: %s", wayfind.ErrSourceExists, id)
	}
	if fc == nil {
		fc = geojson.NewFeatureCollection()
	}
	s.sources[id] = fc
	s.srcOrder = append(s.srcOrder, id)
	s.publish(Op{Kind: OpAddSource, ID: id, Value: style.Source{Type: "geojson", Data: fc}})
	return nil
}

// AddLayer inserts l directly below the layer before, or on top when before
// is empty or absent.
func (s *Surface) AddLayer(l wayfind.Layer, before string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.layerIndex(l.ID) >= 0 || s.baseLayer(l.ID) {
		return fmt.Errorf("%w: %s", wayfind.ErrLayerExists, l.ID)
	}
	if l.Source != "" && s.sources[l.Source] == nil {
		if _, ok := s.base.Sources[l.Source]; !ok {
			return fmt.Errorf("%w: %s", wayfind.ErrSourceNotFound, l.Source)
		}
	}
	l = copyLayer(l)
	i := s.layerIndex(before)
	if i < 0 {
		before = ""
		s.layers = append(s.layers, l)
	} else {
		s.layers = append(s.layers[:i], append([]wayfind.Layer{l}, s.layers[i:]...)...)
	}
	s.publish(Op{Kind: OpAddLayer, ID: l.ID, Before: before, Value: style.FromLayer(l)})
	return nil
}

// SetFilter replaces a custom layer's filter; nil clears it.
func (s *Surface) SetFilter(id string, f wayfind.Expr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.layerIndex(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", wayfind.ErrLayerNotFound, id)
	}
	s.layers[i].Filter = f
	var v any
	if f != nil {
		v = f
	}
	s.publish(Op{Kind: OpSetFilter, ID: id, Value: v})
	return nil
}

// SetLayoutProperty sets one layout property of a custom layer.
func (s *Surface) SetLayoutProperty(id, prop string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.layerIndex(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", wayfind.ErrLayerNotFound, id)
	}
	if s.layers[i].Layout == nil {
		s.layers[i].Layout = map[string]any{}
	}
	s.layers[i].Layout[prop] = v
	s.publish(Op{Kind: OpSetLayout, ID: id, Prop: prop, Value: v})
	return nil
}

// LoadImage resolves an image through the surface's loader.
func (s *Surface) LoadImage(ctx context.Context, u string) (wayfind.Image, error) {
	img, err := s.loader.LoadImage(ctx, u)
	if err != nil {
		return wayfind.Image{}, fmt.Errorf("load image %s: %w", u, err)
	}
	return img, nil
}

// AddImage registers a named image.
func (s *Surface) AddImage(id string, img wayfind.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.images[id]; ok {
		return fmt.Errorf("%w: %s", wayfind.ErrImageExists, id)
	}
	s.images[id] = img
	s.publish(Op{Kind: OpAddImage, ID: id, Value: img})
	return nil
}

// FlyTo moves the camera. A zero bearing keeps the current one.
func (s *Surface) FlyTo(c wayfind.Camera) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Bearing == 0 {
		c.Bearing = s.camera.Bearing
	}
	s.camera = c
	s.publish(Op{Kind: OpFlyTo, Value: c})
	return nil
}

// OpenPopup shows html at a position, replacing any open popup.
func (s *Surface) OpenPopup(at orb.Point, html string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.popup = &Popup{At: at, HTML: html}
	s.publish(Op{Kind: OpOpenPopup, Value: *s.popup})
	return nil
}

// ClosePopup removes the popup, if any.
func (s *Surface) ClosePopup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.popup == nil {
		return nil
	}
	s.popup = nil
	s.publish(Op{Kind: OpClosePopup})
	return nil
}

// On registers a handler for map events on a layer.
func (s *Surface) On(event, layerID string, h func(wayfind.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := event + "/" + layerID
	s.handlers[key] = append(s.handlers[key], h)
}

// Emit delivers a browser event to the handlers registered with On. It
// returns false when nothing listens.
func (s *Surface) Emit(ev wayfind.Event) bool {
	s.mu.Lock()
	hs := append(([]func(wayfind.Event))(nil), s.handlers[ev.Type+"/"+ev.LayerID]...)
	s.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
	return len(hs) > 0
}

// SetParam sets a page URL query parameter.
func (s *Surface) SetParam(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params.Set(key, value)
	s.publish(Op{Kind: OpSetParam, ID: key, Value: value})
}

// DelParam removes a page URL query parameter.
func (s *Surface) DelParam(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.params.Has(key) {
		return
	}
	s.params.Del(key)
	s.publish(Op{Kind: OpDeleteParam, ID: key})
}

// Query returns the page URL query string.
func (s *Surface) Query() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.Encode()
}

// SetStyle swaps the basemap. Custom sources, layers and images survive the
// swap and keep their order above the new basemap. The published op carries
// the full State so the browser can re-register images.
func (s *Surface) SetStyle(base style.Style) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = base.Clone()
	s.publish(Op{Kind: OpSetStyle, Value: s.snapshotLocked()})
}

// Style returns the full style document: basemap plus custom sources and
// layers with their current filters and layout.
func (s *Surface) Style() style.Style {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.styleLocked()
}

func (s *Surface) styleLocked() style.Style {
	doc := s.base.Clone()
	for _, id := range s.srcOrder {
		doc.Sources[id] = style.Source{Type: "geojson", Data: s.sources[id]}
	}
	for _, l := range s.layers {
		doc.Layers = append(doc.Layers, style.FromLayer(copyLayer(l)))
	}
	return doc
}

// State is everything a freshly connected browser needs to draw the map.
type State struct {
	Style  style.Style              `json:"style"`
	Images map[string]wayfind.Image `json:"images"`
	Camera wayfind.Camera           `json:"camera"`
	Popup  *Popup                   `json:"popup,omitempty"`
	Query  string                   `json:"query,omitempty"`
}

// Snapshot returns the complete surface state.
func (s *Surface) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Surface) snapshotLocked() State {
	st := State{
		Style:  s.styleLocked(),
		Images: make(map[string]wayfind.Image, len(s.images)),
		Camera: s.camera,
		Query:  s.params.Encode(),
	}
	for k, v := range s.images {
		st.Images[k] = v
	}
	if s.popup != nil {
		p := *s.popup
		st.Popup = &p
	}
	return st
}

// LayerIDs returns the custom layers in draw order, bottom first.
func (s *Surface) LayerIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.layers))
	for i, l := range s.layers {
		out[i] = l.ID
	}
	return out
}

// Layer returns a copy of a custom layer.
func (s *Surface) Layer(id string) (wayfind.Layer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.layerIndex(id)
	if i < 0 {
		return wayfind.Layer{}, false
	}
	return copyLayer(s.layers[i]), true
}

// ImageIDs returns the registered image ids, sorted.
func (s *Surface) ImageIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.images))
	for k := range s.images {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Camera returns the current camera.
func (s *Surface) Camera() wayfind.Camera {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.camera
}

// Popup returns the open popup or nil.
func (s *Surface) Popup() *Popup {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.popup == nil {
		return nil
	}
	p := *s.popup
	return &p
}

func (s *Surface) layerIndex(id string) int {
	if id == "" {
		return -1
	}
	for i, l := range s.layers {
		if l.ID == id {
			return i
		}
	}
	return -1
}

func (s *Surface) baseLayer(id string) bool {
	for _, l := range s.base.Layers {
		if l.ID == id {
			return true
		}
	}
	return false
}

func copyLayer(l wayfind.Layer) wayfind.Layer {
	if l.Layout != nil {
		m := make(map[string]any, len(l.Layout))
		for k, v := range l.Layout {
			m[k] = v
		}
		l.Layout = m
	}
	if l.Paint != nil {
		m := make(map[string]any, len(l.Paint))
		for k, v := range l.Paint {
			m[k] = v
		}
		l.Paint = m
	}
	return l
}

var (
	_ wayfind.MapSurface = (*Surface)(nil)
	_ wayfind.History    = (*Surface)(nil)
)
