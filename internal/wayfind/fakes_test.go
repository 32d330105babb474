package wayfind

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// fakeSurface records map mutations in memory.
type fakeSurface struct {
	mu       sync.Mutex
	sources  map[string]*geojson.FeatureCollection
	layers   []Layer
	filters  map[string]Expr
	layout   map[string]map[string]any
	images   map[string]Image
	flights  []Camera
	popup    string
	popupAt  *orb.Point
	closes   int
	handlers map[string]func(Event)
	adds     int
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{
		sources:  map[string]*geojson.FeatureCollection{},
		filters:  map[string]Expr{},
		layout:   map[string]map[string]any{},
		images:   map[string]Image{},
		handlers: map[string]func(Event){},
	}
}

func (s *fakeSurface) AddSource(id string, fc *geojson.FeatureCollection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[id]; ok {
		return ErrSourceExists
	}
	s.sources[id] = fc
	s.adds++
	return nil
}

func (s *fakeSurface) AddLayer(l Layer, before string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, x := range s.layers {
		if x.ID == l.ID {
			return ErrLayerExists
		}
	}
	s.adds++
	for i, x := range s.layers {
		if x.ID == before {
			s.layers = append(s.layers[:i], append([]Layer{l}, s.layers[i:]...)...)
			return nil
		}
	}
	s.layers = append(s.layers, l)
	return nil
}

func (s *fakeSurface) hasLayer(id string) bool {
	for _, x := range s.layers {
		if x.ID == id {
			return true
		}
	}
	return false
}

func (s *fakeSurface) SetFilter(id string, f Expr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasLayer(id) {
		return ErrLayerNotFound
	}
	s.filters[id] = f
	return nil
}

func (s *fakeSurface) SetLayoutProperty(id, prop string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasLayer(id) {
		return ErrLayerNotFound
	}
	if s.layout[id] == nil {
		s.layout[id] = map[string]any{}
	}
	s.layout[id][prop] = v
	return nil
}

func (s *fakeSurface) LoadImage(_ context.Context, url string) (Image, error) {
	return Image{URL: url}, nil
}

func (s *fakeSurface) AddImage(id string, img Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.images[id]; ok {
		return ErrImageExists
	}
	s.images[id] = img
	return nil
}

func (s *fakeSurface) FlyTo(c Camera) error {
	s.mu.Lock()
	s.flights = append(s.flights, c)
	s.mu.Unlock()
	return nil
}

func (s *fakeSurface) OpenPopup(at orb.Point, html string) error {
	s.mu.Lock()
	s.popup, s.popupAt = html, &at
	s.mu.Unlock()
	return nil
}

func (s *fakeSurface) ClosePopup() error {
	s.mu.Lock()
	s.popup, s.popupAt = "", nil
	s.closes++
	s.mu.Unlock()
	return nil
}

func (s *fakeSurface) On(event, layerID string, h func(Event)) {
	s.mu.Lock()
	s.handlers[event+"/"+layerID] = h
	s.mu.Unlock()
}

func (s *fakeSurface) visibility(id string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layout[id][Visibility]
}

func (s *fakeSurface) filter(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, _ := json.Marshal(s.filters[id])
	return string(b)
}

func (s *fakeSurface) layerIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, l := range s.layers {
		out = append(out, l.ID)
	}
	return out
}

// fakeLoader serves a fixed catalog and counts overlay fetches.
type fakeLoader struct {
	mu         sync.Mutex
	levels     []Level
	categories []Category
	pois       *geojson.FeatureCollection
	overlayErr map[string]error
	poiErr     error
	gate       chan struct{}
	poiCalls   int
	calls      map[string]int
}

func (l *fakeLoader) FetchLevels(context.Context) ([]Level, error) { return l.levels, nil }

func (l *fakeLoader) FetchCategories(context.Context) ([]Category, error) {
	return l.categories, nil
}

func (l *fakeLoader) FetchPOIs(context.Context) (*geojson.FeatureCollection, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.poiCalls++
	if l.poiErr != nil {
		return nil, l.poiErr
	}
	return l.pois, nil
}

func (l *fakeLoader) FetchFloorOverlay(_ context.Context, level Level) (*geojson.FeatureCollection, error) {
	l.mu.Lock()
	if l.calls == nil {
		l.calls = map[string]int{}
	}
	l.calls[level.ID]++
	err := l.overlayErr[level.ID]
	gate := l.gate
	l.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return overlayFC(), nil
}

func (l *fakeLoader) overlayCalls(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[id]
}

func poiFeature(fid, name, level, category string, at *orb.Point) *geojson.Feature {
	var f *geojson.Feature
	if at != nil {
		f = geojson.NewFeature(*at)
	} else {
		f = &geojson.Feature{Type: "Feature", Properties: geojson.Properties{}}
	}
	f.Properties["fid"] = fid
	f.Properties["name"] = name
	f.Properties["level"] = level
	f.Properties["category"] = category
	return f
}

func overlayFC() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	ground := geojson.NewFeature(orb.Polygon{{{7.52, 47.59}, {7.54, 47.59}, {7.54, 47.61}, {7.52, 47.61}, {7.52, 47.59}}})
	ground.Properties["type"] = "ground"
	shop := geojson.NewFeature(orb.Polygon{{{7.529, 47.599}, {7.531, 47.599}, {7.531, 47.601}, {7.529, 47.601}, {7.529, 47.599}}})
	shop.Properties["type"] = "shop"
	shop.Properties["name"] = "Duty Free"
	fc.Append(ground)
	fc.Append(shop)
	return fc
}

func pt(lon, lat float64) *orb.Point {
	p := orb.Point{lon, lat}
	return &p
}

// scenarioLoader is the two-floor, one-category catalog used across tests.
func scenarioLoader() *fakeLoader {
	fc := geojson.NewFeatureCollection()
	fc.Append(poiFeature("1", "Cafe", "L1", "shop", pt(7.53, 47.6)))
	return &fakeLoader{
		levels: []Level{
			{ID: "L1", Name: "Level 1", GeoJSONURL: "json/l1.geojson"},
			{ID: "L2", Name: "Level 2", GeoJSONURL: "json/l2.geojson"},
		},
		categories: []Category{{ID: "shop", Name: "Shops", IconURL: "icons/shop.png"}},
		pois:       fc,
	}
}
