package wayfind

import (
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"
)

type fakeHistory struct{ params map[string]string }

func (h *fakeHistory) SetParam(k, v string) { h.params[k] = v }
func (h *fakeHistory) DelParam(k string)    { delete(h.params, k) }

func newTestController(t *testing.T, loader *fakeLoader) (*Controller, *fakeSurface) {
	t.Helper()
	s := newFakeSurface()
	c := New(s, loader, zerolog.Nop(), Options{})
	c.Start(context.Background())
	return c, s
}

func TestScenarioCategoryThenLevel(t *testing.T) {
	ctx := context.Background()
	c, s := newTestController(t, scenarioLoader())

	if err := c.SelectCategory(ctx, "shop"); err != nil {
		t.Fatal(err)
	}
	if err := c.SelectLevel(ctx, "L1"); err != nil {
		t.Fatal(err)
	}

	want := `["all",["==","level","L1"],["==","category","shop"]]`
	if got := s.filter(POILayerID); got != want {
		t.Fatalf("filter=%s, want %s", got, want)
	}
	if v := s.visibility(LevelLayerID("L1")); v != Visible {
		t.Fatalf("L1 ground visibility=%v, want visible", v)
	}
	if v := s.visibility(LevelExtrusionLayerID("L1")); v != Visible {
		t.Fatalf("L1 extrusion visibility=%v, want visible", v)
	}
	if c.Cache().LevelState("L2") != NotRequested {
		t.Fatalf("L2 should not have been requested")
	}
	if v := s.visibility(POILayerID); v != Visible {
		t.Fatalf("poi layer visibility=%v", v)
	}
}

func TestFilterIndependentOfCallOrder(t *testing.T) {
	ctx := context.Background()
	type step struct {
		level bool
		id    string
	}
	sequences := [][]step{
		{{true, "L1"}, {false, "shop"}},
		{{false, "shop"}, {true, "L2"}, {true, "L1"}},
		{{true, "L2"}, {false, "shop"}, {false, ""}, {true, "L1"}, {false, "shop"}},
		{{false, "shop"}, {true, "L1"}, {true, ""}},
		{{true, "L1"}, {true, ""}, {false, "shop"}, {false, ""}},
	}
	for i, seq := range sequences {
		c, s := newTestController(t, scenarioLoader())
		for _, st := range seq {
			var err error
			if st.level {
				err = c.SelectLevel(ctx, st.id)
			} else {
				err = c.SelectCategory(ctx, st.id)
			}
			if err != nil {
				t.Fatalf("seq %d: %v", i, err)
			}
		}
		want, _ := json.Marshal(POIFilter(c.Selection()))
		if got := s.filter(POILayerID); got != string(want) {
			t.Fatalf("seq %d: filter=%s, want %s", i, got, want)
		}
	}
}

func TestReconcileIdempotent(t *testing.T) {
	ctx := context.Background()
	c, s := newTestController(t, scenarioLoader())
	if err := c.SelectLevel(ctx, "L1"); err != nil {
		t.Fatal(err)
	}
	adds := s.adds
	layers := strings.Join(s.layerIDs(), ",")
	filter := s.filter(POILayerID)

	c.Reconcile(ctx)
	c.Reconcile(ctx)

	if s.adds != adds {
		t.Fatalf("adds=%d after reconcile, want %d", s.adds, adds)
	}
	if got := strings.Join(s.layerIDs(), ","); got != layers {
		t.Fatalf("layers=%s, want %s", got, layers)
	}
	if got := s.filter(POILayerID); got != filter {
		t.Fatalf("filter=%s, want %s", got, filter)
	}
}

func TestOnlySelectedOverlayVisible(t *testing.T) {
	ctx := context.Background()
	c, s := newTestController(t, scenarioLoader())
	for _, id := range []string{"L1", "L2", "L1", ""} {
		if err := c.SelectLevel(ctx, id); err != nil {
			t.Fatal(err)
		}
		visible := 0
		for _, lid := range c.Cache().LevelIDs(Loaded) {
			if s.visibility(LevelLayerID(lid)) == Visible {
				visible++
				if lid != id {
					t.Fatalf("after selecting %q, %s is visible", id, lid)
				}
			}
		}
		if visible > 1 {
			t.Fatalf("%d overlays visible", visible)
		}
	}
	if got := c.Cache().LevelIDs(Loaded); len(got) != 2 {
		t.Fatalf("loaded=%v, want both floors kept loaded", got)
	}
}

func TestOverlayInsertedBelowPOILayer(t *testing.T) {
	ctx := context.Background()
	c, s := newTestController(t, scenarioLoader())
	_ = c.SelectLevel(ctx, "L1")
	_ = c.SelectLevel(ctx, "L2")

	got := strings.Join(s.layerIDs(), ",")
	want := strings.Join([]string{
		LevelLayerID("L1"), LevelExtrusionLayerID("L1"),
		LevelLayerID("L2"), LevelExtrusionLayerID("L2"),
		POILayerID,
	}, ",")
	if got != want {
		t.Fatalf("layers=%s, want %s", got, want)
	}
}

func TestOverlayFetchedOnceUnderConcurrentSelection(t *testing.T) {
	ctx := context.Background()
	loader := scenarioLoader()
	c, s := newTestController(t, loader)
	c.Reconcile(ctx) // load POIs first

	loader.mu.Lock()
	loader.gate = make(chan struct{})
	loader.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "L1"
			if i%2 == 1 {
				id = "L2"
			}
			_ = c.SelectLevel(ctx, id)
		}(i)
	}
	for c.Cache().LevelState("L1") != Pending || c.Cache().LevelState("L2") != Pending {
		runtime.Gosched()
	}
	close(loader.gate)
	wg.Wait()

	for _, id := range []string{"L1", "L2"} {
		if n := loader.overlayCalls(id); n != 1 {
			t.Fatalf("overlay %s fetched %d times, want 1", id, n)
		}
	}
	final := c.Selection().LevelID()
	visible := 0
	for _, id := range []string{"L1", "L2"} {
		if s.visibility(LevelLayerID(id)) == Visible {
			visible++
			if id != final {
				t.Fatalf("%s visible but %s selected", id, final)
			}
		}
	}
	if visible != 1 {
		t.Fatalf("visible overlays=%d, want 1", visible)
	}
}

func TestOverlayFetchFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	loader := scenarioLoader()
	loader.overlayErr = map[string]error{"L1": &StatusError{URL: "json/l1.geojson", Code: 404}}
	c, s := newTestController(t, loader)

	if err := c.SelectLevel(ctx, "L1"); err != nil {
		t.Fatal(err)
	}
	if st := c.Cache().LevelState("L1"); st != Failed {
		t.Fatalf("state=%v, want failed", st)
	}
	if s.hasLayer(LevelLayerID("L1")) {
		t.Fatal("layer registered despite failed fetch")
	}
	if want := `["==","level","L1"]`; s.filter(POILayerID) != want {
		t.Fatalf("filter=%s, want %s", s.filter(POILayerID), want)
	}

	loader.mu.Lock()
	loader.overlayErr = nil
	loader.mu.Unlock()
	if err := c.SelectLevel(ctx, "L1"); err != nil {
		t.Fatal(err)
	}
	if st := c.Cache().LevelState("L1"); st != Loaded {
		t.Fatalf("state=%v after retry, want loaded", st)
	}
	if n := loader.overlayCalls("L1"); n != 2 {
		t.Fatalf("overlay calls=%d, want 2", n)
	}
}

func TestPOIFetchFailureKeepsSessionAlive(t *testing.T) {
	ctx := context.Background()
	loader := scenarioLoader()
	loader.poiErr = errors.New("connection refused")
	c, s := newTestController(t, loader)

	if err := c.SelectLevel(ctx, "L1"); err != nil {
		t.Fatal(err)
	}
	if c.Cache().POIState() != Failed {
		t.Fatalf("poi state=%v", c.Cache().POIState())
	}
	if v := s.visibility(LevelLayerID("L1")); v != Visible {
		t.Fatalf("overlay visibility=%v, want visible without pois", v)
	}

	loader.mu.Lock()
	loader.poiErr = nil
	loader.mu.Unlock()
	c.Reconcile(ctx)
	ids := s.layerIDs()
	if ids[len(ids)-1] != POILayerID {
		t.Fatalf("poi layer not on top: %v", ids)
	}
}

func TestSelectPOI(t *testing.T) {
	ctx := context.Background()
	c, s := newTestController(t, scenarioLoader())
	_ = c.SelectCategory(ctx, "shop")

	if err := c.SelectPOI(ctx, "1"); err != nil {
		t.Fatal(err)
	}
	sel := c.Selection()
	if sel.LevelID() != "L1" {
		t.Fatalf("level=%q, want L1", sel.LevelID())
	}
	if sel.CategoryID() != "shop" {
		t.Fatalf("category=%q, want shop untouched", sel.CategoryID())
	}
	if len(s.flights) != 1 {
		t.Fatalf("flights=%d, want 1", len(s.flights))
	}
	if f := s.flights[0]; f.Center[0] != 7.53 || f.Center[1] != 47.6 || f.Zoom != DefaultFocusZoom {
		t.Fatalf("flight=%+v", f)
	}
	for _, want := range []string{"Cafe", "Level 1", NoDescription, "Duty Free"} {
		if !strings.Contains(s.popup, want) {
			t.Fatalf("popup %q missing %q", s.popup, want)
		}
	}
	if !c.PopupOpen() {
		t.Fatal("popup not tracked as open")
	}
}

func TestSelectPOIWhilePOIsLoading(t *testing.T) {
	ctx := context.Background()
	c, s := newTestController(t, scenarioLoader())
	// Another command holds the POI fetch.
	if !c.cache.Begin(poiKey) {
		t.Fatal("poi fetch already begun")
	}

	err := c.SelectPOI(ctx, "1")
	if !errors.Is(err, ErrUnknownPOI) || !errors.Is(err, ErrPOIsLoading) {
		t.Fatalf("err=%v, want unknown poi while loading", err)
	}
	if c.Selection().LevelID() != "" || len(s.flights) != 0 {
		t.Fatalf("selection changed while loading: %+v", c.Selection())
	}

	c.cache.Fail(poiKey)
	if err := c.SelectPOI(ctx, "1"); err != nil {
		t.Fatalf("retry after fetch settled: %v", err)
	}
	if c.Selection().LevelID() != "L1" {
		t.Fatalf("level=%q, want L1", c.Selection().LevelID())
	}

	if err := c.SelectPOI(ctx, "999"); errors.Is(err, ErrPOIsLoading) {
		t.Fatalf("loaded dataset still reported loading: %v", err)
	}
}

func TestSelectPOIWithoutCoordinates(t *testing.T) {
	ctx := context.Background()
	loader := scenarioLoader()
	loader.pois.Append(poiFeature("2", "Ghost Kiosk", "L2", "shop", nil))
	c, s := newTestController(t, loader)

	if err := c.SelectPOI(ctx, "2"); err != nil {
		t.Fatal(err)
	}
	if c.Selection().LevelID() != "L2" {
		t.Fatalf("level=%q, want L2", c.Selection().LevelID())
	}
	if len(s.flights) != 0 || s.popup != "" {
		t.Fatalf("flights=%d popup=%q, want none", len(s.flights), s.popup)
	}
	src := s.sources[POISourceID]
	if len(src.Features) != 1 {
		t.Fatalf("poi source has %d features, want located only", len(src.Features))
	}
}

func TestPopupClosedOnCategoryNotLevel(t *testing.T) {
	ctx := context.Background()
	c, s := newTestController(t, scenarioLoader())
	_ = c.SelectPOI(ctx, "1")

	_ = c.SelectLevel(ctx, "L2")
	if !c.PopupOpen() || s.popup == "" {
		t.Fatal("level change closed the popup")
	}
	_ = c.SelectCategory(ctx, "shop")
	if c.PopupOpen() || s.popup != "" {
		t.Fatal("category change left the popup open")
	}
}

func TestUnknownSelectionsAreNoOps(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestController(t, scenarioLoader())
	_ = c.SelectLevel(ctx, "L1")

	if err := c.SelectLevel(ctx, "L9"); !errors.Is(err, ErrUnknownLevel) {
		t.Fatalf("err=%v, want ErrUnknownLevel", err)
	}
	if err := c.SelectCategory(ctx, "spa"); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("err=%v, want ErrUnknownCategory", err)
	}
	if err := c.SelectPOI(ctx, "404"); !errors.Is(err, ErrUnknownPOI) {
		t.Fatalf("err=%v, want ErrUnknownPOI", err)
	}
	if c.Selection().LevelID() != "L1" || c.Selection().Category != nil {
		t.Fatalf("selection changed: %+v", c.Selection())
	}
}

func TestIconsRegisteredPerKnownCategory(t *testing.T) {
	loader := scenarioLoader()
	loader.pois.Append(poiFeature("2", "Boutique", "L2", "shop", pt(7.531, 47.6)))
	loader.pois.Append(poiFeature("3", "Mystery", "L2", "nope", pt(7.532, 47.6)))
	c, s := newTestController(t, loader)
	c.Reconcile(context.Background())

	if len(s.images) != 1 {
		t.Fatalf("images=%v, want one", s.images)
	}
	if _, ok := s.images[IconImageID("shop")]; !ok {
		t.Fatalf("missing shop icon: %v", s.images)
	}
	if _, ok := c.POI("3"); !ok {
		t.Fatal("poi with unknown category should still be in the catalog")
	}
}

func TestHistoryMirrorsLevel(t *testing.T) {
	ctx := context.Background()
	h := &fakeHistory{params: map[string]string{}}
	s := newFakeSurface()
	c := New(s, scenarioLoader(), zerolog.Nop(), Options{History: h})
	c.Start(ctx)

	_ = c.SelectLevel(ctx, "L2")
	if h.params[LevelParam] != "L2" {
		t.Fatalf("params=%v", h.params)
	}
	_ = c.SelectLevel(ctx, "")
	if _, ok := h.params[LevelParam]; ok {
		t.Fatalf("level param not removed: %v", h.params)
	}
}

func TestMapClickSelectsPOI(t *testing.T) {
	c, s := newTestController(t, scenarioLoader())
	c.Reconcile(context.Background())

	h := s.handlers["click/"+POILayerID]
	if h == nil {
		t.Fatal("no click handler on poi layer")
	}
	h(Event{Type: "click", LayerID: POILayerID, Properties: map[string]any{"fid": 1.0}})
	if c.Selection().LevelID() != "L1" || len(s.flights) != 1 {
		t.Fatalf("click did not focus poi: sel=%+v flights=%d", c.Selection(), len(s.flights))
	}
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()
	c, s := newTestController(t, scenarioLoader())
	cmds := []Command{
		CategorySelected{CategoryID: "shop"},
		LevelSelected{LevelID: "L1"},
		POISelected{FID: "1"},
		RecenterRequested{},
		ResetRequested{},
	}
	for _, cmd := range cmds {
		if err := c.Dispatch(ctx, cmd); err != nil {
			t.Fatalf("%T: %v", cmd, err)
		}
	}
	if sel := c.Selection(); sel.Level != nil || sel.Category != nil {
		t.Fatalf("reset left selection %+v", sel)
	}
	last := s.flights[len(s.flights)-1]
	if last != DefaultHome {
		t.Fatalf("last flight=%+v, want home", last)
	}
	if s.filter(POILayerID) != "null" {
		t.Fatalf("filter=%s after reset, want null", s.filter(POILayerID))
	}
}

func TestStartToleratesEmptyCatalog(t *testing.T) {
	loader := &fakeLoader{pois: geojson.NewFeatureCollection()}
	c, _ := newTestController(t, loader)
	if len(c.Levels()) != 0 || !c.Panel().IsRoot() {
		t.Fatalf("unexpected state for empty catalog")
	}
	c.Reconcile(context.Background())
}
