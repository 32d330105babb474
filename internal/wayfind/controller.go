package wayfind

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/rs/zerolog"
)

// Errors returned for selections that reference ids missing from the catalog.
var (
	ErrUnknownLevel    = errors.New("unknown level")
	ErrUnknownCategory = errors.New("unknown category")
	ErrUnknownPOI      = errors.New("unknown poi")
)

// ErrPOIsLoading accompanies ErrUnknownPOI when the POI dataset is still
// being fetched by another command; the fid may become valid once it lands.
var ErrPOIsLoading = errors.New("poi dataset still loading")

// LevelParam is the URL query parameter mirroring the selected floor.
const LevelParam = "level"

// Options tunes a Controller. Zero values fall back to the defaults.
type Options struct {
	Home      Camera
	FocusZoom float64
	History   History
	Recorder  Recorder
	Popup     PopupRenderer
}

// DefaultHome is the initial view over the terminal.
var DefaultHome = Camera{Center: orb.Point{7.53, 47.599}, Zoom: 14, Bearing: 245}

// DefaultFocusZoom is the zoom used when flying to a POI.
const DefaultFocusZoom = 17

// Controller owns one map session: selection, catalog, load cache and the
// derived map state.
type Controller struct {
	surface MapSurface
	loader  CatalogLoader
	log     zerolog.Logger
	opts    Options
	cache   *LoadCache

	mu        sync.Mutex
	catalog   *Catalog
	sel       Selection
	panel     Panel
	popupOpen bool
	overlays  map[string]*geojson.FeatureCollection
}

// New creates a controller for one map surface. Call Start before
// dispatching commands.
func New(surface MapSurface, loader CatalogLoader, log zerolog.Logger, opts Options) *Controller {
	if opts.Home == (Camera{}) {
		opts.Home = DefaultHome
	}
	if opts.FocusZoom == 0 {
		opts.FocusZoom = DefaultFocusZoom
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Popup == nil {
		opts.Popup = RenderPopup
	}
	c := &Controller{
		surface:  surface,
		loader:   loader,
		log:      log.With().Str("component", "wayfind").Logger(),
		opts:     opts,
		cache:    NewLoadCache(),
		catalog:  NewCatalog(nil, nil),
		overlays: map[string]*geojson.FeatureCollection{},
	}
	return c
}

// Start loads levels and categories. Failures are logged and leave the
// corresponding part of the catalog empty for the session.
func (c *Controller) Start(ctx context.Context) {
	levels, err := c.loader.FetchLevels(ctx)
	c.opts.Recorder.ObserveFetch("levels", err)
	if err != nil {
		c.log.Error().Err(err).Msg("levels fetch failed")
		levels = nil
	}
	categories, err := c.loader.FetchCategories(ctx)
	c.opts.Recorder.ObserveFetch("categories", err)
	if err != nil {
		c.log.Error().Err(err).Msg("categories fetch failed")
		categories = nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.catalog = NewCatalog(levels, categories)
	c.rebuildPanel()
	c.log.Debug().Int("levels", len(levels)).Int("categories", len(categories)).Msg("catalog loaded")
}

// Selection returns the current selection.
func (c *Controller) Selection() Selection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sel
}

// Panel returns the current category panel.
func (c *Controller) Panel() Panel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.panel
}

// Levels returns the floors in floor order.
func (c *Controller) Levels() []Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.catalog.Levels()
}

// POI looks up a loaded POI.
func (c *Controller) POI(fid string) (POI, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.catalog.POI(fid)
}

// Cache exposes the load cache for inspection.
func (c *Controller) Cache() *LoadCache { return c.cache }

// PopupOpen reports whether a POI popup is shown.
func (c *Controller) PopupOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.popupOpen
}

// SelectLevel selects a floor, or clears the floor filter when levelID is
// empty. An open popup stays open.
func (c *Controller) SelectLevel(ctx context.Context, levelID string) error {
	c.mu.Lock()
	if levelID == "" {
		c.sel.Level = nil
	} else {
		l, ok := c.catalog.Level(levelID)
		if !ok {
			c.mu.Unlock()
			c.log.Warn().Str("level", levelID).Msg("select of unknown level ignored")
			return fmt.Errorf("%w: %s", ErrUnknownLevel, levelID)
		}
		c.sel.Level = &l
	}
	c.mu.Unlock()

	c.log.Debug().Str("level", levelID).Msg("level selected")
	c.syncURL()
	c.Reconcile(ctx)
	return nil
}

// SelectCategory selects a category, or returns to the root listing when
// categoryID is empty. Any open popup is closed.
func (c *Controller) SelectCategory(ctx context.Context, categoryID string) error {
	c.mu.Lock()
	if categoryID == "" {
		c.sel.Category = nil
	} else {
		cat, ok := c.catalog.Category(categoryID)
		if !ok {
			c.mu.Unlock()
			c.log.Warn().Str("category", categoryID).Msg("select of unknown category ignored")
			return fmt.Errorf("%w: %s", ErrUnknownCategory, categoryID)
		}
		c.sel.Category = &cat
	}
	c.closePopup()
	c.mu.Unlock()

	c.log.Debug().Str("category", categoryID).Msg("category selected")
	c.Reconcile(ctx)

	c.mu.Lock()
	c.rebuildPanel()
	c.mu.Unlock()
	return nil
}

// Reset clears both floor and category selection.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	c.sel = Selection{}
	c.closePopup()
	c.rebuildPanel()
	c.mu.Unlock()

	c.syncURL()
	c.Reconcile(ctx)
	return nil
}

// SelectPOI switches to the POI's floor, then flies to it and opens its
// popup. A POI without coordinates changes the floor only.
func (c *Controller) SelectPOI(ctx context.Context, fid string) error {
	c.ensurePOIs(ctx)

	c.mu.Lock()
	poi, ok := c.catalog.POI(fid)
	if !ok {
		c.mu.Unlock()
		if c.cache.POIState() == Pending {
			c.log.Info().Str("fid", fid).Msg("select of poi ignored while poi dataset loads")
			return fmt.Errorf("%w: %s: %w", ErrUnknownPOI, fid, ErrPOIsLoading)
		}
		c.log.Warn().Str("fid", fid).Msg("select of unknown poi ignored")
		return fmt.Errorf("%w: %s", ErrUnknownPOI, fid)
	}
	if l, ok := c.catalog.Level(poi.LevelID); ok {
		c.sel.Level = &l
	} else {
		c.log.Warn().Str("fid", fid).Str("level", poi.LevelID).Msg("poi references unknown level")
	}
	c.mu.Unlock()

	c.syncURL()
	c.Reconcile(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !poi.Located() {
		c.log.Warn().Str("fid", fid).Str("name", poi.Name).Msg("poi has no geometry, not centering")
		return nil
	}
	if err := c.surface.FlyTo(Camera{Center: *poi.Coordinates, Zoom: c.opts.FocusZoom}); err != nil {
		c.log.Error().Err(err).Msg("fly to poi")
	}
	c.closePopup()
	html, err := c.opts.Popup(PopupContent{
		Name:        poi.Name,
		Floor:       c.catalog.LevelName(poi.LevelID),
		Space:       c.spaceAt(poi.LevelID, *poi.Coordinates),
		Description: poi.Description,
	})
	if err != nil {
		c.log.Error().Err(err).Str("fid", fid).Msg("render popup")
		return nil
	}
	if err := c.surface.OpenPopup(*poi.Coordinates, html); err != nil {
		c.log.Error().Err(err).Msg("open popup")
		return nil
	}
	c.popupOpen = true
	return nil
}

// Recenter flies back to the home view.
func (c *Controller) Recenter(ctx context.Context) error {
	if err := c.surface.FlyTo(c.opts.Home); err != nil {
		return fmt.Errorf("recenter: %w", err)
	}
	return nil
}

// Reconcile derives map state from the current selection: POI data loaded,
// only the selected floor overlay visible, POI filter applied.
func (c *Controller) Reconcile(ctx context.Context) {
	c.ensurePOIs(ctx)

	c.mu.Lock()
	c.hideOverlays()
	level := c.sel.Level
	c.mu.Unlock()

	if level != nil {
		c.ensureOverlay(ctx, *level)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.hideOverlays()
	if id := c.sel.LevelID(); id != "" && c.cache.LevelState(id) == Loaded {
		c.setOverlayVisibility(id, Visible)
	}

	filter := POIFilter(c.sel)
	if c.cache.POIState() == Loaded {
		if err := c.surface.SetFilter(POILayerID, filter); err != nil {
			c.log.Error().Err(err).Msg("set poi filter")
		}
		if err := c.surface.SetLayoutProperty(POILayerID, Visibility, Visible); err != nil {
			c.log.Error().Err(err).Msg("show poi layer")
		}
	}
	c.opts.Recorder.IncReconcile()
	c.log.Debug().Str("level", c.sel.LevelID()).Str("category", c.sel.CategoryID()).
		Interface("filter", filter).Msg("reconciled")
}

// ensurePOIs fetches the POI dataset once and registers its icons, source
// and layer.
func (c *Controller) ensurePOIs(ctx context.Context) {
	if !c.cache.Begin(poiKey) {
		return
	}
	ctx = context.WithoutCancel(ctx)

	fc, err := c.loader.FetchPOIs(ctx)
	c.opts.Recorder.ObserveFetch("pois", err)
	if err != nil {
		c.cache.Fail(poiKey)
		c.log.Error().Err(err).Msg("poi fetch failed")
		return
	}
	pois := DecodePOIs(fc)

	c.mu.Lock()
	catalog := c.catalog
	c.mu.Unlock()

	var icons []Category
	seen := map[string]bool{}
	for _, p := range pois {
		cat, ok := catalog.Category(p.CategoryID)
		if !ok {
			c.log.Warn().Str("fid", p.FID).Str("name", p.Name).Str("category", p.CategoryID).
				Msg("poi has unknown category")
			continue
		}
		if !seen[cat.ID] {
			seen[cat.ID] = true
			icons = append(icons, cat)
		}
	}
	for _, cat := range icons {
		c.ensureIcon(ctx, cat)
	}

	located := geojson.NewFeatureCollection()
	missing := 0
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		if _, ok := f.Geometry.(orb.Point); !ok {
			missing++
			c.log.Warn().Str("fid", PropString(f.Properties, "fid")).
				Str("name", PropString(f.Properties, "name")).Msg("poi has no geometry")
			continue
		}
		located.Append(f)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.catalog.setPOIs(pois)
	if err := c.surface.AddSource(POISourceID, located); err != nil && !errors.Is(err, ErrSourceExists) {
		c.cache.Fail(poiKey)
		c.log.Error().Err(err).Msg("add poi source")
		return
	}
	if err := c.surface.AddLayer(POILayer(), ""); err != nil && !errors.Is(err, ErrLayerExists) {
		c.cache.Fail(poiKey)
		c.log.Error().Err(err).Msg("add poi layer")
		return
	}
	c.surface.On("click", POILayerID, c.onPOIClick)
	c.cache.Complete(poiKey)
	c.rebuildPanel()
	c.log.Info().Int("pois", len(pois)).Int("missing_geometry", missing).Msg("pois loaded")
}

func (c *Controller) ensureIcon(ctx context.Context, cat Category) {
	if cat.IconURL == "" {
		c.log.Warn().Str("category", cat.ID).Msg("category has no icon")
		return
	}
	if !c.cache.Begin(imageKey(cat.ID)) {
		return
	}
	img, err := c.surface.LoadImage(ctx, cat.IconURL)
	c.opts.Recorder.ObserveFetch("icon", err)
	if err != nil {
		c.cache.Fail(imageKey(cat.ID))
		c.log.Warn().Err(err).Str("category", cat.ID).Str("url", cat.IconURL).Msg("icon load failed")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.surface.AddImage(IconImageID(cat.ID), img); err != nil && !errors.Is(err, ErrImageExists) {
		c.cache.Fail(imageKey(cat.ID))
		c.log.Warn().Err(err).Str("category", cat.ID).Msg("add icon image")
		return
	}
	c.cache.Complete(imageKey(cat.ID))
}

// ensureOverlay fetches a floor overlay once and inserts its two layers
// directly below the POI layer. Visibility follows the selection current
// when the fetch completes.
func (c *Controller) ensureOverlay(ctx context.Context, level Level) {
	key := levelKey(level.ID)
	if !c.cache.Begin(key) {
		return
	}
	ctx = context.WithoutCancel(ctx)

	fc, err := c.loader.FetchFloorOverlay(ctx, level)
	c.opts.Recorder.ObserveFetch("overlay", err)
	if err != nil {
		c.cache.Fail(key)
		c.log.Error().Err(err).Str("level", level.ID).Msg("floor overlay fetch failed")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.surface.AddSource(LevelSourceID(level.ID), fc); err != nil && !errors.Is(err, ErrSourceExists) {
		c.cache.Fail(key)
		c.log.Error().Err(err).Str("level", level.ID).Msg("add floor source")
		return
	}
	for _, l := range []Layer{GroundLayer(level.ID), ExtrusionLayer(level.ID)} {
		if err := c.surface.AddLayer(l, POILayerID); err != nil && !errors.Is(err, ErrLayerExists) {
			c.cache.Fail(key)
			c.log.Error().Err(err).Str("layer", l.ID).Msg("add floor layer")
			return
		}
	}
	c.overlays[level.ID] = fc
	c.cache.Complete(key)

	c.hideOverlays()
	if c.sel.LevelID() == level.ID {
		c.setOverlayVisibility(level.ID, Visible)
	}
	c.log.Debug().Str("level", level.ID).Int("features", len(fc.Features)).Msg("floor overlay loaded")
}

func (c *Controller) hideOverlays() {
	for _, id := range c.cache.LevelIDs(Loaded) {
		c.setOverlayVisibility(id, Hidden)
	}
}

func (c *Controller) setOverlayVisibility(levelID, vis string) {
	for _, layerID := range []string{LevelLayerID(levelID), LevelExtrusionLayerID(levelID)} {
		if err := c.surface.SetLayoutProperty(layerID, Visibility, vis); err != nil {
			c.log.Error().Err(err).Str("layer", layerID).Msg("set overlay visibility")
		}
	}
}

func (c *Controller) closePopup() {
	if !c.popupOpen {
		return
	}
	if err := c.surface.ClosePopup(); err != nil {
		c.log.Error().Err(err).Msg("close popup")
	}
	c.popupOpen = false
}

func (c *Controller) rebuildPanel() {
	panel, skipped := BuildPanel(c.catalog, c.sel.Category)
	for _, p := range skipped {
		c.log.Warn().Str("fid", p.FID).Str("name", p.Name).Msg("poi without geometry left out of listing")
	}
	c.panel = panel
}

func (c *Controller) syncURL() {
	h := c.opts.History
	if h == nil {
		return
	}
	if id := c.Selection().LevelID(); id != "" {
		h.SetParam(LevelParam, id)
	} else {
		h.DelParam(LevelParam)
	}
}

// spaceAt names the overlay space (shop, gate, ...) containing pt on a
// loaded floor, or "".
func (c *Controller) spaceAt(levelID string, pt orb.Point) string {
	fc := c.overlays[levelID]
	if fc == nil {
		return ""
	}
	for _, f := range fc.Features {
		typ := PropString(f.Properties, "type")
		if typ == "" || typ == "ground" {
			continue
		}
		inside := false
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			inside = planar.PolygonContains(g, pt)
		case orb.MultiPolygon:
			inside = planar.MultiPolygonContains(g, pt)
		}
		if !inside {
			continue
		}
		if name := PropString(f.Properties, "name"); name != "" {
			return name
		}
		return typ
	}
	return ""
}

func (c *Controller) onPOIClick(ev Event) {
	fid := PropString(ev.Properties, "fid")
	if fid == "" {
		return
	}
	_ = c.SelectPOI(context.Background(), fid)
}

type nopRecorder struct{}

func (nopRecorder) ObserveFetch(string, error) {}
func (nopRecorder) IncReconcile()              {}
