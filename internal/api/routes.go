// Package api defines the Huma API routes and handlers.
package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-wayfind/internal/humastar"
	"github.com/joeblew999/plat-wayfind/internal/index"
	"github.com/joeblew999/plat-wayfind/internal/service"
	"github.com/joeblew999/plat-wayfind/internal/style"
	"github.com/joeblew999/plat-wayfind/internal/wayfind"
)

// Version is reported by /health and /api/v1/info.
const Version = "0.1.0"

// Searcher is the POI index.
type Searcher interface {
	Search(ctx context.Context, q index.Query) ([]index.Hit, error)
	Tables(ctx context.Context) ([]string, error)
	ReadQuery(ctx context.Context, query string) (index.Result, error)
}

// IndexLoader rebuilds the search index. *index.Index implements it.
type IndexLoader interface {
	Load(ctx context.Context, cat *wayfind.Catalog, pois []wayfind.POI) error
}

// Services holds the service dependencies for API handlers.
type Services struct {
	Catalog *service.CatalogService
	Tiles   *service.TileService
	Index   Searcher
	Style   style.Options
}

// Types

type IDInput struct {
	ID string `path:"id" doc:"Level or category id" example:"L1"`
}

type FIDInput struct {
	FID string `path:"fid" doc:"POI feature id" example:"42"`
}

type POIFilterInput struct {
	Level    string `query:"level" doc:"Only POIs on this floor" example:"L1"`
	Category string `query:"category" doc:"Only POIs in this category" example:"shop"`
	Offset   int    `query:"offset" minimum:"0" default:"0" doc:"Items to skip"`
	Limit    int    `query:"limit" minimum:"1" maximum:"1000" default:"100" doc:"Page size"`
}

type SearchInput struct {
	Q        string `query:"q" doc:"Case-insensitive name substring" example:"duty"`
	Level    string `query:"level" doc:"Only POIs on this floor"`
	Category string `query:"category" doc:"Only POIs in this category"`
	Limit    int    `query:"limit" minimum:"0" maximum:"500" default:"50" doc:"Maximum hits"`
}

type StyleInput struct {
	Theme string `query:"theme" enum:"dark,light" default:"dark" doc:"Basemap theme"`
}

// ReloadBody reports the catalog after a reload.
type ReloadBody struct {
	Levels     int  `json:"levels" doc:"Floors in the catalog"`
	Categories int  `json:"categories" doc:"Categories in the catalog"`
	POIs       int  `json:"pois" doc:"Points of interest in the catalog"`
	Indexed    bool `json:"indexed" doc:"Whether the search index was rebuilt"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"0.1.0"`
}

// LevelDetail is a floor with its POI count.
type LevelDetail struct {
	wayfind.Level
	POIs int `json:"pois" doc:"Number of POIs on this floor"`
}

// CategoryDetail is a category with the side panel it opens.
type CategoryDetail struct {
	wayfind.Category
	Panel wayfind.Panel `json:"panel" doc:"Child categories and POIs grouped by floor"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterCatalog registers the read-only catalog routes.
func (h *APIHandler) RegisterCatalog(api huma.API) {
	huma.Get(api, "/api/v1/levels", h.GetLevels, huma.OperationTags("catalog"))
	huma.Get(api, "/api/v1/levels/{id}", h.GetLevel, huma.OperationTags("catalog"))
	huma.Get(api, "/api/v1/levels/{id}/overlay", h.GetOverlay, huma.OperationTags("catalog"))
	huma.Get(api, "/api/v1/categories", h.GetCategories, huma.OperationTags("catalog"))
	huma.Get(api, "/api/v1/categories/{id}", h.GetCategory, huma.OperationTags("catalog"))
	huma.Get(api, "/api/v1/pois", h.GetPOIs, huma.OperationTags("catalog"))
	huma.Get(api, "/api/v1/pois/search", h.SearchPOIs, huma.OperationTags("catalog"))
	huma.Get(api, "/api/v1/pois/{fid}", h.GetPOI, huma.OperationTags("catalog"))
}

// RegisterReload registers the catalog reload route.
func (h *APIHandler) RegisterReload(api huma.API) {
	huma.Post(api, "/api/v1/catalog/reload", h.ReloadCatalog, huma.OperationTags("catalog"))
}

// RegisterMap registers basemap routes.
func (h *APIHandler) RegisterMap(api huma.API) {
	huma.Get(api, "/api/v1/style", h.GetStyle, huma.OperationTags("map"))
	huma.Get(api, "/api/v1/basemaps", h.GetBasemaps, huma.OperationTags("map"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version}}, nil
}

func (h *APIHandler) catalog(ctx context.Context) (*wayfind.Catalog, error) {
	if h.svc == nil || h.svc.Catalog == nil {
		return nil, huma.Error503ServiceUnavailable("catalog not available")
	}
	cat, _, err := h.svc.Catalog.Catalog(ctx)
	if err != nil {
		return nil, huma.Error502BadGateway("catalog fetch failed", err)
	}
	return cat, nil
}

func (h *APIHandler) GetLevels(ctx context.Context, input *struct{}) (*struct{ Body []LevelDetail }, error) {
	cat, err := h.catalog(ctx)
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for _, p := range cat.POIs() {
		counts[p.LevelID]++
	}
	out := []LevelDetail{}
	for _, l := range cat.Levels() {
		out = append(out, LevelDetail{Level: l, POIs: counts[l.ID]})
	}
	return &struct{ Body []LevelDetail }{Body: out}, nil
}

func (h *APIHandler) GetLevel(ctx context.Context, input *IDInput) (*struct{ Body LevelDetail }, error) {
	cat, err := h.catalog(ctx)
	if err != nil {
		return nil, err
	}
	l, ok := cat.Level(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("level not found")
	}
	n := 0
	for _, p := range cat.POIs() {
		if p.LevelID == l.ID {
			n++
		}
	}
	return &struct{ Body LevelDetail }{Body: LevelDetail{Level: l, POIs: n}}, nil
}

// GetOverlay returns the floor's GeoJSON as fetched by the viewer.
func (h *APIHandler) GetOverlay(ctx context.Context, input *IDInput) (*struct {
	ContentType string `header:"Content-Type"`
	Body        *geojson.FeatureCollection
}, error) {
	cat, err := h.catalog(ctx)
	if err != nil {
		return nil, err
	}
	l, ok := cat.Level(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("level not found")
	}
	fc, err := h.svc.Catalog.FetchFloorOverlay(ctx, l)
	if wayfind.IsNotFound(err) {
		return nil, huma.Error404NotFound("floor overlay not found", err)
	}
	if err != nil {
		return nil, huma.Error502BadGateway("floor overlay fetch failed", err)
	}
	return &struct {
		ContentType string `header:"Content-Type"`
		Body        *geojson.FeatureCollection
	}{ContentType: "application/geo+json", Body: fc}, nil
}

func (h *APIHandler) GetCategories(ctx context.Context, input *struct{}) (*struct{ Body []wayfind.Category }, error) {
	cat, err := h.catalog(ctx)
	if err != nil {
		return nil, err
	}
	return &struct{ Body []wayfind.Category }{Body: cat.Categories()}, nil
}

func (h *APIHandler) GetCategory(ctx context.Context, input *IDInput) (*struct{ Body CategoryDetail }, error) {
	cat, err := h.catalog(ctx)
	if err != nil {
		return nil, err
	}
	c, ok := cat.Category(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("category not found")
	}
	panel, _ := wayfind.BuildPanel(cat, &c)
	return &struct{ Body CategoryDetail }{Body: CategoryDetail{Category: c, Panel: panel}}, nil
}

// GetPOIs lists POIs matching the filters, a page at a time.
func (h *APIHandler) GetPOIs(ctx context.Context, input *POIFilterInput) (*struct {
	Body humastar.PageBody[wayfind.POI]
}, error) {
	cat, err := h.catalog(ctx)
	if err != nil {
		return nil, err
	}
	out := []wayfind.POI{}
	for _, p := range cat.POIs() {
		if input.Level != "" && p.LevelID != input.Level {
			continue
		}
		if input.Category != "" && p.CategoryID != input.Category {
			continue
		}
		out = append(out, p)
	}
	return &struct {
		Body humastar.PageBody[wayfind.POI]
	}{Body: humastar.Paginate(out, input.Offset, input.Limit)}, nil
}

func (h *APIHandler) GetPOI(ctx context.Context, input *FIDInput) (*struct{ Body wayfind.POI }, error) {
	cat, err := h.catalog(ctx)
	if err != nil {
		return nil, err
	}
	p, ok := cat.POI(input.FID)
	if !ok {
		return nil, huma.Error404NotFound("poi not found")
	}
	return &struct{ Body wayfind.POI }{Body: p}, nil
}

func (h *APIHandler) SearchPOIs(ctx context.Context, input *SearchInput) (*struct{ Body []index.Hit }, error) {
	if h.svc == nil || h.svc.Index == nil {
		return nil, huma.Error503ServiceUnavailable("search index not available")
	}
	hits, err := h.svc.Index.Search(ctx, index.Query{
		Text: input.Q, Level: input.Level, Category: input.Category, Limit: input.Limit,
	})
	if err != nil {
		return nil, huma.Error500InternalServerError("search failed", err)
	}
	return &struct{ Body []index.Hit }{Body: hits}, nil
}

// ReloadCatalog drops the memoized catalog, fetches it again and rebuilds
// the search index. Open viewer sessions keep the catalog they started with.
func (h *APIHandler) ReloadCatalog(ctx context.Context, input *struct{}) (*struct{ Body ReloadBody }, error) {
	if h.svc == nil || h.svc.Catalog == nil {
		return nil, huma.Error503ServiceUnavailable("catalog not available")
	}
	h.svc.Catalog.Invalidate()
	cat, pois, err := h.svc.Catalog.Catalog(ctx)
	if err != nil {
		return nil, huma.Error502BadGateway("catalog fetch failed", err)
	}
	body := ReloadBody{Levels: len(cat.Levels()), Categories: len(cat.Categories()), POIs: len(pois)}
	if l, ok := h.svc.Index.(IndexLoader); ok {
		if err := l.Load(ctx, cat, pois); err != nil {
			return nil, huma.Error500InternalServerError("reindex failed", err)
		}
		body.Indexed = true
	}
	return &struct{ Body ReloadBody }{Body: body}, nil
}

func (h *APIHandler) GetStyle(ctx context.Context, input *StyleInput) (*struct{ Body style.Style }, error) {
	theme, err := style.ParseTheme(input.Theme)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	opts := style.DefaultOptions()
	if h.svc != nil {
		opts = h.svc.Style
	}
	return &struct{ Body style.Style }{Body: style.Build(theme, opts)}, nil
}

func (h *APIHandler) GetBasemaps(ctx context.Context, input *struct{}) (*struct{ Body []service.TileFile }, error) {
	if h.svc == nil || h.svc.Tiles == nil {
		return &struct{ Body []service.TileFile }{Body: []service.TileFile{}}, nil
	}
	tiles, err := h.svc.Tiles.List()
	if err != nil {
		return nil, huma.Error500InternalServerError("list basemaps", err)
	}
	return &struct{ Body []service.TileFile }{Body: tiles}, nil
}

// RegisterRoutes registers every REST route on api.
func RegisterRoutes(api huma.API, svc *Services) {
	huma.AutoRegister(api, NewAPIHandler(svc))
	huma.AutoRegister(api, NewInfoHandler(svc))
	if svc != nil && svc.Index != nil {
		huma.AutoRegister(api, NewDBHandler(svc.Index))
	}
}
