package api

import (
	"context"
	"runtime"

	"github.com/danielgtaylor/huma/v2"
)

type InfoHandler struct {
	svc *Services
}

func NewInfoHandler(svc *Services) *InfoHandler {
	return &InfoHandler{svc: svc}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name       string   `json:"name" doc:"Service name"`
	Version    string   `json:"version" doc:"Service version"`
	GoVersion  string   `json:"go_version" doc:"Go runtime version"`
	Levels     int      `json:"levels" doc:"Floors in the catalog"`
	Categories int      `json:"categories" doc:"Categories in the catalog"`
	POIs       int      `json:"pois" doc:"Points of interest in the catalog"`
	Search     bool     `json:"search" doc:"Whether the DuckDB search index is available"`
	Features   []string `json:"features" doc:"Available features"`
}

// GetInfo reports the catalog size. A catalog that cannot be fetched reports
// zero counts rather than failing.
func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	body := InfoBody{
		Name:      "plat-wayfind",
		Version:   Version,
		GoVersion: runtime.Version(),
		Features:  []string{"levels", "categories", "pois", "pmtiles", "datastar-viewer"},
	}
	if h.svc != nil && h.svc.Catalog != nil {
		if cat, pois, err := h.svc.Catalog.Catalog(ctx); err == nil {
			body.Levels = len(cat.Levels())
			body.Categories = len(cat.Categories())
			body.POIs = len(pois)
		}
	}
	if h.svc != nil && h.svc.Index != nil {
		body.Search = true
		body.Features = append(body.Features, "search", "duckdb")
	}
	return &struct{ Body InfoBody }{Body: body}, nil
}
