package style

type palette struct {
	background string
	earth      string
	water      string
	park       string
	urban      string
	road       string
	roadMajor  string
	runway     string
	building   string
	label      string
	halo       string
}

var palettes = map[Theme]palette{
	Dark: {
		background: "#2b2b2b",
		earth:      "#141414",
		water:      "#333333",
		park:       "#1c2b1c",
		urban:      "#1f1f1f",
		road:       "#3d3d3d",
		roadMajor:  "#5c5c5c",
		runway:     "#404040",
		building:   "#0a0a0a",
		label:      "#a6a6a6",
		halo:       "#141414",
	},
	Light: {
		background: "#cccccc",
		earth:      "#e2dfda",
		water:      "#80deea",
		park:       "#cfddd5",
		urban:      "#e4e4e4",
		road:       "#ffffff",
		roadMajor:  "#fbe6b2",
		runway:     "#d4d4d4",
		building:   "#cccccc",
		label:      "#5c5c5c",
		halo:       "#ffffff",
	},
}

func paletteFor(t Theme) palette {
	if p, ok := palettes[t]; ok {
		return p
	}
	return palettes[Dark]
}

func basemapLayers(p palette) []Layer {
	src := BasemapSourceID
	return []Layer{
		{ID: "background", Type: "background", Paint: map[string]any{"background-color": p.background}},
		{ID: "earth", Type: "fill", Source: src, SourceLayer: "earth",
			Paint: map[string]any{"fill-color": p.earth}},
		{ID: "landuse_park", Type: "fill", Source: src, SourceLayer: "landuse",
			Filter: []any{"in", "pmap:kind", "park", "forest", "grass", "meadow"},
			Paint:  map[string]any{"fill-color": p.park}},
		{ID: "landuse_urban", Type: "fill", Source: src, SourceLayer: "landuse",
			Filter: []any{"in", "pmap:kind", "aerodrome", "industrial", "residential"},
			Paint:  map[string]any{"fill-color": p.urban}},
		{ID: "water", Type: "fill", Source: src, SourceLayer: "water",
			Paint: map[string]any{"fill-color": p.water}},
		{ID: "roads_runway", Type: "line", Source: src, SourceLayer: "roads",
			Filter: []any{"==", "kind_detail", "runway"},
			Paint:  map[string]any{"line-color": p.runway, "line-width": 12}},
		{ID: "roads_minor", Type: "line", Source: src, SourceLayer: "roads",
			Filter: []any{"in", "pmap:kind", "minor_road", "other", "path"},
			Paint:  map[string]any{"line-color": p.road, "line-width": 1}},
		{ID: "roads_major", Type: "line", Source: src, SourceLayer: "roads",
			Filter: []any{"in", "pmap:kind", "major_road", "highway", "medium_road"},
			Paint:  map[string]any{"line-color": p.roadMajor, "line-width": 2}},
		{ID: "buildings", Type: "fill", Source: src, SourceLayer: "buildings", MinZoom: 13,
			Paint: map[string]any{"fill-color": p.building, "fill-opacity": 0.5}},
		{ID: "places_locality", Type: "symbol", Source: src, SourceLayer: "places",
			Filter: []any{"==", "pmap:kind", "locality"},
			Layout: map[string]any{"text-field": []any{"get", "name"}, "text-font": []any{"Noto Sans Regular"}, "text-size": 12},
			Paint:  map[string]any{"text-color": p.label, "text-halo-color": p.halo, "text-halo-width": 1}},
	}
}
