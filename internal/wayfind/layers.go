package wayfind

// Layer is a MapLibre style layer definition.
type Layer struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Source string         `json:"source,omitempty"`
	Paint  map[string]any `json:"paint,omitempty"`
	Layout map[string]any `json:"layout,omitempty"`
	Filter Expr           `json:"filter,omitempty"`
}

// Map object ids. Everything the controller registers is prefixed with
// CustomPrefix so a style swap can carry it over.
const (
	CustomPrefix = "eap-"
	POISourceID  = "eap-source-poi"
	POILayerID   = "eap-layer-poi"

	Visibility = "visibility"
	Visible    = "visible"
	Hidden     = "none"
)

// LevelSourceID is the GeoJSON source holding a floor overlay.
func LevelSourceID(levelID string) string { return "eap-source-level" + levelID }

// LevelLayerID is the ground fill layer of a floor overlay.
func LevelLayerID(levelID string) string { return "eap-layer-level" + levelID }

// LevelExtrusionLayerID is the extruded volumes layer of a floor overlay.
func LevelExtrusionLayerID(levelID string) string { return LevelLayerID(levelID) + "-extrusion" }

// IconImageID is the map image registered for a category icon.
func IconImageID(categoryID string) string { return CustomPrefix + categoryID }

// SpaceStyle is the extrusion look of one overlay feature type.
type SpaceStyle struct {
	Color  string
	Height float64
}

// ExtrudedTypes lists the overlay feature types drawn as volumes, in
// match-expression order.
var ExtrudedTypes = []string{"building", "shop", "bar", "belt", "check", "gate", "toilets", "stairs"}

// SpaceStyles maps overlay feature types to their extrusion look.
var SpaceStyles = map[string]SpaceStyle{
	"building": {"#ccc", 4},
	"shop":     {"#d8256e", 4},
	"bar":      {"#2535f4", 4},
	"belt":     {"#555", 1},
	"check":    {"#555", 2},
	"gate":     {"#050", 2},
	"toilets":  {"#ffc000", 4},
	"stairs":   {"#111", 2},
}

// DefaultSpaceStyle applies to feature types missing from SpaceStyles.
var DefaultSpaceStyle = SpaceStyle{Color: "#ccc", Height: 0}

// StyleFor returns the extrusion look of a feature type.
func StyleFor(featureType string) SpaceStyle {
	if s, ok := SpaceStyles[featureType]; ok {
		return s
	}
	return DefaultSpaceStyle
}

// GroundLayer draws the floor footprint, colored by the feature's own color
// property when present.
func GroundLayer(levelID string) Layer {
	return Layer{
		ID:     LevelLayerID(levelID),
		Type:   "fill",
		Source: LevelSourceID(levelID),
		Paint: map[string]any{
			"fill-outline-color": "black",
			"fill-color":         Expr{"coalesce", Expr{"get", "color"}, "#aaaaaa"},
			"fill-opacity":       0.7,
		},
		Filter: Eq("type", "ground"),
	}
}

// ExtrusionLayer draws the floor's shops, gates and other spaces as volumes.
func ExtrusionLayer(levelID string) Layer {
	color := Expr{"match", Expr{"get", "type"}}
	height := Expr{"match", Expr{"get", "type"}}
	types := make([]any, 0, len(ExtrudedTypes))
	for _, t := range ExtrudedTypes {
		s := SpaceStyles[t]
		color = append(color, t, s.Color)
		height = append(height, t, s.Height)
		types = append(types, t)
	}
	color = append(color, DefaultSpaceStyle.Color)
	height = append(height, DefaultSpaceStyle.Height)

	return Layer{
		ID:     LevelExtrusionLayerID(levelID),
		Type:   "fill-extrusion",
		Source: LevelSourceID(levelID),
		Paint: map[string]any{
			"fill-extrusion-color":   color,
			"fill-extrusion-height":  height,
			"fill-extrusion-base":    0,
			"fill-extrusion-opacity": 0.8,
		},
		Filter: Expr{"in", Expr{"get", "type"}, Expr{"literal", types}},
	}
}

// POILayer draws POIs with their category icon.
func POILayer() Layer {
	return Layer{
		ID:     POILayerID,
		Type:   "symbol",
		Source: POISourceID,
		Layout: map[string]any{
			"icon-image":         Expr{"concat", CustomPrefix, Expr{"get", "category"}},
			"icon-size":          0.5,
			"icon-allow-overlap": true,
			Visibility:           Visible,
		},
	}
}
