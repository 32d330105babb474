// Package wayfind reconciles floor and category selection into map layer
// visibility, a POI filter expression and on-demand floor overlays.
//
// The Controller owns the selection, the catalog and the load cache. It talks
// to the outside world through two collaborators: a MapSurface that receives
// source/layer/filter mutations and a CatalogLoader that fetches the catalog
// and per-floor GeoJSON.
package wayfind

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/paulmach/orb"
)

// Level is one building floor.
type Level struct {
	ID         string `json:"id" doc:"Level identifier" example:"L1"`
	Name       string `json:"name" doc:"Display name" example:"Level 1"`
	GeoJSONURL string `json:"geojson,omitempty" doc:"URL of the floor overlay GeoJSON" example:"json/eap-level-1.geojson"`
}

// UnmarshalJSON accepts numeric ids as well as strings.
func (l *Level) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID      flexID `json:"id"`
		Name    string `json:"name"`
		GeoJSON string `json:"geojson"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*l = Level{ID: string(raw.ID), Name: raw.Name, GeoJSONURL: raw.GeoJSON}
	return nil
}

// Category is a node of the POI category tree. Root categories have an empty
// ParentID.
type Category struct {
	ID       string `json:"id" doc:"Category identifier" example:"shop"`
	Name     string `json:"name" doc:"Display name" example:"Shops"`
	IconURL  string `json:"icon,omitempty" doc:"Icon image URL" example:"icons/shop.png"`
	ParentID string `json:"parent,omitempty" doc:"Parent category id, empty for roots"`
}

// UnmarshalJSON accepts numeric ids and a null parent.
func (c *Category) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID     flexID `json:"id"`
		Name   string `json:"name"`
		Icon   string `json:"icon"`
		Parent flexID `json:"parent"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Category{ID: string(raw.ID), Name: raw.Name, IconURL: raw.Icon, ParentID: string(raw.Parent)}
	return nil
}

// IsRoot reports whether the category has no parent.
func (c Category) IsRoot() bool { return c.ParentID == "" }

// POI is a point of interest. Coordinates is nil when the source feature had
// no usable point geometry.
type POI struct {
	FID         string     `json:"fid"`
	Name        string     `json:"name"`
	LevelID     string     `json:"level"`
	CategoryID  string     `json:"category"`
	Coordinates *orb.Point `json:"coordinates,omitempty"`
	Description string     `json:"description,omitempty"`
}

// Located reports whether the POI can be placed on the map.
func (p POI) Located() bool { return p.Coordinates != nil }

// Selection is the user's current floor and category choice. Nil means no
// filter on that axis.
type Selection struct {
	Level    *Level
	Category *Category
}

// LevelID returns the selected level id or "".
func (s Selection) LevelID() string {
	if s.Level == nil {
		return ""
	}
	return s.Level.ID
}

// CategoryID returns the selected category id or "".
func (s Selection) CategoryID() string {
	if s.Category == nil {
		return ""
	}
	return s.Category.ID
}

// flexID decodes a JSON string, number or null into a string.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

// PropString reads a GeoJSON property as a string. Numbers are formatted
// without a trailing ".0" so numeric fids and level ids compare equal to
// their string form.
func PropString(props map[string]any, key string) string {
	v, ok := props[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
