// Package service holds the state shared by all viewer sessions: the
// memoized catalog, the session registry and the basemap archives.
package service

// TileFile describes one PMTiles basemap archive.
type TileFile struct {
	Name        string     `json:"name" doc:"File name" example:"eap.pmtiles"`
	Size        string     `json:"size" doc:"Human-readable size" example:"12.3 MB"`
	Bytes       int64      `json:"bytes" doc:"Size in bytes"`
	TileType    string     `json:"tileType,omitempty" doc:"Tile format" example:"mvt"`
	Compression string     `json:"compression,omitempty" doc:"Tile compression" example:"gzip"`
	MinZoom     uint8      `json:"minZoom" doc:"Minimum zoom"`
	MaxZoom     uint8      `json:"maxZoom" doc:"Maximum zoom" example:"15"`
	Bounds      [4]float64 `json:"bounds" doc:"West, south, east, north"`
	Center      [3]float64 `json:"center" doc:"Longitude, latitude, zoom"`
	Error       string     `json:"error,omitempty" doc:"Why the header could not be read"`
}

// SessionEvent is a viewer session lifecycle change.
type SessionEvent struct {
	Type string `json:"type"` // "created", "closed", "expired"
	ID   string `json:"id"`
}
