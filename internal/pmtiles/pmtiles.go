// Package pmtiles reads the header and metadata of PMTiles v3 basemap
// archives so the server can describe them without decoding tiles.
//
// Header layout: https://github.com/protomaps/PMTiles/blob/main/spec/v3/spec.md
package pmtiles

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/paulmach/orb"
)

// Compression is the compression algorithm applied to tiles or directories.
type Compression uint8

const (
	UnknownCompression Compression = 0
	NoCompression      Compression = 1
	Gzip               Compression = 2
	Brotli             Compression = 3
	Zstd               Compression = 4
)

func (c Compression) String() string {
	switch c {
	case NoCompression:
		return "none"
	case Gzip:
		return "gzip"
	case Brotli:
		return "brotli"
	case Zstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// TileType is the format of individual tile contents.
type TileType uint8

const (
	UnknownTileType TileType = 0
	Mvt             TileType = 1
	Png             TileType = 2
	Jpeg            TileType = 3
	Webp            TileType = 4
	Avif            TileType = 5
)

func (t TileType) String() string {
	switch t {
	case Mvt:
		return "mvt"
	case Png:
		return "png"
	case Jpeg:
		return "jpeg"
	case Webp:
		return "webp"
	case Avif:
		return "avif"
	default:
		return "unknown"
	}
}

// HeaderV3LenBytes is the fixed-size binary header.
const HeaderV3LenBytes = 127

// ErrNotPMTiles is returned when the magic number is missing.
var ErrNotPMTiles = errors.New("pmtiles: magic number not detected")

// HeaderV3 is the binary header of a PMTiles v3 archive.
type HeaderV3 struct {
	SpecVersion         uint8
	RootOffset          uint64
	RootLength          uint64
	MetadataOffset      uint64
	MetadataLength      uint64
	LeafDirectoryOffset uint64
	LeafDirectoryLength uint64
	TileDataOffset      uint64
	TileDataLength      uint64
	AddressedTilesCount uint64
	TileEntriesCount    uint64
	TileContentsCount   uint64
	Clustered           bool
	InternalCompression Compression
	TileCompression     Compression
	TileType            TileType
	MinZoom             uint8
	MaxZoom             uint8
	MinLonE7            int32
	MinLatE7            int32
	MaxLonE7            int32
	MaxLatE7            int32
	CenterZoom          uint8
	CenterLonE7         int32
	CenterLatE7         int32
}

// Bounds returns the archive extent.
func (h HeaderV3) Bounds() orb.Bound {
	return orb.Bound{
		Min: orb.Point{e7(h.MinLonE7), e7(h.MinLatE7)},
		Max: orb.Point{e7(h.MaxLonE7), e7(h.MaxLatE7)},
	}
}

// Center returns the suggested initial view position.
func (h HeaderV3) Center() orb.Point {
	return orb.Point{e7(h.CenterLonE7), e7(h.CenterLatE7)}
}

func e7(v int32) float64 { return float64(v) / 1e7 }

func toE7(v float64) int32 {
	if v < 0 {
		return int32(v*1e7 - 0.5)
	}
	return int32(v*1e7 + 0.5)
}

// SetBounds stores b and its center.
func (h *HeaderV3) SetBounds(b orb.Bound, centerZoom uint8) {
	h.MinLonE7, h.MinLatE7 = toE7(b.Min[0]), toE7(b.Min[1])
	h.MaxLonE7, h.MaxLatE7 = toE7(b.Max[0]), toE7(b.Max[1])
	c := b.Center()
	h.CenterLonE7, h.CenterLatE7 = toE7(c[0]), toE7(c[1])
	h.CenterZoom = centerZoom
}

// SerializeHeader converts a header to bytes.
func SerializeHeader(h HeaderV3) []byte {
	b := make([]byte, HeaderV3LenBytes)
	copy(b[0:7], "PMTiles")
	b[7] = 3
	le := binary.LittleEndian
	for i, v := range []uint64{
		h.RootOffset, h.RootLength, h.MetadataOffset, h.MetadataLength,
		h.LeafDirectoryOffset, h.LeafDirectoryLength, h.TileDataOffset, h.TileDataLength,
		h.AddressedTilesCount, h.TileEntriesCount, h.TileContentsCount,
	} {
		le.PutUint64(b[8+8*i:], v)
	}
	if h.Clustered {
		b[96] = 0x1
	}
	b[97] = uint8(h.InternalCompression)
	b[98] = uint8(h.TileCompression)
	b[99] = uint8(h.TileType)
	b[100] = h.MinZoom
	b[101] = h.MaxZoom
	le.PutUint32(b[102:], uint32(h.MinLonE7))
	le.PutUint32(b[106:], uint32(h.MinLatE7))
	le.PutUint32(b[110:], uint32(h.MaxLonE7))
	le.PutUint32(b[114:], uint32(h.MaxLatE7))
	b[118] = h.CenterZoom
	le.PutUint32(b[119:], uint32(h.CenterLonE7))
	le.PutUint32(b[123:], uint32(h.CenterLatE7))
	return b
}

// DeserializeHeader parses a binary header.
func DeserializeHeader(d []byte) (HeaderV3, error) {
	var h HeaderV3
	if len(d) < HeaderV3LenBytes {
		return h, errors.New("pmtiles: buffer too small for header")
	}
	if string(d[0:7]) != "PMTiles" {
		return h, ErrNotPMTiles
	}
	le := binary.LittleEndian
	h.SpecVersion = d[7]
	h.RootOffset = le.Uint64(d[8:])
	h.RootLength = le.Uint64(d[16:])
	h.MetadataOffset = le.Uint64(d[24:])
	h.MetadataLength = le.Uint64(d[32:])
	h.LeafDirectoryOffset = le.Uint64(d[40:])
	h.LeafDirectoryLength = le.Uint64(d[48:])
	h.TileDataOffset = le.Uint64(d[56:])
	h.TileDataLength = le.Uint64(d[64:])
	h.AddressedTilesCount = le.Uint64(d[72:])
	h.TileEntriesCount = le.Uint64(d[80:])
	h.TileContentsCount = le.Uint64(d[88:])
	h.Clustered = d[96] == 0x1
	h.InternalCompression = Compression(d[97])
	h.TileCompression = Compression(d[98])
	h.TileType = TileType(d[99])
	h.MinZoom = d[100]
	h.MaxZoom = d[101]
	h.MinLonE7 = int32(le.Uint32(d[102:]))
	h.MinLatE7 = int32(le.Uint32(d[106:]))
	h.MaxLonE7 = int32(le.Uint32(d[110:]))
	h.MaxLatE7 = int32(le.Uint32(d[114:]))
	h.CenterZoom = d[118]
	h.CenterLonE7 = int32(le.Uint32(d[119:]))
	h.CenterLatE7 = int32(le.Uint32(d[123:]))
	if h.SpecVersion != 3 {
		return h, fmt.Errorf("pmtiles: unsupported spec version %d", h.SpecVersion)
	}
	return h, nil
}

// ReadHeader reads the header at the start of an archive.
func ReadHeader(r io.ReaderAt) (HeaderV3, error) {
	buf := make([]byte, HeaderV3LenBytes)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return HeaderV3{}, fmt.Errorf("pmtiles: read header: %w", err)
	}
	return DeserializeHeader(buf)
}

// maxMetadata caps the metadata section read into memory.
const maxMetadata = 16 << 20

// ReadMetadata reads and decodes the JSON metadata section.
func ReadMetadata(r io.ReaderAt, h HeaderV3) (map[string]any, error) {
	if h.MetadataLength == 0 {
		return map[string]any{}, nil
	}
	if h.MetadataLength > maxMetadata {
		return nil, fmt.Errorf("pmtiles: metadata too large (%d bytes)", h.MetadataLength)
	}
	raw := make([]byte, h.MetadataLength)
	if _, err := r.ReadAt(raw, int64(h.MetadataOffset)); err != nil {
		return nil, fmt.Errorf("pmtiles: read metadata: %w", err)
	}
	var rd io.Reader = bytes.NewReader(raw)
	switch h.InternalCompression {
	case NoCompression:
	case Gzip:
		zr, err := gzip.NewReader(rd)
		if err != nil {
			return nil, fmt.Errorf("pmtiles: metadata: %w", err)
		}
		defer zr.Close()
		rd = zr
	default:
		return nil, fmt.Errorf("pmtiles: metadata compression %s not supported", h.InternalCompression)
	}
	var md map[string]any
	if err := json.NewDecoder(rd).Decode(&md); err != nil {
		return nil, fmt.Errorf("pmtiles: decode metadata: %w", err)
	}
	return md, nil
}
