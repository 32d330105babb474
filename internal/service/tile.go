package service

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/joeblew999/plat-wayfind/internal/pmtiles"
)

// TileService lists PMTiles basemap archives.
type TileService struct {
	tilesDir string
}

// NewTileService serves archives from dir (the web root's protomaps/).
func NewTileService(dir string) *TileService {
	return &TileService{tilesDir: dir}
}

// List returns all archives with their header metadata. An archive whose
// header cannot be read is still listed with Error set.
func (s *TileService) List() ([]TileFile, error) {
	entries, err := os.ReadDir(s.tilesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []TileFile{}, nil
		}
		return nil, err
	}

	files := []TileFile{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".pmtiles" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		tf := TileFile{Name: entry.Name(), Size: formatSize(info.Size()), Bytes: info.Size()}
		if err := s.describe(&tf); err != nil {
			tf.Error = err.Error()
		}
		files = append(files, tf)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Get describes a single archive.
func (s *TileService) Get(name string) (TileFile, error) {
	if name != filepath.Base(name) || filepath.Ext(name) != ".pmtiles" {
		return TileFile{}, fmt.Errorf("invalid archive name %q", name)
	}
	info, err := os.Stat(filepath.Join(s.tilesDir, name))
	if err != nil {
		return TileFile{}, err
	}
	tf := TileFile{Name: name, Size: formatSize(info.Size()), Bytes: info.Size()}
	if err := s.describe(&tf); err != nil {
		return TileFile{}, err
	}
	return tf, nil
}

func (s *TileService) describe(tf *TileFile) error {
	f, err := os.Open(filepath.Join(s.tilesDir, tf.Name))
	if err != nil {
		return err
	}
	defer f.Close()
	h, err := pmtiles.ReadHeader(f)
	if err != nil {
		return err
	}
	b, c := h.Bounds(), h.Center()
	tf.TileType = h.TileType.String()
	tf.Compression = h.TileCompression.String()
	tf.MinZoom, tf.MaxZoom = h.MinZoom, h.MaxZoom
	tf.Bounds = [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
	tf.Center = [3]float64{c[0], c[1], float64(h.CenterZoom)}
	return nil
}

// TilesDir returns the archive directory.
func (s *TileService) TilesDir() string {
	return s.tilesDir
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
