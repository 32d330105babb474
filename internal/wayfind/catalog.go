package wayfind

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Catalog is the immutable set of levels, categories and POIs of one map
// session. POIs arrive later than levels and categories.
type Catalog struct {
	levels     []Level
	categories []Category
	pois       []POI

	levelIdx    map[string]int
	categoryIdx map[string]int
	poiIdx      map[string]int
}

// NewCatalog indexes levels and categories. Level order is floor order.
func NewCatalog(levels []Level, categories []Category) *Catalog {
	c := &Catalog{
		levels:      levels,
		categories:  categories,
		levelIdx:    make(map[string]int, len(levels)),
		categoryIdx: make(map[string]int, len(categories)),
		poiIdx:      map[string]int{},
	}
	for i, l := range levels {
		if _, dup := c.levelIdx[l.ID]; !dup {
			c.levelIdx[l.ID] = i
		}
	}
	for i, cat := range categories {
		if _, dup := c.categoryIdx[cat.ID]; !dup {
			c.categoryIdx[cat.ID] = i
		}
	}
	return c
}

func (c *Catalog) setPOIs(pois []POI) {
	c.pois = pois
	c.poiIdx = make(map[string]int, len(pois))
	for i, p := range pois {
		if _, dup := c.poiIdx[p.FID]; !dup {
			c.poiIdx[p.FID] = i
		}
	}
}

// WithPOIs returns a copy of the catalog holding pois.
func (c *Catalog) WithPOIs(pois []POI) *Catalog {
	cp := *c
	cp.setPOIs(pois)
	return &cp
}

// Levels returns the floors in floor order.
func (c *Catalog) Levels() []Level { return append([]Level(nil), c.levels...) }

// Categories returns every category.
func (c *Catalog) Categories() []Category { return append([]Category(nil), c.categories...) }

// POIs returns every decoded POI, located or not.
func (c *Catalog) POIs() []POI { return append([]POI(nil), c.pois...) }

// Level looks up a floor.
func (c *Catalog) Level(id string) (Level, bool) {
	i, ok := c.levelIdx[id]
	if !ok {
		return Level{}, false
	}
	return c.levels[i], true
}

// Category looks up a category.
func (c *Catalog) Category(id string) (Category, bool) {
	i, ok := c.categoryIdx[id]
	if !ok {
		return Category{}, false
	}
	return c.categories[i], true
}

// POI looks up a POI by fid.
func (c *Catalog) POI(fid string) (POI, bool) {
	i, ok := c.poiIdx[fid]
	if !ok {
		return POI{}, false
	}
	return c.pois[i], true
}

// LevelOrder returns the floor position of a level, or -1.
func (c *Catalog) LevelOrder(id string) int {
	if i, ok := c.levelIdx[id]; ok {
		return i
	}
	return -1
}

// LevelName returns the floor name, falling back to the raw id.
func (c *Catalog) LevelName(id string) string {
	if l, ok := c.Level(id); ok && l.Name != "" {
		return l.Name
	}
	return id
}

// Roots returns the categories without a parent.
func (c *Catalog) Roots() []Category {
	var out []Category
	for _, cat := range c.categories {
		if cat.IsRoot() {
			out = append(out, cat)
		}
	}
	return out
}

// Children returns the direct sub-categories of id.
func (c *Catalog) Children(id string) []Category {
	var out []Category
	for _, cat := range c.categories {
		if cat.ParentID == id && id != "" {
			out = append(out, cat)
		}
	}
	return out
}

// DecodePOIs converts a GeoJSON feature collection into POIs. Features
// without a point geometry are kept with nil Coordinates.
func DecodePOIs(fc *geojson.FeatureCollection) []POI {
	if fc == nil {
		return nil
	}
	pois := make([]POI, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		p := POI{
			FID:         PropString(f.Properties, "fid"),
			Name:        PropString(f.Properties, "name"),
			LevelID:     PropString(f.Properties, "level"),
			CategoryID:  PropString(f.Properties, "category"),
			Description: PropString(f.Properties, "description"),
		}
		if p.FID == "" && f.ID != nil {
			p.FID = PropString(map[string]any{"id": f.ID}, "id")
		}
		if pt, ok := f.Geometry.(orb.Point); ok {
			p.Coordinates = &pt
		}
		pois = append(pois, p)
	}
	return pois
}

// Report lists data quality defects found in a catalog. None of them is
// fatal.
type Report struct {
	Levels          int      `json:"levels" yaml:"levels"`
	Categories      int      `json:"categories" yaml:"categories"`
	POIs            int      `json:"pois" yaml:"pois"`
	MissingGeometry []string `json:"missingGeometry,omitempty" yaml:"missing_geometry,omitempty"`
	UnknownCategory []string `json:"unknownCategory,omitempty" yaml:"unknown_category,omitempty"`
	UnknownLevel    []string `json:"unknownLevel,omitempty" yaml:"unknown_level,omitempty"`
	DuplicateFID    []string `json:"duplicateFid,omitempty" yaml:"duplicate_fid,omitempty"`
	OrphanCategory  []string `json:"orphanCategory,omitempty" yaml:"orphan_category,omitempty"`
}

// Clean reports whether no defect was found.
func (r Report) Clean() bool {
	return len(r.MissingGeometry)+len(r.UnknownCategory)+len(r.UnknownLevel)+
		len(r.DuplicateFID)+len(r.OrphanCategory) == 0
}

// Audit checks pois against the catalog's levels and categories.
func (c *Catalog) Audit(pois []POI) Report {
	r := Report{Levels: len(c.levels), Categories: len(c.categories), POIs: len(pois)}
	seen := map[string]bool{}
	for _, p := range pois {
		label := p.Name + " (" + p.FID + ")"
		if !p.Located() {
			r.MissingGeometry = append(r.MissingGeometry, label)
		}
		if _, ok := c.Category(p.CategoryID); !ok {
			r.UnknownCategory = append(r.UnknownCategory, label+": "+p.CategoryID)
		}
		if _, ok := c.Level(p.LevelID); !ok {
			r.UnknownLevel = append(r.UnknownLevel, label+": "+p.LevelID)
		}
		if seen[p.FID] {
			r.DuplicateFID = append(r.DuplicateFID, p.FID)
		}
		seen[p.FID] = true
	}
	for _, cat := range c.categories {
		if cat.IsRoot() {
			continue
		}
		if _, ok := c.Category(cat.ParentID); !ok {
			r.OrphanCategory = append(r.OrphanCategory, cat.ID+": "+cat.ParentID)
		}
	}
	return r
}
