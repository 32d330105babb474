package wayfind

import (
	"sort"
	"strings"
)

// Panel is the category side panel: either the root category list or the
// drill-down view of one category.
type Panel struct {
	Current    *Category  `json:"current,omitempty"`
	BackTarget string     `json:"backTarget,omitempty"`
	Categories []Category `json:"categories"`
	Groups     []POIGroup `json:"groups,omitempty"`
}

// POIGroup lists the POIs of one floor.
type POIGroup struct {
	Level Level `json:"level"`
	POIs  []POI `json:"pois"`
}

// IsRoot reports whether the panel shows the root categories.
func (p Panel) IsRoot() bool { return p.Current == nil }

// BuildPanel builds the side panel for the selected category. The back entry
// targets the parent category; for a root category it targets "" which
// resets the selection. POIs without coordinates are left out and returned
// separately so the caller can log them.
func BuildPanel(cat *Catalog, current *Category) (Panel, []POI) {
	if current == nil {
		return Panel{Categories: cat.Roots()}, nil
	}

	cur := *current
	panel := Panel{
		Current:    &cur,
		BackTarget: cur.ParentID,
		Categories: cat.Children(cur.ID),
	}

	byLevel := map[string][]POI{}
	var skipped []POI
	for _, p := range cat.pois {
		if p.CategoryID != cur.ID {
			continue
		}
		if !p.Located() {
			skipped = append(skipped, p)
			continue
		}
		byLevel[p.LevelID] = append(byLevel[p.LevelID], p)
	}

	levelIDs := make([]string, 0, len(byLevel))
	for id := range byLevel {
		levelIDs = append(levelIDs, id)
	}
	sort.Slice(levelIDs, func(i, j int) bool {
		oi, oj := cat.LevelOrder(levelIDs[i]), cat.LevelOrder(levelIDs[j])
		if (oi < 0) != (oj < 0) {
			return oj < 0
		}
		if oi != oj {
			return oi < oj
		}
		return levelIDs[i] < levelIDs[j]
	})

	for _, id := range levelIDs {
		pois := byLevel[id]
		sortByName(pois)
		level, ok := cat.Level(id)
		if !ok {
			level = Level{ID: id, Name: id}
		}
		panel.Groups = append(panel.Groups, POIGroup{Level: level, POIs: pois})
	}
	return panel, skipped
}

func sortByName(pois []POI) {
	sort.SliceStable(pois, func(i, j int) bool {
		a, b := strings.ToLower(pois[i].Name), strings.ToLower(pois[j].Name)
		if a != b {
			return a < b
		}
		return pois[i].FID < pois[j].FID
	})
}
