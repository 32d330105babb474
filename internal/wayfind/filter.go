package wayfind

// Expr is a MapLibre style expression, e.g. ["==", "level", "L1"].
// A nil Expr clears a layer filter.
type Expr []any

// Eq builds a legacy equality filter on a feature property.
func Eq(prop string, value any) Expr { return Expr{"==", prop, value} }

// All joins filters with a conjunction.
func All(exprs ...Expr) Expr {
	out := Expr{"all"}
	for _, e := range exprs {
		out = append(out, e)
	}
	return out
}

// POIFilter returns the POI layer filter for a selection. It depends only on
// the selected ids.
func POIFilter(sel Selection) Expr {
	level, category := sel.LevelID(), sel.CategoryID()
	switch {
	case level == "" && category == "":
		return nil
	case level == "":
		return Eq("category", category)
	case category == "":
		return Eq("level", level)
	default:
		return All(Eq("level", level), Eq("category", category))
	}
}
