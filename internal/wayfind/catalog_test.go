package wayfind

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/paulmach/orb/geojson"
)

func TestDecodeCatalogJSON(t *testing.T) {
	var levels []Level
	if err := json.Unmarshal([]byte(`[{"id":1,"name":"Level 1","geojson":"json/l1.geojson"},{"id":"L2","name":"Level 2"}]`), &levels); err != nil {
		t.Fatal(err)
	}
	if levels[0].ID != "1" || levels[0].GeoJSONURL != "json/l1.geojson" || levels[1].ID != "L2" {
		t.Fatalf("levels %+v", levels)
	}

	var cats []Category
	if err := json.Unmarshal([]byte(`[{"id":10,"name":"Food","icon":"icons/food.png","parent":null},{"id":11,"name":"Cafes","parent":10}]`), &cats); err != nil {
		t.Fatal(err)
	}
	if !cats[0].IsRoot() || cats[1].ParentID != "10" || cats[0].IconURL != "icons/food.png" {
		t.Fatalf("categories %+v", cats)
	}

	var bad Level
	if err := json.Unmarshal([]byte(`{"id":{"x":1}}`), &bad); err == nil {
		t.Fatal("expected error for object id")
	}
}

func TestDecodePOIs(t *testing.T) {
	raw := `{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"Point","coordinates":[7.53,47.6]},
		 "properties":{"fid":12,"name":"Cafe","level":1,"category":"food","description":"Coffee"}},
		{"type":"Feature","id":"x7","geometry":null,"properties":{"name":"Kiosk","level":"L2","category":"shop"}},
		{"type":"Feature","geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]},"properties":{"fid":"9"}}
	]}`
	fc, err := geojson.UnmarshalFeatureCollection([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	pois := DecodePOIs(fc)
	if len(pois) != 3 {
		t.Fatalf("got %d pois", len(pois))
	}
	if p := pois[0]; p.FID != "12" || p.LevelID != "1" || !p.Located() || p.Description != "Coffee" {
		t.Fatalf("poi 0 %+v", p)
	}
	if p := pois[1]; p.FID != "x7" || p.Located() {
		t.Fatalf("poi 1 %+v", p)
	}
	if pois[2].Located() {
		t.Fatal("line geometry should not locate a poi")
	}
	if DecodePOIs(nil) != nil {
		t.Fatal("nil collection")
	}
}

func testCatalog() *Catalog {
	c := NewCatalog(
		[]Level{{ID: "L1", Name: "Level 1"}, {ID: "L2", Name: "Level 2"}},
		[]Category{
			{ID: "food", Name: "Food"},
			{ID: "cafe", Name: "Cafes", ParentID: "food"},
			{ID: "shop", Name: "Shops"},
			{ID: "lost", Name: "Lost", ParentID: "gone"},
		},
	)
	c.setPOIs([]POI{
		{FID: "1", Name: "zeta", LevelID: "L2", CategoryID: "food", Coordinates: pt(1, 1)},
		{FID: "2", Name: "Alpha", LevelID: "L2", CategoryID: "food", Coordinates: pt(1, 1)},
		{FID: "3", Name: "beta", LevelID: "L1", CategoryID: "food", Coordinates: pt(1, 1)},
		{FID: "4", Name: "Nowhere", LevelID: "L1", CategoryID: "food"},
		{FID: "5", Name: "Basement", LevelID: "B9", CategoryID: "food", Coordinates: pt(1, 1)},
		{FID: "6", Name: "alpha", LevelID: "L2", CategoryID: "food", Coordinates: pt(1, 1)},
		{FID: "7", Name: "Duty Free", LevelID: "L1", CategoryID: "shop", Coordinates: pt(1, 1)},
		{FID: "7", Name: "Dup", LevelID: "L1", CategoryID: "spa", Coordinates: pt(1, 1)},
	})
	return c
}

func TestBuildPanelRoot(t *testing.T) {
	p, skipped := BuildPanel(testCatalog(), nil)
	if !p.IsRoot() || len(skipped) != 0 {
		t.Fatalf("panel %+v", p)
	}
	var names []string
	for _, c := range p.Categories {
		names = append(names, c.ID)
	}
	if got := strings.Join(names, ","); got != "food,shop" {
		t.Fatalf("roots %s", got)
	}
}

func TestBuildPanelGroupsByFloor(t *testing.T) {
	cat := testCatalog()
	food, _ := cat.Category("food")
	p, skipped := BuildPanel(cat, &food)

	if p.BackTarget != "" || len(p.Categories) != 1 || p.Categories[0].ID != "cafe" {
		t.Fatalf("panel header %+v", p)
	}
	if len(skipped) != 1 || skipped[0].FID != "4" {
		t.Fatalf("skipped %+v", skipped)
	}

	var got []string
	for _, g := range p.Groups {
		var fids []string
		for _, poi := range g.POIs {
			fids = append(fids, poi.FID)
		}
		got = append(got, g.Level.Name+":"+strings.Join(fids, ","))
	}
	want := "Level 1:3|Level 2:2,6,1|B9:5"
	if strings.Join(got, "|") != want {
		t.Fatalf("groups %s, want %s", strings.Join(got, "|"), want)
	}
}

func TestBuildPanelSubCategoryBack(t *testing.T) {
	cat := testCatalog()
	cafe, _ := cat.Category("cafe")
	p, _ := BuildPanel(cat, &cafe)
	if p.BackTarget != "food" || len(p.Groups) != 0 {
		t.Fatalf("panel %+v", p)
	}
}

func TestAudit(t *testing.T) {
	cat := testCatalog()
	r := cat.Audit(cat.POIs())
	if r.Clean() {
		t.Fatal("expected defects")
	}
	if len(r.MissingGeometry) != 1 || len(r.UnknownLevel) != 1 || len(r.UnknownCategory) != 1 {
		t.Fatalf("report %+v", r)
	}
	if len(r.DuplicateFID) != 1 || r.DuplicateFID[0] != "7" {
		t.Fatalf("duplicates %v", r.DuplicateFID)
	}
	if len(r.OrphanCategory) != 1 || r.OrphanCategory[0] != "lost: gone" {
		t.Fatalf("orphans %v", r.OrphanCategory)
	}
	if cat.LevelName("B9") != "B9" || cat.LevelName("L1") != "Level 1" {
		t.Fatal("level name fallback")
	}
	if p, ok := cat.POI("7"); !ok || p.Name != "Duty Free" {
		t.Fatalf("first fid wins, got %+v", p)
	}
}

func TestPropString(t *testing.T) {
	props := map[string]any{"a": 3.0, "b": 2.5, "c": "x", "d": nil, "e": true}
	for k, want := range map[string]string{"a": "3", "b": "2.5", "c": "x", "d": "", "e": "true", "z": ""} {
		if got := PropString(props, k); got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestRenderPopupEscapes(t *testing.T) {
	html, err := RenderPopup(PopupContent{Name: "<b>Bar</b>", Floor: "Level 1"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(html, "<b>Bar") || !strings.Contains(html, NoDescription) {
		t.Fatalf("popup %s", html)
	}
}
