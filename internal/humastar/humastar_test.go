package humastar

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
)

func TestParseSignals(t *testing.T) {
	s, err := ParseSignals([]byte(`{"level":"L1","fid":12,"dark":true,"zoom":14.5}`))
	if err != nil {
		t.Fatal(err)
	}
	if s.String("level") != "L1" {
		t.Errorf("level = %q", s.String("level"))
	}
	if s.String("fid") != "12" {
		t.Errorf("numeric fid = %q, want 12", s.String("fid"))
	}
	if !s.Has("dark") || s.String("dark") != "" {
		t.Errorf("bool signal = %v", s["dark"])
	}
	if s.Has("missing") || s.String("missing") != "" {
		t.Error("missing key reported present")
	}

	empty, err := ParseSignals(nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty body = %v, %v", empty, err)
	}
	if _, err := ParseSignals([]byte("{")); err == nil {
		t.Error("expected error for malformed body")
	}
}

func TestSignalsInputMustParse(t *testing.T) {
	in := &SignalsInput{RawBody: []byte("not json")}
	_, err := in.MustParse()
	var se huma.StatusError
	if !errors.As(err, &se) || se.GetStatus() != http.StatusBadRequest {
		t.Errorf("err = %v, want 400", err)
	}
}

type thing struct {
	ID string `json:"id"`
}

func newLinkedAPI(t *testing.T) (humatest.TestAPI, *Links) {
	links := &Links{Entry: "/health", Search: "/api/v1/things/search", Skip: []string{"viewer"}}
	config := huma.DefaultConfig("test", "1.0.0")
	config.Transformers = append(config.Transformers, links.Transformer())
	_, api := humatest.New(t, config)

	huma.Get(api, "/health", func(ctx context.Context, _ *struct{}) (*struct{ Body thing }, error) {
		return &struct{ Body thing }{}, nil
	}, huma.OperationTags("health"))
	huma.Get(api, "/api/v1/things", func(ctx context.Context, _ *struct{}) (*struct{ Body []thing }, error) {
		return &struct{ Body []thing }{Body: []thing{}}, nil
	}, huma.OperationTags("things"))
	huma.Get(api, "/api/v1/things/search", func(ctx context.Context, _ *struct{}) (*struct{ Body []thing }, error) {
		return &struct{ Body []thing }{Body: []thing{}}, nil
	}, huma.OperationTags("things"))
	huma.Get(api, "/api/v1/things/{id}", func(ctx context.Context, in *struct {
		ID string `path:"id"`
	}) (*struct{ Body thing }, error) {
		return &struct{ Body thing }{Body: thing{ID: in.ID}}, nil
	}, huma.OperationTags("things"))
	huma.Post(api, "/api/v1/viewer/sessions", func(ctx context.Context, _ *struct{}) (*struct{ Body thing }, error) {
		return &struct{ Body thing }{}, nil
	}, huma.OperationTags("viewer"))

	links.Build(api)
	return api, links
}

func TestLinks(t *testing.T) {
	api, links := newLinkedAPI(t)

	root := strings.Join(links.Root(), ",")
	for _, want := range []string{`</api/v1/things>; rel="things"`, `</docs>; rel="service-doc"`} {
		if !strings.Contains(root, want) {
			t.Errorf("root links %q missing %q", root, want)
		}
	}
	if strings.Contains(root, "/viewer/") {
		t.Errorf("skipped tag linked from root: %q", root)
	}

	resp := api.Get("/api/v1/things/abc")
	got := strings.Join(resp.Result().Header.Values("Link"), ",")
	for _, want := range []string{`</api/v1/things>; rel="collection"`, `</api/v1/things/abc>; rel="self"`} {
		if !strings.Contains(got, want) {
			t.Errorf("item links %q missing %q", got, want)
		}
	}

	resp = api.Get("/api/v1/things")
	got = strings.Join(resp.Result().Header.Values("Link"), ",")
	if !strings.Contains(got, `</api/v1/things/search>; rel="search"`) {
		t.Errorf("collection links %q missing search", got)
	}
}

func TestBuildPageData(t *testing.T) {
	_, api := humatest.New(t, huma.DefaultConfig("test", "1.0.0"))
	huma.Register(api, huma.Operation{
		OperationID: "viewer-events",
		Method:      http.MethodGet,
		Path:        "/api/v1/viewer/sessions/{id}/events",
		Tags:        []string{"viewer"},
	}, func(ctx context.Context, in *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		return nil, nil
	})

	pd := BuildPageData(api, "viewer", map[string]any{"session": "s1"})
	if got := pd.Route("viewer-events", "s1"); got != "/api/v1/viewer/sessions/s1/events" {
		t.Errorf("route = %q", got)
	}
	if pd.Signals != `{"session":"s1"}` {
		t.Errorf("signals = %s", pd.Signals)
	}
	if got := pd.RouteJS("viewer-events", "session"); got != `'/api/v1/viewer/sessions/' + $session + '/events'` {
		t.Errorf("route js = %q", got)
	}
	if got := pd.RouteJS("missing"); got != `''` {
		t.Errorf("unknown route js = %q", got)
	}
	pd.SSEInits = []string{"/a", "/b"}
	if got := pd.DataInit(); got != "@get('/a'); @get('/b')" {
		t.Errorf("data-init = %q", got)
	}
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	p := Paginate(items, 2, 2)
	if p.Total != 5 || len(p.Data) != 2 || p.Data[0] != 3 {
		t.Fatalf("page = %+v", p)
	}
	links := strings.Join(p.PaginationLinks("/api/v1/pois", map[string][]string{"level": {"L1"}}), ",")
	for _, want := range []string{
		`</api/v1/pois?level=L1&limit=2&offset=0>; rel="first"`,
		`</api/v1/pois?level=L1&limit=2&offset=0>; rel="prev"`,
		`</api/v1/pois?level=L1&limit=2&offset=4>; rel="next"`,
		`</api/v1/pois?level=L1&limit=2&offset=4>; rel="last"`,
	} {
		if !strings.Contains(links, want) {
			t.Errorf("links %q missing %q", links, want)
		}
	}

	if p := Paginate(items, 9, 2); p.Offset != 5 || len(p.Data) != 0 {
		t.Errorf("past the end = %+v", p)
	}
	if p := Paginate(items, 0, 0); len(p.Data) != 5 || p.Limit != 5 {
		t.Errorf("unlimited = %+v", p)
	}
	if links := Paginate([]int{}, 0, 0).PaginationLinks("/x", nil); links != nil {
		t.Errorf("empty links = %v", links)
	}
}

type session struct {
	ID string `json:"id"`
}

func (s session) Actions() []Action {
	return ActionsFor(s.ID, []ActionDef{{Rel: "reset", Pattern: "/s/%s/reset", Method: http.MethodPost, Title: "Reset"}})
}

func TestActionLinks(t *testing.T) {
	links := &Links{Entry: "/"}
	config := huma.DefaultConfig("test", "1.0.0")
	config.Transformers = append(config.Transformers, links.Transformer())
	_, api := humatest.New(t, config)
	huma.Get(api, "/s/{id}", func(ctx context.Context, in *struct {
		ID string `path:"id"`
	}) (*struct{ Body session }, error) {
		return &struct{ Body session }{Body: session{ID: in.ID}}, nil
	})
	links.Build(api)

	got := strings.Join(api.Get("/s/x1").Result().Header.Values("Link"), ",")
	if !strings.Contains(got, `</s/x1/reset>; rel="reset"; method="POST"; title="Reset"`) {
		t.Errorf("action links = %q", got)
	}
}
