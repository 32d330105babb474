package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "json/eap-levels.json", `[{"id":"L1","name":"Level 1","geojson":"json/eap-level-1.geojson"}]`)
	writeFile(t, dir, "json/eap-categories.json", `[{"id":"shop","name":"Shops"}]`)
	writeFile(t, dir, "json/eap-poi.geojson", `{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"Point","coordinates":[7.53,47.6]},"properties":{"fid":1,"name":"Cafe","level":"L1","category":"shop"}}]}`)
	writeFile(t, dir, "json/eap-level-1.geojson", `{"type":"FeatureCollection","features":[]}`)
	writeFile(t, dir, "protomaps/eap.pmtiles", "not really an archive")

	s, err := New(Config{
		Host:          "127.0.0.1",
		Port:          "0",
		PublicURL:     "http://localhost:8086",
		DataDir:       dir,
		DisableSearch: true,
		Logger:        zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, srv *httptest.Server, method, path string) (*http.Response, string) {
	t.Helper()
	req, _ := http.NewRequest(method, srv.URL+path, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, string(b)
}

func TestRoot(t *testing.T) {
	srv := newTestServer(t)
	resp, body := get(t, srv, http.MethodGet, "/")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "plat-wayfind") {
		t.Fatalf("root = %d %s", resp.StatusCode, body)
	}
	links := strings.Join(resp.Header.Values("Link"), ",")
	if !strings.Contains(links, "</api/v1/levels>") || !strings.Contains(links, `rel="service-desc"`) {
		t.Fatalf("root links = %s", links)
	}
	if strings.Contains(links, "/api/v1/viewer") {
		t.Fatalf("viewer routes leaked into links: %s", links)
	}
}

func TestCatalogFiles(t *testing.T) {
	srv := newTestServer(t)
	resp, body := get(t, srv, http.MethodGet, "/json/eap-levels.json")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "Level 1") {
		t.Fatalf("levels file = %d %s", resp.StatusCode, body)
	}
	if resp, _ := get(t, srv, http.MethodGet, "/json/missing.json"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing file = %d", resp.StatusCode)
	}
}

func TestTilesCORS(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := get(t, srv, http.MethodOptions, "/protomaps/eap.pmtiles")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight = %d %v", resp.StatusCode, resp.Header)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/protomaps/eap.pmtiles", nil)
	req.Header.Set("Range", "bytes=0-5")
	r, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Body.Close()
	b, _ := io.ReadAll(r.Body)
	if r.StatusCode != http.StatusPartialContent || string(b) != "not re" {
		t.Fatalf("range = %d %q", r.StatusCode, b)
	}
}

func TestAPIAndViewer(t *testing.T) {
	srv := newTestServer(t)

	resp, body := get(t, srv, http.MethodGet, "/api/v1/levels")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"L1"`) {
		t.Fatalf("levels = %d %s", resp.StatusCode, body)
	}
	if !strings.Contains(strings.Join(resp.Header.Values("Link"), ","), `</>; rel="up"`) {
		t.Fatalf("levels links = %v", resp.Header.Values("Link"))
	}
	if resp, _ := get(t, srv, http.MethodGet, "/api/v1/pois/search?q=cafe"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("search without index = %d", resp.StatusCode)
	}

	_, body = get(t, srv, http.MethodGet, "/api/v1/style")
	if !strings.Contains(body, "pmtiles://http://localhost:8086/protomaps/eap.pmtiles") {
		t.Fatalf("style source: %s", body)
	}

	resp, body = get(t, srv, http.MethodGet, "/viewer?level=L1")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "/static/wayfind.js") {
		t.Fatalf("viewer = %d", resp.StatusCode)
	}
	if resp, _ := get(t, srv, http.MethodGet, "/static/wayfind.js"); resp.StatusCode != http.StatusOK {
		t.Fatalf("static = %d", resp.StatusCode)
	}

	resp, _ = get(t, srv, http.MethodGet, "/api/v1/pois?limit=1")
	if links := strings.Join(resp.Header.Values("Link"), ","); !strings.Contains(links, `rel="first"`) {
		t.Fatalf("pois links = %s", links)
	}

	r, err := http.Post(srv.URL+"/api/v1/viewer/sessions", "application/json", strings.NewReader(`{"level":"L1"}`))
	if err != nil {
		t.Fatal(err)
	}
	r.Body.Close()
	links := strings.Join(r.Header.Values("Link"), ",")
	if r.StatusCode != http.StatusCreated || !strings.Contains(links, `rel="level"; method="POST"`) {
		t.Fatalf("session = %d links %s", r.StatusCode, links)
	}
}

func TestMetrics(t *testing.T) {
	srv := newTestServer(t)
	get(t, srv, http.MethodGet, "/health")
	get(t, srv, http.MethodGet, "/viewer")
	r, err := http.Post(srv.URL+"/api/v1/viewer/sessions", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	r.Body.Close()

	_, body := get(t, srv, http.MethodGet, "/metrics")
	for _, want := range []string{"wayfind_http_requests_total", "wayfind_viewer_sessions 1", "wayfind_catalog_fetches_total"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}
