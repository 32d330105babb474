package humastar

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
)

// Links holds RFC 8288 Link headers keyed by operation path, generated from
// the OpenAPI spec.
type Links struct {
	// Entry is the API entry point every collection links up to.
	Entry string
	// Search is the search endpoint advertised with rel="search", if any.
	Search string
	// Skip lists tags whose operations get no links (SSE endpoints).
	Skip []string

	mu   sync.RWMutex
	byOp map[string][]string
}

// Build walks the OpenAPI spec and generates hypermedia links. Call after
// all routes are registered.
func (l *Links) Build(api huma.API) {
	oapi := api.OpenAPI()
	m := map[string][]string{}
	add := func(from, to, rel string) {
		val := fmt.Sprintf(`<%s>; rel="%s"`, to, rel)
		for _, existing := range m[from] {
			if existing == val {
				return
			}
		}
		m[from] = append(m[from], val)
	}

	// Collection paths have no {param}, item paths do.
	type pathInfo struct {
		path string
		tags []string
	}
	var collections, items []pathInfo
	paths := make([]string, 0, len(oapi.Paths))
	for p := range oapi.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		tags := primaryTags(oapi.Paths[p])
		if l.skipped(tags) {
			continue
		}
		info := pathInfo{path: p, tags: tags}
		if strings.Contains(p, "{") {
			items = append(items, info)
		} else {
			collections = append(collections, info)
		}
	}

	// Item → collection and up.
	for _, item := range items {
		parent := strings.TrimSuffix(item.path[:strings.Index(item.path, "{")], "/")
		if _, ok := oapi.Paths[parent]; ok {
			add(item.path, parent, "collection")
			add(item.path, parent, "up")
		}
	}

	// Collection → item template.
	for _, coll := range collections {
		for _, item := range items {
			if path.Dir(item.path) == coll.path {
				add(coll.path, item.path, "item")
			}
		}
	}

	// Collection → entry point and search.
	for _, coll := range collections {
		if coll.path == l.Entry {
			continue
		}
		add(coll.path, l.Entry, "up")
		if l.Search != "" && coll.path != l.Search {
			if _, ok := oapi.Paths[l.Search]; ok {
				add(coll.path, l.Search, "search")
			}
		}
	}

	// Cross-link collections sharing a tag.
	for i, a := range collections {
		for j, b := range collections {
			if i != j && sharedTag(a.tags, b.tags) {
				add(a.path, b.path, lastSegment(b.path))
			}
		}
	}

	// Entry point links to every collection plus the IANA discovery rels.
	for _, coll := range collections {
		if coll.path != l.Entry {
			add(l.Entry, coll.path, lastSegment(coll.path))
		}
	}
	add(l.Entry, "/openapi.json", "describedby")
	add(l.Entry, "/openapi.json", "service-desc")
	add(l.Entry, "/docs", "service-doc")

	// Per-resource schema.
	for _, all := range [][]pathInfo{collections, items} {
		for _, pi := range all {
			if ref := responseSchemaRef(oapi.Paths[pi.path]); ref != "" {
				add(pi.path, "/openapi.json#/components/schemas/"+ref, "describedby")
			}
		}
	}

	// Document the relations in the OpenAPI document.
	for p, pi := range oapi.Paths {
		headers, ok := m[p]
		if !ok {
			continue
		}
		for _, op := range operationsOf(pi) {
			if op != nil {
				injectResponseLinks(op, headers)
			}
		}
	}

	l.mu.Lock()
	l.byOp = m
	l.mu.Unlock()
}

// For returns the Link headers of an operation path.
func (l *Links) For(opPath string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.byOp[opPath]
}

// Root returns the entry point links, for non-Huma handlers.
func (l *Links) Root() []string {
	return l.For(l.Entry)
}

// Transformer returns a Huma Transformer that injects the generated Link
// headers at runtime, plus pagination and action links from bodies
// implementing Pager or Actor. It may be installed before Build runs.
func (l *Links) Transformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}
		for _, link := range l.For(op.Path) {
			ctx.AppendHeader("Link", link)
		}
		u := ctx.URL()
		// Item endpoints get a self link with the resolved URL.
		if strings.Contains(op.Path, "{") && !l.skipped(op.Tags) {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, u.Path))
		}
		if p, ok := v.(Pager); ok {
			for _, link := range p.PaginationLinks(u.Path, u.Query()) {
				ctx.AppendHeader("Link", link)
			}
		}
		if a, ok := v.(Actor); ok {
			for _, action := range a.Actions() {
				ctx.AppendHeader("Link", action.LinkHeader())
			}
		}
		return v, nil
	}
}

func (l *Links) skipped(tags []string) bool {
	for _, s := range l.Skip {
		for _, t := range tags {
			if s == t {
				return true
			}
		}
	}
	return false
}

// --- helpers ---

func primaryTags(pi *huma.PathItem) []string {
	for _, op := range operationsOf(pi) {
		if op != nil && len(op.Tags) > 0 {
			return op.Tags
		}
	}
	return nil
}

func operationsOf(pi *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{pi.Get, pi.Post, pi.Put, pi.Patch, pi.Delete}
}

func sharedTag(a, b []string) bool {
	for _, at := range a {
		for _, bt := range b {
			if at == bt {
				return true
			}
		}
	}
	return false
}

func lastSegment(p string) string {
	parts := strings.Split(strings.TrimRight(p, "/"), "/")
	return parts[len(parts)-1]
}

// injectResponseLinks adds OpenAPI Link objects to the operation's success
// response.
func injectResponseLinks(op *huma.Operation, headers []string) {
	if op.Responses == nil {
		return
	}
	var resp *huma.Response
	for code, r := range op.Responses {
		if strings.HasPrefix(code, "2") {
			resp = r
			break
		}
	}
	if resp == nil {
		return
	}
	if resp.Links == nil {
		resp.Links = map[string]*huma.Link{}
	}
	for _, h := range headers {
		rel, href := parseLinkHeader(h)
		if rel == "" {
			continue
		}
		resp.Links[rel] = &huma.Link{
			OperationRef: href,
			Description:  fmt.Sprintf("Related: %s", rel),
		}
	}
}

func responseSchemaRef(pi *huma.PathItem) string {
	if pi.Get == nil || pi.Get.Responses == nil {
		return ""
	}
	for code, resp := range pi.Get.Responses {
		if !strings.HasPrefix(code, "2") || resp.Content == nil {
			continue
		}
		for _, mt := range resp.Content {
			if mt.Schema != nil && mt.Schema.Ref != "" {
				// "#/components/schemas/Foo" → "Foo"
				return lastSegment(mt.Schema.Ref)
			}
		}
	}
	return ""
}

// parseLinkHeader splits `<url>; rel="name"`.
func parseLinkHeader(h string) (rel, href string) {
	parts := strings.SplitN(h, ";", 2)
	if len(parts) < 2 {
		return "", ""
	}
	href = strings.Trim(strings.TrimSpace(parts[0]), "<>")
	relPart := strings.TrimSpace(parts[1])
	if strings.HasPrefix(relPart, `rel="`) {
		rel = strings.Trim(relPart[4:], `"`)
	}
	return rel, href
}
