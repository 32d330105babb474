// pagedata.go: OpenAPI spec → page template data.
//
// BuildPageData extracts what a page template needs from the OpenAPI document so the
// HTML never hardcodes URLs or signal names:
//   - Signals JSON for data-signals
//   - Routes keyed by operation id, discovered from operations with a tag
package humastar

import (
	"encoding/json"
	"fmt"
	"html/template"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// PageData holds everything a page template needs from the OpenAPI spec.
type PageData struct {
	// Signals is the JSON string for data-signals initialization.
	Signals string

	// Routes maps operation ids to their path templates,
	// e.g. Routes["viewer-events"] = "/api/v1/viewer/sessions/{id}/events".
	Routes map[string]string

	// SSEInits holds stream URLs opened on page load.
	SSEInits []string
}

// Route returns the path of an operation with {param} placeholders
// replaced by the given values in order.
func (pd PageData) Route(opID string, params ...string) string {
	p := pd.Routes[opID]
	for _, v := range params {
		start := strings.IndexByte(p, '{')
		end := strings.IndexByte(p, '}')
		if start < 0 || end < start {
			break
		}
		p = p[:start] + v + p[end+1:]
	}
	return p
}

// RouteJS returns a Datastar expression building the operation's path in
// the browser, taking each {param} from the named signal in order, e.g.
// '/api/v1/viewer/sessions/' + $session + '/level'. Route paths are
// registered constants, so the result is not escaped.
func (pd PageData) RouteJS(opID string, signals ...string) template.JS {
	p := pd.Routes[opID]
	var parts []string
	for _, sig := range signals {
		start := strings.IndexByte(p, '{')
		end := strings.IndexByte(p, '}')
		if start < 0 || end < start {
			break
		}
		if start > 0 {
			parts = append(parts, "'"+p[:start]+"'")
		}
		parts = append(parts, "$"+sig)
		p = p[end+1:]
	}
	if p != "" || len(parts) == 0 {
		parts = append(parts, "'"+p+"'")
	}
	return template.JS(strings.Join(parts, " + "))
}

// DataInit returns a Datastar data-init attribute value opening all SSE
// init URLs, e.g. "@get('/api/v1/viewer/sessions/x/events')".
func (pd PageData) DataInit() string {
	var parts []string
	for _, url := range pd.SSEInits {
		parts = append(parts, fmt.Sprintf("@get('%s')", url))
	}
	return strings.Join(parts, "; ")
}

// BuildPageData builds template data from the operations tagged tag.
func BuildPageData(api huma.API, tag string, signals map[string]any) PageData {
	pd := PageData{Routes: map[string]string{}}
	if signals == nil {
		signals = map[string]any{}
	}
	signalsJSON, _ := json.Marshal(signals)
	pd.Signals = string(signalsJSON)

	for p, pi := range api.OpenAPI().Paths {
		for _, op := range operationsOf(pi) {
			if op == nil || op.OperationID == "" {
				continue
			}
			for _, t := range op.Tags {
				if t == tag {
					pd.Routes[op.OperationID] = p
					break
				}
			}
		}
	}
	return pd
}
