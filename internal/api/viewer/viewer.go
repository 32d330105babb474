// Package viewer contains the Datastar SSE handlers driving the map page.
//
// Every browser tab owns a server-side session, created when the page opens
// its stream and closed when that stream ends. Commands are posted as
// Datastar signals; the answer patches the side panel and floor switcher,
// while map mutations flow over the session's event stream as
// "wayfind-op" custom events that the page replays on MapLibre.
package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-wayfind/internal/humastar"
	"github.com/joeblew999/plat-wayfind/internal/index"
	"github.com/joeblew999/plat-wayfind/internal/mapsurface"
	"github.com/joeblew999/plat-wayfind/internal/service"
	"github.com/joeblew999/plat-wayfind/internal/style"
	"github.com/joeblew999/plat-wayfind/internal/templates"
	"github.com/joeblew999/plat-wayfind/internal/wayfind"
)

// OpEvent is the DOM event carrying one map operation.
const OpEvent = "wayfind-op"

// Tag groups the viewer operations in the OpenAPI spec.
const Tag = "viewer"

// Searcher finds POIs by name.
type Searcher interface {
	Search(ctx context.Context, q index.Query) ([]index.Hit, error)
}

// Handler serves the viewer page, its session stream and its commands.
type Handler struct {
	humastar.Handler
	sessions *service.SessionService
	search   Searcher
	log      zerolog.Logger
	page     humastar.PageData
}

// NewHandler creates the viewer handler. search may be nil.
func NewHandler(sessions *service.SessionService, search Searcher, renderer *templates.Renderer, log zerolog.Logger) *Handler {
	return &Handler{
		Handler:  humastar.Handler{Renderer: renderer},
		sessions: sessions,
		search:   search,
		log:      log.With().Str("component", "viewer").Logger(),
	}
}

// Inputs and outputs

type PageInput struct {
	Level    string `query:"level" doc:"Initially selected floor" example:"L1"`
	Category string `query:"category" doc:"Initially selected category" example:"shop"`
	Theme    string `query:"theme" enum:"dark,light" doc:"Basemap theme"`
}

type PageOutput struct {
	ContentType  string `header:"Content-Type"`
	CacheControl string `header:"Cache-Control"`
	Body         []byte
}

type StreamInput struct {
	Level    string `query:"level" doc:"Initially selected floor" example:"L1"`
	Category string `query:"category" doc:"Initially selected category" example:"shop"`
	Theme    string `query:"theme" enum:"dark,light" doc:"Basemap theme"`
}

type CreateInput struct {
	Body struct {
		Level    string `json:"level,omitempty" doc:"Initially selected floor"`
		Category string `json:"category,omitempty" doc:"Initially selected category"`
		Theme    string `json:"theme,omitempty" enum:"dark,light" doc:"Basemap theme"`
	} `required:"false"`
}

type SessionInput struct {
	ID string `path:"id" doc:"Session id"`
}

type CommandInput struct {
	ID      string `path:"id" doc:"Session id"`
	RawBody []byte
}

func (i *CommandInput) signals() (humastar.Signals, error) {
	return (&humastar.SignalsInput{RawBody: i.RawBody}).MustParse()
}

// SessionBody describes a session.
type SessionBody struct {
	ID       string        `json:"id" doc:"Session id"`
	Level    string        `json:"level,omitempty" doc:"Selected floor"`
	Category string        `json:"category,omitempty" doc:"Selected category"`
	Theme    style.Theme   `json:"theme" doc:"Basemap theme"`
	Query    string        `json:"query,omitempty" doc:"Page URL query mirroring the selection"`
	Panel    wayfind.Panel `json:"panel" doc:"Side panel contents"`
}

// Actions links the session's command routes.
func (b SessionBody) Actions() []humastar.Action {
	return humastar.ActionsFor(b.ID, Commands)
}

// StateBody is a session plus its full map state.
type StateBody struct {
	SessionBody
	Map mapsurface.State `json:"map" doc:"Style, images, camera and popup as drawn"`
}

const sessionsPath = "/api/v1/viewer/sessions"

// Commands are the session's action links, one per command route.
var Commands = []humastar.ActionDef{
	{Rel: "level", Pattern: sessionsPath + "/%s/level", Method: http.MethodPost, Title: "Select floor"},
	{Rel: "category", Pattern: sessionsPath + "/%s/category", Method: http.MethodPost, Title: "Select category"},
	{Rel: "poi", Pattern: sessionsPath + "/%s/poi", Method: http.MethodPost, Title: "Focus a POI"},
	{Rel: "click", Pattern: sessionsPath + "/%s/click", Method: http.MethodPost, Title: "Map click on a POI"},
	{Rel: "recenter", Pattern: sessionsPath + "/%s/recenter", Method: http.MethodPost, Title: "Fly home"},
	{Rel: "reset", Pattern: sessionsPath + "/%s/reset", Method: http.MethodPost, Title: "Clear floor and category"},
	{Rel: "theme", Pattern: sessionsPath + "/%s/theme", Method: http.MethodPost, Title: "Switch basemap theme"},
	{Rel: "search", Pattern: sessionsPath + "/%s/search", Method: http.MethodPost, Title: "Search POIs by name"},
}

func op(id, method, path, summary string) huma.Operation {
	return huma.Operation{
		OperationID: id,
		Method:      method,
		Path:        path,
		Summary:     summary,
		Tags:        []string{Tag},
	}
}

// RegisterRoutes registers the page, session and command routes.
func (h *Handler) RegisterRoutes(api huma.API) {
	huma.Register(api, op("viewer-page", http.MethodGet, "/viewer", "Map page"), h.Page)

	create := op("viewer-create", http.MethodPost, sessionsPath, "Create a session")
	create.DefaultStatus = http.StatusCreated
	huma.Register(api, create, h.Create)
	huma.Register(api, op("viewer-get", http.MethodGet, sessionsPath+"/{id}", "Get session state"), h.Get)
	closeOp := op("viewer-close", http.MethodDelete, sessionsPath+"/{id}", "Close a session")
	closeOp.DefaultStatus = http.StatusNoContent
	huma.Register(api, closeOp, h.Close)
	huma.Register(api, op("viewer-events", http.MethodGet, sessionsPath+"/{id}/events", "Map operation stream"), h.Events)
	huma.Register(api, op("viewer-stream", http.MethodGet, "/api/v1/viewer/stream", "Open a session and stream its map"), h.Open)
	h.registerActivity(api)

	handlers := map[string]func(context.Context, *CommandInput) (*huma.StreamResponse, error){
		"level":    h.Level,
		"category": h.Category,
		"poi":      h.POI,
		"click":    h.Click,
		"recenter": h.Recenter,
		"reset":    h.Reset,
		"theme":    h.Theme,
		"search":   h.Search,
	}
	for _, c := range Commands {
		path := strings.Replace(c.Pattern, "%s", "{id}", 1)
		huma.Register(api, op("viewer-"+c.Rel, c.Method, path, c.Title), handlers[c.Rel])
	}

	h.page = humastar.BuildPageData(api, Tag, nil)
}

// view is the template data of the page and its fragments.
type view struct {
	Session    string
	Page       humastar.PageData
	Theme      style.Theme
	Panel      wayfind.Panel
	Levels     []wayfind.Level
	LevelID    string
	CategoryID string
}

// URL resolves a viewer operation for this session.
func (v view) URL(opID string) string { return v.Page.Route(opID, v.Session) }

func (h *Handler) view(sess *service.Session) view {
	sel := sess.Controller.Selection()
	return view{
		Session:    sess.ID,
		Page:       h.page,
		Theme:      sess.Theme(),
		Panel:      sess.Controller.Panel(),
		Levels:     sess.Controller.Levels(),
		LevelID:    sel.LevelID(),
		CategoryID: sel.CategoryID(),
	}
}

func describe(sess *service.Session) SessionBody {
	sel := sess.Controller.Selection()
	return SessionBody{
		ID:       sess.ID,
		Level:    sel.LevelID(),
		Category: sel.CategoryID(),
		Theme:    sess.Theme(),
		Query:    sess.Surface.Query(),
		Panel:    sess.Controller.Panel(),
	}
}

func (h *Handler) session(id string) (*service.Session, error) {
	sess, err := h.sessions.Get(id)
	if errors.Is(err, service.ErrSessionNotFound) {
		return nil, huma.Error404NotFound("session not found")
	}
	return sess, err
}

// Page renders the map page. The session is opened by the page's stream,
// so fetching the page alone leaves no state behind.
func (h *Handler) Page(ctx context.Context, input *PageInput) (*PageOutput, error) {
	theme, err := style.ParseTheme(input.Theme)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}

	v := view{Page: h.page, Theme: theme, LevelID: input.Level, CategoryID: input.Category}
	signals, _ := json.Marshal(map[string]any{
		"session":  "",
		"level":    input.Level,
		"category": input.Category,
		"fid":      "",
		"q":        "",
		"theme":    string(theme),
		"error":    "",
		"success":  "",
	})
	v.Page.Signals = string(signals)

	q := url.Values{"theme": {string(theme)}}
	if input.Level != "" {
		q.Set("level", input.Level)
	}
	if input.Category != "" {
		q.Set("category", input.Category)
	}
	v.Page.SSEInits = []string{h.page.Route("viewer-stream") + "?" + q.Encode()}

	html, err := h.Renderer.Render("viewer-page", v)
	if err != nil {
		return nil, huma.Error500InternalServerError("render page", err)
	}
	return &PageOutput{
		ContentType:  "text/html; charset=utf-8",
		CacheControl: "no-store",
		Body:         []byte(html),
	}, nil
}

// Open creates a session for the page's selection, hands its id and side
// panel to the page, then streams its map. The session ends with the stream.
func (h *Handler) Open(ctx context.Context, input *StreamInput) (*huma.StreamResponse, error) {
	theme, err := style.ParseTheme(input.Theme)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	sess, err := h.sessions.Create(ctx, service.Initial{Level: input.Level, Category: input.Category, Theme: theme})
	if err != nil {
		return nil, huma.Error500InternalServerError("create session", err)
	}
	return h.Stream(func(sse humastar.SSE) {
		defer func() { _ = h.sessions.Close(sess.ID) }()

		v := h.view(sess)
		sse.Signals(map[string]any{
			"session":  sess.ID,
			"level":    v.LevelID,
			"category": v.CategoryID,
			"theme":    string(v.Theme),
		})
		sse.Patch(h.Render("levels", v), "#levels")
		sse.Patch(h.Render("panel", v), "#panel")
		h.follow(ctx, sse, sess)
	}), nil
}

// Create starts a session without rendering a page.
func (h *Handler) Create(ctx context.Context, input *CreateInput) (*struct{ Body SessionBody }, error) {
	theme, err := style.ParseTheme(input.Body.Theme)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	sess, err := h.sessions.Create(ctx, service.Initial{
		Level: input.Body.Level, Category: input.Body.Category, Theme: theme,
	})
	if err != nil {
		return nil, huma.Error500InternalServerError("create session", err)
	}
	return &struct{ Body SessionBody }{Body: describe(sess)}, nil
}

func (h *Handler) Get(ctx context.Context, input *SessionInput) (*struct{ Body StateBody }, error) {
	sess, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return &struct{ Body StateBody }{Body: StateBody{
		SessionBody: describe(sess),
		Map:         sess.Surface.Snapshot(),
	}}, nil
}

func (h *Handler) Close(ctx context.Context, input *SessionInput) (*struct{}, error) {
	if err := h.sessions.Close(input.ID); err != nil {
		return nil, huma.Error404NotFound("session not found")
	}
	return nil, nil
}

// Events streams an existing session's map.
func (h *Handler) Events(ctx context.Context, input *SessionInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return h.Stream(func(sse humastar.SSE) {
		h.follow(ctx, sse, sess)
	}), nil
}

// follow sends map operations until the client leaves or the session ends.
// The first event carries the complete map state; a subscriber that fell
// behind gets the complete state again.
func (h *Handler) follow(ctx context.Context, sse humastar.SSE, sess *service.Session) {
	ops := sess.Surface.Ops()
	sub := ops.Subscribe()
	defer ops.Unsubscribe(sub)
	sess.Attach()
	defer func() { sess.Detach(time.Now()) }()

	log := h.log.With().Str("session", sess.ID).Logger()
	log.Debug().Msg("stream attached")

	snapshot := func() {
		sse.Event(OpEvent, mapsurface.Op{Kind: mapsurface.OpSetStyle, Value: sess.Surface.Snapshot()})
	}
	snapshot()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("stream detached")
			return
		case <-sess.Done():
			sse.Error("session ended")
			return
		case op, ok := <-sub.C:
			if !ok {
				return
			}
			if sub.Lost() {
				log.Warn().Msg("stream fell behind, resending map state")
				drain(sub.C)
				snapshot()
				continue
			}
			sse.Event(OpEvent, op)
		}
	}
}

func drain[T any](c <-chan T) {
	for {
		select {
		case <-c:
		default:
			return
		}
	}
}

// commandFunc applies a command. A non-empty confirmation is shown to the
// user as a success message.
type commandFunc func(ctx context.Context, sess *service.Session, sig humastar.Signals) (confirm string, err error)

// command runs fn against the session and answers with the refreshed panel,
// floor switcher and selection signals. Errors from fn are shown in the page.
// Signals named in required must be present, even if empty.
func (h *Handler) command(ctx context.Context, input *CommandInput, fn commandFunc, required ...string) (*huma.StreamResponse, error) {
	sess, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	sig, err := input.signals()
	if err != nil {
		return nil, err
	}
	for _, key := range required {
		if !sig.Has(key) {
			return nil, huma.Error400BadRequest("missing " + key + " signal")
		}
	}
	return h.Stream(func(sse humastar.SSE) {
		msg := ""
		confirm, err := fn(ctx, sess, sig)
		if err != nil {
			h.log.Info().Err(err).Str("session", sess.ID).Msg("command rejected")
			msg = err.Error()
		}
		v := h.view(sess)
		sse.Patch(h.Render("levels", v), "#levels")
		sse.Patch(h.Render("panel", v), "#panel")
		sse.Signals(map[string]any{
			"level":    v.LevelID,
			"category": v.CategoryID,
			"theme":    string(v.Theme),
			"error":    msg,
			"success":  "",
		})
		if err == nil && confirm != "" {
			sse.Success(confirm)
		}
	}), nil
}

func (h *Handler) Level(ctx context.Context, input *CommandInput) (*huma.StreamResponse, error) {
	return h.command(ctx, input, func(ctx context.Context, sess *service.Session, sig humastar.Signals) (string, error) {
		return "", sess.Controller.Dispatch(ctx, wayfind.LevelSelected{LevelID: sig.String("level")})
	}, "level")
}

func (h *Handler) Category(ctx context.Context, input *CommandInput) (*huma.StreamResponse, error) {
	return h.command(ctx, input, func(ctx context.Context, sess *service.Session, sig humastar.Signals) (string, error) {
		return "", sess.Controller.Dispatch(ctx, wayfind.CategorySelected{CategoryID: sig.String("category")})
	}, "category")
}

func (h *Handler) POI(ctx context.Context, input *CommandInput) (*huma.StreamResponse, error) {
	return h.command(ctx, input, func(ctx context.Context, sess *service.Session, sig humastar.Signals) (string, error) {
		return "", sess.Controller.Dispatch(ctx, wayfind.POISelected{FID: sig.String("fid")})
	}, "fid")
}

// Click forwards a map click on the POI layer to the surface's handlers.
func (h *Handler) Click(ctx context.Context, input *CommandInput) (*huma.StreamResponse, error) {
	return h.command(ctx, input, func(ctx context.Context, sess *service.Session, sig humastar.Signals) (string, error) {
		if !sess.Surface.Emit(wayfind.Event{
			Type:       "click",
			LayerID:    wayfind.POILayerID,
			Properties: map[string]any{"fid": sig.String("fid")},
		}) {
			return "", errors.New("poi layer not loaded")
		}
		return "", nil
	}, "fid")
}

func (h *Handler) Recenter(ctx context.Context, input *CommandInput) (*huma.StreamResponse, error) {
	return h.command(ctx, input, func(ctx context.Context, sess *service.Session, _ humastar.Signals) (string, error) {
		return "", sess.Controller.Dispatch(ctx, wayfind.RecenterRequested{})
	})
}

func (h *Handler) Reset(ctx context.Context, input *CommandInput) (*huma.StreamResponse, error) {
	return h.command(ctx, input, func(ctx context.Context, sess *service.Session, _ humastar.Signals) (string, error) {
		return "", sess.Controller.Dispatch(ctx, wayfind.ResetRequested{})
	})
}

func (h *Handler) Theme(ctx context.Context, input *CommandInput) (*huma.StreamResponse, error) {
	return h.command(ctx, input, func(ctx context.Context, sess *service.Session, sig humastar.Signals) (string, error) {
		t, err := style.ParseTheme(sig.String("theme"))
		if err != nil {
			return "", err
		}
		sess.SetTheme(t)
		return "Switched to the " + string(t) + " basemap", nil
	}, "theme")
}

// hit is one search result with the command that focuses it.
type hit struct {
	index.Hit
	Action string
}

// results wraps rendered hits in the #results container.
func results(inner string) string {
	return `<div id="results" class="results">` + inner + `</div>`
}

// Search replaces the result list for the "q" signal.
func (h *Handler) Search(ctx context.Context, input *CommandInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	sig, err := input.signals()
	if err != nil {
		return nil, err
	}
	return h.Stream(func(sse humastar.SSE) {
		q := sig.String("q")
		if q == "" {
			sse.Replace(results(""), "#results")
			return
		}
		if h.search == nil {
			sse.Replace(results(h.Render("empty-state", map[string]string{
				"Title": "Search unavailable", "Message": "The search index is not loaded.",
			})), "#results")
			return
		}
		hits, err := h.search.Search(ctx, index.Query{Text: q, Limit: 20})
		if err != nil {
			h.log.Error().Err(err).Str("q", q).Msg("search")
			sse.Error("search failed")
			return
		}
		action := h.view(sess).URL("viewer-poi")
		items := make([]any, len(hits))
		for i, x := range hits {
			items[i] = hit{Hit: x, Action: action}
		}
		sse.Replace(results(h.RenderList("search-hit", items, "No matches", "Nothing is named like \""+q+"\".")), "#results")
	}), nil
}
