package viewer

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-wayfind/internal/humastar"
)

// SessionEvent is the DOM event carrying a session lifecycle change.
const SessionEvent = "wayfind-session"

func (h *Handler) registerActivity(api huma.API) {
	huma.Register(api, op("viewer-activity", http.MethodGet, "/api/v1/viewer/activity", "Session lifecycle stream"), h.Activity)
}

// Activity streams session lifecycle changes together with the live
// session count.
func (h *Handler) Activity(ctx context.Context, input *struct{}) (*huma.StreamResponse, error) {
	return h.Stream(func(sse humastar.SSE) {
		events := h.sessions.Events()
		sub := events.Subscribe()
		defer events.Unsubscribe(sub)

		sse.Signals(map[string]any{"sessions": h.sessions.Len()})
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				sse.Signals(map[string]any{"sessions": h.sessions.Len()})
				sse.Event(SessionEvent, ev)
			}
		}
	}), nil
}
