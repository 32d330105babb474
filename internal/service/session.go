package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-wayfind/internal/mapsurface"
	"github.com/joeblew999/plat-wayfind/internal/style"
	"github.com/joeblew999/plat-wayfind/internal/wayfind"
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("session not found")

// Session is one viewer: a controller driving its own headless surface.
type Session struct {
	ID         string
	Controller *wayfind.Controller
	Surface    *mapsurface.Surface

	styleOpts style.Options
	done      chan struct{}

	mu       sync.Mutex
	theme    style.Theme
	lastSeen time.Time
	streams  int
}

// Theme returns the session's basemap theme.
func (s *Session) Theme() style.Theme {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.theme
}

// SetTheme swaps the basemap. Floors, POIs and icons already on the map are
// kept.
func (s *Session) SetTheme(t style.Theme) {
	s.mu.Lock()
	if s.theme == t {
		s.mu.Unlock()
		return
	}
	s.theme = t
	s.mu.Unlock()
	s.Surface.SetStyle(style.Build(t, s.styleOpts))
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Attach marks a live event stream; Detach undoes it. Sessions with a live
// stream never expire.
func (s *Session) Attach() {
	s.mu.Lock()
	s.streams++
	s.mu.Unlock()
}

func (s *Session) Detach(now time.Time) {
	s.mu.Lock()
	s.streams--
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen), s.streams > 0
}

// Initial is the selection a session opens with, as carried by the page
// URL.
type Initial struct {
	Level    string
	Category string
	Theme    style.Theme
}

// SessionRecorder receives the number of live sessions.
type SessionRecorder interface {
	SetActiveSessions(n int)
}

// SessionOptions configures new sessions.
type SessionOptions struct {
	Idle     time.Duration
	Style    style.Options
	Images   mapsurface.ImageLoader
	Recorder wayfind.Recorder
	Sessions SessionRecorder
}

// SessionService owns the viewer sessions.
type SessionService struct {
	loader wayfind.CatalogLoader
	log    zerolog.Logger
	opts   SessionOptions
	events *mapsurface.Bus[SessionEvent]
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// DefaultIdle is how long a session without a stream or command survives.
const DefaultIdle = 30 * time.Minute

// NewSessionService creates a registry whose controllers read from loader.
func NewSessionService(loader wayfind.CatalogLoader, log zerolog.Logger, opts SessionOptions) *SessionService {
	if opts.Idle <= 0 {
		opts.Idle = DefaultIdle
	}
	return &SessionService{
		loader:   loader,
		log:      log.With().Str("component", "sessions").Logger(),
		opts:     opts,
		events:   mapsurface.NewBus[SessionEvent](16),
		now:      time.Now,
		sessions: map[string]*Session{},
	}
}

// Events returns the session lifecycle stream.
func (s *SessionService) Events() *mapsurface.Bus[SessionEvent] { return s.events }

// Create starts a session and applies the initial selection. Unknown ids
// in init are logged and ignored.
func (s *SessionService) Create(ctx context.Context, init Initial) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	theme := init.Theme
	if theme == "" {
		theme = style.Dark
	}
	id := uuid.NewString()
	log := s.log.With().Str("session", id).Logger()
	surface := mapsurface.New(style.Build(theme, s.opts.Style), s.opts.Images)
	ctrl := wayfind.New(surface, s.loader, log, wayfind.Options{
		Home:     s.opts.Style.Home,
		History:  surface,
		Recorder: s.opts.Recorder,
	})
	ctrl.Start(ctx)

	applied := false
	if init.Level != "" {
		if err := ctrl.SelectLevel(ctx, init.Level); err != nil {
			log.Warn().Err(err).Msg("initial level ignored")
		} else {
			applied = true
		}
	}
	if init.Category != "" {
		if err := ctrl.SelectCategory(ctx, init.Category); err != nil {
			log.Warn().Err(err).Msg("initial category ignored")
		} else {
			applied = true
		}
	}
	if !applied {
		ctrl.Reconcile(ctx)
	}

	sess := &Session{
		ID:         id,
		Controller: ctrl,
		Surface:    surface,
		styleOpts:  s.opts.Style,
		done:       make(chan struct{}),
		theme:      theme,
		lastSeen:   s.now(),
	}
	s.mu.Lock()
	s.sessions[id] = sess
	n := len(s.sessions)
	s.mu.Unlock()

	s.record(n)
	s.events.Publish(SessionEvent{Type: "created", ID: id})
	log.Info().Str("level", init.Level).Str("category", init.Category).Str("theme", string(theme)).Msg("session created")
	return sess, nil
}

// Get returns a live session and marks it as used.
func (s *SessionService) Get(id string) (*Session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.touch(s.now())
	return sess, nil
}

// Close ends a session.
func (s *SessionService) Close(id string) error {
	if !s.remove(id, "closed") {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SessionService) remove(id, reason string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	n := len(s.sessions)
	s.mu.Unlock()
	if !ok {
		return false
	}
	close(sess.done)
	s.record(n)
	s.events.Publish(SessionEvent{Type: reason, ID: id})
	s.log.Info().Str("session", id).Str("reason", reason).Msg("session ended")
	return true
}

// Len returns the number of live sessions.
func (s *SessionService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep expires sessions idle for longer than the configured limit and
// returns how many were removed.
func (s *SessionService) Sweep() int {
	now := s.now()
	s.mu.Lock()
	var expired []string
	for id, sess := range s.sessions {
		idle, streaming := sess.idleSince(now)
		if !streaming && idle > s.opts.Idle {
			expired = append(expired, id)
		}
	}
	s.mu.Unlock()

	n := 0
	for _, id := range expired {
		if s.remove(id, "expired") {
			n++
		}
	}
	return n
}

// Run sweeps periodically until ctx is done.
func (s *SessionService) Run(ctx context.Context) {
	every := s.opts.Idle / 4
	if every < time.Second {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.Sweep(); n > 0 {
				s.log.Debug().Int("expired", n).Msg("sessions swept")
			}
		}
	}
}

func (s *SessionService) record(n int) {
	if s.opts.Sessions != nil {
		s.opts.Sessions.SetActiveSessions(n)
	}
}
