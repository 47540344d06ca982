// Package session holds the planning state of one browser tab: the form,
// the cached name matches, the URL fragment and everything drawn on the map.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"tripplan/internal/builder"
	"tripplan/internal/domain"
	"tripplan/internal/fragment"
	"tripplan/internal/hub"
	"tripplan/internal/matchcache"
	"tripplan/internal/panel"
	"tripplan/internal/render"
	"tripplan/pkg/cobwebapi"
)

const (
	TextInvalidRequest = "The request is invalid."
	TextNotReachable   = "Not reachable"
)

// Backend is the routing service. *cobwebapi.Client implements it.
type Backend interface {
	PlanRoute(ctx context.Context, req domain.RouteRequest) (*domain.RoutingResponse, error)
	SearchName(ctx context.Context, name string, amount int) ([]domain.NameMatch, error)
	SearchNearest(ctx context.Context, lat, lon float64) (domain.NearestMatch, error)
}

type MessageKind string

const (
	MessageNone  MessageKind = "none"
	MessageError MessageKind = "error"
	MessageInfo  MessageKind = "info"
)

// Message is the single user visible status line. Showing one replaces the
// previous one.
type Message struct {
	Kind MessageKind `json:"kind"`
	Text string      `json:"text,omitempty"`
}

// CommunicationError formats a failed backend call for the user.
func CommunicationError(status int, err error) string {
	return fmt.Sprintf("Error while communicating with the server.\nStatus: %d\nMessage: %v", status, err)
}

type Options struct {
	MatchLimit int
	FrameZoom  int
	Location   *time.Location
	// Runner executes backend calls. Defaults to one goroutine per call.
	Runner cobwebapi.Runner
	Now    func() time.Time
}

// State is a point in time copy of a session, as served to a reloading tab.
type State struct {
	ID      string                              `json:"id"`
	Hash    string                              `json:"hash"`
	Form    *panel.FormState                    `json:"form"`
	Message Message                             `json:"message"`
	Matches map[domain.Field][]domain.NameMatch `json:"matches"`
}

type Session struct {
	ID string

	mu       sync.Mutex
	opts     Options
	backend  Backend
	pub      hub.Publisher
	matches  *matchcache.Cache
	renderer *render.Renderer
	location *fragment.MemoryLocation
	frag     *fragment.Synchronizer
	form     *panel.FormState
	message  Message

	routeToken    uint64
	nearestTokens map[domain.Field]uint64

	lastActive time.Time
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *slog.Logger
}

func New(id string, backend Backend, pub hub.Publisher, opts Options, logger *slog.Logger) *Session {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Runner == nil {
		opts.Runner = cobwebapi.Go
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:            id,
		opts:          opts,
		backend:       backend,
		pub:           pub,
		matches:       matchcache.New(),
		renderer:      render.New(hub.NewSurface(pub, id), opts.FrameZoom, opts.Location),
		location:      &fragment.MemoryLocation{},
		form:          panel.New(opts.Location, opts.Now()),
		message:       Message{Kind: MessageNone},
		nearestTokens: make(map[domain.Field]uint64),
		lastActive:    opts.Now(),
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger.With("component", "session", "session_id", id),
	}
	s.location.OnChange = func(hash string) {
		s.publish("hash", map[string]string{"hash": hash})
	}
	s.frag = fragment.NewSynchronizer(s.location)
	return s
}

// Close cancels every backend call still in flight.
func (s *Session) Close() {
	s.cancel()
}

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) touch() {
	s.lastActive = s.opts.Now()
}

func (s *Session) publish(msgType string, payload any) {
	s.pub.Publish(s.ID, hub.Message{Type: msgType, Payload: payload})
}

func (s *Session) setMessage(kind MessageKind, text string) {
	s.message = Message{Kind: kind, Text: text}
	s.publish("message", s.message)
}

func (s *Session) publishForm() {
	s.publish("form", map[string]any{"form": s.form.Clone()})
}

// Snapshot returns the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		ID:      s.ID,
		Hash:    s.location.Hash(),
		Form:    s.form.Clone(),
		Message: s.message,
		Matches: s.matches.Snapshot(),
	}
}

// LoadFragment plans the route stored in hash, as when a shared link is
// opened. A fragment that does not hold a valid request is ignored without
// telling the user.
func (s *Session) LoadFragment(hash string) {
	if dispatch := s.loadFragment(hash); dispatch != nil {
		dispatch()
	}
}

func (s *Session) loadFragment(hash string) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	s.location.Load(hash)
	req, names, err := builder.FromFragment(s.frag)
	if err != nil {
		s.logger.Debug("ignoring fragment", "hash", hash, "error", err)
		return nil
	}

	s.frag.ApplyToUI(s.form, req, names)
	s.publishForm()
	token := s.beginAttempt()
	return s.startRoute(token, req, names)
}

// PlanFromPanel plans the route described by form, as when the plan button
// is pressed.
func (s *Session) PlanFromPanel(form panel.FormState) {
	if dispatch := s.planFromPanel(form); dispatch != nil {
		dispatch()
	}
}

func (s *Session) planFromPanel(form panel.FormState) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	s.form = form.Clone().In(s.opts.Location)
	token := s.beginAttempt()

	req, names, err := builder.FromPanel(s.form, s.matches)
	if err != nil {
		s.logger.Debug("rejected request", "error", err)
		s.setMessage(MessageError, TextInvalidRequest)
		return nil
	}
	return s.startRoute(token, req, names)
}

// beginAttempt starts a planning attempt, valid or not. Routes still in
// flight become stale and the map is cleared.
func (s *Session) beginAttempt() uint64 {
	s.routeToken++
	s.renderer.Clear()
	return s.routeToken
}

// startRoute records req in the fragment and returns the call that plans
// it. The caller runs the call after releasing the lock.
func (s *Session) startRoute(token uint64, req domain.RouteRequest, names domain.Names) func() {
	s.setMessage(MessageNone, "")
	s.frag.Write(req, names)
	start := time.Now()

	return func() {
		cobwebapi.Send(s.opts.Runner,
			func() (*domain.RoutingResponse, error) {
				return s.backend.PlanRoute(s.ctx, req)
			},
			func(resp *domain.RoutingResponse) {
				s.finishRoute(token, start, resp)
			},
			func(status int, err error) {
				s.failRoute(token, status, err)
			},
		)
	}
}

func (s *Session) finishRoute(token uint64, start time.Time, resp *domain.RoutingResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token != s.routeToken {
		s.logger.Debug("dropping stale route response", "token", token)
		return
	}

	outcome, err := s.renderer.Render(resp)
	if err != nil {
		s.logger.Error("failed to render route", "error", err)
		s.setMessage(MessageError, CommunicationError(0, err))
		return
	}
	if outcome == render.OutcomeNotReachable {
		s.setMessage(MessageInfo, TextNotReachable)
	}
	s.logger.Info("route planned", "journeys", len(resp.Journeys), "server_time_ms", resp.Time,
		"duration_ms", time.Since(start).Milliseconds())
}

func (s *Session) failRoute(token uint64, status int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token != s.routeToken || errors.Is(err, context.Canceled) {
		return
	}
	s.logger.Warn("route request failed", "status", status, "error", err)
	s.setMessage(MessageError, CommunicationError(status, err))
}

// Search looks up name for field and publishes the matches. Only the newest
// search of a field may replace its matches.
func (s *Session) Search(field domain.Field, name string) error {
	if !field.Valid() {
		return fmt.Errorf("search: unknown field %q", field)
	}

	s.mu.Lock()
	s.touch()
	token := s.matches.Begin(field)
	s.mu.Unlock()

	name = strings.TrimSpace(name)
	if name == "" {
		s.commitMatches(field, token, nil)
		return nil
	}

	cobwebapi.Send(s.opts.Runner,
		func() ([]domain.NameMatch, error) {
			return s.backend.SearchName(s.ctx, name, s.opts.MatchLimit)
		},
		func(matches []domain.NameMatch) {
			s.commitMatches(field, token, matches)
		},
		func(status int, err error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if !s.matches.Current(field, token) || errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Warn("name search failed", "field", field, "status", status, "error", err)
			s.setMessage(MessageError, CommunicationError(status, err))
		},
	)
	return nil
}

func (s *Session) commitMatches(field domain.Field, token matchcache.Token, matches []domain.NameMatch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.matches.Commit(field, token, matches) {
		s.logger.Debug("dropping stale name matches", "field", field, "token", token)
		return
	}
	if matches == nil {
		matches = []domain.NameMatch{}
	}
	s.publish("matches", map[string]any{"field": field, "matches": matches})
}

// Nearest resolves the node closest to a map click and puts it into the
// field's inputs.
func (s *Session) Nearest(field domain.Field, lat, lon float64) error {
	if !field.Valid() {
		return fmt.Errorf("nearest: unknown field %q", field)
	}

	s.mu.Lock()
	s.touch()
	s.nearestTokens[field]++
	token := s.nearestTokens[field]
	s.mu.Unlock()

	cobwebapi.Send(s.opts.Runner,
		func() (domain.NearestMatch, error) {
			return s.backend.SearchNearest(s.ctx, lat, lon)
		},
		func(match domain.NearestMatch) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if token != s.nearestTokens[field] {
				return
			}
			s.form.SetNodeID(field, strconv.FormatInt(match.ID, 10))
			s.form.SetText(field, fmt.Sprintf("%.5f, %.5f", match.Latitude, match.Longitude))
			s.publishForm()
		},
		func(status int, err error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if token != s.nearestTokens[field] || errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Warn("nearest search failed", "field", field, "status", status, "error", err)
			s.setMessage(MessageError, CommunicationError(status, err))
		},
	)
	return nil
}
