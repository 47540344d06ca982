package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"tripplan/internal/domain"
	"tripplan/internal/fragment"
	"tripplan/internal/hub"
	"tripplan/internal/panel"
	"tripplan/pkg/cobwebapi"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBackend struct {
	mu      sync.Mutex
	routes  []domain.RouteRequest
	names   []string
	route   func(domain.RouteRequest) (*domain.RoutingResponse, error)
	search  func(string) ([]domain.NameMatch, error)
	nearest func(lat, lon float64) (domain.NearestMatch, error)
	amount  int
}

func (b *fakeBackend) PlanRoute(_ context.Context, req domain.RouteRequest) (*domain.RoutingResponse, error) {
	b.mu.Lock()
	b.routes = append(b.routes, req)
	b.mu.Unlock()
	return b.route(req)
}

func (b *fakeBackend) SearchName(_ context.Context, name string, amount int) ([]domain.NameMatch, error) {
	b.mu.Lock()
	b.names = append(b.names, name)
	b.amount = amount
	b.mu.Unlock()
	return b.search(name)
}

func (b *fakeBackend) SearchNearest(_ context.Context, lat, lon float64) (domain.NearestMatch, error) {
	return b.nearest(lat, lon)
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []hub.Message
}

func (p *recordingPublisher) Publish(_ string, msg hub.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, m := range p.msgs {
		if batch, ok := m.Payload.(hub.MapBatch); ok {
			for _, cmd := range batch.Commands {
				out = append(out, "map:"+cmd.Op)
			}
			continue
		}
		out = append(out, m.Type)
	}
	return out
}

func (p *recordingPublisher) lastMessage() (Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.msgs) - 1; i >= 0; i-- {
		if m, ok := p.msgs[i].Payload.(Message); ok {
			return m, true
		}
	}
	return Message{}, false
}

func (p *recordingPublisher) count(prefix string) int {
	n := 0
	for _, typ := range p.types() {
		if strings.HasPrefix(typ, prefix) {
			n++
		}
	}
	return n
}

var berlin = mustLoad("Europe/Berlin")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func oneJourney() *domain.RoutingResponse {
	a := domain.Coordinate{Lat: 49.24, Lon: 6.99}
	b := domain.Coordinate{Lat: 49.23, Lon: 7.0}
	return &domain.RoutingResponse{Time: 3, Journeys: []domain.Journey{{
		DepTime: 1524258300000,
		ArrTime: 1524259300000,
		Route: domain.Route{
			&domain.Node{Name: "A", At: a},
			&domain.Edge{Mode: domain.ModeCar, Name: "Road", Geom: []domain.Coordinate{a, b}},
			&domain.Node{Name: "B", At: b},
		},
	}}}
}

func newTestSession(t *testing.T, backend *fakeBackend, runner cobwebapi.Runner) (*Session, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	if runner == nil {
		runner = cobwebapi.Inline
	}
	s := New("s1", backend, pub, Options{
		MatchLimit: 5,
		FrameZoom:  17,
		Location:   berlin,
		Runner:     runner,
		Now:        func() time.Time { return time.Date(2018, 4, 20, 23, 5, 0, 0, berlin) },
	}, testLogger())
	t.Cleanup(s.Close)
	return s, pub
}

func validForm() panel.FormState {
	f := panel.New(berlin, time.Date(2018, 4, 20, 23, 5, 0, 0, berlin))
	f.From, f.FromID = "Start", "5843453"
	f.To, f.ToID = "Ziel", "3445345"
	return *f
}

func TestPlanFromPanel(t *testing.T) {
	backend := &fakeBackend{route: func(domain.RouteRequest) (*domain.RoutingResponse, error) { return oneJourney(), nil }}
	s, pub := newTestSession(t, backend, nil)

	s.PlanFromPanel(validForm())

	if len(backend.routes) != 1 {
		t.Fatalf("backend calls = %d, want 1", len(backend.routes))
	}
	req := backend.routes[0]
	if req.From != 5843453 || req.To != 3445345 || len(req.Modes) != 1 || req.Modes[0] != domain.ModeCar {
		t.Errorf("request = %+v", req)
	}

	want := []string{"message", "hash", "map:marker", "map:polyline", "map:marker", "map:fit"}
	if got := pub.types(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("published %v, want %v", got, want)
	}

	state := s.Snapshot()
	params := fragment.Decode(state.Hash)
	if params.Get("from") != "5843453" || params.Get("fromName") != "Start" || params.Get("modes") != "0" {
		t.Errorf("hash = %q", state.Hash)
	}
	if state.Message.Kind != MessageNone {
		t.Errorf("message = %+v, want none", state.Message)
	}
}

func TestPlanFromPanelInvalid(t *testing.T) {
	backend := &fakeBackend{}
	s, pub := newTestSession(t, backend, nil)

	form := validForm()
	form.Modes = nil
	s.PlanFromPanel(form)

	if len(backend.routes) != 0 {
		t.Error("invalid request reached the backend")
	}
	msg, ok := pub.lastMessage()
	if !ok || msg.Kind != MessageError || msg.Text != TextInvalidRequest {
		t.Errorf("message = %+v, want invalid request error", msg)
	}
	if s.Snapshot().Hash != "" {
		t.Error("invalid request was written to the fragment")
	}
}

func TestPlanNotReachable(t *testing.T) {
	backend := &fakeBackend{route: func(domain.RouteRequest) (*domain.RoutingResponse, error) {
		return &domain.RoutingResponse{Time: 1}, nil
	}}
	s, pub := newTestSession(t, backend, nil)

	s.PlanFromPanel(validForm())

	if n := pub.count("map:"); n != 0 {
		t.Errorf("map commands = %d, want 0", n)
	}
	msg, _ := pub.lastMessage()
	if msg.Kind != MessageInfo || msg.Text != TextNotReachable {
		t.Errorf("message = %+v, want not reachable", msg)
	}
}

func TestPlanTransportFailure(t *testing.T) {
	backend := &fakeBackend{route: func(domain.RouteRequest) (*domain.RoutingResponse, error) {
		return nil, &cobwebapi.StatusError{Endpoint: cobwebapi.EndpointRoute, Status: 503, Err: errors.New("unavailable")}
	}}
	s, pub := newTestSession(t, backend, nil)

	s.PlanFromPanel(validForm())

	msg, _ := pub.lastMessage()
	if msg.Kind != MessageError {
		t.Fatalf("message = %+v, want error", msg)
	}
	if !strings.HasPrefix(msg.Text, "Error while communicating with the server.\nStatus: 503\nMessage: ") {
		t.Errorf("message text = %q", msg.Text)
	}
	if !strings.Contains(msg.Text, "unavailable") {
		t.Errorf("message text %q lacks the error", msg.Text)
	}
}

func TestPlanClearsPreviousRoute(t *testing.T) {
	backend := &fakeBackend{route: func(domain.RouteRequest) (*domain.RoutingResponse, error) { return oneJourney(), nil }}
	s, pub := newTestSession(t, backend, nil)

	s.PlanFromPanel(validForm())
	pub.reset()
	s.PlanFromPanel(validForm())

	types := pub.types()
	want := []string{"map:remove", "map:remove", "map:remove", "message", "hash", "map:marker", "map:polyline", "map:marker", "map:fit"}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("published %v, want %v", types, want)
	}
}

func TestInvalidPlanClearsPreviousRoute(t *testing.T) {
	backend := &fakeBackend{route: func(domain.RouteRequest) (*domain.RoutingResponse, error) { return oneJourney(), nil }}
	s, pub := newTestSession(t, backend, nil)

	s.PlanFromPanel(validForm())
	pub.reset()

	form := validForm()
	form.Date = "not a date"
	s.PlanFromPanel(form)

	if n := pub.count("map:remove"); n != 3 {
		t.Errorf("removed %d elements, want 3", n)
	}
	if n := pub.count("map:marker"); n != 0 {
		t.Errorf("invalid request drew %d markers", n)
	}
}

func TestLoadFragment(t *testing.T) {
	backend := &fakeBackend{route: func(domain.RouteRequest) (*domain.RoutingResponse, error) { return oneJourney(), nil }}
	s, pub := newTestSession(t, backend, nil)

	s.LoadFragment("#from=1&to=2&depTime=1524258300000&modes=1&modes=2&fromName=Home&zoom=4")

	if len(backend.routes) != 1 {
		t.Fatalf("backend calls = %d, want 1", len(backend.routes))
	}
	state := s.Snapshot()
	if state.Form.From != "Home" || state.Form.FromID != "1" || state.Form.To != "2" {
		t.Errorf("form = %+v", state.Form)
	}
	if strings.Join(state.Form.Modes, ",") != "tram,foot" {
		t.Errorf("modes = %v, want tram,foot", state.Form.Modes)
	}
	if state.Form.Date != "2018-04-20" || state.Form.Time != "23:05" {
		t.Errorf("departure = %s %s", state.Form.Date, state.Form.Time)
	}
	if fragment.Decode(state.Hash).Get("zoom") != "4" {
		t.Errorf("hash %q lost an unrelated key", state.Hash)
	}
	if pub.types()[0] != "form" {
		t.Errorf("first message = %q, want form", pub.types()[0])
	}
}

func TestLoadFragmentIgnoresInvalid(t *testing.T) {
	for _, hash := range []string{"", "#%zz", "#from=1&to=2&depTime=3", "#from=a&to=2&depTime=3&modes=0", "#from=1&to=2&depTime=-1&modes=0"} {
		backend := &fakeBackend{}
		s, pub := newTestSession(t, backend, nil)

		s.LoadFragment(hash)

		if len(backend.routes) != 0 {
			t.Errorf("%q: backend called", hash)
		}
		if types := pub.types(); len(types) != 0 {
			t.Errorf("%q: published %v, want nothing", hash, types)
		}
	}
}

func TestSearchThenPlanUsesFirstMatch(t *testing.T) {
	backend := &fakeBackend{
		route: func(domain.RouteRequest) (*domain.RoutingResponse, error) { return oneJourney(), nil },
		search: func(name string) ([]domain.NameMatch, error) {
			if name == "Saar" {
				return []domain.NameMatch{{ID: 11, Label: "Saarbrücken"}, {ID: 12, Label: "Saarlouis"}}, nil
			}
			return []domain.NameMatch{{ID: 21, Label: "Homburg"}}, nil
		},
	}
	s, pub := newTestSession(t, backend, nil)

	if err := s.Search(domain.FieldFrom, " Saar "); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if err := s.Search(domain.FieldTo, "Hom"); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if backend.amount != 5 {
		t.Errorf("amount = %d, want 5", backend.amount)
	}
	if n := pub.count("matches"); n != 2 {
		t.Errorf("matches messages = %d, want 2", n)
	}

	form := validForm()
	form.From, form.FromID = "Saar", ""
	form.To, form.ToID = "Hom", ""
	s.PlanFromPanel(form)

	if len(backend.routes) != 1 {
		t.Fatalf("backend calls = %d, want 1", len(backend.routes))
	}
	if r := backend.routes[0]; r.From != 11 || r.To != 21 {
		t.Errorf("request = %+v, want first matches 11 -> 21", r)
	}
}

func TestSearchRejectsUnknownField(t *testing.T) {
	s, _ := newTestSession(t, &fakeBackend{}, nil)
	if err := s.Search("via", "x"); err == nil {
		t.Error("expected error for unknown field")
	}
}

type queuedRunner struct {
	mu    sync.Mutex
	queue []func()
}

func (q *queuedRunner) run(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queue = append(q.queue, fn)
}

func (q *queuedRunner) drain(order ...int) {
	q.mu.Lock()
	queue := q.queue
	q.queue = nil
	q.mu.Unlock()
	for _, i := range order {
		queue[i]()
	}
}

func TestStaleRouteResponseIsDropped(t *testing.T) {
	backend := &fakeBackend{route: func(req domain.RouteRequest) (*domain.RoutingResponse, error) {
		if req.From == 1 {
			return &domain.RoutingResponse{}, nil
		}
		return oneJourney(), nil
	}}
	q := &queuedRunner{}
	s, pub := newTestSession(t, backend, q.run)

	first := validForm()
	first.FromID = "1"
	s.PlanFromPanel(first)
	s.PlanFromPanel(validForm())

	pub.reset()
	q.drain(1, 0)

	if n := pub.count("map:marker"); n != 2 {
		t.Errorf("markers = %d, want 2 from the newest response", n)
	}
	if msg, ok := pub.lastMessage(); ok {
		t.Errorf("stale response published message %+v", msg)
	}
}

func TestRouteInFlightIsDroppedAfterInvalidAttempt(t *testing.T) {
	backend := &fakeBackend{route: func(domain.RouteRequest) (*domain.RoutingResponse, error) { return oneJourney(), nil }}
	q := &queuedRunner{}
	s, pub := newTestSession(t, backend, q.run)

	s.PlanFromPanel(validForm())
	invalid := validForm()
	invalid.ToID = "not a number"
	s.PlanFromPanel(invalid)

	pub.reset()
	q.drain(0)

	if n := pub.count("map:"); n != 0 {
		t.Errorf("superseded route drew %v", pub.types())
	}
	if msg := s.Snapshot().Message; msg.Kind != MessageError || msg.Text != TextInvalidRequest {
		t.Errorf("message = %+v, want the invalid request error", msg)
	}
}

func TestStaleMatchesAreDropped(t *testing.T) {
	backend := &fakeBackend{search: func(name string) ([]domain.NameMatch, error) {
		return []domain.NameMatch{{ID: int64(len(name)), Label: name}}, nil
	}}
	q := &queuedRunner{}
	s, _ := newTestSession(t, backend, q.run)

	s.Search(domain.FieldFrom, "S")
	s.Search(domain.FieldFrom, "Saar")
	q.drain(1, 0)

	matches := s.Snapshot().Matches[domain.FieldFrom]
	if len(matches) != 1 || matches[0].Label != "Saar" {
		t.Errorf("matches = %+v, want the newest search", matches)
	}
}

func TestNearest(t *testing.T) {
	backend := &fakeBackend{nearest: func(lat, lon float64) (domain.NearestMatch, error) {
		return domain.NearestMatch{ID: 77, Latitude: 49.2345678, Longitude: 6.9876543}, nil
	}}
	s, pub := newTestSession(t, backend, nil)

	if err := s.Nearest(domain.FieldTo, 49.2, 6.9); err != nil {
		t.Fatalf("Nearest: %v", err)
	}

	form := s.Snapshot().Form
	if form.ToID != "77" || form.To != "49.23457, 6.98765" {
		t.Errorf("form = %+v", form)
	}
	if pub.count("form") != 1 {
		t.Errorf("published %v, want one form", pub.types())
	}
}

func TestNearestFailure(t *testing.T) {
	backend := &fakeBackend{nearest: func(lat, lon float64) (domain.NearestMatch, error) {
		return domain.NearestMatch{}, &cobwebapi.StatusError{Endpoint: cobwebapi.EndpointNearestSearch, Err: cobwebapi.ErrTimeout}
	}}
	s, pub := newTestSession(t, backend, nil)

	s.Nearest(domain.FieldFrom, 1, 2)

	msg, _ := pub.lastMessage()
	if msg.Kind != MessageError || !strings.Contains(msg.Text, "Status: 0") {
		t.Errorf("message = %+v", msg)
	}
}

func TestLargeRouteReachesHubClientInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := hub.NewHub(testLogger())
	go h.Run(ctx)

	const elements = 601
	var route domain.Route
	for i := range elements {
		at := domain.Coordinate{Lat: 49 + float64(i)/1000, Lon: 7}
		if i%2 == 0 {
			route = append(route, &domain.Node{Name: "n", At: at})
			continue
		}
		route = append(route, &domain.Edge{Mode: domain.ModeBike, Geom: []domain.Coordinate{at, {Lat: at.Lat + 0.001, Lon: 7}}})
	}
	backend := &fakeBackend{route: func(domain.RouteRequest) (*domain.RoutingResponse, error) {
		return &domain.RoutingResponse{Journeys: []domain.Journey{{Route: route}}}, nil
	}}

	s := New("s1", backend, h, Options{FrameZoom: 17, Location: berlin, Runner: cobwebapi.Inline}, testLogger())
	defer s.Close()

	client := hub.NewClient("c", "s1", 8)
	h.Register(client)

	s.PlanFromPanel(validForm())
	s.PlanFromPanel(validForm())

	var batches [][]hub.MapCommand
	deadline := time.After(2 * time.Second)
	for len(batches) < 3 {
		select {
		case data, ok := <-client.Send:
			if !ok {
				t.Fatal("client was disconnected")
			}
			var msg struct {
				Type    string       `json:"type"`
				Payload hub.MapBatch `json:"payload"`
			}
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("decoding %s: %v", data, err)
			}
			if msg.Type == "map" {
				batches = append(batches, msg.Payload.Commands)
			}
		case <-deadline:
			t.Fatalf("received %d map messages, want 3", len(batches))
		}
	}

	first, removed, second := batches[0], batches[1], batches[2]
	for name, b := range map[string][]hub.MapCommand{"first": first, "second": second} {
		if len(b) != elements+1 {
			t.Fatalf("%s render has %d commands, want %d", name, len(b), elements+1)
		}
		if b[0].Op != hub.OpMarker || b[elements-1].Op != hub.OpMarker || b[elements].Op != hub.OpFit {
			t.Errorf("%s render framing = %s %s %s", name, b[0].Op, b[elements-1].Op, b[elements].Op)
		}
	}
	if len(removed) != elements {
		t.Fatalf("clear has %d commands, want %d", len(removed), elements)
	}
	for i, c := range removed {
		if c.Op != hub.OpRemove || c.ID != first[i].ID {
			t.Fatalf("remove %d = %+v, want id %s", i, c, first[i].ID)
		}
	}
}
