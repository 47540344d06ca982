package cobwebapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"tripplan/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		RouteURL:   srv.URL + "/route",
		NameURL:    srv.URL + "/namesearch",
		NearestURL: srv.URL + "/nearestsearch",
		Timeout:    timeout,
	}, testLogger())
}

const mockRouting = `{"time":12,"compTime":3,"from":5843453,"to":3445345,"journeys":[{"depTime":1524258300000,"arrTime":1524260100000,"route":[
{"type":0,"name":"Start","geom":[[49.2,6.9]]},
{"type":1,"mode":1,"name":"Line 1","geom":[[49.2,6.9],[49.21,6.95]]},
{"type":0,"name":"End","geom":[[49.21,6.95]]}]}]}`

func TestPlanRoute(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/route" {
			t.Errorf("request = %s %s, want POST /route", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		io.WriteString(w, mockRouting)
	}, time.Second)

	req := domain.RouteRequest{From: 5843453, To: 3445345, DepTime: 1524258300000, Modes: []domain.TransportMode{domain.ModeCar, domain.ModeTram}}
	resp, err := client.PlanRoute(context.Background(), req)
	if err != nil {
		t.Fatalf("PlanRoute: %v", err)
	}

	if got["from"] != float64(5843453) || got["depTime"] != float64(1524258300000) {
		t.Errorf("payload = %v", got)
	}
	if modes, _ := got["modes"].([]any); len(modes) != 2 || modes[1] != float64(1) {
		t.Errorf("payload modes = %v, want [0 1]", got["modes"])
	}

	if len(resp.Journeys) != 1 || len(resp.Journeys[0].Route) != 3 {
		t.Fatalf("response = %+v", resp)
	}
	edge, ok := resp.Journeys[0].Route[1].(*domain.Edge)
	if !ok || edge.Mode != domain.ModeTram {
		t.Errorf("route[1] = %#v, want tram edge", resp.Journeys[0].Route[1])
	}
	if resp.CompTime != 3 {
		t.Errorf("CompTime = %d, want 3", resp.CompTime)
	}
}

func TestSearchName(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var payload domain.NameSearchRequest
		json.NewDecoder(r.Body).Decode(&payload)
		if payload.Name != "Saar" || payload.Amount != 5 {
			t.Errorf("payload = %+v", payload)
		}
		io.WriteString(w, `{"time":1,"matches":[{"id":7,"name":"Saarbrücken"},{"id":8,"name":"Saarlouis"}]}`)
	}, time.Second)

	matches, err := client.SearchName(context.Background(), "Saar", 5)
	if err != nil {
		t.Fatalf("SearchName: %v", err)
	}
	if len(matches) != 2 || matches[0].ID != 7 || matches[0].Label != "Saarbrücken" {
		t.Errorf("matches = %+v", matches)
	}
}

func TestSearchNearest(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"time":1,"id":99,"latitude":49.1,"longitude":6.9}`)
	}, time.Second)

	match, err := client.SearchNearest(context.Background(), 49.1001, 6.9001)
	if err != nil {
		t.Fatalf("SearchNearest: %v", err)
	}
	if match.ID != 99 || match.Latitude != 49.1 {
		t.Errorf("match = %+v", match)
	}
}

func TestDoReportsStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}, time.Second)

	_, err := client.SearchName(context.Background(), "x", 5)
	if got := StatusOf(err); got != http.StatusInternalServerError {
		t.Errorf("StatusOf = %d, want 500 (err %v)", got, err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error %q does not carry the response body", err)
	}
}

func TestDoTimeout(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
	}, 50*time.Millisecond)
	defer close(release)

	_, err := client.PlanRoute(context.Background(), domain.RouteRequest{Modes: []domain.TransportMode{domain.ModeCar}})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("error = %v, want ErrTimeout", err)
	}
	if StatusOf(err) != 0 {
		t.Errorf("StatusOf = %d, want 0", StatusOf(err))
	}
}

func TestDoRejectsUnknownElementTag(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"time":1,"journeys":[{"depTime":0,"arrTime":0,"route":[{"type":7,"name":"?","geom":[[1,2]]}]}]}`)
	}, time.Second)

	if _, err := client.PlanRoute(context.Background(), domain.RouteRequest{}); err == nil {
		t.Error("expected decode error for unknown element type")
	}
}

type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memoryCache) GetJSON(_ context.Context, key string, dest any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dest)
}

func (m *memoryCache) SetJSON(_ context.Context, key string, value any, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = b
	return nil
}

func TestResponsesAreCached(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		io.WriteString(w, mockRouting)
	}, time.Second)
	client.WithCache(&memoryCache{data: map[string][]byte{}}, time.Minute)

	req := domain.RouteRequest{From: 1, To: 2, DepTime: 3, Modes: []domain.TransportMode{domain.ModeCar}}
	for i := 0; i < 2; i++ {
		resp, err := client.PlanRoute(context.Background(), req)
		if err != nil {
			t.Fatalf("PlanRoute #%d: %v", i, err)
		}
		if len(resp.Journeys[0].Route) != 3 {
			t.Fatalf("PlanRoute #%d: route = %v", i, resp.Journeys[0].Route)
		}
	}
	if calls != 1 {
		t.Errorf("backend calls = %d, want 1", calls)
	}
}

func TestNameSearchCacheKeepsCase(t *testing.T) {
	var names []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req domain.NameSearchRequest
		json.NewDecoder(r.Body).Decode(&req)
		names = append(names, req.Name)
		io.WriteString(w, `{"matches":[{"id":1,"name":"`+req.Name+`"}]}`)
	}, time.Second)
	client.WithCache(&memoryCache{data: map[string][]byte{}}, time.Minute)

	for _, name := range []string{"Berlin", "berlin", "Berlin"} {
		if _, err := client.SearchName(context.Background(), name, 5); err != nil {
			t.Fatalf("SearchName(%q): %v", name, err)
		}
	}
	if want := []string{"Berlin", "berlin"}; strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("backend saw %v, want %v", names, want)
	}
}

func TestSend(t *testing.T) {
	var success int
	var status int
	var failure error

	Send(Inline, func() (int, error) { return 4, nil },
		func(v int) { success = v },
		func(s int, err error) { t.Errorf("unexpected failure %d %v", s, err) })
	if success != 4 {
		t.Errorf("onSuccess got %d, want 4", success)
	}

	want := &StatusError{Endpoint: EndpointRoute, Status: 502, Err: errors.New("bad gateway")}
	Send(Inline, func() (int, error) { return 0, want },
		func(int) { t.Error("unexpected success") },
		func(s int, err error) { status, failure = s, err })
	if status != 502 || !errors.Is(failure, want) {
		t.Errorf("onFailure got %d %v", status, failure)
	}
}
