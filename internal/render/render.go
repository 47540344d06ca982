// Package render draws routing responses onto a map surface.
package render

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tripplan/internal/domain"
)

const (
	DefaultFrameZoom = 17
	PopupTimeLayout  = "02.01.2006 15:04"

	departurePrefix = "Departure at: "
	arrivalPrefix   = "Arrival at: "
)

// LineStyle is how a polyline is stroked.
type LineStyle struct {
	Color   string  `json:"color"`
	Weight  int     `json:"weight"`
	Opacity float64 `json:"opacity"`
}

// EdgeStyle returns the stroke of an edge travelled with mode.
func EdgeStyle(mode domain.TransportMode) LineStyle {
	return LineStyle{Color: mode.Color(), Weight: 8, Opacity: 0.5}
}

// Surface is the map the renderer draws on. Every element is addressed by
// the id it was added with.
type Surface interface {
	AddMarker(id string, at domain.Coordinate, popup string)
	AddCircleMarker(id string, at domain.Coordinate, popup string)
	AddPolyline(id string, path []domain.Coordinate, style LineStyle, popup string)
	Remove(id string)
	FitBounds(coords []domain.Coordinate, maxZoom int)
}

// Flusher is implemented by surfaces that hold commands back until a batch
// is complete. The renderer flushes once at the end of Render and Clear.
type Flusher interface {
	Flush()
}

type Outcome int

const (
	OutcomeRendered Outcome = iota
	OutcomeNotReachable
)

func (o Outcome) String() string {
	if o == OutcomeNotReachable {
		return "not_reachable"
	}
	return "rendered"
}

// Renderer tracks every element it placed so the next planning attempt can
// remove them all before drawing.
type Renderer struct {
	mu        sync.Mutex
	surface   Surface
	placed    []string
	frameZoom int
	loc       *time.Location
}

func New(surface Surface, frameZoom int, loc *time.Location) *Renderer {
	if frameZoom <= 0 {
		frameZoom = DefaultFrameZoom
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Renderer{
		surface:   surface,
		frameZoom: frameZoom,
		loc:       loc,
	}
}

// Render draws every journey of resp. A response without journeys is
// reported as OutcomeNotReachable and leaves the map untouched. Render does
// not clear earlier elements; call Clear first.
func (r *Renderer) Render(resp *domain.RoutingResponse) (Outcome, error) {
	if resp == nil {
		return 0, errors.New("render: nil response")
	}
	if len(resp.Journeys) == 0 {
		return OutcomeNotReachable, nil
	}
	for i, j := range resp.Journeys {
		if err := checkJourney(j); err != nil {
			return 0, fmt.Errorf("render journey %d: %w", i, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, j := range resp.Journeys {
		r.drawJourney(j)
	}
	r.flush()
	return OutcomeRendered, nil
}

func checkJourney(j domain.Journey) error {
	if len(j.Route) == 0 {
		return errors.New("empty route")
	}
	for i, el := range j.Route {
		switch e := el.(type) {
		case *domain.Node:
			if e == nil {
				return fmt.Errorf("element %d is nil", i)
			}
		case *domain.Edge:
			if e == nil || len(e.Geom) < 2 {
				return fmt.Errorf("element %d: edge geometry too short", i)
			}
		default:
			return fmt.Errorf("element %d: unsupported type %T", i, el)
		}
	}
	return nil
}

func (r *Renderer) drawJourney(j domain.Journey) {
	route := j.Route
	departure := route[0].Start()

	r.surface.AddMarker(r.track(), departure, departurePrefix+r.formatTime(j.DepTime))

	var interior domain.Route
	if len(route) > 2 {
		interior = route[1 : len(route)-1]
	}
	for _, el := range interior {
		switch e := el.(type) {
		case *domain.Edge:
			r.surface.AddPolyline(r.track(), e.Geom, EdgeStyle(e.Mode), e.Name)
		case *domain.Node:
			r.surface.AddCircleMarker(r.track(), e.At, e.Name)
		}
	}

	r.surface.AddMarker(r.track(), route[len(route)-1].End(), arrivalPrefix+r.formatTime(j.ArrTime))

	r.surface.FitBounds([]domain.Coordinate{departure}, r.frameZoom)
}

func (r *Renderer) track() string {
	id := uuid.NewString()
	r.placed = append(r.placed, id)
	return id
}

func (r *Renderer) formatTime(ms int64) string {
	return time.UnixMilli(ms).In(r.loc).Format(PopupTimeLayout)
}

// Clear removes every element placed since the last Clear.
func (r *Renderer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.placed) == 0 {
		return
	}
	for _, id := range r.placed {
		r.surface.Remove(id)
	}
	r.placed = nil
	r.flush()
}

func (r *Renderer) flush() {
	if f, ok := r.surface.(Flusher); ok {
		f.Flush()
	}
}

// Placed returns the number of elements currently on the map.
func (r *Renderer) Placed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.placed)
}
