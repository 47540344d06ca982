package hub

import (
	"sync"

	"tripplan/internal/domain"
	"tripplan/internal/render"
)

const (
	OpMarker   = "marker"
	OpCircle   = "circle"
	OpPolyline = "polyline"
	OpRemove   = "remove"
	OpFit      = "fit"
)

// MapCommand is one drawing operation inside a map batch.
type MapCommand struct {
	Op      string              `json:"op"`
	ID      string              `json:"id,omitempty"`
	Coords  []domain.Coordinate `json:"coords,omitempty"`
	Color   string              `json:"color,omitempty"`
	Weight  int                 `json:"weight,omitempty"`
	Opacity float64             `json:"opacity,omitempty"`
	Popup   string              `json:"popup,omitempty"`
	MaxZoom int                 `json:"maxZoom,omitempty"`
	TileID  string              `json:"tileId,omitempty"`
}

// MapBatch is the payload of a "map" message. The browser applies the
// commands in order.
type MapBatch struct {
	Commands []MapCommand `json:"commands"`
}

// Publisher is satisfied by *Hub.
type Publisher interface {
	Publish(sessionID string, msg Message)
}

// Surface draws on the map of one session. Commands are collected until
// Flush and then published as a single "map" message, so a render reaches
// the browser whole or not at all.
type Surface struct {
	pub       Publisher
	sessionID string

	mu      sync.Mutex
	pending []MapCommand
}

var (
	_ render.Surface = (*Surface)(nil)
	_ render.Flusher = (*Surface)(nil)
)

func NewSurface(pub Publisher, sessionID string) *Surface {
	return &Surface{pub: pub, sessionID: sessionID}
}

func (s *Surface) send(cmd MapCommand) {
	s.mu.Lock()
	s.pending = append(s.pending, cmd)
	s.mu.Unlock()
}

// Flush publishes the pending commands. It does nothing when none are
// pending.
func (s *Surface) Flush() {
	s.mu.Lock()
	cmds := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(cmds) == 0 {
		return
	}
	s.pub.Publish(s.sessionID, Message{Type: "map", Payload: MapBatch{Commands: cmds}})
}

func (s *Surface) AddMarker(id string, at domain.Coordinate, popup string) {
	s.send(MapCommand{Op: OpMarker, ID: id, Coords: []domain.Coordinate{at}, Popup: popup})
}

func (s *Surface) AddCircleMarker(id string, at domain.Coordinate, popup string) {
	s.send(MapCommand{Op: OpCircle, ID: id, Coords: []domain.Coordinate{at}, Popup: popup})
}

func (s *Surface) AddPolyline(id string, path []domain.Coordinate, style render.LineStyle, popup string) {
	s.send(MapCommand{
		Op:      OpPolyline,
		ID:      id,
		Coords:  path,
		Color:   style.Color,
		Weight:  style.Weight,
		Opacity: style.Opacity,
		Popup:   popup,
	})
}

func (s *Surface) Remove(id string) {
	s.send(MapCommand{Op: OpRemove, ID: id})
}

// FitBounds frames coords. The tile holding their center at maxZoom lets
// the browser prefetch it.
func (s *Surface) FitBounds(coords []domain.Coordinate, maxZoom int) {
	cmd := MapCommand{Op: OpFit, Coords: coords, MaxZoom: maxZoom}
	if len(coords) > 0 {
		c := domain.BoundsOf(coords).Center()
		cmd.TileID = TileID(c.Lat, c.Lon, maxZoom)
	}
	s.send(cmd)
}
