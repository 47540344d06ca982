package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Coordinate is a WGS84 point. On the wire it is a [lat, lon] pair.
type Coordinate struct {
	Lat float64
	Lon float64
}

func (c Coordinate) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{c.Lat, c.Lon})
}

func (c *Coordinate) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("decoding coordinate: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("coordinate must have 2 components, got %d", len(pair))
	}
	for _, v := range pair {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("coordinate component is not finite")
		}
	}
	c.Lat, c.Lon = pair[0], pair[1]
	return nil
}

// ElementType is the discriminant of a route element on the wire.
type ElementType int

const (
	ElementNode ElementType = 0
	ElementEdge ElementType = 1
)

// RouteElement is either a *Node or an *Edge.
type RouteElement interface {
	Kind() ElementType
	// Start is the first coordinate of the element's geometry.
	Start() Coordinate
	// End is the last coordinate of the element's geometry.
	End() Coordinate
}

// Node is a place on the route: departure, arrival or a stop in between.
type Node struct {
	Name string
	At   Coordinate
}

func (n *Node) Kind() ElementType { return ElementNode }
func (n *Node) Start() Coordinate { return n.At }
func (n *Node) End() Coordinate { return n.At }

// Edge is a traversal between two places using a single mode.
type Edge struct {
	Mode TransportMode
	Name string
	Geom []Coordinate
}

func (e *Edge) Kind() ElementType { return ElementEdge }
func (e *Edge) Start() Coordinate { return e.Geom[0] }
func (e *Edge) End() Coordinate { return e.Geom[len(e.Geom)-1] }

type wireElement struct {
	Type ElementType     `json:"type"`
	Mode *TransportMode  `json:"mode,omitempty"`
	Name string          `json:"name"`
	Geom json.RawMessage `json:"geom"`
}

// Route is the ordered element sequence of a journey.
type Route []RouteElement

func (r Route) MarshalJSON() ([]byte, error) {
	out := make([]wireElement, 0, len(r))
	for i, el := range r {
		var w wireElement
		var geom any
		switch e := el.(type) {
		case *Node:
			w = wireElement{Type: ElementNode, Name: e.Name}
			geom = []Coordinate{e.At}
		case *Edge:
			mode := e.Mode
			w = wireElement{Type: ElementEdge, Mode: &mode, Name: e.Name}
			geom = e.Geom
		default:
			return nil, fmt.Errorf("route element %d: unsupported type %T", i, el)
		}
		data, err := json.Marshal(geom)
		if err != nil {
			return nil, fmt.Errorf("route element %d: %w", i, err)
		}
		w.Geom = data
		out = append(out, w)
	}
	return json.Marshal(out)
}

func (r *Route) UnmarshalJSON(data []byte) error {
	var wire []wireElement
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decoding route: %w", err)
	}

	route := make(Route, 0, len(wire))
	for i, w := range wire {
		el, err := w.element()
		if err != nil {
			return fmt.Errorf("route element %d: %w", i, err)
		}
		route = append(route, el)
	}
	*r = route
	return nil
}

func (w wireElement) element() (RouteElement, error) {
	switch w.Type {
	case ElementNode:
		at, err := decodeNodeGeom(w.Geom)
		if err != nil {
			return nil, err
		}
		return &Node{Name: w.Name, At: at}, nil

	case ElementEdge:
		if w.Mode == nil {
			return nil, errors.New("edge without mode")
		}
		if !w.Mode.Valid() {
			return nil, fmt.Errorf("edge with unknown mode %d", *w.Mode)
		}
		var geom []Coordinate
		if err := json.Unmarshal(w.Geom, &geom); err != nil {
			return nil, fmt.Errorf("decoding edge geometry: %w", err)
		}
		if len(geom) < 2 {
			return nil, fmt.Errorf("edge geometry has %d coordinates, need at least 2", len(geom))
		}
		return &Edge{Mode: *w.Mode, Name: w.Name, Geom: geom}, nil

	default:
		return nil, fmt.Errorf("unknown element type %d", w.Type)
	}
}

// decodeNodeGeom accepts the wrapped [[lat, lon]] form as well as a bare
// [lat, lon] pair.
func decodeNodeGeom(raw json.RawMessage) (Coordinate, error) {
	var wrapped []Coordinate
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		if len(wrapped) != 1 {
			return Coordinate{}, fmt.Errorf("node geometry has %d coordinates, need exactly 1", len(wrapped))
		}
		return wrapped[0], nil
	}

	var bare Coordinate
	if err := json.Unmarshal(raw, &bare); err != nil {
		return Coordinate{}, fmt.Errorf("decoding node geometry: %w", err)
	}
	return bare, nil
}

// Journey is one itinerary returned for a route request. Times are epoch
// milliseconds.
type Journey struct {
	DepTime int64 `json:"depTime"`
	ArrTime int64 `json:"arrTime"`
	Route   Route `json:"route"`
}

// RoutingResponse is returned by the route planning endpoint. An empty
// Journeys slice means the destination is not reachable.
type RoutingResponse struct {
	Time     int64     `json:"time"`
	CompTime int64     `json:"compTime,omitempty"`
	From     NodeID    `json:"from,omitempty"`
	To       NodeID    `json:"to,omitempty"`
	Journeys []Journey `json:"journeys"`
}

// BoundingBox represents a geographic rectangle
type BoundingBox struct {
	MinLat float64 `json:"minLat"`
	MaxLat float64 `json:"maxLat"`
	MinLon float64 `json:"minLon"`
	MaxLon float64 `json:"maxLon"`
}

// BoundsOf returns the smallest box containing all coords.
func BoundsOf(coords []Coordinate) BoundingBox {
	if len(coords) == 0 {
		return BoundingBox{}
	}
	bb := BoundingBox{
		MinLat: coords[0].Lat, MaxLat: coords[0].Lat,
		MinLon: coords[0].Lon, MaxLon: coords[0].Lon,
	}
	for _, c := range coords[1:] {
		bb.MinLat = math.Min(bb.MinLat, c.Lat)
		bb.MaxLat = math.Max(bb.MaxLat, c.Lat)
		bb.MinLon = math.Min(bb.MinLon, c.Lon)
		bb.MaxLon = math.Max(bb.MaxLon, c.Lon)
	}
	return bb
}

// Center returns the midpoint of the box.
func (bb BoundingBox) Center() Coordinate {
	return Coordinate{
		Lat: (bb.MinLat + bb.MaxLat) / 2,
		Lon: (bb.MinLon + bb.MaxLon) / 2,
	}
}
