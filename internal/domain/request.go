package domain

// NodeID identifies a node of the backend road/transit graph.
type NodeID = int64

// Field is a logical input of the planning panel.
type Field string

const (
	FieldFrom Field = "from"
	FieldTo   Field = "to"
)

// Valid reports whether f names one of the two place inputs.
func (f Field) Valid() bool {
	return f == FieldFrom || f == FieldTo
}

// RawRequest is a candidate route request whose values have not been
// coerced yet. Values may be strings, numbers or nil depending on where
// they were read from.
type RawRequest struct {
	From    any
	To      any
	DepTime any
	Modes   []any
}

// RouteRequest is a validated request for the route planning endpoint.
// DepTime is in epoch milliseconds.
type RouteRequest struct {
	From    NodeID          `json:"from" validate:"gte=0"`
	To      NodeID          `json:"to" validate:"gte=0"`
	DepTime int64           `json:"depTime" validate:"gte=0"`
	Modes   []TransportMode `json:"modes" validate:"min=1,dive,transportmode"`
}

// Raw converts a validated request back into its loosely typed form.
func (r RouteRequest) Raw() RawRequest {
	modes := make([]any, 0, len(r.Modes))
	for _, m := range r.Modes {
		modes = append(modes, int(m))
	}
	return RawRequest{
		From:    r.From,
		To:      r.To,
		DepTime: r.DepTime,
		Modes:   modes,
	}
}

// HasMode reports whether m was requested.
func (r RouteRequest) HasMode(m TransportMode) bool {
	for _, mode := range r.Modes {
		if mode == m {
			return true
		}
	}
	return false
}

// Names are the human readable labels travelling alongside node ids.
type Names struct {
	From string `json:"fromName,omitempty"`
	To   string `json:"toName,omitempty"`
}

// For returns the name tracked for field f.
func (n Names) For(f Field) string {
	if f == FieldTo {
		return n.To
	}
	return n.From
}

// NameMatch is a single result of the name search service.
type NameMatch struct {
	ID    NodeID `json:"id"`
	Label string `json:"name"`
}

// NearestMatch is the node closest to a queried coordinate.
type NearestMatch struct {
	ID        NodeID  `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NameSearchRequest is the payload of the name search endpoint.
type NameSearchRequest struct {
	Name   string `json:"name"`
	Amount int    `json:"amount"`
}

// NameSearchResponse is returned by the name search endpoint. Time is the
// server side computation time in milliseconds.
type NameSearchResponse struct {
	Time    int64       `json:"time"`
	Matches []NameMatch `json:"matches"`
}

// NearestSearchRequest is the payload of the nearest search endpoint.
type NearestSearchRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NearestSearchResponse is returned by the nearest search endpoint.
type NearestSearchResponse struct {
	Time int64 `json:"time"`
	NearestMatch
}
