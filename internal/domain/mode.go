package domain

// TransportMode identifies a way of travelling an edge. The integer values
// are part of the backend wire contract.
type TransportMode int

const (
	ModeCar  TransportMode = 0
	ModeTram TransportMode = 1
	ModeFoot TransportMode = 2
	ModeBike TransportMode = 3
)

// Modes lists every recognized mode in identifier order.
var Modes = []TransportMode{ModeCar, ModeTram, ModeFoot, ModeBike}

func (m TransportMode) String() string {
	switch m {
	case ModeCar:
		return "car"
	case ModeTram:
		return "tram"
	case ModeFoot:
		return "foot"
	case ModeBike:
		return "bike"
	default:
		return "unknown"
	}
}

// Color is the stroke color used when drawing edges of this mode.
func (m TransportMode) Color() string {
	switch m {
	case ModeCar:
		return "red"
	case ModeTram:
		return "blue"
	case ModeFoot:
		return "orange"
	case ModeBike:
		return "green"
	default:
		return "gray"
	}
}

// Valid reports whether m is one of the recognized mode identifiers.
func (m TransportMode) Valid() bool {
	return m >= ModeCar && m <= ModeBike
}

// ModeByName resolves a mode toggle name ("car", "tram", ...) to its mode.
func ModeByName(name string) (TransportMode, bool) {
	for _, m := range Modes {
		if m.String() == name {
			return m, true
		}
	}
	return 0, false
}
