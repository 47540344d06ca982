// Package panel models the planning form shown next to the map: the two
// place inputs with their hidden node ids, the departure date and time
// pickers and the transport mode toggles.
package panel

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"tripplan/internal/domain"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// FormState is the value of every widget of the form.
type FormState struct {
	From   string   `json:"from"`
	FromID string   `json:"fromId"`
	To     string   `json:"to"`
	ToID   string   `json:"toId"`
	Date   string   `json:"date"`
	Time   string   `json:"time"`
	Modes  []string `json:"modes"`

	loc *time.Location
}

// New returns the initial form: departure now, car selected.
func New(loc *time.Location, now time.Time) *FormState {
	f := &FormState{loc: loc}
	f.setTime(now)
	f.Modes = []string{domain.ModeCar.String()}
	return f
}

// In sets the time zone the date and time pickers are read in.
func (f *FormState) In(loc *time.Location) *FormState {
	f.loc = loc
	return f
}

func (f *FormState) location() *time.Location {
	if f.loc == nil {
		return time.UTC
	}
	return f.loc
}

func (f *FormState) Text(field domain.Field) string {
	if field == domain.FieldTo {
		return f.To
	}
	return f.From
}

func (f *FormState) NodeID(field domain.Field) string {
	if field == domain.FieldTo {
		return f.ToID
	}
	return f.FromID
}

// Departure composes the date and time pickers into epoch milliseconds.
func (f *FormState) Departure() (int64, error) {
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout,
		strings.TrimSpace(f.Date)+" "+strings.TrimSpace(f.Time), f.location())
	if err != nil {
		return 0, fmt.Errorf("parsing departure: %w", err)
	}
	return t.UnixMilli(), nil
}

// SelectedModes returns the names of the selected mode toggles.
func (f *FormState) SelectedModes() []string {
	out := make([]string, len(f.Modes))
	copy(out, f.Modes)
	return out
}

func (f *FormState) SetText(field domain.Field, value string) {
	if field == domain.FieldTo {
		f.To = value
		return
	}
	f.From = value
}

func (f *FormState) SetNodeID(field domain.Field, value string) {
	if field == domain.FieldTo {
		f.ToID = value
		return
	}
	f.FromID = value
}

func (f *FormState) SetDeparture(ms int64) {
	f.setTime(time.UnixMilli(ms))
}

func (f *FormState) setTime(t time.Time) {
	t = t.In(f.location())
	f.Date = t.Format(DateLayout)
	f.Time = t.Format(TimeLayout)
}

func (f *FormState) ClearModes() {
	f.Modes = f.Modes[:0]
}

// SelectMode marks a toggle as selected. Unknown names are ignored.
func (f *FormState) SelectMode(name string) {
	if _, ok := domain.ModeByName(name); !ok || f.isSelected(name) {
		return
	}
	f.Modes = append(f.Modes, name)
	f.sortModes()
}

// ToggleMode flips a toggle, as a click on it does.
func (f *FormState) ToggleMode(name string) {
	if !f.isSelected(name) {
		f.SelectMode(name)
		return
	}
	kept := f.Modes[:0]
	for _, m := range f.Modes {
		if m != name {
			kept = append(kept, m)
		}
	}
	f.Modes = kept
}

func (f *FormState) isSelected(name string) bool {
	for _, m := range f.Modes {
		if m == name {
			return true
		}
	}
	return false
}

func (f *FormState) sortModes() {
	sort.Slice(f.Modes, func(i, j int) bool {
		a, _ := domain.ModeByName(f.Modes[i])
		b, _ := domain.ModeByName(f.Modes[j])
		return a < b
	})
}

// Clone returns an independent copy bound to the same time zone.
func (f *FormState) Clone() *FormState {
	c := *f
	c.Modes = f.SelectedModes()
	return &c
}
