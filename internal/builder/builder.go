// Package builder assembles candidate route requests from the URL fragment
// or the planning form and hands them to validation.
package builder

import (
	"tripplan/internal/domain"
	"tripplan/internal/validate"
)

// Panel is the read side of the planning form.
type Panel interface {
	Text(field domain.Field) string
	NodeID(field domain.Field) string
	Departure() (int64, error)
	SelectedModes() []string
}

// Matches provides the cached name search results of a field.
type Matches interface {
	First(field domain.Field) (domain.NameMatch, bool)
}

// FragmentReader is the read side of the URL fragment.
type FragmentReader interface {
	Read() domain.RawRequest
	ReadNames() domain.Names
}

// FromFragment validates the request stored in the fragment.
func FromFragment(fragment FragmentReader) (domain.RouteRequest, domain.Names, error) {
	req, err := validate.Request(fragment.Read())
	if err != nil {
		return domain.RouteRequest{}, domain.Names{}, err
	}
	return req, fragment.ReadNames(), nil
}

// FromPanel reads the form, resolves node ids and validates the result.
func FromPanel(p Panel, matches Matches) (domain.RouteRequest, domain.Names, error) {
	from, fromName := ResolveNodeID(p, matches, domain.FieldFrom)
	to, toName := ResolveNodeID(p, matches, domain.FieldTo)

	var depTime any
	if ms, err := p.Departure(); err == nil {
		depTime = ms
	}

	selected := p.SelectedModes()
	modes := make([]any, 0, len(selected))
	for _, name := range selected {
		if mode, ok := domain.ModeByName(name); ok {
			modes = append(modes, int(mode))
		} else {
			// Left uncoerced so validation rejects the whole request.
			modes = append(modes, name)
		}
	}

	raw := domain.RawRequest{
		From:    from,
		To:      to,
		DepTime: depTime,
		Modes:   modes,
	}
	req, err := validate.Request(raw)
	if err != nil {
		return domain.RouteRequest{}, domain.Names{}, err
	}
	return req, domain.Names{From: fromName, To: toName}, nil
}

// ResolveNodeID picks the node id for field. An id chosen from the
// dropdown wins; without one the first cached match of the field is used.
// With neither the id is absent (nil) and validation rejects it.
func ResolveNodeID(p Panel, matches Matches, field domain.Field) (id any, name string) {
	name = p.Text(field)
	if explicit := p.NodeID(field); explicit != "" {
		return explicit, name
	}
	if matches != nil {
		if m, ok := matches.First(field); ok {
			if name == "" {
				name = m.Label
			}
			return m.ID, name
		}
	}
	return nil, name
}
