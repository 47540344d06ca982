// Package fragment keeps the route request in the URL fragment so planned
// routes can be shared and bookmarked.
package fragment

import (
	"net/url"
	"strconv"
	"strings"
	"sync"

	"tripplan/internal/domain"
)

const (
	KeyFrom     = "from"
	KeyTo       = "to"
	KeyDepTime  = "depTime"
	KeyModes    = "modes"
	KeyFromName = "fromName"
	KeyToName   = "toName"

	// legacyModesKey is how bracket-style encoders spell the modes array.
	legacyModesKey = "modes[]"
)

// Params is the flat key/value mapping stored in the fragment.
type Params = url.Values

// Decode parses a fragment with or without its leading '#'. A malformed
// fragment yields an empty mapping.
func Decode(hash string) Params {
	hash = strings.TrimPrefix(hash, "#")
	if hash == "" {
		return Params{}
	}
	params, err := url.ParseQuery(hash)
	if err != nil {
		return Params{}
	}
	return params
}

// Encode renders params in form encoding, keys sorted.
func Encode(params Params) string {
	return params.Encode()
}

// Location is the part of the browser location holding the fragment.
type Location interface {
	Hash() string
	SetHash(hash string)
}

// Panel is the write side of the planning form.
type Panel interface {
	SetText(field domain.Field, value string)
	SetNodeID(field domain.Field, value string)
	SetDeparture(ms int64)
	ClearModes()
	SelectMode(name string)
}

// Synchronizer maps requests to and from the fragment of a Location.
type Synchronizer struct {
	loc Location
}

func NewSynchronizer(loc Location) *Synchronizer {
	return &Synchronizer{loc: loc}
}

// Write merges req and the non-empty names into the current fragment.
// Keys unrelated to the request are kept.
func (s *Synchronizer) Write(req domain.RouteRequest, names domain.Names) {
	params := Decode(s.loc.Hash())

	params.Set(KeyFrom, strconv.FormatInt(req.From, 10))
	params.Set(KeyTo, strconv.FormatInt(req.To, 10))
	params.Set(KeyDepTime, strconv.FormatInt(req.DepTime, 10))

	params.Del(legacyModesKey)
	params.Del(KeyModes)
	for _, m := range req.Modes {
		params.Add(KeyModes, strconv.Itoa(int(m)))
	}

	if names.From != "" {
		params.Set(KeyFromName, names.From)
	}
	if names.To != "" {
		params.Set(KeyToName, names.To)
	}

	s.loc.SetHash(Encode(params))
}

// Read decodes the fragment into an unvalidated request. Missing keys
// stay nil.
func (s *Synchronizer) Read() domain.RawRequest {
	params := Decode(s.loc.Hash())

	var modes []any
	for _, key := range []string{KeyModes, legacyModesKey} {
		for _, v := range params[key] {
			modes = append(modes, v)
		}
	}

	return domain.RawRequest{
		From:    first(params, KeyFrom),
		To:      first(params, KeyTo),
		DepTime: first(params, KeyDepTime),
		Modes:   modes,
	}
}

// ReadNames returns the display names stored in the fragment regardless of
// whether the request itself is valid.
func (s *Synchronizer) ReadNames() domain.Names {
	params := Decode(s.loc.Hash())
	return domain.Names{
		From: params.Get(KeyFromName),
		To:   params.Get(KeyToName),
	}
}

// ApplyToUI restores the form from req. Mode toggles are cleared first and
// exactly the requested ones are selected again, so applying twice is the
// same as applying once.
func (s *Synchronizer) ApplyToUI(p Panel, req domain.RouteRequest, names domain.Names) {
	for _, f := range []struct {
		field domain.Field
		id    domain.NodeID
	}{
		{domain.FieldFrom, req.From},
		{domain.FieldTo, req.To},
	} {
		id := strconv.FormatInt(f.id, 10)
		text := names.For(f.field)
		if text == "" {
			text = id
		}
		p.SetText(f.field, text)
		p.SetNodeID(f.field, id)
	}

	p.SetDeparture(req.DepTime)

	p.ClearModes()
	for _, m := range req.Modes {
		p.SelectMode(m.String())
	}
}

func first(params Params, key string) any {
	values, ok := params[key]
	if !ok || len(values) == 0 {
		return nil
	}
	return values[0]
}

// MemoryLocation is a Location held in memory. OnChange, if set, is called
// with every new fragment.
type MemoryLocation struct {
	mu       sync.RWMutex
	hash     string
	OnChange func(hash string)
}

func (l *MemoryLocation) Hash() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.hash
}

func (l *MemoryLocation) SetHash(hash string) {
	hash = strings.TrimPrefix(hash, "#")
	l.mu.Lock()
	l.hash = hash
	onChange := l.OnChange
	l.mu.Unlock()

	if onChange != nil {
		onChange(hash)
	}
}

// Load replaces the fragment without notifying, as when the page is opened
// with a fragment already present.
func (l *MemoryLocation) Load(hash string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hash = strings.TrimPrefix(hash, "#")
}
