// Package matchcache keeps the latest name search results per input field.
package matchcache

import (
	"strconv"
	"sync"

	"tripplan/internal/domain"
)

// Token identifies one issued search for a field. Only the newest token of
// a field may commit results.
type Token uint64

type entry struct {
	matches []domain.NameMatch
	issued  Token
}

// Cache stores matches keyed by field. Results are replaced wholesale,
// never merged.
type Cache struct {
	mu      sync.RWMutex
	entries map[domain.Field]*entry
}

func New() *Cache {
	return &Cache{
		entries: make(map[domain.Field]*entry),
	}
}

// Set replaces the matches of field.
func (c *Cache) Set(field domain.Field, matches []domain.NameMatch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry(field).matches = cloneMatches(matches)
}

// Get returns a copy of the matches of field in server order.
func (c *Cache) Get(field domain.Field) []domain.NameMatch {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[field]
	if !ok {
		return nil
	}
	return cloneMatches(e.matches)
}

// First returns the first cached match of field, if any.
func (c *Cache) First(field domain.Field) (domain.NameMatch, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[field]
	if !ok || len(e.matches) == 0 {
		return domain.NameMatch{}, false
	}
	return e.matches[0], true
}

// FirstOrEmpty returns the id of the first match of field as a string, or
// "" when nothing is cached. "" never validates as a node id.
func (c *Cache) FirstOrEmpty(field domain.Field) string {
	m, ok := c.First(field)
	if !ok {
		return ""
	}
	return strconv.FormatInt(m.ID, 10)
}

// Begin issues a new token for field, superseding every earlier one.
func (c *Cache) Begin(field domain.Field) Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entry(field)
	e.issued++
	return e.issued
}

// Commit stores matches only if token is still the newest one issued for
// field. It reports whether the matches were stored.
func (c *Cache) Commit(field domain.Field, token Token, matches []domain.NameMatch) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entry(field)
	if token != e.issued {
		return false
	}
	e.matches = cloneMatches(matches)
	return true
}

// Current reports whether token is the newest one issued for field.
func (c *Cache) Current(field domain.Field, token Token) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[field]
	return ok && e.issued == token
}

// Snapshot returns a copy of all cached matches.
func (c *Cache) Snapshot() map[domain.Field][]domain.NameMatch {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[domain.Field][]domain.NameMatch, len(c.entries))
	for f, e := range c.entries {
		out[f] = cloneMatches(e.matches)
	}
	return out
}

func (c *Cache) entry(field domain.Field) *entry {
	e, ok := c.entries[field]
	if !ok {
		e = &entry{}
		c.entries[field] = e
	}
	return e
}

func cloneMatches(matches []domain.NameMatch) []domain.NameMatch {
	if matches == nil {
		return nil
	}
	out := make([]domain.NameMatch, len(matches))
	copy(out, matches)
	return out
}
