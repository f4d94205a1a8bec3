// Package commands holds the per-bot mapping from trigger to handler source.
//
// A Table is written by the control API and read by the bot's message loop.
// Readers always see a complete, immutable map: writers copy the current map,
// apply their change and publish the copy atomically.
package commands

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Built-in triggers that resolve even when the table has no entry.
const (
	TriggerStart = "/start"
	TriggerPing  = "/ping"
)

// Handler is a resolved table entry.
type Handler struct {
	Trigger string
	Source  string
	// Builtin is set when the entry is the default start handler rather
	// than user source.
	Builtin bool
}

// Table maps canonical triggers ("/name") to handler source.
type Table struct {
	defaultStart string

	mu      sync.Mutex // serializes writers
	entries atomic.Pointer[map[string]string]
}

// NewTable returns an empty table whose start trigger falls back to a
// handler replying defaultStart.
func NewTable(defaultStart string) *Table {
	t := &Table{defaultStart: defaultStart}
	empty := map[string]string{}
	t.entries.Store(&empty)
	return t
}

// Canonical normalizes a trigger to its "/name" form. "start", "/start" and
// "/start@SomeBot" all map to "/start". An empty name yields "".
func Canonical(trigger string) string {
	name := strings.TrimSpace(trigger)
	name = strings.TrimPrefix(name, "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return ""
	}
	return "/" + name
}

// Set inserts or overwrites the handler for trigger. The change is visible
// to every Get that starts after Set returns.
func (t *Table) Set(trigger, source string) {
	key := Canonical(trigger)
	if key == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cur := *t.entries.Load()
	next := make(map[string]string, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[key] = source
	t.entries.Store(&next)
}

// Remove deletes the handler for trigger and reports whether one existed.
func (t *Table) Remove(trigger string) bool {
	key := Canonical(trigger)

	t.mu.Lock()
	defer t.mu.Unlock()

	cur := *t.entries.Load()
	if _, ok := cur[key]; !ok {
		return false
	}
	next := make(map[string]string, len(cur))
	for k, v := range cur {
		if k != key {
			next[k] = v
		}
	}
	t.entries.Store(&next)
	return true
}

// Get resolves trigger. The start trigger always resolves; other unknown
// triggers report false.
func (t *Table) Get(trigger string) (Handler, bool) {
	key := Canonical(trigger)
	if src, ok := (*t.entries.Load())[key]; ok {
		return Handler{Trigger: key, Source: src}, true
	}
	if key == TriggerStart {
		return Handler{Trigger: key, Source: DefaultStartSource(t.defaultStart), Builtin: true}, true
	}
	return Handler{}, false
}

// Has reports whether the table has a user entry for trigger.
func (t *Table) Has(trigger string) bool {
	_, ok := (*t.entries.Load())[Canonical(trigger)]
	return ok
}

// Snapshot returns a copy of the user entries.
func (t *Table) Snapshot() map[string]string {
	cur := *t.entries.Load()
	out := make(map[string]string, len(cur))
	for k, v := range cur {
		out[k] = v
	}
	return out
}

// Len returns the number of user entries.
func (t *Table) Len() int {
	return len(*t.entries.Load())
}

// DefaultStartSource renders the built-in start handler in directive form.
func DefaultStartSource(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = "reply " + l
	}
	return strings.Join(lines, "\n")
}
