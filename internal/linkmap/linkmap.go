// Package linkmap builds the cross-document link resolution map: every
// note is addressable by its relative path, its file stem, and any
// declared alias, and a wikilink target resolves to at most one output
// location. Construction is two-phase: register every note first, then
// resolve; Upsert/Remove patch single notes in place for watch mode.
package linkmap

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/starford/raido/internal/models"
)

// State classifies a resolution outcome.
type State int

// Resolution states.
const (
	Unresolved State = iota
	Ambiguous
	Resolved
)

func (s State) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case Ambiguous:
		return "ambiguous"
	default:
		return "unresolved"
	}
}

// Outcome is the result of resolving one wikilink target.
type Outcome struct {
	State      State
	Location   string   // output location, Resolved only
	Candidates []string // candidate locations, Ambiguous only (sorted)
}

// tier identifies which key namespace an entry lives in. Resolution
// consults tiers in order and stops at the first one holding exactly
// one match for the key.
type tier int

const (
	tierPath tier = iota
	tierStem
	tierAlias
	tierCount
)

// noteKeys remembers the keys a registered note contributed, so
// Remove can take them back out without a rebuild.
type noteKeys struct {
	keys   [tierCount][]string
	output string
}

// Map is the process-wide link resolution index. A single writer
// mutates it (Register/Upsert/Remove); Resolve takes shared read
// access and is safe to call concurrently once construction is done.
type Map struct {
	mu    sync.RWMutex
	notes map[string]noteKeys
	// tiers[t][key] is the set of output locations reachable through
	// key at tier t, with the owning source path per output for
	// conflict diagnostics.
	tiers [tierCount]map[string]map[string]string
}

// New returns an empty Map.
func New() *Map {
	m := &Map{notes: make(map[string]noteKeys)}
	for t := range m.tiers {
		m.tiers[t] = make(map[string]map[string]string)
	}
	return m
}

// Normalize canonicalizes an identifier for map lookups: lower-case,
// internal whitespace collapsed, Markdown extension stripped, leading
// separators stripped, backslashes folded to slashes. Registration and
// resolution must both go through this function.
func Normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "\\", "/")
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimSuffix(s, ".md")
	s = strings.TrimPrefix(s, "./")
	s = strings.TrimLeft(s, "/")
	return s
}

// Register derives the note's canonical keys (path, stem, aliases) and
// inserts them, pointing at output. Colliding keys are kept side by
// side: resolution reports them as ambiguous rather than guessing, and
// Conflicts surfaces them for operator review.
func (m *Map) Register(n *models.Note, output string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.register(n, output)
}

// Upsert replaces the entries for the note's source path with freshly
// derived ones. Entries of other notes are untouched.
func (m *Map) Upsert(n *models.Note, output string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remove(n.Path)
	m.register(n, output)
}

// Remove deletes every entry contributed by the note at path.
func (m *Map) Remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remove(path)
}

func (m *Map) register(n *models.Note, output string) {
	var nk noteKeys
	nk.output = output
	nk.keys[tierPath] = []string{Normalize(n.Path)}
	nk.keys[tierStem] = []string{Normalize(n.Stem())}
	for _, a := range n.Aliases {
		if key := Normalize(a); key != "" {
			nk.keys[tierAlias] = append(nk.keys[tierAlias], key)
		}
	}

	for t, keys := range nk.keys {
		for _, key := range keys {
			set := m.tiers[t][key]
			if set == nil {
				set = make(map[string]string)
				m.tiers[t][key] = set
			}
			set[output] = n.Path
		}
	}
	m.notes[n.Path] = nk
}

func (m *Map) remove(path string) {
	nk, ok := m.notes[path]
	if !ok {
		return
	}
	for t, keys := range nk.keys {
		for _, key := range keys {
			set := m.tiers[t][key]
			delete(set, nk.output)
			if len(set) == 0 {
				delete(m.tiers[t], key)
			}
		}
	}
	delete(m.notes, path)
}

// Resolve maps a raw wikilink target to an Outcome. A "#section"
// fragment is ignored for matching. Tier order: exact path, unique
// stem, unique alias; the first tier with exactly one match wins. When
// no tier is unique but some tier matched several notes, the outcome
// is Ambiguous with that tier's candidates.
func (m *Map) Resolve(rawTarget string) Outcome {
	target := rawTarget
	if i := strings.Index(target, "#"); i >= 0 {
		target = target[:i]
	}
	key := Normalize(target)
	if key == "" {
		return Outcome{State: Unresolved}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var ambiguous []string
	for t := tierPath; t < tierCount; t++ {
		set := m.tiers[t][key]
		switch {
		case len(set) == 1:
			for output := range set {
				return Outcome{State: Resolved, Location: output}
			}
		case len(set) > 1 && ambiguous == nil:
			ambiguous = outputsOf(set)
		}
	}

	if ambiguous != nil {
		return Outcome{State: Ambiguous, Candidates: ambiguous}
	}
	return Outcome{State: Unresolved}
}

// ReplaceFrom swaps in the contents of other wholesale. Used by full
// conversion passes to rebuild the index without invalidating pointers
// held by readers; other must not be used afterwards.
func (m *Map) ReplaceFrom(other *Map) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes = other.notes
	m.tiers = other.tiers
}

// Keys returns the normalized keys under which the note at path is
// currently addressable (all tiers). Used to find references that may
// be healed by a change to this note.
func (m *Map) Keys(path string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	nk, ok := m.notes[path]
	if !ok {
		return nil
	}
	var out []string
	for _, keys := range nk.keys {
		out = append(out, keys...)
	}
	return out
}

// Len returns the number of registered notes.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.notes)
}

// Conflicts reports every key currently claimed by more than one note
// at the same tier, sorted for determinism.
func (m *Map) Conflicts() []models.Diagnostic {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tierNames := [tierCount]string{"path", "stem", "alias"}
	var out []models.Diagnostic
	for t := tierPath; t < tierCount; t++ {
		keys := make([]string, 0, len(m.tiers[t]))
		for key, set := range m.tiers[t] {
			if len(set) > 1 {
				keys = append(keys, key)
			}
		}
		sort.Strings(keys)
		for _, key := range keys {
			set := m.tiers[t][key]
			sources := make([]string, 0, len(set))
			for _, src := range set {
				sources = append(sources, src)
			}
			sort.Strings(sources)
			out = append(out, models.Diagnostic{
				Kind:       models.DiagConflict,
				Path:       sources[0],
				Detail:     fmt.Sprintf("%s key %q is claimed by %d notes", tierNames[t], key, len(set)),
				Candidates: sources,
			})
		}
	}
	return out
}

func outputsOf(set map[string]string) []string {
	out := make([]string, 0, len(set))
	for output := range set {
		out = append(out, output)
	}
	sort.Strings(out)
	return out
}
