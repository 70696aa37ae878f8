package merklebuild

import (
	"strings"
)

// EntryFilter decides which directory entries take part in a directory hash.
// Matching is by exact entry name only, never by path or glob.
type EntryFilter struct {
	names         map[string]struct{}
	includeHidden bool
}

// NewEntryFilter creates a filter that skips the given names and, unless
// includeHidden is set, every name starting with "."
func NewEntryFilter(ignore []string, includeHidden bool) *EntryFilter {
	ef := &EntryFilter{
		names:         make(map[string]struct{}, len(ignore)),
		includeHidden: includeHidden,
	}
	for _, name := range ignore {
		ef.Add(name)
	}
	return ef
}

// Add adds a name to the ignore set
func (ef *EntryFilter) Add(name string) {
	if name == "" {
		return
	}
	ef.names[name] = struct{}{}
}

// ShouldIgnore reports whether the entry name is excluded from the hash
func (ef *EntryFilter) ShouldIgnore(name string) bool {
	if !ef.includeHidden && strings.HasPrefix(name, HiddenPrefix) {
		return true
	}
	_, ignored := ef.names[name]
	return ignored
}

// ParseNameList splits a comma-separated list of entry names, dropping blanks
func ParseNameList(list string) []string {
	var names []string
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}
