package normalize

import (
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/vulnbuilder/vuln-builder/types"
)

const maxDescriptionLength = 300

// SourceNormalizer is the part of a connector that maps its raw payloads.
type SourceNormalizer interface {
	Normalize(raw types.RawRecord) (*types.Vulnerability, error)
}

// Normalizer turns a raw record into a canonical record, or nil when it does
// not apply to the record.
type Normalizer interface {
	Normalize(raw types.RawRecord, src SourceNormalizer) (*types.Vulnerability, error)
}

type entry struct {
	name       string
	priority   int
	normalizer Normalizer
}

var (
	mu      sync.RWMutex
	entries []entry
)

// Register adds a normalizer. Lower priority values run first; equal
// priorities keep registration order.
func Register(name string, priority int, n Normalizer) {
	mu.Lock()
	defer mu.Unlock()
	for i, e := range entries {
		if e.name == name {
			entries[i] = entry{name: name, priority: priority, normalizer: n}
			return
		}
	}
	entries = append(entries, entry{name: name, priority: priority, normalizer: n})
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority < entries[j].priority
	})
}

// Ordered returns the registered normalizers in priority order.
func Ordered() []Normalizer {
	mu.RLock()
	defer mu.RUnlock()
	ns := make([]Normalizer, len(entries))
	for i, e := range entries {
		ns[i] = e.normalizer
	}
	return ns
}

func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}

// Basic delegates to the connector, then truncates the description, derives
// the punctuation-free variant and tags the vendor with the search keyword.
type Basic struct{}

func (Basic) Normalize(raw types.RawRecord, src SourceNormalizer) (*types.Vulnerability, error) {
	v, err := src.Normalize(raw)
	if err != nil || v == nil {
		return nil, err
	}

	v.ID = strings.TrimSpace(v.ID)
	v.Description = Truncate(strings.TrimSpace(v.Description), maxDescriptionLength)
	v.DescriptionWithoutPunct = StripPunct(v.Description)

	v.Vendor = strings.TrimSpace(raw.Keyword)
	if v.Vendor == "" {
		v.Vendor = types.UnknownVendor
	}
	if v.Source == "" {
		v.Source = raw.Source
	}
	return v, nil
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// StripPunct removes every rune that is neither a word character nor
// whitespace and lowercases the rest.
func StripPunct(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_', unicode.IsSpace(r):
			return unicode.ToLower(r)
		}
		return -1
	}, s)
}
