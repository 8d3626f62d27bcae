package export

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/vulnbuilder/vuln-builder/types"
)

// Sink persists enriched records. Export is idempotent by record id: records
// whose id the sink already holds are skipped. It returns the number of
// records actually written.
type Sink interface {
	Export(ctx context.Context, records []types.EnrichedRecord) (int, error)
	Close() error
}

type Options struct {
	// Path is the output file of file-based sinks.
	Path string
	Fs   afero.Fs

	// Group names the dataset being written. Table-based sinks keep one
	// table per group.
	Group string

	DSN   string
	Table string
	Pool  DBPool
}

type Factory func(ctx context.Context, opts Options) (Sink, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := factories[name]; ok {
		panic("export: Register called twice for sink " + name)
	}
	factories[name] = f
}

func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func Registered(name string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := factories[name]
	return ok
}

func New(ctx context.Context, name string, opts Options) (Sink, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, xerrors.Errorf("unknown export format %q, available: %v", name, Names())
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	return f(ctx, opts)
}

// Columns is the flat layout shared by the csv and postgres sinks.
var Columns = []string{
	"id", "description", "vendor", "cwe_category", "cwe_explanation", "cwe_name",
	"cause", "impact", "published", "cvss_score", "severity", "source",
	"description_without_punct", "description_normalized", "explanation",
	"provider", "run_id",
}

// Row renders r in Columns order for text output.
func Row(r types.EnrichedRecord) []string {
	var published, score, severity string
	if r.Published != nil {
		published = r.Published.UTC().Format(time.RFC3339)
	}
	if r.CVSSScore != nil {
		score = strconv.FormatFloat(*r.CVSSScore, 'f', -1, 64)
	}
	if r.Severity != nil {
		severity = *r.Severity
	}
	return []string{
		r.ID, r.Description, r.Vendor, r.CWECategory, r.CWEExplanation, r.CWEName,
		r.Cause, r.Impact, published, score, severity, r.Source,
		r.DescriptionWithoutPunct, r.DescriptionNormalized, r.Explanation,
		r.Provider, r.RunID,
	}
}
