package source

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/vulnbuilder/vuln-builder/log"
	"github.com/vulnbuilder/vuln-builder/types"
)

// Connector fetches raw records from one external feed and maps them into the
// canonical shape. Collect must isolate failures per keyword: an error for one
// keyword is logged and skipped. The returned error is reserved for failures
// that make the whole feed unusable.
type Connector interface {
	Name() string
	Collect(ctx context.Context, keywords []string) ([]types.RawRecord, error)
	Normalize(raw types.RawRecord) (*types.Vulnerability, error)
}

// Options carries the startup-resolved settings of a connector.
type Options struct {
	APIKey    string
	BaseURL   string
	Interval  time.Duration
	RetryWait time.Duration
}

type Factory func(Options) (Connector, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a connector available under name. Registering a name twice
// panics.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := factories[name]; ok {
		panic(fmt.Sprintf("source %q already registered", name))
	}
	factories[name] = f
}

// Names lists the registered connectors in sorted order.
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

func New(name string, opts Options) (Connector, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, xerrors.Errorf("unknown data source %q, available: %v", name, Names())
	}
	c, err := f(opts)
	if err != nil {
		return nil, xerrors.Errorf("unable to initialize data source %s: %w", name, err)
	}
	return c, nil
}

type Result struct {
	Source  string
	Records []types.RawRecord
	Err     error
}

// CollectAll runs every connector concurrently and waits for all of them. A
// failing connector never cancels its siblings; its error is reported in its
// own Result.
func CollectAll(ctx context.Context, connectors []Connector, keywords []string) []Result {
	results := make([]Result, len(connectors))

	var g errgroup.Group
	for i, c := range connectors {
		g.Go(func() (err error) {
			results[i].Source = c.Name()
			defer func() {
				if r := recover(); r != nil {
					results[i].Err = xerrors.Errorf("%s connector panicked: %v", c.Name(), r)
				}
			}()

			log.Logger.Infof("Collecting %s data for %d keywords", c.Name(), len(keywords))
			records, cerr := c.Collect(ctx, keywords)
			results[i].Records = records
			results[i].Err = cerr
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.Err != nil {
			log.Logger.Errorf("Collection from %s failed: %s", r.Source, r.Err)
			continue
		}
		log.Logger.Infof("Collected %d records from %s", len(r.Records), r.Source)
	}
	return results
}
