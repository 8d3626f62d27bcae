package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/vulnbuilder/vuln-builder/categorize"
	"github.com/vulnbuilder/vuln-builder/config"
	"github.com/vulnbuilder/vuln-builder/cwe"
	"github.com/vulnbuilder/vuln-builder/export"
	"github.com/vulnbuilder/vuln-builder/log"
	"github.com/vulnbuilder/vuln-builder/normalize"
	"github.com/vulnbuilder/vuln-builder/preprocess"
	"github.com/vulnbuilder/vuln-builder/source"
	"github.com/vulnbuilder/vuln-builder/types"
	"github.com/vulnbuilder/vuln-builder/utils"
	"github.com/vulnbuilder/vuln-builder/vote"
)

const (
	NoProvider        = "none"
	ConsensusProvider = "consensus"

	DefaultOutputFile = "dataset_vulnerabilities_AI.csv"
)

// every registered source
var allSources = []string{"both", "all"}

type Options struct {
	Sources      []string
	Providers    []string
	Combined     bool
	ExportFormat string
	OutputFile   string

	Keywords []string
	// KeywordFile is a local path or any go-getter source with one keyword
	// per line.
	KeywordFile string

	Progress bool
	Fs       afero.Fs

	// Transports replaces the provider transport of the named providers.
	Transports     map[string]categorize.Provider
	RetryBaseDelay time.Duration
}

type Pipeline struct {
	cfg  *config.Config
	opts Options

	connectors   []source.Connector
	categorizers []*categorize.Categorizer
	plain        bool
	voter        *vote.Voter
}

// New validates the selection against the registries and the configuration.
// Every error it returns is a startup error.
func New(cfg *config.Config, opts Options) (*Pipeline, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if opts.OutputFile == "" {
		opts.OutputFile = DefaultOutputFile
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	p := &Pipeline{cfg: cfg, opts: opts, voter: vote.New(cfg.Voting.Weights)}

	if err := p.initSources(); err != nil {
		return nil, err
	}
	if err := p.initProviders(); err != nil {
		p.Close()
		return nil, err
	}
	if err := p.checkExporter(); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) initSources() error {
	names := lo.Uniq(lo.Map(p.opts.Sources, func(s string, _ int) string {
		return strings.ToLower(strings.TrimSpace(s))
	}))
	if len(names) == 0 {
		return xerrors.New("no data source selected")
	}
	expanded := lo.Some(names, allSources)
	if expanded {
		names = source.Names()
	}
	for _, name := range names {
		c, err := source.New(name, p.cfg.Source(name))
		if err != nil {
			// an unconfigured source is only fatal when it was asked for by name
			if expanded && types.KindOf(err) == types.Configuration {
				log.Logger.Warnf("Skipping data source %s: %s", name, err)
				continue
			}
			return err
		}
		p.connectors = append(p.connectors, c)
	}
	if len(p.connectors) == 0 {
		return xerrors.New("no configured data source available")
	}
	return nil
}

func (p *Pipeline) initProviders() error {
	names := lo.Uniq(lo.Compact(lo.Map(p.opts.Providers, func(s string, _ int) string {
		return strings.TrimSpace(s)
	})))
	if len(names) == 0 {
		names = []string{NoProvider}
	}

	for _, name := range names {
		if strings.EqualFold(name, NoProvider) {
			if p.opts.Combined {
				log.Logger.Warnf("Provider %q takes no part in combined mode", NoProvider)
				continue
			}
			p.plain = true
			continue
		}
		pcfg, ok, err := p.cfg.Provider(name)
		if err != nil {
			return err
		} else if !ok {
			return xerrors.Errorf("unknown provider %q: no models_to_evaluate entry", name)
		}

		var opts []categorize.Option
		if t, ok := p.opts.Transports[name]; ok {
			opts = append(opts, categorize.WithProvider(t))
		}
		if p.opts.RetryBaseDelay > 0 {
			opts = append(opts, categorize.WithBaseDelay(p.opts.RetryBaseDelay))
		}
		p.categorizers = append(p.categorizers, categorize.New(pcfg, opts...))
	}

	if p.opts.Combined && len(p.categorizers) == 0 {
		return xerrors.New("combined mode needs at least one provider")
	}
	return nil
}

func (p *Pipeline) checkExporter() error {
	format := p.opts.ExportFormat
	if !export.Registered(format) {
		return xerrors.Errorf("unknown export format %q, available: %v", format, export.Names())
	}
	if len(p.cfg.Exporters) > 0 && !lo.Contains(p.cfg.Exporters, format) {
		return xerrors.Errorf("export format %q is not enabled, enabled: %v", format, p.cfg.Exporters)
	}
	return nil
}

// Close releases provider resources.
func (p *Pipeline) Close() {
	for _, c := range p.categorizers {
		if err := c.Close(); err != nil {
			log.Logger.Warnw("Failed to close provider", "provider", c.Name(), "error", err)
		}
	}
}

// Run executes one batch: collect, deduplicate, categorize, vote, annotate
// and export. Failures of a single keyword, record or provider call are
// logged and absorbed; only startup and export errors are returned.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	report := newReport()

	keywords, err := p.keywords(ctx)
	if err != nil {
		return nil, err
	}
	report.Keywords = len(keywords)

	results := source.CollectAll(ctx, p.connectors, keywords)
	pre := preprocess.New(normalize.Ordered())
	var vulns []types.Vulnerability
	for i, r := range results {
		report.Collected[r.Source] = len(r.Records)
		if r.Err != nil {
			report.SourceErrors[r.Source] = r.Err.Error()
		}
		vulns = append(vulns, pre.Process(r.Records, p.connectors[i], r.Source)...)
	}
	report.Preprocess = pre.Stats()

	if len(vulns) == 0 {
		log.Logger.Warn("No vulnerability data collected")
		report.finish()
		return report, nil
	}

	catalog := p.loadCatalog(ctx)

	var groups []group
	if p.opts.Combined {
		groups = append(groups, p.combinedGroup())
	} else {
		if p.plain {
			groups = append(groups, plainGroup())
		}
		for _, c := range p.categorizers {
			groups = append(groups, providerGroup(c))
		}
	}

	reports := make([]ProviderReport, len(groups))
	errs := make([]error, len(groups))
	bars := p.startBars(groups, len(vulns))

	var g errgroup.Group
	for i, gr := range groups {
		g.Go(func() error {
			reports[i], errs[i] = p.runGroup(ctx, gr, vulns, catalog, report.RunID, bars.bar(i))
			return nil
		})
	}
	_ = g.Wait()
	bars.stop()

	report.Providers = reports
	report.finish()
	return report, errors.Join(errs...)
}

func (p *Pipeline) keywords(ctx context.Context) ([]string, error) {
	keywords := append([]string{}, p.opts.Keywords...)
	if p.opts.KeywordFile != "" {
		lines, err := utils.FetchLines(ctx, p.opts.KeywordFile)
		if err != nil {
			return nil, xerrors.Errorf("failed to read search file: %w", err)
		}
		keywords = append(keywords, lines...)
	}
	keywords = lo.Uniq(lo.Compact(lo.Map(keywords, func(k string, _ int) string {
		return strings.TrimSpace(k)
	})))
	if len(keywords) == 0 {
		return nil, xerrors.New("no search parameters provided")
	}
	return keywords, nil
}

func (p *Pipeline) loadCatalog(ctx context.Context) *cwe.Catalog {
	if !p.cfg.CWE.Enabled {
		return nil
	}
	loader := cwe.NewLoader()
	if p.cfg.CWE.URL != "" {
		loader = cwe.NewLoader(cwe.WithURL(p.cfg.CWE.URL))
	}
	catalog, err := loader.Load(ctx)
	if err != nil {
		log.Logger.Warnw("CWE names will be left empty", "error", err)
		return nil
	}
	return catalog
}

// group is one output dataset: a provider, the uncategorized records or the
// consensus of all providers.
type group struct {
	name       string
	dir        string
	categorize func(ctx context.Context, v types.Vulnerability) types.EnrichedRecord
}

func plainGroup() group {
	return group{
		name: NoProvider,
		dir:  "dataset",
		categorize: func(_ context.Context, v types.Vulnerability) types.EnrichedRecord {
			return v.Plain()
		},
	}
}

func providerGroup(c *categorize.Categorizer) group {
	return group{
		name: c.Name(),
		dir:  c.Name() + "_dataset",
		categorize: func(ctx context.Context, v types.Vulnerability) types.EnrichedRecord {
			return v.Enrich(c.Categorize(ctx, v.Description), c.Name())
		},
	}
}

// combinedGroup asks every provider concurrently for each record and keeps
// the weighted consensus.
func (p *Pipeline) combinedGroup() group {
	return group{
		name: ConsensusProvider,
		dir:  "consensus_dataset",
		categorize: func(ctx context.Context, v types.Vulnerability) types.EnrichedRecord {
			ballots := make([]vote.Ballot, len(p.categorizers))
			var g errgroup.Group
			for i, c := range p.categorizers {
				g.Go(func() error {
					cat := c.Categorize(ctx, v.Description)
					if cat.IsSentinel() {
						log.Logger.Warnw("Provider gave no categorization", "id", v.ID, "provider", c.Name(), "reason", cat.Explanation)
					}
					ballots[i] = vote.Ballot{Provider: c.Name(), Result: cat}
					return nil
				})
			}
			_ = g.Wait()
			return v.Enrich(p.voter.Combine(ballots), ConsensusProvider)
		},
	}
}

// runGroup categorizes the records one after another, so a provider never
// sees concurrent requests from the same dataset.
func (p *Pipeline) runGroup(ctx context.Context, gr group, vulns []types.Vulnerability,
	catalog *cwe.Catalog, runID string, bar *pb.ProgressBar) (ProviderReport, error) {
	r := ProviderReport{Name: gr.name}
	logger := log.With("pipeline").With("provider", gr.name)
	logger.Infof("Categorizing %d vulnerabilities", len(vulns))

	records := make([]types.EnrichedRecord, 0, len(vulns))
	for _, v := range vulns {
		rec := gr.categorize(ctx, v)
		if gr.name != NoProvider {
			r.Categorized++
			if strings.EqualFold(rec.CWECategory, types.UnknownCWE) {
				r.Degraded++
				logger.Debugw("Record left uncategorized", "id", v.ID, "reason", rec.Explanation)
			}
		}
		rec.CWEName = catalog.Name(rec.CWECategory)
		rec.RunID = runID
		records = append(records, rec)
		bar.Increment()
	}
	bar.Finish()

	r.Output = filepath.Join(gr.dir, p.opts.OutputFile)
	sink, err := export.New(ctx, p.opts.ExportFormat, export.Options{
		Path:  r.Output,
		Fs:    p.opts.Fs,
		Group: gr.dir,
		DSN:   p.cfg.Postgres.DSN,
		Table: p.cfg.Postgres.Table,
	})
	if err != nil {
		return r, xerrors.Errorf("%s export: %w", gr.name, err)
	}
	defer sink.Close()

	r.Exported, err = sink.Export(ctx, records)
	if err != nil {
		return r, xerrors.Errorf("%s export: %w", gr.name, err)
	}
	logger.Infow("Exported dataset", "output", r.Output, "written", r.Exported, "records", len(records))
	return r, nil
}

type progress struct {
	bars []*pb.ProgressBar
	pool *pb.Pool
}

func (p *Pipeline) startBars(groups []group, total int) progress {
	var pr progress
	for _, g := range groups {
		pr.bars = append(pr.bars, pb.New(total).Set("prefix", g.name+" "))
	}
	if !p.opts.Progress {
		return pr
	}
	pool, err := pb.StartPool(pr.bars...)
	if err != nil {
		log.Logger.Debugw("Progress bars disabled", "error", err)
		return pr
	}
	pr.pool = pool
	return pr
}

func (pr progress) bar(i int) *pb.ProgressBar {
	return pr.bars[i]
}

func (pr progress) stop() {
	if pr.pool == nil {
		return
	}
	if err := pr.pool.Stop(); err != nil {
		log.Logger.Debugw("Failed to stop progress bars", "error", err)
	}
}

func heapSys() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapSys
}
