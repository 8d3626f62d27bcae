package pipeline

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/vulnbuilder/vuln-builder/log"
	"github.com/vulnbuilder/vuln-builder/preprocess"
)

// Report summarizes one run.
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Elapsed    time.Duration

	Keywords     int
	Collected    map[string]int
	SourceErrors map[string]string
	Preprocess   preprocess.Stats
	Providers    []ProviderReport

	HeapSysBytes uint64
}

type ProviderReport struct {
	Name        string
	Categorized int
	Degraded    int
	Exported    int
	Output      string
}

func newReport() *Report {
	r := &Report{
		RunID:        uuid.NewString(),
		StartedAt:    time.Now(),
		Collected:    map[string]int{},
		SourceErrors: map[string]string{},
	}
	log.Logger.Infow("Run started", "run_id", r.RunID, "at", r.StartedAt.Format(time.DateTime))
	return r
}

func (r *Report) finish() {
	r.FinishedAt = time.Now()
	r.Elapsed = r.FinishedAt.Sub(r.StartedAt)
	r.HeapSysBytes = heapSys()
}

// Log writes the report through the global logger.
func (r *Report) Log() {
	log.Logger.Infow("Run finished",
		"run_id", r.RunID,
		"at", r.FinishedAt.Format(time.DateTime),
		"elapsed", r.Elapsed.Round(time.Millisecond),
		"keywords", r.Keywords,
		"heap_sys_mb", r.HeapSysBytes/(1024*1024),
	)
	for _, name := range r.sources() {
		n := r.Collected[name]
		if msg, ok := r.SourceErrors[name]; ok {
			log.Logger.Infow("Source", "source", name, "collected", n, "error", msg)
			continue
		}
		log.Logger.Infow("Source", "source", name, "collected", n)
	}
	s := r.Preprocess
	log.Logger.Infow("Preprocessing", "total", s.Total, "unique", s.Unique,
		"duplicates", s.Duplicates, "skipped_missing_id", s.Skipped, "malformed", s.Malformed)
	for _, p := range r.Providers {
		log.Logger.Infow("Provider", "provider", p.Name, "categorized", p.Categorized,
			"degraded", p.Degraded, "exported", p.Exported, "output", p.Output)
	}
}

// sources lists the collected source names in sorted order.
func (r *Report) sources() []string {
	names := lo.Keys(r.Collected)
	sort.Strings(names)
	return names
}
