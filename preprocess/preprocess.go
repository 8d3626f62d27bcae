package preprocess

import (
	"github.com/vulnbuilder/vuln-builder/log"
	"github.com/vulnbuilder/vuln-builder/normalize"
	"github.com/vulnbuilder/vuln-builder/types"
)

type Stats struct {
	Total      int
	Unique     int
	Duplicates int
	Skipped    int
	Malformed  int
}

func (s *Stats) add(o Stats) {
	s.Total += o.Total
	s.Unique += o.Unique
	s.Duplicates += o.Duplicates
	s.Skipped += o.Skipped
	s.Malformed += o.Malformed
}

// Preprocessor normalizes raw records and drops duplicates. Its dedup sets
// live for the whole run, so records found by several connectors survive only
// once, in order of first occurrence.
type Preprocessor struct {
	normalizers []normalize.Normalizer

	// records are deduplicated by id and by feed CVE identifier; both are
	// the canonical id today
	seenIDs  map[string]struct{}
	seenCVEs map[string]struct{}
	stats    Stats
}

func New(normalizers []normalize.Normalizer) *Preprocessor {
	return &Preprocessor{
		normalizers: normalizers,
		seenIDs:     map[string]struct{}{},
		seenCVEs:    map[string]struct{}{},
	}
}

// Process normalizes the raw records of one connector. The first normalizer
// returning a record with an id wins.
func (p *Preprocessor) Process(raws []types.RawRecord, src normalize.SourceNormalizer, sourceName string) []types.Vulnerability {
	var (
		stats      = Stats{Total: len(raws)}
		normalized []types.Vulnerability
	)

	for _, raw := range raws {
		v, missingID, malformed := p.normalize(raw, src)
		switch {
		case v == nil && missingID:
			stats.Skipped++
			continue
		case v == nil:
			if malformed {
				stats.Malformed++
			}
			continue
		}

		if p.seen(*v) {
			stats.Duplicates++
			continue
		}
		normalized = append(normalized, *v)
	}
	stats.Unique = len(normalized)
	p.stats.add(stats)

	if stats.Skipped > 0 {
		log.Logger.Warnf("Total vulnerabilities skipped due to missing ID for %s: %d", sourceName, stats.Skipped)
	}
	log.Logger.Infow("Duplication statistics",
		"source", sourceName,
		"total", stats.Total,
		"unique", stats.Unique,
		"duplicates", stats.Duplicates,
		"skipped", stats.Skipped,
		"malformed", stats.Malformed,
	)
	return normalized
}

// seen reports whether v was already accepted and marks it otherwise.
func (p *Preprocessor) seen(v types.Vulnerability) bool {
	cve := cveID(v)
	_, byID := p.seenIDs[v.ID]
	_, byCVE := p.seenCVEs[cve]
	if byID || byCVE {
		return true
	}
	p.seenIDs[v.ID] = struct{}{}
	p.seenCVEs[cve] = struct{}{}
	return false
}

func cveID(v types.Vulnerability) string {
	return v.ID
}

func (p *Preprocessor) normalize(raw types.RawRecord, src normalize.SourceNormalizer) (v *types.Vulnerability, missingID, malformed bool) {
	for _, n := range p.normalizers {
		norm, err := n.Normalize(raw, src)
		if err != nil {
			log.Logger.Warnf("Unable to normalize %s record for %q: %s", raw.Source, raw.Keyword, err)
			malformed = true
			continue
		}
		if norm == nil {
			continue
		}
		if norm.ID == "" {
			missingID = true
			continue
		}
		return norm, false, false
	}
	return nil, missingID, malformed
}

// Stats returns the statistics accumulated over every Process call.
func (p *Preprocessor) Stats() Stats {
	return p.stats
}
