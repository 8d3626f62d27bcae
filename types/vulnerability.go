package types

import (
	"encoding/json"
	"time"
)

const UnknownVendor = "Unknown"

// RawRecord is a source-specific payload as returned by a connector. Keyword
// is the search term that produced it and doubles as the provisional vendor.
type RawRecord struct {
	Source  string          `json:"source"`
	Keyword string          `json:"vendor"`
	Payload json.RawMessage `json:"payload"`
}

// Vulnerability is the canonical shape every connector normalizes into.
type Vulnerability struct {
	ID                      string     `json:"id"`
	Description             string     `json:"description"`
	DescriptionWithoutPunct string     `json:"description_without_punct"`
	Published               *time.Time `json:"published"`
	CVSSScore               *float64   `json:"cvss_score"`
	Severity                *string    `json:"severity"`
	Vendor                  string     `json:"vendor"`
	Source                  string     `json:"source"`
}

// EnrichedRecord is the terminal form handed to export sinks.
type EnrichedRecord struct {
	Vulnerability

	CWECategory           string `json:"cwe_category"`
	CWEExplanation        string `json:"cwe_explanation"`
	CWEName               string `json:"cwe_name,omitempty"`
	Cause                 string `json:"cause"`
	Impact                string `json:"impact"`
	DescriptionNormalized string `json:"description_normalized"`
	Explanation           string `json:"explanation"`
	Provider              string `json:"provider"`
	RunID                 string `json:"run_id,omitempty"`
}

// Enrich folds a categorization into the record. The vendor voted by the
// providers replaces the keyword-derived one unless it is unknown.
func (v Vulnerability) Enrich(c Categorization, provider string) EnrichedRecord {
	r := EnrichedRecord{
		Vulnerability:         v,
		CWECategory:           c.CWECategory,
		CWEExplanation:        c.Explanation,
		Cause:                 c.Cause,
		Impact:                c.Impact,
		DescriptionNormalized: v.Description,
		Explanation:           c.Explanation,
		Provider:              provider,
	}
	if c.Vendor != "" && c.Vendor != UnknownVendor {
		r.Vendor = c.Vendor
	}
	return r
}

// Plain wraps a record that went through no categorization.
func (v Vulnerability) Plain() EnrichedRecord {
	return EnrichedRecord{
		Vulnerability:         v,
		DescriptionNormalized: v.Description,
		Provider:              "none",
	}
}
