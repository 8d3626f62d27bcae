package osv

type query struct {
	Package   queryPackage `json:"package"`
	PageToken string       `json:"page_token,omitempty"`
}

type queryPackage struct {
	Name      string `json:"name"`
	Ecosystem string `json:"ecosystem"`
}

type response struct {
	Vulns         []OSV  `json:"vulns"`
	NextPageToken string `json:"next_page_token"`
}

// OSV is the subset of https://ossf.github.io/osv-schema/ the connector reads.
type OSV struct {
	ID               string           `json:"id"`
	Modified         string           `json:"modified,omitempty"`
	Published        string           `json:"published,omitempty"`
	Withdrawn        string           `json:"withdrawn,omitempty"`
	Aliases          []string         `json:"aliases,omitempty"`
	Summary          string           `json:"summary,omitempty"`
	Details          string           `json:"details,omitempty"`
	Severity         []Severity       `json:"severity,omitempty"`
	Affected         []Affected       `json:"affected,omitempty"`
	References       []Reference      `json:"references,omitempty"`
	DatabaseSpecific DatabaseSpecific `json:"database_specific,omitempty"`
}

type Severity struct {
	Type  string `json:"type"`
	Score string `json:"score"`
}

type Affected struct {
	Package Package `json:"package"`
}

type Package struct {
	Ecosystem string `json:"ecosystem,omitempty"`
	Name      string `json:"name,omitempty"`
	Purl      string `json:"purl,omitempty"`
}

type Reference struct {
	Type string `json:"type,omitempty"`
	URL  string `json:"url,omitempty"`
}

// DatabaseSpecific carries the qualitative rating GHSA-backed entries publish.
type DatabaseSpecific struct {
	Severity string `json:"severity,omitempty"`
}
