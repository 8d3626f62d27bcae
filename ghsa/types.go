package ghsa

import githubql "github.com/shurcooL/githubv4"

type GetVulnerabilitiesQuery struct {
	SecurityVulnerabilities `graphql:"securityVulnerabilities(package: $package, first: $total, after: $cursor)"`
}

type SecurityVulnerabilities struct {
	Nodes    []GithubSecurityAdvisory
	PageInfo PageInfo
}

type PageInfo struct {
	EndCursor   githubql.String
	HasNextPage bool
}

type GithubSecurityAdvisory struct {
	Severity               string
	UpdatedAt              string
	Package                Package
	Advisory               Advisory
	FirstPatchedVersion    FirstPatchedVersion
	VulnerableVersionRange string
}

type Package struct {
	Ecosystem string
	Name      string
}

type Advisory struct {
	DatabaseId  int
	Id          string
	GhsaId      string
	References  []Reference
	Identifiers []Identifier
	Description string
	Origin      string
	PublishedAt string
	Severity    string
	Summary     string
	UpdatedAt   string
	WithdrawnAt string
	CVSS        GithubCVSS `graphql:"cvss"`
}

type GithubCVSS struct {
	Score        float64
	VectorString string
}

type Identifier struct {
	Type  string
	Value string
}

type Reference struct {
	Url string
}

type FirstPatchedVersion struct {
	Identifier string
}

// cveID prefers the CVE alias so records from other feeds deduplicate
// against it.
func (a Advisory) cveID() string {
	for _, id := range a.Identifiers {
		if id.Type == "CVE" && id.Value != "" {
			return id.Value
		}
	}
	return a.GhsaId
}
