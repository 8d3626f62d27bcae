package ghsa

import (
	"context"
	"errors"
	"testing"
	"time"

	githubql "github.com/shurcooL/githubv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnbuilder/vuln-builder/types"
)

type MockClient struct {
	Response map[githubql.String]GetVulnerabilitiesQuery
	Errors   map[githubql.String]error
}

func (mc MockClient) Query(ctx context.Context, q interface{}, variables map[string]interface{}) error {
	pkg := variables["package"].(githubql.String)
	if err := mc.Errors[pkg]; err != nil {
		return err
	}

	key := githubql.String("")
	if cursor := variables["cursor"].(*githubql.String); cursor != nil {
		key = *cursor
	}
	q.(*GetVulnerabilitiesQuery).SecurityVulnerabilities = mc.Response[key].SecurityVulnerabilities
	return nil
}

func advisory(ghsaID, cve, description string) GithubSecurityAdvisory {
	a := GithubSecurityAdvisory{
		Severity: "HIGH",
		Package:  Package{Ecosystem: "MAVEN", Name: "org.apache.logging.log4j:log4j-core"},
		Advisory: Advisory{
			GhsaId:      ghsaID,
			Description: description,
			Summary:     "summary of " + ghsaID,
			PublishedAt: "2021-12-10T00:40:56Z",
			Severity:    "CRITICAL",
			CVSS:        GithubCVSS{Score: 10, VectorString: "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:C/C:H/I:H/A:H"},
			Identifiers: []Identifier{{Type: "GHSA", Value: ghsaID}},
		},
	}
	if cve != "" {
		a.Advisory.Identifiers = append(a.Advisory.Identifiers, Identifier{Type: "CVE", Value: cve})
	}
	return a
}

func TestConnector_Collect(t *testing.T) {
	client := MockClient{
		Response: map[githubql.String]GetVulnerabilitiesQuery{
			"": {SecurityVulnerabilities: SecurityVulnerabilities{
				Nodes:    []GithubSecurityAdvisory{advisory("GHSA-jfh8-c2jp-5v3q", "CVE-2021-44228", "Remote code injection in Log4j"), {}},
				PageInfo: PageInfo{EndCursor: "page2", HasNextPage: true},
			}},
			"page2": {SecurityVulnerabilities: SecurityVulnerabilities{
				Nodes: []GithubSecurityAdvisory{advisory("GHSA-7rjr-3q55-vv33", "", "")},
			}},
		},
		Errors: map[githubql.String]error{
			"broken": errors.New("graphql: rate limited"),
		},
	}

	c := NewConnector(client, WithRetry(0), WithInterval(0))
	got, err := c.Collect(context.Background(), []string{"broken", "log4j"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	first, err := c.Normalize(got[0])
	require.NoError(t, err)
	published := time.Date(2021, 12, 10, 0, 40, 56, 0, time.UTC)
	score := 10.0
	critical := "CRITICAL"
	assert.Equal(t, &types.Vulnerability{
		ID:          "CVE-2021-44228",
		Description: "Remote code injection in Log4j",
		Published:   &published,
		CVSSScore:   &score,
		Severity:    &critical,
		Source:      Name,
	}, first)
	assert.Equal(t, "log4j", got[0].Keyword)

	second, err := c.Normalize(got[1])
	require.NoError(t, err)
	assert.Equal(t, "GHSA-7rjr-3q55-vv33", second.ID)
	assert.Equal(t, "summary of GHSA-7rjr-3q55-vv33", second.Description)
}

func TestConnector_MaxPages(t *testing.T) {
	client := MockClient{
		Response: map[githubql.String]GetVulnerabilitiesQuery{
			"": {SecurityVulnerabilities: SecurityVulnerabilities{
				Nodes:    []GithubSecurityAdvisory{advisory("GHSA-1", "CVE-1", "a")},
				PageInfo: PageInfo{EndCursor: "", HasNextPage: true},
			}},
		},
	}
	c := NewConnector(client, WithRetry(0), WithInterval(0), WithMaxPages(3))
	got, err := c.Collect(context.Background(), []string{"loop"})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}
