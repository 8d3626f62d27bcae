package ghsa

import (
	"context"
	"strings"
	"time"

	githubql "github.com/shurcooL/githubv4"
	"github.com/shurcooL/graphql"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	"golang.org/x/xerrors"

	"github.com/vulnbuilder/vuln-builder/log"
	"github.com/vulnbuilder/vuln-builder/source"
	"github.com/vulnbuilder/vuln-builder/types"
	"github.com/vulnbuilder/vuln-builder/utils"
)

const (
	Name = "ghsa"

	retry           = 1
	maxResponseSize = 100
	maxPages        = 10
	interval        = time.Second
	tokenEnvName    = "GITHUB_TOKEN"
)

var wait = func(i int) time.Duration {
	return utils.Backoff(i, time.Second)
}

type GithubClient interface {
	Query(ctx context.Context, q interface{}, variables map[string]interface{}) error
}

type Connector struct {
	client   GithubClient
	retry    int
	maxPages int
	limiter  *rate.Limiter
}

type option func(*Connector)

func WithRetry(retry int) option {
	return func(c *Connector) { c.retry = retry }
}

func WithMaxPages(n int) option {
	return func(c *Connector) { c.maxPages = n }
}

func WithInterval(d time.Duration) option {
	return func(c *Connector) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

func NewConnector(client GithubClient, opts ...option) Connector {
	c := Connector{
		client:   client,
		retry:    retry,
		maxPages: maxPages,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Factory builds a connector authenticated with the configured token, falling
// back to GITHUB_TOKEN.
func Factory(o source.Options) (source.Connector, error) {
	token := o.APIKey
	if token == "" {
		token = utils.LookupEnv(tokenEnvName, "")
	}
	if token == "" {
		return nil, types.NewFailure(types.Configuration, xerrors.New("GitHub token is required for the ghsa source"))
	}
	httpClient := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))

	client := githubql.NewClient(httpClient)

	var opts []option
	if o.Interval > 0 {
		opts = append(opts, WithInterval(o.Interval))
	}
	return NewConnector(client, opts...), nil
}

func (c Connector) Name() string {
	return Name
}

func (c Connector) Collect(ctx context.Context, keywords []string) ([]types.RawRecord, error) {
	var records []types.RawRecord
	for _, keyword := range keywords {
		log.Logger.Infof("Fetching GitHub Security Advisory for package: %s", keyword)
		nodes, err := c.fetchGithubSecurityAdvisories(ctx, keyword)
		if err != nil {
			log.Logger.Errorf("Error collecting GitHub Security Advisory for %s: %s", keyword, err)
			continue
		}
		for _, node := range nodes {
			// GitHub GraphQL API may return nodes without an advisory
			if node.Advisory.GhsaId == "" {
				continue
			}
			raw, err := source.Raw(Name, keyword, node)
			if err != nil {
				log.Logger.Warnf("skip GitHub Security Advisory for %s: %s", keyword, err)
				continue
			}
			records = append(records, raw)
		}
		log.Logger.Infof("Found %d GitHub Security Advisories for %s", len(nodes), keyword)
	}
	return records, nil
}

func (c Connector) fetchGithubSecurityAdvisories(ctx context.Context, pkg string) ([]GithubSecurityAdvisory, error) {
	var ghsas []GithubSecurityAdvisory
	variables := map[string]interface{}{
		"package": githubql.String(pkg),
		"total":   graphql.Int(maxResponseSize),
		"cursor":  (*githubql.String)(nil),
	}
	for page := 0; page < c.maxPages; page++ {
		var query GetVulnerabilitiesQuery
		var err error
		for i := 0; i <= c.retry; i++ {
			if i > 0 {
				sleep := wait(i)
				log.Logger.Infof("retry after %s", sleep)
				time.Sleep(sleep)
			}
			if err = c.limiter.Wait(ctx); err != nil {
				return nil, err
			}

			err = c.client.Query(ctx, &query, variables)
			if err == nil || len(query.Nodes) > 0 {
				break
			}
		}
		// partial pages still carry usable nodes; bad nodes are skipped in Collect
		if err != nil && len(query.Nodes) == 0 {
			return nil, types.NewFailure(types.Transient, xerrors.Errorf("graphql api error: %w", err))
		}

		ghsas = append(ghsas, query.Nodes...)
		if !query.PageInfo.HasNextPage {
			break
		}
		variables["cursor"] = githubql.NewString(query.PageInfo.EndCursor)
	}
	return ghsas, nil
}

func (c Connector) Normalize(raw types.RawRecord) (*types.Vulnerability, error) {
	var node GithubSecurityAdvisory
	if err := source.Decode(raw, &node); err != nil {
		return nil, err
	}
	a := node.Advisory

	description := strings.TrimSpace(a.Description)
	if description == "" {
		description = a.Summary
	}
	return &types.Vulnerability{
		ID:          a.cveID(),
		Description: description,
		Published:   source.Time(a.PublishedAt),
		CVSSScore:   source.Score(a.CVSS.Score),
		Severity:    source.String(a.Severity),
		Source:      Name,
	}, nil
}
