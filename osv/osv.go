package osv

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/xerrors"

	"github.com/vulnbuilder/vuln-builder/log"
	"github.com/vulnbuilder/vuln-builder/source"
	"github.com/vulnbuilder/vuln-builder/types"
	"github.com/vulnbuilder/vuln-builder/utils"
)

const (
	Name = "osv"

	queryURL  = "https://api.osv.dev/v1/query"
	retryWait = 5 * time.Second
	maxPages  = 10
)

var defaultEcosystems = []string{"PyPI", "Go", "crates.io", "npm", "Maven"}

type options struct {
	url        string
	ecosystems []string
	interval   time.Duration
	retryWait  time.Duration
	maxPages   int
}

type option func(*options)

func WithURL(url string) option {
	return func(opts *options) { opts.url = url }
}

func WithEcosystems(ecosystems []string) option {
	return func(opts *options) { opts.ecosystems = ecosystems }
}

func WithInterval(d time.Duration) option {
	return func(opts *options) { opts.interval = d }
}

func WithRetryWait(d time.Duration) option {
	return func(opts *options) { opts.retryWait = d }
}

func WithMaxPages(n int) option {
	return func(opts *options) { opts.maxPages = n }
}

// Connector looks keywords up as package names in every configured OSV
// ecosystem.
type Connector struct {
	*options
	fetcher *utils.Fetcher
}

func NewConnector(opts ...option) Connector {
	o := &options{
		url:        queryURL,
		ecosystems: defaultEcosystems,
		retryWait:  retryWait,
		maxPages:   maxPages,
	}
	for _, opt := range opts {
		opt(o)
	}
	return Connector{
		options: o,
		fetcher: utils.NewFetcher(o.interval, o.retryWait),
	}
}

func Factory(o source.Options) (source.Connector, error) {
	var opts []option
	if o.BaseURL != "" {
		opts = append(opts, WithURL(o.BaseURL))
	}
	if o.Interval > 0 {
		opts = append(opts, WithInterval(o.Interval))
	}
	if o.RetryWait > 0 {
		opts = append(opts, WithRetryWait(o.RetryWait))
	}
	return NewConnector(opts...), nil
}

func (c Connector) Name() string {
	return Name
}

func (c Connector) Collect(ctx context.Context, keywords []string) ([]types.RawRecord, error) {
	var records []types.RawRecord
	for _, keyword := range keywords {
		pkg := strings.TrimSpace(keyword)
		if pkg == "" {
			continue
		}
		var n int
		for _, eco := range c.ecosystems {
			vulns, err := c.query(ctx, pkg, eco)
			if err != nil {
				log.Logger.Errorf("Error querying OSV %s advisories for %s: %s", eco, keyword, err)
				continue
			}
			for _, v := range vulns {
				if v.Withdrawn != "" {
					continue
				}
				raw, err := source.Raw(Name, keyword, v)
				if err != nil {
					log.Logger.Warnf("skip OSV entry %s: %s", v.ID, err)
					continue
				}
				records = append(records, raw)
				n++
			}
		}
		log.Logger.Infof("Found %d OSV advisories for %s", n, keyword)
	}
	return records, nil
}

func (c Connector) query(ctx context.Context, pkg, ecosystem string) ([]OSV, error) {
	var vulns []OSV
	q := query{Package: queryPackage{Name: pkg, Ecosystem: ecosystem}}
	for page := 0; page < c.maxPages; page++ {
		b, err := c.fetcher.Do(ctx, utils.Request{Method: http.MethodPost, URL: c.url, Body: q})
		if err != nil {
			return nil, xerrors.Errorf("failed to query OSV: %w", err)
		}
		var res response
		if err = json.Unmarshal(b, &res); err != nil {
			return nil, types.NewFailure(types.Malformed, xerrors.Errorf("failed to decode OSV response: %w", err))
		}
		vulns = append(vulns, res.Vulns...)
		if res.NextPageToken == "" {
			return vulns, nil
		}
		q.PageToken = res.NextPageToken
	}
	log.Logger.Warnf("OSV %s/%s exceeded %d pages, results truncated", ecosystem, pkg, c.maxPages)
	return vulns, nil
}

// Normalize prefers the CVE alias as record ID so OSV entries deduplicate
// against the CVE-keyed feeds.
func (c Connector) Normalize(raw types.RawRecord) (*types.Vulnerability, error) {
	var v OSV
	if err := source.Decode(raw, &v); err != nil {
		return nil, err
	}
	id := v.ID
	if cve, ok := lo.Find(v.Aliases, func(a string) bool {
		return strings.HasPrefix(a, "CVE-")
	}); ok {
		id = cve
	}

	description := strings.TrimSpace(v.Details)
	if description == "" {
		description = strings.TrimSpace(v.Summary)
	}

	return &types.Vulnerability{
		ID:          id,
		Description: description,
		Published:   source.Time(v.Published),
		Severity:    source.String(v.DatabaseSpecific.Severity),
		Source:      Name,
	}, nil
}
