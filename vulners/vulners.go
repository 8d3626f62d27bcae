package vulners

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/xerrors"

	"github.com/vulnbuilder/vuln-builder/log"
	"github.com/vulnbuilder/vuln-builder/source"
	"github.com/vulnbuilder/vuln-builder/types"
	"github.com/vulnbuilder/vuln-builder/utils"
)

const (
	Name = "vulners"

	searchURL     = "https://vulners.com/api/v3/search/search"
	apiKeyEnvName = "VULNERS_API_KEY"
	pageSize      = 100
	maxResults    = 500
	interval      = 5 * time.Second
	retryWait     = 5 * time.Second
)

type options struct {
	url        string
	apiKey     string
	pageSize   int
	maxResults int
	interval   time.Duration
	retryWait  time.Duration
}

type option func(*options)

func WithURL(url string) option {
	return func(opts *options) { opts.url = url }
}

func WithAPIKey(key string) option {
	return func(opts *options) { opts.apiKey = key }
}

func WithPageSize(n int) option {
	return func(opts *options) { opts.pageSize = n }
}

func WithMaxResults(n int) option {
	return func(opts *options) { opts.maxResults = n }
}

func WithInterval(d time.Duration) option {
	return func(opts *options) { opts.interval = d }
}

func WithRetryWait(d time.Duration) option {
	return func(opts *options) { opts.retryWait = d }
}

type Connector struct {
	*options
	fetcher *utils.Fetcher
}

func NewConnector(opts ...option) Connector {
	o := &options{
		url:        searchURL,
		apiKey:     utils.LookupEnv(apiKeyEnvName, ""),
		pageSize:   pageSize,
		maxResults: maxResults,
		interval:   interval,
		retryWait:  retryWait,
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
	if o.APIKey != "" {
		opts = append(opts, WithAPIKey(o.APIKey))
	}
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
	if c.apiKey == "" {
		log.Logger.Warnf("%s is not set, Vulners requests will likely be rejected", apiKeyEnvName)
	}

	var records []types.RawRecord
	for _, keyword := range keywords {
		log.Logger.Infof("Collecting VULNERS data for search parameter: %s", keyword)
		docs, err := c.search(ctx, keyword)
		if err != nil {
			log.Logger.Errorf("Error collecting Vulners data for %s: %s", keyword, err)
			continue
		}
		for _, doc := range docs {
			raw, err := source.Raw(Name, keyword, doc)
			if err != nil {
				log.Logger.Warnf("skip Vulners record for %s: %s", keyword, err)
				continue
			}
			records = append(records, raw)
		}
		log.Logger.Infof("Found %d Vulners vulnerabilities for %s", len(docs), keyword)
	}
	return records, nil
}

func (c Connector) search(ctx context.Context, query string) ([]json.RawMessage, error) {
	var docs []json.RawMessage
	for skip := 0; skip < c.maxResults; {
		b, err := c.fetcher.Do(ctx, utils.Request{
			Method: http.MethodPost,
			URL:    c.url,
			Body: searchRequest{
				Query:  query,
				Skip:   skip,
				Size:   c.pageSize,
				APIKey: c.apiKey,
			},
		})
		if err != nil {
			return nil, err
		}

		var resp searchResponse
		if err = json.Unmarshal(b, &resp); err != nil {
			return nil, types.NewFailure(types.Malformed, xerrors.Errorf("unable to decode response: %w", err))
		}
		if resp.Result != "" && resp.Result != "OK" {
			return nil, types.NewFailure(types.Permanent, xerrors.Errorf("vulners error: %s", resp.Data.Error))
		}

		docs = append(docs, resp.Data.Search...)
		skip += len(resp.Data.Search)
		if len(resp.Data.Search) < c.pageSize || skip >= resp.Data.Total {
			break
		}
	}
	return docs, nil
}

func (c Connector) Normalize(raw types.RawRecord) (*types.Vulnerability, error) {
	var doc document
	if err := source.Decode(raw, &doc); err != nil {
		return nil, err
	}
	s := doc.Source

	v := &types.Vulnerability{
		ID:          s.ID,
		Description: s.Description,
		Published:   source.Time(s.Published),
		CVSSScore:   source.Score(s.Cvss.Score),
		Source:      Name,
	}
	severity := s.Cvss.Severity
	if severity == "" {
		severity = source.Severity(s.Cvss.Score)
	}
	v.Severity = source.String(severity)
	return v, nil
}
