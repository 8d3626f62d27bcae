package nvd

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/xerrors"

	"github.com/vulnbuilder/vuln-builder/log"
	"github.com/vulnbuilder/vuln-builder/source"
	"github.com/vulnbuilder/vuln-builder/types"
	"github.com/vulnbuilder/vuln-builder/utils"
)

const (
	Name = "nvd"

	url20             = "https://services.nvd.nist.gov/rest/json/cves/2.0"
	apiKeyEnvName     = "NVD_API_KEY"
	maxResultsPerPage = 2000

	// NVD allows 5 requests per 30s without a key and 50 with one.
	publicInterval = 6 * time.Second
	keyInterval    = 600 * time.Millisecond
	retryWait      = 5 * time.Second
)

type options struct {
	baseURL           string
	apiKey            string
	maxResultsPerPage int
	interval          time.Duration
	retryWait         time.Duration
}

type option func(*options)

func WithBaseURL(url string) option {
	return func(opts *options) { opts.baseURL = url }
}

func WithAPIKey(key string) option {
	return func(opts *options) { opts.apiKey = key }
}

func WithMaxResultsPerPage(n int) option {
	return func(opts *options) { opts.maxResultsPerPage = n }
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
		baseURL:           url20,
		apiKey:            utils.LookupEnv(apiKeyEnvName, ""),
		maxResultsPerPage: maxResultsPerPage,
		interval:          -1,
		retryWait:         retryWait,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.interval < 0 {
		o.interval = publicInterval
		if o.apiKey != "" {
			o.interval = keyInterval
		}
	}
	return Connector{
		options: o,
		fetcher: utils.NewFetcher(o.interval, o.retryWait),
	}
}

// Factory adapts NewConnector to the source registry.
func Factory(o source.Options) (source.Connector, error) {
	var opts []option
	if o.Interval > 0 {
		opts = append(opts, WithInterval(o.Interval))
	}
	if o.APIKey != "" {
		opts = append(opts, WithAPIKey(o.APIKey))
	}
	if o.BaseURL != "" {
		opts = append(opts, WithBaseURL(o.BaseURL))
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
		log.Logger.Infof("Collecting NVD data for search parameter: %s", keyword)
		vulns, err := c.search(ctx, keyword)
		if err != nil {
			log.Logger.Errorf("Error collecting NVD data for %s: %s", keyword, err)
			continue
		}
		for _, v := range vulns {
			raw, err := source.Raw(Name, keyword, v)
			if err != nil {
				log.Logger.Warnf("skip NVD record for %s: %s", keyword, err)
				continue
			}
			records = append(records, raw)
		}
		log.Logger.Infof("Found %d NVD vulnerabilities for %s", len(vulns), keyword)
	}
	return records, nil
}

func (c Connector) search(ctx context.Context, keyword string) ([]json.RawMessage, error) {
	var vulns []json.RawMessage
	for startIndex := 0; ; {
		pageURL, err := urlWithParams(c.baseURL, keyword, startIndex, c.maxResultsPerPage)
		if err != nil {
			return nil, err
		}
		entry, err := c.getEntry(ctx, pageURL)
		if err != nil {
			return nil, xerrors.Errorf("unable to get entry for %q: %w", pageURL, err)
		}
		vulns = append(vulns, entry.Vulnerabilities...)

		startIndex += len(entry.Vulnerabilities)
		if len(entry.Vulnerabilities) == 0 || startIndex >= entry.TotalResults {
			break
		}
	}
	return vulns, nil
}

func (c Connector) getEntry(ctx context.Context, pageURL string) (Entry, error) {
	var entry Entry
	header := map[string]string{}
	if c.apiKey != "" {
		header["apiKey"] = c.apiKey
	}
	b, err := c.fetcher.Do(ctx, utils.Request{URL: pageURL, Header: header})
	if err != nil {
		return entry, err
	}
	if err = json.Unmarshal(b, &entry); err != nil {
		return entry, types.NewFailure(types.Malformed, xerrors.Errorf("unable to decode response: %w", err))
	}
	return entry, nil
}

func (c Connector) Normalize(raw types.RawRecord) (*types.Vulnerability, error) {
	var item Item
	if err := source.Decode(raw, &item); err != nil {
		return nil, err
	}
	cve := item.Cve

	v := &types.Vulnerability{
		ID:          cve.ID,
		Description: cve.englishDescription(),
		Published:   source.Time(cve.Published),
		Source:      Name,
	}
	if m, ok := cve.Metrics.primary(); ok {
		v.CVSSScore = source.Score(m.CvssData.BaseScore)
		severity := m.CvssData.BaseSeverity
		if severity == "" {
			severity = m.BaseSeverity
		}
		v.Severity = source.String(severity)
	}
	return v, nil
}

func urlWithParams(baseURL, keyword string, startIndex, resultsPerPage int) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", xerrors.Errorf("unable to parse %q base url: %w", baseURL, err)
	}
	q := u.Query()
	q.Set("keywordSearch", keyword)
	q.Set("startIndex", strconv.Itoa(startIndex))
	q.Set("resultsPerPage", strconv.Itoa(resultsPerPage))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
