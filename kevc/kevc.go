package kevc

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"github.com/vulnbuilder/vuln-builder/log"
	"github.com/vulnbuilder/vuln-builder/source"
	"github.com/vulnbuilder/vuln-builder/types"
	"github.com/vulnbuilder/vuln-builder/utils"
)

const (
	Name = "kevc"

	kevcURL   = "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"
	retryWait = 5 * time.Second
)

type options struct {
	url       string
	retryWait time.Duration
}

type option func(*options)

func WithURL(url string) option {
	return func(opts *options) { opts.url = url }
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
		url:       kevcURL,
		retryWait: retryWait,
	}
	for _, opt := range opts {
		opt(o)
	}
	return Connector{
		options: o,
		fetcher: utils.NewFetcher(0, o.retryWait),
	}
}

func Factory(o source.Options) (source.Connector, error) {
	var opts []option
	if o.BaseURL != "" {
		opts = append(opts, WithURL(o.BaseURL))
	}
	if o.RetryWait > 0 {
		opts = append(opts, WithRetryWait(o.RetryWait))
	}
	return NewConnector(opts...), nil
}

func (c Connector) Name() string {
	return Name
}

// Collect downloads the catalog once and matches every keyword against the
// vendor, product and vulnerability name of each entry.
func (c Connector) Collect(ctx context.Context, keywords []string) ([]types.RawRecord, error) {
	log.Logger.Info("Fetching Known Exploited Vulnerabilities Catalog")

	kevc, err := c.fetch(ctx)
	if err != nil {
		log.Logger.Errorf("Error collecting KEV catalog: %s", err)
		return nil, nil
	}

	var records []types.RawRecord
	for _, keyword := range keywords {
		var n int
		for _, vuln := range kevc.Vulnerabilities {
			if !vuln.matches(keyword) {
				continue
			}
			raw, err := source.Raw(Name, keyword, vuln)
			if err != nil {
				log.Logger.Warnf("skip KEV entry %s: %s", vuln.CveID, err)
				continue
			}
			records = append(records, raw)
			n++
		}
		log.Logger.Infof("Found %d KEV vulnerabilities for %s", n, keyword)
	}
	return records, nil
}

func (c Connector) fetch(ctx context.Context) (KEVC, error) {
	var kevc KEVC
	res, err := c.fetcher.Do(ctx, utils.Request{URL: c.url})
	if err != nil {
		return kevc, xerrors.Errorf("failed to fetch KEVC: %w", err)
	}
	if err = json.Unmarshal(res, &kevc); err != nil {
		return kevc, types.NewFailure(types.Malformed, xerrors.Errorf("failed to KEVC json unmarshal error: %w", err))
	}
	if kevc.Count != len(kevc.Vulnerabilities) {
		log.Logger.Warnf("KEVC count mismatch: count %d, vulnerabilities %d", kevc.Count, len(kevc.Vulnerabilities))
	}
	return kevc, nil
}

func (c Connector) Normalize(raw types.RawRecord) (*types.Vulnerability, error) {
	var vuln Vulnerability
	if err := source.Decode(raw, &vuln); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(vuln.CveID, "CVE") {
		log.Logger.Debugf("discovered non-CVE-ID: %s", vuln.CveID)
	}
	return &types.Vulnerability{
		ID:          vuln.CveID,
		Description: vuln.ShortDescription,
		Published:   source.Time(vuln.DateAdded),
		Source:      Name,
	}, nil
}
