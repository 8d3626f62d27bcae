package cwe

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"github.com/vulnbuilder/vuln-builder/log"
	"github.com/vulnbuilder/vuln-builder/types"
	"github.com/vulnbuilder/vuln-builder/utils"
)

const (
	cweURL    = "https://cwe.mitre.org/data/xml/cwec_latest.xml.zip"
	retryWait = 10 * time.Second
)

// Catalog maps CWE ids to weakness names.
type Catalog struct {
	Version string
	names   map[int]string
}

type Loader struct {
	url     string
	fetcher *utils.Fetcher
}

type option func(*Loader)

func WithURL(url string) option {
	return func(l *Loader) {
		l.url = url
	}
}

func WithRetryWait(d time.Duration) option {
	return func(l *Loader) {
		l.fetcher = utils.NewFetcher(0, d)
	}
}

func NewLoader(opts ...option) Loader {
	l := &Loader{
		url:     cweURL,
		fetcher: utils.NewFetcher(0, retryWait),
	}
	for _, opt := range opts {
		opt(l)
	}
	return *l
}

// Load downloads and decodes the MITRE catalog.
func (l Loader) Load(ctx context.Context) (*Catalog, error) {
	log.Logger.Info("Fetching CWE data...")
	data, err := l.fetcher.Do(ctx, utils.Request{URL: l.url})
	if err != nil {
		return nil, xerrors.Errorf("failed to fetch cwe data: %w", err)
	}

	b, err := unzip(data)
	if err != nil {
		return nil, err
	}

	c, err := Parse(b)
	if err != nil {
		return nil, err
	}
	log.Logger.Infow("CWE catalog loaded", "version", c.Version, "weaknesses", len(c.names))
	return c, nil
}

// Parse decodes a catalog XML document.
func Parse(b []byte) (*Catalog, error) {
	var wc WeaknessCatalog
	if err := xml.Unmarshal(b, &wc); err != nil {
		return nil, xerrors.Errorf("failed to decode cwe catalog: %w", err)
	}
	c := &Catalog{Version: wc.Version, names: map[int]string{}}
	for _, w := range wc.Weaknesses.Weakness {
		c.names[w.ID] = w.Name
	}
	return c, nil
}

// Name returns the weakness name for ids such as "CWE-79", "cwe 79" or "79".
// Unknown ids and the sentinel yield "".
func (c *Catalog) Name(id string) string {
	if c == nil {
		return ""
	}
	id = types.NormalizeCWE(id)
	n, err := strconv.Atoi(strings.TrimPrefix(id, "CWE-"))
	if err != nil {
		return ""
	}
	return c.names[n]
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.names)
}

func unzip(data []byte) ([]byte, error) {
	zipReader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, xerrors.Errorf("unable to initialize zip: %w", err)
	}

	if len(zipReader.File) != 1 {
		return nil, xerrors.Errorf("invalid CWE zip: want exactly one file in archive, got %d", len(zipReader.File))
	}

	b, err := readZipFile(zipReader.File[0])
	if err != nil {
		return nil, xerrors.Errorf("unable to read zip archive: %w", err)
	}
	return b, nil
}

func readZipFile(zf *zip.File) ([]byte, error) {
	f, err := zf.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
