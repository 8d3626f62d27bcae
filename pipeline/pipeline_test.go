package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vulnbuilder/vuln-builder/categorize"
	"github.com/vulnbuilder/vuln-builder/config"
	"github.com/vulnbuilder/vuln-builder/export"
	"github.com/vulnbuilder/vuln-builder/source"
	"github.com/vulnbuilder/vuln-builder/types"
	"github.com/vulnbuilder/vuln-builder/utils"
)

type fakeRecord struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

type fakeConnector struct {
	name    string
	records []fakeRecord
	err     error
}

func (c *fakeConnector) Name() string { return c.name }

func (c *fakeConnector) Collect(_ context.Context, keywords []string) ([]types.RawRecord, error) {
	if c.err != nil {
		return nil, c.err
	}
	var raws []types.RawRecord
	for _, kw := range keywords {
		for _, r := range c.records {
			raw, err := source.Raw(c.name, kw, r)
			if err != nil {
				return nil, err
			}
			raws = append(raws, raw)
		}
	}
	return raws, nil
}

func (c *fakeConnector) Normalize(raw types.RawRecord) (*types.Vulnerability, error) {
	var r fakeRecord
	if err := source.Decode(raw, &r); err != nil {
		return nil, err
	}
	return &types.Vulnerability{ID: r.ID, Description: r.Description}, nil
}

var fakes = map[string]*fakeConnector{}

type fakeTransport struct {
	text string
	err  error
}

func (t fakeTransport) Generate(context.Context, string) (string, error) {
	return t.text, t.err
}

func TestMain(m *testing.M) {
	RegisterDefaults()
	for _, name := range []string{"fake-a", "fake-b"} {
		source.Register(name, func(source.Options) (source.Connector, error) {
			c, ok := fakes[name]
			if !ok {
				return nil, errors.New("fake not configured")
			}
			return c, nil
		})
	}
	goleak.VerifyTestMain(m)
}

func setFakes(t *testing.T, cs ...*fakeConnector) {
	t.Helper()
	fakes = map[string]*fakeConnector{}
	for _, c := range cs {
		fakes[c.name] = c
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Models: []config.Model{
			{Provider: "gemini", Model: "gemini-1.5-flash", API: "gemini", Type: "api", APIKey: "k"},
			{Provider: "chatgpt", Model: "gpt-4o", Type: "api", APIKey: "k"},
			{Provider: "llama", Model: "/models/llama.gguf", Type: "local"},
			{Provider: "flaky", Model: "m", Type: "api", APIKey: "k"},
		},
	}
}

func categorization(cwe, vendor string) string {
	return `{"cwe_category": "` + cwe + `", "explanation": "because", "vendor": "` + vendor + `", "cause": "input", "impact": "rce"}`
}

func readJSON(t *testing.T, fs afero.Fs, path string) []types.EnrichedRecord {
	t.Helper()
	var got []types.EnrichedRecord
	ok, err := utils.NewFs(fs).ReadJSON(path, &got)
	require.NoError(t, err)
	require.True(t, ok, path)
	return got
}

func TestRun_PerProvider(t *testing.T) {
	setFakes(t,
		&fakeConnector{name: "fake-a", records: []fakeRecord{
			{ID: "CVE-2024-0001", Description: "XSS in the admin panel."},
			{ID: "CVE-2024-0002", Description: "SQL injection."},
		}},
		&fakeConnector{name: "fake-b", records: []fakeRecord{
			{ID: "CVE-2024-0001", Description: "duplicate"},
			{ID: "", Description: "no id"},
			{ID: "CVE-2024-0003", Description: "Path traversal."},
		}},
	)
	fs := afero.NewMemMapFs()

	p, err := New(testConfig(), Options{
		Sources:      []string{"fake-a", "fake-b"},
		Providers:    []string{"none", "gemini"},
		ExportFormat: "json",
		OutputFile:   "out.json",
		Keywords:     []string{"apache", " apache ", ""},
		Fs:           fs,
		Transports:   map[string]categorize.Provider{"gemini": fakeTransport{text: categorization("CWE-79", "Apache")}},
	})
	require.NoError(t, err)
	defer p.Close()

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Keywords)
	assert.Equal(t, map[string]int{"fake-a": 2, "fake-b": 3}, report.Collected)
	assert.Equal(t, 5, report.Preprocess.Total)
	assert.Equal(t, 3, report.Preprocess.Unique)
	assert.Equal(t, 1, report.Preprocess.Duplicates)
	assert.Equal(t, 1, report.Preprocess.Skipped)
	require.Len(t, report.Providers, 2)
	assert.Equal(t, ProviderReport{Name: "none", Exported: 3, Output: "dataset/out.json"}, report.Providers[0])
	assert.Equal(t, ProviderReport{Name: "gemini", Categorized: 3, Exported: 3, Output: "gemini_dataset/out.json"}, report.Providers[1])

	plain := readJSON(t, fs, "dataset/out.json")
	require.Len(t, plain, 3)
	assert.Equal(t, []string{"CVE-2024-0001", "CVE-2024-0002", "CVE-2024-0003"},
		[]string{plain[0].ID, plain[1].ID, plain[2].ID})
	assert.Equal(t, "XSS in the admin panel.", plain[0].Description)
	assert.Equal(t, "fake-a", plain[0].Source)
	assert.Equal(t, "apache", plain[0].Vendor)
	assert.Equal(t, "none", plain[0].Provider)
	assert.Empty(t, plain[0].CWECategory)
	assert.Equal(t, report.RunID, plain[0].RunID)

	gemini := readJSON(t, fs, "gemini_dataset/out.json")
	require.Len(t, gemini, 3)
	for _, r := range gemini {
		assert.Equal(t, "CWE-79", r.CWECategory)
		assert.Equal(t, "Apache", r.Vendor)
		assert.Equal(t, "because", r.CWEExplanation)
		assert.Equal(t, "gemini", r.Provider)
	}

	// a second run over the same output adds nothing
	report, err = p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Providers[0].Exported)
	assert.Len(t, readJSON(t, fs, "dataset/out.json"), 3)
}

func TestRun_Combined(t *testing.T) {
	setFakes(t, &fakeConnector{name: "fake-a", records: []fakeRecord{
		{ID: "CVE-2024-0001", Description: "XSS in Struts."},
	}})
	fs := afero.NewMemMapFs()

	p, err := New(testConfig(), Options{
		Sources:      []string{"fake-a"},
		Providers:    []string{"gemini", "chatgpt", "llama", "none"},
		Combined:     true,
		ExportFormat: "csv",
		OutputFile:   "out.csv",
		Keywords:     []string{"struts"},
		Fs:           fs,
		Transports: map[string]categorize.Provider{
			"gemini":  fakeTransport{text: categorization("CWE-79", "Apache")},
			"chatgpt": fakeTransport{text: categorization("CWE-79", "Apache Software Foundation")},
			"llama":   fakeTransport{text: "CWE ID: 89\nVendor: Apache Software Foundation\nCause: input"},
		},
	})
	require.NoError(t, err)
	defer p.Close()

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Providers, 1)
	assert.Equal(t, "consensus", report.Providers[0].Name)
	assert.Equal(t, "consensus_dataset/out.csv", report.Providers[0].Output)

	f, err := fs.Open("consensus_dataset/out.csv")
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, export.Columns, rows[0])

	row := rows[1]
	assert.Equal(t, "CVE-2024-0001", row[0])
	assert.Equal(t, "Apache Software Foundation", row[2])
	assert.Equal(t, "CWE-79", row[3])
	assert.Equal(t, "because", row[4])
	assert.Equal(t, "input", row[6])
	assert.Equal(t, "rce", row[7])
	assert.Equal(t, "consensus", row[15])
}

func TestRun_Isolation(t *testing.T) {
	setFakes(t,
		&fakeConnector{name: "fake-a", err: errors.New("feed is down")},
		&fakeConnector{name: "fake-b", records: []fakeRecord{{ID: "CVE-2024-0009", Description: "DoS"}}},
	)
	fs := afero.NewMemMapFs()

	p, err := New(testConfig(), Options{
		Sources:        []string{"fake-a", "fake-b"},
		Providers:      []string{"flaky"},
		ExportFormat:   "json",
		OutputFile:     "out.json",
		Keywords:       []string{"nginx"},
		Fs:             fs,
		RetryBaseDelay: time.Millisecond,
		Transports: map[string]categorize.Provider{
			"flaky": fakeTransport{err: types.NewFailure(types.Transient, errors.New("HTTP error. status code: 503"))},
		},
	})
	require.NoError(t, err)
	defer p.Close()

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, report.SourceErrors["fake-a"], "feed is down")
	assert.Equal(t, ProviderReport{Name: "flaky", Categorized: 1, Degraded: 1, Exported: 1, Output: "flaky_dataset/out.json"}, report.Providers[0])

	got := readJSON(t, fs, "flaky_dataset/out.json")
	require.Len(t, got, 1)
	assert.Equal(t, "UNKNOWN", got[0].CWECategory)
	assert.Equal(t, "nginx", got[0].Vendor)
	assert.Contains(t, got[0].CWEExplanation, "status code: 503")
}

func TestRun_NoData(t *testing.T) {
	setFakes(t, &fakeConnector{name: "fake-a"})
	fs := afero.NewMemMapFs()

	p, err := New(testConfig(), Options{
		Sources: []string{"fake-a"}, ExportFormat: "json", Keywords: []string{"x"}, Fs: fs,
	})
	require.NoError(t, err)
	defer p.Close()

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Providers)
	exists, err := afero.Exists(fs, "dataset/"+DefaultOutputFile)
	require.NoError(t, err)
	assert.False(t, exists)

	p.opts.Keywords = []string{" ", ""}
	_, err = p.Run(context.Background())
	assert.EqualError(t, err, "no search parameters provided")
}

func TestNew_StartupErrors(t *testing.T) {
	setFakes(t, &fakeConnector{name: "fake-a"})
	enabled := testConfig()
	enabled.Exporters = []string{"csv"}

	testCases := []struct {
		name    string
		cfg     *config.Config
		opts    Options
		wantErr string
	}{
		{
			name:    "no source",
			opts:    Options{ExportFormat: "csv"},
			wantErr: "no data source selected",
		},
		{
			name:    "unknown source",
			opts:    Options{Sources: []string{"exploitdb"}, ExportFormat: "csv"},
			wantErr: `unknown data source "exploitdb"`,
		},
		{
			name:    "unknown provider",
			opts:    Options{Sources: []string{"fake-a"}, Providers: []string{"mistral"}, ExportFormat: "csv"},
			wantErr: `unknown provider "mistral"`,
		},
		{
			name:    "unknown export format",
			opts:    Options{Sources: []string{"fake-a"}, ExportFormat: "xlsx"},
			wantErr: `unknown export format "xlsx"`,
		},
		{
			name:    "export format not enabled",
			cfg:     enabled,
			opts:    Options{Sources: []string{"fake-a"}, ExportFormat: "json"},
			wantErr: `export format "json" is not enabled`,
		},
		{
			name:    "combined without providers",
			opts:    Options{Sources: []string{"fake-a"}, Providers: []string{"none"}, Combined: true, ExportFormat: "csv"},
			wantErr: "combined mode needs at least one provider",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			if cfg == nil {
				cfg = testConfig()
			}
			_, err := New(cfg, tc.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestNew_AllSources(t *testing.T) {
	setFakes(t, &fakeConnector{name: "fake-a"}, &fakeConnector{name: "fake-b"})
	t.Setenv("GITHUB_TOKEN", "")

	t.Run("unconfigured source is skipped", func(t *testing.T) {
		for _, sel := range []string{"both", "all"} {
			p, err := New(&config.Config{}, Options{Sources: []string{sel}, ExportFormat: "json"})
			require.NoError(t, err, sel)

			var names []string
			for _, c := range p.connectors {
				names = append(names, c.Name())
			}
			assert.NotContains(t, names, "ghsa", sel)
			assert.Subset(t, names, []string{"fake-a", "fake-b", "kevc", "nvd", "osv", "vulners"}, sel)
			p.Close()
		}
	})

	t.Run("unconfigured source named explicitly", func(t *testing.T) {
		_, err := New(&config.Config{}, Options{Sources: []string{"nvd", "ghsa"}, ExportFormat: "json"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "GitHub token is required")
	})
}

func TestReport_Sources(t *testing.T) {
	r := &Report{Collected: map[string]int{"vulners": 3, "kevc": 0, "nvd": 12, "ghsa": 1}}
	assert.Equal(t, []string{"ghsa", "kevc", "nvd", "vulners"}, r.sources())
}
