package export

import (
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnbuilder/vuln-builder/types"
	"github.com/vulnbuilder/vuln-builder/utils"
)

func records() []types.EnrichedRecord {
	published := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	score := 6.1
	severity := "MEDIUM"
	return []types.EnrichedRecord{
		{
			Vulnerability: types.Vulnerability{
				ID: "CVE-2024-0001", Description: "XSS in admin, panel", Vendor: "Apache",
				Published: &published, CVSSScore: &score, Severity: &severity, Source: "nvd",
			},
			CWECategory: "CWE-79", CWEExplanation: "xss", Provider: "gemini", RunID: "run-1",
		},
		{
			Vulnerability: types.Vulnerability{ID: "CVE-2024-0002", Description: "SQLi", Vendor: "Oracle", Source: "vulners"},
			CWECategory:   "CWE-89", Provider: "gemini", RunID: "run-1",
		},
	}
}

func readCSV(t *testing.T, fs afero.Fs, path string) [][]string {
	t.Helper()
	f, err := fs.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSV_Export(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	path := "gemini_dataset/out.csv"

	sink, err := NewCSV(ctx, Options{Path: path, Fs: fs})
	require.NoError(t, err)
	n, err := sink.Export(ctx, records())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// same sink, same records
	n, err = sink.Export(ctx, records())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// a new sink over the same file seeds its ids from it
	sink, err = NewCSV(ctx, Options{Path: path, Fs: fs})
	require.NoError(t, err)
	more := append(records(), types.EnrichedRecord{
		Vulnerability: types.Vulnerability{ID: "CVE-2024-0003", Description: "RCE", Vendor: "Cisco", Source: "nvd"},
	})
	n, err = sink.Export(ctx, more)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows := readCSV(t, fs, path)
	require.Len(t, rows, 4)
	assert.Equal(t, Columns, rows[0])
	assert.Equal(t, []string{
		"CVE-2024-0001", "XSS in admin, panel", "Apache", "CWE-79", "xss", "",
		"", "", "2024-03-01T10:00:00Z", "6.1", "MEDIUM", "nvd",
		"", "", "", "gemini", "run-1",
	}, rows[1])
	assert.Equal(t, "CVE-2024-0003", rows[3][0])
}

func TestCSV_NoIDColumn(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "out.csv", []byte("name,vendor\nfoo,bar\n"), 0644))
	_, err := NewCSV(context.Background(), Options{Path: "out.csv", Fs: fs})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no id column")
}

func TestJSON_Export(t *testing.T) {
	for _, path := range []string{"dataset/out.json", "dataset/out.json.gz"} {
		t.Run(path, func(t *testing.T) {
			ctx := context.Background()
			fs := afero.NewMemMapFs()

			sink, err := NewJSON(ctx, Options{Path: path, Fs: fs})
			require.NoError(t, err)
			n, err := sink.Export(ctx, records()[:1])
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			n, err = sink.Export(ctx, records())
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			n, err = sink.Export(ctx, records())
			require.NoError(t, err)
			assert.Equal(t, 0, n)

			var got []types.EnrichedRecord
			ok, err := utils.NewFs(fs).ReadJSON(path, &got)
			require.NoError(t, err)
			require.True(t, ok)
			require.Len(t, got, 2)
			assert.Equal(t, "CVE-2024-0001", got[0].ID)
			assert.Equal(t, "CVE-2024-0002", got[1].ID)
			assert.Equal(t, 6.1, *got[0].CVSSScore)
		})
	}
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	_, err := New(ctx, "parquet", Options{Path: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown export format "parquet"`)

	Register("test-csv", NewCSV)
	assert.True(t, Registered("test-csv"))
	assert.Contains(t, Names(), "test-csv")
	assert.Panics(t, func() { Register("test-csv", NewCSV) })

	sink, err := New(ctx, "test-csv", Options{Path: "out.csv", Fs: afero.NewMemMapFs()})
	require.NoError(t, err)
	assert.NoError(t, sink.Close())

	_, err = New(ctx, "test-csv", Options{Fs: afero.NewMemMapFs()})
	assert.Error(t, err)
}
