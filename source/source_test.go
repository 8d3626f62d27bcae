package source_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnbuilder/vuln-builder/source"
	"github.com/vulnbuilder/vuln-builder/types"
)

type fakeConnector struct {
	name    string
	records []types.RawRecord
	err     error
	panics  bool
}

func (f fakeConnector) Name() string { return f.name }

func (f fakeConnector) Collect(_ context.Context, keywords []string) ([]types.RawRecord, error) {
	if f.panics {
		panic("boom")
	}
	return f.records, f.err
}

func (f fakeConnector) Normalize(types.RawRecord) (*types.Vulnerability, error) { return nil, nil }

func TestRegistry(t *testing.T) {
	source.Register("fake-registry", func(opts source.Options) (source.Connector, error) {
		return fakeConnector{name: "fake-registry"}, nil
	})
	assert.Contains(t, source.Names(), "fake-registry")
	assert.Panics(t, func() {
		source.Register("fake-registry", nil)
	})

	c, err := source.New("fake-registry", source.Options{})
	require.NoError(t, err)
	assert.Equal(t, "fake-registry", c.Name())

	_, err = source.New("missing", source.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown data source "missing"`)
}

func TestCollectAll(t *testing.T) {
	rec := types.RawRecord{Source: "a", Keyword: "apache"}
	results := source.CollectAll(context.Background(), []source.Connector{
		fakeConnector{name: "a", records: []types.RawRecord{rec}},
		fakeConnector{name: "b", err: errors.New("feed down")},
		fakeConnector{name: "c", panics: true},
	}, []string{"apache"})

	require.Len(t, results, 3)
	assert.Equal(t, []types.RawRecord{rec}, results[0].Records)
	assert.NoError(t, results[0].Err)
	assert.EqualError(t, results[1].Err, "feed down")
	require.Error(t, results[2].Err)
	assert.Contains(t, results[2].Err.Error(), "panicked")
}

func TestValues(t *testing.T) {
	got := source.Time("2021-12-10T10:15:09.143")
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2021, 12, 10, 10, 15, 9, 143000000, time.UTC), *got)
	assert.Nil(t, source.Time(""))
	assert.Nil(t, source.Time("not a date"))

	assert.Nil(t, source.Score(0))
	assert.Equal(t, 9.8, *source.Score(9.8))
	assert.Nil(t, source.String(" "))
	assert.Equal(t, "HIGH", *source.String("high"))

	assert.Equal(t, "CRITICAL", source.Severity(9.8))
	assert.Equal(t, "LOW", source.Severity(0.1))
	assert.Equal(t, "", source.Severity(0))
}
