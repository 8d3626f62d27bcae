package normalize

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnbuilder/vuln-builder/types"
)

type stubSource struct {
	v   *types.Vulnerability
	err error
}

func (s stubSource) Normalize(types.RawRecord) (*types.Vulnerability, error) {
	if s.v == nil {
		return nil, s.err
	}
	v := *s.v
	return &v, s.err
}

func TestBasic_Normalize(t *testing.T) {
	long := strings.Repeat("é", 310)

	tests := []struct {
		name    string
		raw     types.RawRecord
		src     stubSource
		want    *types.Vulnerability
		wantErr string
	}{
		{
			name: "happy path",
			raw:  types.RawRecord{Source: "nvd", Keyword: "apache"},
			src: stubSource{v: &types.Vulnerability{
				ID: " CVE-2021-41773 ", Description: "Path traversal in Apache HTTP Server 2.4.49!", Source: "nvd",
			}},
			want: &types.Vulnerability{
				ID:                      "CVE-2021-41773",
				Description:             "Path traversal in Apache HTTP Server 2.4.49!",
				DescriptionWithoutPunct: "path traversal in apache http server 2449",
				Vendor:                  "apache",
				Source:                  "nvd",
			},
		},
		{
			name: "truncated by runes and unknown vendor",
			raw:  types.RawRecord{Source: "kevc"},
			src:  stubSource{v: &types.Vulnerability{ID: "CVE-1", Description: long}},
			want: &types.Vulnerability{
				ID:                      "CVE-1",
				Description:             strings.Repeat("é", 300),
				DescriptionWithoutPunct: strings.Repeat("é", 300),
				Vendor:                  "Unknown",
				Source:                  "kevc",
			},
		},
		{
			name: "connector declines",
			src:  stubSource{},
		},
		{
			name:    "connector fails",
			src:     stubSource{err: errors.New("malformed")},
			wantErr: "malformed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Basic{}.Normalize(tt.raw, tt.src)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type named string

func (named) Normalize(types.RawRecord, SourceNormalizer) (*types.Vulnerability, error) {
	return nil, nil
}

func TestRegister_Order(t *testing.T) {
	mu.Lock()
	saved := entries
	entries = nil
	mu.Unlock()
	defer func() {
		mu.Lock()
		entries = saved
		mu.Unlock()
	}()

	Register("late", 20, named("late"))
	Register("basic", 10, named("basic"))
	Register("also-late", 20, named("also-late"))

	assert.Equal(t, []string{"basic", "late", "also-late"}, Names())
	assert.Equal(t, []Normalizer{named("basic"), named("late"), named("also-late")}, Ordered())
}
