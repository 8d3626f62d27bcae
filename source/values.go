package source

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"golang.org/x/xerrors"

	"github.com/vulnbuilder/vuln-builder/types"
)

// Time parses the many timestamp layouts feeds use. Unparseable or empty
// values yield nil.
func Time(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func Score(f float64) *float64 {
	if f <= 0 || f > 10 {
		return nil
	}
	return &f
}

func String(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	s = strings.ToUpper(s)
	return &s
}

// Severity returns the CVSS v3 qualitative rating for a base score.
func Severity(score float64) string {
	switch {
	case score >= 9.0:
		return "CRITICAL"
	case score >= 7.0:
		return "HIGH"
	case score >= 4.0:
		return "MEDIUM"
	case score > 0:
		return "LOW"
	}
	return ""
}

// Raw wraps a feed payload together with the keyword that found it.
func Raw(source, keyword string, payload interface{}) (types.RawRecord, error) {
	var b []byte
	switch p := payload.(type) {
	case json.RawMessage:
		b = p
	default:
		var err error
		if b, err = json.Marshal(payload); err != nil {
			return types.RawRecord{}, xerrors.Errorf("unable to marshal %s record: %w", source, err)
		}
	}
	return types.RawRecord{Source: source, Keyword: keyword, Payload: b}, nil
}

// Decode unmarshals a raw payload, tagging failures as malformed.
func Decode(raw types.RawRecord, v interface{}) error {
	if err := json.Unmarshal(raw.Payload, v); err != nil {
		return types.NewFailure(types.Malformed, xerrors.Errorf("malformed %s record: %w", raw.Source, err))
	}
	return nil
}
