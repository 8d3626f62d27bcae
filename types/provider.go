package types

import (
	"strings"

	"golang.org/x/xerrors"
)

type ExecutionMode string

const (
	RemoteAPI      ExecutionMode = "remote-api"
	LocalInference ExecutionMode = "local-inference"
)

// ParseExecutionMode accepts the canonical names plus the short "api"/"local"
// spellings used in older configuration files.
func ParseExecutionMode(s string) (ExecutionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "remote-api", "api", "remote", "":
		return RemoteAPI, nil
	case "local-inference", "local":
		return LocalInference, nil
	}
	return "", xerrors.Errorf("unknown execution mode %q", s)
}

// ProviderConfig describes one text-generation provider. It is built once at
// startup and never mutated afterwards.
type ProviderConfig struct {
	Name          string
	Model         string
	Credential    string
	Endpoint      string
	API           string // "openai" (default) or "gemini" for remote-api
	Mode          ExecutionMode
	EngineConfig  []KeyValue
	RatePerMinute int
}

type KeyValue struct {
	Key   string
	Value string
}

// Validate reports the first missing value the execution mode requires.
func (p ProviderConfig) Validate() error {
	if p.Model == "" {
		return &Failure{Kind: Configuration, Err: xerrors.Errorf("provider %s: model is not configured", p.Name)}
	}
	if p.Mode == RemoteAPI && p.Credential == "" {
		return &Failure{Kind: Configuration, Err: xerrors.Errorf("provider %s: api key is not configured", p.Name)}
	}
	return nil
}

// ParseKeyValues parses a flat "k=v,k=v" engine setting list, keeping order.
func ParseKeyValues(s string) ([]KeyValue, error) {
	var kvs []KeyValue
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, xerrors.Errorf("invalid engine setting %q, want key=value", pair)
		}
		kvs = append(kvs, KeyValue{Key: strings.TrimSpace(k), Value: strings.TrimSpace(v)})
	}
	return kvs, nil
}
