package categorize

import (
	"context"
	"strings"

	"golang.org/x/xerrors"

	"github.com/vulnbuilder/vuln-builder/types"
)

// Provider sends a prompt to a text-generation backend and returns the raw
// completion. Errors should be tagged with a types.FailureKind; untagged
// errors are treated as transient and retried.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// NewProvider builds the transport matching the configuration.
func NewProvider(cfg types.ProviderConfig) (Provider, error) {
	if cfg.Mode == types.LocalInference {
		return NewLocal(cfg), nil
	}
	switch strings.ToLower(cfg.API) {
	case "", "openai":
		return NewOpenAI(cfg), nil
	case "gemini":
		return NewGemini(cfg), nil
	}
	return nil, types.NewFailure(types.Configuration, xerrors.Errorf("provider %s: unknown api %q", cfg.Name, cfg.API))
}
