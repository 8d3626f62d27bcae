package categorize

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"golang.org/x/xerrors"
	"google.golang.org/genai"

	"github.com/vulnbuilder/vuln-builder/types"
)

// Gemini uses the Gemini API through the genai SDK. The client is created on
// first use so that building a categorizer never touches the network.
type Gemini struct {
	cfg types.ProviderConfig

	once    sync.Once
	client  *genai.Client
	initErr error
}

func NewGemini(cfg types.ProviderConfig) *Gemini {
	return &Gemini{cfg: cfg}
}

func (g *Gemini) init(ctx context.Context) (*genai.Client, error) {
	g.once.Do(func() {
		cc := &genai.ClientConfig{
			APIKey:  g.cfg.Credential,
			Backend: genai.BackendGeminiAPI,
		}
		if g.cfg.Endpoint != "" {
			cc.HTTPOptions = genai.HTTPOptions{BaseURL: g.cfg.Endpoint}
		}
		g.client, g.initErr = genai.NewClient(ctx, cc)
		if g.initErr != nil {
			g.initErr = types.NewFailure(types.Configuration, xerrors.Errorf("failed to create gemini client: %w", g.initErr))
		}
	})
	return g.client, g.initErr
}

func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	client, err := g.init(ctx)
	if err != nil {
		return "", err
	}
	resp, err := client.Models.GenerateContent(ctx, g.cfg.Model, genai.Text(prompt), nil)
	if err != nil {
		return "", types.NewFailure(geminiKind(err), xerrors.Errorf("gemini generate content: %w", err))
	}
	text := resp.Text()
	if text == "" {
		return "", types.NewFailure(types.Malformed, xerrors.New("gemini returned no text"))
	}
	return text, nil
}

func geminiKind(err error) types.FailureKind {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return types.Permanent
	}
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return types.Transient
	}
	switch {
	case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
		return types.Transient
	case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
		return types.Configuration
	}
	return types.Permanent
}
