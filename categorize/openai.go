package categorize

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/parnurzeal/gorequest"
	"golang.org/x/xerrors"

	"github.com/vulnbuilder/vuln-builder/types"
)

const (
	defaultOpenAIEndpoint = "https://api.openai.com/v1"
	openAITimeout         = 2 * time.Minute
)

// OpenAI talks to any endpoint implementing the chat completions API.
type OpenAI struct {
	endpoint string
	apiKey   string
	model    string
	timeout  time.Duration
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func NewOpenAI(cfg types.ProviderConfig) *OpenAI {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}
	return &OpenAI{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		apiKey:   cfg.Credential,
		model:    cfg.Model,
		timeout:  openAITimeout,
	}
}

func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", types.NewFailure(types.Permanent, err)
	}
	url := o.endpoint + "/chat/completions"
	resp, body, errs := gorequest.New().Post(url).
		Set("Authorization", "Bearer "+o.apiKey).
		Type("json").
		Send(chatRequest{
			Model:    o.model,
			Messages: []chatMessage{{Role: "user", Content: prompt}},
		}).
		Timeout(o.timeout).
		EndBytes()
	if len(errs) > 0 {
		return "", types.NewFailure(types.Transient, xerrors.Errorf("chat completion request to %s: %w", url, errs[0]))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", types.NewFailure(types.Transient, xerrors.Errorf("HTTP error. status code: %d, url: %s", resp.StatusCode, url))
	default:
		return "", types.NewFailure(types.Permanent, xerrors.Errorf("HTTP error. status code: %d, url: %s", resp.StatusCode, url))
	}

	var r chatResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return "", types.NewFailure(types.Malformed, xerrors.Errorf("failed to decode chat completion: %w", err))
	}
	if len(r.Choices) == 0 {
		return "", types.NewFailure(types.Malformed, xerrors.New("chat completion has no choices"))
	}
	return r.Choices[0].Message.Content, nil
}
