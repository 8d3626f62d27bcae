package categorize

import (
	"context"
	"io"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vulnbuilder/vuln-builder/log"
	"github.com/vulnbuilder/vuln-builder/types"
)

const (
	defaultAttempts  = 3
	defaultBaseDelay = time.Second
)

// Categorizer turns a vulnerability description into a categorization using
// one provider. Categorize never fails: anything that goes wrong degrades to
// the sentinel categorization.
type Categorizer struct {
	name      string
	mode      types.ExecutionMode
	provider  Provider
	configErr error

	attempts  int
	baseDelay time.Duration
	limiter   *rate.Limiter
	logger    *zap.SugaredLogger
}

type Option func(*Categorizer)

// WithProvider replaces the transport built from the configuration.
func WithProvider(p Provider) Option {
	return func(c *Categorizer) {
		c.provider = p
	}
}

func WithAttempts(n int) Option {
	return func(c *Categorizer) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// WithBaseDelay sets the wait before the second attempt; it doubles after
// every further failure.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Categorizer) {
		c.baseDelay = d
	}
}

func New(cfg types.ProviderConfig, opts ...Option) *Categorizer {
	c := &Categorizer{
		name:      cfg.Name,
		mode:      cfg.Mode,
		attempts:  defaultAttempts,
		baseDelay: defaultBaseDelay,
		limiter:   rate.NewLimiter(rate.Inf, 1),
		logger:    log.With("categorize").With("provider", cfg.Name),
	}
	if cfg.RatePerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), 1)
	}
	for _, opt := range opts {
		opt(c)
	}

	c.configErr = cfg.Validate()
	if c.configErr == nil && c.provider == nil {
		c.provider, c.configErr = NewProvider(cfg)
	}
	if c.configErr != nil {
		c.logger.Warnw("Provider is not usable, every record will be uncategorized", "error", c.configErr)
	}
	return c
}

func (c *Categorizer) Name() string {
	return c.name
}

// Categorize returns the categorization of description. Transient provider
// failures are retried with exponential backoff; parse failures are not.
func (c *Categorizer) Categorize(ctx context.Context, description string) types.Categorization {
	if c.configErr != nil {
		return types.Sentinel(c.configErr.Error())
	}

	prompt := Prompt(description)
	if c.mode == types.LocalInference {
		prompt = LocalPrompt(description)
	}

	text, err := c.generate(ctx, prompt)
	if err != nil {
		c.logger.Warnw("Categorization failed", "error", err)
		return types.Sentinel(err.Error())
	}

	cat, ok := Parse(text, description)
	if !ok {
		c.logger.Warnw("Could not extract a categorization from the response", "response", text)
	}
	return cat
}

func (c *Categorizer) generate(ctx context.Context, prompt string) (string, error) {
	var text string
	attempt := 0
	operation := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		out, err := c.provider.Generate(ctx, prompt)
		if err != nil {
			if !types.IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		text = out
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Infow("Retrying provider call", "attempt", attempt, "wait", wait, "error", err)
	}

	if err := backoff.RetryNotify(operation, c.policy(ctx), notify); err != nil {
		return "", err
	}
	return text, nil
}

func (c *Categorizer) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Duration(math.MaxInt64)
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.attempts-1)), ctx)
}

// Close releases provider resources such as a local inference worker.
func (c *Categorizer) Close() error {
	if closer, ok := c.provider.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
