package categorize

import (
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/xerrors"

	"github.com/vulnbuilder/vuln-builder/types"
	"github.com/vulnbuilder/vuln-builder/utils"
)

const (
	defaultLocalCommand = "llama-cli"
	maxNewTokens        = 250

	userMarker      = "<|user|>"
	assistantMarker = "<|assistant|>"
)

var endOfText = []string{"</s>", "<|endoftext|>", "<|im_end|>", "<|eot_id|>"}

// Runner executes an inference command and returns its stdout.
type Runner func(ctx context.Context, command string, args []string) (string, error)

// Local runs a locally installed model through an inference CLI. All
// generations go through a single worker because one process owns the model.
type Local struct {
	command string
	args    []string
	run     Runner

	tasks     chan<- func()
	closeOnce sync.Once
}

type LocalOption func(*Local)

func WithRunner(r Runner) LocalOption {
	return func(l *Local) {
		l.run = r
	}
}

// NewLocal builds the command line from the configuration. Endpoint names the
// inference binary and every engine setting becomes a "--key value" flag.
func NewLocal(cfg types.ProviderConfig, opts ...LocalOption) *Local {
	command := cfg.Endpoint
	if command == "" {
		command = defaultLocalCommand
	}
	args := []string{"-m", cfg.Model, "-n", strconv.Itoa(maxNewTokens)}
	args = append(args, engineFlags(cfg.EngineConfig)...)

	l := &Local{
		command: command,
		args:    args,
		run:     utils.Exec,
		tasks:   utils.GenWorkers(1, 0),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func engineFlags(kvs []types.KeyValue) []string {
	var flags []string
	for _, kv := range kvs {
		key := kv.Key
		if !strings.HasPrefix(key, "-") {
			key = "--" + strings.ReplaceAll(key, "_", "-")
		}
		flags = append(flags, key)
		if kv.Value != "" {
			flags = append(flags, kv.Value)
		}
	}
	return flags
}

type generation struct {
	text string
	err  error
}

func (l *Local) Generate(ctx context.Context, prompt string) (string, error) {
	chat := userMarker + "\n" + prompt + "\n" + assistantMarker + "\n"
	args := append(append([]string{}, l.args...), "-p", chat)

	done := make(chan generation, 1)
	job := func() {
		out, err := l.run(ctx, l.command, args)
		done <- generation{text: out, err: err}
	}
	select {
	case l.tasks <- job:
	case <-ctx.Done():
		return "", types.NewFailure(types.Permanent, ctx.Err())
	}

	var g generation
	select {
	case g = <-done:
	case <-ctx.Done():
		return "", types.NewFailure(types.Permanent, ctx.Err())
	}
	if g.err != nil {
		if errors.Is(g.err, exec.ErrNotFound) {
			return "", types.NewFailure(types.Configuration, xerrors.Errorf("inference command %s: %w", l.command, g.err))
		}
		return "", types.NewFailure(types.Transient, xerrors.Errorf("local inference: %w", g.err))
	}
	return AssistantResponse(g.text, chat), nil
}

// Close stops the worker. Generate must not be called afterwards.
func (l *Local) Close() error {
	l.closeOnce.Do(func() {
		close(l.tasks)
	})
	return nil
}

// AssistantResponse strips the echoed prompt and chat markers from the output
// of a local model, keeping only the assistant turn.
func AssistantResponse(output, prompt string) string {
	if prompt != "" {
		if i := strings.Index(output, prompt); i >= 0 {
			output = output[i+len(prompt):]
		}
	}
	if i := strings.Index(output, assistantMarker); i >= 0 {
		output = output[i+len(assistantMarker):]
	}
	for _, eot := range endOfText {
		if i := strings.Index(output, eot); i >= 0 {
			output = output[:i]
		}
	}
	return strings.TrimSpace(output)
}
