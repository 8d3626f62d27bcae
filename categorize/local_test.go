package categorize

import (
	"context"
	"os/exec"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/vulnbuilder/vuln-builder/types"
)

func TestLocal_Generate(t *testing.T) {
	var gotCommand string
	var gotArgs []string
	runner := func(_ context.Context, command string, args []string) (string, error) {
		gotCommand, gotArgs = command, args
		prompt := args[len(args)-1]
		return prompt + "CWE ID: 79\nVendor: Apache</s> trailing noise", nil
	}
	cfg := types.ProviderConfig{
		Name:     "llama",
		Model:    "/models/llama.gguf",
		Endpoint: "/usr/local/bin/llama-cli",
		Mode:     types.LocalInference,
		EngineConfig: []types.KeyValue{
			{Key: "ctx_size", Value: "4096"},
			{Key: "--temp", Value: "0.1"},
		},
	}
	l := NewLocal(cfg, WithRunner(runner))
	defer l.Close()

	got, err := l.Generate(context.Background(), "categorize this")
	require.NoError(t, err)
	assert.Equal(t, "CWE ID: 79\nVendor: Apache", got)
	assert.Equal(t, "/usr/local/bin/llama-cli", gotCommand)
	assert.Equal(t, []string{"-m", "/models/llama.gguf", "-n", "250", "--ctx-size", "4096", "--temp", "0.1", "-p"}, gotArgs[:len(gotArgs)-1])
}

func TestLocal_Serialized(t *testing.T) {
	var running, maxRunning int32
	runner := func(_ context.Context, _ string, _ []string) (string, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			m := atomic.LoadInt32(&maxRunning)
			if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
				break
			}
		}
		atomic.AddInt32(&running, -1)
		return "Vendor: x", nil
	}
	l := NewLocal(types.ProviderConfig{Model: "m"}, WithRunner(runner))
	defer l.Close()

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			_, _ = l.Generate(context.Background(), "p")
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
}

func TestLocal_Errors(t *testing.T) {
	missing := func(context.Context, string, []string) (string, error) {
		return "", xerrors.Errorf("failed to exec: %w", exec.ErrNotFound)
	}
	l := NewLocal(types.ProviderConfig{Model: "m"}, WithRunner(missing))
	_, err := l.Generate(context.Background(), "p")
	require.Error(t, err)
	assert.Equal(t, types.Configuration, types.KindOf(err))
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	crashed := func(context.Context, string, []string) (string, error) {
		return "", xerrors.New("exit status 1")
	}
	l = NewLocal(types.ProviderConfig{Model: "m"}, WithRunner(crashed))
	defer l.Close()
	_, err = l.Generate(context.Background(), "p")
	assert.Equal(t, types.Transient, types.KindOf(err))
}

func TestAssistantResponse(t *testing.T) {
	testCases := []struct {
		name   string
		output string
		prompt string
		want   string
	}{
		{name: "echoed prompt", output: "PROMPT answer", prompt: "PROMPT", want: "answer"},
		{name: "assistant marker", output: "<|user|>\nq\n<|assistant|>\n a </s>", want: "a"},
		{name: "endoftext", output: "answer<|endoftext|>junk", want: "answer"},
		{name: "plain", output: "  answer\n", want: "answer"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, AssistantResponse(tc.output, tc.prompt))
		})
	}
}
