package utils

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"math"
	"math/big"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/parnurzeal/gorequest"
	"golang.org/x/time/rate"
	"golang.org/x/xerrors"

	"github.com/vulnbuilder/vuln-builder/log"
	"github.com/vulnbuilder/vuln-builder/types"
)

const defaultTimeout = 60 * time.Second

// Request describes one HTTP call against a feed. Body is sent as JSON when
// non-nil.
type Request struct {
	Method string
	URL    string
	Header map[string]string
	Body   interface{}
}

// Fetcher paces requests against a single feed and retries exactly once when
// the feed answers 403 or 429.
type Fetcher struct {
	limiter   *rate.Limiter
	retryWait time.Duration
	timeout   time.Duration
}

// NewFetcher returns a Fetcher allowing one request per interval. A zero
// interval disables pacing.
func NewFetcher(interval, retryWait time.Duration) *Fetcher {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Fetcher{
		limiter:   rate.NewLimiter(limit, 1),
		retryWait: retryWait,
		timeout:   defaultTimeout,
	}
}

func (f *Fetcher) Do(ctx context.Context, req Request) ([]byte, error) {
	body, status, err := f.do(ctx, req)
	if err == nil && (status == http.StatusForbidden || status == http.StatusTooManyRequests) {
		log.Logger.Warnf("rate limited (status %d) by %s, retry after %s", status, req.URL, f.retryWait)
		if err = sleep(ctx, f.retryWait); err != nil {
			return nil, types.NewFailure(types.Transient, err)
		}
		body, status, err = f.do(ctx, req)
	}
	if err != nil {
		return nil, types.NewFailure(types.Transient, xerrors.Errorf("HTTP error. url: %s, err: %w", req.URL, err))
	}

	switch {
	case status == http.StatusOK:
		return body, nil
	case status == http.StatusForbidden, status == http.StatusTooManyRequests, status >= 500:
		return nil, types.NewFailure(types.Transient, xerrors.Errorf("HTTP error. status code: %d, url: %s", status, req.URL))
	default:
		return nil, types.NewFailure(types.Permanent, xerrors.Errorf("HTTP error. status code: %d, url: %s", status, req.URL))
	}
}

func (f *Fetcher) do(ctx context.Context, req Request) ([]byte, int, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	agent := gorequest.New()
	switch req.Method {
	case "", http.MethodGet:
		agent = agent.Get(req.URL)
	case http.MethodPost:
		agent = agent.Post(req.URL).Type("json")
		if req.Body != nil {
			b, err := json.Marshal(req.Body)
			if err != nil {
				return nil, 0, xerrors.Errorf("unable to marshal request body: %w", err)
			}
			agent = agent.Send(string(b))
		}
	default:
		return nil, 0, xerrors.Errorf("unsupported method %s", req.Method)
	}
	agent = agent.Timeout(f.timeout).Set("User-Agent", "vuln-builder")
	for k, v := range req.Header {
		agent = agent.Set(k, v)
	}

	resp, body, errs := agent.EndBytes()
	if len(errs) > 0 {
		return nil, 0, errs[0]
	}
	return body, resp.StatusCode, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Backoff returns the squared backoff with jitter used between feed retries.
func Backoff(i int, unit time.Duration) time.Duration {
	wait := math.Pow(float64(i), 2) + float64(RandInt()%10)
	return time.Duration(wait * float64(unit))
}

func RandInt() int {
	seed, _ := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	return int(seed.Int64())
}

// GenWorkers starts num goroutines draining the returned channel. Closing the
// channel stops them.
func GenWorkers(num int, wait time.Duration) chan<- func() {
	tasks := make(chan func())
	for i := 0; i < num; i++ {
		go func() {
			for f := range tasks {
				f()
				time.Sleep(wait)
			}
		}()
	}
	return tasks
}

// ReadLines returns the trimmed, non-empty lines of a local file.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("unable to open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err = scanner.Err(); err != nil {
		return nil, xerrors.Errorf("unable to read %s: %w", path, err)
	}
	return lines, nil
}

// Exec runs command and returns its stdout. stderr is logged on failure.
func Exec(ctx context.Context, command string, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	if err := cmd.Run(); err != nil {
		log.Logger.Debugw("Command failed", "command", command, "stderr", stderrBuf.String())
		return "", xerrors.Errorf("failed to exec: %w", err)
	}
	return stdoutBuf.String(), nil
}

func LookupEnv(key, defaultValue string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultValue
}
