package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/pario-ai/facegate/pkg/breaker"
)

var (
	// ErrTooLarge is returned when a payload exceeds the configured byte limit.
	ErrTooLarge = errors.New("payload too large")

	errCallerDone = errors.New("request abandoned by caller")
)

// StatusError is a non-2xx answer from the source host.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, http.StatusText(e.Code))
}

// hostHealthy reports whether err still shows a reachable, working host. A
// missing or oversized payload concerns one source ref only, and a caller
// that gives up says nothing about the host.
func hostHealthy(err error) bool {
	if err == nil {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code < 500 && se.Code != http.StatusTooManyRequests
	}
	return errors.Is(err, ErrTooLarge) || errors.Is(err, errCallerDone)
}

// HTTPFetcher reads payloads over HTTP(S). Requests bypass intermediary caches
// since the payload cache decides freshness. Repeated transport errors or 5xx
// answers open a breaker so an unreachable host fails fast instead of eating
// the search deadline. Per-ref answers such as 404 never trip it.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
	breaker  *gobreaker.CircuitBreaker[[]byte]
	logger   zerolog.Logger
}

// HTTPOptions configures an HTTPFetcher.
type HTTPOptions struct {
	Timeout  time.Duration
	MaxBytes int64
	Breaker  breaker.Config
	Client   *http.Client
	Logger   zerolog.Logger
}

// NewHTTPFetcher creates an HTTPFetcher.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Breaker.Name == "" {
		opts.Breaker.Name = "fetch-http"
	}
	if opts.Breaker.IsSuccessful == nil {
		opts.Breaker.IsSuccessful = hostHealthy
	}
	return &HTTPFetcher{
		client:   client,
		maxBytes: opts.MaxBytes,
		breaker:  breaker.New[[]byte](opts.Breaker, opts.Logger),
		logger:   opts.Logger,
	}
}

// Fetch downloads sourceRef.
func (f *HTTPFetcher) Fetch(ctx context.Context, sourceRef string) ([]byte, error) {
	body, err := f.breaker.Execute(func() ([]byte, error) {
		body, err := f.do(ctx, sourceRef)
		if err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", errCallerDone, err)
		}
		return body, err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", sourceRef, err)
	}
	return body, nil
}

func (f *HTTPFetcher) do(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	reader := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if f.maxBytes > 0 && int64(len(body)) > f.maxBytes {
		return nil, ErrTooLarge
	}
	return body, nil
}
