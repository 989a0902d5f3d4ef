package comparator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/pario-ai/facegate/pkg/breaker"
	"github.com/pario-ai/facegate/pkg/config"
)

var errCallerDone = errors.New("comparison abandoned by caller")

// RejectedError is the service declining one pair, for example because no
// face was found in the reference. It concerns that pair only.
type RejectedError struct {
	Status int
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("comparator rejected pair: HTTP %d", e.Status)
	}
	return fmt.Sprintf("comparator rejected pair (HTTP %d): %s", e.Status, e.Reason)
}

// serviceHealthy reports whether err still shows a working service. Only
// transport errors, 5xx, 429 and unreadable answers count toward the breaker.
func serviceHealthy(err error) bool {
	var rejected *RejectedError
	return err == nil || errors.As(err, &rejected) || errors.Is(err, errCallerDone)
}

type compareRequest struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

type compareResponse struct {
	Similarity float64 `json:"similarity"`
	Error      string  `json:"error,omitempty"`
}

// Client calls a remote face comparison service over HTTP.
//
// The service receives {"source": <sample>, "target": <reference>} and answers
// {"similarity": <0..1>}.
type Client struct {
	url     string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[float64]
}

// NewClient creates a Client from cfg.
func NewClient(cfg config.ComparatorConfig, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		http:   &http.Client{Timeout: timeout},
		breaker: breaker.New[float64](breaker.Config{
			Name:             "comparator",
			FailureThreshold: cfg.BreakerFailures,
			Cooldown:         cfg.BreakerCooldown,
			IsSuccessful:     serviceHealthy,
		}, logger),
	}
}

// Compare posts both payloads to the service.
func (c *Client) Compare(ctx context.Context, a, b string) (float64, error) {
	return c.breaker.Execute(func() (float64, error) {
		score, err := c.do(ctx, a, b)
		if err != nil && ctx.Err() != nil {
			return 0, fmt.Errorf("%w: %w", errCallerDone, err)
		}
		return score, err
	})
}

func (c *Client) do(ctx context.Context, a, b string) (float64, error) {
	body, err := json.Marshal(compareRequest{Source: a, Target: b})
	if err != nil {
		return 0, fmt.Errorf("marshal compare request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create compare request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("compare request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("read compare response: %w", err)
	}

	var out compareResponse
	decodeErr := json.Unmarshal(data, &out)

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return 0, fmt.Errorf("comparator returned HTTP %d: %s", resp.StatusCode, out.Error)
	case resp.StatusCode != http.StatusOK:
		return 0, &RejectedError{Status: resp.StatusCode, Reason: out.Error}
	case decodeErr != nil:
		return 0, fmt.Errorf("decode compare response: %w", decodeErr)
	case out.Error != "":
		return 0, &RejectedError{Status: resp.StatusCode, Reason: out.Error}
	}
	return out.Similarity, nil
}
