// Package comparator adapts the external face comparison capability.
//
// The core never scores faces itself. A Comparator takes two base64 payloads
// and returns a similarity in [0,1]; the Gateway wraps one with validation,
// logging and metrics and never retries.
package comparator

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/pario-ai/facegate/pkg/metrics"
)

var (
	// ErrCompareFailed marks a comparison that produced no usable score.
	ErrCompareFailed = errors.New("compare failed")
	// ErrInvalidScore is returned for scores outside [0,1].
	ErrInvalidScore = errors.New("score out of range")
)

// Comparator scores the similarity of two payloads.
type Comparator interface {
	Compare(ctx context.Context, a, b string) (float64, error)
}

// Func adapts a function to Comparator.
type Func func(ctx context.Context, a, b string) (float64, error)

func (f Func) Compare(ctx context.Context, a, b string) (float64, error) {
	return f(ctx, a, b)
}

// Gateway is a pass-through to a Comparator.
type Gateway struct {
	inner   Comparator
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewGateway wraps inner.
func NewGateway(inner Comparator, logger zerolog.Logger, m *metrics.Metrics) *Gateway {
	return &Gateway{inner: inner, logger: logger, metrics: m}
}

// Compare returns the similarity of a and b. Any failure, including an out of
// range score, is logged and returned wrapped in ErrCompareFailed.
func (g *Gateway) Compare(ctx context.Context, a, b string) (float64, error) {
	score, err := g.inner.Compare(ctx, a, b)
	if err == nil && (math.IsNaN(score) || score < 0 || score > 1) {
		err = fmt.Errorf("%w: %v", ErrInvalidScore, score)
	}
	g.metrics.Compare(err == nil)
	if err != nil {
		g.logger.Warn().Err(err).Msg("comparison failed")
		return 0, fmt.Errorf("compare payloads: %w", errors.Join(ErrCompareFailed, err))
	}
	return score, nil
}
