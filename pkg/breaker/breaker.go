// Package breaker wraps gobreaker with the settings facegate uses around its
// remote collaborators.
package breaker

import (
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
)

// DefaultFailureThreshold is used when Config.FailureThreshold is zero.
const DefaultFailureThreshold = 5

// Config configures a circuit breaker around an unreliable collaborator.
type Config struct {
	Name             string
	FailureThreshold uint32
	Cooldown         time.Duration

	// IsSuccessful reports whether err still shows a healthy collaborator.
	// Errors it accepts do not count toward tripping. Nil counts every error.
	IsSuccessful func(err error) bool
}

// New creates a breaker that opens after FailureThreshold consecutive
// failures and half-opens after Cooldown. State changes are logged.
func New[T any](cfg Config, logger zerolog.Logger) *gobreaker.CircuitBreaker[T] {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = DefaultFailureThreshold
	}
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:         cfg.Name,
		MaxRequests:  1,
		Timeout:      cfg.Cooldown,
		IsSuccessful: cfg.IsSuccessful,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
}
