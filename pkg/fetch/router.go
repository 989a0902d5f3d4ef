// Package fetch reads reference payloads from their source locations.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pario-ai/facegate/pkg/breaker"
	"github.com/pario-ai/facegate/pkg/config"
)

// ErrUnsupportedScheme is returned for source refs no fetcher is registered for.
var ErrUnsupportedScheme = errors.New("unsupported source scheme")

// Fetcher reads the raw bytes behind a source ref.
type Fetcher interface {
	Fetch(ctx context.Context, sourceRef string) ([]byte, error)
}

// Router dispatches a source ref to the fetcher registered for its scheme.
// Refs without a scheme are treated as local paths.
type Router struct {
	routes map[string]Fetcher
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{routes: make(map[string]Fetcher)}
}

// New builds the default router: http and https over one breaker-protected
// HTTPFetcher, file and bare paths over a FileFetcher.
func New(cfg config.FetchConfig, logger zerolog.Logger) *Router {
	web := NewHTTPFetcher(HTTPOptions{
		Timeout:  cfg.Timeout,
		MaxBytes: cfg.MaxBytes,
		Breaker: breaker.Config{
			Name:             "fetch-http",
			FailureThreshold: cfg.BreakerFailures,
			Cooldown:         cfg.BreakerCooldown,
		},
		Logger: logger,
	})
	local := &FileFetcher{MaxBytes: cfg.MaxBytes}

	r := NewRouter()
	r.Register("http", web)
	r.Register("https", web)
	r.Register("file", local)
	r.Register("", local)
	return r
}

// Register routes scheme to f. The empty scheme handles bare paths.
func (r *Router) Register(scheme string, f Fetcher) {
	r.routes[strings.ToLower(scheme)] = f
}

// Resolve returns the fetcher for sourceRef.
func (r *Router) Resolve(sourceRef string) (Fetcher, error) {
	scheme := Scheme(sourceRef)
	f, ok := r.routes[scheme]
	if !ok {
		return nil, fmt.Errorf("resolve %q: %w", scheme, ErrUnsupportedScheme)
	}
	return f, nil
}

// Fetch reads sourceRef with the fetcher for its scheme.
func (r *Router) Fetch(ctx context.Context, sourceRef string) ([]byte, error) {
	f, err := r.Resolve(sourceRef)
	if err != nil {
		return nil, err
	}
	return f.Fetch(ctx, sourceRef)
}

// Scheme returns the lower-cased URL scheme of ref, or "" for a bare path.
func Scheme(ref string) string {
	i := strings.Index(ref, "://")
	if i <= 1 {
		return ""
	}
	scheme := ref[:i]
	for _, c := range scheme {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.') {
			return ""
		}
	}
	return strings.ToLower(scheme)
}
