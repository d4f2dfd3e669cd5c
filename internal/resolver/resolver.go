// Package resolver resolves an external resource by trying an ordered chain
// of providers and accepting the first success.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
)

var (
	// ErrNotFound is returned by a provider that has no value for the key.
	ErrNotFound = errors.New("resolver: not found")
	// ErrNotConfigured is returned by a provider lacking credentials.
	ErrNotConfigured = errors.New("resolver: provider not configured")
)

// DefaultProviderTimeout applies to providers that declare no timeout.
const DefaultProviderTimeout = 5 * time.Second

// Provider describes one source in a chain.
type Provider struct {
	Name    string
	Timeout time.Duration
	// Configured reports whether the provider can run. Nil means always.
	Configured func() bool
	Resolve    func(ctx context.Context, key string) (string, error)
	// Fallback marks a last-resort provider whose results are lower quality.
	Fallback bool
}

func (p Provider) configured() bool {
	return p.Resolve != nil && (p.Configured == nil || p.Configured())
}

// Result is the outcome of a resolution. Found is false when every provider
// was skipped or failed.
type Result struct {
	Found    bool   `json:"found"`
	Value    string `json:"value,omitempty"`
	Provider string `json:"provider,omitempty"`
	Fallback bool   `json:"fallback"`
	Cached   bool   `json:"cached"`
}

// Cache persists successful resolutions.
type Cache interface {
	Lookup(ctx context.Context, key string) (models.ResolvedAsset, bool, error)
	Save(ctx context.Context, asset models.ResolvedAsset) error
}

// Resolver folds provider chains. It never returns an error to callers.
type Resolver struct {
	cache Cache
	now   func() time.Time
}

// New returns a Resolver. cache may be nil, which disables short-circuiting.
func New(cache Cache) *Resolver {
	return &Resolver{cache: cache, now: time.Now}
}

// Resolve tries chain left to right for key. A previously persisted success
// for key is returned without invoking any provider.
func (r *Resolver) Resolve(ctx context.Context, key string, chain []Provider) Result {
	key = strings.TrimSpace(key)
	if key == "" {
		return Result{}
	}

	if r.cache != nil {
		asset, ok, err := r.cache.Lookup(ctx, key)
		if err != nil {
			slog.Warn("resolver cache lookup failed", "key", key, "error", err)
		} else if ok {
			return Result{Found: true, Value: asset.URL, Provider: asset.Provider, Fallback: asset.Fallback, Cached: true}
		}
	}

	for _, p := range chain {
		if ctx.Err() != nil {
			return Result{}
		}
		if !p.configured() {
			slog.Debug("resolver provider not configured, skipping", "provider", p.Name, "key", key)
			continue
		}

		value, err := r.try(ctx, p, key)
		if err != nil {
			slog.Debug("resolver provider failed, trying next", "provider", p.Name, "key", key, "error", err)
			continue
		}

		res := Result{Found: true, Value: value, Provider: p.Name, Fallback: p.Fallback}
		r.persist(ctx, key, res)
		return res
	}

	slog.Info("resolver exhausted provider chain", "key", key, "providers", len(chain))
	return Result{}
}

func (r *Resolver) try(ctx context.Context, p Provider, key string) (value string, err error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("resolver provider panicked", "provider", p.Name, "panic", rec)
			value, err = "", errors.New("provider panicked")
		}
	}()

	value, err = p.Resolve(pctx, key)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(value) == "" {
		return "", ErrNotFound
	}
	return value, nil
}

func (r *Resolver) persist(ctx context.Context, key string, res Result) {
	if r.cache == nil {
		return
	}
	asset := models.ResolvedAsset{
		Key:        key,
		URL:        res.Value,
		Provider:   res.Provider,
		Fallback:   res.Fallback,
		ResolvedAt: r.now().UTC(),
	}
	if err := r.cache.Save(ctx, asset); err != nil {
		slog.Warn("resolver cache save failed", "key", key, "error", err)
	}
}
