// Package steps implements the executor behind each pipeline step and the
// registry the worker pool looks them up in.
package steps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/portfolio-engine/internal/ai"
	"github.com/kiranshivaraju/portfolio-engine/internal/pipeline"
	"github.com/kiranshivaraju/portfolio-engine/internal/resolver"
	"github.com/kiranshivaraju/portfolio-engine/internal/store"
	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
)

// Definition binds a step kind to its executor. DependsOn names the steps
// whose output it reads; it is informational and used to check run orders.
type Definition struct {
	Kind      models.StepKind
	Timeout   time.Duration
	DependsOn []models.StepKind
	Executor  pipeline.Executor
}

// Registry maps step kinds to their definitions.
type Registry struct {
	defs map[models.StepKind]Definition
}

// NewRegistry validates and indexes defs.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{defs: make(map[models.StepKind]Definition, len(defs))}
	for _, d := range defs {
		if _, err := models.ParseStepKind(string(d.Kind)); err != nil {
			return nil, err
		}
		if d.Executor == nil {
			return nil, fmt.Errorf("step %s: executor is required", d.Kind)
		}
		if _, dup := r.defs[d.Kind]; dup {
			return nil, fmt.Errorf("step %s registered twice", d.Kind)
		}
		r.defs[d.Kind] = d
	}
	return r, nil
}

// Lookup implements pipeline.Steps.
func (r *Registry) Lookup(kind models.StepKind) (pipeline.Executor, time.Duration, bool) {
	d, ok := r.defs[kind]
	if !ok {
		return nil, 0, false
	}
	return d.Executor, d.Timeout, true
}

// Definition returns the definition registered for kind.
func (r *Registry) Definition(kind models.StepKind) (Definition, bool) {
	d, ok := r.defs[kind]
	return d, ok
}

// ValidateOrder checks that every step in order is registered and comes
// after the steps it depends on.
func (r *Registry) ValidateOrder(order []models.StepKind) error {
	pos := make(map[models.StepKind]int, len(order))
	for i, k := range order {
		pos[k] = i
	}
	for i, k := range order {
		d, ok := r.defs[k]
		if !ok {
			return fmt.Errorf("step %s is not registered", k)
		}
		for _, dep := range d.DependsOn {
			j, ok := pos[dep]
			if !ok || j > i {
				return fmt.Errorf("step %s must run after %s", k, dep)
			}
		}
	}
	return nil
}

// Deps are the collaborators the default executors share.
type Deps struct {
	Store     store.PortfolioStore
	Content   ai.ContentProvider
	Resolver  LogoResolver
	LogoChain []resolver.Provider
	// InferenceTimeout bounds each content provider call.
	InferenceTimeout time.Duration
	Now              func() time.Time
}

// LogoResolver resolves a logo cache key through a provider chain.
// *resolver.Resolver satisfies it.
type LogoResolver interface {
	Resolve(ctx context.Context, key string, chain []resolver.Provider) resolver.Result
}

// Default step timeouts.
const (
	IngestTimeout       = 3 * time.Minute
	LogoTimeout         = 2 * time.Minute
	ScoringTimeout      = 5 * time.Minute
	StoryTimeout        = 2 * time.Minute
	SkillOffersTimeout  = 30 * time.Second
	ImageTimeout        = 3 * time.Minute
	CompletenessTimeout = 30 * time.Second
)

// NewDefaultRegistry wires every step executor to d.
func NewDefaultRegistry(d Deps) (*Registry, error) {
	if d.Store == nil || d.Content == nil || d.Resolver == nil {
		return nil, errors.New("steps: store, content provider and resolver are required")
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	call := callTimeout(d.InferenceTimeout)

	return NewRegistry(
		Definition{
			Kind:     models.StepIngest,
			Timeout:  IngestTimeout,
			Executor: &Ingest{store: d.Store, extractor: d.Content, call: call},
		},
		Definition{
			Kind:      models.StepLogoResolution,
			Timeout:   LogoTimeout,
			DependsOn: []models.StepKind{models.StepIngest},
			Executor:  &LogoResolution{store: d.Store, resolver: d.Resolver, chain: d.LogoChain},
		},
		Definition{
			Kind:      models.StepAchievementScoring,
			Timeout:   ScoringTimeout,
			DependsOn: []models.StepKind{models.StepIngest},
			Executor:  &AchievementScoring{store: d.Store, enhancer: d.Content, call: call, now: d.Now},
		},
		Definition{
			Kind:      models.StepStory,
			Timeout:   StoryTimeout,
			DependsOn: []models.StepKind{models.StepAchievementScoring},
			Executor:  &Story{store: d.Store, narrator: d.Content, provider: d.Content.Name(), call: call, now: d.Now},
		},
		Definition{
			Kind:      models.StepSkillOffers,
			Timeout:   SkillOffersTimeout,
			DependsOn: []models.StepKind{models.StepIngest, models.StepAchievementScoring},
			Executor:  &SkillOffers{store: d.Store, now: d.Now},
		},
		Definition{
			Kind:     models.StepImageGeneration,
			Timeout:  ImageTimeout,
			Executor: &ImageGeneration{store: d.Store, generator: d.Content, provider: d.Content.Name(), call: call, now: d.Now},
		},
		Definition{
			Kind:    models.StepCompleteness,
			Timeout: CompletenessTimeout,
			DependsOn: []models.StepKind{
				models.StepLogoResolution,
				models.StepAchievementScoring,
				models.StepStory,
				models.StepSkillOffers,
				models.StepImageGeneration,
			},
			Executor: &Completeness{store: d.Store, now: d.Now},
		},
	)
}

// callTimeout returns a function that bounds one content provider call.
func callTimeout(d time.Duration) func(context.Context) (context.Context, context.CancelFunc) {
	return func(ctx context.Context) (context.Context, context.CancelFunc) {
		if d <= 0 {
			return context.WithCancel(ctx)
		}
		return context.WithTimeout(ctx, d)
	}
}

// providerError marks content provider rejections as permanent. Everything
// else a provider returns is worth another attempt.
func providerError(op string, err error) error {
	err = fmt.Errorf("%s: %w", op, err)
	if !ai.Retryable(err) {
		return pipeline.Permanent(err)
	}
	return err
}
