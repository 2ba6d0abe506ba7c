package predictor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/jguan/solverd/pkg/errs"
	"github.com/jguan/solverd/pkg/inference"
	"github.com/jguan/solverd/pkg/infra/logger"
	"github.com/jguan/solverd/pkg/infra/metrics"
)

// Resolver returns the local path of a model file.
type Resolver interface {
	Resolve(ctx context.Context, name, modelDir string, updateCheck bool) (string, error)
}

type Options struct {
	ModelDir    string
	UpdateCheck bool
	// Concurrency bounds how many predictors initialize at once.
	Concurrency int
	// Enabled restricts the registry to these challenge types. Empty means
	// every variant.
	Enabled  []string
	Variants []Variant
}

// Status describes one predictor for operators.
type Status struct {
	Type   string   `json:"type" yaml:"type"`
	Kind   Kind     `json:"kind" yaml:"kind"`
	Active bool     `json:"active" yaml:"active"`
	Models []string `json:"models" yaml:"models"`
	Error  string   `json:"error,omitempty" yaml:"error,omitempty"`
}

type entry struct {
	variant Variant
	pred    *classifier
}

// Registry routes challenge types to predictors. It is read-only after
// NewRegistry returns.
type Registry struct {
	entries map[string]*entry
}

// NewRegistry resolves and loads every enabled variant. Failures leave the
// affected predictor inactive and never fail the registry.
func NewRegistry(ctx context.Context, resolver Resolver, engine inference.Engine, opts Options) *Registry {
	variants := selectVariants(opts)
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	p := pool.NewWithResults[*entry]().WithMaxGoroutines(concurrency)
	for _, v := range variants {
		p.Go(func() *entry {
			return &entry{variant: v, pred: build(ctx, resolver, engine, v, opts)}
		})
	}

	r := &Registry{entries: make(map[string]*entry, len(variants))}
	active := 0
	for _, e := range p.Wait() {
		r.entries[e.variant.Type] = e
		metrics.SetPredictorActive(e.variant.Type, e.pred.Active())
		if e.pred.Active() {
			active++
		}
	}

	logger.WithContext(ctx).Info("predictors initialized", "active", active, "total", len(r.entries))
	return r
}

func selectVariants(opts Options) []Variant {
	all := opts.Variants
	if all == nil {
		all = DefaultVariants
	}
	if len(opts.Enabled) == 0 {
		return all
	}

	byType := make(map[string]Variant, len(all))
	for _, v := range all {
		byType[v.Type] = v
	}
	selected := make([]Variant, 0, len(opts.Enabled))
	for _, typ := range opts.Enabled {
		v, ok := byType[typ]
		if !ok {
			logger.Warn("unknown challenge type in predictor.enabled", "type", typ)
			continue
		}
		selected = append(selected, v)
	}
	return selected
}

func build(ctx context.Context, resolver Resolver, engine inference.Engine, v Variant, opts Options) *classifier {
	ctx = logger.SetChallenge(ctx, v.Type)
	log := logger.WithContext(ctx)

	paths := make([]string, 0, len(v.Models))
	for _, name := range v.Models {
		path, err := resolver.Resolve(ctx, name, opts.ModelDir, opts.UpdateCheck)
		if err != nil {
			log.Warn("predictor inactive: model unavailable", "model", name, "error", err)
			return &classifier{kind: v.Kind, err: err}
		}
		paths = append(paths, path)
	}

	session, err := engine.Load(paths...)
	if err != nil {
		log.Warn("predictor inactive: load failed", "error", err)
		return &classifier{kind: v.Kind, err: err}
	}
	return &classifier{kind: v.Kind, session: session}
}

// Lookup returns the predictor for typ, active or not.
func (r *Registry) Lookup(typ string) (Predictor, bool) {
	e, ok := r.entries[typ]
	if !ok {
		return nil, false
	}
	return e.pred, true
}

// Predict classifies img with the predictor for typ. Unknown and inactive
// types fail with errs.ErrPredictorUnavailable.
func (r *Registry) Predict(ctx context.Context, typ string, img image.Image) (int, error) {
	e, ok := r.entries[typ]
	if !ok {
		return 0, errs.New(errs.KindPredictorUnavailable, fmt.Sprintf("no predictor for challenge type %q", typ))
	}
	if !e.pred.Active() {
		return 0, e.pred.unavailable(fmt.Sprintf("predictor for challenge type %q is inactive", typ))
	}

	start := time.Now()
	answer, err := e.pred.Predict(img)
	metrics.ObservePrediction(typ, err, time.Since(start))
	if err != nil {
		logger.WithContext(logger.SetChallenge(ctx, typ)).Debug("prediction failed", "error", err)
		return 0, err
	}
	return answer, nil
}

// Statuses lists every predictor sorted by type.
func (r *Registry) Statuses() []Status {
	out := make([]Status, 0, len(r.entries))
	for _, e := range r.entries {
		s := Status{
			Type:   e.variant.Type,
			Kind:   e.variant.Kind,
			Active: e.pred.Active(),
			Models: append([]string(nil), e.variant.Models...),
		}
		if e.pred.err != nil {
			s.Error = e.pred.err.Error()
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// ActiveCount returns the number of active predictors.
func (r *Registry) ActiveCount() int {
	n := 0
	for _, e := range r.entries {
		if e.pred.Active() {
			n++
		}
	}
	return n
}

// Close releases every loaded session.
func (r *Registry) Close() error {
	var errList []error
	for _, e := range r.entries {
		if err := e.pred.Close(); err != nil {
			errList = append(errList, fmt.Errorf("close %s: %w", e.variant.Type, err))
		}
	}
	return errors.Join(errList...)
}
