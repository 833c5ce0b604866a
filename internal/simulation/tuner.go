package simulation

import (
	"context"
	"fmt"
	"math"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/optimizer"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/pkg/logging"
)

// Variant overrides a subset of the base parameters.
type Variant struct {
	Label            string
	ETAQuantile      float64
	DurationQuantile float64
	BufferMultiplier float64
}

func (v Variant) apply(p scheduler.Params) scheduler.Params {
	if v.ETAQuantile > 0 {
		p.ETAQuantile = v.ETAQuantile
	}
	if v.DurationQuantile > 0 {
		p.DurationQuantile = v.DurationQuantile
	}
	if v.BufferMultiplier > 0 {
		p.BufferMultiplier = v.BufferMultiplier
	}
	return p
}

// DefaultVariants trades quantile conservativeness against buffer size.
func DefaultVariants() []Variant {
	return []Variant{
		{Label: "quantiles 0.7/0.7", ETAQuantile: 0.7, DurationQuantile: 0.7},
		{Label: "quantiles 0.8/0.8", ETAQuantile: 0.8, DurationQuantile: 0.8},
		{Label: "quantiles 0.9/0.8", ETAQuantile: 0.9, DurationQuantile: 0.8},
		{Label: "buffer x0.5", BufferMultiplier: 0.5},
		{Label: "buffer x1.0", BufferMultiplier: 1.0},
		{Label: "buffer x1.5", BufferMultiplier: 1.5},
	}
}

// Trial is one scored variant.
type Trial struct {
	Variant Variant          `json:"-"`
	Label   string           `json:"label"`
	Params  scheduler.Params `json:"-"`
	Score   float64          `json:"score"`
	Result  *Result          `json:"result"`
}

// TuningResult lists every trial and the winner.
type TuningResult struct {
	Best   Trial   `json:"best"`
	Trials []Trial `json:"trials"`
}

// Score ranks a simulated schedule; lower is better.
func Score(res *Result) float64 {
	m := res.Metrics
	return m.AverageDelayMinutes + 0.5*m.AverageIdleMinutes + 60*m.OvertimeProbability
}

// Tuner grid-searches parameter variants by optimizing the same day with each
// and simulating the outcome.
type Tuner struct {
	optimizer *optimizer.Optimizer
	seed      uint64
	logger    *logging.Logger
}

func NewTuner(opt *optimizer.Optimizer, seed uint64, logger *logging.Logger) *Tuner {
	if opt == nil {
		panic("simulation: optimizer cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Tuner{optimizer: opt, seed: seed, logger: logger}
}

// OptimizeParameters evaluates each variant against state. Variants whose
// parameters fail validation are skipped. Every variant is simulated with the
// same seed so they face identical sampled futures.
func (t *Tuner) OptimizeParameters(ctx context.Context, base scheduler.Params, state scheduler.State, variants []Variant, scenarios int) (*TuningResult, error) {
	if len(variants) == 0 {
		variants = DefaultVariants()
	}
	out := &TuningResult{Best: Trial{Score: math.Inf(1)}}
	for _, v := range variants {
		params := v.apply(base)
		if err := params.Validate(); err != nil {
			t.logger.Warn("skipping parameter variant", "variant", v.Label, "error", err)
			continue
		}
		sched, err := t.optimizer.Optimize(ctx, optimizer.Request{State: state, Params: params})
		if err != nil {
			return nil, fmt.Errorf("simulation: tune %s: %w", v.Label, err)
		}
		res, err := New(params, t.logger, WithSeed(t.seed)).Run(ctx, sched, state, scenarios)
		if err != nil {
			return nil, fmt.Errorf("simulation: tune %s: %w", v.Label, err)
		}
		trial := Trial{Variant: v, Label: v.Label, Params: params, Score: Score(res), Result: res}
		out.Trials = append(out.Trials, trial)
		if trial.Score < out.Best.Score {
			out.Best = trial
		}
	}
	if len(out.Trials) == 0 {
		return nil, fmt.Errorf("simulation: no valid parameter variant: %w", scheduler.ErrInvalidParams)
	}
	t.logger.Info("parameter tuning finished", "best", out.Best.Label, "score", out.Best.Score, "trials", len(out.Trials))
	return out, nil
}
