package scheduler

import (
	"fmt"
	"math"
	"time"
)

// PriorityWeights is the alpha coefficient per priority level.
type PriorityWeights struct {
	Emergency float64 `json:"emergency"`
	High      float64 `json:"high"`
	Normal    float64 `json:"normal"`
	Low       float64 `json:"low"`
}

// For returns the weight of p. Unknown levels weigh like normal.
func (w PriorityWeights) For(p Priority) float64 {
	switch p {
	case PriorityEmergency:
		return w.Emergency
	case PriorityHigh:
		return w.High
	case PriorityLow:
		return w.Low
	default:
		return w.Normal
	}
}

// Params are the tunable weights and limits of one optimization session.
// They are read-only for the duration of a pass.
type Params struct {
	AlphaPriority      PriorityWeights `json:"alpha_priority"`
	BetaIdle           float64         `json:"beta_idle"`
	DeltaOvertime      float64         `json:"delta_overtime"`
	GammaReschedule    float64         `json:"gamma_reschedule"`
	EmergencySLAWeight float64         `json:"emergency_sla_weight"`

	ETAQuantile      float64 `json:"eta_quantile"`
	DurationQuantile float64 `json:"duration_quantile"`

	MaxReschedulesPerPatientPerDay int     `json:"max_reschedules_per_patient_per_day"`
	MinMinutesBeforeReschedule     float64 `json:"min_minutes_before_reschedule"`
	EmergencySLAMinutes            float64 `json:"emergency_sla_minutes"`

	BufferMultiplier float64 `json:"buffer_multiplier"`
	MinBufferMinutes float64 `json:"min_buffer_minutes"`
	MaxBufferMinutes float64 `json:"max_buffer_minutes"`

	ReoptimizeThresholdMinutes float64 `json:"reoptimize_threshold_minutes"`
	MaxReoptimizationsPerHour  int     `json:"max_reoptimizations_per_hour"`

	LocalSearchIterations int           `json:"local_search_iterations"`
	OptimizationBudget    time.Duration `json:"optimization_budget"`
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		AlphaPriority:                  PriorityWeights{Emergency: 10, High: 3, Normal: 1, Low: 0.5},
		BetaIdle:                       0.1,
		DeltaOvertime:                  2.0,
		GammaReschedule:                0.5,
		EmergencySLAWeight:             20,
		ETAQuantile:                    0.8,
		DurationQuantile:               0.8,
		MaxReschedulesPerPatientPerDay: 2,
		MinMinutesBeforeReschedule:     15,
		EmergencySLAMinutes:            15,
		BufferMultiplier:               1.0,
		MinBufferMinutes:               5,
		MaxBufferMinutes:               20,
		ReoptimizeThresholdMinutes:     5,
		MaxReoptimizationsPerHour:      12,
		LocalSearchIterations:          50,
		OptimizationBudget:             500 * time.Millisecond,
	}
}

// Validate rejects parameter sets that would make the cost function
// meaningless or the throttle inoperable.
func (p Params) Validate() error {
	nonNeg := map[string]float64{
		"alpha_priority.emergency":      p.AlphaPriority.Emergency,
		"alpha_priority.high":           p.AlphaPriority.High,
		"alpha_priority.normal":         p.AlphaPriority.Normal,
		"alpha_priority.low":            p.AlphaPriority.Low,
		"beta_idle":                     p.BetaIdle,
		"delta_overtime":                p.DeltaOvertime,
		"gamma_reschedule":              p.GammaReschedule,
		"emergency_sla_weight":          p.EmergencySLAWeight,
		"min_minutes_before_reschedule": p.MinMinutesBeforeReschedule,
		"emergency_sla_minutes":         p.EmergencySLAMinutes,
		"buffer_multiplier":             p.BufferMultiplier,
		"min_buffer_minutes":            p.MinBufferMinutes,
		"max_buffer_minutes":            p.MaxBufferMinutes,
		"reoptimize_threshold_minutes":  p.ReoptimizeThresholdMinutes,
	}
	for name, v := range nonNeg {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be a non-negative number", ErrInvalidParams, name)
		}
	}
	if p.ETAQuantile <= 0 || p.ETAQuantile >= 1 || p.DurationQuantile <= 0 || p.DurationQuantile >= 1 {
		return fmt.Errorf("%w: quantiles must be in (0,1)", ErrInvalidParams)
	}
	if p.MinBufferMinutes > p.MaxBufferMinutes {
		return fmt.Errorf("%w: min_buffer_minutes exceeds max_buffer_minutes", ErrInvalidParams)
	}
	if p.MaxReschedulesPerPatientPerDay < 0 {
		return fmt.Errorf("%w: max_reschedules_per_patient_per_day is negative", ErrInvalidParams)
	}
	if p.MaxReoptimizationsPerHour <= 0 {
		return fmt.Errorf("%w: max_reoptimizations_per_hour must be positive", ErrInvalidParams)
	}
	if p.LocalSearchIterations < 0 || p.OptimizationBudget < 0 {
		return fmt.Errorf("%w: negative search budget", ErrInvalidParams)
	}
	return nil
}

// BufferFor sizes the slack after a consultation from its duration spread.
func (p Params) BufferFor(d QuantileDistribution) float64 {
	b := (d.P95() - d.P80()) * p.BufferMultiplier
	return math.Min(p.MaxBufferMinutes, math.Max(p.MinBufferMinutes, b))
}
