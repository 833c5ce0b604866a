// Package simulation stress-tests a candidate schedule by replaying it under
// sampled arrivals, durations and no-shows. Results are advisory.
package simulation

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/observability/metrics"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/pkg/logging"
)

var tracer = otel.Tracer("scheduler/simulation")

// DefaultScenarios matches the scenario count used when none is configured.
const DefaultScenarios = 500

// Metrics are averages across scenarios unless named otherwise.
type Metrics struct {
	AverageDelayMinutes    float64 `json:"avg_delay_minutes"`
	P95DelayMinutes        float64 `json:"p95_delay_minutes"`
	AverageIdleMinutes     float64 `json:"avg_idle_time"`
	OvertimeProbability    float64 `json:"overtime_probability"`
	EmergencySLAViolations float64 `json:"emergency_sla_violations"`
	AverageOvertimeMinutes float64 `json:"avg_overtime_minutes"`
}

// RiskPeriod is a stretch of the day likely to run late.
type RiskPeriod struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	RiskFactor float64   `json:"risk_factor"`
	Reason     string    `json:"reason"`
}

// RiskAssessment summarises where a schedule is fragile.
type RiskAssessment struct {
	HighRiskPeriods    []RiskPeriod `json:"high_risk_periods"`
	BottleneckPatients []string     `json:"bottleneck_patients"`
	RecommendedActions []string     `json:"recommended_actions"`
}

// Result is the outcome of one Monte Carlo run.
type Result struct {
	ScenariosRun int            `json:"scenarios_run"`
	Metrics      Metrics        `json:"metrics"`
	Risk         RiskAssessment `json:"risk_assessment"`
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithSeed fixes the random seed. Runs with the same seed and inputs produce
// identical results regardless of worker count.
func WithSeed(seed uint64) Option {
	return func(s *Simulator) { s.seed = seed }
}

// WithWorkers bounds the number of goroutines sampling scenarios.
func WithWorkers(n int) Option {
	return func(s *Simulator) {
		if n > 0 {
			s.workers = n
		}
	}
}

func WithMetrics(m *metrics.SchedulerMetrics) Option {
	return func(s *Simulator) { s.metrics = m }
}

// Simulator is safe for concurrent use.
type Simulator struct {
	params  scheduler.Params
	seed    uint64
	workers int
	metrics *metrics.SchedulerMetrics
	logger  *logging.Logger
}

// New builds a simulator. Without WithSeed the seed is taken from the clock.
func New(params scheduler.Params, logger *logging.Logger, opts ...Option) *Simulator {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Simulator{
		params:  params,
		seed:    uint64(time.Now().UnixNano()),
		workers: runtime.GOMAXPROCS(0),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Params returns the parameters the simulator scores against.
func (s *Simulator) Params() scheduler.Params {
	return s.params
}

// outcome is what happened in one sampled scenario.
type outcome struct {
	delay      float64
	idle       float64
	overtime   float64
	violations int
	late       []bool
}

// Run replays sched under `scenarios` sampled futures. The in-progress
// patient is not replayed; the doctor becomes free at its estimated end.
func (s *Simulator) Run(ctx context.Context, sched *scheduler.OptimizedSchedule, state scheduler.State, scenarios int) (*Result, error) {
	if sched == nil {
		return nil, fmt.Errorf("simulation: schedule is nil")
	}
	if scenarios <= 0 {
		scenarios = DefaultScenarios
	}
	ctx, span := tracer.Start(ctx, "simulation.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("doctor_id", sched.DoctorID),
		attribute.Int("scenarios", scenarios),
	)
	started := time.Now()

	plan := s.planFor(sched, state)
	outcomes := make([]outcome, scenarios)

	workers := s.workers
	if workers > scenarios {
		workers = scenarios
	}
	chunk := (scenarios + workers - 1) / workers
	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < scenarios; lo += chunk {
		hi := min(lo+chunk, scenarios)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if i%64 == 0 && gctx.Err() != nil {
					return gctx.Err()
				}
				r := rand.New(rand.NewPCG(s.seed, uint64(i)))
				outcomes[i] = s.replay(r, plan, state)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("simulation: %w", err)
	}

	res := &Result{ScenariosRun: scenarios, Metrics: aggregate(outcomes)}
	res.Risk = s.assessRisk(sched, plan, outcomes, res.Metrics)

	s.metrics.ObserveSimulation(time.Since(started).Seconds())
	s.logger.Debug("simulation finished",
		"doctor_id", sched.DoctorID,
		"scenarios", scenarios,
		"avg_delay", res.Metrics.AverageDelayMinutes,
		"p95_delay", res.Metrics.P95DelayMinutes,
		"overtime_probability", res.Metrics.OvertimeProbability,
	)
	return res, nil
}

// planned is one replayable slot of the schedule.
type planned struct {
	patient scheduler.Patient
	entry   scheduler.TimelineEntry
}

func (s *Simulator) planFor(sched *scheduler.OptimizedSchedule, state scheduler.State) []planned {
	inProgress := ""
	if state.CurrentConsultation != nil {
		inProgress = state.CurrentConsultation.Patient.ID
	}
	out := make([]planned, 0, len(sched.Sequence))
	for _, p := range sched.Sequence {
		if p.ID == inProgress {
			continue
		}
		e, ok := sched.Entry(p.ID)
		if !ok {
			continue
		}
		out = append(out, planned{patient: p, entry: e})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].entry.PlannedStart.Before(out[j].entry.PlannedStart) })
	return out
}

func (s *Simulator) replay(r *rand.Rand, plan []planned, state scheduler.State) outcome {
	cfg := state.DoctorConfig
	clock := state.CurrentTime
	if cfg.ClinicStart.After(clock) {
		clock = cfg.ClinicStart
	}
	if c := state.CurrentConsultation; c != nil && c.EstimatedEnd.After(clock) {
		clock = c.EstimatedEnd
	}

	o := outcome{late: make([]bool, len(plan))}
	for i, pl := range plan {
		p := pl.patient
		if !p.Arrived() && r.Float64() < p.NoShowProbability {
			continue
		}
		arrival := p.ExpectedArrival(r.Float64())
		if p.ArrivedAt != nil {
			arrival = *p.ArrivedAt
		}
		duration := math.Max(0, p.Duration.Quantile(r.Float64()))

		free := clock
		if arrival.After(free) {
			o.idle += scheduler.MinutesBetween(free, arrival) - cfg.BreakMinutes(free, arrival)
			free = arrival
		}
		start := cfg.NextStart(free, duration)

		o.delay += math.Max(0, scheduler.MinutesBetween(arrival, start))
		if p.Priority == scheduler.PriorityEmergency && scheduler.MinutesBetween(arrival, start) > s.params.EmergencySLAMinutes {
			o.violations++
		}
		if scheduler.MinutesBetween(pl.entry.PlannedStart, start) > s.params.ReoptimizeThresholdMinutes {
			o.late[i] = true
		}
		clock = scheduler.AddMinutes(start, duration)
	}
	o.idle = math.Max(0, o.idle)
	o.overtime = math.Max(0, scheduler.MinutesBetween(cfg.ClinicEnd, clock))
	return o
}

func aggregate(outcomes []outcome) Metrics {
	n := float64(len(outcomes))
	delays := make([]float64, len(outcomes))
	var m Metrics
	var overtimeRuns int
	for i, o := range outcomes {
		delays[i] = o.delay
		m.AverageDelayMinutes += o.delay
		m.AverageIdleMinutes += o.idle
		m.AverageOvertimeMinutes += o.overtime
		m.EmergencySLAViolations += float64(o.violations)
		if o.overtime > 0 {
			overtimeRuns++
		}
	}
	m.AverageDelayMinutes /= n
	m.AverageIdleMinutes /= n
	m.AverageOvertimeMinutes /= n
	m.EmergencySLAViolations /= n
	m.OvertimeProbability = float64(overtimeRuns) / n
	m.P95DelayMinutes = percentile(delays, 0.95)
	return m
}

// percentile interpolates linearly between closest ranks.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := p * float64(len(sorted)-1)
	lo, hi := int(math.Floor(idx)), int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	w := idx - float64(lo)
	return sorted[lo]*(1-w) + sorted[hi]*w
}
