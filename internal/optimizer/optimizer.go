// Package optimizer sequences one doctor's day: greedy best insertion in
// priority order, minimal-displacement emergency insertion, then bounded
// local search over the cost function.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/cost"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/pkg/logging"
)

var tracer = otel.Tracer("scheduler/optimizer")

// ErrInvariant is returned when a produced schedule fails self-verification.
var ErrInvariant = errors.New("optimizer: invariant violated")

const improvementEpsilon = 1e-9

// Request is one optimization problem. State is a snapshot; the optimizer
// never writes to it.
type Request struct {
	State    scheduler.State
	Params   scheduler.Params
	Previous *scheduler.OptimizedSchedule
	Trigger  *scheduler.Event
}

func (r Request) triggerType() scheduler.EventType {
	if r.Trigger == nil {
		return 0
	}
	return r.Trigger.Type()
}

// Optimizer is stateless and safe for concurrent use across doctors.
type Optimizer struct {
	logger *logging.Logger
}

func New(logger *logging.Logger) *Optimizer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Optimizer{logger: logger}
}

// Optimize returns the best schedule found within the params' time and
// iteration budget. Running out of budget is not an error; capacity overflow
// is reported in the metrics.
func (o *Optimizer) Optimize(ctx context.Context, req Request) (*scheduler.OptimizedSchedule, error) {
	ctx, span := tracer.Start(ctx, "optimizer.optimize")
	defer span.End()

	state := req.State.Clone()
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("optimizer: %w", err)
	}
	if err := req.Params.Validate(); err != nil {
		return nil, fmt.Errorf("optimizer: %w", err)
	}
	if req.Params.OptimizationBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Params.OptimizationBudget)
		defer cancel()
	}

	trigger := req.triggerType()
	frame, free := cost.NewFrame(state, req.Params, req.Previous.Commitments(), trigger == scheduler.EventEmergencyInsert)
	ev := cost.NewEvaluator(frame)

	var emergencies, others []scheduler.Patient
	for _, p := range free {
		if p.Priority == scheduler.PriorityEmergency {
			emergencies = append(emergencies, p)
		} else {
			others = append(others, p)
		}
	}
	sortByTieBreak(others)
	sort.SliceStable(emergencies, func(i, j int) bool {
		return emergencyReference(emergencies[i]).Before(emergencyReference(emergencies[j]))
	})

	order := bestInsertion(ctx, ev, others)
	for _, e := range emergencies {
		order = insertEmergency(ev, order, e)
	}
	order, iterations := localSearch(ctx, ev, order, req.Params.LocalSearchIterations)

	res := ev.Evaluate(order)
	sched := buildSchedule(state, req, res)
	if err := verify(state, frame, sched); err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("doctor_id", state.DoctorID),
		attribute.Int("patients", len(sched.Sequence)),
		attribute.Int("iterations", iterations),
		attribute.Int("changes", len(sched.Changes)),
	)
	o.logger.Debug("schedule optimized",
		"doctor_id", state.DoctorID,
		"patients", len(sched.Sequence),
		"iterations", iterations,
		"total_cost", sched.Metrics.TotalCost,
		"budget_exhausted", ctx.Err() != nil,
	)
	return sched, nil
}

// sortByTieBreak orders by priority, then scheduled time, then the more
// punctual patient first. Ids make the order total.
func sortByTieBreak(ps []scheduler.Patient) {
	sort.SliceStable(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() < b.Priority.Rank()
		}
		if !a.ScheduledTime.Equal(b.ScheduledTime) {
			return a.ScheduledTime.Before(b.ScheduledTime)
		}
		if a.PunctualityScore != b.PunctualityScore {
			return a.PunctualityScore > b.PunctualityScore
		}
		return a.ID < b.ID
	})
}

func emergencyReference(p scheduler.Patient) time.Time {
	if p.ArrivedAt != nil {
		return *p.ArrivedAt
	}
	return p.ScheduledTime
}

func insertAt(order []scheduler.Patient, i int, p scheduler.Patient) []scheduler.Patient {
	out := make([]scheduler.Patient, 0, len(order)+1)
	out = append(out, order[:i]...)
	out = append(out, p)
	return append(out, order[i:]...)
}

// bestInsertion adds patients one at a time at the cheapest position. Ties go
// to the later position so equal-cost patients keep tie-break order. Once the
// deadline passes the remaining patients are appended unevaluated.
func bestInsertion(ctx context.Context, ev *cost.Evaluator, patients []scheduler.Patient) []scheduler.Patient {
	order := make([]scheduler.Patient, 0, len(patients))
	for _, p := range patients {
		if ctx.Err() != nil {
			order = append(order, p)
			continue
		}
		bestPos, bestCost := len(order), 0.0
		for i := len(order); i >= 0; i-- {
			c := ev.Cost(insertAt(order, i, p))
			if i == len(order) || c < bestCost-improvementEpsilon {
				bestPos, bestCost = i, c
			}
		}
		order = insertAt(order, bestPos, p)
	}
	return order
}

// insertEmergency places an emergency patient at the latest position that
// still meets the SLA, displacing as few patients as possible. When no
// position meets it, the position with the shortest wait wins.
func insertEmergency(ev *cost.Evaluator, order []scheduler.Patient, e scheduler.Patient) []scheduler.Patient {
	sla := ev.Frame().Params.EmergencySLAMinutes
	bestPos, bestWait := 0, -1.0
	for i := len(order); i >= 0; i-- {
		candidate := insertAt(order, i, e)
		wait := waitOf(ev.Evaluate(candidate).Projection, e.ID)
		if wait <= sla {
			return candidate
		}
		if bestWait < 0 || wait < bestWait {
			bestPos, bestWait = i, wait
		}
	}
	return insertAt(order, bestPos, e)
}

func waitOf(proj cost.Projection, id string) float64 {
	for _, s := range proj.Slots {
		if s.Patient.ID == id {
			return cost.EmergencyWait(s)
		}
	}
	return 0
}
