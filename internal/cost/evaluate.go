package cost

import (
	"math"
	"time"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
)

// Penalties for hard-constraint breaches that Project reports instead of
// refusing. They dominate every soft term.
const (
	windowPenaltyPerMinute   = 100.0
	overflowPenaltyPerMinute = 100.0
)

// Breakdown is a scored projection. Minute fields are unweighted.
type Breakdown struct {
	Wait         float64 `json:"wait"`
	Idle         float64 `json:"idle"`
	Overtime     float64 `json:"overtime"`
	Reserve      float64 `json:"reserve"`
	Churn        float64 `json:"churn"`
	SLA          float64 `json:"sla"`
	Window       float64 `json:"window"`
	Overflow     float64 `json:"overflow"`
	Total        float64 `json:"total"`
	DelayMinutes float64 `json:"delay_minutes"`
	IdleMinutes  float64 `json:"idle_minutes"`
	// OvertimeMinutes is how far the last consultation runs past clinic end.
	OvertimeMinutes float64 `json:"overtime_minutes"`
	SLACompliance   float64 `json:"sla_compliance"`
}

// Result pairs a projection with its score.
type Result struct {
	Projection Projection
	Breakdown  Breakdown
}

// Evaluator scores candidate orders of the free patients of a frame.
type Evaluator struct {
	frame Frame
}

func NewEvaluator(f Frame) *Evaluator {
	return &Evaluator{frame: f}
}

// Frame returns the problem the evaluator scores against.
func (e *Evaluator) Frame() Frame {
	return e.frame
}

// Evaluate projects order and scores it.
func (e *Evaluator) Evaluate(order []scheduler.Patient) Result {
	proj := Project(e.frame, order)
	return Result{Projection: proj, Breakdown: Score(e.frame, proj)}
}

// Cost is Evaluate(order).Breakdown.Total.
func (e *Evaluator) Cost(order []scheduler.Patient) float64 {
	return e.Evaluate(order).Breakdown.Total
}

// Score computes the weighted cost of a projection.
func Score(f Frame, proj Projection) Breakdown {
	p := f.Params
	var b Breakdown

	emergencies, compliant := 0, 0
	hasEmergency := false
	for _, s := range proj.Slots {
		if s.InProgress {
			continue
		}
		pt := s.Patient
		wait := math.Max(0, scheduler.MinutesBetween(pt.ScheduledTime, s.Start))
		b.DelayMinutes += wait
		b.Wait += p.AlphaPriority.For(pt.Priority) * wait

		if pt.Priority == scheduler.PriorityEmergency {
			hasEmergency = true
			emergencies++
			over := EmergencyWait(s) - p.EmergencySLAMinutes
			if over <= 0 {
				compliant++
			} else {
				b.SLA += p.EmergencySLAWeight * over
			}
		}
		if committed, ok := f.Committed[pt.ID]; ok {
			b.Churn += p.GammaReschedule * math.Abs(scheduler.MinutesBetween(committed, s.Start))
		}
		if w := pt.AvailabilityWindow; w != nil {
			switch {
			case s.Start.After(w.Latest):
				b.Window += windowPenaltyPerMinute * scheduler.MinutesBetween(w.Latest, s.Start)
			case s.Start.Before(w.Earliest):
				b.Window += windowPenaltyPerMinute * scheduler.MinutesBetween(s.Start, w.Earliest)
			}
		}
	}
	b.SLACompliance = 1
	if emergencies > 0 {
		b.SLACompliance = float64(compliant) / float64(emergencies)
	}

	b.IdleMinutes = idleMinutes(f, proj)
	b.Idle = p.BetaIdle * b.IdleMinutes

	if n := len(proj.Slots); n > 0 {
		last := lastEnd(proj)
		b.OvertimeMinutes = math.Max(0, scheduler.MinutesBetween(f.Config.ClinicEnd, last))
		b.Overtime = p.DeltaOvertime * b.OvertimeMinutes

		if !hasEmergency && f.Config.EmergencyBufferMinutes > 0 {
			reserveStart := scheduler.AddMinutes(f.Config.ClinicEnd, -f.Config.EmergencyBufferMinutes)
			intrusion := math.Max(0, scheduler.MinutesBetween(reserveStart, last)) - b.OvertimeMinutes
			b.Reserve = p.DeltaOvertime * math.Max(0, intrusion)
		}
		if over := scheduler.MinutesBetween(f.Config.HardEnd(), last); over > 0 {
			b.Overflow = overflowPenaltyPerMinute * over
		}
	}

	b.Total = b.Wait + b.Idle + b.Overtime + b.Reserve + b.Churn + b.SLA + b.Window + b.Overflow
	if math.IsNaN(b.Total) || math.IsInf(b.Total, 0) {
		b.Total = math.MaxFloat64
	}
	return b
}

// EmergencyWait is how long an emergency patient waits from arrival (or from
// the request time when not yet present) to the start of care.
func EmergencyWait(s Slot) float64 {
	ref := s.Patient.ScheduledTime
	if s.Patient.ArrivedAt != nil {
		ref = *s.Patient.ArrivedAt
	}
	return math.Max(0, scheduler.MinutesBetween(ref, s.Start))
}

// idleMinutes sums the gaps in which the doctor has nobody to see, excluding
// breaks. The day starts at the later of now and clinic opening.
func idleMinutes(f Frame, proj Projection) float64 {
	var idle float64
	free := f.dayStart()
	for _, s := range proj.Slots {
		if s.Start.After(free) {
			idle += scheduler.MinutesBetween(free, s.Start) - f.Config.BreakMinutes(free, s.Start)
		}
		if r := s.Release(); r.After(free) {
			free = r
		}
	}
	return math.Max(0, idle)
}

func lastEnd(proj Projection) (last time.Time) {
	for _, s := range proj.Slots {
		if s.End.After(last) {
			last = s.End
		}
	}
	return last
}
