package optimizer

import (
	"fmt"
	"math"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/cost"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
)

// Moves smaller than this are rounding noise, not changes.
const minReportedShiftMinutes = 1.0

const (
	ReasonAdded            = "added to schedule"
	ReasonEmergencyInsert  = "emergency insert"
	ReasonDisplaced        = "displaced by emergency insert"
	ReasonNoShow           = "no-show freed slot"
	ReasonTrafficReorder   = "traffic delay reduces wait via reorder"
	ReasonTrafficShift     = "shifted by traffic delay"
	ReasonEarlyFinish      = "previous consultation ended early"
	ReasonOverrun          = "previous consultation ran over"
	ReasonArrival          = "adjusted to actual arrival"
	ReasonEarlierLessIdle  = "moved earlier to reduce idle time"
	ReasonLaterAbsorbDelay = "moved later to absorb delays"
)

func buildSchedule(state scheduler.State, req Request, res cost.Result) *scheduler.OptimizedSchedule {
	proj, b := res.Projection, res.Breakdown
	sched := &scheduler.OptimizedSchedule{
		DoctorID:    state.DoctorID,
		GeneratedAt: state.CurrentTime,
		Sequence:    make([]scheduler.Patient, 0, len(proj.Slots)),
		Timeline:    make([]scheduler.TimelineEntry, 0, len(proj.Slots)),
		Metrics: scheduler.Metrics{
			ExpectedTotalDelay:     b.DelayMinutes,
			ExpectedIdleTime:       b.IdleMinutes,
			ExpectedOvertime:       b.OvertimeMinutes,
			EmergencySLACompliance: b.SLACompliance,
			TotalCost:              b.Total,
			OverflowPatients:       proj.OverflowPatients,
			WindowViolations:       proj.WindowViolations,
			LockConflictMinutes:    proj.LockConflictMinutes,
		},
	}

	committed := req.Previous.Commitments()
	reorder := reorderedPatients(req.Previous, proj)
	trigger := req.triggerType()
	triggerPatient := ""
	if req.Trigger != nil {
		triggerPatient = req.Trigger.PatientID
		if ins, ok := req.Trigger.Payload.(scheduler.EmergencyInsert); ok {
			triggerPatient = ins.Patient.ID
		}
	}

	for _, s := range proj.Slots {
		p := s.Patient.Clone()
		old, known := committed[p.ID]
		switch {
		case !known:
			reason := ReasonAdded
			if trigger == scheduler.EventEmergencyInsert && p.ID == triggerPatient {
				reason = ReasonEmergencyInsert
			}
			sched.Changes = append(sched.Changes, scheduler.Change{
				PatientID: p.ID,
				NewTime:   s.Start,
				Reason:    reason,
			})
		case !s.InProgress:
			shift := scheduler.MinutesBetween(old, s.Start)
			if math.Abs(shift) < minReportedShiftMinutes {
				break
			}
			oldTime := old
			disruptive := displacedByEmergency(trigger, shift) ||
				math.Abs(shift) > req.Params.ReoptimizeThresholdMinutes && (shift > 0 || !p.Arrived())
			if disruptive {
				p.CurrentReschedules++
			}
			sched.Changes = append(sched.Changes, scheduler.Change{
				PatientID:    p.ID,
				OldTime:      &oldTime,
				NewTime:      s.Start,
				ShiftMinutes: shift,
				Reason:       changeReason(trigger, shift, reorder[p.ID]),
				Disruptive:   disruptive,
			})
		}

		sched.Sequence = append(sched.Sequence, p)
		sched.Timeline = append(sched.Timeline, scheduler.TimelineEntry{
			PatientID:       p.ID,
			PlannedStart:    s.Start,
			PlannedEnd:      s.End,
			BufferMinutes:   s.BufferMinutes,
			ConfidenceLevel: s.Confidence,
			Fixed:           s.Fixed,
		})
	}
	return sched
}

// displacedByEmergency reports a patient pushed later by an emergency insert.
// Every such move counts against the reschedule cap, however small.
func displacedByEmergency(trigger scheduler.EventType, shift float64) bool {
	return trigger == scheduler.EventEmergencyInsert && shift > 0
}

func changeReason(trigger scheduler.EventType, shift float64, reordered bool) string {
	switch trigger {
	case scheduler.EventEmergencyInsert:
		if shift > 0 {
			return ReasonDisplaced
		}
	case scheduler.EventNoShow:
		if shift < 0 {
			return ReasonNoShow
		}
	case scheduler.EventTrafficUpdate:
		if reordered {
			return ReasonTrafficReorder
		}
		return ReasonTrafficShift
	case scheduler.EventConsultationEnd:
		if shift < 0 {
			return ReasonEarlyFinish
		}
		return ReasonOverrun
	case scheduler.EventPatientArrival:
		return ReasonArrival
	}
	if shift < 0 {
		return ReasonEarlierLessIdle
	}
	return ReasonLaterAbsorbDelay
}

// reorderedPatients marks patients whose position among the patients common
// to both schedules changed.
func reorderedPatients(prev *scheduler.OptimizedSchedule, proj cost.Projection) map[string]bool {
	out := map[string]bool{}
	if prev == nil {
		return out
	}
	current := map[string]bool{}
	for _, s := range proj.Slots {
		current[s.Patient.ID] = true
	}
	var before []string
	for _, id := range prev.Order() {
		if current[id] {
			before = append(before, id)
		}
	}
	previous := map[string]bool{}
	for _, id := range before {
		previous[id] = true
	}
	i := 0
	for _, s := range proj.Slots {
		id := s.Patient.ID
		if !previous[id] {
			continue
		}
		if before[i] != id {
			out[id] = true
		}
		i++
	}
	return out
}

// verify re-checks the guarantees every emitted schedule must satisfy.
func verify(state scheduler.State, frame cost.Frame, sched *scheduler.OptimizedSchedule) error {
	want := map[string]bool{}
	for _, p := range state.Patients() {
		want[p.ID] = true
	}
	if len(sched.Sequence) != len(want) {
		return fmt.Errorf("%w: sequence has %d patients, state has %d", ErrInvariant, len(sched.Sequence), len(want))
	}
	seen := map[string]bool{}
	for _, p := range sched.Sequence {
		if !want[p.ID] || seen[p.ID] {
			return fmt.Errorf("%w: patient %s lost or duplicated", ErrInvariant, p.ID)
		}
		seen[p.ID] = true
	}

	for _, fs := range frame.Fixed {
		e, ok := sched.Entry(fs.Patient.ID)
		if !ok || !e.PlannedStart.Equal(fs.Start) {
			return fmt.Errorf("%w: %s (%s) moved from %s", scheduler.ErrLockViolation, fs.Patient.ID, fs.Reason, fs.Start)
		}
	}

	for i := 1; i < len(sched.Timeline); i++ {
		prev, next := sched.Timeline[i-1], sched.Timeline[i]
		if prev.PlannedEnd.After(next.PlannedStart) {
			return fmt.Errorf("%w: %s overlaps %s", ErrInvariant, prev.PatientID, next.PatientID)
		}
	}
	return nil
}
