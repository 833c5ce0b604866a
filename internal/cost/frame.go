// Package cost projects candidate patient orders onto a doctor's day and
// scores them. Everything here is pure: no clocks, no I/O.
package cost

import (
	"sort"
	"time"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
)

// PinReason explains why a patient keeps their committed start.
type PinReason int

const (
	PinNone PinReason = iota
	PinLocked
	PinRescheduleCap
	PinQuietWindow
)

func (r PinReason) String() string {
	switch r {
	case PinLocked:
		return "locked"
	case PinRescheduleCap:
		return "reschedule_cap"
	case PinQuietWindow:
		return "quiet_window"
	}
	return "none"
}

// FixedSlot is a patient the optimizer may not move.
type FixedSlot struct {
	Patient scheduler.Patient
	Start   time.Time
	Reason  PinReason
}

// Frame is the part of an optimization problem that stays constant while
// candidate orders are compared.
type Frame struct {
	Now          time.Time
	Config       scheduler.DoctorConfig
	Params       scheduler.Params
	Consultation *scheduler.Consultation
	Fixed        []FixedSlot
	Committed    map[string]time.Time
}

// NewFrame classifies the queued patients of state into fixed slots and free
// patients. A patient is fixed when locked, at their reschedule cap, or
// inside the quiet window before their committed start. relaxQuiet lifts the
// quiet-window rule (emergency insertions).
func NewFrame(state scheduler.State, params scheduler.Params, committed map[string]time.Time, relaxQuiet bool) (Frame, []scheduler.Patient) {
	if committed == nil {
		committed = map[string]time.Time{}
	}
	f := Frame{
		Now:       state.CurrentTime,
		Config:    state.DoctorConfig,
		Params:    params,
		Committed: committed,
	}
	if state.CurrentConsultation != nil {
		c := *state.CurrentConsultation
		f.Consultation = &c
	}

	queued := append(append([]scheduler.Patient(nil), state.WaitingQueue...), state.ScheduledQueue...)
	free := make([]scheduler.Patient, 0, len(queued))
	for _, p := range queued {
		start, hasCommit := committed[p.ID]
		if !hasCommit {
			start = p.ScheduledTime
		}
		reason := PinNone
		switch {
		case p.Locked:
			reason = PinLocked
		case p.AtRescheduleCap(params.MaxReschedulesPerPatientPerDay):
			reason = PinRescheduleCap
		case !relaxQuiet && hasCommit && inQuietWindow(start, f.Now, params.MinMinutesBeforeReschedule):
			reason = PinQuietWindow
		}
		if reason == PinNone {
			free = append(free, p)
			continue
		}
		f.Fixed = append(f.Fixed, FixedSlot{Patient: p, Start: start, Reason: reason})
	}
	sort.SliceStable(f.Fixed, func(i, j int) bool { return f.Fixed[i].Start.Before(f.Fixed[j].Start) })
	return f, free
}

func inQuietWindow(start, now time.Time, minutes float64) bool {
	return !start.Before(now) && !start.After(scheduler.AddMinutes(now, minutes))
}

// FixedStart returns the pinned start of a patient.
func (f Frame) FixedStart(id string) (time.Time, PinReason, bool) {
	for _, fs := range f.Fixed {
		if fs.Patient.ID == id {
			return fs.Start, fs.Reason, true
		}
	}
	return time.Time{}, PinNone, false
}

// dayStart is where the first free consultation may begin.
func (f Frame) dayStart() time.Time {
	start := f.Now
	if f.Config.ClinicStart.After(start) {
		start = f.Config.ClinicStart
	}
	return start
}

// SlotMinutes is the planned length of a patient's consultation.
func (f Frame) SlotMinutes(p scheduler.Patient) float64 {
	return p.Duration.Quantile(f.Params.DurationQuantile)
}
