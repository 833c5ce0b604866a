package cost

import (
	"sort"
	"time"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
)

// Slot is one projected consultation. The doctor is busy over [Start, End)
// and keeps BufferMinutes of slack after End.
type Slot struct {
	Patient       scheduler.Patient
	Start         time.Time
	End           time.Time
	BufferMinutes float64
	Arrival       time.Time
	Confidence    float64
	Fixed         bool
	InProgress    bool
}

// Release is when the doctor is free again after this slot.
func (s Slot) Release() time.Time {
	return scheduler.AddMinutes(s.End, s.BufferMinutes)
}

// Projection is a candidate order laid out in time.
type Projection struct {
	// Slots are ordered by Start.
	Slots               []Slot
	LockConflictMinutes float64
	OverflowPatients    []string
	WindowViolations    []string
}

// Sequence returns the planned patients in time order, in-progress included.
func (p Projection) Sequence() []scheduler.Patient {
	out := make([]scheduler.Patient, len(p.Slots))
	for i, s := range p.Slots {
		out[i] = s.Patient
	}
	return out
}

// Project lays out free patients in the given order around the fixed slots of
// the frame. Free patients start at the earliest moment allowed by the cursor,
// their expected arrival, their availability window and the clinic opening,
// then move past breaks and fixed occupancy. A patient who has not arrived is
// never planned earlier than their committed start.
func Project(f Frame, order []scheduler.Patient) Projection {
	var proj Projection
	fixed := f.fixedSlots(&proj)

	cursor := f.dayStart()
	for _, s := range fixed {
		if s.InProgress {
			cursor = latest(cursor, s.Release())
		}
	}

	free := make([]Slot, 0, len(order))
	for _, p := range order {
		length := f.SlotMinutes(p)
		buffer := f.Params.BufferFor(p.Duration)
		arrival := p.ExpectedArrival(f.Params.ETAQuantile)

		earliest := latest(cursor, arrival, f.Config.ClinicStart)
		if w := p.AvailabilityWindow; w != nil {
			earliest = latest(earliest, w.Earliest)
		}
		if committed, ok := f.Committed[p.ID]; ok && !p.Arrived() {
			earliest = latest(earliest, committed)
		}
		start := f.place(earliest, length+buffer, fixed)

		confidence := f.Params.DurationQuantile
		if !p.Arrived() {
			confidence *= f.Params.ETAQuantile
		}
		slot := Slot{
			Patient:       p,
			Start:         start,
			End:           scheduler.AddMinutes(start, length),
			BufferMinutes: buffer,
			Arrival:       arrival,
			Confidence:    confidence,
		}
		free = append(free, slot)
		cursor = slot.Release()
	}

	proj.Slots = append(fixed, free...)
	sort.SliceStable(proj.Slots, func(i, j int) bool { return proj.Slots[i].Start.Before(proj.Slots[j].Start) })

	hardEnd := f.Config.HardEnd()
	for _, s := range proj.Slots {
		if s.InProgress {
			continue
		}
		if s.End.After(hardEnd) {
			proj.OverflowPatients = append(proj.OverflowPatients, s.Patient.ID)
		}
		if w := s.Patient.AvailabilityWindow; w != nil && !w.Contains(s.Start) {
			proj.WindowViolations = append(proj.WindowViolations, s.Patient.ID)
		}
	}
	return proj
}

// fixedSlots builds the in-progress and pinned slots in time order. Where two
// of them overlap, the earlier one is cut short at the later start and the
// lost minutes are recorded as a lock conflict.
func (f Frame) fixedSlots(proj *Projection) []Slot {
	out := make([]Slot, 0, len(f.Fixed)+1)
	if c := f.Consultation; c != nil {
		end := latest(c.EstimatedEnd, f.Now, c.StartedAt)
		out = append(out, Slot{
			Patient:    c.Patient,
			Start:      c.StartedAt,
			End:        end,
			Arrival:    c.StartedAt,
			Confidence: 1,
			Fixed:      true,
			InProgress: true,
		})
	}
	for _, fs := range f.Fixed {
		out = append(out, Slot{
			Patient:       fs.Patient,
			Start:         fs.Start,
			End:           scheduler.AddMinutes(fs.Start, f.SlotMinutes(fs.Patient)),
			BufferMinutes: f.Params.BufferFor(fs.Patient.Duration),
			Arrival:       fs.Patient.ExpectedArrival(f.Params.ETAQuantile),
			Confidence:    f.Params.DurationQuantile,
			Fixed:         true,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })

	for i := 1; i < len(out); i++ {
		prev, next := &out[i-1], out[i]
		if prev.Release().After(next.Start) {
			prev.BufferMinutes = 0
		}
		if prev.End.After(next.Start) {
			proj.LockConflictMinutes += scheduler.MinutesBetween(next.Start, prev.End)
			prev.End = next.Start
		}
	}
	return out
}

// place finds the first start >= earliest where a slot of the given length
// avoids breaks and every fixed occupancy interval.
func (f Frame) place(earliest time.Time, minutes float64, fixed []Slot) time.Time {
	start := earliest
	for moved := true; moved; {
		moved = false
		start = f.Config.NextStart(start, minutes)
		end := scheduler.AddMinutes(start, minutes)
		for _, s := range fixed {
			if start.Before(s.Release()) && end.After(s.Start) {
				start = s.Release()
				moved = true
				break
			}
		}
	}
	return start
}

func latest(first time.Time, rest ...time.Time) time.Time {
	out := first
	for _, t := range rest {
		if t.After(out) {
			out = t
		}
	}
	return out
}
