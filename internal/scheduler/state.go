package scheduler

import (
	"fmt"
	"sort"
	"time"
)

// Interval is a half-open time range.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DoctorConfig describes one doctor's working day.
type DoctorConfig struct {
	ClinicStart            time.Time  `json:"clinic_start"`
	ClinicEnd              time.Time  `json:"clinic_end"`
	Breaks                 []Interval `json:"break_times,omitempty"`
	EmergencyBufferMinutes float64    `json:"emergency_buffer_minutes"`
	MaxOvertimeMinutes     float64    `json:"max_overtime_minutes"`
	Location               *LatLng    `json:"location,omitempty"`
}

// DefaultDoctorConfig is an 08:00-17:00 day with a lunch break, in day's location.
func DefaultDoctorConfig(day time.Time) DoctorConfig {
	at := func(h int) time.Time {
		return time.Date(day.Year(), day.Month(), day.Day(), h, 0, 0, 0, day.Location())
	}
	return DoctorConfig{
		ClinicStart:            at(8),
		ClinicEnd:              at(17),
		Breaks:                 []Interval{{Start: at(12), End: at(13)}},
		EmergencyBufferMinutes: 15,
		MaxOvertimeMinutes:     60,
	}
}

// HardEnd is the latest acceptable end of the day including overtime.
func (c DoctorConfig) HardEnd() time.Time {
	return AddMinutes(c.ClinicEnd, c.MaxOvertimeMinutes)
}

// NextStart returns the earliest start >= start at which a slot of the given
// length does not overlap a break.
func (c DoctorConfig) NextStart(start time.Time, minutes float64) time.Time {
	if len(c.Breaks) == 0 {
		return start
	}
	breaks := c.sortedBreaks()
	for moved := true; moved; {
		moved = false
		end := AddMinutes(start, minutes)
		for _, b := range breaks {
			if start.Before(b.End) && end.After(b.Start) {
				start = b.End
				moved = true
				break
			}
		}
	}
	return start
}

// BreakMinutes returns how many minutes of [from, to) fall inside breaks.
func (c DoctorConfig) BreakMinutes(from, to time.Time) float64 {
	var total float64
	for _, b := range c.Breaks {
		s, e := b.Start, b.End
		if s.Before(from) {
			s = from
		}
		if e.After(to) {
			e = to
		}
		if e.After(s) {
			total += MinutesBetween(s, e)
		}
	}
	return total
}

func (c DoctorConfig) sortedBreaks() []Interval {
	out := append([]Interval(nil), c.Breaks...)
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Consultation is the patient currently with the doctor.
type Consultation struct {
	Patient             Patient   `json:"patient"`
	StartedAt           time.Time `json:"started_at"`
	EstimatedEnd        time.Time `json:"estimated_end"`
	ActualDurationSoFar float64   `json:"actual_duration_so_far"`
}

// QueueKind names where a patient lives inside a State.
type QueueKind int

const (
	QueueNone QueueKind = iota
	QueueConsultation
	QueueWaiting
	QueueScheduled
)

// State is one doctor's day. The event processor owns the only mutable copy;
// everyone else works on Clone()s.
type State struct {
	CurrentTime         time.Time     `json:"current_time"`
	DoctorID            string        `json:"doctor_id"`
	CurrentConsultation *Consultation `json:"current_consultation,omitempty"`
	WaitingQueue        []Patient     `json:"waiting_queue"`
	ScheduledQueue      []Patient     `json:"scheduled_queue"`
	DoctorConfig        DoctorConfig  `json:"doctor_config"`
}

// NewState builds an empty day for a doctor.
func NewState(doctorID string, now time.Time, cfg DoctorConfig) State {
	return State{
		CurrentTime:    now,
		DoctorID:       doctorID,
		WaitingQueue:   []Patient{},
		ScheduledQueue: []Patient{},
		DoctorConfig:   cfg,
	}
}

// Day returns the clinic day key (yyyy-mm-dd in the clinic's location).
func (s State) Day() string {
	ref := s.DoctorConfig.ClinicStart
	if ref.IsZero() {
		ref = s.CurrentTime
	}
	return ref.Format("2006-01-02")
}

// Clone deep-copies the state.
func (s State) Clone() State {
	out := s
	if s.CurrentConsultation != nil {
		c := *s.CurrentConsultation
		c.Patient = c.Patient.Clone()
		out.CurrentConsultation = &c
	}
	out.WaitingQueue = clonePatients(s.WaitingQueue)
	out.ScheduledQueue = clonePatients(s.ScheduledQueue)
	out.DoctorConfig.Breaks = append([]Interval(nil), s.DoctorConfig.Breaks...)
	if s.DoctorConfig.Location != nil {
		l := *s.DoctorConfig.Location
		out.DoctorConfig.Location = &l
	}
	return out
}

func clonePatients(in []Patient) []Patient {
	out := make([]Patient, len(in))
	for i, p := range in {
		out[i] = p.Clone()
	}
	return out
}

// Validate checks id uniqueness across the consultation and both queues and
// validates every patient.
func (s State) Validate() error {
	if s.DoctorID == "" {
		return fmt.Errorf("%w: state missing doctor id", ErrInvalidPatient)
	}
	seen := make(map[string]struct{})
	for _, p := range s.Patients() {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicatePatient, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// Patients lists the in-progress patient (if any), then the waiting and
// scheduled queues in plan order.
func (s State) Patients() []Patient {
	out := make([]Patient, 0, len(s.WaitingQueue)+len(s.ScheduledQueue)+1)
	if s.CurrentConsultation != nil {
		out = append(out, s.CurrentConsultation.Patient)
	}
	out = append(out, s.WaitingQueue...)
	return append(out, s.ScheduledQueue...)
}

// Find locates a patient by id.
func (s State) Find(id string) (Patient, QueueKind, bool) {
	if c := s.CurrentConsultation; c != nil && c.Patient.ID == id {
		return c.Patient, QueueConsultation, true
	}
	for _, p := range s.WaitingQueue {
		if p.ID == id {
			return p, QueueWaiting, true
		}
	}
	for _, p := range s.ScheduledQueue {
		if p.ID == id {
			return p, QueueScheduled, true
		}
	}
	return Patient{}, QueueNone, false
}

// Remove deletes a queued patient (not the in-progress one) and returns it.
func (s *State) Remove(id string) (Patient, bool) {
	for i, p := range s.WaitingQueue {
		if p.ID == id {
			s.WaitingQueue = append(s.WaitingQueue[:i:i], s.WaitingQueue[i+1:]...)
			return p, true
		}
	}
	for i, p := range s.ScheduledQueue {
		if p.ID == id {
			s.ScheduledQueue = append(s.ScheduledQueue[:i:i], s.ScheduledQueue[i+1:]...)
			return p, true
		}
	}
	return Patient{}, false
}

// Update replaces the stored copy of a patient with the same id.
func (s *State) Update(p Patient) bool {
	if c := s.CurrentConsultation; c != nil && c.Patient.ID == p.ID {
		c.Patient = p
		return true
	}
	for i := range s.WaitingQueue {
		if s.WaitingQueue[i].ID == p.ID {
			s.WaitingQueue[i] = p
			return true
		}
	}
	for i := range s.ScheduledQueue {
		if s.ScheduledQueue[i].ID == p.ID {
			s.ScheduledQueue[i] = p
			return true
		}
	}
	return false
}
