package scheduler

import "time"

// TimelineEntry is one planned consultation.
type TimelineEntry struct {
	PatientID       string    `json:"patient_id"`
	PlannedStart    time.Time `json:"planned_start"`
	PlannedEnd      time.Time `json:"planned_end"`
	BufferMinutes   float64   `json:"buffer_minutes"`
	ConfidenceLevel float64   `json:"confidence_level"`
	Fixed           bool      `json:"fixed,omitempty"`
}

// Metrics summarises the expected quality of a schedule.
type Metrics struct {
	ExpectedTotalDelay     float64  `json:"expected_total_delay"`
	ExpectedIdleTime       float64  `json:"expected_idle_time"`
	ExpectedOvertime       float64  `json:"expected_overtime"`
	EmergencySLACompliance float64  `json:"emergency_sla_compliance"`
	TotalCost              float64  `json:"total_cost"`
	OverflowPatients       []string `json:"overflow_patients,omitempty"`
	WindowViolations       []string `json:"window_violations,omitempty"`
	LockConflictMinutes    float64  `json:"lock_conflict_minutes,omitempty"`
}

// Change is one patient's move relative to the last committed schedule.
type Change struct {
	PatientID    string     `json:"patient_id"`
	OldTime      *time.Time `json:"old_time,omitempty"`
	NewTime      time.Time  `json:"new_time"`
	ShiftMinutes float64    `json:"shift_minutes"`
	Reason       string     `json:"reason"`
	Disruptive   bool       `json:"disruptive"`
}

// OptimizedSchedule is the optimizer's output for one doctor.
type OptimizedSchedule struct {
	DoctorID    string          `json:"doctor_id"`
	GeneratedAt time.Time       `json:"generated_at"`
	Sequence    []Patient       `json:"sequence"`
	Timeline    []TimelineEntry `json:"timeline"`
	Metrics     Metrics         `json:"metrics"`
	Changes     []Change        `json:"changes_from_previous"`
}

// Entry finds the timeline entry of a patient.
func (s *OptimizedSchedule) Entry(patientID string) (TimelineEntry, bool) {
	if s == nil {
		return TimelineEntry{}, false
	}
	for _, e := range s.Timeline {
		if e.PatientID == patientID {
			return e, true
		}
	}
	return TimelineEntry{}, false
}

// Commitments maps every planned patient to their committed start.
func (s *OptimizedSchedule) Commitments() map[string]time.Time {
	out := make(map[string]time.Time)
	if s == nil {
		return out
	}
	for _, e := range s.Timeline {
		out[e.PatientID] = e.PlannedStart
	}
	return out
}

// Order returns the planned patient ids in sequence order.
func (s *OptimizedSchedule) Order() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, len(s.Sequence))
	for i, p := range s.Sequence {
		ids[i] = p.ID
	}
	return ids
}

// SameAs reports whether s would be a no-op relative to prev: no moves and
// the same patients in the same order.
func (s *OptimizedSchedule) SameAs(prev *OptimizedSchedule) bool {
	if s == nil || prev == nil {
		return s == prev
	}
	if len(s.Changes) > 0 {
		return false
	}
	a, b := s.Order(), prev.Order()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Clone deep-copies the schedule.
func (s *OptimizedSchedule) Clone() *OptimizedSchedule {
	if s == nil {
		return nil
	}
	out := *s
	out.Sequence = clonePatients(s.Sequence)
	out.Timeline = append([]TimelineEntry(nil), s.Timeline...)
	out.Changes = make([]Change, len(s.Changes))
	for i, c := range s.Changes {
		if c.OldTime != nil {
			t := *c.OldTime
			c.OldTime = &t
		}
		out.Changes[i] = c
	}
	out.Metrics.OverflowPatients = append([]string(nil), s.Metrics.OverflowPatients...)
	out.Metrics.WindowViolations = append([]string(nil), s.Metrics.WindowViolations...)
	return &out
}
