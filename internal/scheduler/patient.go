package scheduler

import (
	"fmt"
	"math"
	"time"
)

// LatLng is a WGS84 coordinate.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (l LatLng) String() string {
	return fmt.Sprintf("%.6f,%.6f", l.Lat, l.Lng)
}

// Window bounds the acceptable start of a consultation.
type Window struct {
	Earliest time.Time `json:"earliest"`
	Latest   time.Time `json:"latest"`
}

// Contains reports whether t lies inside the window, bounds included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Earliest) && !t.After(w.Latest)
}

// Patient is a request for a slot on one doctor's day.
type Patient struct {
	ID       string   `json:"id"`
	DoctorID string   `json:"doctor_id"`
	Priority Priority `json:"priority"`
	Reason   string   `json:"reason,omitempty"`

	ScheduledTime time.Time            `json:"scheduled_time"`
	Origin        *LatLng              `json:"origin_coordinates,omitempty"`
	Mode          TransportMode        `json:"transport_mode"`
	DistanceKm    float64              `json:"distance_km"`
	ETA           QuantileDistribution `json:"eta_distribution"`
	Duration      QuantileDistribution `json:"duration_distribution"`

	NoShowProbability float64        `json:"no_show_probability"`
	PunctualityScore  float64        `json:"punctuality_score"`
	Characteristics   map[string]any `json:"patient_characteristics,omitempty"`

	AvailabilityWindow  *Window    `json:"availability_window,omitempty"`
	Locked              bool       `json:"locked,omitempty"`
	// MaxReschedulesToday caps moves for this patient; nil uses the params default.
	MaxReschedulesToday *int       `json:"max_reschedules_today,omitempty"`
	CurrentReschedules  int        `json:"current_reschedules"`
	ArrivedAt           *time.Time `json:"arrived_at,omitempty"`
}

// Validate checks the record invariants that must hold before it enters a state.
func (p Patient) Validate() error {
	switch {
	case p.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidPatient)
	case !p.Priority.Valid():
		return fmt.Errorf("%w: %s has invalid priority", ErrInvalidPatient, p.ID)
	case p.ScheduledTime.IsZero():
		return fmt.Errorf("%w: %s missing scheduled_time", ErrInvalidPatient, p.ID)
	case !inUnit(p.NoShowProbability):
		return fmt.Errorf("%w: %s no_show_probability out of [0,1]", ErrInvalidPatient, p.ID)
	case !inUnit(p.PunctualityScore):
		return fmt.Errorf("%w: %s punctuality_score out of [0,1]", ErrInvalidPatient, p.ID)
	case p.DistanceKm < 0 || math.IsNaN(p.DistanceKm):
		return fmt.Errorf("%w: %s negative distance", ErrInvalidPatient, p.ID)
	case p.CurrentReschedules < 0 || p.MaxReschedulesToday != nil && *p.MaxReschedulesToday < 0:
		return fmt.Errorf("%w: %s negative reschedule counters", ErrInvalidPatient, p.ID)
	case p.MaxReschedulesToday != nil && p.CurrentReschedules > *p.MaxReschedulesToday:
		return fmt.Errorf("%w: %s current_reschedules exceeds max", ErrInvalidPatient, p.ID)
	case !p.Mode.Valid():
		return fmt.Errorf("%w: %s invalid transport mode", ErrInvalidPatient, p.ID)
	}
	if w := p.AvailabilityWindow; w != nil && w.Latest.Before(w.Earliest) {
		return fmt.Errorf("%w: %s availability window ends before it starts", ErrInvalidPatient, p.ID)
	}
	if p.Duration.P95() < 0 {
		return fmt.Errorf("%w: %s negative duration", ErrInvalidPatient, p.ID)
	}
	return nil
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}

// Arrived reports whether the patient is physically present.
func (p Patient) Arrived() bool {
	return p.ArrivedAt != nil
}

// RescheduleLimit returns the per-patient cap, falling back to the params default.
func (p Patient) RescheduleLimit(def int) int {
	if p.MaxReschedulesToday != nil {
		return *p.MaxReschedulesToday
	}
	return def
}

// AtRescheduleCap reports whether the patient may not be moved again today.
func (p Patient) AtRescheduleCap(def int) bool {
	return p.CurrentReschedules >= p.RescheduleLimit(def)
}

// ExpectedArrival is the actual arrival when known, otherwise scheduled time
// plus the ETA offset at quantile q.
func (p Patient) ExpectedArrival(q float64) time.Time {
	if p.ArrivedAt != nil {
		return *p.ArrivedAt
	}
	return AddMinutes(p.ScheduledTime, p.ETA.Quantile(q))
}

// Clone returns a copy that shares no mutable memory with p.
func (p Patient) Clone() Patient {
	out := p
	if p.Origin != nil {
		o := *p.Origin
		out.Origin = &o
	}
	if p.AvailabilityWindow != nil {
		w := *p.AvailabilityWindow
		out.AvailabilityWindow = &w
	}
	if p.ArrivedAt != nil {
		a := *p.ArrivedAt
		out.ArrivedAt = &a
	}
	if p.MaxReschedulesToday != nil {
		m := *p.MaxReschedulesToday
		out.MaxReschedulesToday = &m
	}
	if p.Characteristics != nil {
		out.Characteristics = make(map[string]any, len(p.Characteristics))
		for k, v := range p.Characteristics {
			out.Characteristics[k] = v
		}
	}
	return out
}

// AddMinutes adds a fractional number of minutes to t.
func AddMinutes(t time.Time, minutes float64) time.Time {
	return t.Add(time.Duration(minutes * float64(time.Minute)))
}

// MinutesBetween returns b-a in minutes.
func MinutesBetween(a, b time.Time) float64 {
	return b.Sub(a).Minutes()
}
