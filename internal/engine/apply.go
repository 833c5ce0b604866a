package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
)

const (
	// Weight of the previous punctuality score in the moving average.
	punctualityKeep = 0.8
	// Arrivals up to this many minutes past the scheduled time count as on time.
	punctualityGraceMinutes = 5.0
)

// applied describes what one event did to the state.
type applied struct {
	// impact in minutes: ETA change, arrival deviation or consultation overrun.
	impact float64
	// always is set for event types that trigger regardless of impact.
	always   bool
	arrival  *scheduler.ArrivalRecord
	duration *scheduler.DurationRecord
	noShow   *scheduler.NoShowRecord
}

// applyEvent mutates s with ev. order is the committed plan order, used to
// pick who enters the room when a consultation ends.
func applyEvent(s *scheduler.State, ev scheduler.Event, params scheduler.Params, order []string) (applied, error) {
	if err := ev.Validate(); err != nil {
		return applied{}, err
	}
	if ev.DoctorID != s.DoctorID {
		return applied{}, fmt.Errorf("%w: event for doctor %s applied to %s", scheduler.ErrInvalidEvent, ev.DoctorID, s.DoctorID)
	}
	if ev.Timestamp.After(s.CurrentTime) {
		s.CurrentTime = ev.Timestamp
	}

	switch payload := ev.Payload.(type) {
	case scheduler.PatientArrival:
		return applyArrival(s, ev.PatientID, payload, params, order)
	case scheduler.TrafficUpdate:
		return applyTraffic(s, ev.PatientID, payload)
	case scheduler.ConsultationEnd:
		return applyConsultationEnd(s, ev, payload, params, order)
	case scheduler.EmergencyInsert:
		return applyEmergency(s, ev, payload, params, order)
	case scheduler.NoShow:
		return applyNoShow(s, ev)
	}
	return applied{}, fmt.Errorf("%w: unsupported payload %T", scheduler.ErrInvalidEvent, ev.Payload)
}

func applyArrival(s *scheduler.State, id string, a scheduler.PatientArrival, params scheduler.Params, order []string) (applied, error) {
	p, queue, ok := s.Find(id)
	if !ok {
		return applied{}, fmt.Errorf("%w: %s", scheduler.ErrUnknownPatient, id)
	}
	if queue == scheduler.QueueConsultation {
		return applied{}, fmt.Errorf("%w: %s is already with the doctor", scheduler.ErrInvalidEvent, id)
	}

	expected := p.ExpectedArrival(params.ETAQuantile)
	actual := a.ActualArrivalTime
	out := applied{impact: math.Abs(scheduler.MinutesBetween(expected, actual))}

	onTime := 0.0
	if scheduler.MinutesBetween(p.ScheduledTime, actual) <= punctualityGraceMinutes {
		onTime = 1
	}
	if !p.Arrived() {
		p.PunctualityScore = punctualityKeep*p.PunctualityScore + (1-punctualityKeep)*onTime
	}
	p.ArrivedAt = &actual

	if queue == scheduler.QueueScheduled {
		s.Remove(id)
		s.WaitingQueue = append(s.WaitingQueue, p)
	} else {
		s.Update(p)
	}
	startIfIdle(s, order, params, actual)
	out.arrival = &scheduler.ArrivalRecord{
		PatientID:     p.ID,
		DoctorID:      s.DoctorID,
		ScheduledTime: p.ScheduledTime,
		ActualArrival: actual,
		DistanceKm:    p.DistanceKm,
	}
	return out, nil
}

func applyTraffic(s *scheduler.State, id string, u scheduler.TrafficUpdate) (applied, error) {
	p, queue, ok := s.Find(id)
	if !ok {
		return applied{}, fmt.Errorf("%w: %s", scheduler.ErrUnknownPatient, id)
	}
	if queue != scheduler.QueueScheduled {
		// Already present; travel no longer matters.
		return applied{}, nil
	}
	delta := u.TrafficDelayMinutes
	if u.NewETA != nil {
		delta = scheduler.MinutesBetween(p.ScheduledTime, *u.NewETA) - p.ETA.P50()
	}
	p.ETA = p.ETA.Shift(delta)
	s.Update(p)
	return applied{impact: math.Abs(delta)}, nil
}

func applyConsultationEnd(s *scheduler.State, ev scheduler.Event, e scheduler.ConsultationEnd, params scheduler.Params, order []string) (applied, error) {
	c := s.CurrentConsultation
	if c == nil {
		started, err := unstartedConsultation(s, ev, e, params)
		if err != nil {
			return applied{}, err
		}
		c = started
	}
	if ev.PatientID != "" && ev.PatientID != c.Patient.ID {
		return applied{}, fmt.Errorf("%w: %s is not with the doctor", scheduler.ErrInvalidEvent, ev.PatientID)
	}

	actual := e.ActualDuration
	if actual == 0 {
		actual = math.Max(0, scheduler.MinutesBetween(c.StartedAt, ev.Timestamp))
	}
	endedAt := scheduler.AddMinutes(c.StartedAt, actual)
	planned := scheduler.MinutesBetween(c.StartedAt, c.EstimatedEnd)
	out := applied{
		impact: math.Abs(scheduler.MinutesBetween(c.EstimatedEnd, endedAt)),
		duration: &scheduler.DurationRecord{
			PatientID:       c.Patient.ID,
			DoctorID:        s.DoctorID,
			Reason:          c.Patient.Reason,
			PlannedMinutes:  planned,
			ActualMinutes:   actual,
			Characteristics: c.Patient.Characteristics,
			RecordedAt:      endedAt,
		},
	}
	s.CurrentConsultation = nil
	if endedAt.After(s.CurrentTime) {
		s.CurrentTime = endedAt
	}
	promoteNext(s, order, params, endedAt)
	return out, nil
}

// unstartedConsultation handles a consultation_end for a patient the engine
// never saw enter the room: the named patient is taken out of their queue and
// treated as having been with the doctor. Without a patient id there is
// nothing to close.
func unstartedConsultation(s *scheduler.State, ev scheduler.Event, e scheduler.ConsultationEnd, params scheduler.Params) (*scheduler.Consultation, error) {
	if ev.PatientID == "" {
		return nil, fmt.Errorf("%w: no consultation in progress", scheduler.ErrInvalidEvent)
	}
	p, ok := s.Remove(ev.PatientID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", scheduler.ErrUnknownPatient, ev.PatientID)
	}
	started := ev.Timestamp
	switch {
	case e.ActualDuration > 0:
		started = scheduler.AddMinutes(ev.Timestamp, -e.ActualDuration)
	case p.ArrivedAt != nil && p.ArrivedAt.Before(ev.Timestamp):
		started = *p.ArrivedAt
	}
	return &scheduler.Consultation{
		Patient:      p,
		StartedAt:    started,
		EstimatedEnd: scheduler.AddMinutes(started, p.Duration.Quantile(params.DurationQuantile)),
	}, nil
}

// startIfIdle calls the next waiting patient in when nobody is with the
// doctor. Nobody is seen before the clinic opens.
func startIfIdle(s *scheduler.State, order []string, params scheduler.Params, at time.Time) {
	if s.CurrentConsultation != nil {
		return
	}
	if open := s.DoctorConfig.ClinicStart; at.Before(open) {
		at = open
	}
	promoteNext(s, order, params, at)
}

// promoteNext moves the first waiting patient in plan order into the room.
// Patients missing from the plan follow in arrival order.
func promoteNext(s *scheduler.State, order []string, params scheduler.Params, at time.Time) {
	if len(s.WaitingQueue) == 0 {
		return
	}
	next := ""
	waiting := make(map[string]bool, len(s.WaitingQueue))
	for _, p := range s.WaitingQueue {
		waiting[p.ID] = true
	}
	for _, id := range order {
		if waiting[id] {
			next = id
			break
		}
	}
	if next == "" {
		first := s.WaitingQueue[0]
		for _, p := range s.WaitingQueue[1:] {
			if p.ArrivedAt != nil && first.ArrivedAt != nil && p.ArrivedAt.Before(*first.ArrivedAt) {
				first = p
			}
		}
		next = first.ID
	}
	p, _ := s.Remove(next)
	s.CurrentConsultation = &scheduler.Consultation{
		Patient:      p,
		StartedAt:    at,
		EstimatedEnd: scheduler.AddMinutes(at, p.Duration.Quantile(params.DurationQuantile)),
	}
}

func applyEmergency(s *scheduler.State, ev scheduler.Event, e scheduler.EmergencyInsert, params scheduler.Params, order []string) (applied, error) {
	p := e.Patient.Clone()
	if _, _, exists := s.Find(p.ID); exists {
		return applied{}, fmt.Errorf("%w: %s", scheduler.ErrDuplicatePatient, p.ID)
	}
	if p.DoctorID == "" {
		p.DoctorID = s.DoctorID
	}
	if p.Arrived() {
		s.WaitingQueue = append(s.WaitingQueue, p)
		// the emergency goes first when the room is free
		startIfIdle(s, append([]string{p.ID}, order...), params, ev.Timestamp)
	} else {
		s.ScheduledQueue = append(s.ScheduledQueue, p)
	}
	return applied{always: true}, nil
}

func applyNoShow(s *scheduler.State, ev scheduler.Event) (applied, error) {
	p, ok := s.Remove(ev.PatientID)
	if !ok {
		return applied{}, fmt.Errorf("%w: %s", scheduler.ErrUnknownPatient, ev.PatientID)
	}
	return applied{
		always: true,
		noShow: &scheduler.NoShowRecord{
			PatientID:     p.ID,
			DoctorID:      s.DoctorID,
			ScheduledTime: p.ScheduledTime,
			NoShow:        true,
			Factors:       noShowFactors(p),
		},
	}, nil
}

// Roster is the booked day of one doctor as known to the booking system.
type Roster struct {
	DoctorID     string                  `json:"doctor_id"`
	Day          string                  `json:"day"`
	DoctorConfig *scheduler.DoctorConfig `json:"doctor_config,omitempty"`
	Patients     []scheduler.Patient     `json:"patients"`
}

// applyRoster merges booked patients into s. New patients join the scheduled
// queue; patients still scheduled get the booking data refreshed while their
// reschedule count is kept. Patients already present are left alone.
func applyRoster(s *scheduler.State, r Roster) (int, error) {
	if r.DoctorID != s.DoctorID {
		return 0, fmt.Errorf("%w: roster for doctor %s applied to %s", scheduler.ErrInvalidEvent, r.DoctorID, s.DoctorID)
	}
	for _, p := range r.Patients {
		if err := p.Validate(); err != nil {
			return 0, err
		}
	}
	if r.DoctorConfig != nil {
		s.DoctorConfig = *r.DoctorConfig
	}
	changed := 0
	for _, p := range r.Patients {
		p = p.Clone()
		if p.DoctorID == "" {
			p.DoctorID = s.DoctorID
		}
		existing, queue, ok := s.Find(p.ID)
		switch {
		case !ok:
			s.ScheduledQueue = append(s.ScheduledQueue, p)
			changed++
		case queue == scheduler.QueueScheduled:
			if p.CurrentReschedules < existing.CurrentReschedules {
				p.CurrentReschedules = existing.CurrentReschedules
			}
			s.Update(p)
			changed++
		}
	}
	return changed, nil
}

// noShowFactors tags a missed appointment with what may explain it.
func noShowFactors(p scheduler.Patient) []string {
	var out []string
	if p.PunctualityScore < 0.5 {
		out = append(out, "low_punctuality")
	}
	if p.DistanceKm > 20 {
		out = append(out, "long_distance")
	}
	if p.CurrentReschedules > 0 {
		out = append(out, "rescheduled")
	}
	return out
}
