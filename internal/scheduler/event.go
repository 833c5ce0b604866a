package scheduler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventPayload is the closed set of event bodies. The unexported method keeps
// the set sealed to this package.
type EventPayload interface {
	Type() EventType
	validate(ev Event) error
}

// PatientArrival records that a patient is physically present.
type PatientArrival struct {
	ActualArrivalTime time.Time `json:"actual_arrival_time"`
}

// TrafficUpdate reports a new travel estimate. NewETA, when set, wins over
// TrafficDelayMinutes.
type TrafficUpdate struct {
	NewETA              *time.Time `json:"new_eta,omitempty"`
	TrafficDelayMinutes float64    `json:"traffic_delay_minutes,omitempty"`
}

// ConsultationEnd closes the in-progress consultation.
type ConsultationEnd struct {
	ActualDuration float64 `json:"actual_duration"`
}

// EmergencyInsert adds an emergency patient to the day.
type EmergencyInsert struct {
	Patient Patient `json:"emergency_patient"`
}

// NoShow confirms a patient will not attend.
type NoShow struct {
	ConfirmedNoShow bool `json:"confirmed_no_show"`
}

func (PatientArrival) Type() EventType  { return EventPatientArrival }
func (TrafficUpdate) Type() EventType   { return EventTrafficUpdate }
func (ConsultationEnd) Type() EventType { return EventConsultationEnd }
func (EmergencyInsert) Type() EventType { return EventEmergencyInsert }
func (NoShow) Type() EventType          { return EventNoShow }

func (p PatientArrival) validate(ev Event) error {
	if ev.PatientID == "" {
		return fmt.Errorf("%w: patient_arrival needs patient_id", ErrInvalidEvent)
	}
	if p.ActualArrivalTime.IsZero() {
		return fmt.Errorf("%w: patient_arrival needs actual_arrival_time", ErrInvalidEvent)
	}
	return nil
}

func (p TrafficUpdate) validate(ev Event) error {
	if ev.PatientID == "" {
		return fmt.Errorf("%w: traffic_update needs patient_id", ErrInvalidEvent)
	}
	if p.NewETA == nil && p.TrafficDelayMinutes == 0 {
		return fmt.Errorf("%w: traffic_update carries no estimate", ErrInvalidEvent)
	}
	return nil
}

func (p ConsultationEnd) validate(Event) error {
	if p.ActualDuration < 0 {
		return fmt.Errorf("%w: negative actual_duration", ErrInvalidEvent)
	}
	return nil
}

func (p EmergencyInsert) validate(ev Event) error {
	if err := p.Patient.Validate(); err != nil {
		return fmt.Errorf("%w: emergency patient: %v", ErrInvalidEvent, err)
	}
	if p.Patient.Priority != PriorityEmergency {
		return fmt.Errorf("%w: emergency_insert patient %s has priority %s", ErrInvalidEvent, p.Patient.ID, p.Patient.Priority)
	}
	if p.Patient.DoctorID != "" && p.Patient.DoctorID != ev.DoctorID {
		return fmt.Errorf("%w: emergency patient belongs to doctor %s", ErrInvalidEvent, p.Patient.DoctorID)
	}
	return nil
}

func (p NoShow) validate(ev Event) error {
	if ev.PatientID == "" {
		return fmt.Errorf("%w: no_show needs patient_id", ErrInvalidEvent)
	}
	if !p.ConfirmedNoShow {
		return fmt.Errorf("%w: no_show for %s is not confirmed", ErrInvalidEvent, ev.PatientID)
	}
	return nil
}

// Event is an immutable timestamped fact about one doctor's day.
type Event struct {
	ID        string
	DoctorID  string
	PatientID string
	Timestamp time.Time
	Payload   EventPayload
}

// NewEvent stamps a payload with a fresh id.
func NewEvent(doctorID, patientID string, at time.Time, payload EventPayload) Event {
	return Event{
		ID:        uuid.NewString(),
		DoctorID:  doctorID,
		PatientID: patientID,
		Timestamp: at,
		Payload:   payload,
	}
}

// Type returns the payload's event type, or zero when the payload is missing.
func (e Event) Type() EventType {
	if e.Payload == nil {
		return 0
	}
	return e.Payload.Type()
}

// Validate rejects events that cannot be applied to any state.
func (e Event) Validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	case e.DoctorID == "":
		return fmt.Errorf("%w: missing doctor_id", ErrInvalidEvent)
	case e.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrInvalidEvent)
	case e.Payload == nil:
		return fmt.Errorf("%w: missing payload", ErrInvalidEvent)
	}
	return e.Payload.validate(e)
}

type eventJSON struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	DoctorID  string          `json:"doctor_id"`
	PatientID string          `json:"patient_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("%w: missing payload", ErrInvalidEvent)
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("scheduler: encode event data: %w", err)
	}
	return json.Marshal(eventJSON{
		ID:        e.ID,
		Type:      e.Payload.Type(),
		DoctorID:  e.DoctorID,
		PatientID: e.PatientID,
		Timestamp: e.Timestamp,
		Data:      data,
	})
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	var payload EventPayload
	switch raw.Type {
	case EventPatientArrival:
		payload = &PatientArrival{}
	case EventTrafficUpdate:
		payload = &TrafficUpdate{}
	case EventConsultationEnd:
		payload = &ConsultationEnd{}
	case EventEmergencyInsert:
		payload = &EmergencyInsert{}
	case EventNoShow:
		payload = &NoShow{}
	default:
		return fmt.Errorf("%w: unknown type %s", ErrInvalidEvent, raw.Type)
	}
	if len(raw.Data) > 0 && string(raw.Data) != "null" {
		if err := json.Unmarshal(raw.Data, payload); err != nil {
			return fmt.Errorf("%w: decode %s data: %v", ErrInvalidEvent, raw.Type, err)
		}
	}
	*e = Event{
		ID:        raw.ID,
		DoctorID:  raw.DoctorID,
		PatientID: raw.PatientID,
		Timestamp: raw.Timestamp,
		Payload:   derefPayload(payload),
	}
	return nil
}

func derefPayload(p EventPayload) EventPayload {
	switch v := p.(type) {
	case *PatientArrival:
		return *v
	case *TrafficUpdate:
		return *v
	case *ConsultationEnd:
		return *v
	case *EmergencyInsert:
		return *v
	case *NoShow:
		return *v
	}
	return p
}
