package scheduler

import (
	"fmt"
	"strings"
)

// Priority is the clinical urgency of a patient. Lower rank is more urgent.
type Priority int

// The zero value is deliberately invalid so a missing priority never decodes as
// an emergency.
const (
	PriorityEmergency Priority = iota + 1
	PriorityHigh
	PriorityNormal
	PriorityLow
)

var priorityNames = [...]string{"emergency", "high", "normal", "low"}

func (p Priority) String() string {
	if !p.Valid() {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p-1]
}

// Valid reports whether p is one of the declared levels.
func (p Priority) Valid() bool {
	return p >= PriorityEmergency && p <= PriorityLow
}

// Rank orders priorities for tie-breaking; emergency is 0.
func (p Priority) Rank() int { return int(p) - 1 }

// ParsePriority parses the wire name of a priority.
func ParsePriority(s string) (Priority, error) {
	for i, name := range priorityNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Priority(i + 1), nil
		}
	}
	return 0, fmt.Errorf("scheduler: unknown priority %q", s)
}

func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("scheduler: cannot encode %s", p)
	}
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	parsed, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// EventType tags the payload carried by an Event.
type EventType int

const (
	EventPatientArrival EventType = iota + 1
	EventTrafficUpdate
	EventConsultationEnd
	EventEmergencyInsert
	EventNoShow
)

var eventTypeNames = [...]string{"patient_arrival", "traffic_update", "consultation_end", "emergency_insert", "no_show"}

func (t EventType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("event_type(%d)", int(t))
	}
	return eventTypeNames[t-1]
}

// Valid reports whether t is one of the declared event types.
func (t EventType) Valid() bool {
	return t >= EventPatientArrival && t <= EventNoShow
}

// ParseEventType parses the wire name of an event type.
func ParseEventType(s string) (EventType, error) {
	for i, name := range eventTypeNames {
		if strings.TrimSpace(s) == name {
			return EventType(i + 1), nil
		}
	}
	return 0, fmt.Errorf("scheduler: unknown event type %q", s)
}

func (t EventType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("scheduler: cannot encode %s", t)
	}
	return []byte(t.String()), nil
}

func (t *EventType) UnmarshalText(b []byte) error {
	parsed, err := ParseEventType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TransportMode is how a patient travels to the clinic.
type TransportMode int

const (
	ModeDriving TransportMode = iota
	ModeWalking
	ModeTransit
	ModeBicycling
)

var transportModeNames = [...]string{"driving", "walking", "transit", "bicycling"}

func (m TransportMode) String() string {
	if m < ModeDriving || m > ModeBicycling {
		return fmt.Sprintf("transport_mode(%d)", int(m))
	}
	return transportModeNames[m]
}

// Valid reports whether m is one of the declared modes.
func (m TransportMode) Valid() bool {
	return m >= ModeDriving && m <= ModeBicycling
}

// ParseTransportMode parses the wire name of a transport mode. Empty means driving.
func ParseTransportMode(s string) (TransportMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ModeDriving, nil
	}
	for i, name := range transportModeNames {
		if s == name {
			return TransportMode(i), nil
		}
	}
	return 0, fmt.Errorf("scheduler: unknown transport mode %q", s)
}

func (m TransportMode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("scheduler: cannot encode %s", m)
	}
	return []byte(m.String()), nil
}

func (m *TransportMode) UnmarshalText(b []byte) error {
	parsed, err := ParseTransportMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
