// Package dispatch moves scheduler traffic over queues: inbound events and
// rosters are consumed into the engine, emitted schedules are published.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/engine"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/simulation"
)

// Queue is the transport both directions share.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// Envelope kinds.
const (
	KindEvent           = "scheduler.event.v1"
	KindRoster          = "scheduler.roster.v1"
	KindScheduleUpdated = "schedule.updated.v1"
)

// Inbound is a message for the engine: exactly one of Event or Roster.
type Inbound struct {
	ID     string           `json:"id"`
	Kind   string           `json:"kind"`
	Event  *scheduler.Event `json:"event,omitempty"`
	Roster *engine.Roster   `json:"roster,omitempty"`
}

// Outbound announces a new committed schedule.
type Outbound struct {
	ID             string                       `json:"id"`
	Kind           string                       `json:"kind"`
	DoctorID       string                       `json:"doctor_id"`
	Day            string                       `json:"day"`
	TriggerEventID string                       `json:"trigger_event_id,omitempty"`
	TriggerType    string                       `json:"trigger_type,omitempty"`
	Schedule       *scheduler.OptimizedSchedule `json:"schedule"`
	Risk           *simulation.Result           `json:"risk,omitempty"`
}

// EncodeEvent wraps ev for the inbound queue.
func EncodeEvent(ev scheduler.Event) (string, error) {
	return encode(Inbound{ID: ev.ID, Kind: KindEvent, Event: &ev})
}

// EncodeRoster wraps r for the inbound queue.
func EncodeRoster(r engine.Roster) (string, error) {
	return encode(Inbound{Kind: KindRoster, Roster: &r})
}

func encode(in Inbound) (string, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	body, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("dispatch: failed to encode %s: %w", in.Kind, err)
	}
	return string(body), nil
}

func decodeInbound(body string) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		return Inbound{}, fmt.Errorf("dispatch: decode message: %w", err)
	}
	switch in.Kind {
	case KindEvent:
		if in.Event == nil {
			return Inbound{}, fmt.Errorf("dispatch: %s without event", in.Kind)
		}
	case KindRoster:
		if in.Roster == nil {
			return Inbound{}, fmt.Errorf("dispatch: %s without roster", in.Kind)
		}
	default:
		return Inbound{}, fmt.Errorf("dispatch: unknown kind %q", in.Kind)
	}
	if in.ID == "" && in.Event != nil {
		in.ID = in.Event.ID
	}
	return in, nil
}
