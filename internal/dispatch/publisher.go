package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/engine"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/pkg/logging"
)

// Publisher sends committed schedules to the outbound queue. It is an
// engine.Sink.
type Publisher struct {
	queue  Queue
	logger *logging.Logger
}

var _ engine.Sink = (*Publisher)(nil)

func NewPublisher(queue Queue, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("dispatch: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, u engine.Update) error {
	if u.Schedule == nil {
		return fmt.Errorf("dispatch: update for %s without schedule", u.DoctorID)
	}
	out := Outbound{
		ID:       uuid.NewString(),
		Kind:     KindScheduleUpdated,
		DoctorID: u.DoctorID,
		Day:      u.Day,
		Schedule: u.Schedule,
		Risk:     u.Risk,
	}
	if u.Trigger != nil {
		out.TriggerEventID = u.Trigger.ID
		out.TriggerType = u.Trigger.Type().String()
	}
	body, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("dispatch: failed to encode schedule: %w", err)
	}
	if err := p.queue.Send(ctx, string(body)); err != nil {
		return fmt.Errorf("dispatch: failed to publish schedule: %w", err)
	}
	p.logger.Debug("schedule published", "id", out.ID, "doctor_id", u.DoctorID, "changes", len(u.Schedule.Changes))
	return nil
}
