// Package engine runs one single-writer event processor per doctor-day. It
// applies events to the live state, decides when to re-optimize, throttles
// optimizer runs and emits new schedules.
package engine

import (
	"context"

	"go.opentelemetry.io/otel"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/simulation"
)

var tracer = otel.Tracer("scheduler/engine")

// Update is an emitted schedule change.
type Update struct {
	DoctorID string
	Day      string
	Schedule *scheduler.OptimizedSchedule
	Risk     *simulation.Result
	// Trigger is nil for roster loads and deferred runs without an event.
	Trigger *scheduler.Event
}

// Sink receives every emitted schedule.
type Sink interface {
	Publish(ctx context.Context, u Update) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, u Update) error

func (f SinkFunc) Publish(ctx context.Context, u Update) error { return f(ctx, u) }

// Recorder is the append-only log of events and calibration samples.
type Recorder interface {
	AppendEvent(ctx context.Context, ev scheduler.Event) error
	RecordArrival(ctx context.Context, r scheduler.ArrivalRecord) error
	RecordConsultation(ctx context.Context, r scheduler.DurationRecord) error
	RecordNoShow(ctx context.Context, r scheduler.NoShowRecord) error
}

// StateStore persists live state and the committed schedule so a restarted
// worker can resume a day.
type StateStore interface {
	SaveState(ctx context.Context, s scheduler.State) error
	LoadState(ctx context.Context, doctorID, day string) (*scheduler.State, error)
	SaveSchedule(ctx context.Context, day string, s *scheduler.OptimizedSchedule) error
	LoadSchedule(ctx context.Context, doctorID, day string) (*scheduler.OptimizedSchedule, error)
	Delete(ctx context.Context, doctorID, day string) error
}

// RiskAssessor simulates a candidate schedule before it is emitted.
type RiskAssessor interface {
	Run(ctx context.Context, sched *scheduler.OptimizedSchedule, state scheduler.State, scenarios int) (*simulation.Result, error)
}

// DayRecord is everything kept about a closed doctor-day.
type DayRecord struct {
	DoctorID string                       `json:"doctor_id"`
	Day      string                       `json:"day"`
	State    scheduler.State              `json:"final_state"`
	Schedule *scheduler.OptimizedSchedule `json:"committed_schedule,omitempty"`
	Stats    Stats                        `json:"stats"`
}

// Archiver stores closed days.
type Archiver interface {
	ArchiveDay(ctx context.Context, rec DayRecord) error
}
