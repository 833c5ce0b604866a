// Package statestore snapshots live doctor-day state and the committed
// schedule in Redis so a restarted worker resumes where it stopped.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
)

// DefaultTTL keeps a day around long enough to be closed and archived.
const DefaultTTL = 36 * time.Hour

const (
	kindState    = "state"
	kindSchedule = "schedule"
)

type Store struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

func New(client *redis.Client, ttl time.Duration) *Store {
	if client == nil {
		panic("statestore: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{redis: client, ttl: ttl, tracer: otel.Tracer("scheduler/statestore")}
}

func key(kind, doctorID, day string) string {
	return fmt.Sprintf("scheduler:%s:%s:%s", kind, doctorID, day)
}

func (s *Store) SaveState(ctx context.Context, state scheduler.State) error {
	return s.save(ctx, key(kindState, state.DoctorID, state.Day()), state)
}

// LoadState returns nil, nil when no snapshot exists.
func (s *Store) LoadState(ctx context.Context, doctorID, day string) (*scheduler.State, error) {
	var state scheduler.State
	found, err := s.load(ctx, key(kindState, doctorID, day), &state)
	if err != nil || !found {
		return nil, err
	}
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("statestore: snapshot %s/%s: %w", doctorID, day, err)
	}
	return &state, nil
}

func (s *Store) SaveSchedule(ctx context.Context, day string, sched *scheduler.OptimizedSchedule) error {
	if sched == nil {
		return errors.New("statestore: nil schedule")
	}
	return s.save(ctx, key(kindSchedule, sched.DoctorID, day), sched)
}

// LoadSchedule returns nil, nil when nothing was committed yet.
func (s *Store) LoadSchedule(ctx context.Context, doctorID, day string) (*scheduler.OptimizedSchedule, error) {
	var sched scheduler.OptimizedSchedule
	found, err := s.load(ctx, key(kindSchedule, doctorID, day), &sched)
	if err != nil || !found {
		return nil, err
	}
	return &sched, nil
}

// Delete drops both snapshots of a day.
func (s *Store) Delete(ctx context.Context, doctorID, day string) error {
	ctx, span := s.tracer.Start(ctx, "statestore.delete")
	defer span.End()

	if err := s.redis.Del(ctx, key(kindState, doctorID, day), key(kindSchedule, doctorID, day)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("statestore: delete %s/%s: %w", doctorID, day, err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

func (s *Store) save(ctx context.Context, k string, v any) error {
	ctx, span := s.tracer.Start(ctx, "statestore.save")
	defer span.End()
	span.SetAttributes(attribute.String("key", k))

	data, err := json.Marshal(v)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("statestore: failed to marshal %s: %w", k, err)
	}
	if err := s.redis.Set(ctx, k, data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("statestore: failed to persist %s: %w", k, err)
	}
	return nil
}

func (s *Store) load(ctx context.Context, k string, v any) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "statestore.load")
	defer span.End()
	span.SetAttributes(attribute.String("key", k))

	data, err := s.redis.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("statestore: failed to load %s: %w", k, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("statestore: failed to decode %s: %w", k, err)
	}
	return true, nil
}
