// Package history stores the scheduler's append-only event log and the
// calibration samples the prediction models learn from.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
)

var tracer = otel.Tracer("scheduler/history")

// Cap on cross-doctor samples pulled for one reason.
const maxReasonSamples = 2000

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository is the Postgres-backed history.
type Repository struct {
	db querier
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("history: pgx pool required")
	}
	return &Repository{db: pool}
}

func newRepositoryWithExec(db querier) *Repository {
	if db == nil {
		panic("history: exec required")
	}
	return &Repository{db: db}
}

// AppendEvent logs ev. Replays of an already logged event id are ignored.
func (r *Repository) AppendEvent(ctx context.Context, ev scheduler.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("history: encode event: %w", err)
	}
	var patientID *string
	if ev.PatientID != "" {
		patientID = &ev.PatientID
	}
	query := `
		INSERT INTO scheduler_events (event_id, doctor_id, patient_id, event_type, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, query, ev.ID, ev.DoctorID, patientID, ev.Type().String(), ev.Timestamp, payload); err != nil {
		return fmt.Errorf("history: append event: %w", err)
	}
	return nil
}

func (r *Repository) RecordArrival(ctx context.Context, rec scheduler.ArrivalRecord) error {
	query := `
		INSERT INTO arrival_history (patient_id, doctor_id, scheduled_time, actual_arrival, distance_km, traffic_conditions, weather)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := r.db.Exec(ctx, query, rec.PatientID, rec.DoctorID, rec.ScheduledTime, rec.ActualArrival,
		rec.DistanceKm, rec.TrafficConditions, rec.Weather); err != nil {
		return fmt.Errorf("history: record arrival: %w", err)
	}
	return nil
}

func (r *Repository) RecordConsultation(ctx context.Context, rec scheduler.DurationRecord) error {
	var characteristics []byte
	if len(rec.Characteristics) > 0 {
		b, err := json.Marshal(rec.Characteristics)
		if err != nil {
			return fmt.Errorf("history: encode characteristics: %w", err)
		}
		characteristics = b
	}
	recordedAt := rec.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO consultation_history (patient_id, doctor_id, reason, planned_minutes, actual_minutes, patient_characteristics, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := r.db.Exec(ctx, query, rec.PatientID, rec.DoctorID, rec.Reason, rec.PlannedMinutes,
		rec.ActualMinutes, characteristics, recordedAt); err != nil {
		return fmt.Errorf("history: record consultation: %w", err)
	}
	return nil
}

func (r *Repository) RecordNoShow(ctx context.Context, rec scheduler.NoShowRecord) error {
	factors := rec.Factors
	if factors == nil {
		factors = []string{}
	}
	query := `
		INSERT INTO no_show_history (patient_id, doctor_id, scheduled_time, no_show, factors)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.db.Exec(ctx, query, rec.PatientID, rec.DoctorID, rec.ScheduledTime, rec.NoShow, factors); err != nil {
		return fmt.Errorf("history: record no-show: %w", err)
	}
	return nil
}

// LoadHistoricalData returns a doctor's samples recorded since the given time.
func (r *Repository) LoadHistoricalData(ctx context.Context, doctorID string, since time.Time) (scheduler.HistoricalData, error) {
	ctx, span := tracer.Start(ctx, "history.load")
	defer span.End()
	span.SetAttributes(attribute.String("doctor_id", doctorID))

	var out scheduler.HistoricalData
	var err error
	if out.Arrivals, err = r.loadArrivals(ctx, doctorID, since); err != nil {
		span.RecordError(err)
		return scheduler.HistoricalData{}, err
	}
	if out.Durations, err = r.loadDurations(ctx, doctorID, since); err != nil {
		span.RecordError(err)
		return scheduler.HistoricalData{}, err
	}
	if out.NoShows, err = r.loadNoShows(ctx, doctorID, since); err != nil {
		span.RecordError(err)
		return scheduler.HistoricalData{}, err
	}
	span.SetAttributes(
		attribute.Int("arrivals", len(out.Arrivals)),
		attribute.Int("durations", len(out.Durations)),
		attribute.Int("no_shows", len(out.NoShows)),
	)
	return out, nil
}

func (r *Repository) loadArrivals(ctx context.Context, doctorID string, since time.Time) ([]scheduler.ArrivalRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT patient_id, doctor_id, scheduled_time, actual_arrival, distance_km, traffic_conditions, weather
		FROM arrival_history
		WHERE doctor_id = $1 AND scheduled_time >= $2
		ORDER BY scheduled_time`, doctorID, since)
	if err != nil {
		return nil, fmt.Errorf("history: load arrivals: %w", err)
	}
	defer rows.Close()

	out := []scheduler.ArrivalRecord{}
	for rows.Next() {
		var a scheduler.ArrivalRecord
		if err := rows.Scan(&a.PatientID, &a.DoctorID, &a.ScheduledTime, &a.ActualArrival,
			&a.DistanceKm, &a.TrafficConditions, &a.Weather); err != nil {
			return nil, fmt.Errorf("history: scan arrival: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: load arrivals: %w", err)
	}
	return out, nil
}

func (r *Repository) loadDurations(ctx context.Context, doctorID string, since time.Time) ([]scheduler.DurationRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT patient_id, doctor_id, reason, planned_minutes, actual_minutes, patient_characteristics, recorded_at
		FROM consultation_history
		WHERE doctor_id = $1 AND recorded_at >= $2
		ORDER BY recorded_at`, doctorID, since)
	if err != nil {
		return nil, fmt.Errorf("history: load durations: %w", err)
	}
	return scanDurations(rows)
}

// LoadReasonDurations returns the most recent consultations of every doctor
// whose reason matches one of reasons, compared case-insensitively.
func (r *Repository) LoadReasonDurations(ctx context.Context, reasons []string, since time.Time) ([]scheduler.DurationRecord, error) {
	if len(reasons) == 0 {
		return []scheduler.DurationRecord{}, nil
	}
	ctx, span := tracer.Start(ctx, "history.load_reason_durations")
	defer span.End()
	span.SetAttributes(attribute.StringSlice("reasons", reasons))

	rows, err := r.db.Query(ctx, `
		SELECT patient_id, doctor_id, reason, planned_minutes, actual_minutes, patient_characteristics, recorded_at
		FROM consultation_history
		WHERE lower(reason) = ANY($1) AND recorded_at >= $2
		ORDER BY recorded_at DESC
		LIMIT $3`, reasons, since, maxReasonSamples)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("history: load reason durations: %w", err)
	}
	out, err := scanDurations(rows)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("durations", len(out)))
	return out, nil
}

func scanDurations(rows pgx.Rows) ([]scheduler.DurationRecord, error) {
	defer rows.Close()

	out := []scheduler.DurationRecord{}
	for rows.Next() {
		var (
			d   scheduler.DurationRecord
			raw []byte
		)
		if err := rows.Scan(&d.PatientID, &d.DoctorID, &d.Reason, &d.PlannedMinutes,
			&d.ActualMinutes, &raw, &d.RecordedAt); err != nil {
			return nil, fmt.Errorf("history: scan duration: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &d.Characteristics); err != nil {
				return nil, fmt.Errorf("history: decode characteristics: %w", err)
			}
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: load durations: %w", err)
	}
	return out, nil
}

func (r *Repository) loadNoShows(ctx context.Context, doctorID string, since time.Time) ([]scheduler.NoShowRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT patient_id, doctor_id, scheduled_time, no_show, factors
		FROM no_show_history
		WHERE doctor_id = $1 AND scheduled_time >= $2
		ORDER BY scheduled_time`, doctorID, since)
	if err != nil {
		return nil, fmt.Errorf("history: load no-shows: %w", err)
	}
	defer rows.Close()

	out := []scheduler.NoShowRecord{}
	for rows.Next() {
		var n scheduler.NoShowRecord
		if err := rows.Scan(&n.PatientID, &n.DoctorID, &n.ScheduledTime, &n.NoShow, &n.Factors); err != nil {
			return nil, fmt.Errorf("history: scan no-show: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: load no-shows: %w", err)
	}
	return out, nil
}
