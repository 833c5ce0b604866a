package prediction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/observability/metrics"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/pkg/logging"
)

type fakeTraffic struct {
	est   TravelEstimate
	err   error
	block bool
	calls int
}

func (f *fakeTraffic) ETA(ctx context.Context, _, _ scheduler.LatLng, _ scheduler.TransportMode) (TravelEstimate, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return TravelEstimate{}, ctx.Err()
	}
	return f.est, f.err
}

type fakeWeather struct {
	cond Conditions
	err  error
}

func (f fakeWeather) CurrentConditions(context.Context, scheduler.LatLng) (Conditions, error) {
	return f.cond, f.err
}

type fakeHistory struct {
	data  scheduler.HistoricalData
	err   error
	since time.Time

	byReason  []scheduler.DurationRecord
	reasonErr error
	reasons   []string
}

func (f *fakeHistory) LoadHistoricalData(_ context.Context, _ string, since time.Time) (scheduler.HistoricalData, error) {
	f.since = since
	return f.data, f.err
}

func (f *fakeHistory) LoadReasonDurations(_ context.Context, reasons []string, _ time.Time) ([]scheduler.DurationRecord, error) {
	f.reasons = reasons
	return f.byReason, f.reasonErr
}

var (
	clinic = scheduler.LatLng{Lat: -23.5614, Lng: -46.6559}
	home   = scheduler.LatLng{Lat: -23.4800, Lng: -46.6000}
)

func newPatient() scheduler.Patient {
	return scheduler.Patient{
		ID:               "p1",
		DoctorID:         "doc-1",
		Priority:         scheduler.PriorityNormal,
		Reason:           "followup",
		ScheduledTime:    time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		Origin:           &home,
		PunctualityScore: 0.5,
	}
}

func TestEnrichFillsMissingFields(t *testing.T) {
	traffic := &fakeTraffic{est: TravelEstimate{DurationMinutes: 20, DurationInTrafficMinutes: 30}}
	s := NewService(logging.Discard(), WithTraffic(traffic), WithWeather(fakeWeather{cond: Conditions{Condition: "clear"}}))

	p := newPatient()
	got := s.Enrich(context.Background(), p, &clinic)

	assert.Greater(t, got.DistanceKm, 5.0)
	assert.False(t, got.ETA.IsZero())
	assert.Equal(t, 15.0, got.Duration.P50())
	assert.Equal(t, 1, traffic.calls)

	calm := PredictETA(ETAInput{DistanceKm: got.DistanceKm, Punctuality: 0.5}, nil)
	assert.InDelta(t, calm.P95()*1.5, got.ETA.P95(), 1e-6)

	assert.Equal(t, 0.0, p.DistanceKm, "input must not be mutated")
}

func TestEnrichKeepsProvidedDistributions(t *testing.T) {
	traffic := &fakeTraffic{}
	s := NewService(logging.Discard(), WithTraffic(traffic))

	p := newPatient()
	p.ETA = scheduler.MustQuantiles(1, 2, 3)
	p.Duration = scheduler.MustQuantiles(10, 11, 12)
	got := s.Enrich(context.Background(), p, &clinic)

	assert.Equal(t, p.ETA, got.ETA)
	assert.Equal(t, p.Duration, got.Duration)
	assert.Zero(t, traffic.calls)
}

func TestEnrichFallsBackOnProviderFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewSchedulerMetrics(reg)
	s := NewService(logging.Discard(),
		WithTraffic(&fakeTraffic{block: true}),
		WithWeather(fakeWeather{err: errors.New("boom")}),
		WithHistory(&fakeHistory{err: errors.New("db down")}),
		WithMetrics(m),
		WithTimeout(10*time.Millisecond),
	)

	got := s.Enrich(context.Background(), newPatient(), &clinic)
	prior := PredictETA(ETAInput{DistanceKm: got.DistanceKm, Punctuality: 0.5}, nil)
	assert.Equal(t, prior, got.ETA)
	assert.Equal(t, 15.0, got.Duration.P50())

	families, err := reg.Gather()
	require.NoError(t, err)
	reasons := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "scheduler_prediction_fallbacks_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			key := ""
			for _, lp := range metric.GetLabel() {
				key += lp.GetValue() + "/"
			}
			reasons[key] = metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{"history/error/": 1, "traffic/timeout/": 1, "weather/error/": 1}, reasons)
}

func TestEnrichUsesHistoryLookback(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	hist := &fakeHistory{data: scheduler.HistoricalData{
		Durations: durations("doc-1", "followup", 10, 10, 10),
	}}
	s := NewService(logging.Discard(), WithHistory(hist), WithLookback(48*time.Hour), withClock(func() time.Time { return now }))

	got := s.Enrich(context.Background(), newPatient(), nil)
	assert.Equal(t, 10.0, got.Duration.P50())
	assert.Equal(t, now.Add(-48*time.Hour), hist.since)
}

func TestEnrichUsesOtherDoctorsForTheSameReason(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	own := durations("doc-1", "followup", 40)
	own[0].PatientID, own[0].RecordedAt = "p0", at
	var others []scheduler.DurationRecord
	for i, id := range []string{"a", "b", "c"} {
		others = append(others, scheduler.DurationRecord{
			PatientID:     id,
			DoctorID:      "doc-2",
			Reason:        "retorno",
			ActualMinutes: 12,
			RecordedAt:    at.Add(time.Duration(i) * time.Hour),
		})
	}
	// the doctor's own row comes back from the cross-doctor query too
	others = append(others, own[0])

	hist := &fakeHistory{
		data:     scheduler.HistoricalData{Durations: own},
		byReason: others,
	}
	s := NewService(logging.Discard(), WithHistory(hist))

	got := s.Enrich(context.Background(), newPatient(), nil)
	assert.Equal(t, 12.0, got.Duration.P50(), "one own sample is too few, so the reason tier decides")
	assert.Contains(t, hist.reasons, "followup")
	assert.Contains(t, hist.reasons, "retorno")
	assert.Contains(t, hist.reasons, "follow-up")
}

func TestEnrichKeepsDoctorHistoryWhenReasonQueryFails(t *testing.T) {
	hist := &fakeHistory{
		data:      scheduler.HistoricalData{Durations: durations("doc-1", "followup", 10, 10, 10)},
		reasonErr: errors.New("timeout"),
	}
	s := NewService(logging.Discard(), WithHistory(hist))

	got := s.Enrich(context.Background(), newPatient(), nil)
	assert.Equal(t, 10.0, got.Duration.P50())
}

func TestEnrichClassifiesMissingPriority(t *testing.T) {
	s := NewService(logging.Discard())
	p := newPatient()
	p.Priority = 0
	p.Reason = "chest pain"
	got := s.Enrich(context.Background(), p, nil)
	assert.Equal(t, scheduler.PriorityEmergency, got.Priority)
}

func TestMergeDurationsDropsRowsSeenTwice(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	own := []scheduler.DurationRecord{{PatientID: "p1", DoctorID: "doc-1", ActualMinutes: 20, RecordedAt: at}}
	all := []scheduler.DurationRecord{
		{PatientID: "p1", DoctorID: "doc-1", ActualMinutes: 20, RecordedAt: at.In(time.FixedZone("BRT", -3*60*60))},
		{PatientID: "p2", DoctorID: "doc-2", ActualMinutes: 25, RecordedAt: at},
	}

	merged := mergeDurations(own, all)
	require.Len(t, merged, 2)
	assert.Equal(t, "p2", merged[1].PatientID)
	assert.Equal(t, own, mergeDurations(own, nil))
}
