package prediction

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/observability/metrics"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/pkg/logging"
)

const (
	defaultProviderTimeout = 2 * time.Second
	defaultLookback        = 30 * 24 * time.Hour
)

// HistorySource loads calibration data: everything recorded for one doctor,
// and consultations of all doctors for a set of reasons.
type HistorySource interface {
	LoadHistoricalData(ctx context.Context, doctorID string, since time.Time) (scheduler.HistoricalData, error)
	LoadReasonDurations(ctx context.Context, reasons []string, since time.Time) ([]scheduler.DurationRecord, error)
}

// Service fills in the predictive fields of ingested patients. Every external
// failure degrades to priors; Enrich never fails.
type Service struct {
	traffic    TrafficProvider
	weather    WeatherProvider
	history    HistorySource
	classifier *PriorityClassifier
	metrics    *metrics.SchedulerMetrics
	logger     *logging.Logger
	timeout    time.Duration
	lookback   time.Duration
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithTraffic(p TrafficProvider) Option { return func(s *Service) { s.traffic = p } }
func WithWeather(p WeatherProvider) Option { return func(s *Service) { s.weather = p } }
func WithHistory(h HistorySource) Option   { return func(s *Service) { s.history = h } }

func WithMetrics(m *metrics.SchedulerMetrics) Option { return func(s *Service) { s.metrics = m } }

// WithTimeout bounds each provider call.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLookback sets how far back history is loaded.
func WithLookback(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lookback = d
		}
	}
}

func withClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(logger *logging.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		classifier: NewPriorityClassifier(),
		logger:     logger,
		timeout:    defaultProviderTimeout,
		lookback:   defaultLookback,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Classifier exposes the triage rules used for patients without a priority.
func (s *Service) Classifier() *PriorityClassifier {
	return s.classifier
}

// Enrich returns a copy of p with missing distance, priority, ETA and duration
// filled in.
func (s *Service) Enrich(ctx context.Context, p scheduler.Patient, doctorLocation *scheduler.LatLng) scheduler.Patient {
	ctx, span := tracer.Start(ctx, "prediction.enrich")
	defer span.End()
	span.SetAttributes(attribute.String("patient_id", p.ID), attribute.String("doctor_id", p.DoctorID))

	out := p.Clone()
	if out.DistanceKm == 0 && out.Origin != nil && doctorLocation != nil {
		out.DistanceKm = haversineKm(*out.Origin, *doctorLocation)
	}
	if !out.Priority.Valid() {
		c := s.classifier.ClassifyPatient(out)
		out.Priority = c.Priority
		s.logger.Debug("priority classified", "patient_id", out.ID, "priority", c.Priority.String(), "confidence", c.Confidence)
	}
	if !out.ETA.IsZero() && !out.Duration.IsZero() {
		return out
	}

	hist := s.loadHistory(ctx, out.DoctorID)
	if out.ETA.IsZero() {
		out.ETA = PredictETA(ETAInput{
			Origin:            out.Origin,
			DoctorLocation:    doctorLocation,
			DistanceKm:        out.DistanceKm,
			Mode:              out.Mode,
			Punctuality:       out.PunctualityScore,
			TrafficMultiplier: s.travelMultiplier(ctx, out, doctorLocation),
		}, hist.Arrivals)
	}
	if out.Duration.IsZero() {
		durations := mergeDurations(hist.Durations, s.loadReasonDurations(ctx, out.Reason))
		out.Duration = PredictDuration(DurationInput{
			Reason:          out.Reason,
			DoctorID:        out.DoctorID,
			Characteristics: out.Characteristics,
		}, durations)
	}
	return out
}

func (s *Service) loadHistory(ctx context.Context, doctorID string) scheduler.HistoricalData {
	if s.history == nil {
		return scheduler.HistoricalData{}
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	hist, err := s.history.LoadHistoricalData(ctx, doctorID, s.now().Add(-s.lookback))
	if err != nil {
		s.fallback("history", err)
		return scheduler.HistoricalData{}
	}
	return hist
}

func (s *Service) loadReasonDurations(ctx context.Context, reason string) []scheduler.DurationRecord {
	if s.history == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	recs, err := s.history.LoadReasonDurations(ctx, ReasonVariants(reason), s.now().Add(-s.lookback))
	if err != nil {
		s.fallback("history", err)
		return nil
	}
	return recs
}

// mergeDurations joins the doctor's own samples with the cross-doctor ones,
// dropping rows present in both.
func mergeDurations(own, all []scheduler.DurationRecord) []scheduler.DurationRecord {
	if len(all) == 0 {
		return own
	}
	type key struct {
		patient, doctor string
		at              time.Time
	}
	seen := make(map[key]bool, len(own))
	out := make([]scheduler.DurationRecord, 0, len(own)+len(all))
	for _, r := range own {
		seen[key{r.PatientID, r.DoctorID, r.RecordedAt.UTC()}] = true
		out = append(out, r)
	}
	for _, r := range all {
		k := key{r.PatientID, r.DoctorID, r.RecordedAt.UTC()}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

// travelMultiplier combines live traffic and weather into one delay factor.
func (s *Service) travelMultiplier(ctx context.Context, p scheduler.Patient, dest *scheduler.LatLng) float64 {
	if p.Origin == nil || dest == nil {
		return 1
	}
	m := 1.0
	if s.traffic != nil {
		tctx, cancel := context.WithTimeout(ctx, s.timeout)
		est, err := s.traffic.ETA(tctx, *p.Origin, *dest, p.Mode)
		cancel()
		if err != nil {
			s.fallback("traffic", err)
		} else {
			m = est.Multiplier()
		}
	}
	if s.weather != nil {
		wctx, cancel := context.WithTimeout(ctx, s.timeout)
		cond, err := s.weather.CurrentConditions(wctx, *p.Origin)
		cancel()
		if err != nil {
			s.fallback("weather", err)
		} else {
			m *= cond.Multiplier()
		}
	}
	return clamp(m, minTrafficFactor, maxTrafficFactor)
}

func (s *Service) fallback(provider string, err error) {
	reason := "error"
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "timeout"
	}
	s.metrics.ObservePredictionFallback(provider, reason)
	s.logger.Warn("prediction provider failed, using priors", "provider", provider, "error", err)
}
