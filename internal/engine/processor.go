package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/observability/metrics"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/optimizer"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/prediction"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/simulation"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/pkg/logging"
)

// ErrProcessorStopped is returned by Submit after Run has returned.
var ErrProcessorStopped = errors.New("engine: processor stopped")

const (
	defaultBatchSize = 5
	defaultInboxSize = 256
)

// Phase is where a processor is in its cycle.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseProcessing   Phase = "processing"
	PhaseReoptimizing Phase = "reoptimizing"
	PhaseStopped      Phase = "stopped"
)

// Stats is a point-in-time view of a processor.
type Stats struct {
	DoctorID              string     `json:"doctor_id"`
	Day                   string     `json:"day"`
	Phase                 Phase      `json:"phase"`
	QueuedEvents          int        `json:"events_in_queue"`
	EventsProcessed       int        `json:"events_processed"`
	EventsRejected        int        `json:"events_rejected"`
	DeferredPending       bool       `json:"deferred_pending"`
	DeferredUntil         *time.Time `json:"deferred_until,omitempty"`
	OptimizationsLastHour int        `json:"optimizations_last_hour"`
	OptimizationsTotal    int        `json:"optimizations_count"`
	LastOptimization      *time.Time `json:"last_optimization,omitempty"`
	CurrentPatients       int        `json:"current_patients"`
	CurrentConsultation   string     `json:"current_consultation,omitempty"`
}

// command is one inbox item: an event or a roster load.
type command struct {
	event  *scheduler.Event
	roster *Roster
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

func WithThrottle(t Throttle) ProcessorOption { return func(p *Processor) { p.throttle = t } }
func WithSink(s Sink) ProcessorOption { return func(p *Processor) { p.sink = s } }
func WithRecorder(r Recorder) ProcessorOption { return func(p *Processor) { p.recorder = r } }
func WithStateStore(s StateStore) ProcessorOption { return func(p *Processor) { p.store = s } }

func WithMetrics(m *metrics.SchedulerMetrics) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

// WithRiskAssessment simulates every candidate schedule before it is emitted.
// Schedules outside limits are still emitted, with a warning.
func WithRiskAssessment(r RiskAssessor, scenarios int, limits simulation.Limits) ProcessorOption {
	return func(p *Processor) {
		p.risk, p.scenarios, p.limits = r, scenarios, limits
	}
}

// WithEscalation raises the priority of patients who have waited too long.
func WithEscalation(c *prediction.PriorityClassifier) ProcessorOption {
	return func(p *Processor) { p.classifier = c }
}

// WithBatchSize sets how many queued commands are applied per pass.
func WithBatchSize(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithCommitted seeds the committed schedule, e.g. after a restart.
func WithCommitted(s *scheduler.OptimizedSchedule) ProcessorOption {
	return func(p *Processor) { p.committed = s }
}

// WithClock overrides the wall clock used for throttling.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

// Processor is the only writer of one doctor-day state. Commands are applied
// in arrival order by Run; optimization reads a snapshot, so commands that
// arrive mid-run wait in the inbox and are applied by the next pass.
type Processor struct {
	doctorID string
	day      string

	optimizer  *optimizer.Optimizer
	params     scheduler.Params
	throttle   Throttle
	sink       Sink
	recorder   Recorder
	store      StateStore
	risk       RiskAssessor
	scenarios  int
	limits     simulation.Limits
	classifier *prediction.PriorityClassifier
	metrics    *metrics.SchedulerMetrics
	logger     *logging.Logger
	now        func() time.Time
	batchSize  int

	inbox chan command
	done  chan struct{}
	once  sync.Once

	mu            sync.RWMutex
	state         scheduler.State
	committed     *scheduler.OptimizedSchedule
	phase         Phase
	deferred      bool
	deferredEvent *scheduler.Event
	deferredUntil time.Time
	lastRun       time.Time
	runs          int
	processed     int
	rejected      int
}

// NewProcessor takes ownership of state. Without WithThrottle the processor
// keeps its own in-memory window.
func NewProcessor(state scheduler.State, opt *optimizer.Optimizer, params scheduler.Params, logger *logging.Logger, opts ...ProcessorOption) *Processor {
	if opt == nil {
		panic("engine: optimizer cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	p := &Processor{
		doctorID:  state.DoctorID,
		day:       state.Day(),
		optimizer: opt,
		params:    params,
		logger:    logger,
		now:       time.Now,
		batchSize: defaultBatchSize,
		limits:    simulation.DefaultLimits(),
		inbox:     make(chan command, defaultInboxSize),
		done:      make(chan struct{}),
		state:     state.Clone(),
		phase:     PhaseIdle,
	}
	for _, o := range opts {
		o(p)
	}
	if p.throttle == nil {
		p.throttle = NewMemoryThrottle()
	}
	p.logger = p.logger.With("doctor_id", p.doctorID, "day", p.day)
	return p
}

// Key identifies the doctor-day, also used as the throttle key.
func (p *Processor) Key() string {
	return p.doctorID + ":" + p.day
}

// Submit queues an event. It blocks while the inbox is full.
func (p *Processor) Submit(ctx context.Context, ev scheduler.Event) error {
	return p.enqueue(ctx, command{event: &ev})
}

// LoadRoster queues a booking roster merge followed by a re-optimization.
func (p *Processor) LoadRoster(ctx context.Context, r Roster) error {
	return p.enqueue(ctx, command{roster: &r})
}

func (p *Processor) enqueue(ctx context.Context, cmd command) error {
	select {
	case <-p.done:
		return ErrProcessorStopped
	default:
	}
	select {
	case p.inbox <- cmd:
		return nil
	case <-p.done:
		return ErrProcessorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run applies queued commands until ctx is cancelled. A deferred
// re-optimization fires once the throttle window allows it.
func (p *Processor) Run(ctx context.Context) error {
	defer p.once.Do(func() {
		p.setPhase(PhaseStopped)
		close(p.done)
	})
	p.logger.Debug("processor started")

	for {
		var fire <-chan time.Time
		var timer *time.Timer
		if at, ok := p.deferredAt(); ok {
			timer = time.NewTimer(max(0, at.Sub(p.now())))
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			p.logger.Debug("processor stopping")
			return nil
		case cmd := <-p.inbox:
			batch := []command{cmd}
		drain:
			for len(batch) < p.batchSize {
				select {
				case next := <-p.inbox:
					batch = append(batch, next)
				default:
					break drain
				}
			}
			p.process(ctx, batch)
		case <-fire:
			p.runDeferred(ctx)
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// process applies a batch and re-optimizes at most once for it. When several
// events in the batch trigger, the last one is used, except that an
// emergency insert is never superseded by a lesser trigger.
func (p *Processor) process(ctx context.Context, batch []command) {
	p.setPhase(PhaseProcessing)
	defer p.setPhase(PhaseIdle)

	var trigger *scheduler.Event
	triggered := false
	for _, cmd := range batch {
		switch {
		case cmd.roster != nil:
			if p.applyRoster(*cmd.roster) {
				triggered = true
			}
		case cmd.event != nil:
			ev := *cmd.event
			if p.applyEvent(ctx, ev) {
				triggered = true
				trigger = strongerTrigger(trigger, &ev)
			}
		}
	}
	p.saveState(ctx)
	if triggered {
		p.reoptimize(ctx, trigger)
	}
}

func strongerTrigger(current, next *scheduler.Event) *scheduler.Event {
	if isEmergency(current) && !isEmergency(next) {
		return current
	}
	return next
}

func isEmergency(ev *scheduler.Event) bool {
	return ev != nil && ev.Type() == scheduler.EventEmergencyInsert
}

func (p *Processor) applyRoster(r Roster) bool {
	p.mu.Lock()
	n, err := applyRoster(&p.state, r)
	p.mu.Unlock()
	if err != nil {
		p.logger.Warn("roster rejected", "error", err)
		return false
	}
	p.logger.Info("roster loaded", "patients", n)
	return true
}

// applyEvent applies ev and reports whether it calls for a re-optimization.
func (p *Processor) applyEvent(ctx context.Context, ev scheduler.Event) bool {
	eventType := ev.Type().String()

	p.mu.Lock()
	res, err := applyEvent(&p.state, ev, p.params, p.committed.Order())
	if err != nil {
		p.rejected++
	} else {
		p.processed++
	}
	p.mu.Unlock()

	if err != nil {
		p.metrics.ObserveEvent(eventType, "rejected")
		p.logger.Warn("event rejected", "event_id", ev.ID, "event_type", eventType, "error", err)
		return false
	}
	p.record(ctx, ev, res)

	trigger := res.always || res.impact > p.params.ReoptimizeThresholdMinutes
	outcome := "applied"
	if trigger {
		outcome = "triggered"
	}
	p.metrics.ObserveEvent(eventType, outcome)
	p.logger.Debug("event applied", "event_id", ev.ID, "event_type", eventType, "impact_minutes", res.impact, "trigger", trigger)
	return trigger
}

func (p *Processor) record(ctx context.Context, ev scheduler.Event, res applied) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.AppendEvent(ctx, ev); err != nil {
		p.logger.Warn("failed to append event", "event_id", ev.ID, "error", err)
	}
	var err error
	switch {
	case res.arrival != nil:
		err = p.recorder.RecordArrival(ctx, *res.arrival)
	case res.duration != nil:
		err = p.recorder.RecordConsultation(ctx, *res.duration)
	case res.noShow != nil:
		err = p.recorder.RecordNoShow(ctx, *res.noShow)
	}
	if err != nil {
		p.logger.Warn("failed to record calibration sample", "event_id", ev.ID, "error", err)
	}
}

// reoptimize runs the optimizer if the throttle allows it. Otherwise the run
// is deferred to the next free slot, replacing any earlier deferred trigger.
func (p *Processor) reoptimize(ctx context.Context, trigger *scheduler.Event) {
	now := p.now()
	res := p.throttle.Reserve(ctx, p.Key(), now, p.params.MaxReoptimizationsPerHour)
	if !res.Allowed {
		p.mu.Lock()
		if p.deferred {
			trigger = strongerTrigger(p.deferredEvent, trigger)
		}
		p.deferred, p.deferredEvent, p.deferredUntil = true, trigger, res.RetryAt
		p.mu.Unlock()
		p.metrics.ObserveDeferred()
		p.logger.Info("reoptimization deferred", "retry_at", res.RetryAt, "runs_in_window", res.Count)
		return
	}

	p.mu.Lock()
	p.deferred, p.deferredEvent, p.deferredUntil = false, nil, time.Time{}
	p.lastRun = now
	p.runs++
	p.mu.Unlock()

	p.optimize(ctx, trigger)
}

func (p *Processor) deferredAt() (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.deferredUntil, p.deferred
}

// runDeferred fires a pending re-optimization if its slot has come.
func (p *Processor) runDeferred(ctx context.Context) {
	p.mu.RLock()
	pending, trigger, until := p.deferred, p.deferredEvent, p.deferredUntil
	p.mu.RUnlock()
	now := p.now()
	if !pending || now.Before(until) {
		return
	}
	p.advanceClock(now)
	p.reoptimize(ctx, trigger)
}

// advanceClock moves the state's current time forward to t. Deferred runs
// have no event timestamp to take it from.
func (p *Processor) advanceClock(t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t.After(p.state.CurrentTime) {
		p.state.CurrentTime = t
	}
}

func (p *Processor) optimize(ctx context.Context, trigger *scheduler.Event) {
	p.setPhase(PhaseReoptimizing)
	defer p.setPhase(PhaseIdle)
	label := "roster"
	if trigger != nil {
		label = trigger.Type().String()
	}
	ctx, span := tracer.Start(ctx, "engine.reoptimize")
	defer span.End()
	span.SetAttributes(attribute.String("doctor_id", p.doctorID), attribute.String("trigger", label))

	p.escalate()
	p.mu.RLock()
	snapshot := p.state.Clone()
	previous := p.committed
	p.mu.RUnlock()

	started := time.Now()
	sched, err := p.optimizer.Optimize(ctx, optimizer.Request{
		State:    snapshot,
		Params:   p.params,
		Previous: previous,
		Trigger:  trigger,
	})
	elapsed := time.Since(started).Seconds()
	if err != nil {
		span.RecordError(err)
		p.metrics.ObserveReoptimization(label, "error", elapsed)
		p.logger.Error("reoptimization failed", "trigger", label, "error", err)
		return
	}
	if previous != nil && sched.SameAs(previous) {
		p.metrics.ObserveReoptimization(label, "noop", elapsed)
		p.logger.Debug("reoptimization produced no change", "trigger", label)
		return
	}

	var risk *simulation.Result
	if p.risk != nil {
		risk, err = p.risk.Run(ctx, sched, snapshot, p.scenarios)
		switch {
		case err != nil:
			p.logger.Warn("risk assessment failed", "error", err)
			risk = nil
		default:
			if ok, reasons := simulation.Acceptable(risk, p.limits); !ok {
				p.logger.Warn("simulated schedule outside limits", "reasons", reasons)
			}
		}
	}

	p.commit(sched)
	p.metrics.ObserveReoptimization(label, "emitted", elapsed)
	p.metrics.SetScheduleQuality(p.doctorID, sched.Metrics.TotalCost, sched.Metrics.EmergencySLACompliance)
	span.SetAttributes(attribute.Int("changes", len(sched.Changes)))
	p.logger.Info("schedule updated",
		"trigger", label,
		"changes", len(sched.Changes),
		"total_cost", sched.Metrics.TotalCost,
		"expected_overtime", sched.Metrics.ExpectedOvertime,
	)

	p.saveState(ctx)
	if p.store != nil {
		if err := p.store.SaveSchedule(ctx, p.day, sched); err != nil {
			p.logger.Warn("failed to save schedule", "error", err)
		}
	}
	if p.sink != nil {
		u := Update{DoctorID: p.doctorID, Day: p.day, Schedule: sched.Clone(), Risk: risk, Trigger: trigger}
		if err := p.sink.Publish(ctx, u); err != nil {
			p.logger.Error("failed to publish schedule", "error", err)
		}
	}
}

// commit installs sched and carries its reschedule counts into the state.
func (p *Processor) commit(sched *scheduler.OptimizedSchedule) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, planned := range sched.Sequence {
		cur, _, ok := p.state.Find(planned.ID)
		if ok && planned.CurrentReschedules > cur.CurrentReschedules {
			cur.CurrentReschedules = planned.CurrentReschedules
			p.state.Update(cur)
		}
	}
	p.committed = sched
}

// escalate bumps the priority of waiting patients per the classifier.
func (p *Processor) escalate() {
	if p.classifier == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.state.WaitingQueue {
		if w.ArrivedAt == nil {
			continue
		}
		waited := scheduler.MinutesBetween(*w.ArrivedAt, p.state.CurrentTime)
		if next := p.classifier.Reclassify(w.Priority, waited); next != w.Priority {
			p.logger.Info("priority escalated", "patient_id", w.ID, "from", w.Priority.String(), "to", next.String(), "waited_minutes", waited)
			w.Priority = next
			p.state.Update(w)
		}
	}
}

func (p *Processor) saveState(ctx context.Context) {
	if p.store == nil {
		return
	}
	if err := p.store.SaveState(ctx, p.State()); err != nil {
		p.logger.Warn("failed to save state", "error", err)
	}
}

func (p *Processor) setPhase(ph Phase) {
	p.mu.Lock()
	p.phase = ph
	p.mu.Unlock()
}

// State returns a copy of the live state.
func (p *Processor) State() scheduler.State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.Clone()
}

// Committed returns a copy of the last emitted schedule, or nil.
func (p *Processor) Committed() *scheduler.OptimizedSchedule {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.committed.Clone()
}

// Stats reports the processor's current counters.
func (p *Processor) Stats(ctx context.Context) Stats {
	lastHour := p.throttle.Count(ctx, p.Key(), p.now())

	p.mu.RLock()
	defer p.mu.RUnlock()
	st := Stats{
		DoctorID:              p.doctorID,
		Day:                   p.day,
		Phase:                 p.phase,
		QueuedEvents:          len(p.inbox),
		EventsProcessed:       p.processed,
		EventsRejected:        p.rejected,
		DeferredPending:       p.deferred,
		OptimizationsLastHour: lastHour,
		OptimizationsTotal:    p.runs,
		CurrentPatients:       len(p.state.WaitingQueue) + len(p.state.ScheduledQueue),
	}
	if p.deferred {
		until := p.deferredUntil
		st.DeferredUntil = &until
	}
	if !p.lastRun.IsZero() {
		last := p.lastRun
		st.LastOptimization = &last
	}
	if c := p.state.CurrentConsultation; c != nil {
		st.CurrentConsultation = c.Patient.ID
	}
	return st
}

func (p *Processor) String() string {
	return fmt.Sprintf("processor(%s)", p.Key())
}
