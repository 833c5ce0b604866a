package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/observability/metrics"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/optimizer"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/pkg/logging"
)

// ErrManagerNotStarted is returned when events are dispatched before Start.
var ErrManagerNotStarted = errors.New("engine: manager not started")

const dayLayout = "2006-01-02"

// DoctorConfigFunc supplies the clinic configuration of a doctor's day when no
// snapshot or roster provides one.
type DoctorConfigFunc func(doctorID string, day time.Time) scheduler.DoctorConfig

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithProcessorOptions are applied to every processor the manager creates.
func WithProcessorOptions(opts ...ProcessorOption) ManagerOption {
	return func(m *Manager) { m.procOpts = append(m.procOpts, opts...) }
}

// WithSnapshots resumes days from store and keeps them saved there.
func WithSnapshots(store StateStore) ManagerOption {
	return func(m *Manager) { m.store = store }
}

func WithArchiver(a Archiver) ManagerOption {
	return func(m *Manager) { m.archiver = a }
}

func WithManagerMetrics(mt *metrics.SchedulerMetrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

// WithLocation sets the clinic time zone used to derive days from timestamps.
func WithLocation(loc *time.Location) ManagerOption {
	return func(m *Manager) {
		if loc != nil {
			m.loc = loc
		}
	}
}

func WithDoctorConfig(f DoctorConfigFunc) ManagerOption {
	return func(m *Manager) { m.doctorConfig = f }
}

// WithDayCloseInterval makes Start close past days periodically.
func WithDayCloseInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.closeEvery = d }
}

// WithManagerClock overrides the wall clock used to decide which days are past.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

type processorEntry struct {
	proc   *Processor
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager routes events to one Processor per doctor and clinic day, creating
// processors on first use.
type Manager struct {
	optimizer    *optimizer.Optimizer
	params       scheduler.Params
	procOpts     []ProcessorOption
	store        StateStore
	archiver     Archiver
	metrics      *metrics.SchedulerMetrics
	loc          *time.Location
	doctorConfig DoctorConfigFunc
	closeEvery   time.Duration
	now          func() time.Time
	logger       *logging.Logger

	mu         sync.Mutex
	ctx        context.Context
	group      *errgroup.Group
	processors map[string]*processorEntry
}

func NewManager(opt *optimizer.Optimizer, params scheduler.Params, logger *logging.Logger, opts ...ManagerOption) *Manager {
	if opt == nil {
		panic("engine: optimizer cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	m := &Manager{
		optimizer: opt,
		params:    params,
		loc:       time.UTC,
		doctorConfig: func(_ string, day time.Time) scheduler.DoctorConfig {
			return scheduler.DefaultDoctorConfig(day)
		},
		now:        time.Now,
		logger:     logger,
		processors: make(map[string]*processorEntry),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start arms the manager. Processors run until ctx is cancelled; Wait blocks
// until all of them have returned.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.group != nil {
		return
	}
	m.group, m.ctx = errgroup.WithContext(ctx)

	if m.closeEvery > 0 {
		m.group.Go(func() error {
			ticker := time.NewTicker(m.closeEvery)
			defer ticker.Stop()
			for {
				select {
				case <-m.ctx.Done():
					return nil
				case <-ticker.C:
					if _, err := m.CloseDays(m.ctx, m.now()); err != nil {
						m.logger.Warn("failed to close past days", "error", err)
					}
				}
			}
		})
	}
	m.logger.Info("scheduler manager started", "location", m.loc.String())
}

// Wait blocks until every processor has stopped.
func (m *Manager) Wait() error {
	m.mu.Lock()
	g := m.group
	m.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Day returns the clinic day key of t.
func (m *Manager) Day(t time.Time) string {
	return t.In(m.loc).Format(dayLayout)
}

// Dispatch routes ev to the processor of its doctor and day.
func (m *Manager) Dispatch(ctx context.Context, ev scheduler.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	proc, err := m.processor(ctx, ev.DoctorID, m.Day(ev.Timestamp))
	if err != nil {
		return err
	}
	return proc.Submit(ctx, ev)
}

// LoadRoster merges a booking roster into its doctor-day. An empty day means
// today.
func (m *Manager) LoadRoster(ctx context.Context, r Roster) error {
	if r.DoctorID == "" {
		return fmt.Errorf("%w: roster without doctor", scheduler.ErrInvalidEvent)
	}
	if r.Day == "" {
		r.Day = m.Day(m.now())
	}
	if _, err := time.ParseInLocation(dayLayout, r.Day, m.loc); err != nil {
		return fmt.Errorf("%w: roster day %q", scheduler.ErrInvalidEvent, r.Day)
	}
	proc, err := m.processor(ctx, r.DoctorID, r.Day)
	if err != nil {
		return err
	}
	return proc.LoadRoster(ctx, r)
}

// Processor returns the running processor of a doctor-day, if any.
func (m *Manager) Processor(doctorID, day string) (*Processor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.processors[processorKey(doctorID, day)]
	if !ok {
		return nil, false
	}
	return e.proc, true
}

func processorKey(doctorID, day string) string {
	return doctorID + "|" + day
}

func (m *Manager) processor(ctx context.Context, doctorID, day string) (*Processor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.group == nil {
		return nil, ErrManagerNotStarted
	}
	key := processorKey(doctorID, day)
	if e, ok := m.processors[key]; ok {
		return e.proc, nil
	}

	proc, err := m.newProcessor(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithCancel(m.ctx)
	e := &processorEntry{proc: proc, cancel: cancel, done: make(chan struct{})}
	m.processors[key] = e
	m.group.Go(func() error {
		defer close(e.done)
		return proc.Run(pctx)
	})
	m.metrics.SetActiveProcessors(len(m.processors))
	return proc, nil
}

// newProcessor resumes the day from the snapshot store when possible.
func (m *Manager) newProcessor(ctx context.Context, doctorID, day string) (*Processor, error) {
	midnight, err := time.ParseInLocation(dayLayout, day, m.loc)
	if err != nil {
		return nil, fmt.Errorf("engine: parse day %q: %w", day, err)
	}

	opts := append([]ProcessorOption(nil), m.procOpts...)
	var state *scheduler.State
	if m.store != nil {
		opts = append(opts, WithStateStore(m.store))
		if state, err = m.store.LoadState(ctx, doctorID, day); err != nil {
			m.logger.Warn("failed to load state snapshot, starting fresh", "doctor_id", doctorID, "day", day, "error", err)
			state = nil
		}
		if state != nil {
			committed, err := m.store.LoadSchedule(ctx, doctorID, day)
			if err != nil {
				m.logger.Warn("failed to load committed schedule", "doctor_id", doctorID, "day", day, "error", err)
			}
			if committed != nil {
				opts = append(opts, WithCommitted(committed))
			}
		}
	}
	resumed := state != nil
	if state == nil {
		s := scheduler.NewState(doctorID, midnight, m.doctorConfig(doctorID, midnight))
		state = &s
	}
	m.logger.Info("processor created", "doctor_id", doctorID, "day", day, "resumed", resumed)
	return NewProcessor(*state, m.optimizer, m.params, m.logger, opts...), nil
}

// Stats lists every running processor ordered by doctor and day.
func (m *Manager) Stats(ctx context.Context) []Stats {
	m.mu.Lock()
	procs := make([]*Processor, 0, len(m.processors))
	for _, e := range m.processors {
		procs = append(procs, e.proc)
	}
	m.mu.Unlock()

	out := make([]Stats, 0, len(procs))
	for _, p := range procs {
		out = append(out, p.Stats(ctx))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DoctorID != out[j].DoctorID {
			return out[i].DoctorID < out[j].DoctorID
		}
		return out[i].Day < out[j].Day
	})
	return out
}

// CloseDays stops every processor whose day is before the clinic day of now,
// archives its final state and drops the snapshot. It returns how many days
// were closed.
func (m *Manager) CloseDays(ctx context.Context, now time.Time) (int, error) {
	today := m.Day(now)

	m.mu.Lock()
	var closing []*processorEntry
	for key, e := range m.processors {
		if e.proc.day < today {
			closing = append(closing, e)
			delete(m.processors, key)
		}
	}
	m.metrics.SetActiveProcessors(len(m.processors))
	m.mu.Unlock()

	var errs []error
	for _, e := range closing {
		if err := m.closeDay(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return len(closing), errors.Join(errs...)
}

func (m *Manager) closeDay(ctx context.Context, e *processorEntry) error {
	e.cancel()
	select {
	case <-e.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	p := e.proc
	rec := DayRecord{
		DoctorID: p.doctorID,
		Day:      p.day,
		State:    p.State(),
		Schedule: p.Committed(),
		Stats:    p.Stats(ctx),
	}
	if m.archiver != nil {
		if err := m.archiver.ArchiveDay(ctx, rec); err != nil {
			return fmt.Errorf("engine: archive %s: %w", p.Key(), err)
		}
	}
	if m.store != nil {
		if err := m.store.Delete(ctx, p.doctorID, p.day); err != nil {
			return fmt.Errorf("engine: delete snapshot %s: %w", p.Key(), err)
		}
	}
	m.metrics.ForgetDoctor(p.doctorID)
	m.logger.Info("day closed", "doctor_id", p.doctorID, "day", p.day, "optimizations", rec.Stats.OptimizationsTotal)
	return nil
}
