package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/engine"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/observability/metrics"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/pkg/logging"
)

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultReceiveBatch  = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

// Router hands work to the engine; *engine.Manager implements it.
type Router interface {
	Dispatch(ctx context.Context, ev scheduler.Event) error
	LoadRoster(ctx context.Context, r engine.Roster) error
}

// Enricher fills in predicted fields of incoming patients.
type Enricher interface {
	Enrich(ctx context.Context, p scheduler.Patient, doctorLocation *scheduler.LatLng) scheduler.Patient
}

type consumerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	deduper          Deduper
	enricher         Enricher
	doctorLocation   *scheduler.LatLng
	metrics          *metrics.SchedulerMetrics
}

type ConsumerOption func(*consumerConfig)

func WithWorkerCount(count int) ConsumerOption {
	return func(c *consumerConfig) {
		if count > 0 {
			c.workers = count
		}
	}
}

func WithReceiveWaitSeconds(seconds int) ConsumerOption {
	return func(c *consumerConfig) {
		if seconds >= 0 {
			c.receiveWaitSecs = min(seconds, maxWaitSeconds)
		}
	}
}

func WithReceiveBatchSize(size int) ConsumerOption {
	return func(c *consumerConfig) {
		if size > 0 {
			c.receiveBatchSize = min(size, maxReceiveBatchSize)
		}
	}
}

func WithDeduper(d Deduper) ConsumerOption {
	return func(c *consumerConfig) { c.deduper = d }
}

// WithEnricher runs emergency and roster patients through the predictors
// before they reach the engine.
func WithEnricher(e Enricher, doctorLocation *scheduler.LatLng) ConsumerOption {
	return func(c *consumerConfig) {
		c.enricher = e
		c.doctorLocation = doctorLocation
	}
}

func WithConsumerMetrics(m *metrics.SchedulerMetrics) ConsumerOption {
	return func(c *consumerConfig) { c.metrics = m }
}

// Consumer drains the inbound queue into a Router.
type Consumer struct {
	queue  Queue
	router Router
	logger *logging.Logger
	cfg    consumerConfig
	wg     sync.WaitGroup
}

func NewConsumer(queue Queue, router Router, logger *logging.Logger, opts ...ConsumerOption) *Consumer {
	if queue == nil {
		panic("dispatch: queue cannot be nil")
	}
	if router == nil {
		panic("dispatch: router cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := consumerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultReceiveBatch,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Consumer{queue: queue, router: router, logger: logger, cfg: cfg}
}

// Start launches the receive loops. They stop when ctx is canceled.
func (c *Consumer) Start(ctx context.Context) {
	for i := 0; i < c.cfg.workers; i++ {
		c.wg.Add(1)
		go c.run(ctx, i+1)
	}
}

// Wait blocks until all receive loops exit.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) run(ctx context.Context, workerID int) {
	defer c.wg.Done()
	c.logger.Debug("scheduler consumer started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("scheduler consumer stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := c.queue.Receive(ctx, c.cfg.receiveBatchSize, c.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Error("failed to receive scheduler messages", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			c.handleMessage(ctx, msg)
		}
	}
}

// handleMessage acknowledges everything except messages the engine could not
// take because it is shutting down; those are redelivered.
func (c *Consumer) handleMessage(ctx context.Context, msg Message) {
	in, err := decodeInbound(msg.Body)
	if err != nil {
		c.logger.Error("dropping undecodable scheduler message", "msg_id", msg.ID, "error", err)
		c.cfg.metrics.ObserveQueueMessage("malformed")
		c.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}
	if err := validate(in); err != nil {
		c.logger.Error("dropping invalid scheduler message", "msg_id", msg.ID, "kind", in.Kind, "error", err)
		c.cfg.metrics.ObserveQueueMessage("invalid")
		c.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}

	if c.cfg.deduper != nil {
		fresh, err := c.cfg.deduper.Claim(ctx, in.ID)
		switch {
		case err != nil:
			// dedupe store down: apply anyway
			c.logger.Warn("dedupe claim failed", "msg_id", msg.ID, "id", in.ID, "error", err)
		case !fresh:
			c.logger.Info("skipping duplicate scheduler message", "id", in.ID, "kind", in.Kind)
			c.cfg.metrics.ObserveQueueMessage("duplicate")
			c.deleteMessage(ctx, msg.ReceiptHandle)
			return
		}
	}

	if err := c.route(ctx, in); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, engine.ErrProcessorStopped) {
			c.logger.Warn("engine unavailable, leaving message for redelivery", "id", in.ID, "error", err)
			c.cfg.metrics.ObserveQueueMessage("retry")
			c.release(in.ID)
			return
		}
		c.logger.Error("scheduler message rejected", "id", in.ID, "kind", in.Kind, "error", err)
		c.cfg.metrics.ObserveQueueMessage("rejected")
		c.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}

	c.cfg.metrics.ObserveQueueMessage("dispatched")
	c.logger.Debug("scheduler message dispatched", "id", in.ID, "kind", in.Kind)
	c.deleteMessage(ctx, msg.ReceiptHandle)
}

func validate(in Inbound) error {
	if in.Event != nil {
		return in.Event.Validate()
	}
	if in.Roster.DoctorID == "" {
		return errors.Join(scheduler.ErrInvalidEvent, errors.New("roster without doctor_id"))
	}
	for _, p := range in.Roster.Patients {
		// priority and predictions may still be filled in by enrichment
		if p.ID == "" || p.ScheduledTime.IsZero() {
			return errors.Join(scheduler.ErrInvalidPatient, errors.New("roster patient needs id and scheduled_time"))
		}
	}
	return nil
}

func (c *Consumer) route(ctx context.Context, in Inbound) error {
	if in.Roster != nil {
		r := *in.Roster
		if c.cfg.enricher != nil {
			patients := make([]scheduler.Patient, len(r.Patients))
			for i, p := range r.Patients {
				if p.DoctorID == "" {
					p.DoctorID = r.DoctorID
				}
				patients[i] = c.cfg.enricher.Enrich(ctx, p, c.cfg.doctorLocation)
			}
			r.Patients = patients
		}
		return c.router.LoadRoster(ctx, r)
	}

	ev := *in.Event
	if e, ok := ev.Payload.(scheduler.EmergencyInsert); ok && c.cfg.enricher != nil {
		p := e.Patient
		if p.DoctorID == "" {
			p.DoctorID = ev.DoctorID
		}
		ev.Payload = scheduler.EmergencyInsert{Patient: c.cfg.enricher.Enrich(ctx, p, c.cfg.doctorLocation)}
	}
	return c.router.Dispatch(ctx, ev)
}

func (c *Consumer) release(id string) {
	if c.cfg.deduper == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := c.cfg.deduper.Release(ctx, id); err != nil {
		c.logger.Warn("failed to release dedupe claim", "id", id, "error", err)
	}
}

func (c *Consumer) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeoutSeconds*time.Second)
	defer cancel()

	if err := c.queue.Delete(deleteCtx, receiptHandle); err != nil {
		c.logger.Error("failed to delete scheduler message", "error", err)
	}
}
