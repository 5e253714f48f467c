package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-ledger-api/internal/models"
	"github.com/noah-isme/tutoring-ledger-api/pkg/jobs"
)

const ledgerEventJob = "ledger_event"

type ledgerEventPublisher interface {
	Publish(ctx context.Context, event models.LedgerEvent) error
}

type ledgerOutbox interface {
	ListPending(ctx context.Context, limit int) ([]models.LedgerEvent, error)
	MarkDispatched(ctx context.Context, ids []string, at time.Time) error
}

// EventDispatcherConfig tunes the ledger event worker pool.
type EventDispatcherConfig struct {
	Workers     int
	MaxRetries  int
	RetryDelay  time.Duration
	ReplayBatch int
}

// EventDispatcher hands committed ledger events to the publisher on a worker pool
// and stamps them dispatched in the outbox. It never touches balances.
type EventDispatcher struct {
	queue     *jobs.Queue
	publisher ledgerEventPublisher
	outbox    ledgerOutbox
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
	replay    int
}

// NewEventDispatcher wires the dispatcher. Call Start before Dispatch.
func NewEventDispatcher(publisher ledgerEventPublisher, outbox ledgerOutbox, metrics *MetricsService, logger *zap.Logger, cfg EventDispatcherConfig) *EventDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReplayBatch <= 0 {
		cfg.ReplayBatch = 200
	}
	d := &EventDispatcher{
		publisher: publisher,
		outbox:    outbox,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
		replay:    cfg.ReplayBatch,
	}
	d.queue = jobs.NewQueue("ledger-events", d.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return d
}

// Start launches the workers and re-enqueues events a previous process left undispatched.
func (d *EventDispatcher) Start(ctx context.Context) error {
	d.queue.Start(ctx)
	pending, err := d.outbox.ListPending(ctx, d.replay)
	if err != nil {
		return fmt.Errorf("replay ledger events: %w", err)
	}
	if len(pending) > 0 {
		d.logger.Info("replaying undispatched ledger events", zap.Int("count", len(pending)))
		d.Dispatch(pending)
	}
	return nil
}

// Stop drains queued events until ctx is done.
func (d *EventDispatcher) Stop(ctx context.Context) {
	d.queue.Stop(ctx)
}

// Dispatch enqueues events without blocking the caller. Events that do not fit stay
// pending in the outbox and are replayed on the next start.
func (d *EventDispatcher) Dispatch(events []models.LedgerEvent) {
	for _, event := range events {
		job := jobs.Job{ID: event.ID, Type: ledgerEventJob, Payload: event}
		if err := d.queue.TryEnqueue(job); err != nil {
			d.logger.Warn("ledger event left in outbox", zap.String("event_id", event.ID), zap.String("type", string(event.Type)), zap.Error(err))
		}
	}
}

func (d *EventDispatcher) handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.LedgerEvent)
	if !ok {
		d.logger.Error("unexpected ledger event payload", zap.String("job_id", job.ID))
		return nil
	}
	if err := d.publisher.Publish(ctx, event); err != nil {
		d.metrics.RecordLedgerEvent(string(event.Type), EventPublishError)
		return err
	}
	d.metrics.RecordLedgerEvent(string(event.Type), EventPublished)
	if err := d.outbox.MarkDispatched(ctx, []string{event.ID}, d.now().UTC()); err != nil {
		d.logger.Warn("mark ledger event dispatched failed", zap.String("event_id", event.ID), zap.Error(err))
	}
	return nil
}

// LogEventPublisher writes ledger events to the log instead of a broker.
type LogEventPublisher struct {
	logger *zap.Logger
}

// NewLogEventPublisher constructs a log-only publisher.
func NewLogEventPublisher(logger *zap.Logger) *LogEventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogEventPublisher{logger: logger}
}

// Publish logs the event.
func (p *LogEventPublisher) Publish(_ context.Context, event models.LedgerEvent) error {
	p.logger.Info("ledger event",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("teacher_id", event.TeacherID),
		zap.String("group_id", event.GroupID),
		zap.String("student_id", event.StudentID),
		zap.Int("number_of_classes", event.NumberOfClasses),
		zap.String("paid_delta", event.PaidDelta.String()),
		zap.String("unpaid_delta", event.UnpaidDelta.String()),
	)
	return nil
}
