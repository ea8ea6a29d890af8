// Package orchestrator ties trigger evaluation to action dispatch with
// dedup leases, execution bookkeeping, and trigger-count accounting.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/freightdeck/pulse/internal/dedup"
	"github.com/freightdeck/pulse/internal/dispatch"
	"github.com/freightdeck/pulse/internal/evaluator"
	"github.com/freightdeck/pulse/internal/events"
	"github.com/freightdeck/pulse/internal/execution"
	"github.com/freightdeck/pulse/internal/metrics"
	"github.com/freightdeck/pulse/internal/prefs"
	"github.com/freightdeck/pulse/internal/rules"
)

// EventReader reads domain events from the event bus.
type EventReader interface {
	// ReadMessage reads the next event. Returns the raw message for
	// offset tracking.
	ReadMessage(ctx context.Context) (*events.DomainEvent, *kafka.Message, error)

	// Close closes the reader and releases resources.
	Close() error
}

// AuditPublisher publishes audit events to the execution record stream.
type AuditPublisher interface {
	Publish(ctx context.Context, ev *events.AuditEvent) error
}

// Orchestrator coordinates the two producers (event path, scan path)
// through the dedup lease and hands matches to the dispatcher.
type Orchestrator struct {
	rules      rules.Store
	eval       *evaluator.Evaluator
	leaser     dedup.Leaser
	window     time.Duration
	records    execution.Store
	dispatcher *dispatch.Dispatcher
	acks       *dispatch.AckChecker
	prefs      prefs.Store
	audit      AuditPublisher
	metrics    *metrics.Collector
	clock      func() time.Time

	wg sync.WaitGroup
}

// Config bundles the orchestrator's collaborators.
type Config struct {
	Rules      rules.Store
	Evaluator  *evaluator.Evaluator
	Leaser     dedup.Leaser
	Window     time.Duration
	Records    execution.Store
	Dispatcher *dispatch.Dispatcher
	Acks       *dispatch.AckChecker
	Prefs      prefs.Store
	Audit      AuditPublisher
	Metrics    *metrics.Collector
}

// New creates an orchestrator. A zero window falls back to the default
// debounce interval.
func New(cfg Config) *Orchestrator {
	window := cfg.Window
	if window <= 0 {
		window = dedup.DefaultWindow
	}
	return &Orchestrator{
		rules:      cfg.Rules,
		eval:       cfg.Evaluator,
		leaser:     cfg.Leaser,
		window:     window,
		records:    cfg.Records,
		dispatcher: cfg.Dispatcher,
		acks:       cfg.Acks,
		prefs:      cfg.Prefs,
		audit:      cfg.Audit,
		metrics:    cfg.Metrics,
		clock:      time.Now,
	}
}

// SetClock overrides the orchestrator clock. Test use only.
func (o *Orchestrator) SetClock(clock func() time.Time) {
	o.clock = clock
}

// Run continuously reads events and evaluates them until the context is
// cancelled.
func (o *Orchestrator) Run(ctx context.Context, reader EventReader) error {
	slog.Info("Starting event processing loop")

	for {
		select {
		case <-ctx.Done():
			slog.Info("Event processing loop stopped")
			o.wg.Wait()
			return nil
		default:
			ev, _, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					o.wg.Wait()
					return nil
				}
				slog.Error("Failed to read event", "error", err)
				continue
			}
			if err := o.HandleEvent(ctx, ev); err != nil {
				slog.Error("Failed to handle event",
					"event_id", ev.EventID,
					"type", ev.Type,
					"error", err,
				)
			}
		}
	}
}

// HandleEvent evaluates one domain event against the enabled rule set and
// fires matches concurrently per subject. Evaluation failures degrade to
// non-matches; only rule listing can fail.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev *events.DomainEvent) error {
	now := o.clock().UTC()
	o.metrics.Inc(metrics.EventsConsumed)

	// Behavior triggers read the rolling window; record before evaluating
	// so the triggering event counts toward its own pattern.
	o.eval.Tracker().Record(ev.Type, ev.SubjectID, ev.Timestamp())

	// Acknowledgements resolve pending escalations instead of matching rules.
	if recordID := events.AcknowledgedRecordID(ev); recordID != "" {
		o.resolveEscalation(ctx, recordID, now)
		return nil
	}

	ruleset, err := o.rules.ListEnabled(ctx)
	if err != nil {
		return err
	}
	o.metrics.Add(metrics.RulesEvaluated, uint64(len(ruleset)))

	matches := o.eval.EvaluateEvent(ev, ruleset, now)
	if len(matches) == 0 {
		slog.Debug("No rules matched event",
			"event_id", ev.EventID,
			"type", ev.Type,
			"subject_id", ev.SubjectID,
		)
		return nil
	}

	for _, m := range matches {
		m := m
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.fire(ctx, m, ev.Payload, now)
		}()
	}
	return nil
}

// RunScans evaluates schedule triggers on a fixed tick until the context is
// cancelled.
func (o *Orchestrator) RunScans(ctx context.Context, interval time.Duration) {
	slog.Info("Starting schedule scan loop", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Schedule scan loop stopped")
			return
		case <-ticker.C:
			o.ScanOnce(ctx, o.clock().UTC())
		}
	}
}

// ScanOnce runs one scheduled-scan pass as of now.
func (o *Orchestrator) ScanOnce(ctx context.Context, now time.Time) {
	ruleset, err := o.rules.ListEnabled(ctx)
	if err != nil {
		slog.Error("Failed to list rules for scan", "error", err)
		return
	}

	matches := o.eval.EvaluateScan(ruleset, now, func(accountID string) *time.Location {
		loc, err := o.prefs.Timezone(ctx, accountID)
		if err != nil {
			slog.Debug("Failed to resolve timezone, using UTC",
				"account_id", accountID,
				"error", err,
			)
			return time.UTC
		}
		return loc
	})

	for _, m := range matches {
		m := m
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.fire(ctx, m, nil, now)
		}()
	}
}

// Wait blocks until all in-flight dispatches finish. Used on shutdown and
// by tests.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// fire takes the dedup lease for a match and, when won, creates the
// execution record, bumps the trigger count, and dispatches. The lease is
// the only gate: losing it means another evaluation path already fired
// this (rule, subject, bucket).
func (o *Orchestrator) fire(ctx context.Context, m evaluator.Match, payload map[string]any, now time.Time) {
	bucket := dedup.Bucket(now, o.window)
	if !m.Boundary.IsZero() {
		// Schedule matches bucket on the boundary itself, so a boundary
		// fires at most once even across restarts and catch-up.
		bucket = m.Boundary.Unix()
	}
	key := dedup.Key(m.Rule.RuleID, m.SubjectID, bucket)

	acquired, err := o.leaser.Acquire(ctx, key, 2*o.window)
	if err != nil {
		slog.Error("Failed to acquire dedup lease",
			"rule_id", m.Rule.RuleID,
			"subject_id", m.SubjectID,
			"error", err,
		)
		return
	}
	if !acquired {
		slog.Debug("Dedup lease held, skipping",
			"rule_id", m.Rule.RuleID,
			"subject_id", m.SubjectID,
			"bucket", bucket,
		)
		o.metrics.Inc(metrics.DedupSkips)
		return
	}

	rec := execution.NewRecord(m.Rule.RuleID, m.SubjectID, now)
	if err := o.records.Create(ctx, rec); err != nil {
		slog.Error("Failed to create execution record",
			"rule_id", m.Rule.RuleID,
			"subject_id", m.SubjectID,
			"error", err,
		)
		return
	}

	// trigger_count increments on match, not on full dispatch success.
	if err := o.rules.IncrementTriggerCount(ctx, m.Rule.RuleID, now); err != nil {
		slog.Error("Failed to increment trigger count",
			"rule_id", m.Rule.RuleID,
			"error", err,
		)
	}
	if !m.Boundary.IsZero() {
		if err := o.rules.SetLastFired(ctx, m.Rule.RuleID, m.Boundary); err != nil {
			slog.Error("Failed to record schedule boundary",
				"rule_id", m.Rule.RuleID,
				"error", err,
			)
		}
	}
	o.metrics.Inc(metrics.TriggersFired)

	o.publishAudit(ctx, recordedEvent(events.KindExecutionRecorded, rec, now, nil))

	slog.Info("Rule fired",
		"rule_id", m.Rule.RuleID,
		"subject_id", m.SubjectID,
		"record_id", rec.RecordID,
	)

	o.dispatcher.Dispatch(ctx, m.Rule, rec, payload)

	o.publishAudit(ctx, recordedEvent(events.KindExecutionCompleted, rec, o.clock().UTC(), map[string]string{
		"status": string(rec.OverallStatus()),
	}))
}

func (o *Orchestrator) resolveEscalation(ctx context.Context, recordID string, now time.Time) {
	o.acks.Acknowledge(recordID)

	rec, err := o.records.Get(ctx, recordID)
	if err != nil {
		slog.Debug("Acknowledgement for unknown record", "record_id", recordID)
		return
	}
	// Bump before cancelling: a timer that already left the gate sees the
	// new version and no-ops.
	rec.BumpVersion()
	o.dispatcher.Escalations().Resolve(recordID)
	o.metrics.Inc(metrics.EscalationsResolved)

	ev := events.NewAuditEvent(events.KindEscalationResolved, now)
	ev.RecordID = recordID
	ev.RuleID = rec.RuleID
	ev.SubjectID = rec.SubjectID
	o.publishAudit(ctx, ev)
}

func (o *Orchestrator) publishAudit(ctx context.Context, ev *events.AuditEvent) {
	if o.audit == nil {
		return
	}
	if err := o.audit.Publish(ctx, ev); err != nil {
		slog.Error("Failed to publish audit event",
			"kind", ev.Kind,
			"record_id", ev.RecordID,
			"error", err,
		)
	}
}

func recordedEvent(kind string, rec *execution.Record, now time.Time, detail map[string]string) *events.AuditEvent {
	ev := events.NewAuditEvent(kind, now)
	ev.RecordID = rec.RecordID
	ev.RuleID = rec.RuleID
	ev.SubjectID = rec.SubjectID
	ev.Detail = detail
	return ev
}
