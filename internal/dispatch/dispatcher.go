package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/freightdeck/pulse/internal/channels"
	"github.com/freightdeck/pulse/internal/events"
	"github.com/freightdeck/pulse/internal/execution"
	"github.com/freightdeck/pulse/internal/metrics"
	"github.com/freightdeck/pulse/internal/prefs"
	"github.com/freightdeck/pulse/internal/quiethours"
	"github.com/freightdeck/pulse/internal/rules"
)

// AuditPublisher publishes audit events to the execution record stream.
type AuditPublisher interface {
	Publish(ctx context.Context, ev *events.AuditEvent) error
}

// Dispatcher executes a rule's ordered action list. Actions run in
// declaration order but are failure-isolated: each action settles its own
// slot on the execution record and a failure never blocks the next action.
type Dispatcher struct {
	prefs       prefs.Store
	registry    *channels.Registry
	queue       *quiethours.Queue
	webhook     *Webhook
	updater     ResourceUpdater
	escalations *EscalationManager
	audit       AuditPublisher
	metrics     *metrics.Collector
	clock       func() time.Time
}

// NewDispatcher wires a dispatcher. The escalation manager's fire callback
// is installed here so an unresolved escalation re-invokes notify with the
// amplified channel set.
func NewDispatcher(
	prefStore prefs.Store,
	registry *channels.Registry,
	queue *quiethours.Queue,
	webhook *Webhook,
	updater ResourceUpdater,
	checker ResolutionChecker,
	collector *metrics.Collector,
) *Dispatcher {
	d := &Dispatcher{
		prefs:    prefStore,
		registry: registry,
		queue:    queue,
		webhook:  webhook,
		updater:  updater,
		metrics:  collector,
		clock:    time.Now,
	}
	webhook.SetMetrics(collector)
	d.escalations = NewEscalationManager(checker, d.fireEscalation)
	return d
}

// SetClock overrides the dispatcher clock. Test use only.
func (d *Dispatcher) SetClock(clock func() time.Time) {
	d.clock = clock
}

// SetAudit attaches the audit publisher. Escalation fires happen after the
// orchestrator's completion event, so the dispatcher publishes them itself.
func (d *Dispatcher) SetAudit(audit AuditPublisher) {
	d.audit = audit
}

// Escalations exposes the escalation manager so the orchestrator can
// resolve pending escalations on acknowledgement events.
func (d *Dispatcher) Escalations() *EscalationManager {
	return d.escalations
}

// Dispatch runs every action of the rule against the record. Payload is the
// triggering event payload (empty for schedule matches).
func (d *Dispatcher) Dispatch(ctx context.Context, rule *rules.Rule, rec *execution.Record, payload map[string]any) {
	for i := range rule.Actions {
		action := &rule.Actions[i]
		key := execution.ActionKey(i, string(action.Type))
		d.metrics.Inc(metrics.ActionsDispatched)

		switch action.Type {
		case rules.ActionNotify:
			d.runNotify(ctx, rule, rec, key, action.Notify, payload, false)
		case rules.ActionEscalate:
			d.runEscalate(ctx, rule, rec, key, action.Escalate)
		case rules.ActionUpdate:
			d.runUpdate(ctx, rec, key, action.Update)
		case rules.ActionWebhook:
			d.runWebhook(ctx, rec, key, action.Webhook, payload)
		default:
			rec.SetAction(key, execution.ActionResult{
				Status: execution.StatusSkipped,
				Detail: fmt.Sprintf("unknown action type %q", action.Type),
				At:     d.clock().UTC(),
			})
		}
	}
}

// runNotify intersects the requested channels with the owner's enabled,
// verified channels, gates each through quiet hours, and records the
// per-channel outcome. amplified widens to all available channels for
// escalation follow-ups.
func (d *Dispatcher) runNotify(ctx context.Context, rule *rules.Rule, rec *execution.Record, key string, spec *rules.NotifyAction, payload map[string]any, amplified bool) {
	now := d.clock().UTC()

	ownerID, err := d.prefs.Owner(ctx, rec.SubjectID)
	if err != nil {
		d.failAction(rec, key, fmt.Errorf("failed to resolve subject owner: %w", err))
		return
	}
	chPrefs, err := d.prefs.Channels(ctx, ownerID)
	if err != nil {
		d.failAction(rec, key, fmt.Errorf("failed to load channel preferences: %w", err))
		return
	}
	available := prefs.EnabledVerified(chPrefs)

	var targets []string
	if amplified {
		for ch := range available {
			targets = append(targets, ch)
		}
	} else {
		for _, ch := range spec.Channels {
			if available[ch] {
				targets = append(targets, ch)
			}
		}
	}
	if len(targets) == 0 {
		rec.SetAction(key, execution.ActionResult{
			Status: execution.StatusSkipped,
			Detail: "no enabled verified channels",
			At:     now,
		})
		return
	}

	qh, err := d.prefs.QuietHours(ctx, ownerID)
	if err != nil {
		slog.Warn("Failed to load quiet hours, delivering without gate",
			"account_id", ownerID,
			"error", err,
		)
		qh = nil
	}

	msg := channels.Message{
		RecordID:  rec.RecordID,
		RuleID:    rule.RuleID,
		SubjectID: rec.SubjectID,
		Template:  spec.Template,
		Payload:   payload,
		Escalated: amplified,
	}

	delivered, failed, suppressed := 0, 0, 0
	for _, ch := range targets {
		decision := quiethours.Evaluate(qh, rule.Priority, spec.Category, now)
		switch decision {
		case quiethours.Suppress:
			flushAt, err := quiethours.FlushAt(qh, now)
			if err != nil {
				// Gate said suppress but the window math disagrees;
				// deliver rather than drop.
				d.send(ctx, rec, key, ownerID, ch, msg, now)
				delivered++
				continue
			}
			d.queue.Enqueue(&quiethours.Pending{
				AccountID: ownerID,
				Channel:   ch,
				Message:   msg,
				Record:    rec,
				RecordID:  rec.RecordID,
				ActionKey: key,
				FlushAt:   flushAt,
				QueuedAt:  now,
			})
			rec.SetChannelOutcome(key, ch, execution.StatusSuppressed, now)
			d.metrics.Inc(metrics.SendsSuppressed)
			suppressed++
			slog.Info("Send suppressed by quiet hours",
				"account_id", ownerID,
				"channel", ch,
				"record_id", rec.RecordID,
				"flush_at", flushAt,
			)
		default:
			if decision == quiethours.Bypass {
				slog.Info("Quiet hours bypassed",
					"account_id", ownerID,
					"channel", ch,
					"priority", rule.Priority,
					"category", spec.Category,
				)
			}
			if d.send(ctx, rec, key, ownerID, ch, msg, now) {
				delivered++
			} else {
				failed++
			}
		}
	}

	result := execution.ActionResult{At: now}
	switch {
	case failed == len(targets):
		result.Status = execution.StatusFailed
		result.Detail = "all channels failed"
	case delivered > 0:
		result.Status = execution.StatusDelivered
	default:
		result.Status = execution.StatusSuppressed
	}
	// Preserve the channel outcomes already recorded on the slot.
	if existing, ok := rec.Action(key); ok {
		result.Channels = existing.Channels
	}
	rec.SetAction(key, result)
}

func (d *Dispatcher) send(ctx context.Context, rec *execution.Record, key, ownerID, ch string, msg channels.Message, now time.Time) bool {
	sender, ok := d.registry.Get(ch)
	if !ok {
		slog.Warn("No sender registered for channel", "channel", ch)
		rec.SetChannelOutcome(key, ch, execution.StatusFailed, now)
		d.metrics.Inc(metrics.ActionsFailed)
		return false
	}
	if err := sender.Send(ctx, ownerID, msg); err != nil {
		slog.Error("Channel send failed",
			"channel", ch,
			"account_id", ownerID,
			"record_id", rec.RecordID,
			"error", err,
		)
		rec.SetChannelOutcome(key, ch, execution.StatusFailed, now)
		d.metrics.Inc(metrics.ActionsFailed)
		return false
	}
	rec.SetChannelOutcome(key, ch, execution.StatusDelivered, now)
	return true
}

// DeliverFlushed delivers a send released by the quiet hours flusher and
// settles the suppressed channel's outcome on the execution record.
func (d *Dispatcher) DeliverFlushed(ctx context.Context, p *quiethours.Pending) {
	now := d.clock().UTC()
	d.metrics.Inc(metrics.SendsFlushed)
	sender, ok := d.registry.Get(p.Channel)
	if !ok {
		slog.Warn("No sender registered for flushed channel", "channel", p.Channel)
		p.Record.SetChannelOutcome(p.ActionKey, p.Channel, execution.StatusFailed, now)
		d.metrics.Inc(metrics.ActionsFailed)
		return
	}
	if err := sender.Send(ctx, p.AccountID, p.Message); err != nil {
		slog.Error("Flushed send failed",
			"channel", p.Channel,
			"account_id", p.AccountID,
			"record_id", p.RecordID,
			"error", err,
		)
		p.Record.SetChannelOutcome(p.ActionKey, p.Channel, execution.StatusFailed, now)
		d.metrics.Inc(metrics.ActionsFailed)
		return
	}
	p.Record.SetChannelOutcome(p.ActionKey, p.Channel, execution.StatusDelivered, now)
	slog.Info("Flushed send delivered",
		"channel", p.Channel,
		"account_id", p.AccountID,
		"record_id", p.RecordID,
	)
}

func (d *Dispatcher) runEscalate(ctx context.Context, rule *rules.Rule, rec *execution.Record, key string, spec *rules.EscalateAction) {
	rec.SetAction(key, execution.ActionResult{
		Status: execution.StatusScheduled,
		Detail: fmt.Sprintf("escalation in %dm unless %s", spec.DelayMinutes, spec.ResolveCondition),
		At:     d.clock().UTC(),
	})
	d.escalations.Schedule(ctx, &EscalationTask{
		Record:    rec,
		Rule:      rule,
		ActionKey: key,
		Condition: spec.ResolveCondition,
	}, spec.Delay())
	d.metrics.Inc(metrics.EscalationsScheduled)
}

// fireEscalation is the escalation manager's callback: one amplified
// notify, exactly once.
func (d *Dispatcher) fireEscalation(ctx context.Context, task *EscalationTask) {
	d.metrics.Inc(metrics.EscalationsFired)

	var template string
	for _, a := range task.Rule.Actions {
		if a.Type == rules.ActionNotify && a.Notify != nil {
			template = a.Notify.Template
			break
		}
	}

	followUpKey := task.ActionKey + ":followup"
	d.runNotify(ctx, task.Rule, task.Record, followUpKey, &rules.NotifyAction{
		Template: template,
	}, nil, true)

	task.Record.SetAction(task.ActionKey, execution.ActionResult{
		Status: execution.StatusDelivered,
		Detail: "escalation fired",
		At:     d.clock().UTC(),
	})

	if d.audit != nil {
		ev := events.NewAuditEvent(events.KindEscalationFired, d.clock().UTC())
		ev.RecordID = task.Record.RecordID
		ev.RuleID = task.Rule.RuleID
		ev.SubjectID = task.Record.SubjectID
		ev.Detail = map[string]string{"action": task.ActionKey}
		if err := d.audit.Publish(ctx, ev); err != nil {
			slog.Error("Failed to publish audit event",
				"kind", ev.Kind,
				"record_id", ev.RecordID,
				"error", err,
			)
		}
	}
}

func (d *Dispatcher) runUpdate(ctx context.Context, rec *execution.Record, key string, spec *rules.UpdateAction) {
	now := d.clock().UTC()
	if err := d.updater.Apply(ctx, rec.SubjectID, spec.TargetField, now); err != nil {
		d.failAction(rec, key, fmt.Errorf("failed to apply update: %w", err))
		return
	}
	rec.SetAction(key, execution.ActionResult{
		Status: execution.StatusDelivered,
		Detail: fmt.Sprintf("updated %s", spec.TargetField),
		At:     now,
	})
}

func (d *Dispatcher) runWebhook(ctx context.Context, rec *execution.Record, key string, spec *rules.WebhookAction, payload map[string]any) {
	err := d.webhook.Deliver(ctx, spec.URL, &WebhookPayload{
		RecordID:  rec.RecordID,
		RuleID:    rec.RuleID,
		SubjectID: rec.SubjectID,
		MatchedAt: rec.MatchedAt.Unix(),
		Payload:   payload,
	})
	if err != nil {
		// Permanent failures (4xx, exhausted retries) are recorded and
		// logged, never raised to the orchestrator.
		d.failAction(rec, key, err)
		return
	}
	rec.SetAction(key, execution.ActionResult{
		Status: execution.StatusDelivered,
		At:     d.clock().UTC(),
	})
}

func (d *Dispatcher) failAction(rec *execution.Record, key string, err error) {
	slog.Error("Action failed",
		"record_id", rec.RecordID,
		"action", key,
		"error", err,
	)
	rec.SetAction(key, execution.ActionResult{
		Status: execution.StatusFailed,
		Detail: err.Error(),
		At:     d.clock().UTC(),
	})
	d.metrics.Inc(metrics.ActionsFailed)
}
