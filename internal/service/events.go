// Package service holds the trade-idea lifecycle core: the transaction
// ledger, the lifecycle coordinator and their supporting pieces.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradeideas/internal/domain"
)

// Alerter sends operator alerts for lifecycle events.
type Alerter interface {
	NotifyEvent(ctx context.Context, evt domain.LifecycleEvent) error
}

// Events fans lifecycle events out to the signal bus, the lifecycle
// stream, the audit log and operator alerts. Every sink is optional.
// Delivery failures are logged and never fail the operation that emitted
// the event.
type Events struct {
	bus    domain.SignalBus
	audit  domain.AuditStore
	alerts Alerter
	logger *slog.Logger
	now    func() time.Time
}

// NewEvents creates an Events fan-out. Any sink may be nil.
func NewEvents(bus domain.SignalBus, audit domain.AuditStore, alerts Alerter, logger *slog.Logger) *Events {
	return &Events{
		bus:    bus,
		audit:  audit,
		alerts: alerts,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Emit publishes evt on channel. A nil *Events drops the event.
func (e *Events) Emit(ctx context.Context, channel string, evt domain.LifecycleEvent) {
	if e == nil {
		return
	}
	if evt.At.IsZero() {
		evt.At = e.now()
	}

	if e.bus != nil {
		payload, err := json.Marshal(evt)
		if err != nil {
			e.warn(ctx, "marshal event", evt, err)
		} else {
			if err := e.bus.Publish(ctx, channel, payload); err != nil {
				e.warn(ctx, "publish event", evt, err)
			}
			if err := e.bus.StreamAppend(ctx, domain.StreamLifecycle, payload); err != nil {
				e.warn(ctx, "journal event", evt, err)
			}
		}
	}

	if e.audit != nil {
		detail := map[string]any{
			"ticker":      evt.Ticker,
			"paper_trade": evt.PaperTrade,
		}
		if evt.IdeaID != 0 {
			detail["idea_id"] = evt.IdeaID
		}
		if evt.TransactionID != 0 {
			detail["transaction_id"] = evt.TransactionID
		}
		if evt.Detail != "" {
			detail["detail"] = evt.Detail
		}
		if err := e.audit.Log(ctx, evt.Event, detail); err != nil {
			e.warn(ctx, "audit log", evt, err)
		}
	}

	if e.alerts != nil {
		if err := e.alerts.NotifyEvent(ctx, evt); err != nil {
			e.warn(ctx, "alert", evt, err)
		}
	}
}

func (e *Events) warn(ctx context.Context, what string, evt domain.LifecycleEvent, err error) {
	e.logger.WarnContext(ctx, "events: "+what+" failed",
		slog.String("event", evt.Event),
		slog.String("error", err.Error()),
	)
}
