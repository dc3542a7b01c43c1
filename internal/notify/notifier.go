// Package notify pushes human-readable alerts about lifecycle events to chat
// webhooks. Operators pick which events they want; everything else is
// dropped.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/tradeideas/internal/domain"
)

// Sender delivers one alert to a single channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans alerts out to every configured Sender.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list lets every event
// through.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger,
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// NotifyEvent renders evt and sends it if its name passes the filter.
func (n *Notifier) NotifyEvent(ctx context.Context, evt domain.LifecycleEvent) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[evt.Event] {
		return nil
	}
	title, message := Render(evt)
	return n.dispatch(ctx, title, message)
}

// Render turns a lifecycle event into an alert title and body.
func Render(evt domain.LifecycleEvent) (title, message string) {
	kind := "real"
	if evt.PaperTrade {
		kind = "paper"
	}
	switch evt.Event {
	case domain.EventIdeaExecuted:
		title = fmt.Sprintf("%s idea executed (%s)", evt.Ticker, kind)
		message = fmt.Sprintf("Idea #%d promoted, BUY #%d recorded.", evt.IdeaID, evt.TransactionID)
	case domain.EventPositionSold:
		title = fmt.Sprintf("%s position sold (%s)", evt.Ticker, kind)
		message = fmt.Sprintf("BUY #%d closed.", evt.TransactionID)
	case domain.EventBuyRecorded:
		title = fmt.Sprintf("%s buy recorded (%s)", evt.Ticker, kind)
		message = fmt.Sprintf("Transaction #%d.", evt.TransactionID)
	default:
		title = strings.ReplaceAll(evt.Event, "_", " ")
		if evt.Ticker != "" {
			title = evt.Ticker + " " + title
		}
		message = fmt.Sprintf("idea=%d transaction=%d", evt.IdeaID, evt.TransactionID)
	}
	if evt.Detail != "" {
		message += " " + evt.Detail
	}
	return title, message
}

// dispatch delivers to every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
