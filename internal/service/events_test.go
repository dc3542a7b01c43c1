package service

import (
	"context"
	"errors"
	"testing"

	"github.com/alanyoungcy/tradeideas/internal/domain"
)

type recordingAlerter struct{ events []string }

func (r *recordingAlerter) NotifyEvent(_ context.Context, evt domain.LifecycleEvent) error {
	r.events = append(r.events, evt.Event)
	return errors.New("webhook down")
}

func TestEvents_FansOutAndSwallowsFailures(t *testing.T) {
	bus := &recordingBus{}
	audit := &recordingAudit{err: errors.New("db down")}
	alerts := &recordingAlerter{}
	ev := NewEvents(bus, audit, alerts, testLogger())

	ev.Emit(context.Background(), domain.ChannelIdeas, domain.LifecycleEvent{Event: domain.EventIdeaCreated, IdeaID: 1, Ticker: "AAPL"})

	if len(bus.channels) != 1 || bus.channels[0] != domain.ChannelIdeas {
		t.Fatalf("channels=%v", bus.channels)
	}
	if bus.journal != 1 {
		t.Fatalf("journal appends=%d want=1", bus.journal)
	}
	if !bus.sawEvent(domain.EventIdeaCreated) {
		t.Fatalf("payloads=%v", bus.payloads)
	}
	if len(audit.events) != 1 || len(alerts.events) != 1 {
		t.Fatalf("audit=%v alerts=%v", audit.events, alerts.events)
	}
}

func TestEvents_NilIsNoop(t *testing.T) {
	var ev *Events
	ev.Emit(context.Background(), domain.ChannelIdeas, domain.LifecycleEvent{Event: domain.EventIdeaCreated})

	empty := NewEvents(nil, nil, nil, testLogger())
	empty.Emit(context.Background(), domain.ChannelIdeas, domain.LifecycleEvent{Event: domain.EventIdeaCreated})
}
