package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/tradeideas/internal/domain"
)

type chanBus struct {
	subs map[string]chan []byte
}

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	return b.subs[channel], nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.TextMessage {
		t.Fatalf("frame type=%d want text", typ)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return env
}

func TestHub_RelaysSubscribedChannels(t *testing.T) {
	bus := &chanBus{subs: map[string]chan []byte{
		domain.ChannelIdeas:        make(chan []byte, 1),
		domain.ChannelTransactions: make(chan []byte, 1),
	}}
	hub := NewHub(bus, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if env := readEnvelope(t, conn); env.Type != "hello" {
		t.Fatalf("first frame=%+v want hello", env)
	}

	if err := conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelIdeas}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Give the read pump time to apply the change before events flow.
	time.Sleep(50 * time.Millisecond)

	bus.subs[domain.ChannelIdeas] <- []byte(`{"event":"idea_created"}`)
	bus.subs[domain.ChannelTransactions] <- []byte(`{"event":"position_sold"}`)

	env := readEnvelope(t, conn)
	if env.Type != "event" || env.Channel != domain.ChannelTransactions {
		t.Fatalf("frame=%+v want transactions event", env)
	}
	var evt domain.LifecycleEvent
	if err := json.Unmarshal(env.Data, &evt); err != nil || evt.Event != domain.EventPositionSold {
		t.Fatalf("data=%s err=%v", env.Data, err)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example"})
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://app.example", true},
		{"https://evil.example", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := check(r); got != tt.want {
			t.Fatalf("origin=%q got=%v want=%v", tt.origin, got, tt.want)
		}
	}
}

func httpHandler(h *Hub) http.Handler {
	return http.HandlerFunc(h.HandleWS)
}

func TestHub_HandleWSAfterShutdownDoesNotBlock(t *testing.T) {
	bus := &chanBus{subs: map[string]chan []byte{
		domain.ChannelIdeas:        make(chan []byte),
		domain.ChannelTransactions: make(chan []byte),
	}}
	hub := NewHub(bus, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(stopped)
	}()

	handled := make(chan struct{}, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleWS(w, r)
		handled <- struct{}{}
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	early, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer early.Close()
	<-handled

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial after shutdown: %v", err)
	}
	defer late.Close()

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("HandleWS blocked registering with a stopped hub")
	}
	_ = late.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := late.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("read err=%v want going-away close", err)
	}
}
