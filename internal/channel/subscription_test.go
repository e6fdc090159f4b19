package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type event struct {
	id      string
	payload string
}

func collectEvents(t *testing.T, events <-chan event, n int) []event {
	t.Helper()
	var got []event
	timeout := time.After(5 * time.Second)
	for len(got) < n {
		select {
		case e := <-events:
			got = append(got, e)
		case <-timeout:
			t.Fatalf("timeout: received %d of %d events", len(got), n)
		}
	}
	return got
}

func expectNoEvent(t *testing.T, events <-chan event, wait time.Duration) {
	t.Helper()
	select {
	case e := <-events:
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(wait):
	}
}

func TestSubscribe_DeliversOrderedEvents(t *testing.T) {
	srv := gqlwsServer(t, func(s *session) {
		init := s.expect("connection_init")
		if !strings.Contains(string(init.Payload), "Bearer tok") {
			s.t.Errorf("connection_init payload %s missing authorization", init.Payload)
		}
		s.send(`{"type":"connection_ack"}`)

		start := s.expect("start")
		var payload struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		if err := json.Unmarshal(start.Payload, &payload); err != nil {
			s.t.Errorf("bad start payload: %v", err)
		}
		if payload.Query != "subscription { events }" {
			s.t.Errorf("query = %q", payload.Query)
		}
		if payload.Variables["channel"] != "updates" {
			s.t.Errorf("variables = %v", payload.Variables)
		}

		for i := 1; i <= 5; i++ {
			s.send(`{"type":"ka"}`)
			s.send(`{"type":"data","id":%q,"payload":{"data":{"n":%d}}}`, start.ID, i)
		}
		s.conn.ReadMessage() // hold open
	})

	ch := newTestChannel(t, srv, nil)

	events := make(chan event, 32)
	id, err := ch.Subscribe(
		"subscription { events }",
		map[string]any{"channel": "updates"},
		map[string]string{"host": "example.com"},
		"Bearer tok",
		func(gotID string, payload json.RawMessage) {
			events <- event{id: gotID, payload: string(payload)}
		},
	)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if len(id) != 6 {
		t.Errorf("correlation id %q is not 6 characters", id)
	}

	got := collectEvents(t, events, 5)
	for i, e := range got {
		if e.id != id {
			t.Errorf("event %d delivered under id %q, want %q", i, e.id, id)
		}
		want := fmt.Sprintf(`{"data":{"n":%d}}`, i+1)
		if e.payload != want {
			t.Errorf("event %d payload = %s, want %s", i, e.payload, want)
		}
	}

	// Keep-alives never produce a callback.
	expectNoEvent(t, events, 50*time.Millisecond)

	if got := ch.State(); got != StateRunning {
		t.Errorf("State = %v, want running", got)
	}
}

func TestSubscribe_SecondWhileActiveRejected(t *testing.T) {
	srv := gqlwsServer(t, func(s *session) {
		s.handshake()
		s.conn.ReadMessage() // hold open
	})

	ch := newTestChannel(t, srv, nil)

	if _, err := ch.Subscribe("subscription { a }", nil, nil, "", func(string, json.RawMessage) {}); err != nil {
		t.Fatalf("first Subscribe failed: %v", err)
	}

	_, err := ch.Subscribe("subscription { b }", nil, nil, "", func(string, json.RawMessage) {})
	if !errors.Is(err, ErrSubscriptionActive) {
		t.Errorf("err = %v, want ErrSubscriptionActive", err)
	}
}

func TestPause_DropsFramesWithoutStalling(t *testing.T) {
	frames := make(chan string)
	defer close(frames)

	srv := gqlwsServer(t, func(s *session) {
		id := s.handshake()
		for payload := range frames {
			s.send(`{"type":"data","id":%q,"payload":%s}`, id, payload)
		}
	})

	ch := newTestChannel(t, srv, nil)

	events := make(chan event, 32)
	if _, err := ch.Subscribe("subscription { events }", nil, nil, "", func(id string, payload json.RawMessage) {
		events <- event{id: id, payload: string(payload)}
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	frames <- `{"n":1}`
	collectEvents(t, events, 1)

	ch.Pause()
	ch.Pause() // idempotent
	if got := ch.State(); got != StatePaused {
		t.Errorf("State = %v, want paused", got)
	}

	for k := 0; k < 3; k++ {
		frames <- `{"dropped":true}`
	}
	expectNoEvent(t, events, 100*time.Millisecond)

	ch.Unpause()
	ch.Unpause() // idempotent
	if got := ch.State(); got != StateRunning {
		t.Errorf("State = %v, want running", got)
	}

	frames <- `{"n":2}`
	got := collectEvents(t, events, 1)
	if got[0].payload != `{"n":2}` {
		t.Errorf("payload after unpause = %s, want {\"n\":2}", got[0].payload)
	}
}

func TestUnsubscribe_SendsStop(t *testing.T) {
	stopped := make(chan string, 1)

	srv := gqlwsServer(t, func(s *session) {
		s.handshake()
		for {
			f, err := s.read()
			if err != nil {
				return
			}
			if f.Type == "stop" {
				stopped <- f.ID
				return
			}
		}
	})

	ch := newTestChannel(t, srv, nil)

	id, err := ch.Subscribe("subscription { events }", nil, nil, "", func(string, json.RawMessage) {})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	ch.Unsubscribe()

	select {
	case gotID := <-stopped:
		if gotID != id {
			t.Errorf("stop frame id = %q, want %q", gotID, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for stop frame")
	}

	waitState(t, ch, StateStopped)

	// A second request is a no-op.
	ch.Unsubscribe()
}

func TestSubscribe_ServerErrorFrameIsTerminal(t *testing.T) {
	var conns atomic.Int32
	stopped := make(chan string, 1)

	srv := gqlwsServer(t, func(s *session) {
		conns.Add(1)
		id := s.handshake()
		s.send(`{"type":"data","id":%q,"payload":{"n":1}}`, id)
		s.send(`{"type":"error","id":%q,"payload":{"errors":[{"message":"denied"}]}}`, id)
		for {
			f, err := s.read()
			if err != nil {
				return
			}
			if f.Type == "stop" {
				stopped <- f.ID
			}
		}
	})

	ch := newTestChannel(t, srv, nil)

	events := make(chan event, 32)
	id, err := ch.Subscribe("subscription { events }", nil, nil, "", func(gotID string, payload json.RawMessage) {
		events <- event{id: gotID, payload: string(payload)}
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	collectEvents(t, events, 1)
	waitState(t, ch, StateStopped)

	select {
	case gotID := <-stopped:
		if gotID != id {
			t.Errorf("stop frame id = %q, want %q", gotID, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for stop frame")
	}

	// Server errors are never retried: still exactly one connection.
	if got := conns.Load(); got != 1 {
		t.Errorf("server saw %d connections, want 1", got)
	}
	expectNoEvent(t, events, 50*time.Millisecond)
}

func TestSubscribe_CompleteFrameIsTerminal(t *testing.T) {
	srv := gqlwsServer(t, func(s *session) {
		id := s.handshake()
		s.send(`{"type":"complete","id":%q}`, id)
		for {
			if _, err := s.read(); err != nil {
				return
			}
		}
	})

	ch := newTestChannel(t, srv, nil)

	if _, err := ch.Subscribe("subscription { events }", nil, nil, "", func(string, json.RawMessage) {}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	waitState(t, ch, StateStopped)
}

func TestSubscribe_ReconnectsAndResetsCounter(t *testing.T) {
	const flaky = 4

	srv := gqlwsServer(t, func(s *session) {
		id := s.handshake()
		s.send(`{"type":"data","id":%q,"payload":{"conn":%d}}`, id, s.n)
		if s.n <= flaky {
			// Drop the connection without a close handshake.
			s.conn.UnderlyingConn().Close()
			return
		}
		s.conn.ReadMessage() // hold open
	})

	// Ceiling below the number of drops: the loop survives only because a
	// successful reconnect resets the failure counter to zero.
	ch := newTestChannel(t, srv, func(c *Config) {
		c.MaxReconnectAttempts = 3
	})

	events := make(chan event, 32)
	if _, err := ch.Subscribe("subscription { events }", nil, nil, "", func(id string, payload json.RawMessage) {
		events <- event{id: id, payload: string(payload)}
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	got := collectEvents(t, events, flaky+1)

	// Each reconnect replays the handshake under a fresh correlation id.
	ids := make(map[string]struct{})
	for i, e := range got {
		want := fmt.Sprintf(`{"conn":%d}`, i+1)
		if e.payload != want {
			t.Errorf("event %d payload = %s, want %s", i, e.payload, want)
		}
		ids[e.id] = struct{}{}
	}
	if len(ids) != flaky+1 {
		t.Errorf("saw %d distinct correlation ids, want %d", len(ids), flaky+1)
	}

	if got := ch.State(); got != StateRunning {
		t.Errorf("State = %v, want running", got)
	}
}

func TestSubscribe_StopsWhenReconnectBudgetExhausted(t *testing.T) {
	srv := gqlwsServer(t, func(s *session) {
		id := s.handshake()
		s.send(`{"type":"data","id":%q,"payload":{"n":1}}`, id)
		s.conn.UnderlyingConn().Close()
	})

	ch := newTestChannel(t, srv, func(c *Config) {
		c.MaxReconnectAttempts = 3
	})

	events := make(chan event, 32)
	if _, err := ch.Subscribe("subscription { events }", nil, nil, "", func(id string, payload json.RawMessage) {
		events <- event{id: id, payload: string(payload)}
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	collectEvents(t, events, 1)

	// Take the server away so every reconnect attempt fails.
	srv.CloseClientConnections()
	srv.Close()

	waitState(t, ch, StateStopped)

	// Exhaustion is terminal: no further callbacks, no revival.
	for len(events) > 0 {
		<-events
	}
	expectNoEvent(t, events, 100*time.Millisecond)
	if got := ch.State(); got != StateStopped {
		t.Errorf("State = %v, want stopped", got)
	}
}

func TestSubscribe_SequentialSubscriptions(t *testing.T) {
	srv := gqlwsServer(t, func(s *session) {
		for {
			f, err := s.read()
			if err != nil {
				return
			}
			switch f.Type {
			case "connection_init":
				s.send(`{"type":"connection_ack"}`)
			case "start":
				s.send(`{"type":"data","id":%q,"payload":{"ok":true}}`, f.ID)
			}
		}
	})

	ch := newTestChannel(t, srv, nil)

	events := make(chan event, 32)
	handler := func(id string, payload json.RawMessage) {
		events <- event{id: id, payload: string(payload)}
	}

	id1, err := ch.Subscribe("subscription { a }", nil, nil, "", handler)
	if err != nil {
		t.Fatalf("first Subscribe failed: %v", err)
	}
	collectEvents(t, events, 1)

	ch.Unsubscribe()
	waitState(t, ch, StateStopped)

	// The 6-character id space may be reused once the first subscription is
	// fully stopped.
	id2, err := ch.Subscribe("subscription { b }", nil, nil, "", handler)
	if err != nil {
		t.Fatalf("second Subscribe failed: %v", err)
	}
	if len(id1) != 6 || len(id2) != 6 {
		t.Errorf("ids %q, %q should be 6 characters", id1, id2)
	}
	collectEvents(t, events, 1)
}

func TestResetTimeout_ReplaysActiveSubscription(t *testing.T) {
	type startRec struct {
		n     int
		query string
	}
	starts := make(chan startRec, 4)

	srv := gqlwsServer(t, func(s *session) {
		for {
			f, err := s.read()
			if err != nil {
				return
			}
			switch f.Type {
			case "connection_init":
				s.send(`{"type":"connection_ack"}`)
			case "start":
				var payload struct {
					Query string `json:"query"`
				}
				json.Unmarshal(f.Payload, &payload)
				starts <- startRec{n: s.n, query: payload.Query}
				s.send(`{"type":"data","id":%q,"payload":{"conn":%d}}`, f.ID, s.n)
			}
		}
	})

	ch := newTestChannel(t, srv, nil)

	events := make(chan event, 32)
	id1, err := ch.Subscribe("subscription { events }", nil, nil, "", func(id string, payload json.RawMessage) {
		events <- event{id: id, payload: string(payload)}
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	first := collectEvents(t, events, 1)[0]
	if first.payload != `{"conn":1}` {
		t.Errorf("first event payload = %s, want {\"conn\":1}", first.payload)
	}
	rec1 := <-starts

	if err := ch.ResetTimeout(); err != nil {
		t.Fatalf("ResetTimeout failed: %v", err)
	}

	second := collectEvents(t, events, 1)[0]
	if second.payload != `{"conn":2}` {
		t.Errorf("event after reset payload = %s, want {\"conn\":2}", second.payload)
	}
	if second.id == id1 {
		t.Errorf("replayed subscription reused correlation id %q, want a fresh one", id1)
	}

	rec2 := <-starts
	if rec2.n != 2 {
		t.Errorf("replayed start arrived on connection %d, want 2", rec2.n)
	}
	if rec2.query != rec1.query {
		t.Errorf("replayed query %q differs from original %q", rec2.query, rec1.query)
	}

	if got := ch.Lifetime(); got > 1 {
		t.Errorf("Lifetime after reset = %d, want ~0", got)
	}
	if got := ch.State(); got != StateRunning {
		t.Errorf("State = %v, want running", got)
	}
}
