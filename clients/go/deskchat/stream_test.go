package deskchat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// streamServer upgrades one connection and writes frames to it.
func streamServer(t *testing.T, frames ...string) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// hold the connection open until the client leaves
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?token=x"
}

func TestStreamDispatchesByType(t *testing.T) {
	url := streamServer(t,
		`not json`,
		`{"type":"user_connected","data":{"userId":"u1","isOnline":true}}`,
		`{"type":"new_message","data":{"id":"m1","chatId":"c1"}}`,
	)

	s := NewStream(zerolog.Nop())
	got := make(chan Event, 4)
	s.On(EventNewMessage, func(ev Event) { got <- ev })

	if err := s.Connect(context.Background(), url); err != nil {
		t.Fatal(err)
	}
	defer s.Disconnect()

	select {
	case ev := <-got:
		if ev.Type != EventNewMessage || !strings.Contains(string(ev.Data), `"m1"`) {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
	select {
	case ev := <-got:
		t.Fatalf("unexpected extra event %+v", ev)
	default:
	}
}

func TestStreamOff(t *testing.T) {
	s := NewStream(zerolog.Nop())
	calls := 0
	id := s.On(EventNewChat, func(Event) { calls++ })
	s.On(EventNewChat, func(Event) { calls += 10 })

	s.Off(EventNewChat, id)
	s.dispatch(Event{Type: EventNewChat})
	if calls != 10 {
		t.Fatalf("expected only the remaining handler, got %d", calls)
	}
}

func TestStreamConnectTwice(t *testing.T) {
	url := streamServer(t)
	s := NewStream(zerolog.Nop())
	if err := s.Connect(context.Background(), url); err != nil {
		t.Fatal(err)
	}
	if err := s.Connect(context.Background(), url); err != ErrAlreadyConnected {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}
	if err := s.Disconnect(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("read loop did not stop")
	}
	if err := s.Disconnect(); err != nil {
		t.Fatalf("second disconnect should be a no-op, got %v", err)
	}
}

func TestRedactToken(t *testing.T) {
	if got := redactToken("ws://h/api/ws?token=secret"); got != "ws://h/api/ws" {
		t.Fatalf("unexpected %s", got)
	}
}
