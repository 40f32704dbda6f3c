package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"whatsapp-campaigns/internal/events"
	"whatsapp-campaigns/internal/logging"

	"github.com/gorilla/websocket"
)

func TestHubDeliversOnlyOwnBusiness(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(logging.NewNop())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWs(w, r, 7)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := hub.Publish(ctx, events.Event{Type: events.QueueStatus, BusinessID: 8, QueueID: 1}); err != nil {
		t.Fatal(err)
	}
	if err := hub.Publish(ctx, events.Event{Type: events.QueueStatus, BusinessID: 7, QueueID: 2, Status: "COMPLETED"}); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev events.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.QueueID != 2 || ev.Status != "COMPLETED" {
		t.Fatalf("received %+v, want the business 7 event", ev)
	}
}

func TestPublishDoesNotBlockWithoutRun(t *testing.T) {
	hub := NewHub(logging.NewNop())
	var err error
	for i := 0; i < 300; i++ {
		err = hub.Publish(context.Background(), events.Event{Type: events.QueueProgress})
	}
	if err != ErrBacklog {
		t.Fatalf("expected backlog error, got %v", err)
	}
}
