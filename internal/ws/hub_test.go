package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chat_service/internal/lib/logger/handlers/slogdiscard"
	"chat_service/internal/models"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		ctx := conn.CloseRead(r.Context())

		c := hub.AddClient(r.URL.Query().Get("user"), conn)
		defer hub.RemoveClient(c)

		select {
		case <-ctx.Done():
		case <-c.Done():
		}
	}))
	t.Cleanup(srv.Close)

	return srv
}

func dial(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=" + user

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	return conn
}

func waitConnected(t *testing.T, hub *Hub, user string, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Connected(user) != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d connections for %s, got %d", n, user, hub.Connected(user))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBroadcastReachesOnlyAddressedUsers(t *testing.T) {
	hub := NewHub(slogdiscard.NewDiscardLogger())
	srv := newTestServer(t, hub)

	alice := dial(t, srv, "alice")
	carol := dial(t, srv, "carol")
	waitConnected(t, hub, "alice", 1)
	waitConnected(t, hub, "carol", 1)

	hub.Broadcast([]string{"alice", "bob"}, models.Event{
		Type: models.EventMessageCreated,
		Data: map[string]string{"text": "hi"},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var got struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}
	if err := wsjson.Read(ctx, alice, &got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != models.EventMessageCreated || got.Data["text"] != "hi" {
		t.Fatalf("unexpected event %+v", got)
	}

	quiet, cancelQuiet := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancelQuiet()

	var none models.Event
	if err := wsjson.Read(quiet, carol, &none); err == nil {
		t.Fatalf("carol should not receive events, got %+v", none)
	}
}

func TestRemoveOnDisconnect(t *testing.T) {
	hub := NewHub(slogdiscard.NewDiscardLogger())
	srv := newTestServer(t, hub)

	conn := dial(t, srv, "alice")
	waitConnected(t, hub, "alice", 1)

	_ = conn.Close(websocket.StatusNormalClosure, "")
	waitConnected(t, hub, "alice", 0)
}

func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(slogdiscard.NewDiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &Client{UserID: "alice", Send: make(chan models.Event, 1), ctx: ctx, cancel: cancel}
	hub.clients["alice"] = map[*Client]struct{}{c: {}}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 3 {
			hub.Broadcast([]string{"alice"}, models.Event{Type: models.EventMessageCreated})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full client")
	}

	if len(c.Send) != 1 {
		t.Fatalf("expected buffer to hold one event, got %d", len(c.Send))
	}
}
