package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zaclabs/spawnsync/go/internal/orders"
)

// fakeCommands records every routed client command.
type fakeCommands struct {
	mu       sync.Mutex
	chobos   []int
	chainos  int
	skrab    int
	orders   []orders.Input
	notified bool
}

func (f *fakeCommands) StartChobos(_ context.Context, minute int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chobos = append(f.chobos, minute)
	return nil
}

func (f *fakeCommands) StartChainos(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chainos++
	return nil
}

func (f *fakeCommands) StartSkrab(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skrab++
	return nil
}

func (f *fakeCommands) ToggleNotifications(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = !f.notified
	return f.notified
}

func (f *fakeCommands) SubmitOrder(_ context.Context, in orders.Input) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, in)
	return nil
}

func startGateway(t *testing.T, cmds Commands) (*Server, *websocket.Conn) {
	t.Helper()
	srv := NewServer(":0", DefaultConnectionConfig(), cmds)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.manager.Start(ctx)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?user_id=tester"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// The server registers the connection after the handshake completes.
	deadline := time.Now().Add(2 * time.Second)
	for {
		srv.manager.mu.RLock()
		n := len(srv.manager.connections)
		srv.manager.mu.RUnlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("connection never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return srv, conn
}

func readEvent(t *testing.T, conn *websocket.Conn) SpawnEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev SpawnEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	return ev
}

func TestGateway_BroadcastsDisplays(t *testing.T) {
	srv, conn := startGateway(t, nil)

	srv.PublishDisplay("chobos", "03:20")

	ev := readEvent(t, conn)
	if ev.Type != EventTypeTimerDisplay {
		t.Fatalf("event type = %q", ev.Type)
	}
	payload, err := ParseEventPayload(&ev)
	if err != nil {
		t.Fatal(err)
	}
	disp := payload.(TimerDisplayPayload)
	if disp.Slot != "chobos" || disp.Text != "03:20" {
		t.Errorf("payload = %+v", disp)
	}
}

func TestGateway_RoutesTimerCommands(t *testing.T) {
	cmds := &fakeCommands{}
	_, conn := startGateway(t, cmds)

	for _, msg := range []string{
		`{"action":"start_chobos","minute":30}`,
		`{"action":"start_chainos"}`,
		`{"action":"start_skrab"}`,
	} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		cmds.mu.Lock()
		done := len(cmds.chobos) == 1 && cmds.chainos == 1 && cmds.skrab == 1
		cmds.mu.Unlock()
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("commands not routed: %+v", cmds)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if cmds.chobos[0] != 30 {
		t.Errorf("chobos minute = %d, want 30", cmds.chobos[0])
	}
}

func TestGateway_SubmitOrderCommand(t *testing.T) {
	cmds := &fakeCommands{}
	_, conn := startGateway(t, cmds)

	msg := `{"action":"submit_order","player":"zac","mission":"run","basePrice":500,"playersCount":3,"affiliate":"ref"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		cmds.mu.Lock()
		n := len(cmds.orders)
		cmds.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("order command not routed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cmds.mu.Lock()
	got := cmds.orders[0]
	cmds.mu.Unlock()
	want := orders.Input{Player: "zac", Mission: "run", BasePrice: 500, PlayersCount: 3, Affiliate: "ref"}
	if got != want {
		t.Errorf("routed input = %+v, want %+v", got, want)
	}
}

func TestGateway_ToggleBroadcastsState(t *testing.T) {
	cmds := &fakeCommands{}
	_, conn := startGateway(t, cmds)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"toggle_notifications"}`)); err != nil {
		t.Fatal(err)
	}

	ev := readEvent(t, conn)
	if ev.Type != EventTypeNotification {
		t.Fatalf("event type = %q", ev.Type)
	}
	payload, err := ParseEventPayload(&ev)
	if err != nil {
		t.Fatal(err)
	}
	if !payload.(NotificationPayload).Enabled {
		t.Error("first toggle should enable")
	}
}

func TestGateway_UnknownActionRepliesError(t *testing.T) {
	cmds := &fakeCommands{}
	_, conn := startGateway(t, cmds)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"launch_missiles"}`)); err != nil {
		t.Fatal(err)
	}

	ev := readEvent(t, conn)
	if ev.Type != EventTypeError {
		t.Fatalf("event type = %q", ev.Type)
	}
	payload, err := ParseEventPayload(&ev)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(payload.(ErrorPayload).Message, "launch_missiles") {
		t.Errorf("error message = %q", payload.(ErrorPayload).Message)
	}
}
