package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"scene-collab/internal/models"
	"scene-collab/internal/services/relay"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

type fakeHistory struct {
	mu         stdsync.Mutex
	reconciled []string
	undos      []string
	redos      []string
	replays    int
}

func (f *fakeHistory) Reconcile(op *models.SceneOperation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciled = append(f.reconciled, op.ID)
	return nil
}

func (f *fakeHistory) ApplyRemoteUndo(operationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.undos = append(f.undos, operationID)
	return nil
}

func (f *fakeHistory) ApplyRemoteRedo(operationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redos = append(f.redos, operationID)
	return nil
}

func (f *fakeHistory) Replay(ops []models.SceneOperation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replays++
	return nil
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(time.Second, tt.attempt); got != tt.want {
			t.Errorf("Backoff(1s, %d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestClient_SendWhileDisconnected(t *testing.T) {
	client := NewClient(Config{ServerURL: "ws://localhost:0"}, NewPresenceStore())

	err := client.SendChatMessage("hello")
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send error = %v, want ErrNotConnected", err)
	}
	if client.Connected() {
		t.Error("Connected() = true without a transport")
	}
}

func envelope(t *testing.T, msgType models.MessageType, userID string, payload interface{}) []byte {
	t.Helper()
	msg := models.MustMessage(msgType, payload)
	msg.UserID = userID
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("failed to encode envelope: %v", err)
	}
	return data
}

func TestClient_HandleMessageDemux(t *testing.T) {
	presence := NewPresenceStore()
	client := NewClient(Config{ServerURL: "ws://localhost:0"}, presence)

	history := &fakeHistory{}
	client.AttachHistory(history)

	var chats []string
	client.OnChat(func(p models.ChatPayload) { chats = append(chats, p.Content) })
	var serverErrors []string
	client.OnServerError(func(m string) { serverErrors = append(serverErrors, m) })

	op := models.SceneOperation{
		ID:     "op-1",
		UserID: "peer-1",
		Type:   models.OpAdd,
		Target: models.OperationTarget{Kind: models.TargetShape, ID: "shape-1"},
	}
	client.handleMessage(envelope(t, models.MessageSceneOperation, "peer-1", op))
	client.handleMessage(envelope(t, models.MessageCursorUpdate, "peer-1", models.CursorPayload{X: 5, Y: 6}))
	client.handleMessage(envelope(t, models.MessageChat, "peer-1", models.ChatPayload{Content: "hi", UserID: "peer-1"}))
	client.handleMessage(envelope(t, models.MessageUndo, "peer-1", models.HistoryIntentPayload{OperationID: "op-1"}))
	client.handleMessage(envelope(t, models.MessageRedo, "peer-1", models.HistoryIntentPayload{OperationID: "op-1"}))
	client.handleMessage(envelope(t, models.MessageInitialState, "", models.InitialStatePayload{}))
	client.handleMessage(envelope(t, models.MessageUserJoined, "peer-2", models.UserEventPayload{UserID: "peer-2"}))
	client.handleMessage(envelope(t, models.MessageError, "", models.ErrorPayload{Message: "Rate limit exceeded"}))

	if len(history.reconciled) != 1 || history.reconciled[0] != "op-1" {
		t.Errorf("reconciled = %v, want [op-1]", history.reconciled)
	}
	if len(history.undos) != 1 || len(history.redos) != 1 {
		t.Errorf("undos = %v, redos = %v, want one each", history.undos, history.redos)
	}
	if history.replays != 1 {
		t.Errorf("replays = %d, want 1", history.replays)
	}

	user, ok := presence.Get("peer-1")
	if !ok {
		t.Fatal("peer-1 missing from presence")
	}
	if user.Cursor != (models.CursorPos{X: 5, Y: 6}) {
		t.Errorf("peer-1 cursor = %+v", user.Cursor)
	}
	if _, ok := presence.Get("peer-2"); !ok {
		t.Error("user_joined did not register peer-2")
	}

	client.handleMessage(envelope(t, models.MessageUserLeft, "peer-2", models.UserEventPayload{UserID: "peer-2"}))
	if _, ok := presence.Get("peer-2"); ok {
		t.Error("user_left did not remove peer-2")
	}

	if len(chats) != 1 || chats[0] != "hi" {
		t.Errorf("chats = %v, want [hi]", chats)
	}
	if len(serverErrors) != 1 || serverErrors[0] != "Rate limit exceeded" {
		t.Errorf("serverErrors = %v", serverErrors)
	}
}

func TestClient_ReconnectGivesUpAfterCap(t *testing.T) {
	var dials int32
	terminal := make(chan error, 1)

	client := NewClient(Config{
		ServerURL:            "ws://localhost:0",
		ReconnectBase:        time.Millisecond,
		MaxReconnectAttempts: 3,
	}, NewPresenceStore())
	client.OnTerminalDisconnect(func(err error) { terminal <- err })
	client.dial = func(ctx context.Context, url string) (*websocket.Conn, *http.Response, error) {
		atomic.AddInt32(&dials, 1)
		return nil, nil, errors.New("dial refused")
	}

	// Simulate an established connection dropping unexpectedly.
	client.handleClose(errors.New("connection reset"))

	select {
	case <-terminal:
	case <-time.After(2 * time.Second):
		t.Fatal("terminal disconnect callback never fired")
	}

	if got := atomic.LoadInt32(&dials); got != 3 {
		t.Errorf("dial attempts = %d, want 3", got)
	}
}

func TestClient_DeliberateDisconnectDoesNotReconnect(t *testing.T) {
	var dials int32

	client := NewClient(Config{
		ServerURL:     "ws://localhost:0",
		ReconnectBase: time.Millisecond,
	}, NewPresenceStore())
	client.dial = func(ctx context.Context, url string) (*websocket.Conn, *http.Response, error) {
		atomic.AddInt32(&dials, 1)
		return nil, nil, errors.New("dial refused")
	}

	client.Disconnect()
	client.handleClose(errors.New("closed"))

	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&dials); got != 0 {
		t.Errorf("dial attempts = %d after deliberate disconnect, want 0", got)
	}
}

func TestClient_RoundTripAgainstRelay(t *testing.T) {
	reg := relay.NewRegistry(relay.RegistryConfig{
		RateLimit:     100,
		MaxOperations: 1000,
		ChatMaxLength: 1000,
		RoomTimeout:   time.Hour,
	}, nil)
	h := relay.NewHandler(reg)

	r := mux.NewRouter()
	r.HandleFunc("/room/{roomId}", h.HandleRoomConnection)
	srv := httptest.NewServer(r)
	defer srv.Close()
	defer reg.Shutdown()

	client := NewClient(Config{
		ServerURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
	}, NewPresenceStore())

	history := &fakeHistory{}
	client.AttachHistory(history)

	chats := make(chan models.ChatPayload, 1)
	client.OnChat(func(p models.ChatPayload) { chats <- p })

	if err := client.Connect(context.Background(), "room-1"); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Disconnect()

	if !client.Connected() {
		t.Fatal("Connected() = false after Connect")
	}

	if err := client.SendChatMessage("round trip"); err != nil {
		t.Fatalf("SendChatMessage() error: %v", err)
	}

	// The relay broadcasts chat to everyone, the sender included.
	select {
	case chat := <-chats:
		if chat.Content != "round trip" {
			t.Errorf("chat content = %q, want %q", chat.Content, "round trip")
		}
		if chat.UserID == "" {
			t.Error("chat carries no relay-stamped author")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("chat echo never arrived")
	}

	// Joining replayed the (empty) room log.
	history.mu.Lock()
	replays := history.replays
	history.mu.Unlock()
	if replays != 1 {
		t.Errorf("replays = %d, want 1", replays)
	}
}
