package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mistakeknot/agentmail/internal/auth"
	"github.com/mistakeknot/agentmail/internal/httpapi"
	"github.com/mistakeknot/agentmail/internal/mail"
	"github.com/mistakeknot/agentmail/internal/storage/sqlite"
	"github.com/mistakeknot/agentmail/internal/tool"
	"github.com/mistakeknot/agentmail/internal/ws"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := sqlite.NewInMemory()
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	svc := mail.NewService(store, nil, mail.Options{}, nil)
	registry, err := tool.NewRegistry(svc, 1000, nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	hub := ws.NewHub(registry)
	svc.WithBroadcaster(hub)

	router := httpapi.NewRouter(httpapi.NewService(registry),
		hub.Handler(), auth.Middleware(auth.ModeNone, nil, nil))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

// TestSmokeMessageFlow exercises the full lifecycle over REST:
// ensure project -> register agents -> send -> inbox -> read -> ack.
func TestSmokeMessageFlow(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/ensure_project", map[string]any{
		"slug": "p1", "human_key": "Project One",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ensure_project status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	for _, name := range []string{"alpha", "beta"} {
		resp = postJSON(t, srv.URL+"/api/register_agent", map[string]any{
			"project": "p1", "name": name, "program": "x", "model": "y", "task_description": "t",
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("register_agent %s status = %d", name, resp.StatusCode)
		}
		resp.Body.Close()
	}

	sent := decode[struct {
		MessageID int64  `json:"message_id"`
		ThreadID  string `json:"thread_id"`
	}](t, postJSON(t, srv.URL+"/api/send_message", map[string]any{
		"project": "p1", "sender": "alpha", "to": []string{"beta"},
		"subject": "hi", "body": "hello", "importance": "normal",
	}))
	if sent.MessageID != 1 || sent.ThreadID == "" {
		t.Fatalf("send result = %+v", sent)
	}

	inbox := decode[struct {
		Messages []struct {
			MessageID int64      `json:"message_id"`
			Subject   string     `json:"subject"`
			ReadAt    *time.Time `json:"read_ts"`
		} `json:"messages"`
	}](t, postJSON(t, srv.URL+"/api/check_inbox", map[string]any{
		"project": "p1", "agent": "beta",
	}))
	if len(inbox.Messages) != 1 || inbox.Messages[0].Subject != "hi" || inbox.Messages[0].ReadAt != nil {
		t.Fatalf("inbox = %+v", inbox)
	}

	read := decode[struct {
		ReadAt *time.Time `json:"read_ts"`
		AckAt  *time.Time `json:"ack_ts"`
	}](t, postJSON(t, srv.URL+"/api/acknowledge_message", map[string]any{
		"project": "p1", "agent": "beta", "message_id": sent.MessageID,
	}))
	if read.ReadAt == nil || read.AckAt == nil {
		t.Fatalf("ack state = %+v", read)
	}
}

func TestSmokeReservationConflictEnvelope(t *testing.T) {
	srv := newTestServer(t)

	postJSON(t, srv.URL+"/api/ensure_project", map[string]any{"slug": "p1"}).Body.Close()
	for _, name := range []string{"alpha", "beta"} {
		postJSON(t, srv.URL+"/api/register_agent", map[string]any{"project": "p1", "name": name}).Body.Close()
	}

	resp := postJSON(t, srv.URL+"/api/reserve_file", map[string]any{
		"project": "p1", "agent": "alpha", "paths": []string{"src/**"}, "ttl_seconds": 3600,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reserve status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/reserve_file", map[string]any{
		"project": "p1", "agent": "beta", "paths": []string{"src/auth.rs"},
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("conflict status = %d", resp.StatusCode)
	}
	env := decode[struct {
		Code    int            `json:"code"`
		Name    string         `json:"name"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	}](t, resp)
	if env.Name != "ReservationConflict" || env.Details["conflicting_reservation_id"] == nil {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestSmokeWebSocketEventAndCall(t *testing.T) {
	srv := newTestServer(t)

	postJSON(t, srv.URL+"/api/ensure_project", map[string]any{"slug": "p1"}).Body.Close()
	for _, name := range []string{"alpha", "beta"} {
		postJSON(t, srv.URL+"/api/register_agent", map[string]any{"project": "p1", "name": name}).Body.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + srv.URL[len("http"):] + "/ws/agents/beta?project=p1"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// a tool call over the socket
	if err := wsjson.Write(ctx, conn, map[string]any{
		"id": 1, "tool": "heartbeat",
		"params": map[string]any{"project": "p1", "agent": "beta"},
	}); err != nil {
		t.Fatalf("write call: %v", err)
	}
	// the heartbeat pushes its own event to this agent before the reply
	var beat struct {
		Type  string `json:"type"`
		Agent string `json:"agent"`
	}
	if err := wsjson.Read(ctx, conn, &beat); err != nil {
		t.Fatalf("read heartbeat event: %v", err)
	}
	if beat.Type != "agent.heartbeat" || beat.Agent != "beta" {
		t.Fatalf("heartbeat event = %+v", beat)
	}
	var reply struct {
		ID     int64          `json:"id"`
		Result map[string]any `json:"result"`
		Error  map[string]any `json:"error"`
	}
	if err := wsjson.Read(ctx, conn, &reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.ID != 1 || reply.Error != nil {
		t.Fatalf("reply = %+v", reply)
	}

	// an event push lands after a send touches this agent
	postJSON(t, srv.URL+"/api/send_message", map[string]any{
		"project": "p1", "sender": "alpha", "to": []string{"beta"},
		"subject": "ping", "body": "x",
	}).Body.Close()

	var event struct {
		Type    string         `json:"type"`
		Agent   string         `json:"agent"`
		Payload map[string]any `json:"payload"`
	}
	if err := wsjson.Read(ctx, conn, &event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Type != "message.created" || event.Agent != "beta" {
		t.Fatalf("event = %+v", event)
	}
}

func TestSmokeHealth(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	body := decode[map[string]any](t, resp)
	if body["status"] != "ok" {
		t.Fatalf("health = %+v", body)
	}
}
