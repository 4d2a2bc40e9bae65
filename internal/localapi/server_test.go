package localapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	dbmodel "duet/internal/db"
	"duet/internal/dispatch"
	"duet/internal/engine"
	"duet/internal/protocol"

	"github.com/coder/websocket"
)

type apiResponse struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	gdb, err := dbmodel.OpenSQLiteWithMigrations(filepath.Join(t.TempDir(), "duet.db"), dbmodel.Options{})
	if err != nil {
		t.Fatalf("OpenSQLiteWithMigrations failed: %v", err)
	}
	t.Cleanup(func() { _ = dbmodel.Close(gdb) })
	eng, err := engine.New(gdb, engine.Options{ProjectID: "p1"})
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	srv := NewServer(Deps{Caller: dispatch.New(eng, nil), ProjectID: "p1"})
	eng.Subscribe(srv.PublishEvent)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postCall(t *testing.T, ts *httptest.Server, body string) (int, apiResponse) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/v1/call", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /api/v1/call failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	return resp.StatusCode, out
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !out.OK || !strings.Contains(string(out.Data), `"project_id":"p1"`) {
		t.Fatalf("unexpected health payload: %s", string(out.Data))
	}
}

func TestCall_CreateAndClaim(t *testing.T) {
	_, ts := newTestServer(t)

	code, out := postCall(t, ts, `{"agent":"planner","op":"create_task","args":{"title":"ship api"}}`)
	if code != http.StatusOK || !out.OK {
		t.Fatalf("create_task failed: %d %+v", code, out.Error)
	}
	var created struct {
		Task engine.Task `json:"task"`
	}
	if err := json.Unmarshal(out.Data, &created); err != nil {
		t.Fatalf("decode created task failed: %v", err)
	}

	code, out = postCall(t, ts, `{"agent":"executor","op":"claim_task","args":{"task_id":"`+created.Task.ID+`"}}`)
	if code != http.StatusOK || !out.OK {
		t.Fatalf("claim_task failed: %d %+v", code, out.Error)
	}
	code, out = postCall(t, ts, `{"agent":"executor","op":"claim_task","args":{"task_id":"`+created.Task.ID+`"}}`)
	if code != http.StatusConflict || out.Error.Code != dispatch.CodeInvalidTransition {
		t.Fatalf("expected 409 INVALID_TRANSITION, got %d %+v", code, out.Error)
	}
	if !strings.Contains(out.Error.Message, "claimed") {
		t.Fatalf("expected message to name current status, got %q", out.Error.Message)
	}
}

func TestCall_ErrorStatuses(t *testing.T) {
	_, ts := newTestServer(t)

	if code, out := postCall(t, ts, `{"agent":"executor","op":"create_task","args":{"title":"x"}}`); code != http.StatusForbidden || out.Error.Code != dispatch.CodeForbidden {
		t.Fatalf("expected 403 FORBIDDEN, got %d %+v", code, out.Error)
	}
	if code, out := postCall(t, ts, `{"agent":"planner","op":"get_task","args":{"task_id":"nope"}}`); code != http.StatusNotFound || out.Error.Code != dispatch.CodeNotFound {
		t.Fatalf("expected 404 NOT_FOUND, got %d %+v", code, out.Error)
	}
	if code, out := postCall(t, ts, `not json`); code != http.StatusBadRequest || out.Error.Code != dispatch.CodeBadArgs {
		t.Fatalf("expected 400 BAD_ARGS, got %d %+v", code, out.Error)
	}

	resp, err := http.Get(ts.URL + "/api/v1/call")
	if err != nil {
		t.Fatalf("GET /api/v1/call failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestCall_AgentHeaderFallback(t *testing.T) {
	_, ts := newTestServer(t)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/call", strings.NewReader(`{"op":"get_project_state"}`))
	if err != nil {
		t.Fatalf("new request failed: %v", err)
	}
	req.Header.Set("X-Duet-Agent", "executor")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with header agent, got %d", resp.StatusCode)
	}
}

func TestOps_ListsRegisteredOps(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/v1/ops")
	if err != nil {
		t.Fatalf("GET /api/v1/ops failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	var ops []dispatch.OpInfo
	if err := json.Unmarshal(out.Data, &ops); err != nil {
		t.Fatalf("decode ops failed: %v", err)
	}
	found := false
	for _, op := range ops {
		if op.Name == "pull_next_task" && op.Side == dispatch.SideExecutor {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected pull_next_task in ops, got %#v", ops)
	}
}

func TestWSHub_StreamsCommittedEventsAndServesRequests(t *testing.T) {
	_, ts := newTestServer(t)

	wsURL := "ws" + ts.URL[len("http"):] + "/ws"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	readUntil := func(match func(protocol.Message) bool) protocol.Message {
		for {
			_, raw, err := conn.Read(ctx)
			if err != nil {
				t.Fatalf("read ws failed: %v", err)
			}
			var msg protocol.Message
			if err := json.Unmarshal(raw, &msg); err != nil {
				t.Fatalf("decode ws frame failed: %v", err)
			}
			if match(msg) {
				return msg
			}
		}
	}

	req := protocol.Message{
		ID:      "req_1",
		Type:    protocol.TypeRequest,
		Op:      "create_task",
		Payload: protocol.MustRaw(map[string]any{"agent": "planner", "args": map[string]any{"title": "via ws"}}),
	}
	b, _ := json.Marshal(req)
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write ws request failed: %v", err)
	}

	evt := readUntil(func(m protocol.Message) bool { return m.Type == protocol.TypeEvent && m.Op == engine.EventTaskCreated })
	var payload map[string]any
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		t.Fatalf("decode event payload failed: %v", err)
	}
	if payload["project_id"] != "p1" || payload["agent"] != "planner" || payload["task_id"] == "" {
		t.Fatalf("unexpected event payload: %#v", payload)
	}

	res := readUntil(func(m protocol.Message) bool { return m.Type == protocol.TypeResponse && m.ID == "req_1" })
	if res.Error != nil {
		t.Fatalf("unexpected ws error: %+v", res.Error)
	}

	bad := protocol.Message{ID: "req_2", Type: protocol.TypeRequest, Op: "claim_task", Payload: protocol.MustRaw(map[string]any{"agent": "executor", "args": map[string]any{"task_id": "missing"}})}
	b, _ = json.Marshal(bad)
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write ws request failed: %v", err)
	}
	res = readUntil(func(m protocol.Message) bool { return m.Type == protocol.TypeResponse && m.ID == "req_2" })
	if res.Error == nil || res.Error.Code != dispatch.CodeNotFound {
		t.Fatalf("expected NOT_FOUND response, got %+v", res.Error)
	}
}

func TestWSHub_PublishDropsForFullClientQueue(t *testing.T) {
	hub := NewWSHub(nil, nil)
	stalled := &wsClient{send: make(chan []byte, 1), done: make(chan struct{})}
	healthy := &wsClient{send: make(chan []byte, 4), done: make(chan struct{})}
	hub.clients[stalled] = struct{}{}
	hub.clients[healthy] = struct{}{}

	started := time.Now()
	for i := 0; i < 3; i++ {
		hub.Publish(engine.EventTaskCreated, "p1", "t1", map[string]any{"n": i})
	}
	if elapsed := time.Since(started); elapsed > 100*time.Millisecond {
		t.Fatalf("publish waited on a stalled client for %s", elapsed)
	}
	if len(stalled.send) != 1 || len(healthy.send) != 3 {
		t.Fatalf("unexpected queue lengths stalled=%d healthy=%d", len(stalled.send), len(healthy.send))
	}
	if hub.Dropped() != 2 {
		t.Fatalf("expected 2 dropped events, got %d", hub.Dropped())
	}

	var first protocol.Message
	if err := json.Unmarshal(<-healthy.send, &first); err != nil {
		t.Fatalf("decode queued frame failed: %v", err)
	}
	if first.Type != protocol.TypeEvent || first.Op != engine.EventTaskCreated {
		t.Fatalf("unexpected queued frame: %+v", first)
	}
}
