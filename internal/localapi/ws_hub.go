package localapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"duet/internal/dispatch"
	"duet/internal/logging"
	"duet/internal/protocol"

	"github.com/coder/websocket"
)

const (
	clientQueueSize = 64
	wsWriteTimeout  = 500 * time.Millisecond
)

type callFunc func(ctx context.Context, req dispatch.Request) (any, error)

// wsClient owns one connection. Only its writer goroutine writes to conn.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// WSHub fans committed events out to every connection and serves request
// frames through the dispatcher. Publish never waits on a slow client; when a
// client's queue is full the event is dropped for that client.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	seq     atomic.Uint64
	dropped atomic.Uint64
	call    callFunc
	logger  *slog.Logger
}

func NewWSHub(call callFunc, logger *slog.Logger) *WSHub {
	return &WSHub{clients: map[*wsClient]struct{}{}, call: call, logger: logging.OrDiscard(logger)}
}

func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", "err", err)
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, clientQueueSize), done: make(chan struct{})}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	ctx, cancel := context.WithCancel(r.Context())
	go h.writeLoop(ctx, c)
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		cancel()
		<-c.done
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg protocol.Message
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != protocol.TypeRequest {
			continue
		}
		b, err := json.Marshal(h.serveRequest(ctx, msg))
		if err != nil {
			h.logger.Error("encode websocket frame failed", "op", msg.Op, "err", err)
			continue
		}
		// Responses wait for queue space; only broadcast events are dropped.
		select {
		case c.send <- b:
		case <-ctx.Done():
			return
		}
	}
}

func (h *WSHub) writeLoop(ctx context.Context, c *wsClient) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, b)
			cancel()
			if err != nil {
				h.logger.Debug("websocket write failed", "err", err)
				_ = c.conn.Close(websocket.StatusPolicyViolation, "write failed")
				return
			}
		}
	}
}

func (h *WSHub) serveRequest(ctx context.Context, msg protocol.Message) protocol.Message {
	var call protocol.CallPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &call); err != nil {
			return protocol.NewErrorResponse(msg, dispatch.CodeBadArgs, "invalid call payload", false)
		}
	}
	out, err := h.call(ctx, dispatch.Request{Agent: call.Agent, Op: msg.Op, Args: call.Args})
	if err != nil {
		code := dispatch.Code(err)
		return protocol.NewErrorResponse(msg, code, err.Error(), dispatch.Retryable(code))
	}
	return protocol.NewResponse(msg, out)
}

func (h *WSHub) Publish(topic, projectID, taskID string, payload map[string]any) {
	outPayload := map[string]any{}
	if projectID != "" {
		outPayload["project_id"] = projectID
	}
	if taskID != "" {
		outPayload["task_id"] = taskID
	}
	for k, v := range payload {
		outPayload[k] = v
	}

	evt := protocol.Message{
		ID:      fmt.Sprintf("evt_%d", h.seq.Add(1)),
		Type:    protocol.TypeEvent,
		Op:      topic,
		Payload: protocol.MustRaw(outPayload),
	}
	b, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("encode websocket frame failed", "op", topic, "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			h.dropped.Add(1)
			h.logger.Warn("websocket client queue full, event dropped", "op", topic)
		}
	}
}

// Dropped counts events discarded because a client's queue was full.
func (h *WSHub) Dropped() uint64 {
	return h.dropped.Load()
}
