package protocol

import "encoding/json"

const (
	TypeRequest  = "req"
	TypeResponse = "res"
	TypeEvent    = "event"
)

// Message is the websocket frame. Requests carry a CallPayload; responses
// echo the request id.
type Message struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload"`
	Error   *ErrPayload     `json:"error,omitempty"`
}

type ErrPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// CallPayload is the payload of a request frame.
type CallPayload struct {
	Agent string          `json:"agent"`
	Args  json.RawMessage `json:"args,omitempty"`
}

func NewResponse(req Message, data any) Message {
	return Message{ID: req.ID, Type: TypeResponse, Op: req.Op, Payload: MustRaw(data)}
}

func NewErrorResponse(req Message, code, msg string, retryable bool) Message {
	return Message{
		ID:      req.ID,
		Type:    TypeResponse,
		Op:      req.Op,
		Payload: MustRaw(nil),
		Error:   &ErrPayload{Code: code, Message: msg, Retryable: retryable},
	}
}

func MustRaw(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
