package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"duet/internal/engine"
	"duet/internal/logging"
)

// Side says which capability set an op needs.
type Side string

const (
	SideShared   Side = "shared"
	SidePlanner  Side = "planner"
	SideExecutor Side = "executor"
)

// Request is one structured call from an agent.
type Request struct {
	Agent string          `json:"agent"`
	Op    string          `json:"op"`
	Args  json.RawMessage `json:"args,omitempty"`
}

// OpInfo describes a registered op for listings.
type OpInfo struct {
	Name string `json:"name"`
	Side Side   `json:"side"`
}

type handler func(ctx context.Context, caps Capabilities, args json.RawMessage) (any, error)

type op struct {
	side Side
	call handler
}

type Dispatcher struct {
	eng    Engine
	logger *slog.Logger
	ops    map[string]op
}

func New(eng Engine, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{eng: eng, logger: logging.OrDiscard(logger), ops: map[string]op{}}
	d.registerTaskOps()
	d.registerWorkOps()
	d.registerClarificationOps()
	d.registerContinuityOps()
	return d
}

func (d *Dispatcher) register(name string, side Side, fn handler) {
	if _, dup := d.ops[name]; dup {
		panic("dispatch: duplicate op " + name)
	}
	d.ops[name] = op{side: side, call: fn}
}

// Ops lists registered ops sorted by name.
func (d *Dispatcher) Ops() []OpInfo {
	out := make([]OpInfo, 0, len(d.ops))
	for name, o := range d.ops {
		out = append(out, OpInfo{Name: name, Side: o.side})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call routes req to its op with the capability set of the calling role.
func (d *Dispatcher) Call(ctx context.Context, req Request) (any, error) {
	started := time.Now()
	name := strings.TrimSpace(req.Op)
	role, err := ParseRole(req.Agent)
	if err != nil {
		return nil, err
	}
	o, ok := d.ops[name]
	if !ok {
		return nil, &Error{Code: CodeUnknownOp, Message: fmt.Sprintf("unknown op %q", req.Op)}
	}
	caps, err := Select(d.eng, role)
	if err != nil {
		return nil, err
	}
	switch {
	case o.side == SidePlanner && caps.Planner == nil,
		o.side == SideExecutor && caps.Executor == nil:
		return nil, &Error{Code: CodeForbidden, Message: fmt.Sprintf("op %s is not available to %s", name, role)}
	}

	out, err := o.call(ctx, caps, req.Args)
	lg := d.logger.With("op", name, "agent", string(role), "duration_ms", time.Since(started).Milliseconds())
	if err != nil {
		code := Code(err)
		if code == CodeInternal {
			lg.Error("dispatch call failed", "code", code, "err", err)
		} else {
			lg.Info("dispatch call rejected", "code", code, "err", err)
		}
		return nil, err
	}
	lg.Debug("dispatch call ok")
	return out, nil
}

// decodeArgs rejects unknown fields. Missing or null args decode as the zero value.
func decodeArgs(raw json.RawMessage, dst any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &Error{Code: CodeBadArgs, Message: err.Error()}
	}
	if dec.More() {
		return &Error{Code: CodeBadArgs, Message: "trailing data after args"}
	}
	return nil
}

func requireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return &Error{Code: CodeBadArgs, Message: name + " is required"}
	}
	return nil
}

// typed adapts a handler taking decoded args.
func typed[A any](fn func(ctx context.Context, caps Capabilities, args A) (any, error)) handler {
	return func(ctx context.Context, caps Capabilities, raw json.RawMessage) (any, error) {
		var args A
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		return fn(ctx, caps, args)
	}
}

var _ Engine = (*engine.Engine)(nil)
