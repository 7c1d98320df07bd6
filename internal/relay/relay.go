// Package relay turns one inbound request into a local backend call and
// emits its results as protocol frames. Each request with a distinct id is
// handled independently; for a single id outbound frames keep the order the
// backend produced them, and exactly one terminal frame is emitted.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gridmesh/gridmesh/internal/logx"
	"github.com/gridmesh/gridmesh/internal/proto"
	"github.com/gridmesh/gridmesh/internal/sse"
)

// ErrorCodePlugin is the error code reported for any backend-side failure.
const ErrorCodePlugin = "plugin_error"

// ErrorCodeDuplicate is reported when a request id is already in flight.
const ErrorCodeDuplicate = "duplicate_request"

// ModelDefault is the sentinel a request may carry instead of a model id.
const ModelDefault = "default"

// Backend is the local inference endpoint the relay drives.
type Backend interface {
	Complete(ctx context.Context, body []byte) ([]byte, error)
	CompleteStream(ctx context.Context, body []byte) (io.ReadCloser, error)
}

// Sender delivers outbound frames to the connection's send path. A false
// return means the connection was down and the frame was dropped.
type Sender interface {
	Send(msg proto.Message) bool
}

// Observer is notified once per finished request.
type Observer interface {
	OnRequestDone(success bool, duration time.Duration, served uint64)
}

// NopObserver discards all notifications.
type NopObserver struct{}

func (NopObserver) OnRequestDone(bool, time.Duration, uint64) {}

// Relay relays inbound requests to the backend.
type Relay struct {
	backend      Backend
	send         Sender
	defaultModel string
	timeout      time.Duration
	obs          Observer

	mu      sync.Mutex
	pending map[string]struct{}
	served  atomic.Uint64
}

func New(b Backend, s Sender, defaultModel string, timeout time.Duration, obs Observer) *Relay {
	if obs == nil {
		obs = NopObserver{}
	}
	return &Relay{
		backend:      b,
		send:         s,
		defaultModel: defaultModel,
		timeout:      timeout,
		obs:          obs,
		pending:      map[string]struct{}{},
	}
}

// Served returns the number of successfully completed requests.
func (r *Relay) Served() uint64 { return r.served.Load() }

// Handle processes one inbound request to its terminal frame. It is safe to
// call concurrently for distinct ids; a duplicate in-flight id is answered
// with an error frame without touching the original operation.
func (r *Relay) Handle(ctx context.Context, id string, body json.RawMessage) {
	if !r.begin(id) {
		logx.Log.Warn().Str("request_id", id).Msg("duplicate request id")
		r.send.Send(&proto.ErrorMessage{ID: id, Code: ErrorCodeDuplicate, Message: "request id already in flight"})
		return
	}
	start := time.Now()
	done := false
	success := false
	defer func() {
		if p := recover(); p != nil {
			logx.Log.Error().Str("request_id", id).Interface("panic", p).Msg("relay panic")
			if !done {
				r.send.Send(&proto.ErrorMessage{ID: id, Code: ErrorCodePlugin, Message: fmt.Sprintf("internal error: %v", p)})
			}
			success = false
		}
		r.finish(id)
		if success {
			r.served.Add(1)
		}
		r.obs.OnRequestDone(success, time.Since(start), r.served.Load())
		lvl := logx.Log.Info()
		msg := "request complete"
		if !success {
			lvl = logx.Log.Warn()
			msg = "request failed"
		}
		lvl.Str("request_id", id).Dur("duration", time.Since(start)).Msg(msg)
	}()

	// terminal marks the request answered before the frame leaves, so a
	// panic inside the send path cannot produce a second terminal frame.
	terminal := func(msg proto.Message) {
		done = true
		r.send.Send(msg)
	}

	payload, streaming, err := prepareBody(body, r.defaultModel)
	if err != nil {
		terminal(&proto.ErrorMessage{ID: id, Code: ErrorCodePlugin, Message: err.Error()})
		return
	}

	if streaming {
		success = r.handleStream(ctx, id, payload, terminal)
	} else {
		success = r.handleUnary(ctx, id, payload, terminal)
	}
}

func (r *Relay) begin(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[id]; ok {
		return false
	}
	r.pending[id] = struct{}{}
	return true
}

func (r *Relay) finish(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// prepareBody clones the request body, substitutes the default model for the
// sentinel or a missing model, and pins the stream flag.
func prepareBody(body json.RawMessage, defaultModel string) ([]byte, bool, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, false, fmt.Errorf("invalid request body: %w", err)
	}
	model, _ := payload["model"].(string)
	if model == "" || model == ModelDefault {
		payload["model"] = defaultModel
	}
	streaming, _ := payload["stream"].(bool)
	payload["stream"] = streaming
	out, err := json.Marshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("encode request body: %w", err)
	}
	return out, streaming, nil
}

func (r *Relay) handleUnary(ctx context.Context, id string, payload []byte, terminal func(proto.Message)) bool {
	reqCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	data, err := r.backend.Complete(reqCtx, payload)
	if err != nil {
		logx.Log.Error().Str("request_id", id).Err(err).Msg("backend call failed")
		terminal(&proto.ErrorMessage{ID: id, Code: ErrorCodePlugin, Message: err.Error()})
		return false
	}
	terminal(&proto.ResponseMessage{ID: id, Body: data})
	return true
}

func (r *Relay) handleStream(ctx context.Context, id string, payload []byte, terminal func(proto.Message)) bool {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	rc, err := r.backend.CompleteStream(streamCtx, payload)
	if err != nil {
		logx.Log.Error().Str("request_id", id).Err(err).Msg("backend stream failed")
		terminal(&proto.ErrorMessage{ID: id, Code: ErrorCodePlugin, Message: err.Error()})
		return false
	}
	defer func() {
		_ = rc.Close()
	}()

	// Cancel the stream when the backend goes quiet for the configured
	// timeout; each decoded event resets the window.
	var idle *time.Timer
	if r.timeout > 0 {
		idle = time.NewTimer(r.timeout)
		go func() {
			select {
			case <-idle.C:
				cancel()
			case <-streamCtx.Done():
			}
		}()
		defer idle.Stop()
	}

	var usage proto.Usage
	sc := sse.NewScanner(rc)
	for sc.Next() {
		if idle != nil {
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.timeout)
		}
		ev := sc.Event()
		if !json.Valid(ev.Data) {
			logx.Log.Debug().Str("request_id", id).Msg("skipping non-JSON stream event")
			continue
		}
		r.send.Send(&proto.StreamEventMessage{ID: id, Event: json.RawMessage(ev.Data)})
		if u, ok := usageFromEvent(ev); ok {
			usage = u
		}
	}
	if err := sc.Err(); err != nil {
		logx.Log.Error().Str("request_id", id).Err(err).Msg("stream interrupted")
		terminal(&proto.ErrorMessage{ID: id, Code: ErrorCodePlugin, Message: err.Error()})
		return false
	}
	terminal(&proto.StreamEndMessage{ID: id, Usage: usage})
	return true
}

// backendUsage mirrors the token counters the backend reports on its
// completion event.
type backendUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

func (u backendUsage) toProto() proto.Usage {
	return proto.Usage{Input: u.InputTokens, Output: u.OutputTokens, Total: u.TotalTokens}
}

// usageFromEvent extracts token usage from a terminal "completed" event.
// The counters may sit at the top level or under the response object.
func usageFromEvent(ev sse.Event) (proto.Usage, bool) {
	var evt struct {
		Type     string        `json:"type"`
		Usage    *backendUsage `json:"usage"`
		Response *struct {
			Usage *backendUsage `json:"usage"`
		} `json:"response"`
	}
	if err := json.Unmarshal(ev.Data, &evt); err != nil {
		return proto.Usage{}, false
	}
	kind := evt.Type
	if kind == "" {
		kind = ev.Name
	}
	if !strings.HasSuffix(kind, "completed") {
		return proto.Usage{}, false
	}
	if evt.Response != nil && evt.Response.Usage != nil {
		return evt.Response.Usage.toProto(), true
	}
	if evt.Usage != nil {
		return evt.Usage.toProto(), true
	}
	return proto.Usage{}, false
}
