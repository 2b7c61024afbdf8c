// Package agent routes operator commands received over the realtime bus to
// their actions and sends each action's reply back.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"

	apperrors "github.com/Proton-105/protrader-agent/internal/errors"
	"github.com/Proton-105/protrader-agent/internal/idempotency"
	"github.com/Proton-105/protrader-agent/internal/transport"
	"github.com/Proton-105/protrader-agent/pkg/logger"
	"github.com/Proton-105/protrader-agent/pkg/metrics"
)

// Reply frame types produced by the dispatcher itself.
const (
	TypeCommand    = "command"
	TypeAgentInfo  = "agent_info"
	TypeAgentError = "agent_error"
)

// Command is one operator request.
type Command struct {
	Type      string         `mapstructure:"type"`
	Cmd       string         `mapstructure:"cmd"`
	Args      map[string]any `mapstructure:"args"`
	CommandID string         `mapstructure:"command_id"`
}

// Reply is what an action answers. The dispatcher adds ts and meta.command_id.
type Reply struct {
	Type string
	Data any
	Meta map[string]any
}

// Frame is a reply as sent on the bus.
type Frame struct {
	Type  string         `json:"type"`
	TS    int64          `json:"ts"`
	Data  any            `json:"data,omitempty"`
	Error string         `json:"error,omitempty"`
	Meta  map[string]any `json:"meta"`
}

// Action executes one command.
type Action func(ctx context.Context, cmd Command) (Reply, error)

// Middleware wraps an action. The first middleware passed to Use runs outermost.
type Middleware func(next Action) Action

// Sender queues frames for the operator.
type Sender interface {
	Send(frame any) bool
}

// Receiver yields inbound frames. transport.Client implements it.
type Receiver interface {
	Receive(ctx context.Context) (transport.Frame, error)
}

// Dispatcher owns the action registry.
type Dispatcher struct {
	mu      sync.RWMutex
	actions map[string]Action
	chain   []Middleware

	sender   Sender
	idem     idempotency.Manager
	ttl      time.Duration
	handler  *apperrors.Handler
	log      *slog.Logger
	now      func() time.Time
	inflight sync.WaitGroup
}

// NewDispatcher builds a dispatcher replying through sender. idem may be nil
// to disable command deduplication.
func NewDispatcher(sender Sender, idem idempotency.Manager, ttl time.Duration, handler *apperrors.Handler, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if handler == nil {
		handler = apperrors.NewHandler(log, false)
	}

	d := &Dispatcher{
		actions: make(map[string]Action),
		sender:  sender,
		idem:    idem,
		ttl:     ttl,
		handler: handler,
		log:     log.With("component", "dispatcher"),
		now:     time.Now,
	}
	d.Register("ping", d.ping)

	return d
}

// Register binds name to action, replacing any previous binding.
func (d *Dispatcher) Register(name string, action Action) {
	d.mu.Lock()
	d.actions[name] = action
	d.mu.Unlock()
}

// Use appends middleware applied to every registered action.
func (d *Dispatcher) Use(mw ...Middleware) {
	d.mu.Lock()
	d.chain = append(d.chain, mw...)
	d.mu.Unlock()
}

// Commands lists the registered command names.
func (d *Dispatcher) Commands() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.actions))
	for name := range d.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Serve handles inbound frames until ctx is done. Each command runs on its
// own goroutine so a slow action never blocks the link.
func (d *Dispatcher) Serve(ctx context.Context, src Receiver) error {
	defer d.inflight.Wait()

	for {
		frame, err := src.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		d.inflight.Add(1)
		go func() {
			defer d.inflight.Done()
			d.Handle(ctx, frame)
		}()
	}
}

// Handle processes one inbound frame. Non-command frames are only logged.
func (d *Dispatcher) Handle(ctx context.Context, frame transport.Frame) {
	switch t := frame.Type(); t {
	case TypeCommand:
	case transport.TypeLocalInfo, transport.TypeLocalError:
		d.log.DebugContext(ctx, "link event", slog.String("type", t), slog.Any("msg", frame["msg"]))
		return
	default:
		d.log.WarnContext(ctx, "unhandled message type", slog.String("type", t))
		return
	}

	cmd, err := decodeCommand(frame)
	if err != nil {
		d.log.WarnContext(ctx, "malformed command", slog.Any("error", err))
		d.sender.Send(d.errorFrame(ctx, Command{}, apperrors.NewValidationError(err.Error())))
		return
	}

	if cmd.CommandID != "" {
		ctx = logger.WithCommandID(ctx, cmd.CommandID)
	}

	d.sender.Send(d.Dispatch(ctx, cmd))
}

// Dispatch runs cmd and returns the frame to send back.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) any {
	started := d.now()

	d.mu.RLock()
	action, ok := d.actions[cmd.Cmd]
	chain := d.chain
	d.mu.RUnlock()

	if !ok {
		d.log.WarnContext(ctx, "unknown command", slog.String("cmd", cmd.Cmd))
		metrics.RecordCommand(cmd.Cmd, "unknown", time.Since(started))
		return Frame{
			Type: TypeAgentInfo,
			TS:   d.now().Unix(),
			Data: map[string]string{"info": fmt.Sprintf("unknown command '%s'", cmd.Cmd)},
			Meta: map[string]any{"command_id": cmd.CommandID},
		}
	}

	d.log.InfoContext(ctx, "executing command", slog.String("cmd", cmd.Cmd))

	for i := len(chain) - 1; i >= 0; i-- {
		action = chain[i](action)
	}

	run := func(ctx context.Context) (any, error) {
		reply, err := action(ctx, cmd)
		if err != nil {
			return nil, err
		}
		return d.replyFrame(cmd, reply), nil
	}

	var (
		out    any
		err    error
		status = "ok"
	)
	if d.idem != nil && cmd.CommandID != "" {
		var res *idempotency.Result
		res, err = d.idem.Execute(ctx, idempotency.CommandKey(cmd.Cmd, cmd.CommandID), d.ttl, run)
		if err == nil {
			out = res.Response
			if res.FromCache {
				status = "replayed"
			}
		}
	} else {
		out, err = run(ctx)
	}

	if err != nil {
		metrics.RecordCommand(cmd.Cmd, "error", time.Since(started))
		return d.errorFrame(ctx, cmd, err)
	}

	metrics.RecordCommand(cmd.Cmd, status, time.Since(started))
	return out
}

func (d *Dispatcher) replyFrame(cmd Command, reply Reply) Frame {
	meta := map[string]any{"command_id": cmd.CommandID}
	for k, v := range reply.Meta {
		meta[k] = v
	}

	return Frame{
		Type: reply.Type,
		TS:   d.now().Unix(),
		Data: reply.Data,
		Meta: meta,
	}
}

func (d *Dispatcher) errorFrame(ctx context.Context, cmd Command, err error) Frame {
	msg, _ := d.handler.Handle(ctx, err)
	if errors.Is(err, idempotency.ErrRequestInProgress) {
		msg = fmt.Sprintf("command '%s' is already in progress", cmd.Cmd)
	}

	return Frame{
		Type:  TypeAgentError,
		TS:    d.now().Unix(),
		Error: msg,
		Meta:  map[string]any{"command_id": cmd.CommandID, "cmd": cmd.Cmd},
	}
}

func (d *Dispatcher) ping(context.Context, Command) (Reply, error) {
	return Reply{Type: "pong", Data: map[string]int64{"ts": d.now().Unix()}}, nil
}

func decodeCommand(frame transport.Frame) (Command, error) {
	var cmd Command
	if err := decodeArgs(map[string]any(frame), &cmd); err != nil {
		return Command{}, err
	}

	cmd.Cmd = strings.TrimSpace(cmd.Cmd)
	if cmd.Cmd == "" {
		return Command{}, errors.New("command without cmd")
	}
	if cmd.Args == nil {
		cmd.Args = map[string]any{}
	}

	return cmd, nil
}

// decodeArgs maps loosely typed JSON values onto out, converting numbers and
// strings where needed.
func decodeArgs(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}
