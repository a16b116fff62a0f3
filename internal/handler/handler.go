// Package handler runs one invocation: it routes the trigger event into
// units, decodes each unit into events and delivers them, suspending with
// resume messages when the time budget runs low.
package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinytelemetry/ferry/internal/config"
	"github.com/tinytelemetry/ferry/internal/ingest"
	"github.com/tinytelemetry/ferry/internal/model"
	"github.com/tinytelemetry/ferry/internal/resume"
	"github.com/tinytelemetry/ferry/internal/shipper"
	"github.com/tinytelemetry/ferry/internal/storage"
	"github.com/tinytelemetry/ferry/internal/trigger"
)

// Status is the outcome of an invocation.
type Status string

const (
	StatusCompleted  Status = "completed"
	StatusContinuing Status = "continuing"
	StatusError      Status = "error"
)

// ErrInputNotFound is returned when no input is configured for a unit.
var ErrInputNotFound = errors.New("handler: input not found")

// Result summarizes an invocation.
type Result struct {
	Status       Status `json:"status"`
	InvocationID string `json:"invocation_id"`

	Units     int `json:"units"`
	Completed int `json:"completed_units"`
	Continued int `json:"continued_units,omitempty"`

	Sent       int `json:"sent"`
	Empty      int `json:"empty"`
	Filtered   int `json:"filtered"`
	Succeeded  int `json:"succeeded"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
	Replayed   int `json:"replayed"`

	Errors []string `json:"errors,omitempty"`
}

func (r *Result) addStats(s shipper.Stats) {
	r.Sent += s.Sent
	r.Empty += s.Empty
	r.Filtered += s.Filtered
	r.Succeeded += s.Succeeded
	r.Duplicates += s.Duplicates
	r.Failed += s.Failed
	r.Replayed += s.Replayed
}

// ReplayFactory returns the sink for events of one input that the backend
// rejected. It may return nil.
type ReplayFactory func(inputType, inputID, config string) shipper.ReplaySink

// Options configures a Handler.
type Options struct {
	// Config is the process-wide input configuration. Units carrying their
	// own configuration (continuations) use that instead.
	Config  *config.Config
	Secrets config.SecretResolver

	Router       *trigger.Router
	Backend      shipper.Backend
	Continuation resume.Continuation
	Replay       ReplayFactory

	// Budget reports the time left for an invocation. Defaults to the
	// deadline of the invocation context.
	Budget    func(ctx context.Context) resume.Budget
	Grace     time.Duration
	Now       func() time.Time
	ChunkSize int
}

// Handler processes invocations. It is safe for concurrent use; all state
// of an invocation is local to Invoke.
type Handler struct {
	opts    Options
	factory *ingest.EventFactory

	mu      sync.Mutex
	configs map[string]*config.Config
}

// New returns a handler. Router and Backend are required.
func New(opts Options) (*Handler, error) {
	if opts.Router == nil {
		return nil, errors.New("handler: router is required")
	}
	if opts.Backend == nil {
		return nil, errors.New("handler: backend is required")
	}
	if opts.Budget == nil {
		opts.Budget = resume.ContextBudget
	}
	return &Handler{
		opts:    opts,
		factory: ingest.NewEventFactory(opts.Now),
		configs: make(map[string]*config.Config),
	}, nil
}

// invocation is the state of one Invoke call.
type invocation struct {
	id       string
	coord    *resume.Coordinator
	batchers map[string]*shipper.Batcher
	result   Result
}

// Invoke processes one trigger event. Trigger and configuration errors are
// returned as errors. Decode errors abort only the affected unit and are
// reported in the result.
func (h *Handler) Invoke(ctx context.Context, raw []byte) (Result, error) {
	inv := &invocation{
		id:       uuid.NewString(),
		coord:    resume.NewCoordinator(h.opts.Budget(ctx), h.opts.Grace),
		batchers: make(map[string]*shipper.Batcher),
	}
	inv.result.InvocationID = inv.id

	units, err := h.opts.Router.Route(ctx, raw)
	if err != nil {
		inv.result.Status = StatusError
		inv.result.Errors = append(inv.result.Errors, err.Error())
		return inv.result, err
	}
	inv.result.Units = len(units)

	// Replays are single documents and never suspend.
	rest := units[:0:0]
	for _, u := range units {
		if u.Kind == trigger.KindReplay {
			h.replay(ctx, inv, u)
			continue
		}
		rest = append(rest, u)
	}

	for i, u := range rest {
		cfg, in, err := h.input(ctx, u)
		if err != nil {
			h.flush(ctx, inv)
			inv.result.Status = StatusError
			inv.result.Errors = append(inv.result.Errors, err.Error())
			return inv.result, err
		}
		b := h.batcher(inv, in, h.configDoc(u, cfg))

		tok, suspended, err := h.process(ctx, inv, u, in, b)
		switch {
		case suspended:
			h.flush(ctx, inv)
			return h.suspend(ctx, inv, cfg, u, tok, rest[i+1:])
		case err != nil && storage.IsDecodeError(err):
			log.Printf("handler: %s: abandoning source %s: %v", inv.id, u.Locator.Path(), err)
			inv.result.Errors = append(inv.result.Errors, fmt.Sprintf("%s: %v", u.Locator.Path(), err))
		case err != nil:
			h.flush(ctx, inv)
			err = fmt.Errorf("handler: %s: %w", u.Locator.Path(), err)
			inv.result.Status = StatusError
			inv.result.Errors = append(inv.result.Errors, err.Error())
			return inv.result, err
		default:
			inv.result.Completed++
		}
	}

	h.flush(ctx, inv)
	inv.result.Status = StatusCompleted
	if len(inv.result.Errors) > 0 {
		inv.result.Status = StatusError
	}
	return inv.result, nil
}

// process pulls the events of u into b until the source is exhausted or the
// coordinator asks to suspend. The returned token is the position right after
// the last event handed to the batcher.
func (h *Handler) process(ctx context.Context, inv *invocation, u trigger.Unit, in *config.Input, b *shipper.Batcher) (model.ResumeToken, bool, error) {
	tok := u.Token()
	if inv.coord.Check() {
		return tok, true, nil
	}

	stream, err := storage.Open(ctx, u.Origin, u.RangeStart, storage.Options{ChunkSize: h.opts.ChunkSize, Name: u.Locator.Path()})
	if err != nil {
		return tok, false, err
	}
	defer stream.Close()

	p, err := ingest.NewPipeline(stream, in.DecodeConfig(), ingest.PipelineOptions{
		Locator:      u.Locator,
		Meta:         ingest.Meta{InputID: u.InputID, InvocationID: inv.id},
		Factory:      h.factory,
		Base:         u.RangeStart,
		SkipExpanded: u.SkipExpanded,
		JSONState:    u.JSONState,
	})
	if err != nil {
		return tok, false, err
	}

	for {
		out, err := p.Next()
		if err == io.EOF {
			return tok, false, nil
		}
		if err != nil {
			return tok, false, err
		}
		b.Send(ctx, out.Event)
		if out.Last {
			tok.LastEndingOffset = out.End
			tok.PositionWithinBatch = 0
		} else {
			tok.LastEndingOffset = out.Start
			tok.PositionWithinBatch = out.Event.ExpandedIndex + 1
		}
		tok.JSONState = out.JSONState
		if inv.coord.Check() {
			return tok, true, nil
		}
	}
}

// suspend hands the current unit, from tok on, and every unit not started
// yet to the continuation.
func (h *Handler) suspend(ctx context.Context, inv *invocation, cfg *config.Config, cur trigger.Unit, tok model.ResumeToken, remaining []trigger.Unit) (Result, error) {
	msgs := make([]resume.Message, 0, 1+len(remaining))
	msgs = append(msgs, resume.NewMessage(cur.Body, cur.InputID, h.configDoc(cur, cfg), tok))
	for _, u := range remaining {
		msgs = append(msgs, resume.NewMessage(u.Body, u.InputID, h.configDoc(u, cfg), u.Token()))
	}
	inv.result.Continued = len(msgs)

	if h.opts.Continuation == nil {
		err := errors.New("handler: budget exhausted and no continuation is configured")
		inv.result.Status = StatusError
		inv.result.Errors = append(inv.result.Errors, err.Error())
		return inv.result, err
	}
	if err := h.opts.Continuation.Continue(ctx, msgs); err != nil {
		err = fmt.Errorf("handler: continue %d units: %w", len(msgs), err)
		inv.result.Status = StatusError
		inv.result.Errors = append(inv.result.Errors, err.Error())
		return inv.result, err
	}
	log.Printf("handler: %s: suspended, %d units continued at %s offset %d", inv.id, len(msgs), cur.Locator.Path(), tok.LastEndingOffset)
	inv.result.Status = StatusContinuing
	return inv.result, nil
}

// replay writes an already enriched event again.
func (h *Handler) replay(ctx context.Context, inv *invocation, u trigger.Unit) {
	res, err := h.opts.Backend.BulkCreate(ctx, []model.Event{u.Replay.Event})
	switch {
	case err != nil:
		inv.result.Failed++
		inv.result.Errors = append(inv.result.Errors, fmt.Sprintf("replay %s: %v", u.Replay.Event.DeliveryKey, err))
	case res.Failed > 0:
		inv.result.Failed += res.Failed
		inv.result.Errors = append(inv.result.Errors, fmt.Sprintf("replay %s: rejected", u.Replay.Event.DeliveryKey))
	default:
		inv.result.Succeeded += res.Succeeded
		inv.result.Duplicates += res.Duplicates
		inv.result.Completed++
	}
}

// input resolves the configuration and input of u.
func (h *Handler) input(ctx context.Context, u trigger.Unit) (*config.Config, *config.Input, error) {
	cfg := h.opts.Config
	if u.Config != "" {
		parsed, err := h.parseConfig(ctx, u.Config)
		if err != nil {
			return nil, nil, err
		}
		cfg = parsed
	}
	if cfg == nil {
		return nil, nil, fmt.Errorf("%w: no configuration for %s %s", ErrInputNotFound, u.Kind, u.InputID)
	}
	in, ok := cfg.Input(string(u.Kind), u.InputID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s %s", ErrInputNotFound, u.Kind, u.InputID)
	}
	return cfg, in, nil
}

func (h *Handler) parseConfig(ctx context.Context, doc string) (*config.Config, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cfg, ok := h.configs[doc]; ok {
		return cfg, nil
	}
	cfg, err := config.Parse(ctx, doc, h.opts.Secrets)
	if err != nil {
		return nil, err
	}
	h.configs[doc] = cfg
	return cfg, nil
}

// configDoc is the configuration forwarded with resume messages of u.
func (h *Handler) configDoc(u trigger.Unit, cfg *config.Config) string {
	if u.Config != "" {
		return u.Config
	}
	if cfg != nil {
		return cfg.Raw()
	}
	return ""
}

func (h *Handler) batcher(inv *invocation, in *config.Input, doc string) *shipper.Batcher {
	key := in.Type + "\x00" + in.ID
	if b, ok := inv.batchers[key]; ok {
		return b
	}
	// Validated when the configuration was parsed.
	filter, _ := in.Filter()
	var sink shipper.ReplaySink
	if h.opts.Replay != nil {
		sink = h.opts.Replay(in.Type, in.ID, doc)
	}
	b := shipper.NewBatcher(h.opts.Backend, shipper.Config{
		BatchSize:   in.BatchSize(),
		Destination: in.Destination(),
		Filter:      filter,
		Replay:      sink,
	})
	inv.batchers[key] = b
	return b
}

// flush drains every batcher of the invocation and folds its counters into
// the result.
func (h *Handler) flush(ctx context.Context, inv *invocation) {
	for key, b := range inv.batchers {
		b.Flush(ctx)
		inv.result.addStats(b.Stats())
		delete(inv.batchers, key)
	}
}
