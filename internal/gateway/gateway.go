package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dannaaduna/oacd-core/internal/agent"
	"github.com/dannaaduna/oacd-core/internal/metrics"
	"github.com/dannaaduna/oacd-core/internal/registry"
	"github.com/dannaaduna/oacd-core/internal/types"
	"github.com/rs/zerolog"
)

// Timing configures the gateway's liveness machinery
type Timing struct {
	FlushWindow     time.Duration // event coalescing window, default 500ms
	LivenessWindow  time.Duration // poll silence before termination, default 20s
	KeepalivePeriod time.Duration // liveness check interval, default 11s
}

// DefaultTiming returns the production timing constants
func DefaultTiming() Timing {
	return Timing{
		FlushWindow:     500 * time.Millisecond,
		LivenessWindow:  20 * time.Second,
		KeepalivePeriod: 11 * time.Second,
	}
}

func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.FlushWindow <= 0 {
		t.FlushWindow = d.FlushWindow
	}
	if t.LivenessWindow <= 0 {
		t.LivenessWindow = d.LivenessWindow
	}
	if t.KeepalivePeriod <= 0 {
		t.KeepalivePeriod = d.KeepalivePeriod
	}
	return t
}

// PollResult is what a finished long poll carries back to the listener
type PollResult struct {
	Status   int
	Envelope Envelope
}

// waiter is a registered long poll, fulfilled exactly once
type waiter struct {
	ch chan PollResult
}

// Gateway is the per-connection adapter between one web client and one
// agent session. It translates JSON requests into session operations and
// buffers session events for long-poll delivery
type Gateway struct {
	session  *agent.Session
	registry *registry.Registry
	timing   Timing
	logger   zerolog.Logger

	mu         sync.Mutex
	buf        []map[string]any
	waiter     *waiter
	flushTimer *time.Timer
	lastPollAt time.Time // last poll establishment
	lastSendAt time.Time // last delivery to a waiter
	closed     bool

	done chan struct{}
}

// New creates a gateway bound to a session. The gateway registers itself
// as the session's event sink, watches the session's lifetime, and starts
// keep-alive accounting
func New(session *agent.Session, reg *registry.Registry, timing Timing, logger zerolog.Logger) *Gateway {
	now := time.Now()
	g := &Gateway{
		session:    session,
		registry:   reg,
		timing:     timing.withDefaults(),
		logger:     logger.With().Str("component", "gateway").Str("login", session.Login()).Logger(),
		lastPollAt: now,
		lastSendAt: now,
		done:       make(chan struct{}),
	}
	session.SetSink(g)
	go g.keepalive()
	go g.linkto()
	return g
}

// Done is closed when the gateway shuts down
func (g *Gateway) Done() <-chan struct{} { return g.done }

// Session returns the bound agent session
func (g *Gateway) Session() *agent.Session { return g.session }

// linkto binds the gateway's lifecycle to the session's
func (g *Gateway) linkto() {
	<-g.session.Done()
	g.shutdown("session terminated")
}

// shutdown releases any waiting poll with a final error envelope
func (g *Gateway) shutdown(reason string) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	if g.flushTimer != nil {
		g.flushTimer.Stop()
		g.flushTimer = nil
	}
	w := g.waiter
	g.waiter = nil
	g.mu.Unlock()

	if w != nil {
		w.ch <- PollResult{
			Status:   http.StatusOK,
			Envelope: ErrorEnvelope(types.ErrUnknown, reason),
		}
	}
	close(g.done)
	g.logger.Info().Str("reason", reason).Msg("gateway closed")
}

// Push implements agent.EventSink. Events are appended in emission order;
// a flush timer coalesces bursts into one batch
func (g *Gateway) Push(ev types.SessionEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.buf = append(g.buf, EncodeEvent(ev))
	metrics.Get().EventsBuffered.Inc()
	if g.flushTimer == nil {
		g.flushTimer = time.AfterFunc(g.timing.FlushWindow, g.flush)
	}
}

func (g *Gateway) flush() {
	g.mu.Lock()
	g.flushTimer = nil
	if g.closed || g.waiter == nil || len(g.buf) == 0 {
		g.mu.Unlock()
		return
	}
	w, batch := g.takeLocked()
	g.mu.Unlock()

	w.ch <- PollResult{Status: http.StatusOK, Envelope: SuccessEnvelope(batch)}
}

// takeLocked drains the buffer to the registered waiter. Caller holds the
// mutex and must send the returned batch
func (g *Gateway) takeLocked() (*waiter, []map[string]any) {
	w := g.waiter
	g.waiter = nil
	batch := g.buf
	g.buf = nil
	g.lastSendAt = time.Now()
	metrics.Get().EventsDelivered.Add(float64(len(batch)))
	return w, batch
}

// Poll registers the caller as the long-poll waiter and blocks until
// events arrive, the poll is displaced, the gateway closes, or ctx ends.
// A previous waiter is evicted with POLL_PID_REPLACED before the new one
// registers
func (g *Gateway) Poll(ctx context.Context) PollResult {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return PollResult{
			Status:   http.StatusOK,
			Envelope: ErrorEnvelope(types.ErrUnknown, "session terminated"),
		}
	}

	if prev := g.waiter; prev != nil {
		g.waiter = nil
		metrics.Get().PollsReplaced.Inc()
		prev.ch <- PollResult{
			Status:   http.StatusRequestTimeout,
			Envelope: ErrorEnvelope(types.ErrPollReplaced, "replaced by a newer poll"),
		}
	}

	g.lastPollAt = time.Now()
	metrics.Get().PollsTotal.Inc()

	// Pending events drain immediately without registering
	if len(g.buf) > 0 {
		if g.flushTimer != nil {
			g.flushTimer.Stop()
			g.flushTimer = nil
		}
		batch := g.buf
		g.buf = nil
		g.lastSendAt = time.Now()
		metrics.Get().EventsDelivered.Add(float64(len(batch)))
		g.mu.Unlock()
		return PollResult{Status: http.StatusOK, Envelope: SuccessEnvelope(batch)}
	}

	w := &waiter{ch: make(chan PollResult, 1)}
	g.waiter = w
	g.mu.Unlock()

	select {
	case res := <-w.ch:
		return res
	case <-ctx.Done():
		g.mu.Lock()
		if g.waiter == w {
			g.waiter = nil
		}
		g.mu.Unlock()
		// Drain a fulfilment that raced the cancellation
		select {
		case res := <-w.ch:
			return res
		default:
		}
		return PollResult{
			Status:   http.StatusOK,
			Envelope: ErrorEnvelope(types.ErrUnknown, "poll cancelled"),
		}
	}
}

// keepalive runs the liveness check. Without a poll establishment within
// the liveness window the session is terminated; an idle waiter gets a
// synthetic pong so the client re-polls
func (g *Gateway) keepalive() {
	ticker := time.NewTicker(g.timing.KeepalivePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
		}

		g.mu.Lock()
		if g.closed {
			g.mu.Unlock()
			return
		}
		noWaiter := g.waiter == nil
		stalePoll := time.Since(g.lastPollAt) > g.timing.LivenessWindow
		idleWaiter := g.waiter != nil && time.Since(g.lastSendAt) >= g.timing.LivenessWindow
		g.mu.Unlock()

		switch {
		case noWaiter && stalePoll:
			g.logger.Info().Msg("no poll within liveness window, terminating session")
			g.session.Kick("missed_polls")
			return
		case idleWaiter:
			g.Push(types.SessionEvent{Kind: types.EventPong, Timestamp: time.Now()})
		}
	}
}
