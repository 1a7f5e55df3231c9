package agent

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dannaaduna/oacd-core/internal/media"
	"github.com/dannaaduna/oacd-core/internal/metrics"
	"github.com/dannaaduna/oacd-core/internal/types"
	"github.com/rs/zerolog"
)

// EventSink receives events emitted by the session, in emission order.
// The web gateway implements this
type EventSink interface {
	Push(ev types.SessionEvent)
}

// Locator resolves peer sessions by login. The registry implements this
type Locator interface {
	Find(login string) (*Session, bool)
}

// Recorder persists agent state transitions for reporting
type Recorder interface {
	SaveStateRecord(rec types.StateRecord) error
}

// Config carries everything a session needs at creation
type Config struct {
	Auth         types.AgentAuth
	Ringout      time.Duration // per-call ring timer, default 30s
	MediaTimeout time.Duration // bound on outgoing media calls
	Outbound     *media.FactoryRegistry
	Peers        Locator
	Store        Recorder // may be nil
	Logger       zerolog.Logger
}

// Session is the authoritative state machine for one agent. All inputs
// are funneled through a single command channel and handled to completion
// by the run loop, so no two handlers run concurrently
type Session struct {
	login    string
	id       string
	security types.SecurityLevel

	cfg  Config
	cmds chan func()
	done chan struct{}

	// Owned by the run loop
	profile        string
	skills         types.SkillSet
	endpoint       string
	state          types.AgentState
	release        *types.Release // set while state == released
	pendingRelease *types.Release // queued release, applied when media ends
	call           *media.Call
	callingTo      string // warmtransfer consult destination
	expectCall     bool   // spy sentinel: a call record is on its way
	sink           EventSink
	ringSeq        int
	ringTimer      *time.Timer
	lastChange     time.Time
	since          time.Time

	logger zerolog.Logger
}

// NewSession creates a session in the released(default) state and starts
// its run loop
func NewSession(cfg Config) *Session {
	if cfg.Ringout <= 0 {
		cfg.Ringout = 30 * time.Second
	}
	if cfg.MediaTimeout <= 0 {
		cfg.MediaTimeout = 5 * time.Second
	}

	rel := types.DefaultRelease()
	now := time.Now()
	s := &Session{
		login:      cfg.Auth.Login,
		id:         cfg.Auth.ID,
		security:   cfg.Auth.Security,
		cfg:        cfg,
		cmds:       make(chan func(), 32),
		done:       make(chan struct{}),
		profile:    cfg.Auth.Profile,
		skills:     cfg.Auth.Skills,
		endpoint:   cfg.Auth.Endpoint,
		state:      types.StateReleased,
		release:    &rel,
		lastChange: now,
		since:      now,
		logger:     cfg.Logger.With().Str("component", "session").Str("login", cfg.Auth.Login).Logger(),
	}
	go s.run()
	metrics.Get().RecordSessionStart()
	return s
}

func (s *Session) run() {
	for {
		select {
		case fn := <-s.cmds:
			fn()
		case <-s.done:
			return
		}
	}
}

// do runs fn on the session loop and waits for its result
func (s *Session) do(fn func() types.Result) types.Result {
	reply := make(chan types.Result, 1)
	select {
	case s.cmds <- func() { reply <- fn() }:
	case <-s.done:
		return types.Err(types.ErrUnknown, "session terminated")
	}
	select {
	case r := <-reply:
		return r
	case <-s.done:
		// The handler itself may have terminated the session; its result
		// still wins over the shutdown signal
		select {
		case r := <-reply:
			return r
		default:
			return types.Err(types.ErrUnknown, "session terminated")
		}
	}
}

// post runs fn on the session loop without waiting
func (s *Session) post(fn func()) {
	select {
	case s.cmds <- fn:
	case <-s.done:
	}
}

// Login returns the agent's login
func (s *Session) Login() string { return s.login }

// Security returns the agent's security level
func (s *Session) Security() types.SecurityLevel { return s.security }

// Done is closed when the session terminates. The registry and the web
// gateway monitor it
func (s *Session) Done() <-chan struct{} { return s.done }

// SetSink attaches the web gateway that receives this session's events
func (s *Session) SetSink(sink EventSink) {
	s.post(func() { s.sink = sink })
}

// Info returns a read-only snapshot of the session
func (s *Session) Info() types.AgentInfo {
	var info types.AgentInfo
	s.do(func() types.Result {
		info = types.AgentInfo{
			Login:      s.login,
			ID:         s.id,
			Profile:    s.profile,
			Security:   s.security,
			Skills:     s.skills,
			Endpoint:   s.endpoint,
			State:      s.state,
			LastChange: s.lastChange,
			Since:      s.since,
		}
		return types.Ok()
	})
	return info
}

// SetState requests a client-driven state change. Data is the release
// reason when the target state is released
func (s *Session) SetState(target types.AgentState, rel *types.Release) types.Result {
	return s.do(func() types.Result {
		switch target {
		case types.StateReleased:
			return s.handleRelease(rel)
		case types.StateIdle:
			return s.handleGoIdle()
		case types.StateOncall:
			return s.handleAnswer()
		case types.StateWrapup:
			if s.state != types.StateOncall {
				return types.Invalid(string(s.state) + " -> wrapup")
			}
			s.transition(types.StateWrapup)
			return types.Ok()
		default:
			return types.Invalid(string(s.state) + " -> " + string(target))
		}
	})
}

func (s *Session) handleRelease(rel *types.Release) types.Result {
	if rel == nil {
		def := types.DefaultRelease()
		rel = &def
	}
	switch s.state {
	case types.StateIdle, types.StateReleased, types.StatePrecall, types.StateWrapup:
		if s.state == types.StatePrecall || s.state == types.StateWrapup {
			s.detachCall()
		}
		s.release = rel
		s.pendingRelease = nil
		s.transition(types.StateReleased)
		return types.Ok()
	case types.StateOncall, types.StateOutgoing, types.StateWarmTransfer, types.StateRinging:
		// Not rejected: recorded and applied when the call ends
		s.pendingRelease = rel
		s.logger.Debug().Str("release_id", rel.ID).Msg("release queued until call ends")
		return types.OkValue("queued")
	default:
		return types.Invalid(string(s.state) + " -> released")
	}
}

func (s *Session) handleGoIdle() types.Result {
	switch s.state {
	case types.StateReleased:
		s.release = nil
		s.transition(types.StateIdle)
		return types.Ok()
	case types.StatePrecall, types.StateWrapup:
		s.detachCall()
		s.applyIdleOrPending()
		return types.Ok()
	default:
		return types.Invalid(string(s.state) + " -> idle")
	}
}

// applyIdleOrPending enters idle, unless a release was queued while the
// agent was on a call
func (s *Session) applyIdleOrPending() {
	if s.pendingRelease != nil {
		s.release = s.pendingRelease
		s.pendingRelease = nil
		s.transition(types.StateReleased)
		return
	}
	s.release = nil
	s.transition(types.StateIdle)
}

func (s *Session) handleAnswer() types.Result {
	switch s.state {
	case types.StateRinging:
		if err := s.mediaCall(func(ctx context.Context) error { return s.call.Source.Answer(ctx) }); err != nil {
			return s.mediaErr(err, "answer")
		}
		s.stopRingTimer()
		s.transition(types.StateOncall)
		return types.Ok()
	case types.StateOutgoing:
		s.transition(types.StateOncall)
		return types.Ok()
	default:
		return types.Invalid(string(s.state) + " -> oncall")
	}
}

// SetEndpoint updates where the agent is rung for future calls
func (s *Session) SetEndpoint(endpoint string) types.Result {
	return s.do(func() types.Result {
		if s.state != types.StateIdle && s.state != types.StateReleased {
			return types.Invalid("endpoint change requires idle or released")
		}
		s.endpoint = endpoint
		return types.Ok()
	})
}

// ChangeProfile moves the agent to a new profile and notifies the client
func (s *Session) ChangeProfile(profile string) types.Result {
	return s.do(func() types.Result {
		s.profile = profile
		s.emit(types.SessionEvent{Kind: types.EventAProfile, Profile: profile})
		return types.Ok()
	})
}

// Ring offers a call to an idle agent. Invoked by the queue dispatcher
func (s *Session) Ring(call *media.Call) types.Result {
	return s.do(func() types.Result {
		if s.state != types.StateIdle {
			return types.Invalid(string(s.state) + " -> ringing")
		}
		if err := s.mediaCall(func(ctx context.Context) error {
			return call.Source.Ring(ctx, s.login, s.endpoint)
		}); err != nil {
			return s.mediaErr(err, "ring")
		}
		s.call = call
		s.transition(types.StateRinging)
		s.armRingTimer()
		if call.PopURL != "" {
			s.emit(types.SessionEvent{Kind: types.EventURLPop, URL: call.PopURL, Name: call.Client})
		}
		return types.Ok()
	})
}

func (s *Session) armRingTimer() {
	s.ringSeq++
	seq := s.ringSeq
	s.ringTimer = time.AfterFunc(s.cfg.Ringout, func() {
		s.post(func() { s.ringTimeout(seq) })
	})
}

func (s *Session) stopRingTimer() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
	s.ringSeq++
}

func (s *Session) ringTimeout(seq int) {
	if s.state != types.StateRinging || seq != s.ringSeq {
		return
	}
	s.logger.Debug().Str("call_id", s.call.ID).Msg("ring timed out")
	if err := s.mediaCall(func(ctx context.Context) error { return s.call.Source.Unring(ctx) }); err != nil {
		s.logger.Warn().Err(err).Msg("unring failed after ring timeout")
	}
	s.detachCall()
	s.applyIdleOrPending()
}

// Dial forwards a dial request to an outbound call's media
func (s *Session) Dial(number string) types.Result {
	return s.do(func() types.Result {
		if s.state != types.StatePrecall || s.call == nil || s.call.Direction != types.DirectionOutbound {
			return types.Invalid("dial requires precall with an outbound call")
		}
		if err := s.mediaCall(func(ctx context.Context) error { return s.call.Source.Dial(ctx, number) }); err != nil {
			return s.mediaErr(err, "dial")
		}
		s.transition(types.StateOutgoing)
		return types.Ok()
	})
}

// AgentTransfer hands the current call to another agent
func (s *Session) AgentTransfer(target string) types.Result {
	return s.do(func() types.Result {
		if s.state != types.StateOncall {
			return types.Invalid("agent transfer requires oncall")
		}
		if s.cfg.Peers == nil {
			return types.Err(types.ErrAgentNoExists, "no peer lookup configured")
		}
		peer, ok := s.cfg.Peers.Find(target)
		if !ok {
			return types.Err(types.ErrAgentNoExists, "agent "+target+" not found")
		}
		info := peer.Info()
		if info.State != types.StateIdle && info.State != types.StateReleased {
			return types.Invalid("target agent is " + string(info.State))
		}
		if err := s.mediaCall(func(ctx context.Context) error {
			return s.call.Source.AgentTransfer(ctx, target, info.Endpoint)
		}); err != nil {
			return s.mediaErr(err, "agent_transfer")
		}
		s.transition(types.StateWrapup)
		return types.Ok()
	})
}

// QueueTransfer requeues the current call with extra vars and skills
func (s *Session) QueueTransfer(queue string, vars map[string]string, skills []string) types.Result {
	return s.do(func() types.Result {
		if s.state != types.StateOncall {
			return types.Invalid("queue transfer requires oncall")
		}
		if err := s.mediaCall(func(ctx context.Context) error {
			return s.call.Source.QueueTransfer(ctx, queue, vars, skills)
		}); err != nil {
			return s.mediaErr(err, "queue_transfer")
		}
		s.transition(types.StateWrapup)
		return types.Ok()
	})
}

// WarmTransfer starts a third-party consult
func (s *Session) WarmTransfer(destination string) types.Result {
	return s.do(func() types.Result {
		if s.state != types.StateOncall {
			return types.Invalid("warm transfer requires oncall")
		}
		if err := s.mediaCall(func(ctx context.Context) error {
			return s.call.Source.WarmTransfer(ctx, destination)
		}); err != nil {
			return s.mediaErr(err, "warm_transfer")
		}
		s.callingTo = destination
		s.transition(types.StateWarmTransfer)
		return types.Ok()
	})
}

// WarmTransferComplete bridges the parties and wraps up
func (s *Session) WarmTransferComplete() types.Result {
	return s.do(func() types.Result {
		if s.state != types.StateWarmTransfer {
			return types.Invalid("warm transfer complete requires warmtransfer")
		}
		if err := s.mediaCall(func(ctx context.Context) error {
			return s.call.Source.WarmTransferComplete(ctx)
		}); err != nil {
			return s.mediaErr(err, "warm_transfer_complete")
		}
		s.callingTo = ""
		s.transition(types.StateWrapup)
		return types.Ok()
	})
}

// WarmTransferCancel drops the consult leg and resumes the call
func (s *Session) WarmTransferCancel() types.Result {
	return s.do(func() types.Result {
		if s.state != types.StateWarmTransfer {
			return types.Invalid("warm transfer cancel requires warmtransfer")
		}
		if err := s.mediaCall(func(ctx context.Context) error {
			return s.call.Source.WarmTransferCancel(ctx)
		}); err != nil {
			return s.mediaErr(err, "warm_transfer_cancel")
		}
		s.callingTo = ""
		s.transition(types.StateOncall)
		return types.Ok()
	})
}

// MediaCommand forwards a media-specific command to the current call.
// In call mode it returns the media's result; in cast mode it returns
// immediately
func (s *Session) MediaCommand(name, mode string, args []json.RawMessage) types.Result {
	return s.do(func() types.Result {
		if s.call == nil {
			return types.Err(types.ErrMediaNoExists, "no current call")
		}
		switch mode {
		case "call":
			var out json.RawMessage
			err := s.mediaCall(func(ctx context.Context) error {
				var callErr error
				out, callErr = s.call.Source.Call(ctx, name, args)
				return callErr
			})
			if err != nil {
				return s.mediaErr(err, name)
			}
			return types.OkValue(out)
		case "cast":
			if err := s.call.Source.Cast(name, args); err != nil {
				return s.mediaErr(err, name)
			}
			return types.Ok()
		default:
			return types.Err(types.ErrBadRequest, "unknown media command mode "+mode)
		}
	})
}

// MediaHangup asks the media to terminate; on confirmation the agent
// moves to wrapup. From ringing or precall the call is dropped instead and
// the agent goes idle, or to a release queued meanwhile
func (s *Session) MediaHangup() types.Result {
	return s.do(func() types.Result {
		if s.call == nil {
			return types.Err(types.ErrMediaNoExists, "no current call")
		}
		if err := s.mediaCall(func(ctx context.Context) error { return s.call.Source.Hangup(ctx) }); err != nil {
			return s.mediaErr(err, "hangup")
		}
		s.stopRingTimer()
		switch s.state {
		case types.StateRinging, types.StatePrecall:
			s.detachCall()
			s.applyIdleOrPending()
		default:
			s.callingTo = ""
			s.transition(types.StateWrapup)
		}
		return types.Ok()
	})
}

// InitOutbound asks the outbound media factory for a fresh call and
// enters precall
func (s *Session) InitOutbound(client, mediaType string) types.Result {
	return s.do(func() types.Result {
		if s.state != types.StateIdle && s.state != types.StateReleased {
			return types.Invalid("outbound requires idle or released")
		}
		if s.cfg.Outbound == nil {
			return types.Err(types.ErrMediaNoExists, "no outbound media configured")
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.MediaTimeout)
		defer cancel()
		call, err := s.cfg.Outbound.Create(ctx, mediaType, client)
		if err != nil {
			if errors.Is(err, media.ErrNoExists) {
				return types.Err(types.ErrMediaNoExists, err.Error())
			}
			return types.Err(types.ErrUnknown, err.Error())
		}
		s.call = call
		s.release = nil
		s.transition(types.StatePrecall)
		return types.Ok()
	})
}

// Spy opens a read-only leg on a target agent's call for a supervisor.
// Invoked on the supervisor's own session
func (s *Session) Spy(target *Session) types.Result {
	return s.do(func() types.Result {
		if !s.security.Allows(types.SecuritySupervisor) {
			return types.Err(types.ErrBadRequest, "spy requires supervisor privilege")
		}
		if target == nil || target == s {
			return types.Err(types.ErrAgentNoExists, "invalid spy target")
		}
		res := target.do(func() types.Result {
			if target.state != types.StateOncall || target.call == nil {
				return types.Invalid("spy target is not oncall")
			}
			if err := target.mediaCall(func(ctx context.Context) error {
				return target.call.Source.Spy(ctx, s.login, s.endpoint)
			}); err != nil {
				return target.mediaErr(err, "spy")
			}
			return types.Ok()
		})
		if !res.OK {
			return res
		}
		// Sentinel until the media attaches the spy call record
		s.expectCall = true
		return types.Ok()
	})
}

// AttachSpyCall fulfils an expected spy attachment
func (s *Session) AttachSpyCall(call *media.Call) types.Result {
	return s.do(func() types.Result {
		if !s.expectCall {
			return types.Invalid("no call expected")
		}
		s.expectCall = false
		s.call = call
		s.transition(types.StateOncall)
		return types.Ok()
	})
}

// SupervisorTab delivers a monitor-tree mutation to a supervisor client.
// Plain agent sessions ignore it
func (s *Session) SupervisorTab(action, tabType, id string, details map[string]any) {
	s.post(func() {
		if !s.security.Allows(types.SecuritySupervisor) {
			return
		}
		s.emit(types.SessionEvent{
			Kind:    types.EventSupervisorTab,
			Action:  action,
			TabType: tabType,
			TabID:   id,
			Details: details,
		})
	})
}

// Blab delivers a supervisor broadcast to the agent's client
func (s *Session) Blab(text string) {
	s.post(func() {
		s.emit(types.SessionEvent{Kind: types.EventBlab, Text: text})
	})
}

// MediaEvent forwards an asynchronous media event to the client
func (s *Session) MediaEvent(payload map[string]any) {
	s.post(func() {
		if s.call == nil {
			return
		}
		s.emit(types.SessionEvent{Kind: types.EventMediaEvent, Media: string(s.call.Type), Payload: payload})
	})
}

// MediaLoad instructs the client to fetch media-specific UI data
func (s *Session) MediaLoad(fullpane bool) {
	s.post(func() {
		if s.call == nil {
			return
		}
		s.emit(types.SessionEvent{Kind: types.EventMediaLoad, Media: string(s.call.Type), FullPane: fullpane})
	})
}

// CallerHangup reports that the remote party ended the call
func (s *Session) CallerHangup() {
	s.post(func() {
		if s.call == nil {
			return
		}
		s.stopRingTimer()
		switch s.state {
		case types.StateRinging, types.StatePrecall:
			s.detachCall()
			s.applyIdleOrPending()
		case types.StateOncall, types.StateOutgoing, types.StateWarmTransfer:
			s.callingTo = ""
			s.transition(types.StateWrapup)
		}
	})
}

// MediaDeath reports that the media driver died while attached
func (s *Session) MediaDeath() {
	s.post(func() {
		if s.call == nil {
			return
		}
		s.logger.Warn().Str("call_id", s.call.ID).Str("state", string(s.state)).Msg("media died while attached")
		s.stopRingTimer()
		switch s.state {
		case types.StateOncall, types.StateOutgoing, types.StateWarmTransfer:
			s.callingTo = ""
			s.transition(types.StateWrapup)
		default:
			s.detachCall()
			s.applyIdleOrPending()
		}
	})
}

// Logout releases any current call and terminates the session
func (s *Session) Logout() types.Result {
	return s.do(func() types.Result {
		s.terminate("agent_logout")
		return types.Ok()
	})
}

// Kick terminates the session without client involvement (admin or
// missed polls)
func (s *Session) Kick(reason string) {
	s.post(func() { s.terminate(reason) })
}

// terminate runs on the session loop; it may be called at most once
func (s *Session) terminate(reason string) {
	select {
	case <-s.done:
		return
	default:
	}
	s.stopRingTimer()
	if s.call != nil {
		if err := s.mediaCall(func(ctx context.Context) error { return s.call.Source.Hangup(ctx) }); err != nil {
			s.logger.Warn().Err(err).Msg("hangup on logout failed")
		}
		s.detachCall()
	}
	s.record(s.state, types.StateOffline)
	s.state = types.StateOffline
	s.logger.Info().Str("reason", reason).Msg("session terminated")
	metrics.Get().RecordSessionEnd(reason)
	close(s.done)
}

// transition mutates the state, records it, and emits the astate event
func (s *Session) transition(to types.AgentState) {
	from := s.state
	s.state = to
	s.lastChange = time.Now()
	s.record(from, to)
	metrics.Get().RecordStateChange(string(to))
	s.logger.Debug().Str("from", string(from)).Str("to", string(to)).Msg("state changed")
	s.emit(s.astateEvent())
}

// astateEvent builds the astate event for the current state
func (s *Session) astateEvent() types.SessionEvent {
	ev := types.SessionEvent{Kind: types.EventAState, State: s.state}
	switch s.state {
	case types.StateReleased:
		ev.Release = s.release
	case types.StateWarmTransfer:
		if s.call != nil {
			ev.Held = s.call.Summary()
		}
		ev.Calling = s.callingTo
	default:
		if s.call != nil && types.ActiveStates[s.state] {
			ev.Call = s.call.Summary()
		}
	}
	return ev
}

func (s *Session) emit(ev types.SessionEvent) {
	if s.sink == nil {
		s.logger.Debug().Str("kind", string(ev.Kind)).Msg("event dropped, no gateway attached")
		return
	}
	s.sink.Push(ev)
}

func (s *Session) detachCall() {
	s.call = nil
	s.callingTo = ""
}

func (s *Session) record(from, to types.AgentState) {
	if s.cfg.Store == nil {
		return
	}
	rec := types.StateRecord{
		Login:     s.login,
		AgentID:   s.id,
		Profile:   s.profile,
		OldState:  from,
		NewState:  to,
		Timestamp: time.Now(),
	}
	rec.DateKey = rec.Timestamp.Format("2006-01-02")
	if s.call != nil {
		rec.CallID = s.call.ID
	}
	if to == types.StateReleased && s.release != nil {
		rec.ReleaseID = s.release.ID
		rec.Bias = s.release.Bias
	}
	store := s.cfg.Store
	logger := s.logger
	go func() {
		if err := store.SaveStateRecord(rec); err != nil {
			logger.Error().Err(err).Msg("failed to save state record")
		}
	}()
}

// mediaCall runs an outgoing media operation with the configured timeout
func (s *Session) mediaCall(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.MediaTimeout)
	defer cancel()
	return fn(ctx)
}

// mediaErr maps a collaborator failure to a client-visible result
func (s *Session) mediaErr(err error, op string) types.Result {
	s.logger.Warn().Err(err).Str("op", op).Msg("media call failed")
	switch {
	case errors.Is(err, media.ErrNoExists):
		return types.Err(types.ErrMediaNoExists, err.Error())
	case errors.Is(err, media.ErrRejected):
		return types.Err(types.ErrInvalidMediaCall, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return types.Err(types.ErrUnknown, "media call timed out")
	default:
		return types.Err(types.ErrUnknown, err.Error())
	}
}
