package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/dannaaduna/oacd-core/internal/agent"
	"github.com/dannaaduna/oacd-core/internal/media"
	"github.com/dannaaduna/oacd-core/internal/storage"
	"github.com/dannaaduna/oacd-core/internal/types"
	"github.com/rs/zerolog"
)

// ErrAlreadyLoggedIn indicates a live session exists for the login
var ErrAlreadyLoggedIn = errors.New("agent already logged in")

// ErrClusterUnavailable indicates the directory could not be reached
var ErrClusterUnavailable = errors.New("cluster unavailable")

// BlabTarget selects which sessions receive a supervisor broadcast
type BlabTarget struct {
	Scope string // all | agent | profile | node
	Value string
}

type entry struct {
	session *agent.Session
	since   time.Time
}

// Registry is the single source of truth for which agents are logged in.
// Mutations are serialized per login by the mutex. A monitor on session
// death removes the entry, so a session that has just terminated can
// still be returned by a query until its monitor has run
type Registry struct {
	sessions map[string]*entry
	mu       sync.RWMutex

	node         string
	ringout      time.Duration
	mediaTimeout time.Duration
	outbound     *media.FactoryRegistry
	store        storage.Store
	logger       zerolog.Logger
}

// Options configures sessions created through the registry
type Options struct {
	Node         string
	Ringout      time.Duration
	MediaTimeout time.Duration
	Outbound     *media.FactoryRegistry
	Store        storage.Store
}

// New creates an empty registry
func New(opts Options, logger zerolog.Logger) *Registry {
	return &Registry{
		sessions:     make(map[string]*entry),
		node:         opts.Node,
		ringout:      opts.Ringout,
		mediaTimeout: opts.MediaTimeout,
		outbound:     opts.Outbound,
		store:        opts.Store,
		logger:       logger.With().Str("component", "registry").Logger(),
	}
}

// StartAgent returns the live session for the login, creating one if none
// exists. The second return is true when an existing session was found
func (r *Registry) StartAgent(auth types.AgentAuth) (*agent.Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.sessions[auth.Login]; ok {
		return e.session, true, nil
	}

	s := agent.NewSession(agent.Config{
		Auth:         auth,
		Ringout:      r.ringout,
		MediaTimeout: r.mediaTimeout,
		Outbound:     r.outbound,
		Peers:        r,
		Store:        r.store,
		Logger:       r.logger,
	})
	r.sessions[auth.Login] = &entry{session: s, since: time.Now()}

	// Monitor: remove the session atomically when it dies
	go func() {
		<-s.Done()
		r.remove(auth.Login, s)
	}()

	r.logger.Info().
		Str("login", auth.Login).
		Str("profile", auth.Profile).
		Int("total_agents", len(r.sessions)).
		Msg("agent session started")

	r.notifySupervisors("set", auth.Login, map[string]any{"profile": auth.Profile})
	return s, false, nil
}

// notifySupervisors pushes a monitor-tree mutation to every supervisor
// session. Caller holds the registry lock; delivery is asynchronous
func (r *Registry) notifySupervisors(action, login string, details map[string]any) {
	for _, e := range r.sessions {
		if e.session.Login() == login {
			continue
		}
		e.session.SupervisorTab(action, "agent", login, details)
	}
}

func (r *Registry) remove(login string, s *agent.Session) {
	r.mu.Lock()
	if e, ok := r.sessions[login]; ok && e.session == s {
		delete(r.sessions, login)
		r.logger.Info().
			Str("login", login).
			Int("total_agents", len(r.sessions)).
			Msg("agent session removed")
		r.notifySupervisors("drop", login, nil)
	}
	r.mu.Unlock()
}

// Query returns the live session for a login, if any
func (r *Registry) Query(login string) (*agent.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[login]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Find implements agent.Locator
func (r *Registry) Find(login string) (*agent.Session, bool) {
	return r.Query(login)
}

// List returns a snapshot of every live session. Session state is read
// outside the registry lock
func (r *Registry) List() []types.AgentInfo {
	r.mu.RLock()
	sessions := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		sessions = append(sessions, e)
	}
	r.mu.RUnlock()

	infos := make([]types.AgentInfo, 0, len(sessions))
	for _, e := range sessions {
		info := e.session.Info()
		info.Since = e.since
		infos = append(infos, info)
	}
	return infos
}

// Count returns the number of live sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Blab broadcasts a supervisor message to all sessions matching target
func (r *Registry) Blab(target BlabTarget, message string) int {
	r.mu.RLock()
	sessions := make([]*agent.Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		sessions = append(sessions, e.session)
	}
	r.mu.RUnlock()

	sent := 0
	for _, s := range sessions {
		switch target.Scope {
		case "all":
		case "agent":
			if s.Login() != target.Value {
				continue
			}
		case "profile":
			if s.Info().Profile != target.Value {
				continue
			}
		case "node":
			if r.node != target.Value {
				continue
			}
		default:
			continue
		}
		s.Blab(message)
		sent++
	}

	r.logger.Debug().
		Str("scope", target.Scope).
		Str("value", target.Value).
		Int("sent", sent).
		Msg("blab delivered")
	return sent
}

// Kick terminates a session by login. Returns false if no session exists
func (r *Registry) Kick(login, reason string) bool {
	s, ok := r.Query(login)
	if !ok {
		return false
	}
	s.Kick(reason)
	return true
}
