package listener

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/dannaaduna/oacd-core/internal/auth"
	"github.com/dannaaduna/oacd-core/internal/gateway"
	"github.com/dannaaduna/oacd-core/internal/registry"
	"github.com/dannaaduna/oacd-core/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CookieName ties a browser to its session handle
const CookieName = "cpx_id"

// deadCookie is the sentinel value set on logout
const deadCookie = "dead"

// Listener is the stateless HTTP front door. It authenticates agents,
// creates one web gateway per authenticated session, and routes /api and
// /poll requests to it by cookie
type Listener struct {
	directory auth.Directory
	registry  *registry.Registry
	timing    gateway.Timing
	logger    zerolog.Logger

	gateways map[string]*gateway.Gateway // cookie -> gateway
	mu       sync.RWMutex
}

// New creates a listener
func New(directory auth.Directory, reg *registry.Registry, timing gateway.Timing, logger zerolog.Logger) *Listener {
	return &Listener{
		directory: directory,
		registry:  reg,
		timing:    timing,
		logger:    logger.With().Str("component", "listener").Logger(),
		gateways:  make(map[string]*gateway.Gateway),
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleLogin handles POST /login: authenticate against the directory,
// start a session, bind a fresh gateway, and issue the session cookie
func (l *Listener) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusOK, gateway.ErrorEnvelope(types.ErrBadRequest, "invalid JSON"))
		return
	}
	if req.Username == "" {
		writeEnvelope(w, http.StatusOK, gateway.ErrorEnvelope(types.ErrBadRequest, "missing username"))
		return
	}

	agentAuth, err := l.directory.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrBadCredentials) {
			writeEnvelope(w, http.StatusOK, gateway.ErrorEnvelope(types.ErrBadRequest, "bad credentials"))
			return
		}
		writeEnvelope(w, http.StatusOK, gateway.ErrorEnvelope(types.ErrUnknown, err.Error()))
		return
	}

	session, existing, err := l.registry.StartAgent(agentAuth)
	if err != nil {
		writeEnvelope(w, http.StatusOK, gateway.ErrorEnvelope(types.ErrUnknown, err.Error()))
		return
	}
	if existing {
		// The live session is untouched; this attempt aborts
		writeEnvelope(w, http.StatusOK, gateway.ErrorEnvelope(types.ErrUnknown, "already_logged_in"))
		return
	}

	gw := gateway.New(session, l.registry, l.timing, l.logger)
	cookie := uuid.New().String()

	l.mu.Lock()
	l.gateways[cookie] = gw
	l.mu.Unlock()

	// Unbind the cookie when the gateway dies for any reason
	go func() {
		<-gw.Done()
		l.mu.Lock()
		if l.gateways[cookie] == gw {
			delete(l.gateways, cookie)
		}
		l.mu.Unlock()
	}()

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    cookie,
		Path:     "/",
		HttpOnly: true,
	})

	l.logger.Info().Str("login", req.Username).Msg("agent logged in")
	writeEnvelope(w, http.StatusOK, gateway.SuccessEnvelope(map[string]any{
		"login":    agentAuth.Login,
		"profile":  agentAuth.Profile,
		"security": agentAuth.Security,
	}))
}

// HandleAPI handles POST /api: one JSON request frame per call, carried
// in the form field "request"
func (l *Listener) HandleAPI(w http.ResponseWriter, r *http.Request) {
	gw, cookie, ok := l.lookup(r)
	if !ok {
		http.Error(w, "no session", http.StatusForbidden)
		return
	}

	raw, err := requestBody(r)
	if err != nil {
		writeEnvelope(w, http.StatusOK, gateway.ErrorEnvelope(types.ErrBadRequest, err.Error()))
		return
	}

	env, status := gw.Handle(raw)

	// A successful logout invalidates the cookie with the response
	if env.Success && isLogout(raw) {
		l.invalidate(cookie)
		http.SetCookie(w, &http.Cookie{
			Name:     CookieName,
			Value:    deadCookie,
			Path:     "/",
			HttpOnly: true,
		})
	}

	writeEnvelope(w, status, env)
}

// HandlePoll handles POST /poll: registers the caller as the session's
// long-poll waiter
func (l *Listener) HandlePoll(w http.ResponseWriter, r *http.Request) {
	gw, _, ok := l.lookup(r)
	if !ok {
		http.Error(w, "no session", http.StatusForbidden)
		return
	}

	res := gw.Poll(r.Context())
	writeEnvelope(w, res.Status, res.Envelope)
}

// lookup resolves the request's session cookie to a live gateway
func (l *Listener) lookup(r *http.Request) (*gateway.Gateway, string, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" || c.Value == deadCookie {
		return nil, "", false
	}
	l.mu.RLock()
	gw, ok := l.gateways[c.Value]
	l.mu.RUnlock()
	if !ok {
		return nil, "", false
	}
	return gw, c.Value, true
}

func (l *Listener) invalidate(cookie string) {
	l.mu.Lock()
	delete(l.gateways, cookie)
	l.mu.Unlock()
}

// GatewayCount returns the number of bound gateways
func (l *Listener) GatewayCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.gateways)
}

// requestBody extracts the JSON frame from the "request" form field,
// falling back to the raw body for non-form posts
func requestBody(r *http.Request) ([]byte, error) {
	ct := r.Header.Get("Content-Type")
	if ct == "" || strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return nil, errors.New("malformed form body")
		}
		if v := r.PostFormValue("request"); v != "" {
			return []byte(v), nil
		}
		return nil, errors.New("missing request field")
	}
	raw, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err != nil {
		return nil, errors.New("unreadable body")
	}
	if len(raw) == 0 {
		return nil, errors.New("empty body")
	}
	return raw, nil
}

func isLogout(raw []byte) bool {
	var req gateway.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return false
	}
	return req.Function == "logout"
}

func writeEnvelope(w http.ResponseWriter, status int, env gateway.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		// Connection is gone; nothing useful to do
		_ = err
	}
}
