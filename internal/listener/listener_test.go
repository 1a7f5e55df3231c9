package listener

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dannaaduna/oacd-core/internal/auth"
	"github.com/dannaaduna/oacd-core/internal/gateway"
	"github.com/dannaaduna/oacd-core/internal/registry"
	"github.com/rs/zerolog"
)

func testListener(t *testing.T) (*Listener, *registry.Registry) {
	t.Helper()
	logger := zerolog.New(&bytes.Buffer{})
	dir := auth.NewSeedDirectory("alice:secret;bob:hunter2:supervisor")
	reg := registry.New(registry.Options{Node: "oacd@test"}, logger)
	l := New(dir, reg, gateway.Timing{FlushWindow: 10 * time.Millisecond}, logger)
	t.Cleanup(func() {
		for _, info := range reg.List() {
			reg.Kick(info.Login, "test_done")
		}
	})
	return l, reg
}

func login(t *testing.T, l *Listener, username, password string) (*http.Cookie, gateway.Envelope) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	l.HandleLogin(rec, req)

	var env gateway.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to parse login response: %v", err)
	}

	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			return c, env
		}
	}
	return nil, env
}

func postAPI(t *testing.T, l *Listener, cookie *http.Cookie, frame string) (*httptest.ResponseRecorder, gateway.Envelope) {
	t.Helper()
	form := url.Values{"request": {frame}}
	req := httptest.NewRequest(http.MethodPost, "/api", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	l.HandleAPI(rec, req)

	var env gateway.Envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func TestLoginIssuesCookie(t *testing.T) {
	l, reg := testListener(t)

	cookie, env := login(t, l, "alice", "secret")
	if !env.Success {
		t.Fatalf("expected login success, got %+v", env)
	}
	if cookie == nil || cookie.Value == "" || cookie.Value == "dead" {
		t.Fatal("expected a live session cookie")
	}
	if reg.Count() != 1 {
		t.Errorf("expected one live session, got %d", reg.Count())
	}
	if l.GatewayCount() != 1 {
		t.Errorf("expected one bound gateway, got %d", l.GatewayCount())
	}
}

func TestLoginBadCredentials(t *testing.T) {
	l, reg := testListener(t)

	cookie, env := login(t, l, "alice", "wrong")
	if env.Success {
		t.Error("expected login failure")
	}
	if cookie != nil {
		t.Error("expected no cookie on failed login")
	}
	if reg.Count() != 0 {
		t.Errorf("expected no sessions, got %d", reg.Count())
	}
}

func TestDuplicateLoginAborts(t *testing.T) {
	l, reg := testListener(t)

	first, env := login(t, l, "alice", "secret")
	if !env.Success {
		t.Fatalf("first login failed: %+v", env)
	}

	second, env := login(t, l, "alice", "secret")
	if env.Success {
		t.Error("expected duplicate login to abort")
	}
	if env.Message != "already_logged_in" {
		t.Errorf("expected already_logged_in, got %q", env.Message)
	}
	if second != nil {
		t.Error("expected no cookie on duplicate login")
	}
	if reg.Count() != 1 {
		t.Errorf("expected the existing session untouched, got %d sessions", reg.Count())
	}

	// The original cookie still works
	rec, apiEnv := postAPI(t, l, first, `{"function":"set_state","args":["idle"]}`)
	if rec.Code != http.StatusOK || !apiEnv.Success {
		t.Errorf("expected original session to keep working, got %d %+v", rec.Code, apiEnv)
	}
}

func TestAPIWithoutSession(t *testing.T) {
	l, _ := testListener(t)

	rec, _ := postAPI(t, l, nil, `{"function":"set_state","args":["idle"]}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 without cookie, got %d", rec.Code)
	}
}

func TestAPIMissingRequestField(t *testing.T) {
	l, _ := testListener(t)
	cookie, _ := login(t, l, "alice", "secret")

	req := httptest.NewRequest(http.MethodPost, "/api", strings.NewReader("other=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	l.HandleAPI(rec, req)

	var env gateway.Envelope
	json.Unmarshal(rec.Body.Bytes(), &env)
	if env.Success || env.ErrCode != "BAD_REQUEST" {
		t.Errorf("expected BAD_REQUEST, got %+v", env)
	}
}

func TestPollDeliversStateEvents(t *testing.T) {
	l, _ := testListener(t)
	cookie, _ := login(t, l, "alice", "secret")

	if _, env := postAPI(t, l, cookie, `{"function":"set_state","args":["idle"]}`); !env.Success {
		t.Fatalf("set_state failed: %+v", env)
	}

	req := httptest.NewRequest(http.MethodPost, "/poll", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	l.HandlePoll(rec, req)

	var env gateway.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to parse poll response: %v", err)
	}
	if !env.Success {
		t.Fatalf("expected poll success, got %+v", env)
	}

	events, ok := env.Result.([]any)
	if !ok || len(events) == 0 {
		t.Fatalf("expected event batch, got %+v", env.Result)
	}
	first, _ := events[0].(map[string]any)
	if first["command"] != "astate" || first["state"] != "idle" {
		t.Errorf("expected astate idle, got %v", first)
	}
}

func TestLogoutSetsDeadCookie(t *testing.T) {
	l, _ := testListener(t)
	cookie, _ := login(t, l, "alice", "secret")

	form := url.Values{"request": {`{"function":"logout","args":[]}`}}
	req := httptest.NewRequest(http.MethodPost, "/api", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	l.HandleAPI(rec, req)

	var env gateway.Envelope
	json.Unmarshal(rec.Body.Bytes(), &env)
	if !env.Success {
		t.Fatalf("logout failed: %+v", env)
	}

	dead := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName && c.Value == "dead" {
			dead = true
		}
	}
	if !dead {
		t.Error("expected cookie to be set to the dead sentinel")
	}

	// The old cookie no longer resolves
	recAfter, _ := postAPI(t, l, cookie, `{"function":"set_state","args":["idle"]}`)
	if recAfter.Code != http.StatusForbidden {
		t.Errorf("expected 403 after logout, got %d", recAfter.Code)
	}
}

func TestPollReplacementOverHTTP(t *testing.T) {
	l, _ := testListener(t)
	cookie, _ := login(t, l, "alice", "secret")

	type pollOut struct {
		code int
		env  gateway.Envelope
	}
	first := make(chan pollOut, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/poll", nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		l.HandlePoll(rec, req)
		var env gateway.Envelope
		json.Unmarshal(rec.Body.Bytes(), &env)
		first <- pollOut{rec.Code, env}
	}()
	time.Sleep(100 * time.Millisecond)

	second := make(chan pollOut, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/poll", nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		l.HandlePoll(rec, req)
		var env gateway.Envelope
		json.Unmarshal(rec.Body.Bytes(), &env)
		second <- pollOut{rec.Code, env}
	}()

	select {
	case out := <-first:
		if out.env.Success {
			t.Error("expected displaced poll to fail")
		}
		if out.env.ErrCode != "POLL_PID_REPLACED" {
			t.Errorf("expected POLL_PID_REPLACED, got %s", out.env.ErrCode)
		}
		if out.code != http.StatusRequestTimeout {
			t.Errorf("expected 408 for displaced poll, got %d", out.code)
		}
	case <-time.After(time.Second):
		t.Fatal("displaced poll never returned")
	}

	// The second poll is still waiting; release it with an event
	if _, env := postAPI(t, l, cookie, `{"function":"set_state","args":["idle"]}`); !env.Success {
		t.Fatalf("set_state failed: %+v", env)
	}
	select {
	case out := <-second:
		if !out.env.Success {
			t.Errorf("expected newer poll to succeed, got %+v", out.env)
		}
	case <-time.After(time.Second):
		t.Fatal("newer poll never returned")
	}
}
