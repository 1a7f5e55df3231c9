package gateway

import (
	"net/http"
	"testing"

	"github.com/dannaaduna/oacd-core/internal/types"
)

func handle(t *testing.T, g *Gateway, raw string) (Envelope, int) {
	t.Helper()
	return g.Handle([]byte(raw))
}

func TestHandleUnknownFunction(t *testing.T) {
	g, _ := testGateway(t, Timing{})

	env, status := handle(t, g, `{"function":"make_coffee","args":[]}`)
	if status != http.StatusOK {
		t.Errorf("expected 200, got %d", status)
	}
	if env.Success || env.ErrCode != string(types.ErrBadRequest) {
		t.Errorf("expected BAD_REQUEST envelope, got %+v", env)
	}
}

func TestHandleMalformedJSON(t *testing.T) {
	g, _ := testGateway(t, Timing{})

	env, _ := handle(t, g, `{"function":`)
	if env.Success || env.ErrCode != string(types.ErrBadRequest) {
		t.Errorf("expected BAD_REQUEST envelope, got %+v", env)
	}
}

func TestHandleWrongArity(t *testing.T) {
	g, _ := testGateway(t, Timing{})

	env, _ := handle(t, g, `{"function":"set_state","args":[]}`)
	if env.Success || env.ErrCode != string(types.ErrBadRequest) {
		t.Errorf("expected BAD_REQUEST for missing args, got %+v", env)
	}

	env, _ = handle(t, g, `{"function":"media_hangup","args":["extra"]}`)
	if env.Success || env.ErrCode != string(types.ErrBadRequest) {
		t.Errorf("expected BAD_REQUEST for extra args, got %+v", env)
	}
}

func TestHandleSetState(t *testing.T) {
	g, s := testGateway(t, Timing{})

	env, status := handle(t, g, `{"function":"set_state","args":["idle"]}`)
	if status != http.StatusOK || !env.Success {
		t.Fatalf("expected success, got %+v (%d)", env, status)
	}
	if s.Info().State != types.StateIdle {
		t.Errorf("expected idle, got %s", s.Info().State)
	}

	// released with the Default sentinel
	env, _ = handle(t, g, `{"function":"set_state","args":["released","Default"]}`)
	if !env.Success {
		t.Fatalf("expected success, got %+v", env)
	}
	if s.Info().State != types.StateReleased {
		t.Errorf("expected released, got %s", s.Info().State)
	}
}

func TestHandleSetStateInvalidTransition(t *testing.T) {
	g, _ := testGateway(t, Timing{})

	handle(t, g, `{"function":"set_state","args":["idle"]}`)
	env, status := handle(t, g, `{"function":"set_state","args":["wrapup"]}`)
	if status != http.StatusOK {
		t.Errorf("expected 200 with error envelope, got %d", status)
	}
	if env.Success || env.ErrCode != string(types.ErrInvalidStateChange) {
		t.Errorf("expected INVALID_STATE_CHANGE, got %+v", env)
	}
}

func TestHandleReleaseTriple(t *testing.T) {
	g, s := testGateway(t, Timing{})

	env, _ := handle(t, g, `{"function":"set_state","args":["released",{"id":"r1","label":"Lunch","bias":-1}]}`)
	if !env.Success {
		t.Fatalf("expected success, got %+v", env)
	}
	if s.Info().State != types.StateReleased {
		t.Errorf("expected released, got %s", s.Info().State)
	}

	env, _ = handle(t, g, `{"function":"set_state","args":["released",{"id":"r1","label":"Lunch","bias":7}]}`)
	if env.Success || env.ErrCode != string(types.ErrBadRequest) {
		t.Errorf("expected BAD_REQUEST for bias out of range, got %+v", env)
	}
}

func TestSupervisorFunctionForbiddenForAgent(t *testing.T) {
	g, _ := testGateway(t, Timing{})

	env, status := handle(t, g, `{"function":"blab","args":["all","","hello"]}`)
	if status != http.StatusForbidden {
		t.Errorf("expected 403, got %d", status)
	}
	if env.Success {
		t.Error("expected error envelope")
	}
}

func TestHandleSetEndpoint(t *testing.T) {
	g, s := testGateway(t, Timing{})

	env, _ := handle(t, g, `{"function":"set_endpoint","args":["sip:alice@pbx"]}`)
	if !env.Success {
		t.Fatalf("expected success, got %+v", env)
	}
	if s.Info().Endpoint != "sip:alice@pbx" {
		t.Errorf("expected endpoint update, got %s", s.Info().Endpoint)
	}
}

func TestHandleChangeProfile(t *testing.T) {
	g, s := testGateway(t, Timing{})

	env, _ := handle(t, g, `{"function":"change_profile","args":["Tier2"]}`)
	if !env.Success {
		t.Fatalf("expected success, got %+v", env)
	}
	if s.Info().Profile != "Tier2" {
		t.Errorf("expected profile Tier2, got %s", s.Info().Profile)
	}
}

func TestHandleLogout(t *testing.T) {
	g, s := testGateway(t, Timing{})

	env, _ := handle(t, g, `{"function":"logout","args":[]}`)
	if !env.Success {
		t.Fatalf("expected success, got %+v", env)
	}

	select {
	case <-s.Done():
	case <-g.Done():
	}
}

func TestHandleMediaHangupWithoutCall(t *testing.T) {
	g, _ := testGateway(t, Timing{})

	env, _ := handle(t, g, `{"function":"media_hangup","args":[]}`)
	if env.Success || env.ErrCode != string(types.ErrMediaNoExists) {
		t.Errorf("expected MEDIA_NOEXISTS, got %+v", env)
	}
}
