package gateway

import (
	"testing"
	"time"

	"github.com/dannaaduna/oacd-core/internal/types"
)

func TestEncodeIdleHasNoStateData(t *testing.T) {
	out := EncodeEvent(types.SessionEvent{Kind: types.EventAState, State: types.StateIdle})
	if out["command"] != "astate" || out["state"] != "idle" {
		t.Errorf("unexpected encoding: %v", out)
	}
	if _, ok := out["statedata"]; ok {
		t.Error("idle must not carry statedata")
	}
}

func TestEncodeReleasedDefaultSentinel(t *testing.T) {
	rel := types.DefaultRelease()
	out := EncodeEvent(types.SessionEvent{
		Kind:    types.EventAState,
		State:   types.StateReleased,
		Release: &rel,
	})

	data, ok := out["statedata"].(map[string]any)
	if !ok {
		t.Fatalf("expected statedata map, got %T", out["statedata"])
	}
	if data["reason"] != "default" {
		t.Errorf("expected default sentinel preserved, got %v", data["reason"])
	}
}

func TestEncodeReleasedTriple(t *testing.T) {
	out := EncodeEvent(types.SessionEvent{
		Kind:    types.EventAState,
		State:   types.StateReleased,
		Release: &types.Release{ID: "r1", Label: "Lunch", Bias: 1},
	})

	data := out["statedata"].(map[string]any)
	reason, ok := data["reason"].(map[string]any)
	if !ok {
		t.Fatalf("expected reason object, got %T", data["reason"])
	}
	if reason["id"] != "r1" || reason["label"] != "Lunch" || reason["bias"] != 1 {
		t.Errorf("unexpected reason encoding: %v", reason)
	}
}

func TestEncodeCallStateData(t *testing.T) {
	out := EncodeEvent(types.SessionEvent{
		Kind:  types.EventAState,
		State: types.StateRinging,
		Call: &types.CallSummary{
			CallID:    "call_42",
			Type:      types.MediaVoice,
			CallerID:  [2]string{"Caller", "5550001"},
			BrandName: "acme",
			Direction: types.DirectionInbound,
			RingPath:  types.PathOutband,
			MediaPath: types.PathInband,
		},
	})

	data := out["statedata"].(map[string]any)
	if data["callid"] != "call_42" || data["type"] != "voice" {
		t.Errorf("unexpected call statedata: %v", data)
	}
	if data["brandname"] != "acme" {
		t.Errorf("expected brandname acme, got %v", data["brandname"])
	}
	if data["ringpath"] != "outband" || data["mediapath"] != "inband" {
		t.Errorf("unexpected path encoding: %v", data)
	}
}

func TestEncodeUnknownClientBrand(t *testing.T) {
	// Brand derivation happens on the call record itself
	call := &types.CallSummary{CallID: "c1", BrandName: "unknown client"}
	out := EncodeEvent(types.SessionEvent{Kind: types.EventAState, State: types.StateOncall, Call: call})
	data := out["statedata"].(map[string]any)
	if data["brandname"] != "unknown client" {
		t.Errorf("expected unknown client fallback, got %v", data["brandname"])
	}
}

func TestEncodeWarmTransferNestsHeldCall(t *testing.T) {
	out := EncodeEvent(types.SessionEvent{
		Kind:    types.EventAState,
		State:   types.StateWarmTransfer,
		Held:    &types.CallSummary{CallID: "call_42"},
		Calling: "15551212",
	})

	data := out["statedata"].(map[string]any)
	if data["calling"] != "15551212" {
		t.Errorf("expected calling destination, got %v", data["calling"])
	}
	held, ok := data["onhold"].(map[string]any)
	if !ok || held["callid"] != "call_42" {
		t.Errorf("expected nested held call, got %v", data["onhold"])
	}
}

func TestEncodePong(t *testing.T) {
	now := time.Now()
	out := EncodeEvent(types.SessionEvent{Kind: types.EventPong, Timestamp: now})
	if out["command"] != "pong" {
		t.Errorf("expected pong, got %v", out["command"])
	}
	if out["timestamp"] != now.UnixMilli() {
		t.Errorf("expected timestamp %d, got %v", now.UnixMilli(), out["timestamp"])
	}
}

func TestEnvelopeShapes(t *testing.T) {
	if env := OkEnvelope(); !env.Success || env.Result != nil || env.ErrCode != "" {
		t.Errorf("unexpected success-empty shape: %+v", env)
	}
	if env := SuccessEnvelope(42); !env.Success || env.Result != 42 {
		t.Errorf("unexpected success-value shape: %+v", env)
	}
	env := ErrorEnvelope(types.ErrBadRequest, "nope")
	if env.Success || env.ErrCode != "BAD_REQUEST" || env.Message != "nope" {
		t.Errorf("unexpected error shape: %+v", env)
	}
}

func TestFromResult(t *testing.T) {
	if env := FromResult(types.Ok()); !env.Success || env.Result != nil {
		t.Errorf("unexpected ok mapping: %+v", env)
	}
	if env := FromResult(types.OkValue("queued")); !env.Success || env.Result != "queued" {
		t.Errorf("unexpected value mapping: %+v", env)
	}
	env := FromResult(types.Invalid("idle -> wrapup"))
	if env.Success || env.ErrCode != "INVALID_STATE_CHANGE" {
		t.Errorf("unexpected error mapping: %+v", env)
	}
}
