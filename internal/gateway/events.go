package gateway

import (
	"github.com/dannaaduna/oacd-core/internal/types"
)

// Envelope is the only response shape clients ever see: success-empty,
// success-value, or error
type Envelope struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	ErrCode string `json:"errcode,omitempty"`
	Message string `json:"message,omitempty"`
}

// OkEnvelope is the success-empty shape
func OkEnvelope() Envelope {
	return Envelope{Success: true}
}

// SuccessEnvelope is the success-value shape
func SuccessEnvelope(result any) Envelope {
	return Envelope{Success: true, Result: result}
}

// ErrorEnvelope is the error shape
func ErrorEnvelope(code types.ErrCode, message string) Envelope {
	return Envelope{Success: false, ErrCode: string(code), Message: message}
}

// FromResult serializes a session result to the envelope
func FromResult(r types.Result) Envelope {
	if !r.OK {
		return ErrorEnvelope(r.Code, r.Message)
	}
	if r.Value != nil {
		return SuccessEnvelope(r.Value)
	}
	return OkEnvelope()
}

// EncodeEvent renders a session event as the client-facing JSON object.
// The statedata rules here are normative for client compatibility
func EncodeEvent(ev types.SessionEvent) map[string]any {
	out := map[string]any{"command": string(ev.Kind)}

	switch ev.Kind {
	case types.EventPong:
		out["timestamp"] = ev.Timestamp.UnixMilli()

	case types.EventAState:
		out["state"] = string(ev.State)
		if data := encodeStateData(ev); data != nil {
			out["statedata"] = data
		}

	case types.EventAProfile:
		out["profile"] = ev.Profile

	case types.EventURLPop:
		out["url"] = ev.URL
		out["name"] = ev.Name

	case types.EventBlab:
		out["text"] = ev.Text

	case types.EventMediaLoad:
		out["media"] = ev.Media
		out["fullpane"] = ev.FullPane

	case types.EventMediaEvent:
		out["media"] = ev.Media
		for k, v := range ev.Payload {
			out[k] = v
		}

	case types.EventSupervisorTab:
		out["action"] = ev.Action
		out["type"] = ev.TabType
		out["id"] = ev.TabID
		if ev.Details != nil {
			out["details"] = ev.Details
		}
	}

	return out
}

// encodeStateData builds the statedata companion for an astate event.
// Idle carries none; releases preserve the default sentinel; warm
// transfers nest the held call and the consult destination
func encodeStateData(ev types.SessionEvent) any {
	switch ev.State {
	case types.StateReleased:
		if ev.Release == nil || ev.Release.Default {
			return map[string]any{"reason": "default"}
		}
		return map[string]any{"reason": map[string]any{
			"id":    ev.Release.ID,
			"label": ev.Release.Label,
			"bias":  ev.Release.Bias,
		}}
	case types.StateWarmTransfer:
		data := map[string]any{"calling": ev.Calling}
		if ev.Held != nil {
			data["onhold"] = encodeCall(ev.Held)
		}
		return data
	default:
		if ev.Call != nil {
			return encodeCall(ev.Call)
		}
		return nil
	}
}

func encodeCall(c *types.CallSummary) map[string]any {
	return map[string]any{
		"callid":    c.CallID,
		"type":      string(c.Type),
		"callerid":  [2]string{c.CallerID[0], c.CallerID[1]},
		"brandname": c.BrandName,
		"direction": string(c.Direction),
		"ringpath":  string(c.RingPath),
		"mediapath": string(c.MediaPath),
	}
}
