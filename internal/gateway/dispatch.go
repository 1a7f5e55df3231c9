package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dannaaduna/oacd-core/internal/metrics"
	"github.com/dannaaduna/oacd-core/internal/registry"
	"github.com/dannaaduna/oacd-core/internal/types"
)

// Request is the JSON frame a web client posts to /api
type Request struct {
	Function string            `json:"function"`
	Args     []json.RawMessage `json:"args"`
}

// apiFunc describes one exposed function: its arity bounds, the privilege
// it requires, and its handler. maxArgs of -1 means variadic
type apiFunc struct {
	minArgs   int
	maxArgs   int
	privilege types.SecurityLevel
	fn        func(g *Gateway, args []json.RawMessage) types.Result
}

var functions = map[string]apiFunc{
	"set_state":              {1, 2, types.SecurityAgent, doSetState},
	"set_endpoint":           {1, 1, types.SecurityAgent, doSetEndpoint},
	"change_profile":         {1, 1, types.SecurityAgent, doChangeProfile},
	"dial":                   {1, 1, types.SecurityAgent, doDial},
	"agent_transfer":         {1, 2, types.SecurityAgent, doAgentTransfer},
	"queue_transfer":         {1, 3, types.SecurityAgent, doQueueTransfer},
	"warm_transfer":          {1, 1, types.SecurityAgent, doWarmTransfer},
	"warm_transfer_complete": {0, 0, types.SecurityAgent, doWarmTransferComplete},
	"warm_transfer_cancel":   {0, 0, types.SecurityAgent, doWarmTransferCancel},
	"media_command":          {2, -1, types.SecurityAgent, doMediaCommand},
	"media_hangup":           {0, 0, types.SecurityAgent, doMediaHangup},
	"init_outbound":          {2, 2, types.SecurityAgent, doInitOutbound},
	"logout":                 {0, 0, types.SecurityAgent, doLogout},
	"blab":                   {3, 3, types.SecuritySupervisor, doBlab},
	"list_agents":            {0, 0, types.SecuritySupervisor, doListAgents},
	"kick_agent":             {1, 1, types.SecuritySupervisor, doKick},
	"spy":                    {1, 1, types.SecuritySupervisor, doSpy},
}

// Handle dispatches one request frame. The HTTP status is 200 except for
// insufficient privilege (403); the envelope, not the status, carries
// business failure
func (g *Gateway) Handle(raw []byte) (Envelope, int) {
	started := time.Now()

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return g.reject("", types.ErrBadRequest, "malformed request: "+err.Error(), started)
	}
	if req.Function == "" {
		return g.reject("", types.ErrBadRequest, "missing function", started)
	}

	f, ok := functions[req.Function]
	if !ok {
		return g.reject(req.Function, types.ErrBadRequest, "unknown function "+req.Function, started)
	}
	if len(req.Args) < f.minArgs || (f.maxArgs >= 0 && len(req.Args) > f.maxArgs) {
		return g.reject(req.Function, types.ErrBadRequest,
			fmt.Sprintf("%s: wrong number of arguments (%d)", req.Function, len(req.Args)), started)
	}
	if !g.session.Security().Allows(f.privilege) {
		env := ErrorEnvelope(types.ErrBadRequest, "insufficient privilege for "+req.Function)
		metrics.Get().RecordDispatch(req.Function, "forbidden", time.Since(started))
		return env, http.StatusForbidden
	}

	res := f.fn(g, req.Args)
	env := FromResult(res)
	status := "ok"
	if !res.OK {
		status = string(res.Code)
		metrics.Get().RecordError(string(res.Code))
	}
	metrics.Get().RecordDispatch(req.Function, status, time.Since(started))
	return env, http.StatusOK
}

func (g *Gateway) reject(function string, code types.ErrCode, msg string, started time.Time) (Envelope, int) {
	metrics.Get().RecordError(string(code))
	name := function
	if name == "" {
		name = "unknown"
	}
	metrics.Get().RecordDispatch(name, string(code), time.Since(started))
	return ErrorEnvelope(code, msg), http.StatusOK
}

func argString(args []json.RawMessage, i int) (string, error) {
	var s string
	if err := json.Unmarshal(args[i], &s); err != nil {
		return "", fmt.Errorf("argument %d must be a string", i)
	}
	return s, nil
}

func doSetState(g *Gateway, args []json.RawMessage) types.Result {
	state, err := argString(args, 0)
	if err != nil {
		return types.Err(types.ErrBadRequest, err.Error())
	}
	target := types.AgentState(state)
	if target != types.StateReleased {
		return g.session.SetState(target, nil)
	}
	rel := types.DefaultRelease()
	if len(args) == 2 {
		parsed, err := parseRelease(args[1])
		if err != nil {
			return types.Err(types.ErrBadRequest, err.Error())
		}
		rel = parsed
	}
	return g.session.SetState(types.StateReleased, &rel)
}

// parseRelease accepts the sentinel string "Default"/"default", a bare
// reason id, or an {id, label, bias} object
func parseRelease(raw json.RawMessage) (types.Release, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.EqualFold(s, "default") {
			return types.DefaultRelease(), nil
		}
		return types.Release{ID: s, Label: s}, nil
	}
	var rel types.Release
	if err := json.Unmarshal(raw, &rel); err != nil {
		return types.Release{}, fmt.Errorf("release reason must be a string or an object")
	}
	if rel.Bias < -1 || rel.Bias > 1 {
		return types.Release{}, fmt.Errorf("release bias must be -1, 0 or 1")
	}
	return rel, nil
}

func doSetEndpoint(g *Gateway, args []json.RawMessage) types.Result {
	endpoint, err := argString(args, 0)
	if err != nil {
		return types.Err(types.ErrBadRequest, err.Error())
	}
	return g.session.SetEndpoint(endpoint)
}

func doChangeProfile(g *Gateway, args []json.RawMessage) types.Result {
	profile, err := argString(args, 0)
	if err != nil {
		return types.Err(types.ErrBadRequest, err.Error())
	}
	return g.session.ChangeProfile(profile)
}

func doDial(g *Gateway, args []json.RawMessage) types.Result {
	number, err := argString(args, 0)
	if err != nil {
		return types.Err(types.ErrBadRequest, err.Error())
	}
	return g.session.Dial(number)
}

func doAgentTransfer(g *Gateway, args []json.RawMessage) types.Result {
	target, err := argString(args, 0)
	if err != nil {
		return types.Err(types.ErrBadRequest, err.Error())
	}
	if len(args) == 2 {
		if caseID, err := argString(args, 1); err == nil {
			g.logger.Debug().Str("case_id", caseID).Str("target", target).Msg("transfer case id")
		}
	}
	return g.session.AgentTransfer(target)
}

func doQueueTransfer(g *Gateway, args []json.RawMessage) types.Result {
	queue, err := argString(args, 0)
	if err != nil {
		return types.Err(types.ErrBadRequest, err.Error())
	}
	vars := map[string]string{}
	if len(args) >= 2 {
		if err := json.Unmarshal(args[1], &vars); err != nil {
			return types.Err(types.ErrBadRequest, "vars must be a string map")
		}
	}
	var skills []string
	if len(args) == 3 {
		if err := json.Unmarshal(args[2], &skills); err != nil {
			return types.Err(types.ErrBadRequest, "skills must be a string list")
		}
	}
	return g.session.QueueTransfer(queue, vars, skills)
}

func doWarmTransfer(g *Gateway, args []json.RawMessage) types.Result {
	dest, err := argString(args, 0)
	if err != nil {
		return types.Err(types.ErrBadRequest, err.Error())
	}
	return g.session.WarmTransfer(dest)
}

func doWarmTransferComplete(g *Gateway, _ []json.RawMessage) types.Result {
	return g.session.WarmTransferComplete()
}

func doWarmTransferCancel(g *Gateway, _ []json.RawMessage) types.Result {
	return g.session.WarmTransferCancel()
}

func doMediaCommand(g *Gateway, args []json.RawMessage) types.Result {
	name, err := argString(args, 0)
	if err != nil {
		return types.Err(types.ErrBadRequest, err.Error())
	}
	mode, err := argString(args, 1)
	if err != nil {
		return types.Err(types.ErrBadRequest, err.Error())
	}
	if mode != "call" && mode != "cast" {
		return types.Err(types.ErrBadRequest, "mode must be call or cast")
	}
	return g.session.MediaCommand(name, mode, args[2:])
}

func doMediaHangup(g *Gateway, _ []json.RawMessage) types.Result {
	return g.session.MediaHangup()
}

func doInitOutbound(g *Gateway, args []json.RawMessage) types.Result {
	client, err := argString(args, 0)
	if err != nil {
		return types.Err(types.ErrBadRequest, err.Error())
	}
	mediaType, err := argString(args, 1)
	if err != nil {
		return types.Err(types.ErrBadRequest, err.Error())
	}
	return g.session.InitOutbound(client, mediaType)
}

func doLogout(g *Gateway, _ []json.RawMessage) types.Result {
	return g.session.Logout()
}

func doBlab(g *Gateway, args []json.RawMessage) types.Result {
	scope, err := argString(args, 0)
	if err != nil {
		return types.Err(types.ErrBadRequest, err.Error())
	}
	value, err := argString(args, 1)
	if err != nil {
		return types.Err(types.ErrBadRequest, err.Error())
	}
	message, err := argString(args, 2)
	if err != nil {
		return types.Err(types.ErrBadRequest, err.Error())
	}
	if g.registry == nil {
		return types.Err(types.ErrUnknown, "no registry configured")
	}
	sent := g.registry.Blab(registry.BlabTarget{Scope: scope, Value: value}, message)
	return types.OkValue(map[string]int{"sent": sent})
}

func doListAgents(g *Gateway, _ []json.RawMessage) types.Result {
	if g.registry == nil {
		return types.Err(types.ErrUnknown, "no registry configured")
	}
	return types.OkValue(g.registry.List())
}

func doKick(g *Gateway, args []json.RawMessage) types.Result {
	login, err := argString(args, 0)
	if err != nil {
		return types.Err(types.ErrBadRequest, err.Error())
	}
	if g.registry == nil {
		return types.Err(types.ErrUnknown, "no registry configured")
	}
	if !g.registry.Kick(login, "kicked") {
		return types.Err(types.ErrAgentNoExists, "agent "+login+" not found")
	}
	return types.Ok()
}

func doSpy(g *Gateway, args []json.RawMessage) types.Result {
	login, err := argString(args, 0)
	if err != nil {
		return types.Err(types.ErrBadRequest, err.Error())
	}
	if g.registry == nil {
		return types.Err(types.ErrUnknown, "no registry configured")
	}
	target, ok := g.registry.Query(login)
	if !ok {
		return types.Err(types.ErrAgentNoExists, "agent "+login+" not found")
	}
	return g.session.Spy(target)
}
