package types

import "time"

// AgentState represents the current state of an agent session
type AgentState string

const (
	StateIdle         AgentState = "idle"
	StateRinging      AgentState = "ringing"
	StatePrecall      AgentState = "precall"
	StateOncall       AgentState = "oncall"
	StateOutgoing     AgentState = "outgoing"
	StateWrapup       AgentState = "wrapup"
	StateReleased     AgentState = "released"
	StateWarmTransfer AgentState = "warmtransfer"
	StateOffline      AgentState = "offline"
)

// ActiveStates are the states in which a session owns a media record
var ActiveStates = map[AgentState]bool{
	StateRinging:      true,
	StatePrecall:      true,
	StateOncall:       true,
	StateOutgoing:     true,
	StateWrapup:       true,
	StateWarmTransfer: true,
}

// SecurityLevel controls which API functions a session may call
type SecurityLevel string

const (
	SecurityAgent      SecurityLevel = "agent"
	SecuritySupervisor SecurityLevel = "supervisor"
	SecurityAdmin      SecurityLevel = "admin"
)

// Allows reports whether a session at level l may use functionality
// requiring level required
func (l SecurityLevel) Allows(required SecurityLevel) bool {
	rank := map[SecurityLevel]int{
		SecurityAgent:      0,
		SecuritySupervisor: 1,
		SecurityAdmin:      2,
	}
	return rank[l] >= rank[required]
}

// Skill is a capability token used by the matching engine. Atomic skills
// have an empty Value; parameterized skills carry one (e.g. brand=acme)
type Skill struct {
	Atom  string `json:"atom"`
	Value string `json:"value,omitempty"`
}

// SkillSet is an unordered collection of skills
type SkillSet []Skill

// Contains reports whether the set carries the given skill
func (s SkillSet) Contains(skill Skill) bool {
	for _, have := range s {
		if have.Atom == skill.Atom && have.Value == skill.Value {
			return true
		}
	}
	return false
}

// Covers reports whether every skill in required is present in the set.
// The magic "_all" atom matches anything
func (s SkillSet) Covers(required SkillSet) bool {
	for _, have := range s {
		if have.Atom == "_all" {
			return true
		}
	}
	for _, want := range required {
		if !s.Contains(want) {
			return false
		}
	}
	return true
}

// Release describes why an agent is unavailable. The Default sentinel is
// distinguishable from an explicit (id, label, bias) triple
type Release struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Bias    int    `json:"bias"` // -1 idle, 0 neutral, +1 productive
	Default bool   `json:"-"`
}

// DefaultRelease returns the sentinel release reason
func DefaultRelease() Release {
	return Release{Default: true}
}

// AgentAuth is what the external directory returns for a successful login
type AgentAuth struct {
	ID       string
	Login    string
	Profile  string
	Security SecurityLevel
	Skills   SkillSet
	Endpoint string
}

// AgentInfo is a read-only snapshot of one session, as exposed by the
// registry to supervisors and queues
type AgentInfo struct {
	Login      string        `json:"login"`
	ID         string        `json:"id"`
	Profile    string        `json:"profile"`
	Security   SecurityLevel `json:"security"`
	Skills     SkillSet      `json:"skills"`
	Endpoint   string        `json:"endpoint,omitempty"`
	State      AgentState    `json:"state"`
	LastChange time.Time     `json:"lastChange"`
	Since      time.Time     `json:"since"`
}

// StateRecord is one agent state transition, persisted for reporting
type StateRecord struct {
	Login     string     `json:"login"`
	AgentID   string     `json:"agentId"`
	Profile   string     `json:"profile"`
	OldState  AgentState `json:"oldState"`
	NewState  AgentState `json:"newState"`
	CallID    string     `json:"callId,omitempty"`
	ReleaseID string     `json:"releaseId,omitempty"`
	Bias      int        `json:"bias,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	DateKey   string     `json:"dateKey"`
}
