package types

import "time"

// MediaType classifies a contact
type MediaType string

const (
	MediaVoice     MediaType = "voice"
	MediaEmail     MediaType = "email"
	MediaChat      MediaType = "chat"
	MediaVoicemail MediaType = "voicemail"
)

// CallDirection indicates who originated the contact
type CallDirection string

const (
	DirectionInbound  CallDirection = "inbound"
	DirectionOutbound CallDirection = "outbound"
)

// PathMode describes whether ring or media is carried in-band or out-of-band
type PathMode string

const (
	PathInband  PathMode = "inband"
	PathOutband PathMode = "outband"
)

// CallSummary is the client-facing view of a media record, carried in
// astate events. BrandName derives from the call's client label
type CallSummary struct {
	CallID    string        `json:"callid"`
	Type      MediaType     `json:"type"`
	CallerID  [2]string     `json:"callerid"`
	BrandName string        `json:"brandname"`
	Direction CallDirection `json:"direction"`
	RingPath  PathMode      `json:"ringpath"`
	MediaPath PathMode      `json:"mediapath"`
}

// EventKind is the command field of a client event
type EventKind string

const (
	EventPong          EventKind = "pong"
	EventAState        EventKind = "astate"
	EventAProfile      EventKind = "aprofile"
	EventURLPop        EventKind = "urlpop"
	EventBlab          EventKind = "blab"
	EventMediaLoad     EventKind = "mediaload"
	EventMediaEvent    EventKind = "mediaevent"
	EventSupervisorTab EventKind = "supervisortab"
)

// SessionEvent is one event emitted by an agent session toward its web
// gateway. Only the fields relevant to Kind are set; the gateway owns the
// JSON encoding rules
type SessionEvent struct {
	Kind EventKind

	// astate
	State   AgentState
	Release *Release
	Call    *CallSummary
	Held    *CallSummary // warmtransfer: call on hold
	Calling string       // warmtransfer: consult destination

	// aprofile
	Profile string

	// blab
	Text string

	// urlpop
	URL  string
	Name string

	// mediaload / mediaevent
	Media    string
	FullPane bool
	Payload  map[string]any

	// supervisortab
	Action  string
	TabType string
	TabID   string
	Details map[string]any

	// pong
	Timestamp time.Time
}
