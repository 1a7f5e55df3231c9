package media

import (
	"github.com/dannaaduna/oacd-core/internal/types"
)

// Call is the media record for one contact. It is created by a media
// driver and attached to at most one agent session at a time; the session
// holds a borrowed reference until the call terminates or is transferred
type Call struct {
	ID        string
	Type      types.MediaType
	Source    Driver
	CallerID  [2]string
	Client    string // client/brand label, may be empty
	Direction types.CallDirection
	RingPath  types.PathMode
	MediaPath types.PathMode
	Skills    types.SkillSet
	PopURL    string // optional url to pop on ring
}

// Summary flattens the record into its client-facing view. An empty client
// label becomes "unknown client"
func (c *Call) Summary() *types.CallSummary {
	brand := c.Client
	if brand == "" {
		brand = "unknown client"
	}
	return &types.CallSummary{
		CallID:    c.ID,
		Type:      c.Type,
		CallerID:  c.CallerID,
		BrandName: brand,
		Direction: c.Direction,
		RingPath:  c.RingPath,
		MediaPath: c.MediaPath,
	}
}
