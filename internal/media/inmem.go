package media

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dannaaduna/oacd-core/internal/types"
	"github.com/google/uuid"
)

// InMemoryDriver is a loopback media driver. It satisfies every Driver
// call immediately and records what was asked of it, which is enough for
// queue dispatch in single-node deployments and for tests. Real telephony
// is driven by an external bridge connected over the media websocket
type InMemoryDriver struct {
	mu       sync.Mutex
	ringing  bool
	answered bool
	hungup   bool
	ops      []string
	commands map[string]func(args []json.RawMessage) (json.RawMessage, error)
}

// NewInMemoryDriver creates an idle loopback driver
func NewInMemoryDriver() *InMemoryDriver {
	return &InMemoryDriver{
		commands: make(map[string]func(args []json.RawMessage) (json.RawMessage, error)),
	}
}

// HandleCommand registers a handler for a named media command
func (d *InMemoryDriver) HandleCommand(name string, fn func(args []json.RawMessage) (json.RawMessage, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands[name] = fn
}

func (d *InMemoryDriver) record(op string) {
	d.mu.Lock()
	d.ops = append(d.ops, op)
	d.mu.Unlock()
}

// Ops returns the operations performed so far, in order
func (d *InMemoryDriver) Ops() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.ops))
	copy(out, d.ops)
	return out
}

func (d *InMemoryDriver) Ring(ctx context.Context, login, endpoint string) error {
	d.mu.Lock()
	d.ringing = true
	d.mu.Unlock()
	d.record("ring:" + login)
	return nil
}

func (d *InMemoryDriver) Answer(ctx context.Context) error {
	d.mu.Lock()
	d.ringing = false
	d.answered = true
	d.mu.Unlock()
	d.record("answer")
	return nil
}

func (d *InMemoryDriver) Unring(ctx context.Context) error {
	d.mu.Lock()
	d.ringing = false
	d.mu.Unlock()
	d.record("unring")
	return nil
}

func (d *InMemoryDriver) Hangup(ctx context.Context) error {
	d.mu.Lock()
	d.hungup = true
	d.mu.Unlock()
	d.record("hangup")
	return nil
}

func (d *InMemoryDriver) Dial(ctx context.Context, number string) error {
	d.record("dial:" + number)
	return nil
}

func (d *InMemoryDriver) AgentTransfer(ctx context.Context, target, endpoint string) error {
	d.record("agent_transfer:" + target)
	return nil
}

func (d *InMemoryDriver) QueueTransfer(ctx context.Context, queue string, vars map[string]string, skills []string) error {
	d.record("queue_transfer:" + queue)
	return nil
}

func (d *InMemoryDriver) WarmTransfer(ctx context.Context, destination string) error {
	d.record("warm_transfer:" + destination)
	return nil
}

func (d *InMemoryDriver) WarmTransferComplete(ctx context.Context) error {
	d.record("warm_transfer_complete")
	return nil
}

func (d *InMemoryDriver) WarmTransferCancel(ctx context.Context) error {
	d.record("warm_transfer_cancel")
	return nil
}

func (d *InMemoryDriver) Spy(ctx context.Context, supervisorLogin, endpoint string) error {
	d.record("spy:" + supervisorLogin)
	return nil
}

func (d *InMemoryDriver) Call(ctx context.Context, name string, args []json.RawMessage) (json.RawMessage, error) {
	d.record("call:" + name)
	d.mu.Lock()
	fn, ok := d.commands[name]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("command %q: %w", name, ErrRejected)
	}
	return fn(args)
}

func (d *InMemoryDriver) Cast(name string, args []json.RawMessage) error {
	d.record("cast:" + name)
	return nil
}

// Hungup reports whether the call was terminated
func (d *InMemoryDriver) Hungup() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hungup
}

// VoiceFactory builds outbound voice calls backed by loopback drivers
type VoiceFactory struct{}

// Create returns a fresh outbound voice call
func (VoiceFactory) Create(ctx context.Context, client string) (*Call, error) {
	return &Call{
		ID:        uuid.New().String(),
		Type:      types.MediaVoice,
		Source:    NewInMemoryDriver(),
		Client:    client,
		Direction: types.DirectionOutbound,
		RingPath:  types.PathOutband,
		MediaPath: types.PathOutband,
	}, nil
}
