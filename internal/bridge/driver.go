package bridge

import (
	"context"
	"encoding/json"
)

// wsDriver adapts one call on a connected driver process to the
// media.Driver contract. Commands travel over the driver's websocket and
// block until the driver acknowledges them, except Cast, which returns as
// soon as the command is queued for sending
type wsDriver struct {
	conn   *Conn
	callID string
}

func (d *wsDriver) cmd(name string, args map[string]any) serverCommand {
	return serverCommand{Type: "cmd", CallID: d.callID, Name: name, Args: args}
}

func (d *wsDriver) Ring(ctx context.Context, login, endpoint string) error {
	_, err := d.conn.request(ctx, d.cmd("ring", map[string]any{"login": login, "endpoint": endpoint}))
	if err == nil {
		d.conn.trackCall(d.callID, login)
	}
	return err
}

func (d *wsDriver) Answer(ctx context.Context) error {
	_, err := d.conn.request(ctx, d.cmd("answer", nil))
	return err
}

func (d *wsDriver) Unring(ctx context.Context) error {
	_, err := d.conn.request(ctx, d.cmd("unring", nil))
	if err == nil {
		d.conn.untrackCall(d.callID)
	}
	return err
}

func (d *wsDriver) Hangup(ctx context.Context) error {
	_, err := d.conn.request(ctx, d.cmd("hangup", nil))
	d.conn.untrackCall(d.callID)
	return err
}

func (d *wsDriver) Dial(ctx context.Context, number string) error {
	_, err := d.conn.request(ctx, d.cmd("dial", map[string]any{"number": number}))
	return err
}

func (d *wsDriver) AgentTransfer(ctx context.Context, target, endpoint string) error {
	_, err := d.conn.request(ctx, d.cmd("agent_transfer", map[string]any{"target": target, "endpoint": endpoint}))
	if err == nil {
		d.conn.trackCall(d.callID, target)
	}
	return err
}

func (d *wsDriver) QueueTransfer(ctx context.Context, queue string, vars map[string]string, skills []string) error {
	_, err := d.conn.request(ctx, d.cmd("queue_transfer", map[string]any{
		"queue":  queue,
		"vars":   vars,
		"skills": skills,
	}))
	if err == nil {
		d.conn.untrackCall(d.callID)
	}
	return err
}

func (d *wsDriver) WarmTransfer(ctx context.Context, destination string) error {
	_, err := d.conn.request(ctx, d.cmd("warm_transfer", map[string]any{"destination": destination}))
	return err
}

func (d *wsDriver) WarmTransferComplete(ctx context.Context) error {
	_, err := d.conn.request(ctx, d.cmd("warm_transfer_complete", nil))
	return err
}

func (d *wsDriver) WarmTransferCancel(ctx context.Context) error {
	_, err := d.conn.request(ctx, d.cmd("warm_transfer_cancel", nil))
	return err
}

func (d *wsDriver) Spy(ctx context.Context, supervisorLogin, endpoint string) error {
	_, err := d.conn.request(ctx, d.cmd("spy", map[string]any{"login": supervisorLogin, "endpoint": endpoint}))
	return err
}

func (d *wsDriver) Call(ctx context.Context, name string, args []json.RawMessage) (json.RawMessage, error) {
	cmd := d.cmd(name, nil)
	cmd.Raw = args
	return d.conn.request(ctx, cmd)
}

func (d *wsDriver) Cast(name string, args []json.RawMessage) error {
	cmd := d.cmd(name, nil)
	cmd.Raw = args
	return d.conn.cast(cmd)
}
