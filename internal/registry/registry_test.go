package registry

import (
	"bytes"
	"testing"
	"time"

	"github.com/dannaaduna/oacd-core/internal/types"
	"github.com/rs/zerolog"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(Options{Node: "oacd@test"}, zerolog.New(&bytes.Buffer{}))
}

func auth(login string) types.AgentAuth {
	return types.AgentAuth{
		ID:      "id-" + login,
		Login:   login,
		Profile: "Default",
		Skills:  types.SkillSet{{Atom: "english"}},
	}
}

func TestStartAgentCreatesFreshSession(t *testing.T) {
	r := testRegistry(t)

	s, existing, err := r.StartAgent(auth("alice"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if existing {
		t.Error("expected a fresh session")
	}
	if s == nil {
		t.Fatal("expected a session handle")
	}
	t.Cleanup(func() { s.Kick("test_done") })

	if r.Count() != 1 {
		t.Errorf("expected 1 live session, got %d", r.Count())
	}
}

func TestStartAgentReturnsExisting(t *testing.T) {
	r := testRegistry(t)

	first, _, _ := r.StartAgent(auth("alice"))
	t.Cleanup(func() { first.Kick("test_done") })

	second, existing, err := r.StartAgent(auth("alice"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !existing {
		t.Error("expected existing flag for duplicate login")
	}
	if second != first {
		t.Error("expected the original session handle, untouched")
	}
	if r.Count() != 1 {
		t.Errorf("expected a single live session, got %d", r.Count())
	}
}

func TestQueryUnknownLogin(t *testing.T) {
	r := testRegistry(t)

	if _, ok := r.Query("nobody"); ok {
		t.Error("expected none for unknown login")
	}
}

func TestSessionDeathRemovesEntry(t *testing.T) {
	r := testRegistry(t)

	s, _, _ := r.StartAgent(auth("alice"))
	s.Kick("admin")
	<-s.Done()

	// Removal is driven by the monitor goroutine
	deadline := time.Now().Add(time.Second)
	for r.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected dead session to be removed from the registry")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, ok := r.Query("alice"); ok {
		t.Error("expected query to miss after session death")
	}
}

func TestRelogAfterDeath(t *testing.T) {
	r := testRegistry(t)

	s, _, _ := r.StartAgent(auth("alice"))
	s.Kick("admin")
	<-s.Done()

	deadline := time.Now().Add(time.Second)
	for r.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	fresh, existing, err := r.StartAgent(auth("alice"))
	if err != nil || existing {
		t.Fatalf("expected fresh login after death, existing=%v err=%v", existing, err)
	}
	t.Cleanup(func() { fresh.Kick("test_done") })
}

func TestListSnapshots(t *testing.T) {
	r := testRegistry(t)

	a, _, _ := r.StartAgent(auth("alice"))
	b, _, _ := r.StartAgent(auth("bob"))
	t.Cleanup(func() { a.Kick("test_done"); b.Kick("test_done") })

	infos := r.List()
	if len(infos) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(infos))
	}
	for _, info := range infos {
		if info.State != types.StateReleased {
			t.Errorf("expected released snapshot, got %s", info.State)
		}
		if info.Since.IsZero() {
			t.Error("expected since timestamp")
		}
	}
}

func TestBlabTargeting(t *testing.T) {
	r := testRegistry(t)

	a, _, _ := r.StartAgent(auth("alice"))
	b, _, _ := r.StartAgent(auth("bob"))
	t.Cleanup(func() { a.Kick("test_done"); b.Kick("test_done") })

	if sent := r.Blab(BlabTarget{Scope: "all"}, "hello"); sent != 2 {
		t.Errorf("expected blab all to reach 2, got %d", sent)
	}
	if sent := r.Blab(BlabTarget{Scope: "agent", Value: "alice"}, "hi"); sent != 1 {
		t.Errorf("expected blab agent to reach 1, got %d", sent)
	}
	if sent := r.Blab(BlabTarget{Scope: "profile", Value: "Default"}, "hi"); sent != 2 {
		t.Errorf("expected blab profile to reach 2, got %d", sent)
	}
	if sent := r.Blab(BlabTarget{Scope: "node", Value: "oacd@test"}, "hi"); sent != 2 {
		t.Errorf("expected blab node to reach 2, got %d", sent)
	}
	if sent := r.Blab(BlabTarget{Scope: "node", Value: "other@node"}, "hi"); sent != 0 {
		t.Errorf("expected blab to foreign node to reach 0, got %d", sent)
	}
	if sent := r.Blab(BlabTarget{Scope: "agent", Value: "nobody"}, "hi"); sent != 0 {
		t.Errorf("expected blab to unknown agent to reach 0, got %d", sent)
	}
}

type captureSink struct {
	events chan types.SessionEvent
}

func (c *captureSink) Push(ev types.SessionEvent) {
	select {
	case c.events <- ev:
	default:
	}
}

func TestSupervisorTabOnRosterChange(t *testing.T) {
	r := testRegistry(t)

	superAuth := auth("boss")
	superAuth.Security = types.SecuritySupervisor
	super, _, _ := r.StartAgent(superAuth)
	t.Cleanup(func() { super.Kick("test_done") })

	sink := &captureSink{events: make(chan types.SessionEvent, 16)}
	super.SetSink(sink)

	a, _, _ := r.StartAgent(auth("alice"))

	select {
	case ev := <-sink.events:
		if ev.Kind != types.EventSupervisorTab || ev.Action != "set" || ev.TabID != "alice" {
			t.Errorf("unexpected supervisortab event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected supervisortab set event on login")
	}

	a.Kick("admin")
	select {
	case ev := <-sink.events:
		if ev.Kind != types.EventSupervisorTab || ev.Action != "drop" || ev.TabID != "alice" {
			t.Errorf("unexpected supervisortab event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected supervisortab drop event on death")
	}
}

func TestKick(t *testing.T) {
	r := testRegistry(t)

	s, _, _ := r.StartAgent(auth("alice"))

	if !r.Kick("alice", "admin") {
		t.Fatal("expected kick to find the session")
	}
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("expected kicked session to terminate")
	}

	if r.Kick("nobody", "admin") {
		t.Error("expected kick of unknown login to fail")
	}
}
