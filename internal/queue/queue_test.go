package queue

import (
	"bytes"
	"testing"
	"time"

	"github.com/dannaaduna/oacd-core/internal/media"
	"github.com/dannaaduna/oacd-core/internal/registry"
	"github.com/dannaaduna/oacd-core/internal/types"
	"github.com/rs/zerolog"
)

func testSetup(t *testing.T, configs []Config) (*Manager, *registry.Registry, *Dispatcher) {
	t.Helper()
	logger := zerolog.New(&bytes.Buffer{})
	reg := registry.New(registry.Options{Node: "oacd@test"}, logger)
	mgr := NewManager(configs, logger)
	d := NewDispatcher(mgr, reg, time.Second)
	t.Cleanup(func() {
		for _, info := range reg.List() {
			reg.Kick(info.Login, "test_done")
		}
	})
	return mgr, reg, d
}

func startIdleAgent(t *testing.T, reg *registry.Registry, login string, skills types.SkillSet) {
	t.Helper()
	s, _, err := reg.StartAgent(types.AgentAuth{
		ID:      "id-" + login,
		Login:   login,
		Profile: "Default",
		Skills:  skills,
	})
	if err != nil {
		t.Fatalf("failed to start agent: %v", err)
	}
	if res := s.SetState(types.StateIdle, nil); !res.OK {
		t.Fatalf("failed to idle agent: %s", res.Code)
	}
}

func newCall(id string, skills types.SkillSet) *media.Call {
	return &media.Call{
		ID:        id,
		Type:      types.MediaVoice,
		Source:    media.NewInMemoryDriver(),
		Direction: types.DirectionInbound,
		Skills:    skills,
	}
}

func TestDispatchRingsIdleAgent(t *testing.T) {
	mgr, reg, d := testSetup(t, DefaultConfigs())
	startIdleAgent(t, reg, "alice", types.SkillSet{{Atom: "english"}})

	mgr.Enqueue("default_queue", newCall("call_1", nil))
	d.Tick()

	if mgr.Depth("default_queue") != 0 {
		t.Errorf("expected queue drained, got depth %d", mgr.Depth("default_queue"))
	}

	s, _ := reg.Query("alice")
	if s.Info().State != types.StateRinging {
		t.Errorf("expected alice ringing, got %s", s.Info().State)
	}
}

func TestDispatchSkillMatching(t *testing.T) {
	mgr, reg, d := testSetup(t, DefaultConfigs())
	startIdleAgent(t, reg, "alice", types.SkillSet{{Atom: "english"}})

	mgr.Enqueue("default_queue", newCall("call_2", types.SkillSet{{Atom: "german"}}))
	d.Tick()

	if mgr.Depth("default_queue") != 1 {
		t.Errorf("expected call to stay queued without a german speaker, got depth %d", mgr.Depth("default_queue"))
	}

	startIdleAgent(t, reg, "bob", types.SkillSet{{Atom: "english"}, {Atom: "german"}})
	d.Tick()

	if mgr.Depth("default_queue") != 0 {
		t.Errorf("expected call routed to bob, got depth %d", mgr.Depth("default_queue"))
	}
	s, _ := reg.Query("bob")
	if s.Info().State != types.StateRinging {
		t.Errorf("expected bob ringing, got %s", s.Info().State)
	}
}

func TestDispatchPrefersLongestIdle(t *testing.T) {
	mgr, reg, d := testSetup(t, DefaultConfigs())
	startIdleAgent(t, reg, "alice", nil)
	time.Sleep(20 * time.Millisecond)
	startIdleAgent(t, reg, "bob", nil)

	mgr.Enqueue("default_queue", newCall("call_3", nil))
	d.Tick()

	a, _ := reg.Query("alice")
	b, _ := reg.Query("bob")
	if a.Info().State != types.StateRinging {
		t.Errorf("expected longest-idle alice to ring, got %s", a.Info().State)
	}
	if b.Info().State != types.StateIdle {
		t.Errorf("expected bob to stay idle, got %s", b.Info().State)
	}
}

func TestDispatchSkipsBusyAgents(t *testing.T) {
	mgr, reg, d := testSetup(t, DefaultConfigs())
	startIdleAgent(t, reg, "alice", nil)

	mgr.Enqueue("default_queue", newCall("call_4", nil))
	d.Tick()

	// Alice is now ringing; a second call must wait
	mgr.Enqueue("default_queue", newCall("call_5", nil))
	d.Tick()

	if mgr.Depth("default_queue") != 1 {
		t.Errorf("expected second call to wait, got depth %d", mgr.Depth("default_queue"))
	}
}

func TestEnqueueCreatesAdHocQueue(t *testing.T) {
	mgr, _, _ := testSetup(t, DefaultConfigs())

	mgr.Enqueue("overflow", newCall("call_6", nil))
	if mgr.Depth("overflow") != 1 {
		t.Errorf("expected ad-hoc queue to hold the call, got %d", mgr.Depth("overflow"))
	}
}

func TestAbandonRemovesWaitingCall(t *testing.T) {
	mgr, _, _ := testSetup(t, DefaultConfigs())

	mgr.Enqueue("default_queue", newCall("call_7", nil))
	call := mgr.Abandon("call_7")
	if call == nil {
		t.Fatal("expected abandoned call to be returned")
	}
	if mgr.Depth("default_queue") != 0 {
		t.Errorf("expected empty queue after abandon, got %d", mgr.Depth("default_queue"))
	}

	if mgr.Abandon("call_7") != nil {
		t.Error("expected second abandon to miss")
	}
}

func TestQueuePopURLReachesCall(t *testing.T) {
	configs := []Config{{Name: "billing", PopURL: "https://crm.example.com/pop"}}
	mgr, reg, d := testSetup(t, configs)
	startIdleAgent(t, reg, "alice", nil)

	call := newCall("call_8", nil)
	mgr.Enqueue("billing", call)
	d.Tick()

	if call.PopURL != "https://crm.example.com/pop" {
		t.Errorf("expected queue pop url on call, got %q", call.PopURL)
	}
}
