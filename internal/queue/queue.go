package queue

import (
	"sync"
	"time"

	"github.com/dannaaduna/oacd-core/internal/media"
	"github.com/dannaaduna/oacd-core/internal/metrics"
	"github.com/dannaaduna/oacd-core/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config holds the configuration for one queue
type Config struct {
	Name   string
	Skills types.SkillSet // required of any agent offered a call
	PopURL string         // optional url pushed to the client on ring
}

// DefaultConfigs returns the queues of a bare deployment
func DefaultConfigs() []Config {
	return []Config{
		{Name: "default_queue"},
	}
}

// waitingCall pairs an enqueued call with its arrival time
type waitingCall struct {
	call    *media.Call
	since   time.Time
	skipped map[string]bool // agents that already refused this call
}

// fifo is one named FIFO of waiting calls
type fifo struct {
	config  Config
	waiting []*waitingCall
}

// Manager holds the node's queues. The full priority engine lives
// outside the session core; this component offers waiting media to idle
// agents so the ring contract is exercised end to end
type Manager struct {
	queues map[string]*fifo
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewManager creates a manager with the given queues
func NewManager(configs []Config, logger zerolog.Logger) *Manager {
	queues := make(map[string]*fifo, len(configs))
	for _, cfg := range configs {
		queues[cfg.Name] = &fifo{config: cfg}
	}
	return &Manager{
		queues: queues,
		logger: logger.With().Str("component", "queue").Logger(),
	}
}

// Enqueue adds a call to the named queue. Unknown queues are created on
// the fly so transfers to ad-hoc queues are never dropped
func (m *Manager) Enqueue(queueName string, call *media.Call) {
	if call.ID == "" {
		call.ID = uuid.New().String()
	}

	m.mu.Lock()
	q, ok := m.queues[queueName]
	if !ok {
		q = &fifo{config: Config{Name: queueName}}
		m.queues[queueName] = q
	}
	q.waiting = append(q.waiting, &waitingCall{
		call:    call,
		since:   time.Now(),
		skipped: make(map[string]bool),
	})
	depth := len(q.waiting)
	m.mu.Unlock()

	metrics.Get().QueueDepth.WithLabelValues(queueName).Set(float64(depth))
	m.logger.Debug().
		Str("call_id", call.ID).
		Str("queue", queueName).
		Int("queue_depth", depth).
		Msg("call enqueued")
}

// Abandon removes a waiting call (caller hung up in queue)
func (m *Manager) Abandon(callID string) *media.Call {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, q := range m.queues {
		for i, wc := range q.waiting {
			if wc.call.ID == callID {
				q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
				metrics.Get().QueueDepth.WithLabelValues(name).Set(float64(len(q.waiting)))
				m.logger.Debug().Str("call_id", callID).Str("queue", name).Msg("call abandoned")
				return wc.call
			}
		}
	}
	return nil
}

// Depth returns the number of waiting calls in a queue
func (m *Manager) Depth(queueName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[queueName]
	if !ok {
		return 0
	}
	return len(q.waiting)
}

// snapshotWaiting copies the waiting lists so ringing happens outside
// the manager lock
func (m *Manager) snapshotWaiting() map[string][]*waitingCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]*waitingCall, len(m.queues))
	for name, q := range m.queues {
		if len(q.waiting) == 0 {
			continue
		}
		list := make([]*waitingCall, len(q.waiting))
		copy(list, q.waiting)
		out[name] = list
	}
	return out
}

// requiredSkills returns the skills a queue demands of agents
func (m *Manager) requiredSkills(queueName string) types.SkillSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[queueName]
	if !ok {
		return nil
	}
	return q.config.Skills
}

// popURL returns the queue's configured url pop, if any
func (m *Manager) popURL(queueName string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[queueName]
	if !ok {
		return ""
	}
	return q.config.PopURL
}

// removeWaiting drops a routed call from its queue
func (m *Manager) removeWaiting(queueName string, wc *waitingCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[queueName]
	if !ok {
		return
	}
	for i, have := range q.waiting {
		if have == wc {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			break
		}
	}
	metrics.Get().QueueDepth.WithLabelValues(queueName).Set(float64(len(q.waiting)))
}
