package queue

import (
	"context"
	"time"

	"github.com/dannaaduna/oacd-core/internal/metrics"
	"github.com/dannaaduna/oacd-core/internal/registry"
	"github.com/dannaaduna/oacd-core/internal/types"
)

// RoutingStrategy selects the best agent to offer a call
type RoutingStrategy interface {
	SelectAgent(available []types.AgentInfo) *types.AgentInfo
}

// LongestIdleFirst selects the agent who has been idle the longest
type LongestIdleFirst struct{}

// SelectAgent picks the idle agent with the oldest LastChange time
func (l *LongestIdleFirst) SelectAgent(available []types.AgentInfo) *types.AgentInfo {
	if len(available) == 0 {
		return nil
	}

	oldest := &available[0]
	for i := 1; i < len(available); i++ {
		if available[i].LastChange.Before(oldest.LastChange) {
			oldest = &available[i]
		}
	}
	return oldest
}

// Dispatcher periodically offers waiting calls to idle matching agents
type Dispatcher struct {
	mgr     *Manager
	reg     *registry.Registry
	routing RoutingStrategy
	period  time.Duration
}

// NewDispatcher creates a dispatcher ticking at period
func NewDispatcher(mgr *Manager, reg *registry.Registry, period time.Duration) *Dispatcher {
	if period <= 0 {
		period = time.Second
	}
	return &Dispatcher{
		mgr:     mgr,
		reg:     reg,
		routing: &LongestIdleFirst{},
		period:  period,
	}
}

// Start runs the dispatch loop until the context is cancelled
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.period)
	defer ticker.Stop()

	d.mgr.logger.Info().Dur("period", d.period).Msg("queue dispatcher started")

	for {
		select {
		case <-ctx.Done():
			d.mgr.logger.Info().Msg("queue dispatcher stopped")
			return
		case <-ticker.C:
			d.Tick()
		}
	}
}

// Tick performs a single routing pass. Exported for tests
func (d *Dispatcher) Tick() {
	waiting := d.mgr.snapshotWaiting()
	if len(waiting) == 0 {
		return
	}

	idle := make([]types.AgentInfo, 0)
	for _, info := range d.reg.List() {
		if info.State == types.StateIdle {
			idle = append(idle, info)
		}
	}
	if len(idle) == 0 {
		return
	}

	assigned := make(map[string]bool)
	for queueName, calls := range waiting {
		required := d.mgr.requiredSkills(queueName)
		for _, wc := range calls {
			candidates := make([]types.AgentInfo, 0, len(idle))
			for _, info := range idle {
				if assigned[info.Login] || wc.skipped[info.Login] {
					continue
				}
				if !info.Skills.Covers(required) || !info.Skills.Covers(wc.call.Skills) {
					continue
				}
				candidates = append(candidates, info)
			}

			agent := d.routing.SelectAgent(candidates)
			if agent == nil {
				continue
			}

			target, ok := d.reg.Query(agent.Login)
			if !ok {
				continue
			}

			if pop := d.mgr.popURL(queueName); pop != "" && wc.call.PopURL == "" {
				wc.call.PopURL = pop
			}

			res := target.Ring(wc.call)
			if !res.OK {
				// Agent raced out of idle or media refused; try others next tick
				wc.skipped[agent.Login] = true
				d.mgr.logger.Debug().
					Str("call_id", wc.call.ID).
					Str("login", agent.Login).
					Str("errcode", string(res.Code)).
					Msg("ring refused")
				continue
			}

			assigned[agent.Login] = true
			d.mgr.removeWaiting(queueName, wc)
			metrics.Get().CallsRouted.Inc()
			d.mgr.logger.Debug().
				Str("call_id", wc.call.ID).
				Str("login", agent.Login).
				Str("queue", queueName).
				Float64("wait_time", time.Since(wc.since).Seconds()).
				Msg("call routed to agent")
		}
	}
}
