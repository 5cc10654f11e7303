package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/shinobi-ops/warden/internal/agent"
	"github.com/shinobi-ops/warden/internal/guard"
	"github.com/shinobi-ops/warden/internal/metrics"
)

// Dispositions reported per matched rule.
const (
	DispositionDispatched    = "dispatched"
	DispositionUnrouted      = "unrouted"
	DispositionAgentDisabled = "agent_disabled"
	DispositionNoRecords     = "no_records"
	DispositionStartFailed   = "start_failed"
)

// Outcome is what happened for one matched rule (or, for an unrouted event,
// the single unrouted outcome).
type Outcome struct {
	Rule        string `json:"rule,omitempty"`
	AgentType   string `json:"agent_type,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Disposition string `json:"disposition"`
}

// RuleSource yields the current routing rules. *Loader satisfies it; tests
// supply static sets.
type RuleSource interface {
	Rules() *RuleSet
}

// Dispatcher turns CMS change events into scoped agent runs. Each dispatched
// run gets a fresh session seeded with the event's record keys; the session
// ends when the run returns, so the scope lives exactly as long as the work.
type Dispatcher struct {
	source   RuleSource
	registry *agent.Registry
	guard    *guard.Guard
	runner   *agent.Runner
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(source RuleSource, registry *agent.Registry, g *guard.Guard, runner *agent.Runner, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		source:   source,
		registry: registry,
		guard:    g,
		runner:   runner,
		logger:   logger,
	}
}

// Dispatch routes one event. It returns synchronously with the per-rule
// outcomes; the agent runs themselves happen in the background.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) []Outcome {
	matched, errs := d.source.Rules().Match(ev)
	for _, err := range errs {
		d.logger.Warn("rule evaluation failed",
			zap.String("event", ev.Event),
			zap.String("collection", ev.Collection),
			zap.Error(err))
	}

	if len(matched) == 0 {
		metrics.WebhooksReceived.WithLabelValues(ev.Collection, DispositionUnrouted).Inc()
		return []Outcome{{Disposition: DispositionUnrouted}}
	}

	outcomes := make([]Outcome, 0, len(matched))
	for _, rule := range matched {
		outcome := d.dispatchRule(ctx, rule, ev)
		metrics.WebhooksReceived.WithLabelValues(ev.Collection, outcome.Disposition).Inc()
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (d *Dispatcher) dispatchRule(ctx context.Context, rule Rule, ev Event) Outcome {
	outcome := Outcome{Rule: rule.Name, AgentType: rule.Agent}

	if !d.registry.Enabled(rule.Agent) {
		outcome.Disposition = DispositionAgentDisabled
		d.logger.Info("event matched a disabled agent",
			zap.String("rule", rule.Name),
			zap.String("agent_type", rule.Agent))
		return outcome
	}

	recordIDs := ev.RecordIDs()
	if len(recordIDs) == 0 {
		outcome.Disposition = DispositionNoRecords
		d.logger.Warn("event carries no record keys, not dispatching",
			zap.String("rule", rule.Name),
			zap.String("event", ev.Event),
			zap.String("collection", ev.Collection))
		return outcome
	}

	sessionID, err := d.guard.StartSession(rule.Agent, recordIDs)
	if err != nil {
		outcome.Disposition = DispositionStartFailed
		d.logger.Error("session start failed",
			zap.String("rule", rule.Name),
			zap.Error(err))
		return outcome
	}
	outcome.SessionID = sessionID
	outcome.Disposition = DispositionDispatched

	task := taskFor(rule, ev, recordIDs)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		// The run outlives the webhook request; only shutdown cancels it.
		runCtx := context.WithoutCancel(ctx)
		defer d.guard.EndSession(sessionID)

		result, err := d.runner.Run(runCtx, sessionID, rule.Agent, task)
		if err != nil {
			d.logger.Error("agent run failed",
				zap.String("session_id", sessionID),
				zap.String("agent_type", rule.Agent),
				zap.Error(err))
			return
		}
		d.logger.Info("agent run finished",
			zap.String("session_id", sessionID),
			zap.String("agent_type", rule.Agent),
			zap.Int("turns", result.Turns),
			zap.Int("tool_calls", result.ToolCalls),
			zap.Int("blocked", result.Blocked))
	}()
	return outcome
}

// Wait blocks until every in-flight run has finished. Called on shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func taskFor(rule Rule, ev Event, recordIDs []string) string {
	if rule.Task != "" {
		return fmt.Sprintf("%s\n\nEvent: %s on collection %s, record(s) %s.",
			rule.Task, ev.Event, ev.Collection, strings.Join(recordIDs, ", "))
	}
	return fmt.Sprintf("Handle the %s event on collection %s for record(s) %s.",
		ev.Event, ev.Collection, strings.Join(recordIDs, ", "))
}
