package automation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/capturewise/automation/crm"
)

// Entity types the engine triggers against.
const (
	EntityCapturePlan = "capture_plan"
	EntityOpportunity = "opportunity"
)

// Engine is the rule orchestrator: it loads the enabled rules for an
// owner and trigger, evaluates each against the invocation context,
// drives matched rules' actions, and records one execution per rule.
//
// The engine is synchronous and request-scoped. It spawns no goroutines
// and holds no locks of its own; concurrent invocations against the same
// entity rely on the caller's transactional boundary.
type Engine struct {
	rules      RuleStore
	executions ExecutionStore
	dispatcher *Dispatcher
	plans      crm.CapturePlanStore
	cache      RulesCache
	now        func() time.Time
}

// NewEngine creates an engine over the given stores and dispatcher.
func NewEngine(rules RuleStore, executions ExecutionStore, dispatcher *Dispatcher, plans crm.CapturePlanStore) *Engine {
	return &Engine{
		rules:      rules,
		executions: executions,
		dispatcher: dispatcher,
		plans:      plans,
		cache:      NewInMemoryRulesCache(DefaultCacheConfig()),
		now:        time.Now,
	}
}

// RunRules evaluates every enabled rule for (ownerID, trigger) against
// the context and returns the ordered per-rule outcomes.
//
// Ordering is a documented guarantee, not an implementation detail:
// rules run in priority-descending, creation-time-ascending order, and
// a rule's actions run in declared order, so later rules and actions
// observe the mutations of earlier ones within the same invocation.
//
// Business-level problems (no match, missing params, missing entities,
// unsupported actions) are captured on the execution records. Only
// infrastructure failures return an error, since swallowing them would
// silently drop audit records.
func (e *Engine) RunRules(ownerID string, trigger TriggerType, entityType, entityID string, ruleCtx Context) ([]ExecutionResult, error) {
	rules := e.cache.Get(ownerID, trigger)
	if rules == nil {
		var err error
		rules, err = e.rules.ListEnabled(ownerID, trigger)
		if err != nil {
			return nil, fmt.Errorf("failed to load rules: %w", err)
		}
		e.cache.Set(ownerID, trigger, rules)
	}

	results := make([]ExecutionResult, 0, len(rules))
	for _, rule := range rules {
		rec := e.runRule(rule, ownerID, entityType, entityID, ruleCtx)

		if err := e.executions.Record(rec); err != nil {
			return nil, fmt.Errorf("failed to record execution of rule %s: %w", rule.ID, err)
		}

		results = append(results, ExecutionResult{
			RuleID:   rule.ID,
			RuleName: rule.Name,
			Status:   rec.Status,
			Matched:  rec.Result.Matched,
			Actions:  rec.Result.Actions,
		})
	}

	return results, nil
}

// runRule evaluates one rule to a finished execution record. A rule's
// outcome never depends on its siblings: every business-level failure
// ends up inside the record.
func (e *Engine) runRule(rule *Rule, ownerID, entityType, entityID string, ruleCtx Context) *ExecutionRecord {
	rec := &ExecutionRecord{
		ID:          uuid.New().String(),
		RuleID:      rule.ID,
		OwnerID:     ownerID,
		EntityType:  entityType,
		EntityID:    entityID,
		TriggeredAt: e.now(),
	}

	if !Matches(rule.Conditions, ruleCtx) {
		rec.Status = StatusSkipped
		rec.Result = ExecutionPayload{Matched: false}
		rec.CompletedAt = e.now()
		return rec
	}

	// One mutable entity handle per rule, shared by its actions in
	// sequence and discarded afterwards. The next rule re-reads the
	// entity and observes any mutations left behind.
	inv := &Invocation{
		OwnerID:    ownerID,
		EntityType: entityType,
		EntityID:   entityID,
		Context:    ruleCtx,
	}
	if entityType == EntityCapturePlan {
		if plan, err := e.plans.Get(entityID); err == nil {
			inv.Plan = plan
		}
	}

	// Every action runs regardless of earlier failures in the same
	// rule; there is deliberately no short-circuit.
	actionResults := make([]ActionResult, 0, len(rule.Actions))
	status := StatusSuccess
	for _, action := range rule.Actions {
		result := e.dispatcher.Dispatch(action, inv)
		actionResults = append(actionResults, result)
		if result.Status == StatusFailed {
			status = StatusFailed
		}
	}

	rec.Status = status
	rec.Result = ExecutionPayload{Matched: true, Actions: actionResults}
	rec.CompletedAt = e.now()
	return rec
}

// DryRun reports whether a rule would match the given context, with a
// per-condition breakdown. No action runs and no record is written.
func (e *Engine) DryRun(ownerID, ruleID string, ruleCtx Context) (*DryRunResult, error) {
	rule, err := e.rules.Get(ownerID, ruleID)
	if err != nil {
		return nil, err
	}

	result := &DryRunResult{
		RuleID:     rule.ID,
		Matched:    true,
		Conditions: make([]ConditionOutcome, 0, len(rule.Conditions)),
	}
	for _, cond := range rule.Conditions {
		actual := ruleCtx[cond.Field]
		matched := EvaluateCondition(actual, cond.Operator, cond.Value)
		if !matched {
			result.Matched = false
		}
		result.Conditions = append(result.Conditions, ConditionOutcome{
			Field:    cond.Field,
			Operator: cond.Operator,
			Expected: cond.Value,
			Actual:   actual,
			Matched:  matched,
		})
	}
	return result, nil
}

// AddRule validates and stores a new rule, then invalidates the cache.
func (e *Engine) AddRule(rule *Rule) error {
	if err := ValidateRule(rule); err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}

	if err := e.rules.Add(rule); err != nil {
		return err
	}

	// Invalidate cache since rules list changed
	e.cache.Invalidate()
	return nil
}

// UpdateRule validates and updates an existing rule, then invalidates
// the cache.
func (e *Engine) UpdateRule(rule *Rule) error {
	if err := ValidateRule(rule); err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}

	if err := e.rules.Update(rule); err != nil {
		return err
	}

	e.cache.Invalidate()
	return nil
}

// DeleteRule removes a rule and invalidates the cache.
func (e *Engine) DeleteRule(ownerID, ruleID string) error {
	if err := e.rules.Delete(ownerID, ruleID); err != nil {
		return err
	}

	e.cache.Invalidate()
	return nil
}

// GetRule retrieves one rule scoped to its owner.
func (e *Engine) GetRule(ownerID, ruleID string) (*Rule, error) {
	return e.rules.Get(ownerID, ruleID)
}

// ListRules returns all of an owner's rules.
func (e *Engine) ListRules(ownerID string) ([]*Rule, error) {
	return e.rules.List(ownerID)
}
