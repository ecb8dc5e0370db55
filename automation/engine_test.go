package automation

import (
	"errors"
	"testing"

	"github.com/capturewise/automation/crm"
)

type engineFixture struct {
	engine        *Engine
	rules         *InMemoryRuleStore
	executions    *InMemoryExecutionStore
	plans         *crm.InMemoryCapturePlanStore
	opportunities *crm.InMemoryOpportunityStore
	notifications *crm.InMemoryNotificationStore
	partners      *crm.InMemoryPartnerStore
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		rules:         NewInMemoryRuleStore(),
		executions:    NewInMemoryExecutionStore(),
		plans:         crm.NewInMemoryCapturePlanStore(),
		opportunities: crm.NewInMemoryOpportunityStore(),
		notifications: crm.NewInMemoryNotificationStore(),
		partners:      crm.NewInMemoryPartnerStore(),
	}
	dispatcher := NewDispatcher(f.plans, f.opportunities, f.notifications, f.partners)
	f.engine = NewEngine(f.rules, f.executions, dispatcher, f.plans)
	return f
}

func (f *engineFixture) seedPlan(t *testing.T, stage string) *crm.CapturePlan {
	t.Helper()
	opp := &crm.Opportunity{ID: "opp-1", OwnerID: "user-1", Title: "Data center refresh", NAICSCode: "541512"}
	if err := f.opportunities.Create(opp); err != nil {
		t.Fatalf("create opportunity: %v", err)
	}
	plan := &crm.CapturePlan{ID: "plan-1", OwnerID: "user-1", OpportunityID: "opp-1", Stage: stage}
	if err := f.plans.Create(plan); err != nil {
		t.Fatalf("create plan: %v", err)
	}
	return plan
}

func (f *engineFixture) addRule(t *testing.T, rule *Rule) {
	t.Helper()
	if rule.OwnerID == "" {
		rule.OwnerID = "user-1"
	}
	if err := f.engine.AddRule(rule); err != nil {
		t.Fatalf("add rule %s: %v", rule.ID, err)
	}
}

// A matched rule moves the plan, notifies the owner, and records one
// successful execution with both action results.
func TestRunRulesMatchedRule(t *testing.T) {
	f := newEngineFixture(t)
	f.seedPlan(t, crm.StageIdentified)
	f.addRule(t, &Rule{
		ID:          "rule-1",
		Name:        "Promote hot pursuits",
		TriggerType: TriggerScoreThreshold,
		Conditions:  []Condition{{Field: "win_probability", Operator: OpGt, Value: 60}},
		Actions: []Action{
			{Type: "move_stage", Params: map[string]any{"stage": crm.StagePursuit}},
			{Type: "send_notification", Params: map[string]any{"title": "Promoted"}},
		},
		Enabled: true,
	})

	ctx := Context{"win_probability": 80, "capture_plan_id": "plan-1", "opportunity_id": "opp-1"}
	results, err := f.engine.RunRules("user-1", TriggerScoreThreshold, EntityCapturePlan, "plan-1", ctx)
	if err != nil {
		t.Fatalf("RunRules: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}

	r := results[0]
	if r.Status != StatusSuccess || !r.Matched {
		t.Errorf("result = %+v, want matched success", r)
	}
	if len(r.Actions) != 2 {
		t.Fatalf("got %d action results, want 2", len(r.Actions))
	}
	for _, a := range r.Actions {
		if a.Status != StatusSuccess {
			t.Errorf("action %s = %s (%s), want success", a.ActionType, a.Status, a.Reason)
		}
	}

	plan, _ := f.plans.Get("plan-1")
	if plan.Stage != crm.StagePursuit {
		t.Errorf("plan stage = %s, want %s", plan.Stage, crm.StagePursuit)
	}
	notifications, _ := f.notifications.ListForUser("user-1", 10, 0)
	if len(notifications) != 1 {
		t.Errorf("got %d notifications, want 1", len(notifications))
	}

	records, _ := f.executions.ListByRule("user-1", "rule-1", 10, 0)
	if len(records) != 1 {
		t.Fatalf("got %d execution records, want 1", len(records))
	}
	if records[0].Status != StatusSuccess || !records[0].Result.Matched {
		t.Errorf("record = %+v, want matched success", records[0])
	}
	if len(records[0].Result.Actions) != 2 {
		t.Errorf("record has %d action results, want 2", len(records[0].Result.Actions))
	}
}

// An unmatched rule leaves the entity alone and records a skipped
// execution with matched=false.
func TestRunRulesUnmatchedRule(t *testing.T) {
	f := newEngineFixture(t)
	f.seedPlan(t, crm.StageIdentified)
	f.addRule(t, &Rule{
		ID:          "rule-1",
		Name:        "Promote hot pursuits",
		TriggerType: TriggerScoreThreshold,
		Conditions:  []Condition{{Field: "win_probability", Operator: OpGt, Value: 60}},
		Actions: []Action{
			{Type: "move_stage", Params: map[string]any{"stage": crm.StagePursuit}},
		},
		Enabled: true,
	})

	results, err := f.engine.RunRules("user-1", TriggerScoreThreshold, EntityCapturePlan, "plan-1",
		Context{"win_probability": 40})
	if err != nil {
		t.Fatalf("RunRules: %v", err)
	}

	if results[0].Status != StatusSkipped || results[0].Matched {
		t.Errorf("result = %+v, want unmatched skipped", results[0])
	}

	plan, _ := f.plans.Get("plan-1")
	if plan.Stage != crm.StageIdentified {
		t.Errorf("plan stage = %s, must be unchanged", plan.Stage)
	}

	records, _ := f.executions.ListByRule("user-1", "rule-1", 10, 0)
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].Status != StatusSkipped || records[0].Result.Matched {
		t.Errorf("record = %+v, want skipped with matched=false", records[0])
	}
	if len(records[0].Result.Actions) != 0 {
		t.Errorf("unmatched rule must not carry action results")
	}
}

// A rule whose only action is unrecognized still succeeds at the rule
// level; the action itself is reported skipped.
func TestRunRulesUnknownActionType(t *testing.T) {
	f := newEngineFixture(t)
	f.seedPlan(t, crm.StageIdentified)
	f.addRule(t, &Rule{
		ID:          "rule-1",
		Name:        "Future action",
		TriggerType: TriggerManual,
		Actions:     []Action{{Type: "unknown_action"}},
		Enabled:     true,
	})

	results, err := f.engine.RunRules("user-1", TriggerManual, EntityCapturePlan, "plan-1", Context{})
	if err != nil {
		t.Fatalf("RunRules: %v", err)
	}

	r := results[0]
	if r.Status != StatusSuccess {
		t.Errorf("rule status = %s, want success when all actions skipped", r.Status)
	}
	if len(r.Actions) != 1 {
		t.Fatalf("got %d action results, want 1", len(r.Actions))
	}
	if r.Actions[0].Status != StatusSkipped || r.Actions[0].Reason != "unsupported action" {
		t.Errorf("action result = %+v", r.Actions[0])
	}
}

// Every action in a matched rule runs even after an earlier one fails,
// and any failed action makes the rule failed.
func TestRunRulesNoShortCircuit(t *testing.T) {
	f := newEngineFixture(t)
	f.seedPlan(t, crm.StageIdentified)

	// add_tag against a dangling opportunity fails; the notification
	// after it must still be sent.
	plan, _ := f.plans.Get("plan-1")
	plan.OpportunityID = "gone"
	if err := f.plans.Save(plan); err != nil {
		t.Fatalf("save plan: %v", err)
	}

	f.addRule(t, &Rule{
		ID:          "rule-1",
		Name:        "Tag then notify",
		TriggerType: TriggerManual,
		Actions: []Action{
			{Type: "add_tag", Params: map[string]any{"tag": "x"}},
			{Type: "send_notification"},
		},
		Enabled: true,
	})

	results, err := f.engine.RunRules("user-1", TriggerManual, EntityCapturePlan, "plan-1", Context{})
	if err != nil {
		t.Fatalf("RunRules: %v", err)
	}

	r := results[0]
	if r.Status != StatusFailed {
		t.Errorf("rule status = %s, want failed", r.Status)
	}
	if len(r.Actions) != 2 {
		t.Fatalf("got %d action results, want 2 (no short-circuit)", len(r.Actions))
	}
	if r.Actions[0].Status != StatusFailed {
		t.Errorf("first action = %s, want failed", r.Actions[0].Status)
	}
	if r.Actions[1].Status != StatusSuccess {
		t.Errorf("second action = %s, want success despite earlier failure", r.Actions[1].Status)
	}

	notifications, _ := f.notifications.ListForUser("user-1", 10, 0)
	if len(notifications) != 1 {
		t.Errorf("got %d notifications, want 1", len(notifications))
	}
}

// Rules run highest priority first, creation order breaking ties, and
// later rules observe earlier rules' mutations.
func TestRunRulesOrdering(t *testing.T) {
	f := newEngineFixture(t)
	f.seedPlan(t, crm.StageIdentified)

	f.addRule(t, &Rule{
		ID: "low", Name: "Low", TriggerType: TriggerManual, Priority: 1,
		Conditions: []Condition{{Field: "stage", Operator: OpEquals, Value: crm.StageIdentified}},
		Actions:    []Action{{Type: "send_notification", Params: map[string]any{"title": "low"}}},
		Enabled:    true,
	})
	f.addRule(t, &Rule{
		ID: "high", Name: "High", TriggerType: TriggerManual, Priority: 10,
		Actions: []Action{{Type: "move_stage", Params: map[string]any{"stage": crm.StageQualified}}},
		Enabled: true,
	})
	f.addRule(t, &Rule{
		ID: "high-later", Name: "High later", TriggerType: TriggerManual, Priority: 10,
		Actions: []Action{{Type: "send_notification", Params: map[string]any{"title": "second"}}},
		Enabled: true,
	})

	results, err := f.engine.RunRules("user-1", TriggerManual, EntityCapturePlan, "plan-1",
		Context{"stage": crm.StageIdentified})
	if err != nil {
		t.Fatalf("RunRules: %v", err)
	}

	var order []string
	for _, r := range results {
		order = append(order, r.RuleID)
	}
	want := []string{"high", "high-later", "low"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("execution order = %v, want %v", order, want)
		}
	}

	// The low-priority rule's condition read the invocation context,
	// which still says "identified": the context snapshot does not track
	// entity mutations, but the persisted entity does.
	plan, _ := f.plans.Get("plan-1")
	if plan.Stage != crm.StageQualified {
		t.Errorf("plan stage = %s, want %s", plan.Stage, crm.StageQualified)
	}
}

// One execution record per rule per invocation, and rules stay isolated
// across owners and triggers.
func TestRunRulesScoping(t *testing.T) {
	f := newEngineFixture(t)
	f.seedPlan(t, crm.StageIdentified)

	f.addRule(t, &Rule{
		ID: "mine", Name: "Mine", TriggerType: TriggerManual,
		Actions: []Action{{Type: "send_notification"}}, Enabled: true,
	})
	f.addRule(t, &Rule{
		ID: "other-owner", OwnerID: "user-2", Name: "Not mine", TriggerType: TriggerManual,
		Actions: []Action{{Type: "send_notification"}}, Enabled: true,
	})
	f.addRule(t, &Rule{
		ID: "other-trigger", Name: "Wrong trigger", TriggerType: TriggerStageChanged,
		Actions: []Action{{Type: "send_notification"}}, Enabled: true,
	})
	f.addRule(t, &Rule{
		ID: "disabled", Name: "Disabled", TriggerType: TriggerManual,
		Actions: []Action{{Type: "send_notification"}}, Enabled: false,
	})

	results, err := f.engine.RunRules("user-1", TriggerManual, EntityCapturePlan, "plan-1", Context{})
	if err != nil {
		t.Fatalf("RunRules: %v", err)
	}
	if len(results) != 1 || results[0].RuleID != "mine" {
		t.Fatalf("results = %+v, want only the owner's enabled manual rule", results)
	}

	records, _ := f.executions.ListByEntity("user-1", "plan-1", 10, 0)
	if len(records) != 1 {
		t.Errorf("got %d records, want exactly 1", len(records))
	}
}

func TestRunRulesNoRules(t *testing.T) {
	f := newEngineFixture(t)

	results, err := f.engine.RunRules("user-1", TriggerManual, EntityCapturePlan, "plan-1", Context{})
	if err != nil {
		t.Fatalf("RunRules: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

// Dry run reports per-condition outcomes and leaves no trace.
func TestDryRun(t *testing.T) {
	f := newEngineFixture(t)
	f.seedPlan(t, crm.StageIdentified)
	f.addRule(t, &Rule{
		ID: "rule-1", Name: "Mixed", TriggerType: TriggerManual,
		Conditions: []Condition{
			{Field: "stage", Operator: OpEquals, Value: crm.StageIdentified},
			{Field: "win_probability", Operator: OpGt, Value: 90},
		},
		Actions: []Action{{Type: "move_stage", Params: map[string]any{"stage": crm.StagePursuit}}},
		Enabled: true,
	})

	result, err := f.engine.DryRun("user-1", "rule-1", Context{
		"stage":           crm.StageIdentified,
		"win_probability": 50,
	})
	if err != nil {
		t.Fatalf("DryRun: %v", err)
	}

	if result.Matched {
		t.Error("matched = true, want false")
	}
	if len(result.Conditions) != 2 {
		t.Fatalf("got %d condition outcomes, want 2", len(result.Conditions))
	}
	if !result.Conditions[0].Matched || result.Conditions[1].Matched {
		t.Errorf("condition outcomes = %+v", result.Conditions)
	}

	plan, _ := f.plans.Get("plan-1")
	if plan.Stage != crm.StageIdentified {
		t.Errorf("dry run mutated the plan: stage = %s", plan.Stage)
	}
	records, _ := f.executions.ListByRule("user-1", "rule-1", 10, 0)
	if len(records) != 0 {
		t.Errorf("dry run wrote %d execution records, want 0", len(records))
	}
}

func TestDryRunUnknownRule(t *testing.T) {
	f := newEngineFixture(t)

	if _, err := f.engine.DryRun("user-1", "missing", Context{}); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("err = %v, want ErrRuleNotFound", err)
	}
}

// Rule CRUD invalidates the cache, so the next invocation observes the
// change.
func TestRuleMutationInvalidatesCache(t *testing.T) {
	f := newEngineFixture(t)
	f.seedPlan(t, crm.StageIdentified)

	f.addRule(t, &Rule{
		ID: "rule-1", Name: "Notify", TriggerType: TriggerManual,
		Actions: []Action{{Type: "send_notification"}}, Enabled: true,
	})

	// Prime the cache.
	if _, err := f.engine.RunRules("user-1", TriggerManual, EntityCapturePlan, "plan-1", Context{}); err != nil {
		t.Fatalf("RunRules: %v", err)
	}

	if err := f.engine.DeleteRule("user-1", "rule-1"); err != nil {
		t.Fatalf("DeleteRule: %v", err)
	}

	results, err := f.engine.RunRules("user-1", TriggerManual, EntityCapturePlan, "plan-1", Context{})
	if err != nil {
		t.Fatalf("RunRules: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results after delete, want 0", len(results))
	}
}

func TestAddRuleRejectsInvalid(t *testing.T) {
	f := newEngineFixture(t)

	err := f.engine.AddRule(&Rule{
		ID: "bad", OwnerID: "user-1", Name: "Bad trigger", TriggerType: "on_full_moon",
	})
	if err == nil {
		t.Fatal("AddRule accepted an unknown trigger type")
	}
}
