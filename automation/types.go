package automation

import "time"

// TriggerType classifies the domain event that makes a rule eligible
// for evaluation.
type TriggerType string

const (
	TriggerEntityCreated  TriggerType = "entity_created"
	TriggerStageChanged   TriggerType = "stage_changed"
	TriggerScoreThreshold TriggerType = "score_threshold"
	TriggerManual         TriggerType = "manual"
)

// ValidTriggerType reports whether t is one of the known trigger types.
func ValidTriggerType(t TriggerType) bool {
	switch t {
	case TriggerEntityCreated, TriggerStageChanged, TriggerScoreThreshold, TriggerManual:
		return true
	}
	return false
}

// Operator identifies how a condition's actual and expected values
// are compared.
type Operator string

const (
	OpEquals   Operator = "equals"
	OpGt       Operator = "gt"
	OpLt       Operator = "lt"
	OpContains Operator = "contains"
	OpInList   Operator = "in_list"
)

// ValidOperator reports whether op is one of the supported operators.
func ValidOperator(op Operator) bool {
	switch op {
	case OpEquals, OpGt, OpLt, OpContains, OpInList:
		return true
	}
	return false
}

// Condition is a single comparison against one context key. Conditions
// within a rule are AND-combined; an empty condition set matches
// unconditionally.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Action declares one side effect to perform when a rule matches.
// Params are opaque to the engine and interpreted by the matching handler.
type Action struct {
	Type   string         `json:"action_type"`
	Params map[string]any `json:"params,omitempty"`
}

// Rule is an automation rule: when <trigger> happens to an entity owned
// by <owner>, if all <conditions> hold, perform <actions> in order.
// Rules are read by the engine; mutation happens through the CRUD surface.
type Rule struct {
	ID          string      `json:"id"`
	OwnerID     string      `json:"owner_id"`
	Name        string      `json:"name"`
	TriggerType TriggerType `json:"trigger_type"`
	Conditions  []Condition `json:"conditions"`
	Actions     []Action    `json:"actions"`
	Priority    int         `json:"priority"`
	Enabled     bool        `json:"enabled"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Status values shared by action results and execution records.
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// ActionResult is the structured outcome of one action attempt.
// Handlers never return Go errors; failures surface here as a failed
// status with a reason string.
type ActionResult struct {
	ActionType string         `json:"action_type"`
	Status     string         `json:"status"`
	Reason     string         `json:"reason,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// ExecutionPayload is the structured result stored on an execution
// record: whether the rule matched and, if it did, the ordered
// per-action results.
type ExecutionPayload struct {
	Matched bool           `json:"matched"`
	Actions []ActionResult `json:"actions,omitempty"`
}

// ExecutionRecord is the immutable audit entry produced exactly once
// per rule per invocation. Never mutated after creation.
type ExecutionRecord struct {
	ID          string           `json:"id"`
	RuleID      string           `json:"rule_id"`
	OwnerID     string           `json:"owner_id"`
	EntityType  string           `json:"entity_type"`
	EntityID    string           `json:"entity_id"`
	Status      string           `json:"status"`
	Result      ExecutionPayload `json:"result"`
	TriggeredAt time.Time        `json:"triggered_at"`
	CompletedAt time.Time        `json:"completed_at"`
}

// ExecutionResult is the per-rule outcome returned to the caller of
// RunRules, mirroring the persisted record for immediate use.
type ExecutionResult struct {
	RuleID   string         `json:"rule_id"`
	RuleName string         `json:"rule_name"`
	Status   string         `json:"status"`
	Matched  bool           `json:"matched"`
	Actions  []ActionResult `json:"actions,omitempty"`
}

// ConditionOutcome is one condition's result in a dry run.
type ConditionOutcome struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Expected any      `json:"expected"`
	Actual   any      `json:"actual"`
	Matched  bool     `json:"matched"`
}

// DryRunResult reports whether a rule would match the given context,
// without executing actions or writing an execution record.
type DryRunResult struct {
	RuleID     string             `json:"rule_id"`
	Matched    bool               `json:"matched"`
	Conditions []ConditionOutcome `json:"conditions"`
}
