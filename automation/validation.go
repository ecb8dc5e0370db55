package automation

import (
	"fmt"
	"strings"
)

const (
	maxRuleNameLength = 200
	maxConditions     = 50
	maxActions        = 20
)

// ValidateRule validates a rule definition before it is stored.
// Returns an error describing the first problem found, nil if valid.
func ValidateRule(rule *Rule) error {
	if strings.TrimSpace(rule.Name) == "" {
		return fmt.Errorf("rule name cannot be empty")
	}
	if len(rule.Name) > maxRuleNameLength {
		return fmt.Errorf("rule name length %d exceeds maximum of %d characters", len(rule.Name), maxRuleNameLength)
	}
	if rule.OwnerID == "" {
		return fmt.Errorf("rule owner cannot be empty")
	}

	if !ValidTriggerType(rule.TriggerType) {
		return fmt.Errorf("unknown trigger type %q (must be one of: %s, %s, %s, %s)",
			rule.TriggerType, TriggerEntityCreated, TriggerStageChanged, TriggerScoreThreshold, TriggerManual)
	}

	if len(rule.Conditions) > maxConditions {
		return fmt.Errorf("rule has %d conditions, maximum allowed is %d", len(rule.Conditions), maxConditions)
	}
	for i, cond := range rule.Conditions {
		if strings.TrimSpace(cond.Field) == "" {
			return fmt.Errorf("condition %d: field cannot be empty", i)
		}
		if !ValidOperator(cond.Operator) {
			return fmt.Errorf("condition %d: unknown operator %q (must be one of: %s, %s, %s, %s, %s)",
				i, cond.Operator, OpEquals, OpGt, OpLt, OpContains, OpInList)
		}
	}

	if len(rule.Actions) > maxActions {
		return fmt.Errorf("rule has %d actions, maximum allowed is %d", len(rule.Actions), maxActions)
	}
	for i, action := range rule.Actions {
		if strings.TrimSpace(action.Type) == "" {
			return fmt.Errorf("action %d: action_type cannot be empty", i)
		}
	}

	// Unknown action types are deliberately not rejected here: rules may
	// reference actions a future deployment implements, and the
	// dispatcher reports them as skipped at execution time.
	return nil
}
