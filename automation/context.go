package automation

import (
	"time"

	"github.com/capturewise/automation/crm"
)

// Context is the flat, per-invocation map of primitive values a rule's
// conditions read from. It is transient: built for one invocation and
// never persisted or shared.
type Context map[string]any

// Merge returns a copy of c with extra entries folded in. Extras win on
// key collisions, which lets manual triggers override derived values.
func (c Context) Merge(extra map[string]any) Context {
	merged := make(Context, len(c)+len(extra))
	for k, v := range c {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

// BuildCapturePlanContext flattens a capture plan and its linked
// opportunity into a context map. Pure: no side effects, never fails.
// Missing optional inputs (nil opportunity, absent deadline) become nil
// entries rather than errors. Deterministic given the same snapshot
// and now.
func BuildCapturePlanContext(plan *crm.CapturePlan, opp *crm.Opportunity, now time.Time) Context {
	ctx := Context{}

	if plan != nil {
		ctx["capture_plan_id"] = plan.ID
		ctx["owner_id"] = plan.OwnerID
		ctx["stage"] = plan.Stage
		ctx["win_probability"] = plan.WinProbability
		if plan.OpportunityID != "" {
			ctx["opportunity_id"] = plan.OpportunityID
		} else {
			ctx["opportunity_id"] = nil
		}
	}

	if opp != nil {
		ctx["opportunity_id"] = opp.ID
		ctx["opportunity_title"] = opp.Title
		ctx["agency"] = opp.Agency
		ctx["naics_code"] = opp.NAICSCode
		ctx["days_until_deadline"] = daysUntil(opp.ResponseDeadline, now)
	} else {
		ctx["opportunity_title"] = nil
		ctx["agency"] = nil
		ctx["naics_code"] = nil
		ctx["days_until_deadline"] = nil
	}

	return ctx
}

// daysUntil computes whole days between now and deadline, nil when no
// deadline exists. Past deadlines yield negative values.
func daysUntil(deadline *time.Time, now time.Time) any {
	if deadline == nil {
		return nil
	}
	return int(deadline.Sub(now).Hours() / 24)
}
