package automation

import (
	"testing"
	"time"

	"github.com/capturewise/automation/crm"
)

func TestBuildCapturePlanContext(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	deadline := now.Add(10*24*time.Hour + time.Hour)

	plan := &crm.CapturePlan{
		ID:             "plan-1",
		OwnerID:        "user-1",
		OpportunityID:  "opp-1",
		Stage:          crm.StageQualified,
		WinProbability: 0.6,
	}
	opp := &crm.Opportunity{
		ID:               "opp-1",
		Title:            "Network modernization",
		Agency:           "GSA",
		NAICSCode:        "541512",
		ResponseDeadline: &deadline,
	}

	ctx := BuildCapturePlanContext(plan, opp, now)

	want := map[string]any{
		"capture_plan_id":     "plan-1",
		"owner_id":            "user-1",
		"stage":               crm.StageQualified,
		"win_probability":     0.6,
		"opportunity_id":      "opp-1",
		"opportunity_title":   "Network modernization",
		"agency":              "GSA",
		"naics_code":          "541512",
		"days_until_deadline": 10,
	}
	for key, expected := range want {
		if got := ctx[key]; got != expected {
			t.Errorf("ctx[%q] = %v, want %v", key, got, expected)
		}
	}
}

func TestBuildCapturePlanContextNoOpportunity(t *testing.T) {
	plan := &crm.CapturePlan{ID: "plan-1", OwnerID: "user-1", Stage: crm.StageIdentified}

	ctx := BuildCapturePlanContext(plan, nil, time.Now())

	for _, key := range []string{"opportunity_id", "opportunity_title", "agency", "naics_code", "days_until_deadline"} {
		v, present := ctx[key]
		if !present {
			t.Errorf("ctx[%q] missing, want explicit nil", key)
		}
		if v != nil {
			t.Errorf("ctx[%q] = %v, want nil", key, v)
		}
	}
	if ctx["stage"] != crm.StageIdentified {
		t.Errorf("ctx[stage] = %v, want %v", ctx["stage"], crm.StageIdentified)
	}
}

func TestBuildCapturePlanContextPastDeadline(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	deadline := now.Add(-3 * 24 * time.Hour)

	opp := &crm.Opportunity{ID: "opp-1", ResponseDeadline: &deadline}
	ctx := BuildCapturePlanContext(&crm.CapturePlan{ID: "p", OpportunityID: "opp-1"}, opp, now)

	if got := ctx["days_until_deadline"]; got != -3 {
		t.Errorf("days_until_deadline = %v, want -3", got)
	}
}

func TestContextMerge(t *testing.T) {
	base := Context{"stage": "qualified", "win_probability": 0.5}
	merged := base.Merge(map[string]any{"stage": "pursuit", "extra": true})

	if merged["stage"] != "pursuit" {
		t.Errorf("merge should prefer extra values, got stage=%v", merged["stage"])
	}
	if merged["win_probability"] != 0.5 {
		t.Errorf("merge lost base value, got %v", merged["win_probability"])
	}
	if merged["extra"] != true {
		t.Errorf("merge dropped extra key")
	}
	if base["stage"] != "qualified" {
		t.Error("merge must not mutate the receiver")
	}
}
