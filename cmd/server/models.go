package main

import (
	"time"

	"github.com/capturewise/automation/automation"
	"github.com/capturewise/automation/crm"
)

// Request and response bodies for the HTTP API.

type CreateRuleRequest struct {
	Name        string                 `json:"name"`
	TriggerType automation.TriggerType `json:"trigger_type"`
	Conditions  []automation.Condition `json:"conditions"`
	Actions     []automation.Action    `json:"actions"`
	Priority    int                    `json:"priority"`
	Enabled     bool                   `json:"enabled"`
}

type UpdateRuleRequest struct {
	Name        string                 `json:"name"`
	TriggerType automation.TriggerType `json:"trigger_type"`
	Conditions  []automation.Condition `json:"conditions"`
	Actions     []automation.Action    `json:"actions"`
	Priority    int                    `json:"priority"`
	Enabled     bool                   `json:"enabled"`
}

type DryRunRequest struct {
	Context map[string]any `json:"context"`
}

type ManualTriggerRequest struct {
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Context    map[string]any `json:"context"`
}

type CreateCapturePlanRequest struct {
	OpportunityID  string  `json:"opportunity_id"`
	Stage          string  `json:"stage"`
	WinProbability float64 `json:"win_probability"`
}

type ChangeStageRequest struct {
	Stage string `json:"stage"`
}

type RecordScoreRequest struct {
	WinProbability float64 `json:"win_probability"`
}

type CreateOpportunityRequest struct {
	Title            string     `json:"title"`
	Agency           string     `json:"agency"`
	NAICSCode        string     `json:"naics_code"`
	Description      string     `json:"description"`
	ResponseDeadline *time.Time `json:"response_deadline"`
}

type CreatePartnerRequest struct {
	Name         string `json:"name"`
	NAICSCode    string `json:"naics_code"`
	Capabilities string `json:"capabilities"`
	Public       bool   `json:"public"`
}

// CapturePlanResponse pairs the plan state after any automation ran
// with the per-rule execution results.
type CapturePlanResponse struct {
	Plan       *crm.CapturePlan             `json:"plan"`
	Automation []automation.ExecutionResult `json:"automation"`
}
