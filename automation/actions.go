package automation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/capturewise/automation/crm"
)

// teamingPreviewLimit caps the partner preview returned by
// evaluate_teaming; the full match set is never returned.
const teamingPreviewLimit = 5

// Invocation carries the per-rule execution state handed to each action
// handler: the triggering entity coordinates, the invocation context,
// and a single mutable capture plan handle shared by the actions of one
// rule. The handle is never shared across rules or invocations.
type Invocation struct {
	OwnerID    string
	EntityType string
	EntityID   string
	Context    Context
	Plan       *crm.CapturePlan
}

// ActionHandler performs one concrete side effect for one action type.
// Handlers never return Go errors: every failure is reported as a
// failed ActionResult with a reason string, so one broken action can
// never abort the invocation.
type ActionHandler interface {
	Type() string
	Apply(params map[string]any, inv *Invocation) ActionResult
}

// Dispatcher routes declared actions to their handlers. Unrecognized
// action types are reported as skipped, not failed, so rules may
// reference actions the current deployment does not implement yet.
type Dispatcher struct {
	handlers map[string]ActionHandler
}

// NewDispatcher builds a dispatcher with the canonical handler set.
func NewDispatcher(plans crm.CapturePlanStore, opportunities crm.OpportunityStore,
	notifications crm.NotificationStore, partners crm.PartnerStore) *Dispatcher {

	d := &Dispatcher{handlers: make(map[string]ActionHandler)}
	d.Register(&moveStageHandler{plans: plans})
	d.Register(&assignUserHandler{plans: plans})
	d.Register(&addTagHandler{opportunities: opportunities})
	d.Register(&sendNotificationHandler{notifications: notifications})
	d.Register(&evaluateTeamingHandler{opportunities: opportunities, partners: partners})
	return d
}

// Register adds a handler, replacing any previous handler for its type.
func (d *Dispatcher) Register(h ActionHandler) {
	d.handlers[h.Type()] = h
}

// Dispatch routes one action to its handler and returns the structured
// outcome.
func (d *Dispatcher) Dispatch(action Action, inv *Invocation) ActionResult {
	h, ok := d.handlers[action.Type]
	if !ok {
		return ActionResult{
			ActionType: action.Type,
			Status:     StatusSkipped,
			Reason:     "unsupported action",
		}
	}
	return h.Apply(action.Params, inv)
}

// moveStageHandler moves a capture plan to the stage named in params.
type moveStageHandler struct {
	plans crm.CapturePlanStore
}

func (h *moveStageHandler) Type() string { return "move_stage" }

func (h *moveStageHandler) Apply(params map[string]any, inv *Invocation) ActionResult {
	stage, ok := stringParam(params, "stage")
	if !ok {
		return ActionResult{ActionType: h.Type(), Status: StatusSkipped, Reason: "missing stage param"}
	}
	if inv.Plan == nil {
		return ActionResult{ActionType: h.Type(), Status: StatusFailed, Reason: "capture plan not found"}
	}

	from := inv.Plan.Stage
	inv.Plan.Stage = stage
	if err := h.plans.Save(inv.Plan); err != nil {
		inv.Plan.Stage = from
		return ActionResult{ActionType: h.Type(), Status: StatusFailed, Reason: err.Error()}
	}

	return ActionResult{
		ActionType: h.Type(),
		Status:     StatusSuccess,
		Detail:     map[string]any{"from": from, "to": stage},
	}
}

// assignUserHandler reassigns capture plan ownership to the user named
// in params.
type assignUserHandler struct {
	plans crm.CapturePlanStore
}

func (h *assignUserHandler) Type() string { return "assign_user" }

func (h *assignUserHandler) Apply(params map[string]any, inv *Invocation) ActionResult {
	userID, ok := stringParam(params, "user_id")
	if !ok {
		return ActionResult{ActionType: h.Type(), Status: StatusSkipped, Reason: "missing user_id param"}
	}
	if inv.Plan == nil {
		return ActionResult{ActionType: h.Type(), Status: StatusFailed, Reason: "capture plan not found"}
	}

	from := inv.Plan.OwnerID
	inv.Plan.OwnerID = userID
	if err := h.plans.Save(inv.Plan); err != nil {
		inv.Plan.OwnerID = from
		return ActionResult{ActionType: h.Type(), Status: StatusFailed, Reason: err.Error()}
	}

	return ActionResult{
		ActionType: h.Type(),
		Status:     StatusSuccess,
		Detail:     map[string]any{"from": from, "to": userID},
	}
}

// addTagHandler plants a tag marker in the linked opportunity's
// description. Idempotent: a marker already present is not repeated.
type addTagHandler struct {
	opportunities crm.OpportunityStore
}

func (h *addTagHandler) Type() string { return "add_tag" }

func (h *addTagHandler) Apply(params map[string]any, inv *Invocation) ActionResult {
	tag, ok := stringParam(params, "tag")
	if !ok {
		return ActionResult{ActionType: h.Type(), Status: StatusSkipped, Reason: "missing tag param"}
	}
	if inv.Plan == nil {
		return ActionResult{ActionType: h.Type(), Status: StatusFailed, Reason: "capture plan not found"}
	}

	opp, err := h.opportunities.Get(inv.Plan.OpportunityID)
	if err != nil {
		if errors.Is(err, crm.ErrNotFound) {
			return ActionResult{ActionType: h.Type(), Status: StatusFailed, Reason: "linked opportunity not found"}
		}
		return ActionResult{ActionType: h.Type(), Status: StatusFailed, Reason: err.Error()}
	}

	marker := tagMarker(tag)
	if strings.Contains(opp.Description, marker) {
		return ActionResult{
			ActionType: h.Type(),
			Status:     StatusSuccess,
			Detail:     map[string]any{"tag": tag, "already_present": true},
		}
	}

	if opp.Description == "" {
		opp.Description = marker
	} else {
		opp.Description = opp.Description + " " + marker
	}
	if err := h.opportunities.Save(opp); err != nil {
		return ActionResult{ActionType: h.Type(), Status: StatusFailed, Reason: err.Error()}
	}

	return ActionResult{
		ActionType: h.Type(),
		Status:     StatusSuccess,
		Detail:     map[string]any{"tag": tag, "already_present": false},
	}
}

func tagMarker(tag string) string {
	return fmt.Sprintf("[tag:%s]", tag)
}

// sendNotificationHandler notifies the entity owner. It has no
// preconditions: barring a persistence fault it always succeeds.
type sendNotificationHandler struct {
	notifications crm.NotificationStore
}

func (h *sendNotificationHandler) Type() string { return "send_notification" }

func (h *sendNotificationHandler) Apply(params map[string]any, inv *Invocation) ActionResult {
	title, ok := stringParam(params, "title")
	if !ok {
		title = "Automation rule triggered"
	}
	message, ok := stringParam(params, "message")
	if !ok {
		message = fmt.Sprintf("An automation rule ran against %s %s", inv.EntityType, inv.EntityID)
	}

	// Contextual linkage plus action metadata, for later audit.
	metadata := map[string]any{
		"entity_type": inv.EntityType,
		"entity_id":   inv.EntityID,
		"action":      h.Type(),
	}
	for _, key := range []string{"capture_plan_id", "opportunity_id"} {
		if v, ok := inv.Context[key]; ok && v != nil {
			metadata[key] = v
		}
	}
	for k, v := range params {
		if k != "title" && k != "message" {
			metadata[k] = v
		}
	}

	n := &crm.Notification{
		ID:       uuid.New().String(),
		UserID:   inv.OwnerID,
		Title:    title,
		Message:  message,
		Metadata: metadata,
	}
	if err := h.notifications.Create(n); err != nil {
		return ActionResult{ActionType: h.Type(), Status: StatusFailed, Reason: err.Error()}
	}

	return ActionResult{
		ActionType: h.Type(),
		Status:     StatusSuccess,
		Detail:     map[string]any{"notification_id": n.ID, "user_id": n.UserID},
	}
}

// evaluateTeamingHandler is read-only: it matches public partners
// against the opportunity's NAICS code and returns a bounded preview.
type evaluateTeamingHandler struct {
	opportunities crm.OpportunityStore
	partners      crm.PartnerStore
}

func (h *evaluateTeamingHandler) Type() string { return "evaluate_teaming" }

func (h *evaluateTeamingHandler) Apply(params map[string]any, inv *Invocation) ActionResult {
	oppID, ok := stringValue(inv.Context["opportunity_id"])
	if !ok {
		return ActionResult{ActionType: h.Type(), Status: StatusSkipped, Reason: "no opportunity in context"}
	}

	opp, err := h.opportunities.Get(oppID)
	if err != nil {
		if errors.Is(err, crm.ErrNotFound) {
			return ActionResult{ActionType: h.Type(), Status: StatusFailed, Reason: "opportunity not found"}
		}
		return ActionResult{ActionType: h.Type(), Status: StatusFailed, Reason: err.Error()}
	}

	matches, err := h.partners.MatchByNAICS(opp.NAICSCode)
	if err != nil {
		return ActionResult{ActionType: h.Type(), Status: StatusFailed, Reason: err.Error()}
	}

	preview := make([]map[string]any, 0, teamingPreviewLimit)
	for _, p := range matches {
		if len(preview) == teamingPreviewLimit {
			break
		}
		preview = append(preview, map[string]any{
			"id":         p.ID,
			"name":       p.Name,
			"naics_code": p.NAICSCode,
		})
	}

	return ActionResult{
		ActionType: h.Type(),
		Status:     StatusSuccess,
		Detail: map[string]any{
			"naics_code":    opp.NAICSCode,
			"total_matches": len(matches),
			"preview":       preview,
		},
	}
}

// stringParam extracts a non-empty string param.
func stringParam(params map[string]any, key string) (string, bool) {
	if params == nil {
		return "", false
	}
	return stringValue(params[key])
}

func stringValue(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
