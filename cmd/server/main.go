package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/capturewise/automation/automation"
	"github.com/capturewise/automation/crm"
	"github.com/capturewise/automation/internal/config"
	"github.com/capturewise/automation/internal/db"
	"github.com/capturewise/automation/internal/logger"
)

type Server struct {
	db            *sql.DB
	engine        *automation.Engine
	executions    automation.ExecutionStore
	plans         crm.CapturePlanStore
	opportunities crm.OpportunityStore
	notifications crm.NotificationStore
	partners      crm.PartnerStore
	router        *chi.Mux
}

// NewServer connects to the database and wires the engine on SQL stores.
func NewServer(databaseURL string) (*Server, error) {
	conn, err := db.Open(databaseURL)
	if err != nil {
		return nil, err
	}

	s := newServer(
		automation.NewSQLRuleStore(conn),
		automation.NewSQLExecutionStore(conn),
		crm.NewSQLCapturePlanStore(conn),
		crm.NewSQLOpportunityStore(conn),
		crm.NewSQLNotificationStore(conn),
		crm.NewSQLPartnerStore(conn),
	)
	s.db = conn
	return s, nil
}

// NewServerInMemory wires the engine on in-memory stores. Used in tests
// and local demos where no database is available.
func NewServerInMemory() *Server {
	return newServer(
		automation.NewInMemoryRuleStore(),
		automation.NewInMemoryExecutionStore(),
		crm.NewInMemoryCapturePlanStore(),
		crm.NewInMemoryOpportunityStore(),
		crm.NewInMemoryNotificationStore(),
		crm.NewInMemoryPartnerStore(),
	)
}

func newServer(rules automation.RuleStore, executions automation.ExecutionStore,
	plans crm.CapturePlanStore, opportunities crm.OpportunityStore,
	notifications crm.NotificationStore, partners crm.PartnerStore) *Server {

	dispatcher := automation.NewDispatcher(plans, opportunities, notifications, partners)
	engine := automation.NewEngine(rules, executions, dispatcher, plans)

	s := &Server{
		engine:        engine,
		executions:    executions,
		plans:         plans,
		opportunities: opportunities,
		notifications: notifications,
		partners:      partners,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/api/v1/health", s.handleHealth)

	// Rule management
	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Post("/", s.handleCreateRule)
		r.Get("/", s.handleListRules)

		r.Route("/{ruleId}", func(r chi.Router) {
			r.Get("/", s.handleGetRule)
			r.Put("/", s.handleUpdateRule)
			r.Delete("/", s.handleDeleteRule)
			r.Post("/dry-run", s.handleDryRun)
		})
	})

	// Execution history
	r.Get("/api/v1/executions", s.handleListExecutions)

	// Manual trigger
	r.Post("/api/v1/automation/trigger", s.handleManualTrigger)

	// CRM surface: each mutation fires its trigger through the engine
	r.Route("/api/v1/capture-plans", func(r chi.Router) {
		r.Post("/", s.handleCreateCapturePlan)

		r.Route("/{planId}", func(r chi.Router) {
			r.Get("/", s.handleGetCapturePlan)
			r.Post("/stage", s.handleChangeStage)
			r.Post("/score", s.handleRecordScore)
		})
	})

	r.Post("/api/v1/opportunities", s.handleCreateOpportunity)
	r.Get("/api/v1/opportunities/{opportunityId}", s.handleGetOpportunity)

	r.Post("/api/v1/partners", s.handleCreatePartner)
	r.Get("/api/v1/partners/match", s.handleMatchPartners)

	r.Get("/api/v1/notifications", s.handleListNotifications)

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"errors":   logger.TotalErrors.Load(),
		"warnings": logger.TotalWarnings.Load(),
	})
}

// ownerID extracts the requesting owner. Authentication happens
// upstream; this service trusts the forwarded identity header.
func ownerID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := ownerID(r)
	if owner == "" {
		respondError(w, http.StatusUnauthorized, "X-User-ID header is required", nil)
		return "", false
	}
	return owner, true
}

// Create rule handler
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule := &automation.Rule{
		ID:          uuid.New().String(),
		OwnerID:     owner,
		Name:        req.Name,
		TriggerType: req.TriggerType,
		Conditions:  req.Conditions,
		Actions:     req.Actions,
		Priority:    req.Priority,
		Enabled:     req.Enabled,
	}

	if err := s.engine.AddRule(rule); err != nil {
		respondError(w, http.StatusBadRequest, "failed to add rule", err)
		return
	}

	respondJSON(w, http.StatusCreated, rule)
}

// List rules handler
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	rules, err := s.engine.ListRules(owner)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	if rules == nil {
		rules = []*automation.Rule{}
	}

	respondJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

// Get rule handler
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	rule, err := s.engine.GetRule(owner, chi.URLParam(r, "ruleId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

// Update rule handler
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var req UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule := &automation.Rule{
		ID:          chi.URLParam(r, "ruleId"),
		OwnerID:     owner,
		Name:        req.Name,
		TriggerType: req.TriggerType,
		Conditions:  req.Conditions,
		Actions:     req.Actions,
		Priority:    req.Priority,
		Enabled:     req.Enabled,
	}

	if err := s.engine.UpdateRule(rule); err != nil {
		if errors.Is(err, automation.ErrRuleNotFound) {
			respondError(w, http.StatusNotFound, "rule not found", err)
			return
		}
		respondError(w, http.StatusBadRequest, "failed to update rule", err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

// Delete rule handler
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	if err := s.engine.DeleteRule(owner, chi.URLParam(r, "ruleId")); err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Dry-run handler: reports whether the rule would match the supplied
// context. No action executes and no execution record is written.
func (s *Server) handleDryRun(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var req DryRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	result, err := s.engine.DryRun(owner, chi.URLParam(r, "ruleId"), automation.Context(req.Context))
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// List executions handler: paginated, filterable by rule or entity.
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	ruleID := r.URL.Query().Get("rule_id")
	entityID := r.URL.Query().Get("entity_id")

	var records []*automation.ExecutionRecord
	var err error
	switch {
	case ruleID != "":
		records, err = s.executions.ListByRule(owner, ruleID, limit, offset)
	case entityID != "":
		records, err = s.executions.ListByEntity(owner, entityID, limit, offset)
	default:
		respondError(w, http.StatusBadRequest, "rule_id or entity_id query parameter is required", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list executions", err)
		return
	}
	if records == nil {
		records = []*automation.ExecutionRecord{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"executions": records,
		"limit":      limit,
		"offset":     offset,
	})
}

// Manual trigger handler: runs the owner's manual rules against an
// operator-supplied context, for ad hoc testing.
func (s *Server) handleManualTrigger(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var req ManualTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.EntityType == "" || req.EntityID == "" {
		respondError(w, http.StatusBadRequest, "entity_type and entity_id are required", nil)
		return
	}

	// Start from the entity's real context when it exists, then let the
	// operator-supplied values override.
	ruleCtx := automation.Context{}
	if req.EntityType == automation.EntityCapturePlan {
		if plan, err := s.plans.Get(req.EntityID); err == nil {
			ruleCtx = s.buildPlanContext(plan)
		}
	}
	ruleCtx = ruleCtx.Merge(req.Context)

	results, err := s.engine.RunRules(owner, automation.TriggerManual, req.EntityType, req.EntityID, ruleCtx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "rule execution failed", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"results": results})
}

// Create capture plan handler: fires the entity_created trigger.
func (s *Server) handleCreateCapturePlan(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var req CreateCapturePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	stage := req.Stage
	if stage == "" {
		stage = crm.StageIdentified
	}

	plan := &crm.CapturePlan{
		ID:             uuid.New().String(),
		OwnerID:        owner,
		OpportunityID:  req.OpportunityID,
		Stage:          stage,
		WinProbability: req.WinProbability,
	}
	if err := s.plans.Create(plan); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create capture plan", err)
		return
	}

	results, err := s.engine.RunRules(owner, automation.TriggerEntityCreated,
		automation.EntityCapturePlan, plan.ID, s.buildPlanContext(plan))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "rule execution failed", err)
		return
	}

	// The plan may have been mutated by actions; return the fresh state.
	if updated, err := s.plans.Get(plan.ID); err == nil {
		plan = updated
	}

	respondJSON(w, http.StatusCreated, CapturePlanResponse{Plan: plan, Automation: results})
}

// Get capture plan handler
func (s *Server) handleGetCapturePlan(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireOwner(w, r); !ok {
		return
	}

	plan, err := s.plans.Get(chi.URLParam(r, "planId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "capture plan not found", err)
		return
	}

	respondJSON(w, http.StatusOK, plan)
}

// Change stage handler: fires the stage_changed trigger.
func (s *Server) handleChangeStage(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var req ChangeStageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Stage == "" {
		respondError(w, http.StatusBadRequest, "stage is required", nil)
		return
	}

	plan, err := s.plans.Get(chi.URLParam(r, "planId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "capture plan not found", err)
		return
	}

	previous := plan.Stage
	plan.Stage = req.Stage
	if err := s.plans.Save(plan); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update capture plan", err)
		return
	}

	ruleCtx := s.buildPlanContext(plan).Merge(map[string]any{"previous_stage": previous})
	results, err := s.engine.RunRules(owner, automation.TriggerStageChanged,
		automation.EntityCapturePlan, plan.ID, ruleCtx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "rule execution failed", err)
		return
	}

	if updated, err := s.plans.Get(plan.ID); err == nil {
		plan = updated
	}

	respondJSON(w, http.StatusOK, CapturePlanResponse{Plan: plan, Automation: results})
}

// Record score handler: fires the score_threshold trigger.
func (s *Server) handleRecordScore(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var req RecordScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	plan, err := s.plans.Get(chi.URLParam(r, "planId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "capture plan not found", err)
		return
	}

	previous := plan.WinProbability
	plan.WinProbability = req.WinProbability
	if err := s.plans.Save(plan); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update capture plan", err)
		return
	}

	ruleCtx := s.buildPlanContext(plan).Merge(map[string]any{"previous_win_probability": previous})
	results, err := s.engine.RunRules(owner, automation.TriggerScoreThreshold,
		automation.EntityCapturePlan, plan.ID, ruleCtx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "rule execution failed", err)
		return
	}

	if updated, err := s.plans.Get(plan.ID); err == nil {
		plan = updated
	}

	respondJSON(w, http.StatusOK, CapturePlanResponse{Plan: plan, Automation: results})
}

// Create opportunity handler
func (s *Server) handleCreateOpportunity(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var req CreateOpportunityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Title == "" {
		respondError(w, http.StatusBadRequest, "title is required", nil)
		return
	}

	opp := &crm.Opportunity{
		ID:               uuid.New().String(),
		OwnerID:          owner,
		Title:            req.Title,
		Agency:           req.Agency,
		NAICSCode:        req.NAICSCode,
		Description:      req.Description,
		ResponseDeadline: req.ResponseDeadline,
	}
	if err := s.opportunities.Create(opp); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create opportunity", err)
		return
	}

	respondJSON(w, http.StatusCreated, opp)
}

// Get opportunity handler
func (s *Server) handleGetOpportunity(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireOwner(w, r); !ok {
		return
	}

	opp, err := s.opportunities.Get(chi.URLParam(r, "opportunityId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "opportunity not found", err)
		return
	}

	respondJSON(w, http.StatusOK, opp)
}

// Create partner handler
func (s *Server) handleCreatePartner(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireOwner(w, r); !ok {
		return
	}

	var req CreatePartnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	partner := &crm.Partner{
		ID:           uuid.New().String(),
		Name:         req.Name,
		NAICSCode:    req.NAICSCode,
		Capabilities: req.Capabilities,
		Public:       req.Public,
	}
	if err := s.partners.Create(partner); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create partner", err)
		return
	}

	respondJSON(w, http.StatusCreated, partner)
}

// Match partners handler
func (s *Server) handleMatchPartners(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireOwner(w, r); !ok {
		return
	}

	code := r.URL.Query().Get("naics")
	if code == "" {
		respondError(w, http.StatusBadRequest, "naics query parameter is required", nil)
		return
	}

	matches, err := s.partners.MatchByNAICS(code)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to match partners", err)
		return
	}
	if matches == nil {
		matches = []*crm.Partner{}
	}

	respondJSON(w, http.StatusOK, map[string]any{"partners": matches})
}

// List notifications handler
func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	notifications, err := s.notifications.ListForUser(owner, queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list notifications", err)
		return
	}
	if notifications == nil {
		notifications = []*crm.Notification{}
	}

	respondJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
}

// buildPlanContext flattens a capture plan and its linked opportunity.
// A missing opportunity is not an error: the context carries nils.
func (s *Server) buildPlanContext(plan *crm.CapturePlan) automation.Context {
	var opp *crm.Opportunity
	if plan.OpportunityID != "" {
		if o, err := s.opportunities.Get(plan.OpportunityID); err == nil {
			opp = o
		}
	}
	return automation.BuildCapturePlanContext(plan, opp, time.Now())
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}

	logger.Setup(cfg.LogLevel)

	server, err := NewServer(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to create server", "error", err)
	}
	defer server.db.Close()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed to start", "error", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	if err := logger.Shutdown(ctx); err != nil {
		logger.Error("Logger shutdown error", "error", err)
	}

	logger.Info("Server stopped")
}
