package automation

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLRuleStore implements RuleStore backed by database/sql. Conditions
// and actions persist as JSON documents rather than a columnar schema.
// The SQL stays portable across PostgreSQL and SQLite: positional $n
// parameters, timestamps bound from Go.
type SQLRuleStore struct {
	db *sql.DB
}

// NewSQLRuleStore creates a SQL-backed rule store.
func NewSQLRuleStore(db *sql.DB) *SQLRuleStore {
	return &SQLRuleStore{db: db}
}

// Add inserts a new rule.
func (s *SQLRuleStore) Add(rule *Rule) error {
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	conditions, actions, err := marshalRuleDocs(rule)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO rules (id, owner_id, name, trigger_type, conditions, actions, priority, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rule.ID, rule.OwnerID, rule.Name, string(rule.TriggerType), conditions, actions,
		rule.Priority, rule.Enabled, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

// Get retrieves a rule by ID, scoped to its owner.
func (s *SQLRuleStore) Get(ownerID, id string) (*Rule, error) {
	row := s.db.QueryRow(`
		SELECT id, owner_id, name, trigger_type, conditions, actions, priority, enabled, created_at, updated_at
		FROM rules
		WHERE id = $1 AND owner_id = $2
	`, id, ownerID)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// List returns all rules for an owner, newest first.
func (s *SQLRuleStore) List(ownerID string) ([]*Rule, error) {
	rows, err := s.db.Query(`
		SELECT id, owner_id, name, trigger_type, conditions, actions, priority, enabled, created_at, updated_at
		FROM rules
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	return collectRules(rows)
}

// ListEnabled returns the enabled rules for one owner and trigger in
// evaluation order: priority descending, creation time ascending.
func (s *SQLRuleStore) ListEnabled(ownerID string, trigger TriggerType) ([]*Rule, error) {
	rows, err := s.db.Query(`
		SELECT id, owner_id, name, trigger_type, conditions, actions, priority, enabled, created_at, updated_at
		FROM rules
		WHERE owner_id = $1 AND trigger_type = $2 AND enabled = $3
		ORDER BY priority DESC, created_at ASC
	`, ownerID, string(trigger), true)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled rules: %w", err)
	}
	defer rows.Close()

	return collectRules(rows)
}

// Update modifies an existing rule, preserving CreatedAt.
func (s *SQLRuleStore) Update(rule *Rule) error {
	rule.UpdatedAt = time.Now()

	conditions, actions, err := marshalRuleDocs(rule)
	if err != nil {
		return err
	}

	result, err := s.db.Exec(`
		UPDATE rules
		SET name = $1, trigger_type = $2, conditions = $3, actions = $4, priority = $5, enabled = $6, updated_at = $7
		WHERE id = $8 AND owner_id = $9
	`, rule.Name, string(rule.TriggerType), conditions, actions, rule.Priority, rule.Enabled,
		rule.UpdatedAt, rule.ID, rule.OwnerID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrRuleNotFound)
	}
	return nil
}

// Delete removes a rule.
func (s *SQLRuleStore) Delete(ownerID, id string) error {
	result, err := s.db.Exec(`
		DELETE FROM rules
		WHERE id = $1 AND owner_id = $2
	`, id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	return nil
}

func marshalRuleDocs(rule *Rule) (conditions, actions string, err error) {
	condDoc, err := json.Marshal(rule.Conditions)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal conditions: %w", err)
	}
	actionDoc, err := json.Marshal(rule.Actions)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal actions: %w", err)
	}
	return string(condDoc), string(actionDoc), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var r Rule
	var trigger, conditions, actions string
	if err := row.Scan(&r.ID, &r.OwnerID, &r.Name, &trigger, &conditions, &actions,
		&r.Priority, &r.Enabled, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.TriggerType = TriggerType(trigger)
	if err := json.Unmarshal([]byte(conditions), &r.Conditions); err != nil {
		return nil, fmt.Errorf("invalid conditions document for rule %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(actions), &r.Actions); err != nil {
		return nil, fmt.Errorf("invalid actions document for rule %s: %w", r.ID, err)
	}
	return &r, nil
}

func collectRules(rows *sql.Rows) ([]*Rule, error) {
	var rulesList []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rulesList = append(rulesList, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return rulesList, nil
}

// SQLExecutionStore implements ExecutionStore backed by database/sql.
// Append-only: there is no update or delete path.
type SQLExecutionStore struct {
	db *sql.DB
}

// NewSQLExecutionStore creates a SQL-backed execution store.
func NewSQLExecutionStore(db *sql.DB) *SQLExecutionStore {
	return &SQLExecutionStore{db: db}
}

// Record appends one execution record.
func (s *SQLExecutionStore) Record(rec *ExecutionRecord) error {
	result, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal execution result: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO rule_executions (id, rule_id, owner_id, entity_type, entity_id, status, result, triggered_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.ID, rec.RuleID, rec.OwnerID, rec.EntityType, rec.EntityID, rec.Status,
		string(result), rec.TriggeredAt, rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to insert execution record: %w", err)
	}
	return nil
}

// ListByRule returns records for one rule, newest first.
func (s *SQLExecutionStore) ListByRule(ownerID, ruleID string, limit, offset int) ([]*ExecutionRecord, error) {
	return s.list(`rule_id`, ruleID, ownerID, limit, offset)
}

// ListByEntity returns records for one entity, newest first.
func (s *SQLExecutionStore) ListByEntity(ownerID, entityID string, limit, offset int) ([]*ExecutionRecord, error) {
	return s.list(`entity_id`, entityID, ownerID, limit, offset)
}

func (s *SQLExecutionStore) list(column, value, ownerID string, limit, offset int) ([]*ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, rule_id, owner_id, entity_type, entity_id, status, result, triggered_at, completed_at
		FROM rule_executions
		WHERE `+column+` = $1 AND owner_id = $2
		ORDER BY triggered_at DESC
		LIMIT $3 OFFSET $4
	`, value, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution records: %w", err)
	}
	defer rows.Close()

	var records []*ExecutionRecord
	for rows.Next() {
		var rec ExecutionRecord
		var result string
		if err := rows.Scan(&rec.ID, &rec.RuleID, &rec.OwnerID, &rec.EntityType, &rec.EntityID,
			&rec.Status, &result, &rec.TriggeredAt, &rec.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution record: %w", err)
		}
		if err := json.Unmarshal([]byte(result), &rec.Result); err != nil {
			return nil, fmt.Errorf("invalid result document for execution %s: %w", rec.ID, err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution records: %w", err)
	}
	return records, nil
}
