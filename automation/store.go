package automation

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrRuleNotFound is returned when a rule does not exist or is not
// visible to the requesting owner.
var ErrRuleNotFound = errors.New("rule not found")

// RuleStore manages rule persistence and retrieval. All reads are
// scoped to the owning user.
type RuleStore interface {
	// Add a new rule
	Add(rule *Rule) error

	// Get a rule by ID, scoped to its owner
	Get(ownerID, id string) (*Rule, error)

	// List all rules for an owner
	List(ownerID string) ([]*Rule, error)

	// ListEnabled returns the enabled rules for one owner and trigger,
	// ordered by priority descending then creation time ascending.
	ListEnabled(ownerID string, trigger TriggerType) ([]*Rule, error)

	// Update an existing rule
	Update(rule *Rule) error

	// Delete a rule
	Delete(ownerID, id string) error
}

// ExecutionStore persists the append-only audit trail. Records are
// written exactly once and never mutated.
type ExecutionStore interface {
	// Record appends one execution record
	Record(rec *ExecutionRecord) error

	// ListByRule returns records for one rule, newest first
	ListByRule(ownerID, ruleID string, limit, offset int) ([]*ExecutionRecord, error)

	// ListByEntity returns records for one entity, newest first
	ListByEntity(ownerID, entityID string, limit, offset int) ([]*ExecutionRecord, error)
}

// InMemoryRuleStore implements RuleStore using an in-memory map.
// Thread-safe with RWMutex.
type InMemoryRuleStore struct {
	rules map[string]*Rule
	mu    sync.RWMutex
}

// NewInMemoryRuleStore creates a new in-memory rule store.
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[string]*Rule),
	}
}

// Add adds a new rule to the store, setting its timestamps.
func (s *InMemoryRuleStore) Add(rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = rule
	return nil
}

// Get retrieves a rule by ID, scoped to its owner.
func (s *InMemoryRuleStore) Get(ownerID, id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists || rule.OwnerID != ownerID {
		return nil, fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	return rule, nil
}

// List returns all rules for an owner, newest first.
func (s *InMemoryRuleStore) List(ownerID string) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var owned []*Rule
	for _, rule := range s.rules {
		if rule.OwnerID == ownerID {
			owned = append(owned, rule)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})
	return owned, nil
}

// ListEnabled returns the enabled rules for one owner and trigger in
// evaluation order: priority descending, creation time ascending on
// ties. The ordering is deterministic across repeated calls.
func (s *InMemoryRuleStore) ListEnabled(ownerID string, trigger TriggerType) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var enabled []*Rule
	for _, rule := range s.rules {
		if rule.Enabled && rule.OwnerID == ownerID && rule.TriggerType == trigger {
			enabled = append(enabled, rule)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		if enabled[i].Priority != enabled[j].Priority {
			return enabled[i].Priority > enabled[j].Priority
		}
		return enabled[i].CreatedAt.Before(enabled[j].CreatedAt)
	})
	return enabled, nil
}

// Update updates an existing rule, preserving CreatedAt.
func (s *InMemoryRuleStore) Update(rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists || existing.OwnerID != rule.OwnerID {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrRuleNotFound)
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	s.rules[rule.ID] = rule
	return nil
}

// Delete removes a rule from the store.
func (s *InMemoryRuleStore) Delete(ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[id]
	if !exists || existing.OwnerID != ownerID {
		return fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}

	delete(s.rules, id)
	return nil
}

// InMemoryExecutionStore implements ExecutionStore using a slice.
// Append-only: records are copied in and never modified.
type InMemoryExecutionStore struct {
	records []*ExecutionRecord
	mu      sync.RWMutex
}

// NewInMemoryExecutionStore creates a new in-memory execution store.
func NewInMemoryExecutionStore() *InMemoryExecutionStore {
	return &InMemoryExecutionStore{}
}

// Record appends one execution record.
func (s *InMemoryExecutionStore) Record(rec *ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.records = append(s.records, &cp)
	return nil
}

// ListByRule returns records for one rule, newest first.
func (s *InMemoryExecutionStore) ListByRule(ownerID, ruleID string, limit, offset int) ([]*ExecutionRecord, error) {
	return s.list(func(rec *ExecutionRecord) bool {
		return rec.OwnerID == ownerID && rec.RuleID == ruleID
	}, limit, offset)
}

// ListByEntity returns records for one entity, newest first.
func (s *InMemoryExecutionStore) ListByEntity(ownerID, entityID string, limit, offset int) ([]*ExecutionRecord, error) {
	return s.list(func(rec *ExecutionRecord) bool {
		return rec.OwnerID == ownerID && rec.EntityID == entityID
	}, limit, offset)
}

func (s *InMemoryExecutionStore) list(keep func(*ExecutionRecord) bool, limit, offset int) ([]*ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*ExecutionRecord
	for i := len(s.records) - 1; i >= 0; i-- {
		if keep(s.records[i]) {
			matched = append(matched, s.records[i])
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}
