package crm

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrNotFound distinguishes a missing entity from an infrastructure
// failure. Action handlers report the former as a failed action result;
// the latter propagates.
var ErrNotFound = errors.New("not found")

// CapturePlanStore manages capture plan persistence.
type CapturePlanStore interface {
	Create(p *CapturePlan) error
	Get(id string) (*CapturePlan, error)
	Save(p *CapturePlan) error
}

// OpportunityStore manages opportunity persistence.
type OpportunityStore interface {
	Create(o *Opportunity) error
	Get(id string) (*Opportunity, error)
	Save(o *Opportunity) error
}

// NotificationStore manages notification persistence.
type NotificationStore interface {
	Create(n *Notification) error
	ListForUser(userID string, limit, offset int) ([]*Notification, error)
}

// PartnerStore manages teaming partner records.
type PartnerStore interface {
	Create(p *Partner) error
	MatchByNAICS(code string) ([]*Partner, error)
}

// InMemoryCapturePlanStore implements CapturePlanStore with a map.
// Thread-safe with RWMutex. Used in unit tests and single-process demos.
type InMemoryCapturePlanStore struct {
	plans map[string]*CapturePlan
	mu    sync.RWMutex
}

// NewInMemoryCapturePlanStore creates an empty in-memory store.
func NewInMemoryCapturePlanStore() *InMemoryCapturePlanStore {
	return &InMemoryCapturePlanStore{plans: make(map[string]*CapturePlan)}
}

// Create adds a new capture plan, rejecting duplicate IDs.
func (s *InMemoryCapturePlanStore) Create(p *CapturePlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID]; exists {
		return fmt.Errorf("capture plan %s already exists", p.ID)
	}

	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	cp := *p
	s.plans[p.ID] = &cp
	return nil
}

// Get retrieves a copy of a capture plan by ID.
func (s *InMemoryCapturePlanStore) Get(id string) (*CapturePlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.plans[id]
	if !exists {
		return nil, fmt.Errorf("capture plan %s: %w", id, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

// Save writes back a modified capture plan, preserving CreatedAt.
func (s *InMemoryCapturePlanStore) Save(p *CapturePlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.plans[p.ID]
	if !exists {
		return fmt.Errorf("capture plan %s: %w", p.ID, ErrNotFound)
	}

	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now()
	cp := *p
	s.plans[p.ID] = &cp
	return nil
}

// InMemoryOpportunityStore implements OpportunityStore with a map.
type InMemoryOpportunityStore struct {
	opportunities map[string]*Opportunity
	mu            sync.RWMutex
}

// NewInMemoryOpportunityStore creates an empty in-memory store.
func NewInMemoryOpportunityStore() *InMemoryOpportunityStore {
	return &InMemoryOpportunityStore{opportunities: make(map[string]*Opportunity)}
}

// Create adds a new opportunity, rejecting duplicate IDs.
func (s *InMemoryOpportunityStore) Create(o *Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.opportunities[o.ID]; exists {
		return fmt.Errorf("opportunity %s already exists", o.ID)
	}

	now := time.Now()
	o.CreatedAt = now
	o.UpdatedAt = now
	cp := *o
	s.opportunities[o.ID] = &cp
	return nil
}

// Get retrieves a copy of an opportunity by ID.
func (s *InMemoryOpportunityStore) Get(id string) (*Opportunity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, exists := s.opportunities[id]
	if !exists {
		return nil, fmt.Errorf("opportunity %s: %w", id, ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

// Save writes back a modified opportunity, preserving CreatedAt.
func (s *InMemoryOpportunityStore) Save(o *Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.opportunities[o.ID]
	if !exists {
		return fmt.Errorf("opportunity %s: %w", o.ID, ErrNotFound)
	}

	o.CreatedAt = existing.CreatedAt
	o.UpdatedAt = time.Now()
	cp := *o
	s.opportunities[o.ID] = &cp
	return nil
}

// InMemoryNotificationStore implements NotificationStore with a slice.
type InMemoryNotificationStore struct {
	notifications []*Notification
	mu            sync.RWMutex
}

// NewInMemoryNotificationStore creates an empty in-memory store.
func NewInMemoryNotificationStore() *InMemoryNotificationStore {
	return &InMemoryNotificationStore{}
}

// Create appends a notification.
func (s *InMemoryNotificationStore) Create(n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n.CreatedAt = time.Now()
	cp := *n
	s.notifications = append(s.notifications, &cp)
	return nil
}

// ListForUser returns a user's notifications, newest first.
func (s *InMemoryNotificationStore) ListForUser(userID string, limit, offset int) ([]*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Notification
	for i := len(s.notifications) - 1; i >= 0; i-- {
		if s.notifications[i].UserID == userID {
			matched = append(matched, s.notifications[i])
		}
	}
	return paginate(matched, limit, offset), nil
}

// InMemoryPartnerStore implements PartnerStore with a map.
type InMemoryPartnerStore struct {
	partners map[string]*Partner
	mu       sync.RWMutex
}

// NewInMemoryPartnerStore creates an empty in-memory store.
func NewInMemoryPartnerStore() *InMemoryPartnerStore {
	return &InMemoryPartnerStore{partners: make(map[string]*Partner)}
}

// Create adds a teaming partner, rejecting duplicate IDs.
func (s *InMemoryPartnerStore) Create(p *Partner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.partners[p.ID]; exists {
		return fmt.Errorf("partner %s already exists", p.ID)
	}

	p.CreatedAt = time.Now()
	cp := *p
	s.partners[p.ID] = &cp
	return nil
}

// MatchByNAICS returns public partners sharing the NAICS code, ordered
// by name for stable output.
func (s *InMemoryPartnerStore) MatchByNAICS(code string) ([]*Partner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Partner
	for _, p := range s.partners {
		if p.Public && p.NAICSCode == code {
			cp := *p
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	return matched, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
