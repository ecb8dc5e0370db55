package crm

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQL-backed stores. The SQL is kept portable across PostgreSQL (lib/pq)
// and SQLite (modernc.org/sqlite): positional $n parameters, no
// database-side functions, timestamps bound from Go.

// SQLCapturePlanStore implements CapturePlanStore over database/sql.
type SQLCapturePlanStore struct {
	db *sql.DB
}

// NewSQLCapturePlanStore creates a capture plan store on db.
func NewSQLCapturePlanStore(db *sql.DB) *SQLCapturePlanStore {
	return &SQLCapturePlanStore{db: db}
}

// Create inserts a new capture plan.
func (s *SQLCapturePlanStore) Create(p *CapturePlan) error {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO capture_plans (id, owner_id, opportunity_id, stage, win_probability, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.OwnerID, p.OpportunityID, p.Stage, p.WinProbability, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert capture plan: %w", err)
	}
	return nil
}

// Get retrieves a capture plan by ID.
func (s *SQLCapturePlanStore) Get(id string) (*CapturePlan, error) {
	var p CapturePlan
	err := s.db.QueryRow(`
		SELECT id, owner_id, opportunity_id, stage, win_probability, created_at, updated_at
		FROM capture_plans
		WHERE id = $1
	`, id).Scan(&p.ID, &p.OwnerID, &p.OpportunityID, &p.Stage, &p.WinProbability, &p.CreatedAt, &p.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("capture plan %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get capture plan: %w", err)
	}
	return &p, nil
}

// Save writes back a modified capture plan.
func (s *SQLCapturePlanStore) Save(p *CapturePlan) error {
	p.UpdatedAt = time.Now()

	result, err := s.db.Exec(`
		UPDATE capture_plans
		SET owner_id = $1, opportunity_id = $2, stage = $3, win_probability = $4, updated_at = $5
		WHERE id = $6
	`, p.OwnerID, p.OpportunityID, p.Stage, p.WinProbability, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update capture plan: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("capture plan %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

// SQLOpportunityStore implements OpportunityStore over database/sql.
type SQLOpportunityStore struct {
	db *sql.DB
}

// NewSQLOpportunityStore creates an opportunity store on db.
func NewSQLOpportunityStore(db *sql.DB) *SQLOpportunityStore {
	return &SQLOpportunityStore{db: db}
}

// Create inserts a new opportunity.
func (s *SQLOpportunityStore) Create(o *Opportunity) error {
	now := time.Now()
	o.CreatedAt = now
	o.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO opportunities (id, owner_id, title, agency, naics_code, description, response_deadline, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, o.ID, o.OwnerID, o.Title, o.Agency, o.NAICSCode, o.Description, o.ResponseDeadline, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert opportunity: %w", err)
	}
	return nil
}

// Get retrieves an opportunity by ID.
func (s *SQLOpportunityStore) Get(id string) (*Opportunity, error) {
	var o Opportunity
	err := s.db.QueryRow(`
		SELECT id, owner_id, title, agency, naics_code, description, response_deadline, created_at, updated_at
		FROM opportunities
		WHERE id = $1
	`, id).Scan(&o.ID, &o.OwnerID, &o.Title, &o.Agency, &o.NAICSCode, &o.Description,
		&o.ResponseDeadline, &o.CreatedAt, &o.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("opportunity %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get opportunity: %w", err)
	}
	return &o, nil
}

// Save writes back a modified opportunity.
func (s *SQLOpportunityStore) Save(o *Opportunity) error {
	o.UpdatedAt = time.Now()

	result, err := s.db.Exec(`
		UPDATE opportunities
		SET title = $1, agency = $2, naics_code = $3, description = $4, response_deadline = $5, updated_at = $6
		WHERE id = $7
	`, o.Title, o.Agency, o.NAICSCode, o.Description, o.ResponseDeadline, o.UpdatedAt, o.ID)
	if err != nil {
		return fmt.Errorf("failed to update opportunity: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("opportunity %s: %w", o.ID, ErrNotFound)
	}
	return nil
}

// SQLNotificationStore implements NotificationStore over database/sql.
type SQLNotificationStore struct {
	db *sql.DB
}

// NewSQLNotificationStore creates a notification store on db.
func NewSQLNotificationStore(db *sql.DB) *SQLNotificationStore {
	return &SQLNotificationStore{db: db}
}

// Create inserts a notification. Metadata is stored as a JSON document.
func (s *SQLNotificationStore) Create(n *Notification) error {
	n.CreatedAt = time.Now()

	metadata, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal notification metadata: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO notifications (id, user_id, title, message, metadata, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, n.ID, n.UserID, n.Title, n.Message, string(metadata), n.Read, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// ListForUser returns a user's notifications, newest first.
func (s *SQLNotificationStore) ListForUser(userID string, limit, offset int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, user_id, title, message, metadata, read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		var n Notification
		var metadata string
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &metadata, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if metadata != "" && metadata != "null" {
			if err := json.Unmarshal([]byte(metadata), &n.Metadata); err != nil {
				return nil, fmt.Errorf("invalid metadata for notification %s: %w", n.ID, err)
			}
		}
		notifications = append(notifications, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}
	return notifications, nil
}

// SQLPartnerStore implements PartnerStore over database/sql.
type SQLPartnerStore struct {
	db *sql.DB
}

// NewSQLPartnerStore creates a partner store on db.
func NewSQLPartnerStore(db *sql.DB) *SQLPartnerStore {
	return &SQLPartnerStore{db: db}
}

// Create inserts a teaming partner.
func (s *SQLPartnerStore) Create(p *Partner) error {
	p.CreatedAt = time.Now()

	_, err := s.db.Exec(`
		INSERT INTO partners (id, name, naics_code, capabilities, is_public, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.Name, p.NAICSCode, p.Capabilities, p.Public, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert partner: %w", err)
	}
	return nil
}

// MatchByNAICS returns public partners sharing the NAICS code, ordered
// by name for stable output.
func (s *SQLPartnerStore) MatchByNAICS(code string) ([]*Partner, error) {
	rows, err := s.db.Query(`
		SELECT id, name, naics_code, capabilities, is_public, created_at
		FROM partners
		WHERE is_public = $1 AND naics_code = $2
		ORDER BY name ASC
	`, true, code)
	if err != nil {
		return nil, fmt.Errorf("failed to match partners: %w", err)
	}
	defer rows.Close()

	var partners []*Partner
	for rows.Next() {
		var p Partner
		if err := rows.Scan(&p.ID, &p.Name, &p.NAICSCode, &p.Capabilities, &p.Public, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan partner: %w", err)
		}
		partners = append(partners, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating partners: %w", err)
	}
	return partners, nil
}
