// Package crm holds the domain entities the automation engine reads and
// mutates: capture plans, the opportunity records they pursue,
// notifications, and teaming partners.
package crm

import "time"

// Capture lifecycle stages. Stored as free text so deployments can add
// stages without a migration; these are the conventional values.
const (
	StageIdentified = "identified"
	StageQualified  = "qualified"
	StagePursuit    = "pursuit"
	StageProposal   = "proposal"
	StageSubmitted  = "submitted"
	StageAwarded    = "awarded"
	StageClosed     = "closed"
)

// CapturePlan tracks the pursuit of one opportunity through the capture
// lifecycle.
type CapturePlan struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	OpportunityID  string    `json:"opportunity_id"`
	Stage          string    `json:"stage"`
	WinProbability float64   `json:"win_probability"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Opportunity is a government solicitation being pursued. Description is
// free text; the add_tag action plants idempotent markers in it.
type Opportunity struct {
	ID               string     `json:"id"`
	OwnerID          string     `json:"owner_id"`
	Title            string     `json:"title"`
	Agency           string     `json:"agency"`
	NAICSCode        string     `json:"naics_code"`
	Description      string     `json:"description"`
	ResponseDeadline *time.Time `json:"response_deadline,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Notification is an in-app message addressed to a user.
type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Read      bool           `json:"read"`
	CreatedAt time.Time      `json:"created_at"`
}

// Partner is a potential teaming partner. Only public partners are
// visible to the teaming evaluation.
type Partner struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	NAICSCode    string    `json:"naics_code"`
	Capabilities string    `json:"capabilities"`
	Public       bool      `json:"public"`
	CreatedAt    time.Time `json:"created_at"`
}
