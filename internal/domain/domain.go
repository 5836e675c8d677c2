package domain

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// TaskType is the closed set of task kinds the pipeline understands.
type TaskType string

const (
	TypeLOI      TaskType = "LOI"
	TypeProposal TaskType = "Proposal"
	TypeReport   TaskType = "Report"
	TypeReminder TaskType = "Reminder"
	TypeProspect TaskType = "Prospect"
)

// ParseTaskType maps a raw discriminator to a task type. "Final Report" and
// "Interim Report" are report subtypes; the raw string is preserved as the
// report type. Matching is case-sensitive.
func ParseTaskType(raw string) (TaskType, bool) {
	switch raw {
	case "LOI":
		return TypeLOI, true
	case "Proposal":
		return TypeProposal, true
	case "Report", "Final Report", "Interim Report":
		return TypeReport, true
	case "Reminder":
		return TypeReminder, true
	case "Prospect":
		return TypeProspect, true
	}
	return "", false
}

var orgKeyPattern = regexp.MustCompile(`^BN[0-9A-F]{6}$`)

// ValidOrgKey reports whether a key has the Bernie-number shape, "BN"
// followed by six hex digits. Enforced only on explicit creation; ingest
// accepts whatever key the source carries.
func ValidOrgKey(key string) bool {
	return orgKeyPattern.MatchString(key)
}

// RawStatus is one sighting of a status string from a source system.
// Text is stored verbatim and never interpreted at storage time.
type RawStatus struct {
	ID           int64     `json:"id"`
	Text         string    `json:"text"`
	SourceSystem string    `json:"source_system"`
	FirstSeenAt  time.Time `json:"first_seen_at"`
}

// Organization is a funder identified by an external natural key
// (Bernie number). The key is immutable; the canonical name is not.
type Organization struct {
	ID            int64     `json:"id"`
	NaturalKey    string    `json:"natural_key"`
	CanonicalName string    `json:"canonical_name"`
	Aliases       []string  `json:"aliases,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Person is a team member, unique on full name (case-insensitive).
type Person struct {
	ID        int64  `json:"id"`
	FullName  string `json:"full_name"`
	ShortName string `json:"short_name,omitempty"`
}

// Opportunity groups related tasks for one funding relationship.
// Creation is always explicit, never inferred from task data.
type Opportunity struct {
	ID          int64     `json:"id"`
	OrgID       int64     `json:"org_id"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TaskCore holds the scheduling attributes shared by every task type.
// TaskID is the opaque source identifier and the primary identity;
// both it and Type are immutable once a task exists.
type TaskCore struct {
	TaskID        string     `json:"task_id"`
	Type          TaskType   `json:"task_type"`
	OrgID         int64      `json:"org_id"`
	StatusID      int64      `json:"status_id"`
	OwnerID       *int64     `json:"owner_id,omitempty"`
	Deadline      time.Time  `json:"deadline"`
	LastModified  *time.Time `json:"last_modified,omitempty"`
	FiscalYear    string     `json:"fiscal_year,omitempty"`
	ProgramArea   string     `json:"program_area,omitempty"`
	Initiative    string     `json:"initiative,omitempty"`
	OpportunityID *int64     `json:"opportunity_id,omitempty"`
}

// Core lets every embedding task type satisfy Task.
func (c TaskCore) Core() TaskCore { return c }

// Task is the tagged union over the five task kinds. Dispatch with a type
// switch over *LOI, *Proposal, *Report, *Reminder, *Prospect.
type Task interface {
	Core() TaskCore
}

// LOI is a letter of intent. The requested amount is often tentative and
// may be absent. RelatedTaskID links forward to the proposal an invitation
// led to, if any.
type LOI struct {
	TaskCore
	NotificationDate *time.Time       `json:"notification_date,omitempty"`
	AmountRequested  *decimal.Decimal `json:"amount_requested,omitempty"`
	RelatedTaskID    *string          `json:"related_task_id,omitempty"`
	Notes            string           `json:"notes,omitempty"`
}

// Proposal is a full grant application. AmountRequested is required.
type Proposal struct {
	TaskCore
	AmountRequested  decimal.Decimal  `json:"amount_requested"`
	AwardAmount      *decimal.Decimal `json:"award_amount,omitempty"`
	SubmissionDate   *time.Time       `json:"submission_date,omitempty"`
	NotificationDate *time.Time       `json:"notification_date,omitempty"`
	GrantStartDate   *time.Time       `json:"grant_start_date,omitempty"`
	GrantEndDate     *time.Time       `json:"grant_end_date,omitempty"`
	Communities      string           `json:"communities,omitempty"`
	MembersFunded    string           `json:"members_funded,omitempty"`
	ModelFunded      string           `json:"model_funded,omitempty"`
	GrantGoals       string           `json:"grant_goals,omitempty"`
	Notes            string           `json:"notes,omitempty"`
}

// Report documents grant performance. Reports are obligations, not asks,
// so they carry no monetary fields. RelatedTaskID links forward to the
// proposal being reported on.
type Report struct {
	TaskCore
	ReportType          string     `json:"report_type"`
	RelatedTaskID       *string    `json:"related_task_id,omitempty"`
	SubmissionDate      *time.Time `json:"submission_date,omitempty"`
	PeriodStart         *time.Time `json:"period_start,omitempty"`
	PeriodEnd           *time.Time `json:"period_end,omitempty"`
	AcknowledgmentNeeds string     `json:"acknowledgment_needs,omitempty"`
	Notes               string     `json:"notes,omitempty"`
}

// Reminder carries only a note and a category beyond the core.
type Reminder struct {
	TaskCore
	Note     string `json:"note,omitempty"`
	Category string `json:"category,omitempty"`
}

// Prospect is an early-stage opportunity under research.
type Prospect struct {
	TaskCore
	Notes string `json:"notes,omitempty"`
}

// IngestRun records one batch run for lineage.
type IngestRun struct {
	ID           string     `json:"id"`
	SourceSystem string     `json:"source_system"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Processed    int        `json:"processed"`
	Failed       int        `json:"failed"`
	NewStatuses  int        `json:"new_statuses"`
	NewOrgs      int        `json:"new_orgs"`
	NewPeople    int        `json:"new_people"`
}

// Event is one append-only lineage record.
type Event struct {
	ID         int64     `json:"id"`
	TS         time.Time `json:"ts"`
	Type       string    `json:"type"`
	RunID      string    `json:"run_id,omitempty"`
	EntityKind string    `json:"entity_kind"`
	EntityID   string    `json:"entity_id,omitempty"`
	Payload    string    `json:"payload_json"`
}
