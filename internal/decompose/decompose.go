// Package decompose turns one external schedule row into natural-key
// blueprints. It is a pure transformation: no storage, no surrogate ids,
// identical input always yields identical blueprints.
package decompose

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"grantline/internal/domain"
	"grantline/internal/schedule"
)

// UnknownTaskTypeError reports a discriminator outside the fixed vocabulary.
type UnknownTaskTypeError struct {
	Discriminator string
}

func (e *UnknownTaskTypeError) Error() string {
	return fmt.Sprintf("unknown task type %q", e.Discriminator)
}

// MissingIdentityError reports a row without a task identifier.
type MissingIdentityError struct{}

func (e *MissingIdentityError) Error() string {
	return "row has no task identifier"
}

// OrgBlueprint is a draft organization keyed by its natural key.
type OrgBlueprint struct {
	NaturalKey  string
	DisplayName string
}

// PersonBlueprint is a draft person keyed by display name.
type PersonBlueprint struct {
	DisplayName string
	ShortName   string
}

// CoreBlueprint carries the shared scheduling fields, still keyed by
// natural keys (org key, status text, owner name).
type CoreBlueprint struct {
	TaskID       string
	Type         domain.TaskType
	RawType      string
	OrgKey       string
	StatusText   string
	OwnerName    string
	Deadline     time.Time // zero when the row carried no parsable deadline
	LastModified *time.Time
	FiscalYear   string
	ProgramArea  string
	Initiative   string
}

// TypeFields is the bag of type-gated values extracted from the row.
// The entity builder picks only the fields relevant to the task type;
// absent values stay nil or empty, never defaulted.
type TypeFields struct {
	AmountRequested     *decimal.Decimal
	AwardAmount         *decimal.Decimal
	SubmissionDate      *time.Time
	NotificationDate    *time.Time
	GrantStartDate      *time.Time
	GrantEndDate        *time.Time
	PeriodStart         *time.Time
	PeriodEnd           *time.Time
	ReportType          string
	ReminderNote        string
	ReminderCategory    string
	Communities         string
	MembersFunded       string
	ModelFunded         string
	GrantGoals          string
	Notes               string
	AcknowledgmentNeeds string
}

// TaskBlueprint is the draft task: core natural keys plus type-gated fields.
type TaskBlueprint struct {
	Core   CoreBlueprint
	Fields TypeFields
}

// Blueprints is the full decomposition of one row. Org is nil when the row
// carries no organization identifier; Person is nil when it has no owner.
type Blueprints struct {
	Org    *OrgBlueprint
	Person *PersonBlueprint
	Task   TaskBlueprint
}

// Decompose splits a row into blueprints. It fails with MissingIdentityError
// when the row has no task identifier and UnknownTaskTypeError when the type
// discriminator is outside the vocabulary; it never guesses a fallback type.
func Decompose(row schedule.Row) (Blueprints, error) {
	if strings.TrimSpace(row.TaskID) == "" {
		return Blueprints{}, &MissingIdentityError{}
	}
	taskType, ok := domain.ParseTaskType(row.Type)
	if !ok {
		return Blueprints{}, &UnknownTaskTypeError{Discriminator: row.Type}
	}

	var bp Blueprints
	if row.OrgKey != "" {
		bp.Org = &OrgBlueprint{NaturalKey: row.OrgKey, DisplayName: row.OrgName}
	}
	if row.Owner != "" {
		bp.Person = &PersonBlueprint{DisplayName: row.Owner, ShortName: row.ShortName}
	}

	core := CoreBlueprint{
		TaskID:       row.TaskID,
		Type:         taskType,
		RawType:      row.Type,
		OrgKey:       row.OrgKey,
		StatusText:   row.Status,
		OwnerName:    row.Owner,
		LastModified: parseDate(row.LastModified),
		FiscalYear:   row.FiscalYear,
		ProgramArea:  row.ProgramArea,
		Initiative:   row.Initiative,
	}
	if d := parseDate(row.Deadline); d != nil {
		core.Deadline = *d
	}
	bp.Task = TaskBlueprint{Core: core, Fields: extractFields(row, taskType)}
	return bp, nil
}

// extractFields copies only the values meaningful to the task type.
func extractFields(row schedule.Row, taskType domain.TaskType) TypeFields {
	switch taskType {
	case domain.TypeLOI:
		return TypeFields{
			AmountRequested:  parseAmount(row.Amount),
			NotificationDate: parseDate(row.NotificationDate),
			Notes:            row.Notes,
		}
	case domain.TypeProposal:
		return TypeFields{
			AmountRequested:  parseAmount(row.Amount),
			AwardAmount:      parseAmount(row.Award),
			SubmissionDate:   parseDate(row.SubmissionDate),
			NotificationDate: parseDate(row.NotificationDate),
			GrantStartDate:   parseDate(row.GrantStartDate),
			GrantEndDate:     parseDate(row.GrantEndDate),
			Communities:      row.Communities,
			MembersFunded:    row.MembersFunded,
			ModelFunded:      row.ModelFunded,
			GrantGoals:       row.GrantGoals,
			Notes:            row.Notes,
		}
	case domain.TypeReport:
		return TypeFields{
			ReportType:          row.Type,
			SubmissionDate:      parseDate(row.SubmissionDate),
			PeriodStart:         parseDate(row.PeriodStart),
			PeriodEnd:           parseDate(row.PeriodEnd),
			AcknowledgmentNeeds: row.AcknowledgmentNeeds,
			Notes:               row.Notes,
		}
	case domain.TypeReminder:
		return TypeFields{
			ReminderNote:     row.ReminderNote,
			ReminderCategory: row.ReminderCategory,
		}
	default: // Prospect
		return TypeFields{Notes: row.Notes}
	}
}
