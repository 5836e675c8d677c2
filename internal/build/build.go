// Package build constructs typed task entities from a resolved core and the
// blueprint's type-gated fields, validating type-specific invariants.
package build

import (
	"fmt"
	"strings"

	"grantline/internal/decompose"
	"grantline/internal/domain"
)

// Violation is one failed field invariant.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates every violated invariant for one task, so a
// caller can surface all problems with a row at once.
type ValidationError struct {
	TaskID     string      `json:"task_id"`
	Violations []Violation `json:"violations"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Field + ": " + v.Message
	}
	return fmt.Sprintf("task %s invalid: %s", e.TaskID, strings.Join(parts, "; "))
}

type checker struct {
	violations []Violation
}

func (c *checker) add(field, message string) {
	c.violations = append(c.violations, Violation{Field: field, Message: message})
}

func (c *checker) err(taskID string) error {
	if len(c.violations) == 0 {
		return nil
	}
	return &ValidationError{TaskID: taskID, Violations: c.violations}
}

// Build dispatches on the core's task type and returns the typed entity.
// Validation collects every violation before failing.
func Build(core domain.TaskCore, fields decompose.TypeFields) (domain.Task, error) {
	var c checker
	if core.Deadline.IsZero() {
		c.add("deadline", "required")
	}

	switch core.Type {
	case domain.TypeLOI:
		if fields.AmountRequested != nil && fields.AmountRequested.IsNegative() {
			c.add("amount_requested", "must not be negative")
		}
		if err := c.err(core.TaskID); err != nil {
			return nil, err
		}
		return &domain.LOI{
			TaskCore:         core,
			NotificationDate: fields.NotificationDate,
			AmountRequested:  fields.AmountRequested,
			Notes:            fields.Notes,
		}, nil

	case domain.TypeProposal:
		if fields.AmountRequested == nil {
			c.add("amount_requested", "required")
		} else if fields.AmountRequested.IsNegative() {
			c.add("amount_requested", "must not be negative")
		}
		if fields.AwardAmount != nil && fields.AwardAmount.IsNegative() {
			c.add("award_amount", "must not be negative")
		}
		if fields.GrantStartDate != nil && fields.GrantEndDate != nil && fields.GrantStartDate.After(*fields.GrantEndDate) {
			c.add("grant_start_date", "must not be after grant_end_date")
		}
		if err := c.err(core.TaskID); err != nil {
			return nil, err
		}
		return &domain.Proposal{
			TaskCore:         core,
			AmountRequested:  *fields.AmountRequested,
			AwardAmount:      fields.AwardAmount,
			SubmissionDate:   fields.SubmissionDate,
			NotificationDate: fields.NotificationDate,
			GrantStartDate:   fields.GrantStartDate,
			GrantEndDate:     fields.GrantEndDate,
			Communities:      fields.Communities,
			MembersFunded:    fields.MembersFunded,
			ModelFunded:      fields.ModelFunded,
			GrantGoals:       fields.GrantGoals,
			Notes:            fields.Notes,
		}, nil

	case domain.TypeReport:
		if fields.PeriodStart != nil && fields.PeriodEnd != nil && fields.PeriodStart.After(*fields.PeriodEnd) {
			c.add("period_start", "must not be after period_end")
		}
		if err := c.err(core.TaskID); err != nil {
			return nil, err
		}
		reportType := fields.ReportType
		if reportType == "" {
			reportType = string(domain.TypeReport)
		}
		return &domain.Report{
			TaskCore:            core,
			ReportType:          reportType,
			SubmissionDate:      fields.SubmissionDate,
			PeriodStart:         fields.PeriodStart,
			PeriodEnd:           fields.PeriodEnd,
			AcknowledgmentNeeds: fields.AcknowledgmentNeeds,
			Notes:               fields.Notes,
		}, nil

	case domain.TypeReminder:
		if err := c.err(core.TaskID); err != nil {
			return nil, err
		}
		return &domain.Reminder{
			TaskCore: core,
			Note:     fields.ReminderNote,
			Category: fields.ReminderCategory,
		}, nil

	case domain.TypeProspect:
		if err := c.err(core.TaskID); err != nil {
			return nil, err
		}
		return &domain.Prospect{TaskCore: core, Notes: fields.Notes}, nil
	}
	return nil, fmt.Errorf("unhandled task type %q", core.Type)
}
