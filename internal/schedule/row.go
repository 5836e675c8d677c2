// Package schedule is the adapter boundary to the external writing-schedule
// source. It knows the external schema and nothing about the domain model.
package schedule

// Row is one raw record from the writing schedule. It is a pure data bag:
// every field may be empty, dates are YYYY-MM-DD strings, amounts are
// numeric strings. Only TaskID is guaranteed by the source.
type Row struct {
	TaskID string

	// Identification
	OrgKey    string // Bernie number, e.g. "BN0002E1"
	OrgName   string // funder display name
	Owner     string // owner full name
	ShortName string // owner short form

	// Type and status
	Type   string // case-sensitive discriminator
	Status string // free-form workflow status text

	// Money (numeric strings)
	Amount string
	Award  string

	// Dates (YYYY-MM-DD strings)
	Deadline         string
	NotificationDate string
	SubmissionDate   string
	GrantStartDate   string
	GrantEndDate     string
	PeriodStart      string
	PeriodEnd        string
	LastModified     string

	// Classification
	FiscalYear  string
	ProgramArea string
	Initiative  string

	// Type-gated content
	Communities         string
	MembersFunded       string
	ModelFunded         string
	GrantGoals          string
	Notes               string
	AcknowledgmentNeeds string
	ReminderNote        string
	ReminderCategory    string
}
