package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"grantline/internal/domain"
)

// ErrTypeChanged is returned when an upsert would change an existing task's
// type. Task type is immutable; a changed type means a different task.
var ErrTypeChanged = errors.New("task type is immutable")

const taskColumns = `task_id,task_type,org_id,status_id,owner_id,deadline,last_modified,
fiscal_year,program_area,initiative,opportunity_id,related_task_id,
amount_requested,award_amount,submission_date,notification_date,
grant_start_date,grant_end_date,period_start,period_end,report_type,
reminder_note,reminder_category,communities,members_funded,model_funded,
grant_goals,acknowledgment_needs,notes,created_at,updated_at`

// taskRow is the flat storage shape. Typed entities only materialize their
// own columns; everything else stays NULL on disk.
type taskRow struct {
	taskID    string
	taskType  string
	orgID     int64
	statusID  int64
	ownerID   sql.NullInt64
	deadline  string
	lastMod   sql.NullString
	fiscal    sql.NullString
	area      sql.NullString
	init      sql.NullString
	oppID     sql.NullInt64
	relatedID sql.NullString
	amount    sql.NullString
	award     sql.NullString
	subDate   sql.NullString
	notifDate sql.NullString
	grantFrom sql.NullString
	grantTo   sql.NullString
	perStart  sql.NullString
	perEnd    sql.NullString
	repType   sql.NullString
	remNote   sql.NullString
	remCat    sql.NullString
	comms     sql.NullString
	members   sql.NullString
	model     sql.NullString
	goals     sql.NullString
	acks      sql.NullString
	notes     sql.NullString
	createdAt string
	updatedAt string
}

func datePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(dateLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func amountPtr(s sql.NullString) *decimal.Decimal {
	if !s.Valid || s.String == "" {
		return nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil
	}
	return &d
}

func strVal(s sql.NullString) string {
	if s.Valid {
		return s.String
	}
	return ""
}

func rowFromTask(t domain.Task) taskRow {
	c := t.Core()
	row := taskRow{
		taskID:   c.TaskID,
		taskType: string(c.Type),
		orgID:    c.OrgID,
		statusID: c.StatusID,
		deadline: c.Deadline.Format(dateLayout),
	}
	if c.OwnerID != nil {
		row.ownerID = sql.NullInt64{Int64: *c.OwnerID, Valid: true}
	}
	if c.OpportunityID != nil {
		row.oppID = sql.NullInt64{Int64: *c.OpportunityID, Valid: true}
	}
	setStr := func(dst *sql.NullString, v string) {
		if v != "" {
			*dst = sql.NullString{String: v, Valid: true}
		}
	}
	setDate := func(dst *sql.NullString, v *time.Time) {
		if v != nil {
			*dst = sql.NullString{String: v.Format(dateLayout), Valid: true}
		}
	}
	setAmount := func(dst *sql.NullString, v *decimal.Decimal) {
		if v != nil {
			*dst = sql.NullString{String: v.String(), Valid: true}
		}
	}
	setDate(&row.lastMod, c.LastModified)
	setStr(&row.fiscal, c.FiscalYear)
	setStr(&row.area, c.ProgramArea)
	setStr(&row.init, c.Initiative)

	switch task := t.(type) {
	case *domain.LOI:
		setAmount(&row.amount, task.AmountRequested)
		setDate(&row.notifDate, task.NotificationDate)
		setStr(&row.notes, task.Notes)
		if task.RelatedTaskID != nil {
			setStr(&row.relatedID, *task.RelatedTaskID)
		}
	case *domain.Proposal:
		row.amount = sql.NullString{String: task.AmountRequested.String(), Valid: true}
		setAmount(&row.award, task.AwardAmount)
		setDate(&row.subDate, task.SubmissionDate)
		setDate(&row.notifDate, task.NotificationDate)
		setDate(&row.grantFrom, task.GrantStartDate)
		setDate(&row.grantTo, task.GrantEndDate)
		setStr(&row.comms, task.Communities)
		setStr(&row.members, task.MembersFunded)
		setStr(&row.model, task.ModelFunded)
		setStr(&row.goals, task.GrantGoals)
		setStr(&row.notes, task.Notes)
	case *domain.Report:
		setStr(&row.repType, task.ReportType)
		setDate(&row.subDate, task.SubmissionDate)
		setDate(&row.perStart, task.PeriodStart)
		setDate(&row.perEnd, task.PeriodEnd)
		setStr(&row.acks, task.AcknowledgmentNeeds)
		setStr(&row.notes, task.Notes)
		if task.RelatedTaskID != nil {
			setStr(&row.relatedID, *task.RelatedTaskID)
		}
	case *domain.Reminder:
		setStr(&row.remNote, task.Note)
		setStr(&row.remCat, task.Category)
	case *domain.Prospect:
		setStr(&row.notes, task.Notes)
	}
	return row
}

// toTask rebuilds the typed entity from a flat row. The tag decides which
// columns are meaningful; the rest are dropped, not surfaced as zero values.
func (row taskRow) toTask() (domain.Task, error) {
	taskType, ok := domain.ParseTaskType(row.taskType)
	if !ok {
		return nil, fmt.Errorf("stored task %s has unknown type %q", row.taskID, row.taskType)
	}
	core := domain.TaskCore{
		TaskID:      row.taskID,
		Type:        taskType,
		OrgID:       row.orgID,
		StatusID:    row.statusID,
		FiscalYear:  strVal(row.fiscal),
		ProgramArea: strVal(row.area),
		Initiative:  strVal(row.init),
	}
	if d, err := time.Parse(dateLayout, row.deadline); err == nil {
		core.Deadline = d
	}
	core.LastModified = datePtr(row.lastMod)
	if row.ownerID.Valid {
		v := row.ownerID.Int64
		core.OwnerID = &v
	}
	if row.oppID.Valid {
		v := row.oppID.Int64
		core.OpportunityID = &v
	}
	var related *string
	if row.relatedID.Valid && row.relatedID.String != "" {
		v := row.relatedID.String
		related = &v
	}

	switch taskType {
	case domain.TypeLOI:
		return &domain.LOI{
			TaskCore:         core,
			NotificationDate: datePtr(row.notifDate),
			AmountRequested:  amountPtr(row.amount),
			RelatedTaskID:    related,
			Notes:            strVal(row.notes),
		}, nil
	case domain.TypeProposal:
		p := &domain.Proposal{
			TaskCore:         core,
			AwardAmount:      amountPtr(row.award),
			SubmissionDate:   datePtr(row.subDate),
			NotificationDate: datePtr(row.notifDate),
			GrantStartDate:   datePtr(row.grantFrom),
			GrantEndDate:     datePtr(row.grantTo),
			Communities:      strVal(row.comms),
			MembersFunded:    strVal(row.members),
			ModelFunded:      strVal(row.model),
			GrantGoals:       strVal(row.goals),
			Notes:            strVal(row.notes),
		}
		if a := amountPtr(row.amount); a != nil {
			p.AmountRequested = *a
		}
		return p, nil
	case domain.TypeReport:
		return &domain.Report{
			TaskCore:            core,
			ReportType:          strVal(row.repType),
			RelatedTaskID:       related,
			SubmissionDate:      datePtr(row.subDate),
			PeriodStart:         datePtr(row.perStart),
			PeriodEnd:           datePtr(row.perEnd),
			AcknowledgmentNeeds: strVal(row.acks),
			Notes:               strVal(row.notes),
		}, nil
	case domain.TypeReminder:
		return &domain.Reminder{
			TaskCore: core,
			Note:     strVal(row.remNote),
			Category: strVal(row.remCat),
		}, nil
	default:
		return &domain.Prospect{TaskCore: core, Notes: strVal(row.notes)}, nil
	}
}

func scanTaskRow(scan func(dest ...any) error) (taskRow, error) {
	var row taskRow
	err := scan(
		&row.taskID, &row.taskType, &row.orgID, &row.statusID, &row.ownerID,
		&row.deadline, &row.lastMod, &row.fiscal, &row.area, &row.init,
		&row.oppID, &row.relatedID, &row.amount, &row.award, &row.subDate,
		&row.notifDate, &row.grantFrom, &row.grantTo, &row.perStart, &row.perEnd,
		&row.repType, &row.remNote, &row.remCat, &row.comms, &row.members,
		&row.model, &row.goals, &row.acks, &row.notes, &row.createdAt, &row.updatedAt,
	)
	return row, err
}

// UpsertTaskTx inserts a task or updates it in place when the task id is
// already present. Re-ingesting the same identifier never duplicates, and
// never changes the stored type. Existing opportunity assignments and task
// links survive re-ingestion: they are curated facts, not source facts.
func (r Repo) UpsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task, now time.Time) error {
	c := t.Core()
	var existingType string
	err := tx.QueryRowContext(ctx, `SELECT task_type FROM tasks WHERE task_id=?`, c.TaskID).Scan(&existingType)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	row := rowFromTask(t)
	if err == sql.ErrNoRows {
		_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			row.taskID, row.taskType, row.orgID, row.statusID, row.ownerID,
			row.deadline, row.lastMod, row.fiscal, row.area, row.init,
			row.oppID, row.relatedID, row.amount, row.award, row.subDate,
			row.notifDate, row.grantFrom, row.grantTo, row.perStart, row.perEnd,
			row.repType, row.remNote, row.remCat, row.comms, row.members,
			row.model, row.goals, row.acks, row.notes, formatTime(now), formatTime(now))
		return err
	}
	if existingType != row.taskType {
		return fmt.Errorf("%w: %s is %s, incoming row says %s", ErrTypeChanged, c.TaskID, existingType, row.taskType)
	}
	_, err = tx.ExecContext(ctx, `UPDATE tasks SET org_id=?, status_id=?, owner_id=?, deadline=?, last_modified=?,
fiscal_year=?, program_area=?, initiative=?,
amount_requested=?, award_amount=?, submission_date=?, notification_date=?,
grant_start_date=?, grant_end_date=?, period_start=?, period_end=?, report_type=?,
reminder_note=?, reminder_category=?, communities=?, members_funded=?, model_funded=?,
grant_goals=?, acknowledgment_needs=?, notes=?, updated_at=? WHERE task_id=?`,
		row.orgID, row.statusID, row.ownerID, row.deadline, row.lastMod,
		row.fiscal, row.area, row.init,
		row.amount, row.award, row.subDate, row.notifDate,
		row.grantFrom, row.grantTo, row.perStart, row.perEnd, row.repType,
		row.remNote, row.remCat, row.comms, row.members, row.model,
		row.goals, row.acks, row.notes, formatTime(now), row.taskID)
	return err
}

func (r Repo) GetTask(ctx context.Context, taskID string) (domain.Task, error) {
	row, err := scanTaskRow(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id=?`, taskID).Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toTask()
}

type TaskFilters struct {
	Type          domain.TaskType
	OrgID         int64
	OwnerID       int64
	OpportunityID int64
	FiscalYear    string
	Limit         int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "task_type=?")
		args = append(args, string(f.Type))
	}
	if f.OrgID != 0 {
		clauses = append(clauses, "org_id=?")
		args = append(args, f.OrgID)
	}
	if f.OwnerID != 0 {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.OpportunityID != 0 {
		clauses = append(clauses, "opportunity_id=?")
		args = append(args, f.OpportunityID)
	}
	if f.FiscalYear != "" {
		clauses = append(clauses, "fiscal_year=?")
		args = append(args, f.FiscalYear)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY deadline, task_id`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		row, err := scanTaskRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		t, err := row.toTask()
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// LinkTasks sets the forward-pointing relation from an LOI or Report to the
// proposal it belongs with. The relation stays on the referencing side;
// dependents of a proposal are found by querying, never by a collection.
func (r Repo) LinkTasks(ctx context.Context, fromID, toID string) error {
	from, err := r.GetTask(ctx, fromID)
	if err != nil {
		return fmt.Errorf("task %s: %w", fromID, err)
	}
	to, err := r.GetTask(ctx, toID)
	if err != nil {
		return fmt.Errorf("task %s: %w", toID, err)
	}
	fromCore, toCore := from.Core(), to.Core()
	if fromCore.Type != domain.TypeLOI && fromCore.Type != domain.TypeReport {
		return fmt.Errorf("task %s is a %s; only LOIs and Reports link to proposals", fromID, fromCore.Type)
	}
	if toCore.Type != domain.TypeProposal {
		return fmt.Errorf("task %s is a %s, not a Proposal", toID, toCore.Type)
	}
	if fromCore.OrgID != toCore.OrgID {
		return fmt.Errorf("tasks %s and %s belong to different organizations", fromID, toID)
	}
	_, err = r.DB.ExecContext(ctx, `UPDATE tasks SET related_task_id=? WHERE task_id=?`, toID, fromID)
	return err
}

// ListRelatedTasks returns the tasks pointing at the given proposal.
func (r Repo) ListRelatedTasks(ctx context.Context, proposalID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE related_task_id=? ORDER BY deadline`, proposalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		row, err := scanTaskRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		t, err := row.toTask()
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) CountTasks(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n)
	return n, err
}
