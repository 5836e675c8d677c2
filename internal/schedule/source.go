package schedule

import (
	"context"
	"database/sql"
	"fmt"
)

// Source reads rows from an external writing-schedule SQLite database.
type Source struct {
	DB    *sql.DB
	Table string
}

const defaultTable = "writing_schedule_current"

func (s Source) table() string {
	if s.Table == "" {
		return defaultTable
	}
	return s.Table
}

// Fetch returns up to limit rows with a task identifier, most recently
// modified first. limit <= 0 means no limit. Text columns are coalesced to
// empty strings; the pipeline treats empty as absent.
func (s Source) Fetch(ctx context.Context, limit int) ([]Row, error) {
	query := fmt.Sprintf(`SELECT
		COALESCE(task_id,''),
		COALESCE(bernie_identifier,''),
		COALESCE(funder,''),
		COALESCE(owner,''),
		COALESCE(short_name,''),
		COALESCE(type,''),
		COALESCE(status,''),
		COALESCE(amount,''),
		COALESCE(award,''),
		COALESCE(deadline,''),
		COALESCE(notification_date,''),
		COALESCE(submission_date,''),
		COALESCE(grant_start_date,''),
		COALESCE(grant_end_date,''),
		COALESCE(period_start,''),
		COALESCE(period_end,''),
		COALESCE(last_modified,''),
		COALESCE(fiscal_year,''),
		COALESCE(area,''),
		COALESCE(initiative,''),
		COALESCE(communities,''),
		COALESCE(members_funded,''),
		COALESCE(model_funded,''),
		COALESCE(grant_goals,''),
		COALESCE(dev_team_notes,''),
		COALESCE(acknowledgment_needs,''),
		COALESCE(reminder_note,''),
		COALESCE(reminder_category,'')
	FROM %s
	WHERE task_id IS NOT NULL AND task_id != ''
	ORDER BY last_modified DESC`, s.table())
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.table(), err)
	}
	defer rows.Close()
	var res []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(
			&r.TaskID, &r.OrgKey, &r.OrgName, &r.Owner, &r.ShortName,
			&r.Type, &r.Status, &r.Amount, &r.Award,
			&r.Deadline, &r.NotificationDate, &r.SubmissionDate,
			&r.GrantStartDate, &r.GrantEndDate, &r.PeriodStart, &r.PeriodEnd,
			&r.LastModified, &r.FiscalYear, &r.ProgramArea, &r.Initiative,
			&r.Communities, &r.MembersFunded, &r.ModelFunded,
			&r.GrantGoals, &r.Notes, &r.AcknowledgmentNeeds,
			&r.ReminderNote, &r.ReminderCategory,
		); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}
