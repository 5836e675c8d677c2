package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"grantline/internal/domain"
)

// InsertOpportunity creates a new grouping for one funding relationship.
// Grouping is always a deliberate act; nothing in the pipeline calls this.
func (r Repo) InsertOpportunity(ctx context.Context, orgID int64, name, description string, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO opportunities(org_id,name,description,status,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		orgID, nullable(name), nullable(description), "active", formatTime(now), formatTime(now))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetOpportunity(ctx context.Context, id int64) (domain.Opportunity, error) {
	var o domain.Opportunity
	var name, desc sql.NullString
	var created, updated string
	err := r.DB.QueryRowContext(ctx, `SELECT id,org_id,name,description,status,created_at,updated_at FROM opportunities WHERE id=?`, id).
		Scan(&o.ID, &o.OrgID, &name, &desc, &o.Status, &created, &updated)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	o.Name = strVal(name)
	o.Description = strVal(desc)
	o.CreatedAt = parseStoredTime(created)
	o.UpdatedAt = parseStoredTime(updated)
	return o, nil
}

func (r Repo) ListOpportunities(ctx context.Context) ([]domain.Opportunity, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,org_id,COALESCE(name,''),COALESCE(description,''),status,created_at,updated_at FROM opportunities ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Opportunity
	for rows.Next() {
		var o domain.Opportunity
		var created, updated string
		if err := rows.Scan(&o.ID, &o.OrgID, &o.Name, &o.Description, &o.Status, &created, &updated); err != nil {
			return nil, err
		}
		o.CreatedAt = parseStoredTime(created)
		o.UpdatedAt = parseStoredTime(updated)
		res = append(res, o)
	}
	return res, rows.Err()
}

// AssignOpportunity attaches a task to an opportunity. Both must belong to
// the same organization.
func (r Repo) AssignOpportunity(ctx context.Context, taskID string, oppID int64) error {
	opp, err := r.GetOpportunity(ctx, oppID)
	if err != nil {
		return fmt.Errorf("opportunity %d: %w", oppID, err)
	}
	task, err := r.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("task %s: %w", taskID, err)
	}
	if task.Core().OrgID != opp.OrgID {
		return fmt.Errorf("task %s and opportunity %d belong to different organizations", taskID, oppID)
	}
	_, err = r.DB.ExecContext(ctx, `UPDATE tasks SET opportunity_id=? WHERE task_id=?`, oppID, taskID)
	return err
}
