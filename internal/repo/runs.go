package repo

import (
	"context"
	"database/sql"

	"grantline/internal/domain"
)

func (r Repo) InsertRun(ctx context.Context, run domain.IngestRun) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO ingest_runs(id,source_system,started_at) VALUES (?,?,?)`,
		run.ID, run.SourceSystem, formatTime(run.StartedAt))
	return err
}

// FinishRun records the final counters for a run.
func (r Repo) FinishRun(ctx context.Context, run domain.IngestRun) error {
	if run.FinishedAt == nil {
		return ErrNotFound
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE ingest_runs SET finished_at=?, processed=?, failed=?, new_statuses=?, new_orgs=?, new_people=? WHERE id=?`,
		formatTime(*run.FinishedAt), run.Processed, run.Failed, run.NewStatuses, run.NewOrgs, run.NewPeople, run.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListRuns(ctx context.Context, limit int) ([]domain.IngestRun, error) {
	query := `SELECT id,source_system,started_at,finished_at,processed,failed,new_statuses,new_orgs,new_people FROM ingest_runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.IngestRun
	for rows.Next() {
		var run domain.IngestRun
		var started string
		var finished sql.NullString
		if err := rows.Scan(&run.ID, &run.SourceSystem, &started, &finished, &run.Processed, &run.Failed, &run.NewStatuses, &run.NewOrgs, &run.NewPeople); err != nil {
			return nil, err
		}
		run.StartedAt = parseStoredTime(started)
		if finished.Valid {
			t := parseStoredTime(finished.String)
			run.FinishedAt = &t
		}
		res = append(res, run)
	}
	return res, rows.Err()
}
