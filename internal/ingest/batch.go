package ingest

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"grantline/internal/domain"
	"grantline/internal/events"
	"grantline/internal/schedule"
)

// RowResult is the per-row outcome of a batch run: exactly one of Err or a
// processed Outcome. A batch always yields one RowResult per attempted row.
type RowResult struct {
	TaskID  string
	Outcome Outcome
	Err     error
}

// Summary aggregates one batch run.
type Summary struct {
	RunID       string
	Processed   int
	Failed      int
	Skipped     int // rows not attempted because the batch was cancelled
	NewOrgs     int
	NewPeople   int
	NewStatuses int
	Results     []RowResult
}

// Runner fans a batch of rows out over workers. Rows are partitioned by
// organization natural key so every row touching the same organization is
// handled by the same worker, in order; that plus the resolver's per-key
// locks keeps upserts for one natural key linearized.
type Runner struct {
	Orchestrator *Orchestrator
	Concurrency  int
	Log          *slog.Logger
}

func (r *Runner) log() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

func (r *Runner) workers() int {
	if r.Concurrency > 0 {
		return r.Concurrency
	}
	return 4
}

func partitionKey(row schedule.Row) string {
	if row.OrgKey != "" {
		return row.OrgKey
	}
	return row.TaskID
}

// bucketIndex maps a partition key to a worker bucket in [0, n). The hash
// stays unsigned until after the modulo so the index is never negative,
// regardless of the platform's int width.
func bucketIndex(key string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// Run processes every row and returns one result per attempted row. Row
// failures are reported, never retried, and never abort the batch; only a
// storage-level failure to record the run itself is returned as an error.
// Cancelling ctx stops dispatching new rows; in-flight rows finish their
// transaction so nothing half-resolved becomes visible.
func (r *Runner) Run(ctx context.Context, rows []schedule.Row) (Summary, error) {
	run := domain.IngestRun{
		ID:           uuid.NewString(),
		SourceSystem: r.Orchestrator.SourceSystem,
		StartedAt:    r.Orchestrator.now(),
	}
	if err := r.Orchestrator.Repo.InsertRun(ctx, run); err != nil {
		return Summary{}, err
	}
	log := r.log().With("run_id", run.ID, "rows", len(rows))
	log.Info("ingest run started", "source", run.SourceSystem, "workers", r.workers())

	n := r.workers()
	buckets := make([][]schedule.Row, n)
	for _, row := range rows {
		i := bucketIndex(partitionKey(row), n)
		buckets[i] = append(buckets[i], row)
	}

	results := make(chan RowResult, len(rows))
	var wg sync.WaitGroup
	for _, bucket := range buckets {
		if len(bucket) == 0 {
			continue
		}
		wg.Add(1)
		go func(bucket []schedule.Row) {
			defer wg.Done()
			for _, row := range bucket {
				select {
				case <-ctx.Done():
					return
				default:
				}
				out, err := r.Orchestrator.ProcessRow(ctx, row, run.ID)
				results <- RowResult{TaskID: row.TaskID, Outcome: out, Err: err}
			}
		}(bucket)
	}
	wg.Wait()
	close(results)

	summary := Summary{RunID: run.ID}
	for res := range results {
		summary.Results = append(summary.Results, res)
		if res.Err != nil {
			summary.Failed++
			log.Warn("row failed", "task_id", res.TaskID, "err", res.Err)
			r.recordFailure(ctx, run.ID, res)
			continue
		}
		summary.Processed++
		if res.Outcome.NewOrg {
			summary.NewOrgs++
		}
		if res.Outcome.NewPerson {
			summary.NewPeople++
		}
		if res.Outcome.NewStatus {
			summary.NewStatuses++
		}
	}
	summary.Skipped = len(rows) - len(summary.Results)

	finished := r.Orchestrator.now()
	run.FinishedAt = &finished
	run.Processed = summary.Processed
	run.Failed = summary.Failed
	run.NewStatuses = summary.NewStatuses
	run.NewOrgs = summary.NewOrgs
	run.NewPeople = summary.NewPeople
	if err := r.Orchestrator.Repo.FinishRun(ctx, run); err != nil {
		return summary, err
	}
	log.Info("ingest run finished",
		"processed", summary.Processed, "failed", summary.Failed, "skipped", summary.Skipped,
		"new_orgs", summary.NewOrgs, "new_people", summary.NewPeople, "new_statuses", summary.NewStatuses)
	return summary, nil
}

// recordFailure writes a row.failed event in its own transaction; the row's
// own transaction already rolled back.
func (r *Runner) recordFailure(ctx context.Context, runID string, res RowResult) {
	tx, err := r.Orchestrator.DB.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer tx.Rollback()
	if err := r.Orchestrator.Events.Append(ctx, tx, "row.failed", runID, "row", res.TaskID,
		events.EventPayload{"error": res.Err.Error()}); err != nil {
		return
	}
	_ = tx.Commit()
}
