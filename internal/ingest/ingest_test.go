package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"grantline/internal/build"
	"grantline/internal/db"
	"grantline/internal/decompose"
	"grantline/internal/domain"
	"grantline/internal/ingest"
	"grantline/internal/migrate"
	"grantline/internal/repo"
	"grantline/internal/schedule"
)

func newTestOrchestrator(t *testing.T) *ingest.Orchestrator {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	o := ingest.New(conn, "writing_schedule")
	o.Now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return o
}

func loiRow() schedule.Row {
	return schedule.Row{
		TaskID:    "DOBBFD-LOI-1",
		OrgKey:    "BN0002E1",
		OrgName:   "Dobbs Foundation",
		Owner:     "Jane Doe",
		ShortName: "Jane",
		Type:      "LOI",
		Status:    "3. LOI Submitted",
		Deadline:  "2024-08-30",
		Amount:    "100000.00",
	}
}

func insertRun(t *testing.T, o *ingest.Orchestrator, id string) {
	t.Helper()
	err := o.Repo.InsertRun(context.Background(), domain.IngestRun{
		ID: id, SourceSystem: o.SourceSystem, StartedAt: o.Now(),
	})
	if err != nil {
		t.Fatalf("insert run: %v", err)
	}
}

func TestProcessRowTwiceIsIdempotent(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()
	insertRun(t, o, "run-1")

	first, err := o.ProcessRow(ctx, loiRow(), "run-1")
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if !first.NewOrg || !first.NewPerson || !first.NewStatus {
		t.Fatalf("first sighting must create all three references, got %+v", first)
	}

	second, err := o.ProcessRow(ctx, loiRow(), "run-1")
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if second.NewOrg || second.NewPerson || second.NewStatus {
		t.Fatalf("second sighting must create nothing, got %+v", second)
	}
	if second.Task.Core().OrgID != first.Task.Core().OrgID {
		t.Fatalf("org id changed across passes")
	}
	if second.Task.Core().StatusID != first.Task.Core().StatusID {
		t.Fatalf("status id changed across passes")
	}

	for name, count := range map[string]func(context.Context) (int, error){
		"organizations": o.Repo.CountOrgs,
		"people":        o.Repo.CountPeople,
		"statuses":      o.Repo.CountStatuses,
		"tasks":         o.Repo.CountTasks,
	} {
		n, err := count(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Fatalf("%s: expected 1 record after reprocessing, got %d", name, n)
		}
	}

	loi, ok := second.Task.(*domain.LOI)
	if !ok {
		t.Fatalf("expected an LOI, got %T", second.Task)
	}
	if loi.AmountRequested == nil || !loi.AmountRequested.Equal(decimal.RequireFromString("100000.00")) {
		t.Fatalf("amount drifted across passes: %v", loi.AmountRequested)
	}
}

func TestProcessRowUnknownTypeCreatesNothing(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()
	insertRun(t, o, "run-1")

	row := loiRow()
	row.Type = "Amendment"
	_, err := o.ProcessRow(ctx, row, "run-1")
	var unknown *decompose.UnknownTaskTypeError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownTaskTypeError, got %v", err)
	}
	var rowErr *ingest.RowError
	if !errors.As(err, &rowErr) || rowErr.TaskID != "DOBBFD-LOI-1" {
		t.Fatalf("error must carry the row's task id, got %v", err)
	}

	orgs, _ := o.Repo.CountOrgs(ctx)
	statuses, _ := o.Repo.CountStatuses(ctx)
	if orgs != 0 || statuses != 0 {
		t.Fatalf("failed row leaked entities: %d orgs, %d statuses", orgs, statuses)
	}
}

func TestProcessRowValidationFailureRollsBack(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()
	insertRun(t, o, "run-1")

	row := loiRow()
	row.Type = "Proposal"
	row.TaskID = "DOBBFD-PROP-1"
	row.Amount = "" // required for proposals
	_, err := o.ProcessRow(ctx, row, "run-1")
	var verr *build.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	// References were resolved inside the row's transaction, so the
	// rollback must take them with it.
	orgs, _ := o.Repo.CountOrgs(ctx)
	tasks, _ := o.Repo.CountTasks(ctx)
	if orgs != 0 || tasks != 0 {
		t.Fatalf("rolled-back row left %d orgs and %d tasks behind", orgs, tasks)
	}
}

func TestProcessRowRejectsTypeChange(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()
	insertRun(t, o, "run-1")

	if _, err := o.ProcessRow(ctx, loiRow(), "run-1"); err != nil {
		t.Fatalf("seed row: %v", err)
	}
	row := loiRow()
	row.Type = "Proposal"
	_, err := o.ProcessRow(ctx, row, "run-1")
	if !errors.Is(err, repo.ErrTypeChanged) {
		t.Fatalf("expected ErrTypeChanged, got %v", err)
	}
	got, err := o.Repo.GetTask(ctx, "DOBBFD-LOI-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Core().Type != domain.TypeLOI {
		t.Fatalf("stored type mutated to %s", got.Core().Type)
	}
}

func TestProcessRowStatusChangeUpdatesTask(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()
	insertRun(t, o, "run-1")

	first, err := o.ProcessRow(ctx, loiRow(), "run-1")
	if err != nil {
		t.Fatal(err)
	}
	row := loiRow()
	row.Status = "6. LOI Rejected"
	second, err := o.ProcessRow(ctx, row, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if !second.NewStatus {
		t.Fatalf("new status text must register a new status entry")
	}
	if second.Task.Core().StatusID == first.Task.Core().StatusID {
		t.Fatalf("status id did not advance")
	}
	stored, err := o.Repo.GetTask(ctx, "DOBBFD-LOI-1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Core().StatusID != second.Task.Core().StatusID {
		t.Fatalf("stored task still points at old status")
	}
}

func TestRunnerBatchIsolatesRowFailures(t *testing.T) {
	o := newTestOrchestrator(t)
	runner := ingest.Runner{Orchestrator: o, Concurrency: 4}

	rows := []schedule.Row{loiRow()}
	bad := loiRow()
	bad.TaskID = "DOBBFD-AMEND-1"
	bad.Type = "Amendment"
	rows = append(rows, bad)
	for i := 0; i < 10; i++ {
		r := loiRow()
		r.TaskID = fmt.Sprintf("DOBBFD-REM-%d", i)
		r.Type = "Reminder"
		r.Status = "Reminder"
		r.ReminderNote = "check in"
		rows = append(rows, r)
	}

	summary, err := runner.Run(context.Background(), rows)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Processed != 11 || summary.Failed != 1 || summary.Skipped != 0 {
		t.Fatalf("processed=%d failed=%d skipped=%d", summary.Processed, summary.Failed, summary.Skipped)
	}
	if len(summary.Results) != len(rows) {
		t.Fatalf("expected one result per row, got %d for %d rows", len(summary.Results), len(rows))
	}
	if summary.NewOrgs != 1 {
		t.Fatalf("all rows share one organization, got %d new orgs", summary.NewOrgs)
	}

	runs, err := o.Repo.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected one recorded run, got %d", len(runs))
	}
	run := runs[0]
	if run.ID != summary.RunID || run.Processed != 11 || run.Failed != 1 {
		t.Fatalf("run record out of sync with summary: %+v", run)
	}
	if run.FinishedAt == nil {
		t.Fatalf("run never marked finished")
	}
}

func TestRunnerConcurrentSameOrgStaysSingular(t *testing.T) {
	o := newTestOrchestrator(t)
	runner := ingest.Runner{Orchestrator: o, Concurrency: 8}

	var rows []schedule.Row
	for i := 0; i < 50; i++ {
		r := loiRow()
		r.TaskID = fmt.Sprintf("DOBBFD-LOI-%d", i)
		rows = append(rows, r)
	}
	summary, err := runner.Run(context.Background(), rows)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Failed != 0 {
		t.Fatalf("%d rows failed", summary.Failed)
	}
	ctx := context.Background()
	orgs, _ := o.Repo.CountOrgs(ctx)
	people, _ := o.Repo.CountPeople(ctx)
	statuses, _ := o.Repo.CountStatuses(ctx)
	if orgs != 1 || people != 1 || statuses != 1 {
		t.Fatalf("concurrent batch duplicated references: %d orgs, %d people, %d statuses", orgs, people, statuses)
	}
	tasks, _ := o.Repo.CountTasks(ctx)
	if tasks != 50 {
		t.Fatalf("expected 50 tasks, got %d", tasks)
	}
}

func TestRunnerCancellationSkipsRemainingRows(t *testing.T) {
	o := newTestOrchestrator(t)
	runner := ingest.Runner{Orchestrator: o, Concurrency: 1}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Now is called once for the run start, then once per row while its
	// transaction is open. Cancelling on the second call pulls the rug out
	// from under the first row and lets the worker loop skip the rest.
	calls := 0
	o.Now = func() time.Time {
		calls++
		if calls == 2 {
			cancel()
		}
		return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	}

	var rows []schedule.Row
	for i := 0; i < 5; i++ {
		r := loiRow()
		r.TaskID = fmt.Sprintf("DOBBFD-LOI-%d", i)
		rows = append(rows, r)
	}
	summary, err := runner.Run(ctx, rows)
	if err == nil {
		t.Fatalf("finishing the run on a cancelled context should fail")
	}
	if summary.Processed != 0 {
		t.Fatalf("cancelled batch still processed %d rows", summary.Processed)
	}
	if summary.Failed != 1 {
		t.Fatalf("expected the in-flight row to fail, got %d failures", summary.Failed)
	}
	if summary.Skipped != len(rows)-1 {
		t.Fatalf("expected remaining rows skipped, got %d", summary.Skipped)
	}
	tasks, _ := o.Repo.CountTasks(context.Background())
	if tasks != 0 {
		t.Fatalf("cancelled rows must not persist, got %d tasks", tasks)
	}
}

func TestProcessRowWithoutOwner(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()
	insertRun(t, o, "run-1")

	row := loiRow()
	row.Owner = ""
	row.ShortName = ""
	out, err := o.ProcessRow(ctx, row, "run-1")
	if err != nil {
		t.Fatalf("ownerless row: %v", err)
	}
	if out.Task.Core().OwnerID != nil {
		t.Fatalf("ownerless task must carry no owner id")
	}
	people, _ := o.Repo.CountPeople(ctx)
	if people != 0 {
		t.Fatalf("no person should be created, got %d", people)
	}
}
