// Package ingest drives rows through the reconciliation pipeline:
// decompose into natural-key blueprints, resolve keys to surrogate ids,
// build the typed entity, persist. One row is one transaction.
package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"grantline/internal/build"
	"grantline/internal/decompose"
	"grantline/internal/domain"
	"grantline/internal/events"
	"grantline/internal/repo"
	"grantline/internal/resolve"
	"grantline/internal/schedule"
)

// Orchestrator is the seam between natural-key blueprints and
// surrogate-keyed entities. It is the only component that calls both the
// reference resolver and the status registry.
type Orchestrator struct {
	DB           *sql.DB
	Repo         repo.Repo
	Resolver     *resolve.Resolver
	Events       events.Writer
	SourceSystem string
	Now          func() time.Time
}

func New(db *sql.DB, sourceSystem string) *Orchestrator {
	r := repo.Repo{DB: db}
	return &Orchestrator{
		DB:           db,
		Repo:         r,
		Resolver:     resolve.New(r),
		Events:       events.Writer{DB: db},
		SourceSystem: sourceSystem,
		Now:          time.Now,
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Outcome is the result of one successfully processed row.
type Outcome struct {
	Task      domain.Task
	NewOrg    bool
	NewPerson bool
	NewStatus bool
}

// ProcessRow runs one row through the pipeline. The row commits as a whole
// or not at all; on failure the returned error carries the row's task id.
func (o *Orchestrator) ProcessRow(ctx context.Context, row schedule.Row, runID string) (Outcome, error) {
	bp, err := decompose.Decompose(row)
	if err != nil {
		return Outcome{}, &RowError{TaskID: row.TaskID, Err: err}
	}

	tx, err := o.DB.BeginTx(ctx, nil)
	if err != nil {
		return Outcome{}, &RowError{TaskID: row.TaskID, Err: err}
	}
	defer tx.Rollback()

	var out Outcome
	core := domain.TaskCore{
		TaskID:       bp.Task.Core.TaskID,
		Type:         bp.Task.Core.Type,
		Deadline:     bp.Task.Core.Deadline,
		LastModified: bp.Task.Core.LastModified,
		FiscalYear:   bp.Task.Core.FiscalYear,
		ProgramArea:  bp.Task.Core.ProgramArea,
		Initiative:   bp.Task.Core.Initiative,
	}

	// Organization and status are required references; owner is not.
	if bp.Org == nil {
		return Outcome{}, &RowError{TaskID: row.TaskID, Err: &ResolutionError{
			Stage: "organization", Key: "", Err: errors.New("row carries no organization natural key"),
		}}
	}
	orgID, newOrg, err := o.Resolver.Organization(ctx, tx, bp.Org.NaturalKey, bp.Org.DisplayName)
	if err != nil {
		return Outcome{}, &RowError{TaskID: row.TaskID, Err: &ResolutionError{Stage: "organization", Key: bp.Org.NaturalKey, Err: err}}
	}
	core.OrgID = orgID
	out.NewOrg = newOrg

	if bp.Person != nil {
		ownerID, newPerson, err := o.Resolver.Person(ctx, tx, bp.Person.DisplayName, bp.Person.ShortName)
		if err != nil {
			return Outcome{}, &RowError{TaskID: row.TaskID, Err: &ResolutionError{Stage: "owner", Key: bp.Person.DisplayName, Err: err}}
		}
		core.OwnerID = &ownerID
		out.NewPerson = newPerson
	}

	statusID, newStatus, err := o.Resolver.Status(ctx, tx, bp.Task.Core.StatusText, o.SourceSystem)
	if err != nil {
		return Outcome{}, &RowError{TaskID: row.TaskID, Err: &ResolutionError{Stage: "status", Key: bp.Task.Core.StatusText, Err: err}}
	}
	core.StatusID = statusID
	out.NewStatus = newStatus

	task, err := build.Build(core, bp.Task.Fields)
	if err != nil {
		return Outcome{}, &RowError{TaskID: row.TaskID, Err: err}
	}

	if err := o.Repo.UpsertTaskTx(ctx, tx, task, o.now()); err != nil {
		return Outcome{}, &RowError{TaskID: row.TaskID, Err: fmt.Errorf("persist task: %w", err)}
	}

	if err := o.appendSightings(ctx, tx, runID, bp, out); err != nil {
		return Outcome{}, &RowError{TaskID: row.TaskID, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return Outcome{}, &RowError{TaskID: row.TaskID, Err: err}
	}
	out.Task = task
	return out, nil
}

func (o *Orchestrator) appendSightings(ctx context.Context, tx *sql.Tx, runID string, bp decompose.Blueprints, out Outcome) error {
	if out.NewOrg {
		if err := o.Events.Append(ctx, tx, "org.created", runID, "organization", bp.Org.NaturalKey,
			events.EventPayload{"name": bp.Org.DisplayName}); err != nil {
			return err
		}
	}
	if out.NewPerson {
		if err := o.Events.Append(ctx, tx, "person.created", runID, "person", bp.Person.DisplayName, nil); err != nil {
			return err
		}
	}
	if out.NewStatus {
		if err := o.Events.Append(ctx, tx, "status.first_seen", runID, "status", bp.Task.Core.StatusText,
			events.EventPayload{"source_system": o.SourceSystem}); err != nil {
			return err
		}
	}
	return nil
}
