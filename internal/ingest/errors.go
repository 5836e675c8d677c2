package ingest

import "fmt"

// ResolutionError reports which sub-resolution failed for a row. A partial
// resolution never produces an entity; the whole row aborts.
type ResolutionError struct {
	Stage string // "organization", "owner" or "status"
	Key   string // the natural key that failed to resolve
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s %q: %v", e.Stage, e.Key, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// RowError attaches source-row context to a pipeline failure so batch
// reports can name the offending row.
type RowError struct {
	TaskID string
	Err    error
}

func (e *RowError) Error() string {
	id := e.TaskID
	if id == "" {
		id = "unknown"
	}
	return fmt.Sprintf("row %s: %v", id, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }
