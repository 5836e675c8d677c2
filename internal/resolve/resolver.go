// Package resolve turns natural keys into stable surrogate identifiers.
// The Resolver holds the only write path into the reference tables; all
// mutation goes through its upsert contract.
package resolve

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"grantline/internal/repo"
)

// Resolver upserts organizations, people and raw statuses by natural key.
// Every method is an upsert: insert-if-absent, update-mutable-fields-if-
// present, always returning the stable identifier. Concurrent upserts for
// the same natural key serialize on a per-key lock around the
// read-modify-write.
type Resolver struct {
	Repo repo.Repo
	Now  func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(r repo.Repo) *Resolver {
	return &Resolver{Repo: r, Now: time.Now}
}

func (rs *Resolver) now() time.Time {
	if rs.Now != nil {
		return rs.Now()
	}
	return time.Now()
}

// keyLock returns the mutex guarding one natural key. Locks are never
// reclaimed; the key space is small (orgs, people, statuses actually seen).
func (rs *Resolver) keyLock(key string) *sync.Mutex {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.locks == nil {
		rs.locks = make(map[string]*sync.Mutex)
	}
	l, ok := rs.locks[key]
	if !ok {
		l = &sync.Mutex{}
		rs.locks[key] = l
	}
	return l
}

// Organization resolves an org natural key, creating the record on first
// sight. A non-empty display name that differs from the stored canonical
// name corrects it; the previous name is retained as an alias. The
// identifier never changes once assigned.
func (rs *Resolver) Organization(ctx context.Context, tx *sql.Tx, naturalKey, displayName string) (id int64, created bool, err error) {
	if naturalKey == "" {
		return 0, false, errors.New("organization natural key is empty")
	}
	l := rs.keyLock("org:" + naturalKey)
	l.Lock()
	defer l.Unlock()

	existing, err := rs.Repo.GetOrgByKeyTx(ctx, tx, naturalKey)
	if errors.Is(err, repo.ErrNotFound) {
		name := displayName
		if name == "" {
			name = naturalKey
		}
		id, err := rs.Repo.InsertOrgTx(ctx, tx, naturalKey, name, rs.now())
		if err != nil {
			return 0, false, fmt.Errorf("insert organization %s: %w", naturalKey, err)
		}
		if err := rs.Repo.AddOrgAliasTx(ctx, tx, id, name); err != nil {
			return 0, false, err
		}
		return id, true, nil
	}
	if err != nil {
		return 0, false, err
	}
	if displayName != "" && displayName != existing.CanonicalName {
		if err := rs.Repo.UpdateOrgNameTx(ctx, tx, existing.ID, displayName, rs.now()); err != nil {
			return 0, false, fmt.Errorf("update organization %s: %w", naturalKey, err)
		}
		// keep both the old and new names findable
		if err := rs.Repo.AddOrgAliasTx(ctx, tx, existing.ID, existing.CanonicalName); err != nil {
			return 0, false, err
		}
		if err := rs.Repo.AddOrgAliasTx(ctx, tx, existing.ID, displayName); err != nil {
			return 0, false, err
		}
	}
	return existing.ID, false, nil
}

// Person resolves a team member by full display name. The natural key is
// the full name, compared case-insensitively; that assumption lives only
// behind this method and the repo lookup it calls.
func (rs *Resolver) Person(ctx context.Context, tx *sql.Tx, displayName, shortName string) (id int64, created bool, err error) {
	if displayName == "" {
		return 0, false, errors.New("person display name is empty")
	}
	l := rs.keyLock("person:" + strings.ToLower(displayName))
	l.Lock()
	defer l.Unlock()

	existing, err := rs.Repo.GetPersonByNameTx(ctx, tx, displayName)
	if errors.Is(err, repo.ErrNotFound) {
		id, err := rs.Repo.InsertPersonTx(ctx, tx, displayName, shortName, rs.now())
		if err != nil {
			return 0, false, fmt.Errorf("insert person %s: %w", displayName, err)
		}
		return id, true, nil
	}
	if err != nil {
		return 0, false, err
	}
	if shortName != "" && shortName != existing.ShortName {
		if err := rs.Repo.UpdatePersonShortNameTx(ctx, tx, existing.ID, shortName, rs.now()); err != nil {
			return 0, false, fmt.Errorf("update person %s: %w", displayName, err)
		}
	}
	return existing.ID, false, nil
}

// Status resolves a (status text, source system) pair to its stable id,
// registering the text verbatim on first sighting. The registry assigns
// identity and nothing more; meaning lives in the semantics package.
func (rs *Resolver) Status(ctx context.Context, tx *sql.Tx, text, sourceSystem string) (id int64, created bool, err error) {
	l := rs.keyLock("status:" + sourceSystem + "|" + strings.TrimSpace(text))
	l.Lock()
	defer l.Unlock()

	existing, err := rs.Repo.GetStatusTx(ctx, tx, text, sourceSystem)
	if errors.Is(err, repo.ErrNotFound) {
		id, err := rs.Repo.InsertStatusTx(ctx, tx, text, sourceSystem, rs.now())
		if err != nil {
			return 0, false, fmt.Errorf("insert status %q: %w", text, err)
		}
		return id, true, nil
	}
	if err != nil {
		return 0, false, err
	}
	return existing.ID, false, nil
}
