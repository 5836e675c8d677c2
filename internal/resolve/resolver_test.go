package resolve_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"grantline/internal/db"
	"grantline/internal/migrate"
	"grantline/internal/repo"
	"grantline/internal/resolve"
)

type testEnv struct {
	DB       *sql.DB
	Repo     repo.Repo
	Resolver *resolve.Resolver
	Ctx      context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	rs := resolve.New(r)
	rs.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{DB: conn, Repo: r, Resolver: rs, Ctx: context.Background()}
}

func (env testEnv) inTx(t *testing.T, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := env.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		t.Fatalf("tx body: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestOrganizationIdempotency(t *testing.T) {
	for _, n := range []int{1, 5, 100} {
		env := newTestEnv(t)
		var firstID int64
		for i := 0; i < n; i++ {
			env.inTx(t, func(tx *sql.Tx) error {
				id, _, err := env.Resolver.Organization(env.Ctx, tx, "BN0002E1", "Dobbs Foundation")
				if err != nil {
					return err
				}
				if firstID == 0 {
					firstID = id
				} else if id != firstID {
					t.Fatalf("n=%d: identifier changed from %d to %d", n, firstID, id)
				}
				return nil
			})
		}
		count, err := env.Repo.CountOrgs(env.Ctx)
		if err != nil {
			t.Fatal(err)
		}
		if count != 1 {
			t.Fatalf("n=%d: expected exactly one record, got %d", n, count)
		}
	}
}

func TestOrganizationRenamePreservesIdentifier(t *testing.T) {
	env := newTestEnv(t)
	var id1, id2 int64
	env.inTx(t, func(tx *sql.Tx) error {
		var err error
		id1, _, err = env.Resolver.Organization(env.Ctx, tx, "BN0002E1", "Dobbs Fdn")
		return err
	})
	env.inTx(t, func(tx *sql.Tx) error {
		var err error
		id2, _, err = env.Resolver.Organization(env.Ctx, tx, "BN0002E1", "Dobbs Foundation")
		return err
	})
	if id1 != id2 {
		t.Fatalf("identifier changed on rename: %d vs %d", id1, id2)
	}
	org, err := env.Repo.GetOrg(env.Ctx, id1)
	if err != nil {
		t.Fatal(err)
	}
	if org.CanonicalName != "Dobbs Foundation" {
		t.Fatalf("canonical name not updated: %q", org.CanonicalName)
	}
	aliases := map[string]bool{}
	for _, a := range org.Aliases {
		aliases[a] = true
	}
	if !aliases["Dobbs Fdn"] || !aliases["Dobbs Foundation"] {
		t.Fatalf("expected both names retained as aliases, got %v", org.Aliases)
	}
}

func TestOrganizationEmptyNameDoesNotClobber(t *testing.T) {
	env := newTestEnv(t)
	env.inTx(t, func(tx *sql.Tx) error {
		_, _, err := env.Resolver.Organization(env.Ctx, tx, "BN000010", "Real Name")
		return err
	})
	env.inTx(t, func(tx *sql.Tx) error {
		_, _, err := env.Resolver.Organization(env.Ctx, tx, "BN000010", "")
		return err
	})
	org, err := env.Repo.GetOrgByKey(env.Ctx, "BN000010")
	if err != nil {
		t.Fatal(err)
	}
	if org.CanonicalName != "Real Name" {
		t.Fatalf("empty display name must not clear canonical name, got %q", org.CanonicalName)
	}
}

func TestPersonCaseInsensitiveNaturalKey(t *testing.T) {
	env := newTestEnv(t)
	var id1, id2 int64
	env.inTx(t, func(tx *sql.Tx) error {
		var err error
		id1, _, err = env.Resolver.Person(env.Ctx, tx, "Jane Doe", "")
		return err
	})
	env.inTx(t, func(tx *sql.Tx) error {
		var err error
		id2, _, err = env.Resolver.Person(env.Ctx, tx, "jane doe", "JD")
		return err
	})
	if id1 != id2 {
		t.Fatalf("case variant created a duplicate: %d vs %d", id1, id2)
	}
	count, err := env.Repo.CountPeople(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected one person, got %d", count)
	}
	p, err := env.Repo.GetPerson(env.Ctx, id1)
	if err != nil {
		t.Fatal(err)
	}
	if p.ShortName != "JD" {
		t.Fatalf("short name not upserted: %q", p.ShortName)
	}
	if p.FullName != "Jane Doe" {
		t.Fatalf("stored full name mutated: %q", p.FullName)
	}
}

func TestStatusWhitespaceVariantsCollapse(t *testing.T) {
	env := newTestEnv(t)
	var id1, id2 int64
	env.inTx(t, func(tx *sql.Tx) error {
		var err error
		id1, _, err = env.Resolver.Status(env.Ctx, tx, "3. LOI Submitted", "writing_schedule")
		return err
	})
	env.inTx(t, func(tx *sql.Tx) error {
		var err error
		id2, _, err = env.Resolver.Status(env.Ctx, tx, "  3. LOI Submitted ", "writing_schedule")
		return err
	})
	if id1 != id2 {
		t.Fatalf("whitespace variance created a duplicate status: %d vs %d", id1, id2)
	}
	s, err := env.Repo.GetStatus(env.Ctx, id1)
	if err != nil {
		t.Fatal(err)
	}
	if s.Text != "3. LOI Submitted" {
		t.Fatalf("status text not stored verbatim from first sighting: %q", s.Text)
	}
}

func TestStatusScopedBySourceSystem(t *testing.T) {
	env := newTestEnv(t)
	var id1, id2 int64
	env.inTx(t, func(tx *sql.Tx) error {
		var err error
		id1, _, err = env.Resolver.Status(env.Ctx, tx, "1. Awarded", "writing_schedule")
		return err
	})
	env.inTx(t, func(tx *sql.Tx) error {
		var err error
		id2, _, err = env.Resolver.Status(env.Ctx, tx, "1. Awarded", "crm")
		return err
	})
	if id1 == id2 {
		t.Fatalf("same text from different sources must be distinct registry entries")
	}
}

func TestConcurrentResolutionSameKey(t *testing.T) {
	env := newTestEnv(t)
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := env.DB.BeginTx(env.Ctx, nil)
			if err != nil {
				errs <- err
				return
			}
			if _, _, err := env.Resolver.Organization(env.Ctx, tx, "BN0099AA", "Raced Foundation"); err != nil {
				tx.Rollback()
				errs <- err
				return
			}
			errs <- tx.Commit()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent resolve: %v", err)
		}
	}
	count, err := env.Repo.CountOrgs(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("concurrent upserts raced to %d records", count)
	}
}
