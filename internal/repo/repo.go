// Package repo is the storage primitive under the reconciliation pipeline:
// table-scoped reads and writes over SQLite. Reference tables (organizations,
// people, raw statuses) are append-mostly and only ever mutated through the
// resolver's upsert contract.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"grantline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const (
	timeLayout = time.RFC3339
	dateLayout = "2006-01-02"
)

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseStoredTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// --- organizations ---

// GetOrgByKeyTx reads an organization by natural key inside a transaction.
func (r Repo) GetOrgByKeyTx(ctx context.Context, tx *sql.Tx, naturalKey string) (domain.Organization, error) {
	var o domain.Organization
	var created, updated string
	err := tx.QueryRowContext(ctx, `SELECT id,natural_key,canonical_name,created_at,updated_at FROM organizations WHERE natural_key=?`, naturalKey).
		Scan(&o.ID, &o.NaturalKey, &o.CanonicalName, &created, &updated)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	o.CreatedAt = parseStoredTime(created)
	o.UpdatedAt = parseStoredTime(updated)
	return o, nil
}

func (r Repo) InsertOrgTx(ctx context.Context, tx *sql.Tx, naturalKey, canonicalName string, now time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO organizations(natural_key,canonical_name,created_at,updated_at) VALUES (?,?,?,?)`,
		naturalKey, canonicalName, formatTime(now), formatTime(now))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) UpdateOrgNameTx(ctx context.Context, tx *sql.Tx, id int64, canonicalName string, now time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE organizations SET canonical_name=?, updated_at=? WHERE id=?`,
		canonicalName, formatTime(now), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddOrgAliasTx records a known name variant. Duplicates are ignored.
func (r Repo) AddOrgAliasTx(ctx context.Context, tx *sql.Tx, id int64, alias string) error {
	if alias == "" {
		return nil
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO org_aliases(org_id,alias) VALUES (?,?)`, id, alias)
	return err
}

func (r Repo) GetOrg(ctx context.Context, id int64) (domain.Organization, error) {
	var o domain.Organization
	var created, updated string
	err := r.DB.QueryRowContext(ctx, `SELECT id,natural_key,canonical_name,created_at,updated_at FROM organizations WHERE id=?`, id).
		Scan(&o.ID, &o.NaturalKey, &o.CanonicalName, &created, &updated)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	o.CreatedAt = parseStoredTime(created)
	o.UpdatedAt = parseStoredTime(updated)
	o.Aliases, err = r.ListOrgAliases(ctx, o.ID)
	return o, err
}

func (r Repo) GetOrgByKey(ctx context.Context, naturalKey string) (domain.Organization, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT id FROM organizations WHERE natural_key=?`, naturalKey).Scan(&id)
	if err == sql.ErrNoRows {
		return domain.Organization{}, ErrNotFound
	}
	if err != nil {
		return domain.Organization{}, err
	}
	return r.GetOrg(ctx, id)
}

func (r Repo) ListOrgs(ctx context.Context) ([]domain.Organization, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,natural_key,canonical_name,created_at,updated_at FROM organizations ORDER BY canonical_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Organization
	for rows.Next() {
		var o domain.Organization
		var created, updated string
		if err := rows.Scan(&o.ID, &o.NaturalKey, &o.CanonicalName, &created, &updated); err != nil {
			return nil, err
		}
		o.CreatedAt = parseStoredTime(created)
		o.UpdatedAt = parseStoredTime(updated)
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) ListOrgAliases(ctx context.Context, id int64) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT alias FROM org_aliases WHERE org_id=? ORDER BY alias`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) CountOrgs(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM organizations`).Scan(&n)
	return n, err
}

// --- people ---

// GetPersonByNameTx reads a person by full name, case-insensitively.
// The natural-key comparison lives only here; callers never need to know
// what uniquely identifies a person record.
func (r Repo) GetPersonByNameTx(ctx context.Context, tx *sql.Tx, fullName string) (domain.Person, error) {
	var p domain.Person
	var short sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT id,full_name,short_name FROM people WHERE LOWER(full_name)=LOWER(?)`, fullName).
		Scan(&p.ID, &p.FullName, &short)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if short.Valid {
		p.ShortName = short.String
	}
	return p, nil
}

func (r Repo) InsertPersonTx(ctx context.Context, tx *sql.Tx, fullName, shortName string, now time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO people(full_name,short_name,created_at,updated_at) VALUES (?,?,?,?)`,
		fullName, nullable(shortName), formatTime(now), formatTime(now))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) UpdatePersonShortNameTx(ctx context.Context, tx *sql.Tx, id int64, shortName string, now time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE people SET short_name=?, updated_at=? WHERE id=?`,
		nullable(shortName), formatTime(now), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetPerson(ctx context.Context, id int64) (domain.Person, error) {
	var p domain.Person
	var short sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,full_name,short_name FROM people WHERE id=?`, id).
		Scan(&p.ID, &p.FullName, &short)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if short.Valid {
		p.ShortName = short.String
	}
	return p, err
}

func (r Repo) ListPeople(ctx context.Context) ([]domain.Person, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,full_name,COALESCE(short_name,'') FROM people ORDER BY full_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Person
	for rows.Next() {
		var p domain.Person
		if err := rows.Scan(&p.ID, &p.FullName, &p.ShortName); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) CountPeople(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM people`).Scan(&n)
	return n, err
}

// --- raw statuses ---

// GetStatusTx reads a status by its (text, source) natural key. Comparison
// trims whitespace so " 3. LOI Submitted" and "3. LOI Submitted" are one
// registry entry; the stored text stays verbatim from first sighting.
func (r Repo) GetStatusTx(ctx context.Context, tx *sql.Tx, text, sourceSystem string) (domain.RawStatus, error) {
	var s domain.RawStatus
	var seen string
	err := tx.QueryRowContext(ctx, `SELECT id,status_text,source_system,first_seen_at FROM raw_statuses WHERE TRIM(status_text)=TRIM(?) AND source_system=?`,
		text, sourceSystem).Scan(&s.ID, &s.Text, &s.SourceSystem, &seen)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.FirstSeenAt = parseStoredTime(seen)
	return s, nil
}

func (r Repo) InsertStatusTx(ctx context.Context, tx *sql.Tx, text, sourceSystem string, now time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO raw_statuses(status_text,source_system,first_seen_at) VALUES (?,?,?)`,
		text, sourceSystem, formatTime(now))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetStatus(ctx context.Context, id int64) (domain.RawStatus, error) {
	var s domain.RawStatus
	var seen string
	err := r.DB.QueryRowContext(ctx, `SELECT id,status_text,source_system,first_seen_at FROM raw_statuses WHERE id=?`, id).
		Scan(&s.ID, &s.Text, &s.SourceSystem, &seen)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	s.FirstSeenAt = parseStoredTime(seen)
	return s, err
}

func (r Repo) ListStatuses(ctx context.Context) ([]domain.RawStatus, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,status_text,source_system,first_seen_at FROM raw_statuses ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RawStatus
	for rows.Next() {
		var s domain.RawStatus
		var seen string
		if err := rows.Scan(&s.ID, &s.Text, &s.SourceSystem, &seen); err != nil {
			return nil, err
		}
		s.FirstSeenAt = parseStoredTime(seen)
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) CountStatuses(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_statuses`).Scan(&n)
	return n, err
}
