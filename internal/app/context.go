package app

import (
	"database/sql"
	"fmt"

	"grantline/internal/config"
	"grantline/internal/db"
	"grantline/internal/migrate"
)

// Env is the opened workspace: database plus effective configuration.
type Env struct {
	DB     *sql.DB
	Config *config.Config
}

// Open prepares a workspace for use: ensures the directory, opens the
// database, applies migrations, and loads grantline.yml if present
// (defaults otherwise).
func Open(workspace string) (*Env, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return &Env{DB: conn, Config: cfg}, nil
}

func (e *Env) Close() error {
	if e == nil || e.DB == nil {
		return nil
	}
	return e.DB.Close()
}
