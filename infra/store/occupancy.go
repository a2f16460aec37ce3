// Package store persists the occupancy table, windowed arrays and model
// checkpoints.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/kilianp07/crimecast/core/artifact"
	"github.com/kilianp07/crimecast/core/grid"
	"github.com/kilianp07/crimecast/core/incident"
	"github.com/kilianp07/crimecast/core/occupancy"
)

//go:embed migrations/*.sql
var migrations embed.FS

// OccupancyStore keeps the table sparsely in SQLite: one metadata row and
// one row per non-zero count. Load densifies it again.
type OccupancyStore struct {
	db   *sql.DB
	path string
}

// OpenOccupancyStore opens or creates the database at path and applies
// pending migrations.
func OpenOccupancyStore(path string) (*OccupancyStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &OccupancyStore{db: db, path: path}
	if err := s.migrateUp(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenExistingOccupancyStore opens a store that must already exist.
func OpenExistingOccupancyStore(path string) (*OccupancyStore, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, &artifact.MissingArtifactError{Kind: "occupancy table", Path: path}
	}
	return OpenOccupancyStore(path)
}

func (s *OccupancyStore) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	return m, nil
}

// migrateUp does not close the migrate instance since that would close the
// shared connection.
func (s *OccupancyStore) migrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Version returns the applied schema version.
func (s *OccupancyStore) Version() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// Save replaces the stored table and ingestion report in one transaction.
func (s *OccupancyStore) Save(ctx context.Context, t *occupancy.Table, rep incident.Report) (err error) {
	channels, err := json.Marshal(t.Channels)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, q := range []string{`DELETE FROM occupancy_counts`, `DELETE FROM occupancy_meta`, `DELETE FROM ingest_drops`} {
		if _, err = tx.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO occupancy_meta
        (id, start_day, days, grid_rows, grid_cols, channels, built_at, records_total, records_kept)
        VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Start.Unix(), t.Days(), t.Rows, t.Cols, string(channels), time.Now().Unix(), rep.Total, rep.Kept); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO occupancy_counts (day, channel, cell_row, cell_col, count) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()
	cells := t.Cells()
	for d := 0; d < t.Days(); d++ {
		for j, v := range t.Frame(d) {
			if v == 0 {
				continue
			}
			ch, off := j/cells, j%cells
			if _, err = stmt.ExecContext(ctx, d, ch, off/t.Cols+1, off%t.Cols+1, v); err != nil {
				return err
			}
		}
	}
	for reason, n := range rep.Dropped {
		if _, err = tx.ExecContext(ctx, `INSERT INTO ingest_drops (reason, count) VALUES (?, ?)`, reason, n); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Load reads the table back in dense form together with the ingestion
// report it was built with.
func (s *OccupancyStore) Load(ctx context.Context) (*occupancy.Table, incident.Report, error) {
	var (
		start, builtAt   int64
		days, rows, cols int
		channels         string
		rep              incident.Report
	)
	err := s.db.QueryRowContext(ctx, `SELECT start_day, days, grid_rows, grid_cols, channels, built_at, records_total, records_kept
        FROM occupancy_meta WHERE id = 1`).Scan(&start, &days, &rows, &cols, &channels, &builtAt, &rep.Total, &rep.Kept)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rep, &artifact.MissingArtifactError{Kind: "occupancy table", Path: s.path}
	}
	if err != nil {
		return nil, rep, err
	}
	var names []string
	if err := json.Unmarshal([]byte(channels), &names); err != nil {
		return nil, rep, fmt.Errorf("decode channels: %w", err)
	}
	t := occupancy.NewTable(time.Unix(start, 0).UTC(), days, names, rows, cols)

	q, err := s.db.QueryContext(ctx, `SELECT day, channel, cell_row, cell_col, count FROM occupancy_counts`)
	if err != nil {
		return nil, rep, err
	}
	defer func() { _ = q.Close() }()
	counts := t.Counts()
	for q.Next() {
		var d, ch, r, c int
		var v int32
		if err := q.Scan(&d, &ch, &r, &c, &v); err != nil {
			return nil, rep, err
		}
		if d < 0 || d >= days || ch < 0 || ch >= len(names) {
			return nil, rep, fmt.Errorf("count row out of range: day %d channel %d", d, ch)
		}
		cell := grid.Cell{Row: r, Col: c}
		if r < 1 || r > rows || c < 1 || c > cols {
			return nil, rep, fmt.Errorf("%w: %s", grid.ErrInvalidCell, cell)
		}
		counts[d*t.FrameSize()+ch*t.Cells()+(r-1)*cols+(c-1)] = v
	}
	if err := q.Err(); err != nil {
		return nil, rep, err
	}

	drops, err := s.db.QueryContext(ctx, `SELECT reason, count FROM ingest_drops`)
	if err != nil {
		return nil, rep, err
	}
	defer func() { _ = drops.Close() }()
	for drops.Next() {
		var reason string
		var n int
		if err := drops.Scan(&reason, &n); err != nil {
			return nil, rep, err
		}
		if rep.Dropped == nil {
			rep.Dropped = map[string]int{}
		}
		rep.Dropped[reason] = n
	}
	return t, rep, drops.Err()
}

// Close closes the underlying database.
func (s *OccupancyStore) Close() error {
	return s.db.Close()
}
