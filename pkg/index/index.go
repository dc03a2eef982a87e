// Package index stores canonical package records in SQLite and answers
// search queries over them. The full record lives as JSON in the data
// column; a handful of derived columns (name, description, author,
// tags_text, hotness, updated) exist so predicates and sorting run inside
// the database.
package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/LipPkg/LipIndex/pkg/core"
)

// ErrNotFound is returned when an identifier is not present in the index.
var ErrNotFound = errors.New("package not indexed")

type Index struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the index database at path and applies
// the performance pragmas. Call EnsureSchema before reading or writing
// records.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
		"PRAGMA cache_size = -64000", // 64MB cache
		"PRAGMA temp_store = memory",
		"PRAGMA mmap_size = 268435456", // 256MB mmap
		"PRAGMA optimize",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	return &Index{db: db, path: path}, nil
}

func (ix *Index) Close() error {
	return ix.db.Close()
}

// Path returns the database file path the index was opened with.
func (ix *Index) Path() string {
	return ix.path
}

// DB returns the underlying database handle. Exposed for migration
// tooling and tests.
func (ix *Index) DB() *sql.DB {
	return ix.db
}

// EnsureSchema applies any pending migrations. It is idempotent and cheap
// when the schema is current, so callers run it right after Open.
func (ix *Index) EnsureSchema() error {
	return NewMigrationManager(ix.db).ApplyPendingMigrations()
}

// UpsertPackage stores a single normalized package record, replacing any
// previous record with the same identifier.
func (ix *Index) UpsertPackage(pkg *core.Package) error {
	return ix.UpsertPackages([]*core.Package{pkg})
}

// UpsertPackages stores a batch of normalized package records in one
// transaction. The whole canonical record is serialized into the data
// column; derived columns are recomputed from it on every upsert.
func (ix *Index) UpsertPackages(pkgs []*core.Package) error {
	if len(pkgs) == 0 {
		return nil
	}

	tx, err := ix.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO packages (identifier, name, description, author, tags_text, hotness, updated, data, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, pkg := range pkgs {
		if pkg.Identifier == "" {
			return fmt.Errorf("refusing to store package without identifier")
		}

		data, err := json.Marshal(pkg)
		if err != nil {
			return fmt.Errorf("marshaling package %s: %w", pkg.Identifier, err)
		}

		_, err = stmt.Exec(
			pkg.Identifier,
			pkg.Name,
			pkg.Description,
			pkg.Author,
			tagsText(pkg.Tags),
			pkg.Hotness,
			pkg.Updated.UTC().Format(time.RFC3339),
			string(data),
			now,
		)
		if err != nil {
			return fmt.Errorf("storing package %s: %w", pkg.Identifier, err)
		}
	}

	err = tx.Commit()
	if err == nil {
		committed = true
	}
	return err
}

// GetPackage loads one package record by identifier. Returns ErrNotFound
// when the identifier has never been indexed.
func (ix *Index) GetPackage(identifier string) (*core.Package, error) {
	var data string
	err := ix.db.QueryRow("SELECT data FROM packages WHERE identifier = ?", identifier).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading package %s: %w", identifier, err)
	}

	var pkg core.Package
	if err := json.Unmarshal([]byte(data), &pkg); err != nil {
		return nil, fmt.Errorf("unmarshaling package %s: %w", identifier, err)
	}
	return &pkg, nil
}

// DeletePackage removes a record from the index. Removing an identifier
// that is not indexed is not an error.
func (ix *Index) DeletePackage(identifier string) error {
	_, err := ix.db.Exec("DELETE FROM packages WHERE identifier = ?", identifier)
	return err
}

// Count returns the number of indexed packages.
func (ix *Index) Count() (int, error) {
	var n int
	if err := ix.db.QueryRow("SELECT COUNT(*) FROM packages").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting packages: %w", err)
	}
	return n, nil
}

// Stats returns index-level statistics: total package count, per-platform
// counts and the most recent update time.
func (ix *Index) Stats(platforms []string) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	total, err := ix.Count()
	if err != nil {
		return nil, err
	}
	stats["total_packages"] = total

	// Platform tags are machine generated ("platform:" + name, no
	// spaces), so the padded tags_text probe is exact for them.
	for _, platform := range platforms {
		var n int
		probe := " platform:" + strings.ToLower(platform) + " "
		err := ix.db.QueryRow("SELECT COUNT(*) FROM packages WHERE instr(tags_text, ?) > 0", probe).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("counting %s packages: %w", platform, err)
		}
		stats["packages_"+strings.ToLower(platform)] = n
	}

	var newest sql.NullString
	err = ix.db.QueryRow("SELECT MAX(updated) FROM packages").Scan(&newest)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("getting newest update: %w", err)
	}
	if newest.Valid && newest.String != "" {
		if t, err := time.Parse(time.RFC3339, newest.String); err == nil {
			stats["newest_update"] = t
		}
	}

	return stats, nil
}

// UpdateLastFetchTime records when a source last completed a fetch cycle.
func (ix *Index) UpdateLastFetchTime(source string, t time.Time) error {
	_, err := ix.db.Exec(`
		INSERT OR REPLACE INTO fetch_metadata (key, value, updated_at)
		VALUES (?, ?, ?)
	`, "last_fetch:"+source, t.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339))
	return err
}

// GetLastFetchTime returns the last completed fetch time for a source, or
// the zero time when the source never completed a cycle.
func (ix *Index) GetLastFetchTime(source string) (time.Time, error) {
	var value string
	err := ix.db.QueryRow("SELECT value FROM fetch_metadata WHERE key = ?", "last_fetch:"+source).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, value)
}

// FetchRun is one recorded fetch cycle of a source.
type FetchRun struct {
	RunID      string
	Source     string
	StartedAt  time.Time
	FinishedAt time.Time
	Discovered int
	Resolved   int
	Failed     int
}

// RecordFetchRun stores the outcome of one fetch cycle.
func (ix *Index) RecordFetchRun(run FetchRun) error {
	_, err := ix.db.Exec(`
		INSERT OR REPLACE INTO fetch_runs (run_id, source, started_at, finished_at, discovered, resolved, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		run.RunID,
		run.Source,
		run.StartedAt.UTC().Format(time.RFC3339),
		run.FinishedAt.UTC().Format(time.RFC3339),
		run.Discovered,
		run.Resolved,
		run.Failed,
	)
	return err
}

// RecentFetchRuns returns the most recent fetch cycles, newest first.
func (ix *Index) RecentFetchRuns(limit int) ([]FetchRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := ix.db.Query(`
		SELECT run_id, source, started_at, finished_at, discovered, resolved, failed
		FROM fetch_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying fetch runs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var runs []FetchRun
	for rows.Next() {
		var run FetchRun
		var started, finished string
		if err := rows.Scan(&run.RunID, &run.Source, &started, &finished, &run.Discovered, &run.Resolved, &run.Failed); err != nil {
			return nil, fmt.Errorf("scanning fetch run: %w", err)
		}
		run.StartedAt, _ = time.Parse(time.RFC3339, started)
		run.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Optimize runs PRAGMA optimize to refresh query planner statistics.
func (ix *Index) Optimize() error {
	_, err := ix.db.Exec("PRAGMA optimize")
	return err
}

// Analyze refreshes table statistics.
func (ix *Index) Analyze() error {
	_, err := ix.db.Exec("ANALYZE")
	return err
}

// Vacuum compacts the database file.
func (ix *Index) Vacuum() error {
	_, err := ix.db.Exec("VACUUM")
	return err
}

// WALCheckpoint truncates the write-ahead log.
func (ix *Index) WALCheckpoint() error {
	_, err := ix.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// tagsText renders the tag set as a space padded lowercase string, one
// probe-friendly representation per record (" tag1 tag2 ").
func tagsText(tags []string) string {
	if len(tags) == 0 {
		return " "
	}
	return " " + strings.ToLower(strings.Join(tags, " ")) + " "
}
