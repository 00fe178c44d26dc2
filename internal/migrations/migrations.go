// Package migrations owns the knowledge store schema. Scripts are embedded
// SQLite files named NNNNNN_name.up.sql / NNNNNN_name.down.sql.
package migrations

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const ledgerTable = "iotquery_schema_migrations"

var scriptNamePattern = regexp.MustCompile(`^([0-9]+)_(.+)\.(up|down)\.sql$`)

// ErrChecksumMismatch means an applied migration was edited after it ran.
var ErrChecksumMismatch = errors.New("applied migration changed since it ran")

type script struct {
	Version  int64
	Name     string
	Up       string
	Down     string
	Checksum string
}

// Status describes one known migration against a database.
type Status struct {
	Version   int64  `json:"version"`
	Name      string `json:"name"`
	Applied   bool   `json:"applied"`
	AppliedAt string `json:"applied_at,omitempty"`
	Drifted   bool   `json:"drifted,omitempty"`
}

type Runner struct {
	fsys   fs.FS
	logger *slog.Logger
}

func NewRunner() *Runner {
	return newRunnerFS(embeddedFS)
}

func newRunnerFS(fsys fs.FS) *Runner {
	return &Runner{fsys: fsys, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// WithLogger returns a runner that logs every applied or reverted step.
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	if logger == nil {
		return r
	}
	return &Runner{fsys: r.fsys, logger: logger}
}

type ledgerEntry struct {
	checksum  string
	appliedAt string
}

func (r *Runner) prepare(ctx context.Context, db *sql.DB) ([]script, map[int64]ledgerEntry, error) {
	scripts, err := parseScripts(r.fsys)
	if err != nil {
		return nil, nil, err
	}
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+ledgerTable+` (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	checksum TEXT NOT NULL,
	applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
)`); err != nil {
		return nil, nil, fmt.Errorf("ensure migration ledger: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT version, checksum, applied_at FROM `+ledgerTable)
	if err != nil {
		return nil, nil, fmt.Errorf("read migration ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ledger := map[int64]ledgerEntry{}
	for rows.Next() {
		var version int64
		var entry ledgerEntry
		if err := rows.Scan(&version, &entry.checksum, &entry.appliedAt); err != nil {
			return nil, nil, fmt.Errorf("scan migration ledger: %w", err)
		}
		ledger[version] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("read migration ledger: %w", err)
	}
	return scripts, ledger, nil
}

func (r *Runner) Status(ctx context.Context, db *sql.DB) ([]Status, error) {
	scripts, ledger, err := r.prepare(ctx, db)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(scripts))
	for _, item := range scripts {
		status := Status{Version: item.Version, Name: item.Name}
		if entry, ok := ledger[item.Version]; ok {
			status.Applied = true
			status.AppliedAt = entry.appliedAt
			status.Drifted = entry.checksum != item.Checksum
		}
		out = append(out, status)
	}
	return out, nil
}

// Up applies pending migrations in version order; steps <= 0 applies all.
// It refuses to run when an applied script no longer matches its checksum.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	scripts, ledger, err := r.prepare(ctx, db)
	if err != nil {
		return 0, err
	}
	for _, item := range scripts {
		if entry, ok := ledger[item.Version]; ok && entry.checksum != item.Checksum {
			return 0, fmt.Errorf("migration %06d_%s: %w", item.Version, item.Name, ErrChecksumMismatch)
		}
	}

	count := 0
	for _, item := range scripts {
		if _, ok := ledger[item.Version]; ok {
			continue
		}
		if steps > 0 && count >= steps {
			break
		}
		err := r.step(ctx, db, item, item.Up,
			`INSERT INTO `+ledgerTable+` (version, name, checksum) VALUES (?, ?, ?)`,
			item.Version, item.Name, item.Checksum)
		if err != nil {
			return count, err
		}
		r.logger.InfoContext(ctx, "migration applied", slog.Int64("version", item.Version), slog.String("name", item.Name))
		count++
	}
	return count, nil
}

// Down reverts the newest applied migrations; steps <= 0 reverts one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	scripts, ledger, err := r.prepare(ctx, db)
	if err != nil {
		return 0, err
	}
	known := make(map[int64]script, len(scripts))
	for _, item := range scripts {
		known[item.Version] = item
	}
	applied := make([]int64, 0, len(ledger))
	for version := range ledger {
		applied = append(applied, version)
	}
	sort.Slice(applied, func(i, j int) bool { return applied[i] > applied[j] })

	count := 0
	for _, version := range applied {
		if count >= steps {
			break
		}
		item, ok := known[version]
		if !ok {
			return count, fmt.Errorf("applied migration %d has no script", version)
		}
		err := r.step(ctx, db, item, item.Down, `DELETE FROM `+ledgerTable+` WHERE version = ?`, item.Version)
		if err != nil {
			return count, err
		}
		r.logger.InfoContext(ctx, "migration reverted", slog.Int64("version", item.Version), slog.String("name", item.Name))
		count++
	}
	return count, nil
}

// step runs body and its ledger bookkeeping in one transaction.
func (r *Runner) step(ctx context.Context, db *sql.DB, item script, body, bookkeeping string, args ...any) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", item.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("migration %06d_%s: %w", item.Version, item.Name, err)
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return fmt.Errorf("record migration %d: %w", item.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", item.Version, err)
	}
	return nil
}

// parseScripts pairs up/down files by version. Both halves are required.
func parseScripts(fsys fs.FS) ([]script, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	byVersion := map[int64]*script{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := scriptNamePattern.FindStringSubmatch(path.Base(entry.Name()))
		if matches == nil {
			continue
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration version %q: %w", entry.Name(), err)
		}
		body, err := fs.ReadFile(fsys, path.Join("sql", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", entry.Name(), err)
		}

		item, ok := byVersion[version]
		if !ok {
			item = &script{Version: version, Name: matches[2]}
			byVersion[version] = item
		} else if item.Name != matches[2] {
			return nil, fmt.Errorf("migration %d has conflicting names %q and %q", version, item.Name, matches[2])
		}
		if matches[3] == "up" {
			item.Up = string(body)
		} else {
			item.Down = string(body)
		}
	}

	out := make([]script, 0, len(byVersion))
	for _, item := range byVersion {
		if strings.TrimSpace(item.Up) == "" {
			return nil, fmt.Errorf("migration %d missing up SQL", item.Version)
		}
		if strings.TrimSpace(item.Down) == "" {
			return nil, fmt.Errorf("migration %d missing down SQL", item.Version)
		}
		sum := sha256.Sum256([]byte(item.Up))
		item.Checksum = hex.EncodeToString(sum[:])
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
