// Package provider implements a SQLite-backed data provider and commit
// endpoint. The store keeps one row per node with its structural metadata
// and opaque payload; pre-order positions are materialized into a column
// so range loads stay a single indexed query.
package provider

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"arbor/internal/core/ports"
	"arbor/internal/core/structid"
)

const (
	driverName  = "sqlite"
	maxAttempts = 5
)

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
  id            TEXT PRIMARY KEY,
  parent_id     TEXT NOT NULL DEFAULT '',
  structure_id  TEXT NOT NULL,
  sort_key      TEXT NOT NULL DEFAULT '',
  kind          TEXT NOT NULL DEFAULT '',
  level         INTEGER NOT NULL DEFAULT 0,
  has_children  INTEGER NOT NULL DEFAULT 0,
  child_count   INTEGER NOT NULL DEFAULT 0,
  height        INTEGER NOT NULL DEFAULT 24,
  pre_order     INTEGER NOT NULL DEFAULT 0,
  payload       BLOB
);
CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent_id);
CREATE INDEX IF NOT EXISTS idx_nodes_level ON nodes(level);
CREATE INDEX IF NOT EXISTS idx_nodes_pre_order ON nodes(pre_order);

CREATE TABLE IF NOT EXISTS commits (
  request_id  TEXT NOT NULL,
  node_id     TEXT NOT NULL,
  old_id      TEXT NOT NULL,
  new_id      TEXT NOT NULL,
  applied_at  TEXT NOT NULL
);
`

// Store is both the ports.DataProvider and ports.CommitEndpoint over one
// SQLite file.
type Store struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
}

var (
	_ ports.DataProvider   = (*Store)(nil)
	_ ports.CommitEndpoint = (*Store)(nil)
)

func Open(path string) (*Store, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("store path must not be empty")
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, fmt.Errorf("store path %q is a directory, expected file", cleanPath)
	}

	dir := filepath.Dir(cleanPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory %q: %w", dir, err)
		}
	}

	// busy_timeout + WAL reduce lock conflicts between the reader side and
	// commit transactions.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(2000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cleanPath)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store %q: %w", cleanPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite store %q: %w", cleanPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sqlite schema %q: %w", cleanPath, err)
	}

	return &Store{path: cleanPath, db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Path() string {
	return s.path
}

const selectColumns = "id, parent_id, structure_id, sort_key, kind, level, has_children, child_count, height, payload"

func (s *Store) LoadChildren(ctx context.Context, parentID string) (ports.LoadResult, error) {
	return s.loadQuery(ctx,
		"SELECT "+selectColumns+" FROM nodes WHERE parent_id = ? ORDER BY pre_order", parentID)
}

func (s *Store) LoadLevel(ctx context.Context, level int) (ports.LoadResult, error) {
	return s.loadQuery(ctx,
		"SELECT "+selectColumns+" FROM nodes WHERE level = ? ORDER BY pre_order", level)
}

func (s *Store) LoadRange(ctx context.Context, from, to int) (ports.LoadResult, error) {
	if to < from {
		from, to = to, from
	}
	return s.loadQuery(ctx,
		"SELECT "+selectColumns+" FROM nodes WHERE pre_order BETWEEN ? AND ? ORDER BY pre_order", from, to)
}

// LoadByIDs fetches specific nodes; used to serve warm requests eagerly.
func (s *Store) LoadByIDs(ctx context.Context, ids []string) (ports.LoadResult, error) {
	if len(ids) == 0 {
		return ports.LoadResult{}, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return s.loadQuery(ctx,
		"SELECT "+selectColumns+" FROM nodes WHERE id IN ("+placeholders+") ORDER BY pre_order", args...)
}

func (s *Store) loadQuery(ctx context.Context, query string, args ...interface{}) (ports.LoadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return ports.LoadResult{}, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var result ports.LoadResult
	for rows.Next() {
		var r ports.Record
		var hasChildren int
		var structureID string
		if err := rows.Scan(&r.ID, &r.ParentID, &structureID, &r.SortKey, &r.Kind, &r.Level,
			&hasChildren, &r.ChildCount, &r.Height, &r.Payload); err != nil {
			return ports.LoadResult{}, fmt.Errorf("scan node row: %w", err)
		}
		r.StructureID = structid.ID(structureID)
		r.HasChildren = hasChildren != 0
		result.Records = append(result.Records, r)
	}
	if err := rows.Err(); err != nil {
		return ports.LoadResult{}, fmt.Errorf("iterate node rows: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM nodes").Scan(&result.TotalCount); err != nil {
		return ports.LoadResult{}, fmt.Errorf("count nodes: %w", err)
	}
	result.HasMore = len(result.Records) < result.TotalCount
	return result, nil
}

// Warm is a hint only. The store has everything local, so it just logs.
func (s *Store) Warm(ids []string) {
	slog.Debug("warm hint received", "count", len(ids))
}

// Commit applies a structure changeset in one transaction and records the
// audit rows. Implements ports.CommitEndpoint.
func (s *Store) Commit(ctx context.Context, requestID string, changes []ports.StructureChange) error {
	if len(changes) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.withRetry("commit changeset", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		now := time.Now().UTC().Format(time.RFC3339Nano)
		for _, change := range changes {
			if _, err := tx.ExecContext(ctx,
				"UPDATE nodes SET parent_id = ?, structure_id = ?, level = ? WHERE id = ?",
				change.NewParentID, string(change.NewStructureID),
				structid.Depth(change.NewStructureID), change.NodeID); err != nil {
				return fmt.Errorf("apply change for node %q: %w", change.NodeID, err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO commits (request_id, node_id, old_id, new_id, applied_at) VALUES (?, ?, ?, ?, ?)",
				requestID, change.NodeID, string(change.OldStructureID),
				string(change.NewStructureID), now); err != nil {
				return fmt.Errorf("record commit audit for node %q: %w", change.NodeID, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	return s.reindexLocked(ctx)
}

// Seed replaces the store contents with the given records and rebuilds
// pre-order positions.
func (s *Store) Seed(ctx context.Context, records []ports.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.withRetry("seed nodes", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, "DELETE FROM nodes"); err != nil {
			return err
		}
		for _, r := range records {
			hasChildren := 0
			if r.HasChildren {
				hasChildren = 1
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO nodes (id, parent_id, structure_id, sort_key, kind, level, has_children, child_count, height, payload) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
				r.ID, r.ParentID, string(r.StructureID), r.SortKey, r.Kind,
				structid.Depth(r.StructureID), hasChildren, r.ChildCount, r.Height, r.Payload); err != nil {
				return fmt.Errorf("insert node %q: %w", r.ID, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	return s.reindexLocked(ctx)
}

// reindexLocked recomputes pre_order from the structure ids. Caller holds mu.
func (s *Store) reindexLocked(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "SELECT id, structure_id FROM nodes")
	if err != nil {
		return fmt.Errorf("load ids for reindex: %w", err)
	}
	type pair struct {
		id  string
		sid structid.ID
	}
	pairs := make([]pair, 0, 256)
	for rows.Next() {
		var p pair
		var sid string
		if err := rows.Scan(&p.id, &sid); err != nil {
			rows.Close()
			return err
		}
		p.sid = structid.ID(sid)
		pairs = append(pairs, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	sort.Slice(pairs, func(i, j int) bool {
		return structid.Compare(pairs[i].sid, pairs[j].sid) < 0
	})

	return s.withRetry("reindex pre-order", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		for pos, p := range pairs {
			if _, err := tx.ExecContext(ctx,
				"UPDATE nodes SET pre_order = ? WHERE id = ?", pos, p.id); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// AllIDs returns the id → structure-id assignment for validation runs.
func (s *Store) AllIDs(ctx context.Context) (map[string]structid.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, structure_id FROM nodes")
	if err != nil {
		return nil, fmt.Errorf("load id assignment: %w", err)
	}
	defer rows.Close()

	assigned := make(map[string]structid.ID)
	for rows.Next() {
		var id, sid string
		if err := rows.Scan(&id, &sid); err != nil {
			return nil, err
		}
		assigned[id] = structid.ID(sid)
	}
	return assigned, rows.Err()
}

func (s *Store) withRetry(op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "locked") && !strings.Contains(err.Error(), "busy") {
			return err
		}
		slog.Warn("sqlite contention, retrying", "operation", op, "attempt", attempt, "error", err)
		time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", op, maxAttempts, err)
}
