// Package storage persists the engine's durable state in SQLite: the
// trajectory snapshot and other key/value blobs, the recent-sites history,
// and dispatched suggestion batches.
package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for key/value state, recent
// sites, and suggestion batches.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "nudge.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Key/Value ---

// GetValue reads one key. The second return is false when the key has never
// been written.
func (s *Store) GetValue(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetValue upserts one key.
func (s *Store) SetValue(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// --- Recent Sites ---

// SaveRecentSite upserts one visit. A repeat visit to the same URL bumps the
// visit count, accumulates dwell time, and refreshes the title and category.
func (s *Store) SaveRecentSite(site RecentSite) error {
	visitedAt := site.LastVisitedAt.UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO recent_sites (url, title, domain, category, duration_ms, visit_count, first_visited_at, last_visited_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			title = excluded.title,
			domain = excluded.domain,
			category = excluded.category,
			duration_ms = recent_sites.duration_ms + excluded.duration_ms,
			visit_count = recent_sites.visit_count + 1,
			last_visited_at = excluded.last_visited_at`,
		site.URL, site.Title, site.Domain, site.Category, site.DurationMs, visitedAt, visitedAt,
	)
	return err
}

// ListRecentSites returns up to limit sites, most recently visited first.
func (s *Store) ListRecentSites(limit int) ([]RecentSite, error) {
	rows, err := s.db.Query(`
		SELECT url, title, domain, category, duration_ms, visit_count, first_visited_at, last_visited_at
		FROM recent_sites ORDER BY last_visited_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RecentSite
	for rows.Next() {
		var site RecentSite
		var first, last string
		if err := rows.Scan(&site.URL, &site.Title, &site.Domain, &site.Category, &site.DurationMs, &site.VisitCount, &first, &last); err != nil {
			return nil, err
		}
		if site.FirstVisitedAt, err = time.Parse(time.RFC3339, first); err != nil {
			return nil, fmt.Errorf("parsing first_visited_at: %w", err)
		}
		if site.LastVisitedAt, err = time.Parse(time.RFC3339, last); err != nil {
			return nil, fmt.Errorf("parsing last_visited_at: %w", err)
		}
		results = append(results, site)
	}
	return results, rows.Err()
}

// DeleteRecentSitesBefore removes sites last visited before the cutoff and
// reports how many were removed.
func (s *Store) DeleteRecentSitesBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM recent_sites WHERE last_visited_at < ?", cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Suggestion Batches ---

func (s *Store) SaveSuggestionBatch(b SuggestionBatch) error {
	_, err := s.db.Exec(`
		INSERT INTO suggestion_batches (id, created_at, trigger_url, context_text, task_count, tasks_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.CreatedAt.UTC().Format(time.RFC3339), b.TriggerURL, b.ContextText, b.TaskCount, b.TasksJSON,
	)
	return err
}

func (s *Store) GetSuggestionBatch(id string) (SuggestionBatch, error) {
	var b SuggestionBatch
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, created_at, trigger_url, context_text, task_count, tasks_json
		FROM suggestion_batches WHERE id = ?`, id,
	).Scan(&b.ID, &createdAt, &b.TriggerURL, &b.ContextText, &b.TaskCount, &b.TasksJSON)
	if err == sql.ErrNoRows {
		return SuggestionBatch{}, ErrNotFound
	}
	if err != nil {
		return SuggestionBatch{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return SuggestionBatch{}, fmt.Errorf("parsing created_at: %w", err)
	}
	b.CreatedAt = t
	return b, nil
}

// ListSuggestionBatches returns up to limit batches, newest first.
func (s *Store) ListSuggestionBatches(limit int) ([]SuggestionBatch, error) {
	rows, err := s.db.Query(`
		SELECT id, created_at, trigger_url, context_text, task_count, tasks_json
		FROM suggestion_batches ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SuggestionBatch
	for rows.Next() {
		var b SuggestionBatch
		var createdAt string
		if err := rows.Scan(&b.ID, &createdAt, &b.TriggerURL, &b.ContextText, &b.TaskCount, &b.TasksJSON); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		b.CreatedAt = t
		results = append(results, b)
	}
	return results, rows.Err()
}

// DeleteSuggestionBatchesBefore removes batches created before the cutoff
// and reports how many were removed.
func (s *Store) DeleteSuggestionBatchesBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM suggestion_batches WHERE created_at < ?", cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
