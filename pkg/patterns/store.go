// Package patterns persists UI coordinates learned from successful
// vision-verified actions, keyed by layout/slot and viewport size.
// Serving a coordinate does not guarantee it still works; callers decide
// that with their own verification and delete entries proven stale.
package patterns

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

// Store wraps a SQLite database holding learned coordinate patterns.
// It is safe for concurrent use by multiple workflow runs; the single
// connection serializes writes, making upserts last-write-wins.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the pattern database in dataDir and runs
// pending migrations. Pass ":memory:" for an in-memory database.
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "patterns.db")
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

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
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

func (s *Store) migrate() error {
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

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

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

// --- Slot patterns ---

// GetSlot returns the learned pattern for a slot at the given viewport,
// atomically bumping hit_count and last_used. Returns ErrNotFound when
// nothing has been learned for the key.
func (s *Store) GetSlot(layout, slotID string, vw, vh int) (*SlotPattern, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning hit transaction: %w", err)
	}
	defer tx.Rollback()

	var p SlotPattern
	var lastUsed, createdAt string
	err = tx.QueryRow(`
		SELECT layout_name, slot_id, viewport_width, viewport_height,
		       x, y, width, height, center_x, center_y,
		       confidence, hit_count, last_used, created_at
		FROM slot_patterns
		WHERE layout_name = ? AND slot_id = ? AND viewport_width = ? AND viewport_height = ?`,
		layout, slotID, vw, vh,
	).Scan(&p.LayoutName, &p.SlotID, &p.ViewportWidth, &p.ViewportHeight,
		&p.Geometry.X, &p.Geometry.Y, &p.Geometry.Width, &p.Geometry.Height,
		&p.Geometry.CenterX, &p.Geometry.CenterY,
		&p.Confidence, &p.HitCount, &lastUsed, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(`
		UPDATE slot_patterns SET hit_count = hit_count + 1, last_used = ?
		WHERE layout_name = ? AND slot_id = ? AND viewport_width = ? AND viewport_height = ?`,
		now.Format(time.RFC3339Nano), layout, slotID, vw, vh,
	); err != nil {
		return nil, fmt.Errorf("recording hit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing hit: %w", err)
	}

	p.HitCount++
	p.LastUsed = now
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &p, nil
}

// PutSlot upserts the pattern for a slot. Last write wins for the same
// key; geometry is never merged or averaged.
func (s *Store) PutSlot(layout, slotID string, vw, vh int, geom Geometry, confidence float64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(`
		INSERT INTO slot_patterns
			(layout_name, slot_id, viewport_width, viewport_height,
			 x, y, width, height, center_x, center_y,
			 confidence, hit_count, last_used, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(layout_name, slot_id, viewport_width, viewport_height) DO UPDATE SET
			x = excluded.x, y = excluded.y,
			width = excluded.width, height = excluded.height,
			center_x = excluded.center_x, center_y = excluded.center_y,
			confidence = excluded.confidence,
			last_used = excluded.last_used`,
		layout, slotID, vw, vh,
		geom.X, geom.Y, geom.Width, geom.Height, geom.CenterX, geom.CenterY,
		confidence, now, now,
	)
	return err
}

// DeleteSlot removes a slot pattern, typically after a cached coordinate
// failed post-action verification.
func (s *Store) DeleteSlot(layout, slotID string, vw, vh int) error {
	res, err := s.db.Exec(`
		DELETE FROM slot_patterns
		WHERE layout_name = ? AND slot_id = ? AND viewport_width = ? AND viewport_height = ?`,
		layout, slotID, vw, vh,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Element patterns ---

// GetElement returns the learned pattern for a named UI element at the
// given viewport, bumping hit accounting like GetSlot.
func (s *Store) GetElement(name string, vw, vh int) (*UIElementPattern, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning hit transaction: %w", err)
	}
	defer tx.Rollback()

	var p UIElementPattern
	var lastUsed, createdAt string
	err = tx.QueryRow(`
		SELECT element_name, viewport_width, viewport_height,
		       x, y, width, height, center_x, center_y,
		       confidence, selector, hit_count, last_used, created_at
		FROM element_patterns
		WHERE element_name = ? AND viewport_width = ? AND viewport_height = ?`,
		name, vw, vh,
	).Scan(&p.ElementName, &p.ViewportWidth, &p.ViewportHeight,
		&p.Geometry.X, &p.Geometry.Y, &p.Geometry.Width, &p.Geometry.Height,
		&p.Geometry.CenterX, &p.Geometry.CenterY,
		&p.Confidence, &p.Selector, &p.HitCount, &lastUsed, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(`
		UPDATE element_patterns SET hit_count = hit_count + 1, last_used = ?
		WHERE element_name = ? AND viewport_width = ? AND viewport_height = ?`,
		now.Format(time.RFC3339Nano), name, vw, vh,
	); err != nil {
		return nil, fmt.Errorf("recording hit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing hit: %w", err)
	}

	p.HitCount++
	p.LastUsed = now
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &p, nil
}

// PutElement upserts the pattern for a named UI element.
func (s *Store) PutElement(name string, vw, vh int, geom Geometry, confidence float64, selector string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(`
		INSERT INTO element_patterns
			(element_name, viewport_width, viewport_height,
			 x, y, width, height, center_x, center_y,
			 confidence, selector, hit_count, last_used, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(element_name, viewport_width, viewport_height) DO UPDATE SET
			x = excluded.x, y = excluded.y,
			width = excluded.width, height = excluded.height,
			center_x = excluded.center_x, center_y = excluded.center_y,
			confidence = excluded.confidence,
			selector = excluded.selector,
			last_used = excluded.last_used`,
		name, vw, vh,
		geom.X, geom.Y, geom.Width, geom.Height, geom.CenterX, geom.CenterY,
		confidence, selector, now, now,
	)
	return err
}

// --- Maintenance ---

// Stats summarizes both pattern tables.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	var avgSlot, avgElem sql.NullFloat64
	var slotCount, elemCount, slotHits, elemHits int

	err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(hit_count), 0), AVG(confidence) FROM slot_patterns`,
	).Scan(&slotCount, &slotHits, &avgSlot)
	if err != nil {
		return Stats{}, err
	}
	err = s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(hit_count), 0), AVG(confidence) FROM element_patterns`,
	).Scan(&elemCount, &elemHits, &avgElem)
	if err != nil {
		return Stats{}, err
	}

	st.TotalPatterns = slotCount + elemCount
	st.TotalHits = slotHits + elemHits
	if st.TotalPatterns > 0 {
		st.AvgConfidence = (avgSlot.Float64*float64(slotCount) + avgElem.Float64*float64(elemCount)) / float64(st.TotalPatterns)
	}
	return st, nil
}

// EvictStale deletes patterns whose last_used precedes now-maxAge.
// Safe to run with an empty database or concurrently with reads.
func (s *Store) EvictStale(maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge).Format(time.RFC3339Nano)

	var total int64
	for _, table := range []string{"slot_patterns", "element_patterns"} {
		res, err := s.db.Exec("DELETE FROM "+table+" WHERE last_used < ?", cutoff)
		if err != nil {
			return int(total), fmt.Errorf("evicting from %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return int(total), err
		}
		total += n
	}
	return int(total), nil
}

// parseTime accepts both RFC3339 and RFC3339Nano values.
func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Parse(time.RFC3339, v)
	}
	return t, nil
}
