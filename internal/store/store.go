// Package store persists run history in a local SQLite database.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"radar/internal/core"
)

// Store is the SQLite-backed run history.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a store instance, creating the database file under
// dataDir if needed.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "radar.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:   db,
		path: dbPath,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

// initialize creates the necessary tables
func (s *Store) initialize() error {
	runsTable := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		generated_at DATETIME,
		total_articles INTEGER,
		window_hours INTEGER,
		degraded INTEGER,
		processing_time REAL,
		story_count INTEGER
	);`

	storiesTable := `
	CREATE TABLE IF NOT EXISTS stories (
		id TEXT PRIMARY KEY,
		run_id TEXT,
		position INTEGER,
		cluster_id TEXT,
		headline TEXT,
		overall REAL,
		article_count INTEGER,
		has_deep_research INTEGER,
		payload TEXT,
		FOREIGN KEY (run_id) REFERENCES runs (id)
	);`

	tables := []string{runsTable, storiesTable}
	for _, table := range tables {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun persists a completed run and its stories, returning the run ID.
func (s *Store) SaveRun(result *core.RunResult) (string, error) {
	runID := uuid.NewString()

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
	INSERT INTO runs (id, generated_at, total_articles, window_hours, degraded, processing_time, story_count)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID,
		result.GeneratedAt,
		result.TotalArticlesProcessed,
		result.TimeWindowHours,
		boolToInt(result.DedupDegraded),
		result.ProcessingTime,
		len(result.Stories),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	for rank, st := range result.Stories {
		payload, err := json.Marshal(st)
		if err != nil {
			return "", fmt.Errorf("failed to encode story %s: %w", st.ID, err)
		}

		_, err = tx.Exec(`
		INSERT OR REPLACE INTO stories (id, run_id, position, cluster_id, headline, overall, article_count, has_deep_research, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			st.ID,
			runID,
			rank,
			st.ClusterID,
			st.Headline,
			st.Hotness.Overall,
			st.ArticleCount,
			boolToInt(st.HasDeepResearch),
			string(payload),
		)
		if err != nil {
			return "", fmt.Errorf("failed to insert story %s: %w", st.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run: %w", err)
	}

	return runID, nil
}

// RunSummary is the run-level metadata listed without story payloads.
type RunSummary struct {
	ID             string    `json:"id"`
	GeneratedAt    time.Time `json:"generated_at"`
	TotalArticles  int       `json:"total_articles"`
	WindowHours    int       `json:"window_hours"`
	Degraded       bool      `json:"degraded"`
	ProcessingTime float64   `json:"processing_time_seconds"`
	StoryCount     int       `json:"story_count"`
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
	SELECT id, generated_at, total_articles, window_hours, degraded, processing_time, story_count
	FROM runs ORDER BY generated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		var degraded int
		if err := rows.Scan(&r.ID, &r.GeneratedAt, &r.TotalArticles, &r.WindowHours, &degraded, &r.ProcessingTime, &r.StoryCount); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Degraded = degraded != 0
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// GetRun reassembles a full run result from the database. Returns nil when
// the run does not exist.
func (s *Store) GetRun(runID string) (*core.RunResult, error) {
	row := s.db.QueryRow(`
	SELECT generated_at, total_articles, window_hours, degraded, processing_time
	FROM runs WHERE id = ?`, runID)

	var result core.RunResult
	var degraded int
	err := row.Scan(&result.GeneratedAt, &result.TotalArticlesProcessed, &result.TimeWindowHours, &degraded, &result.ProcessingTime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	result.DedupDegraded = degraded != 0

	rows, err := s.db.Query(`SELECT payload FROM stories WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stories: %w", err)
	}
	defer rows.Close()

	result.Stories = []core.Story{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan story: %w", err)
		}
		var st core.Story
		if err := json.Unmarshal([]byte(payload), &st); err != nil {
			return nil, fmt.Errorf("failed to decode story: %w", err)
		}
		result.Stories = append(result.Stories, st)
	}

	return &result, rows.Err()
}

// LastRun returns the most recent run, or nil when no run has been saved.
func (s *Store) LastRun() (*core.RunResult, error) {
	var runID string
	err := s.db.QueryRow(`SELECT id FROM runs ORDER BY generated_at DESC LIMIT 1`).Scan(&runID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find last run: %w", err)
	}
	return s.GetRun(runID)
}

// PruneRuns deletes all but the newest keep runs along with their stories.
func (s *Store) PruneRuns(keep int) error {
	if keep <= 0 {
		return nil
	}

	_, err := s.db.Exec(`
	DELETE FROM stories WHERE run_id NOT IN (
		SELECT id FROM runs ORDER BY generated_at DESC LIMIT ?
	)`, keep)
	if err != nil {
		return fmt.Errorf("failed to prune stories: %w", err)
	}

	_, err = s.db.Exec(`
	DELETE FROM runs WHERE id NOT IN (
		SELECT id FROM runs ORDER BY generated_at DESC LIMIT ?
	)`, keep)
	if err != nil {
		return fmt.Errorf("failed to prune runs: %w", err)
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
