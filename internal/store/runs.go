package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Run statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Run is one recorded migration.
type Run struct {
	ID         string   `json:"id"`
	SourcePath string   `json:"source_path"`
	OutputDir  string   `json:"output_dir"`
	Agent      string   `json:"agent"`
	Layout     string   `json:"layout"`
	Digest     string   `json:"digest"`
	RuleCount  int      `json:"rule_count"`
	AICount    int      `json:"ai_count"`
	Status     string   `json:"status"`
	CreatedAt  string   `json:"created_at"`
	Warnings   []string `json:"warnings"`
}

// Artifact is one generated file of a run. Content is empty in listings.
type Artifact struct {
	RunID   string `json:"run_id"`
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	Digest  string `json:"digest"`
	Size    int    `json:"size"`
}

const runColumns = "id, source_path, output_dir, agent, layout, digest, rule_count, ai_count, status, created_at, warnings_json"

// SaveRun records run and its artifacts in one transaction. An empty ID is
// filled with a new UUID and an empty CreatedAt with the current time.
func (s *Store) SaveRun(run *Run, artifacts []Artifact) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt == "" {
		run.CreatedAt = Now()
	}
	if run.Status == "" {
		run.Status = StatusOK
	}
	warnings := run.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	wj, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}

	err = s.WithTransaction(func(tx *Store) error {
		if _, err := tx.q.Exec(`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.SourcePath, run.OutputDir, run.Agent, run.Layout, run.Digest,
			run.RuleCount, run.AICount, run.Status, run.CreatedAt, string(wj)); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		for _, a := range artifacts {
			if _, err := tx.q.Exec(`INSERT INTO artifacts (run_id, path, content, digest) VALUES (?, ?, ?, ?)
				ON CONFLICT(run_id, path) DO UPDATE SET content=excluded.content, digest=excluded.digest`,
				run.ID, a.Path, a.Content, a.Digest); err != nil {
				return fmt.Errorf("insert artifact %s: %w", a.Path, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("store.save", "run", run.ID, "agent", run.Agent, "artifacts", len(artifacts))
	return nil
}

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var r Run
	var wj string
	if err := row.Scan(&r.ID, &r.SourcePath, &r.OutputDir, &r.Agent, &r.Layout, &r.Digest,
		&r.RuleCount, &r.AICount, &r.Status, &r.CreatedAt, &wj); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(wj), &r.Warnings); err != nil {
		r.Warnings = nil
	}
	return &r, nil
}

// GetRun returns the run with the given ID.
func (s *Store) GetRun(id string) (*Run, error) {
	r, err := scanRun(s.q.QueryRow("SELECT "+runColumns+" FROM runs WHERE id=?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return r, err
}

// LatestRun returns the most recent run.
func (s *Store) LatestRun() (*Run, error) {
	r, err := scanRun(s.q.QueryRow("SELECT " + runColumns + " FROM runs ORDER BY created_at DESC, rowid DESC LIMIT 1"))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest run: %w", ErrNotFound)
	}
	return r, err
}

// ListRuns returns up to limit runs, newest first. A limit of zero or less
// returns every run.
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.q.Query("SELECT "+runColumns+" FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetArtifact returns one generated file with its content.
func (s *Store) GetArtifact(runID, path string) (*Artifact, error) {
	a := Artifact{RunID: runID, Path: path}
	err := s.q.QueryRow("SELECT content, digest FROM artifacts WHERE run_id=? AND path=?", runID, path).
		Scan(&a.Content, &a.Digest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("artifact %s in run %s: %w", path, runID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	a.Size = len(a.Content)
	return &a, nil
}

// ListArtifacts returns the files of a run ordered by path, without content.
func (s *Store) ListArtifacts(runID string) ([]Artifact, error) {
	rows, err := s.q.Query("SELECT path, digest, length(CAST(content AS BLOB)) FROM artifacts WHERE run_id=? ORDER BY path", runID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()
	var out []Artifact
	for rows.Next() {
		a := Artifact{RunID: runID}
		if err := rows.Scan(&a.Path, &a.Digest, &a.Size); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
