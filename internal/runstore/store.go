package runstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/motion.planner/internal/policy"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Run is one invocation of the planner over a sequence of batches.
type Run struct {
	RunID      string          `json:"run_id"`
	Variant    string          `json:"variant"`
	Seed       uint64          `json:"seed"`
	ConfigJSON json.RawMessage `json:"config_json,omitempty"`
	Notes      string          `json:"notes"`
	CreatedAt  int64           `json:"created_at"`
}

// BatchLoss is the loss dictionary of one batch.
type BatchLoss struct {
	RunID      string  `json:"run_id"`
	BatchIndex int     `json:"batch_index"`
	Pos        float64 `json:"pos"`
	Rot        float64 `json:"rot"`
	Open       float64 `json:"open"`
	Stop       float64 `json:"stop"`
	Total      float64 `json:"total"`
	CreatedAt  int64   `json:"created_at"`
}

// Losses converts the record back to the model's loss type.
func (b *BatchLoss) Losses() policy.Losses {
	return policy.Losses{Pos: b.Pos, Rot: b.Rot, Open: b.Open, Stop: b.Stop, Total: b.Total}
}

// ActionRecord is one decoded action row.
type ActionRecord struct {
	RunID       string     `json:"run_id"`
	BatchIndex  int        `json:"batch_index"`
	SampleIndex int        `json:"sample_index"`
	Step        int        `json:"step"`
	Position    [3]float64 `json:"position"`
	Quaternion  [4]float64 `json:"quaternion"` // qx qy qz qw
	OpenLogit   float64    `json:"open_logit"`
	StopLogit   float64    `json:"stop_logit"`
}

// Store persists runs, losses and actions.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database. The caller is responsible for running
// MigrateUp.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens (creating if needed) the database at path, applies the
// connection pragmas and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// A single connection keeps :memory: databases and pragmas consistent.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	s := NewStore(db)
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// InsertRun persists a new run. If RunID is empty, a UUID is generated.
func (s *Store) InsertRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().UnixNano()
	}

	var cfgStr interface{}
	if len(run.ConfigJSON) > 0 {
		cfgStr = string(run.ConfigJSON)
	}

	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO planner_runs (run_id, variant, seed, config_json, notes, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			run.RunID, run.Variant, int64(run.Seed), cfgStr, run.Notes, run.CreatedAt,
		)
		return err
	})
}

// GetRun returns a single run by ID.
func (s *Store) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT run_id, variant, seed, config_json, notes, created_at
		FROM planner_runs
		WHERE run_id = ?`, runID)

	r, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return r, nil
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns() ([]*Run, error) {
	rows, err := s.db.Query(`
		SELECT run_id, variant, seed, config_json, notes, created_at
		FROM planner_runs
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run together with its losses and actions.
func (s *Store) DeleteRun(runID string) error {
	return retryOnBusy(func() error {
		result, err := s.db.Exec(`DELETE FROM planner_runs WHERE run_id = ?`, runID)
		if err != nil {
			return fmt.Errorf("delete run: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("run %s not found", runID)
		}
		return nil
	})
}

// InsertLosses records the losses of batch batchIndex. Re-recording a batch
// replaces the earlier row.
func (s *Store) InsertLosses(runID string, batchIndex int, l policy.Losses) error {
	now := time.Now().UnixNano()
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT OR REPLACE INTO planner_batch_losses (
				run_id, batch_index, pos_loss, rot_loss, open_loss, stop_loss, total_loss, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, batchIndex, l.Pos, l.Rot, l.Open, l.Stop, l.Total, now,
		)
		return err
	})
}

// ListLosses returns the loss history of a run in batch order.
func (s *Store) ListLosses(runID string) ([]*BatchLoss, error) {
	rows, err := s.db.Query(`
		SELECT run_id, batch_index, pos_loss, rot_loss, open_loss, stop_loss, total_loss, created_at
		FROM planner_batch_losses
		WHERE run_id = ?
		ORDER BY batch_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("query losses: %w", err)
	}
	defer rows.Close()

	var out []*BatchLoss
	for rows.Next() {
		var b BatchLoss
		if err := rows.Scan(&b.RunID, &b.BatchIndex, &b.Pos, &b.Rot, &b.Open, &b.Stop, &b.Total, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan loss row: %w", err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// InsertActions stores every decoded action of pred in one transaction.
func (s *Store) InsertActions(runID string, batchIndex int, pred *policy.Prediction) error {
	if pred == nil || pred.Actions == nil {
		return fmt.Errorf("prediction has no decoded actions")
	}
	shape := pred.Shape()
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO planner_actions (
				run_id, batch_index, sample_index, step,
				x, y, z, qx, qy, qz, qw, open_logit, stop_logit
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for b := 0; b < shape[0]; b++ {
			for t := 0; t < shape[1]; t++ {
				a := pred.Action(b, t)
				if _, err := stmt.Exec(runID, batchIndex, b, t,
					a[0], a[1], a[2], a[3], a[4], a[5], a[6], a[7], a[8]); err != nil {
					return fmt.Errorf("insert action (%d,%d): %w", b, t, err)
				}
			}
		}
		return tx.Commit()
	})
}

// ListActions returns the actions of one batch ordered by sample then step.
func (s *Store) ListActions(runID string, batchIndex int) ([]*ActionRecord, error) {
	rows, err := s.db.Query(`
		SELECT run_id, batch_index, sample_index, step,
		       x, y, z, qx, qy, qz, qw, open_logit, stop_logit
		FROM planner_actions
		WHERE run_id = ? AND batch_index = ?
		ORDER BY sample_index, step`, runID, batchIndex)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var out []*ActionRecord
	for rows.Next() {
		var a ActionRecord
		if err := rows.Scan(&a.RunID, &a.BatchIndex, &a.SampleIndex, &a.Step,
			&a.Position[0], &a.Position[1], &a.Position[2],
			&a.Quaternion[0], &a.Quaternion[1], &a.Quaternion[2], &a.Quaternion[3],
			&a.OpenLogit, &a.StopLogit); err != nil {
			return nil, fmt.Errorf("scan action row: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var seed int64
	var cfgStr sql.NullString
	if err := row.Scan(&r.RunID, &r.Variant, &seed, &cfgStr, &r.Notes, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Seed = uint64(seed)
	if cfgStr.Valid {
		r.ConfigJSON = json.RawMessage(cfgStr.String)
	}
	return &r, nil
}
