// Package storage provides the engine's durable SQLite-backed state: the
// outcome log (every TradeOutcome ever emitted, for operator auditing and
// EventSink replay) and the idempotency ledger (durable records of
// (master_signature, follower_id) keys). The Coordinator deduplicates with
// its in-memory LRU only and does not read or write this ledger.
// Mirrors the teacher's internal/storage: a single *sql.DB in WAL mode
// with exactly one writer connection.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/copytrade/engine/internal/model"
)

// Storage is the engine's durable ledger.
type Storage struct {
	db     *sql.DB
	dbPath string
}

// Config configures Storage.
type Config struct {
	// DataDir is the directory the database file lives under.
	DataDir string

	// FileName overrides the database file name (default "copytrade.db").
	FileName string
}

// New opens (creating if needed) the ledger database under cfg.DataDir.
func New(cfg Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("storage: create data directory: %w", err)
	}

	fileName := cfg.FileName
	if fileName == "" {
		fileName = "copytrade.db"
	}
	dbPath := filepath.Join(dataDir, fileName)

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping database: %w", err)
	}

	// SQLite only supports one writer; keep the pool to a single
	// connection so writes serialize instead of contending for the file
	// lock under concurrent follower goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: init schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying connection, for callers (e.g. configstore)
// that want to share the same file/connection pool.
func (s *Storage) DB() *sql.DB {
	return s.db
}

func (s *Storage) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS idempotency_keys (
		key        TEXT PRIMARY KEY,
		plan_id    TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_outcomes (
		plan_id             TEXT PRIMARY KEY,
		submitted_signature TEXT,
		status              TEXT NOT NULL,
		skip_reason         TEXT,
		error_kind          TEXT,
		program_log_tail    TEXT,
		latency_json        TEXT,
		emitted_at          INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trade_outcomes_status ON trade_outcomes(status);
	CREATE INDEX IF NOT EXISTS idx_trade_outcomes_emitted_at ON trade_outcomes(emitted_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordIdempotencyKey durably records a (master_signature, follower_id)
// key with its plan id, reporting fresh=false when the key was already
// present. A duplicate insert is a no-op (same semantics as the
// Coordinator's in-memory check).
func (s *Storage) RecordIdempotencyKey(key, planID string) (fresh bool, err error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO idempotency_keys (key, plan_id, created_at) VALUES (?, ?, ?)`,
		key, planID, time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("storage: record idempotency key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SeenIdempotencyKey reports whether key has already been recorded.
func (s *Storage) SeenIdempotencyKey(key string) (bool, error) {
	var planID string
	err := s.db.QueryRow(`SELECT plan_id FROM idempotency_keys WHERE key = ?`, key).Scan(&planID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: check idempotency key: %w", err)
	}
	return true, nil
}

// PruneIdempotencyKeysOlderThan deletes ledger rows older than cutoff,
// bounding the table's growth the way the in-memory LRU bounds its own.
func (s *Storage) PruneIdempotencyKeysOlderThan(cutoff time.Time) error {
	_, err := s.db.Exec(`DELETE FROM idempotency_keys WHERE created_at < ?`, cutoff.Unix())
	return err
}

// RecordOutcome persists a TradeOutcome, overwriting any prior row for
// the same PlanID (the executor emits exactly one, but EventSink delivery
// is at-least-once per spec §6, so this call may legitimately repeat).
func (s *Storage) RecordOutcome(outcome *model.TradeOutcome) error {
	latencyJSON, err := json.Marshal(outcome.Latency)
	if err != nil {
		return fmt.Errorf("storage: marshal latency: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO trade_outcomes (plan_id, submitted_signature, status, skip_reason, error_kind, program_log_tail, latency_json, emitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(plan_id) DO UPDATE SET
			submitted_signature = excluded.submitted_signature,
			status              = excluded.status,
			skip_reason         = excluded.skip_reason,
			error_kind          = excluded.error_kind,
			program_log_tail    = excluded.program_log_tail,
			latency_json        = excluded.latency_json,
			emitted_at          = excluded.emitted_at`,
		outcome.PlanID,
		outcome.SubmittedSignature,
		string(outcome.Status),
		string(outcome.SkipReason),
		outcome.ErrorKind,
		strings.Join(outcome.ProgramLogTail, "\n"),
		string(latencyJSON),
		outcome.EmittedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("storage: record outcome: %w", err)
	}
	return nil
}

// OutcomeByPlanID fetches a previously recorded outcome, or (nil, nil) if
// none exists.
func (s *Storage) OutcomeByPlanID(planID string) (*model.TradeOutcome, error) {
	row := s.db.QueryRow(
		`SELECT plan_id, submitted_signature, status, skip_reason, error_kind, program_log_tail, latency_json, emitted_at
		 FROM trade_outcomes WHERE plan_id = ?`, planID)

	var (
		out         model.TradeOutcome
		status      string
		skipReason  string
		logTail     string
		latencyJSON string
		emittedAt   int64
	)
	err := row.Scan(&out.PlanID, &out.SubmittedSignature, &status, &skipReason, &out.ErrorKind, &logTail, &latencyJSON, &emittedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: fetch outcome: %w", err)
	}

	out.Status = model.OutcomeStatus(status)
	out.SkipReason = model.SkipReason(skipReason)
	out.EmittedAt = time.Unix(emittedAt, 0)
	if logTail != "" {
		out.ProgramLogTail = strings.Split(logTail, "\n")
	}
	if latencyJSON != "" {
		if err := json.Unmarshal([]byte(latencyJSON), &out.Latency); err != nil {
			return nil, fmt.Errorf("storage: unmarshal latency: %w", err)
		}
	}
	return &out, nil
}

// CountByStatus returns the number of recorded outcomes for a status,
// used by the control server's snapshot-metrics command.
func (s *Storage) CountByStatus(status model.OutcomeStatus) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM trade_outcomes WHERE status = ?`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count by status: %w", err)
	}
	return n, nil
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
