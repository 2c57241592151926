package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/tripsitter/internal/domain"
	"github.com/ashureev/tripsitter/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const maxListLimit = 100

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	payloadMu sync.Mutex // serializes read-modify-write of session payloads
	retry     shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		substance TEXT NOT NULL,
		substance_name TEXT NOT NULL,
		model TEXT NOT NULL,
		agent_id TEXT,
		agent_name TEXT NOT NULL DEFAULT '',
		onset TEXT NOT NULL,
		peak TEXT NOT NULL,
		comedown TEXT NOT NULL,
		chaos_level INTEGER NOT NULL,
		rating INTEGER NOT NULL,
		would_repeat INTEGER NOT NULL,
		summary TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_substance ON sessions(substance);
	CREATE INDEX IF NOT EXISTS idx_sessions_model ON sessions(model);

	CREATE TABLE IF NOT EXISTS rate_limits (
		scope TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 0,
		last_reset TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		api_key TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		trips_today INTEGER NOT NULL DEFAULT 0,
		last_trip_date TEXT,
		created_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// InsertSession stores a finished trip and returns its generated id.
func (s *SQLiteStore) InsertSession(ctx context.Context, rec *domain.Record) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Payload == nil {
		rec.Payload = map[string]any{}
	}

	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	var agentID interface{}
	if rec.AgentID != nil {
		agentID = *rec.AgentID
	}

	query := `
	INSERT INTO sessions (
		id, substance, substance_name, model, agent_id, agent_name,
		onset, peak, comedown, chaos_level,
		rating, would_repeat, summary, payload, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	err = shared.RetryOnConflict(ctx, s.retry, "insert_session", func() error {
		_, execErr := s.db.ExecContext(ctx, query,
			rec.ID, rec.ScenarioID, rec.ScenarioName, rec.ModelID, agentID, rec.AgentName,
			rec.Onset, rec.Peak, rec.Comedown, rec.Intensity,
			rec.Rating.Rating, rec.Rating.WouldRepeat, rec.Rating.Summary, string(payload),
			rec.CreatedAt.Unix(),
		)
		return execErr
	})
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return rec.ID, nil
}

const sessionColumns = `
	id, substance, substance_name, model, agent_id, agent_name,
	onset, peak, comedown, chaos_level,
	rating, would_repeat, summary, payload, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Record, error) {
	var rec domain.Record
	var agentID sql.NullString
	var payload string
	var createdAt int64

	if err := row.Scan(
		&rec.ID, &rec.ScenarioID, &rec.ScenarioName, &rec.ModelID, &agentID, &rec.AgentName,
		&rec.Onset, &rec.Peak, &rec.Comedown, &rec.Intensity,
		&rec.Rating.Rating, &rec.Rating.WouldRepeat, &rec.Rating.Summary, &payload, &createdAt,
	); err != nil {
		return nil, err
	}

	if agentID.Valid {
		id := agentID.String
		rec.AgentID = &id
	}
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.Payload = map[string]any{}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
			return nil, fmt.Errorf("decode payload for %s: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

// GetSession retrieves a trip by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	rec, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return rec, nil
}

// ListSessions returns trips matching the filter.
func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*domain.Record, error) {
	var where []string
	var args []interface{}

	if filter.ScenarioID != "" {
		where = append(where, "substance = ?")
		args = append(args, filter.ScenarioID)
	}
	if filter.ModelID != "" {
		where = append(where, "model = ?")
		args = append(args, filter.ModelID)
	}
	if filter.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.NotableOnly {
		where = append(where, "json_extract(payload, '$.notable') = 1")
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}

	switch filter.Sort {
	case SortVotes:
		query += ` ORDER BY COALESCE(json_extract(payload, '$.upvotes'), 0) DESC, created_at DESC, rowid DESC`
	case SortIntensity:
		query += ` ORDER BY chaos_level DESC, created_at DESC, rowid DESC`
	default:
		query += ` ORDER BY created_at DESC, rowid DESC`
	}

	limit := filter.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var out []*domain.Record
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// UpdatePayload applies mutate to the stored payload of a trip.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) UpdatePayload(ctx context.Context, id string, mutate PayloadMutator) error {
	s.payloadMu.Lock()
	defer s.payloadMu.Unlock()

	return shared.RetryOnConflict(ctx, s.retry, "update_payload", func() error {
		return s.updatePayloadOnce(ctx, id, mutate)
	})
}

func (s *SQLiteStore) updatePayloadOnce(ctx context.Context, id string, mutate PayloadMutator) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin payload tx: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			slog.Warn("failed to roll back payload tx", "error", rbErr, "session_id", id)
		}
	}()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT payload FROM sessions WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	payload := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}
	if err := mutate(payload); err != nil {
		return err
	}

	updated, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET payload = ? WHERE id = ?`, string(updated), id); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return tx.Commit()
}

// CreateAgent stores a newly registered agent.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *domain.Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}

	query := `
	INSERT INTO agents (id, api_key, name, description, trips_today, last_trip_date, created_at)
	VALUES (?, ?, ?, ?, 0, NULL, ?)`

	_, err := s.db.ExecContext(ctx, query,
		agent.ID, agent.Key, agent.Name, agent.Description, agent.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

const agentColumns = `id, api_key, name, description, trips_today, last_trip_date, created_at`

func scanAgent(row rowScanner) (*domain.Agent, error) {
	var agent domain.Agent
	var lastTrip sql.NullString
	var createdAt int64

	if err := row.Scan(
		&agent.ID, &agent.Key, &agent.Name, &agent.Description,
		&agent.TripsToday, &lastTrip, &createdAt,
	); err != nil {
		return nil, err
	}
	agent.LastTripDate = lastTrip.String
	agent.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &agent, nil
}

// GetAgent retrieves an agent by id.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	agent, err := scanAgent(s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	return agent, nil
}

// GetAgentByKey retrieves an agent by credential.
func (s *SQLiteStore) GetAgentByKey(ctx context.Context, key string) (*domain.Agent, error) {
	agent, err := scanAgent(s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE api_key = ?`, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	return agent, nil
}

// ResetAgentTrips zeroes an agent's daily count if its day marker differs from day.
// The conditional update makes the reset happen once per day even when
// several requests race past the boundary.
func (s *SQLiteStore) ResetAgentTrips(ctx context.Context, agentID, day string) error {
	query := `
	UPDATE agents SET trips_today = 0, last_trip_date = ?
	WHERE id = ? AND (last_trip_date IS NULL OR last_trip_date != ?)`

	err := shared.RetryOnConflict(ctx, s.retry, "reset_agent_trips", func() error {
		_, execErr := s.db.ExecContext(ctx, query, day, agentID, day)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("reset agent trips: %w", err)
	}
	return nil
}

// IncrementAgentTrips adds one trip for day and returns the new count.
func (s *SQLiteStore) IncrementAgentTrips(ctx context.Context, agentID, day string) (int, error) {
	query := `
	UPDATE agents SET
		trips_today = CASE WHEN last_trip_date = ? THEN trips_today + 1 ELSE 1 END,
		last_trip_date = ?
	WHERE id = ?
	RETURNING trips_today`

	var count int
	err := shared.RetryOnConflict(ctx, s.retry, "increment_agent_trips", func() error {
		return s.db.QueryRowContext(ctx, query, day, day, agentID).Scan(&count)
	})
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment agent trips: %w", err)
	}
	return count, nil
}

// GetRateLimit retrieves a global counter.
func (s *SQLiteStore) GetRateLimit(ctx context.Context, scope string) (*domain.RateCounter, error) {
	row := s.db.QueryRowContext(ctx, `SELECT scope, count, last_reset FROM rate_limits WHERE scope = ?`, scope)

	var c domain.RateCounter
	err := row.Scan(&c.Scope, &c.Count, &c.Day)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan rate limit: %w", err)
	}
	return &c, nil
}

// ResetRateLimit zeroes a global counter if its day marker differs from day,
// creating the row when it does not exist yet.
func (s *SQLiteStore) ResetRateLimit(ctx context.Context, scope, day string) error {
	query := `
	INSERT INTO rate_limits (scope, count, last_reset) VALUES (?, 0, ?)
	ON CONFLICT(scope) DO UPDATE SET count = 0, last_reset = excluded.last_reset
	WHERE rate_limits.last_reset != excluded.last_reset`

	err := shared.RetryOnConflict(ctx, s.retry, "reset_rate_limit", func() error {
		_, execErr := s.db.ExecContext(ctx, query, scope, day)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("reset rate limit: %w", err)
	}
	return nil
}

// IncrementRateLimit adds one to a global counter for day and returns the new count.
func (s *SQLiteStore) IncrementRateLimit(ctx context.Context, scope, day string) (int, error) {
	query := `
	INSERT INTO rate_limits (scope, count, last_reset) VALUES (?, 1, ?)
	ON CONFLICT(scope) DO UPDATE SET
		count = CASE WHEN rate_limits.last_reset = excluded.last_reset THEN rate_limits.count + 1 ELSE 1 END,
		last_reset = excluded.last_reset
	RETURNING count`

	var count int
	err := shared.RetryOnConflict(ctx, s.retry, "increment_rate_limit", func() error {
		return s.db.QueryRowContext(ctx, query, scope, day).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("increment rate limit: %w", err)
	}
	return count, nil
}

var _ Repository = (*SQLiteStore)(nil)
