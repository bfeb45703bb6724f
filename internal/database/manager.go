package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	dbconfig "discussionhub/pkg/database"
	"discussionhub/pkg/interfaces"
	"discussionhub/pkg/types"
)

var _ interfaces.Store = (*Manager)(nil)

const (
	sessionColumns = `id, title, description, type, status, room_id, shareable_link,
		scheduled_time, duration_minutes, created_by, participants, analysis, created_at`

	busyRetryDelay = 250 * time.Millisecond
)

// Manager is the SQLite-backed session and transcript store. Reads run
// concurrently on the pool; every write goes through one writer goroutine.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *slog.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	stopped      chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer. Call Migrate before
// serving traffic.
func NewManager(config *dbconfig.Config, logger *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.With("component", "database"),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		stopped:      make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// Migrate applies pending embedded migrations and validates the result.
func (m *Manager) Migrate(ctx context.Context) error {
	migrations := dbconfig.NewMigrationManager(m.db, dbconfig.EmbeddedMigrations())
	if err := migrations.ApplyMigrations(ctx); err != nil {
		return err
	}
	if err := dbconfig.NewSchemaValidator(m.db).Validate(ctx); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	versions, err := migrations.AppliedVersions(ctx)
	if err != nil {
		return err
	}
	m.logger.Info("database migrations applied", "versions", versions)
	return nil
}

// writeLoop runs every write operation in order. Busy or locked errors are
// retried once; anything else goes straight back to the caller.
func (m *Manager) writeLoop() {
	defer m.wg.Done()
	defer close(m.stopped)

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if isBusy(err) {
				m.logger.Warn("database busy, retrying write", "error", err)
				time.Sleep(busyRetryDelay)
				err = op.operation(m.db)
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug("write loop shutting down")
			return
		}
	}
}

func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("%w: database manager is closed", types.ErrPersistence)
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(m.config.WriteTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timer.C:
		return fmt.Errorf("%w: write operation timeout", types.ErrPersistence)
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return fmt.Errorf("%w: database manager is shutting down", types.ErrPersistence)
	}

	// Once queued the operation may commit, so only its own result counts.
	select {
	case err := <-result:
		return err
	case <-m.stopped:
		select {
		case err := <-result:
			return err
		default:
			return fmt.Errorf("%w: database manager is shutting down", types.ErrPersistence)
		}
	}
}

// CreateSession inserts a new session record.
func (m *Manager) CreateSession(ctx context.Context, session *types.Session) error {
	participants, err := json.Marshal(session.Participants)
	if err != nil {
		return fmt.Errorf("failed to marshal participants: %w", err)
	}
	analysis, err := marshalAnalysis(session.Analysis)
	if err != nil {
		return err
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO sessions (`+sessionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			session.ID,
			session.Title,
			session.Description,
			session.Type,
			session.Status,
			session.RoomID,
			session.ShareableLink,
			session.ScheduledTime.UTC(),
			session.DurationMinutes,
			session.CreatedBy,
			string(participants),
			analysis,
			session.CreatedAt.UTC(),
		)
		if isUniqueViolation(err, "sessions.room_id") {
			return fmt.Errorf("%w: %s", interfaces.ErrRoomIDTaken, session.RoomID)
		}
		if err != nil {
			return fmt.Errorf("%w: failed to insert session: %w", types.ErrPersistence, err)
		}
		return nil
	})
}

// GetSession retrieves a session by ID
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID)
	return scanSession(row)
}

// GetSessionByRoom retrieves the session owning roomID.
func (m *Manager) GetSessionByRoom(ctx context.Context, roomID string) (*types.Session, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE room_id = ?`, roomID)
	return scanSession(row)
}

// ListSessions returns every session, newest first.
func (m *Manager) ListSessions(ctx context.Context) ([]*types.Session, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query sessions: %w", types.ErrPersistence, err)
	}
	defer func() { _ = rows.Close() }()

	sessions := make([]*types.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating session rows: %w", types.ErrPersistence, err)
	}
	return sessions, nil
}

// UpdateStatus moves sessionID from one status to another if it is still in from.
func (m *Manager) UpdateStatus(ctx context.Context, sessionID string, from, to types.SessionStatus) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE sessions SET status = ? WHERE id = ? AND status = ?`,
			to, sessionID, from)
		if err != nil {
			return fmt.Errorf("%w: failed to update session status: %w", types.ErrPersistence, err)
		}
		return m.checkCompareAndSet(ctx, db, res, sessionID)
	})
}

// AttachAnalysis stores the analysis and marks an in_progress session completed
// in a single statement.
func (m *Manager) AttachAnalysis(ctx context.Context, sessionID string, analysis *types.SessionAnalysis) error {
	if analysis == nil {
		return fmt.Errorf("%w: analysis is required", types.ErrValidation)
	}
	payload, err := marshalAnalysis(analysis)
	if err != nil {
		return err
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE sessions SET status = ?, analysis = ? WHERE id = ? AND status = ?`,
			types.StatusCompleted, payload, sessionID, types.StatusInProgress)
		if err != nil {
			return fmt.Errorf("%w: failed to attach analysis: %w", types.ErrPersistence, err)
		}
		return m.checkCompareAndSet(ctx, db, res, sessionID)
	})
}

func (m *Manager) checkCompareAndSet(ctx context.Context, db *sql.DB, res sql.Result, sessionID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrPersistence, err)
	}
	if affected > 0 {
		return nil
	}

	var exists int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrPersistence, err)
	}
	if exists == 0 {
		return types.ErrSessionNotFound
	}
	return interfaces.ErrStatusConflict
}

// AppendMessage persists msg, assigning its ID and Timestamp. The session
// lookup and insert run on the writer so appends are totally ordered.
func (m *Manager) AppendMessage(ctx context.Context, msg *types.Message) (*types.Message, error) {
	stored := *msg
	stored.ID = uuid.NewString()
	if stored.Kind == "" {
		stored.Kind = types.KindText
	}

	err := m.executeWrite(ctx, func(db *sql.DB) error {
		var exists int
		if err := db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sessions WHERE id = ?`, stored.SessionID).Scan(&exists); err != nil {
			return fmt.Errorf("%w: %w", types.ErrPersistence, err)
		}
		if exists == 0 {
			return types.ErrSessionNotFound
		}

		stored.Timestamp = time.Now().UTC()
		_, err := db.ExecContext(ctx, `
			INSERT INTO messages (id, session_id, sender_id, sender_name, sender_type, content, kind, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			stored.ID,
			stored.SessionID,
			stored.SenderID,
			stored.SenderName,
			stored.SenderType,
			stored.Content,
			stored.Kind,
			stored.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("%w: failed to insert message: %w", types.ErrPersistence, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// ListBySession returns the session's transcript in append order.
func (m *Manager) ListBySession(ctx context.Context, sessionID string) ([]*types.Message, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, session_id, sender_id, sender_name, sender_type, content, kind, timestamp
		FROM messages
		WHERE session_id = ?
		ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query transcript: %w", types.ErrPersistence, err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]*types.Message, 0)
	for rows.Next() {
		var msg types.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.SessionID,
			&msg.SenderID,
			&msg.SenderName,
			&msg.SenderType,
			&msg.Content,
			&msg.Kind,
			&msg.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("%w: failed to scan message row: %w", types.ErrPersistence, err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating message rows: %w", types.ErrPersistence, err)
	}
	return messages, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close stops the writer and closes the pool. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*types.Session, error) {
	var (
		session      types.Session
		participants string
		analysis     sql.NullString
	)
	err := row.Scan(
		&session.ID,
		&session.Title,
		&session.Description,
		&session.Type,
		&session.Status,
		&session.RoomID,
		&session.ShareableLink,
		&session.ScheduledTime,
		&session.DurationMinutes,
		&session.CreatedBy,
		&participants,
		&analysis,
		&session.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to scan session: %w", types.ErrPersistence, err)
	}

	if err := json.Unmarshal([]byte(participants), &session.Participants); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal participants: %w", types.ErrPersistence, err)
	}
	if analysis.Valid {
		session.Analysis = &types.SessionAnalysis{}
		if err := json.Unmarshal([]byte(analysis.String), session.Analysis); err != nil {
			return nil, fmt.Errorf("%w: failed to unmarshal analysis: %w", types.ErrPersistence, err)
		}
	}
	return &session, nil
}

func marshalAnalysis(analysis *types.SessionAnalysis) (sql.NullString, error) {
	if analysis == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(analysis)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal analysis: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

func isUniqueViolation(err error, column string) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique &&
		strings.Contains(sqliteErr.Error(), column)
}

func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
