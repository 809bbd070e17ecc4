package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vzahanych/engagement-edge/internal/logger"
)

// Manager manages system state persistence and recovery
type Manager struct {
	db     *Database
	logger *logger.Logger
	mu     sync.RWMutex
}

// NewManager opens (or creates) the state database at dbPath
func NewManager(dbPath string, log *logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	db, err := NewDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	return &Manager{
		db:     db,
		logger: log,
	}, nil
}

// Close closes the state manager and database
func (m *Manager) Close() error {
	return m.db.Close()
}

// GetDB returns the database connection
func (m *Manager) GetDB() *sql.DB {
	return m.db.GetDB()
}

// Ping checks that the database answers queries
func (m *Manager) Ping(ctx context.Context) error {
	return m.db.GetDB().PingContext(ctx)
}

const upsertSystemState = `INSERT INTO system_state (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

// SaveSystemState stores a key/value pair such as the selected model variant
func (m *Manager) SaveSystemState(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.db.GetDB().ExecContext(ctx, upsertSystemState, key, value, time.Now()); err != nil {
		return fmt.Errorf("failed to save system state %q: %w", key, err)
	}
	return nil
}

// GetSystemState returns the value stored under key, or "" when it was never saved
func (m *Manager) GetSystemState(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var value string
	err := m.db.GetDB().QueryRowContext(ctx, `SELECT value FROM system_state WHERE key = ?`, key).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("failed to get system state %q: %w", key, err)
	}
	return value, nil
}

// RecoveredState is what survived the previous run
type RecoveredState struct {
	SystemState        map[string]string
	PendingPredictions int
	PendingByModel     map[string]int // predictions awaiting upload, per model id
}

// RecoverState reads persisted keys and the upload backlog left by the previous run
func (m *Manager) RecoverState(ctx context.Context) (*RecoveredState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	db := m.db.GetDB()
	recovered := &RecoveredState{
		SystemState:    make(map[string]string),
		PendingByModel: make(map[string]int),
	}

	rows, err := db.QueryContext(ctx, `SELECT key, value FROM system_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to read system state: %w", err)
	}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan system state: %w", err)
		}
		recovered.SystemState[key] = value
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read system state: %w", err)
	}

	rows, err = db.QueryContext(ctx,
		`SELECT model_id, COUNT(*) FROM prediction_log WHERE transmitted = 0 GROUP BY model_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending predictions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var modelID string
		var n int
		if err := rows.Scan(&modelID, &n); err != nil {
			return nil, fmt.Errorf("failed to scan pending predictions: %w", err)
		}
		recovered.PendingByModel[modelID] = n
		recovered.PendingPredictions += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to count pending predictions: %w", err)
	}

	m.logger.Info("State recovered",
		"keys", len(recovered.SystemState),
		"pending_predictions", recovered.PendingPredictions,
	)
	return recovered, nil
}
