package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PredictionRecord is a persisted engagement prediction
type PredictionRecord struct {
	ID          string
	ModelID     string
	Mode        string
	Score       float64
	ClassName   string
	ClassIndex  int
	VideoID     string
	VideoTime   float64
	Metadata    map[string]interface{}
	CreatedAt   time.Time
	Transmitted bool
	RetryCount  int
}

const predictionColumns = `id, model_id, mode, score, class_name, class_index, video_id, video_time, metadata, created_at, transmitted, retry_count`

// SavePrediction stores a prediction. Saving an existing id only updates its transmission flag.
func (m *Manager) SavePrediction(ctx context.Context, rec PredictionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO prediction_log (` + predictionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			transmitted = excluded.transmitted,
			transmitted_at = CASE WHEN excluded.transmitted = 1 THEN CURRENT_TIMESTAMP ELSE transmitted_at END
	`

	_, err = m.db.GetDB().ExecContext(ctx, query,
		rec.ID, rec.ModelID, rec.Mode, rec.Score, rec.ClassName, rec.ClassIndex,
		rec.VideoID, rec.VideoTime, string(metadataJSON), rec.CreatedAt, rec.Transmitted, rec.RetryCount,
	)
	if err != nil {
		return fmt.Errorf("failed to save prediction: %w", err)
	}

	return nil
}

// MarkPredictionsTransmitted flags the given predictions as uploaded
func (m *Manager) MarkPredictionsTransmitted(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx, err := m.db.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE prediction_log SET transmitted = 1, transmitted_at = ? WHERE id = ?`,
			now, id,
		); err != nil {
			return fmt.Errorf("failed to mark prediction as transmitted: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// IncrementPredictionRetry bumps the upload retry counter and returns the new value
func (m *Manager) IncrementPredictionRetry(ctx context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.db.GetDB().ExecContext(ctx,
		`UPDATE prediction_log SET retry_count = retry_count + 1 WHERE id = ?`, id,
	); err != nil {
		return 0, fmt.Errorf("failed to increment retry count: %w", err)
	}

	var count int
	err := m.db.GetDB().QueryRowContext(ctx,
		`SELECT retry_count FROM prediction_log WHERE id = ?`, id,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("prediction not found: %s", id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read retry count: %w", err)
	}

	return count, nil
}

// GetPendingPredictions returns predictions not yet uploaded, oldest first
func (m *Manager) GetPendingPredictions(ctx context.Context, limit, maxRetries int) ([]PredictionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + predictionColumns + `
		FROM prediction_log
		WHERE transmitted = 0`
	args := []interface{}{}
	if maxRetries > 0 {
		query += ` AND retry_count < ?`
		args = append(args, maxRetries)
	}
	query += ` ORDER BY created_at ASC LIMIT ?`
	args = append(args, limit)

	rows, err := m.db.GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending predictions: %w", err)
	}
	defer rows.Close()

	return scanPredictions(rows)
}

// CountPendingPredictions returns how many predictions wait for upload
func (m *Manager) CountPendingPredictions(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int
	if err := m.db.GetDB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM prediction_log WHERE transmitted = 0`,
	).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ListPredictionsOptions contains options for listing predictions
type ListPredictionsOptions struct {
	VideoID   string
	ModelID   string
	StartTime time.Time
	Limit     int
	Offset    int
}

// ListPredictions retrieves predictions, newest first, with filtering and pagination
func (m *Manager) ListPredictions(ctx context.Context, opts ListPredictionsOptions) ([]PredictionRecord, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	whereClauses := []string{}
	args := []interface{}{}

	if opts.VideoID != "" {
		whereClauses = append(whereClauses, "video_id = ?")
		args = append(args, opts.VideoID)
	}
	if opts.ModelID != "" {
		whereClauses = append(whereClauses, "model_id = ?")
		args = append(args, opts.ModelID)
	}
	if !opts.StartTime.IsZero() {
		whereClauses = append(whereClauses, "created_at >= ?")
		args = append(args, opts.StartTime)
	}

	whereClause := ""
	if len(whereClauses) > 0 {
		whereClause = "WHERE " + strings.Join(whereClauses, " AND ")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM prediction_log %s", whereClause)
	if err := m.db.GetDB().QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count predictions: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM prediction_log %s ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		predictionColumns, whereClause)
	args = append(args, limit, opts.Offset)

	rows, err := m.db.GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list predictions: %w", err)
	}
	defer rows.Close()

	records, err := scanPredictions(rows)
	return records, total, err
}

// CleanupOldPredictions removes uploaded predictions older than the given age
func (m *Manager) CleanupOldPredictions(ctx context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	result, err := m.db.GetDB().ExecContext(ctx,
		`DELETE FROM prediction_log WHERE transmitted = 1 AND transmitted_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old predictions: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	m.logger.Debug("Cleaned up old predictions", "count", rowsAffected)
	return rowsAffected, nil
}

func scanPredictions(rows *sql.Rows) ([]PredictionRecord, error) {
	var records []PredictionRecord
	for rows.Next() {
		var rec PredictionRecord
		var videoID, metadataJSON sql.NullString
		if err := rows.Scan(
			&rec.ID, &rec.ModelID, &rec.Mode, &rec.Score, &rec.ClassName, &rec.ClassIndex,
			&videoID, &rec.VideoTime, &metadataJSON, &rec.CreatedAt, &rec.Transmitted, &rec.RetryCount,
		); err != nil {
			return nil, err
		}
		rec.VideoID = videoID.String

		rec.Metadata = make(map[string]interface{})
		if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
				rec.Metadata = make(map[string]interface{})
			}
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}
