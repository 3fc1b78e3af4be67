package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pbxlink/pbxlink/internal/database/models"
)

const recordingColumns = `id, unique_id, call_id, channel_id, partner_id,
	 calling_number, called_number, answered, file_name, file_path, created_at`

// recordingRepo implements RecordingRepository.
type recordingRepo struct {
	db *DB
}

// NewRecordingRepository creates a new RecordingRepository.
func NewRecordingRepository(db *DB) RecordingRepository {
	return &recordingRepo{db: db}
}

// Create inserts a new recording row.
func (r *recordingRepo) Create(ctx context.Context, rec *models.Recording) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO recordings (unique_id, call_id, channel_id, partner_id,
		 calling_number, called_number, answered, file_name, file_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.UniqueID, rec.CallID, rec.ChannelID, rec.PartnerID,
		rec.CallingNumber, rec.CalledNumber, rec.Answered, rec.FileName, rec.FilePath,
	)
	if err != nil {
		return fmt.Errorf("inserting recording: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

// GetByID returns a recording by ID.
func (r *recordingRepo) GetByID(ctx context.Context, id int64) (*models.Recording, error) {
	var rec models.Recording
	err := r.db.QueryRowContext(ctx,
		`SELECT `+recordingColumns+` FROM recordings WHERE id = ?`, id).Scan(
		&rec.ID, &rec.UniqueID, &rec.CallID, &rec.ChannelID, &rec.PartnerID,
		&rec.CallingNumber, &rec.CalledNumber, &rec.Answered, &rec.FileName,
		&rec.FilePath, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning recording: %w", err)
	}
	return &rec, nil
}

// ListByCallID returns the recordings of a call.
func (r *recordingRepo) ListByCallID(ctx context.Context, callID int64) ([]models.Recording, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recordingColumns+` FROM recordings WHERE call_id = ? ORDER BY id`, callID)
	if err != nil {
		return nil, fmt.Errorf("listing recordings: %w", err)
	}
	defer rows.Close()

	var recordings []models.Recording
	for rows.Next() {
		var rec models.Recording
		if err := rows.Scan(&rec.ID, &rec.UniqueID, &rec.CallID, &rec.ChannelID,
			&rec.PartnerID, &rec.CallingNumber, &rec.CalledNumber, &rec.Answered,
			&rec.FileName, &rec.FilePath, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning recording row: %w", err)
		}
		recordings = append(recordings, rec)
	}
	return recordings, rows.Err()
}

// Count returns the total number of recordings.
func (r *recordingRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM recordings").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting recordings: %w", err)
	}
	return count, nil
}

// DeleteOlderThan removes recording rows past the retention window and
// returns their file paths so callers can remove the files from disk.
func (r *recordingRepo) DeleteOlderThan(ctx context.Context, age time.Duration) ([]string, error) {
	cutoff := fmt.Sprintf("-%d seconds", int64(age.Seconds()))

	rows, err := r.db.QueryContext(ctx,
		`SELECT file_path FROM recordings
		 WHERE file_path != '' AND created_at < datetime('now', ?)`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("querying expired recordings: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning expired recording path: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating expired recording rows: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`DELETE FROM recordings WHERE created_at < datetime('now', ?)`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("deleting expired recordings: %w", err)
	}

	return paths, nil
}
