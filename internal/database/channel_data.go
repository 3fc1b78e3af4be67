package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// channelDataRepo implements ChannelDataRepository.
type channelDataRepo struct {
	db *DB
}

// NewChannelDataRepository creates a new ChannelDataRepository.
func NewChannelDataRepository(db *DB) ChannelDataRepository {
	return &channelDataRepo{db: db}
}

// Put stores a key/value entry scoped to a channel or a bare unique id.
func (r *channelDataRepo) Put(ctx context.Context, channelID *int64, uniqueID, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO channel_data (channel_id, unique_id, key, value) VALUES (?, ?, ?, ?)",
		channelID, uniqueID, key, value)
	if err != nil {
		return fmt.Errorf("inserting channel data: %w", err)
	}
	return nil
}

// Get returns the most recent value for a channel-scoped key, or empty
// string when none exists.
func (r *channelDataRepo) Get(ctx context.Context, channelID int64, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM channel_data
		 WHERE channel_id = ? AND key = ? ORDER BY id DESC LIMIT 1`,
		channelID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting channel data: %w", err)
	}
	return value, nil
}

// GetByUniqueID returns the most recent value stored under a bare unique id.
func (r *channelDataRepo) GetByUniqueID(ctx context.Context, uniqueID, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM channel_data
		 WHERE unique_id = ? AND key = ? ORDER BY id DESC LIMIT 1`,
		uniqueID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting channel data: %w", err)
	}
	return value, nil
}

// DeleteOlderThan removes entries created before the retention window.
func (r *channelDataRepo) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM channel_data WHERE created_at < datetime('now', ?)`,
		fmt.Sprintf("-%d seconds", int64(age.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("deleting expired channel data: %w", err)
	}
	return result.RowsAffected()
}
