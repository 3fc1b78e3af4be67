package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pbxlink/pbxlink/internal/database/models"
)

const channelColumns = `id, call_id, user_id, no_call, name, unique_id, linked_id,
	 context, connected_line_num, connected_line_name, state, state_desc,
	 exten, callerid_num, callerid_name, accountcode, priority, app, app_data,
	 language, event, cause, cause_txt, event_time, hangup_date, is_active, created_at`

// channelRepo implements ChannelRepository.
type channelRepo struct {
	db *DB
}

// NewChannelRepository creates a new ChannelRepository.
func NewChannelRepository(db *DB) ChannelRepository {
	return &channelRepo{db: db}
}

// Create inserts a new channel record.
func (r *channelRepo) Create(ctx context.Context, ch *models.Channel) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO channels (call_id, user_id, no_call, name, unique_id, linked_id,
		 context, connected_line_num, connected_line_name, state, state_desc,
		 exten, callerid_num, callerid_name, accountcode, priority, app, app_data,
		 language, event, cause, cause_txt, event_time, hangup_date, is_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ch.CallID, ch.UserID, ch.NoCall, ch.Name, ch.UniqueID, ch.LinkedID,
		ch.Context, ch.ConnectedLineNum, ch.ConnectedLineName, ch.State, ch.StateDesc,
		ch.Exten, ch.CallerIDNum, ch.CallerIDName, ch.AccountCode, ch.Priority,
		ch.App, ch.AppData, ch.Language, ch.Event, ch.Cause, ch.CauseTxt,
		ch.EventTime, ch.HangupDate, ch.IsActive,
	)
	if err != nil {
		return fmt.Errorf("inserting channel: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	ch.ID = id
	return nil
}

// GetByID returns a channel by ID.
func (r *channelRepo) GetByID(ctx context.Context, id int64) (*models.Channel, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE id = ?`, id))
}

// GetActiveByUniqueID returns the active channel with the given unique id.
// A buggy switch may reuse ids, so only the active row counts.
func (r *channelRepo) GetActiveByUniqueID(ctx context.Context, uniqueID string) (*models.Channel, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM channels
		 WHERE is_active = 1 AND unique_id = ? ORDER BY id DESC LIMIT 1`, uniqueID))
}

// GetByUniqueID returns the most recent channel with the given unique id,
// active or not.
func (r *channelRepo) GetByUniqueID(ctx context.Context, uniqueID string) (*models.Channel, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM channels
		 WHERE unique_id = ? ORDER BY id DESC LIMIT 1`, uniqueID))
}

// Update writes all mutable channel fields.
func (r *channelRepo) Update(ctx context.Context, ch *models.Channel) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE channels SET call_id = ?, user_id = ?, no_call = ?, name = ?,
		 unique_id = ?, linked_id = ?, context = ?, connected_line_num = ?,
		 connected_line_name = ?, state = ?, state_desc = ?, exten = ?,
		 callerid_num = ?, callerid_name = ?, accountcode = ?, priority = ?,
		 app = ?, app_data = ?, language = ?, event = ?, cause = ?, cause_txt = ?,
		 event_time = ?, hangup_date = ?, is_active = ?
		 WHERE id = ?`,
		ch.CallID, ch.UserID, ch.NoCall, ch.Name, ch.UniqueID, ch.LinkedID,
		ch.Context, ch.ConnectedLineNum, ch.ConnectedLineName, ch.State, ch.StateDesc,
		ch.Exten, ch.CallerIDNum, ch.CallerIDName, ch.AccountCode, ch.Priority,
		ch.App, ch.AppData, ch.Language, ch.Event, ch.Cause, ch.CauseTxt,
		ch.EventTime, ch.HangupDate, ch.IsActive, ch.ID,
	)
	if err != nil {
		return fmt.Errorf("updating channel: %w", err)
	}
	return nil
}

// SetCall attaches the channel to a call.
func (r *channelRepo) SetCall(ctx context.Context, id, callID int64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE channels SET call_id = ? WHERE id = ?", callID, id)
	if err != nil {
		return fmt.Errorf("setting channel call: %w", err)
	}
	return nil
}

// Deactivate marks a channel inactive and stores the final hangup fields in
// one statement.
func (r *channelRepo) Deactivate(ctx context.Context, id int64, cause, causeTxt string, hangupDate time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE channels SET is_active = 0, cause = ?, cause_txt = ?, hangup_date = ?
		 WHERE id = ?`, cause, causeTxt, hangupDate, id)
	if err != nil {
		return fmt.Errorf("deactivating channel: %w", err)
	}
	return nil
}

// DeactivateByCallID marks all channels of a call inactive.
func (r *channelRepo) DeactivateByCallID(ctx context.Context, callID int64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE channels SET is_active = 0 WHERE call_id = ?", callID)
	if err != nil {
		return fmt.Errorf("deactivating call channels: %w", err)
	}
	return nil
}

// CountByCallID returns how many channels ever belonged to a call.
func (r *channelRepo) CountByCallID(ctx context.Context, callID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM channels WHERE call_id = ?", callID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting call channels: %w", err)
	}
	return count, nil
}

// ListByCallID returns all channels of a call in creation order.
func (r *channelRepo) ListByCallID(ctx context.Context, callID int64) ([]models.Channel, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE call_id = ? ORDER BY id`, callID)
	if err != nil {
		return nil, fmt.Errorf("listing call channels: %w", err)
	}
	defer rows.Close()

	var channels []models.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, *ch)
	}
	return channels, rows.Err()
}

// ListActive returns all currently active channels, newest first.
func (r *channelRepo) ListActive(ctx context.Context) ([]models.Channel, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE is_active = 1 ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing active channels: %w", err)
	}
	defer rows.Close()

	var channels []models.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, *ch)
	}
	return channels, rows.Err()
}

// CountActive returns the number of active channels.
func (r *channelRepo) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM channels WHERE is_active = 1").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting active channels: %w", err)
	}
	return count, nil
}

// DeleteOlderThan removes channel rows created before the retention window.
func (r *channelRepo) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM channels WHERE created_at < datetime('now', ?)`,
		fmt.Sprintf("-%d seconds", int64(age.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("deleting expired channels: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(row rowScanner) (*models.Channel, error) {
	var ch models.Channel
	err := row.Scan(&ch.ID, &ch.CallID, &ch.UserID, &ch.NoCall, &ch.Name,
		&ch.UniqueID, &ch.LinkedID, &ch.Context, &ch.ConnectedLineNum,
		&ch.ConnectedLineName, &ch.State, &ch.StateDesc, &ch.Exten,
		&ch.CallerIDNum, &ch.CallerIDName, &ch.AccountCode, &ch.Priority,
		&ch.App, &ch.AppData, &ch.Language, &ch.Event, &ch.Cause, &ch.CauseTxt,
		&ch.EventTime, &ch.HangupDate, &ch.IsActive, &ch.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scanning channel: %w", err)
	}
	return &ch, nil
}

func (r *channelRepo) scanOne(row *sql.Row) (*models.Channel, error) {
	ch := &models.Channel{}
	err := row.Scan(&ch.ID, &ch.CallID, &ch.UserID, &ch.NoCall, &ch.Name,
		&ch.UniqueID, &ch.LinkedID, &ch.Context, &ch.ConnectedLineNum,
		&ch.ConnectedLineName, &ch.State, &ch.StateDesc, &ch.Exten,
		&ch.CallerIDNum, &ch.CallerIDName, &ch.AccountCode, &ch.Priority,
		&ch.App, &ch.AppData, &ch.Language, &ch.Event, &ch.Cause, &ch.CauseTxt,
		&ch.EventTime, &ch.HangupDate, &ch.IsActive, &ch.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning channel: %w", err)
	}
	return ch, nil
}
