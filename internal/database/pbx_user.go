package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pbxlink/pbxlink/internal/database/models"
)

// pbxUserRepo implements PBXUserRepository.
type pbxUserRepo struct {
	db *DB
}

// NewPBXUserRepository creates a new PBXUserRepository.
func NewPBXUserRepository(db *DB) PBXUserRepository {
	return &pbxUserRepo{db: db}
}

// Create inserts a new PBX user.
func (r *pbxUserRepo) Create(ctx context.Context, user *models.PBXUser) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO pbx_users (name, exten, email, missed_calls_notify, call_popup_enabled)
		 VALUES (?, ?, ?, ?, ?)`,
		user.Name, user.Exten, user.Email, user.MissedCallsNotify, user.CallPopupEnabled,
	)
	if err != nil {
		return fmt.Errorf("inserting pbx user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	user.ID = id
	return nil
}

// GetByID returns a PBX user by ID.
func (r *pbxUserRepo) GetByID(ctx context.Context, id int64) (*models.PBXUser, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, name, exten, email, missed_calls_notify, call_popup_enabled,
		 created_at, updated_at FROM pbx_users WHERE id = ?`, id))
}

// GetByChannelName matches an event channel name like SIP/1001-000000bd to
// the user owning SIP/1001. The switch-assigned suffix is stripped first.
func (r *pbxUserRepo) GetByChannelName(ctx context.Context, channelName string) (*models.PBXUser, error) {
	if i := strings.LastIndex(channelName, "-"); i > 0 {
		channelName = channelName[:i]
	}
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT u.id, u.name, u.exten, u.email, u.missed_calls_notify,
		 u.call_popup_enabled, u.created_at, u.updated_at
		 FROM pbx_users u JOIN user_channels c ON c.user_id = u.id
		 WHERE c.name = ? LIMIT 1`, channelName))
}

// List returns all PBX users.
func (r *pbxUserRepo) List(ctx context.Context) ([]models.PBXUser, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, exten, email, missed_calls_notify, call_popup_enabled,
		 created_at, updated_at FROM pbx_users ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing pbx users: %w", err)
	}
	defer rows.Close()

	var users []models.PBXUser
	for rows.Next() {
		var u models.PBXUser
		if err := rows.Scan(&u.ID, &u.Name, &u.Exten, &u.Email,
			&u.MissedCallsNotify, &u.CallPopupEnabled, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning pbx user row: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Update modifies an existing PBX user.
func (r *pbxUserRepo) Update(ctx context.Context, user *models.PBXUser) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE pbx_users SET name = ?, exten = ?, email = ?,
		 missed_calls_notify = ?, call_popup_enabled = ?, updated_at = datetime('now')
		 WHERE id = ?`,
		user.Name, user.Exten, user.Email, user.MissedCallsNotify,
		user.CallPopupEnabled, user.ID,
	)
	if err != nil {
		return fmt.Errorf("updating pbx user: %w", err)
	}
	return nil
}

// Delete removes a PBX user and, via cascade, its channels.
func (r *pbxUserRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM pbx_users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting pbx user: %w", err)
	}
	return nil
}

// AddChannel registers a phone channel for a user.
func (r *pbxUserRepo) AddChannel(ctx context.Context, ch *models.UserChannel) error {
	if err := validateChannelName(ch.Name); err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO user_channels (user_id, name, originate_enabled,
		 originate_context, auto_answer_header)
		 VALUES (?, ?, ?, ?, ?)`,
		ch.UserID, ch.Name, ch.OriginateEnabled, ch.OriginateContext, ch.AutoAnswerHeader,
	)
	if err != nil {
		return fmt.Errorf("inserting user channel: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	ch.ID = id
	return nil
}

// ListChannels returns the phone channels of a user.
func (r *pbxUserRepo) ListChannels(ctx context.Context, userID int64) ([]models.UserChannel, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, name, originate_enabled, originate_context,
		 auto_answer_header FROM user_channels WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing user channels: %w", err)
	}
	defer rows.Close()

	var channels []models.UserChannel
	for rows.Next() {
		var c models.UserChannel
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.OriginateEnabled,
			&c.OriginateContext, &c.AutoAnswerHeader); err != nil {
			return nil, fmt.Errorf("scanning user channel row: %w", err)
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

// validateChannelName checks the PJSIP/101 shape: exactly one slash, no spaces.
func validateChannelName(name string) error {
	if strings.Count(name, "/") != 1 {
		return fmt.Errorf("bad channel format %q, example: PJSIP/101", name)
	}
	if strings.Contains(name, " ") {
		return fmt.Errorf("channel name %q must not contain spaces", name)
	}
	return nil
}

func (r *pbxUserRepo) scanOne(row *sql.Row) (*models.PBXUser, error) {
	var u models.PBXUser
	err := row.Scan(&u.ID, &u.Name, &u.Exten, &u.Email,
		&u.MissedCallsNotify, &u.CallPopupEnabled, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning pbx user: %w", err)
	}
	return &u, nil
}
