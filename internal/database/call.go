package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pbxlink/pbxlink/internal/database/models"
)

const callColumns = `id, unique_id, calling_number, calling_name, called_number,
	 direction, status, started, answered, ended, is_active, partner_id,
	 calling_user_id, answered_user_id, ref_model, ref_id, created_at`

// callRepo implements CallRepository.
type callRepo struct {
	db *DB
}

// NewCallRepository creates a new CallRepository.
func NewCallRepository(db *DB) CallRepository {
	return &callRepo{db: db}
}

// Create inserts a new call record.
func (r *callRepo) Create(ctx context.Context, call *models.Call) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO calls (unique_id, calling_number, calling_name, called_number,
		 direction, status, started, answered, ended, is_active, partner_id,
		 calling_user_id, answered_user_id, ref_model, ref_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.UniqueID, call.CallingNumber, call.CallingName, call.CalledNumber,
		call.Direction, call.Status, call.Started, call.Answered, call.Ended,
		call.IsActive, call.PartnerID, call.CallingUserID, call.AnsweredUserID,
		call.RefModel, call.RefID,
	)
	if err != nil {
		return fmt.Errorf("inserting call: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	call.ID = id
	return nil
}

// GetByID returns a call by ID.
func (r *callRepo) GetByID(ctx context.Context, id int64) (*models.Call, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE id = ?`, id))
}

// GetActiveByUniqueID returns the active call for the given unique id.
func (r *callRepo) GetActiveByUniqueID(ctx context.Context, uniqueID string) (*models.Call, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls
		 WHERE is_active = 1 AND unique_id = ? ORDER BY id DESC LIMIT 1`, uniqueID))
}

// GetByUniqueID returns the most recent call for the given unique id.
func (r *callRepo) GetByUniqueID(ctx context.Context, uniqueID string) (*models.Call, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls
		 WHERE unique_id = ? ORDER BY id DESC LIMIT 1`, uniqueID))
}

// List returns calls matching the filter, along with the total count.
func (r *callRepo) List(ctx context.Context, filter CallListFilter) ([]models.Call, int, error) {
	where := "1=1"
	args := []any{}

	if filter.Direction != "" {
		where += " AND direction = ?"
		args = append(args, filter.Direction)
	}
	if filter.Search != "" {
		where += " AND (calling_number LIKE ? OR calling_name LIKE ? OR called_number LIKE ?)"
		s := "%" + filter.Search + "%"
		args = append(args, s, s, s)
	}
	if filter.Active != nil {
		where += " AND is_active = ?"
		args = append(args, *filter.Active)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM calls WHERE " + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting calls: %w", err)
	}

	query := `SELECT ` + callColumns + ` FROM calls WHERE ` + where +
		` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing calls: %w", err)
	}
	defer rows.Close()

	var calls []models.Call
	for rows.Next() {
		var c models.Call
		if err := rows.Scan(&c.ID, &c.UniqueID, &c.CallingNumber, &c.CallingName,
			&c.CalledNumber, &c.Direction, &c.Status, &c.Started, &c.Answered,
			&c.Ended, &c.IsActive, &c.PartnerID, &c.CallingUserID,
			&c.AnsweredUserID, &c.RefModel, &c.RefID, &c.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning call row: %w", err)
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating call rows: %w", err)
	}

	return calls, total, nil
}

// SetDirection updates the call direction.
func (r *callRepo) SetDirection(ctx context.Context, id int64, direction string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE calls SET direction = ? WHERE id = ?", direction, id)
	if err != nil {
		return fmt.Errorf("setting call direction: %w", err)
	}
	return nil
}

// SetCallingNumber updates the calling number when caller id drifts on the
// calling leg.
func (r *callRepo) SetCallingNumber(ctx context.Context, id int64, number string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE calls SET calling_number = ? WHERE id = ?", number, id)
	if err != nil {
		return fmt.Errorf("setting calling number: %w", err)
	}
	return nil
}

// SetAnswered marks the call answered. The status guard makes the transition
// monotonic: only an in-progress call can become answered, so a replayed
// Newstate never moves the answered timestamp.
func (r *callRepo) SetAnswered(ctx context.Context, id int64, at time.Time, answeredUserID *int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE calls SET status = ?, answered = ?,
		 answered_user_id = COALESCE(?, answered_user_id)
		 WHERE id = ? AND status = ?`,
		models.StatusAnswered, at, answeredUserID, id, models.StatusProgress)
	if err != nil {
		return fmt.Errorf("setting call answered: %w", err)
	}
	return nil
}

// Finalize deactivates the call and stamps the ended time. An empty status
// leaves the current one (the answered case) in place.
func (r *callRepo) Finalize(ctx context.Context, id int64, status string, endedAt time.Time) error {
	var err error
	if status == "" {
		_, err = r.db.ExecContext(ctx,
			"UPDATE calls SET is_active = 0, ended = ? WHERE id = ?", endedAt, id)
	} else {
		_, err = r.db.ExecContext(ctx,
			"UPDATE calls SET is_active = 0, ended = ?, status = ? WHERE id = ?",
			endedAt, status, id)
	}
	if err != nil {
		return fmt.Errorf("finalizing call: %w", err)
	}
	return nil
}

// SetPartner assigns a partner only when none is set yet.
func (r *callRepo) SetPartner(ctx context.Context, id, partnerID int64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE calls SET partner_id = ? WHERE id = ? AND partner_id IS NULL",
		partnerID, id)
	if err != nil {
		return fmt.Errorf("setting call partner: %w", err)
	}
	return nil
}

// SetReference assigns a business record reference only when none is set yet.
func (r *callRepo) SetReference(ctx context.Context, id int64, refModel string, refID int64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE calls SET ref_model = ?, ref_id = ? WHERE id = ? AND ref_model = ''",
		refModel, refID, id)
	if err != nil {
		return fmt.Errorf("setting call reference: %w", err)
	}
	return nil
}

// AddCalledUser adds a user to the call's called-users set.
func (r *callRepo) AddCalledUser(ctx context.Context, id, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO call_users (call_id, user_id) VALUES (?, ?)",
		id, userID)
	if err != nil {
		return fmt.Errorf("adding called user: %w", err)
	}
	return nil
}

// ListCalledUsers returns the ids of users that were dialed for this call.
func (r *callRepo) ListCalledUsers(ctx context.Context, id int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT user_id FROM call_users WHERE call_id = ? ORDER BY user_id", id)
	if err != nil {
		return nil, fmt.Errorf("listing called users: %w", err)
	}
	defer rows.Close()

	var users []int64
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scanning called user: %w", err)
		}
		users = append(users, uid)
	}
	return users, rows.Err()
}

// CountActive returns the number of active calls.
func (r *callRepo) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM calls WHERE is_active = 1").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting active calls: %w", err)
	}
	return count, nil
}

// CountByDirection returns call counts grouped by direction.
func (r *callRepo) CountByDirection(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT direction, COUNT(*) FROM calls GROUP BY direction")
	if err != nil {
		return nil, fmt.Errorf("counting calls by direction: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var direction string
		var count int64
		if err := rows.Scan(&direction, &count); err != nil {
			return nil, fmt.Errorf("scanning direction count: %w", err)
		}
		counts[direction] = count
	}
	return counts, rows.Err()
}

// DeleteInactiveOlderThan removes finished calls past the retention window.
func (r *callRepo) DeleteInactiveOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM calls WHERE is_active = 0 AND started < datetime('now', ?)`,
		fmt.Sprintf("-%d seconds", int64(age.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("deleting expired calls: %w", err)
	}
	return result.RowsAffected()
}

func (r *callRepo) scanOne(row *sql.Row) (*models.Call, error) {
	var c models.Call
	err := row.Scan(&c.ID, &c.UniqueID, &c.CallingNumber, &c.CallingName,
		&c.CalledNumber, &c.Direction, &c.Status, &c.Started, &c.Answered,
		&c.Ended, &c.IsActive, &c.PartnerID, &c.CallingUserID,
		&c.AnsweredUserID, &c.RefModel, &c.RefID, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning call: %w", err)
	}
	return &c, nil
}
