package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pbxlink/pbxlink/internal/database/models"
)

// partnerRepo implements PartnerRepository.
type partnerRepo struct {
	db *DB
}

// NewPartnerRepository creates a new PartnerRepository.
func NewPartnerRepository(db *DB) PartnerRepository {
	return &partnerRepo{db: db}
}

// Create inserts a new partner.
func (r *partnerRepo) Create(ctx context.Context, p *models.Partner) error {
	result, err := r.db.ExecContext(ctx,
		"INSERT INTO partners (name, phone, mobile) VALUES (?, ?, ?)",
		p.Name, p.Phone, p.Mobile)
	if err != nil {
		return fmt.Errorf("inserting partner: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	p.ID = id
	return nil
}

// GetByID returns a partner by ID.
func (r *partnerRepo) GetByID(ctx context.Context, id int64) (*models.Partner, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		"SELECT id, name, phone, mobile, created_at FROM partners WHERE id = ?", id))
}

// GetByNumber finds a partner whose phone or mobile matches the number.
// Both sides are reduced to bare digits before comparison, and a suffix
// match on the last 7 digits covers differing country prefixes.
func (r *partnerRepo) GetByNumber(ctx context.Context, number string) (*models.Partner, error) {
	digits := normalizeNumber(number)
	if digits == "" {
		return nil, nil
	}

	p, err := r.scanOne(r.db.QueryRowContext(ctx,
		"SELECT id, name, phone, mobile, created_at FROM partners WHERE phone = ? OR mobile = ? LIMIT 1",
		number, number))
	if err != nil || p != nil {
		return p, err
	}

	// No verbatim match. Scan for a digits-only suffix match.
	suffix := digits
	if len(suffix) > 7 {
		suffix = suffix[len(suffix)-7:]
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT id, name, phone, mobile, created_at FROM partners WHERE phone != '' OR mobile != ''")
	if err != nil {
		return nil, fmt.Errorf("querying partners: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c models.Partner
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Mobile, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning partner row: %w", err)
		}
		if matchesNumber(c.Phone, suffix) || matchesNumber(c.Mobile, suffix) {
			return &c, nil
		}
	}
	return nil, rows.Err()
}

// Delete removes a partner.
func (r *partnerRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM partners WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting partner: %w", err)
	}
	return nil
}

func matchesNumber(stored, suffix string) bool {
	digits := normalizeNumber(stored)
	if digits == "" {
		return false
	}
	return strings.HasSuffix(digits, suffix) || strings.HasSuffix(suffix, digits)
}

// normalizeNumber strips everything but digits.
func normalizeNumber(number string) string {
	var b strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (r *partnerRepo) scanOne(row *sql.Row) (*models.Partner, error) {
	var p models.Partner
	err := row.Scan(&p.ID, &p.Name, &p.Phone, &p.Mobile, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning partner: %w", err)
	}
	return &p, nil
}
