// Package resolver maps phone channels to configured PBX users and phone
// numbers to business contacts. The correlator depends only on the two
// interfaces; the default implementations sit on the local database.
package resolver

import (
	"context"

	"github.com/pbxlink/pbxlink/internal/database"
	"github.com/pbxlink/pbxlink/internal/database/models"
)

// UserResolver maps an event channel name to the PBX user owning it.
type UserResolver interface {
	// UserForChannel returns the user for a channel like SIP/1001-000000bd,
	// or nil when no user channel matches.
	UserForChannel(ctx context.Context, channelName string) (*models.PBXUser, error)
}

// PartnerResolver maps phone numbers to business contacts.
type PartnerResolver interface {
	// PartnerForNumber returns the contact matching the number, or nil.
	PartnerForNumber(ctx context.Context, number string) (*models.Partner, error)
	// CreatePartner creates a contact named after its number.
	CreatePartner(ctx context.Context, number string) (*models.Partner, error)
}

// DBResolver implements both resolvers on the local database.
type DBResolver struct {
	users    database.PBXUserRepository
	partners database.PartnerRepository
}

// NewDBResolver creates a resolver backed by the given repositories.
func NewDBResolver(users database.PBXUserRepository, partners database.PartnerRepository) *DBResolver {
	return &DBResolver{users: users, partners: partners}
}

// UserForChannel implements UserResolver.
func (r *DBResolver) UserForChannel(ctx context.Context, channelName string) (*models.PBXUser, error) {
	if channelName == "" {
		return nil, nil
	}
	return r.users.GetByChannelName(ctx, channelName)
}

// PartnerForNumber implements PartnerResolver.
func (r *DBResolver) PartnerForNumber(ctx context.Context, number string) (*models.Partner, error) {
	if number == "" {
		return nil, nil
	}
	return r.partners.GetByNumber(ctx, number)
}

// CreatePartner implements PartnerResolver.
func (r *DBResolver) CreatePartner(ctx context.Context, number string) (*models.Partner, error) {
	p := &models.Partner{Name: number, Phone: number}
	if err := r.partners.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
