package reference

import (
	"context"

	"github.com/pbxlink/pbxlink/internal/database"
	"github.com/pbxlink/pbxlink/internal/database/models"
)

// ModelPartner is the registered model name of business contacts.
const ModelPartner = "partner"

// partnerRef adapts a Partner to the Referenceable capability.
type partnerRef struct {
	partner *models.Partner
}

func (p partnerRef) GetDisplayName() string    { return p.partner.Name }
func (p partnerRef) GetOwningPartnerID() int64 { return p.partner.ID }

// RegisterPartner registers the contact adapter on the registry.
func RegisterPartner(reg *Registry, partners database.PartnerRepository) {
	reg.Register(ModelPartner, func(ctx context.Context, id int64) (Referenceable, error) {
		p, err := partners.GetByID(ctx, id)
		if err != nil || p == nil {
			return nil, err
		}
		return partnerRef{partner: p}, nil
	})
}
