package database

import (
	"context"
	"time"

	"github.com/pbxlink/pbxlink/internal/database/models"
)

// SystemConfigRepository manages key-value system configuration.
type SystemConfigRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	GetAll(ctx context.Context) ([]models.SystemConfig, error)
}

// PBXUserRepository manages PBX users and their phone channels.
type PBXUserRepository interface {
	Create(ctx context.Context, user *models.PBXUser) error
	GetByID(ctx context.Context, id int64) (*models.PBXUser, error)
	GetByChannelName(ctx context.Context, channelName string) (*models.PBXUser, error)
	List(ctx context.Context) ([]models.PBXUser, error)
	Update(ctx context.Context, user *models.PBXUser) error
	Delete(ctx context.Context, id int64) error
	AddChannel(ctx context.Context, ch *models.UserChannel) error
	ListChannels(ctx context.Context, userID int64) ([]models.UserChannel, error)
}

// PartnerRepository manages business contacts matched to calls.
type PartnerRepository interface {
	Create(ctx context.Context, p *models.Partner) error
	GetByID(ctx context.Context, id int64) (*models.Partner, error)
	GetByNumber(ctx context.Context, number string) (*models.Partner, error)
	Delete(ctx context.Context, id int64) error
}

// ChannelRepository manages channel records. Lookups that matter for event
// correlation are keyed by unique id among active rows only, so historic
// inactive rows with a reused id never shadow the live one.
type ChannelRepository interface {
	Create(ctx context.Context, ch *models.Channel) error
	GetByID(ctx context.Context, id int64) (*models.Channel, error)
	GetActiveByUniqueID(ctx context.Context, uniqueID string) (*models.Channel, error)
	GetByUniqueID(ctx context.Context, uniqueID string) (*models.Channel, error)
	Update(ctx context.Context, ch *models.Channel) error
	SetCall(ctx context.Context, id, callID int64) error
	Deactivate(ctx context.Context, id int64, cause, causeTxt string, hangupDate time.Time) error
	DeactivateByCallID(ctx context.Context, callID int64) error
	CountByCallID(ctx context.Context, callID int64) (int, error)
	ListByCallID(ctx context.Context, callID int64) ([]models.Channel, error)
	ListActive(ctx context.Context) ([]models.Channel, error)
	CountActive(ctx context.Context) (int64, error)
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// CallListFilter specifies filtering and pagination for call list queries.
type CallListFilter struct {
	Limit     int
	Offset    int
	Search    string // matches calling_number, calling_name, or called_number
	Direction string // "in", "out", or "" for all
	Active    *bool
}

// CallRepository manages call aggregates. Mutations are narrow,
// field-targeted updates so concurrent event handlers only write the fields
// their event carries.
type CallRepository interface {
	Create(ctx context.Context, call *models.Call) error
	GetByID(ctx context.Context, id int64) (*models.Call, error)
	GetActiveByUniqueID(ctx context.Context, uniqueID string) (*models.Call, error)
	GetByUniqueID(ctx context.Context, uniqueID string) (*models.Call, error)
	List(ctx context.Context, filter CallListFilter) ([]models.Call, int, error)
	SetDirection(ctx context.Context, id int64, direction string) error
	SetCallingNumber(ctx context.Context, id int64, number string) error
	// SetAnswered marks the call answered and stamps the answered time.
	// It is a no-op unless the call is still in progress, so replayed
	// events can never move the timestamp or regress a terminal status.
	SetAnswered(ctx context.Context, id int64, at time.Time, answeredUserID *int64) error
	// Finalize deactivates the call, stamps the ended time and, when
	// status is non-empty, records the disposition.
	Finalize(ctx context.Context, id int64, status string, endedAt time.Time) error
	// SetPartner assigns a partner only when none is set yet.
	SetPartner(ctx context.Context, id, partnerID int64) error
	// SetReference assigns a business record reference only when none is
	// set yet, latching manual edits.
	SetReference(ctx context.Context, id int64, refModel string, refID int64) error
	AddCalledUser(ctx context.Context, id, userID int64) error
	ListCalledUsers(ctx context.Context, id int64) ([]int64, error)
	CountActive(ctx context.Context) (int64, error)
	CountByDirection(ctx context.Context) (map[string]int64, error)
	DeleteInactiveOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// CallEventRepository manages the append-only call audit trail.
type CallEventRepository interface {
	Append(ctx context.Context, callID int64, event string) error
	ListByCallID(ctx context.Context, callID int64) ([]models.CallEvent, error)
}

// ChannelDataRepository manages auxiliary channel key/value metadata.
type ChannelDataRepository interface {
	Put(ctx context.Context, channelID *int64, uniqueID, key, value string) error
	Get(ctx context.Context, channelID int64, key string) (string, error)
	GetByUniqueID(ctx context.Context, uniqueID, key string) (string, error)
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// RecordingRepository manages stored call recordings.
type RecordingRepository interface {
	Create(ctx context.Context, rec *models.Recording) error
	GetByID(ctx context.Context, id int64) (*models.Recording, error)
	ListByCallID(ctx context.Context, callID int64) ([]models.Recording, error)
	Count(ctx context.Context) (int64, error)
	// DeleteOlderThan removes recording rows past the retention window and
	// returns the file paths so callers can remove the files from disk.
	DeleteOlderThan(ctx context.Context, age time.Duration) ([]string, error)
}
