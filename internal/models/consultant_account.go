package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ConnectStatus string

const (
	ConnectNotStarted ConnectStatus = "not_started"
	ConnectPending    ConnectStatus = "pending"
	ConnectRestricted ConnectStatus = "restricted"
	ConnectEnabled    ConnectStatus = "enabled"
	ConnectRejected   ConnectStatus = "rejected"
)

func (s ConnectStatus) Valid() bool {
	switch s {
	case ConnectNotStarted, ConnectPending, ConnectRestricted, ConnectEnabled, ConnectRejected:
		return true
	}
	return false
}

type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationApproved ApplicationStatus = "approved"
	ApplicationRejected ApplicationStatus = "rejected"
)

type AvailabilityStatus string

const (
	AvailabilityAvailable   AvailabilityStatus = "available"
	AvailabilityBusy        AvailabilityStatus = "busy"
	AvailabilityUnavailable AvailabilityStatus = "unavailable"
)

// ExperienceBracket is totally ordered: 1-3 < 3-5 < 5-10 < 10+.
type ExperienceBracket string

const (
	Experience1to3  ExperienceBracket = "1-3"
	Experience3to5  ExperienceBracket = "3-5"
	Experience5to10 ExperienceBracket = "5-10"
	Experience10up  ExperienceBracket = "10+"
)

// Rank returns the bracket position, or 0 for an unknown bracket.
func (b ExperienceBracket) Rank() int {
	switch b {
	case Experience1to3:
		return 1
	case Experience3to5:
		return 2
	case Experience5to10:
		return 3
	case Experience10up:
		return 4
	}
	return 0
}

// Earnings buckets, all in minor currency units.
type Earnings struct {
	Total   int64 `gorm:"not null;default:0" json:"total"`
	Pending int64 `gorm:"not null;default:0" json:"pending"`
	Paid    int64 `gorm:"not null;default:0" json:"paid"`
	Escrow  int64 `gorm:"not null;default:0" json:"escrow"`
}

type ConsultantAccount struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	// Sparse unique: NULL until onboarding starts.
	ConnectedAccountID *string `gorm:"type:varchar(64);uniqueIndex" json:"connected_account_id,omitempty"`

	ConnectStatus  ConnectStatus               `gorm:"type:varchar(20);not null;default:'not_started';index" json:"connect_status"`
	PayoutsEnabled bool                        `gorm:"not null;default:false" json:"payouts_enabled"`
	ChargesEnabled bool                        `gorm:"not null;default:false" json:"charges_enabled"`
	Requirements   datatypes.JSONSlice[string] `json:"requirements"`
	DisabledReason string                      `gorm:"type:varchar(100)" json:"disabled_reason,omitempty"`
	DeauthorizedAt *time.Time                  `json:"deauthorized_at,omitempty"`
	SnapshotAt     *time.Time                  `json:"snapshot_at,omitempty"`

	Earnings Earnings `gorm:"embedded;embeddedPrefix:earnings_" json:"earnings"`

	CompletedProjects int     `gorm:"not null;default:0" json:"completed_projects"`
	RatingAverage     float64 `gorm:"not null;default:0" json:"rating_average"`
	RatingCount       int     `gorm:"not null;default:0" json:"rating_count"`
	DefaultFeeRate    int     `gorm:"not null;default:40" json:"default_fee_rate"`

	HourlyRate         int64                       `json:"hourly_rate"`
	WeeklyAvailability int                         `json:"weekly_availability"`
	ExperienceBracket  ExperienceBracket           `gorm:"type:varchar(10)" json:"experience_bracket"`
	Expertise          datatypes.JSONSlice[string] `json:"expertise"`
	Industries         datatypes.JSONSlice[string] `json:"industries"`

	ApplicationStatus  ApplicationStatus  `gorm:"type:varchar(20);not null;default:'pending';index" json:"application_status"`
	IsActive           bool               `gorm:"not null;default:true;index" json:"is_active"`
	AvailabilityStatus AvailabilityStatus `gorm:"type:varchar(20);not null;default:'available';index" json:"availability_status"`
	AppliedAt          time.Time          `gorm:"not null" json:"applied_at"`

	Version   int       `gorm:"not null;default:1" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *ConsultantAccount) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return
}

// SetConnectState is the only mutation path for the connect fields. Payouts can only be on
// while enabled; restricted and rejected accounts lose both capabilities.
func (c *ConsultantAccount) SetConnectState(status ConnectStatus, payouts, charges bool) {
	c.ConnectStatus = status
	switch status {
	case ConnectEnabled:
		c.PayoutsEnabled = payouts
		c.ChargesEnabled = charges
	case ConnectRestricted, ConnectRejected:
		c.PayoutsEnabled = false
		c.ChargesEnabled = false
	default:
		c.PayoutsEnabled = false
		c.ChargesEnabled = charges
	}
}

// Payable reports whether split transfers may target this account.
func (c *ConsultantAccount) Payable() bool {
	return c.ConnectStatus == ConnectEnabled && c.PayoutsEnabled &&
		c.ConnectedAccountID != nil && *c.ConnectedAccountID != ""
}

// Matchable mirrors the candidate-pool filter of the matching engine.
func (c *ConsultantAccount) Matchable() bool {
	return c.ApplicationStatus == ApplicationApproved &&
		c.IsActive &&
		c.AvailabilityStatus == AvailabilityAvailable &&
		c.ConnectStatus == ConnectEnabled
}

// ProfileUpdate is an operator edit of the marketplace profile. Connect state and the
// earnings buckets are not part of it.
type ProfileUpdate struct {
	ApplicationStatus  *ApplicationStatus
	AvailabilityStatus *AvailabilityStatus
	IsActive           *bool
	RatingAverage      *float64
	RatingCount        *int
	CompletedProjects  *int
	HourlyRate         *int64
	WeeklyAvailability *int
}

func (u ProfileUpdate) Apply(c *ConsultantAccount) {
	if u.ApplicationStatus != nil {
		c.ApplicationStatus = *u.ApplicationStatus
	}
	if u.AvailabilityStatus != nil {
		c.AvailabilityStatus = *u.AvailabilityStatus
	}
	if u.IsActive != nil {
		c.IsActive = *u.IsActive
	}
	if u.RatingAverage != nil {
		c.RatingAverage = *u.RatingAverage
	}
	if u.RatingCount != nil {
		c.RatingCount = *u.RatingCount
	}
	if u.CompletedProjects != nil {
		c.CompletedProjects = *u.CompletedProjects
	}
	if u.HourlyRate != nil {
		c.HourlyRate = *u.HourlyRate
	}
	if u.WeeklyAvailability != nil {
		c.WeeklyAvailability = *u.WeeklyAvailability
	}
}
