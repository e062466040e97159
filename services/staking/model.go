package staking

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusUnstaking Status = "unstaking"
	StatusUnstaked  Status = "unstaked"
	StatusRevoked   Status = "revoked"
)

// Stake is one capability hold. Funds stay in the balance row's staked bucket
// for the stake's whole lifetime; the row only tracks status transitions.
// The partial unique index admits at most one funds-holding (active or
// unstaking) stake per user and tier; terminal rows don't count against it.
type Stake struct {
	ID         string          `gorm:"column:id;primaryKey" json:"id"`
	UserID     string          `gorm:"column:user_id;index:idx_stakes_user;index:idx_stakes_holding_tier,unique,where:status = 'active' OR status = 'unstaking'" json:"user_id"`
	Tier       int             `gorm:"column:tier;index:idx_stakes_holding_tier,unique,where:status = 'active' OR status = 'unstaking'" json:"tier"`
	Capability string          `gorm:"column:capability" json:"capability"`
	Amount     decimal.Decimal `gorm:"column:amount;type:numeric(20,2)" json:"amount"`
	Status     Status          `gorm:"column:status;index:idx_stakes_user" json:"status"`
	UnlocksAt  *time.Time      `gorm:"column:unlocks_at" json:"unlocks_at,omitempty"`
	CreatedAt  time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (Stake) TableName() string {
	return "stakes"
}

// TierSpec is one row of the fixed stake tier table.
type TierSpec struct {
	Tier       int
	Amount     decimal.Decimal
	Capability string
}

var tierTable = []TierSpec{
	{Tier: 1, Amount: decimal.RequireFromString("100.00"), Capability: "auto_archive"},
	{Tier: 2, Amount: decimal.RequireFromString("250.00"), Capability: "auto_schedule"},
	{Tier: 3, Amount: decimal.RequireFromString("500.00"), Capability: "auto_send"},
}

// SpecFor returns the spec for a tier, or false for tiers outside the table.
func SpecFor(tier int) (TierSpec, bool) {
	for _, spec := range tierTable {
		if spec.Tier == tier {
			return spec, true
		}
	}
	return TierSpec{}, false
}

// Tiers returns the full tier table in ascending order.
func Tiers() []TierSpec {
	out := make([]TierSpec, len(tierTable))
	copy(out, tierTable)
	return out
}
