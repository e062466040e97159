package balance

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the per-user funds row. Amounts move between buckets, they are
// never rewritten from scratch: pending -> available -> staked/settled.
type Balance struct {
	UserID          string          `gorm:"column:user_id;primaryKey" json:"user_id"`
	Available       decimal.Decimal `gorm:"column:available;type:numeric(20,2);not null;default:0" json:"available"`
	Pending         decimal.Decimal `gorm:"column:pending;type:numeric(20,2);not null;default:0" json:"pending"`
	SettledExternal decimal.Decimal `gorm:"column:settled_external;type:numeric(20,2);not null;default:0" json:"settled_external"`
	Staked          decimal.Decimal `gorm:"column:staked;type:numeric(20,2);not null;default:0" json:"staked"`
	LifetimeEarned  decimal.Decimal `gorm:"column:lifetime_earned;type:numeric(20,2);not null;default:0" json:"lifetime_earned"`
	CreatedAt       time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (Balance) TableName() string {
	return "balances"
}
