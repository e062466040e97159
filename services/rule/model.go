package rule

import (
	"time"

	"github.com/shopspring/decimal"
)

// PromoRule is an operator-defined bonus: a CEL expression over normalized
// event attributes plus a bonus rate applied to the event's base reward.
type PromoRule struct {
	ID         string          `gorm:"column:id;primaryKey" json:"id"`
	Name       string          `gorm:"column:name;uniqueIndex" json:"name"`
	Expression string          `gorm:"column:expression" json:"expression"`
	BonusRate  decimal.Decimal `gorm:"column:bonus_rate;type:numeric(6,4)" json:"bonus_rate"`
	Active     bool            `gorm:"column:active" json:"active"`
	StartsAt   *time.Time      `gorm:"column:starts_at" json:"starts_at,omitempty"`
	EndsAt     *time.Time      `gorm:"column:ends_at" json:"ends_at,omitempty"`
	CreatedAt  time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (PromoRule) TableName() string { return "promo_rules" }

// Bonus is one matched promo, ready to fold into a reward breakdown.
type Bonus struct {
	Name string
	Rate decimal.Decimal
}
