package reward

import "github.com/shopspring/decimal"

// All amounts are credit units. Values are fixed; determinism of the
// breakdown depends on nothing here being runtime-configurable.
var (
	taskRewardLow    = decimal.RequireFromString("0.50")
	taskRewardMedium = decimal.RequireFromString("1.50")
	taskRewardHigh   = decimal.RequireFromString("3.00")

	catchupBase       = decimal.RequireFromString("1.00")
	catchupPerMessage = decimal.RequireFromString("0.02")

	sessionPerMinute  = decimal.RequireFromString("0.05")
	sessionHourBonus  = decimal.RequireFromString("0.50")
	archivePerMessage = decimal.RequireFromString("0.10")

	streakPerDay = decimal.RequireFromString("0.01")
	streakCap    = decimal.RequireFromString("0.30")
)

var modeMultipliers = map[string]decimal.Decimal{
	"deep_work": decimal.RequireFromString("1.5"),
	"learning":  decimal.RequireFromString("1.3"),
	"creative":  decimal.RequireFromString("1.2"),
	"admin":     decimal.RequireFromString("1.0"),
	"meetings":  decimal.RequireFromString("0.8"),
}

// ModeMultiplier returns the rate for a declared activity mode. Unknown modes
// earn the neutral 1.0x rather than failing.
func ModeMultiplier(mode string) decimal.Decimal {
	if m, ok := modeMultipliers[mode]; ok {
		return m
	}
	return decimal.NewFromInt(1)
}

type TierSpec struct {
	Name         string
	MinSessions  int
	BonusPercent decimal.Decimal
}

// weeklyTiers is scanned top-down; the first threshold met wins, which keeps
// the ordering total even if thresholds are adjacent.
var weeklyTiers = []TierSpec{
	{Name: "platinum", MinSessions: 20, BonusPercent: decimal.RequireFromString("0.25")},
	{Name: "gold", MinSessions: 12, BonusPercent: decimal.RequireFromString("0.15")},
	{Name: "silver", MinSessions: 6, BonusPercent: decimal.RequireFromString("0.08")},
	{Name: "bronze", MinSessions: 3, BonusPercent: decimal.RequireFromString("0.03")},
}

// TierFor picks the highest weekly tier whose threshold is met.
func TierFor(sessionsThisWeek int) TierSpec {
	for _, tier := range weeklyTiers {
		if sessionsThisWeek >= tier.MinSessions {
			return tier
		}
	}
	return TierSpec{Name: "none", BonusPercent: decimal.Zero}
}
