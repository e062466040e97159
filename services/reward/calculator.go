package reward

import (
	"fmt"

	"github.com/shopspring/decimal"

	"rewardplane/services/event"
)

// Breakdown is the auditable decomposition of a single event's reward.
// Deterministic given (event, streakDays, sessionsThisWeek); a snapshot of it
// is attached to the ledger entry.
type Breakdown struct {
	Base           decimal.Decimal `json:"base"`
	StreakBonus    decimal.Decimal `json:"streak_bonus"`
	TierBonus      decimal.Decimal `json:"tier_bonus"`
	PromoBonus     decimal.Decimal `json:"promo_bonus"`
	Total          decimal.Decimal `json:"total"`
	ModeMultiplier decimal.Decimal `json:"mode_multiplier"`
	Tier           string          `json:"tier"`
	Lines          []string        `json:"lines"`
}

const (
	linePrecision   = 4
	amountPrecision = 2
)

// Compute derives the reward breakdown for a normalized event. Pure: no I/O,
// no clock, no randomness. Unknown event types earn zero and are the caller's
// job to log.
func Compute(ev *event.RewardableEvent, streakDays, sessionsThisWeek int) Breakdown {
	b := Breakdown{
		Base:           decimal.Zero,
		StreakBonus:    decimal.Zero,
		TierBonus:      decimal.Zero,
		PromoBonus:     decimal.Zero,
		ModeMultiplier: decimal.NewFromInt(1),
		Tier:           "none",
	}

	b.Base, b.Lines = baseReward(ev)

	if b.Base.IsZero() {
		b.Total = decimal.Zero
		return b
	}

	// Bonus stacking order is fixed: streak, then weekly tier. The mode
	// multiplier is already folded into the focus-session base.
	if ev.Type == event.TypeFocusSession {
		b.ModeMultiplier = ModeMultiplier(ev.Mode)
	}

	streakRate := decimal.NewFromInt(int64(streakDays)).Mul(streakPerDay)
	if streakRate.GreaterThan(streakCap) {
		streakRate = streakCap
	}
	if streakRate.IsPositive() {
		b.StreakBonus = round(b.Base.Mul(streakRate), linePrecision)
		b.Lines = append(b.Lines, fmt.Sprintf("streak bonus (%d days, rate %s): +%s",
			streakDays, streakRate.StringFixed(linePrecision), b.StreakBonus.StringFixed(linePrecision)))
	}

	tier := TierFor(sessionsThisWeek)
	b.Tier = tier.Name
	if tier.BonusPercent.IsPositive() {
		b.TierBonus = round(b.Base.Mul(tier.BonusPercent), linePrecision)
		b.Lines = append(b.Lines, fmt.Sprintf("%s tier bonus (%d sessions this week): +%s",
			tier.Name, sessionsThisWeek, b.TierBonus.StringFixed(linePrecision)))
	}

	b.Total = round(b.Base.Add(b.StreakBonus).Add(b.TierBonus), amountPrecision)
	return b
}

// ApplyPromo folds an additional promotional bonus percentage into the
// breakdown, recomputing the total with the same rounding rules.
func (b *Breakdown) ApplyPromo(name string, percent decimal.Decimal) {
	if !percent.IsPositive() || b.Base.IsZero() {
		return
	}

	bonus := round(b.Base.Mul(percent), linePrecision)
	b.PromoBonus = b.PromoBonus.Add(bonus)
	b.Lines = append(b.Lines, fmt.Sprintf("promo %q: +%s", name, bonus.StringFixed(linePrecision)))
	b.Total = round(b.Base.Add(b.StreakBonus).Add(b.TierBonus).Add(b.PromoBonus), amountPrecision)
}

func baseReward(ev *event.RewardableEvent) (decimal.Decimal, []string) {
	lines := make([]string, 0, 4)

	switch ev.Type {
	case event.TypeTaskCompleted:
		var base decimal.Decimal
		switch {
		case ev.Effort <= 2:
			base = taskRewardLow
		case ev.Effort <= 6:
			base = taskRewardMedium
		default:
			base = taskRewardHigh
		}
		lines = append(lines, fmt.Sprintf("task completed (effort %d): %s", ev.Effort, base.StringFixed(linePrecision)))
		return base, lines

	case event.TypeInstantCatchup:
		perMessage := catchupPerMessage.Mul(decimal.NewFromInt(int64(ev.MessageCount)))
		base := round(catchupBase.Add(perMessage), linePrecision)
		lines = append(lines, fmt.Sprintf("instant catchup (%d messages): %s", ev.MessageCount, base.StringFixed(linePrecision)))
		return base, lines

	case event.TypeFocusSession:
		multiplier := ModeMultiplier(ev.Mode)
		base := round(decimal.NewFromInt(int64(ev.DurationMinutes)).Mul(sessionPerMinute).Mul(multiplier), linePrecision)
		lines = append(lines, fmt.Sprintf("focus session (%d min, mode %q x%s): %s",
			ev.DurationMinutes, ev.Mode, multiplier.String(), base.StringFixed(linePrecision)))

		if ev.DurationMinutes >= 60 {
			hours := int64(ev.DurationMinutes / 60)
			hourBonus := sessionHourBonus.Mul(decimal.NewFromInt(hours))
			base = round(base.Add(hourBonus), linePrecision)
			lines = append(lines, fmt.Sprintf("completed-hour bonus (%d hr): +%s", hours, hourBonus.StringFixed(linePrecision)))
		}
		return base, lines

	case event.TypeSpamBlocked, event.TypeAutoArchive:
		base := round(archivePerMessage.Mul(decimal.NewFromInt(int64(ev.Count))), linePrecision)
		lines = append(lines, fmt.Sprintf("%s (%d): %s", ev.Type, ev.Count, base.StringFixed(linePrecision)))
		return base, lines

	default:
		return decimal.Zero, lines
	}
}

// round applies half-up rounding at the given precision. Amounts that touch
// balances use 2 places, breakdown lines 4, keeping ledger sums exactly
// reconcilable against balance totals.
func round(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}
