package scoring

import (
	"math"
	"time"

	"competition-engine/models"
)

// Delta is the evaluator's proposal for one event, before caps.
type Delta struct {
	Base       int
	Multiplier float64
	Applied    []string
	ComboBonus int
	Combos     []string
	Points     int
}

// Trace turns the delta and the cap outcome into the audit stored on the event.
func (d Delta) Trace(c CapResult) models.RuleTrace {
	return models.RuleTrace{
		BasePoints:         d.Base,
		Multiplier:         d.Multiplier,
		AppliedMultipliers: d.Applied,
		ComboBonus:         d.ComboBonus,
		AchievedCombos:     d.Combos,
		ProposedPoints:     d.Points,
		FinalPoints:        c.Allowed,
		Capped:             c.Capped,
		CapReason:          c.Reason,
	}
}

// Evaluate scores ev against rules using the player's other ledger entries in history.
// Reversed entries and ev itself are ignored; the result depends only on its inputs.
//
// Qualifying multipliers multiply together in declared order. Combo bonuses are
// added after multiplication and are never multiplied.
func Evaluate(rules models.RuleSet, loc *time.Location, history []models.CompetitionEvent, ev models.CompetitionEvent) Delta {
	prior := slice(history, ev, rules.Lookback())

	base := rules.BasePoints(ev.Type)
	if ev.CustomPoints != nil {
		base = *ev.CustomPoints
	}

	combos, bonus := detectCombos(rules.Combos, prior, ev)

	d := Delta{Base: base, Multiplier: 1, ComboBonus: bonus, Combos: combos}
	for _, m := range rules.Multipliers {
		if qualifies(m, loc, prior, ev, combos) {
			d.Multiplier *= m.Mult
			d.Applied = append(d.Applied, m.Label())
		}
	}

	d.Points = int(math.Round(float64(base)*d.Multiplier)) + bonus
	if d.Points < 0 {
		d.Points = 0
	}
	return d
}

// slice keeps the live events within lookback of ev, on either side, so that
// late-arriving events still see awards made by their neighbours.
func slice(history []models.CompetitionEvent, ev models.CompetitionEvent, lookback time.Duration) []models.CompetitionEvent {
	out := make([]models.CompetitionEvent, 0, len(history))
	for _, e := range history {
		if e.Reversed || e.ID == ev.ID || e.PlayerName != ev.PlayerName {
			continue
		}
		diff := e.TS.Sub(ev.TS)
		if diff < 0 {
			diff = -diff
		}
		if diff <= lookback {
			out = append(out, e)
		}
	}
	return out
}

func qualifies(m models.Multiplier, loc *time.Location, prior []models.CompetitionEvent, ev models.CompetitionEvent, combos []string) bool {
	switch m.Kind() {
	case models.MultiplierTimeWindow:
		return InWindow(m.Window, ev.TS, loc)
	case models.MultiplierStreak:
		n := m.StreakDays()
		if n < 1 {
			return false
		}
		return StreakBefore(activeDays(prior, loc), DayOf(ev.TS, loc)) >= n
	case models.MultiplierFirstOfDay:
		day := DayOf(ev.TS, loc)
		for _, e := range prior {
			if DayOf(e.TS, loc) == day && !e.TS.After(ev.TS) {
				return false
			}
		}
		return true
	case models.MultiplierWeekend:
		return IsWeekend(ev.TS, loc)
	case models.MultiplierCombo:
		name := m.ComboName()
		for _, c := range combos {
			if c == name {
				return true
			}
		}
	}
	return false
}

// detectCombos returns the combos ev completes and their summed bonus. A combo is
// not awarded again while an earlier award of it lies within the combo's window.
func detectCombos(combos []models.Combo, prior []models.CompetitionEvent, ev models.CompetitionEvent) ([]string, int) {
	var names []string
	bonus := 0
	for _, c := range combos {
		within := c.Window()
		if within <= 0 {
			continue
		}
		from := ev.TS.Add(-within)

		inWindow := []models.CompetitionEvent{ev}
		recent := false
		for _, e := range prior {
			if !e.TS.Before(from) && !e.TS.After(ev.TS) {
				inWindow = append(inWindow, e)
			}
			if e.RuleTriggered.HasCombo(c.Name) && absDuration(e.TS.Sub(ev.TS)) <= within {
				recent = true
			}
		}
		if recent || !satisfied(c, inWindow) {
			continue
		}
		names = append(names, c.Name)
		bonus += c.Bonus
	}
	return names, bonus
}

func satisfied(c models.Combo, events []models.CompetitionEvent) bool {
	if len(c.RequiredTypes) == 0 {
		return len(events) >= c.Size()
	}
	seen := make(map[models.ActivityType]bool, len(events))
	for _, e := range events {
		seen[e.Type] = true
	}
	for _, t := range c.RequiredTypes {
		if !seen[t] {
			return false
		}
	}
	return true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
