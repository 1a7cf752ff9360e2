package scoring

import (
	"time"

	"competition-engine/models"
)

const (
	CapPerPlayerPerDay = "per_player_per_day"
	CapPerPlayerTotal  = "per_player_total"
	CapGlobalTotal     = "global_total"
)

// CapUsage is what has already been scored against each cap.
type CapUsage struct {
	PlayerDay   int
	PlayerTotal int
	Global      int
}

type CapResult struct {
	Allowed int
	Capped  bool
	Reason  string
}

// ApplyCaps clips proposed to the headroom left under each configured cap,
// checking per-player-per-day, then per-player-total, then global. Caps never
// reject: a fully capped event is allowed zero points.
func ApplyCaps(caps models.Caps, usage CapUsage, proposed int) CapResult {
	res := CapResult{Allowed: max(0, proposed)}
	clip := func(name string, limit *int, used int) {
		if limit == nil {
			return
		}
		headroom := max(0, *limit-used)
		if res.Allowed > headroom {
			res.Allowed = headroom
			res.Capped = true
			if res.Reason == "" {
				res.Reason = name
			}
		}
	}
	clip(CapPerPlayerPerDay, caps.PerPlayerPerDay, usage.PlayerDay)
	clip(CapPerPlayerTotal, caps.PerPlayerTotal, usage.PlayerTotal)
	clip(CapGlobalTotal, caps.GlobalTotal, usage.Global)
	return res
}

// PlayerUsage sums a player's live points for the local day of at and overall.
func PlayerUsage(events []models.CompetitionEvent, at time.Time, loc *time.Location) (day, total int) {
	target := DayOf(at, loc)
	for _, e := range events {
		if e.Reversed {
			continue
		}
		total += e.Points
		if DayOf(e.TS, loc) == target {
			day += e.Points
		}
	}
	return day, total
}
