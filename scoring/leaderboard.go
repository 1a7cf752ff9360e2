package scoring

import (
	"cmp"
	"hash/fnv"
	"slices"
	"strings"
	"time"

	"competition-engine/models"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// FoldPlayer rebuilds one player's leaderboard row from their ledger entries.
// It returns nil when the player has no live events, so an undo of a player's
// only event removes the row entirely.
func FoldPlayer(competitionID, player string, events []models.CompetitionEvent, rules models.RuleSet, loc *time.Location) *models.PlayerScore {
	live := make([]models.CompetitionEvent, 0, len(events))
	for _, e := range events {
		if !e.Reversed && e.PlayerName == player {
			live = append(live, e)
		}
	}
	if len(live) == 0 {
		return nil
	}
	slices.SortStableFunc(live, func(a, b models.CompetitionEvent) int {
		return cmp.Or(a.TS.Compare(b.TS), a.CreatedAt.Compare(b.CreatedAt), strings.Compare(a.ID, b.ID))
	})

	row := &models.PlayerScore{
		CompetitionID:      competitionID,
		PlayerName:         player,
		Breakdown:          map[models.ActivityType]int{},
		MultipliersApplied: []string{},
		CombosAchieved:     []string{},
	}
	seen := map[string]bool{}
	for _, e := range live {
		row.TotalPoints += e.Points
		row.EventCount++
		row.Breakdown[e.Type]++
		for _, m := range e.RuleTriggered.AppliedMultipliers {
			if !seen[m] {
				seen[m] = true
				row.MultipliersApplied = append(row.MultipliersApplied, m)
			}
		}
		row.CombosAchieved = append(row.CombosAchieved, e.RuleTriggered.AchievedCombos...)
	}

	first, last := live[0].TS, live[len(live)-1].TS
	row.FirstActivity, row.LastActivity = &first, &last
	row.ReachedTotalAt = reachedAt(live, row.TotalPoints)
	if rules.TargetPoints > 0 && row.TotalPoints >= rules.TargetPoints {
		row.TargetReachedAt = reachedAt(live, rules.TargetPoints)
	}

	days := activeDays(live, loc)
	lastDay := DayOf(last, loc)
	row.CurrentStreak = 1 + StreakBefore(days, lastDay)
	return row
}

// reachedAt is the timestamp at which the running total first reached target.
func reachedAt(ordered []models.CompetitionEvent, target int) *time.Time {
	sum := 0
	for _, e := range ordered {
		sum += e.Points
		if sum >= target {
			ts := e.TS
			return &ts
		}
	}
	return nil
}

type RankedScore struct {
	Rank int `json:"rank"`
	models.PlayerScore
}

// Rank orders rows by total points, then by the rule set's tie-breaker chain,
// then by player name so the order is total for any input.
func Rank(competitionID string, rules models.RuleSet, rows []models.PlayerScore) []RankedScore {
	sorted := make([]models.PlayerScore, len(rows))
	copy(sorted, rows)

	chain := rules.TieBreakChain()
	collator := collate.New(language.Norwegian)

	slices.SortFunc(sorted, func(a, b models.PlayerScore) int {
		if c := cmp.Compare(b.TotalPoints, a.TotalPoints); c != 0 {
			return c
		}
		for _, t := range chain {
			if c := tieBreak(t, competitionID, rules, collator, a, b); c != 0 {
				return c
			}
		}
		return strings.Compare(a.PlayerName, b.PlayerName)
	})

	out := make([]RankedScore, len(sorted))
	for i, row := range sorted {
		out[i] = RankedScore{Rank: i + 1, PlayerScore: row}
	}
	return out
}

func tieBreak(t models.TieBreakStrategy, competitionID string, rules models.RuleSet, collator *collate.Collator, a, b models.PlayerScore) int {
	switch t {
	case models.TieBreakHighestBooks:
		return cmp.Compare(b.Breakdown[models.ActivityBook], a.Breakdown[models.ActivityBook])
	case models.TieBreakMostTotal:
		return cmp.Compare(b.EventCount, a.EventCount)
	case models.TieBreakEarliestToTarget, models.TieBreakFirstTo:
		if rules.TargetPoints > 0 {
			return earlier(a.TargetReachedAt, b.TargetReachedAt)
		}
		return earlier(a.ReachedTotalAt, b.ReachedTotalAt)
	case models.TieBreakFastestPace:
		return cmp.Compare(Pace(b), Pace(a))
	case models.TieBreakRandom:
		return cmp.Compare(seeded(competitionID, a.PlayerName), seeded(competitionID, b.PlayerName))
	case models.TieBreakAlphabetical:
		return collator.CompareString(a.PlayerName, b.PlayerName)
	case models.TieBreakReverseAlphabetical:
		return collator.CompareString(b.PlayerName, a.PlayerName)
	}
	return 0
}

// earlier sorts set timestamps before unset ones, earliest first.
func earlier(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}

// Pace is points per day between a player's first and last activity, with a one day floor.
func Pace(row models.PlayerScore) float64 {
	if row.FirstActivity == nil || row.LastActivity == nil {
		return 0
	}
	days := row.LastActivity.Sub(*row.FirstActivity).Hours() / 24
	if days < 1 {
		days = 1
	}
	return float64(row.TotalPoints) / days
}

// seeded gives a reproducible per-competition ordering key for the random strategy.
func seeded(competitionID, player string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(competitionID))
	h.Write([]byte{0})
	h.Write([]byte(player))
	return h.Sum64()
}
