package scoring

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"competition-engine/models"
)

// PreviewEvent is a hypothetical submission used to try out a rule set.
type PreviewEvent struct {
	PlayerName   string              `json:"player_name"`
	Type         models.ActivityType `json:"type"`
	TS           time.Time           `json:"ts"`
	CustomPoints *int                `json:"custom_points,omitempty"`
}

type PreviewScore struct {
	PlayerName         string              `json:"player_name"`
	ActivityType       models.ActivityType `json:"activity_type"`
	TS                 time.Time           `json:"ts"`
	BasePoints         int                 `json:"base_points"`
	Multiplier         float64             `json:"multiplier"`
	AppliedMultipliers []string            `json:"applied_multipliers"`
	ComboBonus         int                 `json:"combo_bonus"`
	AchievedCombos     []string            `json:"achieved_combos"`
	FinalPoints        int                 `json:"final_points"`
	Capped             bool                `json:"capped"`
}

type RulesSummary struct {
	TotalMultipliers int  `json:"total_multipliers"`
	TotalCombos      int  `json:"total_combos"`
	HasCaps          bool `json:"has_caps"`
}

type PreviewResult struct {
	CalculatedScores []PreviewScore `json:"calculated_scores"`
	Leaderboard      []RankedScore  `json:"leaderboard"`
	RulesValidation  RulesSummary   `json:"rules_validation"`
	Warnings         []string       `json:"warnings"`
	Errors           []FieldError   `json:"errors"`
}

const previewCompetitionID = "preview"

// Preview scores events in timestamp order against rules, caps included, without
// touching storage. An invalid rule set yields its errors and no scores.
func Preview(rules models.RuleSet, theme models.Theme, prizes models.Prizes, loc *time.Location, events []PreviewEvent) PreviewResult {
	report := Validate(rules, theme, prizes)
	res := PreviewResult{
		CalculatedScores: []PreviewScore{},
		Leaderboard:      []RankedScore{},
		RulesValidation: RulesSummary{
			TotalMultipliers: len(rules.Multipliers),
			TotalCombos:      len(rules.Combos),
			HasCaps:          rules.Caps.Any(),
		},
		Warnings: report.Warnings,
		Errors:   report.Errors,
	}
	if !report.IsValid {
		return res
	}

	ordered := slices.Clone(events)
	slices.SortStableFunc(ordered, func(a, b PreviewEvent) int { return cmp.Compare(a.TS.UnixNano(), b.TS.UnixNano()) })

	byPlayer := map[string][]models.CompetitionEvent{}
	global := 0
	for i, pe := range ordered {
		if !pe.Type.Valid() {
			res.Errors = append(res.Errors, FieldError{
				Loc:  fmt.Sprintf("events[%d].type", i),
				Msg:  fmt.Sprintf("unknown activity type %q", pe.Type),
				Type: "type_error",
			})
			continue
		}
		ev := models.CompetitionEvent{
			ID:            fmt.Sprintf("preview-%d", i),
			CompetitionID: previewCompetitionID,
			PlayerName:    pe.PlayerName,
			Type:          pe.Type,
			CustomPoints:  pe.CustomPoints,
			TS:            pe.TS,
			CreatedAt:     pe.TS,
		}
		history := byPlayer[pe.PlayerName]
		delta := Evaluate(rules, loc, history, ev)
		day, total := PlayerUsage(history, ev.TS, loc)
		capped := ApplyCaps(rules.Caps, CapUsage{PlayerDay: day, PlayerTotal: total, Global: global}, delta.Points)

		ev.Points = capped.Allowed
		ev.RuleTriggered = delta.Trace(capped)
		byPlayer[pe.PlayerName] = append(history, ev)
		global += capped.Allowed

		res.CalculatedScores = append(res.CalculatedScores, PreviewScore{
			PlayerName:         ev.PlayerName,
			ActivityType:       ev.Type,
			TS:                 ev.TS,
			BasePoints:         delta.Base,
			Multiplier:         delta.Multiplier,
			AppliedMultipliers: nonNil(delta.Applied),
			ComboBonus:         delta.ComboBonus,
			AchievedCombos:     nonNil(delta.Combos),
			FinalPoints:        capped.Allowed,
			Capped:             capped.Capped,
		})
	}

	rows := make([]models.PlayerScore, 0, len(byPlayer))
	for player, evs := range byPlayer {
		if row := FoldPlayer(previewCompetitionID, player, evs, rules, loc); row != nil {
			rows = append(rows, *row)
		}
	}
	res.Leaderboard = Rank(previewCompetitionID, rules, rows)
	return res
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
