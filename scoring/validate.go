package scoring

import (
	"fmt"
	"regexp"
	"time"

	"competition-engine/models"
)

const (
	MinPoints     = 0
	MaxPoints     = 100
	MinMultiplier = 1.0
	MaxMultiplier = 5.0
	MinWithin     = 1
	MaxWithin     = 120
)

var hexColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

var vfxLevels = map[string]bool{"": true, "off": true, "low": true, "medium": true, "high": true}

// FieldError points at the offending field with a dotted location.
type FieldError struct {
	Loc  string `json:"loc"`
	Msg  string `json:"msg"`
	Type string `json:"type"`
}

type ValidationReport struct {
	IsValid     bool         `json:"is_valid"`
	Errors      []FieldError `json:"errors"`
	Warnings    []string     `json:"warnings"`
	Suggestions []string     `json:"suggestions"`
}

type validator struct {
	report ValidationReport
}

func (v *validator) fail(loc, kind, format string, args ...any) {
	v.report.Errors = append(v.report.Errors, FieldError{Loc: loc, Msg: fmt.Sprintf(format, args...), Type: kind})
}

func (v *validator) warn(format string, args ...any) {
	v.report.Warnings = append(v.report.Warnings, fmt.Sprintf(format, args...))
}

func (v *validator) suggest(s string) {
	v.report.Suggestions = append(v.report.Suggestions, s)
}

// Validate checks a rule set together with its theme and prizes. It never touches storage.
func Validate(rules models.RuleSet, theme models.Theme, prizes models.Prizes) ValidationReport {
	v := &validator{}
	v.points(rules)
	v.combos(rules)
	v.multipliers(rules)
	v.caps(rules.Caps)
	v.tieBreakers(rules)
	if rules.TargetPoints < 0 {
		v.fail("rules.target_points", "value_error", "target_points must be >= 0")
	}
	v.theme(theme)
	v.prizes(prizes)
	v.advise(rules, theme, prizes)

	v.report.IsValid = len(v.report.Errors) == 0
	if v.report.Errors == nil {
		v.report.Errors = []FieldError{}
	}
	if v.report.Warnings == nil {
		v.report.Warnings = []string{}
	}
	if v.report.Suggestions == nil {
		v.report.Suggestions = []string{}
	}
	return v.report
}

func (v *validator) points(rules models.RuleSet) {
	for t, p := range rules.Points {
		loc := "rules.points." + string(t)
		if !t.Valid() {
			v.fail(loc, "type_error", "unknown activity type %q", t)
			continue
		}
		if p < MinPoints || p > MaxPoints {
			v.fail(loc, "value_error", "points must be between %d and %d, got %d", MinPoints, MaxPoints, p)
		}
	}
}

func (v *validator) multipliers(rules models.RuleSet) {
	for i, m := range rules.Multipliers {
		loc := fmt.Sprintf("rules.multipliers[%d]", i)
		if m.Mult < MinMultiplier || m.Mult > MaxMultiplier {
			v.fail(loc+".mult", "value_error", "mult must be between %.0f and %.0f, got %g", MinMultiplier, MaxMultiplier, m.Mult)
		}
		switch m.Kind() {
		case models.MultiplierTimeWindow:
			v.window(loc+".window", m.Window)
		case models.MultiplierStreak:
			if m.StreakDays() < 1 {
				v.fail(loc+".min", "value_error", "streak multiplier needs min >= 1")
			}
		case models.MultiplierCombo:
			name := m.ComboName()
			if name == "" {
				v.fail(loc+".combo", "value_error", "combo multiplier must name a combo")
			} else if _, ok := rules.FindCombo(name); !ok {
				v.fail(loc+".combo", "value_error", "combo multiplier references unknown combo %q", name)
			}
		case models.MultiplierFirstOfDay, models.MultiplierWeekend:
		default:
			v.fail(loc+".type", "type_error", "unknown multiplier type %q", m.Type)
		}
	}
}

func (v *validator) window(loc string, w *models.TimeWindow) {
	if w == nil {
		v.fail(loc, "missing", "time_window multiplier requires a window")
		return
	}
	if _, err := ParseClock(w.Start); err != nil {
		v.fail(loc+".start", "value_error", "invalid start %q, want HH:MM", w.Start)
	}
	if _, err := ParseClock(w.End); err != nil {
		v.fail(loc+".end", "value_error", "invalid end %q, want HH:MM", w.End)
	}
	if w.TZ != "" {
		if _, err := time.LoadLocation(w.TZ); err != nil {
			v.fail(loc+".tz", "value_error", "unknown timezone %q", w.TZ)
		}
	}
}

func (v *validator) combos(rules models.RuleSet) {
	seen := map[string]bool{}
	for i, c := range rules.Combos {
		loc := fmt.Sprintf("rules.combos[%d]", i)
		if c.Name == "" {
			v.fail(loc+".name", "missing", "combo name is required")
		} else if seen[c.Name] {
			v.fail(loc+".name", "value_error", "duplicate combo name %q", c.Name)
		}
		seen[c.Name] = true
		if c.WithinMinutes < MinWithin || c.WithinMinutes > MaxWithin {
			v.fail(loc+".within_minutes", "value_error", "within_minutes must be between %d and %d, got %d", MinWithin, MaxWithin, c.WithinMinutes)
		}
		if c.Bonus < 0 {
			v.fail(loc+".bonus", "value_error", "bonus must be >= 0")
		}
		if c.MinEvents < 0 {
			v.fail(loc+".min_events", "value_error", "min_events must be >= 0")
		}
		for _, t := range c.RequiredTypes {
			if !t.Valid() {
				v.fail(loc+".required_types", "type_error", "unknown activity type %q", t)
			}
		}
	}
}

func (v *validator) caps(c models.Caps) {
	check := func(name string, p *int) {
		if p != nil && *p < 0 {
			v.fail("rules.caps."+name, "value_error", "%s must be >= 0", name)
		}
	}
	check("per_player_per_day", c.PerPlayerPerDay)
	check("per_player_total", c.PerPlayerTotal)
	check("global_total", c.GlobalTotal)
}

func (v *validator) tieBreakers(rules models.RuleSet) {
	if len(rules.TieBreakers) == 0 {
		v.fail("rules.tie_breakers", "missing", "at least one tie-breaker is required")
	}
	for i, t := range rules.TieBreakers {
		if !t.Valid() {
			v.fail(fmt.Sprintf("rules.tie_breakers[%d]", i), "value_error", "unknown tie-breaker %q", t)
		}
	}
}

func (v *validator) theme(theme models.Theme) {
	for i, team := range theme.Teams {
		loc := fmt.Sprintf("theme.teams[%d]", i)
		if team.Label == "" {
			v.fail(loc+".label", "missing", "team label is required")
		}
		if !hexColor.MatchString(team.Color) {
			v.fail(loc+".color", "value_error", "color must be #RRGGBB, got %q", team.Color)
		}
	}
	if !vfxLevels[theme.VFX.Sparkles] {
		v.fail("theme.vfx.sparkles", "value_error", "sparkles must be off, low, medium or high")
	}
	if !vfxLevels[theme.VFX.ParticleEffects] {
		v.fail("theme.vfx.particle_effects", "value_error", "particle_effects must be off, low, medium or high")
	}
}

func (v *validator) prizes(p models.Prizes) {
	if p.Winner < 0 || p.RunnerUp < 0 || p.Participation < 0 {
		v.fail("prizes", "value_error", "prize amounts must be >= 0")
	}
	if p.TeamWinBonus != nil && *p.TeamWinBonus < 0 {
		v.fail("prizes.team_win_bonus", "value_error", "team_win_bonus must be >= 0")
	}
}

func (v *validator) advise(rules models.RuleSet, theme models.Theme, prizes models.Prizes) {
	if len(rules.Multipliers) == 0 && len(rules.Combos) == 0 {
		v.warn("no multipliers or combos configured: scoring is flat")
		v.suggest("add a time_window or firstof_day multiplier to reward engagement")
	}
	if len(rules.Combos) == 0 {
		v.suggest("add a combo rewarding lift, call and book in quick succession")
	}
	if rules.Points[models.ActivityBook] < rules.Points[models.ActivityCall] {
		v.warn("books are worth fewer points than calls")
	}
	if prizes.Winner > 0 && prizes.Winner <= prizes.RunnerUp {
		v.warn("winner prize should be greater than runner-up prize")
	}
	if g, p := rules.Caps.GlobalTotal, rules.Caps.PerPlayerTotal; g != nil && p != nil {
		players := max(2, len(theme.Teams))
		if *g < *p*players {
			v.warn("global_total cap %d is below per_player_total %d for %d players", *g, *p, players)
		}
	}
	if chain := rules.TieBreakers; len(chain) > 0 && !hasSecondary(chain) {
		v.warn("tie-breaker chain has no alphabetical or random fallback; exact ties fall back to player name order")
	}
	if len(theme.Teams) == 0 {
		v.suggest("configure teams to enable team leaderboards")
	}
}

func hasSecondary(chain []models.TieBreakStrategy) bool {
	for _, t := range chain {
		switch t {
		case models.TieBreakRandom, models.TieBreakAlphabetical, models.TieBreakReverseAlphabetical:
			return true
		}
	}
	return false
}

// ValidateSchedule checks the competition window and timezone.
func ValidateSchedule(start, end time.Time, tz string) []FieldError {
	var errs []FieldError
	if start.IsZero() || end.IsZero() {
		errs = append(errs, FieldError{Loc: "start_time", Msg: "start_time and end_time are required", Type: "missing"})
	} else if !start.Before(end) {
		errs = append(errs, FieldError{Loc: "end_time", Msg: "end_time must be after start_time", Type: "value_error"})
	}
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, FieldError{Loc: "timezone", Msg: fmt.Sprintf("unknown timezone %q", tz), Type: "value_error"})
		}
	}
	return errs
}
