package models

import (
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

// DefaultTimezone is used when a competition or time window names no zone.
const DefaultTimezone = "Europe/Oslo"

type CompetitionState string

const (
	StateDraft     CompetitionState = "draft"
	StateActive    CompetitionState = "active"
	StatePaused    CompetitionState = "paused"
	StateFinalized CompetitionState = "finalized"
)

type ActivityType string

const (
	ActivityLift ActivityType = "lift"
	ActivityCall ActivityType = "call"
	ActivityBook ActivityType = "book"
)

// ActivityTypes lists every activity type in display order.
var ActivityTypes = []ActivityType{ActivityLift, ActivityCall, ActivityBook}

func (a ActivityType) Valid() bool {
	switch a {
	case ActivityLift, ActivityCall, ActivityBook:
		return true
	}
	return false
}

// MultiplierType is the closed set of multiplier kinds the evaluator understands.
type MultiplierType string

const (
	MultiplierTimeWindow MultiplierType = "time_window"
	MultiplierStreak     MultiplierType = "streak"
	MultiplierFirstOfDay MultiplierType = "firstof_day"
	MultiplierCombo      MultiplierType = "combo"
	MultiplierWeekend    MultiplierType = "weekend_bonus"
	MultiplierUnknown    MultiplierType = ""
)

// TimeWindow is a local wall-clock range in "HH:MM". End before Start crosses midnight.
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
	TZ    string `json:"tz,omitempty"`
}

type Multiplier struct {
	Type   string      `json:"type"`
	Mult   float64     `json:"mult"`
	Window *TimeWindow `json:"window,omitempty"`
	Min    int         `json:"min,omitempty"`
	Combo  string      `json:"combo,omitempty"`
}

// Kind resolves the declared type, accepting the "streak_N" and "combo_<name>" shorthands.
func (m Multiplier) Kind() MultiplierType {
	switch {
	case m.Type == string(MultiplierTimeWindow):
		return MultiplierTimeWindow
	case m.Type == string(MultiplierFirstOfDay):
		return MultiplierFirstOfDay
	case m.Type == string(MultiplierWeekend):
		return MultiplierWeekend
	case m.Type == string(MultiplierStreak), strings.HasPrefix(m.Type, "streak_"):
		return MultiplierStreak
	case m.Type == string(MultiplierCombo), strings.HasPrefix(m.Type, "combo_"):
		return MultiplierCombo
	}
	return MultiplierUnknown
}

// StreakDays is the number of consecutive prior days a streak multiplier requires.
// Returns 0 when neither Min nor a "streak_N" suffix supplies one.
func (m Multiplier) StreakDays() int {
	if m.Min > 0 {
		return m.Min
	}
	if n, ok := strings.CutPrefix(m.Type, "streak_"); ok {
		if v, err := strconv.Atoi(n); err == nil {
			return v
		}
	}
	return 0
}

// ComboName is the combo a combo multiplier depends on.
func (m Multiplier) ComboName() string {
	if m.Combo != "" {
		return m.Combo
	}
	name, _ := strings.CutPrefix(m.Type, "combo_")
	if name == string(MultiplierCombo) {
		return ""
	}
	return name
}

// Label is the name recorded in rule traces when the multiplier fires.
func (m Multiplier) Label() string {
	switch m.Kind() {
	case MultiplierStreak:
		return "streak_" + strconv.Itoa(m.StreakDays())
	case MultiplierCombo:
		return "combo_" + m.ComboName()
	}
	return m.Type
}

// DefaultComboSize is the number of events a combo without required types needs.
const DefaultComboSize = 3

type Combo struct {
	Name          string         `json:"name"`
	WithinMinutes int            `json:"within_minutes"`
	Bonus         int            `json:"bonus"`
	RequiredTypes []ActivityType `json:"required_types,omitempty"`
	MinEvents     int            `json:"min_events,omitempty"`
}

func (c Combo) Window() time.Duration {
	return time.Duration(c.WithinMinutes) * time.Minute
}

func (c Combo) Size() int {
	if c.MinEvents > 0 {
		return c.MinEvents
	}
	return DefaultComboSize
}

type Caps struct {
	PerPlayerPerDay *int `json:"per_player_per_day,omitempty"`
	PerPlayerTotal  *int `json:"per_player_total,omitempty"`
	GlobalTotal     *int `json:"global_total,omitempty"`
}

func (c Caps) Any() bool {
	return c.PerPlayerPerDay != nil || c.PerPlayerTotal != nil || c.GlobalTotal != nil
}

type TieBreakStrategy string

const (
	TieBreakHighestBooks        TieBreakStrategy = "highest_books"
	TieBreakEarliestToTarget    TieBreakStrategy = "earliest_to_target"
	TieBreakFirstTo             TieBreakStrategy = "first_to"
	TieBreakMostTotal           TieBreakStrategy = "most_total"
	TieBreakFastestPace         TieBreakStrategy = "fastest_pace"
	TieBreakRandom              TieBreakStrategy = "random"
	TieBreakAlphabetical        TieBreakStrategy = "alphabetical"
	TieBreakReverseAlphabetical TieBreakStrategy = "reverse_alphabetical"
)

func (t TieBreakStrategy) Valid() bool {
	switch t {
	case TieBreakHighestBooks, TieBreakEarliestToTarget, TieBreakFirstTo, TieBreakMostTotal,
		TieBreakFastestPace, TieBreakRandom, TieBreakAlphabetical, TieBreakReverseAlphabetical:
		return true
	}
	return false
}

// DefaultTieBreakers is the chain the competition builder pre-fills.
var DefaultTieBreakers = []TieBreakStrategy{TieBreakHighestBooks, TieBreakEarliestToTarget}

// RuleSet is immutable once the owning competition is created.
type RuleSet struct {
	Points       map[ActivityType]int `json:"points"`
	Multipliers  []Multiplier         `json:"multipliers,omitempty"`
	Combos       []Combo              `json:"combos,omitempty"`
	Caps         Caps                 `json:"caps"`
	TieBreakers  []TieBreakStrategy   `json:"tie_breakers,omitempty"`
	TargetPoints int                  `json:"target_points,omitempty"`
}

// DefaultPoints mirrors the values the competition builder pre-fills.
func DefaultPoints() map[ActivityType]int {
	return map[ActivityType]int{ActivityLift: 1, ActivityCall: 4, ActivityBook: 10}
}

func (r RuleSet) BasePoints(t ActivityType) int {
	return r.Points[t]
}

func (r RuleSet) TieBreakChain() []TieBreakStrategy {
	if len(r.TieBreakers) == 0 {
		return DefaultTieBreakers
	}
	return r.TieBreakers
}

func (r RuleSet) FindCombo(name string) (Combo, bool) {
	for _, c := range r.Combos {
		if c.Name == name {
			return c, true
		}
	}
	return Combo{}, false
}

// Lookback bounds how far from an event's timestamp its evaluation can see.
func (r RuleSet) Lookback() time.Duration {
	days := 1
	var within time.Duration
	for _, m := range r.Multipliers {
		if m.Kind() == MultiplierStreak && m.StreakDays() > days {
			days = m.StreakDays()
		}
	}
	for _, c := range r.Combos {
		if c.Window() > within {
			within = c.Window()
		}
	}
	// one extra day absorbs DST shifts when stepping local calendar days
	lookback := time.Duration(days+2) * 24 * time.Hour
	if within > lookback {
		return within
	}
	return lookback
}

type TeamConfig struct {
	Label string `json:"label"`
	Color string `json:"color"`
}

type VFXConfig struct {
	WarpTrail        bool   `json:"warp_trail"`
	Sparkles         string `json:"sparkles,omitempty"`
	ScreenShakeOnWin bool   `json:"screen_shake_on_win"`
	ParticleEffects  string `json:"particle_effects,omitempty"`
}

type Theme struct {
	Teams  []TeamConfig `json:"teams,omitempty"`
	VFX    VFXConfig    `json:"vfx"`
	Badges []string     `json:"badges,omitempty"`
}

type Prizes struct {
	Winner        int  `json:"winner"`
	RunnerUp      int  `json:"runner_up"`
	Participation int  `json:"participation"`
	TeamWinBonus  *int `json:"team_win_bonus,omitempty"`
}

func DefaultPrizes() Prizes {
	return Prizes{Winner: 50, RunnerUp: 20, Participation: 5}
}

type Competition struct {
	ID          string           `gorm:"primaryKey;type:uuid" json:"id"`
	Name        string           `gorm:"not null" json:"name"`
	Slug        string           `gorm:"index" json:"slug"`
	Description string           `json:"description,omitempty"`
	State       CompetitionState `gorm:"type:varchar(20);index;not null;default:draft" json:"state"`
	StartTime   time.Time        `gorm:"not null" json:"start_time"`
	EndTime     time.Time        `gorm:"not null" json:"end_time"`
	Timezone    string           `gorm:"type:varchar(64);default:Europe/Oslo" json:"timezone"`

	Rules  RuleSet `gorm:"type:jsonb;serializer:json" json:"rules"`
	Theme  Theme   `gorm:"type:jsonb;serializer:json" json:"theme"`
	Prizes Prizes  `gorm:"type:jsonb;serializer:json" json:"prizes"`

	CreatedBy   string     `json:"created_by,omitempty"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`

	Timestamps
}

// Location falls back to DefaultTimezone, then UTC, when the stored zone cannot be loaded.
func (c *Competition) Location() *time.Location {
	return LoadLocation(c.Timezone)
}

// Open reports whether t lies inside the inclusive [StartTime, EndTime] window.
func (c *Competition) Open(t time.Time) bool {
	return !t.Before(c.StartTime) && !t.After(c.EndTime)
}

func LoadLocation(name string) *time.Location {
	if name == "" {
		name = DefaultTimezone
	}
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	if loc, err := time.LoadLocation(DefaultTimezone); err == nil {
		return loc
	}
	return time.UTC
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}
