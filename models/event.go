package models

import "time"

// RuleTrace records which rules fired for an event and how caps trimmed it.
type RuleTrace struct {
	BasePoints         int      `json:"base_points"`
	Multiplier         float64  `json:"multiplier"`
	AppliedMultipliers []string `json:"applied_multipliers,omitempty"`
	ComboBonus         int      `json:"combo_bonus"`
	AchievedCombos     []string `json:"achieved_combos,omitempty"`
	ProposedPoints     int      `json:"proposed_points"`
	FinalPoints        int      `json:"final_points"`
	Capped             bool     `json:"capped"`
	CapReason          string   `json:"cap_reason,omitempty"`
}

func (t RuleTrace) HasCombo(name string) bool {
	for _, c := range t.AchievedCombos {
		if c == name {
			return true
		}
	}
	return false
}

// CompetitionEvent is one ledger entry. Entries are never edited except to set the
// reversal tombstone.
type CompetitionEvent struct {
	ID             string       `gorm:"primaryKey;type:uuid" json:"id"`
	CompetitionID  string       `gorm:"type:uuid;not null;index:idx_events_comp_player;uniqueIndex:idx_events_idempotency" json:"competition_id"`
	PlayerName     string       `gorm:"not null;index:idx_events_comp_player" json:"player_name"`
	Type           ActivityType `gorm:"type:varchar(10);not null" json:"type"`
	Source         string       `gorm:"type:varchar(50);default:manual" json:"source"`
	CustomPoints   *int         `json:"custom_points,omitempty"`
	TS             time.Time    `gorm:"column:ts;not null;index" json:"ts"`
	Points         int          `gorm:"not null" json:"points"`
	RuleTriggered  RuleTrace    `gorm:"type:jsonb;serializer:json" json:"rule_triggered"`
	IdempotencyKey *string      `gorm:"uniqueIndex:idx_events_idempotency" json:"idempotency_key,omitempty"`
	Reversed       bool         `gorm:"not null;default:false;index" json:"reversed"`
	ReversedAt     *time.Time   `json:"reversed_at,omitempty"`
	CreatedAt      time.Time    `gorm:"autoCreateTime" json:"created_at"`
}

// Live drops reversed events, preserving order.
func Live(events []CompetitionEvent) []CompetitionEvent {
	out := make([]CompetitionEvent, 0, len(events))
	for _, e := range events {
		if !e.Reversed {
			out = append(out, e)
		}
	}
	return out
}
