package models

import "time"

// PlayerScore is the per-player leaderboard projection folded from live events.
type PlayerScore struct {
	CompetitionID      string               `gorm:"primaryKey;type:uuid" json:"competition_id"`
	PlayerName         string               `gorm:"primaryKey" json:"player_name"`
	TotalPoints        int                  `gorm:"not null;default:0" json:"total_points"`
	EventCount         int                  `gorm:"not null;default:0" json:"event_count"`
	Breakdown          map[ActivityType]int `gorm:"type:jsonb;serializer:json" json:"breakdown"`
	MultipliersApplied []string             `gorm:"type:jsonb;serializer:json" json:"multipliers_applied"`
	CombosAchieved     []string             `gorm:"type:jsonb;serializer:json" json:"combos_achieved"`
	CurrentStreak      int                  `json:"current_streak"`
	FirstActivity      *time.Time           `json:"first_activity,omitempty"`
	LastActivity       *time.Time           `json:"last_activity,omitempty"`
	ReachedTotalAt     *time.Time           `json:"reached_total_at,omitempty"`
	TargetReachedAt    *time.Time           `json:"target_reached_at,omitempty"`
	UpdatedAt          time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

// Clone copies the row including its maps and slices.
func (p PlayerScore) Clone() PlayerScore {
	out := p
	if p.Breakdown != nil {
		out.Breakdown = make(map[ActivityType]int, len(p.Breakdown))
		for k, v := range p.Breakdown {
			out.Breakdown[k] = v
		}
	}
	out.MultipliersApplied = append([]string(nil), p.MultipliersApplied...)
	out.CombosAchieved = append([]string(nil), p.CombosAchieved...)
	return out
}
