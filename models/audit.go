package models

import "time"

// UndoRecord is appended for every reversal, including testing-only deletes.
type UndoRecord struct {
	ID            string    `gorm:"primaryKey;type:uuid" json:"id"`
	EventID       string    `gorm:"type:uuid;uniqueIndex;not null" json:"event_id"`
	CompetitionID string    `gorm:"type:uuid;index;not null" json:"competition_id"`
	PlayerName    string    `gorm:"index;not null" json:"player_name"`
	UndoneBy      string    `json:"undone_by"`
	Reason        string    `json:"reason,omitempty"`
	TestingOnly   bool      `gorm:"default:false" json:"testing_only"`
	UndoneAt      time.Time `gorm:"not null" json:"undone_at"`
}

type Participant struct {
	CompetitionID string    `gorm:"primaryKey;type:uuid" json:"competition_id"`
	PlayerName    string    `gorm:"primaryKey" json:"player_name"`
	EnrolledAt    time.Time `json:"enrolled_at"`
}

// BonusAward is a finalization payout, kept apart from event points.
type BonusAward struct {
	ID            string    `gorm:"primaryKey;type:uuid" json:"id"`
	CompetitionID string    `gorm:"type:uuid;uniqueIndex:idx_bonus_comp_player;not null" json:"competition_id"`
	PlayerName    string    `gorm:"uniqueIndex:idx_bonus_comp_player;not null" json:"player_name"`
	Rank          int       `json:"rank"`
	Points        int       `json:"points"`
	Source        string    `gorm:"type:varchar(50);default:competition_win" json:"source"`
	Description   string    `json:"description"`
	AwardedAt     time.Time `json:"awarded_at"`
}

type SnapshotType string

const (
	SnapshotPeriodic  SnapshotType = "periodic"
	SnapshotManual    SnapshotType = "manual"
	SnapshotFinalized SnapshotType = "finalized"
)

type ResultSnapshot struct {
	ID            string        `gorm:"primaryKey;type:uuid" json:"id"`
	CompetitionID string        `gorm:"type:uuid;index;not null" json:"competition_id"`
	SnapshotType  SnapshotType  `gorm:"type:varchar(20);not null" json:"snapshot_type"`
	Leaderboard   []PlayerScore `gorm:"type:jsonb;serializer:json" json:"leaderboard"`
	ArchiveURL    string        `json:"archive_url,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

type Winner struct {
	PlayerName   string `json:"player_name"`
	TotalPoints  int    `json:"total_points"`
	Rank         int    `json:"rank"`
	BonusAwarded int    `json:"bonus_awarded"`
}

// Finalization is written once per competition; later finalize calls read it back.
type Finalization struct {
	CompetitionID       string    `gorm:"primaryKey;type:uuid" json:"competition_id"`
	SnapshotID          string    `gorm:"type:uuid" json:"snapshot_id"`
	Winners             []Winner  `gorm:"type:jsonb;serializer:json" json:"winners"`
	TotalBonusesAwarded int       `json:"total_bonuses_awarded"`
	FinalizedBy         string    `json:"finalized_by,omitempty"`
	FinalizedAt         time.Time `json:"finalized_at"`
}
