// Package store persists competitions, the event ledger and the leaderboard projection.
package store

import (
	"context"
	"errors"
	"time"

	"competition-engine/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

type CompetitionFilter struct {
	State models.CompetitionState
	Slug  string
}

// Store is the persistence collaborator of the engine. Implementations must make
// CommitEvent, ReverseEvent and SaveFinalization atomic.
type Store interface {
	CreateCompetition(ctx context.Context, c *models.Competition) error
	GetCompetition(ctx context.Context, id string) (*models.Competition, error)
	ListCompetitions(ctx context.Context, filter CompetitionFilter) ([]models.Competition, error)
	UpdateCompetition(ctx context.Context, c *models.Competition) error

	Enroll(ctx context.Context, p *models.Participant) error
	IsEnrolled(ctx context.Context, competitionID, player string) (bool, error)
	ListParticipants(ctx context.Context, competitionID string) ([]models.Participant, error)

	FindEventByKey(ctx context.Context, competitionID, key string) (*models.CompetitionEvent, error)
	GetEvent(ctx context.Context, id string) (*models.CompetitionEvent, error)
	ListEvents(ctx context.Context, competitionID string) ([]models.CompetitionEvent, error)
	ListPlayerEvents(ctx context.Context, competitionID, player string) ([]models.CompetitionEvent, error)

	// CommitEvent appends ev and upserts the player's recomputed row in one step.
	CommitEvent(ctx context.Context, ev *models.CompetitionEvent, row *models.PlayerScore) error
	// ReverseEvent stores the tombstone on ev, appends undo and replaces the player's
	// row; a nil row deletes it.
	ReverseEvent(ctx context.Context, ev *models.CompetitionEvent, undo *models.UndoRecord, row *models.PlayerScore) error

	ListScores(ctx context.Context, competitionID string) ([]models.PlayerScore, error)
	SumScores(ctx context.Context, competitionID string) (int, error)
	ListUndoRecords(ctx context.Context, competitionID string) ([]models.UndoRecord, error)

	// SaveFinalization stores the frozen competition, its result snapshot, the
	// bonus awards and the finalization record together.
	SaveFinalization(ctx context.Context, c *models.Competition, fin *models.Finalization, snap *models.ResultSnapshot, awards []models.BonusAward) error
	GetFinalization(ctx context.Context, competitionID string) (*models.Finalization, error)
	ListBonusAwards(ctx context.Context, competitionID string) ([]models.BonusAward, error)

	SaveSnapshot(ctx context.Context, s *models.ResultSnapshot) error
	ListSnapshots(ctx context.Context, competitionID string) ([]models.ResultSnapshot, error)
	SetSnapshotArchiveURL(ctx context.Context, id, url string) error

	// PurgeReversed physically removes reversed events of competitions finalized before cutoff.
	PurgeReversed(ctx context.Context, cutoff time.Time) (int64, error)
}
