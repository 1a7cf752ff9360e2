package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"competition-engine/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore persists to Postgres. Open the connection with TranslateError so
// unique violations surface as gorm.ErrDuplicatedKey.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

var _ Store = (*GormStore)(nil)

// Models lists every table the store owns, for AutoMigrate.
func Models() []any {
	return []any{
		&models.Competition{},
		&models.Participant{},
		&models.CompetitionEvent{},
		&models.PlayerScore{},
		&models.UndoRecord{},
		&models.BonusAward{},
		&models.ResultSnapshot{},
		&models.Finalization{},
	}
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func (s *GormStore) CreateCompetition(ctx context.Context, c *models.Competition) error {
	return translate(s.DB.WithContext(ctx).Create(c).Error)
}

func (s *GormStore) GetCompetition(ctx context.Context, id string) (*models.Competition, error) {
	var c models.Competition
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (s *GormStore) ListCompetitions(ctx context.Context, filter CompetitionFilter) ([]models.Competition, error) {
	q := s.DB.WithContext(ctx).Model(&models.Competition{})
	if filter.State != "" {
		q = q.Where("state = ?", filter.State)
	}
	if filter.Slug != "" {
		q = q.Where("slug = ?", filter.Slug)
	}
	var out []models.Competition
	if err := q.Order("created_at DESC").Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) UpdateCompetition(ctx context.Context, c *models.Competition) error {
	res := s.DB.WithContext(ctx).Save(c)
	return translate(res.Error)
}

func (s *GormStore) Enroll(ctx context.Context, p *models.Participant) error {
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "competition_id"}, {Name: "player_name"}},
		DoNothing: true,
	}).Create(p).Error
	return translate(err)
}

func (s *GormStore) IsEnrolled(ctx context.Context, competitionID, player string) (bool, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.Participant{}).
		Where("competition_id = ? AND player_name = ?", competitionID, player).
		Count(&n).Error
	return n > 0, err
}

func (s *GormStore) ListParticipants(ctx context.Context, competitionID string) ([]models.Participant, error) {
	var out []models.Participant
	err := s.DB.WithContext(ctx).Where("competition_id = ?", competitionID).Order("player_name ASC").Find(&out).Error
	return out, err
}

func (s *GormStore) FindEventByKey(ctx context.Context, competitionID, key string) (*models.CompetitionEvent, error) {
	var ev models.CompetitionEvent
	err := s.DB.WithContext(ctx).
		Where("competition_id = ? AND idempotency_key = ?", competitionID, key).
		First(&ev).Error
	if err != nil {
		return nil, translate(err)
	}
	return &ev, nil
}

func (s *GormStore) GetEvent(ctx context.Context, id string) (*models.CompetitionEvent, error) {
	var ev models.CompetitionEvent
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&ev).Error; err != nil {
		return nil, translate(err)
	}
	return &ev, nil
}

func (s *GormStore) ListEvents(ctx context.Context, competitionID string) ([]models.CompetitionEvent, error) {
	var out []models.CompetitionEvent
	err := s.DB.WithContext(ctx).Where("competition_id = ?", competitionID).
		Order("ts ASC").Order("created_at ASC").Find(&out).Error
	return out, err
}

func (s *GormStore) ListPlayerEvents(ctx context.Context, competitionID, player string) ([]models.CompetitionEvent, error) {
	var out []models.CompetitionEvent
	err := s.DB.WithContext(ctx).Where("competition_id = ? AND player_name = ?", competitionID, player).
		Order("ts ASC").Order("created_at ASC").Find(&out).Error
	return out, err
}

func (s *GormStore) CommitEvent(ctx context.Context, ev *models.CompetitionEvent, row *models.PlayerScore) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ev).Error; err != nil {
			return err
		}
		return upsertScore(tx, ev.CompetitionID, ev.PlayerName, row)
	})
	return translate(err)
}

func (s *GormStore) ReverseEvent(ctx context.Context, ev *models.CompetitionEvent, undo *models.UndoRecord, row *models.PlayerScore) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.CompetitionEvent{}).
			Where("id = ? AND reversed = ?", ev.ID, false).
			Updates(map[string]any{"reversed": true, "reversed_at": ev.ReversedAt})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrDuplicate
		}
		if err := tx.Create(undo).Error; err != nil {
			return err
		}
		return upsertScore(tx, ev.CompetitionID, ev.PlayerName, row)
	})
	return translate(err)
}

func upsertScore(tx *gorm.DB, competitionID, player string, row *models.PlayerScore) error {
	if row == nil {
		return tx.Where("competition_id = ? AND player_name = ?", competitionID, player).
			Delete(&models.PlayerScore{}).Error
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "competition_id"}, {Name: "player_name"}},
		UpdateAll: true,
	}).Create(row).Error
}

func (s *GormStore) ListScores(ctx context.Context, competitionID string) ([]models.PlayerScore, error) {
	var out []models.PlayerScore
	err := s.DB.WithContext(ctx).Where("competition_id = ?", competitionID).Order("player_name ASC").Find(&out).Error
	return out, err
}

func (s *GormStore) SumScores(ctx context.Context, competitionID string) (int, error) {
	var sum int
	err := s.DB.WithContext(ctx).Model(&models.PlayerScore{}).
		Where("competition_id = ?", competitionID).
		Select("COALESCE(SUM(total_points), 0)").
		Scan(&sum).Error
	return sum, err
}

func (s *GormStore) ListUndoRecords(ctx context.Context, competitionID string) ([]models.UndoRecord, error) {
	var out []models.UndoRecord
	err := s.DB.WithContext(ctx).Where("competition_id = ?", competitionID).Order("undone_at ASC").Find(&out).Error
	return out, err
}

func (s *GormStore) SaveFinalization(ctx context.Context, c *models.Competition, fin *models.Finalization, snap *models.ResultSnapshot, awards []models.BonusAward) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(fin).Error; err != nil {
			return err
		}
		if err := tx.Save(c).Error; err != nil {
			return err
		}
		if err := tx.Create(snap).Error; err != nil {
			return err
		}
		if len(awards) > 0 {
			if err := tx.Create(&awards).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return translate(err)
}

func (s *GormStore) GetFinalization(ctx context.Context, competitionID string) (*models.Finalization, error) {
	var fin models.Finalization
	if err := s.DB.WithContext(ctx).Where("competition_id = ?", competitionID).First(&fin).Error; err != nil {
		return nil, translate(err)
	}
	return &fin, nil
}

func (s *GormStore) ListBonusAwards(ctx context.Context, competitionID string) ([]models.BonusAward, error) {
	var out []models.BonusAward
	err := s.DB.WithContext(ctx).Where("competition_id = ?", competitionID).Order("rank ASC").Find(&out).Error
	return out, err
}

func (s *GormStore) SaveSnapshot(ctx context.Context, snap *models.ResultSnapshot) error {
	return translate(s.DB.WithContext(ctx).Create(snap).Error)
}

func (s *GormStore) ListSnapshots(ctx context.Context, competitionID string) ([]models.ResultSnapshot, error) {
	var out []models.ResultSnapshot
	err := s.DB.WithContext(ctx).Where("competition_id = ?", competitionID).Order("created_at ASC").Find(&out).Error
	return out, err
}

func (s *GormStore) SetSnapshotArchiveURL(ctx context.Context, id, url string) error {
	res := s.DB.WithContext(ctx).Model(&models.ResultSnapshot{}).Where("id = ?", id).Update("archive_url", url)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) PurgeReversed(ctx context.Context, cutoff time.Time) (int64, error) {
	finalized := s.DB.Model(&models.Competition{}).
		Select("id").
		Where("state = ? AND finalized_at < ?", models.StateFinalized, cutoff)
	res := s.DB.WithContext(ctx).
		Where("reversed = ? AND competition_id IN (?)", true, finalized).
		Delete(&models.CompetitionEvent{})
	return res.RowsAffected, res.Error
}
