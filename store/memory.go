package store

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"competition-engine/models"
)

// MemoryStore keeps everything in process. Readers receive copies, so a result
// never changes under a caller after a later commit.
type MemoryStore struct {
	mu            sync.RWMutex
	competitions  map[string]models.Competition
	participants  map[string]map[string]models.Participant
	events        map[string]models.CompetitionEvent
	eventOrder    map[string][]string
	keys          map[string]string
	scores        map[string]map[string]models.PlayerScore
	undos         map[string][]models.UndoRecord
	finalizations map[string]models.Finalization
	awards        map[string][]models.BonusAward
	snapshots     map[string][]models.ResultSnapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		competitions:  map[string]models.Competition{},
		participants:  map[string]map[string]models.Participant{},
		events:        map[string]models.CompetitionEvent{},
		eventOrder:    map[string][]string{},
		keys:          map[string]string{},
		scores:        map[string]map[string]models.PlayerScore{},
		undos:         map[string][]models.UndoRecord{},
		finalizations: map[string]models.Finalization{},
		awards:        map[string][]models.BonusAward{},
		snapshots:     map[string][]models.ResultSnapshot{},
	}
}

var _ Store = (*MemoryStore)(nil)

func idempotencyIndex(competitionID, key string) string {
	return competitionID + "\x00" + key
}

func (s *MemoryStore) CreateCompetition(_ context.Context, c *models.Competition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.competitions[c.ID]; ok {
		return ErrDuplicate
	}
	s.competitions[c.ID] = *c
	return nil
}

func (s *MemoryStore) GetCompetition(_ context.Context, id string) (*models.Competition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.competitions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *MemoryStore) ListCompetitions(_ context.Context, filter CompetitionFilter) ([]models.Competition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Competition{}
	for _, c := range s.competitions {
		if filter.State != "" && c.State != filter.State {
			continue
		}
		if filter.Slug != "" && c.Slug != filter.Slug {
			continue
		}
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b models.Competition) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), strings.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *MemoryStore) UpdateCompetition(_ context.Context, c *models.Competition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.competitions[c.ID]; !ok {
		return ErrNotFound
	}
	s.competitions[c.ID] = *c
	return nil
}

func (s *MemoryStore) Enroll(_ context.Context, p *models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPlayer, ok := s.participants[p.CompetitionID]
	if !ok {
		byPlayer = map[string]models.Participant{}
		s.participants[p.CompetitionID] = byPlayer
	}
	if existing, ok := byPlayer[p.PlayerName]; ok {
		*p = existing
		return nil
	}
	byPlayer[p.PlayerName] = *p
	return nil
}

func (s *MemoryStore) IsEnrolled(_ context.Context, competitionID, player string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.participants[competitionID][player]
	return ok, nil
}

func (s *MemoryStore) ListParticipants(_ context.Context, competitionID string) ([]models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Participant{}
	for _, p := range s.participants[competitionID] {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b models.Participant) int { return strings.Compare(a.PlayerName, b.PlayerName) })
	return out, nil
}

func (s *MemoryStore) FindEventByKey(_ context.Context, competitionID, key string) (*models.CompetitionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.keys[idempotencyIndex(competitionID, key)]
	if !ok {
		return nil, ErrNotFound
	}
	ev := cloneEvent(s.events[id])
	return &ev, nil
}

func (s *MemoryStore) GetEvent(_ context.Context, id string) (*models.CompetitionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	ev = cloneEvent(ev)
	return &ev, nil
}

func (s *MemoryStore) ListEvents(_ context.Context, competitionID string) ([]models.CompetitionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectEvents(competitionID, func(models.CompetitionEvent) bool { return true }), nil
}

func (s *MemoryStore) ListPlayerEvents(_ context.Context, competitionID, player string) ([]models.CompetitionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectEvents(competitionID, func(e models.CompetitionEvent) bool { return e.PlayerName == player }), nil
}

// collectEvents returns matching events in ts order; callers hold the lock.
func (s *MemoryStore) collectEvents(competitionID string, keep func(models.CompetitionEvent) bool) []models.CompetitionEvent {
	out := []models.CompetitionEvent{}
	for _, id := range s.eventOrder[competitionID] {
		if ev, ok := s.events[id]; ok && keep(ev) {
			out = append(out, cloneEvent(ev))
		}
	}
	slices.SortStableFunc(out, func(a, b models.CompetitionEvent) int { return a.TS.Compare(b.TS) })
	return out
}

func (s *MemoryStore) CommitEvent(_ context.Context, ev *models.CompetitionEvent, row *models.PlayerScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[ev.ID]; ok {
		return ErrDuplicate
	}
	if ev.IdempotencyKey != nil {
		idx := idempotencyIndex(ev.CompetitionID, *ev.IdempotencyKey)
		if _, ok := s.keys[idx]; ok {
			return ErrDuplicate
		}
		s.keys[idx] = ev.ID
	}
	s.events[ev.ID] = cloneEvent(*ev)
	s.eventOrder[ev.CompetitionID] = append(s.eventOrder[ev.CompetitionID], ev.ID)
	s.putScore(ev.CompetitionID, ev.PlayerName, row)
	return nil
}

func (s *MemoryStore) ReverseEvent(_ context.Context, ev *models.CompetitionEvent, undo *models.UndoRecord, row *models.PlayerScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.events[ev.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Reversed {
		return ErrDuplicate
	}
	stored.Reversed = true
	stored.ReversedAt = ev.ReversedAt
	s.events[ev.ID] = stored
	s.undos[ev.CompetitionID] = append(s.undos[ev.CompetitionID], *undo)
	s.putScore(ev.CompetitionID, ev.PlayerName, row)
	return nil
}

func (s *MemoryStore) putScore(competitionID, player string, row *models.PlayerScore) {
	rows, ok := s.scores[competitionID]
	if !ok {
		rows = map[string]models.PlayerScore{}
		s.scores[competitionID] = rows
	}
	if row == nil {
		delete(rows, player)
		return
	}
	rows[player] = row.Clone()
}

func (s *MemoryStore) ListScores(_ context.Context, competitionID string) ([]models.PlayerScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PlayerScore, 0, len(s.scores[competitionID]))
	for _, row := range s.scores[competitionID] {
		out = append(out, row.Clone())
	}
	slices.SortFunc(out, func(a, b models.PlayerScore) int { return strings.Compare(a.PlayerName, b.PlayerName) })
	return out, nil
}

func (s *MemoryStore) SumScores(_ context.Context, competitionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := 0
	for _, row := range s.scores[competitionID] {
		sum += row.TotalPoints
	}
	return sum, nil
}

func (s *MemoryStore) ListUndoRecords(_ context.Context, competitionID string) ([]models.UndoRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.UndoRecord{}, s.undos[competitionID]...), nil
}

func (s *MemoryStore) SaveFinalization(_ context.Context, c *models.Competition, fin *models.Finalization, snap *models.ResultSnapshot, awards []models.BonusAward) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.finalizations[fin.CompetitionID]; ok {
		return ErrDuplicate
	}
	s.competitions[c.ID] = *c
	s.snapshots[snap.CompetitionID] = append(s.snapshots[snap.CompetitionID], cloneSnapshot(*snap))
	s.awards[fin.CompetitionID] = append([]models.BonusAward{}, awards...)
	stored := *fin
	stored.Winners = append([]models.Winner{}, fin.Winners...)
	s.finalizations[fin.CompetitionID] = stored
	return nil
}

func (s *MemoryStore) GetFinalization(_ context.Context, competitionID string) (*models.Finalization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fin, ok := s.finalizations[competitionID]
	if !ok {
		return nil, ErrNotFound
	}
	fin.Winners = append([]models.Winner{}, fin.Winners...)
	return &fin, nil
}

func (s *MemoryStore) ListBonusAwards(_ context.Context, competitionID string) ([]models.BonusAward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.BonusAward{}, s.awards[competitionID]...), nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snap *models.ResultSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.CompetitionID] = append(s.snapshots[snap.CompetitionID], cloneSnapshot(*snap))
	return nil
}

func (s *MemoryStore) ListSnapshots(_ context.Context, competitionID string) ([]models.ResultSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ResultSnapshot, 0, len(s.snapshots[competitionID]))
	for _, snap := range s.snapshots[competitionID] {
		out = append(out, cloneSnapshot(snap))
	}
	return out, nil
}

func (s *MemoryStore) SetSnapshotArchiveURL(_ context.Context, id, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for compID, list := range s.snapshots {
		for i := range list {
			if list[i].ID == id {
				s.snapshots[compID][i].ArchiveURL = url
				return nil
			}
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) PurgeReversed(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged int64
	for compID, c := range s.competitions {
		if c.State != models.StateFinalized || c.FinalizedAt == nil || !c.FinalizedAt.Before(cutoff) {
			continue
		}
		kept := s.eventOrder[compID][:0]
		for _, id := range s.eventOrder[compID] {
			ev := s.events[id]
			if !ev.Reversed {
				kept = append(kept, id)
				continue
			}
			if ev.IdempotencyKey != nil {
				delete(s.keys, idempotencyIndex(compID, *ev.IdempotencyKey))
			}
			delete(s.events, id)
			purged++
		}
		s.eventOrder[compID] = kept
	}
	return purged, nil
}

func cloneEvent(ev models.CompetitionEvent) models.CompetitionEvent {
	ev.RuleTriggered.AppliedMultipliers = append([]string(nil), ev.RuleTriggered.AppliedMultipliers...)
	ev.RuleTriggered.AchievedCombos = append([]string(nil), ev.RuleTriggered.AchievedCombos...)
	return ev
}

func cloneSnapshot(snap models.ResultSnapshot) models.ResultSnapshot {
	rows := make([]models.PlayerScore, len(snap.Leaderboard))
	for i, row := range snap.Leaderboard {
		rows[i] = row.Clone()
	}
	snap.Leaderboard = rows
	return snap
}
