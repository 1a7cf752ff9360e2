package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"competition-engine/models"
	"competition-engine/scoring"
	"competition-engine/store"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultUndoWindow   = 30 * time.Minute
	DefaultMaxClockSkew = 5 * time.Second
	DefaultMaxBackdate  = 5 * time.Minute
	maxSourceLength     = 50
)

type EngineConfig struct {
	UndoWindow   time.Duration
	// MaxClockSkew is how far ahead of the engine clock a client ts may be.
	MaxClockSkew time.Duration
	// MaxBackdate is how far behind the engine clock a client ts may be.
	MaxBackdate  time.Duration
	AntiCheat    scoring.ScanConfig
	TestingOps   bool
}

// SnapshotArchiver copies a result snapshot to long-term storage and returns its URL.
type SnapshotArchiver interface {
	ArchiveSnapshot(ctx context.Context, snap *models.ResultSnapshot) (string, error)
}

type WinnerNotifier interface {
	NotifyWinners(ctx context.Context, c *models.Competition, fin *models.Finalization) error
}

// Engine coordinates scoring for any number of competitions. It holds no
// competition state of its own; every call names its competition and all
// state lives in the store.
type Engine struct {
	store    store.Store
	clock    clockwork.Clock
	cfg      EngineConfig
	locks    *keyedMutex
	observer chan<- models.CompetitionEvent
	archiver SnapshotArchiver
	notifier WinnerNotifier
}

func NewEngine(st store.Store, clock clockwork.Clock, cfg EngineConfig) *Engine {
	if cfg.UndoWindow <= 0 {
		cfg.UndoWindow = DefaultUndoWindow
	}
	if cfg.MaxClockSkew <= 0 {
		cfg.MaxClockSkew = DefaultMaxClockSkew
	}
	if cfg.MaxBackdate <= 0 {
		cfg.MaxBackdate = DefaultMaxBackdate
	}
	if cfg.AntiCheat == (scoring.ScanConfig{}) {
		cfg.AntiCheat = scoring.DefaultScanConfig()
	}
	return &Engine{store: st, clock: clock, cfg: cfg, locks: newKeyedMutex()}
}

// SetObserver registers a channel that receives every committed event. Sends
// never block; events are dropped when the channel is full.
func (e *Engine) SetObserver(ch chan<- models.CompetitionEvent) { e.observer = ch }

func (e *Engine) SetArchiver(a SnapshotArchiver) { e.archiver = a }

func (e *Engine) SetNotifier(n WinnerNotifier) { e.notifier = n }

func (e *Engine) Now() time.Time { return e.clock.Now() }

func (e *Engine) loadCompetition(ctx context.Context, id string) (*models.Competition, error) {
	c, err := e.store.GetCompetition(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, scoring.WithMetadata(scoring.CodeCompetitionNotFound, "competition not found", map[string]string{"competition_id": id})
	}
	if err != nil {
		return nil, fmt.Errorf("load competition %s: %w", id, err)
	}
	return c, nil
}

// --- Competitions ---

type CreateCompetitionInput struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      time.Time      `json:"end_time"`
	Timezone     string         `json:"timezone"`
	Rules        models.RuleSet `json:"rules"`
	Theme        models.Theme   `json:"theme"`
	Prizes       *models.Prizes `json:"prizes"`
	Participants []string       `json:"participants"`
}

// ValidationError carries the full report behind a VALIDATION_FAILED error.
type ValidationError struct {
	Err    *scoring.Error
	Report scoring.ValidationReport
}

func (v *ValidationError) Error() string { return v.Err.Error() }

func (v *ValidationError) Unwrap() error { return v.Err }

func newValidationError(report scoring.ValidationReport) *ValidationError {
	msg := "validation failed"
	if len(report.Errors) > 0 {
		msg = fmt.Sprintf("validation failed: %s: %s", report.Errors[0].Loc, report.Errors[0].Msg)
	}
	return &ValidationError{Err: scoring.NewError(scoring.CodeValidationFailed, msg), Report: report}
}

// CreateCompetition stores a new competition in draft. Rules are validated up
// front and cannot be changed afterwards.
func (e *Engine) CreateCompetition(ctx context.Context, in CreateCompetitionInput, actor string) (*models.Competition, scoring.ValidationReport, error) {
	in.Name = strings.TrimSpace(in.Name)
	if len(in.Rules.Points) == 0 {
		in.Rules.Points = models.DefaultPoints()
	}
	prizes := models.DefaultPrizes()
	if in.Prizes != nil {
		prizes = *in.Prizes
	}
	if in.Timezone == "" {
		in.Timezone = models.DefaultTimezone
	}

	report := scoring.Validate(in.Rules, in.Theme, prizes)
	if in.Name == "" {
		report.Errors = append(report.Errors, scoring.FieldError{Loc: "name", Msg: "name is required", Type: "missing"})
	}
	report.Errors = append(report.Errors, scoring.ValidateSchedule(in.StartTime, in.EndTime, in.Timezone)...)
	report.IsValid = len(report.Errors) == 0
	if !report.IsValid {
		return nil, report, newValidationError(report)
	}

	now := e.clock.Now()
	c := &models.Competition{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Slug:        slug.Make(in.Name),
		Description: in.Description,
		State:       models.StateDraft,
		StartTime:   in.StartTime,
		EndTime:     in.EndTime,
		Timezone:    in.Timezone,
		Rules:       in.Rules,
		Theme:       in.Theme,
		Prizes:      prizes,
		CreatedBy:   actor,
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	if err := e.store.CreateCompetition(ctx, c); err != nil {
		return nil, report, fmt.Errorf("create competition: %w", err)
	}
	for _, p := range in.Participants {
		if _, err := e.Enroll(ctx, c.ID, p); err != nil {
			return nil, report, err
		}
	}
	log.Printf("[ENGINE] 🏁 Created competition %s (%q) by %s", c.ID, c.Name, actor)
	return c, report, nil
}

func (e *Engine) GetCompetition(ctx context.Context, id string) (*models.Competition, error) {
	return e.loadCompetition(ctx, id)
}

func (e *Engine) ListCompetitions(ctx context.Context, filter store.CompetitionFilter) ([]models.Competition, error) {
	return e.store.ListCompetitions(ctx, filter)
}

// ActiveCompetitionIDs lists competitions currently accepting events.
func (e *Engine) ActiveCompetitionIDs(ctx context.Context) ([]string, error) {
	list, err := e.store.ListCompetitions(ctx, store.CompetitionFilter{State: models.StateActive})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(list))
	for i, c := range list {
		ids[i] = c.ID
	}
	return ids, nil
}

func (e *Engine) Validate(rules models.RuleSet, theme models.Theme, prizes models.Prizes) scoring.ValidationReport {
	return scoring.Validate(rules, theme, prizes)
}

func (e *Engine) Preview(rules models.RuleSet, theme models.Theme, prizes models.Prizes, tz string, events []scoring.PreviewEvent) scoring.PreviewResult {
	return scoring.Preview(rules, theme, prizes, models.LoadLocation(tz), events)
}

// --- Lifecycle ---

func (e *Engine) Activate(ctx context.Context, id, actor string) (*models.Competition, error) {
	return e.transition(ctx, id, models.StateActive, actor)
}

func (e *Engine) Pause(ctx context.Context, id, actor string) (*models.Competition, error) {
	return e.transition(ctx, id, models.StatePaused, actor)
}

func (e *Engine) Resume(ctx context.Context, id, actor string) (*models.Competition, error) {
	return e.transition(ctx, id, models.StateActive, actor)
}

func (e *Engine) transition(ctx context.Context, id string, to models.CompetitionState, actor string) (*models.Competition, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	c, err := e.loadCompetition(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.State == models.StateDraft && to == models.StateActive {
		err = scoring.Activatable(c)
	} else {
		err = scoring.Transition(c.State, to)
	}
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	from := c.State
	c.State = to
	c.UpdatedAt = now
	if to == models.StateActive && c.ActivatedAt == nil {
		c.ActivatedAt = &now
	}
	if err := e.store.UpdateCompetition(ctx, c); err != nil {
		return nil, fmt.Errorf("update competition state: %w", err)
	}
	log.Printf("[ENGINE] 🔁 Competition %s %s → %s by %s", id, from, to, actor)
	return c, nil
}

// --- Enrollment ---

func (e *Engine) Enroll(ctx context.Context, competitionID, player string) (*models.Participant, error) {
	player = strings.TrimSpace(player)
	if player == "" {
		return nil, scoring.NewError(scoring.CodeValidationFailed, "player_name is required")
	}

	unlock := e.locks.lock(competitionID)
	defer unlock()

	c, err := e.loadCompetition(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	if c.State == models.StateFinalized {
		return nil, scoring.ErrCompetitionFrozen
	}
	p := &models.Participant{CompetitionID: competitionID, PlayerName: player, EnrolledAt: e.clock.Now()}
	if err := e.store.Enroll(ctx, p); err != nil {
		return nil, fmt.Errorf("enroll %s: %w", player, err)
	}
	return p, nil
}

func (e *Engine) ListParticipants(ctx context.Context, competitionID string) ([]models.Participant, error) {
	if _, err := e.loadCompetition(ctx, competitionID); err != nil {
		return nil, err
	}
	return e.store.ListParticipants(ctx, competitionID)
}

// --- Events ---

type EventInput struct {
	PlayerName   string              `json:"player_name"`
	Type         models.ActivityType `json:"type"`
	Source       string              `json:"source,omitempty"`
	CustomPoints *int                `json:"custom_points,omitempty"`
	TS           *time.Time          `json:"ts,omitempty"`
}

type SubmitResult struct {
	Event    models.CompetitionEvent `json:"event"`
	Replayed bool                    `json:"replayed"`
}

func (in *EventInput) normalize() error {
	in.PlayerName = strings.TrimSpace(in.PlayerName)
	if in.PlayerName == "" {
		return scoring.NewError(scoring.CodeInvalidEvent, "player_name is required")
	}
	if !in.Type.Valid() {
		return scoring.WithMetadata(scoring.CodeInvalidEvent, fmt.Sprintf("unknown activity type %q", in.Type), map[string]string{"type": string(in.Type)})
	}
	if in.CustomPoints != nil && *in.CustomPoints < 0 {
		return scoring.NewError(scoring.CodeInvalidEvent, "custom_points must be >= 0")
	}
	if in.Source == "" {
		in.Source = "manual"
	}
	if len(in.Source) > maxSourceLength {
		return scoring.NewError(scoring.CodeInvalidEvent, "source must be at most 50 characters")
	}
	return nil
}

// SubmitEvent scores and commits one activity. A repeated idempotency key for
// the same competition returns the first committed event without a second effect.
func (e *Engine) SubmitEvent(ctx context.Context, competitionID string, in EventInput, idempotencyKey string) (*SubmitResult, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	idempotencyKey = strings.TrimSpace(idempotencyKey)

	unlock := e.locks.lock(competitionID)
	defer unlock()

	c, err := e.loadCompetition(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()
	ts := now
	if in.TS != nil {
		ts = *in.TS
	}
	if c.State != models.StateActive || !c.Open(now) || !c.Open(ts) {
		return nil, scoring.WithMetadata(scoring.CodeNotAcceptingEvents, "competition is not accepting events", map[string]string{
			"competition_id": competitionID,
			"state":          string(c.State),
		})
	}

	if idempotencyKey != "" {
		prior, err := e.store.FindEventByKey(ctx, competitionID, idempotencyKey)
		if err == nil {
			log.Printf("[ENGINE] ♻️ Replayed idempotency key %q for competition %s (event %s)", idempotencyKey, competitionID, prior.ID)
			return &SubmitResult{Event: *prior, Replayed: true}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("lookup idempotency key: %w", err)
		}
	}
	if err := e.checkTimestamp(now, ts); err != nil {
		return nil, err
	}

	enrolled, err := e.store.IsEnrolled(ctx, competitionID, in.PlayerName)
	if err != nil {
		return nil, fmt.Errorf("check enrollment: %w", err)
	}
	if !enrolled {
		return nil, scoring.WithMetadata(scoring.CodePlayerNotEnrolled, "player not enrolled", map[string]string{
			"competition_id": competitionID,
			"player_name":    in.PlayerName,
		})
	}

	history, err := e.store.ListPlayerEvents(ctx, competitionID, in.PlayerName)
	if err != nil {
		return nil, fmt.Errorf("load player events: %w", err)
	}
	if in.TS != nil {
		if last, ok := latestLive(history); ok && ts.Before(last) {
			return nil, scoring.WithMetadata(scoring.CodeInvalidEvent, "ts is before the player's latest event", map[string]string{
				"ts":     ts.UTC().Format(time.RFC3339Nano),
				"latest": last.UTC().Format(time.RFC3339Nano),
			})
		}
	}
	global, err := e.store.SumScores(ctx, competitionID)
	if err != nil {
		return nil, fmt.Errorf("sum scores: %w", err)
	}

	loc := c.Location()
	ev := models.CompetitionEvent{
		ID:            uuid.NewString(),
		CompetitionID: competitionID,
		PlayerName:    in.PlayerName,
		Type:          in.Type,
		Source:        in.Source,
		CustomPoints:  in.CustomPoints,
		TS:            ts,
		CreatedAt:     now,
	}
	if idempotencyKey != "" {
		ev.IdempotencyKey = &idempotencyKey
	}

	delta := scoring.Evaluate(c.Rules, loc, history, ev)
	day, total := scoring.PlayerUsage(history, ts, loc)
	capped := scoring.ApplyCaps(c.Rules.Caps, scoring.CapUsage{PlayerDay: day, PlayerTotal: total, Global: global}, delta.Points)
	if capped.Capped {
		log.Printf("[CAPS] ✂️ %s/%s proposed %d, allowed %d (%s)", competitionID, in.PlayerName, delta.Points, capped.Allowed, capped.Reason)
	}
	ev.Points = capped.Allowed
	ev.RuleTriggered = delta.Trace(capped)

	row := scoring.FoldPlayer(competitionID, in.PlayerName, append(history, ev), c.Rules, loc)
	if err := e.store.CommitEvent(ctx, &ev, row); err != nil {
		if errors.Is(err, store.ErrDuplicate) && ev.IdempotencyKey != nil {
			if prior, ferr := e.store.FindEventByKey(ctx, competitionID, idempotencyKey); ferr == nil {
				return &SubmitResult{Event: *prior, Replayed: true}, nil
			}
		}
		return nil, fmt.Errorf("commit event: %w", err)
	}

	log.Printf("[ENGINE] ✅ %s/%s %s +%d (base %d ×%g, combos %v)",
		competitionID, in.PlayerName, in.Type, ev.Points, delta.Base, delta.Multiplier, delta.Combos)
	e.publish(ev)
	return &SubmitResult{Event: ev}, nil
}

// checkTimestamp bounds a client supplied ts to
// [now-MaxBackdate, now+MaxClockSkew].
func (e *Engine) checkTimestamp(now, ts time.Time) error {
	switch {
	case ts.After(now.Add(e.cfg.MaxClockSkew)):
		return scoring.WithMetadata(scoring.CodeInvalidEvent, "ts is in the future", map[string]string{
			"ts":  ts.UTC().Format(time.RFC3339Nano),
			"now": now.UTC().Format(time.RFC3339Nano),
		})
	case ts.Before(now.Add(-e.cfg.MaxBackdate)):
		return scoring.WithMetadata(scoring.CodeInvalidEvent, fmt.Sprintf("ts may be at most %s in the past", e.cfg.MaxBackdate), map[string]string{
			"ts":  ts.UTC().Format(time.RFC3339Nano),
			"now": now.UTC().Format(time.RFC3339Nano),
		})
	}
	return nil
}

func latestLive(history []models.CompetitionEvent) (time.Time, bool) {
	var last time.Time
	found := false
	for _, ev := range history {
		if ev.Reversed {
			continue
		}
		if !found || ev.TS.After(last) {
			last, found = ev.TS, true
		}
	}
	return last, found
}

func (e *Engine) publish(ev models.CompetitionEvent) {
	if e.observer == nil {
		return
	}
	select {
	case e.observer <- ev:
	default:
		log.Printf("[ENGINE] ⚠️ Anti-cheat watcher busy, event %s not observed", ev.ID)
	}
}

func (e *Engine) ListEvents(ctx context.Context, competitionID string) ([]models.CompetitionEvent, error) {
	if _, err := e.loadCompetition(ctx, competitionID); err != nil {
		return nil, err
	}
	return e.store.ListEvents(ctx, competitionID)
}

// --- Undo ---

type UndoResult struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Undo    models.UndoRecord   `json:"undo_record"`
	Score   *models.PlayerScore `json:"player_score,omitempty"`
}

// UndoEvent reverses an event committed within the undo window. Only the
// event's own contribution is removed; other events keep their points.
func (e *Engine) UndoEvent(ctx context.Context, eventID, actor, reason string) (*UndoResult, error) {
	return e.reverse(ctx, eventID, actor, reason, false)
}

// TestingCapability authorises TestingOnlyDeleteEvent. Its zero value grants nothing.
type TestingCapability struct {
	granted bool
}

// TestingCapability is only available when testing operations are enabled in config.
func (e *Engine) TestingCapability() (TestingCapability, error) {
	if !e.cfg.TestingOps {
		return TestingCapability{}, scoring.ErrTestingOpsDisabled
	}
	return TestingCapability{granted: true}, nil
}

// TestingOnlyDeleteEvent reverses an event regardless of the undo window. It
// still leaves a tombstone and an undo record flagged as testing-only.
func (e *Engine) TestingOnlyDeleteEvent(ctx context.Context, capability TestingCapability, eventID, actor string) (*UndoResult, error) {
	if !capability.granted || !e.cfg.TestingOps {
		return nil, scoring.ErrTestingOpsDisabled
	}
	return e.reverse(ctx, eventID, actor, "testing-only delete", true)
}

func (e *Engine) loadEvent(ctx context.Context, id string) (*models.CompetitionEvent, error) {
	ev, err := e.store.GetEvent(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, scoring.WithMetadata(scoring.CodeEventNotFound, "event not found", map[string]string{"event_id": id})
	}
	if err != nil {
		return nil, fmt.Errorf("load event %s: %w", id, err)
	}
	return ev, nil
}

func (e *Engine) reverse(ctx context.Context, eventID, actor, reason string, testingOnly bool) (*UndoResult, error) {
	ev, err := e.loadEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.lock(ev.CompetitionID)
	defer unlock()

	// reload under the lock
	if ev, err = e.loadEvent(ctx, eventID); err != nil {
		return nil, err
	}
	c, err := e.loadCompetition(ctx, ev.CompetitionID)
	if err != nil {
		return nil, err
	}
	switch c.State {
	case models.StateActive, models.StatePaused:
	case models.StateFinalized:
		return nil, scoring.ErrCompetitionFrozen
	default:
		return nil, scoring.WithMetadata(scoring.CodeInvalidStateTransition, "events can only be undone while a competition is active or paused",
			map[string]string{"state": string(c.State)})
	}
	if ev.Reversed {
		return nil, scoring.WithMetadata(scoring.CodeEventAlreadyReversed, "event already reversed", map[string]string{"event_id": eventID})
	}
	now := e.clock.Now()
	if !testingOnly && now.Sub(ev.TS) > e.cfg.UndoWindow {
		return nil, scoring.WithMetadata(scoring.CodeUndoWindowExpired,
			fmt.Sprintf("events can only be undone within %s of their timestamp", e.cfg.UndoWindow),
			map[string]string{"event_id": eventID, "ts": ev.TS.Format(time.RFC3339)})
	}

	history, err := e.store.ListPlayerEvents(ctx, ev.CompetitionID, ev.PlayerName)
	if err != nil {
		return nil, fmt.Errorf("load player events: %w", err)
	}
	for i := range history {
		if history[i].ID == ev.ID {
			history[i].Reversed = true
		}
	}
	row := scoring.FoldPlayer(ev.CompetitionID, ev.PlayerName, history, c.Rules, c.Location())

	ev.Reversed = true
	ev.ReversedAt = &now
	undo := models.UndoRecord{
		ID:            uuid.NewString(),
		EventID:       ev.ID,
		CompetitionID: ev.CompetitionID,
		PlayerName:    ev.PlayerName,
		UndoneBy:      actor,
		Reason:        reason,
		TestingOnly:   testingOnly,
		UndoneAt:      now,
	}
	if err := e.store.ReverseEvent(ctx, ev, &undo, row); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, scoring.ErrEventAlreadyReversed
		}
		return nil, fmt.Errorf("reverse event: %w", err)
	}

	log.Printf("[ENGINE] ↩️ Reversed event %s (%s, -%d) in %s by %s testing_only=%t",
		ev.ID, ev.PlayerName, ev.Points, ev.CompetitionID, actor, testingOnly)
	return &UndoResult{
		Success: true,
		Message: fmt.Sprintf("event %s reversed, %d points removed from %s", ev.ID, ev.Points, ev.PlayerName),
		Undo:    undo,
		Score:   row,
	}, nil
}

// --- Reads ---

type ScoreboardEntry struct {
	scoring.RankedScore
	BonusPoints int `json:"bonus_points"`
}

type Scoreboard struct {
	CompetitionID string                  `json:"competition_id"`
	Name          string                  `json:"name"`
	State         models.CompetitionState `json:"state"`
	Leaderboard   []ScoreboardEntry       `json:"leaderboard"`
	TotalPoints   int                     `json:"total_points"`
	GlobalCap     *int                    `json:"global_cap,omitempty"`
	GeneratedAt   time.Time               `json:"generated_at"`
}

// Scoreboard ranks the stored player rows. It takes no lock and reflects the
// last committed state.
func (e *Engine) Scoreboard(ctx context.Context, competitionID string) (*Scoreboard, error) {
	c, err := e.loadCompetition(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	rows, err := e.store.ListScores(ctx, competitionID)
	if err != nil {
		return nil, fmt.Errorf("list scores: %w", err)
	}
	bonuses := map[string]int{}
	if c.State == models.StateFinalized {
		awards, err := e.store.ListBonusAwards(ctx, competitionID)
		if err != nil {
			return nil, fmt.Errorf("list bonus awards: %w", err)
		}
		for _, a := range awards {
			bonuses[a.PlayerName] += a.Points
		}
	}

	board := &Scoreboard{
		CompetitionID: c.ID,
		Name:          c.Name,
		State:         c.State,
		Leaderboard:   []ScoreboardEntry{},
		GlobalCap:     c.Rules.Caps.GlobalTotal,
		GeneratedAt:   e.clock.Now(),
	}
	for _, r := range scoring.Rank(c.ID, c.Rules, rows) {
		board.TotalPoints += r.TotalPoints
		board.Leaderboard = append(board.Leaderboard, ScoreboardEntry{RankedScore: r, BonusPoints: bonuses[r.PlayerName]})
	}
	return board, nil
}

func (e *Engine) AntiCheatReport(ctx context.Context, competitionID string) (*scoring.AntiCheatReport, error) {
	if _, err := e.loadCompetition(ctx, competitionID); err != nil {
		return nil, err
	}
	events, err := e.store.ListEvents(ctx, competitionID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	undos, err := e.store.ListUndoRecords(ctx, competitionID)
	if err != nil {
		return nil, fmt.Errorf("list undo records: %w", err)
	}
	report := scoring.Scan(competitionID, events, undos, e.cfg.AntiCheat, e.clock.Now())
	return &report, nil
}

// --- Snapshots ---

func (e *Engine) TakeSnapshot(ctx context.Context, competitionID string, kind models.SnapshotType) (*models.ResultSnapshot, error) {
	c, err := e.loadCompetition(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	snap, err := e.buildSnapshot(ctx, c, kind)
	if err != nil {
		return nil, err
	}
	if err := e.store.SaveSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	e.archive(ctx, snap)
	return snap, nil
}

func (e *Engine) ListSnapshots(ctx context.Context, competitionID string) ([]models.ResultSnapshot, error) {
	if _, err := e.loadCompetition(ctx, competitionID); err != nil {
		return nil, err
	}
	return e.store.ListSnapshots(ctx, competitionID)
}

func (e *Engine) buildSnapshot(ctx context.Context, c *models.Competition, kind models.SnapshotType) (*models.ResultSnapshot, error) {
	rows, err := e.store.ListScores(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("list scores: %w", err)
	}
	ranked := scoring.Rank(c.ID, c.Rules, rows)
	board := make([]models.PlayerScore, len(ranked))
	for i, r := range ranked {
		board[i] = r.PlayerScore
	}
	return &models.ResultSnapshot{
		ID:            uuid.NewString(),
		CompetitionID: c.ID,
		SnapshotType:  kind,
		Leaderboard:   board,
		CreatedAt:     e.clock.Now(),
	}, nil
}

func (e *Engine) archive(ctx context.Context, snap *models.ResultSnapshot) {
	if e.archiver == nil {
		return
	}
	url, err := e.archiver.ArchiveSnapshot(ctx, snap)
	if err != nil {
		log.Printf("[ARCHIVE] ❌ Snapshot %s for %s: %v", snap.ID, snap.CompetitionID, err)
		return
	}
	snap.ArchiveURL = url
	if err := e.store.SetSnapshotArchiveURL(ctx, snap.ID, url); err != nil {
		log.Printf("[ARCHIVE] ⚠️ Snapshot %s archived to %s but URL not stored: %v", snap.ID, url, err)
	}
}

// --- Finalization ---

type FinalizeOptions struct {
	AwardBonuses  bool
	NotifyWinners bool
	Actor         string
}

type FinalizeResult struct {
	models.Finalization
	AlreadyFinalized bool `json:"already_finalized"`
}

// Finalize freezes the competition and pays prizes exactly once. Calling it on
// a finalized competition returns the stored outcome unchanged.
func (e *Engine) Finalize(ctx context.Context, competitionID string, opts FinalizeOptions) (*FinalizeResult, error) {
	fin, snap, c, err := e.finalizeLocked(ctx, competitionID, opts)
	if err != nil || fin.AlreadyFinalized {
		return fin, err
	}

	var g errgroup.Group
	g.Go(func() error {
		e.archive(ctx, snap)
		return nil
	})
	if opts.NotifyWinners && e.notifier != nil {
		g.Go(func() error {
			return e.notifier.NotifyWinners(ctx, c, &fin.Finalization)
		})
	}
	if err := g.Wait(); err != nil {
		log.Printf("[ENGINE] ⚠️ Post-finalize tasks for %s: %v", competitionID, err)
	}
	return fin, nil
}

func (e *Engine) finalizeLocked(ctx context.Context, competitionID string, opts FinalizeOptions) (*FinalizeResult, *models.ResultSnapshot, *models.Competition, error) {
	unlock := e.locks.lock(competitionID)
	defer unlock()

	c, err := e.loadCompetition(ctx, competitionID)
	if err != nil {
		return nil, nil, nil, err
	}
	if c.State == models.StateFinalized {
		stored, err := e.store.GetFinalization(ctx, competitionID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load finalization: %w", err)
		}
		return &FinalizeResult{Finalization: *stored, AlreadyFinalized: true}, nil, c, nil
	}
	if err := scoring.Transition(c.State, models.StateFinalized); err != nil {
		return nil, nil, nil, err
	}

	snap, err := e.buildSnapshot(ctx, c, models.SnapshotFinalized)
	if err != nil {
		return nil, nil, nil, err
	}
	now := e.clock.Now()
	fin := models.Finalization{
		CompetitionID: competitionID,
		SnapshotID:    snap.ID,
		Winners:       []models.Winner{},
		FinalizedBy:   opts.Actor,
		FinalizedAt:   now,
	}
	var awards []models.BonusAward
	for i, row := range snap.Leaderboard {
		rank := i + 1
		w := models.Winner{PlayerName: row.PlayerName, TotalPoints: row.TotalPoints, Rank: rank}
		if opts.AwardBonuses {
			w.BonusAwarded = prizeFor(c.Prizes, rank)
		}
		if w.BonusAwarded > 0 {
			awards = append(awards, models.BonusAward{
				ID:            uuid.NewString(),
				CompetitionID: competitionID,
				PlayerName:    row.PlayerName,
				Rank:          rank,
				Points:        w.BonusAwarded,
				Source:        "competition_win",
				Description:   fmt.Sprintf("%s: rank %d", c.Name, rank),
				AwardedAt:     now,
			})
		}
		fin.TotalBonusesAwarded += w.BonusAwarded
		fin.Winners = append(fin.Winners, w)
	}

	c.State = models.StateFinalized
	c.FinalizedAt = &now
	c.UpdatedAt = now
	if err := e.store.SaveFinalization(ctx, c, &fin, snap, awards); err != nil {
		return nil, nil, nil, fmt.Errorf("save finalization: %w", err)
	}
	log.Printf("[ENGINE] 🏆 Finalized %s: %d ranked, %d bonus points awarded by %s",
		competitionID, len(fin.Winners), fin.TotalBonusesAwarded, opts.Actor)
	return &FinalizeResult{Finalization: fin}, snap, c, nil
}

func prizeFor(p models.Prizes, rank int) int {
	switch rank {
	case 1:
		return p.Winner
	case 2:
		return p.RunnerUp
	}
	return p.Participation
}

// PurgeAudit drops reversed events of competitions finalized longer than retention ago.
func (e *Engine) PurgeAudit(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := e.store.PurgeReversed(ctx, e.clock.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("purge reversed events: %w", err)
	}
	return n, nil
}
