package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"competition-engine/models"
	"competition-engine/scoring"
	"competition-engine/store"

	"github.com/jonboulle/clockwork"
)

var testStart = time.Date(2025, time.March, 3, 8, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func newTestEngine(t *testing.T, cfg EngineConfig) (*Engine, *clockwork.FakeClock, *store.MemoryStore) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testStart)
	st := store.NewMemoryStore()
	return NewEngine(st, clock, cfg), clock, st
}

// activeCompetition creates and activates a competition running for a week from testStart.
func activeCompetition(t *testing.T, e *Engine, rules models.RuleSet, players ...string) *models.Competition {
	t.Helper()
	ctx := context.Background()
	c, _, err := e.CreateCompetition(ctx, CreateCompetitionInput{
		Name:         "March Madness",
		StartTime:    testStart.Add(-time.Hour),
		EndTime:      testStart.Add(7 * 24 * time.Hour),
		Timezone:     "Europe/Oslo",
		Rules:        rules,
		Participants: players,
	}, "admin")
	if err != nil {
		t.Fatalf("create competition: %v", err)
	}
	if _, err := e.Activate(ctx, c.ID, "admin"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return c
}

func flatRules() models.RuleSet {
	return models.RuleSet{
		Points:      models.DefaultPoints(),
		TieBreakers: []models.TieBreakStrategy{models.TieBreakHighestBooks, models.TieBreakAlphabetical},
	}
}

func submit(t *testing.T, e *Engine, compID, player string, typ models.ActivityType, key string) models.CompetitionEvent {
	t.Helper()
	res, err := e.SubmitEvent(context.Background(), compID, EventInput{PlayerName: player, Type: typ}, key)
	if err != nil {
		t.Fatalf("submit %s %s: %v", player, typ, err)
	}
	return res.Event
}

func scoreOf(t *testing.T, e *Engine, compID, player string) ScoreboardEntry {
	t.Helper()
	board, err := e.Scoreboard(context.Background(), compID)
	if err != nil {
		t.Fatalf("scoreboard: %v", err)
	}
	for _, entry := range board.Leaderboard {
		if entry.PlayerName == player {
			return entry
		}
	}
	t.Fatalf("player %s not on scoreboard", player)
	return ScoreboardEntry{}
}

func TestSubmitEventFlatScoring(t *testing.T) {
	e, clock, _ := newTestEngine(t, EngineConfig{})
	c := activeCompetition(t, e, flatRules(), "ann")

	for _, typ := range []models.ActivityType{models.ActivityLift, models.ActivityCall, models.ActivityBook} {
		submit(t, e, c.ID, "ann", typ, "")
		clock.Advance(time.Minute)
	}

	row := scoreOf(t, e, c.ID, "ann")
	if row.TotalPoints != 15 || row.EventCount != 3 {
		t.Fatalf("expected 15 points over 3 events, got %d over %d", row.TotalPoints, row.EventCount)
	}
	if row.Rank != 1 {
		t.Fatalf("expected rank 1, got %d", row.Rank)
	}
}

func TestSubmitEventTimeWindowMultiplier(t *testing.T) {
	e, clock, _ := newTestEngine(t, EngineConfig{})
	rules := flatRules()
	rules.Multipliers = []models.Multiplier{{
		Type:   string(models.MultiplierTimeWindow),
		Mult:   2,
		Window: &models.TimeWindow{Start: "09:00", End: "11:00", TZ: "Europe/Oslo"},
	}}
	c := activeCompetition(t, e, rules, "ann")

	// 09:00 UTC is 10:00 in Oslo
	clock.Advance(time.Hour)
	ev := submit(t, e, c.ID, "ann", models.ActivityBook, "")
	if ev.Points != 20 {
		t.Fatalf("expected 20 points, got %d", ev.Points)
	}
	if ev.RuleTriggered.Multiplier != 2 {
		t.Fatalf("expected trace multiplier 2, got %v", ev.RuleTriggered.Multiplier)
	}
}

func TestSubmitEventComboBonus(t *testing.T) {
	e, clock, _ := newTestEngine(t, EngineConfig{})
	rules := flatRules()
	rules.Combos = []models.Combo{{
		Name:          "Power Combo",
		WithinMinutes: 15,
		Bonus:         5,
		RequiredTypes: []models.ActivityType{models.ActivityLift, models.ActivityCall, models.ActivityBook},
	}}
	c := activeCompetition(t, e, rules, "ann")

	for _, typ := range []models.ActivityType{models.ActivityLift, models.ActivityCall, models.ActivityBook} {
		submit(t, e, c.ID, "ann", typ, "")
		clock.Advance(5 * time.Minute)
	}

	row := scoreOf(t, e, c.ID, "ann")
	if row.TotalPoints != 20 {
		t.Fatalf("expected 15 + 5 bonus, got %d", row.TotalPoints)
	}
	if len(row.CombosAchieved) != 1 || row.CombosAchieved[0] != "Power Combo" {
		t.Fatalf("expected Power Combo achieved once, got %v", row.CombosAchieved)
	}
}

func TestSubmitEventDailyCapClipsPoints(t *testing.T) {
	e, clock, _ := newTestEngine(t, EngineConfig{})
	rules := flatRules()
	rules.Caps.PerPlayerPerDay = intPtr(10)
	c := activeCompetition(t, e, rules, "ann")

	submit(t, e, c.ID, "ann", models.ActivityCall, "")
	clock.Advance(time.Minute)
	submit(t, e, c.ID, "ann", models.ActivityCall, "")
	clock.Advance(time.Minute)

	ev := submit(t, e, c.ID, "ann", models.ActivityBook, "")
	if ev.Points != 2 {
		t.Fatalf("expected book clipped to 2, got %d", ev.Points)
	}
	if !ev.RuleTriggered.Capped || ev.RuleTriggered.CapReason != scoring.CapPerPlayerPerDay {
		t.Fatalf("expected per-day cap in trace, got %+v", ev.RuleTriggered)
	}
	if ev.RuleTriggered.ProposedPoints != 10 {
		t.Fatalf("expected proposed 10, got %d", ev.RuleTriggered.ProposedPoints)
	}
}

func TestSubmitEventIdempotencyKeyReplays(t *testing.T) {
	e, _, _ := newTestEngine(t, EngineConfig{})
	c := activeCompetition(t, e, flatRules(), "ann")

	first, err := e.SubmitEvent(context.Background(), c.ID, EventInput{PlayerName: "ann", Type: models.ActivityBook}, "k-1")
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := e.SubmitEvent(context.Background(), c.ID, EventInput{PlayerName: "ann", Type: models.ActivityBook}, "k-1")
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if !second.Replayed || second.Event.ID != first.Event.ID {
		t.Fatalf("expected replay of %s, got %+v", first.Event.ID, second)
	}
	if row := scoreOf(t, e, c.ID, "ann"); row.TotalPoints != 10 {
		t.Fatalf("expected 10 points after replay, got %d", row.TotalPoints)
	}
}

func TestSubmitEventConcurrentIdempotency(t *testing.T) {
	e, _, _ := newTestEngine(t, EngineConfig{})
	c := activeCompetition(t, e, flatRules(), "ann")

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.SubmitEvent(context.Background(), c.ID, EventInput{PlayerName: "ann", Type: models.ActivityCall}, "same-key")
			if err != nil {
				t.Errorf("submit %d: %v", i, err)
				return
			}
			ids[i] = res.Event.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("expected a single committed event, got %v", ids)
		}
	}
	events, _ := e.ListEvents(context.Background(), c.ID)
	if len(events) != 1 {
		t.Fatalf("expected 1 stored event, got %d", len(events))
	}
}

func TestSubmitEventGlobalCapUnderConcurrency(t *testing.T) {
	e, _, _ := newTestEngine(t, EngineConfig{})
	rules := flatRules()
	rules.Caps.GlobalTotal = intPtr(25)
	players := []string{"ann", "bob", "cat", "dan", "eve"}
	c := activeCompetition(t, e, rules, players...)

	var wg sync.WaitGroup
	for _, p := range players {
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func(p string) {
				defer wg.Done()
				if _, err := e.SubmitEvent(context.Background(), c.ID, EventInput{PlayerName: p, Type: models.ActivityBook}, ""); err != nil {
					t.Errorf("submit %s: %v", p, err)
				}
			}(p)
		}
	}
	wg.Wait()

	board, err := e.Scoreboard(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("scoreboard: %v", err)
	}
	if board.TotalPoints != 25 {
		t.Fatalf("expected global total exactly 25, got %d", board.TotalPoints)
	}
}

func TestSubmitEventRejections(t *testing.T) {
	ctx := context.Background()
	e, clock, _ := newTestEngine(t, EngineConfig{})
	c := activeCompetition(t, e, flatRules(), "ann")

	draft, _, err := e.CreateCompetition(ctx, CreateCompetitionInput{
		Name:      "Draft",
		StartTime: testStart,
		EndTime:   testStart.Add(time.Hour),
		Rules:     flatRules(),
	}, "admin")
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}

	future := testStart.Add(30 * 24 * time.Hour)
	tests := []struct {
		name   string
		compID string
		in     EventInput
		code   scoring.Code
	}{
		{"unknown competition", "missing", EventInput{PlayerName: "ann", Type: models.ActivityLift}, scoring.CodeCompetitionNotFound},
		{"draft competition", draft.ID, EventInput{PlayerName: "ann", Type: models.ActivityLift}, scoring.CodeNotAcceptingEvents},
		{"not enrolled", c.ID, EventInput{PlayerName: "zed", Type: models.ActivityLift}, scoring.CodePlayerNotEnrolled},
		{"unknown type", c.ID, EventInput{PlayerName: "ann", Type: "dance"}, scoring.CodeInvalidEvent},
		{"missing player", c.ID, EventInput{Type: models.ActivityLift}, scoring.CodeInvalidEvent},
		{"negative custom points", c.ID, EventInput{PlayerName: "ann", Type: models.ActivityLift, CustomPoints: intPtr(-1)}, scoring.CodeInvalidEvent},
		{"ts after end", c.ID, EventInput{PlayerName: "ann", Type: models.ActivityLift, TS: &future}, scoring.CodeNotAcceptingEvents},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.SubmitEvent(ctx, tt.compID, tt.in, "")
			if got := scoring.CodeOf(err); got != tt.code {
				t.Fatalf("expected %s, got %s (%v)", tt.code, got, err)
			}
		})
	}

	if _, err := e.Pause(ctx, c.ID, "admin"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := e.SubmitEvent(ctx, c.ID, EventInput{PlayerName: "ann", Type: models.ActivityLift}, ""); !errors.Is(err, scoring.ErrNotAcceptingEvents) {
		t.Fatalf("expected paused competition to reject events, got %v", err)
	}
	if _, err := e.Resume(ctx, c.ID, "admin"); err != nil {
		t.Fatalf("resume: %v", err)
	}

	clock.Advance(8 * 24 * time.Hour)
	if _, err := e.SubmitEvent(ctx, c.ID, EventInput{PlayerName: "ann", Type: models.ActivityLift}, ""); !errors.Is(err, scoring.ErrNotAcceptingEvents) {
		t.Fatalf("expected ended competition to reject events, got %v", err)
	}
}

func TestUndoEventRestoresScore(t *testing.T) {
	ctx := context.Background()
	e, clock, _ := newTestEngine(t, EngineConfig{})
	rules := flatRules()
	rules.Multipliers = []models.Multiplier{{Type: string(models.MultiplierFirstOfDay), Mult: 2}}
	rules.Combos = []models.Combo{{
		Name:          "Power Combo",
		WithinMinutes: 15,
		Bonus:         5,
		RequiredTypes: []models.ActivityType{models.ActivityLift, models.ActivityCall, models.ActivityBook},
	}}
	c := activeCompetition(t, e, rules, "ann")

	submit(t, e, c.ID, "ann", models.ActivityLift, "")
	clock.Advance(time.Minute)
	submit(t, e, c.ID, "ann", models.ActivityCall, "")
	clock.Advance(time.Minute)
	before := scoreOf(t, e, c.ID, "ann")

	book := submit(t, e, c.ID, "ann", models.ActivityBook, "")
	withCombo := scoreOf(t, e, c.ID, "ann")
	if len(withCombo.CombosAchieved) == 0 {
		t.Fatalf("expected the book to complete the combo, got %+v", withCombo.PlayerScore)
	}
	clock.Advance(time.Minute)

	res, err := e.UndoEvent(ctx, book.ID, "ann", "logged by mistake")
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if !res.Success || res.Undo.EventID != book.ID || res.Undo.TestingOnly {
		t.Fatalf("unexpected undo result %+v", res)
	}

	after := scoreOf(t, e, c.ID, "ann")
	before.UpdatedAt, after.UpdatedAt = time.Time{}, time.Time{}
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("expected score restored to\n%+v\ngot\n%+v", before, after)
	}
	if len(before.MultipliersApplied) == 0 {
		t.Fatalf("expected firstof_day recorded on the restored row, got %+v", before.PlayerScore)
	}

	if _, err := e.UndoEvent(ctx, book.ID, "ann", "again"); scoring.CodeOf(err) != scoring.CodeEventAlreadyReversed {
		t.Fatalf("expected EVENT_ALREADY_REVERSED, got %v", err)
	}

	events, _ := e.ListEvents(ctx, c.ID)
	if len(events) != 3 {
		t.Fatalf("expected tombstone kept in ledger, got %d events", len(events))
	}
}

func TestSubmitEventTimestampBounds(t *testing.T) {
	ctx := context.Background()
	e, clock, _ := newTestEngine(t, EngineConfig{MaxClockSkew: 5 * time.Second, MaxBackdate: 5 * time.Minute})
	c := activeCompetition(t, e, flatRules(), "ann")
	clock.Advance(time.Hour)
	now := clock.Now()

	tests := []struct {
		name string
		ts   time.Time
		code scoring.Code
	}{
		{"far future", now.Add(72 * time.Hour), scoring.CodeInvalidEvent},
		{"beyond skew", now.Add(6 * time.Second), scoring.CodeInvalidEvent},
		{"backdated past limit", now.Add(-6 * time.Minute), scoring.CodeInvalidEvent},
		{"within skew", now.Add(5 * time.Second), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := tt.ts
			_, err := e.SubmitEvent(ctx, c.ID, EventInput{PlayerName: "ann", Type: models.ActivityLift, TS: &ts}, "")
			if tt.code == "" {
				if err != nil {
					t.Fatalf("expected ts accepted, got %v", err)
				}
				return
			}
			if got := scoring.CodeOf(err); got != tt.code {
				t.Fatalf("expected %q, got %q (%v)", tt.code, got, err)
			}
		})
	}

	// earlier than the accepted event above
	backdated := now.Add(-time.Minute)
	if _, err := e.SubmitEvent(ctx, c.ID, EventInput{PlayerName: "ann", Type: models.ActivityCall, TS: &backdated}, ""); scoring.CodeOf(err) != scoring.CodeInvalidEvent {
		t.Fatalf("expected out-of-order ts rejected, got %v", err)
	}
	if score := scoreOf(t, e, c.ID, "ann"); score.EventCount != 1 {
		t.Fatalf("expected only the accepted event scored, got %d", score.EventCount)
	}
}

func TestSubmitEventBackdatedWithinLimit(t *testing.T) {
	ctx := context.Background()
	e, clock, _ := newTestEngine(t, EngineConfig{})
	c := activeCompetition(t, e, flatRules(), "ann")
	clock.Advance(time.Hour)

	ts := clock.Now().Add(-2 * time.Minute)
	res, err := e.SubmitEvent(ctx, c.ID, EventInput{PlayerName: "ann", Type: models.ActivityLift, TS: &ts}, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Event.TS.Equal(ts) {
		t.Fatalf("expected ts %s kept, got %s", ts, res.Event.TS)
	}
}

func TestFutureTimestampCannotStretchUndoWindow(t *testing.T) {
	ctx := context.Background()
	e, clock, _ := newTestEngine(t, EngineConfig{})
	c := activeCompetition(t, e, flatRules(), "ann")

	future := clock.Now().Add(72 * time.Hour)
	if _, err := e.SubmitEvent(ctx, c.ID, EventInput{PlayerName: "ann", Type: models.ActivityBook, TS: &future}, ""); scoring.CodeOf(err) != scoring.CodeInvalidEvent {
		t.Fatalf("expected INVALID_EVENT for future ts, got %v", err)
	}

	ev := submit(t, e, c.ID, "ann", models.ActivityBook, "")
	clock.Advance(48 * time.Hour)
	if _, err := e.UndoEvent(ctx, ev.ID, "ann", "late"); scoring.CodeOf(err) != scoring.CodeUndoWindowExpired {
		t.Fatalf("expected UNDO_WINDOW_EXPIRED 48h after commit, got %v", err)
	}
}

func TestUndoLastEventRemovesRow(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, EngineConfig{})
	c := activeCompetition(t, e, flatRules(), "ann")

	ev := submit(t, e, c.ID, "ann", models.ActivityLift, "")
	if _, err := e.UndoEvent(ctx, ev.ID, "ann", ""); err != nil {
		t.Fatalf("undo: %v", err)
	}
	board, _ := e.Scoreboard(ctx, c.ID)
	if len(board.Leaderboard) != 0 {
		t.Fatalf("expected empty scoreboard, got %+v", board.Leaderboard)
	}
}

func TestUndoWindowExpires(t *testing.T) {
	ctx := context.Background()
	e, clock, _ := newTestEngine(t, EngineConfig{UndoWindow: 30 * time.Minute})
	c := activeCompetition(t, e, flatRules(), "ann")

	ev := submit(t, e, c.ID, "ann", models.ActivityBook, "")
	clock.Advance(31 * time.Minute)

	if _, err := e.UndoEvent(ctx, ev.ID, "ann", ""); !errors.Is(err, scoring.ErrUndoWindowExpired) {
		t.Fatalf("expected UNDO_WINDOW_EXPIRED, got %v", err)
	}
	if _, err := e.UndoEvent(ctx, "missing", "ann", ""); !errors.Is(err, scoring.ErrEventNotFound) {
		t.Fatalf("expected EVENT_NOT_FOUND, got %v", err)
	}
}

func TestTestingOnlyDeleteRequiresCapability(t *testing.T) {
	ctx := context.Background()

	disabled, _, _ := newTestEngine(t, EngineConfig{})
	if _, err := disabled.TestingCapability(); !errors.Is(err, scoring.ErrTestingOpsDisabled) {
		t.Fatalf("expected testing ops disabled, got %v", err)
	}
	if _, err := disabled.TestingOnlyDeleteEvent(ctx, TestingCapability{}, "any", "tester"); !errors.Is(err, scoring.ErrTestingOpsDisabled) {
		t.Fatalf("expected zero capability to be refused, got %v", err)
	}

	e, clock, _ := newTestEngine(t, EngineConfig{TestingOps: true})
	c := activeCompetition(t, e, flatRules(), "ann")
	ev := submit(t, e, c.ID, "ann", models.ActivityBook, "")
	clock.Advance(2 * time.Hour)

	capability, err := e.TestingCapability()
	if err != nil {
		t.Fatalf("capability: %v", err)
	}
	res, err := e.TestingOnlyDeleteEvent(ctx, capability, ev.ID, "tester")
	if err != nil {
		t.Fatalf("testing delete: %v", err)
	}
	if !res.Undo.TestingOnly {
		t.Fatal("expected undo record flagged testing-only")
	}
	report, err := e.AntiCheatReport(ctx, c.ID)
	if err != nil {
		t.Fatalf("anti-cheat report: %v", err)
	}
	if len(report.UndoStatistics) != 1 || report.UndoStatistics[0].UndoCount != 1 {
		t.Fatalf("expected testing delete to be audited, got %+v", report.UndoStatistics)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, EngineConfig{})
	c := activeCompetition(t, e, flatRules(), "ann")

	if _, err := e.Activate(ctx, c.ID, "admin"); !errors.Is(err, scoring.ErrInvalidStateTransition) {
		t.Fatalf("expected active → active to fail, got %v", err)
	}
	if _, err := e.Finalize(ctx, c.ID, FinalizeOptions{Actor: "admin"}); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if _, err := e.Resume(ctx, c.ID, "admin"); !errors.Is(err, scoring.ErrCompetitionFrozen) {
		t.Fatalf("expected finalized competition frozen, got %v", err)
	}
	if _, err := e.Enroll(ctx, c.ID, "bob"); !errors.Is(err, scoring.ErrCompetitionFrozen) {
		t.Fatalf("expected enrollment refused after finalize, got %v", err)
	}
}

func TestCreateCompetitionValidation(t *testing.T) {
	e, _, _ := newTestEngine(t, EngineConfig{})
	rules := flatRules()
	rules.Multipliers = []models.Multiplier{{Type: string(models.MultiplierWeekend), Mult: 9}}

	_, report, err := e.CreateCompetition(context.Background(), CreateCompetitionInput{
		Name:      "Broken",
		StartTime: testStart.Add(time.Hour),
		EndTime:   testStart,
		Rules:     rules,
	}, "admin")
	if !errors.Is(err, scoring.ErrValidationFailed) {
		t.Fatalf("expected VALIDATION_FAILED, got %v", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if report.IsValid || len(report.Errors) < 2 {
		t.Fatalf("expected multiplier and schedule errors, got %+v", report.Errors)
	}
}

func TestCreateCompetitionDefaults(t *testing.T) {
	e, _, _ := newTestEngine(t, EngineConfig{})
	c, _, err := e.CreateCompetition(context.Background(), CreateCompetitionInput{
		Name:      "Spring Sprint Ø",
		StartTime: testStart,
		EndTime:   testStart.Add(time.Hour),
		Rules:     models.RuleSet{TieBreakers: models.DefaultTieBreakers},
	}, "admin")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.State != models.StateDraft || c.Timezone != models.DefaultTimezone {
		t.Fatalf("unexpected defaults %+v", c)
	}
	if c.Rules.BasePoints(models.ActivityBook) != 10 || c.Prizes.Winner != 50 {
		t.Fatalf("expected default points and prizes, got %+v %+v", c.Rules.Points, c.Prizes)
	}
	if c.Slug == "" {
		t.Fatal("expected slug")
	}
}

func TestFinalizeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e, clock, st := newTestEngine(t, EngineConfig{})
	c := activeCompetition(t, e, flatRules(), "ann", "bob", "cat")

	submit(t, e, c.ID, "ann", models.ActivityBook, "")
	submit(t, e, c.ID, "bob", models.ActivityCall, "")
	submit(t, e, c.ID, "cat", models.ActivityLift, "")
	clock.Advance(time.Hour)

	first, err := e.Finalize(ctx, c.ID, FinalizeOptions{AwardBonuses: true, Actor: "admin"})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	second, err := e.Finalize(ctx, c.ID, FinalizeOptions{AwardBonuses: true, Actor: "admin"})
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if first.AlreadyFinalized || !second.AlreadyFinalized {
		t.Fatalf("expected second call to report already finalized")
	}
	if first.TotalBonusesAwarded != 75 || second.TotalBonusesAwarded != first.TotalBonusesAwarded {
		t.Fatalf("expected 50+20+5 awarded once, got %d then %d", first.TotalBonusesAwarded, second.TotalBonusesAwarded)
	}
	if fmt.Sprint(first.Winners) != fmt.Sprint(second.Winners) {
		t.Fatalf("expected identical winners, got %v and %v", first.Winners, second.Winners)
	}
	if first.Winners[0].PlayerName != "ann" || first.Winners[0].BonusAwarded != 50 {
		t.Fatalf("unexpected winner %+v", first.Winners[0])
	}

	awards, _ := st.ListBonusAwards(ctx, c.ID)
	if len(awards) != 3 {
		t.Fatalf("expected 3 bonus awards, got %d", len(awards))
	}
	if _, err := e.SubmitEvent(ctx, c.ID, EventInput{PlayerName: "ann", Type: models.ActivityLift}, ""); !errors.Is(err, scoring.ErrNotAcceptingEvents) {
		t.Fatalf("expected finalized competition to reject events, got %v", err)
	}
	if row := scoreOf(t, e, c.ID, "ann"); row.BonusPoints != 50 {
		t.Fatalf("expected bonus on scoreboard, got %d", row.BonusPoints)
	}
}

type recordingArchiver struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingArchiver) ArchiveSnapshot(_ context.Context, snap *models.ResultSnapshot) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, snap.ID)
	return "https://cdn.example.com/" + snap.ID + ".json", nil
}

type recordingNotifier struct {
	calls int
}

func (n *recordingNotifier) NotifyWinners(context.Context, *models.Competition, *models.Finalization) error {
	n.calls++
	return nil
}

func TestFinalizeArchivesAndNotifies(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, EngineConfig{})
	archiver := &recordingArchiver{}
	notifier := &recordingNotifier{}
	e.SetArchiver(archiver)
	e.SetNotifier(notifier)
	c := activeCompetition(t, e, flatRules(), "ann")
	submit(t, e, c.ID, "ann", models.ActivityBook, "")

	if _, err := e.Finalize(ctx, c.ID, FinalizeOptions{NotifyWinners: true, Actor: "admin"}); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if _, err := e.Finalize(ctx, c.ID, FinalizeOptions{NotifyWinners: true, Actor: "admin"}); err != nil {
		t.Fatalf("finalize again: %v", err)
	}
	if notifier.calls != 1 {
		t.Fatalf("expected one notification, got %d", notifier.calls)
	}
	snaps, _ := e.ListSnapshots(ctx, c.ID)
	if len(snaps) != 1 || snaps[0].SnapshotType != models.SnapshotFinalized {
		t.Fatalf("expected one finalized snapshot, got %+v", snaps)
	}
	if snaps[0].ArchiveURL == "" || len(archiver.ids) != 1 {
		t.Fatalf("expected archived snapshot, got %q (%d archived)", snaps[0].ArchiveURL, len(archiver.ids))
	}
}

func TestObserverReceivesCommittedEvents(t *testing.T) {
	e, _, _ := newTestEngine(t, EngineConfig{})
	ch := make(chan models.CompetitionEvent, 1)
	e.SetObserver(ch)
	c := activeCompetition(t, e, flatRules(), "ann")

	ev := submit(t, e, c.ID, "ann", models.ActivityLift, "")
	// a full channel drops instead of blocking
	submit(t, e, c.ID, "ann", models.ActivityLift, "")

	select {
	case got := <-ch:
		if got.ID != ev.ID {
			t.Fatalf("expected %s, got %s", ev.ID, got.ID)
		}
	default:
		t.Fatal("expected an observed event")
	}
}

func TestPurgeAuditRemovesOldTombstones(t *testing.T) {
	ctx := context.Background()
	e, clock, _ := newTestEngine(t, EngineConfig{})
	c := activeCompetition(t, e, flatRules(), "ann")

	ev := submit(t, e, c.ID, "ann", models.ActivityLift, "")
	submit(t, e, c.ID, "ann", models.ActivityCall, "")
	if _, err := e.UndoEvent(ctx, ev.ID, "ann", ""); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if _, err := e.Finalize(ctx, c.ID, FinalizeOptions{Actor: "admin"}); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if n, _ := e.PurgeAudit(ctx, 24*time.Hour); n != 0 {
		t.Fatalf("expected nothing purged inside retention, got %d", n)
	}
	clock.Advance(48 * time.Hour)
	n, err := e.PurgeAudit(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged tombstone, got %d", n)
	}
}
