package scoring

import (
	"reflect"
	"testing"
	"time"

	"competition-engine/models"
)

func names(ranked []RankedScore) []string {
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.PlayerName
	}
	return out
}

func ptime(t time.Time) *time.Time { return &t }

func TestRankOrdersByTotalDescending(t *testing.T) {
	rows := []models.PlayerScore{
		{PlayerName: "ann", TotalPoints: 5},
		{PlayerName: "bob", TotalPoints: 12},
		{PlayerName: "cat", TotalPoints: 8},
	}
	ranked := Rank("c1", models.RuleSet{TieBreakers: []models.TieBreakStrategy{models.TieBreakHighestBooks}}, rows)

	if got := names(ranked); !reflect.DeepEqual(got, []string{"bob", "cat", "ann"}) {
		t.Fatalf("unexpected order %v", got)
	}
	for i, r := range ranked {
		if r.Rank != i+1 {
			t.Fatalf("expected rank %d, got %d", i+1, r.Rank)
		}
	}
}

func TestRankTieBreakers(t *testing.T) {
	base := time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		rules models.RuleSet
		rows  []models.PlayerScore
		want  []string
	}{
		{
			name:  "highest books",
			rules: models.RuleSet{TieBreakers: []models.TieBreakStrategy{models.TieBreakHighestBooks}},
			rows: []models.PlayerScore{
				{PlayerName: "ann", TotalPoints: 20, Breakdown: map[models.ActivityType]int{models.ActivityBook: 1}},
				{PlayerName: "bob", TotalPoints: 20, Breakdown: map[models.ActivityType]int{models.ActivityBook: 2}},
			},
			want: []string{"bob", "ann"},
		},
		{
			name:  "most total events",
			rules: models.RuleSet{TieBreakers: []models.TieBreakStrategy{models.TieBreakMostTotal}},
			rows: []models.PlayerScore{
				{PlayerName: "ann", TotalPoints: 20, EventCount: 3},
				{PlayerName: "bob", TotalPoints: 20, EventCount: 9},
			},
			want: []string{"bob", "ann"},
		},
		{
			name:  "earliest to target",
			rules: models.RuleSet{TargetPoints: 15, TieBreakers: []models.TieBreakStrategy{models.TieBreakEarliestToTarget}},
			rows: []models.PlayerScore{
				{PlayerName: "ann", TotalPoints: 20, TargetReachedAt: ptime(base.Add(2 * time.Hour))},
				{PlayerName: "bob", TotalPoints: 20, TargetReachedAt: ptime(base.Add(time.Hour))},
			},
			want: []string{"bob", "ann"},
		},
		{
			name:  "first to tied total without target, unreached last",
			rules: models.RuleSet{TieBreakers: []models.TieBreakStrategy{models.TieBreakFirstTo}},
			rows: []models.PlayerScore{
				{PlayerName: "ann", TotalPoints: 20},
				{PlayerName: "bob", TotalPoints: 20, ReachedTotalAt: ptime(base.Add(time.Hour))},
				{PlayerName: "cat", TotalPoints: 20, ReachedTotalAt: ptime(base)},
			},
			want: []string{"cat", "bob", "ann"},
		},
		{
			name:  "fastest pace",
			rules: models.RuleSet{TieBreakers: []models.TieBreakStrategy{models.TieBreakFastestPace}},
			rows: []models.PlayerScore{
				{PlayerName: "ann", TotalPoints: 20, FirstActivity: ptime(base), LastActivity: ptime(base.AddDate(0, 0, 4))},
				{PlayerName: "bob", TotalPoints: 20, FirstActivity: ptime(base), LastActivity: ptime(base.AddDate(0, 0, 2))},
			},
			want: []string{"bob", "ann"},
		},
		{
			name:  "alphabetical uses collation",
			rules: models.RuleSet{TieBreakers: []models.TieBreakStrategy{models.TieBreakAlphabetical}},
			rows: []models.PlayerScore{
				{PlayerName: "carol", TotalPoints: 1},
				{PlayerName: "Bob", TotalPoints: 1},
				{PlayerName: "alice", TotalPoints: 1},
			},
			want: []string{"alice", "Bob", "carol"},
		},
		{
			name:  "reverse alphabetical",
			rules: models.RuleSet{TieBreakers: []models.TieBreakStrategy{models.TieBreakReverseAlphabetical}},
			rows: []models.PlayerScore{
				{PlayerName: "alice", TotalPoints: 1},
				{PlayerName: "carol", TotalPoints: 1},
				{PlayerName: "Bob", TotalPoints: 1},
			},
			want: []string{"carol", "Bob", "alice"},
		},
		{
			name:  "chain falls through to the next strategy",
			rules: models.RuleSet{TieBreakers: []models.TieBreakStrategy{models.TieBreakHighestBooks, models.TieBreakMostTotal}},
			rows: []models.PlayerScore{
				{PlayerName: "ann", TotalPoints: 20, EventCount: 2, Breakdown: map[models.ActivityType]int{models.ActivityBook: 1}},
				{PlayerName: "bob", TotalPoints: 20, EventCount: 4, Breakdown: map[models.ActivityType]int{models.ActivityBook: 1}},
			},
			want: []string{"bob", "ann"},
		},
		{
			name:  "exhausted chain falls back to name",
			rules: models.RuleSet{TieBreakers: []models.TieBreakStrategy{models.TieBreakHighestBooks}},
			rows: []models.PlayerScore{
				{PlayerName: "bob", TotalPoints: 20},
				{PlayerName: "Zed", TotalPoints: 20},
			},
			want: []string{"Zed", "bob"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := names(Rank("c1", tc.rules, tc.rows)); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestRankRandomIsReproducible(t *testing.T) {
	rules := models.RuleSet{TieBreakers: []models.TieBreakStrategy{models.TieBreakRandom}}
	rows := []models.PlayerScore{
		{PlayerName: "ann", TotalPoints: 3},
		{PlayerName: "bob", TotalPoints: 3},
		{PlayerName: "cat", TotalPoints: 3},
		{PlayerName: "dan", TotalPoints: 3},
	}
	reversed := []models.PlayerScore{rows[3], rows[2], rows[1], rows[0]}

	first := names(Rank("comp-42", rules, rows))
	second := names(Rank("comp-42", rules, reversed))
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical order regardless of input order, got %v and %v", first, second)
	}
}

func TestFoldPlayer(t *testing.T) {
	loc := oslo(t)
	rules := models.RuleSet{Points: models.DefaultPoints(), TargetPoints: 5}
	events := []models.CompetitionEvent{
		{ID: "e2", PlayerName: "ann", Type: models.ActivityCall, TS: monday(loc, 10, 0), Points: 4,
			RuleTriggered: models.RuleTrace{AppliedMultipliers: []string{"firstof_day"}}},
		{ID: "e1", PlayerName: "ann", Type: models.ActivityLift, TS: monday(loc, 9, 0), Points: 1,
			RuleTriggered: models.RuleTrace{AppliedMultipliers: []string{"firstof_day"}}},
		{ID: "e3", PlayerName: "ann", Type: models.ActivityBook, TS: monday(loc, 11, 0), Points: 10,
			RuleTriggered: models.RuleTrace{AchievedCombos: []string{"Power Combo"}}},
		{ID: "e4", PlayerName: "bob", Type: models.ActivityBook, TS: monday(loc, 11, 0), Points: 10},
	}

	row := FoldPlayer("c1", "ann", events, rules, loc)
	if row.TotalPoints != 15 || row.EventCount != 3 {
		t.Fatalf("expected 15 points over 3 events, got %d over %d", row.TotalPoints, row.EventCount)
	}
	if row.Breakdown[models.ActivityBook] != 1 || row.Breakdown[models.ActivityLift] != 1 {
		t.Fatalf("unexpected breakdown %v", row.Breakdown)
	}
	if !reflect.DeepEqual(row.MultipliersApplied, []string{"firstof_day"}) {
		t.Fatalf("expected deduplicated multipliers, got %v", row.MultipliersApplied)
	}
	if !row.FirstActivity.Equal(monday(loc, 9, 0)) || !row.LastActivity.Equal(monday(loc, 11, 0)) {
		t.Fatalf("unexpected activity range %v - %v", row.FirstActivity, row.LastActivity)
	}
	if !row.TargetReachedAt.Equal(monday(loc, 10, 0)) {
		t.Fatalf("expected target reached at 10:00, got %v", row.TargetReachedAt)
	}
	if !row.ReachedTotalAt.Equal(monday(loc, 11, 0)) {
		t.Fatalf("expected total reached at 11:00, got %v", row.ReachedTotalAt)
	}
}

func TestFoldPlayerWithoutLiveEventsIsNil(t *testing.T) {
	loc := oslo(t)
	events := []models.CompetitionEvent{{ID: "e1", PlayerName: "ann", TS: monday(loc, 9, 0), Points: 1, Reversed: true}}
	if row := FoldPlayer("c1", "ann", events, models.RuleSet{}, loc); row != nil {
		t.Fatalf("expected nil row, got %+v", row)
	}
}

func TestFoldPlayerIgnoresReversedEvent(t *testing.T) {
	loc := oslo(t)
	rules := models.RuleSet{Points: models.DefaultPoints()}
	before := []models.CompetitionEvent{
		{ID: "e1", PlayerName: "ann", Type: models.ActivityLift, TS: monday(loc, 9, 0), Points: 1},
		{ID: "e2", PlayerName: "ann", Type: models.ActivityCall, TS: monday(loc, 9, 5), Points: 4},
	}
	undone := models.CompetitionEvent{ID: "e3", PlayerName: "ann", Type: models.ActivityBook, TS: monday(loc, 9, 10), Points: 15,
		Reversed: true, RuleTriggered: models.RuleTrace{AchievedCombos: []string{"Power Combo"}}}

	want := FoldPlayer("c1", "ann", before, rules, loc)
	got := FoldPlayer("c1", "ann", append(before, undone), rules, loc)
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("expected reversed event to leave the row unchanged\nwant %+v\ngot  %+v", want, got)
	}
}
