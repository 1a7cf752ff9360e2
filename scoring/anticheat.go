package scoring

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"competition-engine/models"
)

const (
	SuspicionBurst     = "suspicious_burst"
	SuspicionDuplicate = "duplicate_risk"
)

// ScanConfig holds the anti-cheat thresholds.
type ScanConfig struct {
	BurstMax        int           `env:"ANTICHEAT_BURST_MAX" envDefault:"5"`
	BurstWindow     time.Duration `env:"ANTICHEAT_BURST_WINDOW" envDefault:"1m"`
	DuplicateWindow time.Duration `env:"ANTICHEAT_DUPLICATE_WINDOW" envDefault:"5s"`
	UndoThreshold   int           `env:"ANTICHEAT_UNDO_THRESHOLD" envDefault:"2"`
}

func DefaultScanConfig() ScanConfig {
	return ScanConfig{BurstMax: 5, BurstWindow: time.Minute, DuplicateWindow: 5 * time.Second, UndoThreshold: 2}
}

type SuspiciousEvent struct {
	EventID       string              `json:"event_id"`
	PlayerName    string              `json:"player_name"`
	ActivityType  models.ActivityType `json:"activity_type"`
	TS            time.Time           `json:"ts"`
	CreatedAt     time.Time           `json:"created_at"`
	Points        int                 `json:"points"`
	Reversed      bool                `json:"reversed"`
	SuspicionType string              `json:"suspicion_type"`
}

type UndoStatistic struct {
	PlayerName string    `json:"player_name"`
	UndoCount  int       `json:"undo_count"`
	LastUndo   time.Time `json:"last_undo"`
	Excessive  bool      `json:"excessive"`
}

type AntiCheatReport struct {
	CompetitionID    string            `json:"competition_id"`
	SuspiciousEvents []SuspiciousEvent `json:"suspicious_events"`
	UndoStatistics   []UndoStatistic   `json:"undo_statistics"`
	GeneratedAt      time.Time         `json:"generated_at"`
}

// Scan inspects every ledger entry, reversed ones included, and the undo log.
// It is advisory and has no side effects.
func Scan(competitionID string, events []models.CompetitionEvent, undos []models.UndoRecord, cfg ScanConfig, now time.Time) AntiCheatReport {
	report := AntiCheatReport{
		CompetitionID:    competitionID,
		SuspiciousEvents: []SuspiciousEvent{},
		UndoStatistics:   []UndoStatistic{},
		GeneratedAt:      now,
	}

	byPlayer := map[string][]models.CompetitionEvent{}
	for _, e := range events {
		byPlayer[e.PlayerName] = append(byPlayer[e.PlayerName], e)
	}

	for _, list := range byPlayer {
		slices.SortFunc(list, func(a, b models.CompetitionEvent) int {
			return cmp.Or(a.TS.Compare(b.TS), strings.Compare(a.ID, b.ID))
		})
		for _, e := range bursts(list, cfg) {
			report.SuspiciousEvents = append(report.SuspiciousEvents, suspicious(e, SuspicionBurst))
		}
		for _, e := range duplicates(list, cfg) {
			report.SuspiciousEvents = append(report.SuspiciousEvents, suspicious(e, SuspicionDuplicate))
		}
	}
	slices.SortFunc(report.SuspiciousEvents, func(a, b SuspiciousEvent) int {
		return cmp.Or(a.TS.Compare(b.TS), strings.Compare(a.EventID, b.EventID), strings.Compare(a.SuspicionType, b.SuspicionType))
	})

	stats := map[string]*UndoStatistic{}
	for _, u := range undos {
		s, ok := stats[u.PlayerName]
		if !ok {
			s = &UndoStatistic{PlayerName: u.PlayerName}
			stats[u.PlayerName] = s
		}
		s.UndoCount++
		if u.UndoneAt.After(s.LastUndo) {
			s.LastUndo = u.UndoneAt
		}
	}
	for _, s := range stats {
		s.Excessive = s.UndoCount > cfg.UndoThreshold
		report.UndoStatistics = append(report.UndoStatistics, *s)
	}
	slices.SortFunc(report.UndoStatistics, func(a, b UndoStatistic) int {
		return cmp.Or(cmp.Compare(b.UndoCount, a.UndoCount), strings.Compare(a.PlayerName, b.PlayerName))
	})
	return report
}

func suspicious(e models.CompetitionEvent, kind string) SuspiciousEvent {
	return SuspiciousEvent{
		EventID:       e.ID,
		PlayerName:    e.PlayerName,
		ActivityType:  e.Type,
		TS:            e.TS,
		CreatedAt:     e.CreatedAt,
		Points:        e.Points,
		Reversed:      e.Reversed,
		SuspicionType: kind,
	}
}

// bursts flags every event that sits in a window holding more than BurstMax events.
// ordered must be one player's events sorted by ts.
func bursts(ordered []models.CompetitionEvent, cfg ScanConfig) []models.CompetitionEvent {
	if cfg.BurstMax <= 0 || cfg.BurstWindow <= 0 {
		return nil
	}
	flagged := make([]bool, len(ordered))
	j := 0
	for i := range ordered {
		for ordered[i].TS.Sub(ordered[j].TS) >= cfg.BurstWindow {
			j++
		}
		if i-j+1 > cfg.BurstMax {
			for k := j; k <= i; k++ {
				flagged[k] = true
			}
		}
	}
	var out []models.CompetitionEvent
	for i, f := range flagged {
		if f {
			out = append(out, ordered[i])
		}
	}
	return out
}

// duplicates flags the later of two same-type events without idempotency keys
// that land within DuplicateWindow of each other.
func duplicates(ordered []models.CompetitionEvent, cfg ScanConfig) []models.CompetitionEvent {
	var out []models.CompetitionEvent
	last := map[models.ActivityType]models.CompetitionEvent{}
	for _, e := range ordered {
		if prev, ok := last[e.Type]; ok &&
			prev.IdempotencyKey == nil && e.IdempotencyKey == nil &&
			e.TS.Sub(prev.TS) <= cfg.DuplicateWindow {
			out = append(out, e)
		}
		last[e.Type] = e
	}
	return out
}

// BurstDetector tracks recent submission times per player for live monitoring.
// It is not safe for concurrent use.
type BurstDetector struct {
	cfg    ScanConfig
	recent map[string][]time.Time
}

func NewBurstDetector(cfg ScanConfig) *BurstDetector {
	return &BurstDetector{cfg: cfg, recent: map[string][]time.Time{}}
}

// Observe records ev and reports whether its player now exceeds BurstMax within BurstWindow.
func (d *BurstDetector) Observe(ev models.CompetitionEvent) bool {
	key := ev.CompetitionID + "/" + ev.PlayerName
	from := ev.TS.Add(-d.cfg.BurstWindow)
	kept := d.recent[key][:0]
	for _, t := range d.recent[key] {
		if t.After(from) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, ev.TS)
	d.recent[key] = kept
	return d.cfg.BurstMax > 0 && len(kept) > d.cfg.BurstMax
}
