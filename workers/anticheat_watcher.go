package workers

import (
	"context"
	"errors"
	"log"

	"competition-engine/models"
	"competition-engine/scoring"
)

// AntiCheatWatcher logs live burst warnings for committed events. The engine
// publishes into Events without blocking.
type AntiCheatWatcher struct {
	events   chan models.CompetitionEvent
	detector *scoring.BurstDetector
	logger   *log.Logger
	alerts   int
}

func NewAntiCheatWatcher(logger *log.Logger, cfg scoring.ScanConfig, buffer int) (*AntiCheatWatcher, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &AntiCheatWatcher{
		events:   make(chan models.CompetitionEvent, buffer),
		detector: scoring.NewBurstDetector(cfg),
		logger:   logger,
	}, nil
}

func (w *AntiCheatWatcher) Events() chan<- models.CompetitionEvent {
	return w.events
}

// Run consumes events until ctx is done.
func (w *AntiCheatWatcher) Run(ctx context.Context) {
	w.logger.Println("🛡️ Starting anti-cheat watcher…")
	for {
		select {
		case ev := <-w.events:
			w.observe(ev)
		case <-ctx.Done():
			w.logger.Println("⏹️ Anti-cheat watcher stopped")
			return
		}
	}
}

func (w *AntiCheatWatcher) observe(ev models.CompetitionEvent) bool {
	if !w.detector.Observe(ev) {
		return false
	}
	w.alerts++
	w.logger.Printf("[ANTICHEAT] 🚨 Burst from %s in %s: event %s (%s) at %s",
		ev.PlayerName, ev.CompetitionID, ev.ID, ev.Type, ev.TS.Format("15:04:05"))
	return true
}
