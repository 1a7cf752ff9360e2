package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"competition-engine/models"
	"competition-engine/scoring"
	"competition-engine/store"

	"github.com/gofiber/fiber/v2"
)

// CompetitionService binds the engine to HTTP.
type CompetitionService struct {
	Engine         *Engine
	StreamInterval time.Duration
}

func NewCompetitionService(engine *Engine) *CompetitionService {
	return &CompetitionService{Engine: engine, StreamInterval: 2 * time.Second}
}

func respondError(c *fiber.Ctx, err error) error {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   verr.Err.Code,
			"message": verr.Err.Message,
			"details": verr.Report,
		})
	}
	var derr *scoring.Error
	if errors.As(err, &derr) {
		return c.Status(derr.Code.HTTPStatus()).JSON(fiber.Map{
			"error":   derr.Code,
			"message": derr.Message,
			"details": derr.Metadata,
		})
	}
	log.Printf("[HTTP] ❌ %s %s: %v", c.Method(), c.Path(), err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   scoring.CodeUnknown,
		"message": "internal error",
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":   scoring.CodeValidationFailed,
		"message": msg,
	})
}

// actor is the gateway-provided user id, or "anonymous" on public routes.
func actor(c *fiber.Ctx) string {
	if id, ok := c.Locals("user_id").(string); ok && id != "" {
		return id
	}
	return "anonymous"
}

// --- Competitions ---

func (s *CompetitionService) CreateCompetition(c *fiber.Ctx) error {
	var in CreateCompetitionInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	comp, report, err := s.Engine.CreateCompetition(c.UserContext(), in, actor(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"competition": comp,
		"warnings":    report.Warnings,
		"suggestions": report.Suggestions,
	})
}

func (s *CompetitionService) ListCompetitions(c *fiber.Ctx) error {
	filter := store.CompetitionFilter{
		State: models.CompetitionState(c.Query("state")),
		Slug:  c.Query("slug"),
	}
	list, err := s.Engine.ListCompetitions(c.UserContext(), filter)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(list)
}

func (s *CompetitionService) GetCompetition(c *fiber.Ctx) error {
	comp, err := s.Engine.GetCompetition(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(comp)
}

type configRequest struct {
	Rules    models.RuleSet         `json:"rules"`
	Theme    models.Theme           `json:"theme"`
	Prizes   *models.Prizes         `json:"prizes"`
	Timezone string                 `json:"timezone"`
	Events   []scoring.PreviewEvent `json:"events"`
}

func (r configRequest) prizes() models.Prizes {
	if r.Prizes == nil {
		return models.DefaultPrizes()
	}
	return *r.Prizes
}

func (s *CompetitionService) ValidateConfig(c *fiber.Ctx) error {
	var req configRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	return c.JSON(s.Engine.Validate(req.Rules, req.Theme, req.prizes()))
}

func (s *CompetitionService) PreviewRules(c *fiber.Ctx) error {
	var req configRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	return c.JSON(s.Engine.Preview(req.Rules, req.Theme, req.prizes(), req.Timezone, req.Events))
}

func (s *CompetitionService) SampleConfig(c *fiber.Ctx) error {
	return c.JSON(SampleCompetition(s.Engine.Now()))
}

// SampleCompetition is a ready-to-submit configuration for a one-week competition.
func SampleCompetition(now time.Time) CreateCompetitionInput {
	start := now.Truncate(time.Hour).Add(time.Hour)
	return CreateCompetitionInput{
		Name:        "Weekly Sales Sprint",
		Description: "Log lifts, calls and bookings. Morning bookings count double.",
		StartTime:   start,
		EndTime:     start.Add(7 * 24 * time.Hour),
		Timezone:    models.DefaultTimezone,
		Rules: models.RuleSet{
			Points: models.DefaultPoints(),
			Multipliers: []models.Multiplier{
				{Type: string(models.MultiplierTimeWindow), Mult: 2, Window: &models.TimeWindow{Start: "09:00", End: "11:00", TZ: models.DefaultTimezone}},
				{Type: "streak_3", Mult: 1.5},
			},
			Combos: []models.Combo{{
				Name:          "Power Combo",
				WithinMinutes: 15,
				Bonus:         5,
				RequiredTypes: []models.ActivityType{models.ActivityLift, models.ActivityCall, models.ActivityBook},
			}},
			Caps:        models.Caps{PerPlayerPerDay: intRef(200)},
			TieBreakers: []models.TieBreakStrategy{models.TieBreakHighestBooks, models.TieBreakEarliestToTarget, models.TieBreakAlphabetical},
		},
		Theme: models.Theme{
			Teams: []models.TeamConfig{{Label: "Nord", Color: "#1E90FF"}, {Label: "Sør", Color: "#FF6347"}},
			VFX:   models.VFXConfig{WarpTrail: true, Sparkles: "medium", ScreenShakeOnWin: true, ParticleEffects: "low"},
		},
		Prizes: func() *models.Prizes { p := models.DefaultPrizes(); return &p }(),
	}
}

func intRef(v int) *int { return &v }

func (s *CompetitionService) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"time":   s.Engine.Now().UTC(),
	})
}

// --- Lifecycle ---

func (s *CompetitionService) Activate(c *fiber.Ctx) error {
	return s.respondTransition(c, s.Engine.Activate)
}

func (s *CompetitionService) Pause(c *fiber.Ctx) error {
	return s.respondTransition(c, s.Engine.Pause)
}

func (s *CompetitionService) Resume(c *fiber.Ctx) error {
	return s.respondTransition(c, s.Engine.Resume)
}

type transitionFunc func(ctx context.Context, id, actor string) (*models.Competition, error)

func (s *CompetitionService) respondTransition(c *fiber.Ctx, fn transitionFunc) error {
	comp, err := fn(c.UserContext(), c.Params("id"), actor(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(comp)
}

// --- Enrollment ---

type enrollRequest struct {
	PlayerName string `json:"player_name"`
}

func (s *CompetitionService) Enroll(c *fiber.Ctx) error {
	var req enrollRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	p, err := s.Engine.Enroll(c.UserContext(), c.Params("id"), req.PlayerName)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

func (s *CompetitionService) ListParticipants(c *fiber.Ctx) error {
	list, err := s.Engine.ListParticipants(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(list)
}

// --- Events ---

func idempotencyKey(c *fiber.Ctx) string {
	if key := c.Get("Idempotency-Key"); key != "" {
		return key
	}
	return c.Get("X-Idempotency-Key")
}

func (s *CompetitionService) SubmitEvent(c *fiber.Ctx) error {
	compID := c.Params("id")
	var in EventInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	if c.QueryBool("auto_enroll") {
		if _, err := s.Engine.Enroll(c.UserContext(), compID, in.PlayerName); err != nil {
			return respondError(c, err)
		}
	}
	res, err := s.Engine.SubmitEvent(c.UserContext(), compID, in, idempotencyKey(c))
	if err != nil {
		return respondError(c, err)
	}
	status := fiber.StatusCreated
	if res.Replayed {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(res)
}

func (s *CompetitionService) ListEvents(c *fiber.Ctx) error {
	events, err := s.Engine.ListEvents(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	if player := c.Query("player"); player != "" {
		filtered := events[:0]
		for _, ev := range events {
			if strings.EqualFold(ev.PlayerName, player) {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}
	return c.JSON(events)
}

type undoRequest struct {
	EventID string `json:"event_id"`
	Reason  string `json:"reason"`
}

func (s *CompetitionService) UndoEvent(c *fiber.Ctx) error {
	var req undoRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	if req.EventID == "" {
		return badRequest(c, "event_id is required")
	}
	res, err := s.Engine.UndoEvent(c.UserContext(), req.EventID, actor(c), req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

func (s *CompetitionService) TestingDeleteEvent(c *fiber.Ctx) error {
	capability, err := s.Engine.TestingCapability()
	if err != nil {
		return respondError(c, err)
	}
	res, err := s.Engine.TestingOnlyDeleteEvent(c.UserContext(), capability, c.Params("event_id"), actor(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

// --- Reads ---

func (s *CompetitionService) GetScoreboard(c *fiber.Ctx) error {
	board, err := s.Engine.Scoreboard(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(board)
}

// StreamScoreboard pushes the scoreboard over SSE whenever it changes.
func (s *CompetitionService) StreamScoreboard(c *fiber.Ctx) error {
	// params are only valid until the handler returns
	compID := strings.Clone(c.Params("id"))
	if _, err := s.Engine.GetCompetition(c.UserContext(), compID); err != nil {
		return respondError(c, err)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	ctx := c.Context()
	interval := s.StreamInterval
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var last []byte
		push := func() bool {
			board, err := s.Engine.Scoreboard(ctx, compID)
			if err != nil {
				log.Printf("[SSE] scoreboard %s: %v", compID, err)
				return true
			}
			payload, _ := json.Marshal(board.Leaderboard)
			if bytes.Equal(payload, last) {
				return true
			}
			last = payload
			fmt.Fprintf(w, "event: scoreboard\ndata: %s\n\n", payload)
			// a failed flush means the client went away
			return w.Flush() == nil
		}

		w.WriteString(":\n\n")
		if w.Flush() != nil || !push() {
			return
		}
		for {
			select {
			case <-ticker.C:
				if !push() {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})
	return nil
}

func (s *CompetitionService) GetAntiCheatReport(c *fiber.Ctx) error {
	report, err := s.Engine.AntiCheatReport(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(report)
}

// --- Finalization & snapshots ---

type finalizeRequest struct {
	CompetitionID string `json:"competition_id"`
	AwardBonuses  *bool  `json:"award_bonuses"`
	NotifyWinners bool   `json:"notify_winners"`
}

func (s *CompetitionService) Finalize(c *fiber.Ctx) error {
	var req finalizeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	if req.CompetitionID == "" {
		return badRequest(c, "competition_id is required")
	}
	award := req.AwardBonuses == nil || *req.AwardBonuses
	res, err := s.Engine.Finalize(c.UserContext(), req.CompetitionID, FinalizeOptions{
		AwardBonuses:  award,
		NotifyWinners: req.NotifyWinners,
		Actor:         actor(c),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

func (s *CompetitionService) ListSnapshots(c *fiber.Ctx) error {
	snaps, err := s.Engine.ListSnapshots(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(snaps)
}

func (s *CompetitionService) TakeSnapshot(c *fiber.Ctx) error {
	snap, err := s.Engine.TakeSnapshot(c.UserContext(), c.Params("id"), models.SnapshotManual)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(snap)
}
