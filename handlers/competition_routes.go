package handlers

import (
	"competition-engine/middleware"
	"competition-engine/services"

	"github.com/gofiber/fiber/v2"
)

// SetupCompetitionRoutes registers the competition API. Public reads come first
// so they are matched before the user-context group.
func SetupCompetitionRoutes(app *fiber.App, svc *services.CompetitionService, testingOps bool) {
	// 🔓 Public routes
	app.Get("/health", svc.Health)
	app.Get("/competitions/sample-config", svc.SampleConfig)
	app.Post("/competitions/validate", svc.ValidateConfig)
	app.Post("/competitions/preview", svc.PreviewRules)
	app.Get("/competitions", svc.ListCompetitions)
	app.Get("/competitions/:id", svc.GetCompetition)
	app.Get("/competitions/:id/scoreboard", svc.GetScoreboard)
	app.Get("/competitions/:id/scoreboard/stream", svc.StreamScoreboard)

	// 🔐 Authenticated routes
	secured := app.Group("/", middleware.UserContextMiddleware())
	admin := middleware.RequireRoles("admin")

	secured.Post("/competitions", admin, svc.CreateCompetition)
	secured.Post("/competitions/finalize", admin, svc.Finalize)
	secured.Post("/competitions/undo-event", svc.UndoEvent)
	if testingOps {
		secured.Post("/competitions/testing/delete-event/:event_id", middleware.RequireRoles("tester"), svc.TestingDeleteEvent)
	}

	// Lifecycle (admin only)
	secured.Post("/competitions/:id/activate", admin, svc.Activate)
	secured.Post("/competitions/:id/pause", admin, svc.Pause)
	secured.Post("/competitions/:id/resume", admin, svc.Resume)

	// Enrollment & ledger
	secured.Post("/competitions/:id/participants", svc.Enroll)
	secured.Get("/competitions/:id/participants", svc.ListParticipants)
	secured.Post("/competitions/:id/events", svc.SubmitEvent)
	secured.Get("/competitions/:id/events", svc.ListEvents)

	// Audit & results
	secured.Get("/competitions/:id/anti-cheat-report", admin, svc.GetAntiCheatReport)
	secured.Get("/competitions/:id/snapshots", svc.ListSnapshots)
	secured.Post("/competitions/:id/snapshots", admin, svc.TakeSnapshot)
}
