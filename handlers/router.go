package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"squad-ladder/middleware"
	"squad-ladder/services"
)

// Deps are the services the HTTP surface is built on.
type Deps struct {
	GatewayToken string
	Matches      *services.MatchService
	Rewards      *services.RewardService
	RewardConfig *services.RewardConfigService
	Ladders      *services.LadderService
	Maps         *services.MapService
	Stats        *services.StatsService
	Hub          *services.EventHub
	Evidence     EvidenceUploader // nil disables file uploads
	Log          zerolog.Logger
}

// Mount wires every route. Everything except /health requires the gateway
// token and a forwarded user; /admin additionally requires a staff role.
func Mount(app *fiber.App, d Deps) {
	log := d.Log.With().Str("component", "http").Logger()

	app.Use(middleware.GatewayAuthMiddleware(d.GatewayToken, log, "/health"))
	SetupHealthRoute(app, d.Hub)

	secured := app.Group("/", middleware.UserContextMiddleware(log))
	SetupMatchRoutes(secured, d.Matches, d.Evidence, log)
	SetupLadderRoutes(secured, d.Ladders, log)
	SetupStatsRoutes(secured, d.Stats, log)
	SetupMapRoutes(secured, d.Maps, log)
	SetupEventRoutes(secured, d.Hub, log)

	admin := secured.Group("/admin", middleware.RequireStaff())
	SetupAdminMatchRoutes(admin, d.Matches, d.Rewards, log)
	SetupAdminLadderRoutes(admin, d.Ladders, log)
	SetupAdminConfigRoutes(admin, d.Maps, d.RewardConfig, log)
}
