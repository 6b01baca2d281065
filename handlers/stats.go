// handlers/stats.go
package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"squad-ladder/services"
)

func SetupStatsRoutes(r fiber.Router, stats *services.StatsService, log zerolog.Logger) {
	r.Get("/players/:id/stats", func(c *fiber.Ctx) error {
		p, err := stats.Player(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(p)
	})

	r.Get("/squads/:id/stats", func(c *fiber.Ctx) error {
		s, err := stats.Squad(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(s)
	})
}
