package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"squad-ladder/middleware"
	"squad-ladder/models"
	"squad-ladder/services"
)

// SetupMapRoutes exposes the active map pool.
func SetupMapRoutes(r fiber.Router, maps *services.MapService, log zerolog.Logger) {
	r.Get("/maps", func(c *fiber.Ctx) error {
		list, err := maps.ListMaps(c.UserContext(), c.Query("ladder_id"), c.Query("game_mode"))
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(fiber.Map{"maps": list})
	})
}

// SetupAdminConfigRoutes mounts map pool and reward table management. r must require staff.
func SetupAdminConfigRoutes(r fiber.Router, maps *services.MapService, rewards *services.RewardConfigService, log zerolog.Logger) {
	r.Post("/maps", func(c *fiber.Ctx) error {
		var in services.CreateMapInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid request body")
		}
		m, err := maps.CreateMap(c.UserContext(), middleware.ActorFromCtx(c), in)
		if err != nil {
			return respondError(c, log, err)
		}
		return c.Status(fiber.StatusCreated).JSON(m)
	})

	r.Put("/rewards/ladders/:ladder_id", func(c *fiber.Ctx) error {
		var table models.RewardTable
		if err := c.BodyParser(&table); err != nil {
			return badRequest(c, "invalid reward table")
		}
		cfg, err := rewards.SetLadderRewards(c.UserContext(), middleware.ActorFromCtx(c), c.Params("ladder_id"), table)
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(cfg)
	})

	r.Put("/rewards/ranked/:game_mode/:mode", func(c *fiber.Ctx) error {
		var table models.RewardTable
		if err := c.BodyParser(&table); err != nil {
			return badRequest(c, "invalid reward table")
		}
		cfg, err := rewards.SetRankedRewards(c.UserContext(), middleware.ActorFromCtx(c),
			c.Params("game_mode"), models.MatchMode(c.Params("mode")), table)
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(cfg)
	})

	r.Post("/rewards/invalidate", func(c *fiber.Ctx) error {
		if err := rewards.Invalidate(c.UserContext()); err != nil {
			return respondError(c, log, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}
