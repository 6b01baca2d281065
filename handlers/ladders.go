package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"squad-ladder/middleware"
	"squad-ladder/services"
)

type registrationBody struct {
	SquadID string `json:"squad_id"`
}

func SetupLadderRoutes(r fiber.Router, ladders *services.LadderService, log zerolog.Logger) {
	r.Get("/ladders", func(c *fiber.Ctx) error {
		list, err := ladders.ListLadders(c.UserContext(), !c.QueryBool("all", false))
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(fiber.Map{"ladders": list})
	})

	r.Get("/ladders/:id", func(c *fiber.Ctx) error {
		l, err := ladders.GetLadder(c.UserContext(), c.Params("id"))
		if errors.Is(err, services.ErrLadderNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "ladder not found",
				"code":  services.CodeLadderNotFound,
				"kind":  services.KindNotFound,
			})
		}
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(l)
	})

	r.Get("/ladders/:id/standings", func(c *fiber.Ctx) error {
		rows, err := ladders.Standings(c.UserContext(), c.Params("id"), c.QueryInt("limit", 50))
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(fiber.Map{"ladder_id": c.Params("id"), "standings": rows})
	})

	r.Post("/ladders/:id/registrations", func(c *fiber.Ctx) error {
		var body registrationBody
		if err := c.BodyParser(&body); err != nil || body.SquadID == "" {
			return badRequest(c, "squad_id is required")
		}
		st, err := ladders.RegisterSquad(c.UserContext(), middleware.ActorFromCtx(c), c.Params("id"), body.SquadID)
		if err != nil {
			return respondError(c, log, err)
		}
		return c.Status(fiber.StatusCreated).JSON(st)
	})

	r.Delete("/ladders/:id/registrations", func(c *fiber.Ctx) error {
		squadID := c.Query("squad_id")
		if squadID == "" {
			var body registrationBody
			_ = c.BodyParser(&body)
			squadID = body.SquadID
		}
		if squadID == "" {
			return badRequest(c, "squad_id is required")
		}
		if err := ladders.UnregisterSquad(c.UserContext(), middleware.ActorFromCtx(c), c.Params("id"), squadID); err != nil {
			return respondError(c, log, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func SetupAdminLadderRoutes(r fiber.Router, ladders *services.LadderService, log zerolog.Logger) {
	r.Post("/ladders", func(c *fiber.Ctx) error {
		var in services.CreateLadderInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid request body")
		}
		l, err := ladders.CreateLadder(c.UserContext(), middleware.ActorFromCtx(c), in)
		if err != nil {
			return respondError(c, log, err)
		}
		return c.Status(fiber.StatusCreated).JSON(l)
	})
}
