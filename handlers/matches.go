package handlers

import (
	"context"
	"mime/multipart"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"squad-ladder/middleware"
	"squad-ladder/models"
	"squad-ladder/services"
	"squad-ladder/utils"
)

// EvidenceUploader stores an uploaded evidence file and returns its URL.
type EvidenceUploader interface {
	UploadFile(ctx context.Context, fh *multipart.FileHeader, key string) (string, error)
}

// SetupMatchRoutes mounts the player-facing match commands on r, which must
// already carry the user context middleware.
func SetupMatchRoutes(r fiber.Router, matches *services.MatchService, evidence EvidenceUploader, log zerolog.Logger) {
	r.Post("/matches", func(c *fiber.Ctx) error {
		var in services.CreateMatchInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid request body")
		}
		m, err := matches.CreateMatch(c.UserContext(), middleware.ActorFromCtx(c), in)
		if err != nil {
			return respondError(c, log, err)
		}
		return c.Status(fiber.StatusCreated).JSON(m)
	})

	r.Get("/matches", func(c *fiber.Ctx) error {
		list, err := matches.List(c.UserContext(), services.MatchFilter{
			LadderID: c.Query("ladder_id"),
			SquadID:  c.Query("squad_id"),
			Status:   models.MatchStatus(c.Query("status")),
			Limit:    c.QueryInt("limit", 20),
			Offset:   c.QueryInt("offset", 0),
		})
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(fiber.Map{"matches": list})
	})

	r.Get("/matches/:id", func(c *fiber.Ctx) error {
		m, err := matches.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(m)
	})

	r.Post("/matches/:id/accept", func(c *fiber.Ctx) error {
		var in services.AcceptMatchInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid request body")
		}
		return reply(c, log)(matches.AcceptMatch(c.UserContext(), middleware.ActorFromCtx(c), c.Params("id"), in))
	})

	r.Post("/matches/:id/declare", func(c *fiber.Ctx) error {
		var in services.ResultInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid request body")
		}
		return reply(c, log)(matches.DeclareResult(c.UserContext(), middleware.ActorFromCtx(c), c.Params("id"), in))
	})

	r.Post("/matches/:id/report", func(c *fiber.Ctx) error {
		var in services.ResultInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid request body")
		}
		return reply(c, log)(matches.ReportResult(c.UserContext(), middleware.ActorFromCtx(c), c.Params("id"), in))
	})

	r.Post("/matches/:id/confirm", func(c *fiber.Ctx) error {
		return reply(c, log)(matches.ConfirmResult(c.UserContext(), middleware.ActorFromCtx(c), c.Params("id")))
	})

	r.Post("/matches/:id/cancel", func(c *fiber.Ctx) error {
		return reply(c, log)(matches.CancelMatch(c.UserContext(), middleware.ActorFromCtx(c), c.Params("id")))
	})

	r.Post("/matches/:id/cancel-request", func(c *fiber.Ctx) error {
		return reply(c, log)(matches.RequestCooperativeCancel(c.UserContext(), middleware.ActorFromCtx(c), c.Params("id")))
	})

	r.Post("/matches/:id/dispute", func(c *fiber.Ctx) error {
		var in services.DisputeInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid request body")
		}
		return reply(c, log)(matches.RaiseDispute(c.UserContext(), middleware.ActorFromCtx(c), c.Params("id"), in))
	})

	// JSON {url, note} links hosted evidence; multipart "file" is uploaded to R2 first.
	r.Post("/matches/:id/evidence", func(c *fiber.Ctx) error {
		var in services.EvidenceInput
		if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
			if evidence == nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"error": "evidence uploads are not configured",
					"code":  services.CodeEvidenceStoreDisabled,
					"kind":  services.KindDependency,
				})
			}
			fh, err := c.FormFile("file")
			if err != nil {
				return badRequest(c, "multipart field 'file' is required")
			}
			// the match must be disputed before anything is stored
			m, err := matches.Get(c.UserContext(), c.Params("id"))
			if err != nil {
				return respondError(c, log, err)
			}
			if m.Status != models.MatchStatusDisputed {
				return respondError(c, log, services.NotDisputedError(m.ID))
			}
			url, err := evidence.UploadFile(c.UserContext(), fh, utils.EvidenceKey(m.ID, fh.Filename))
			if err != nil {
				log.Error().Err(err).Str("match_id", m.ID).Msg("evidence upload failed")
				return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "evidence upload failed"})
			}
			in = services.EvidenceInput{URL: url, Note: c.FormValue("note")}
		} else if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid request body")
		}
		return reply(c, log)(matches.AttachDisputeEvidence(c.UserContext(), middleware.ActorFromCtx(c), c.Params("id"), in))
	})
}

// SetupAdminMatchRoutes mounts the staff overrides. r must require staff.
func SetupAdminMatchRoutes(r fiber.Router, matches *services.MatchService, rewards *services.RewardService, log zerolog.Logger) {
	r.Post("/matches/:id/resolve", func(c *fiber.Ctx) error {
		var in services.ResolveDisputeInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid request body")
		}
		return reply(c, log)(matches.ResolveDispute(c.UserContext(), middleware.ActorFromCtx(c), c.Params("id"), in))
	})

	r.Post("/matches/:id/revert", func(c *fiber.Ctx) error {
		return reply(c, log)(matches.RevertDispute(c.UserContext(), middleware.ActorFromCtx(c), c.Params("id")))
	})

	r.Post("/matches/:id/rewards", func(c *fiber.Ctx) error {
		return reply(c, log)(rewards.Distribute(c.UserContext(), middleware.ActorFromCtx(c), c.Params("id")))
	})
}

// reply renders the match a command returned, or its rejection.
func reply(c *fiber.Ctx, log zerolog.Logger) func(*models.Match, error) error {
	return func(m *models.Match, err error) error {
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(m)
	}
}
