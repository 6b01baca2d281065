package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"squad-ladder/services"
)

var kindStatus = map[services.ErrorKind]int{
	services.KindPrecondition: fiber.StatusUnprocessableEntity,
	services.KindForbidden:    fiber.StatusForbidden,
	services.KindNotFound:     fiber.StatusNotFound,
	services.KindTemporal:     fiber.StatusUnprocessableEntity,
	services.KindConflict:     fiber.StatusConflict,
	services.KindDependency:   fiber.StatusServiceUnavailable,
}

// respondError renders a command rejection. Untyped errors are logged and
// reported as 500 without internals.
func respondError(c *fiber.Ctx, log zerolog.Logger, err error) error {
	me, ok := services.AsMatchError(err)
	if !ok {
		log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
	status, known := kindStatus[me.Kind]
	if !known {
		status = fiber.StatusInternalServerError
	}
	if me.Kind == services.KindDependency {
		log.Warn().Err(err).Str("code", me.Code).Str("path", c.Path()).Msg("dependency unavailable")
	}
	if secs, ok := me.Remaining(); ok && me.Kind == services.KindTemporal {
		c.Set(fiber.HeaderRetryAfter, strconv.FormatInt(int64(secs.Seconds()), 10))
	}
	body := fiber.Map{
		"error": me.Message,
		"code":  me.Code,
		"kind":  me.Kind,
	}
	if len(me.Details) > 0 {
		body["details"] = me.Details
	}
	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
		"code":  services.CodeInvalidRequest,
		"kind":  services.KindPrecondition,
	})
}
