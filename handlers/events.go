package handlers

import (
	"bufio"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"squad-ladder/services"
)

const keepAliveInterval = 15 * time.Second

// eventFilter narrows a stream to one squad and/or one ladder.
type eventFilter struct {
	squadID  string
	ladderID string
}

func (f eventFilter) match(e services.Event) bool {
	if f.squadID != "" && !e.Involves(f.squadID) {
		return false
	}
	return f.ladderID == "" || e.LadderID == f.ladderID
}

// SetupEventRoutes streams lifecycle events over SSE and websocket. Both
// accept ?squad_id= and ?ladder_id= filters.
func SetupEventRoutes(r fiber.Router, hub *services.EventHub, log zerolog.Logger) {
	r.Get("/events/stream", func(c *fiber.Ctx) error {
		filter := eventFilter{squadID: c.Query("squad_id"), ladderID: c.Query("ladder_id")}
		events, cancel := hub.Subscribe()

		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("X-Accel-Buffering", "no") // nginx

		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			defer cancel()
			ticker := time.NewTicker(keepAliveInterval)
			defer ticker.Stop()

			w.WriteString(":\n\n")
			if err := w.Flush(); err != nil {
				return
			}
			for {
				select {
				case e, ok := <-events:
					if !ok {
						return
					}
					if !filter.match(e) {
						continue
					}
					payload, err := json.Marshal(e)
					if err != nil {
						log.Error().Err(err).Str("event_id", e.ID).Msg("failed to encode event")
						continue
					}
					fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Topic, payload)
				case <-ticker.C:
					w.WriteString(":\n\n")
				}
				// a failed flush means the client went away
				if err := w.Flush(); err != nil {
					return
				}
			}
		})
		return nil
	})

	r.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("filter", eventFilter{squadID: c.Query("squad_id"), ladderID: c.Query("ladder_id")})
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	r.Get("/ws/events", websocket.New(func(conn *websocket.Conn) {
		filter, _ := conn.Locals("filter").(eventFilter)
		events, cancel := hub.Subscribe()
		defer cancel()

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case e, ok := <-events:
				if !ok {
					return
				}
				if !filter.match(e) {
					continue
				}
				if err := conn.WriteJSON(e); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-closed:
				return
			}
		}
	}))
}

// SetupHealthRoute reports liveness and the number of live event listeners.
func SetupHealthRoute(app *fiber.App, hub *services.EventHub) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "listeners": hub.SubscriberCount()})
	})
}
