package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-recovery-backend/internal/events"
)

// streamCollections maps path segments to broker collections.
var streamCollections = map[string]string{
	events.Declarations:  events.Declarations,
	events.Payments:      events.Payments,
	events.Companies:     events.Companies,
	events.Chauffeurs:    events.Chauffeurs,
	events.Notifications: events.Notifications,
	"all":                events.AllCollections,
}

// StreamChanges godoc
// @ID          streamChanges
// @Summary     Subscribe to change events
// @Description Server-sent events, one per committed change: the event name is the operation
// @Description (created, updated, deleted) and the data is the JSON event. A ping event is sent
// @Description on idle connections.
// @Tags        Stream
// @Produce     text/event-stream
//
// @Param       collection  path  string  true  "declarations, payments, companies, chauffeurs, notifications or all"
//
// @Success     200  {object}  events.Event
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown collection"
// @Failure     503  {object}  handlers.ErrorResponse  "Stream unavailable"
// @Router      /stream/{collection} [get]
func (h *Handlers) StreamChanges(c *gin.Context) {
	collection, known := streamCollections[c.Param("collection")]
	if !known {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "unknown collection")
		return
	}
	if h.broker == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeInternal, "change stream unavailable")
		return
	}

	ctx := c.Request.Context()
	ch, cancel := h.broker.Subscribe(ctx, collection)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	// Streams outlive the server's WriteTimeout.
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})
	// Headers go out once subscribed so clients never miss an event.
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	ping := time.NewTicker(h.heartbeat)
	defer ping.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case e, open := <-ch:
			if !open {
				return false
			}
			c.SSEvent(e.Op, e)
			return true
		case t := <-ping.C:
			c.SSEvent("ping", t.UTC().Format(time.RFC3339))
			return true
		}
	})
}
