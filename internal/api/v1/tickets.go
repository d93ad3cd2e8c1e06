package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/coldwatch/coldwatch/internal/datastore/entities"
	"github.com/coldwatch/coldwatch/internal/logger"
)

const maxOpenLimit = 500

// OpenTicket is one row of the open-ticket listing.
type OpenTicket struct {
	ID                    uint       `json:"id"`
	DeviceCode            string     `json:"deviceCode"`
	Severity              string     `json:"severity"`
	OpenedAt              time.Time  `json:"opened_at"`
	AttemptCount          int        `json:"attempt_count"`
	LastNotifiedRoleIndex int        `json:"last_notified_role_index"`
	CurrentRole           *string    `json:"current_role"`
	AckedBy               string     `json:"acked_by"`
	AckedAt               *time.Time `json:"acked_at"`
}

// AckRequest is the body of POST /tickets/:id/ack.
type AckRequest struct {
	Name string `json:"name"`
}

func (c *Controller) initTicketRoutes() {
	tickets := c.Group.Group("/tickets")
	tickets.GET("/open", c.ListOpenTickets)
	tickets.GET("/:id", c.GetTicket)
	tickets.GET("/:id/events", c.ListTicketEvents)
	tickets.POST("/:id/ack", c.AckTicket)

	c.Group.GET("/escalation/roles", c.ListEscalationRoles)
}

// ListOpenTickets returns OPEN tickets newest first with their current role.
// GET /api/v1/tickets/open?device=<code>&limit=<n>
func (c *Controller) ListOpenTickets(ctx echo.Context) error {
	limit := 0
	if v := ctx.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid limit"})
		}
		limit = min(n, maxOpenLimit)
	}

	tickets, err := c.deps.Tickets.ListOpen(ctx.Request().Context(), ctx.QueryParam("device"), limit)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list open tickets", http.StatusInternalServerError)
	}

	roles := c.deps.Machine.Ladder().Roles
	out := make([]OpenTicket, 0, len(tickets))
	for i := range tickets {
		t := &tickets[i]
		row := OpenTicket{
			ID:                    t.ID,
			DeviceCode:            t.Device.Code,
			Severity:              t.Severity,
			OpenedAt:              t.OpenedAt,
			AttemptCount:          t.AttemptCount,
			LastNotifiedRoleIndex: t.LastNotifiedRoleIndex,
			AckedBy:               t.AckBy,
			AckedAt:               t.AckAt,
		}
		// Out-of-range indexes report no role rather than a clamped one.
		if idx := t.LastNotifiedRoleIndex; idx >= 0 && idx < len(roles) {
			row.CurrentRole = &roles[idx]
		}
		out = append(out, row)
	}
	return ctx.JSON(http.StatusOK, out)
}

// GetTicket returns one ticket with its device.
func (c *Controller) GetTicket(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid ticket ID"})
	}
	ticket, err := c.deps.Tickets.Get(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get ticket", statusFor(err))
	}
	return ctx.JSON(http.StatusOK, ticket)
}

// ListTicketEvents returns a ticket's history, oldest first.
func (c *Controller) ListTicketEvents(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid ticket ID"})
	}
	events, err := c.deps.Machine.TicketEvents(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list ticket events", http.StatusInternalServerError)
	}
	if events == nil {
		events = []entities.TicketEvent{}
	}
	return ctx.JSON(http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// AckTicket acknowledges an OPEN ticket. The body is optional; the actor
// defaults to "unknown".
func (c *Controller) AckTicket(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid ticket ID"})
	}
	var req AckRequest
	if ctx.Request().ContentLength != 0 {
		if err := ctx.Bind(&req); err != nil {
			return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		}
	}

	res, err := c.deps.Machine.Acknowledge(ctx.Request().Context(), id, req.Name)
	if err != nil {
		if !res.OK && res.Error != "" {
			c.log.Info("acknowledgement rejected",
				logger.Uint64("ticket_id", uint64(id)),
				logger.Error(err))
			return ctx.JSON(statusFor(err), res)
		}
		return c.HandleError(ctx, err, "Failed to acknowledge ticket", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, res)
}

// ListEscalationRoles returns the configured ladder.
func (c *Controller) ListEscalationRoles(ctx echo.Context) error {
	roles := c.deps.Machine.Ladder().Roles
	if roles == nil {
		roles = []string{}
	}
	return ctx.JSON(http.StatusOK, map[string]any{"roles": roles, "count": len(roles)})
}
