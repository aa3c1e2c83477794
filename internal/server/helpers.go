package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"classroom/internal/models"
	"classroom/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	confirmHeader = "X-Confirm"
	wsTicketTTL   = 30 * time.Second
)

type confirmKey struct{}

// withConfirmation records the answer to any confirmation prompt raised while
// serving the request.
func withConfirmation(ctx context.Context, confirmed bool) context.Context {
	return context.WithValue(ctx, confirmKey{}, confirmed)
}

// headerConfirmer answers confirmation prompts from the X-Confirm request header.
type headerConfirmer struct{}

func (headerConfirmer) Confirm(ctx context.Context, message string) (bool, error) {
	confirmed, ok := ctx.Value(confirmKey{}).(bool)
	if !ok {
		return false, errors.New("confirmation required: " + message)
	}
	return confirmed, nil
}

// logAlerter reports failed mutations in the log. The client sees the
// error response.
type logAlerter struct{}

func (logAlerter) Alert(ctx context.Context, title string, err error) {
	observability.GlobalLogger.WarnContext(ctx, title,
		slog.String("error", err.Error()),
		slog.String("correlation_id", observability.ExtractCorrelationID(ctx)),
	)
}

func respondError(c *fiber.Ctx, err error) error {
	return models.RespondWithError(c, models.StatusForError(err), err)
}

func currentUserID(c *fiber.Ctx) string {
	userID, _ := c.Locals("userID").(string)
	return userID
}

// confirmedContext is the request context carrying the X-Confirm answer.
func confirmedContext(c *fiber.Ctx) context.Context {
	return withConfirmation(c.UserContext(), c.Get(confirmHeader) == "true")
}

func wsTicketKey(ticket string) string {
	return "ws_ticket:" + ticket
}

// IssueWSTicket returns a short-lived single-use ticket for opening a
// WebSocket from a client that cannot set headers.
func (s *Server) IssueWSTicket(c *fiber.Ctx) error {
	if s.redis == nil {
		return models.RespondWithError(c, fiber.StatusServiceUnavailable,
			models.NewInternalError(errors.New("websocket tickets require redis")))
	}
	ticket := uuid.NewString()
	if err := s.redis.Set(c.UserContext(), wsTicketKey(ticket), currentUserID(c), wsTicketTTL).Err(); err != nil {
		return respondError(c, models.NewBackendError("Issue ticket", err))
	}
	return c.JSON(fiber.Map{
		"ticket":     ticket,
		"expires_in": int(wsTicketTTL.Seconds()),
	})
}

func (s *Server) redeemWSTicket(ctx context.Context, ticket string) (string, error) {
	if s.redis == nil {
		return "", errors.New("websocket tickets require redis")
	}
	return s.redis.GetDel(ctx, wsTicketKey(ticket)).Result()
}
