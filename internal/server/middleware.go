package server

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"classroom/internal/identity"
	"classroom/internal/models"
	"classroom/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	tokenIssuer   = "classroom-api"
	tokenAudience = "classroom-client"
)

// TracingMiddleware adds OpenTelemetry tracing to requests
func TracingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := otel.GetTextMapPropagator().Extract(c.UserContext(), propagation.HeaderCarrier(c.GetReqHeaders()))

		spanName := fmt.Sprintf("%s %s", c.Method(), c.Path())
		ctx, span := observability.Tracer.Start(ctx, spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Method()),
				attribute.String("http.path", c.Path()),
				attribute.String("http.ip", c.IP()),
			),
		)
		defer span.End()

		c.Locals("traceID", span.SpanContext().TraceID().String())
		if requestID := c.Locals("requestid"); requestID != nil {
			span.SetAttributes(attribute.String("request.id", fmt.Sprintf("%v", requestID)))
		}
		c.Set("X-Trace-ID", span.SpanContext().TraceID().String())
		c.SetUserContext(ctx)

		err := c.Next()

		span.SetAttributes(attribute.Int("http.status_code", c.Response().StatusCode()))
		if err != nil {
			span.RecordError(err)
		}
		if uid, ok := c.Locals("userID").(string); ok {
			span.SetAttributes(attribute.String("user.id", uid))
		}
		return err
	}
}

// ContextMiddleware carries the request id into the request context as the
// correlation id picked up by the store loggers.
func ContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, _ := c.Locals("requestid").(string)
		if id == "" {
			id = observability.GenerateCorrelationID()
		}
		c.SetUserContext(observability.WithCorrelationID(c.UserContext(), id))
		return c.Next()
	}
}

// StructuredLogger logs one record per request.
func StructuredLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		fields := []any{
			slog.Int("status", c.Response().StatusCode()),
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("ip", c.IP()),
			slog.Duration("latency", time.Since(start)),
			slog.String("correlation_id", observability.ExtractCorrelationID(c.UserContext())),
		}
		if err != nil {
			fields = append(fields, slog.String("error", err.Error()))
			observability.GlobalLogger.ErrorContext(c.UserContext(), "request failed", fields...)
		} else {
			observability.GlobalLogger.InfoContext(c.UserContext(), "request processed", fields...)
		}
		return err
	}
}

// RequireUpgrade rejects plain HTTP requests on WebSocket routes.
func RequireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// AuthRequired returns the authentication middleware. WebSocket routes accept
// a single-use ticket from /api/ws/ticket in place of the bearer token.
func (s *Server) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		isWSPath := strings.HasPrefix(c.Path(), "/api/ws/")

		if ticket := c.Query("ticket"); ticket != "" && isWSPath {
			userID, err := s.redeemWSTicket(c.UserContext(), ticket)
			if err != nil {
				return models.RespondWithError(c, fiber.StatusUnauthorized,
					models.NewUnauthorizedError("Invalid or expired WebSocket ticket"))
			}
			return s.authenticated(c, userID)
		}

		tokenString := ""
		if authHeader := c.Get("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
		if tokenString == "" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Authorization required"))
		}

		userID, err := s.parseToken(tokenString)
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized, err)
		}
		return s.authenticated(c, userID)
	}
}

func (s *Server) authenticated(c *fiber.Ctx, userID string) error {
	c.Locals("userID", userID)
	c.SetUserContext(identity.WithUser(c.UserContext(), userID))
	return c.Next()
}

func (s *Server) parseToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(s.config.JWTSecret), nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
	)
	if err != nil || !token.Valid {
		return "", models.NewUnauthorizedError("Invalid or expired token")
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", models.NewUnauthorizedError("Invalid subject claim")
	}
	return sub, nil
}

// SignToken issues a token for userID accepted by AuthRequired.
func SignToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Audience:  jwt.ClaimStrings{tokenAudience},
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
