package server

import (
	"strings"
	"unicode/utf8"

	"classroom/internal/models"

	"github.com/gofiber/fiber/v2"
)

const maxCommentLen = 10000

func parseText(c *fiber.Ctx) (string, error) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.BodyParser(&req); err != nil {
		return "", models.NewValidationError("Invalid request body")
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", models.NewValidationError("Text is required")
	}
	if utf8.RuneCountInString(text) > maxCommentLen {
		return "", models.NewValidationError("Comment too long (max 10000 characters)")
	}
	return text, nil
}

// CreateComment appends a comment by the current user
func (s *Server) CreateComment(c *fiber.Ctx) error {
	text, err := parseText(c)
	if err != nil {
		return respondError(c, err)
	}
	if err := s.comments.AddComment(c.UserContext(), c.Params("id"), currentUserID(c), text); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusCreated)
}

// DeleteComment removes a comment (author or admin, X-Confirm: true). The
// comment list is read just before the delete and written back without it.
func (s *Server) DeleteComment(c *fiber.Ctx) error {
	ctx := confirmedContext(c)
	post, err := s.posts.Get(ctx, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	if err := s.comments.DeleteComment(ctx, post.ID, c.Params("commentId"), post.Comments); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// CreateReply appends a reply to a comment
func (s *Server) CreateReply(c *fiber.Ctx) error {
	text, err := parseText(c)
	if err != nil {
		return respondError(c, err)
	}
	err = s.comments.AddReply(c.UserContext(), c.Params("id"), c.Params("commentId"), currentUserID(c), text)
	if err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusCreated)
}

// DeleteReply removes a reply addressed by id or createdAt (author or admin, X-Confirm: true)
func (s *Server) DeleteReply(c *fiber.Ctx) error {
	err := s.comments.DeleteReply(confirmedContext(c), c.Params("id"), c.Params("commentId"), c.Params("replyKey"))
	if err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) LikeComment(c *fiber.Ctx) error {
	err := s.comments.LikeComment(c.UserContext(), c.Params("id"), c.Params("commentId"), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) UnlikeComment(c *fiber.Ctx) error {
	err := s.comments.UnlikeComment(c.UserContext(), c.Params("id"), c.Params("commentId"), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
