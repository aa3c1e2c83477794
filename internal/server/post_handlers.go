package server

import (
	"classroom/internal/models"
	"classroom/internal/posts"

	"github.com/gofiber/fiber/v2"
)

// CreatePost creates a post authored by the current user
func (s *Server) CreatePost(c *fiber.Ctx) error {
	var req struct {
		Title       string   `json:"title"`
		Content     string   `json:"content"`
		Attachments []string `json:"attachments"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, models.NewValidationError("Invalid request body"))
	}

	post, err := s.posts.Create(c.UserContext(), posts.CreatePostInput{
		AuthorID:    currentUserID(c),
		Title:       req.Title,
		Content:     req.Content,
		Attachments: req.Attachments,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

// GetPost returns a post with its raw comment list
func (s *Server) GetPost(c *fiber.Ctx) error {
	post, err := s.posts.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}

// DeletePost deletes a post and its comments (author or admin, X-Confirm: true)
func (s *Server) DeletePost(c *fiber.Ctx) error {
	if err := s.posts.Delete(confirmedContext(c), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) LikePost(c *fiber.Ctx) error {
	if err := s.comments.LikePost(c.UserContext(), c.Params("id"), currentUserID(c)); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) UnlikePost(c *fiber.Ctx) error {
	if err := s.comments.UnlikePost(c.UserContext(), c.Params("id"), currentUserID(c)); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
