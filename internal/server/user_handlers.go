package server

import (
	"net/url"
	"strings"

	"classroom/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/samber/lo"
)

// ListUsers returns a page of the class directory ordered by user id.
func (s *Server) ListUsers(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	users, err := s.users.List(c.UserContext(), limit, offset)
	if err != nil {
		return respondError(c, models.NewBackendError("List users", err))
	}
	return c.JSON(lo.Map(users, func(u models.User, _ int) models.AuthorInfo {
		return u.AuthorInfo()
	}))
}

// GetMyProfile returns the directory identity of the current user
func (s *Server) GetMyProfile(c *fiber.Ctx) error {
	info, err := s.directory.Lookup(c.UserContext(), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(info)
}

// UpdateMyProfile sets the display name and avatar of the current user,
// creating the directory entry on first use. The role is left unchanged.
func (s *Server) UpdateMyProfile(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUserID(c)

	var req struct {
		DisplayName string `json:"displayName"`
		AvatarURL   string `json:"avatarUrl"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, models.NewValidationError("Invalid request body"))
	}
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		return respondError(c, models.NewValidationError("displayName is required"))
	}
	if req.AvatarURL != "" {
		if u, err := url.Parse(req.AvatarURL); err != nil || u.Scheme == "" || u.Host == "" {
			return respondError(c, models.NewValidationError("avatarUrl must be an absolute URL"))
		}
	}

	user, err := s.users.GetByID(ctx, userID)
	if models.HasCode(err, models.CodeNotFound) {
		user = &models.User{ID: userID, Role: models.RoleStudent}
	} else if err != nil {
		return respondError(c, err)
	}
	user.DisplayName = name
	user.AvatarURL = req.AvatarURL

	if err := s.directory.Save(ctx, user); err != nil {
		return respondError(c, err)
	}
	return c.JSON(user.AuthorInfo())
}

// GetUserProfile returns the directory identity of any user
func (s *Server) GetUserProfile(c *fiber.Ctx) error {
	info, err := s.directory.Lookup(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	if !info.Found {
		return respondError(c, models.NewNotFoundError("User", c.Params("id")))
	}
	return c.JSON(info)
}
