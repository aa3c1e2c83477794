// Package posts manages the lifecycle of post documents.
package posts

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"classroom/internal/docstore"
	"classroom/internal/identity"
	"classroom/internal/models"
	"classroom/internal/observability"
)

const (
	maxTitleLen   = 300
	maxContentLen = 50000 // 50K characters
)

type RoleChecker interface {
	IsCurrentUserAdmin(ctx context.Context) (bool, error)
}

type Confirmer interface {
	Confirm(ctx context.Context, message string) (bool, error)
}

type Service struct {
	docs      docstore.Store
	roles     RoleChecker
	confirmer Confirmer
	now       func() time.Time
	logger    *observability.StoreLogger
}

type CreatePostInput struct {
	AuthorID    string
	Title       string
	Content     string
	Attachments []string
}

func NewService(docs docstore.Store, roles RoleChecker, confirmer Confirmer) *Service {
	return &Service{
		docs:      docs,
		roles:     roles,
		confirmer: confirmer,
		now:       time.Now,
		logger:    observability.NewStoreLogger("posts"),
	}
}

func (s *Service) Create(ctx context.Context, in CreatePostInput) (*models.Post, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, models.NewValidationError("Title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return nil, models.NewValidationError("Title too long (max 300 characters)")
	}
	if utf8.RuneCountInString(in.Content) > maxContentLen {
		return nil, models.NewValidationError("Content too long (max 50000 characters)")
	}
	attachments := make([]string, 0, len(in.Attachments))
	for _, a := range in.Attachments {
		u, err := url.Parse(a)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, models.NewValidationError("attachments must be absolute URLs")
		}
		attachments = append(attachments, a)
	}

	post := &models.Post{
		Title:       title,
		Content:     in.Content,
		AuthorID:    in.AuthorID,
		Attachments: attachments,
		Comments:    []models.Comment{},
		Likes:       []string{},
		CreatedAt:   s.now().UTC().Format(time.RFC3339Nano),
	}
	id, err := s.docs.Create(ctx, map[string]any{
		models.FieldTitle:       post.Title,
		models.FieldContent:     post.Content,
		models.FieldAuthorID:    post.AuthorID,
		models.FieldAttachments: post.Attachments,
		models.FieldComments:    post.Comments,
		models.FieldLikes:       post.Likes,
		models.FieldCreatedAt:   post.CreatedAt,
	})
	if err != nil {
		s.logger.LogError(ctx, err, "create", nil)
		return nil, models.NewBackendError("Create post", err)
	}
	post.ID = id
	s.logger.LogWrite(ctx, "create", map[string]interface{}{"post_id": id})
	return post, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Post, error) {
	doc, err := s.docs.Get(ctx, id)
	if errors.Is(err, docstore.ErrNotFound) || (err == nil && !doc.Exists) {
		return nil, models.NewNotFoundError("Post", id)
	}
	if err != nil {
		return nil, models.NewBackendError("Read post", err)
	}
	return decodePost(doc)
}

// Delete removes the post together with its embedded comments. Only the post
// author or an administrator may delete it.
func (s *Service) Delete(ctx context.Context, id string) error {
	userID, ok := identity.CurrentUserID(ctx)
	if !ok {
		return models.NewUnauthorizedError("Authentication required")
	}
	post, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if post.AuthorID != userID {
		admin, err := s.isAdmin(ctx)
		if err != nil {
			return err
		}
		if !admin {
			s.logger.LogRefused(ctx, "delete", models.CodeUnauthorized, map[string]interface{}{"post_id": id})
			return models.NewUnauthorizedError("You can only delete your own posts")
		}
	}

	if s.confirmer == nil {
		return models.NewCancelledError("Confirmation unavailable")
	}
	confirmed, err := s.confirmer.Confirm(ctx, "Delete this post and all of its comments?")
	if err != nil {
		return models.NewCancelledError(err.Error())
	}
	if !confirmed {
		return models.NewCancelledError("Deletion cancelled")
	}

	if err := s.docs.Delete(ctx, id); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return models.NewNotFoundError("Post", id)
		}
		s.logger.LogError(ctx, err, "delete", map[string]interface{}{"post_id": id})
		return models.NewBackendError("Delete post", err)
	}
	s.logger.LogWrite(ctx, "delete", map[string]interface{}{"post_id": id})
	return nil
}

func (s *Service) isAdmin(ctx context.Context) (bool, error) {
	if s.roles == nil {
		return false, nil
	}
	admin, err := s.roles.IsCurrentUserAdmin(ctx)
	if err != nil {
		return false, models.NewBackendError("Role check", err)
	}
	return admin, nil
}

func decodePost(doc *docstore.Document) (*models.Post, error) {
	post := &models.Post{ID: doc.ID}
	fields := []struct {
		name string
		dst  any
	}{
		{models.FieldTitle, &post.Title},
		{models.FieldContent, &post.Content},
		{models.FieldAuthorID, &post.AuthorID},
		{models.FieldAttachments, &post.Attachments},
		{models.FieldComments, &post.Comments},
		{models.FieldLikes, &post.Likes},
		{models.FieldCreatedAt, &post.CreatedAt},
	}
	for _, f := range fields {
		if _, err := doc.Decode(f.name, f.dst); err != nil {
			return nil, models.NewInternalError(err)
		}
	}
	if post.Comments == nil {
		post.Comments = []models.Comment{}
	}
	if post.Likes == nil {
		post.Likes = []string{}
	}
	return post, nil
}
