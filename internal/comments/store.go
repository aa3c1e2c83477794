// Package comments implements the comment store of a post: mutations over the
// post's embedded comment list and a live, identity-enriched projection of it.
package comments

import (
	"context"
	"errors"
	"time"

	"classroom/internal/docstore"
	"classroom/internal/identity"
	"classroom/internal/models"
	"classroom/internal/observability"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const defaultEnrichConcurrency = 8

// AuthorLookup resolves a user id to display identity.
type AuthorLookup interface {
	Lookup(ctx context.Context, userID string) (models.AuthorInfo, error)
}

// RoleChecker reports whether the user acting in ctx is an administrator.
type RoleChecker interface {
	IsCurrentUserAdmin(ctx context.Context) (bool, error)
}

// Confirmer asks the acting user to confirm a destructive action.
type Confirmer interface {
	Confirm(ctx context.Context, message string) (bool, error)
}

// Alerter surfaces a failed mutation to the acting user.
type Alerter interface {
	Alert(ctx context.Context, title string, err error)
}

// Clock returns the current instant.
type Clock func() time.Time

type Store struct {
	docs        docstore.Store
	authors     AuthorLookup
	roles       RoleChecker
	confirmer   Confirmer
	alerter     Alerter
	now         Clock
	enrichLimit int
	logger      *observability.StoreLogger
}

type Option func(*Store)

func WithClock(now Clock) Option {
	return func(s *Store) { s.now = now }
}

func WithAlerter(a Alerter) Option {
	return func(s *Store) { s.alerter = a }
}

// WithEnrichConcurrency bounds the parallel identity lookups of one snapshot.
func WithEnrichConcurrency(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.enrichLimit = n
		}
	}
}

func NewStore(docs docstore.Store, authors AuthorLookup, roles RoleChecker, confirmer Confirmer, opts ...Option) *Store {
	s := &Store{
		docs:        docs,
		authors:     authors,
		roles:       roles,
		confirmer:   confirmer,
		now:         time.Now,
		enrichLimit: defaultEnrichConcurrency,
		logger:      observability.NewStoreLogger("posts.comments"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddComment appends a new comment by userID. Text is validated by the caller.
func (s *Store) AddComment(ctx context.Context, postID, userID, text string) (err error) {
	ctx, done := s.begin(ctx, "add_comment", postID)
	defer func() { done(err) }()

	current, err := s.readComments(ctx, postID)
	if err != nil {
		return err
	}
	now := s.now()
	c := models.Comment{
		ID:        nextCommentID(current, now),
		User:      userID,
		Text:      text,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Likes:     []string{},
		Replies:   []models.Reply{},
	}
	return s.writeComments(ctx, postID, appendComment(current, c))
}

// AddReply appends a reply by userID to the comment commentID.
func (s *Store) AddReply(ctx context.Context, postID, commentID, userID, text string) (err error) {
	ctx, done := s.begin(ctx, "add_reply", postID)
	defer func() { done(err) }()

	current, err := s.readComments(ctx, postID)
	if err != nil {
		return err
	}
	target, idx, ok := findComment(current, commentID)
	if !ok {
		return models.NewNotFoundError("Comment", commentID)
	}
	r := models.Reply{
		ID:        uuid.NewString(),
		User:      userID,
		Text:      text,
		CreatedAt: s.now().UTC().Format(time.RFC3339Nano),
	}
	next := updateComment(current, idx, func(models.Comment) models.Comment {
		return appendReply(target, r)
	})
	return s.writeComments(ctx, postID, next)
}

// DeleteComment removes commentID from currentComments and writes the result.
// currentComments is the caller's latest view of the list; it is used both for
// the permission check and as the base of the write.
func (s *Store) DeleteComment(ctx context.Context, postID, commentID string, currentComments []models.Comment) (err error) {
	ctx, done := s.begin(ctx, "delete_comment", postID)
	defer func() { done(err) }()

	target, _, ok := findComment(currentComments, commentID)
	if !ok {
		return models.NewNotFoundError("Comment", commentID)
	}
	if err := s.authorize(ctx, target.User, "You can only delete your own comments"); err != nil {
		return err
	}
	if err := s.confirm(ctx, "Delete this comment?"); err != nil {
		return err
	}
	return s.writeComments(ctx, postID, removeComment(currentComments, commentID))
}

// DeleteReply removes the first reply of commentID addressed by replyKey,
// which is either the reply id or its createdAt value.
func (s *Store) DeleteReply(ctx context.Context, postID, commentID, replyKey string) (err error) {
	ctx, done := s.begin(ctx, "delete_reply", postID)
	defer func() { done(err) }()

	current, err := s.readComments(ctx, postID)
	if err != nil {
		return err
	}
	target, idx, ok := findComment(current, commentID)
	if !ok {
		return models.NewNotFoundError("Comment", commentID)
	}
	reply, replyIdx, ok := findReply(target, replyKey)
	if !ok {
		return models.NewNotFoundError("Reply", replyKey)
	}
	if err := s.authorize(ctx, reply.User, "You can only delete your own replies"); err != nil {
		return err
	}
	if err := s.confirm(ctx, "Delete this reply?"); err != nil {
		return err
	}
	next := updateComment(current, idx, func(c models.Comment) models.Comment {
		return removeReply(c, replyIdx)
	})
	return s.writeComments(ctx, postID, next)
}

// LikeComment adds userID to the likes of commentID. Liking twice is a no-op.
func (s *Store) LikeComment(ctx context.Context, postID, commentID, userID string) (err error) {
	ctx, done := s.begin(ctx, "like_comment", postID)
	defer func() { done(err) }()
	return s.updateLikes(ctx, postID, commentID, func(likes []string) ([]string, bool) {
		return addToSet(likes, userID)
	})
}

// UnlikeComment removes userID from the likes of commentID.
func (s *Store) UnlikeComment(ctx context.Context, postID, commentID, userID string) (err error) {
	ctx, done := s.begin(ctx, "unlike_comment", postID)
	defer func() { done(err) }()
	return s.updateLikes(ctx, postID, commentID, func(likes []string) ([]string, bool) {
		return removeFromSet(likes, userID)
	})
}

// LikePost adds userID to the post's likes with the store's atomic set primitive.
func (s *Store) LikePost(ctx context.Context, postID, userID string) (err error) {
	ctx, done := s.begin(ctx, "like_post", postID)
	defer func() { done(err) }()
	return s.backendErr("Like post", s.docs.AddToSetField(ctx, postID, models.FieldLikes, userID), postID)
}

// UnlikePost removes userID from the post's likes.
func (s *Store) UnlikePost(ctx context.Context, postID, userID string) (err error) {
	ctx, done := s.begin(ctx, "unlike_post", postID)
	defer func() { done(err) }()
	return s.backendErr("Unlike post", s.docs.RemoveFromSetField(ctx, postID, models.FieldLikes, userID), postID)
}

func (s *Store) updateLikes(ctx context.Context, postID, commentID string, fn func([]string) ([]string, bool)) error {
	current, err := s.readComments(ctx, postID)
	if err != nil {
		return err
	}
	target, idx, ok := findComment(current, commentID)
	if !ok {
		return models.NewNotFoundError("Comment", commentID)
	}
	likes, changed := fn(target.Likes)
	if !changed {
		return nil
	}
	next := updateComment(current, idx, func(c models.Comment) models.Comment {
		c.Likes = likes
		return c
	})
	return s.writeComments(ctx, postID, next)
}

// authorize passes when the acting user wrote the item or is an administrator.
func (s *Store) authorize(ctx context.Context, ownerID, message string) error {
	userID, ok := identity.CurrentUserID(ctx)
	if !ok {
		return models.NewUnauthorizedError("Authentication required")
	}
	if userID == ownerID {
		return nil
	}
	if s.roles == nil {
		return models.NewUnauthorizedError(message)
	}
	admin, err := s.roles.IsCurrentUserAdmin(ctx)
	if err != nil {
		return models.NewBackendError("Role check", err)
	}
	if !admin {
		return models.NewUnauthorizedError(message)
	}
	return nil
}

func (s *Store) confirm(ctx context.Context, message string) error {
	if s.confirmer == nil {
		return models.NewCancelledError("Confirmation unavailable")
	}
	ok, err := s.confirmer.Confirm(ctx, message)
	if err != nil {
		return models.NewCancelledError(err.Error())
	}
	if !ok {
		return models.NewCancelledError("Deletion cancelled")
	}
	return nil
}

func (s *Store) readComments(ctx context.Context, postID string) ([]models.Comment, error) {
	doc, err := s.docs.Get(ctx, postID)
	if err != nil {
		return nil, s.backendErr("Read post", err, postID)
	}
	if !doc.Exists {
		return nil, models.NewNotFoundError("Post", postID)
	}
	var current []models.Comment
	if _, err := doc.Decode(models.FieldComments, &current); err != nil {
		return nil, models.NewInternalError(err)
	}
	return current, nil
}

func (s *Store) writeComments(ctx context.Context, postID string, next []models.Comment) error {
	if next == nil {
		next = []models.Comment{}
	}
	err := s.docs.UpdateFields(ctx, postID, map[string]any{models.FieldComments: next})
	return s.backendErr("Update comments", err, postID)
}

func (s *Store) backendErr(operation string, err error, postID string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, docstore.ErrNotFound):
		return models.NewNotFoundError("Post", postID)
	default:
		return models.NewBackendError(operation, err)
	}
}

// begin opens the span of a mutation. The returned func records the outcome:
// metrics, logs, and an alert for backend failures.
func (s *Store) begin(ctx context.Context, op, postID string) (context.Context, func(error)) {
	span, ctx := observability.NewSpan(ctx, "comments."+op, attribute.String("post.id", postID))
	return ctx, func(err error) {
		fields := map[string]interface{}{"post_id": postID}
		if err == nil {
			observability.RecordMutation(op, "ok")
			s.logger.LogWrite(ctx, op, fields)
			span.Finish("ok", nil, false)
			return
		}
		var appErr *models.AppError
		code := models.CodeInternal
		if errors.As(err, &appErr) {
			code = appErr.Code
		}
		observability.RecordMutation(op, code)
		failed := code == models.CodeBackendFailure || code == models.CodeInternal
		if failed {
			s.logger.LogError(ctx, err, op, fields)
			if s.alerter != nil {
				s.alerter.Alert(ctx, alertTitle(op), err)
			}
		} else {
			s.logger.LogRefused(ctx, op, code, fields)
		}
		span.Finish(code, err, failed)
	}
}

func alertTitle(op string) string {
	switch op {
	case "add_comment":
		return "Could not post comment"
	case "add_reply":
		return "Could not post reply"
	case "delete_comment":
		return "Could not delete comment"
	case "delete_reply":
		return "Could not delete reply"
	case "like_comment", "like_post":
		return "Could not like"
	case "unlike_comment", "unlike_post":
		return "Could not unlike"
	default:
		return "Something went wrong"
	}
}
