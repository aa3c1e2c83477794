// Package seed creates demo users, posts and comment threads for local
// development. It writes through the same services the API uses.
package seed

import (
	"context"
	"fmt"
	"strings"

	"classroom/internal/comments"
	"classroom/internal/identity"
	"classroom/internal/models"
	"classroom/internal/posts"

	"github.com/brianvoe/gofakeit/v6"
)

// UserSaver persists directory entries.
type UserSaver interface {
	Save(ctx context.Context, user *models.User) error
}

// Options controls how much data Run creates.
type Options struct {
	Students        int
	Teachers        int
	Posts           int
	CommentsPerPost int
	RepliesPerPost  int
}

// Result lists what Run created.
type Result struct {
	Users   []models.User
	PostIDs []string
}

type Seeder struct {
	users    UserSaver
	posts    *posts.Service
	comments *comments.Store
	faker    *gofakeit.Faker
}

func NewSeeder(users UserSaver, postSvc *posts.Service, commentStore *comments.Store, seed int64) *Seeder {
	return &Seeder{
		users:    users,
		posts:    postSvc,
		comments: commentStore,
		faker:    gofakeit.New(seed),
	}
}

// Run creates one admin, the requested teachers and students, and posts
// authored by teachers with comments and replies from everyone.
func (s *Seeder) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Teachers <= 0 {
		opts.Teachers = 1
	}
	res := &Result{}

	admin := models.User{ID: "admin", DisplayName: "Administrator", Role: models.RoleAdmin}
	if err := s.users.Save(ctx, &admin); err != nil {
		return nil, fmt.Errorf("save admin: %w", err)
	}
	res.Users = append(res.Users, admin)

	var teachers, everyone []models.User
	for i := 0; i < opts.Teachers; i++ {
		u, err := s.saveUser(ctx, fmt.Sprintf("teacher-%d", i+1), models.RoleTeacher)
		if err != nil {
			return nil, err
		}
		teachers = append(teachers, u)
	}
	everyone = append(everyone, teachers...)
	for i := 0; i < opts.Students; i++ {
		u, err := s.saveUser(ctx, fmt.Sprintf("student-%d", i+1), models.RoleStudent)
		if err != nil {
			return nil, err
		}
		everyone = append(everyone, u)
	}
	res.Users = append(res.Users, everyone...)

	for i := 0; i < opts.Posts; i++ {
		author := teachers[i%len(teachers)]
		post, err := s.posts.Create(identity.WithUser(ctx, author.ID), posts.CreatePostInput{
			AuthorID: author.ID,
			Title:    strings.TrimSuffix(s.faker.Sentence(5), "."),
			Content:  s.faker.Paragraph(2, 3, 10, "\n\n"),
		})
		if err != nil {
			return nil, fmt.Errorf("create post: %w", err)
		}
		res.PostIDs = append(res.PostIDs, post.ID)

		if err := s.thread(ctx, post.ID, everyone, opts); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (s *Seeder) saveUser(ctx context.Context, id, role string) (models.User, error) {
	u := models.User{
		ID:          id,
		DisplayName: s.faker.Name(),
		AvatarURL:   fmt.Sprintf("https://i.pravatar.cc/150?u=%s", id),
		Role:        role,
	}
	if err := s.users.Save(ctx, &u); err != nil {
		return u, fmt.Errorf("save user %s: %w", id, err)
	}
	return u, nil
}

// thread adds comments, replies and likes to a post.
func (s *Seeder) thread(ctx context.Context, postID string, users []models.User, opts Options) error {
	if len(users) == 0 {
		return nil
	}
	for i := 0; i < opts.CommentsPerPost; i++ {
		author := users[s.faker.Number(0, len(users)-1)]
		actx := identity.WithUser(ctx, author.ID)
		if err := s.comments.AddComment(actx, postID, author.ID, s.faker.Sentence(s.faker.Number(4, 14))); err != nil {
			return fmt.Errorf("add comment: %w", err)
		}
	}

	post, err := s.posts.Get(ctx, postID)
	if err != nil {
		return err
	}
	if len(post.Comments) == 0 {
		return nil
	}
	for i := 0; i < opts.RepliesPerPost; i++ {
		target := post.Comments[s.faker.Number(0, len(post.Comments)-1)]
		author := users[s.faker.Number(0, len(users)-1)]
		actx := identity.WithUser(ctx, author.ID)
		if err := s.comments.AddReply(actx, postID, target.ID, author.ID, s.faker.Sentence(6)); err != nil {
			return fmt.Errorf("add reply: %w", err)
		}
	}
	for _, c := range post.Comments {
		liker := users[s.faker.Number(0, len(users)-1)]
		if err := s.comments.LikeComment(identity.WithUser(ctx, liker.ID), postID, c.ID, liker.ID); err != nil {
			return fmt.Errorf("like comment: %w", err)
		}
	}
	liker := users[s.faker.Number(0, len(users)-1)]
	return s.comments.LikePost(identity.WithUser(ctx, liker.ID), postID, liker.ID)
}
