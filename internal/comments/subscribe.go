package comments

import (
	"context"
	"sync"

	"classroom/internal/docstore"
	"classroom/internal/identity"
	"classroom/internal/models"
	"classroom/internal/observability"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// Subscribe streams the enriched comment list of postID. The first snapshot
// reflects the current state; later ones follow every committed change in
// order. A consumer that falls behind only sees the newest snapshot. The
// channel is closed once unsubscribe is called or ctx is done.
func (s *Store) Subscribe(ctx context.Context, postID string) (<-chan models.CommentsSnapshot, docstore.Unsubscribe, error) {
	ctx, cancel := context.WithCancel(ctx)
	viewer, _ := identity.CurrentUserID(ctx)

	pending := make(chan *docstore.Document, 1)
	stop, err := s.docs.Subscribe(ctx, postID, func(doc *docstore.Document) {
		replaceLatest(pending, doc)
	})
	if err != nil {
		cancel()
		return nil, nil, models.NewBackendError("Subscribe to comments", err)
	}
	observability.ActiveSubscriptions.Inc()
	s.logger.LogRead(ctx, "subscribe", map[string]interface{}{"post_id": postID})

	out := make(chan models.CommentsSnapshot, 1)
	go func() {
		defer close(out)
		defer observability.ActiveSubscriptions.Dec()
		for {
			select {
			case <-ctx.Done():
				return
			case doc := <-pending:
				snap, ok := s.project(ctx, postID, viewer, doc)
				if !ok {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				replaceLatest(out, snap)
				observability.SnapshotsEmitted.Inc()
			}
		}
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			stop()
			cancel()
		})
	}
	return out, unsubscribe, nil
}

// replaceLatest sends v on a one-slot channel, discarding an unread value.
// Only one goroutine may send on ch.
func replaceLatest[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- v
}

func (s *Store) project(ctx context.Context, postID, viewer string, doc *docstore.Document) (models.CommentsSnapshot, bool) {
	snap := models.CommentsSnapshot{
		PostID:    postID,
		Comments:  []models.EnrichedComment{},
		LikedByMe: map[string]struct{}{},
	}
	if doc == nil || !doc.Exists {
		return snap, true
	}
	snap.Exists = true

	var raw []models.Comment
	if _, err := doc.Decode(models.FieldComments, &raw); err != nil {
		s.logger.LogError(ctx, err, "project", map[string]interface{}{"post_id": postID})
		return snap, false
	}
	snap.Comments = s.enrich(ctx, raw)
	if viewer != "" {
		for _, c := range raw {
			if lo.Contains(c.Likes, viewer) {
				snap.LikedByMe[c.ID] = struct{}{}
			}
		}
	}
	return snap, true
}

// enrich resolves the author of every comment and reply, one lookup per
// distinct user, in parallel.
func (s *Store) enrich(ctx context.Context, raw []models.Comment) []models.EnrichedComment {
	userIDs := make([]string, 0, len(raw))
	for _, c := range raw {
		userIDs = append(userIDs, c.User)
		for _, r := range c.Replies {
			userIDs = append(userIDs, r.User)
		}
	}

	var mu sync.Mutex
	authors := make(map[string]models.AuthorInfo, len(userIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.enrichLimit)
	for _, id := range lo.Uniq(userIDs) {
		g.Go(func() error {
			info := s.lookupAuthor(gctx, id)
			mu.Lock()
			authors[id] = info
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	author := func(id string) models.AuthorInfo {
		if info, ok := authors[id]; ok {
			return info
		}
		return models.UnknownAuthor(id)
	}
	return lo.Map(raw, func(c models.Comment, _ int) models.EnrichedComment {
		return models.EnrichedComment{
			Comment: c,
			Author:  author(c.User),
			Replies: lo.Map(c.Replies, func(r models.Reply, _ int) models.EnrichedReply {
				return models.EnrichedReply{Reply: r, Author: author(r.User)}
			}),
		}
	})
}

func (s *Store) lookupAuthor(ctx context.Context, userID string) models.AuthorInfo {
	if s.authors == nil || userID == "" {
		return models.UnknownAuthor(userID)
	}
	info, err := s.authors.Lookup(ctx, userID)
	if err != nil {
		s.logger.LogError(ctx, err, "lookup_author", map[string]interface{}{"user_id": userID})
		return models.UnknownAuthor(userID)
	}
	return info
}
