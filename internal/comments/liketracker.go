package comments

import (
	"context"
	"errors"
	"sync"

	"classroom/internal/models"
)

// LikeState is the client-side state of one comment's like toggle.
type LikeState int

const (
	LikeIdle LikeState = iota
	LikeLiking
	LikeLiked
	LikeUnliking
	LikeUnliked
	LikeFailed
)

func (s LikeState) String() string {
	switch s {
	case LikeLiking:
		return "liking"
	case LikeLiked:
		return "liked"
	case LikeUnliking:
		return "unliking"
	case LikeUnliked:
		return "unliked"
	case LikeFailed:
		return "failed"
	default:
		return "idle"
	}
}

func (s LikeState) inFlight() bool {
	return s == LikeLiking || s == LikeUnliking
}

// LikeStatus is the state of a comment. Previous is set when State is LikeFailed.
type LikeStatus struct {
	State    LikeState
	Previous LikeState
}

// ErrToggleInFlight is returned when a toggle is requested while the previous
// one for the same comment has not completed.
var ErrToggleInFlight = errors.New("like toggle already in flight")

// Liker performs comment like writes.
type Liker interface {
	LikeComment(ctx context.Context, postID, commentID, userID string) error
	UnlikeComment(ctx context.Context, postID, commentID, userID string) error
}

// LikeTracker keeps one user's optimistic like set for a post. A toggle flips
// the local set before the write completes and is not rolled back when the
// write fails; Reconcile restores server truth.
type LikeTracker struct {
	liker  Liker
	postID string
	userID string

	mu     sync.Mutex
	liked  map[string]struct{}
	states map[string]LikeStatus
}

func NewLikeTracker(liker Liker, postID, userID string) *LikeTracker {
	return &LikeTracker{
		liker:  liker,
		postID: postID,
		userID: userID,
		liked:  make(map[string]struct{}),
		states: make(map[string]LikeStatus),
	}
}

// Toggle flips the like of commentID and returns the optimistic value.
func (t *LikeTracker) Toggle(ctx context.Context, commentID string) (bool, error) {
	t.mu.Lock()
	status := t.states[commentID]
	if status.State.inFlight() {
		_, liked := t.liked[commentID]
		t.mu.Unlock()
		return liked, ErrToggleInFlight
	}
	_, wasLiked := t.liked[commentID]
	next := LikeLiking
	if wasLiked {
		delete(t.liked, commentID)
		next = LikeUnliking
	} else {
		t.liked[commentID] = struct{}{}
	}
	t.states[commentID] = LikeStatus{State: next}
	t.mu.Unlock()

	var err error
	if wasLiked {
		err = t.liker.UnlikeComment(ctx, t.postID, commentID, t.userID)
	} else {
		err = t.liker.LikeComment(ctx, t.postID, commentID, t.userID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.states[commentID] = LikeStatus{State: LikeFailed, Previous: status.State}
		return !wasLiked, err
	}
	if wasLiked {
		t.states[commentID] = LikeStatus{State: LikeUnliked}
	} else {
		t.states[commentID] = LikeStatus{State: LikeLiked}
	}
	return !wasLiked, nil
}

// Reconcile replaces the local like set with the one in snap. Comments with a
// toggle in flight keep their optimistic value until the write completes.
func (t *LikeTracker) Reconcile(snap models.CommentsSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	liked := make(map[string]struct{}, len(snap.LikedByMe))
	states := make(map[string]LikeStatus, len(snap.Comments))
	for _, c := range snap.Comments {
		if cur := t.states[c.ID]; cur.State.inFlight() {
			states[c.ID] = cur
			if _, ok := t.liked[c.ID]; ok {
				liked[c.ID] = struct{}{}
			}
			continue
		}
		if snap.IsLiked(c.ID) {
			liked[c.ID] = struct{}{}
			states[c.ID] = LikeStatus{State: LikeLiked}
		} else {
			states[c.ID] = LikeStatus{State: LikeUnliked}
		}
	}
	t.liked = liked
	t.states = states
}

// IsLiked reports the local, possibly optimistic, like value.
func (t *LikeTracker) IsLiked(commentID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.liked[commentID]
	return ok
}

func (t *LikeTracker) Status(commentID string) LikeStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[commentID]
}
