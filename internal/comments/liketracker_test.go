package comments

import (
	"context"
	"errors"
	"testing"

	"classroom/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLiker struct {
	mock.Mock
}

func (m *mockLiker) LikeComment(ctx context.Context, postID, commentID, userID string) error {
	return m.Called(ctx, postID, commentID, userID).Error(0)
}

func (m *mockLiker) UnlikeComment(ctx context.Context, postID, commentID, userID string) error {
	return m.Called(ctx, postID, commentID, userID).Error(0)
}

func snapshotWithLikes(liked ...string) models.CommentsSnapshot {
	snap := models.CommentsSnapshot{
		PostID:    "post1",
		Exists:    true,
		LikedByMe: map[string]struct{}{},
	}
	for _, id := range []string{"c1", "c2"} {
		snap.Comments = append(snap.Comments, models.EnrichedComment{Comment: models.Comment{ID: id}})
	}
	for _, id := range liked {
		snap.LikedByMe[id] = struct{}{}
	}
	return snap
}

func TestLikeTracker_ToggleLikesThenUnlikes(t *testing.T) {
	liker := new(mockLiker)
	liker.On("LikeComment", mock.Anything, "post1", "c1", "userA").Return(nil).Once()
	liker.On("UnlikeComment", mock.Anything, "post1", "c1", "userA").Return(nil).Once()
	tracker := NewLikeTracker(liker, "post1", "userA")

	liked, err := tracker.Toggle(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Equal(t, LikeStatus{State: LikeLiked}, tracker.Status("c1"))

	liked, err = tracker.Toggle(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, liked)
	assert.Equal(t, LikeUnliked, tracker.Status("c1").State)
	liker.AssertExpectations(t)
}

func TestLikeTracker_FailureKeepsOptimisticValue(t *testing.T) {
	liker := new(mockLiker)
	liker.On("LikeComment", mock.Anything, "post1", "c1", "userA").Return(errors.New("offline"))
	tracker := NewLikeTracker(liker, "post1", "userA")

	liked, err := tracker.Toggle(context.Background(), "c1")

	require.Error(t, err)
	assert.True(t, liked)
	assert.True(t, tracker.IsLiked("c1"), "no rollback on failure")
	assert.Equal(t, LikeStatus{State: LikeFailed, Previous: LikeIdle}, tracker.Status("c1"))

	tracker.Reconcile(snapshotWithLikes())
	assert.False(t, tracker.IsLiked("c1"))
	assert.Equal(t, LikeUnliked, tracker.Status("c1").State)
}

func TestLikeTracker_ReconcileUsesServerTruth(t *testing.T) {
	tracker := NewLikeTracker(new(mockLiker), "post1", "userA")

	tracker.Reconcile(snapshotWithLikes("c2"))

	assert.False(t, tracker.IsLiked("c1"))
	assert.True(t, tracker.IsLiked("c2"))
	assert.Equal(t, LikeLiked, tracker.Status("c2").State)
	assert.Equal(t, LikeIdle, tracker.Status("c9").State)
}

// blockingLiker holds LikeComment until release is closed.
type blockingLiker struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingLiker) LikeComment(context.Context, string, string, string) error {
	close(b.started)
	<-b.release
	return nil
}

func (b *blockingLiker) UnlikeComment(context.Context, string, string, string) error {
	return nil
}

func TestLikeTracker_RejectsToggleWhileInFlight(t *testing.T) {
	liker := &blockingLiker{started: make(chan struct{}), release: make(chan struct{})}
	tracker := NewLikeTracker(liker, "post1", "userA")

	done := make(chan error, 1)
	go func() {
		_, err := tracker.Toggle(context.Background(), "c1")
		done <- err
	}()
	<-liker.started

	assert.Equal(t, LikeLiking, tracker.Status("c1").State)
	liked, err := tracker.Toggle(context.Background(), "c1")
	assert.ErrorIs(t, err, ErrToggleInFlight)
	assert.True(t, liked)

	tracker.Reconcile(snapshotWithLikes())
	assert.True(t, tracker.IsLiked("c1"), "in-flight toggle survives reconcile")

	close(liker.release)
	require.NoError(t, <-done)
	assert.Equal(t, LikeLiked, tracker.Status("c1").State)
}

func TestLikeState_String(t *testing.T) {
	assert.Equal(t, "liking", LikeLiking.String())
	assert.Equal(t, "failed", LikeFailed.String())
	assert.Equal(t, "idle", LikeIdle.String())
}
