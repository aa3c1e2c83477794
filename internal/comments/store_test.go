package comments

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"classroom/internal/docstore"
	"classroom/internal/identity"
	"classroom/internal/models"
	"classroom/internal/observability"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type authorsStub struct {
	mu    sync.Mutex
	users map[string]models.AuthorInfo
	err   error
	calls int
}

func (a *authorsStub) Lookup(_ context.Context, userID string) (models.AuthorInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return models.AuthorInfo{}, a.err
	}
	if info, ok := a.users[userID]; ok {
		return info, nil
	}
	return models.UnknownAuthor(userID), nil
}

type rolesStub map[string]bool

func (r rolesStub) IsCurrentUserAdmin(ctx context.Context) (bool, error) {
	userID, ok := identity.CurrentUserID(ctx)
	return ok && r[userID], nil
}

type confirmStub struct {
	answer bool
	asked  []string
}

func (c *confirmStub) Confirm(_ context.Context, message string) (bool, error) {
	c.asked = append(c.asked, message)
	return c.answer, nil
}

type alertRecorder struct {
	mu     sync.Mutex
	titles []string
}

func (a *alertRecorder) Alert(_ context.Context, title string, _ error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.titles = append(a.titles, title)
}

// steppingClock advances one millisecond per call so generated ids differ.
func steppingClock() Clock {
	var mu sync.Mutex
	t := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

type fixture struct {
	docs    *docstore.MemoryStore
	store   *Store
	confirm *confirmStub
	alerts  *alertRecorder
	authors *authorsStub
}

func newFixture(t *testing.T, comments []models.Comment) *fixture {
	t.Helper()
	if comments == nil {
		comments = []models.Comment{}
	}
	docs := docstore.NewMemoryStore()
	require.NoError(t, docs.Put("post1", map[string]any{
		models.FieldTitle:    "Week 1",
		models.FieldAuthorID: "teacher",
		models.FieldComments: comments,
		models.FieldLikes:    []string{},
	}))
	f := &fixture{
		docs:    docs,
		confirm: &confirmStub{answer: true},
		alerts:  &alertRecorder{},
		authors: &authorsStub{users: map[string]models.AuthorInfo{}},
	}
	f.store = NewStore(docs, f.authors, rolesStub{"admin": true}, f.confirm,
		WithClock(steppingClock()), WithAlerter(f.alerts))
	return f
}

func (f *fixture) comments(t *testing.T) []models.Comment {
	t.Helper()
	doc, err := f.docs.Get(context.Background(), "post1")
	require.NoError(t, err)
	var out []models.Comment
	_, err = doc.Decode(models.FieldComments, &out)
	require.NoError(t, err)
	return out
}

func (f *fixture) rawComments(t *testing.T) []json.RawMessage {
	t.Helper()
	doc, err := f.docs.Get(context.Background(), "post1")
	require.NoError(t, err)
	var out []json.RawMessage
	_, err = doc.Decode(models.FieldComments, &out)
	require.NoError(t, err)
	return out
}

func as(userID string) context.Context {
	return identity.WithUser(context.Background(), userID)
}

func comment(id, user string, likes ...string) models.Comment {
	if likes == nil {
		likes = []string{}
	}
	return models.Comment{
		ID:        id,
		User:      user,
		Text:      gofakeit.Sentence(6),
		Timestamp: "2024-03-01T08:00:00Z",
		Likes:     likes,
		Replies:   []models.Reply{},
	}
}

func TestAddComment_SequentialAppendsPreserveOrder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := as("userA")

	texts := []string{"first", "second", "third"}
	for i, text := range texts {
		require.NoError(t, f.store.AddComment(ctx, "post1", "userA", text))
		got := f.comments(t)
		require.Len(t, got, i+1)
		for j := 0; j <= i; j++ {
			assert.Equal(t, texts[j], got[j].Text)
		}
	}

	got := f.comments(t)
	assert.NotEqual(t, got[0].ID, got[1].ID)
	assert.Equal(t, "userA", got[2].User)
}

func TestCreateAndDeleteComment(t *testing.T) {
	f := newFixture(t, nil)
	ctx := as("userA")

	require.NoError(t, f.store.AddComment(ctx, "post1", "userA", "hello"))
	got := f.comments(t)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Text)
	assert.Equal(t, []string{}, got[0].Likes)
	assert.Equal(t, []models.Reply{}, got[0].Replies)

	require.NoError(t, f.store.DeleteComment(ctx, "post1", got[0].ID, got))
	assert.Empty(t, f.comments(t))
	assert.Len(t, f.confirm.asked, 1)
}

func TestDeleteComment_UnauthorizedIsRefusedWithoutWrite(t *testing.T) {
	f := newFixture(t, []models.Comment{comment("c1", "userA")})
	current := f.comments(t)
	before := f.docs.Writes()

	err := f.store.DeleteComment(as("userB"), "post1", "c1", current)

	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.CodeUnauthorized))
	assert.Len(t, f.comments(t), 1)
	assert.Equal(t, before, f.docs.Writes())
	assert.Empty(t, f.confirm.asked, "refused before the confirmation prompt")
	assert.Empty(t, f.alerts.titles)
}

func TestDeleteComment_AdminMayDeleteAnyComment(t *testing.T) {
	f := newFixture(t, []models.Comment{comment("c1", "userA"), comment("c2", "userB")})

	require.NoError(t, f.store.DeleteComment(as("admin"), "post1", "c1", f.comments(t)))

	got := f.comments(t)
	require.Len(t, got, 1)
	assert.Equal(t, "c2", got[0].ID)
}

func TestDeleteComment_DeclinedConfirmationLeavesState(t *testing.T) {
	f := newFixture(t, []models.Comment{comment("c1", "userA")})
	f.confirm.answer = false
	before := f.docs.Writes()

	err := f.store.DeleteComment(as("userA"), "post1", "c1", f.comments(t))

	assert.True(t, models.HasCode(err, models.CodeCancelled))
	assert.Equal(t, before, f.docs.Writes())
	assert.Len(t, f.comments(t), 1)
}

func TestDeleteComment_Unknown(t *testing.T) {
	f := newFixture(t, []models.Comment{comment("c1", "userA")})
	before := f.docs.Writes()

	err := f.store.DeleteComment(as("userA"), "post1", "missing", f.comments(t))

	assert.True(t, models.HasCode(err, models.CodeNotFound))
	assert.Equal(t, before, f.docs.Writes())
}

func TestDeleteComment_RequiresUser(t *testing.T) {
	f := newFixture(t, []models.Comment{comment("c1", "userA")})

	err := f.store.DeleteComment(context.Background(), "post1", "c1", f.comments(t))

	assert.True(t, models.HasCode(err, models.CodeUnauthorized))
}

func TestLikeComment_RoundTripRestoresSet(t *testing.T) {
	f := newFixture(t, []models.Comment{comment("c1", "userA", "userC", "userD")})
	ctx := as("userB")

	require.NoError(t, f.store.LikeComment(ctx, "post1", "c1", "userB"))
	assert.ElementsMatch(t, []string{"userC", "userD", "userB"}, f.comments(t)[0].Likes)

	require.NoError(t, f.store.UnlikeComment(ctx, "post1", "c1", "userB"))
	assert.ElementsMatch(t, []string{"userC", "userD"}, f.comments(t)[0].Likes)
}

func TestLikeComment_DuplicateLikeAddsOnce(t *testing.T) {
	f := newFixture(t, []models.Comment{comment("c1", "userA")})
	ctx := as("userB")

	require.NoError(t, f.store.LikeComment(ctx, "post1", "c1", "userB"))
	writes := f.docs.Writes()
	require.NoError(t, f.store.LikeComment(ctx, "post1", "c1", "userB"))

	assert.Equal(t, []string{"userB"}, f.comments(t)[0].Likes)
	assert.Equal(t, writes, f.docs.Writes())
}

func TestLikeComment_UnknownComment(t *testing.T) {
	f := newFixture(t, []models.Comment{comment("c1", "userA")})

	err := f.store.LikeComment(as("userB"), "post1", "nope", "userB")

	assert.True(t, models.HasCode(err, models.CodeNotFound))
}

func TestAddReply_OnlyTouchesTargetComment(t *testing.T) {
	f := newFixture(t, []models.Comment{
		comment("c1", "userA", "userB"),
		comment("c2", "userB"),
		comment("c3", "userC", "userA"),
	})
	before := f.rawComments(t)

	require.NoError(t, f.store.AddReply(as("userD"), "post1", "c2", "userD", "agreed"))

	after := f.rawComments(t)
	require.Len(t, after, 3)
	assert.JSONEq(t, string(before[0]), string(after[0]))
	assert.JSONEq(t, string(before[2]), string(after[2]))

	got := f.comments(t)[1]
	require.Len(t, got.Replies, 1)
	reply := got.Replies[0]
	assert.Equal(t, "userD", reply.User)
	assert.Equal(t, "agreed", reply.Text)
	assert.NotEmpty(t, reply.ID)
	assert.NotEmpty(t, reply.CreatedAt)
	assert.Equal(t, "c2", got.ID)
	assert.Equal(t, []string{}, got.Likes)
}

func TestAddReply_UnknownCommentDoesNotWrite(t *testing.T) {
	f := newFixture(t, []models.Comment{comment("c1", "userA")})
	before := f.docs.Writes()

	err := f.store.AddReply(as("userB"), "post1", "c9", "userB", "hi")

	assert.True(t, models.HasCode(err, models.CodeNotFound))
	assert.Equal(t, before, f.docs.Writes())
}

func TestDeleteReply_RemovesFirstMatchOnly(t *testing.T) {
	c := comment("c1", "userA")
	c.Replies = []models.Reply{
		{User: "userB", Text: "one", CreatedAt: "2024-03-01T08:01:00Z"},
		{User: "userB", Text: "two", CreatedAt: "2024-03-01T08:01:00Z"},
		{ID: "r3", User: "userC", Text: "three", CreatedAt: "2024-03-01T08:02:00Z"},
	}
	f := newFixture(t, []models.Comment{c, comment("c2", "userB")})

	require.NoError(t, f.store.DeleteReply(as("userB"), "post1", "c1", "2024-03-01T08:01:00Z"))

	replies := f.comments(t)[0].Replies
	require.Len(t, replies, 2)
	assert.Equal(t, "two", replies[0].Text)
	assert.Equal(t, "three", replies[1].Text)

	require.NoError(t, f.store.DeleteReply(as("admin"), "post1", "c1", "r3"))
	replies = f.comments(t)[0].Replies
	require.Len(t, replies, 1)
	assert.Equal(t, "two", replies[0].Text)
}

func TestDeleteReply_NonAuthorRefused(t *testing.T) {
	c := comment("c1", "userA")
	c.Replies = []models.Reply{{ID: "r1", User: "userB", Text: "mine", CreatedAt: "2024-03-01T08:01:00Z"}}
	f := newFixture(t, []models.Comment{c})
	before := f.docs.Writes()

	err := f.store.DeleteReply(as("userA"), "post1", "c1", "r1")

	assert.True(t, models.HasCode(err, models.CodeUnauthorized))
	assert.Equal(t, before, f.docs.Writes())
	assert.Len(t, f.comments(t)[0].Replies, 1)
}

func TestDeleteReply_UnknownReply(t *testing.T) {
	f := newFixture(t, []models.Comment{comment("c1", "userA")})

	err := f.store.DeleteReply(as("userA"), "post1", "c1", "r9")

	assert.True(t, models.HasCode(err, models.CodeNotFound))
}

func TestDeleteReply_DeclinedConfirmationLeavesState(t *testing.T) {
	c := comment("c1", "userA")
	c.Replies = []models.Reply{{ID: "r1", User: "userB", Text: "mine", CreatedAt: "2024-03-01T08:01:00Z"}}
	f := newFixture(t, []models.Comment{c})
	f.confirm.answer = false
	before := f.docs.Writes()

	err := f.store.DeleteReply(as("userB"), "post1", "c1", "r1")

	assert.True(t, models.HasCode(err, models.CodeCancelled))
	assert.Equal(t, []string{"Delete this reply?"}, f.confirm.asked)
	assert.Equal(t, before, f.docs.Writes())
	assert.Len(t, f.comments(t)[0].Replies, 1)
	assert.Empty(t, f.alerts.titles)
}

func TestDeleteReply_BackendFailureAlertsAndReturns(t *testing.T) {
	c := comment("c1", "userA")
	c.Replies = []models.Reply{{ID: "r1", User: "userB", Text: "mine", CreatedAt: "2024-03-01T08:01:00Z"}}
	f := newFixture(t, []models.Comment{c})
	store := NewStore(flakyStore{f.docs}, f.authors, rolesStub{}, f.confirm, WithAlerter(f.alerts))

	err := store.DeleteReply(as("userB"), "post1", "c1", "r1")

	assert.True(t, models.HasCode(err, models.CodeBackendFailure))
	assert.Equal(t, []string{"Could not delete reply"}, f.alerts.titles)
	assert.Len(t, f.comments(t)[0].Replies, 1)
}

func TestMutations_MissingPost(t *testing.T) {
	f := newFixture(t, nil)

	err := f.store.AddComment(as("userA"), "ghost", "userA", "hi")

	assert.True(t, models.HasCode(err, models.CodeNotFound))
	assert.Empty(t, f.alerts.titles)
}

func TestLikePost_UsesSetSemantics(t *testing.T) {
	f := newFixture(t, nil)
	ctx := as("userA")

	require.NoError(t, f.store.LikePost(ctx, "post1", "userA"))
	require.NoError(t, f.store.LikePost(ctx, "post1", "userA"))
	require.NoError(t, f.store.LikePost(ctx, "post1", "userB"))

	doc, err := f.docs.Get(context.Background(), "post1")
	require.NoError(t, err)
	var likes []string
	_, err = doc.Decode(models.FieldLikes, &likes)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"userA", "userB"}, likes)

	require.NoError(t, f.store.UnlikePost(ctx, "post1", "userA"))
	doc, err = f.docs.Get(context.Background(), "post1")
	require.NoError(t, err)
	_, err = doc.Decode(models.FieldLikes, &likes)
	require.NoError(t, err)
	assert.Equal(t, []string{"userB"}, likes)
}

// flakyStore fails every field update.
type flakyStore struct {
	*docstore.MemoryStore
}

func (flakyStore) UpdateFields(context.Context, string, map[string]any) error {
	return errors.New("connection reset")
}

func TestMutations_BackendFailureAlertsAndReturns(t *testing.T) {
	f := newFixture(t, []models.Comment{comment("c1", "userA")})
	store := NewStore(flakyStore{f.docs}, f.authors, rolesStub{}, f.confirm, WithAlerter(f.alerts))

	err := store.AddComment(as("userA"), "post1", "userA", "hi")

	assert.True(t, models.HasCode(err, models.CodeBackendFailure))
	assert.Equal(t, []string{"Could not post comment"}, f.alerts.titles)
	assert.Len(t, f.comments(t), 1)
}

func TestMutations_TraceOutcome(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	observability.UseTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	f := newFixture(t, []models.Comment{comment("c1", "userA")})
	require.NoError(t, f.store.LikeComment(as("userB"), "post1", "c1", "userB"))
	f.confirm.answer = false
	require.Error(t, f.store.DeleteComment(as("userA"), "post1", "c1", f.comments(t)))
	flaky := NewStore(flakyStore{f.docs}, f.authors, rolesStub{}, f.confirm)
	require.Error(t, flaky.AddComment(as("userA"), "post1", "userA", "hi"))

	ended := recorder.Ended()
	require.Len(t, ended, 3)
	assert.Equal(t, "comments.like_comment", ended[0].Name())
	assert.Equal(t, codes.Unset, ended[0].Status().Code)
	assert.Equal(t, "comments.delete_comment", ended[1].Name())
	assert.Equal(t, codes.Unset, ended[1].Status().Code)
	assert.Equal(t, "comments.add_comment", ended[2].Name())
	assert.Equal(t, codes.Error, ended[2].Status().Code)
}

// Two appends that read the same snapshot race; the later write replaces the
// earlier one.
func TestAddComment_ConcurrentAppendLosesUpdate(t *testing.T) {
	f := newFixture(t, nil)

	var arrived sync.WaitGroup
	arrived.Add(2)
	f.docs.OnRead = func(string) {
		arrived.Done()
		arrived.Wait()
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, user := range []string{"userA", "userB"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = f.store.AddComment(as(user), "post1", user, "racing")
		}()
	}
	wg.Wait()
	f.docs.OnRead = nil

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Len(t, f.comments(t), 1)
	assert.Equal(t, int64(2), f.docs.Writes())
}
