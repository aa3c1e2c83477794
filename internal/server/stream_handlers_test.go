package server

import (
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"classroom/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serve runs the app on a loopback listener and returns its address.
func (e *testEnv) serve(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = e.app.Listener(ln) }()
	return ln.Addr().String()
}

func dialStream(t *testing.T, addr, postID, userID string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token(t, userID))
	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/ws/posts/"+postID+"/comments", header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) StreamFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var frame StreamFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(StreamFrame) bool) StreamFrame {
	t.Helper()
	for {
		if frame := readFrame(t, conn); match(frame) {
			return frame
		}
	}
}

func TestCommentsStream_SnapshotsAndToggle(t *testing.T) {
	env := newTestEnv(t)
	postID := env.createPost(t, "teacher")
	resp := env.do(t, http.MethodPost, "/api/posts/"+postID+"/comments", "teacher", map[string]string{"text": "Permission slips due Friday"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	conn := dialStream(t, env.serve(t), postID, "student")

	first := readFrame(t, conn)
	require.Equal(t, FrameSnapshot, first.Type)
	assert.True(t, first.Exists)
	require.Len(t, first.Comments, 1)
	assert.Equal(t, "Ms. Frizzle", first.Comments[0].Author.DisplayName)
	assert.True(t, first.Comments[0].Author.IsAuthor)
	assert.Empty(t, first.Liked)
	commentID := first.Comments[0].ID

	require.NoError(t, conn.WriteJSON(StreamCommand{Type: FrameToggleLike, CommentID: commentID}))

	state := readUntil(t, conn, func(f StreamFrame) bool { return f.Type == FrameLikeState })
	assert.Equal(t, commentID, state.CommentID)
	assert.True(t, state.IsLiked)
	assert.Empty(t, state.Error)

	liked := readUntil(t, conn, func(f StreamFrame) bool {
		return f.Type == FrameSnapshot && len(f.Liked) == 1
	})
	assert.Equal(t, []string{commentID}, liked.Liked)
	assert.Equal(t, []string{"student"}, liked.Comments[0].Likes)
}

func TestCommentsStream_MissingPostAndBadCommand(t *testing.T) {
	env := newTestEnv(t)
	conn := dialStream(t, env.serve(t), "ghost", "student")

	first := readFrame(t, conn)
	assert.Equal(t, FrameSnapshot, first.Type)
	assert.False(t, first.Exists)
	assert.Empty(t, first.Comments)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	frame := readUntil(t, conn, func(f StreamFrame) bool { return f.Type == FrameError })
	assert.Equal(t, "invalid message format", frame.Error)

	require.NoError(t, conn.WriteJSON(StreamCommand{Type: FrameToggleLike, CommentID: "c1"}))
	frame = readUntil(t, conn, func(f StreamFrame) bool { return f.Type == FrameLikeState })
	assert.NotEmpty(t, frame.Error)
	assert.Equal(t, "failed", frame.State)
}

func TestCommentsStream_DeleteComment(t *testing.T) {
	env := newTestEnv(t)
	postID := env.createPost(t, "teacher")
	for _, user := range []string{"teacher", "student"} {
		resp := env.do(t, http.MethodPost, "/api/posts/"+postID+"/comments", user, map[string]string{"text": "from " + user})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	conn := dialStream(t, env.serve(t), postID, "student")
	first := readFrame(t, conn)
	require.Len(t, first.Comments, 2)
	teacherComment, ownComment := first.Comments[0].ID, first.Comments[1].ID

	require.NoError(t, conn.WriteJSON(StreamCommand{Type: FrameDeleteComment, CommentID: teacherComment, Confirm: true}))
	frame := readUntil(t, conn, func(f StreamFrame) bool { return f.Type == FrameError })
	assert.Equal(t, teacherComment, frame.CommentID)
	assert.Contains(t, frame.Error, "own comments")

	require.NoError(t, conn.WriteJSON(StreamCommand{Type: FrameDeleteComment, CommentID: ownComment}))
	frame = readUntil(t, conn, func(f StreamFrame) bool { return f.Type == FrameError })
	assert.Equal(t, ownComment, frame.CommentID)

	require.NoError(t, conn.WriteJSON(StreamCommand{Type: FrameDeleteComment, CommentID: ownComment, Confirm: true}))
	frame = readUntil(t, conn, func(f StreamFrame) bool { return f.Type == FrameDeleted })
	assert.Equal(t, ownComment, frame.CommentID)

	snap := readUntil(t, conn, func(f StreamFrame) bool {
		return f.Type == FrameSnapshot && len(f.Comments) == 1
	})
	assert.Equal(t, teacherComment, snap.Comments[0].ID)
}

func TestCommentsStream_ClientDropsDuringToggle(t *testing.T) {
	env := newTestEnv(t)
	postID := env.createPost(t, "teacher")
	resp := env.do(t, http.MethodPost, "/api/posts/"+postID+"/comments", "teacher", map[string]string{"text": "Quiz on Monday"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var armed atomic.Bool
	reached := make(chan struct{})
	release := make(chan struct{})
	env.docs.OnRead = func(string) {
		if armed.CompareAndSwap(true, false) {
			close(reached)
			<-release
		}
	}
	addr := env.serve(t)

	conn := dialStream(t, addr, postID, "student")
	commentID := readFrame(t, conn).Comments[0].ID

	armed.Store(true)
	require.NoError(t, conn.WriteJSON(StreamCommand{Type: FrameToggleLike, CommentID: commentID}))
	select {
	case <-reached:
	case <-time.After(3 * time.Second):
		t.Fatal("toggle never reached the store")
	}
	require.NoError(t, conn.Close())
	close(release)

	// The server keeps serving, and the dropped client's write still lands.
	next := dialStream(t, addr, postID, "other")
	frame := readUntil(t, next, func(f StreamFrame) bool {
		return f.Type == FrameSnapshot && len(f.Comments) == 1 && len(f.Comments[0].Likes) == 1
	})
	assert.Equal(t, []string{"student"}, frame.Comments[0].Likes)
	assert.Empty(t, frame.Liked)

	require.NoError(t, next.WriteJSON(StreamCommand{Type: FrameToggleLike, CommentID: commentID}))
	state := readUntil(t, next, func(f StreamFrame) bool { return f.Type == FrameLikeState })
	assert.True(t, state.IsLiked)
	assert.Empty(t, state.Error)
}

func TestSnapshotFrame(t *testing.T) {
	snap := models.CommentsSnapshot{
		PostID: "p1",
		Exists: true,
		Comments: []models.EnrichedComment{
			{Comment: models.Comment{ID: "c1"}},
			{Comment: models.Comment{ID: "c2"}},
		},
		LikedByMe: map[string]struct{}{"c2": {}},
	}

	frame := snapshotFrame(snap)

	assert.Equal(t, FrameSnapshot, frame.Type)
	assert.Equal(t, []string{"c2"}, frame.Liked)
	assert.Len(t, frame.Comments, 2)
}
