package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"classroom/internal/comments"
	"classroom/internal/identity"
	"classroom/internal/models"
	"classroom/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Frame types exchanged on the comment stream.
const (
	FrameSnapshot      = "snapshot"
	FrameLikeState     = "like_state"
	FrameDeleted       = "deleted"
	FrameError         = "error"
	FrameToggleLike    = "toggle_like"
	FrameDeleteComment = "delete_comment"
)

// StreamFrame is an outbound message of the comment stream.
type StreamFrame struct {
	Type      string                   `json:"type"`
	PostID    string                   `json:"post_id,omitempty"`
	Exists    bool                     `json:"exists,omitempty"`
	Comments  []models.EnrichedComment `json:"comments,omitempty"`
	Liked     []string                 `json:"liked,omitempty"`
	CommentID string                   `json:"comment_id,omitempty"`
	IsLiked   bool                     `json:"is_liked,omitempty"`
	State     string                   `json:"state,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

// StreamCommand is an inbound message of the comment stream.
type StreamCommand struct {
	Type      string `json:"type"`
	CommentID string `json:"comment_id"`
	Confirm   bool   `json:"confirm,omitempty"`
}

// streamSession is the per-connection state of a comment stream.
type streamSession struct {
	postID  string
	tracker *comments.LikeTracker
	send    func(StreamFrame) error

	mu   sync.Mutex
	last models.CommentsSnapshot
}

func (ss *streamSession) observe(snap models.CommentsSnapshot) {
	ss.mu.Lock()
	ss.last = snap
	ss.mu.Unlock()
	ss.tracker.Reconcile(snap)
}

// currentComments is the comment list as this client last saw it.
func (ss *streamSession) currentComments() []models.Comment {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.last.RawComments()
}

func snapshotFrame(snap models.CommentsSnapshot) StreamFrame {
	return StreamFrame{
		Type:     FrameSnapshot,
		PostID:   snap.PostID,
		Exists:   snap.Exists,
		Comments: snap.Comments,
		Liked:    snap.LikedIDs(),
	}
}

// CommentsStreamHandler streams the enriched comment list of a post. Clients
// toggle comment likes by sending toggle_like commands on the same socket.
func (s *Server) CommentsStreamHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		observability.WebSocketEventsTotal.WithLabelValues("connect").Inc()
		userID, _ := conn.Locals("userID").(string)
		postID := conn.Params("id")

		ctx, cancel := context.WithCancel(identity.WithUser(context.Background(), userID))
		defer cancel()
		s.wsLogger.LogConnect(ctx, userID, postID)
		reason := "client closed"
		defer func() { s.wsLogger.LogDisconnect(ctx, userID, postID, reason) }()

		var writeMu sync.Mutex
		send := func(frame StreamFrame) error {
			writeMu.Lock()
			defer writeMu.Unlock()
			return conn.WriteJSON(frame)
		}

		snapshots, unsubscribe, err := s.comments.Subscribe(ctx, postID)
		if err != nil {
			reason = "subscribe failed"
			s.wsLogger.LogError(ctx, userID, postID, err, "subscribe")
			_ = send(StreamFrame{Type: FrameError, Error: models.ClientMessage(err)})
			_ = conn.Close()
			return
		}
		defer unsubscribe()

		sess := &streamSession{
			postID:  postID,
			tracker: comments.NewLikeTracker(s.comments, postID, userID),
			send:    send,
		}

		// The connection is pooled once the handler returns, so the reader
		// must be gone before then.
		readerDone := make(chan struct{})
		go func() {
			defer close(readerDone)
			defer cancel()
			for {
				_, message, err := conn.ReadMessage()
				if err != nil {
					return
				}
				observability.WebSocketEventsTotal.WithLabelValues("message").Inc()
				if err := s.handleStreamCommand(ctx, sess, message); err != nil {
					s.wsLogger.LogError(ctx, userID, postID, err, "command")
				}
			}
		}()
		defer func() {
			cancel()
			_ = conn.Close()
			<-readerDone
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-snapshots:
				if !ok {
					return
				}
				sess.observe(snap)
				if err := send(snapshotFrame(snap)); err != nil {
					reason = "write failed"
					return
				}
				observability.WebSocketEventsTotal.WithLabelValues("snapshot").Inc()
			}
		}
	})
}

func (s *Server) handleStreamCommand(ctx context.Context, sess *streamSession, message []byte) error {
	send := sess.send
	var cmd StreamCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		return send(StreamFrame{Type: FrameError, Error: "invalid message format"})
	}
	if cmd.CommentID == "" && (cmd.Type == FrameToggleLike || cmd.Type == FrameDeleteComment) {
		return send(StreamFrame{Type: FrameError, Error: "comment_id is required"})
	}

	switch cmd.Type {
	case FrameToggleLike:
		liked, err := sess.tracker.Toggle(ctx, cmd.CommentID)
		frame := StreamFrame{
			Type:      FrameLikeState,
			CommentID: cmd.CommentID,
			IsLiked:   liked,
			State:     sess.tracker.Status(cmd.CommentID).State.String(),
		}
		if err != nil {
			frame.Error = models.ClientMessage(err)
			if !errors.Is(err, comments.ErrToggleInFlight) {
				observability.WebSocketEventsTotal.WithLabelValues("toggle_failed").Inc()
			}
		}
		return send(frame)
	case FrameDeleteComment:
		err := s.comments.DeleteComment(withConfirmation(ctx, cmd.Confirm), sess.postID, cmd.CommentID, sess.currentComments())
		if err != nil {
			return send(StreamFrame{Type: FrameError, CommentID: cmd.CommentID, Error: models.ClientMessage(err)})
		}
		return send(StreamFrame{Type: FrameDeleted, CommentID: cmd.CommentID})
	default:
		return send(StreamFrame{Type: FrameError, Error: "unknown message type"})
	}
}
