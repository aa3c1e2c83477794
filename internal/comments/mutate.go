package comments

import (
	"strconv"
	"time"

	"classroom/internal/models"

	"github.com/samber/lo"
)

// The helpers below never modify their input. Comments they do not target
// are copied through as they are.

func findComment(comments []models.Comment, commentID string) (models.Comment, int, bool) {
	return lo.FindIndexOf(comments, func(c models.Comment) bool {
		return c.ID == commentID
	})
}

// nextCommentID derives a comment id from the creation instant in Unix
// milliseconds, moved forward past ids already taken by siblings.
func nextCommentID(comments []models.Comment, now time.Time) string {
	ms := now.UnixMilli()
	for {
		id := strconv.FormatInt(ms, 10)
		if _, _, taken := findComment(comments, id); !taken {
			return id
		}
		ms++
	}
}

func appendComment(comments []models.Comment, c models.Comment) []models.Comment {
	out := make([]models.Comment, 0, len(comments)+1)
	out = append(out, comments...)
	return append(out, c)
}

func removeComment(comments []models.Comment, commentID string) []models.Comment {
	return lo.Reject(comments, func(c models.Comment, _ int) bool {
		return c.ID == commentID
	})
}

// updateComment returns a copy of comments with fn applied to the comment at index.
func updateComment(comments []models.Comment, index int, fn func(models.Comment) models.Comment) []models.Comment {
	out := make([]models.Comment, len(comments))
	copy(out, comments)
	out[index] = fn(comments[index])
	return out
}

func appendReply(c models.Comment, r models.Reply) models.Comment {
	replies := make([]models.Reply, 0, len(c.Replies)+1)
	replies = append(replies, c.Replies...)
	c.Replies = append(replies, r)
	return c
}

func findReply(c models.Comment, key string) (models.Reply, int, bool) {
	return lo.FindIndexOf(c.Replies, func(r models.Reply) bool {
		return r.Matches(key)
	})
}

// removeReply drops exactly one reply, so replies sharing a createdAt with
// the target survive.
func removeReply(c models.Comment, index int) models.Comment {
	replies := make([]models.Reply, 0, len(c.Replies)-1)
	replies = append(replies, c.Replies[:index]...)
	c.Replies = append(replies, c.Replies[index+1:]...)
	return c
}

// addToSet reports false when value is already a member.
func addToSet(set []string, value string) ([]string, bool) {
	if lo.Contains(set, value) {
		return set, false
	}
	out := make([]string, 0, len(set)+1)
	out = append(out, set...)
	return append(out, value), true
}

// removeFromSet reports false when value is not a member.
func removeFromSet(set []string, value string) ([]string, bool) {
	if !lo.Contains(set, value) {
		return set, false
	}
	return lo.Without(set, value), true
}
