package models

// Comment is an entry of a post's embedded comment list. ID is derived from
// the creation instant and is unique only among its siblings.
type Comment struct {
	ID        string   `json:"id"`
	User      string   `json:"user"`
	Text      string   `json:"text"`
	Timestamp string   `json:"timestamp"`
	Likes     []string `json:"likes"`
	Replies   []Reply  `json:"replies"`
}

// Reply answers a comment. Replies written before IDs were introduced are
// keyed by CreatedAt only.
type Reply struct {
	ID        string `json:"id,omitempty"`
	User      string `json:"user"`
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt"`
}

// Matches reports whether key addresses this reply, either by ID or by CreatedAt.
func (r Reply) Matches(key string) bool {
	return key != "" && (r.ID == key || r.CreatedAt == key)
}

// AuthorInfo is the display identity of a comment or reply author.
type AuthorInfo struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
	IsAdmin     bool   `json:"isAdmin"`
	IsAuthor    bool   `json:"isAuthor"`
	Found       bool   `json:"found"`
}

// UnknownAuthor is used when the identity lookup has no record for userID.
func UnknownAuthor(userID string) AuthorInfo {
	return AuthorInfo{UserID: userID}
}

// EnrichedReply is a reply merged with its author's identity.
type EnrichedReply struct {
	Reply
	Author AuthorInfo `json:"author"`
}

// EnrichedComment is a comment merged with its author's identity. Replies
// shadows the embedded Comment.Replies in JSON output.
type EnrichedComment struct {
	Comment
	Author  AuthorInfo      `json:"author"`
	Replies []EnrichedReply `json:"replies"`
}

// CommentsSnapshot is one emission of a post's live comment projection.
type CommentsSnapshot struct {
	PostID    string              `json:"postId"`
	Exists    bool                `json:"exists"`
	Comments  []EnrichedComment   `json:"comments"`
	LikedByMe map[string]struct{} `json:"-"`
}

// IsLiked reports whether the subscribing user likes the comment.
func (s CommentsSnapshot) IsLiked(commentID string) bool {
	_, ok := s.LikedByMe[commentID]
	return ok
}

// LikedIDs returns the liked comment ids in list order.
func (s CommentsSnapshot) LikedIDs() []string {
	ids := make([]string, 0, len(s.LikedByMe))
	for _, c := range s.Comments {
		if s.IsLiked(c.ID) {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// RawComments strips enrichment and returns the stored comment records.
func (s CommentsSnapshot) RawComments() []Comment {
	out := make([]Comment, 0, len(s.Comments))
	for _, ec := range s.Comments {
		c := ec.Comment
		if len(ec.Replies) > 0 {
			c.Replies = make([]Reply, 0, len(ec.Replies))
			for _, er := range ec.Replies {
				c.Replies = append(c.Replies, er.Reply)
			}
		}
		out = append(out, c)
	}
	return out
}
