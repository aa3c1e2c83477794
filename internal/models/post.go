// Package models defines the documents, view records and errors shared across the application.
package models

// Field names of a post document.
const (
	FieldTitle       = "title"
	FieldContent     = "content"
	FieldAuthorID    = "authorId"
	FieldAttachments = "attachments"
	FieldComments    = "comments"
	FieldLikes       = "likes"
	FieldCreatedAt   = "createdAt"
)

// Post is a course post. Comments are embedded in the post document and are
// rewritten as a whole on every comment mutation.
type Post struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	AuthorID    string    `json:"authorId"`
	Attachments []string  `json:"attachments"`
	Comments    []Comment `json:"comments"`
	Likes       []string  `json:"likes"`
	CreatedAt   string    `json:"createdAt"`
}
