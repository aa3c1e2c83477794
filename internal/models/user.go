package models

import "time"

// User roles.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// User is a directory entry used to resolve comment authors.
type User struct {
	ID          string    `gorm:"primaryKey;size:128" json:"id"`
	DisplayName string    `gorm:"not null" json:"displayName"`
	AvatarURL   string    `json:"avatarUrl"`
	Role        string    `gorm:"not null;default:student" json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// IsAdmin reports whether the user holds the administrator role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// IsAuthor reports whether the user can author course content.
func (u *User) IsAuthor() bool {
	return u.Role == RoleTeacher || u.Role == RoleAdmin
}

// AuthorInfo projects the user into display identity.
func (u *User) AuthorInfo() AuthorInfo {
	return AuthorInfo{
		UserID:      u.ID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		IsAdmin:     u.IsAdmin(),
		IsAuthor:    u.IsAuthor(),
		Found:       true,
	}
}
