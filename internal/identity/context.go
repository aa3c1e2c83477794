package identity

import "context"

type userKey struct{}

// WithUser returns a context carrying the acting user's id.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// CurrentUserID returns the acting user's id, if any.
func CurrentUserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userKey{}).(string)
	return id, ok && id != ""
}

// AdminLookup is the part of Directory that Roles needs.
type AdminLookup interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// Roles answers role questions about the acting user at call time.
type Roles struct {
	admins AdminLookup
}

// NewRoles creates a Roles checker.
func NewRoles(admins AdminLookup) *Roles {
	return &Roles{admins: admins}
}

// IsCurrentUserAdmin reports whether the context's user is an administrator.
// A context without a user is never an administrator.
func (r *Roles) IsCurrentUserAdmin(ctx context.Context) (bool, error) {
	userID, ok := CurrentUserID(ctx)
	if !ok {
		return false, nil
	}
	return r.admins.IsAdmin(ctx, userID)
}
