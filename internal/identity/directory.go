package identity

import (
	"context"
	"time"

	"classroom/internal/cache"
	"classroom/internal/models"
	"classroom/internal/observability"

	"github.com/redis/go-redis/v9"
)

// DefaultCacheTTL is used when no TTL is configured.
const DefaultCacheTTL = 5 * time.Minute

// Directory resolves author identities from the user repository, with an
// optional Redis cache-aside layer. A nil Redis client disables caching.
type Directory struct {
	users UserRepository
	rdb   *redis.Client
	ttl   time.Duration
}

// NewDirectory creates a Directory.
func NewDirectory(users UserRepository, rdb *redis.Client, ttl time.Duration) *Directory {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Directory{users: users, rdb: rdb, ttl: ttl}
}

// UserKey returns the cache key for a user's identity.
func UserKey(userID string) string {
	return "identity:user:" + userID
}

// Lookup returns the display identity of userID. An unknown user yields an
// AuthorInfo with Found=false and no error.
func (d *Directory) Lookup(ctx context.Context, userID string) (models.AuthorInfo, error) {
	source := "db"
	if d.rdb != nil {
		source = "cache"
	}
	defer observability.TrackLookup(source)()

	var info models.AuthorInfo
	err := cache.CacheAside(ctx, d.rdb, UserKey(userID), &info, d.ttl, func() error {
		user, err := d.users.GetByID(ctx, userID)
		if models.HasCode(err, models.CodeNotFound) {
			info = models.UnknownAuthor(userID)
			return nil
		}
		if err != nil {
			return err
		}
		info = user.AuthorInfo()
		return nil
	})
	if err != nil {
		return models.AuthorInfo{}, err
	}
	return info, nil
}

// IsAdmin reports whether userID holds the administrator role.
func (d *Directory) IsAdmin(ctx context.Context, userID string) (bool, error) {
	info, err := d.Lookup(ctx, userID)
	if err != nil {
		return false, err
	}
	return info.Found && info.IsAdmin, nil
}

// Save upserts a user and drops its cached identity.
func (d *Directory) Save(ctx context.Context, user *models.User) error {
	if err := d.users.Upsert(ctx, user); err != nil {
		return err
	}
	return cache.Invalidate(ctx, d.rdb, UserKey(user.ID))
}
