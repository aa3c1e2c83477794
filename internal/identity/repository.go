// Package identity resolves who a user is: the user directory, author display
// identity, administrator checks and the acting user carried in a context.
package identity

import (
	"context"
	"errors"

	"classroom/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository defines persistence operations for directory users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	Upsert(ctx context.Context, user *models.User) error
	List(ctx context.Context, limit, offset int) ([]models.User, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository returns a new UserRepository implementation.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("User", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &user, nil
}

func (r *userRepository) Upsert(ctx context.Context, user *models.User) error {
	if user.Role == "" {
		user.Role = models.RoleStudent
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "avatar_url", "role", "updated_at"}),
	}).Create(user).Error
}

func (r *userRepository) List(ctx context.Context, limit, offset int) ([]models.User, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	var users []models.User
	err := r.db.WithContext(ctx).Order("id").Limit(limit).Offset(offset).Find(&users).Error
	return users, err
}
