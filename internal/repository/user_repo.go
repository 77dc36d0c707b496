package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/mentorlink/mentorlink-api/internal/models"
)

// UserRepository reads the user directory. The chat core only needs existence
// checks and display snapshots; account management lives elsewhere.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (models.User, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
	Create(ctx context.Context, user *models.User) error
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository constructs a user directory repository backed by GORM.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) FindByID(ctx context.Context, id string) (models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (r *userRepository) FindByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var users []models.User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}
