package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mentorlink/mentorlink-api/internal/models"
	"github.com/mentorlink/mentorlink-api/internal/repository"
)

var (
	// ErrSeedDisabled indicates the seeding tools are disabled by configuration.
	ErrSeedDisabled = errors.New("seeding is disabled")
	// ErrSeedUnauthorized indicates the provided token is invalid.
	ErrSeedUnauthorized = errors.New("invalid seed token")
)

// SeedService loads demo users into the directory. Development and staging
// tooling only; the router never mounts it unless seeding is enabled.
type SeedService interface {
	SeedUsers(ctx context.Context, token string, items []models.User) (int64, error)
}

type seedService struct {
	users   repository.UserRepository
	enabled bool
	token   string
	logger  zerolog.Logger
}

// NewSeedService constructs a seeding service.
func NewSeedService(users repository.UserRepository, enabled bool, token string, logger zerolog.Logger) SeedService {
	return &seedService{
		users:   users,
		enabled: enabled,
		token:   token,
		logger:  logger.With().Str("component", "seed_service").Logger(),
	}
}

func (s *seedService) SeedUsers(ctx context.Context, token string, items []models.User) (int64, error) {
	if !s.enabled {
		return 0, ErrSeedDisabled
	}
	if !s.validateToken(token) {
		return 0, ErrSeedUnauthorized
	}

	var created int64
	for i := range items {
		user := normalizeUser(items[i])
		if user.ID == "" || user.Username == "" {
			continue
		}
		if err := s.users.Create(ctx, &user); err != nil {
			return created, err
		}
		created++
	}

	s.logger.Info().Int64("created", created).Msg("users seeded")
	return created, nil
}

func (s *seedService) validateToken(token string) bool {
	expected := strings.TrimSpace(s.token)
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.TrimSpace(token))) == 1
}

func normalizeUser(user models.User) models.User {
	user.ID = strings.TrimSpace(user.ID)
	user.Username = strings.TrimSpace(user.Username)
	if user.Role == "" {
		user.Role = models.RoleMentee
	}
	return user
}
