package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/mentorlink/mentorlink-api/internal/models"
	"github.com/mentorlink/mentorlink-api/internal/service"
	"github.com/mentorlink/mentorlink-api/internal/utils"
)

// SeedHandler exposes tooling endpoints for seeding demo users.
type SeedHandler struct {
	service service.SeedService
	logger  zerolog.Logger
}

// NewSeedHandler constructs a seed handler.
func NewSeedHandler(service service.SeedService, logger zerolog.Logger) *SeedHandler {
	return &SeedHandler{
		service: service,
		logger:  logger.With().Str("component", "seed_handler").Logger(),
	}
}

// Register wires seed routes.
func (h *SeedHandler) Register(router fiber.Router) {
	router.Post("/users", h.users)
}

type seedUsersRequest struct {
	Items []models.User `json:"items"`
}

func (h *SeedHandler) users(c *fiber.Ctx) error {
	token := c.Get("X-Seed-Token")
	var payload seedUsersRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	created, err := h.service.SeedUsers(c.Context(), token, payload.Items)
	if err != nil {
		return h.seedError(c, err)
	}

	return utils.SendSuccess(c, "users seeded", fiber.Map{"created": created})
}

func (h *SeedHandler) seedError(c *fiber.Ctx, err error) error {
	switch err {
	case service.ErrSeedDisabled:
		return utils.SendError(c, fiber.StatusForbidden, "seeding disabled")
	case service.ErrSeedUnauthorized:
		return utils.SendError(c, fiber.StatusForbidden, "invalid token")
	default:
		h.logger.Error().Err(err).Msg("seed operation failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "seed operation failed")
	}
}
