package server

import (
	"roadcrew/internal/middleware"
	"roadcrew/internal/models"

	"github.com/gofiber/fiber/v2"
)

// GetMyProfile handles GET /api/users/me
func (s *Server) GetMyProfile(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	profiles, err := s.profileRepo.GetByUserIDs(c.UserContext(), []string{userID})
	if err != nil {
		return respondErr(c, err)
	}
	if len(profiles) == 0 {
		return respondErr(c, models.NewNotFoundError("Profile", userID))
	}
	return c.JSON(profiles[0])
}

// SearchUsers handles GET /api/users/search?q=
// @Summary Search riders
// @Description Username search excluding the caller, friends and pending requests
// @Tags users
// @Produce json
// @Param q query string true "Username fragment"
// @Success 200 {array} models.UserProfile
// @Router /users/search [get]
func (s *Server) SearchUsers(c *fiber.Ctx) error {
	found, err := s.friends.SearchUsers(c.UserContext(), middleware.UserID(c), c.Query("q"))
	if err != nil {
		return respondErr(c, err)
	}
	if found == nil {
		found = []models.UserProfile{}
	}
	return c.JSON(found)
}
