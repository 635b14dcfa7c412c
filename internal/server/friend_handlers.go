package server

import (
	"roadcrew/internal/middleware"
	"roadcrew/internal/models"

	"github.com/gofiber/fiber/v2"
)

// GetFriends handles GET /api/friends
// @Summary Friend overview
// @Description Accepted friends plus sent and received pending requests
// @Tags friends
// @Produce json
// @Success 200 {object} models.FriendOverview
// @Failure 401 {object} models.ErrorResponse
// @Router /friends [get]
func (s *Server) GetFriends(c *fiber.Ctx) error {
	overview, err := s.friends.Overview(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(overview)
}

// SendFriendRequest handles POST /api/friends/requests/:userId
// @Summary Send friend request
// @Tags friends
// @Produce json
// @Param userId path string true "Target user ref"
// @Success 201 {object} models.Friendship
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /friends/requests/{userId} [post]
func (s *Server) SendFriendRequest(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	target, err := s.parseUserRef(c, "userId")
	if err != nil {
		return nil
	}

	friendship, err := s.friends.SendRequest(c.UserContext(), userID, target)
	if err != nil {
		return respondErr(c, err)
	}

	s.publishFriendEvent(friendship.UserB, EventFriendRequestReceived, friendship)
	s.publishFriendEvent(friendship.UserA, EventFriendRequestSent, friendship)

	return c.Status(fiber.StatusCreated).JSON(friendship)
}

// AcceptFriendRequest handles POST /api/friends/requests/:requestId/accept
func (s *Server) AcceptFriendRequest(c *fiber.Ctx) error {
	return s.respondToRequest(c, models.DecisionAccept, EventFriendRequestAccepted)
}

// RejectFriendRequest handles POST /api/friends/requests/:requestId/reject
func (s *Server) RejectFriendRequest(c *fiber.Ctx) error {
	return s.respondToRequest(c, models.DecisionReject, EventFriendRequestRejected)
}

// BlockFriendRequest handles POST /api/friends/requests/:requestId/block
func (s *Server) BlockFriendRequest(c *fiber.Ctx) error {
	return s.respondToRequest(c, models.DecisionBlock, EventFriendRequestRejected)
}

func (s *Server) respondToRequest(c *fiber.Ctx, decision models.FriendshipDecision, event string) error {
	requestID, err := s.parseID(c, "requestId")
	if err != nil {
		return nil
	}

	friendship, err := s.friends.Respond(c.UserContext(), middleware.UserID(c), requestID, decision)
	if err != nil {
		return respondErr(c, err)
	}

	// A block is reported to the requester as a plain rejection.
	s.publishFriendEvent(friendship.UserA, event, friendship)
	if decision == models.DecisionAccept {
		s.publishFriendEvent(friendship.UserB, EventFriendAdded, friendship)
	}
	return c.JSON(friendship)
}

// CancelFriendRequest handles DELETE /api/friends/requests/:requestId
func (s *Server) CancelFriendRequest(c *fiber.Ctx) error {
	requestID, err := s.parseID(c, "requestId")
	if err != nil {
		return nil
	}
	if err := s.friends.Cancel(c.UserContext(), middleware.UserID(c), requestID); err != nil {
		return respondErr(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RemoveFriend handles DELETE /api/friends/:friendshipId
// @Summary Unfriend
// @Tags friends
// @Param friendshipId path int true "Friendship ID"
// @Success 204
// @Failure 403 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /friends/{friendshipId} [delete]
func (s *Server) RemoveFriend(c *fiber.Ctx) error {
	friendshipID, err := s.parseID(c, "friendshipId")
	if err != nil {
		return nil
	}
	if err := s.friends.Unfriend(c.UserContext(), middleware.UserID(c), friendshipID); err != nil {
		return respondErr(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
