package server

import (
	"roadcrew/internal/community"
	"roadcrew/internal/middleware"
	"roadcrew/internal/models"

	"github.com/gofiber/fiber/v2"
)

type createConversationRequest struct {
	Name           string   `json:"name" validate:"max=100"`
	ParticipantIDs []string `json:"participant_ids" validate:"required,min=1,max=50,dive,required,max=128"`
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

// GetConversations handles GET /api/conversations
// @Summary List conversations
// @Description Conversations the user participates in, most recent activity first
// @Tags conversations
// @Produce json
// @Success 200 {array} models.ConversationSummary
// @Router /conversations [get]
func (s *Server) GetConversations(c *fiber.Ctx) error {
	summaries, err := s.conversations.ListForUser(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(summaries)
}

// CreateConversation handles POST /api/conversations
// @Summary Create conversation
// @Description One invitee creates (or reuses) a private conversation; more create a named group
// @Tags conversations
// @Accept json
// @Produce json
// @Param request body createConversationRequest true "Conversation"
// @Success 201 {object} models.Conversation
// @Failure 400 {object} models.ErrorResponse
// @Router /conversations [post]
func (s *Server) CreateConversation(c *fiber.Ctx) error {
	var req createConversationRequest
	if err := s.bindBody(c, &req); err != nil {
		return nil
	}

	ctx := c.UserContext()
	userID := middleware.UserID(c)
	invitees := community.Invitees(userID, req.ParticipantIDs)

	switch len(invitees) {
	case 0:
		return respondErr(c, models.NewValidationError("Select at least one participant").
			WithKey(models.KeyInvalidParticipantCount))
	case 1:
		conv, created, err := s.conversations.CreatePrivate(ctx, userID, invitees[0])
		if err != nil {
			return respondErr(c, err)
		}
		if !created {
			return c.JSON(conv)
		}
		return c.Status(fiber.StatusCreated).JSON(conv)
	default:
		conv, err := s.conversations.CreateGroup(ctx, req.Name, userID, invitees)
		if err != nil {
			return respondErr(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(conv)
	}
}

// CreatePrivateConversation handles POST /api/conversations/private/:userId
func (s *Server) CreatePrivateConversation(c *fiber.Ctx) error {
	target, err := s.parseUserRef(c, "userId")
	if err != nil {
		return nil
	}
	conv, created, err := s.conversations.CreatePrivate(c.UserContext(), middleware.UserID(c), target)
	if err != nil {
		return respondErr(c, err)
	}
	if created {
		return c.Status(fiber.StatusCreated).JSON(conv)
	}
	return c.JSON(conv)
}

// GetConversation handles GET /api/conversations/:id
func (s *Server) GetConversation(c *fiber.Ctx) error {
	convID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	summary, err := s.conversations.GetForParticipant(c.UserContext(), convID, middleware.UserID(c))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(summary)
}

// GetMessages handles GET /api/conversations/:id/messages
// @Summary List messages
// @Tags conversations
// @Produce json
// @Param id path int true "Conversation ID"
// @Success 200 {array} models.MessageView
// @Failure 403 {object} models.ErrorResponse
// @Router /conversations/{id}/messages [get]
func (s *Server) GetMessages(c *fiber.Ctx) error {
	convID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	views, err := s.messages.ListForParticipant(c.UserContext(), convID, middleware.UserID(c))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(views)
}

// SendMessage handles POST /api/conversations/:id/messages
// @Summary Send message
// @Tags conversations
// @Accept json
// @Produce json
// @Param id path int true "Conversation ID"
// @Param request body sendMessageRequest true "Message"
// @Success 201 {object} models.Message
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /conversations/{id}/messages [post]
func (s *Server) SendMessage(c *fiber.Ctx) error {
	convID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req sendMessageRequest
	if err := s.bindBody(c, &req); err != nil {
		return nil
	}

	msg, err := s.messages.Append(c.UserContext(), convID, middleware.UserID(c), req.Content)
	if err != nil {
		return respondErr(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}
