package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"roadcrew/internal/community"
	"roadcrew/internal/middleware"
	"roadcrew/internal/models"
	"roadcrew/internal/notifications"
	"roadcrew/internal/observability"
	"roadcrew/internal/realtime"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// FrameAck answers a command that succeeded.
const FrameAck = "ack"

// WebSocketChatHandler serves the community page socket. Each connection
// owns one community.Session; session updates are pushed as frames and
// inbound frames drive session operations.
func (s *Server) WebSocketChatHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals("userID").(string)
		if userID == "" {
			middleware.Logger.Warn("websocket chat: unauthenticated connection attempt")
			_ = conn.WriteMessage(websocket.TextMessage, encodeError("", models.NewUnauthorizedError("Authorization required")))
			_ = conn.Close()
			return
		}

		client, err := s.hub.Register(userID, conn)
		if err != nil {
			middleware.Logger.Warn("websocket chat: register failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
			_ = conn.WriteMessage(websocket.TextMessage, encodeFrame(outboundFrame{
				Type:    FrameError,
				Payload: models.ErrorResponse{Error: err.Error()},
			}))
			_ = conn.Close()
			return
		}

		ctx, cancel := context.WithCancel(middleware.WithUserID(context.Background(), userID))
		defer cancel()

		sess := community.NewSession(userID, s.sessionDeps())
		defer sess.Close()
		sess.OnUpdate(func(u community.Update) {
			if data := encodeUpdate(u); data != nil {
				client.TrySend(data)
			}
		})

		client.IncomingHandler = func(c *notifications.Client, message []byte) {
			s.handleChatFrame(ctx, c, sess, message)
		}

		go client.WritePump()

		if err := sess.Open(ctx); err != nil {
			middleware.Logger.WarnContext(ctx, "websocket chat: session opened with error",
				slog.String("error", err.Error()))
			client.TrySend(encodeError("", err))
		}
		client.TrySend(encodeFrame(outboundFrame{
			Type: FrameSession,
			Payload: sessionPayload{
				State:        sess.Snapshot(),
				FeatureFlags: s.featureFlags.Snapshot(userID),
			},
		}))

		middleware.Logger.InfoContext(ctx, "websocket chat: connected")
		client.ReadPump()
		middleware.Logger.InfoContext(ctx, "websocket chat: disconnected")
	})
}

func (s *Server) handleChatFrame(ctx context.Context, c *notifications.Client, sess *community.Session, message []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		c.TrySend(encodeError("", models.NewValidationError("Invalid frame")))
		return
	}
	if err := s.validate.Struct(&frame); err != nil {
		c.TrySend(encodeError(frame.RequestID, models.NewValidationError(validationMessage(err))))
		return
	}
	observability.WebSocketEventsTotal.WithLabelValues(frame.Type).Inc()

	result, err := s.dispatchChatFrame(ctx, sess, &frame)
	if err != nil {
		c.TrySend(encodeError(frame.RequestID, err))
		return
	}
	c.TrySend(encodeFrame(outboundFrame{Type: FrameAck, RequestID: frame.RequestID, Payload: result}))
}

func (s *Server) dispatchChatFrame(ctx context.Context, sess *community.Session, frame *inboundFrame) (any, error) {
	switch frame.Type {
	case FrameOpen:
		if frame.ConversationID == 0 {
			return nil, models.NewValidationError("conversation_id is required")
		}
		return nil, sess.OpenConversation(ctx, frame.ConversationID)

	case FrameMessageFriend:
		return nil, sess.MessageFriend(ctx, frame.UserID)

	case FrameSend:
		allowed, err := middleware.CheckRateLimit(ctx, s.redis, "send_chat", "user:"+sess.UserID(), 15, time.Minute)
		if err != nil {
			middleware.RedisErrors.WithLabelValues("incr").Inc()
			middleware.Logger.WarnContext(ctx, "chat rate limit check failed", slog.String("error", err.Error()))
		} else if !allowed {
			return nil, &models.AppError{Code: models.CodeRateLimited, Message: "Too many messages, slow down"}
		}
		return sess.SendMessage(ctx, frame.Content)

	case FrameCreate:
		return sess.CreateConversation(ctx, frame.Name, frame.ParticipantIDs)

	case FrameRefresh:
		sess.RefreshConversations(ctx)
		if active := sess.Snapshot().Active; active.Kind == realtime.ActiveExisting {
			sess.RefreshMessages(ctx, active.ConversationID)
		}
		return nil, nil
	}
	return nil, errors.New("unsupported frame type")
}
