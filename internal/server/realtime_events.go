package server

import (
	"encoding/json"
	"log/slog"

	"roadcrew/internal/community"
	"roadcrew/internal/middleware"
	"roadcrew/internal/models"
)

// Friend graph events pushed to connected clients.
const (
	EventFriendRequestReceived = "friend_request_received"
	EventFriendRequestSent     = "friend_request_sent"
	EventFriendRequestAccepted = "friend_request_accepted"
	EventFriendAdded           = "friend_added"
	EventFriendRequestRejected = "friend_request_rejected"
)

// Inbound chat socket frame types.
const (
	FrameOpen          = "open"
	FrameMessageFriend = "message_friend"
	FrameSend          = "send"
	FrameCreate        = "create"
	FrameRefresh       = "refresh"
)

// Outbound chat socket frame types. Session updates use their UpdateKind.
const (
	FrameSession = "session"
	FrameError   = "error"
	FrameFriends = "friends"
)

// inboundFrame is a client command on the chat socket.
type inboundFrame struct {
	Type           string   `json:"type" validate:"required,oneof=open message_friend send create refresh"`
	RequestID      string   `json:"request_id" validate:"max=64"`
	ConversationID uint     `json:"conversation_id"`
	UserID         string   `json:"user_id" validate:"max=128"`
	Content        string   `json:"content"`
	Name           string   `json:"name" validate:"max=100"`
	ParticipantIDs []string `json:"participant_ids" validate:"max=50,dive,required,max=128"`
}

// outboundFrame is what the server writes to the chat socket.
type outboundFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

type friendEventPayload struct {
	Event      string             `json:"event"`
	Friendship *models.Friendship `json:"friendship"`
}

type sessionPayload struct {
	State        community.State `json:"state"`
	FeatureFlags map[string]bool `json:"feature_flags"`
}

func encodeFrame(frame outboundFrame) []byte {
	data, err := json.Marshal(frame)
	if err != nil {
		middleware.Logger.Error("failed to marshal websocket frame",
			slog.String("type", frame.Type),
			slog.String("error", err.Error()))
		return nil
	}
	return data
}

// encodeUpdate turns a session update into a frame carrying only the part
// of the state that changed.
func encodeUpdate(update community.Update) []byte {
	state := update.State
	var payload any
	switch update.Kind {
	case community.UpdateMessages:
		payload = map[string]any{"active": state.Active, "messages": state.Messages}
	case community.UpdateConversations:
		payload = map[string]any{"conversations": state.Conversations, "watched": state.Watched}
	case community.UpdateActive:
		payload = map[string]any{"active": state.Active, "messages": state.Messages}
	case community.UpdateStatus:
		payload = map[string]any{"degraded": state.Degraded}
	default:
		payload = state
	}
	return encodeFrame(outboundFrame{Type: string(update.Kind), Payload: payload})
}

func encodeError(requestID string, err error) []byte {
	resp := models.NewErrorResponse(err, models.StatusFor(err))
	return encodeFrame(outboundFrame{Type: FrameError, RequestID: requestID, Payload: resp})
}

// publishFriendEvent pushes a friend graph change to every socket userID
// has open.
func (s *Server) publishFriendEvent(userID, event string, friendship *models.Friendship) {
	if s.hub == nil || userID == "" {
		return
	}
	data := encodeFrame(outboundFrame{
		Type:    FrameFriends,
		Payload: friendEventPayload{Event: event, Friendship: friendship},
	})
	if data != nil {
		s.hub.Broadcast(userID, data)
	}
}
