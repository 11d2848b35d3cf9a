package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zentrochat/zentro/internal/chat"
	"github.com/zentrochat/zentro/internal/models"
	"github.com/zentrochat/zentro/internal/presence"
	"github.com/zentrochat/zentro/internal/realtime"
)

type UserReader interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// ChatHandler serves profiles, rooms and messages. Reads are one-shot
// snapshots of the same live queries the websocket streams.
type ChatHandler struct {
	chat     *chat.Service
	presence *presence.Service
	users    UserReader
	resolver *realtime.Resolver
	chats    *realtime.ChatListAggregator
	messages *realtime.MessageSubscriber
}

type ChatDeps struct {
	Chat     *chat.Service
	Presence *presence.Service
	Users    UserReader
	Resolver *realtime.Resolver
	Chats    *realtime.ChatListAggregator
	Messages *realtime.MessageSubscriber
}

func NewChatHandler(deps ChatDeps) *ChatHandler {
	return &ChatHandler{
		chat:     deps.Chat,
		presence: deps.Presence,
		users:    deps.Users,
		resolver: deps.Resolver,
		chats:    deps.Chats,
		messages: deps.Messages,
	}
}

type UpdateProfileRequest struct {
	DisplayName string  `json:"display_name" binding:"required"`
	AvatarURL   *string `json:"avatar_url"`
	Bio         string  `json:"bio"`
}

type ResolveRoomRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

type SendMessageRequest struct {
	Body      models.BodyInput `json:"body"`
	ReplyToID string           `json:"reply_to_id"`
}

type EditMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

type ReactionRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

type StatusRequest struct {
	Status models.Status `json:"status" binding:"required"`
}

func (h *ChatHandler) GetMyProfile(c *gin.Context) {
	user, err := h.users.GetUser(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *ChatHandler) UpdateProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.presence.UpdateProfile(c.Request.Context(), currentUser(c), req.DisplayName, req.AvatarURL, req.Bio)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *ChatHandler) GetUser(c *gin.Context) {
	user, err := h.users.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// ResolveRoom returns the direct room with another user, creating it on
// first use.
func (h *ChatHandler) ResolveRoom(c *gin.Context) {
	var req ResolveRoomRequest
	if !bindJSON(c, &req) {
		return
	}
	roomID, err := h.resolver.Resolve(c.Request.Context(), currentUser(c), req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": roomID})
}

func (h *ChatHandler) GetChats(c *gin.Context) {
	chats, err := h.chats.Snapshot(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

func (h *ChatHandler) GetMessages(c *gin.Context) {
	messages, err := h.messages.Snapshot(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if !bindJSON(c, &req) {
		return
	}
	body, err := req.Body.Decode()
	if err != nil {
		respondError(c, err)
		return
	}
	msg, err := h.chat.SendMessage(c.Request.Context(), c.Param("id"), currentUser(c), body, req.ReplyToID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *ChatHandler) DeleteChat(c *gin.Context) {
	if err := h.chat.DeleteChat(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) MarkRoomRead(c *gin.Context) {
	if err := h.chat.MarkRoomRead(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) EditMessage(c *gin.Context) {
	var req EditMessageRequest
	if !bindJSON(c, &req) {
		return
	}
	msg, err := h.chat.EditMessage(c.Request.Context(), c.Param("id"), currentUser(c), req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	msg, err := h.chat.DeleteMessage(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *ChatHandler) ToggleReaction(c *gin.Context) {
	var req ReactionRequest
	if !bindJSON(c, &req) {
		return
	}
	msg, err := h.chat.ToggleReaction(c.Request.Context(), c.Param("id"), currentUser(c), req.Emoji)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// UpdateStatus accepts delivered or read; sent is implied by storage.
func (h *ChatHandler) UpdateStatus(c *gin.Context) {
	var req StatusRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Status != models.StatusDelivered && req.Status != models.StatusRead {
		abortWithError(c, http.StatusBadRequest, "status must be delivered or read")
		return
	}
	status, err := h.chat.UpdateStatus(c.Request.Context(), c.Param("id"), currentUser(c), req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message_id": c.Param("id"), "status": status})
}
