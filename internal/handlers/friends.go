package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zentrochat/zentro/internal/friends"
	"github.com/zentrochat/zentro/internal/models"
)

type FriendHandler struct {
	friends *friends.Service
}

func NewFriendHandler(friendSvc *friends.Service) *FriendHandler {
	return &FriendHandler{friends: friendSvc}
}

type FriendRequestBody struct {
	UserID string `json:"user_id" binding:"required"`
}

// queryLimit reads ?limit=, falling back to 0 (the service default) when
// missing or malformed.
func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

func (h *FriendHandler) SearchUsers(c *gin.Context) {
	users, err := h.friends.Search(c.Request.Context(), c.Query("q"), currentUser(c), queryLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *FriendHandler) ListFriends(c *gin.Context) {
	list, err := h.friends.Friends(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if list == nil {
		list = []models.Friend{}
	}
	c.JSON(http.StatusOK, gin.H{"friends": list})
}

func (h *FriendHandler) RemoveFriend(c *gin.Context) {
	if err := h.friends.Remove(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *FriendHandler) Status(c *gin.Context) {
	status, err := h.friends.Status(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (h *FriendHandler) Suggestions(c *gin.Context) {
	profiles, err := h.friends.Suggestions(c.Request.Context(), currentUser(c), queryLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": profiles})
}

// ListRequests returns pending requests in both directions.
func (h *FriendHandler) ListRequests(c *gin.Context) {
	ctx := c.Request.Context()
	userID := currentUser(c)

	incoming, err := h.friends.Incoming(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	outgoing, err := h.friends.Outgoing(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if incoming == nil {
		incoming = []models.FriendRequest{}
	}
	if outgoing == nil {
		outgoing = []models.FriendRequest{}
	}
	c.JSON(http.StatusOK, gin.H{"incoming": incoming, "outgoing": outgoing})
}

func (h *FriendHandler) SendRequest(c *gin.Context) {
	var req FriendRequestBody
	if !bindJSON(c, &req) {
		return
	}
	fr, err := h.friends.SendRequest(c.Request.Context(), currentUser(c), req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, fr)
}

func (h *FriendHandler) AcceptRequest(c *gin.Context) {
	fr, err := h.friends.Accept(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, fr)
}

func (h *FriendHandler) RejectRequest(c *gin.Context) {
	fr, err := h.friends.Reject(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, fr)
}

func (h *FriendHandler) CancelRequest(c *gin.Context) {
	if err := h.friends.Cancel(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
