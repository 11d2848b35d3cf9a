package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zentrochat/zentro/internal/groups"
	"github.com/zentrochat/zentro/internal/models"
	"github.com/zentrochat/zentro/pkg/apperr"
)

type GroupHandler struct {
	groups *groups.Service
}

func NewGroupHandler(groupSvc *groups.Service) *GroupHandler {
	return &GroupHandler{groups: groupSvc}
}

type JoinGroupRequest struct {
	Code string `json:"code" binding:"required"`
}

type AddMemberRequest struct {
	Username string `json:"username" binding:"required"`
}

type SetRolesRequest struct {
	Roles []models.Role `json:"roles"`
}

type AssignRoleRequest struct {
	RoleID string `json:"role_id"`
}

func (h *GroupHandler) respondGroup(c *gin.Context, status int, g *models.Group) {
	c.JSON(status, g.Redacted(currentUser(c)))
}

func (h *GroupHandler) respondGroups(c *gin.Context, list []models.Group) {
	out := make([]models.Group, 0, len(list))
	for _, g := range list {
		out = append(out, g.Redacted(currentUser(c)))
	}
	c.JSON(http.StatusOK, gin.H{"groups": out})
}

func (h *GroupHandler) ListGroups(c *gin.Context) {
	list, err := h.groups.ListForUser(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	h.respondGroups(c, list)
}

func (h *GroupHandler) SearchGroups(c *gin.Context) {
	list, err := h.groups.SearchPublic(c.Request.Context(), c.Query("q"))
	if err != nil {
		respondError(c, err)
		return
	}
	h.respondGroups(c, list)
}

func (h *GroupHandler) CreateGroup(c *gin.Context) {
	var req groups.CreateInput
	if !bindJSON(c, &req) {
		return
	}
	g, err := h.groups.Create(c.Request.Context(), currentUser(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	h.respondGroup(c, http.StatusCreated, g)
}

// GetGroup hides secret groups from non-members.
func (h *GroupHandler) GetGroup(c *gin.Context) {
	g, err := h.groups.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if g.Type == models.GroupSecret && !g.IsMember(currentUser(c)) {
		respondError(c, fmt.Errorf("%w: group not found", apperr.ErrNotFound))
		return
	}
	h.respondGroup(c, http.StatusOK, g)
}

func (h *GroupHandler) MyRole(c *gin.Context) {
	role, err := h.groups.MemberRole(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"role": role})
}

func (h *GroupHandler) JoinGroup(c *gin.Context) {
	var req JoinGroupRequest
	if !bindJSON(c, &req) {
		return
	}
	g, err := h.groups.Join(c.Request.Context(), req.Code, currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	h.respondGroup(c, http.StatusOK, g)
}

func (h *GroupHandler) UpdateGroup(c *gin.Context) {
	var req groups.UpdateInput
	if !bindJSON(c, &req) {
		return
	}
	g, err := h.groups.Update(c.Request.Context(), c.Param("id"), currentUser(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	h.respondGroup(c, http.StatusOK, g)
}

func (h *GroupHandler) DeleteGroup(c *gin.Context) {
	if err := h.groups.Delete(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *GroupHandler) LeaveGroup(c *gin.Context) {
	res, err := h.groups.Leave(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": res.Deleted, "new_owner_id": res.NewOwner})
}

func (h *GroupHandler) AddMember(c *gin.Context) {
	var req AddMemberRequest
	if !bindJSON(c, &req) {
		return
	}
	g, err := h.groups.AddMember(c.Request.Context(), c.Param("id"), currentUser(c), req.Username)
	if err != nil {
		respondError(c, err)
		return
	}
	h.respondGroup(c, http.StatusOK, g)
}

func (h *GroupHandler) RemoveMember(c *gin.Context) {
	g, err := h.groups.RemoveMember(c.Request.Context(), c.Param("id"), currentUser(c), c.Param("userId"))
	if err != nil {
		respondError(c, err)
		return
	}
	h.respondGroup(c, http.StatusOK, g)
}

func (h *GroupHandler) PromoteAdmin(c *gin.Context) {
	g, err := h.groups.PromoteAdmin(c.Request.Context(), c.Param("id"), currentUser(c), c.Param("userId"))
	if err != nil {
		respondError(c, err)
		return
	}
	h.respondGroup(c, http.StatusOK, g)
}

func (h *GroupHandler) DemoteAdmin(c *gin.Context) {
	g, err := h.groups.DemoteAdmin(c.Request.Context(), c.Param("id"), currentUser(c), c.Param("userId"))
	if err != nil {
		respondError(c, err)
		return
	}
	h.respondGroup(c, http.StatusOK, g)
}

func (h *GroupHandler) SetRoles(c *gin.Context) {
	var req SetRolesRequest
	if !bindJSON(c, &req) {
		return
	}
	g, err := h.groups.SetRoles(c.Request.Context(), c.Param("id"), currentUser(c), req.Roles)
	if err != nil {
		respondError(c, err)
		return
	}
	h.respondGroup(c, http.StatusOK, g)
}

func (h *GroupHandler) AssignRole(c *gin.Context) {
	var req AssignRoleRequest
	if !bindJSON(c, &req) {
		return
	}
	g, err := h.groups.AssignRole(c.Request.Context(), c.Param("id"), currentUser(c), c.Param("userId"), req.RoleID)
	if err != nil {
		respondError(c, err)
		return
	}
	h.respondGroup(c, http.StatusOK, g)
}

func (h *GroupHandler) AddBot(c *gin.Context) {
	added, err := h.groups.AddBot(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added})
}

func (h *GroupHandler) ClearMessages(c *gin.Context) {
	n, err := h.groups.ClearMessages(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}
