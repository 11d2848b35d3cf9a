package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zentrochat/zentro/internal/localstore"
	"github.com/zentrochat/zentro/internal/models"
	"github.com/zentrochat/zentro/internal/push"
	"github.com/zentrochat/zentro/pkg/apperr"
)

type PushSubscriptions interface {
	SavePushSubscription(ctx context.Context, userID string, sub models.PushSubscription, now time.Time) error
}

// LocalHandler serves per-user device state, the block and report lists,
// and Web Push registration.
type LocalHandler struct {
	store    *localstore.Store
	safety   *localstore.SafetyList
	notifier *push.Notifier
	subs     PushSubscriptions
}

func NewLocalHandler(store *localstore.Store, safety *localstore.SafetyList, notifier *push.Notifier, subs PushSubscriptions) *LocalHandler {
	return &LocalHandler{store: store, safety: safety, notifier: notifier, subs: subs}
}

type SetLocalRequest struct {
	Value json.RawMessage `json:"value" binding:"required"`
}

type ReportRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	MessageID string `json:"message_id"`
	Reason    string `json:"reason" binding:"required"`
}

type PushSubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Keys     struct {
		P256dh string `json:"p256dh" binding:"required"`
		Auth   string `json:"auth" binding:"required"`
	} `json:"keys"`
}

// clientNamespace returns the namespace from the path if clients may
// write it directly. Blocks and reports go through their own routes.
func clientNamespace(c *gin.Context) (string, error) {
	ns := c.Param("namespace")
	switch ns {
	case localstore.Drafts, localstore.Themes, localstore.Queues:
		return ns, nil
	}
	return "", fmt.Errorf("%w: unknown namespace %q", apperr.ErrValidation, ns)
}

func (h *LocalHandler) ListLocal(c *gin.Context) {
	ns, err := clientNamespace(c)
	if err != nil {
		respondError(c, err)
		return
	}
	prefix := localstore.UserKey(currentUser(c), "")
	keys, err := h.store.Keys(ns, prefix)
	if err != nil {
		respondError(c, err)
		return
	}
	for i := range keys {
		keys[i] = strings.TrimPrefix(keys[i], prefix)
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

func (h *LocalHandler) GetLocal(c *gin.Context) {
	ns, err := clientNamespace(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var value json.RawMessage
	if err := h.store.Get(ns, localstore.UserKey(currentUser(c), c.Param("key")), &value); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": c.Param("key"), "value": value})
}

func (h *LocalHandler) SetLocal(c *gin.Context) {
	ns, err := clientNamespace(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req SetLocalRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.store.Set(ns, localstore.UserKey(currentUser(c), c.Param("key")), req.Value); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *LocalHandler) RemoveLocal(c *gin.Context) {
	ns, err := clientNamespace(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.store.Remove(ns, localstore.UserKey(currentUser(c), c.Param("key"))); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *LocalHandler) ListBlocks(c *gin.Context) {
	records, err := h.safety.Blocked(currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocked": records})
}

func (h *LocalHandler) Block(c *gin.Context) {
	if err := h.safety.Block(currentUser(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *LocalHandler) Unblock(c *gin.Context) {
	if err := h.safety.Unblock(currentUser(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *LocalHandler) Report(c *gin.Context) {
	var req ReportRequest
	if !bindJSON(c, &req) {
		return
	}
	report, err := h.safety.Report(currentUser(c), req.UserID, req.MessageID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, report)
}

// VAPIDKey returns the public key browsers subscribe with. An empty key
// means push is disabled on this server.
func (h *LocalHandler) VAPIDKey(c *gin.Context) {
	key := h.notifier.VAPIDPublicKey()
	c.JSON(http.StatusOK, gin.H{"public_key": key, "enabled": key != ""})
}

func (h *LocalHandler) Subscribe(c *gin.Context) {
	var req PushSubscribeRequest
	if !bindJSON(c, &req) {
		return
	}
	if u, err := url.Parse(req.Endpoint); err != nil || u.Scheme != "https" || u.Host == "" {
		abortWithError(c, http.StatusBadRequest, "invalid push endpoint")
		return
	}
	sub := models.PushSubscription{Endpoint: req.Endpoint, KeyP256dh: req.Keys.P256dh, KeyAuth: req.Keys.Auth}
	if err := h.subs.SavePushSubscription(c.Request.Context(), currentUser(c), sub, time.Now().UTC()); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}
