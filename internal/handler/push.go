package handler

import (
	"context"
	"net/http"

	"github.com/dmchat/internal/middleware"
	"github.com/dmchat/internal/model"
)

// SubscriptionWriter stores browser push subscriptions.
type SubscriptionWriter interface {
	SaveSubscription(ctx context.Context, userID string, sub model.PushSubscription) error
	RemoveSubscription(ctx context.Context, userID, endpoint string) error
}

type PushHandler struct {
	subs      SubscriptionWriter
	publicKey string
}

// NewPushHandler serves subscriptions. An empty publicKey means push is disabled.
func NewPushHandler(subs SubscriptionWriter, publicKey string) *PushHandler {
	return &PushHandler{subs: subs, publicKey: publicKey}
}

// subscribeRequest is the body sent with PushManager.subscribe() output.
type subscribeRequest struct {
	Subscription model.PushSubscription `json:"subscription"`
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint" validate:"required"`
}

func (h *PushHandler) VAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	if h.publicKey == "" {
		writeError(w, http.StatusServiceUnavailable, "push not configured", "push_disabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.publicKey})
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.subs.SaveSubscription(r.Context(), middleware.GetUserID(r.Context()), req.Subscription); err != nil {
		writeServiceError(w, "push.Subscribe", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.subs.RemoveSubscription(r.Context(), middleware.GetUserID(r.Context()), req.Endpoint); err != nil {
		writeServiceError(w, "push.Unsubscribe", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
