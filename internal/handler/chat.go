package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmchat/internal/middleware"
	"github.com/dmchat/internal/model"
	"github.com/dmchat/internal/service"
)

type ChatHandler struct {
	chats *service.ChatService
}

func NewChatHandler(chats *service.ChatService) *ChatHandler {
	return &ChatHandler{chats: chats}
}

type createDirectRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type metaRequest struct {
	Pinned   *bool `json:"pinned"`
	Muted    *bool `json:"muted"`
	Archived *bool `json:"archived"`
}

// CreateDirect answers 201 when the conversation was created by this call and
// 200 when it already existed.
func (h *ChatHandler) CreateDirect(w http.ResponseWriter, r *http.Request) {
	var req createDirectRequest
	if !decode(w, r, &req) {
		return
	}
	c, created, err := h.chats.FindOrCreateDirect(r.Context(), middleware.GetUserID(r.Context()), req.UserID)
	if err != nil {
		writeServiceError(w, "chat.CreateDirect", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, c)
}

func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.chats.ListConversations(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, "chat.List", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ByUsername finds the conversation with a user; ?create=1 creates it.
func (h *ChatHandler) ByUsername(w http.ResponseWriter, r *http.Request) {
	c, created, err := h.chats.FindOrCreateDirectByUsername(r.Context(),
		middleware.GetUserID(r.Context()), chi.URLParam(r, "username"), queryBool(r, "create"))
	if err != nil {
		writeServiceError(w, "chat.ByUsername", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, c)
}

func (h *ChatHandler) Pin(w http.ResponseWriter, r *http.Request) {
	m, err := h.chats.Pin(r.Context(), chi.URLParam(r, "chatId"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, "chat.Pin", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *ChatHandler) Unpin(w http.ResponseWriter, r *http.Request) {
	m, err := h.chats.Unpin(r.Context(), chi.URLParam(r, "chatId"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, "chat.Unpin", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *ChatHandler) UpdateMeta(w http.ResponseWriter, r *http.Request) {
	var req metaRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := h.chats.SetMeta(r.Context(), chi.URLParam(r, "chatId"), middleware.GetUserID(r.Context()), model.MetaUpdate{
		Pinned:   req.Pinned,
		Muted:    req.Muted,
		Archived: req.Archived,
	})
	if err != nil {
		writeServiceError(w, "chat.UpdateMeta", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
