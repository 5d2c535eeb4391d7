package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmchat/internal/middleware"
	"github.com/dmchat/internal/model"
	"github.com/dmchat/internal/service"
)

type MessageHandler struct {
	chats *service.ChatService
}

func NewMessageHandler(chats *service.ChatService) *MessageHandler {
	return &MessageHandler{chats: chats}
}

type mediaRequest struct {
	URL      string `json:"url" validate:"required,max=2048"`
	MIME     string `json:"mime" validate:"max=255"`
	Size     int64  `json:"size" validate:"gte=0"`
	Width    *int   `json:"width" validate:"omitempty,gte=0"`
	Height   *int   `json:"height" validate:"omitempty,gte=0"`
	Filename string `json:"filename" validate:"max=255"`
}

type sendRequest struct {
	Text          string        `json:"text" validate:"max=10000"`
	Media         *mediaRequest `json:"media" validate:"omitempty"`
	ReplyTo       *string       `json:"reply_to"`
	ForwardedFrom *string       `json:"forwarded_from"`
}

type editRequest struct {
	Text string `json:"text" validate:"max=10000"`
}

type reactRequest struct {
	Emoji string `json:"emoji" validate:"required,max=32"`
}

type forwardRequest struct {
	ChatID string `json:"chat_id" validate:"required"`
}

type receiptResponse struct {
	Updated int64 `json:"updated"`
}

type reactResponse struct {
	Added     bool             `json:"added"`
	Reactions []model.Reaction `json:"reactions"`
}

// List pages forward from ?cursor= (exclusive) with ?limit= items.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := h.chats.List(r.Context(), chi.URLParam(r, "chatId"), middleware.GetUserID(r.Context()),
		r.URL.Query().Get("cursor"), queryInt(r, "limit", service.DefaultPageSize))
	if err != nil {
		writeServiceError(w, "message.List", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decode(w, r, &req) {
		return
	}
	in := service.SendInput{Text: req.Text, ReplyTo: req.ReplyTo, ForwardedFrom: req.ForwardedFrom}
	if req.Media != nil {
		in.Media = &model.Media{
			URL:      req.Media.URL,
			MIME:     req.Media.MIME,
			Size:     req.Media.Size,
			Width:    req.Media.Width,
			Height:   req.Media.Height,
			Filename: req.Media.Filename,
		}
	}
	m, err := h.chats.Send(r.Context(), chi.URLParam(r, "chatId"), middleware.GetUserID(r.Context()), in)
	if err != nil {
		writeServiceError(w, "message.Send", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *MessageHandler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	n, err := h.chats.MarkDelivered(r.Context(), chi.URLParam(r, "chatId"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, "message.MarkDelivered", err)
		return
	}
	writeJSON(w, http.StatusOK, receiptResponse{Updated: n})
}

func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.chats.MarkRead(r.Context(), chi.URLParam(r, "chatId"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, "message.MarkRead", err)
		return
	}
	writeJSON(w, http.StatusOK, receiptResponse{Updated: n})
}

func (h *MessageHandler) Media(w http.ResponseWriter, r *http.Request) {
	items, err := h.chats.ListMedia(r.Context(), chi.URLParam(r, "chatId"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, "message.Media", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// Search takes ?q= and an optional ?chatId= scope.
func (h *MessageHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := h.chats.Search(r.Context(), middleware.GetUserID(r.Context()), q.Get("q"), q.Get("chatId"))
	if err != nil {
		writeServiceError(w, "message.Search", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := h.chats.Edit(r.Context(), chi.URLParam(r, "messageId"), middleware.GetUserID(r.Context()), req.Text)
	if err != nil {
		writeServiceError(w, "message.Edit", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Delete hides the message for the caller, or removes it for both
// participants with ?forEveryone=1.
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.chats.Remove(r.Context(), chi.URLParam(r, "messageId"), middleware.GetUserID(r.Context()), queryBool(r, "forEveryone"))
	if err != nil {
		writeServiceError(w, "message.Delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MessageHandler) React(w http.ResponseWriter, r *http.Request) {
	var req reactRequest
	if !decode(w, r, &req) {
		return
	}
	added, reactions, err := h.chats.React(r.Context(), chi.URLParam(r, "messageId"), middleware.GetUserID(r.Context()), req.Emoji)
	if err != nil {
		writeServiceError(w, "message.React", err)
		return
	}
	writeJSON(w, http.StatusOK, reactResponse{Added: added, Reactions: reactions})
}

func (h *MessageHandler) Forward(w http.ResponseWriter, r *http.Request) {
	var req forwardRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := h.chats.Forward(r.Context(), chi.URLParam(r, "messageId"), middleware.GetUserID(r.Context()), req.ChatID)
	if err != nil {
		writeServiceError(w, "message.Forward", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}
