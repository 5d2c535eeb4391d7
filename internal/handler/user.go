package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmchat/internal/middleware"
	"github.com/dmchat/internal/model"
	"github.com/dmchat/internal/service"
)

type UserHandler struct {
	users *service.UserService
}

func NewUserHandler(users *service.UserService) *UserHandler {
	return &UserHandler{users: users}
}

type updateMeRequest struct {
	Username     *string `json:"username" validate:"omitempty,min=3,max=32,excludesall=@/"`
	Name         *string `json:"name" validate:"omitempty,max=100"`
	AvatarURL    *string `json:"avatar_url" validate:"omitempty,max=2048"`
	StatusText   *string `json:"status_text" validate:"omitempty,max=140"`
	ShowLastSeen *bool   `json:"show_last_seen"`
}

func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.Me(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, "user.GetMe", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateMeRequest
	if !decode(w, r, &req) {
		return
	}
	u, err := h.users.UpdateMe(r.Context(), middleware.GetUserID(r.Context()), model.ProfileUpdate{
		Username:     req.Username,
		Name:         req.Name,
		AvatarURL:    req.AvatarURL,
		StatusText:   req.StatusText,
		ShowLastSeen: req.ShowLastSeen,
	})
	if err != nil {
		writeServiceError(w, "user.UpdateMe", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *UserHandler) GetByUsername(w http.ResponseWriter, r *http.Request) {
	p, err := h.users.UserByUsername(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeServiceError(w, "user.GetByUsername", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Provision mirrors the token subject into the user directory before any
// handler runs.
func Provision(users *service.UserService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := middleware.GetIdentity(r.Context())
			if err := users.Provision(r.Context(), id.UserID, id.Username, id.Name); err != nil {
				writeServiceError(w, "user.Provision", err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
