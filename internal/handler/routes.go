package handler

import "github.com/go-chi/chi/v5"

// API groups the handlers mounted under /api. Authentication and
// provisioning are applied by the caller.
type API struct {
	Users    *UserHandler
	Chats    *ChatHandler
	Messages *MessageHandler
	Push     *PushHandler
}

func (a *API) Routes(r chi.Router) {
	r.Get("/users/me", a.Users.GetMe)
	r.Put("/users/me", a.Users.UpdateMe)
	r.Get("/users/{username}", a.Users.GetByUsername)

	r.Route("/chats", func(r chi.Router) {
		r.Get("/", a.Chats.List)
		r.Post("/dm", a.Chats.CreateDirect)
		r.Get("/by-username/{username}", a.Chats.ByUsername)
		r.Post("/{chatId}/pin", a.Chats.Pin)
		r.Post("/{chatId}/unpin", a.Chats.Unpin)
		r.Patch("/{chatId}/meta", a.Chats.UpdateMeta)
	})

	r.Route("/messages", func(r chi.Router) {
		r.Get("/search/all", a.Messages.Search)
		r.Put("/item/{messageId}", a.Messages.Edit)
		r.Delete("/item/{messageId}", a.Messages.Delete)
		r.Post("/item/{messageId}/react", a.Messages.React)
		r.Post("/item/{messageId}/forward", a.Messages.Forward)
		r.Get("/{chatId}", a.Messages.List)
		r.Post("/{chatId}", a.Messages.Send)
		r.Post("/{chatId}/delivered", a.Messages.MarkDelivered)
		r.Post("/{chatId}/read", a.Messages.MarkRead)
		r.Get("/{chatId}/media", a.Messages.Media)
	})

	if a.Push != nil {
		r.Get("/push/vapid", a.Push.VAPIDPublicKey)
		r.Post("/push/subscribe", a.Push.Subscribe)
		r.Delete("/push/subscribe", a.Push.Unsubscribe)
	}
}
