package model

import "time"

type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Name         string     `json:"name"`
	AvatarURL    string     `json:"avatar_url"`
	IsOnline     bool       `json:"is_online"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
	ShowLastSeen bool       `json:"show_last_seen"`
	StatusText   string     `json:"status_text"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Profile is the public view of a user attached to chats and messages.
type Profile struct {
	ID         string     `json:"id"`
	Username   string     `json:"username"`
	Name       string     `json:"name"`
	AvatarURL  string     `json:"avatar_url"`
	IsOnline   bool       `json:"is_online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	StatusText string     `json:"status_text,omitempty"`
}

// ToProfile hides last_seen_at when the user turned it off.
func (u *User) ToProfile() Profile {
	p := Profile{
		ID:         u.ID,
		Username:   u.Username,
		Name:       u.Name,
		AvatarURL:  u.AvatarURL,
		IsOnline:   u.IsOnline,
		StatusText: u.StatusText,
	}
	if u.ShowLastSeen {
		p.LastSeenAt = u.LastSeenAt
	}
	return p
}

// ProfileUpdate carries only the fields the caller supplied.
type ProfileUpdate struct {
	Username     *string
	Name         *string
	AvatarURL    *string
	StatusText   *string
	ShowLastSeen *bool
}

func (u ProfileUpdate) Empty() bool {
	return u.Username == nil && u.Name == nil && u.AvatarURL == nil && u.StatusText == nil && u.ShowLastSeen == nil
}

// PushSubscription is a browser Web Push subscription.
type PushSubscription struct {
	Endpoint string `json:"endpoint" validate:"required,url"`
	Keys     PushKeys `json:"keys"`
}

type PushKeys struct {
	P256dh string `json:"p256dh" validate:"required"`
	Auth   string `json:"auth" validate:"required"`
}
