package model

import (
	"strings"
	"time"
)

// Kind is the closed set of message kinds.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
	KindFile  Kind = "file"
)

// Kinds lists every Kind; switches over Kind must cover all of them.
var Kinds = []Kind{KindText, KindImage, KindVideo, KindAudio, KindFile}

func (k Kind) Valid() bool {
	switch k {
	case KindText, KindImage, KindVideo, KindAudio, KindFile:
		return true
	}
	return false
}

// KindOf classifies a message by its media MIME type.
func KindOf(media *Media) Kind {
	if media == nil {
		return KindText
	}
	mime := strings.ToLower(strings.TrimSpace(media.MIME))
	switch {
	case strings.HasPrefix(mime, "video/"):
		return KindVideo
	case strings.HasPrefix(mime, "image/"):
		return KindImage
	case strings.HasPrefix(mime, "audio/"):
		return KindAudio
	default:
		return KindFile
	}
}

// Media is an opaque reference to bytes kept in the blob store.
type Media struct {
	URL      string `json:"url"`
	MIME     string `json:"mime"`
	Size     int64  `json:"size"`
	Width    *int   `json:"width,omitempty"`
	Height   *int   `json:"height,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type Reaction struct {
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
}

type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"chat_id"`
	SenderID       string     `json:"sender_id"`
	Kind           Kind       `json:"type"`
	Text           *string    `json:"text"`
	Media          *Media     `json:"media,omitempty"`
	DeliveredTo    []string   `json:"delivered_to"`
	ReadBy         []string   `json:"read_by"`
	Reactions      []Reaction `json:"reactions"`
	ReplyTo        *string    `json:"reply_to,omitempty"`
	ForwardedFrom  *string    `json:"forwarded_from,omitempty"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
	IsDeleted      bool       `json:"is_deleted"`
	DeletedFor     []string   `json:"deleted_for,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	Sender         *Profile   `json:"sender,omitempty"`
}

// HiddenFor reports whether userID deleted the message for themselves.
func (m *Message) HiddenFor(userID string) bool {
	for _, id := range m.DeletedFor {
		if id == userID {
			return true
		}
	}
	return false
}

// MessagePage is one page of a conversation log. NextCursor is nil for an empty page.
type MessagePage struct {
	Items      []Message `json:"items"`
	NextCursor *string   `json:"next_cursor"`
}
