// Package preview derives the short text shown for a conversation in a chat list.
package preview

import "github.com/dmchat/internal/model"

const (
	Deleted   = "🚫 Message deleted"
	EmptyText = "…"
	Image     = "📷 Photo"
	Video     = "🎥 Video"
	Audio     = "🎵 Audio"
	File      = "📎 File"
)

// Of returns the preview for m. It has no side effects.
func Of(m *model.Message) string {
	if m == nil {
		return model.PreviewPlaceholder
	}
	if m.IsDeleted {
		return Deleted
	}
	switch m.Kind {
	case model.KindText:
		if m.Text == nil || *m.Text == "" {
			return EmptyText
		}
		return *m.Text
	case model.KindImage:
		return Image
	case model.KindVideo:
		return Video
	case model.KindAudio:
		return Audio
	case model.KindFile:
		return fileLabel(m)
	}
	return fileLabel(m)
}

func fileLabel(m *model.Message) string {
	if m.Media != nil && m.Media.Filename != "" {
		return m.Media.Filename
	}
	return File
}
