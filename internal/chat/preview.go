package chat

import (
	"strings"

	"github.com/roach88/chatsync/internal/media"
)

// Preview returns the conversation preview for a message.
func Preview(text string, m *Media) string {
	if m == nil {
		return text
	}
	caption := strings.TrimSpace(text)
	switch m.Type {
	case media.KindImage:
		if caption != "" {
			return "📷 " + caption
		}
		return "Sent an image"
	case media.KindVideo:
		if caption != "" {
			return "🎥 " + caption
		}
		return "Sent a video"
	case media.KindGIF:
		return "GIF"
	case media.KindDocument:
		if caption != "" {
			return "📄 " + caption
		}
		name := m.FileName
		if name == "" {
			name = "Document"
		}
		return "Sent a file: " + name
	}
	return text
}

// contentKind labels a message for metrics.
func contentKind(m *Media) string {
	if m == nil {
		return "text"
	}
	return string(m.Type)
}
