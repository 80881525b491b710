package media

import (
	"context"
	"fmt"
	"mime"
	"path"
	"strings"

	"botflow/internal/model"
)

// Extractor derives media metadata from stored message records.
// Implements the engine's MediaProcessor interface.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// ExtractMediaInfo classifies a stored message's attachment
func (e *Extractor) ExtractMediaInfo(_ context.Context, m *model.StoredMessage) (*model.MediaInfo, error) {
	if m.MediaType == "" && m.MediaURL == "" {
		return nil, fmt.Errorf("message %s has no media", m.ID)
	}

	info := &model.MediaInfo{
		Kind: normalizeKind(m.MediaType),
		URL:  m.MediaURL,
	}
	if m.MediaURL != "" {
		info.Filename = path.Base(m.MediaURL)
		if ext := path.Ext(info.Filename); ext != "" {
			info.MimeType = mime.TypeByExtension(ext)
		}
	}
	if info.Kind == "" {
		info.Kind = kindFromMime(info.MimeType)
	}
	if info.Kind == "" {
		return nil, fmt.Errorf("message %s: cannot determine media kind", m.ID)
	}
	return info, nil
}

func normalizeKind(mediaType string) string {
	switch strings.ToLower(mediaType) {
	case "image", "sticker":
		return "image"
	case "video":
		return "video"
	case "audio", "ptt", "voice":
		return "audio"
	case "document", "application":
		return "document"
	}
	return ""
}

func kindFromMime(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	case mimeType != "":
		return "document"
	}
	return ""
}
