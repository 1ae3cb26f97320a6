// Package media decodes outbound attachments and stores them where the send API can fetch them.
package media

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vincent-petithory/dataurl"
)

// MaxSize is the largest attachment accepted, matching the provider's document limit.
const MaxSize = 100 << 20

// ErrInvalidPayload is returned for attachments that are malformed, empty or too large.
var ErrInvalidPayload = errors.New("invalid media payload")

// Payload is a decoded attachment.
type Payload struct {
	Data     []byte
	MimeType string
	FileName string
}

// Kind returns the send API media type: image, video, audio or document.
func (p Payload) Kind() string {
	return KindOf(p.MimeType)
}

// DecodeDataURL parses a "data:<mime>;base64,<data>" string.
func DecodeDataURL(raw, fileName string) (*Payload, error) {
	if !strings.HasPrefix(raw, "data:") {
		return nil, fmt.Errorf("%w: media must be a data URL", ErrInvalidPayload)
	}
	d, err := dataurl.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode data URL: %v", ErrInvalidPayload, err)
	}
	if len(d.Data) == 0 {
		return nil, fmt.Errorf("%w: media payload is empty", ErrInvalidPayload)
	}
	if len(d.Data) > MaxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidPayload, len(d.Data), MaxSize)
	}

	mimeType := d.MediaType.ContentType()
	if fileName == "" {
		fileName = "file" + Extension(mimeType)
	}
	return &Payload{Data: d.Data, MimeType: mimeType, FileName: fileName}, nil
}

// KindOf maps a MIME type to the send API media type.
func KindOf(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	default:
		return "document"
	}
}

// folder is the object-key folder for a MIME type.
func folder(mimeType string) string {
	switch KindOf(mimeType) {
	case "image":
		return "images"
	case "video":
		return "videos"
	case "audio":
		return "audio"
	default:
		return "documents"
	}
}

// Extension guesses a file extension from a MIME type.
func Extension(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "jpeg"), strings.Contains(mimeType, "jpg"):
		return ".jpg"
	case strings.Contains(mimeType, "png"):
		return ".png"
	case strings.Contains(mimeType, "gif"):
		return ".gif"
	case strings.Contains(mimeType, "webp"):
		return ".webp"
	case strings.Contains(mimeType, "mp4"):
		return ".mp4"
	case strings.Contains(mimeType, "webm"):
		return ".webm"
	case strings.Contains(mimeType, "ogg"):
		return ".ogg"
	case strings.Contains(mimeType, "opus"):
		return ".opus"
	case strings.Contains(mimeType, "mpeg"):
		return ".mp3"
	case strings.Contains(mimeType, "pdf"):
		return ".pdf"
	case strings.Contains(mimeType, "docx"), strings.Contains(mimeType, "wordprocessingml"):
		return ".docx"
	case strings.Contains(mimeType, "msword"):
		return ".doc"
	default:
		return ".bin"
	}
}
