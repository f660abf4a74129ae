package audio

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultContentType is used when sniffing cannot name the audio type.
const DefaultContentType = "audio/mpeg"

// SniffMIME detects the MIME type of a file from its leading bytes.
// Parameters such as charset are stripped.
func SniffMIME(filePath string) (string, error) {
	m, err := mimetype.DetectFile(filePath)
	if err != nil {
		return "", err
	}
	mime, _, _ := strings.Cut(m.String(), ";")
	return strings.TrimSpace(mime), nil
}

// IsTextMIME reports whether mime is a text/* type. Error pages and HTML
// saved in place of audio sniff as text.
func IsTextMIME(mime string) bool {
	return strings.HasPrefix(mime, "text/")
}

// SniffExtension returns the sniffed extension of a file without the dot,
// or "" when the content is not recognised.
func SniffExtension(filePath string) string {
	m, err := mimetype.DetectFile(filePath)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(m.Extension(), ".")
}

// KindFromMIME maps sniffed audio MIME types onto player kinds.
func KindFromMIME(mime string) (Kind, bool) {
	switch mime {
	case "audio/mpeg", "audio/mp3", "audio/x-mpeg", "audio/x-mp3":
		return KindMP3, true
	case "audio/ogg", "application/ogg", "audio/x-ogg":
		return KindOGG, true
	case "audio/wav", "audio/x-wav", "audio/vnd.wave", "audio/wave":
		return KindWAV, true
	case "audio/mp4", "audio/x-m4a", "audio/m4a", "video/mp4":
		return KindMP4, true
	case "audio/x-ms-wma":
		return KindWMA, true
	}
	return "", false
}

// ContentType returns the Content-Type to serve filePath with.
func ContentType(filePath string) string {
	mime, err := SniffMIME(filePath)
	if err != nil || mime == "" || mime == "application/octet-stream" {
		return DefaultContentType
	}
	return mime
}
