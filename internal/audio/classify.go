// Package audio classifies audio sources and sniffs cached audio files.
package audio

import (
	"net/url"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/dhowden/tag"
	"github.com/rs/zerolog/log"
)

// Kind is the player-facing audio type of a source.
type Kind string

const (
	KindMP3 Kind = "mp3"
	KindOGG Kind = "ogg"
	KindOGA Kind = "oga"
	KindWAV Kind = "wav"
	KindWMA Kind = "wma"
	KindMP4 Kind = "mp4"
	KindHLS Kind = "hls" // m3u/m3u8 stream manifests, never truncated
)

var (
	audioExtRe    = regexp.MustCompile(`(?i)\.(mp3|ogg|oga|wav|wma|mp4)$`)
	m4aExtRe      = regexp.MustCompile(`(?i)\.m4a$`)
	playlistExtRe = regexp.MustCompile(`(?i)\.m3u8?$`)
)

// cloudDriveHosts serve files behind opaque IDs, so the extension has to come
// from the stored file name instead of the URL.
var cloudDriveHosts = []string{"drive.google.com", "docs.google.com"}

// Classifier resolves the audio kind of a source URL or path.
type Classifier struct {
	// DefaultExtension treats otherwise unrecognised sources as mp3.
	DefaultExtension bool
}

// NewClassifier creates a classifier.
func NewClassifier(defaultExtension bool) *Classifier {
	return &Classifier{DefaultExtension: defaultExtension}
}

// Classify returns the audio kind of source, checking in order: the
// extension of the source path, the display name for cloud-drive sources,
// the container of a local file, and finally the default-extension flag.
// ok is false when the source must be excluded from the player.
func (c *Classifier) Classify(source, displayName string) (Kind, bool) {
	if kind, ok := KindFromExtension(sourcePath(source)); ok {
		return kind, true
	}

	if IsCloudDrive(source) && displayName != "" {
		if kind, ok := KindFromExtension(displayName); ok {
			return kind, true
		}
	}

	if local, ok := localPath(source); ok {
		if kind, ok := SniffKind(local); ok {
			return kind, true
		}
	}

	if c.DefaultExtension {
		return KindMP3, true
	}

	log.Debug().Str("source", source).Msg("Source is not a recognised audio file")
	return "", false
}

// KindFromExtension applies the extension rules to a file name or path.
func KindFromExtension(name string) (Kind, bool) {
	if m := audioExtRe.FindStringSubmatch(name); m != nil {
		return Kind(strings.ToLower(m[1])), true
	}
	if m4aExtRe.MatchString(name) {
		return KindMP4, true
	}
	if playlistExtRe.MatchString(name) {
		return KindHLS, true
	}
	return "", false
}

// IsPlaylist reports whether source points at an m3u/m3u8 manifest.
func IsPlaylist(source string) bool {
	return playlistExtRe.MatchString(sourcePath(source))
}

// IsCloudDrive reports whether source is hosted on a cloud drive.
func IsCloudDrive(source string) bool {
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range cloudDriveHosts {
		if host == h {
			return true
		}
	}
	return false
}

// SniffKind identifies the container of a local file.
func SniffKind(filePath string) (Kind, bool) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", false
	}
	defer f.Close()

	if _, fileType, err := tag.Identify(f); err == nil {
		switch fileType {
		case tag.MP3:
			return KindMP3, true
		case tag.OGG:
			return KindOGG, true
		case tag.M4A, tag.M4B, tag.ALAC:
			return KindMP4, true
		}
	}

	// Untagged streams have no marker tag.Identify knows about.
	mime, err := SniffMIME(filePath)
	if err != nil {
		return "", false
	}
	return KindFromMIME(mime)
}

// sourcePath strips scheme, host, query and fragment from URLs so that the
// extension rules only see the path.
func sourcePath(source string) string {
	u, err := url.Parse(source)
	if err != nil || u.Path == "" {
		return source
	}
	return u.Path
}

// localPath returns the filesystem path for file:// URLs and plain paths
// that exist on disk.
func localPath(source string) (string, bool) {
	p := source
	if strings.HasPrefix(source, "file://") {
		u, err := url.Parse(source)
		if err != nil {
			return "", false
		}
		p = u.Path
	} else if strings.Contains(source, "://") {
		return "", false
	}
	p = path.Clean(p)
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return "", false
	}
	return p, true
}
