package hls

import (
	"mime"
	"net/url"
	"path"
	"strings"
)

// PlaylistContentType is the MIME type served for rewritten playlists.
const PlaylistContentType = "application/vnd.apple.mpegurl"

// Kind classifies a stream resource.
type Kind int

const (
	KindOther Kind = iota
	KindPlaylist
	KindSegment
)

func (k Kind) String() string {
	switch k {
	case KindPlaylist:
		return "playlist"
	case KindSegment:
		return "segment"
	default:
		return "other"
	}
}

// StreamReference is a target URL together with its classification.
type StreamReference struct {
	URL  *url.URL
	Kind Kind
}

// NewStreamReference classifies u by its path suffix. No network access.
func NewStreamReference(u *url.URL) StreamReference {
	return StreamReference{URL: u, Kind: Classify(u)}
}

// Classify returns the Kind implied by the path extension of u.
// Query strings and fragments are ignored.
func Classify(u *url.URL) Kind {
	if u == nil {
		return KindOther
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".m3u8":
		return KindPlaylist
	case ".ts":
		return KindSegment
	default:
		return KindOther
	}
}

// IsPlaylistContentType reports whether a Content-Type header value names an
// HLS playlist.
func IsPlaylistContentType(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch mt {
	case "application/vnd.apple.mpegurl", "application/x-mpegurl", "audio/mpegurl", "audio/x-mpegurl":
		return true
	}
	return false
}
