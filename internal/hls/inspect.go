package hls

import (
	"strings"

	"github.com/grafov/m3u8"
)

// PlaylistInfo summarizes a playlist for logging and metrics.
type PlaylistInfo struct {
	Type     string // "master", "media" or "unknown"
	Variants int
	Segments int
}

// Inspect parses text leniently to tell master playlists from media
// playlists. It is diagnostic only; rewriting never depends on it.
func Inspect(text string) PlaylistInfo {
	p, listType, err := m3u8.DecodeFrom(strings.NewReader(text), false)
	if err != nil || p == nil {
		return PlaylistInfo{Type: "unknown"}
	}
	switch listType {
	case m3u8.MASTER:
		master, ok := p.(*m3u8.MasterPlaylist)
		if !ok {
			break
		}
		return PlaylistInfo{Type: "master", Variants: len(master.Variants)}
	case m3u8.MEDIA:
		media, ok := p.(*m3u8.MediaPlaylist)
		if !ok {
			break
		}
		return PlaylistInfo{Type: "media", Segments: int(media.Count())}
	}
	return PlaylistInfo{Type: "unknown"}
}
