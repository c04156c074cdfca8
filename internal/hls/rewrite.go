package hls

import (
	"net/url"
	"strings"

	"hls-relay/internal/credentials"
)

// LineKind classifies a single playlist line.
type LineKind int

const (
	LineBlank LineKind = iota
	LineComment
	LineURI
)

// ClassifyLine reports whether line is blank, a comment/tag, or a URI.
// Surrounding whitespace is ignored.
func ClassifyLine(line string) LineKind {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		return LineBlank
	case strings.HasPrefix(trimmed, "#"):
		return LineComment
	default:
		return LineURI
	}
}

// RewriteContext carries what is needed to rewrite one playlist: the URL the
// playlist was fetched from, the path proxy links are built on, and the
// session credentials that nested requests must carry.
//
// With nil Credentials, links take the form
//
//	<ProxyBase>?url=<escaped absolute URL>
//
// otherwise
//
//	<ProxyBase>/segment?segmentUrl=<escaped absolute URL>&cookies=<token>
type RewriteContext struct {
	Origin      *url.URL
	ProxyBase   string
	Credentials *credentials.Bundle
}

// Rewrite returns text with every URI line replaced by a proxy link. Blank
// lines and comment/tag lines are copied byte for byte, as is any URI line
// that cannot be resolved to an http(s) URL. Line endings are preserved.
// Rewrite has no side effects and never fails.
//
// Applying Rewrite to its own output routes links through the proxy twice.
func (rc *RewriteContext) Rewrite(text string) string {
	var token string
	if rc.Credentials != nil {
		token = credentials.Encode(*rc.Credentials)
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if ClassifyLine(line) != LineURI {
			continue
		}
		body, eol := line, ""
		if strings.HasSuffix(body, "\r") {
			body, eol = body[:len(body)-1], "\r"
		}
		abs, ok := rc.resolve(strings.TrimSpace(body))
		if !ok {
			continue
		}
		lines[i] = rc.link(abs, token) + eol
	}
	return strings.Join(lines, "\n")
}

// resolve returns the absolute URL a playlist reference points at.
func (rc *RewriteContext) resolve(ref string) (string, bool) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	if rc.Origin != nil {
		u = rc.Origin.ResolveReference(u)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	return u.String(), true
}

func (rc *RewriteContext) link(abs, token string) string {
	if rc.Credentials == nil {
		return rc.ProxyBase + "?url=" + url.QueryEscape(abs)
	}
	return rc.ProxyBase + "/segment?segmentUrl=" + url.QueryEscape(abs) + "&cookies=" + url.QueryEscape(token)
}
