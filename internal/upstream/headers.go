package upstream

import (
	"fmt"
	"net/http"
	"strings"

	"hls-relay/internal/credentials"
)

// HeaderPolicy selects which identity headers reach the origin.
type HeaderPolicy int

const (
	// PolicyForward passes the client's own User-Agent, Referer and Cookie.
	PolicyForward HeaderPolicy = iota
	// PolicyFixed sends a configured User-Agent/Referer pair and drops the
	// client's identity headers.
	PolicyFixed
)

func (p HeaderPolicy) String() string {
	if p == PolicyFixed {
		return "fixed"
	}
	return "forward"
}

// ParseHeaderPolicy accepts "forward" or "fixed".
func ParseHeaderPolicy(s string) (HeaderPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "forward":
		return PolicyForward, nil
	case "fixed":
		return PolicyFixed, nil
	default:
		return PolicyForward, fmt.Errorf("unknown header policy %q", s)
	}
}

// DefaultUserAgent is the fixed identity used when none is configured.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Identity is a fixed browser fingerprint presented to origins.
type Identity struct {
	UserAgent string
	Referer   string
}

// Header builds the request headers for one upstream fetch. Every fetch on a
// stream path goes through here so that playlists, sub-playlists and segments
// carry identical identity headers.
//
// Range is always forwarded. Identity headers follow the configured policy,
// and a non-nil bundle then takes precedence: its cookies replace any Cookie
// header and its User-Agent/Referer, when set, replace the policy's.
func (f *Fetcher) Header(client http.Header, bundle *credentials.Bundle) http.Header {
	out := make(http.Header)
	if v := client.Get("Range"); v != "" {
		out.Set("Range", v)
	}

	switch f.opts.Policy {
	case PolicyFixed:
		ua := f.opts.Identity.UserAgent
		if ua == "" {
			ua = DefaultUserAgent
		}
		out.Set("User-Agent", ua)
		if f.opts.Identity.Referer != "" {
			out.Set("Referer", f.opts.Identity.Referer)
		}
	default:
		for _, k := range []string{"User-Agent", "Referer", "Cookie"} {
			if v := client.Get(k); v != "" {
				out.Set(k, v)
			}
		}
	}

	if bundle != nil {
		out.Del("Cookie")
		if c := bundle.CookieHeader(); c != "" {
			out.Set("Cookie", c)
		}
		if bundle.UserAgent != "" {
			out.Set("User-Agent", bundle.UserAgent)
		}
		if bundle.Referer != "" {
			out.Set("Referer", bundle.Referer)
		}
	}
	return out
}
