package credentials

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedToken is returned by Decode when a token is not a valid encoding
// of a Bundle.
var ErrMalformedToken = errors.New("malformed credential token")

// Cookie is a single name/value pair captured from an upstream session.
type Cookie struct {
	Name  string `json:"n"`
	Value string `json:"v"`
}

// Bundle is the set of session credentials needed to fetch resources of one
// upstream stream. It is carried inside proxy URLs and holds no server state.
// Cookie order is significant and preserved.
//
// Names and values must be valid UTF-8, as cookies read from a browser always
// are. Encode replaces invalid bytes with U+FFFD, so such values do not
// survive a round trip.
type Bundle struct {
	Cookies   []Cookie `json:"c,omitempty"`
	UserAgent string   `json:"ua,omitempty"`
	Referer   string   `json:"ref,omitempty"`
}

// CookieHeader renders the cookies as a Cookie request header value.
// Returns "" for a bundle without cookies.
func (b *Bundle) CookieHeader() string {
	if b == nil || len(b.Cookies) == 0 {
		return ""
	}
	parts := make([]string, 0, len(b.Cookies))
	for _, c := range b.Cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// Encode serializes b into an opaque URL-safe token (JSON, base64url without
// padding). The alphabet needs no further escaping inside a query string.
func Encode(b Bundle) string {
	// Marshal cannot fail for this type.
	raw, _ := json.Marshal(b)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode reverses Encode.
func Decode(token string) (Bundle, error) {
	var b Bundle
	if token == "" {
		return b, fmt.Errorf("%w: empty", ErrMalformedToken)
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return b, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if err := json.Unmarshal(raw, &b); err != nil {
		return b, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	for _, c := range b.Cookies {
		if c.Name == "" {
			return Bundle{}, fmt.Errorf("%w: cookie without name", ErrMalformedToken)
		}
	}
	return b, nil
}
