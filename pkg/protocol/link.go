package protocol

import (
	"errors"
	"net/url"
)

// Share links pre-populate the receiver's join form:
// <base>?mode=receive&code=<code>. Convenience encoding only, not part of
// the relay protocol.
const linkModeReceive = "receive"

var ErrInvalidShareLink = errors.New("protocol: invalid share link")

// ShareLink encodes a receive link for code on top of base (the public URL
// of the page serving the receiver UI).
func ShareLink(base, code string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("mode", linkModeReceive)
	q.Set("code", code)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseShareLink extracts the session code from a receive link.
func ParseShareLink(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if q.Get("mode") != linkModeReceive || q.Get("code") == "" {
		return "", ErrInvalidShareLink
	}
	return q.Get("code"), nil
}
