package session

import (
	"net/http"
	"strings"
	"time"
)

// DefaultCookieName is the cookie holding the session token.
const DefaultCookieName = "accessToken"

// Cookies sets and clears the session cookie. Secure cookies are sent with
// SameSite=None so a separately hosted frontend can use them.
type Cookies struct {
	Name   string
	Secure bool
	Domain string
}

func (c Cookies) name() string {
	if c.Name == "" {
		return DefaultCookieName
	}
	return c.Name
}

func (c Cookies) sameSite() http.SameSite {
	if c.Secure {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

func (c Cookies) Set(w http.ResponseWriter, tok Token) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(),
		Value:    tok.Value,
		Path:     "/",
		Domain:   c.Domain,
		Expires:  tok.ExpiresAt,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.sameSite(),
	})
}

func (c Cookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(),
		Value:    "",
		Path:     "/",
		Domain:   c.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.sameSite(),
	})
}

// TokenFromRequest reads the token from the `token` header, a bearer
// Authorization header, or the session cookie, in that order.
func (c Cookies) TokenFromRequest(r *http.Request) string {
	if tok := strings.TrimSpace(r.Header.Get("token")); tok != "" {
		return tok
	}
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	if ck, err := r.Cookie(c.name()); err == nil {
		return ck.Value
	}
	return ""
}
