package session

import (
	"net/http"
	"time"
)

// CookieOptions shapes the session cookie.
type CookieOptions struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	HttpOnly bool
	SameSite http.SameSite
}

// DefaultCookieOptions returns an HttpOnly, SameSite=Lax cookie named "id" scoped to "/".
func DefaultCookieOptions() CookieOptions {
	return CookieOptions{
		Name:     "id",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func (o CookieOptions) cookie(value string, ttl time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     o.Name,
		Value:    value,
		Path:     o.Path,
		Domain:   o.Domain,
		Secure:   o.Secure,
		HttpOnly: o.HttpOnly,
		SameSite: o.SameSite,
	}
	if ttl > 0 {
		c.MaxAge = int(ttl / time.Second)
		if c.MaxAge == 0 {
			c.MaxAge = 1
		}
	}
	return c
}

// removal returns a cookie that makes the browser drop the session cookie.
func (o CookieOptions) removal() *http.Cookie {
	c := o.cookie("", 0)
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)
	return c
}
