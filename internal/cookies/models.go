package cookies

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Cookie represents a stored cookie with all attributes.
type Cookie struct {
	ID        string    `json:"id,omitempty"`
	Domain    string    `json:"domain"`
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	Secure    bool      `json:"secure"`
	HttpOnly  bool      `json:"http_only"`
	HostOnly  bool      `json:"host_only"`
	Expires   time.Time `json:"expires"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key identifies a cookie. Two cookies with the same key are the same cookie.
type Key struct {
	Domain string
	Path   string
	Name   string
}

// Key returns the identity of the cookie.
func (c *Cookie) Key() Key {
	return Key{Domain: c.Domain, Path: c.Path, Name: c.Name}
}

// IsExpired returns true if the cookie has expired.
func (c *Cookie) IsExpired() bool {
	return c.ExpiredAt(time.Now())
}

// ExpiredAt reports whether the cookie is expired at now.
func (c *Cookie) ExpiredAt(now time.Time) bool {
	if c.Expires.IsZero() {
		return false // Session cookie, never expires
	}
	return !c.Expires.After(now)
}

// IsSession returns true if this is a session cookie (no expiration).
func (c *Cookie) IsSession() bool {
	return c.Expires.IsZero()
}

// Matches reports whether the cookie should be sent with a request to u at now.
func (c *Cookie) Matches(u *url.URL, now time.Time) bool {
	if c.ExpiredAt(now) {
		return false
	}
	if c.Secure && !strings.EqualFold(u.Scheme, "https") {
		return false
	}
	if !domainMatch(c, canonicalHost(u)) {
		return false
	}
	return pathMatch(c.Path, requestPath(u))
}

// ToHTTPCookie converts to standard http.Cookie.
func (c *Cookie) ToHTTPCookie() *http.Cookie {
	hc := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
		Expires:  c.Expires,
	}
	if !c.HostOnly {
		hc.Domain = c.Domain
	}
	return hc
}

// FromHTTPCookie creates a Cookie from an http.Cookie received in a response
// to a request for u. Domain and path defaulting follow RFC 6265.
func FromHTTPCookie(u *url.URL, hc *http.Cookie, now time.Time) *Cookie {
	host := canonicalHost(u)

	domain := strings.ToLower(strings.TrimPrefix(hc.Domain, "."))
	hostOnly := domain == ""
	if hostOnly {
		domain = host
	}

	path := hc.Path
	if path == "" || path[0] != '/' {
		path = defaultPath(u)
	}

	// Calculate expiration
	expires := hc.Expires
	switch {
	case hc.MaxAge > 0:
		expires = now.Add(time.Duration(hc.MaxAge) * time.Second)
	case hc.MaxAge < 0:
		// MaxAge < 0 means delete cookie immediately
		expires = time.Unix(0, 0)
	}

	return &Cookie{
		Domain:    domain,
		Path:      path,
		Name:      hc.Name,
		Value:     hc.Value,
		Secure:    hc.Secure,
		HttpOnly:  hc.HttpOnly,
		HostOnly:  hostOnly,
		Expires:   expires,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Header renders cookies in Cookie request header form: "a=1; b=2".
func Header(cs []*Cookie) string {
	var b strings.Builder
	for i, c := range cs {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(c.Name)
		b.WriteByte('=')
		b.WriteString(c.Value)
	}
	return b.String()
}
