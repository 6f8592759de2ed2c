package cookies

import (
	"cmp"
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"
)

// Jar holds the cookies of one session, keyed by identity, and optionally
// bound to a Backend. It implements http.CookieJar.
type Jar struct {
	mu      sync.RWMutex
	entries map[Key]*Cookie
	backend Backend
	psl     cookiejar.PublicSuffixList
	now     func() time.Time
}

// JarOption configures a Jar.
type JarOption func(*Jar)

// WithClock overrides the time source used for expiry decisions.
func WithClock(now func() time.Time) JarOption {
	return func(j *Jar) {
		j.now = now
	}
}

// WithPublicSuffixList sets the list used to reject cookies scoped to a
// public suffix. A nil list disables the check.
func WithPublicSuffixList(list cookiejar.PublicSuffixList) JarOption {
	return func(j *Jar) {
		j.psl = list
	}
}

// NewJar creates an empty jar bound to backend. A nil backend makes the jar
// memory-only.
func NewJar(backend Backend, opts ...JarOption) *Jar {
	j := &Jar{
		entries: make(map[Key]*Cookie),
		backend: backend,
		psl:     publicsuffix.List,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// NewMemoryJar creates a jar that is never persisted.
func NewMemoryJar(opts ...JarOption) *Jar {
	return NewJar(nil, opts...)
}

// Load creates a jar bound to backend and fills it from the backend.
func Load(ctx context.Context, backend Backend, opts ...JarOption) (*Jar, error) {
	j := NewJar(backend, opts...)
	if err := j.Reload(ctx); err != nil {
		return nil, err
	}
	return j, nil
}

// Reload replaces the in-memory cookies with the backend contents.
func (j *Jar) Reload(ctx context.Context) error {
	if j.backend == nil {
		return nil
	}
	loaded, err := j.backend.Load(ctx)
	if err != nil {
		return err
	}

	entries := make(map[Key]*Cookie, len(loaded))
	for _, c := range loaded {
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		entries[c.Key()] = c
	}

	j.mu.Lock()
	j.entries = entries
	j.mu.Unlock()
	return nil
}

// Select returns copies of the cookies to send with a request to u, longest
// path first.
func (j *Jar) Select(u *url.URL) []*Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()

	now := j.now()
	var selected []*Cookie
	for _, c := range j.entries {
		if c.Matches(u, now) {
			cp := *c
			selected = append(selected, &cp)
		}
	}

	slices.SortFunc(selected, func(a, b *Cookie) int {
		if n := cmp.Compare(len(b.Path), len(a.Path)); n != 0 {
			return n
		}
		if n := a.CreatedAt.Compare(b.CreatedAt); n != 0 {
			return n
		}
		if n := cmp.Compare(a.Name, b.Name); n != 0 {
			return n
		}
		return cmp.Compare(a.Domain, b.Domain)
	})
	return selected
}

// Merge records cookies received in a response to a request for u. A cookie
// replaces any stored cookie with the same identity; a cookie whose expiry
// is in the past removes it. Cookies whose Domain attribute does not cover
// the request host are ignored. Merge returns the number of cookies applied.
func (j *Jar) Merge(u *url.URL, received []*http.Cookie) int {
	if len(received) == 0 {
		return 0
	}
	host := canonicalHost(u)

	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	applied := 0
	for _, hc := range received {
		if hc == nil || hc.Name == "" {
			continue
		}
		c := FromHTTPCookie(u, hc, now)
		if !j.acceptDomain(c, host) {
			continue
		}
		applied++

		key := c.Key()
		if c.ExpiredAt(now) {
			delete(j.entries, key)
			continue
		}
		if prev, ok := j.entries[key]; ok {
			c.ID = prev.ID
			c.CreatedAt = prev.CreatedAt
		} else {
			c.ID = uuid.New().String()
		}
		j.entries[key] = c
	}
	return applied
}

// acceptDomain validates the Domain attribute of c against the request host,
// downgrading to host-only where RFC 6265 requires it.
func (j *Jar) acceptDomain(c *Cookie, host string) bool {
	if c.HostOnly {
		return true
	}
	if isIP(host) {
		if c.Domain != host {
			return false
		}
		c.HostOnly = true
		return true
	}
	if c.Domain != host && !strings.HasSuffix(host, "."+c.Domain) {
		return false
	}
	if j.psl != nil && j.psl.PublicSuffix(c.Domain) == c.Domain {
		if c.Domain != host {
			return false
		}
		c.HostOnly = true
	}
	return true
}

// Persist writes the full jar to the backend. It is a no-op for a
// memory-only jar.
func (j *Jar) Persist(ctx context.Context) error {
	if j.backend == nil {
		return nil
	}
	return j.backend.Save(ctx, j.All())
}

// SetCookies implements http.CookieJar.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.Merge(u, cookies)
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	selected := j.Select(u)
	out := make([]*http.Cookie, 0, len(selected))
	for _, c := range selected {
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}

// All returns copies of every stored cookie, expired ones included, ordered
// by domain, path and name.
func (j *Jar) All() []*Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()

	all := make([]*Cookie, 0, len(j.entries))
	for _, c := range j.entries {
		cp := *c
		all = append(all, &cp)
	}
	slices.SortFunc(all, func(a, b *Cookie) int {
		if n := cmp.Compare(a.Domain, b.Domain); n != 0 {
			return n
		}
		if n := cmp.Compare(a.Path, b.Path); n != 0 {
			return n
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return all
}

// Len returns the number of stored cookies.
func (j *Jar) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

// Cleanup removes expired cookies and returns how many were removed.
func (j *Jar) Cleanup() int {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	removed := 0
	for k, c := range j.entries {
		if c.ExpiredAt(now) {
			delete(j.entries, k)
			removed++
		}
	}
	return removed
}

// Clear removes all cookies.
func (j *Jar) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = make(map[Key]*Cookie)
}

// ClearDomain removes all cookies stored for exactly domain.
func (j *Jar) ClearDomain(domain string) int {
	domain = strings.ToLower(strings.TrimPrefix(domain, "."))

	j.mu.Lock()
	defer j.mu.Unlock()

	removed := 0
	for k := range j.entries {
		if k.Domain == domain {
			delete(j.entries, k)
			removed++
		}
	}
	return removed
}

// Backend returns the backend the jar persists to, or nil.
func (j *Jar) Backend() Backend {
	return j.backend
}
