package cookies

import (
	"net"
	"net/url"
	"strings"
)

// canonicalHost returns the lowercased host of u without port or trailing dot.
func canonicalHost(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	return strings.TrimSuffix(host, ".")
}

func isIP(host string) bool {
	return net.ParseIP(host) != nil
}

func requestPath(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		return "/"
	}
	return p
}

// defaultPath is the directory of the request path (RFC 6265 section 5.1.4).
func defaultPath(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/"
	}
	return p[:i]
}

// domainMatch applies host-only or suffix matching depending on how the
// cookie was set.
func domainMatch(c *Cookie, host string) bool {
	if c.Domain == host {
		return true
	}
	if c.HostOnly || isIP(host) {
		return false
	}
	return strings.HasSuffix(host, "."+c.Domain)
}

// pathMatch implements RFC 6265 section 5.1.4 path-match.
func pathMatch(cookiePath, reqPath string) bool {
	if cookiePath == reqPath {
		return true
	}
	if !strings.HasPrefix(reqPath, cookiePath) {
		return false
	}
	if strings.HasSuffix(cookiePath, "/") {
		return true
	}
	return reqPath[len(cookiePath)] == '/'
}
