package cookies

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	mozillaHeader  = "# Netscape HTTP Cookie File"
	httpOnlyPrefix = "#HttpOnly_"
)

var mozillaMagic = regexp.MustCompile(`^#( Netscape)? HTTP Cookie File`)

// MozillaFile persists cookies in the Mozilla/Netscape cookies.txt format:
// one cookie per line with seven tab-separated fields (domain, include
// subdomains, path, secure, expiry, name, value).
type MozillaFile struct {
	path string
}

// NewMozillaFile returns a backend bound to path. The file need not exist.
func NewMozillaFile(path string) *MozillaFile {
	return &MozillaFile{path: path}
}

// Location returns the file path.
func (m *MozillaFile) Location() string {
	return m.path
}

// Load reads cookies from the file. A missing file yields no cookies.
func (m *MozillaFile) Load(ctx context.Context) ([]*Cookie, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cookie file %s: %w", m.path, err)
	}

	cookies, err := ParseMozilla(data, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.path, err)
	}
	return cookies, nil
}

// Save rewrites the file with cookies. The new content is written to a
// temporary file in the same directory and renamed over the old one.
func (m *MozillaFile) Save(ctx context.Context, cookies []*Cookie) error {
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create cookie directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(m.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary cookie file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(FormatMozilla(cookies)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write cookie file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync cookie file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close cookie file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("failed to set cookie file mode: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		return fmt.Errorf("failed to replace cookie file: %w", err)
	}
	return nil
}

// ParseMozilla parses cookies.txt content. Comment and blank lines are
// skipped; a #HttpOnly_ prefix marks the cookie HttpOnly. Any malformed line
// fails the whole parse with ErrStoreUnreadable.
func ParseMozilla(data []byte, now time.Time) ([]*Cookie, error) {
	var cookies []*Cookie
	sawHeader := false
	lineNo := 0

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")

		if strings.TrimSpace(line) == "" {
			continue
		}
		if !sawHeader {
			if !mozillaMagic.MatchString(line) {
				return nil, fmt.Errorf("%w: line %d: missing %q header", ErrStoreUnreadable, lineNo, mozillaHeader)
			}
			sawHeader = true
			continue
		}

		httpOnly := false
		if strings.HasPrefix(line, httpOnlyPrefix) {
			httpOnly = true
			line = line[len(httpOnlyPrefix):]
		} else if strings.HasPrefix(strings.TrimSpace(line), "#") || strings.HasPrefix(strings.TrimSpace(line), "$") {
			continue
		}

		c, err := parseMozillaLine(line, now)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrStoreUnreadable, lineNo, err)
		}
		c.HttpOnly = httpOnly
		cookies = append(cookies, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnreadable, err)
	}

	return cookies, nil
}

func parseMozillaLine(line string, now time.Time) (*Cookie, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 7 {
		return nil, fmt.Errorf("expected 7 tab-separated fields, got %d", len(fields))
	}

	domain := strings.ToLower(fields[0])
	if domain == "" {
		return nil, errors.New("empty domain")
	}
	includeSubdomains, err := parseFlag(fields[1])
	if err != nil {
		return nil, fmt.Errorf("include-subdomains field: %w", err)
	}
	secure, err := parseFlag(fields[3])
	if err != nil {
		return nil, fmt.Errorf("secure field: %w", err)
	}
	// Some writers leave the expiry empty for session cookies.
	var expiry int64
	if fields[4] != "" {
		expiry, err = strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid expiry %q", fields[4])
		}
	}

	path := fields[2]
	if path == "" {
		path = "/"
	}

	c := &Cookie{
		Domain:    strings.TrimPrefix(domain, "."),
		Path:      path,
		Name:      fields[5],
		Value:     fields[6],
		Secure:    secure,
		HostOnly:  !includeSubdomains && !strings.HasPrefix(domain, "."),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if expiry > 0 {
		c.Expires = time.Unix(expiry, 0)
	}
	return c, nil
}

func parseFlag(s string) (bool, error) {
	switch strings.ToUpper(s) {
	case "TRUE":
		return true, nil
	case "FALSE":
		return false, nil
	}
	return false, fmt.Errorf("expected TRUE or FALSE, got %q", s)
}

// FormatMozilla renders cookies in cookies.txt format. Session cookies are
// written with expiry 0.
func FormatMozilla(cookies []*Cookie) []byte {
	var b bytes.Buffer
	b.WriteString(mozillaHeader)
	b.WriteString("\n# This file was generated by bzrpc. Edit at your own risk.\n\n")

	for _, c := range cookies {
		domain := c.Domain
		include := "FALSE"
		if !c.HostOnly {
			domain = "." + domain
			include = "TRUE"
		}
		if c.HttpOnly {
			domain = httpOnlyPrefix + domain
		}
		var expiry int64
		if !c.Expires.IsZero() {
			expiry = c.Expires.Unix()
		}
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			domain, include, c.Path, formatFlag(c.Secure), expiry, c.Name, c.Value)
	}
	return b.Bytes()
}

func formatFlag(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}
