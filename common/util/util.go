// Package util collects the small address/TLS/host-pattern helpers shared
// by core/acl, core/stream and core/tcpserver. Adapted from mbp/common.go,
// trimmed to what a log-ingestion core actually needs (no license/PVE/disk
// helpers survive the trim).
package util

import (
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// SplitHostPortFlexible handles host:port, [v6]:port, bare v6, and
// host-only forms uniformly; defPort is returned when no port is present.
func SplitHostPortFlexible(s string, defPort int) (host string, port int) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", 0
	}
	if strings.Contains(s, "]") || (strings.Count(s, ":") == 1 && !strings.Contains(s, "::")) {
		if h, p, err := net.SplitHostPort(s); err == nil {
			if n, e := strconv.Atoi(p); e == nil {
				return h, n
			}
		}
	}
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		return s[1 : len(s)-1], defPort
	}
	if strings.Count(s, ":") >= 2 {
		return s, defPort
	}
	if !strings.Contains(s, ":") {
		return s, defPort
	}
	if i := strings.LastIndexByte(s, ':'); i > 0 && i < len(s)-1 {
		h := s[:i]
		if n, e := strconv.Atoi(s[i+1:]); e == nil {
			return h, n
		}
	}
	return s, defPort
}

// ParseGuardList parses a comma-separated pattern list; empty input means
// "no patterns configured".
func ParseGuardList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// MatchAnyHostPattern reports whether host matches any of patterns, each
// either an exact (case-insensitive) match or a "*.example.com" wildcard.
func MatchAnyHostPattern(host string, patterns []string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	for _, pat := range patterns {
		if wildcardMatch(host, pat) {
			return true
		}
	}
	return false
}

func wildcardMatch(host, pattern string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return false
	}
	if !strings.Contains(pattern, "*") {
		return host == pattern
	}
	if strings.HasPrefix(pattern, "*.") {
		suffix := strings.TrimPrefix(pattern, "*.")
		return host == suffix || strings.HasSuffix(host, "."+suffix)
	}
	return host == pattern
}

// ReadPEMorFile treats s as inline PEM if it contains a "-----BEGIN" header,
// otherwise reads it as a file path.
func ReadPEMorFile(s string) ([]byte, error) {
	if strings.Contains(s, "-----BEGIN ") {
		return []byte(s), nil
	}
	return os.ReadFile(filepath.Clean(s))
}

func Nudge(c net.Conn) {
	_ = c.SetReadDeadline(time.Now())
	_ = c.SetWriteDeadline(time.Now())
}

func CloseWriteIfTCP(c net.Conn) {
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
}

// RemoteIPFromConn extracts the bare IP (no port) from a net.Conn's remote
// address, tolerating TCP, UDP and the generic net.Addr string form.
func RemoteIPFromConn(c net.Conn) string {
	if c == nil {
		return ""
	}
	return RemoteIPFromAddr(c.RemoteAddr())
}

func RemoteIPFromAddr(a net.Addr) string {
	if a == nil {
		return ""
	}
	switch v := a.(type) {
	case *net.TCPAddr:
		return v.IP.String()
	case *net.UDPAddr:
		return v.IP.String()
	default:
		if ap, err := netip.ParseAddrPort(a.String()); err == nil {
			return ap.Addr().String()
		}
		if ad, err := netip.ParseAddr(a.String()); err == nil {
			return ad.String()
		}
		s := a.String()
		s = strings.TrimPrefix(s, "[")
		if i := strings.IndexByte(s, ']'); i >= 0 {
			return s[:i]
		}
		if i := strings.LastIndexByte(s, ':'); i > 0 {
			return s[:i]
		}
		return s
	}
}

func IsDesktop() bool { return runtime.GOOS == "windows" || runtime.GOOS == "darwin" }
