// Package acl decides whether a connecting peer is permitted, matching an
// ordered allow/deny pattern list against an address or a verified TLS peer
// name. Adapted from mbp/core/policy's IDNA domain normalization and
// mbp/common's wildcard host matching, re-pointed at spec.md §4.1's
// is_allowed operation instead of firewall forward-policy lookup.
package acl

import (
	"net"
	"strings"

	"golang.org/x/net/idna"

	"synrelay/common/logx"
	"synrelay/model"
)

// List is the per-transport ordered permitted-peer sequence. Entries are
// evaluated in order; on ambiguity (matched by both an allow and a deny
// pattern) deny wins, per spec.md §4.1.
type List struct {
	transport string
	entries   []model.PermittedPeer
	log       *logx.Logger
}

func NewList(transport string, entries []model.PermittedPeer) *List {
	return &List{
		transport: transport,
		entries:   entries,
		log:       logx.New(logx.WithPrefix("acl")),
	}
}

// IsAllowed implements spec.md §4.1's is_allowed(transport_label, peer_addr,
// peer_fqdn, resolve_dns_if_needed) -> bool. When the list is empty,
// everything is allowed (no ACL configured). peerFQDN may be "" when
// resolveDNSIfNeeded is false and no reverse lookup was performed; in that
// case IP/CIDR patterns match against peerAddr and any other pattern
// matches only if it equals peerAddr literally.
func (l *List) IsAllowed(peerAddr, peerFQDN string, resolveDNSIfNeeded bool) bool {
	if len(l.entries) == 0 {
		return true
	}

	fqdn := peerFQDN
	if fqdn == "" && resolveDNSIfNeeded && peerAddr != "" {
		if names, err := net.LookupAddr(peerAddr); err == nil && len(names) > 0 {
			fqdn = strings.TrimSuffix(names[0], ".")
		} else {
			// DNS required but unresolvable: spec.md §4.1 treats this as
			// not-allowed rather than silently permitting the connection.
			l.log.Warnf("acl: dns resolution required but failed for %s", peerAddr)
			return false
		}
	}

	normFQDN := ""
	if fqdn != "" {
		if n, err := normalizeDomain(fqdn); err == nil {
			normFQDN = n
		} else {
			normFQDN = strings.ToLower(fqdn)
		}
	}

	allowed := false
	matchedAny := false
	for _, e := range l.entries {
		if matchPattern(e.Pattern, peerAddr, normFQDN) {
			matchedAny = true
			if e.Deny {
				return false
			}
			allowed = true
		}
	}
	return matchedAny && allowed
}

// IsAllowedTLSName is the post-handshake re-check against the verified TLS
// peer name, per spec.md §4.2.
func (l *List) IsAllowedTLSName(verifiedName string) bool {
	if len(l.entries) == 0 {
		return true
	}
	if verifiedName == "" {
		return false
	}
	norm := strings.ToLower(verifiedName)
	if n, err := normalizeDomain(verifiedName); err == nil {
		norm = n
	}
	allowed := false
	matchedAny := false
	for _, e := range l.entries {
		if wildcardMatch(norm, strings.ToLower(e.Pattern)) {
			matchedAny = true
			if e.Deny {
				return false
			}
			allowed = true
		}
	}
	return matchedAny && allowed
}

func matchPattern(pattern, addr, fqdn string) bool {
	p := strings.ToLower(strings.TrimSpace(pattern))
	if p == "" {
		return false
	}
	if isIPPrefixPattern(p) {
		return matchIPPrefix(p, addr)
	}
	if fqdn != "" {
		return wildcardMatch(fqdn, p)
	}
	return addr != "" && p == strings.ToLower(addr)
}

func isIPPrefixPattern(p string) bool {
	if strings.Contains(p, "/") {
		host := strings.SplitN(p, "/", 2)[0]
		return net.ParseIP(host) != nil
	}
	return net.ParseIP(p) != nil
}

func matchIPPrefix(pattern, addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	if !strings.Contains(pattern, "/") {
		return pattern == strings.ToLower(addr)
	}
	_, cidr, err := net.ParseCIDR(pattern)
	if err != nil {
		return false
	}
	return cidr.Contains(ip)
}

func wildcardMatch(host, pattern string) bool {
	if pattern == "" {
		return false
	}
	if !strings.HasPrefix(pattern, "*") {
		return host == pattern
	}
	suffix := strings.TrimPrefix(pattern, "*")
	suffix = strings.TrimPrefix(suffix, ".")
	return host == suffix || strings.HasSuffix(host, "."+suffix)
}

func normalizeDomain(s string) (string, error) {
	s = strings.TrimSpace(strings.ToLower(strings.TrimSuffix(s, ".")))
	if s == "" {
		return "", nil
	}
	return idna.ToASCII(s)
}
