package identity

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// ParsePrefixes parses a comma-separated list of IPs and CIDRs. Bare
// addresses become single-host prefixes and host bits are masked. All
// invalid entries are reported together.
func ParsePrefixes(s string) ([]netip.Prefix, error) {
	var (
		out []netip.Prefix
		bad []string
	)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "/") {
			p, err := netip.ParsePrefix(part)
			if err != nil {
				bad = append(bad, part)
				continue
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			bad = append(bad, part)
			continue
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	if len(bad) > 0 {
		return nil, fmt.Errorf("invalid address or CIDR: %s", strings.Join(bad, ", "))
	}
	return out, nil
}

// ClientIP works out the originating client address of a request.
//
// The socket peer is used unless it falls inside trusted, in which case the
// first X-Forwarded-For hop and then X-Real-IP are consulted. An empty
// string is returned when nothing usable is present.
func ClientIP(remoteAddr, forwardedFor, realIP string, trusted []netip.Prefix) string {
	peer, ok := parseHost(remoteAddr)
	if ok && !contains(trusted, peer) {
		return peer.String()
	}

	if ok || len(trusted) > 0 {
		if first, _, _ := strings.Cut(forwardedFor, ","); strings.TrimSpace(first) != "" {
			if addr, ok := parseHost(first); ok {
				return addr.String()
			}
		}
		if addr, ok := parseHost(realIP); ok {
			return addr.String()
		}
	}

	if ok {
		return peer.String()
	}
	return ""
}

// parseHost accepts "ip", "ip:port" and "[ipv6]:port".
func parseHost(s string) (netip.Addr, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Addr{}, false
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	addr, err := netip.ParseAddr(strings.Trim(s, "[]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap().WithZone(""), true
}

func contains(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
