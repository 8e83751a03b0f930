package blacklist

import (
	"bufio"
	"io"
	"net"
	"strings"
)

// ParsedRule is one accepted entry from an external feed.
type ParsedRule struct {
	Value  string
	Reason string
}

// ParseFeed reads a blacklist feed: UTF-8 text, one entry per line, with
// `#`, `//` and `;` line comments and an optional `value,reason` CSV form.
// Valid IPv4 addresses land in ips, valid IPv4 CIDRs in cidrs; every other
// non-comment line is dropped and counted.
func ParseFeed(r io.Reader) (ips, cidrs []ParsedRule, dropped int) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || isComment(line) {
			continue
		}

		value, reason := line, ""
		if i := strings.IndexByte(line, ','); i >= 0 {
			value = strings.TrimSpace(line[:i])
			reason = strings.TrimSpace(line[i+1:])
		}

		switch {
		case isIPv4(value):
			ips = append(ips, ParsedRule{Value: value, Reason: reason})
		case isIPv4CIDR(value):
			cidrs = append(cidrs, ParsedRule{Value: value, Reason: reason})
		default:
			dropped++
		}
	}
	return ips, cidrs, dropped
}

func isComment(line string) bool {
	return strings.HasPrefix(line, "#") ||
		strings.HasPrefix(line, "//") ||
		strings.HasPrefix(line, ";")
}

// isIPv4 accepts dotted-quad notation only; IPv4-mapped IPv6 forms like
// ::ffff:1.2.3.4 are rejected because the hot path stores dotted quads.
func isIPv4(s string) bool {
	if strings.Count(s, ".") != 3 {
		return false
	}
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil
}

func isIPv4CIDR(s string) bool {
	ip, _, err := net.ParseCIDR(s)
	return err == nil && ip.To4() != nil
}
