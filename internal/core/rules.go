package core

import (
	"net"
	"regexp"
	"strings"
)

// Validate checks the family-specific payload of a rule. Malformed values
// are rejected up front so they can never reach the materialized sets.
func (r *Rule) Validate() error {
	switch r.Family {
	case FamilyIP:
		if net.ParseIP(r.IPAddress) == nil {
			return Validationf("invalid ip address %q", r.IPAddress)
		}
	case FamilyIPRange:
		if _, _, err := net.ParseCIDR(r.CIDR); err != nil {
			return Validationf("invalid cidr %q", r.CIDR)
		}
	case FamilyUA:
		if strings.TrimSpace(r.Pattern) == "" {
			return Validationf("empty user-agent pattern")
		}
		switch r.PatternType {
		case PatternExact, PatternContains:
		case PatternRegex:
			if _, err := regexp.Compile("(?i)" + r.Pattern); err != nil {
				return Validationf("invalid user-agent regex %q: %v", r.Pattern, err)
			}
		default:
			return Validationf("invalid pattern type %q", r.PatternType)
		}
	case FamilyISP:
		if strings.TrimSpace(r.ASN) == "" && strings.TrimSpace(r.ISPName) == "" {
			return Validationf("isp rule needs an asn or a name")
		}
	case FamilyGeo:
		if len(r.CountryCode) != 2 {
			return Validationf("invalid country code %q", r.CountryCode)
		}
		switch r.BlockType {
		case GeoBlock, GeoHighRisk:
		default:
			return Validationf("invalid geo block type %q", r.BlockType)
		}
	default:
		return Validationf("unknown rule family %q", r.Family)
	}
	return nil
}

// Scope returns the rule's materialization scope: global or user:<id>.
func (r *Rule) Scope() string {
	if r.UserID == 0 {
		return ScopeGlobal
	}
	return UserScope(r.UserID)
}

// NormalizeASN canonicalizes an autonomous-system number to the AS<digits>
// form used by the materialized ISP sets. Empty input stays empty.
func NormalizeASN(asn string) string {
	s := strings.ToUpper(strings.TrimSpace(asn))
	if s == "" {
		return ""
	}
	if !strings.HasPrefix(s, "AS") {
		s = "AS" + s
	}
	return s
}
