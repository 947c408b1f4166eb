// Package security validates delivery endpoints so a hijacked or mistyped
// DELIVER_URL cannot be used to reach internal infrastructure.
package security

import (
	"errors"
	"net"
	"net/url"
	"strings"
)

var (
	ErrInvalidURL       = errors.New("invalid endpoint URL")
	ErrInvalidScheme    = errors.New("endpoint must use http or https")
	ErrBlockedHost      = errors.New("endpoint host is blocked")
	ErrBlockedPort      = errors.New("endpoint port is blocked")
	ErrSuspiciousURL    = errors.New("endpoint URL contains suspicious patterns")
	ErrPrivateIP        = errors.New("endpoint resolves to a private address")
	ErrLoopbackIP       = errors.New("endpoint resolves to a loopback address")
	ErrLinkLocalIP      = errors.New("endpoint resolves to a link-local address")
	ErrMetadataEndpoint = errors.New("endpoint resolves to a cloud metadata address")
)

// Hostnames that must never be delivery targets, regardless of what DNS
// says about them.
var blockedHosts = map[string]bool{
	"localhost":                true,
	"localhost.localdomain":    true,
	"metadata.google.internal": true,
	"metadata.goog":            true,
	"kubernetes.default":       true,
	"kubernetes.default.svc":   true,
	"localtest.me":             true,
	"lvh.me":                   true,
	"vcap.me":                  true,
}

// Ports of common internal services; a webhook consumer has no business
// listening on these.
var blockedPorts = map[string]bool{
	"22":    true, // ssh
	"25":    true, // smtp
	"2379":  true, // etcd
	"3306":  true, // mysql
	"5432":  true, // postgres
	"6379":  true, // redis
	"8500":  true, // consul
	"9200":  true, // elasticsearch
	"11211": true, // memcached
}

// Wildcard DNS services that resolve attacker-chosen names to arbitrary
// IPs, commonly used for rebinding.
var rebindingSuffixes = []string{
	".nip.io",
	".xip.io",
	".sslip.io",
	".localtest.me",
	".lvh.me",
	".vcap.me",
	".rebind.network",
}

// ValidateURL checks that a delivery endpoint URL is structurally safe:
// scheme, host and port restrictions plus encoding-trick detection. It does
// no DNS resolution; resolved addresses are checked per connection by
// ValidateIP in the delivery client's dialer, which also covers records
// that change between validation and dial.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ErrInvalidURL
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ErrInvalidScheme
	}

	if suspicious(rawURL) {
		return ErrSuspiciousURL
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ErrInvalidURL
	}
	if blockedHosts[host] || strings.Contains(host, "localhost") {
		return ErrBlockedHost
	}
	for _, suffix := range rebindingSuffixes {
		if strings.HasSuffix(host, suffix) {
			return ErrBlockedHost
		}
	}

	if ip := net.ParseIP(strings.Trim(u.Hostname(), "[]")); ip != nil {
		if err := ValidateIP(ip); err != nil {
			return err
		}
	}

	if port := u.Port(); port != "" && blockedPorts[port] {
		return ErrBlockedPort
	}

	return nil
}

// ValidateIP rejects addresses that must never be dialed: loopback, private
// ranges, link-local (which includes the AWS metadata address) and known
// cloud metadata IPs.
func ValidateIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return ErrLoopbackIP
	case ip.IsPrivate(), ip.IsUnspecified():
		return ErrPrivateIP
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return ErrLinkLocalIP
	case ip.Equal(net.ParseIP("169.254.169.254")), ip.Equal(net.ParseIP("100.100.100.200")):
		return ErrMetadataEndpoint
	}
	return nil
}

// suspicious flags URL shapes used to smuggle a different effective host
// past string-level checks.
func suspicious(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, pattern := range []string{
		"%00", "%0d", "%0a", // control character injection
		"\\",      // backslash path confusion
		"@",       // userinfo, evil.com@target
		"0x",      // hex IP literal
		"::ffff:", // IPv4-mapped IPv6
	} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	return numericHostname(u.Hostname())
}

// numericHostname reports whether the hostname is a bare decimal or octal
// number, i.e. an integer-encoded IPv4 address like 2130706433.
func numericHostname(host string) bool {
	if host == "" {
		return false
	}
	for _, c := range host {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
