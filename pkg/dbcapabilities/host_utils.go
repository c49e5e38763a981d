package dbcapabilities

import (
	"net"
	"strings"
)

// NormalizeHost lower-cases a host and folds every loopback form to "localhost".
// No DNS resolution is performed.
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "localhost" {
		return host
	}
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil && ip.IsLoopback() {
		return "localhost"
	}
	return host
}

// IsPrivateAddress reports whether host is a loopback, RFC 1918, unique local
// or link-local address. Hostnames other than localhost are treated as public.
func IsPrivateAddress(host string) bool {
	host = NormalizeHost(host)
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	if ip == nil {
		return false
	}
	return ip.IsPrivate() || ip.IsLinkLocalUnicast()
}

// IsPlaintextRemote reports whether the details describe a connection to a
// public host without TLS.
func (d *ConnectionDetails) IsPlaintextRemote() bool {
	if d.Host == "" || d.SSL {
		return false
	}
	return !IsPrivateAddress(d.Host)
}
