package util

import "net"

// IsLoopbackHostname reports whether a hostname (without port, as returned
// by url.URL.Hostname) refers to a loopback address. Covers "localhost",
// the whole 127.0.0.0/8 range, ::1, and IPv4-mapped IPv6 loopback.
// 0.0.0.0 is unspecified, not loopback, and returns false.
func IsLoopbackHostname(hostname string) bool {
	if hostname == "localhost" {
		return true
	}

	// url.URL.Hostname strips brackets already, but callers sometimes pass
	// raw IPv6 literals like [::1].
	clean := hostname
	if len(hostname) > 2 && hostname[0] == '[' && hostname[len(hostname)-1] == ']' {
		clean = hostname[1 : len(hostname)-1]
	}

	if ip := net.ParseIP(clean); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// IsPrivateOrInternal reports whether an IP is anything other than publicly
// routable: private ranges, loopback, link-local, or unspecified. Used to
// block SSRF-prone redirect targets at client registration time.
func IsPrivateOrInternal(ip net.IP) bool {
	if ip == nil || ip.IsUnspecified() || ip.IsLoopback() || ip.IsPrivate() {
		return true
	}
	return ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}
