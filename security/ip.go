package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP extracts the originating client IP from a request. When
// trustProxy is set, X-Forwarded-For and X-Real-IP are consulted;
// trustedProxyCount says how many proxies at the right of the XFF chain
// are ours, which defends against XFF spoofing in multi-hop setups. Only
// enable trustProxy behind a reverse proxy you control.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := ipFromForwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := r.Header.Get("X-Real-IP"); net.ParseIP(ip) != nil {
			return ip
		}
	}
	return ipFromRemoteAddr(r.RemoteAddr)
}

// ipFromForwardedFor picks the client IP out of an X-Forwarded-For chain.
// The chain reads "client, proxy1, proxy2, ..." with our own proxies at
// the right, so the client is at len(ips)-trustedProxyCount-1. A proxy
// count of zero is treated as one trusted hop.
func ipFromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}

	ips := strings.Split(xff, ",")

	proxyCount := trustedProxyCount
	if proxyCount == 0 {
		proxyCount = 1
	}
	idx := len(ips) - proxyCount - 1
	if idx < 0 {
		idx = 0
	}

	candidate := strings.TrimSpace(ips[idx])
	if net.ParseIP(candidate) != nil {
		return candidate
	}
	return ""
}

// ipFromRemoteAddr strips the port from RemoteAddr. For direct connections
// this is the peer address, which may itself be a proxy when trustProxy is
// off.
func ipFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
