package security

import (
	"net/http/httptest"
	"testing"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name              string
		remoteAddr        string
		xff               string
		xRealIP           string
		trustProxy        bool
		trustedProxyCount int
		want              string
	}{
		{
			name:       "direct connection",
			remoteAddr: "198.51.100.7:51234",
			want:       "198.51.100.7",
		},
		{
			name:       "XFF ignored without trustProxy",
			remoteAddr: "198.51.100.7:51234",
			xff:        "203.0.113.50",
			want:       "198.51.100.7",
		},
		{
			name:              "single proxy",
			remoteAddr:        "10.0.0.2:443",
			xff:               "203.0.113.50, 10.0.0.2",
			trustProxy:        true,
			trustedProxyCount: 1,
			want:              "203.0.113.50",
		},
		{
			name:              "two proxies",
			remoteAddr:        "10.0.0.2:443",
			xff:               "203.0.113.50, 10.0.0.3, 10.0.0.2",
			trustProxy:        true,
			trustedProxyCount: 2,
			want:              "203.0.113.50",
		},
		{
			name:              "spoofed prefix with one trusted hop",
			remoteAddr:        "10.0.0.2:443",
			xff:               "6.6.6.6, 203.0.113.50",
			trustProxy:        true,
			trustedProxyCount: 1,
			want:              "6.6.6.6",
		},
		{
			name:              "proxy count defaults to one",
			remoteAddr:        "10.0.0.2:443",
			xff:               "203.0.113.50, 10.0.0.2",
			trustProxy:        true,
			trustedProxyCount: 0,
			want:              "203.0.113.50",
		},
		{
			name:              "short chain clamps to first entry",
			remoteAddr:        "10.0.0.2:443",
			xff:               "203.0.113.50",
			trustProxy:        true,
			trustedProxyCount: 3,
			want:              "203.0.113.50",
		},
		{
			name:       "garbage XFF falls back to X-Real-IP",
			remoteAddr: "10.0.0.2:443",
			xff:        "not-an-ip",
			xRealIP:    "203.0.113.50",
			trustProxy: true,
			want:       "203.0.113.50",
		},
		{
			name:       "garbage everywhere falls back to RemoteAddr",
			remoteAddr: "10.0.0.2:443",
			xff:        "not-an-ip",
			xRealIP:    "also-not-an-ip",
			trustProxy: true,
			want:       "10.0.0.2",
		},
		{
			name:       "IPv6 remote",
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/token", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				r.Header.Set("X-Real-IP", tt.xRealIP)
			}

			if got := GetClientIP(r, tt.trustProxy, tt.trustedProxyCount); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
