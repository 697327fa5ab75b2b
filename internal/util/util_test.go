package util

import (
	"net"
	"testing"
)

func TestSafeTruncate(t *testing.T) {
	tests := []struct {
		s      string
		maxLen int
		want   string
	}{
		{"abcdefgh", 4, "abcd"},
		{"abc", 8, "abc"},
		{"", 8, ""},
		{"abc", 0, ""},
		{"abc", -1, ""},
	}
	for _, tt := range tests {
		if got := SafeTruncate(tt.s, tt.maxLen); got != tt.want {
			t.Errorf("SafeTruncate(%q, %d) = %q, want %q", tt.s, tt.maxLen, got, tt.want)
		}
	}
}

func TestIsLoopbackHostname(t *testing.T) {
	tests := []struct {
		hostname string
		want     bool
	}{
		{"localhost", true},
		{"127.0.0.1", true},
		{"127.255.255.254", true},
		{"::1", true},
		{"[::1]", true},
		{"0.0.0.0", false},
		{"10.0.0.1", false},
		{"example.com", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsLoopbackHostname(tt.hostname); got != tt.want {
			t.Errorf("IsLoopbackHostname(%q) = %v, want %v", tt.hostname, got, tt.want)
		}
	}
}

func TestIsPrivateOrInternal(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"10.0.0.5", true},
		{"172.16.1.1", true},
		{"192.168.1.1", true},
		{"127.0.0.1", true},
		{"169.254.169.254", true},
		{"0.0.0.0", true},
		{"fe80::1", true},
		{"203.0.113.50", false},
		{"2001:db8::1", false},
	}
	for _, tt := range tests {
		ip := net.ParseIP(tt.ip)
		if ip == nil {
			t.Fatalf("bad test IP %q", tt.ip)
		}
		if got := IsPrivateOrInternal(ip); got != tt.want {
			t.Errorf("IsPrivateOrInternal(%s) = %v, want %v", tt.ip, got, tt.want)
		}
	}

	if !IsPrivateOrInternal(nil) {
		t.Error("nil IP not treated as internal")
	}
}
