package notify

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// ErrUnsafeURL marks a webhook URL rejected by the SSRF guard. Such a URL is
// never attempted, not even once.
var ErrUnsafeURL = errors.New("notify: webhook url rejected by safety check")

// Hostnames that always resolve inward.
var deniedHosts = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
	"metadata":                 true,
	"instance-data":            true,
	"kubernetes.default":       true,
	"kubernetes.default.svc":   true,
}

// CheckURL validates a tenant-supplied webhook destination before any
// outbound request. Rejected: non-HTTP(S) schemes, plain HTTP outside
// development, denylisted hostnames, and any literal IP that is loopback,
// link-local (cloud metadata included), private, or otherwise non-global.
//
// Hostnames that are not IP literals are additionally resolved and every
// returned address is checked, so DNS names pointing at internal ranges are
// caught too. Resolution failures reject the URL; delivery would fail anyway.
func CheckURL(rawURL string, allowHTTP bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}

	switch u.Scheme {
	case "https":
	case "http":
		if !allowHTTP {
			return fmt.Errorf("%w: https required", ErrUnsafeURL)
		}
	default:
		return fmt.Errorf("%w: scheme %q not allowed", ErrUnsafeURL, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrUnsafeURL)
	}
	if deniedHosts[host] || strings.HasSuffix(host, ".internal") || strings.HasSuffix(host, ".local") {
		return fmt.Errorf("%w: host %q is internal", ErrUnsafeURL, host)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if !addrIsGlobal(addr) {
			return fmt.Errorf("%w: address %s is not globally routable", ErrUnsafeURL, addr)
		}
		return nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve %q", ErrUnsafeURL, host)
	}
	for _, ip := range ips {
		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			return fmt.Errorf("%w: unparseable address for %q", ErrUnsafeURL, host)
		}
		if !addrIsGlobal(addr.Unmap()) {
			return fmt.Errorf("%w: %q resolves to non-routable %s", ErrUnsafeURL, host, addr)
		}
	}
	return nil
}

func addrIsGlobal(a netip.Addr) bool {
	if a.IsLoopback() || a.IsLinkLocalUnicast() || a.IsLinkLocalMulticast() ||
		a.IsPrivate() || a.IsUnspecified() || a.IsMulticast() {
		return false
	}
	// Carrier-grade NAT range; not covered by IsPrivate.
	if a.Is4() {
		v4 := a.As4()
		if v4[0] == 100 && v4[1] >= 64 && v4[1] <= 127 {
			return false
		}
	}
	return true
}
