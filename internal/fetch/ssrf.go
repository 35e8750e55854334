package fetch

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// validateURL rejects URLs that could reach internal infrastructure:
// non-http schemes, localhost variants, and hostnames resolving to
// private or reserved addresses.
func validateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", parsed.Scheme)
	}

	hostname := parsed.Hostname()
	if hostname == "" {
		return fmt.Errorf("url must have a hostname")
	}
	if isBlockedHostname(hostname) {
		return fmt.Errorf("host %q is not allowed", hostname)
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		// Unresolvable here may still resolve at the proxy; the dial will
		// fail on its own if not.
		return nil
	}
	for _, ip := range ips {
		if isPrivateOrReservedIP(ip) {
			return fmt.Errorf("host %q resolves to a private or reserved address", hostname)
		}
	}
	return nil
}

func isBlockedHostname(hostname string) bool {
	lower := strings.ToLower(hostname)
	if lower == "localhost" {
		return true
	}
	for _, suffix := range []string{".localhost", ".local", ".internal"} {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return isPrivateOrReservedIP(ip)
	}
	return false
}

func isPrivateOrReservedIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() {
		return true
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() {
		return true
	}
	// Cloud metadata endpoint.
	return ip.Equal(net.ParseIP("169.254.169.254"))
}
