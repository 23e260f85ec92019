package webhook

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// allowedPorts are the only explicit ports a webhook target may carry.
var allowedPorts = map[string]bool{"80": true, "443": true, "8080": true, "8443": true}

// ErrUnsafeURL wraps every SafeURL rejection, so callers can tell a bad
// target apart from infrastructure failures.
var ErrUnsafeURL = errors.New("webhook: unsafe url")

// SafeURL decides whether a URL is an acceptable webhook target. The check is
// purely textual: it does not resolve DNS, so a hostname that aliases to a
// private address passes. That limitation is deliberate and covered by tests;
// resolution-time checks are a separate hardening.
func SafeURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: unparseable: %v", ErrUnsafeURL, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q is not allowed", ErrUnsafeURL, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: no host", ErrUnsafeURL)
	}
	switch host {
	case "localhost", "127.0.0.1", "0.0.0.0", "::1":
		return fmt.Errorf("%w: host %q is loopback", ErrUnsafeURL, host)
	}
	if privateIPv4(host) {
		return fmt.Errorf("%w: host %q is in a private range", ErrUnsafeURL, host)
	}

	if port := u.Port(); port != "" && !allowedPorts[port] {
		return fmt.Errorf("%w: port %s is not allowed", ErrUnsafeURL, port)
	}
	return nil
}

// privateIPv4 reports whether host is a dotted-quad inside RFC 1918 or the
// link-local range.
func privateIPv4(host string) bool {
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return false
	}
	octets := make([]int, 4)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return false
		}
		octets[i] = n
	}
	switch {
	case octets[0] == 10:
		return true
	case octets[0] == 192 && octets[1] == 168:
		return true
	case octets[0] == 172 && octets[1] >= 16 && octets[1] <= 31:
		return true
	case octets[0] == 169 && octets[1] == 254:
		return true
	}
	return false
}
