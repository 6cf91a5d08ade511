package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// ErrBlockedEndpoint is returned for webhook URLs that would reach the
// service's own network.
var ErrBlockedEndpoint = errors.New("security: endpoint not allowed")

// blockedHosts are names that resolve to cloud metadata or the local host.
var blockedHosts = []string{
	"localhost",
	"metadata",
	"metadata.google.internal",
	"instance-data",
}

// EndpointPolicy decides whether the service may POST to a URL.
type EndpointPolicy struct {
	// RequireHTTPS rejects plain http URLs.
	RequireHTTPS bool
	// LookupIP resolves host names; net.DefaultResolver when nil.
	LookupIP func(ctx context.Context, host string) ([]net.IP, error)
	// Timeout bounds name resolution.
	Timeout time.Duration
}

// DefaultEndpointPolicy allows http and https with a 3s lookup budget.
var DefaultEndpointPolicy = EndpointPolicy{Timeout: 3 * time.Second}

// ValidateEndpointURL checks rawURL against DefaultEndpointPolicy.
func ValidateEndpointURL(rawURL string) error {
	return DefaultEndpointPolicy.Validate(context.Background(), rawURL)
}

// Validate rejects URLs that are malformed, use another scheme, carry
// credentials, or whose host is (or resolves to) a loopback, private,
// link-local or unspecified address.
func (p EndpointPolicy) Validate(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: malformed url", ErrBlockedEndpoint)
	}
	switch u.Scheme {
	case "https":
	case "http":
		if p.RequireHTTPS {
			return fmt.Errorf("%w: https required", ErrBlockedEndpoint)
		}
	default:
		return fmt.Errorf("%w: scheme %q", ErrBlockedEndpoint, u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("%w: credentials in url", ErrBlockedEndpoint)
	}

	host := strings.TrimSuffix(u.Hostname(), ".")
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrBlockedEndpoint)
	}
	for _, b := range blockedHosts {
		if strings.EqualFold(host, b) || strings.HasSuffix(strings.ToLower(host), ".localhost") {
			return fmt.Errorf("%w: host %q", ErrBlockedEndpoint, host)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		return checkIP(ip)
	}

	lookup := p.LookupIP
	if lookup == nil {
		lookup = func(ctx context.Context, host string) ([]net.IP, error) {
			return net.DefaultResolver.LookupIP(ctx, "ip", host)
		}
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	ips, err := lookup(ctx, host)
	if err != nil || len(ips) == 0 {
		return fmt.Errorf("%w: cannot resolve %q", ErrBlockedEndpoint, host)
	}
	for _, ip := range ips {
		if err := checkIP(ip); err != nil {
			return fmt.Errorf("host %q: %w", host, err)
		}
	}
	return nil
}

func checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("%w: loopback address %s", ErrBlockedEndpoint, ip)
	case ip.IsPrivate():
		return fmt.Errorf("%w: private address %s", ErrBlockedEndpoint, ip)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("%w: link-local address %s", ErrBlockedEndpoint, ip)
	case ip.IsUnspecified():
		return fmt.Errorf("%w: unspecified address %s", ErrBlockedEndpoint, ip)
	}
	return nil
}
