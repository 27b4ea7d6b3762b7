package governance

import (
	"context"
	"net"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
)

// ResolvePathUnder resolves p (absolute or relative to base) and asserts
// the result stays inside base. It returns the cleaned absolute path.
func ResolvePathUnder(base, p string) (string, error) {
	if base == "" {
		return "", errdefs.Validationf("allow-list base is required")
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", errdefs.Validationf("resolving base %q: %v", base, err)
	}
	candidate := p
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(absBase, candidate)
	}
	resolved := filepath.Clean(candidate)

	rel, err := filepath.Rel(absBase, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errdefs.Validationf("path %q escapes the allowed base", p)
	}
	return resolved, nil
}

// LookupIPFunc resolves a hostname; tests substitute a static resolver.
type LookupIPFunc func(ctx context.Context, host string) ([]net.IP, error)

// WebhookURLPolicy validates subscription endpoints before they are stored
// and again before each dispatch. HTTPS is mandatory outside dev; the
// hostname must resolve and every resolved address must be public.
type WebhookURLPolicy struct {
	// AllowLoopbackHTTP admits http://localhost style endpoints in dev.
	AllowLoopbackHTTP bool
	// LookupIP defaults to the system resolver.
	LookupIP LookupIPFunc
}

// Validate applies the full policy against a raw URL.
func (p WebhookURLPolicy) Validate(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errdefs.Validationf("invalid webhook url: %v", err)
	}
	if u.Host == "" {
		return errdefs.Validationf("webhook url must carry a host")
	}

	host := u.Hostname()
	literalIP := net.ParseIP(host)
	loopback := host == "localhost" || (literalIP != nil && literalIP.IsLoopback())

	switch u.Scheme {
	case "https":
	case "http":
		if !p.AllowLoopbackHTTP || !loopback {
			return errdefs.Validationf("webhook url must use https")
		}
		// dev loopback endpoint, skip the public-address check
		return nil
	default:
		return errdefs.Validationf("webhook url must use https, got %q", u.Scheme)
	}

	if literalIP != nil {
		if forbiddenWebhookIP(literalIP) {
			return errdefs.Validationf("webhook url resolves to a private or reserved address")
		}
		return nil
	}

	lookup := p.LookupIP
	if lookup == nil {
		lookup = func(ctx context.Context, host string) ([]net.IP, error) {
			addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, err
			}
			ips := make([]net.IP, len(addrs))
			for i, a := range addrs {
				ips[i] = a.IP
			}
			return ips, nil
		}
	}
	ips, err := lookup(ctx, host)
	if err != nil {
		return errdefs.Validationf("webhook host %q does not resolve: %v", host, err)
	}
	if len(ips) == 0 {
		return errdefs.Validationf("webhook host %q resolves to no addresses", host)
	}
	for _, ip := range ips {
		if forbiddenWebhookIP(ip) {
			return errdefs.Validationf("webhook host %q resolves to a private or reserved address", host)
		}
	}
	return nil
}

// forbiddenWebhookIP reports addresses a dispatcher must never call:
// loopback, RFC1918/ULA private space, link-local, unspecified, multicast
// and the v4 broadcast address.
func forbiddenWebhookIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() {
		return true
	}
	if v4 := ip.To4(); v4 != nil && v4.Equal(net.IPv4bcast) {
		return true
	}
	return false
}
