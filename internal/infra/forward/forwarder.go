// Package forward posts chat messages to a third-party HTTPS endpoint.
package forward

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"telegram-subscriber-notify/internal/config"
	"telegram-subscriber-notify/internal/domain"
	"telegram-subscriber-notify/internal/domain/ports/adapter"
)

var _ adapter.Forwarder = (*Forwarder)(nil)

type Forwarder struct {
	endpoint *url.URL
	allow    map[string]struct{}
	client   *http.Client
	resolver *net.Resolver
	log      *zerolog.Logger
}

type Option func(*Forwarder)

// WithRootCAs replaces the trusted roots; used for private endpoints and tests.
func WithRootCAs(pool *x509.CertPool) Option {
	return func(f *Forwarder) {
		if t, ok := f.client.Transport.(*http.Transport); ok {
			t.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
		}
	}
}

// New validates cfg.URL and builds a forwarder. An empty URL yields
// domain.ErrForwardNotConfigured.
func New(cfg config.ForwardConfig, logger *zerolog.Logger, opts ...Option) (*Forwarder, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, domain.ErrForwardNotConfigured
	}
	u, err := ValidateURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultForwardTimeout
	}

	l := logger.With().Str("component", "forwarder").Str("host", u.Hostname()).Logger()
	f := &Forwarder{
		endpoint: u,
		allow:    make(map[string]struct{}, len(cfg.AllowHosts)),
		resolver: net.DefaultResolver,
		log:      &l,
	}
	for _, h := range cfg.AllowHosts {
		f.allow[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
	}
	f.client = &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:         f.dialGuarded,
			TLSHandshakeTimeout: timeout,
			TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		},
		// redirects could point anywhere; refuse them
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

// ValidateURL accepts only absolute https URLs with a host.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("forward url: %v: %w", err, domain.ErrForbiddenDestination)
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return nil, fmt.Errorf("forward url scheme %q must be https: %w", u.Scheme, domain.ErrForbiddenDestination)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("forward url has no host: %w", domain.ErrForbiddenDestination)
	}
	return u, nil
}

func (f *Forwarder) Forward(ctx context.Context, p adapter.ForwardPayload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("post forward: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("forward endpoint returned %d", resp.StatusCode)
	}
	f.log.Debug().Int64("chat_id", p.ChatID).Dur("took", time.Since(start)).Msg("message forwarded")
	return nil
}

// dialGuarded resolves the host itself and refuses internal addresses unless
// the host is allow-listed. Checking at dial time also covers DNS answers
// that change between validation and connect.
func (f *Forwarder) dialGuarded(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	d := &net.Dialer{Timeout: 5 * time.Second}
	if f.allowed(host) {
		return d.DialContext(ctx, network, addr)
	}
	if isLocalName(host) {
		return nil, fmt.Errorf("host %q: %w", host, domain.ErrForbiddenDestination)
	}

	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		addrs, err := f.resolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", host, err)
		}
		for _, a := range addrs {
			ips = append(ips, a.IP)
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("resolve %q: no addresses", host)
	}
	for _, ip := range ips {
		if IsInternalIP(ip) {
			return nil, fmt.Errorf("host %q resolves to %s: %w", host, ip, domain.ErrForbiddenDestination)
		}
	}
	return d.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
}

func (f *Forwarder) allowed(host string) bool {
	_, ok := f.allow[strings.ToLower(host)]
	return ok
}

func isLocalName(host string) bool {
	h := strings.TrimSuffix(strings.ToLower(host), ".")
	return h == "localhost" || strings.HasSuffix(h, ".localhost")
}

// IsInternalIP reports loopback, private, link-local and unspecified addresses.
func IsInternalIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() ||
		ip.IsUnspecified()
}
