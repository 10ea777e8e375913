package acme

import (
	"context"
	"fmt"
	"net"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/net/idna"

	apperr "github.com/ksyq12/mtlsctl/internal/errors"
	"github.com/ksyq12/mtlsctl/internal/logger"
)

// Default probe bounds.
const (
	DefaultAttempts = 5
	DefaultInterval = 3 * time.Second
	ChallengePort   = "80"
)

// Resolver looks up address and TXT records. *net.Resolver satisfies it.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// Dialer opens TCP connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Preflight runs the checks that must pass before any ACME call or
// configuration change. Waits are bounded by Attempts at a fixed Interval.
type Preflight struct {
	Resolver Resolver
	Dialer   Dialer
	Port     string
	Attempts int
	Interval time.Duration
}

// NewPreflight returns checks backed by the system resolver.
func NewPreflight() *Preflight {
	return &Preflight{
		Resolver: net.DefaultResolver,
		Dialer:   &net.Dialer{Timeout: 5 * time.Second},
		Port:     ChallengePort,
		Attempts: DefaultAttempts,
		Interval: DefaultInterval,
	}
}

// Addresses is the result of address resolution.
type Addresses struct {
	IPv4 []net.IP
	IPv6 []net.IP
}

// Families returns which address families resolved.
func (a Addresses) Families() []string {
	var f []string
	if len(a.IPv4) > 0 {
		f = append(f, "A")
	}
	if len(a.IPv6) > 0 {
		f = append(f, "AAAA")
	}
	return f
}

// CheckDomain normalises domain to its ASCII form.
func CheckDomain(domain string) (string, error) {
	domain = strings.TrimSuffix(strings.TrimSpace(domain), ".")
	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return "", apperr.New(apperr.ErrCodeValidation, domain, "invalid domain", err)
	}
	if !strings.Contains(ascii, ".") {
		return "", apperr.New(apperr.ErrCodeValidation, domain, "domain must be fully qualified", nil)
	}
	return ascii, nil
}

// CheckEmail validates the contact address. Display names are rejected.
func CheckEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return apperr.New(apperr.ErrCodeValidation, email, "invalid contact email", err)
	}
	at := strings.LastIndex(email, "@")
	if at < 1 || !strings.Contains(email[at+1:], ".") {
		return apperr.New(apperr.ErrCodeValidation, email, "contact email needs a fully qualified domain", nil)
	}
	return nil
}

// Resolve looks up both address families. A single family is enough.
func (p *Preflight) Resolve(ctx context.Context, domain string) (Addresses, error) {
	var out Addresses
	v4, err4 := p.Resolver.LookupIP(ctx, "ip4", domain)
	v6, err6 := p.Resolver.LookupIP(ctx, "ip6", domain)
	out.IPv4, out.IPv6 = v4, v6

	if len(v4) == 0 && len(v6) == 0 {
		var cause error
		if err4 != nil {
			cause = err4
		} else if err6 != nil {
			cause = err6
		}
		return out, apperr.New(apperr.ErrCodeDNSResolution, domain, "no A or AAAA records", cause)
	}
	logger.DebugFields("Resolved domain", map[string]interface{}{
		"domain": domain,
		"a":      len(v4),
		"aaaa":   len(v6),
	})
	return out, nil
}

// ProbePort checks that the challenge port accepts TCP connections.
func (p *Preflight) ProbePort(ctx context.Context, domain string) error {
	addr := net.JoinHostPort(domain, p.Port)
	attempts := max(p.Attempts, 1)

	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := p.Dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		lastErr = err
		logger.Debug("Probe %s attempt %d/%d failed: %v", addr, i, attempts, err)

		if i == attempts {
			break
		}
		if err := sleep(ctx, p.Interval); err != nil {
			return err
		}
	}
	return apperr.New(apperr.ErrCodePortUnreachable, domain,
		fmt.Sprintf("port %s unreachable after %d attempts", p.Port, attempts), lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
