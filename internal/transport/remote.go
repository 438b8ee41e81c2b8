package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sort"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/mtaserv/mtaserv/internal/buffer"
	"github.com/mtaserv/mtaserv/internal/logging"
	"github.com/mtaserv/mtaserv/internal/mailctx"
	"github.com/mtaserv/mtaserv/internal/resolver"
)

// RemoteConfig configures the outbound MX-routed backend.
type RemoteConfig struct {
	// Hostname is announced in the client EHLO/HELO.
	Hostname string
	// Resolver looks up MX/A/AAAA records. Required.
	Resolver *resolver.Resolver
	// DialTimeout bounds each candidate MX connection attempt.
	DialTimeout time.Duration
	// TLSConfig is cloned and given a ServerName per connected host for
	// opportunistic STARTTLS.
	TLSConfig *tls.Config
	// Log receives one Error per MX candidate that failed; failures that
	// do not exhaust all candidates are expected retry noise, not alerts.
	Log logging.Logger
}

// Remote delivers by grouping recipients per destination domain, resolving
// each domain's MX hosts (falling back to its own A/AAAA per RFC 5321
// §5.1), and attempting delivery against each candidate in preference
// order until one succeeds.
//
// Grounded on foxcpp-maddy's target/remote/remote.go: one go-smtp Client
// per connected MX, HELO/EHLO then opportunistic STARTTLS when offered,
// MAIL FROM once per domain group, RCPT TO per recipient, then one DATA
// write for the whole body.
type Remote struct {
	Config RemoteConfig
}

func (rt Remote) Deliver(ctx context.Context, meta mailctx.MsgMetadata, from string, rcpts []mailctx.Recipient, body buffer.Buffer) []mailctx.Recipient {
	groups := groupByDomain(rcpts)
	for domain, idxs := range groups {
		rt.deliverDomain(ctx, domain, from, rcpts, idxs, body)
	}
	return rcpts
}

func groupByDomain(rcpts []mailctx.Recipient) map[string][]int {
	groups := make(map[string][]int)
	for i, r := range rcpts {
		groups[r.Addr.Domain()] = append(groups[r.Addr.Domain()], i)
	}
	return groups
}

func (rt Remote) deliverDomain(ctx context.Context, domain, from string, rcpts []mailctx.Recipient, idxs []int, body buffer.Buffer) {
	hosts, err := rt.Config.Resolver.LookupMX(domain)
	if err != nil {
		rt.Config.Log.Error("MX lookup failed, deferring", err, "domain", domain)
		applyFailure(rcpts, idxs)
		return
	}
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].Priority < hosts[j].Priority })

	var lastErr error
	for _, host := range hosts {
		if err := rt.attempt(ctx, host.Name, from, addressesAt(rcpts, idxs), body); err != nil {
			rt.Config.Log.Error("MX candidate failed", err, "domain", domain, "mx", host.Name)
			lastErr = err
			continue
		}
		for _, i := range idxs {
			rcpts[i].Status = mailctx.Sent()
		}
		return
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("remote: no MX candidates for %s", domain)
	}
	rt.Config.Log.Error("all MX candidates exhausted, deferring", lastErr, "domain", domain)
	applyFailure(rcpts, idxs)
}

func addressesAt(rcpts []mailctx.Recipient, idxs []int) []string {
	addrs := make([]string, len(idxs))
	for n, i := range idxs {
		addrs[n] = rcpts[i].Addr.String()
	}
	return addrs
}

// applyFailure marks the recipients at idxs HeldBack; a transient MX or
// network failure is retried by the deferred queue, never treated as
// permanent (spec.md §4.11/§7).
func applyFailure(rcpts []mailctx.Recipient, idxs []int) {
	for _, i := range idxs {
		rcpts[i] = holdBackOne(rcpts[i])
	}
}

func (rt Remote) attempt(ctx context.Context, host, from string, rcpts []string, body buffer.Buffer) error {
	dialer := &net.Dialer{Timeout: rt.dialTimeout()}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, "25"))
	if err != nil {
		return fmt.Errorf("remote: dial %s: %w", host, err)
	}

	cl, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("remote: handshake with %s: %w", host, err)
	}
	defer cl.Close()

	hostname := rt.Config.Hostname
	if hostname == "" {
		hostname = "localhost"
	}
	if err := cl.Hello(hostname); err != nil {
		return fmt.Errorf("remote: HELO to %s: %w", host, err)
	}

	if ok, _ := cl.Extension("STARTTLS"); ok && rt.Config.TLSConfig != nil {
		cfg := rt.Config.TLSConfig.Clone()
		cfg.ServerName = host
		if err := cl.StartTLS(cfg); err != nil {
			return fmt.Errorf("remote: STARTTLS with %s: %w", host, err)
		}
	}

	if err := cl.Mail(from, nil); err != nil {
		return fmt.Errorf("remote: MAIL FROM to %s: %w", host, err)
	}
	for _, addr := range rcpts {
		if err := cl.Rcpt(addr, nil); err != nil {
			return fmt.Errorf("remote: RCPT TO %s at %s: %w", addr, host, err)
		}
	}

	src, err := body.Open()
	if err != nil {
		return fmt.Errorf("remote: opening body: %w", err)
	}
	defer src.Close()

	w, err := cl.Data()
	if err != nil {
		return fmt.Errorf("remote: DATA to %s: %w", host, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		return fmt.Errorf("remote: writing body to %s: %w", host, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("remote: closing DATA to %s: %w", host, err)
	}

	return cl.Quit()
}

func (rt Remote) dialTimeout() time.Duration {
	if rt.Config.DialTimeout == 0 {
		return 30 * time.Second
	}
	return rt.Config.DialTimeout
}
