// Package resolve turns hostname targets into IP literals. The backend only
// accepts IP addresses, so names are resolved on the client before submission.
package resolve

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/anstrom/scanconsole/internal/errors"
)

const (
	defaultResolvConf = "/etc/resolv.conf"
	defaultTimeout    = 5 * time.Second
)

// Resolver queries a nameserver for A records, falling back to AAAA.
type Resolver struct {
	client     *dns.Client
	nameserver string
}

// New creates a resolver for nameserver (host:port). An empty nameserver uses
// the first server in /etc/resolv.conf.
func New(nameserver string) (*Resolver, error) {
	if nameserver == "" {
		conf, err := dns.ClientConfigFromFile(defaultResolvConf)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", defaultResolvConf, err)
		}
		if len(conf.Servers) == 0 {
			return nil, fmt.Errorf("no nameservers configured in %s", defaultResolvConf)
		}
		nameserver = net.JoinHostPort(conf.Servers[0], conf.Port)
	} else if _, _, err := net.SplitHostPort(nameserver); err != nil {
		nameserver = net.JoinHostPort(nameserver, "53")
	}

	return &Resolver{
		client:     &dns.Client{Net: "udp", Timeout: defaultTimeout},
		nameserver: nameserver,
	}, nil
}

// Nameserver returns the server queried.
func (r *Resolver) Nameserver() string {
	return r.nameserver
}

// Resolve returns host unchanged when it is already an IP literal, otherwise
// the first IPv4 address found, otherwise the first IPv6 address.
func (r *Resolver) Resolve(ctx context.Context, host string) (string, error) {
	host = strings.TrimSpace(host)
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		ip, err := r.query(ctx, host, qtype)
		if err != nil {
			return "", errors.WrapScanError(errors.CodeResolution,
				fmt.Sprintf("DNS lookup for %s failed", host), host, err)
		}
		if ip != "" {
			return ip, nil
		}
	}

	return "", errors.NewScanErrorWithTarget(errors.CodeResolution,
		fmt.Sprintf("no address records found for %s", host), host)
}

func (r *Resolver) query(ctx context.Context, host string, qtype uint16) (string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, msg, r.nameserver)
	if err != nil {
		return "", err
	}
	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return "", fmt.Errorf("%s does not exist", host)
	default:
		return "", fmt.Errorf("nameserver answered %s", dns.RcodeToString[resp.Rcode])
	}

	for _, rr := range resp.Answer {
		switch rec := rr.(type) {
		case *dns.A:
			if qtype == dns.TypeA {
				return rec.A.String(), nil
			}
		case *dns.AAAA:
			if qtype == dns.TypeAAAA {
				return rec.AAAA.String(), nil
			}
		}
	}
	return "", nil
}
