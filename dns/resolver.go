package dns

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mdns "github.com/miekg/dns"
)

// ResolverConfig contains configuration for the DNS resolver.
type ResolverConfig struct {
	// Nameservers is a list of DNS servers to query (e.g., "8.8.8.8:53").
	// If empty, system resolvers from /etc/resolv.conf are used,
	// falling back to public DNS (8.8.8.8, 1.1.1.1).
	Nameservers []string

	// DNSSEC enables DNSSEC validation for queries.
	// Requires DNSSEC-validating upstream resolvers.
	// When enabled, the Authentic field in Result indicates validation status.
	DNSSEC bool

	// Timeout is the timeout for individual DNS queries. Default is 5 seconds.
	Timeout time.Duration

	// Retries is the number of retries for failed queries. Default is 2.
	Retries int
}

// DNSResolver implements the Resolver interface using github.com/miekg/dns.
// It provides DNSSEC validation support and configurable query behavior.
type DNSResolver struct {
	config ResolverConfig
	client *mdns.Client
}

var _ Resolver = (*DNSResolver)(nil)

// NewResolver creates a new DNS resolver with optional DNSSEC support.
func NewResolver(config ResolverConfig) *DNSResolver {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.Retries == 0 {
		config.Retries = 2
	}
	if len(config.Nameservers) == 0 {
		config.Nameservers = getSystemNameservers()
	}

	return &DNSResolver{
		config: config,
		client: &mdns.Client{
			Timeout: config.Timeout,
		},
	}
}

// getSystemNameservers tries to get system DNS servers from resolv.conf.
func getSystemNameservers() []string {
	config, err := mdns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(config.Servers) == 0 {
		// Fallback to common public DNS servers
		return []string{"8.8.8.8:53", "1.1.1.1:53"}
	}

	servers := make([]string, 0, len(config.Servers))
	for _, s := range config.Servers {
		if !strings.Contains(s, ":") {
			s = s + ":53"
		}
		servers = append(servers, s)
	}
	return servers
}

// ensureAbsolute ensures the domain name ends with a dot (FQDN format).
func ensureAbsolute(name string) string {
	if !strings.HasSuffix(name, ".") {
		return name + "."
	}
	return name
}

// LookupTXT retrieves TXT records for the given domain. Every nameserver is
// tried in turn, Retries+1 times, until one gives a definite answer:
// records, NXDOMAIN or an empty answer. The last failure is returned when
// none does.
func (r *DNSResolver) LookupTXT(ctx context.Context, name string) (Result[string], error) {
	m := new(mdns.Msg)
	m.SetQuestion(ensureAbsolute(name), mdns.TypeTXT)
	m.RecursionDesired = true
	if r.config.DNSSEC {
		// DO bit, so a validating upstream sets AD.
		m.SetEdns0(4096, true)
	}

	lastErr := ErrDNSServFail
	for i := 0; i <= r.config.Retries; i++ {
		for _, server := range r.config.Nameservers {
			if err := ctx.Err(); err != nil {
				return Result[string]{}, err
			}

			resp, _, err := r.client.ExchangeContext(ctx, m, server)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return Result[string]{}, ctxErr
				}
				lastErr = exchangeError(server, err)
				continue
			}

			result, err := r.txtAnswer(resp)
			if err != nil && IsTemporary(err) {
				lastErr = err
				continue
			}
			return result, err
		}
	}
	return Result[string]{}, lastErr
}

// exchangeError classifies a failed exchange with server.
func exchangeError(server string, err error) error {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s: %v", ErrDNSTimeout, server, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrDNSServFail, server, err)
}

// rcodeError maps a response code to a lookup error, nil for NOERROR.
// With DNSSEC on, SERVFAIL usually means validation failed.
func rcodeError(rcode int, dnssec bool) error {
	switch rcode {
	case mdns.RcodeSuccess:
		return nil
	case mdns.RcodeNameError:
		return ErrDNSNotFound
	case mdns.RcodeServerFailure:
		if dnssec {
			return fmt.Errorf("%w: %w", ErrDNSServFail, ErrDNSBogus)
		}
		return ErrDNSServFail
	case mdns.RcodeRefused:
		return ErrDNSRefused
	default:
		return fmt.Errorf("%w: unexpected rcode %s", ErrDNSServFail, mdns.RcodeToString[rcode])
	}
}

// txtAnswer extracts the TXT records of a response. Character strings of
// one record are joined, as a key record may be split over several
// (RFC 6376 section 3.6.2.2). The TTL is the smallest of the records.
func (r *DNSResolver) txtAnswer(resp *mdns.Msg) (Result[string], error) {
	result := Result[string]{Authentic: r.config.DNSSEC && resp.AuthenticatedData}
	if err := rcodeError(resp.Rcode, r.config.DNSSEC); err != nil {
		return result, err
	}

	var ttl uint32
	for _, rr := range resp.Answer {
		txt, ok := rr.(*mdns.TXT)
		if !ok {
			continue
		}
		result.Records = append(result.Records, strings.Join(txt.Txt, ""))
		if ttl == 0 || txt.Hdr.Ttl < ttl {
			ttl = txt.Hdr.Ttl
		}
	}
	if len(result.Records) == 0 {
		return result, ErrDNSNotFound
	}
	result.TTL = time.Duration(ttl) * time.Second
	return result, nil
}

// Config returns the resolver's current configuration.
func (r *DNSResolver) Config() ResolverConfig {
	return r.config
}
