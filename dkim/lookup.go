package dkim

import (
	"context"
	"fmt"
	"strings"

	"github.com/synqronlabs/domainkey/dns"
)

// KeyLookup fetches the key record published at name, which has the form
// <selector>._domainkey.<domain>. It returns the TXT record text and whether
// the answer was DNSSEC-authenticated. A name without a key record should
// return an error wrapping ErrNoRecord.
type KeyLookup func(ctx context.Context, name string) (txt string, authentic bool, err error)

// KeyName returns the DNS name of a key record.
func KeyName(selector, domain string) string {
	return selector + "._domainkey." + strings.TrimSuffix(domain, ".")
}

// ResolverLookup returns a KeyLookup querying TXT records through r.
//
// TXT records that do not look like DKIM key records are ignored. If more
// than one remains the lookup fails with ErrMultipleRecords.
func ResolverLookup(r dns.Resolver) KeyLookup {
	return func(ctx context.Context, name string) (string, bool, error) {
		result, err := r.LookupTXT(ctx, name)
		if err != nil {
			if dns.IsNotFound(err) {
				return "", result.Authentic, fmt.Errorf("%w: %s", ErrNoRecord, name)
			}
			return "", result.Authentic, fmt.Errorf("%w: %s: %w", ErrDNS, name, err)
		}

		var found []string
		for _, txt := range result.Records {
			if looksLikeKeyRecord(txt) {
				found = append(found, txt)
			}
		}
		switch len(found) {
		case 0:
			return "", result.Authentic, fmt.Errorf("%w: %s", ErrNoRecord, name)
		case 1:
			return found[0], result.Authentic, nil
		default:
			return "", result.Authentic, fmt.Errorf("%w: %s has %d", ErrMultipleRecords, name, len(found))
		}
	}
}

// StaticKey returns a KeyLookup that answers every query with txt. It is
// meant for callers that already hold the key record.
func StaticKey(txt string) KeyLookup {
	return func(ctx context.Context, name string) (string, bool, error) {
		return txt, false, nil
	}
}

// looksLikeKeyRecord reports whether a TXT record is meant as a DKIM key
// record: it starts with v=DKIM1 or is a tag list carrying a p= tag.
// Broken records that match are still returned so their errors surface.
func looksLikeKeyRecord(txt string) bool {
	if strings.HasPrefix(strings.TrimLeft(txt, " \t"), "v=DKIM1") {
		return true
	}
	tags, err := ParseTagList(txt)
	if err != nil {
		return false
	}
	_, ok := tags.Get("p")
	return ok
}
