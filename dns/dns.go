// Package dns provides the TXT lookups needed to fetch DKIM key records.
//
// Resolvers report whether an answer was DNSSEC-validated by the upstream
// server (the AD bit). They never validate signatures themselves.
package dns

import (
	"context"
	"errors"
	"time"
)

// Resolver looks up TXT records.
type Resolver interface {
	// LookupTXT returns the TXT records of name. Multi-string records are
	// joined. A name without TXT records returns ErrDNSNotFound.
	LookupTXT(ctx context.Context, name string) (Result[string], error)
}

// Result holds the records of a lookup.
type Result[T any] struct {
	Records []T

	// Authentic is true when the answer carried the DNSSEC AD bit from a
	// validating resolver.
	Authentic bool

	// TTL is the smallest TTL of the answer records, zero when unknown.
	TTL time.Duration
}

// Lookup errors.
var (
	ErrDNSNotFound = errors.New("dns: record not found")
	ErrDNSTimeout  = errors.New("dns: query timed out")
	ErrDNSServFail = errors.New("dns: server failure")
	ErrDNSBogus    = errors.New("dns: DNSSEC validation failed")
	ErrDNSRefused  = errors.New("dns: query refused")
)

// IsNotFound reports whether err means the name has no records.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDNSNotFound)
}

// IsTimeout reports whether err is a query timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrDNSTimeout)
}

// IsServFail reports whether err is a SERVFAIL answer.
func IsServFail(err error) bool {
	return errors.Is(err, ErrDNSServFail)
}

// IsTemporary reports whether retrying the query later may succeed.
func IsTemporary(err error) bool {
	return IsTimeout(err) || IsServFail(err) || errors.Is(err, ErrDNSRefused) ||
		errors.Is(err, context.DeadlineExceeded)
}
