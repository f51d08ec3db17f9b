package dkim

import (
	"bytes"
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// Verifier provides DKIM signature verification.
type Verifier struct {
	// Lookup fetches key records. Required; use ResolverLookup to query DNS.
	Lookup KeyLookup

	// CheckExpiration enables rejection of signatures whose x= lies in the past.
	CheckExpiration bool

	// ExpirationSkew extends x= to allow for clock differences.
	ExpirationSkew time.Duration

	// MinRSAKeyBits is the minimum RSA key size to accept.
	// Default is 1024 (per RFC 8301).
	MinRSAKeyBits int

	// IgnoreBodyHash skips the body hash comparison and only verifies the
	// header signature, for callers that establish the body by other means.
	IgnoreBodyHash bool

	// HonorTestMode reports failing signatures from keys flagged t=y as
	// StatusNone instead of StatusFail.
	HonorTestMode bool

	// Policy is a function that can reject signatures based on policy.
	// Return an error to reject the signature with StatusPolicy.
	// If nil, all signatures are accepted.
	Policy func(*Signature) error

	// Logger receives one debug record per verified signature.
	// If nil, nothing is logged.
	Logger *slog.Logger
}

var errNoLookup = errors.New("dkim: verifier has no key lookup")

// Verify verifies all DKIM-Signature headers in the message.
// Returns a result for each signature found, in header order.
// An error is returned only when the message headers cannot be parsed.
func (v *Verifier) Verify(ctx context.Context, message []byte) ([]Result, error) {
	headers, body, err := SplitMessage(message)
	if err != nil {
		return nil, err
	}
	return v.VerifyHeaders(ctx, headers, body), nil
}

// VerifyHeaders verifies all DKIM-Signature headers of a split message.
func (v *Verifier) VerifyHeaders(ctx context.Context, headers []Header, body []byte) []Result {
	var results []Result
	bodyHashes := make(map[bodyHashKey][]byte)

	for _, hdr := range headers {
		if hdr.Key() != "dkim-signature" {
			continue
		}
		r := v.verifyOne(ctx, hdr, headers, body, bodyHashes)

		attrs := []any{slog.String("status", string(r.Status))}
		if r.Signature != nil {
			attrs = append(attrs,
				slog.String("domain", r.Signature.Domain),
				slog.String("selector", r.Signature.Selector),
			)
		}
		if r.Err != nil {
			attrs = append(attrs, slog.Any("error", r.Err))
		}
		v.logger().Debug("DKIM verification", attrs...)

		results = append(results, r)
	}
	return results
}

// verifyOne runs the verification of a single signature header.
func (v *Verifier) verifyOne(ctx context.Context, hdr Header, headers []Header, body []byte, bodyHashes map[bodyHashKey][]byte) Result {
	sig, err := ParseSignature(hdr.Value)
	if err != nil {
		return Result{Status: StatusPermerror, Err: err}
	}

	r := Result{Signature: sig}
	done := func(err error) Result {
		r.Err = err
		r.Status = StatusOf(err)
		if v.HonorTestMode && r.Testing && r.Status == StatusFail {
			r.Status = StatusNone
		}
		return r
	}

	if err := v.checkSignature(sig); err != nil {
		return done(err)
	}

	if v.Lookup == nil {
		return done(fmt.Errorf("%w: %w", ErrKeyUnavailable, errNoLookup))
	}
	if err := ctx.Err(); err != nil {
		return done(fmt.Errorf("%w: %w", ErrKeyUnavailable, err))
	}
	txt, authentic, err := v.Lookup(ctx, KeyName(sig.Selector, sig.Domain))
	r.RecordAuthentic = authentic
	if err != nil {
		return done(fmt.Errorf("%w: %w", ErrKeyUnavailable, err))
	}

	record, err := ParseRecord(txt)
	if err != nil {
		return done(err)
	}
	r.Record = record
	r.Testing = record.IsTesting()

	if err := v.checkKey(sig, record); err != nil {
		return done(err)
	}

	if v.CheckExpiration && sig.IsExpired(timeNow(), v.ExpirationSkew) {
		return done(fmt.Errorf("%w: expired at %d", ErrSigExpired, sig.ExpireTime))
	}

	hash := sig.Algorithm.Hash()
	if !v.IgnoreBodyHash {
		hk := bodyHashKey{canon: sig.Canonicalization.Body, hash: hash, length: sig.Length}
		bodyHash, ok := bodyHashes[hk]
		if !ok {
			bodyHash, err = BodyHash(body, hk.canon, hk.hash, hk.length)
			if err != nil {
				return done(err)
			}
			bodyHashes[hk] = bodyHash
		}
		if !bytes.Equal(sig.BodyHash, bodyHash) {
			return done(fmt.Errorf("%w: expected %x, got %x", ErrBodyHashMismatch, sig.BodyHash, bodyHash))
		}
	}

	sigHeader := Header{Name: hdr.Name, Value: StripSignatureValue(hdr.Value)}
	digest, err := HeaderHash(headers, sig.SignedHeaders, sigHeader, sig.Canonicalization.Header, hash)
	if err != nil {
		return done(err)
	}
	return done(verifyDigest(record.PublicKey, sig.Algorithm, digest, sig.Signature))
}

// checkSignature applies the checks that need no key record.
func (v *Verifier) checkSignature(sig *Signature) error {
	// From header must be signed
	hasFrom := false
	for _, h := range sig.SignedHeaders {
		if strings.EqualFold(h, "from") {
			hasFrom = true
			break
		}
	}
	if !hasFrom {
		return fmt.Errorf("%w: From header must be signed", ErrFromRequired)
	}

	// Check domain is not a TLD (must have at least 2 labels)
	// This prevents signing as "com" or other top-level domains
	if isTLD(sig.Domain) {
		return fmt.Errorf("%w: %s", ErrTLD, sig.Domain)
	}

	if v.Policy != nil {
		if err := v.Policy(sig); err != nil {
			return fmt.Errorf("%w: %v", ErrPolicy, err)
		}
	}
	return nil
}

// checkKey verifies that the record may be used for the signature.
func (v *Verifier) checkKey(sig *Signature, record *Record) error {
	if record.Revoked() {
		return ErrKeyRevoked
	}

	if !strings.EqualFold(record.Key, sig.Algorithm.KeyType()) {
		return fmt.Errorf("%w: record specifies %s, signature uses %s",
			ErrSigAlgMismatch, record.Key, sig.Algorithm)
	}

	if !record.HashAllowed(sig.Algorithm.Hash()) {
		return fmt.Errorf("%w: record allows %v, signature uses %s",
			ErrHashAlgNotAllowed, record.Hashes, sig.Algorithm.Hash())
	}

	if sig.Identity != "" {
		if !identityWithin(sig.Identity, sig.Domain) {
			return fmt.Errorf("%w: identity %s not under signing domain %s",
				ErrDomainIdentityMismatch, sig.Identity, sig.Domain)
		}
		// Check strict domain alignment if required
		if record.RequireStrictAlignment() {
			id := sig.Identity[strings.LastIndex(sig.Identity, "@")+1:]
			if !strings.EqualFold(strings.TrimSuffix(id, "."), strings.TrimSuffix(sig.Domain, ".")) {
				return fmt.Errorf("%w: strict alignment required", ErrDomainIdentityMismatch)
			}
		}
	}

	if !record.ServiceAllowed("email") {
		return ErrKeyNotForEmail
	}

	if rsaKey, ok := record.PublicKey.(*rsa.PublicKey); ok {
		minBits := v.MinRSAKeyBits
		if minBits == 0 {
			minBits = 1024 // RFC 8301 minimum
		}
		if rsaKey.N.BitLen() < minBits {
			return fmt.Errorf("%w: %d bits, minimum %d", ErrWeakKey, rsaKey.N.BitLen(), minBits)
		}
	}
	return nil
}

func (v *Verifier) logger() *slog.Logger {
	if v.Logger != nil {
		return v.Logger
	}
	return discardLogger
}

// isTLD checks if a domain is at or above the organizational domain level.
// A domain is considered a TLD if it's a public suffix (like "com", "co.uk").
// Uses the Public Suffix List from publicsuffix.org for accurate detection.
func isTLD(domain string) bool {
	domain = strings.TrimSuffix(domain, ".")
	if domain == "" {
		return true
	}

	// EffectiveTLDPlusOne fails when domain is itself a public suffix.
	etldPlusOne, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		return true
	}
	domain = strings.ToLower(domain)
	etldPlusOne = strings.ToLower(etldPlusOne)
	return domain != etldPlusOne && !strings.HasSuffix(domain, "."+etldPlusOne)
}
