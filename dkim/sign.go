package dkim

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Signer provides DKIM message signing.
type Signer struct {
	// Domain is the signing domain (d= tag).
	Domain string

	// Selector is the selector for the signing key (s= tag).
	Selector string

	// PrivateKey is the signing key.
	// Supported types: *rsa.PrivateKey, ed25519.PrivateKey
	PrivateKey crypto.Signer

	// Algorithm is the signing algorithm (a= tag).
	// If empty, rsa-sha256 is used for RSA keys and ed25519-sha256 for
	// Ed25519 keys.
	Algorithm Algorithm

	// Headers is the list of headers to sign.
	// If empty, DefaultSignedHeaders is used. From is always signed.
	Headers []string

	// HeaderCanonicalization is the header canonicalization algorithm.
	// Default is CanonRelaxed.
	HeaderCanonicalization Canonicalization

	// BodyCanonicalization is the body canonicalization algorithm.
	// Default is CanonRelaxed.
	BodyCanonicalization Canonicalization

	// Identity is the signing identity (i= tag).
	// If empty, the tag is omitted and verifiers assume "@" + Domain.
	Identity string

	// Expiration is the signature validity period.
	// If zero, no expiration is set.
	Expiration time.Duration

	// BodyLength, when positive, limits the signed body to that many
	// canonicalized bytes and sets the l= tag.
	BodyLength int64

	// OversignHeaders causes header names to be repeated to prevent header addition.
	// When enabled, each header in Headers is signed one more time than it appears
	// in the message, which prevents additional headers with the same name from
	// being added later.
	OversignHeaders bool

	// Logger receives warnings, such as the use of rsa-sha1.
	// If nil, nothing is logged.
	Logger *slog.Logger
}

var errSignerIncomplete = errors.New("dkim: signer requires Domain, Selector and PrivateKey")

// Sign signs the message and returns the DKIM-Signature header, including
// the trailing CRLF, ready to be prepended to the message.
// The message should be the complete RFC 5322 message (headers + body).
func (s *Signer) Sign(message []byte) (string, error) {
	headers, body, err := SplitMessage(message)
	if err != nil {
		return "", fmt.Errorf("parsing message headers: %w", err)
	}
	sig, err := s.sign(headers, body, nil)
	if err != nil {
		return "", err
	}
	return sig.Header(true) + "\r\n", nil
}

// SignHeaders signs an already split message and returns the complete
// signature.
func (s *Signer) SignHeaders(headers []Header, body []byte) (*Signature, error) {
	return s.sign(headers, body, nil)
}

// bodyHashKey is used to cache body hashes by canonicalization and hash algorithm.
type bodyHashKey struct {
	canon  Canonicalization
	hash   HashAlgorithm
	length int64
}

// SignMultiple signs the message with multiple selectors.
// Returns multiple DKIM-Signature headers concatenated.
// This function caches body hashes to avoid recomputation when multiple
// signers use the same canonicalization and hash algorithm.
func SignMultiple(message []byte, signers []Signer) (string, error) {
	if len(signers) == 0 {
		return "", nil
	}

	// Parse message once for all signers
	headers, body, err := SplitMessage(message)
	if err != nil {
		return "", fmt.Errorf("parsing message headers: %w", err)
	}

	bodyHashes := make(map[bodyHashKey][]byte)

	var result strings.Builder
	for i := range signers {
		sig, err := signers[i].sign(headers, body, bodyHashes)
		if err != nil {
			return "", fmt.Errorf("signer %d: %w", i, err)
		}
		result.WriteString(sig.Header(true))
		result.WriteString("\r\n")
	}
	return result.String(), nil
}

// sign builds the signature. bodyHashes may be nil.
func (s *Signer) sign(headers []Header, body []byte, bodyHashes map[bodyHashKey][]byte) (*Signature, error) {
	if s.Domain == "" || s.Selector == "" || s.PrivateKey == nil {
		return nil, errSignerIncomplete
	}

	alg, err := s.algorithm()
	if err != nil {
		return nil, err
	}
	if alg == AlgRSASHA1 {
		s.logger().Warn("signing with deprecated algorithm",
			slog.String("algorithm", string(alg)),
			slog.String("domain", s.Domain),
			slog.String("selector", s.Selector),
		)
	}

	// Verify exactly one From header exists (RFC 6376 requirement)
	if n := countHeaders(headers, "from"); n != 1 {
		if n == 0 {
			return nil, ErrFromRequired
		}
		return nil, fmt.Errorf("%w: message has %d From headers, need exactly 1", ErrFromRequired, n)
	}

	sig := NewSignature()
	sig.Domain = s.Domain
	sig.Selector = s.Selector
	sig.Algorithm = alg
	sig.Canonicalization = CanonicalizationMode{
		Header: orDefault(s.HeaderCanonicalization, CanonRelaxed),
		Body:   orDefault(s.BodyCanonicalization, CanonRelaxed),
	}
	for _, c := range []Canonicalization{sig.Canonicalization.Header, sig.Canonicalization.Body} {
		if _, err := parseCanonicalization(string(c)); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrCanonicalizationUnknown, c)
		}
	}
	sig.SignedHeaders = s.signedHeaders(headers)

	if s.Identity != "" {
		if !identityWithin(s.Identity, s.Domain) {
			return nil, fmt.Errorf("%w: %s is not within %s", ErrDomainIdentityMismatch, s.Identity, s.Domain)
		}
		sig.Identity = s.Identity
	}

	sig.SignTime = timeNow().Unix()
	if s.Expiration > 0 {
		sig.ExpireTime = sig.SignTime + int64(s.Expiration.Seconds())
	}
	if s.BodyLength > 0 {
		sig.Length = s.BodyLength
	}

	hk := bodyHashKey{canon: sig.Canonicalization.Body, hash: alg.Hash(), length: sig.Length}
	bodyHash, ok := bodyHashes[hk]
	if !ok {
		bodyHash, err = BodyHash(body, hk.canon, hk.hash, hk.length)
		if err != nil {
			return nil, fmt.Errorf("computing body hash: %w", err)
		}
		if bodyHashes != nil {
			bodyHashes[hk] = bodyHash
		}
	}
	sig.BodyHash = bodyHash

	// Hash the headers and the signature header without the actual signature
	draft := Header{Name: "DKIM-Signature", Value: sig.Value(false)}
	digest, err := HeaderHash(headers, sig.SignedHeaders, draft, sig.Canonicalization.Header, alg.Hash())
	if err != nil {
		return nil, fmt.Errorf("computing header hash: %w", err)
	}

	sig.Signature, err = signDigest(s.PrivateKey, alg, digest)
	if err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}
	return sig, nil
}

// algorithm determines the signing algorithm, defaulting based on the
// private key type.
func (s *Signer) algorithm() (Algorithm, error) {
	if s.Algorithm != "" {
		alg, err := ParseAlgorithm(string(s.Algorithm))
		if err != nil {
			return "", err
		}
		if !keyMatches(s.PrivateKey, alg) {
			return "", fmt.Errorf("%w: %s with %T", ErrKeyAlgorithmMismatch, alg, s.PrivateKey)
		}
		return alg, nil
	}

	switch s.PrivateKey.Public().(type) {
	case *rsa.PublicKey:
		return AlgRSASHA256, nil
	case ed25519.PublicKey:
		return AlgEd25519SHA256, nil
	default:
		return "", fmt.Errorf("%w: unsupported key %T", ErrKeyAlgorithmMismatch, s.PrivateKey)
	}
}

func keyMatches(key crypto.Signer, alg Algorithm) bool {
	switch key.Public().(type) {
	case *rsa.PublicKey:
		return alg.KeyType() == "rsa"
	case ed25519.PublicKey:
		return alg.KeyType() == "ed25519"
	}
	return false
}

// signedHeaders returns the h= list: the configured names present in the
// message, From first if it was not configured, plus oversigning entries.
func (s *Signer) signedHeaders(headers []Header) []string {
	names := s.Headers
	if len(names) == 0 {
		names = DefaultSignedHeaders
	}

	hasFrom := false
	for _, h := range names {
		if strings.EqualFold(h, "from") {
			hasFrom = true
			break
		}
	}
	if !hasFrom {
		names = append([]string{"From"}, names...)
	}

	present := make(map[string]int)
	for _, h := range headers {
		present[h.Key()]++
	}

	var signed []string
	for _, h := range names {
		if present[strings.ToLower(h)] > 0 {
			signed = append(signed, h)
		}
	}

	// Oversign headers (add each header name one more time to prevent additions)
	if s.OversignHeaders {
		counts := make(map[string]int)
		for _, h := range signed {
			counts[strings.ToLower(h)]++
		}
		for _, h := range signed {
			lh := strings.ToLower(h)
			for counts[lh] < present[lh]+1 {
				signed = append(signed, h)
				counts[lh]++
			}
		}
	}
	return signed
}

func (s *Signer) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return discardLogger
}

var discardLogger = slog.New(slog.DiscardHandler)

func orDefault(c, def Canonicalization) Canonicalization {
	if c == "" {
		return def
	}
	return c
}

// identityWithin reports whether the domain part of an i= value equals
// domain or is a subdomain of it.
func identityWithin(identity, domain string) bool {
	at := strings.LastIndex(identity, "@")
	if at < 0 {
		return false
	}
	id := strings.ToLower(strings.TrimSuffix(identity[at+1:], "."))
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	return id == domain || strings.HasSuffix(id, "."+domain)
}
