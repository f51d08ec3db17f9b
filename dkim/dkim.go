// Package dkim implements DomainKeys Identified Mail (DKIM) signatures per RFC 6376.
//
// DKIM allows a sender to associate a domain name with an email message,
// thus vouching for its authenticity. A message is signed by adding a
// DKIM-Signature header, which contains a cryptographic signature of the
// message headers and body.
//
// This implementation supports:
//   - RSA-SHA256 (required by RFC 6376)
//   - RSA-SHA1 (deprecated, accepted for verification, discouraged for signing)
//   - Ed25519-SHA256 (RFC 8463)
//
// The package never performs DNS queries on its own. Key records are obtained
// through a KeyLookup function supplied by the caller; ResolverLookup adapts a
// dns.Resolver and StaticKey serves a record the caller already holds.
//
// # Basic Usage
//
// Signing a message:
//
//	signer := dkim.Signer{
//	    Domain:     "example.com",
//	    Selector:   "selector1",
//	    PrivateKey: privateKey,
//	}
//	header, err := signer.Sign(message)
//
// Verifying a message:
//
//	v := &dkim.Verifier{Lookup: dkim.ResolverLookup(resolver)}
//	results, err := v.Verify(ctx, message)
//	for _, r := range results {
//	    if r.Status == dkim.StatusPass {
//	        // Signature verified
//	    }
//	}
package dkim

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"strings"
	"time"
)

// Status represents the result of DKIM verification per RFC 8601.
type Status string

const (
	// StatusNone indicates the message was not signed.
	StatusNone Status = "none"

	// StatusPass indicates the signature was verified successfully.
	StatusPass Status = "pass"

	// StatusFail indicates the signature verification failed.
	StatusFail Status = "fail"

	// StatusPolicy indicates the signature is not accepted by policy.
	StatusPolicy Status = "policy"

	// StatusNeutral indicates the signature could not be processed.
	StatusNeutral Status = "neutral"

	// StatusTemperror indicates a temporary error (e.g., DNS timeout).
	StatusTemperror Status = "temperror"

	// StatusPermerror indicates a permanent error (e.g., invalid syntax).
	StatusPermerror Status = "permerror"
)

// Algorithm is a signing algorithm as named in the a= tag. Only the
// constants below are valid.
type Algorithm string

const (
	// AlgRSASHA256 is the RSA-SHA256 algorithm (required by RFC 6376).
	AlgRSASHA256 Algorithm = "rsa-sha256"

	// AlgRSASHA1 is the deprecated RSA-SHA1 algorithm.
	AlgRSASHA1 Algorithm = "rsa-sha1"

	// AlgEd25519SHA256 is the Ed25519-SHA256 algorithm (RFC 8463).
	AlgEd25519SHA256 Algorithm = "ed25519-sha256"
)

// ParseAlgorithm parses an a= tag value.
func ParseAlgorithm(s string) (Algorithm, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch a := Algorithm(s); a {
	case AlgRSASHA256, AlgRSASHA1, AlgEd25519SHA256:
		return a, nil
	}
	if _, h, ok := strings.Cut(s, "-"); ok {
		if _, known := HashAlgorithm(h).crypto(); !known {
			return "", fmt.Errorf("%w: %s", ErrHashAlgorithmUnknown, s)
		}
	}
	return "", fmt.Errorf("%w: %s", ErrSigAlgorithmUnknown, s)
}

// Hash returns the hash half of the algorithm. The same hash is used for
// both the body hash and the header hash.
func (a Algorithm) Hash() HashAlgorithm {
	switch a {
	case AlgRSASHA1:
		return HashSHA1
	case AlgRSASHA256, AlgEd25519SHA256:
		return HashSHA256
	}
	return ""
}

// KeyType returns the key type half of the algorithm, as used in the k= tag
// of key records ("rsa" or "ed25519").
func (a Algorithm) KeyType() string {
	switch a {
	case AlgRSASHA1, AlgRSASHA256:
		return "rsa"
	case AlgEd25519SHA256:
		return "ed25519"
	}
	return ""
}

// HashAlgorithm is a hash algorithm name as used in the a= and h= tags.
type HashAlgorithm string

const (
	HashSHA1   HashAlgorithm = "sha1"
	HashSHA256 HashAlgorithm = "sha256"
)

func (h HashAlgorithm) crypto() (crypto.Hash, bool) {
	switch h {
	case HashSHA256:
		return crypto.SHA256, true
	case HashSHA1:
		return crypto.SHA1, true
	}
	return 0, false
}

// New returns a fresh hash.Hash for the algorithm.
func (h HashAlgorithm) New() (hash.Hash, error) {
	switch h {
	case HashSHA256:
		return sha256.New(), nil
	case HashSHA1:
		return sha1.New(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrHashAlgorithmUnknown, h)
}

// Canonicalization represents header/body canonicalization algorithms.
type Canonicalization string

const (
	// CanonSimple uses the "simple" canonicalization algorithm.
	CanonSimple Canonicalization = "simple"

	// CanonRelaxed uses the "relaxed" canonicalization algorithm.
	CanonRelaxed Canonicalization = "relaxed"
)

// CanonicalizationMode holds the header and body canonicalization of a
// signature. Both always travel together in the c= tag.
type CanonicalizationMode struct {
	Header Canonicalization
	Body   Canonicalization
}

// String returns the c= tag value, e.g. "relaxed/simple".
func (m CanonicalizationMode) String() string {
	return string(m.Header) + "/" + string(m.Body)
}

// ParseCanonicalizationMode parses a c= tag value. An empty value means
// simple/simple, and a missing body part defaults to simple.
func ParseCanonicalizationMode(s string) (CanonicalizationMode, error) {
	mode := CanonicalizationMode{Header: CanonSimple, Body: CanonSimple}
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return mode, nil
	}
	header, body, hasBody := strings.Cut(s, "/")
	c, err := parseCanonicalization(header)
	if err != nil {
		return mode, fmt.Errorf("%w: header %s", ErrCanonicalizationUnknown, header)
	}
	mode.Header = c
	if hasBody {
		c, err = parseCanonicalization(body)
		if err != nil {
			return mode, fmt.Errorf("%w: body %s", ErrCanonicalizationUnknown, body)
		}
		mode.Body = c
	}
	return mode, nil
}

func parseCanonicalization(s string) (Canonicalization, error) {
	switch c := Canonicalization(strings.TrimSpace(s)); c {
	case CanonSimple, CanonRelaxed:
		return c, nil
	}
	return "", ErrCanonicalizationUnknown
}

// Header is a message header field as it appeared in transit.
type Header struct {
	// Name is the field name with its original case.
	Name string

	// Value is everything after the colon, folding intact, without the
	// terminating CRLF.
	Value string
}

// Common errors.
var (
	// Key lookup errors.
	ErrNoRecord        = errors.New("dkim: no DKIM DNS record found")
	ErrMultipleRecords = errors.New("dkim: multiple DKIM DNS records found")
	ErrDNS             = errors.New("dkim: DNS lookup failed")
	ErrKeyUnavailable  = errors.New("dkim: key unavailable")

	// Tag list and record errors.
	ErrMalformedTagList      = errors.New("dkim: malformed tag list")
	ErrMalformedKeyRecord    = errors.New("dkim: malformed key record")
	ErrUnsupportedKeyVersion = errors.New("dkim: unsupported key record version")
	ErrUnsupportedKeyType    = errors.New("dkim: unsupported key type")

	// Signature header errors.
	ErrSignatureSyntax         = errors.New("dkim: syntax error in DKIM-Signature")
	ErrMissingTag              = errors.New("dkim: missing required tag")
	ErrInvalidVersion          = errors.New("dkim: invalid version")
	ErrSigAlgorithmUnknown     = errors.New("dkim: unknown signature algorithm")
	ErrHashAlgorithmUnknown    = errors.New("dkim: unknown hash algorithm")
	ErrCanonicalizationUnknown = errors.New("dkim: unknown canonicalization")
	ErrQueryMethod             = errors.New("dkim: no recognized query method")
	ErrBodyHashLength          = errors.New("dkim: body hash length mismatch")
	ErrHeaderMalformed         = errors.New("dkim: mail header is malformed")
	ErrNoSignature             = errors.New("dkim: message has no DKIM-Signature header")

	// Verification errors.
	ErrFromRequired           = errors.New("dkim: From header is required")
	ErrTLD                    = errors.New("dkim: signed domain is top-level domain")
	ErrSigAlgMismatch         = errors.New("dkim: signature algorithm mismatch with DNS record")
	ErrHashAlgNotAllowed      = errors.New("dkim: hash algorithm not allowed by DNS record")
	ErrKeyNotForEmail         = errors.New("dkim: DNS record not allowed for email")
	ErrDomainIdentityMismatch = errors.New("dkim: domain and identity mismatch")
	ErrWeakKey                = errors.New("dkim: key is too weak")
	ErrKeyRevoked             = errors.New("dkim: key has been revoked")
	ErrSigExpired             = errors.New("dkim: signature has expired")
	ErrBodyHashMismatch       = errors.New("dkim: body hash does not match")
	ErrSigVerify              = errors.New("dkim: signature verification failed")
	ErrPolicy                 = errors.New("dkim: signature rejected by policy")

	// Signing errors.
	ErrKeyAlgorithmMismatch = errors.New("dkim: private key does not match signing algorithm")
)

// StatusOf maps a verification error to the status it is reported with.
// A nil error is a pass; unknown errors are permanent.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusPass
	case errors.Is(err, ErrKeyUnavailable):
		return StatusTemperror
	case errors.Is(err, ErrPolicy):
		return StatusPolicy
	case errors.Is(err, ErrKeyRevoked),
		errors.Is(err, ErrHashAlgNotAllowed),
		errors.Is(err, ErrSigExpired),
		errors.Is(err, ErrBodyHashMismatch),
		errors.Is(err, ErrSigVerify):
		return StatusFail
	}
	return StatusPermerror
}

// Result represents the result of verifying a single DKIM-Signature.
type Result struct {
	// Status is the verification result.
	Status Status

	// Signature is the parsed DKIM-Signature header.
	// Nil when the header could not be parsed.
	Signature *Signature

	// Record is the parsed DKIM DNS record.
	Record *Record

	// RecordAuthentic indicates if the DNS record was DNSSEC-validated.
	RecordAuthentic bool

	// Testing is set when the key record carries the t=y flag.
	Testing bool

	// Err contains any error that occurred during verification.
	Err error
}

// Reason returns a short human readable reason for a non-pass result,
// suitable for the reason part of an Authentication-Results header.
func (r Result) Reason() string {
	if r.Err == nil {
		return ""
	}
	return strings.TrimPrefix(r.Err.Error(), "dkim: ")
}

// DefaultSignedHeaders is the default list of headers to sign.
// These headers are commonly signed for message integrity.
var DefaultSignedHeaders = []string{
	"From",
	"To",
	"Cc",
	"Subject",
	"Date",
	"Message-ID",
	"In-Reply-To",
	"References",
	"MIME-Version",
	"Content-Type",
	"Content-Transfer-Encoding",
	"Content-Disposition",
	"Reply-To",
}

// MinimumSignedHeaders is the minimum set of headers that should be signed.
var MinimumSignedHeaders = []string{
	"From",
	"To",
	"Subject",
	"Date",
}

// timeNow is used for testing.
var timeNow = time.Now

// cryptoRand is the random source for signing.
var cryptoRand = rand.Reader

// signDigest signs the header hash with the given key.
// Ed25519 signs the digest itself (PureEdDSA over the SHA-256 output, RFC 8463).
func signDigest(key crypto.Signer, alg Algorithm, digest []byte) ([]byte, error) {
	switch alg {
	case AlgRSASHA1, AlgRSASHA256:
		if _, ok := key.Public().(*rsa.PublicKey); !ok {
			return nil, fmt.Errorf("%w: %s with %T", ErrKeyAlgorithmMismatch, alg, key.Public())
		}
		h, _ := alg.Hash().crypto()
		return key.Sign(cryptoRand, digest, h)
	case AlgEd25519SHA256:
		if _, ok := key.Public().(ed25519.PublicKey); !ok {
			return nil, fmt.Errorf("%w: %s with %T", ErrKeyAlgorithmMismatch, alg, key.Public())
		}
		return key.Sign(cryptoRand, digest, crypto.Hash(0))
	}
	return nil, fmt.Errorf("%w: %s", ErrSigAlgorithmUnknown, alg)
}

// verifyDigest verifies a signature over the header hash.
func verifyDigest(key crypto.PublicKey, alg Algorithm, digest, signature []byte) error {
	switch alg {
	case AlgRSASHA1, AlgRSASHA256:
		k, ok := key.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("%w: %T for %s", ErrSigAlgMismatch, key, alg)
		}
		h, _ := alg.Hash().crypto()
		if err := rsa.VerifyPKCS1v15(k, h, digest, signature); err != nil {
			return fmt.Errorf("%w: %v", ErrSigVerify, err)
		}
		return nil
	case AlgEd25519SHA256:
		k, ok := key.(ed25519.PublicKey)
		if !ok {
			return fmt.Errorf("%w: %T for %s", ErrSigAlgMismatch, key, alg)
		}
		if len(signature) != ed25519.SignatureSize || !ed25519.Verify(k, digest, signature) {
			return ErrSigVerify
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrSigAlgorithmUnknown, alg)
}
