package dkim

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strings"
)

// Record represents a DKIM DNS TXT record (RFC 6376 Section 3.6.1).
// The record is retrieved from <selector>._domainkey.<domain>.
type Record struct {
	// Version is the record version, must be "DKIM1".
	Version string

	// Hashes is the list of acceptable hash algorithms (e.g., "sha256", "sha1").
	// Empty means all algorithms are acceptable.
	Hashes []string

	// Key is the key type: "rsa" (default) or "ed25519".
	Key string

	// Notes contains optional human-readable notes.
	Notes string

	// Pubkey is the raw public key data (base64-decoded).
	// Empty means the key has been revoked.
	Pubkey []byte

	// Services lists acceptable service types.
	// Empty or containing "*" means all services.
	Services []string

	// Flags contains key flags:
	//   "y" - Domain is testing DKIM
	//   "s" - i= domain must exactly match d= domain
	Flags []string

	// PublicKey is the parsed public key.
	// This is *rsa.PublicKey or ed25519.PublicKey, nil for a revoked key.
	PublicKey crypto.PublicKey

	// Tags holds the record as parsed, unknown tags included.
	Tags TagList
}

// Revoked reports whether the record has an empty p= tag.
func (r *Record) Revoked() bool {
	return len(r.Pubkey) == 0 && r.PublicKey == nil
}

// ServiceAllowed returns true if the given service is allowed by this key.
func (r *Record) ServiceAllowed(service string) bool {
	if len(r.Services) == 0 {
		return true
	}
	for _, s := range r.Services {
		if s == "*" || strings.EqualFold(s, service) {
			return true
		}
	}
	return false
}

// IsTesting returns true if the key is marked for testing (t=y).
func (r *Record) IsTesting() bool {
	return r.hasFlag("y")
}

// RequireStrictAlignment returns true if strict alignment is required (t=s).
func (r *Record) RequireStrictAlignment() bool {
	return r.hasFlag("s")
}

func (r *Record) hasFlag(flag string) bool {
	for _, f := range r.Flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

// HashAllowed returns true if the given hash algorithm is allowed.
func (r *Record) HashAllowed(hash HashAlgorithm) bool {
	if len(r.Hashes) == 0 {
		return true
	}
	for _, h := range r.Hashes {
		if strings.EqualFold(h, string(hash)) {
			return true
		}
	}
	return false
}

// ToTXT generates a DNS TXT record string from this Record.
func (r *Record) ToTXT() (string, error) {
	var parts []string

	if r.Version != "DKIM1" {
		return "", fmt.Errorf("invalid version: %s", r.Version)
	}
	parts = append(parts, "v=DKIM1")

	if len(r.Hashes) > 0 {
		parts = append(parts, "h="+strings.Join(r.Hashes, ":"))
	}

	// Key type (optional, default is "rsa")
	if r.Key != "" && !strings.EqualFold(r.Key, "rsa") {
		parts = append(parts, "k="+r.Key)
	}

	if r.Notes != "" {
		parts = append(parts, "n="+encodeQPSection(r.Notes))
	}

	if len(r.Services) > 0 && !(len(r.Services) == 1 && r.Services[0] == "*") {
		parts = append(parts, "s="+strings.Join(r.Services, ":"))
	}

	if len(r.Flags) > 0 {
		parts = append(parts, "t="+strings.Join(r.Flags, ":"))
	}

	// Public key (required, empty means revoked)
	pk := r.Pubkey
	if len(pk) == 0 && r.PublicKey != nil {
		var err error
		pk, err = MarshalPublicKey(r.PublicKey)
		if err != nil {
			return "", err
		}
	}
	parts = append(parts, "p="+base64.StdEncoding.EncodeToString(pk))

	return strings.Join(parts, "; "), nil
}

// MarshalPublicKey converts a public key to bytes for the p= tag.
func MarshalPublicKey(key crypto.PublicKey) ([]byte, error) {
	switch k := key.(type) {
	case *rsa.PublicKey:
		return x509.MarshalPKIXPublicKey(k)
	case ed25519.PublicKey:
		return []byte(k), nil
	default:
		return nil, fmt.Errorf("unsupported public key type: %T", key)
	}
}

// encodeQPSection encodes a string for use in DKIM record notes.
func encodeQPSection(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for _, c := range []byte(s) {
		if c > ' ' && c < 0x7f && c != '=' && c != ';' {
			b.WriteByte(c)
		} else {
			b.WriteByte('=')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0f])
		}
	}
	return b.String()
}

// ParseRecord parses a DKIM DNS TXT record.
//
// A missing p= tag is an error, an empty p= is a revoked key. Records with a
// v= other than DKIM1 or a k= other than rsa or ed25519 are rejected.
func ParseRecord(txt string) (*Record, error) {
	tags, err := ParseTagList(txt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedKeyRecord, err)
	}

	record := &Record{
		Version:  "DKIM1",
		Key:      "rsa",
		Services: []string{"*"},
		Tags:     tags,
	}

	if v, ok := tags.Get("v"); ok && v != "DKIM1" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKeyVersion, v)
	}
	if v, ok := tags.Get("h"); ok {
		record.Hashes = splitList(v, ":")
	}
	if v, ok := tags.Get("k"); ok {
		record.Key = strings.ToLower(v)
		if record.Key != "rsa" && record.Key != "ed25519" {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedKeyType, v)
		}
	}
	if v, ok := tags.Get("n"); ok {
		record.Notes = decodeQPSection(v)
	}
	if v, ok := tags.Get("s"); ok {
		record.Services = splitList(v, ":")
	}
	if v, ok := tags.Get("t"); ok {
		record.Flags = splitList(v, ":")
	}

	p, ok := tags.Get("p")
	if !ok {
		return nil, fmt.Errorf("%w: missing public key (p=)", ErrMalformedKeyRecord)
	}
	if p = removeFWS(p); p == "" {
		return record, nil
	}
	record.Pubkey, err = base64.StdEncoding.DecodeString(p)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid public key encoding: %v", ErrMalformedKeyRecord, err)
	}
	record.PublicKey, err = parsePublicKey(record.Key, record.Pubkey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKeyRecord, err)
	}
	return record, nil
}

// parsePublicKey parses a public key based on the key type.
func parsePublicKey(keyType string, data []byte) (crypto.PublicKey, error) {
	switch keyType {
	case "", "rsa":
		pk, err := x509.ParsePKIXPublicKey(data)
		if err != nil {
			// Some records publish a bare PKCS#1 RSAPublicKey.
			rsaPK, err2 := x509.ParsePKCS1PublicKey(data)
			if err2 != nil {
				return nil, fmt.Errorf("invalid RSA public key: %w", err)
			}
			return rsaPK, nil
		}
		rsaPK, ok := pk.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("expected RSA public key, got %T", pk)
		}
		return rsaPK, nil

	case "ed25519":
		// Ed25519 key is raw bytes
		if len(data) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("invalid Ed25519 public key size: %d", len(data))
		}
		return ed25519.PublicKey(data), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKeyType, keyType)
	}
}

// decodeQPSection decodes a quoted-printable encoded section.
func decodeQPSection(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '=' && i+2 < len(s) {
			hi := hexVal(s[i+1])
			lo := hexVal(s[i+2])
			if hi >= 0 && lo >= 0 {
				b.WriteByte(byte(hi<<4 | lo))
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'F':
		return int(c - 'A' + 10)
	case c >= 'a' && c <= 'f':
		return int(c - 'a' + 10)
	}
	return -1
}
