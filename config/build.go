package config

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/synqronlabs/domainkey/dkim"
	"github.com/synqronlabs/domainkey/dns"
)

// ErrNoKey is returned when a PEM file holds no usable private key.
var ErrNoKey = errors.New("config: no private key found")

// NewSigner builds a signer from the signer section, loading the key file.
func (c *Config) NewSigner(logger *slog.Logger) (*dkim.Signer, error) {
	sc := c.Signer
	if sc.Domain == "" || sc.Selector == "" || sc.KeyFile == "" {
		return nil, errors.New("config: signer requires domain, selector and key_file")
	}

	data, err := os.ReadFile(sc.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	key, err := ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", sc.KeyFile, err)
	}

	mode, err := dkim.ParseCanonicalizationMode(sc.Canonicalization)
	if err != nil {
		return nil, err
	}

	signer := &dkim.Signer{
		Domain:                 sc.Domain,
		Selector:               sc.Selector,
		PrivateKey:             key,
		Headers:                sc.Headers,
		HeaderCanonicalization: mode.Header,
		BodyCanonicalization:   mode.Body,
		Identity:               sc.Identity,
		BodyLength:             sc.BodyLength,
		OversignHeaders:        sc.Oversign,
		Logger:                 logger,
	}
	if sc.Algorithm != "" {
		if signer.Algorithm, err = dkim.ParseAlgorithm(sc.Algorithm); err != nil {
			return nil, err
		}
	}
	if signer.Expiration, err = parseDuration("signer.expiration", sc.Expiration); err != nil {
		return nil, err
	}
	return signer, nil
}

// NewVerifier builds a verifier that fetches keys through resolver.
func (c *Config) NewVerifier(resolver dns.Resolver, logger *slog.Logger) (*dkim.Verifier, error) {
	skew, err := parseDuration("verifier.expiration_skew", c.Verifier.ExpirationSkew)
	if err != nil {
		return nil, err
	}
	return &dkim.Verifier{
		Lookup:          dkim.ResolverLookup(resolver),
		CheckExpiration: c.Verifier.CheckExpiration,
		ExpirationSkew:  skew,
		MinRSAKeyBits:   c.Verifier.MinRSAKeyBits,
		HonorTestMode:   c.Verifier.HonorTestMode,
		IgnoreBodyHash:  c.Verifier.IgnoreBodyHash,
		Logger:          logger,
	}, nil
}

// NewResolver builds the resolver described by the dns section, wrapped in
// a cache unless the cache is disabled.
func (c *Config) NewResolver() (dns.Resolver, error) {
	timeout, err := parseDuration("dns.timeout", c.DNS.Timeout)
	if err != nil {
		return nil, err
	}

	var r dns.Resolver
	if c.DNS.System {
		r = dns.NewStdResolver()
	} else {
		r = dns.NewResolver(dns.ResolverConfig{
			Nameservers: c.DNS.Nameservers,
			DNSSEC:      c.DNS.DNSSEC,
			Timeout:     timeout,
			Retries:     c.DNS.Retries,
		})
	}

	if c.DNS.CacheSize < 0 {
		return r, nil
	}
	cached, err := dns.NewCachingResolver(r, dns.CacheConfig{Size: c.DNS.CacheSize})
	if err != nil {
		return nil, err
	}
	return cached, nil
}

// NewLogger builds the logger described by the logging section. Output goes
// to w unless a log file is configured. The returned closer must be closed
// when logging is done.
func (c *Config) NewLogger(w io.Writer) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return nil, nil, fmt.Errorf("logging.level: %w", err)
	}

	closer := io.Closer(nopCloser{})
	if c.Logging.File != "" {
		lj := &lumberjack.Logger{
			LocalTime:  true,
			Filename:   c.Logging.File,
			MaxSize:    c.Logging.MaxSizeMB,
			MaxAge:     c.Logging.MaxAgeDays,
			MaxBackups: c.Logging.MaxBackups,
			Compress:   c.Logging.Compress,
		}
		w, closer = lj, lj
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(c.Logging.Format) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, nil, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}
	return slog.New(h), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// ParsePrivateKey parses the first private key in PEM data. RSA keys may be
// PKCS#1 or PKCS#8, Ed25519 keys must be PKCS#8.
func ParsePrivateKey(data []byte) (crypto.Signer, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, ErrNoKey
		}

		switch block.Type {
		case "RSA PRIVATE KEY":
			key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			return key, nil
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			switch k := key.(type) {
			case *rsa.PrivateKey:
				return k, nil
			case ed25519.PrivateKey:
				return k, nil
			default:
				return nil, fmt.Errorf("%w: unsupported key type %T", ErrNoKey, key)
			}
		}
	}
}

// MarshalPrivateKey encodes key as a PKCS#8 PEM block.
func MarshalPrivateKey(key crypto.Signer) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
