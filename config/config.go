// Package config loads domainkey settings from a YAML or TOML file with
// environment variable overrides, and builds the signer, verifier, resolver
// and logger they describe.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds the complete configuration.
type Config struct {
	Signer   SignerConfig   `yaml:"signer" toml:"signer"`
	Verifier VerifierConfig `yaml:"verifier" toml:"verifier"`
	DNS      DNSConfig      `yaml:"dns" toml:"dns"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// SignerConfig describes the signing key and the signature to produce.
type SignerConfig struct {
	Domain   string `yaml:"domain" toml:"domain"`
	Selector string `yaml:"selector" toml:"selector"`

	// KeyFile is a PEM file holding an RSA (PKCS#1 or PKCS#8) or
	// Ed25519 (PKCS#8) private key.
	KeyFile string `yaml:"key_file" toml:"key_file"`

	// Algorithm is the a= value; empty picks one from the key type.
	Algorithm string `yaml:"algorithm" toml:"algorithm"`

	Headers []string `yaml:"headers" toml:"headers"`

	// Canonicalization is the c= value, e.g. "relaxed/simple".
	Canonicalization string `yaml:"canonicalization" toml:"canonicalization"`

	Identity string `yaml:"identity" toml:"identity"`

	// Expiration is a Go duration such as "72h"; empty means no x= tag.
	Expiration string `yaml:"expiration" toml:"expiration"`

	BodyLength int64 `yaml:"body_length" toml:"body_length"`
	Oversign   bool  `yaml:"oversign" toml:"oversign"`
}

// VerifierConfig holds verification policy.
type VerifierConfig struct {
	CheckExpiration bool   `yaml:"check_expiration" toml:"check_expiration"`
	ExpirationSkew  string `yaml:"expiration_skew" toml:"expiration_skew"`
	MinRSAKeyBits   int    `yaml:"min_rsa_key_bits" toml:"min_rsa_key_bits"`
	HonorTestMode   bool   `yaml:"honor_test_mode" toml:"honor_test_mode"`
	IgnoreBodyHash  bool   `yaml:"ignore_body_hash" toml:"ignore_body_hash"`

	// Hostname is the authserv-id used in Authentication-Results.
	Hostname string `yaml:"hostname" toml:"hostname"`
}

// DNSConfig configures key record lookups.
type DNSConfig struct {
	// System uses the operating system resolver instead of querying
	// Nameservers directly. DNSSEC status is not available then.
	System bool `yaml:"system" toml:"system"`

	Nameservers []string `yaml:"nameservers" toml:"nameservers"`
	DNSSEC      bool     `yaml:"dnssec" toml:"dnssec"`
	Timeout     string   `yaml:"timeout" toml:"timeout"`
	Retries     int      `yaml:"retries" toml:"retries"`

	// CacheSize is the number of cached names; negative disables the cache.
	CacheSize int `yaml:"cache_size" toml:"cache_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`

	// File enables logging to a rotated file instead of stderr.
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the configuration file at path, if any, then applies
// environment variables, which always take precedence. Files ending in
// .toml are read as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvVars()
	return cfg, nil
}

func (c *Config) decodeFile(path string) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// applyDefaults sets default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Signer.Canonicalization = "relaxed/relaxed"
	c.Verifier.MinRSAKeyBits = 1024
	c.Verifier.Hostname = "localhost"
	c.DNS.Timeout = "5s"
	c.DNS.Retries = 2
	c.DNS.CacheSize = 1024
	c.Logging.Level = "info"
	c.Logging.Format = "text"
	c.Logging.MaxSizeMB = 10
	c.Logging.MaxAgeDays = 7
	c.Logging.MaxBackups = 3
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("DKIM_DOMAIN"); v != "" {
		c.Signer.Domain = v
	}
	if v := os.Getenv("DKIM_SELECTOR"); v != "" {
		c.Signer.Selector = v
	}
	if v := os.Getenv("DKIM_KEY_FILE"); v != "" {
		c.Signer.KeyFile = v
	}
	if v := os.Getenv("DKIM_ALGORITHM"); v != "" {
		c.Signer.Algorithm = v
	}
	if v := os.Getenv("DKIM_HEADERS"); v != "" {
		c.Signer.Headers = splitComma(v)
	}
	if v := os.Getenv("DKIM_CANONICALIZATION"); v != "" {
		c.Signer.Canonicalization = v
	}
	if v := os.Getenv("DKIM_IDENTITY"); v != "" {
		c.Signer.Identity = v
	}
	if v := os.Getenv("DKIM_EXPIRATION"); v != "" {
		c.Signer.Expiration = v
	}

	if v, ok := envBool("DKIM_CHECK_EXPIRATION"); ok {
		c.Verifier.CheckExpiration = v
	}
	if v := os.Getenv("DKIM_EXPIRATION_SKEW"); v != "" {
		c.Verifier.ExpirationSkew = v
	}
	if v := os.Getenv("DKIM_MIN_RSA_KEY_BITS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Verifier.MinRSAKeyBits = n
		}
	}
	if v, ok := envBool("DKIM_HONOR_TEST_MODE"); ok {
		c.Verifier.HonorTestMode = v
	}
	if v, ok := envBool("DKIM_IGNORE_BODY_HASH"); ok {
		c.Verifier.IgnoreBodyHash = v
	}
	if v := os.Getenv("DKIM_HOSTNAME"); v != "" {
		c.Verifier.Hostname = v
	}

	if v := os.Getenv("DKIM_NAMESERVERS"); v != "" {
		c.DNS.Nameservers = splitComma(v)
	}
	if v, ok := envBool("DKIM_DNSSEC"); ok {
		c.DNS.DNSSEC = v
	}
	if v, ok := envBool("DKIM_DNS_SYSTEM"); ok {
		c.DNS.System = v
	}

	if v := os.Getenv("DKIM_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("DKIM_LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv("DKIM_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
}

func envBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func splitComma(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
