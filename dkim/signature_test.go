package dkim

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestParseSignature(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		wantErr   error
		checkFunc func(t *testing.T, sig *Signature)
	}{
		{
			name: "valid RSA signature",
			value: ` v=1; a=rsa-sha256; d=example.com; s=selector1;
	c=relaxed/simple; q=dns/txt; t=1234567890; x=1234657890;
	h=from:to:subject:date; bh=g3zLYH4xKxcPrHOD18z9YfpQcnk/GaJedfustWU5uGs=;
	b=c2lnbmF0dXJl`,
			checkFunc: func(t *testing.T, sig *Signature) {
				if sig.Version != 1 {
					t.Errorf("version = %d, want 1", sig.Version)
				}
				if sig.Algorithm != AlgRSASHA256 {
					t.Errorf("algorithm = %s, want rsa-sha256", sig.Algorithm)
				}
				if sig.Domain != "example.com" || sig.Selector != "selector1" {
					t.Errorf("d=%s s=%s", sig.Domain, sig.Selector)
				}
				if sig.Canonicalization != (CanonicalizationMode{CanonRelaxed, CanonSimple}) {
					t.Errorf("canonicalization = %s", sig.Canonicalization)
				}
				if !slices.Equal(sig.SignedHeaders, []string{"from", "to", "subject", "date"}) {
					t.Errorf("signedHeaders = %v", sig.SignedHeaders)
				}
				if sig.SignTime != 1234567890 || sig.ExpireTime != 1234657890 {
					t.Errorf("t=%d x=%d", sig.SignTime, sig.ExpireTime)
				}
				if string(sig.Signature) != "signature" {
					t.Errorf("signature = %q", sig.Signature)
				}
				if sig.Length != -1 {
					t.Errorf("length = %d, want -1", sig.Length)
				}
			},
		},
		{
			name:  "valid Ed25519 signature",
			value: ` v=1; a=ed25519-sha256; d=example.org; s=ed; h=from:to:subject; bh=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=; b=dGVzdA==`,
			checkFunc: func(t *testing.T, sig *Signature) {
				if sig.Algorithm != AlgEd25519SHA256 {
					t.Errorf("algorithm = %s, want ed25519-sha256", sig.Algorithm)
				}
				if sig.Canonicalization != (CanonicalizationMode{CanonSimple, CanonSimple}) {
					t.Errorf("default canonicalization = %s", sig.Canonicalization)
				}
				if sig.AUID() != "@example.org" {
					t.Errorf("AUID = %s", sig.AUID())
				}
			},
		},
		{
			name:  "header-only canonicalization",
			value: ` v=1; a=rsa-sha256; c=relaxed; d=example.com; s=sel; h=from; bh=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=; b=`,
			checkFunc: func(t *testing.T, sig *Signature) {
				if sig.Canonicalization != (CanonicalizationMode{CanonRelaxed, CanonSimple}) {
					t.Errorf("canonicalization = %s", sig.Canonicalization)
				}
				if sig.Signature != nil {
					t.Errorf("empty b= should decode to nil, got %q", sig.Signature)
				}
			},
		},
		{
			name:  "unknown tags and body length",
			value: ` v=1; a=rsa-sha256; d=example.com; s=sel; l=42; h=from; foo=bar; bh=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=; b=dGVzdA==`,
			checkFunc: func(t *testing.T, sig *Signature) {
				if sig.Length != 42 {
					t.Errorf("length = %d", sig.Length)
				}
				if v, ok := sig.Extra.Get("foo"); !ok || v != "bar" {
					t.Errorf("extra = %v", sig.Extra)
				}
			},
		},
		{
			name:  "duplicate tag uses first",
			value: ` v=1; a=rsa-sha256; d=example.com; s=first; s=second; h=from; bh=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=; b=dGVzdA==`,
			checkFunc: func(t *testing.T, sig *Signature) {
				if sig.Selector != "first" {
					t.Errorf("selector = %s, want first", sig.Selector)
				}
			},
		},
		{
			name: "copied headers",
			value: ` v=1; a=rsa-sha256; d=example.com; s=sel; h=from;
	z=From:foo@eng.example.net|To:joe@example.com|Subject:demo=20run;
	bh=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=; b=dGVzdA==`,
			checkFunc: func(t *testing.T, sig *Signature) {
				want := []string{"From:foo@eng.example.net", "To:joe@example.com", "Subject:demo run"}
				if !slices.Equal(sig.CopiedHeaders, want) {
					t.Errorf("z = %q, want %q", sig.CopiedHeaders, want)
				}
			},
		},
		{
			// Domain name must always be A-labels (punycode), not U-labels.
			name: "internationalized domain (A-label/punycode)",
			value: ` v=1; a=rsa-sha256; d=xn--h-bga.mox.example; s=xn--yr2021-pua;
	i=test@xn--h-bga.mox.example; t=1643719203; h=From:To:Subject:Date;
	bh=g3zLYH4xKxcPrHOD18z9YfpQcnk/GaJedfustWU5uGs=; b=dGVzdA==`,
			checkFunc: func(t *testing.T, sig *Signature) {
				if sig.Domain != "xn--h-bga.mox.example" {
					t.Errorf("domain = %s, want xn--h-bga.mox.example", sig.Domain)
				}
				if sig.Selector != "xn--yr2021-pua" {
					t.Errorf("selector = %s, want xn--yr2021-pua", sig.Selector)
				}
				if sig.AUID() != "test@xn--h-bga.mox.example" {
					t.Errorf("AUID = %s", sig.AUID())
				}
			},
		},
		{
			name:    "missing version",
			value:   ` a=rsa-sha256; d=example.com; s=sel; h=from; bh=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=; b=dGVzdA==`,
			wantErr: ErrMissingTag,
		},
		{
			name:    "invalid version",
			value:   ` v=2; a=rsa-sha256; d=example.com; s=sel; h=from; bh=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=; b=dGVzdA==`,
			wantErr: ErrInvalidVersion,
		},
		{
			name:    "missing domain",
			value:   ` v=1; a=rsa-sha256; s=sel; h=from; bh=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=; b=dGVzdA==`,
			wantErr: ErrMissingTag,
		},
		{
			name:    "missing selector",
			value:   ` v=1; a=rsa-sha256; d=example.com; h=from; bh=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=; b=dGVzdA==`,
			wantErr: ErrMissingTag,
		},
		{
			name:    "empty signed headers",
			value:   ` v=1; a=rsa-sha256; d=example.com; s=sel; h=; bh=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=; b=dGVzdA==`,
			wantErr: ErrMissingTag,
		},
		{
			name:    "unknown algorithm",
			value:   ` v=1; a=dsa-sha256; d=example.com; s=sel; h=from; bh=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=; b=dGVzdA==`,
			wantErr: ErrSigAlgorithmUnknown,
		},
		{
			name:    "unknown hash",
			value:   ` v=1; a=rsa-sha512; d=example.com; s=sel; h=from; bh=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=; b=dGVzdA==`,
			wantErr: ErrHashAlgorithmUnknown,
		},
		{
			name:    "unknown canonicalization",
			value:   ` v=1; a=rsa-sha256; c=bogus/simple; d=example.com; s=sel; h=from; bh=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=; b=dGVzdA==`,
			wantErr: ErrCanonicalizationUnknown,
		},
		{
			name:    "unsupported query method",
			value:   ` v=1; a=rsa-sha256; q=http/well-known; d=example.com; s=sel; h=from; bh=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=; b=dGVzdA==`,
			wantErr: ErrQueryMethod,
		},
		{
			name:    "body hash wrong length",
			value:   ` v=1; a=rsa-sha256; d=example.com; s=sel; h=from; bh=dGVzdA==; b=dGVzdA==`,
			wantErr: ErrBodyHashLength,
		},
		{
			name:    "bad base64",
			value:   ` v=1; a=rsa-sha256; d=example.com; s=sel; h=from; bh=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=; b=not*base64`,
			wantErr: ErrSignatureSyntax,
		},
		{
			name:    "negative length",
			value:   ` v=1; a=rsa-sha256; d=example.com; s=sel; l=-1; h=from; bh=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=; b=dGVzdA==`,
			wantErr: ErrSignatureSyntax,
		},
		{
			name:    "expiration before timestamp",
			value:   ` v=1; a=rsa-sha256; d=example.com; s=sel; t=200; x=100; h=from; bh=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=; b=dGVzdA==`,
			wantErr: ErrSignatureSyntax,
		},
		{
			name:    "not a tag list",
			value:   `test@example.com`,
			wantErr: ErrSignatureSyntax,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := ParseSignature(tt.value)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseSignature() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSignature() error = %v", err)
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, sig)
			}
		})
	}
}

func TestSignatureHeader(t *testing.T) {
	bodyHash := make([]byte, 32)
	for i := range bodyHash {
		bodyHash[i] = byte(i)
	}

	sig := NewSignature()
	sig.Algorithm = AlgRSASHA256
	sig.Domain = "example.com"
	sig.Selector = "selector1"
	sig.Canonicalization = CanonicalizationMode{CanonRelaxed, CanonRelaxed}
	sig.Identity = "user@mail.example.com"
	sig.SignedHeaders = []string{"From", "To", "Subject", "Date", "Message-ID", "Content-Type", "MIME-Version", "From"}
	sig.CopiedHeaders = []string{"Subject:a; b"}
	sig.BodyHash = bodyHash
	sig.Signature = []byte(strings.Repeat("test signature data here1234", 9))
	sig.SignTime = 1234567890
	sig.ExpireTime = 1534567890
	sig.Length = 100

	header := sig.Header(true)
	if !strings.HasPrefix(header, "DKIM-Signature: v=1; d=example.com; s=selector1; a=rsa-sha256;") {
		t.Errorf("unexpected header start: %q", header)
	}
	for _, line := range strings.Split(header, "\r\n") {
		if len(line) > 78 {
			t.Errorf("line longer than 78 characters: %q", line)
		}
		if strings.TrimSpace(line) == "" {
			t.Errorf("empty line in folded header: %q", header)
		}
	}

	parsed, err := ParseSignature(strings.TrimPrefix(header, "DKIM-Signature:"))
	if err != nil {
		t.Fatalf("ParseSignature() error = %v\n%s", err, header)
	}

	if parsed.Domain != sig.Domain || parsed.Selector != sig.Selector || parsed.Algorithm != sig.Algorithm {
		t.Errorf("parsed d=%s s=%s a=%s", parsed.Domain, parsed.Selector, parsed.Algorithm)
	}
	if parsed.Canonicalization != sig.Canonicalization || parsed.Identity != sig.Identity {
		t.Errorf("parsed c=%s i=%s", parsed.Canonicalization, parsed.Identity)
	}
	if !slices.Equal(parsed.SignedHeaders, sig.SignedHeaders) {
		t.Errorf("h = %v, want %v", parsed.SignedHeaders, sig.SignedHeaders)
	}
	if !slices.Equal(parsed.CopiedHeaders, sig.CopiedHeaders) {
		t.Errorf("z = %q, want %q", parsed.CopiedHeaders, sig.CopiedHeaders)
	}
	if string(parsed.BodyHash) != string(sig.BodyHash) || string(parsed.Signature) != string(sig.Signature) {
		t.Error("hashes differ after round trip")
	}
	if parsed.SignTime != sig.SignTime || parsed.ExpireTime != sig.ExpireTime || parsed.Length != sig.Length {
		t.Errorf("t=%d x=%d l=%d", parsed.SignTime, parsed.ExpireTime, parsed.Length)
	}

	// Without the signature the value ends in an empty b= tag.
	if v := sig.Value(false); !strings.HasSuffix(v, "b=") {
		t.Errorf("Value(false) = %q, want empty b= at the end", v)
	}
}

func TestSignatureDefaultCanonicalizationOmitted(t *testing.T) {
	sig := NewSignature()
	sig.Algorithm = AlgEd25519SHA256
	sig.Domain = "example.com"
	sig.Selector = "s"
	sig.SignedHeaders = []string{"From"}
	sig.BodyHash = make([]byte, 32)
	if v := sig.Value(true); strings.Contains(v, "c=") {
		t.Errorf("simple/simple should not be written: %q", v)
	}
}

func TestStripSignatureValue(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{" v=1; b=abc\r\n\tdef; bh=xyz", " v=1; b=; bh=xyz"},
		{" v=1; bh=xyz; b=abc\r\n def", " v=1; bh=xyz; b="},
		{" v=1; bh=xyz; b = abc ;", " v=1; bh=xyz; b =;"},
		{" v=1; bh=xyz", " v=1; bh=xyz"},
		{" b=first; b=second", " b=; b=second"},
	}
	for _, tt := range tests {
		if got := StripSignatureValue(tt.in); got != tt.want {
			t.Errorf("StripSignatureValue(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSignatureIsExpired(t *testing.T) {
	sig := NewSignature()
	now := time.Unix(1000, 0)
	if sig.IsExpired(now, 0) {
		t.Error("signature without x= must not expire")
	}
	sig.ExpireTime = 900
	if !sig.IsExpired(now, 0) {
		t.Error("x= in the past should be expired")
	}
	if sig.IsExpired(now, 2*time.Minute) {
		t.Error("skew should extend x=")
	}
	sig.ExpireTime = 1000
	if sig.IsExpired(now, 0) {
		t.Error("x= equal to now is not yet expired")
	}
}
