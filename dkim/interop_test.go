package dkim

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"testing"

	godkim "github.com/toorop/go-dkim"
)

// TestVerifyForeignSignature checks that signatures produced by another
// DKIM implementation verify here.
func TestVerifyForeignSignature(t *testing.T) {
	key := getRSAKey(t)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	txt := makeRecord(t, "rsa", key.Public())

	for _, canon := range []string{"relaxed/relaxed", "simple/simple", "relaxed/simple"} {
		t.Run(canon, func(t *testing.T) {
			email := []byte(signMessage)

			opts := godkim.NewSigOptions()
			opts.PrivateKey = keyPEM
			opts.Domain = "example.com"
			opts.Selector = "interop"
			opts.Headers = []string{"from", "to", "subject", "date"}
			opts.Canonicalization = canon
			opts.AddSignatureTimestamp = false
			if err := godkim.Sign(&email, opts); err != nil {
				t.Fatalf("foreign sign: %v", err)
			}

			verifier := &Verifier{Lookup: mapLookup(map[string]string{
				"interop._domainkey.example.com": txt,
			})}
			results, err := verifier.Verify(context.Background(), email)
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if len(results) != 1 {
				t.Fatalf("got %d results, want 1", len(results))
			}
			if results[0].Status != StatusPass {
				t.Fatalf("got %s: %v", results[0].Status, results[0].Err)
			}
			if results[0].Signature.Canonicalization.String() != canon {
				t.Errorf("canonicalization = %s, want %s", results[0].Signature.Canonicalization, canon)
			}
		})
	}
}
