// Package authres renders DKIM verification results as
// Authentication-Results header fields (RFC 8601) and as compact reports
// that can be handed to other processes.
package authres

import (
	"encoding/base64"
	"strings"

	"github.com/synqronlabs/domainkey/dkim"
)

// maxReasonLen bounds the reason text placed in a header.
const maxReasonLen = 100

// Format generates an Authentication-Results header value for results,
// with hostname as the authserv-id. A message without signatures is
// reported as dkim=none.
func Format(hostname string, results []dkim.Result) string {
	var b strings.Builder

	b.WriteString(hostname)

	if len(results) == 0 {
		b.WriteString("; dkim=none")
		return b.String()
	}

	for _, r := range results {
		b.WriteString("; dkim=")
		b.WriteString(string(r.Status))

		if reason := sanitizeReason(r.Reason()); reason != "" {
			b.WriteString(` reason="`)
			b.WriteString(reason)
			b.WriteString(`"`)
		}

		if sig := r.Signature; sig != nil {
			b.WriteString(" header.d=")
			b.WriteString(sig.Domain)
			b.WriteString(" header.s=")
			b.WriteString(sig.Selector)
			b.WriteString(" header.i=")
			b.WriteString(sig.AUID())
			b.WriteString(" header.a=")
			b.WriteString(string(sig.Algorithm))
			if prefix := signaturePrefix(sig); prefix != "" {
				b.WriteString(" header.b=")
				b.WriteString(prefix)
			}
		}
	}

	return b.String()
}

// sanitizeReason makes an error text safe for a quoted header value.
func sanitizeReason(s string) string {
	s = strings.NewReplacer("\r", "", "\n", " ", `"`, "'", `\`, "/").Replace(s)
	if len(s) > maxReasonLen {
		s = s[:maxReasonLen]
	}
	return s
}

// signaturePrefix returns the first 8 characters of the b= value, which
// tells apart several signatures from one domain (RFC 6008).
func signaturePrefix(sig *dkim.Signature) string {
	if len(sig.Signature) == 0 {
		return ""
	}
	b := base64.StdEncoding.EncodeToString(sig.Signature)
	if len(b) > 8 {
		b = b[:8]
	}
	return b
}

// precedence orders statuses when several signatures disagree.
var precedence = map[dkim.Status]int{
	dkim.StatusPass:      7,
	dkim.StatusFail:      6,
	dkim.StatusTemperror: 5,
	dkim.StatusPermerror: 4,
	dkim.StatusPolicy:    3,
	dkim.StatusNeutral:   2,
	dkim.StatusNone:      1,
}

// Summary returns the overall DKIM status of a message: pass if any
// signature passed, otherwise the most significant failure. A message
// without signatures is none.
func Summary(results []dkim.Result) dkim.Status {
	overall := dkim.StatusNone
	for _, r := range results {
		if precedence[r.Status] > precedence[overall] {
			overall = r.Status
		}
	}
	return overall
}

// SummaryFor is like Summary but only considers signatures whose d= equals
// domain, typically the From domain. When no signature matches the result
// is neutral, or none when the message carries no signatures at all.
func SummaryFor(results []dkim.Result, domain string) dkim.Status {
	if len(results) == 0 {
		return dkim.StatusNone
	}
	domain = strings.TrimSuffix(domain, ".")
	var matching []dkim.Result
	for _, r := range results {
		if r.Signature != nil && strings.EqualFold(r.Signature.Domain, domain) {
			matching = append(matching, r)
		}
	}
	if len(matching) == 0 {
		return dkim.StatusNeutral
	}
	return Summary(matching)
}
