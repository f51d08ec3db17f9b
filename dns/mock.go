package dns

import (
	"context"
	"slices"
	"strings"
)

// MockResolver is a Resolver used for testing.
// TXT maps FQDNs (with trailing dot) to records.
type MockResolver struct {
	TXT map[string][]string

	// Fail contains names that will return a temporary error (SERVFAIL).
	// Format: "txt name", e.g. "txt example.com."
	Fail []string

	// AllAuthentic sets the default value for Authentic in responses.
	// Overridden by Authentic and Inauthentic lists.
	AllAuthentic bool

	// Authentic contains records that will have Authentic=true.
	// Format: "txt name", e.g. "txt example.com."
	Authentic []string

	// Inauthentic contains records that will have Authentic=false.
	// Format: "txt name", e.g. "txt example.com."
	Inauthentic []string
}

var _ Resolver = MockResolver{}

// ensureFQDN ensures the name ends with a dot.
func ensureFQDN(name string) string {
	if len(name) == 0 || name[len(name)-1] != '.' {
		return name + "."
	}
	return name
}

// LookupTXT returns TXT records for the given domain. Names are matched
// case-insensitively, in the fixture fields as well as in the query.
func (r MockResolver) LookupTXT(ctx context.Context, name string) (Result[string], error) {
	fqdn := strings.ToLower(ensureFQDN(name))
	req := "txt " + fqdn

	result := Result[string]{Authentic: r.AllAuthentic}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	if containsFold(r.Fail, req) {
		return result, ErrDNSServFail
	}
	if containsFold(r.Authentic, req) {
		result.Authentic = true
	}
	if containsFold(r.Inauthentic, req) {
		result.Authentic = false
	}

	var records []string
	for k, v := range r.TXT {
		if strings.EqualFold(ensureFQDN(k), fqdn) {
			records = append(records, v...)
		}
	}
	if len(records) == 0 {
		return result, ErrDNSNotFound
	}

	result.Records = records
	return result, nil
}

func containsFold(list []string, s string) bool {
	return slices.ContainsFunc(list, func(e string) bool {
		return strings.EqualFold(e, s)
	})
}
