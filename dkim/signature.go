package dkim

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Signature represents a parsed DKIM-Signature header (RFC 6376 Section 3.5).
type Signature struct {
	// Required fields
	Version       int       // v= Version, must be 1
	Algorithm     Algorithm // a= Algorithm
	Signature     []byte    // b= Signature data
	BodyHash      []byte    // bh= Body hash
	Domain        string    // d= Signing domain
	SignedHeaders []string  // h= Signed header fields
	Selector      string    // s= Selector

	// Optional fields
	Canonicalization CanonicalizationMode // c= Canonicalization
	Identity         string               // i= Agent or User Identifier (AUID)
	Length           int64                // l= Body length limit (-1 if not set)
	QueryMethods     []string             // q= Query methods
	SignTime         int64                // t= Signature timestamp (-1 if not set)
	ExpireTime       int64                // x= Signature expiration (-1 if not set)
	CopiedHeaders    []string             // z= Copied header fields

	// Extra holds tags this package does not know, in order of appearance.
	Extra TagList
}

// NewSignature creates a new Signature with default values.
func NewSignature() *Signature {
	return &Signature{
		Version:          1,
		Canonicalization: CanonicalizationMode{Header: CanonSimple, Body: CanonSimple},
		Length:           -1,
		SignTime:         -1,
		ExpireTime:       -1,
	}
}

// AUID returns the i= value, or "@" followed by the signing domain when i=
// is absent.
func (s *Signature) AUID() string {
	if s.Identity != "" {
		return s.Identity
	}
	return "@" + s.Domain
}

// IsExpired reports whether x= lies before now, allowing for skew.
func (s *Signature) IsExpired(now time.Time, skew time.Duration) bool {
	if s.ExpireTime < 0 {
		return false
	}
	return time.Unix(s.ExpireTime, 0).Add(skew).Before(now)
}

// headerWriter helps create DKIM-Signature headers with proper folding.
// It tracks line length and folds to the next line when needed (RFC 5322).
type headerWriter struct {
	b        strings.Builder
	lineLen  int
	nonfirst bool
}

const maxLineLen = 76

// add adds text, potentially folding to a new line if it exceeds maxLineLen.
func (w *headerWriter) add(sep, text string) {
	n := len(text)
	if w.nonfirst && w.lineLen > 1 && w.lineLen+len(sep)+n > maxLineLen {
		w.b.WriteString("\r\n\t")
		w.lineLen = 1
	} else if w.nonfirst && sep != "" {
		w.b.WriteString(sep)
		w.lineLen += len(sep)
	}
	w.b.WriteString(text)
	w.lineLen += len(text)
	w.nonfirst = true
}

// addf formats and adds text.
func (w *headerWriter) addf(sep, format string, args ...any) {
	w.add(sep, fmt.Sprintf(format, args...))
}

// addWrap adds data that can be wrapped at any position (like base64).
func (w *headerWriter) addWrap(data []byte) {
	for len(data) > 0 {
		n := maxLineLen - w.lineLen
		if n <= 0 {
			w.b.WriteString("\r\n\t")
			w.lineLen = 1
			n = maxLineLen - 1
		}
		if n > len(data) {
			n = len(data)
		}
		w.b.Write(data[:n])
		w.lineLen += n
		data = data[n:]
	}
}

// addList adds a separated list such as h= or z=, folding between items.
func (w *headerWriter) addList(tag, sep string, items []string) {
	for i, item := range items {
		space := ""
		if i == 0 {
			item = tag + "=" + item
			space = " "
		}
		if i < len(items)-1 {
			item += sep
		} else {
			item += ";"
		}
		w.add(space, item)
	}
}

// Value generates the DKIM-Signature header value, everything after the
// colon. It is folded as if it follows "DKIM-Signature:" on the same line.
// If includeSignature is false, the b= value is left empty for signing.
func (s *Signature) Value(includeSignature bool) string {
	w := &headerWriter{lineLen: len("DKIM-Signature:")}

	// Version (required, must be first)
	w.addf("", " v=%d;", s.Version)

	// Domain (required, must always be ASCII per RFC 6376)
	w.addf(" ", "d=%s;", s.Domain)

	// Selector (required)
	w.addf(" ", "s=%s;", s.Selector)

	// Algorithm (required)
	w.addf(" ", "a=%s;", s.Algorithm)

	// Canonicalization (only if not default simple/simple)
	if c := s.Canonicalization; c.Header != "" && (c.Header != CanonSimple || c.Body != CanonSimple) {
		if c.Body == "" {
			c.Body = CanonSimple
		}
		w.addf(" ", "c=%s;", c)
	}

	if s.Identity != "" {
		w.addf(" ", "i=%s;", s.Identity)
	}

	if len(s.QueryMethods) > 0 {
		w.addf(" ", "q=%s;", strings.Join(s.QueryMethods, ":"))
	}

	if s.SignTime >= 0 {
		w.addf(" ", "t=%d;", s.SignTime)
	}

	if s.ExpireTime >= 0 {
		w.addf(" ", "x=%d;", s.ExpireTime)
	}

	// Body length (optional, but discouraged for security)
	if s.Length >= 0 {
		w.addf(" ", "l=%d;", s.Length)
	}

	w.addList("h", ":", s.SignedHeaders)

	if len(s.CopiedHeaders) > 0 {
		encoded := make([]string, len(s.CopiedHeaders))
		for i, h := range s.CopiedHeaders {
			if name, value, ok := strings.Cut(h, ":"); ok {
				encoded[i] = name + ":" + encodeCopiedHeader(value)
			} else {
				encoded[i] = encodeCopiedHeader(h)
			}
		}
		w.addList("z", "|", encoded)
	}

	for _, t := range s.Extra {
		w.addf(" ", "%s=%s;", t.Name, t.Value)
	}

	// Body hash (required)
	w.addf(" ", "bh=%s;", base64.StdEncoding.EncodeToString(s.BodyHash))

	w.add(" ", "b=")
	if includeSignature && len(s.Signature) > 0 {
		w.addWrap([]byte(base64.StdEncoding.EncodeToString(s.Signature)))
	}

	return w.b.String()
}

// Header generates the complete DKIM-Signature header field, without a
// trailing CRLF.
func (s *Signature) Header(includeSignature bool) string {
	return "DKIM-Signature:" + s.Value(includeSignature)
}

// encodeCopiedHeader encodes a header value for the z= tag using DKIM quoted-printable.
func encodeCopiedHeader(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for _, c := range []byte(s) {
		// DKIM-safe-char: printable ASCII except ; = | :
		if c > ' ' && c < 0x7f && c != ';' && c != '=' && c != '|' && c != ':' {
			b.WriteByte(c)
		} else {
			b.WriteByte('=')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0f])
		}
	}
	return b.String()
}

// StripSignatureValue returns the raw header value with the content of the
// b= tag removed, including the whitespace around it. All other bytes are
// kept, so the result can be canonicalized for the header hash.
func StripSignatureValue(value string) string {
	pos := 0
	for pos <= len(value) {
		end := strings.IndexByte(value[pos:], ';')
		if end < 0 {
			end = len(value)
		} else {
			end += pos
		}
		seg := value[pos:end]
		if name, _, ok := strings.Cut(seg, "="); ok && trimFWS(name) == "b" {
			eq := pos + len(name) + 1
			return value[:eq] + value[end:]
		}
		pos = end + 1
	}
	return value
}

// ParseSignature parses a DKIM-Signature header value, everything after the
// colon of the header field. Folding whitespace may be present anywhere the
// tag list grammar allows it.
//
// Only syntax is checked here. Expiration, identity alignment and key
// related checks are left to the Verifier.
func ParseSignature(value string) (*Signature, error) {
	tags, err := ParseTagList(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignatureSyntax, err)
	}

	sig := NewSignature()
	seen := make(map[string]bool)

	for _, t := range tags {
		if seen[t.Name] {
			// First occurrence wins.
			continue
		}
		seen[t.Name] = true
		v := t.Value

		switch t.Name {
		case "v":
			if v != "1" {
				return nil, fmt.Errorf("%w: %q", ErrInvalidVersion, v)
			}
			sig.Version = 1

		case "a":
			sig.Algorithm, err = ParseAlgorithm(v)
			if err != nil {
				return nil, err
			}

		case "b":
			sig.Signature, err = decodeBase64(v)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid signature encoding: %v", ErrSignatureSyntax, err)
			}

		case "bh":
			sig.BodyHash, err = decodeBase64(v)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid body hash encoding: %v", ErrSignatureSyntax, err)
			}

		case "c":
			sig.Canonicalization, err = ParseCanonicalizationMode(v)
			if err != nil {
				return nil, err
			}

		case "d":
			if v == "" {
				return nil, fmt.Errorf("%w: empty domain", ErrSignatureSyntax)
			}
			sig.Domain = strings.ToLower(v)

		case "h":
			sig.SignedHeaders = splitList(v, ":")

		case "i":
			sig.Identity = v

		case "l":
			sig.Length, err = parseNumber(v)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid length: %v", ErrSignatureSyntax, err)
			}

		case "q":
			sig.QueryMethods = splitList(v, ":")

		case "s":
			if v == "" {
				return nil, fmt.Errorf("%w: empty selector", ErrSignatureSyntax)
			}
			sig.Selector = strings.ToLower(v)

		case "t":
			sig.SignTime, err = parseNumber(v)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid timestamp: %v", ErrSignatureSyntax, err)
			}

		case "x":
			sig.ExpireTime, err = parseNumber(v)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid expiration: %v", ErrSignatureSyntax, err)
			}

		case "z":
			for _, h := range strings.Split(v, "|") {
				sig.CopiedHeaders = append(sig.CopiedHeaders, decodeCopiedHeader(removeFWS(h)))
			}

		default:
			sig.Extra = append(sig.Extra, t)
		}
	}

	for _, tag := range []string{"v", "a", "b", "bh", "d", "h", "s"} {
		if !seen[tag] {
			return nil, fmt.Errorf("%w: %s", ErrMissingTag, tag)
		}
	}
	if len(sig.SignedHeaders) == 0 {
		return nil, fmt.Errorf("%w: h is empty", ErrMissingTag)
	}

	if len(sig.QueryMethods) > 0 {
		known := false
		for _, m := range sig.QueryMethods {
			if strings.EqualFold(m, "dns/txt") {
				known = true
			}
		}
		if !known {
			return nil, fmt.Errorf("%w: %s", ErrQueryMethod, strings.Join(sig.QueryMethods, ":"))
		}
	}

	h, _ := sig.Algorithm.Hash().crypto()
	if len(sig.BodyHash) != h.Size() {
		return nil, fmt.Errorf("%w: got %d bytes, expected %d for %s",
			ErrBodyHashLength, len(sig.BodyHash), h.Size(), sig.Algorithm.Hash())
	}

	if sig.SignTime >= 0 && sig.ExpireTime >= 0 && sig.SignTime >= sig.ExpireTime {
		return nil, fmt.Errorf("%w: sign time %d not before expire time %d",
			ErrSignatureSyntax, sig.SignTime, sig.ExpireTime)
	}

	return sig, nil
}

// decodeBase64 decodes a base64 tag value which may contain folding
// whitespace. An empty value decodes to nil.
func decodeBase64(s string) ([]byte, error) {
	s = removeFWS(s)
	if s == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

// parseNumber parses the 1*76DIGIT values of l=, t= and x=.
func parseNumber(s string) (int64, error) {
	if s == "" || len(s) > 76 || strings.TrimLeft(s, "0123456789") != "" {
		return -1, fmt.Errorf("not a number: %q", s)
	}
	return strconv.ParseInt(s, 10, 64)
}

// decodeCopiedHeader decodes a DKIM quoted-printable encoded header.
func decodeCopiedHeader(s string) string {
	return decodeQPSection(s)
}
