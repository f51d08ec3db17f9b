package dkim

import (
	"fmt"
	"strings"
)

// Tag is a single tag=value pair of a DKIM tag list (RFC 6376 Section 3.2).
type Tag struct {
	Name  string
	Value string
}

// TagList is an ordered tag list as found in DKIM-Signature headers and
// DKIM key records. Duplicates and unknown tags are kept in order so the
// list can be regenerated faithfully; lookups use the first occurrence.
type TagList []Tag

// ParseTagList parses a semicolon separated tag list. Whitespace, including
// folding whitespace, around tags, values and the "=" is not significant.
// Empty values are allowed. A trailing semicolon is allowed.
func ParseTagList(s string) (TagList, error) {
	var tags TagList
	for _, part := range strings.Split(s, ";") {
		if trimFWS(part) == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%w: missing '=' in %q", ErrMalformedTagList, trimFWS(part))
		}
		name = trimFWS(name)
		if !validTagName(name) {
			return nil, fmt.Errorf("%w: invalid tag name %q", ErrMalformedTagList, name)
		}
		tags = append(tags, Tag{Name: name, Value: trimFWS(value)})
	}
	return tags, nil
}

// Get returns the value of the first tag with the given name.
func (l TagList) Get(name string) (string, bool) {
	for _, t := range l {
		if t.Name == name {
			return t.Value, true
		}
	}
	return "", false
}

// String serializes the list as "a=1; b=2".
func (l TagList) String() string {
	var b strings.Builder
	for i, t := range l {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(t.Name)
		b.WriteByte('=')
		b.WriteString(t.Value)
	}
	return b.String()
}

// tag-name = ALPHA *ALNUMPUNC, ALNUMPUNC = ALPHA / DIGIT / "_"
func validTagName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '_'):
		default:
			return false
		}
	}
	return true
}

func trimFWS(s string) string {
	return strings.Trim(s, " \t\r\n")
}

// removeFWS drops all whitespace, used for base64 values which may be
// folded anywhere.
func removeFWS(s string) string {
	if !strings.ContainsAny(s, " \t\r\n") {
		return s
	}
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, s)
}

// splitList splits a colon separated tag value such as h= or q=, dropping
// empty entries.
func splitList(s, sep string) []string {
	var out []string
	for _, v := range strings.Split(s, sep) {
		if v = trimFWS(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
