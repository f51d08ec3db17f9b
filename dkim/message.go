package dkim

import (
	"bytes"
	"fmt"
	"strings"
)

// SplitMessage splits a raw RFC 5322 message into its header fields, in
// order of appearance, and its body. Lines may end in CRLF or a bare LF.
// Header values keep their folding; the line terminator of the last line of
// each field is dropped.
//
// A message without an empty separator line is all headers and has a nil
// body.
func SplitMessage(message []byte) ([]Header, []byte, error) {
	var headers []Header
	var name string
	valueStart, valueEnd := -1, -1

	flush := func() {
		if valueStart >= 0 {
			headers = append(headers, Header{Name: name, Value: string(message[valueStart:valueEnd])})
		}
	}

	pos := 0
	for pos < len(message) {
		next := len(message)
		if i := bytes.IndexByte(message[pos:], '\n'); i >= 0 {
			next = pos + i + 1
		}
		end := next
		if end > pos && message[end-1] == '\n' {
			end--
		}
		if end > pos && message[end-1] == '\r' {
			end--
		}
		line := message[pos:end]

		switch {
		case len(line) == 0:
			// Empty line signals end of headers
			flush()
			return headers, message[next:], nil

		case line[0] == ' ' || line[0] == '\t':
			if valueStart < 0 {
				return nil, nil, fmt.Errorf("%w: continuation line without header", ErrHeaderMalformed)
			}
			valueEnd = end

		default:
			flush()
			colon := bytes.IndexByte(line, ':')
			if colon < 0 {
				return nil, nil, fmt.Errorf("%w: missing colon in %q", ErrHeaderMalformed, truncate(line, 40))
			}
			name = string(line[:colon])
			if !validHeaderName(strings.TrimRight(name, " \t")) {
				return nil, nil, fmt.Errorf("%w: invalid field name %q", ErrHeaderMalformed, name)
			}
			valueStart = pos + colon + 1
			valueEnd = end
		}
		pos = next
	}
	flush()
	return headers, nil, nil
}

// Key returns the lower-cased field name used to match h= entries.
func (h Header) Key() string {
	return strings.ToLower(strings.TrimRight(h.Name, " \t"))
}

// Field returns the header as it appears in a message, without CRLF.
func (h Header) Field() string {
	return h.Name + ":" + h.Value
}

// validHeaderName checks the RFC 5322 ftext production.
func validHeaderName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] <= ' ' || s[i] >= 0x7f {
			return false
		}
	}
	return true
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// countHeaders returns the number of fields named key, compared case-insensitively.
func countHeaders(headers []Header, key string) int {
	n := 0
	for _, h := range headers {
		if h.Key() == key {
			n++
		}
	}
	return n
}
