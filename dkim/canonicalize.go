package dkim

import (
	"bytes"
	"strings"
)

var crlf = []byte("\r\n")

// CanonicalizeHeader returns the canonical form of a single header field,
// without the terminating CRLF.
//
// Simple canonicalization keeps name and value verbatim, only turning bare
// LF line endings into CRLF. Relaxed canonicalization:
//   - Convert header name to lowercase
//   - Unfold header lines (remove CRLF before WSP)
//   - Compress WSP to single space
//   - Remove leading and trailing WSP from header value
func CanonicalizeHeader(name, value string, c Canonicalization) []byte {
	if c == CanonRelaxed {
		return canonicalizeHeaderRelaxed(name, value)
	}
	out := make([]byte, 0, len(name)+1+len(value))
	out = append(out, name...)
	out = append(out, ':')
	return appendNormalizedEOL(out, value)
}

func canonicalizeHeaderRelaxed(name, value string) []byte {
	name = strings.ToLower(strings.TrimRight(name, " \t"))

	out := make([]byte, 0, len(name)+1+len(value))
	out = append(out, name...)
	out = append(out, ':')

	pendingWS := false
	wrote := false
	for i := 0; i < len(value); i++ {
		switch c := value[i]; c {
		case '\r', '\n':
			// Unfolding drops the line break; the WSP that follows is kept.
		case ' ', '\t':
			pendingWS = true
		default:
			if pendingWS && wrote {
				out = append(out, ' ')
			}
			pendingWS = false
			out = append(out, c)
			wrote = true
		}
	}
	return out
}

// appendNormalizedEOL appends s, turning bare LF into CRLF.
func appendNormalizedEOL(out []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' && (i == 0 || s[i-1] != '\r') {
			out = append(out, '\r')
		}
		out = append(out, s[i])
	}
	return out
}

// CanonicalizeBody returns the canonical form of a message body.
//
// Simple body canonicalization:
//   - Line endings are normalized to CRLF
//   - Multiple trailing CRLFs become one
//   - Empty body becomes single CRLF
//
// Relaxed body canonicalization:
//   - Ignore all whitespace at end of lines
//   - Compress whitespace in lines to single space
//   - Ignore all empty lines at end of body
//   - Empty body stays empty
//
// In both modes a CRLF is added when the last line lacks one.
func CanonicalizeBody(body []byte, c Canonicalization) []byte {
	relaxed := c == CanonRelaxed

	out := make([]byte, 0, len(body)+2)
	// Length of out up to the end of the last non-empty line.
	keep := 0
	for len(body) > 0 {
		var line []byte
		if i := bytes.IndexByte(body, '\n'); i >= 0 {
			line, body = body[:i], body[i+1:]
			line = bytes.TrimSuffix(line, []byte{'\r'})
		} else {
			line, body = body, nil
		}

		start := len(out)
		if relaxed {
			out = appendRelaxedLine(out, line)
		} else {
			out = append(out, line...)
		}
		nonEmpty := len(out) > start
		out = append(out, crlf...)
		// Empty lines are only kept when more content follows.
		if nonEmpty {
			keep = len(out)
		}
	}
	out = out[:keep]

	if len(out) == 0 && !relaxed {
		return append(out, crlf...)
	}
	return out
}

// appendRelaxedLine appends line with WSP runs reduced to a single SP and
// trailing WSP removed.
func appendRelaxedLine(out, line []byte) []byte {
	pendingWS := false
	for _, c := range line {
		if c == ' ' || c == '\t' {
			pendingWS = true
			continue
		}
		if pendingWS {
			out = append(out, ' ')
			pendingWS = false
		}
		out = append(out, c)
	}
	return out
}
