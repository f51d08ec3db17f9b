package dkim

import (
	"strings"
)

// BodyHash canonicalizes body and returns its digest. When length is not
// negative and shorter than the canonical body, only the first length bytes
// are hashed (the l= tag).
func BodyHash(body []byte, c Canonicalization, h HashAlgorithm, length int64) ([]byte, error) {
	hh, err := h.New()
	if err != nil {
		return nil, err
	}
	canon := CanonicalizeBody(body, c)
	if length >= 0 && length < int64(len(canon)) {
		canon = canon[:length]
	}
	hh.Write(canon)
	return hh.Sum(nil), nil
}

// SelectHeaders resolves an h= list against the message headers.
//
// Each occurrence of a name in names consumes the next instance of that
// header counting from the bottom of the message. Names with no instance
// left are skipped, which is what makes oversigning work.
func SelectHeaders(headers []Header, names []string) []Header {
	positions := make(map[string][]int)
	for i, h := range headers {
		k := h.Key()
		positions[k] = append(positions[k], i)
	}

	used := make(map[string]int)
	selected := make([]Header, 0, len(names))
	for _, name := range names {
		k := strings.ToLower(strings.TrimSpace(name))
		pos := positions[k]
		n := used[k]
		if n >= len(pos) {
			continue
		}
		selected = append(selected, headers[pos[len(pos)-1-n]])
		used[k] = n + 1
	}
	return selected
}

// HeaderHash computes the digest that is signed: the selected headers, each
// canonicalized and followed by CRLF, then the DKIM-Signature header itself,
// canonicalized without a trailing CRLF. The b= value of sigHeader must
// already be empty.
func HeaderHash(headers []Header, names []string, sigHeader Header, c Canonicalization, h HashAlgorithm) ([]byte, error) {
	hh, err := h.New()
	if err != nil {
		return nil, err
	}
	for _, hdr := range SelectHeaders(headers, names) {
		hh.Write(CanonicalizeHeader(hdr.Name, hdr.Value, c))
		hh.Write(crlf)
	}
	hh.Write(CanonicalizeHeader(sigHeader.Name, sigHeader.Value, c))
	return hh.Sum(nil), nil
}
