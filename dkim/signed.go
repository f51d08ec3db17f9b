package dkim

import (
	"fmt"
)

// ParseSignatureUnchecked reads only the tags needed to rebuild the signed
// data of a DKIM-Signature value: c=, h=, l= and b=. Other tags are neither
// required nor validated, so headers that ParseSignature rejects can still
// be inspected. The remaining fields keep their NewSignature defaults.
func ParseSignatureUnchecked(value string) (*Signature, error) {
	tags, err := ParseTagList(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignatureSyntax, err)
	}
	sig := NewSignature()

	if v, ok := tags.Get("c"); ok {
		if sig.Canonicalization, err = ParseCanonicalizationMode(v); err != nil {
			return nil, err
		}
	}

	h, _ := tags.Get("h")
	sig.SignedHeaders = splitList(h, ":")
	if len(sig.SignedHeaders) == 0 {
		return nil, fmt.Errorf("%w: h", ErrMissingTag)
	}

	if v, ok := tags.Get("l"); ok {
		if sig.Length, err = parseNumber(v); err != nil {
			return nil, fmt.Errorf("%w: invalid length: %v", ErrSignatureSyntax, err)
		}
	}

	b, ok := tags.Get("b")
	if !ok {
		return nil, fmt.Errorf("%w: b", ErrMissingTag)
	}
	if sig.Signature, err = decodeBase64(b); err != nil {
		return nil, fmt.Errorf("%w: invalid signature encoding: %v", ErrSignatureSyntax, err)
	}
	return sig, nil
}

// CanonicalizeSigned returns the data covered by the first DKIM-Signature
// header of message: the canonical header block that is hashed and signed,
// the canonical body cut to l=, and the decoded b= signature. The signature
// header is read with ParseSignatureUnchecked.
func CanonicalizeSigned(message []byte) (header, body, signature []byte, err error) {
	headers, rawBody, err := SplitMessage(message)
	if err != nil {
		return nil, nil, nil, err
	}
	sigHeader, sig, err := firstSignature(headers)
	if err != nil {
		return nil, nil, nil, err
	}

	hc := sig.Canonicalization.Header
	for _, h := range SelectHeaders(headers, sig.SignedHeaders) {
		header = append(header, CanonicalizeHeader(h.Name, h.Value, hc)...)
		header = append(header, crlf...)
	}
	header = append(header, CanonicalizeHeader(sigHeader.Name, StripSignatureValue(sigHeader.Value), hc)...)

	body = CanonicalizeBody(rawBody, sig.Canonicalization.Body)
	if sig.Length >= 0 && sig.Length < int64(len(body)) {
		body = body[:sig.Length]
	}
	return header, body, sig.Signature, nil
}

// firstSignature finds the topmost DKIM-Signature header and parses it
// leniently.
func firstSignature(headers []Header) (Header, *Signature, error) {
	for _, h := range headers {
		if h.Key() != "dkim-signature" {
			continue
		}
		sig, err := ParseSignatureUnchecked(h.Value)
		return h, sig, err
	}
	return Header{}, nil, ErrNoSignature
}
