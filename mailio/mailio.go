// Package mailio reads RFC 5322 messages from streams such as files and
// pipes, producing the CRLF form that DKIM hashes over.
package mailio

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// MaxLineLength is the RFC 5322 limit of 998 characters plus CRLF.
const MaxLineLength = 1000

var (
	ErrLineTooLong  = errors.New("mailio: line too long")
	ErrNonASCII     = errors.New("mailio: 8-bit data in header")
	ErrEmptyMessage = errors.New("mailio: empty message")
)

// ReadLine reads a single line and returns it without its terminator.
// Both CRLF and bare LF end a line. A final line without a terminator is
// returned with a nil error; io.EOF is only returned when nothing was read.
// Lines longer than max, counting a CRLF terminator, fail with
// ErrLineTooLong after the rest of the line has been consumed. A max of zero
// disables the limit. With ascii set, 8-bit octets fail with ErrNonASCII.
func ReadLine(reader *bufio.Reader, max int, ascii bool) ([]byte, error) {
	line, err := reader.ReadSlice('\n')
	if err == nil {
		return check(line, max, ascii)
	}
	if err != bufio.ErrBufferFull {
		if err == io.EOF && len(line) > 0 {
			return check(line, max, ascii)
		}
		return nil, err
	}

	// The line is larger than the bufio buffer; ReadSlice reuses it, so
	// chunks are copied as they arrive.
	buf := append([]byte(nil), line...)
	for {
		line, err = reader.ReadSlice('\n')
		if max > 0 && len(buf)+len(line) > max {
			if err == bufio.ErrBufferFull {
				drainLine(reader)
			}
			return nil, ErrLineTooLong
		}
		buf = append(buf, line...)
		if err == nil || err == io.EOF {
			break
		}
		if err != bufio.ErrBufferFull {
			return nil, err
		}
	}
	return check(buf, max, ascii)
}

// check strips the line terminator and validates what remains.
func check(b []byte, max int, ascii bool) ([]byte, error) {
	b = bytes.TrimSuffix(b, []byte("\n"))
	b = bytes.TrimSuffix(b, []byte("\r"))
	if max > 0 && len(b)+2 > max {
		return nil, ErrLineTooLong
	}
	if ascii && !isASCII(b) {
		return nil, ErrNonASCII
	}
	return append([]byte(nil), b...), nil
}

// ReadMessage reads a whole message and returns it with every line ending
// normalized to CRLF. Header lines must be US-ASCII; the body may carry
// 8-bit data. When max is zero header lines are held to MaxLineLength and
// body lines are not checked.
func ReadMessage(r io.Reader, max int) ([]byte, error) {
	reader := bufio.NewReader(r)

	var out bytes.Buffer
	inHeader := true
	for {
		lineMax := max
		if inHeader && max == 0 {
			lineMax = MaxLineLength
		}
		line, err := ReadLine(reader, lineMax, inHeader)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if inHeader && len(line) == 0 {
			inHeader = false
		}
		out.Write(line)
		out.WriteString("\r\n")
	}
	if out.Len() == 0 {
		return nil, ErrEmptyMessage
	}
	return out.Bytes(), nil
}

// isASCII checks if the byte array contains any octet that is not US-ASCII.
func isASCII(b []byte) bool {
	for _, c := range b {
		if c > 127 {
			return false
		}
	}
	return true
}

// drainLine discards the rest of the current line.
func drainLine(reader *bufio.Reader) {
	for {
		_, err := reader.ReadSlice('\n')
		if err == nil {
			return
		}
		if err != bufio.ErrBufferFull {
			return
		}
	}
}
