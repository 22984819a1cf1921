package dkim

import (
	"fmt"
	"strings"
)

// Header is one header field as it appeared in the message: its name
// and value split at the first colon, plus the untouched source line(s)
// (including any folded continuations) needed for simple canonicalization
// and for self-hashing the DKIM-Signature header.
type Header struct {
	Name   string
	Value  string
	Source string
}

type Headers []Header

// FindAll returns the headers with the given name, in the order they
// appeared in the message.
func (hs Headers) FindAll(name string) Headers {
	out := make(Headers, 0)
	for _, h := range hs {
		if strings.EqualFold(h.Name, name) {
			out = append(out, h)
		}
	}
	return out
}

var errMalformedMessage = fmt.Errorf("malformed message")

// findHeadersEnd locates the header/body boundary: the first position
// after the first occurrence of one of the terminators "\r\n\r\n", "\n\n",
// "\r\r", or "\n\r". It reports where the body starts and how long the
// matched terminator was; termLen is always even, since each of the four
// forms is two line terminators of the same length (one or two bytes), so the
// header block itself (ending at its own terminator, not the blank line's)
// is message[:bodyStart-termLen/2].
func findHeadersEnd(message string) (bodyStart, termLen int, ok bool) {
	for i := 0; i+1 < len(message); i++ {
		switch {
		case message[i] == '\r' && message[i+1] == '\n':
			if i+4 <= len(message) && message[i+2] == '\r' && message[i+3] == '\n' {
				return i + 4, 4, true
			}
		case message[i] == '\n' && message[i+1] == '\n':
			return i + 2, 2, true
		case message[i] == '\r' && message[i+1] == '\r':
			return i + 2, 2, true
		case message[i] == '\n' && message[i+1] == '\r':
			return i + 2, 2, true
		}
	}
	return 0, 0, false
}

// ParseMessage locates the end of the header block, per
// https://datatracker.ietf.org/doc/html/rfc5322#section-2.1: the first
// blank line terminates the headers, and everything after it is the body.
// If the message has no blank line at all -- under any of the four
// terminator shapes findHeadersEnd recognizes -- it is treated as all
// headers with an empty body, rather than rejected.
func ParseMessage(message string) (Headers, []byte, error) {
	headerBlock := message
	var body []byte
	if bodyStart, termLen, ok := findHeadersEnd(message); ok {
		headerBlock = message[:bodyStart-termLen/2]
		body = []byte(message[bodyStart:])
	}

	headers, err := parseHeaderBlock(headerBlock)
	if err != nil {
		return nil, nil, err
	}
	return headers, body, nil
}

func parseHeaderBlock(block string) (Headers, error) {
	headers := make(Headers, 0)

	// Lines are split on CRLF, bare LF, or bare CR, since findHeadersEnd
	// accepts all three as body boundaries. The terminator preceding a
	// continuation line is kept in Value/Source so simple canonicalization
	// stays byte-exact.
	prevTerm := ""
	for start := 0; start < len(block); {
		end := start
		for end < len(block) && block[end] != '\r' && block[end] != '\n' {
			end++
		}
		term := ""
		if end < len(block) {
			if block[end] == '\r' && end+1 < len(block) && block[end+1] == '\n' {
				term = "\r\n"
			} else {
				term = block[end : end+1]
			}
		}
		line := block[start:end]
		start = end + len(term)

		if line == "" {
			prevTerm = term
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if len(headers) == 0 {
				return nil, fmt.Errorf("%w: continuation line before any header", errMalformedMessage)
			}
			last := &headers[len(headers)-1]
			last.Value += prevTerm + line
			last.Source += prevTerm + line
			prevTerm = term
			continue
		}

		name, value, found := strings.Cut(line, ":")
		if !found {
			return nil, fmt.Errorf("%w: header line without a colon: %q", errMalformedMessage, line)
		}
		headers = append(headers, Header{Name: name, Value: value, Source: line})
		prevTerm = term
	}
	return headers, nil
}
