package dkim

import (
	"hash"
	"strings"
)

// bufSize bounds how large a window the relaxed-body canonicalizer scans
// at a time, so huge bodies are hashed without a second full-size copy.
const bufSize = 8192

// crlf is the line terminator every canonicalization ends with.
const crlf = "\r\n"

// canonicalizeBody reduces a raw body span to its canonical form and feeds
// it to h. body is assumed to already be the bounded slice the verifier
// computed: headers_end through either the message end or headers_end+l.
func canonicalizeBody(mode Canonicalization, body []byte, h hash.Hash) {
	// Trailing-empty-line stripping applies before either canonicalization:
	// repeatedly drop a trailing CRLF.
	for endsWithCRLF(body) {
		body = body[:len(body)-2]
	}
	if len(body) == 0 {
		h.Write([]byte(crlf))
		return
	}

	switch mode {
	case Simple:
		h.Write(body)
	case Relaxed:
		writeRelaxedBody(body, h)
	}
	if !endsWithCRLF(body) {
		h.Write([]byte(crlf))
	}
}

func endsWithCRLF(b []byte) bool {
	return len(b) >= 2 && b[len(b)-2] == '\r' && b[len(b)-1] == '\n'
}

// writeRelaxedBody scans body in bufSize windows, collapsing WSP runs to a
// single space and stripping WSP immediately before a line terminator,
// then writes the result to h. The pending-space state carries across
// window boundaries, so a run split across two windows collapses the same
// way as an unsplit one. The space is emitted lazily, only once a non-WSP
// byte follows it, so WSP before a terminator (or at the end of the
// input) is dropped rather than hashed.
func writeRelaxedBody(body []byte, h hash.Hash) {
	pendingSP := false
	out := make([]byte, 0, bufSize)

	for start := 0; start < len(body); start += bufSize {
		end := start + bufSize
		if end > len(body) {
			end = len(body)
		}
		out = out[:0]
		for _, ch := range body[start:end] {
			switch ch {
			case '\r', '\n':
				pendingSP = false
				out = append(out, ch)
			case ' ', '\t':
				pendingSP = true
			default:
				if pendingSP {
					pendingSP = false
					out = append(out, ' ')
				}
				out = append(out, ch)
			}
		}
		h.Write(out)
	}
}

// canonicalizeHeaderSimple emits the header exactly as it appeared in the
// message: name, colon, value, and a terminating CRLF. Continuation lines
// are part of h.Source already and are preserved byte for byte.
func canonicalizeHeaderSimple(h Header) string {
	return h.Source + crlf
}

// canonicalizeHeaderRelaxed implements
// https://datatracker.ietf.org/doc/html/rfc6376#section-3.4.2: lowercase
// the name, unfold continuation lines, collapse WSP runs to a single
// space, and trim leading/trailing WSP from the value.
func canonicalizeHeaderRelaxed(h Header) string {
	name := strings.ToLower(strings.TrimRight(h.Name, " \t"))
	value := unfoldHeaderValue(h.Value)
	value = collapseWSP(value)
	value = strings.TrimSpace(value)
	return name + ":" + value + crlf
}

// unfolder rewrites a folded continuation (the line terminator plus the
// WSP that marks the next line as a continuation) into a single space.
// Bare-LF and bare-CR folds are accepted alongside CRLF ones, matching
// the body-boundary tolerance in findHeadersEnd.
var unfolder = strings.NewReplacer(
	"\r\n ", " ", "\r\n\t", " ",
	"\n ", " ", "\n\t", " ",
	"\r ", " ", "\r\t", " ",
)

func unfoldHeaderValue(v string) string {
	return unfolder.Replace(v)
}

func collapseWSP(s string) string {
	var b strings.Builder
	gotSP := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == ' ' || ch == '\t' {
			if gotSP {
				continue
			}
			gotSP = true
			b.WriteByte(' ')
			continue
		}
		gotSP = false
		b.WriteByte(ch)
	}
	return b.String()
}

func canonicalizeHeader(mode Canonicalization, h Header) string {
	if mode == Relaxed {
		return canonicalizeHeaderRelaxed(h)
	}
	return canonicalizeHeaderSimple(h)
}

// canonicalizeSignatureHeader canonicalizes the DKIM-Signature header
// itself with its b= value elided, per
// https://datatracker.ietf.org/doc/html/rfc6376#section-3.7: the scanner
// walks tag/value pairs, and when it reaches a top-level "b=" it emits
// through "b=" and then suppresses bytes until the next unquoted ';' or
// the end of the header. There is no trailing CRLF on this one.
func canonicalizeSignatureHeader(mode Canonicalization, name, value string) string {
	canon := canonicalizeHeader(mode, Header{Name: name, Value: value, Source: name + ":" + value})
	canon = strings.TrimRight(canon, "\r\n")
	return elideBTag(canon)
}

// elideBTag walks tag/value pairs in an already-canonicalized
// DKIM-Signature header and blanks out the value of a top-level b= tag.
// The scan starts after the field name's colon; from there, only ';'
// separates tags, so a ':' inside a value (an h= list, say) cannot open a
// tag position.
func elideBTag(s string) string {
	name, rest, found := strings.Cut(s, ":")
	if !found {
		return s
	}

	var out strings.Builder
	out.WriteString(name)
	out.WriteByte(':')

	atTagStart := true
	skipping := false
	for i := 0; i < len(rest); i++ {
		ch := rest[i]
		if skipping {
			if ch == ';' {
				skipping = false
				atTagStart = true
				out.WriteByte(ch)
			}
			continue
		}

		if atTagStart && i+1 < len(rest) && ch == 'b' && rest[i+1] == '=' {
			out.WriteString("b=")
			i++
			skipping = true
			atTagStart = false
			continue
		}

		switch ch {
		case ';':
			atTagStart = true
		case ' ', '\t', '\r', '\n':
			// FWS before a tag name doesn't end the tag-start position;
			// in simple mode the header may still be folded here.
		default:
			atTagStart = false
		}
		out.WriteByte(ch)
	}

	return out.String()
}
