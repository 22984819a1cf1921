package dkim

import "strings"

// rawTags is the result of parsing a DKIM-Signature tag list:
// "tag = value; tag = value; ...". Values have been trimmed of surrounding
// whitespace but are otherwise unprocessed; per-tag decoding (base64,
// colon-lists, integers) happens in signature.go.
type rawTags map[string]string

// knownTags is the set of tag names this verifier understands, per
// https://datatracker.ietf.org/doc/html/rfc6376#section-3.2. One and
// two-letter names are both allowed; anything else is rejected.
var knownTags = map[string]bool{
	"v": true, "a": true, "b": true, "c": true, "d": true,
	"h": true, "i": true, "l": true, "q": true, "s": true,
	"t": true, "x": true, "z": true, "bh": true,
}

type tagState int

const (
	stateTag tagState = iota
	stateAfterTag
	stateValue
	stateSkipSpaces
)

func isTagSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

// parseTagList parses the value of a DKIM-Signature header (the bytes
// after "DKIM-Signature:") into a tag/value map. Key records are parsed
// by parseKeyRecordTags instead.
//
// Grammar is RFC 6376 §3.2's tag-list, but parsed tolerantly: whitespace
// may surround tag names, the '=', and values, and is stripped. An unknown
// tag, wherever it appears, is an error rather than being silently
// skipped. That is stricter than RFC 6376 asks verifiers to be.
func parseTagList(s string) (rawTags, error) {
	tags := make(rawTags)

	n := len(s)
	state := stateSkipSpaces
	next := stateTag
	p := 0
	c := 0
	tag := ""

	for p <= n {
		switch state {
		case stateTag:
			switch {
			case p >= n:
				if p == c {
					// Nothing left to parse: a trailing ';' or an empty
					// tag list. Not an error.
					return tags, nil
				}
				return nil, newError(Unknown, "unexpected end of tag list while reading tag name")
			case s[p] == ';' && p == c:
				// An empty tag-spec (a lone ';'): skip it.
				state = stateSkipSpaces
				next = stateTag
				p++
			case s[p] == '=':
				tag = s[c:p]
				state = stateSkipSpaces
				next = stateAfterTag
				p++
			case isTagSpace(s[p]):
				tag = s[c:p]
				// Skip spaces before '='.
				for p < n && isTagSpace(s[p]) {
					p++
				}
				if p >= n || s[p] != '=' {
					return nil, newError(Unknown, "invalid dkim tag: missing '=' after %q", tag)
				}
				state = stateSkipSpaces
				next = stateAfterTag
				p++
			default:
				p++
			}
		case stateAfterTag:
			if len(tag) == 0 {
				return nil, newError(Unknown, "zero-length dkim tag name")
			}
			if len(tag) > 2 || !knownTags[tag] {
				return nil, newError(Unknown, "unknown dkim tag: %q", tag)
			}
			if _, dup := tags[tag]; dup {
				return nil, newError(Unknown, "duplicate dkim tag: %q", tag)
			}
			state = stateSkipSpaces
			next = stateValue
		case stateValue:
			switch {
			case p < n && s[p] == ';':
				tags[tag] = strings.TrimSpace(s[c:p])
				state = stateSkipSpaces
				next = stateTag
				p++
			case p == n:
				tags[tag] = strings.TrimSpace(s[c:p])
				p++
			default:
				p++
			}
		case stateSkipSpaces:
			if p < n && isTagSpace(s[p]) {
				p++
			} else {
				c = p
				state = next
			}
		}
	}

	return tags, nil
}
