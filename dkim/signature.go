package dkim

import (
	"crypto"
	"encoding/base64"
	"hash"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Algorithm is the signing algorithm declared in a DKIM-Signature's a= tag.
// Only the two RFC 6376 / RFC 8301 algorithms are supported; ed25519
// (RFC 8463) and any future algorithm are out of scope for this verifier.
type Algorithm int

const (
	RSASHA1 Algorithm = iota
	RSASHA256
)

func (a Algorithm) String() string {
	if a == RSASHA1 {
		return "rsa-sha1"
	}
	return "rsa-sha256"
}

// Hash returns the crypto.Hash this algorithm signs over.
func (a Algorithm) Hash() crypto.Hash {
	if a == RSASHA1 {
		return crypto.SHA1
	}
	return crypto.SHA256
}

func parseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "rsa-sha1":
		return RSASHA1, nil
	case "rsa-sha256":
		return RSASHA256, nil
	default:
		return 0, newError(InvalidA, "unsupported signing algorithm %q", s)
	}
}

// Canonicalization selects the byte-normalization rules applied to a
// header or the body before hashing.
type Canonicalization int

const (
	Simple Canonicalization = iota
	Relaxed
)

func parseCanonicalization(s string) (Canonicalization, error) {
	switch s {
	case "simple":
		return Simple, nil
	case "relaxed":
		return Relaxed, nil
	default:
		return 0, newError(InvalidA, "unknown canonicalization %q", s)
	}
}

// parseCTag parses the c= tag: "X" or "X/Y", each of X, Y being simple or
// relaxed. A bare "X" defaults the body canonicalization to simple.
func parseCTag(s string) (headerCanon, bodyCanon Canonicalization, err error) {
	if s == "" {
		return Simple, Simple, nil
	}

	h, b, hasSlash := strings.Cut(s, "/")
	if !hasSlash {
		b = "simple"
	}

	headerCanon, err = parseCanonicalization(h)
	if err != nil {
		return 0, 0, err
	}
	bodyCanon, err = parseCanonicalization(b)
	if err != nil {
		return 0, 0, err
	}
	return headerCanon, bodyCanon, nil
}

// VerifierContext holds everything learned from one DKIM-Signature header,
// plus the incrementally-fed digest accumulators the canonicalizers write
// into. It is built once by NewVerifierContext; its DNSKeyName is passed to
// FetchKey and the context itself is consumed by Check. It is not safe to
// share across messages or goroutines.
type VerifierContext struct {
	// Raw signature header value this context was parsed from, kept around
	// for the b=-eliding self-canonicalization step in Check.
	SignatureHeader string

	// SignatureHeaderName is the field name the DKIM-Signature header
	// carried in the message (casing is legal to vary per RFC 5322). It
	// defaults to "DKIM-Signature"; a caller that found the real header --
	// VerifyAll, via verifyOne -- overwrites it with the name as it
	// actually appeared, since simple canonicalization must reproduce it
	// exactly.
	SignatureHeaderName string

	B  []byte // signature, base64-decoded
	BH []byte // body hash, base64-decoded

	Domain   string
	Selector string
	Version  string

	SignedHeaders []string // h=, in order, case preserved

	Algorithm   Algorithm
	HeaderCanon Canonicalization
	BodyCanon   Canonicalization

	BodyLength  *uint64    // l=, when present
	Timestamp   *time.Time // t=, when present
	Expiration  *time.Time // x=, when present
	Identity    string     // i=, verbatim
	DNSKeyName  string     // <selector>._domainkey.<domain>

	bodyHash    hash.Hash
	headersHash hash.Hash
}

// whitespaceEater strips the ASCII whitespace DKIM tolerates inside
// base64/list tag values.
var whitespaceEater = strings.NewReplacer(" ", "", "\t", "", "\r", "", "\n", "")

func decodeLenientBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(whitespaceEater.Replace(s))
}

// NewVerifierContext parses the value of a DKIM-Signature header (the bytes
// following "DKIM-Signature:") and, on success, returns a context whose
// DNSKeyName is ready for FetchKey and which is then handed to Check. now
// is injectable for tests; pass nil to use time.Now.
func NewVerifierContext(signatureHeaderValue string, now func() time.Time) (*VerifierContext, error) {
	if now == nil {
		now = time.Now
	}

	tags, err := parseTagList(signatureHeaderValue)
	if err != nil {
		return nil, err
	}

	ctx := &VerifierContext{
		SignatureHeader:     signatureHeaderValue,
		SignatureHeaderName: "DKIM-Signature",
	}

	v, ok := tags["v"]
	if !ok || v == "" {
		return nil, newError(EmptyV, "missing v= tag")
	}
	if v != "1" {
		return nil, newError(VersionError, "unsupported version %q", v)
	}
	ctx.Version = v

	a, ok := tags["a"]
	if !ok || a == "" {
		return nil, newError(InvalidA, "missing a= tag")
	}
	ctx.Algorithm, err = parseAlgorithm(a)
	if err != nil {
		return nil, err
	}

	bStr, ok := tags["b"]
	if !ok || bStr == "" {
		return nil, newError(EmptyB, "missing b= tag")
	}
	ctx.B, err = decodeLenientBase64(bStr)
	if err != nil {
		return nil, newError(BadSig, "invalid b=: %v", err)
	}

	bhStr, ok := tags["bh"]
	if !ok || bhStr == "" {
		return nil, newError(EmptyBH, "missing bh= tag")
	}
	ctx.BH, err = decodeLenientBase64(bhStr)
	if err != nil {
		return nil, newError(BadSig, "invalid bh=: %v", err)
	}
	if len(ctx.BH) != ctx.Algorithm.Hash().Size() {
		return nil, newError(BadSig, "bh= length %d does not match %s digest size %d",
			len(ctx.BH), ctx.Algorithm, ctx.Algorithm.Hash().Size())
	}

	ctx.HeaderCanon, ctx.BodyCanon, err = parseCTag(tags["c"])
	if err != nil {
		return nil, newError(InvalidA, "invalid c=: %w", err)
	}

	d, ok := tags["d"]
	if !ok || d == "" {
		return nil, newError(EmptyD, "missing d= tag")
	}
	ctx.Domain = d

	s, ok := tags["s"]
	if !ok || s == "" {
		return nil, newError(EmptyS, "missing s= tag")
	}
	ctx.Selector = s

	hStr, ok := tags["h"]
	if !ok || hStr == "" {
		return nil, newError(EmptyH, "missing h= tag")
	}
	hlist := []string{}
	for _, h := range strings.Split(hStr, ":") {
		h = strings.TrimSpace(h)
		if h != "" {
			hlist = append(hlist, h)
		}
	}
	hasFrom := slices.ContainsFunc(hlist, func(h string) bool {
		return strings.EqualFold(h, "from")
	})
	if !hasFrom {
		return nil, newError(InvalidH, "h= does not list From")
	}
	ctx.SignedHeaders = hlist

	ctx.Identity = tags["i"]

	if lStr, ok := tags["l"]; ok && lStr != "" {
		l, err := strconv.ParseUint(whitespaceEater.Replace(lStr), 10, 64)
		if err != nil {
			return nil, newError(InvalidL, "invalid l=: %v", err)
		}
		ctx.BodyLength = &l
	}

	if tStr, ok := tags["t"]; ok && tStr != "" {
		t, err := parseUnixSeconds(tStr)
		if err != nil {
			return nil, newError(Unknown, "invalid t=: %v", err)
		}
		if t.After(now()) {
			return nil, newError(Future, "t=%s is in the future", t)
		}
		ctx.Timestamp = &t
	}

	if xStr, ok := tags["x"]; ok && xStr != "" {
		x, err := parseUnixSeconds(xStr)
		if err != nil {
			return nil, newError(Unknown, "invalid x=: %v", err)
		}
		if x.Before(now()) {
			return nil, newError(Expired, "x=%s has passed", x)
		}
		ctx.Expiration = &x
	}

	ctx.DNSKeyName = dnsKeyName(ctx.Selector, ctx.Domain)
	ctx.bodyHash = ctx.Algorithm.Hash().New()
	ctx.headersHash = ctx.Algorithm.Hash().New()

	return ctx, nil
}

func parseUnixSeconds(s string) (time.Time, error) {
	secs, err := strconv.ParseUint(whitespaceEater.Replace(s), 10, 63)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(secs), 0).UTC(), nil
}
