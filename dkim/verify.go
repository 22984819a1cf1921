package dkim

import (
	"bytes"
	"context"
	"crypto/rsa"
	"errors"
	"strings"
)

// Verdict is the outcome of Check, per
// https://datatracker.ietf.org/doc/html/rfc6376#section-6.1.3.
type Verdict int

const (
	// CONTINUE means the signature verified: the headers digest matches
	// ctx.B under the published key.
	CONTINUE Verdict = iota
	// REJECT means the signature is cryptographically invalid: either the
	// body hash didn't match bh=, or RSA verification of the headers
	// digest failed.
	REJECT
	// RECORD_ERROR means the signature could not be evaluated at all,
	// because a header named in h= is not present in the message.
	RECORD_ERROR
)

func (v Verdict) String() string {
	switch v {
	case CONTINUE:
		return "CONTINUE"
	case REJECT:
		return "REJECT"
	case RECORD_ERROR:
		return "RECORD_ERROR"
	default:
		return "UNKNOWN"
	}
}

// These are returned as the error alongside a REJECT verdict (or, for
// errMissingSignedHeader, a RECORD_ERROR verdict); they are not part of the
// ErrorKind taxonomy in errors.go, which classifies failures to even
// construct a context or obtain a key.
var (
	ErrBodyHashMismatch      = errors.New("body hash mismatch")
	ErrRSAVerificationFailed = errors.New("RSA verification failed")
	errMissingSignedHeader   = errors.New("signed header missing from message")
)

// Check runs the verification steps of
// https://datatracker.ietf.org/doc/html/rfc6376#section-6.1.3 against an
// already-parsed message: canonicalize the body and compare it to ctx.BH,
// canonicalize every header named in ctx.SignedHeaders (bottom-up, per
// occurrence) followed by the DKIM-Signature header itself with its b=
// elided, then verify ctx.B against the resulting digest under key.RSA.
//
// ctx comes from NewVerifierContext, key from a successful FetchKey, and
// headers/body from ParseMessage. ctx is mutated (its digest accumulators
// are written to) and must not be reused across calls.
func Check(ctx context.Context, vctx *VerifierContext, key *PublicKey, headers Headers, body []byte) (Verdict, error) {
	canonicalizeBody(vctx.BodyCanon, boundBody(vctx, body), vctx.bodyHash)
	bodyDigest := vctx.bodyHash.Sum(nil)
	if !bytes.Equal(bodyDigest, vctx.BH) {
		trace(ctx, "body hash mismatch: got %x want %x", bodyDigest, vctx.BH)
		return REJECT, ErrBodyHashMismatch
	}
	trace(ctx, "body hash matches")

	used := map[string]int{}
	for _, name := range vctx.SignedHeaders {
		h, ok := nextHeaderOccurrence(headers, name, used)
		if !ok {
			trace(ctx, "missing referenced header %q", name)
			return RECORD_ERROR, errMissingSignedHeader
		}
		canon := canonicalizeHeader(vctx.HeaderCanon, h)
		trace(ctx, "hashing header: %q", canon)
		vctx.headersHash.Write([]byte(canon))
	}

	canonSig := canonicalizeSignatureHeader(vctx.HeaderCanon, vctx.SignatureHeaderName, vctx.SignatureHeader)
	trace(ctx, "hashing signature header: %q", canonSig)
	vctx.headersHash.Write([]byte(canonSig))

	headersDigest := vctx.headersHash.Sum(nil)
	if err := rsa.VerifyPKCS1v15(key.RSA, vctx.Algorithm.Hash(), headersDigest, vctx.B); err != nil {
		trace(ctx, "RSA verification failed: %v", err)
		return REJECT, ErrRSAVerificationFailed
	}

	trace(ctx, "signature verified")
	return CONTINUE, nil
}

// boundBody truncates body to ctx.BodyLength when l= was present,
// positive, and smaller than the actual body. l=0 is not a cap: the hash
// covers the whole body.
func boundBody(vctx *VerifierContext, body []byte) []byte {
	if vctx.BodyLength != nil && *vctx.BodyLength > 0 && *vctx.BodyLength < uint64(len(body)) {
		return body[:*vctx.BodyLength]
	}
	return body
}

// nextHeaderOccurrence returns the next unused occurrence of name, scanning
// from the bottom of the message upward: the first request for a name
// matches its last occurrence, the second request matches the
// second-to-last, and so on, per
// https://datatracker.ietf.org/doc/html/rfc6376#section-5.4.2.
func nextHeaderOccurrence(headers Headers, name string, used map[string]int) (Header, bool) {
	all := headers.FindAll(name)
	if len(all) == 0 {
		return Header{}, false
	}

	lower := strings.ToLower(name)
	i := used[lower]
	idx := len(all) - 1 - i
	if idx < 0 {
		return Header{}, false
	}
	used[lower]++
	return all[idx], true
}
