package dkim

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// OneResult is the outcome of verifying a single DKIM-Signature header
// found in a message.
type OneResult struct {
	// SignatureHeader is the raw value of the header this result came
	// from.
	SignatureHeader string

	// Domain and Selector are read from the signature's d= and s= tags,
	// when parsing got far enough to learn them.
	Domain   string
	Selector string

	Verdict Verdict
	Err     error
}

// VerifyResult summarizes every DKIM-Signature header found on a message.
type VerifyResult struct {
	Found   uint
	Passed  uint
	Results []*OneResult
}

// VerifyAll locates every DKIM-Signature header in message, verifies each
// one independently against a freshly fetched key, and returns a result
// per signature plus a summary. Each signature is evaluated against its
// own VerifierContext and key; no combined pass/fail policy is applied, a
// message with one passing and one failing signature is reported as such.
//
// WithMaxHeaders caps how many signatures are evaluated, protecting
// against a message carrying an unreasonable number of them
// (https://datatracker.ietf.org/doc/html/rfc6376#section-8.4).
func VerifyAll(ctx context.Context, r Resolver, message string) (*VerifyResult, error) {
	headers, body, err := ParseMessage(message)
	if err != nil {
		trace(ctx, "error parsing message: %v", err)
		return nil, err
	}

	result := &VerifyResult{}
	limit := maxHeaders(ctx)

	for i, sigH := range headers.FindAll("DKIM-Signature") {
		if i >= limit {
			trace(ctx, "stopping after %d DKIM-Signature headers (limit %d)", i, limit)
			break
		}

		result.Found++
		one := verifyOne(ctx, r, sigH, headers, body)
		result.Results = append(result.Results, one)
		if one.Verdict == CONTINUE {
			result.Passed++
		}
	}

	trace(ctx, "found %d signatures, %d passed", result.Found, result.Passed)
	return result, nil
}

func verifyOne(ctx context.Context, r Resolver, sigH Header, headers Headers, body []byte) *OneResult {
	result := &OneResult{SignatureHeader: sigH.Value}

	vctx, err := NewVerifierContext(sigH.Value, nil)
	if err != nil {
		result.Err = err
		result.Verdict = REJECT
		return result
	}
	vctx.SignatureHeaderName = sigH.Name
	result.Domain = vctx.Domain
	result.Selector = vctx.Selector

	keyRes := <-FetchKey(ctx, r, vctx.DNSKeyName)
	if keyRes.Err != nil {
		result.Err = keyRes.Err
		result.Verdict = REJECT
		return result
	}

	verdict, err := Check(ctx, vctx, keyRes.Key, headers, body)
	result.Verdict = verdict
	result.Err = err
	return result
}

// AuthenticationResults renders the DKIM-specific portion of an
// Authentication-Results header field, per
// https://datatracker.ietf.org/doc/html/rfc8601#section-2.7.1. It returns
// only the method results, not the full header field; the caller prefixes
// it with "Authentication-Results: <authserv-id>".
func (r *VerifyResult) AuthenticationResults() string {
	var b strings.Builder
	if r.Found == 0 {
		b.WriteString(";dkim=none\r\n")
		return b.String()
	}

	for _, res := range r.Results {
		switch res.Verdict {
		case CONTINUE:
			b.WriteString(";dkim=pass\r\n")
		case RECORD_ERROR:
			fmt.Fprintf(&b, ";dkim=permerror reason=%q\r\n", res.Err)
		case REJECT:
			if errors.Is(res.Err, ErrBodyHashMismatch) || errors.Is(res.Err, ErrRSAVerificationFailed) {
				fmt.Fprintf(&b, ";dkim=fail reason=%q\r\n", res.Err)
			} else {
				fmt.Fprintf(&b, ";dkim=permerror reason=%q\r\n", res.Err)
			}
		}

		if res.Domain != "" {
			b.WriteString("  header.d=" + res.Domain + "\r\n")
		}
	}

	return b.String()
}
