package dkim

import (
	"context"
	"errors"
	"net"

	"golang.org/x/net/idna"
)

// Resolver looks up the TXT records backing a DKIM key. It is satisfied by
// the adapter around *net.Resolver that DefaultResolver holds; tests
// substitute a map-backed fake.
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

type netResolver struct {
	r *net.Resolver
}

func (n netResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	r := n.r
	if r == nil {
		r = net.DefaultResolver
	}
	return r.LookupTXT(ctx, name)
}

// DefaultResolver resolves TXT records with the system's standard resolver.
var DefaultResolver Resolver = netResolver{}

// dnsKeyName builds the name a DKIM public key is published under:
// <selector>._domainkey.<domain>, per
// https://datatracker.ietf.org/doc/html/rfc6376#section-3.6.2. Both labels
// are passed through IDNA so a selector or domain with non-ASCII labels
// resolves to the same name a recursive resolver would be asked for.
func dnsKeyName(selector, domain string) string {
	s, err := idna.ToASCII(selector)
	if err != nil {
		s = selector
	}
	d, err := idna.ToASCII(domain)
	if err != nil {
		d = domain
	}
	return s + "._domainkey." + d
}

// KeyResult is what a key fetch resolves to: either a usable key, or an
// error already classified as NoKey, KeyFail, or KeyRevoked.
type KeyResult struct {
	Key *PublicKey
	Err error
}

// FetchKey looks up and parses the DKIM key record at keyName, delivering
// exactly one KeyResult on the returned channel. A channel, rather than a
// plain synchronous call, lets a caller verifying several signatures start
// every lookup before blocking on any one of them -- RFC 6376 notes
// verifiers "MAY" check signatures in parallel
// (https://datatracker.ietf.org/doc/html/rfc6376#section-6.1.2).
func FetchKey(ctx context.Context, r Resolver, keyName string) <-chan KeyResult {
	out := make(chan KeyResult, 1)
	go func() {
		defer close(out)
		out <- fetchKey(ctx, r, keyName)
	}()
	return out
}

func fetchKey(ctx context.Context, r Resolver, keyName string) KeyResult {
	values, err := r.LookupTXT(ctx, keyName)
	if err != nil {
		trace(ctx, "TXT lookup of %q failed: %v", keyName, err)
		// NXDOMAIN means there is no key published at all: NoKey. Anything
		// else -- SERVFAIL, a timeout, a network error -- is a DNS failure
		// the verifier can't distinguish from a transient outage: KeyFail.
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return KeyResult{Err: newError(NoKey, "no DNS records at %q: %v", keyName, err)}
		}
		return KeyResult{Err: newError(KeyFail, "DNS lookup of %q failed: %v", keyName, err)}
	}
	if len(values) == 0 {
		return KeyResult{Err: newError(NoKey, "no TXT records at %q", keyName)}
	}

	// RFC 6376 leaves behavior undefined when multiple TXT records are
	// present at the name; take the first one that parses as a key rather
	// than insisting on exactly one record. If none do, surface the last
	// error seen, not the first -- later records are more likely to be the
	// "real" key record when earlier ones are unrelated TXT noise.
	var lastErr error
	for _, v := range values {
		trace(ctx, "TXT record for %q: %q", keyName, v)
		pk, err := parsePublicKeyRecord(v)
		if err != nil {
			trace(ctx, "Skipping %q: %v", keyName, err)
			lastErr = err
			continue
		}
		return KeyResult{Key: pk}
	}

	if lastErr != nil {
		return KeyResult{Err: lastErr}
	}
	return KeyResult{Err: newError(NoKey, "no usable key record at %q", keyName)}
}
