package dkim

import (
	"crypto/rsa"
	"crypto/x509"
	"strings"
)

// PublicKey is a parsed RSA public key published under
// <selector>._domainkey.<domain>, along with the flags from its record
// that a StrictKeyPolicy may want to enforce.
type PublicKey struct {
	RSA *rsa.PublicKey

	// Raw DER the key was extracted from, kept for diagnostics.
	DER []byte

	// Flags is the t= tag: a colon-separated set, e.g. {"s"} for strict
	// domain matching or {"y"} for test mode. Populated but not enforced
	// by Check; see StrictKeyPolicy.
	Flags []string

	// Hashes is the h= tag restricting which digest algorithms this key
	// accepts. Empty means no restriction. Populated but not enforced by
	// Check; see StrictKeyPolicy.
	Hashes []string
}

// parsePublicKeyRecord parses one TXT record body published at a
// _domainkey name. Only "p=" is required, and it is always decoded as an
// RSA key. "t=" and "h=" feed PublicKey.Flags/Hashes for an optional
// stricter policy layered on top; every other tag ("v=", "k=", "n=", ...)
// is ignored.
//
// An empty p= means the key has been revoked
// (https://datatracker.ietf.org/doc/html/rfc6376#section-3.6.1).
func parsePublicKeyRecord(record string) (*PublicKey, error) {
	tags, err := parseKeyRecordTags(record)
	if err != nil {
		return nil, newError(KeyFail, "unparseable key record: %v", err)
	}

	p, present := tags["p"]
	if !present {
		return nil, newError(KeyFail, "key record has no p= tag")
	}
	p = strings.ReplaceAll(p, " ", "")
	if p == "" {
		return nil, newError(KeyRevoked, "key has been revoked (empty p=)")
	}

	der, err := decodeLenientBase64(p)
	if err != nil {
		return nil, newError(KeyFail, "invalid p=: %v", err)
	}

	rsaPub, err := parseRSASubjectPublicKeyInfo(der)
	if err != nil {
		return nil, newError(KeyFail, "invalid rsa key: %v", err)
	}

	pk := &PublicKey{RSA: rsaPub, DER: der}
	if t, ok := tags["t"]; ok && t != "" {
		pk.Flags = splitColonList(t)
	}
	if h, ok := tags["h"]; ok && h != "" {
		pk.Hashes = splitColonList(h)
	}
	return pk, nil
}

func parseRSASubjectPublicKeyInfo(der []byte) (*rsa.PublicKey, error) {
	// RFC 6376 says p= is a SubjectPublicKeyInfo. RFC 6376 errata #3017
	// notes some signers publish a bare PKCS#1 RSAPublicKey instead; accept
	// both, the way a lenient verifier must.
	var rsaPub *rsa.PublicKey
	pub, err := x509.ParsePKIXPublicKey(der)
	if err == nil {
		var ok bool
		rsaPub, ok = pub.(*rsa.PublicKey)
		if !ok {
			return nil, newError(KeyFail, "key is not an RSA key")
		}
	} else {
		rsaPub, err = x509.ParsePKCS1PublicKey(der)
		if err != nil {
			return nil, err
		}
	}

	// https://datatracker.ietf.org/doc/html/rfc8301#section-3.2
	if rsaPub.Size()*8 < 1024 {
		return nil, newError(KeyFail, "rsa key too small: %d bits", rsaPub.Size()*8)
	}
	return rsaPub, nil
}

func splitColonList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ":") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseKeyRecordTags is a looser cousin of parseTagList for key records:
// unlike a DKIM-Signature, an unrecognized tag in a key record (n=, g=, ...)
// must be ignored rather than rejected
// (https://datatracker.ietf.org/doc/html/rfc6376#section-3.6.1).
func parseKeyRecordTags(record string) (map[string]string, error) {
	record = strings.TrimSpace(record)
	record = strings.TrimSuffix(record, ";")
	if record == "" {
		return map[string]string{}, nil
	}

	tags := make(map[string]string)
	for _, tv := range strings.Split(record, ";") {
		t, v, found := strings.Cut(tv, "=")
		if !found {
			continue
		}
		t = strings.TrimSpace(t)
		v = strings.TrimSpace(v)
		if t == "" {
			continue
		}
		tags[t] = v
	}
	return tags, nil
}
