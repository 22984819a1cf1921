package dkim

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"strings"
	"testing"
)

func buildSignedMessage(t *testing.T, selector string) (string, Resolver) {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	message := "From: a@example.com\r\n\r\nhello\r\n"
	sigValue := signTestMessageNamed(t, priv, Relaxed, Relaxed, RSASHA256, message,
		"DKIM-Signature", selector, "")

	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	record := "v=DKIM1; p=" + base64.StdEncoding.EncodeToString(der)

	resolver := fakeResolver{records: map[string][]string{
		selector + "._domainkey.example.com": {record},
	}}

	full := "DKIM-Signature: " + strings.ReplaceAll(sigValue, "\r\n", "\r\n ") + "\r\n" + message
	return full, resolver
}

func TestVerifyAllPass(t *testing.T) {
	message, resolver := buildSignedMessage(t, "sel1")

	result, err := VerifyAll(context.Background(), resolver, message)
	if err != nil {
		t.Fatalf("VerifyAll: %v", err)
	}
	if result.Found != 1 || result.Passed != 1 {
		t.Errorf("result = %+v, want Found=1 Passed=1", result)
	}
	if result.Results[0].Verdict != CONTINUE {
		t.Errorf("Results[0].Verdict = %v, want CONTINUE", result.Results[0].Verdict)
	}

	ar := result.AuthenticationResults()
	if !strings.Contains(ar, "dkim=pass") {
		t.Errorf("AuthenticationResults() = %q, want it to contain dkim=pass", ar)
	}
}

func TestVerifyAllNoSignature(t *testing.T) {
	result, err := VerifyAll(context.Background(), fakeResolver{}, "From: a@example.com\r\n\r\nhello\r\n")
	if err != nil {
		t.Fatalf("VerifyAll: %v", err)
	}
	if result.Found != 0 {
		t.Errorf("Found = %d, want 0", result.Found)
	}
	if got := result.AuthenticationResults(); got != ";dkim=none\r\n" {
		t.Errorf("AuthenticationResults() = %q, want %q", got, ";dkim=none\r\n")
	}
}

func TestVerifyAllMaxHeaders(t *testing.T) {
	sig := "DKIM-Signature: v=1; a=rsa-sha256; c=relaxed/relaxed; d=example.com; " +
		"s=sel; h=from; bh=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=; b=AAAA\r\n"
	message := strings.Repeat(sig, 8) + "From: a@example.com\r\n\r\nhello\r\n"

	ctx := WithMaxHeaders(context.Background(), 3)
	result, err := VerifyAll(ctx, fakeResolver{}, message)
	if err != nil {
		t.Fatalf("VerifyAll: %v", err)
	}
	if result.Found != 3 {
		t.Errorf("Found = %d, want 3 (capped by WithMaxHeaders)", result.Found)
	}
}

// TestVerifyAllNonCanonicalHeaderCasing is the regression case for
// re-canonicalizing the signature header under its real field name: RFC
// 5322 lets a signer write "Dkim-Signature" instead of "DKIM-Signature",
// and under simple canonicalization that casing is part of the hashed
// bytes. A verifier that re-hashes a hardcoded "DKIM-Signature" would
// reject this otherwise-valid signature.
func TestVerifyAllNonCanonicalHeaderCasing(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	message := "From: a@example.com\r\n\r\nhello\r\n"
	sigValue := signTestMessageNamed(t, priv, Simple, Simple, RSASHA256, message,
		"Dkim-Signature", "sel3", "")

	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	record := "v=DKIM1; p=" + base64.StdEncoding.EncodeToString(der)
	resolver := fakeResolver{records: map[string][]string{
		"sel3._domainkey.example.com": {record},
	}}

	// No space after the colon: under simple canonicalization the header
	// is hashed byte for byte, and the signer hashed "Dkim-Signature:"
	// immediately followed by the value.
	full := "Dkim-Signature:" + sigValue + "\r\n" + message

	result, err := VerifyAll(context.Background(), resolver, full)
	if err != nil {
		t.Fatalf("VerifyAll: %v", err)
	}
	if result.Found != 1 || result.Passed != 1 {
		t.Fatalf("result = %+v, want Found=1 Passed=1", result)
	}
	if result.Results[0].Verdict != CONTINUE {
		t.Errorf("Results[0].Verdict = %v, err = %v, want CONTINUE", result.Results[0].Verdict, result.Results[0].Err)
	}
}
