package dkim

import (
	"testing"
	"time"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNewVerifierContextCompleteness(t *testing.T) {
	// Property 1: missing any required tag fails with the matching EMPTY_*
	// kind. bh=AAAA decodes to 3 bytes, the wrong length for SHA-256, and
	// every case lacks one required tag.
	cases := []struct {
		sig  string
		kind ErrorKind
	}{
		{"a=rsa-sha256; c=relaxed/relaxed; d=x; s=s; h=from; bh=AAAA; b=AAAA", EmptyV},
		{"v=1; c=relaxed/relaxed; d=x; s=s; h=from; bh=AAAA; b=AAAA", InvalidA},
		{"v=1; a=rsa-sha256; c=relaxed/relaxed; d=x; s=s; h=from; bh=AAAA", EmptyB},
		{"v=1; a=rsa-sha256; c=relaxed/relaxed; d=x; s=s; h=from; b=AAAA", EmptyBH},
		{"v=1; a=rsa-sha256; c=relaxed/relaxed; s=s; h=from; bh=AAAA; b=AAAA", EmptyD},
		{"v=1; a=rsa-sha256; c=relaxed/relaxed; d=x; h=from; bh=AAAA; b=AAAA", EmptyS},
		{"v=1; a=rsa-sha256; c=relaxed/relaxed; d=x; s=s; bh=AAAA; b=AAAA", EmptyH},
	}

	for _, c := range cases {
		_, err := NewVerifierContext(c.sig, nil)
		if err == nil {
			t.Errorf("NewVerifierContext(%q) = nil, want %v", c.sig, c.kind)
			continue
		}
		if Kind(err) != c.kind {
			t.Errorf("NewVerifierContext(%q) kind = %v, want %v", c.sig, Kind(err), c.kind)
		}
	}
}

func TestBHLengthLaw(t *testing.T) {
	// Property 2: bh= length must match the declared algorithm's digest
	// size.
	sha1bh := "eDp4eDp4eDp4eDp4eDp4eDp4eDA=" // arbitrary 20-byte digest, base64
	sha256bh := "47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU="

	_, err := NewVerifierContext(
		"v=1; a=rsa-sha1; d=x; s=s; h=from; bh="+sha256bh+"; b=AAAA", nil)
	if Kind(err) != BadSig {
		t.Errorf("rsa-sha1 with sha256-sized bh=: kind = %v, want BadSig", Kind(err))
	}

	_, err = NewVerifierContext(
		"v=1; a=rsa-sha1; d=x; s=s; h=from; bh="+sha1bh+"; b=AAAA", nil)
	if err != nil {
		t.Errorf("rsa-sha1 with sha1-sized bh=: got %v, want nil", err)
	}
}

func TestFromMandated(t *testing.T) {
	// Property 3.
	cases := []string{"subject", "subject:date", "Subject:Date", ""}
	for _, h := range cases {
		sig := "v=1; a=rsa-sha256; d=x; s=s; h=" + h +
			"; bh=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=; b=AAAA"
		_, err := NewVerifierContext(sig, nil)
		if Kind(err) != InvalidH && Kind(err) != EmptyH {
			t.Errorf("NewVerifierContext(h=%q) kind = %v, want INVALID_H/EMPTY_H", h, Kind(err))
		}
	}

	// "From" case-insensitively present must succeed.
	sig := "v=1; a=rsa-sha256; d=x; s=s; h=Subject:FROM:Date;" +
		"bh=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=; b=AAAA"
	if _, err := NewVerifierContext(sig, nil); err != nil {
		t.Errorf("NewVerifierContext with From present: %v", err)
	}
}

func TestClockBounds(t *testing.T) {
	// Property 7.
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	future := "v=1; a=rsa-sha256; d=x; s=s; h=from; " +
		"bh=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=; b=AAAA; t=" +
		itoa(now.Add(time.Hour).Unix())
	_, err := NewVerifierContext(future, fixedNow(now))
	if Kind(err) != Future {
		t.Errorf("future t=: kind = %v, want Future", Kind(err))
	}

	expired := "v=1; a=rsa-sha256; d=x; s=s; h=from; " +
		"bh=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=; b=AAAA; x=" +
		itoa(now.Add(-time.Hour).Unix())
	_, err = NewVerifierContext(expired, fixedNow(now))
	if Kind(err) != Expired {
		t.Errorf("expired x=: kind = %v, want Expired", Kind(err))
	}
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestDNSKeyName(t *testing.T) {
	sig := "v=1; a=rsa-sha256; d=example.com; s=sel; h=from; " +
		"bh=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=; b=AAAA"
	ctx, err := NewVerifierContext(sig, nil)
	if err != nil {
		t.Fatalf("NewVerifierContext: %v", err)
	}
	want := "sel._domainkey.example.com"
	if ctx.DNSKeyName != want {
		t.Errorf("DNSKeyName = %q, want %q", ctx.DNSKeyName, want)
	}
}

func TestParseCTag(t *testing.T) {
	cases := []struct {
		in      string
		wantH   Canonicalization
		wantB   Canonicalization
		wantErr bool
	}{
		{"", Simple, Simple, false},
		{"simple", Simple, Simple, false},
		{"relaxed", Relaxed, Simple, false},
		{"simple/relaxed", Simple, Relaxed, false},
		{"relaxed/relaxed", Relaxed, Relaxed, false},
		{"bogus", 0, 0, true},
		{"simple/bogus", 0, 0, true},
	}

	for _, c := range cases {
		h, b, err := parseCTag(c.in)
		if c.wantErr != (err != nil) {
			t.Errorf("parseCTag(%q) err = %v, wantErr = %v", c.in, err, c.wantErr)
			continue
		}
		if err != nil {
			continue
		}
		if h != c.wantH || b != c.wantB {
			t.Errorf("parseCTag(%q) = (%v, %v), want (%v, %v)", c.in, h, b, c.wantH, c.wantB)
		}
	}
}
