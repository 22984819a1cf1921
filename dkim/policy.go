package dkim

import "strings"

// StrictKeyPolicy layers the optional key-record constraints RFC 6376
// defines but Check does not enforce on its own: the h= hash-algorithm
// restriction and the t=s strict-subdomain flag. Check only ever
// consults p=; a caller that wants these extra constraints enforced
// calls Check on this type after Check on the context returns CONTINUE.
// They are a separate, optional pass so a caller can choose whether to
// apply them; RFC 6376 treats both as advisory rather than mandatory for
// verifiers.
type StrictKeyPolicy struct{}

// Check reports whether key is acceptable for vctx under the strict
// policy. It assumes the signature itself already verified; it only adds
// constraints, it does not repeat signature verification.
func (StrictKeyPolicy) Check(vctx *VerifierContext, key *PublicKey) error {
	if len(key.Hashes) > 0 {
		want := hashTagName(vctx.Algorithm)
		ok := false
		for _, h := range key.Hashes {
			if strings.EqualFold(h, want) {
				ok = true
				break
			}
		}
		if !ok {
			return newError(KeyFail, "key restricts h= to %v, signature uses %s", key.Hashes, want)
		}
	}

	if vctx.Identity != "" && hasFlag(key.Flags, "s") {
		_, domain, _ := strings.Cut(vctx.Identity, "@")
		if !strings.EqualFold(domain, vctx.Domain) {
			return newError(KeyFail, "t=s set: i= domain %q is not exactly d=%q", domain, vctx.Domain)
		}
	}

	return nil
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

func hashTagName(a Algorithm) string {
	if a == RSASHA1 {
		return "sha1"
	}
	return "sha256"
}
