// Command dkim-verify checks the DKIM-Signature headers on a message read
// from stdin and prints an Authentication-Results header field summarizing
// the result.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"blitiri.com.ar/go/dkimverify/dkim"
	"blitiri.com.ar/go/log"
)

var (
	verbose    = flag.Bool("v", false, "trace the verification steps to stderr")
	maxSigs    = flag.Int("max_signatures", 5, "stop after this many DKIM-Signature headers")
	authServID = flag.String("authserv_id", "", "authserv-id to use in the Authentication-Results header (defaults to hostname)")
)

func main() {
	flag.Parse()
	log.Init()

	msg, err := io.ReadAll(os.Stdin)
	if err != nil {
		log.Fatalf("Error reading message: %v", err)
	}
	// DKIM canonicalization assumes CRLF line endings throughout.
	msg = toCRLF(msg)

	ctx := context.Background()
	ctx = dkim.WithMaxHeaders(ctx, *maxSigs)
	if *verbose {
		ctx = dkim.WithTraceFunc(ctx, func(format string, args ...interface{}) {
			fmt.Fprintf(os.Stderr, format+"\n", args...)
		})
	}

	result, err := dkim.VerifyAll(ctx, dkim.DefaultResolver, string(msg))
	if err != nil {
		log.Fatalf("Error verifying message: %v", err)
	}

	id := *authServID
	if id == "" {
		id, _ = os.Hostname()
	}

	ar := "Authentication-Results: " + id + "\r\n\t"
	ar += strings.ReplaceAll(result.AuthenticationResults(), "\r\n", "\r\n\t")
	fmt.Println(strings.TrimSuffix(ar, "\t"))

	if result.Found > 0 && result.Passed == 0 {
		os.Exit(1)
	}
}

func toCRLF(b []byte) []byte {
	s := strings.ReplaceAll(string(b), "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n", "\r\n")
	return []byte(s)
}
