package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"decertify/internal/domain"
	"decertify/internal/infra/document"
)

// runStamp renders the verification marker into a local PDF, the same way
// the pipeline does in its first step.
func runStamp(args []string) int {
	fs := flag.NewFlagSet("stamp", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var inPath, outPath, requestID, verifyURL string
	fs.StringVar(&inPath, "in", "", "input PDF")
	fs.StringVar(&outPath, "out", "", "output file (default stdout)")
	fs.StringVar(&requestID, "request-id", "", "request id encoded in the marker")
	fs.StringVar(&verifyURL, "verify-url", "", "public verification base URL")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if inPath == "" || requestID == "" {
		fmt.Fprintln(os.Stderr, "stamp requires --in and --request-id")
		return 1
	}

	source, err := os.ReadFile(inPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read document: %v\n", err)
		return 1
	}
	stamped, err := document.NewProcessor().Embed(context.Background(), source, domain.VerificationPayload{
		RequestID: requestID,
		VerifyURL: verifyURL,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "stamp document: %v\n", err)
		return 1
	}

	if outPath == "" {
		if _, err := os.Stdout.Write(stamped); err != nil {
			fmt.Fprintf(os.Stderr, "write output: %v\n", err)
			return 1
		}
		return 0
	}
	if err := os.WriteFile(outPath, stamped, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write output: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "digest=%s\n", domain.Digest(stamped))
	return 0
}
