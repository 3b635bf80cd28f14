package main

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"decertify/internal/usecase"

	"github.com/go-resty/resty/v2"
)

func runVerify(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var server string
	var timeout time.Duration
	fs.StringVar(&server, "server", os.Getenv("DECERTIFY_SERVER"), "service base URL")
	fs.DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if server == "" || fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "verify requires --server and <request-id>")
		return 1
	}
	requestID := strings.TrimSpace(fs.Arg(0))

	var view usecase.VerificationView
	resp, err := resty.New().
		SetBaseURL(strings.TrimRight(server, "/")).
		SetTimeout(timeout).
		R().
		SetResult(&view).
		Get("/v1/verify/" + url.PathEscape(requestID))
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify: %v\n", err)
		return 1
	}
	if resp.IsError() {
		fmt.Fprintf(os.Stderr, "verify: %s: %s\n", resp.Status(), strings.TrimSpace(resp.String()))
		return 1
	}

	status := "invalid"
	if view.Valid {
		status = "valid"
	}
	fmt.Printf("status=%s request=%s state=%s\n", status, view.RequestID, view.Status)
	if view.Valid {
		fmt.Printf("content_id=%s tx_hash=%s block=%d\n", view.ContentID, view.TxHash, view.BlockNumber)
		return 0
	}
	return 1
}
