package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"decertify/internal/domain"
	"decertify/internal/infra/policyopa"
)

func runPolicyCheck(args []string) int {
	fs := flag.NewFlagSet("policy check", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var policyPath, inPath string
	fs.StringVar(&policyPath, "policy", "", "rego policy file or directory")
	fs.StringVar(&inPath, "in", "", "policy input JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if policyPath == "" || inPath == "" {
		fmt.Fprintln(os.Stderr, "policy check requires --policy and --in")
		return 1
	}

	payload, err := os.ReadFile(inPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read input: %v\n", err)
		return 1
	}
	var input domain.PolicyInput
	if err := json.Unmarshal(payload, &input); err != nil {
		fmt.Fprintf(os.Stderr, "decode input: %v\n", err)
		return 1
	}

	ctx := context.Background()
	engine, err := policyopa.NewEngineFromPath(ctx, policyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load policy: %v\n", err)
		return 1
	}
	denies, err := engine.Evaluate(ctx, input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "evaluate policy: %v\n", err)
		return 1
	}
	if len(denies) == 0 {
		fmt.Println("status=allow")
		return 0
	}
	fmt.Println("status=deny")
	for _, deny := range denies {
		fmt.Printf("deny.code=%s message=%q\n", deny.Code, deny.Message)
	}
	return 1
}
