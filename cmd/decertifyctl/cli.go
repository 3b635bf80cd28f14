package main

import (
	"fmt"
	"os"
	"path/filepath"
)

func run(args []string) int {
	if len(args) < 2 {
		usage(args)
		return 1
	}

	switch args[1] {
	case "stamp":
		return runStamp(args[2:])
	case "policy":
		if len(args) >= 3 && args[2] == "check" {
			return runPolicyCheck(args[3:])
		}
	case "verify":
		return runVerify(args[2:])
	}

	usage(args)
	return 1
}

func usage(args []string) {
	name := "decertifyctl"
	if len(args) > 0 && args[0] != "" {
		name = filepath.Base(args[0])
	}
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  %s stamp --in <document.pdf> --request-id <id> [--verify-url <url>] [--out <file>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s policy check --policy <file.rego> --in <input.json>\n", name)
	fmt.Fprintf(os.Stderr, "  %s verify --server <url> <request-id>\n", name)
}
