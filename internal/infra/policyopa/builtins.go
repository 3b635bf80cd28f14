package policyopa

import (
	"fmt"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/ast"
)

// Issuance policies only see the request and document metadata, so they get
// pure builtins and nothing that reaches outside the evaluation.
var allowedBuiltins = map[string]struct{}{
	"assign":            {},
	"eq":                {},
	"equal":             {},
	"neq":               {},
	"gt":                {},
	"gte":               {},
	"lt":                {},
	"lte":               {},
	"plus":              {},
	"minus":             {},
	"mul":               {},
	"div":               {},
	"rem":               {},
	"count":             {},
	"sum":               {},
	"max":               {},
	"min":               {},
	"concat":            {},
	"contains":          {},
	"startswith":        {},
	"endswith":          {},
	"lower":             {},
	"upper":             {},
	"trim":              {},
	"trim_space":        {},
	"split":             {},
	"sprintf":           {},
	"regex.match":       {},
	"object.get":        {},
	"internal.member_2": {},
}

func filterBuiltins(builtins []*ast.Builtin) []*ast.Builtin {
	allowed := make([]*ast.Builtin, 0, len(allowedBuiltins))
	for _, builtin := range builtins {
		if _, ok := allowedBuiltins[builtin.Name]; ok {
			allowed = append(allowed, builtin)
		}
	}
	return allowed
}

func assertAllowedBuiltins(compiler *ast.Compiler) error {
	forbidden := make(map[string]struct{})
	for _, module := range compiler.Modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			if _, builtin := ast.BuiltinMap[name]; !builtin {
				return false
			}
			if _, ok := allowedBuiltins[name]; !ok {
				forbidden[name] = struct{}{}
			}
			return false
		})
	}
	if len(forbidden) == 0 {
		return nil
	}
	names := make([]string, 0, len(forbidden))
	for name := range forbidden {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("forbidden builtins: %s", strings.Join(names, ", "))
}
