package policyopa

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"

	"decertify/internal/domain"
)

const denyQuery = "data.decertify.issuance.deny"

// Engine evaluates the issuance policy on accept. Each deny entry blocks the
// transition.
type Engine struct {
	query rego.PreparedEvalQuery
}

func NewEngineFromPath(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return nil, errors.New("policy path is required")
	}
	return newEngine(ctx, rego.Load([]string{path}, nil))
}

func NewEngineFromModule(ctx context.Context, filename, source string) (*Engine, error) {
	return newEngine(ctx, rego.Module(filename, source))
}

func newEngine(ctx context.Context, source func(*rego.Rego)) (*Engine, error) {
	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	prepared, err := rego.New(
		rego.Query(denyQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
		source,
	).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}
	if err := assertAllowedBuiltins(compiler); err != nil {
		return nil, err
	}
	return &Engine{query: prepared}, nil
}

func (e *Engine) Evaluate(ctx context.Context, input domain.PolicyInput) ([]domain.PolicyDeny, error) {
	if e == nil {
		return nil, errors.New("policy engine is nil")
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(results[0].Expressions[0].Value)
	if err != nil {
		return nil, err
	}
	var denies []domain.PolicyDeny
	if err := json.Unmarshal(payload, &denies); err != nil {
		return nil, err
	}
	sort.Slice(denies, func(i, j int) bool {
		if denies[i].Code == denies[j].Code {
			return denies[i].Message < denies[j].Message
		}
		return denies[i].Code < denies[j].Code
	})
	return denies, nil
}
