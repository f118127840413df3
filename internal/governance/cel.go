package governance

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// CELGate evaluates a set of CEL boolean expressions against the permission
// request. Every rule must hold for the request to be allowed; the first
// failing rule becomes the rejection reason. Rules are compiled once at
// construction.
type CELGate struct {
	rules []compiledRule
}

type compiledRule struct {
	expression string
	program    cel.Program
}

func NewCELGate(rules []string) (*CELGate, error) {
	env, err := cel.NewEnv(
		cel.Variable("source", cel.StringType),
		cel.Variable("queue", cel.StringType),
		cel.Variable("message_id", cel.StringType),
		cel.Variable("tenant_id", cel.StringType),
		cel.Variable("event_name", cel.StringType),
		cel.Variable("caller", cel.StringType),
		cel.Variable("capability", cel.StringType),
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		ast, issues := env.Compile(rule)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile policy rule %q: %w", rule, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("policy rule %q must return bool, got %v", rule, ast.OutputType())
		}

		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to create CEL program for rule %q: %w", rule, err)
		}
		compiled = append(compiled, compiledRule{expression: rule, program: program})
	}

	return &CELGate{rules: compiled}, nil
}

func (g *CELGate) CheckPermission(ctx context.Context, request map[string]interface{}) (Decision, error) {
	vars := map[string]interface{}{
		"source":     stringField(request, "source"),
		"queue":      stringField(request, "queue"),
		"message_id": stringField(request, "message_id"),
		"tenant_id":  stringField(request, "tenant_id"),
		"event_name": stringField(request, "event_name"),
		"caller":     stringField(request, "caller"),
		"capability": stringField(request, "capability"),
		"request":    request,
	}

	for _, rule := range g.rules {
		result, _, err := rule.program.ContextEval(ctx, vars)
		if err != nil {
			return Decision{}, fmt.Errorf("failed to evaluate policy rule %q: %w", rule.expression, err)
		}

		allowed, ok := result.Value().(bool)
		if !ok {
			return Decision{}, fmt.Errorf("policy rule %q did not return bool, got %T", rule.expression, result.Value())
		}

		if !allowed {
			return Decision{
				Allowed: false,
				Reason:  fmt.Sprintf("denied by policy rule: %s", rule.expression),
				Policies: map[string]interface{}{
					"rule": rule.expression,
				},
			}, nil
		}
	}

	return Decision{Allowed: true, Reason: "all policy rules passed"}, nil
}

func stringField(request map[string]interface{}, key string) string {
	if v, ok := request[key].(string); ok {
		return v
	}
	return ""
}
