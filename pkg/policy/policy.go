// Package policy evaluates an optional operator-supplied admission rule over
// incoming intents. The rule is a CEL expression returning a bool; a false
// result rejects the intent with POLICY_DENIED before normalisation runs.
package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Guard holds a compiled admission rule. A nil Guard admits everything.
type Guard struct {
	program cel.Program
	rule    string
}

// Compile builds a Guard from a CEL expression. An empty rule returns a nil
// Guard. Compilation errors are returned, never deferred to request time.
func Compile(rule string) (*Guard, error) {
	if rule == "" {
		return nil, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("intent_type", cel.StringType),
		cel.Variable("confidence", cel.DoubleType),
		cel.Variable("actor_id", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("fields", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("policy env: %w", err)
	}
	ast, issues := env.Compile(rule)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("policy rule does not compile: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("policy rule must return bool, got %s", ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("policy program: %w", err)
	}
	return &Guard{program: prg, rule: rule}, nil
}

// Input is the intent view the rule evaluates over.
type Input struct {
	IntentType string
	Confidence float64
	ActorID    string
	Source     string
	Fields     map[string]any
}

// Admit evaluates the rule. Evaluation errors fail closed.
func (g *Guard) Admit(in Input) bool {
	if g == nil {
		return true
	}
	fields := in.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	out, _, err := g.program.Eval(map[string]any{
		"intent_type": in.IntentType,
		"confidence":  in.Confidence,
		"actor_id":    in.ActorID,
		"source":      in.Source,
		"fields":      fields,
	})
	if err != nil {
		return false
	}
	allowed, ok := out.Value().(bool)
	return ok && allowed
}

// Rule returns the source expression, for logging.
func (g *Guard) Rule() string {
	if g == nil {
		return ""
	}
	return g.rule
}
