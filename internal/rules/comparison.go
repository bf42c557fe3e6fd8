package rules

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/shrike/internal/domain"
)

// comparisonCompiler turns COMPARISON rule conditions into compiled CEL
// programs. Programs are cached per rule version; an edited rule gets a
// fresh compile.
type comparisonCompiler struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]cel.Program
}

func newComparisonCompiler() (*comparisonCompiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("weekday", cel.IntType),
		cel.Variable("type", cel.StringType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("country", cel.StringType),
		cel.Variable("merchant", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &comparisonCompiler{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// program returns the compiled CEL program for the rule, compiling on
// first use.
func (c *comparisonCompiler) program(rule *domain.DetectionRule) (cel.Program, error) {
	key := ruleVersion(rule)

	c.mu.RLock()
	program, ok := c.programs[key]
	c.mu.RUnlock()
	if ok {
		return program, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if program, ok := c.programs[key]; ok {
		return program, nil
	}

	expression, err := buildExpression(rule.Params.Comparison.Conditions)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
	}

	ast, issues := c.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("rule %s: failed to compile %q: %w", rule.ID, expression, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err = c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("rule %s: failed to create program: %w", rule.ID, err)
	}

	c.programs[key] = program
	return program, nil
}

// buildExpression renders the AND of all conditions as CEL source.
func buildExpression(conditions []domain.FieldCondition) (string, error) {
	if len(conditions) == 0 {
		return "", fmt.Errorf("at least one condition required")
	}

	parts := make([]string, 0, len(conditions))
	for _, cond := range conditions {
		op, err := celOperator(cond.Op)
		if err != nil {
			return "", err
		}
		literal, err := celLiteral(cond.Field, cond.Value)
		if err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("%s %s %s", cond.Field, op, literal))
	}
	return strings.Join(parts, " && "), nil
}

func celOperator(op domain.ComparisonOp) (string, error) {
	switch op {
	case domain.OpGreaterThan:
		return ">", nil
	case domain.OpLessThan:
		return "<", nil
	case domain.OpEquals:
		return "==", nil
	default:
		return "", fmt.Errorf("unknown operator %q", op)
	}
}

// celLiteral renders the condition value as a CEL literal of the field's
// declared type. JSON decoding hands numbers over as float64; integer
// fields get truncated back.
func celLiteral(field string, value any) (string, error) {
	switch field {
	case "amount":
		f, ok := toFloat(value)
		if !ok {
			return "", fmt.Errorf("field %s requires a numeric value, got %T", field, value)
		}
		return fmt.Sprintf("%g", f), nil
	case "hour", "weekday":
		f, ok := toFloat(value)
		if !ok {
			return "", fmt.Errorf("field %s requires a numeric value, got %T", field, value)
		}
		return fmt.Sprintf("%d", int64(f)), nil
	case "type", "currency", "country", "merchant":
		s, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("field %s requires a string value, got %T", field, value)
		}
		return fmt.Sprintf("%q", s), nil
	default:
		return "", fmt.Errorf("unknown field %q", field)
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// evalComparison runs the program against the transaction's bindings.
func evalComparison(program cel.Program, tx *domain.Transaction, homeCountry string) (bool, error) {
	out, _, err := program.Eval(activationFor(tx, homeCountry))
	if err != nil {
		return false, fmt.Errorf("evaluation error: %w", err)
	}

	result, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("expression returned %T, want bool", out)
	}
	return bool(result), nil
}
