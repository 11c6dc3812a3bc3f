// Package interp implements the chain mini-language: {name} variable
// substitution into step arguments, and guard condition evaluation with
// three operators (contains, ==, !=) plus an expr:-prefixed extension
// for full expression syntax.
package interp

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
)

// placeholderRe matches {name} references inside string values.
var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// exprPrefix marks a condition evaluated by expr-lang instead of the
// three-operator grammar.
const exprPrefix = "expr:"

// Substitute replaces every {name} in string values with the string form
// of variables[name], falling back to outputs[name]. Unresolved names are
// left literal — referencing a never-produced output is not an error.
// Lists and maps are walked recursively; non-string scalars pass through.
func Substitute(value any, variables, outputs map[string]any) any {
	switch v := value.(type) {
	case string:
		return SubstituteString(v, variables, outputs)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, elem := range v {
			out[k] = Substitute(elem, variables, outputs)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = Substitute(elem, variables, outputs)
		}
		return out
	default:
		return value
	}
}

// SubstituteString applies {name} substitution to a single string.
func SubstituteString(s string, variables, outputs map[string]any) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		name := match[1 : len(match)-1]
		if v, ok := variables[name]; ok {
			return Stringify(v)
		}
		if v, ok := outputs[name]; ok {
			return Stringify(v)
		}
		return match
	})
}

// Stringify renders a captured value for substitution and file output.
// Strings pass through; structured values render as compact JSON.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}

// EvaluateCondition evaluates a step guard against the variable namespace.
// An empty condition is always true. Conditions starting with "expr:" are
// compiled by expr-lang against the merged namespace. Everything else is
// substituted and then matched against the operators, in order:
//
//	<left> contains <right>   substring match, right quote-stripped
//	<left> == <right>         equality, both sides quote-stripped
//	<left> != <right>         inequality, both sides quote-stripped
//
// A condition with no recognized operator is an error, which the executor
// treats as a step failure rather than a silent pass or fail.
func EvaluateCondition(condition string, variables, outputs map[string]any) (bool, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return true, nil
	}

	if rest, ok := strings.CutPrefix(condition, exprPrefix); ok {
		return evaluateExpr(rest, variables, outputs)
	}

	substituted := SubstituteString(condition, variables, outputs)

	if left, right, ok := splitOperator(substituted, " contains "); ok {
		return strings.Contains(left, stripQuotes(right)), nil
	}
	if left, right, ok := splitOperator(substituted, " == "); ok {
		return stripQuotes(left) == stripQuotes(right), nil
	}
	if left, right, ok := splitOperator(substituted, " != "); ok {
		return stripQuotes(left) != stripQuotes(right), nil
	}

	return false, fmt.Errorf("malformed condition %q: no recognized operator (contains, ==, !=)", condition)
}

// splitOperator splits s on the first occurrence of op, trimming both sides.
func splitOperator(s, op string) (left, right string, ok bool) {
	idx := strings.Index(s, op)
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(s[:idx]), strings.TrimSpace(s[idx+len(op):]), true
}

// stripQuotes removes one layer of matching surrounding quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// evaluateExpr compiles and runs an expr-lang boolean expression against
// the merged variable namespace. Captured values that look like JSON
// arrays or objects are parsed so expressions like len(items) > 0 work.
func evaluateExpr(exprStr string, variables, outputs map[string]any) (bool, error) {
	env := buildEnv(variables, outputs)
	program, err := expr.Compile(exprStr, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile condition %q: %w", exprStr, err)
	}
	output, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("eval condition %q: %w", exprStr, err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not return bool (got %T: %v)", exprStr, output, output)
	}
	return result, nil
}

// buildEnv merges variables and outputs into one map for expr evaluation.
// Variables take precedence, matching substitution order.
func buildEnv(variables, outputs map[string]any) map[string]any {
	env := make(map[string]any, len(variables)+len(outputs))
	for k, v := range outputs {
		env[k] = parseValue(v)
	}
	for k, v := range variables {
		env[k] = parseValue(v)
	}
	return env
}

// parseValue attempts to parse a string value as a JSON array or object so
// expression functions like len work on structured captures. Everything
// else is returned unchanged.
func parseValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	s = strings.TrimSpace(s)
	if len(s) > 1 && s[0] == '[' {
		var arr []any
		if err := json.Unmarshal([]byte(s), &arr); err == nil {
			return arr
		}
	}
	if len(s) > 1 && s[0] == '{' {
		var obj map[string]any
		if err := json.Unmarshal([]byte(s), &obj); err == nil {
			return obj
		}
	}
	return v
}
