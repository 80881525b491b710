package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
)

var varPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// RenderTemplate substitutes {{name}} placeholders with values from the
// execution's variable bag. Unknown variables render as empty strings.
func RenderTemplate(text string, vars map[string]any) string {
	return varPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := strings.TrimSpace(strings.Trim(match, "{}"))
		v, ok := vars[name]
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprintf("%v", v)
	})
}

// EvalCondition evaluates a conditional-node expression against the
// variable bag. Missing variables evaluate to nil instead of failing.
func EvalCondition(src string, vars map[string]any) (bool, error) {
	env := make(map[string]any, len(vars)+1)
	for k, v := range vars {
		env[k] = v
	}
	env["null"] = nil

	program, err := expr.Compile(src,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return false, fmt.Errorf("compile condition %q: %w", src, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition %q: %w", src, err)
	}
	switch v := out.(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("condition %q evaluated to %T, want bool", src, out)
	}
}
