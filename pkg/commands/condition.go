package commands

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/ormasoftchile/recipe/pkg/recipe"
)

// ConditionAttr holds an optional expression deciding whether a command
// runs, e.g. if="os != 'windows'".
const ConditionAttr = "if"

// Condition evaluates the command's "if" attribute. Commands without one
// always run. The expression sees os, arch and env.
func Condition(cmd recipe.Command) (bool, error) {
	raw, ok := cmd.Attributes[ConditionAttr]
	if !ok {
		return true, nil
	}
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return true, nil
		}
		env := conditionEnv()
		program, err := expr.Compile(v, expr.Env(env), expr.AsBool())
		if err != nil {
			return false, fmt.Errorf("compile condition %q: %w", v, err)
		}
		out, err := expr.Run(program, env)
		if err != nil {
			return false, fmt.Errorf("evaluate condition %q: %w", v, err)
		}
		return out.(bool), nil
	}
	return false, fmt.Errorf("condition must be a string or boolean, got %T", raw)
}

func conditionEnv() map[string]any {
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	return map[string]any{
		"os":   runtime.GOOS,
		"arch": runtime.GOARCH,
		"env":  vars,
	}
}
