package dag

import (
	"fmt"
	"runtime"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
)

// conditionEnv is the shared CEL environment for task condition expressions.
// Every expression sees the running platform (os, arch) and the task's own
// declared environment map.
var conditionEnv = mustConditionEnv()

func mustConditionEnv() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("os", cel.StringType),
		cel.Variable("arch", cel.StringType),
		cel.Variable("env", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		panic(errors.Wrap(err, "building condition CEL environment"))
	}
	return env
}

// EvaluateCondition evaluates a task's condition expression against the
// current platform and the task's own declared environment.
//
// An empty expression is always true. A non-empty expression that does not
// compile or does not evaluate to a bool is a configuration error, not a
// task failure, and is reported to the caller rather than silently pruned.
func EvaluateCondition(expr string, env map[string]string) (bool, error) {
	if expr == "" {
		return true, nil
	}

	ast, issues := conditionEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return false, errors.Wrapf(issues.Err(), "invalid condition %q", expr)
	}
	prg, err := conditionEnv.Program(ast)
	if err != nil {
		return false, errors.Wrapf(err, "building condition program %q", expr)
	}

	celEnv := make(map[string]string, len(env))
	for k, v := range env {
		celEnv[k] = v
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"os":   runtime.GOOS,
		"arch": runtime.GOARCH,
		"env":  celEnv,
	})
	if err != nil {
		return false, errors.Wrapf(err, "evaluating condition %q", expr)
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not evaluate to a bool", expr)
	}
	return b, nil
}
