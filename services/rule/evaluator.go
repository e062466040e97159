package rule

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Evaluator compiles and runs CEL expressions over event attribute maps.
// Compiled programs are cached per (expression, variable set), since the
// promo rule table is small and read often.
type Evaluator struct {
	mu       sync.RWMutex
	programs map[string]cel.Program
}

func NewEvaluator() *Evaluator {
	return &Evaluator{programs: make(map[string]cel.Program)}
}

// Evaluate runs the expression with the attribute map exposed as top-level
// variables. Non-boolean results are an error, not a match.
func (e *Evaluator) Evaluate(expression string, attrs map[string]any) (bool, error) {
	if expression == "" {
		return false, fmt.Errorf("expression must not be empty")
	}
	if attrs == nil {
		attrs = map[string]any{}
	}

	program, err := e.program(expression, attrs)
	if err != nil {
		return false, err
	}

	result, _, err := program.Eval(attrs)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate expression: %w", err)
	}

	boolean, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression must return a boolean, got %T", result.Value())
	}

	return boolean, nil
}

func (e *Evaluator) program(expression string, attrs map[string]any) (cel.Program, error) {
	key := cacheKey(expression, attrs)

	e.mu.RLock()
	program, ok := e.programs[key]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	envOpts := make([]cel.EnvOption, 0, len(attrs))
	for name := range attrs {
		envOpts = append(envOpts, cel.Variable(name, cel.DynType))
	}

	env, err := cel.NewEnv(envOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}

	program, err = env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	e.mu.Lock()
	e.programs[key] = program
	e.mu.Unlock()

	return program, nil
}

// cacheKey folds the variable names into the key: the same expression against
// a different attribute shape needs its own environment.
func cacheKey(expression string, attrs map[string]any) string {
	names := make([]byte, 0, 64)
	for _, name := range sortedKeys(attrs) {
		names = append(names, name...)
		names = append(names, ',')
	}
	return expression + "|" + string(names)
}
