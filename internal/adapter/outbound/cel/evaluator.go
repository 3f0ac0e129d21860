// Package cel evaluates operator-defined policy rules written as CEL
// expressions over a tool call. A rule evaluating to true denies the call.
package cel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/cel-go/cel"
)

// maxExpressionLength is the maximum allowed length for a rule expression.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit, bounding pathological rules.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout bounds a single rule evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context
// cancellation is checked.
const interruptCheckFreq = 100

type compiledRule struct {
	name string
	prg  cel.Program
}

// RuleEvaluator holds compiled custom rules. Rules are compiled once at
// construction; evaluation happens per call on the request path.
type RuleEvaluator struct {
	rules []compiledRule
	log   *slog.Logger
}

// newEnv builds the rule environment: `tool` is the call's tool name,
// `args` its argument map.
func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("tool", cel.StringType),
		cel.Variable("args", cel.MapType(cel.StringType, cel.DynType)),
	)
}

// NewRuleEvaluator compiles the given rules (name to CEL expression).
// A rule that fails validation or compilation is skipped with a warning so
// one bad rule does not disable the rest.
func NewRuleEvaluator(rules map[string]string, log *slog.Logger) (*RuleEvaluator, error) {
	if log == nil {
		log = slog.Default()
	}
	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("create rule environment: %w", err)
	}

	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)

	e := &RuleEvaluator{log: log}
	for _, name := range names {
		expr := rules[name]
		if err := validateExpression(expr); err != nil {
			log.Warn("skipping invalid custom rule", "rule", name, "error", err)
			continue
		}
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			log.Warn("skipping uncompilable custom rule", "rule", name, "error", issues.Err())
			continue
		}
		prg, err := env.Program(ast,
			cel.EvalOptions(cel.OptOptimize),
			cel.CostLimit(maxCostBudget),
			cel.InterruptCheckFrequency(interruptCheckFreq),
		)
		if err != nil {
			log.Warn("skipping custom rule, program creation failed", "rule", name, "error", err)
			continue
		}
		e.rules = append(e.rules, compiledRule{name: name, prg: prg})
	}
	return e, nil
}

// RuleCount returns the number of successfully compiled rules.
func (e *RuleEvaluator) RuleCount() int {
	return len(e.rules)
}

// DenyReasons evaluates every rule against the call and returns one reason
// per rule that matched. Evaluation errors are logged and treated as no
// match.
func (e *RuleEvaluator) DenyReasons(toolName string, args map[string]interface{}) []string {
	if len(e.rules) == 0 {
		return nil
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	activation := map[string]interface{}{
		"tool": toolName,
		"args": args,
	}

	var reasons []string
	for _, rule := range e.rules {
		ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
		result, _, err := rule.prg.ContextEval(ctx, activation)
		cancel()
		if err != nil {
			e.log.Warn("custom rule evaluation failed", "rule", rule.name, "error", err)
			continue
		}
		matched, ok := result.Value().(bool)
		if !ok {
			e.log.Warn("custom rule did not return a boolean",
				"rule", rule.name, "got", fmt.Sprintf("%T", result.Value()))
			continue
		}
		if matched {
			reasons = append(reasons, fmt.Sprintf("Custom rule '%s' denied the call", rule.name))
		}
	}
	return reasons
}

func validateExpression(expr string) error {
	if expr == "" {
		return errors.New("expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}
