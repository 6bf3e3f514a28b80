package core

import (
	"regexp"

	"github.com/JonMunkholm/tidyimport/internal/expr"
	"github.com/JonMunkholm/tidyimport/internal/spec"
)

// computedRule is a ComputedRule with its expression compiled. prog is nil
// when the expression did not compile; every row then evaluates to nil.
type computedRule struct {
	spec.ComputedRule
	prog *expr.Program
}

var identifierPattern = regexp.MustCompile(`[\p{L}_][\p{L}\p{Nd}_]*`)

// evalComputed evaluates one computed rule for every row. The context is the
// frame's current columns with nil replaced by "".
func evalComputed(r computedRule, f *frame) {
	values := make([]any, f.len())
	if r.prog != nil {
		for i := range values {
			vars := f.vars(i)
			for k, v := range vars {
				if v == nil {
					vars[k] = ""
				}
			}
			result, err := r.prog.Eval(vars)
			if err != nil {
				continue
			}
			values[i] = result
		}
	}
	f.set(r.Target, values)

	if r.DropSources {
		for _, name := range ExpressionVariables(r.Expression) {
			f.drop(name)
		}
	}
}

// ExpressionVariables returns the names an expression refers to, in order of
// first appearance. Expressions that do not tokenize fall back to every
// identifier-like run of letters, digits and underscores; callers only act on
// names that are also columns.
func ExpressionVariables(expression string) []string {
	if names, err := expr.Names(expression); err == nil {
		return names
	}
	return identifierPattern.FindAllString(expression, -1)
}
