package core

import (
	"fmt"

	"github.com/Knetic/govaluate"
)

// Condition is a composable guard deciding whether a stage runs. Exactly one
// field is set per node. Evaluation is pure and never errors outward: an
// unresolvable guard (unknown variable, bad expression) evaluates false so
// that optional stages are simply skipped.
type Condition struct {
	Env   *EnvEquals  `yaml:"env,omitempty"`
	Param string      `yaml:"param,omitempty"`
	Expr  string      `yaml:"expr,omitempty"`
	AllOf []Condition `yaml:"allOf,omitempty"`
	AnyOf []Condition `yaml:"anyOf,omitempty"`
	Not   *Condition  `yaml:"not,omitempty"`
}

// EnvEquals is true when the named environment variable equals a value.
// A missing variable compares false, never errors.
type EnvEquals struct {
	Name   string `yaml:"name"`
	Equals string `yaml:"equals"`
}

// LookupFunc resolves an environment variable by name.
type LookupFunc func(name string) (string, bool)

// MapLookup adapts a plain map to a LookupFunc.
func MapLookup(m map[string]string) LookupFunc {
	return func(name string) (string, bool) {
		v, ok := m[name]
		return v, ok
	}
}

// Evaluate resolves the condition against an environment and the boolean
// parameters. AllOf stops at the first false, AnyOf at the first true.
func (c *Condition) Evaluate(lookup LookupFunc, params map[string]bool) bool {
	if c == nil {
		return true
	}
	switch {
	case c.Env != nil:
		v, ok := lookup(c.Env.Name)
		return ok && v == c.Env.Equals
	case c.Param != "":
		return params[c.Param]
	case c.Expr != "":
		return evalExpr(c.Expr, lookup, params)
	case len(c.AllOf) > 0:
		for i := range c.AllOf {
			if !c.AllOf[i].Evaluate(lookup, params) {
				return false
			}
		}
		return true
	case len(c.AnyOf) > 0:
		for i := range c.AnyOf {
			if c.AnyOf[i].Evaluate(lookup, params) {
				return true
			}
		}
		return false
	case c.Not != nil:
		return !c.Not.Evaluate(lookup, params)
	}
	// Empty condition: unresolvable, so false.
	return false
}

// Validate ensures exactly one condition form is set.
func (c *Condition) Validate() error {
	set := 0
	if c.Env != nil {
		set++
		if c.Env.Name == "" {
			return fmt.Errorf("env condition needs a name")
		}
	}
	if c.Param != "" {
		set++
	}
	if c.Expr != "" {
		set++
		if _, err := govaluate.NewEvaluableExpression(c.Expr); err != nil {
			return fmt.Errorf("bad expr %q: %w", c.Expr, err)
		}
	}
	if len(c.AllOf) > 0 {
		set++
		for i := range c.AllOf {
			if err := c.AllOf[i].Validate(); err != nil {
				return err
			}
		}
	}
	if len(c.AnyOf) > 0 {
		set++
		for i := range c.AnyOf {
			if err := c.AnyOf[i].Validate(); err != nil {
				return err
			}
		}
	}
	if c.Not != nil {
		set++
		if err := c.Not.Validate(); err != nil {
			return err
		}
	}
	if set != 1 {
		return fmt.Errorf("condition must set exactly one of env/param/expr/allOf/anyOf/not")
	}
	return nil
}

// exprParams feeds parameters and environment values into a govaluate
// expression. Params shadow env vars on name collision.
type exprParams struct {
	lookup LookupFunc
	params map[string]bool
}

func (p exprParams) Get(name string) (interface{}, error) {
	if v, ok := p.params[name]; ok {
		return v, nil
	}
	if v, ok := p.lookup(name); ok {
		return v, nil
	}
	return nil, fmt.Errorf("unknown variable %q", name)
}

func evalExpr(expr string, lookup LookupFunc, params map[string]bool) bool {
	parsed, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return false
	}
	out, err := parsed.Eval(exprParams{lookup: lookup, params: params})
	if err != nil {
		return false
	}
	b, ok := out.(bool)
	return ok && b
}
