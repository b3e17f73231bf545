// Package template renders "{{ expression }}" segments inside action data.
//
// Expressions are expr-lang programs evaluated against an environment map.
// The environment an automation sees holds its context values, then one
// entry per plugin with that plugin's helpers and live state, so
// "{{ clock.hour + 1 }}" reads the clock plugin's hour cell.
//
// Compiled programs are cached by source text.
package template

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/nerrad567/cuebox/internal/state"
)

// Env is the variable environment an expression runs against.
type Env = map[string]any

// Errors returned by the template package.
var (
	// ErrUnterminated is returned when a "{{" segment is never closed.
	ErrUnterminated = errors.New("template: unterminated expression")

	// ErrNotNumber is returned when a numeric template yields a non-number.
	ErrNotNumber = errors.New("template: result is not a number")
)

// maxCacheEntries bounds the compiled-program cache. The cache is reset
// when it fills rather than tracking recency.
const maxCacheEntries = 1024

var (
	cacheMu sync.RWMutex
	cache   = make(map[string]*vm.Program)
)

func compile(src string) (*vm.Program, error) {
	cacheMu.RLock()
	program, ok := cache[src]
	cacheMu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(src, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compiling %q: %w", src, err)
	}

	cacheMu.Lock()
	if len(cache) >= maxCacheEntries {
		cache = make(map[string]*vm.Program)
	}
	cache[src] = program
	cacheMu.Unlock()
	return program, nil
}

// Evaluate runs one expression against env.
func Evaluate(src string, env Env) (any, error) {
	program, err := compile(strings.TrimSpace(src))
	if err != nil {
		return nil, err
	}
	if env == nil {
		env = Env{}
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluating %q: %w", src, err)
	}
	return out, nil
}

// HasTemplate reports whether s contains a "{{" segment.
func HasTemplate(s string) bool {
	return strings.Contains(s, "{{")
}

// String renders every "{{ }}" segment of s.
//
// A segment that fails to evaluate renders as the empty string; the
// rendered text is still returned alongside the joined errors.
func String(s string, env Env) (string, error) {
	if !HasTemplate(s) {
		return s, nil
	}

	var (
		b    strings.Builder
		errs []error
	)
	rest := s
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:open])

		end, ok := closing(rest, open+2)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnterminated, s))
			b.WriteString(rest[open:])
			break
		}

		value, err := Evaluate(rest[open+2:end], env)
		if err != nil {
			errs = append(errs, err)
		} else {
			b.WriteString(format(value))
		}
		rest = rest[end+2:]
	}
	return b.String(), errors.Join(errs...)
}

// closing returns the index of the "}}" that ends the segment starting at
// from. Braces and quotes inside the expression are skipped.
func closing(s string, from int) (int, bool) {
	depth := 0
	for i := from; i < len(s); i++ {
		switch c := s[i]; c {
		case '"', '\'', '`':
			i = skipQuoted(s, i)
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
				continue
			}
			if i+1 < len(s) && s[i+1] == '}' {
				return i, true
			}
		}
	}
	return 0, false
}

func skipQuoted(s string, start int) int {
	quote := s[start]
	for i := start + 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case quote:
			return i
		}
	}
	return len(s)
}

// format renders an expression result as text. nil renders as "".
func format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	default:
		return fmt.Sprint(x)
	}
}

// Number renders v as a number.
//
// Numbers pass through. A string containing "{{ }}" is rendered and then
// parsed; any other string is evaluated as a bare expression.
func Number(v any, env Env) (float64, error) {
	if f, ok := state.ToFloat(v); ok {
		return f, nil
	}

	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("%w: %T", ErrNotNumber, v)
	}

	var out any
	if HasTemplate(s) {
		rendered, err := String(s, env)
		if err != nil {
			return 0, err
		}
		out = strings.TrimSpace(rendered)
	} else {
		res, err := Evaluate(s, env)
		if err != nil {
			return 0, err
		}
		out = res
	}

	if f, ok := state.ToFloat(out); ok {
		return f, nil
	}
	if str, ok := out.(string); ok {
		f, err := strconv.ParseFloat(str, 64)
		if err == nil && !math.IsNaN(f) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrNotNumber, s)
}

// Data renders every string inside a nested payload of maps and slices.
// The input is not modified; a rendered copy is returned.
func Data(v any, env Env) (any, error) {
	var errs []error
	out := render(v, env, &errs)
	return out, errors.Join(errs...)
}

func render(v any, env Env, errs *[]error) any {
	switch x := v.(type) {
	case string:
		s, err := String(x, env)
		if err != nil {
			*errs = append(*errs, err)
		}
		return s
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = render(item, env, errs)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = render(item, env, errs)
		}
		return out
	default:
		return v
	}
}
