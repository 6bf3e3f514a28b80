package spec

// validate.go checks the raw, untyped spec document before it is decoded.
//
// Checks run in a fixed order and stop at the first failure, so a malformed
// document always reports the same problem. Nothing here looks at the input
// data: a source column that does not exist is tolerated at mapping time.

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Error reports a structural problem with a spec. It aborts the whole run
// before any row is processed.
type Error struct {
	// Path is a dotted path into the document, e.g. "dynamic_columns[1].mode".
	Path    string
	Message string
}

func (e *Error) Error() string {
	if e.Path == "" {
		return "invalid spec: " + e.Message
	}
	return fmt.Sprintf("invalid spec at %s: %s", e.Path, e.Message)
}

// IsSpecError reports whether err is (or wraps) a spec *Error.
func IsSpecError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}

var (
	isMapping = validation.By(func(v any) error {
		if _, ok := asMap(v); !ok {
			return errors.New("must be a mapping")
		}
		return nil
	})

	isList = validation.By(func(v any) error {
		if _, ok := v.([]any); !ok {
			return errors.New("must be a list")
		}
		return nil
	})

	isString = validation.By(func(v any) error {
		if _, ok := v.(string); !ok {
			return errors.New("must be a string")
		}
		return nil
	})

	modeMessage = "must be one of " + strings.Join(modeNames(), ", ")

	isMode = []validation.Rule{
		validation.Required.Error(modeMessage),
		validation.In(anySlice(modeNames())...).Error(modeMessage),
	}
)

// hasKey requires the mapping to contain key, whatever its value.
func hasKey(key string) validation.Rule {
	return validation.By(func(v any) error {
		m, _ := asMap(v)
		if _, ok := m[key]; !ok {
			return fmt.Errorf("must define '%s'", key)
		}
		return nil
	})
}

// hasAnyKey requires at least one of keys.
func hasAnyKey(keys ...string) validation.Rule {
	return validation.By(func(v any) error {
		m, _ := asMap(v)
		for _, k := range keys {
			if _, ok := m[k]; ok {
				return nil
			}
		}
		return fmt.Errorf("must define either '%s'", strings.Join(keys, "' or '"))
	})
}

// Validate checks the structure of a raw spec document (as produced by a YAML
// or JSON decoder). It returns the first problem found as an *Error.
func Validate(raw any) error {
	if err := check("", raw, isMapping); err != nil {
		return err
	}
	doc, _ := asMap(raw)

	if err := check("", doc, hasKey("columns")); err != nil {
		return err
	}
	if err := check("columns", doc["columns"], isList); err != nil {
		return err
	}
	for i, col := range doc["columns"].([]any) {
		path := fmt.Sprintf("columns[%d]", i)
		if err := check(path, col, isMapping, hasKey("source"), hasKey("target")); err != nil {
			return err
		}
	}

	if comp, ok := doc["computed_columns"]; ok {
		if err := check("computed_columns", comp, isList); err != nil {
			return err
		}
		for i, c := range comp.([]any) {
			path := fmt.Sprintf("computed_columns[%d]", i)
			if err := check(path, c, isMapping, hasKey("target"), hasKey("expression")); err != nil {
				return err
			}
			m, _ := asMap(c)
			if err := check(path+".target", m["target"], isString); err != nil {
				return err
			}
			if err := check(path+".expression", m["expression"], isString); err != nil {
				return err
			}
		}
	}

	if dyn, ok := doc["dynamic_columns"]; ok {
		if err := check("dynamic_columns", dyn, isList); err != nil {
			return err
		}
		for i, d := range dyn.([]any) {
			path := fmt.Sprintf("dynamic_columns[%d]", i)
			if err := check(path, d, isMapping, hasKey("pattern")); err != nil {
				return err
			}
			m, _ := asMap(d)
			if err := check(path+".pattern", m["pattern"], isString); err != nil {
				return err
			}
			if err := check(path, m, hasAnyKey("target", "target_prefix")); err != nil {
				return err
			}
			if mode, ok := m["mode"]; ok {
				if err := check(path+".mode", mode, isMode...); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// validateSemantics runs the checks that need the typed model. They still
// fail the run before any row is processed.
func validateSemantics(s *Spec) error {
	if s.Input.HeaderRow < 1 {
		return &Error{Path: "input.header_row", Message: "must be at least 1"}
	}
	if s.Input.SkipRows < 0 {
		return &Error{Path: "input.skip_rows", Message: "must not be negative"}
	}
	if utf8.RuneCountInString(s.Input.Delimiter) != 1 {
		return &Error{Path: "input.delimiter", Message: "must be a single character"}
	}
	for i, d := range s.DynamicColumns {
		path := fmt.Sprintf("dynamic_columns[%d]", i)
		if _, err := d.Compile(); err != nil {
			return &Error{Path: path + ".pattern", Message: err.Error()}
		}
		if d.Mode != ModeMap && d.Target == "" {
			return &Error{Path: path + ".target", Message: fmt.Sprintf("mode %s requires 'target'", d.Mode)}
		}
	}
	return nil
}

// check applies rules to value and wraps the first failure as an *Error.
func check(path string, value any, rules ...validation.Rule) error {
	if err := validation.Validate(value, rules...); err != nil {
		return &Error{Path: path, Message: err.Error()}
	}
	return nil
}

// asMap accepts both map shapes YAML decoders produce.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

func modeNames() []string {
	names := make([]string, len(DynamicModes))
	for i, m := range DynamicModes {
		names[i] = string(m)
	}
	return names
}

func anySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
