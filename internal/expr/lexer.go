// Package expr compiles and evaluates the small expression language used by
// computed columns.
//
// The grammar is closed: literals (numbers, quoted strings, True, False,
// None), variable names, arithmetic (+ - * / // %), comparisons
// (== != < <= > >=, chainable), boolean and/or/not, the conditional
// "a if cond else b" and parentheses. There are no function calls, attribute
// access, indexing or any other way to reach outside the supplied variables.
//
// Semantics follow the familiar scripting conventions: "/" always yields a
// float, "+" concatenates strings, and/or return one of their operands.
package expr

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokKeyword
	tokOp
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

var keywords = map[string]bool{
	"and": true, "or": true, "not": true,
	"if": true, "else": true,
	"True": true, "False": true, "None": true,
}

// SyntaxError reports an expression that cannot be compiled.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.Pos, e.Msg)
}

// tokenize splits src into tokens. Offsets are byte offsets into src.
func tokenize(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	byteOff := func(i int) int { return len(string(rs[:i])) }

	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++

		case isIdentStart(r):
			start := i
			for i < len(rs) && isIdentPart(rs[i]) {
				i++
			}
			word := string(rs[start:i])
			kind := tokIdent
			if keywords[word] {
				kind = tokKeyword
			}
			toks = append(toks, token{kind: kind, text: word, pos: byteOff(start)})

		case unicode.IsDigit(r) || (r == '.' && i+1 < len(rs) && unicode.IsDigit(rs[i+1])):
			start := i
			for i < len(rs) && unicode.IsDigit(rs[i]) {
				i++
			}
			if i < len(rs) && rs[i] == '.' {
				i++
				for i < len(rs) && unicode.IsDigit(rs[i]) {
					i++
				}
			}
			if i < len(rs) && (rs[i] == 'e' || rs[i] == 'E') {
				j := i + 1
				if j < len(rs) && (rs[j] == '+' || rs[j] == '-') {
					j++
				}
				if j < len(rs) && unicode.IsDigit(rs[j]) {
					i = j
					for i < len(rs) && unicode.IsDigit(rs[i]) {
						i++
					}
				}
			}
			toks = append(toks, token{kind: tokNumber, text: string(rs[start:i]), pos: byteOff(start)})

		case r == '\'' || r == '"':
			start := i
			s, n, err := scanString(rs[i:])
			if err != nil {
				return nil, &SyntaxError{Pos: byteOff(start), Msg: err.Error()}
			}
			i += n
			toks = append(toks, token{kind: tokString, text: s, pos: byteOff(start)})

		default:
			op := scanOp(rs[i:])
			if op == "" {
				return nil, &SyntaxError{Pos: byteOff(i), Msg: fmt.Sprintf("unexpected character %q", r)}
			}
			toks = append(toks, token{kind: tokOp, text: op, pos: byteOff(i)})
			i += len([]rune(op))
		}
	}

	toks = append(toks, token{kind: tokEOF, pos: len(src)})
	return toks, nil
}

func isIdentStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }
func isIdentPart(r rune) bool  { return isIdentStart(r) || unicode.IsDigit(r) }

var operators = []string{"//", "==", "!=", "<=", ">=", "+", "-", "*", "/", "%", "<", ">", "(", ")"}

func scanOp(rs []rune) string {
	for _, op := range operators {
		if strings.HasPrefix(string(rs[:min(len(rs), 2)]), op) {
			return op
		}
	}
	return ""
}

// scanString reads a quoted literal and returns its value and rune length.
func scanString(rs []rune) (string, int, error) {
	quote := rs[0]
	var b strings.Builder
	for i := 1; i < len(rs); i++ {
		r := rs[i]
		switch {
		case r == quote:
			return b.String(), i + 1, nil
		case r == '\\' && i+1 < len(rs):
			i++
			switch rs[i] {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			case 'r':
				b.WriteRune('\r')
			case '\\', '\'', '"':
				b.WriteRune(rs[i])
			default:
				b.WriteRune('\\')
				b.WriteRune(rs[i])
			}
		default:
			b.WriteRune(r)
		}
	}
	return "", 0, fmt.Errorf("unterminated string literal")
}
