// Package stylus compiles an indentation-based subset of Stylus to CSS.
//
// Supported: variables (name = value, $name = value), nested selectors with
// & parent references and comma lists, properties with or without colons,
// semicolons and braces, // and /* */ comments, @import of .styl files,
// @media nesting and bubbling, and other at-rules passed through.
package stylus

import (
	"fmt"
	"strings"
)

// SyntaxError reports a problem in a stylesheet source.
type SyntaxError struct {
	File string
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

type node struct {
	text     string
	line     int
	indent   int
	children []*node
}

// parse builds the indentation tree of a source file.
func parse(src, file string) (*node, error) {
	root := &node{indent: -1}
	stack := []*node{root}

	lines := strings.Split(stripBlockComments(strings.ReplaceAll(src, "\r\n", "\n")), "\n")
	for i, raw := range lines {
		lineNo := i + 1
		text := stripLineComment(raw)
		if strings.TrimSpace(text) == "" {
			continue
		}

		indent := indentWidth(text)
		text = strings.TrimSpace(text)
		text = strings.TrimSpace(strings.TrimSuffix(text, "{"))
		text = strings.TrimSpace(strings.TrimRight(text, "};"))
		if text == "" {
			continue
		}

		for len(stack) > 1 && stack[len(stack)-1].indent >= indent {
			stack = stack[:len(stack)-1]
		}
		parent := stack[len(stack)-1]

		if n := len(parent.children); n > 0 && parent.children[n-1].indent != indent {
			return nil, &SyntaxError{File: file, Line: lineNo, Msg: "inconsistent indentation"}
		}

		nd := &node{text: text, line: lineNo, indent: indent}
		parent.children = append(parent.children, nd)
		stack = append(stack, nd)
	}
	return root, nil
}

func indentWidth(s string) int {
	w := 0
	for _, c := range s {
		switch c {
		case ' ':
			w++
		case '\t':
			w += 4
		default:
			return w
		}
	}
	return w
}

// stripBlockComments removes /* ... */ comments, keeping line breaks so
// line numbers stay accurate.
func stripBlockComments(s string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, "/*")
		if start < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:start])
		end := strings.Index(s[start+2:], "*/")
		if end < 0 {
			b.WriteString(strings.Repeat("\n", strings.Count(s[start:], "\n")))
			return b.String()
		}
		comment := s[start : start+2+end+2]
		b.WriteString(strings.Repeat("\n", strings.Count(comment, "\n")))
		s = s[start+2+end+2:]
	}
}

// stripLineComment cuts a // comment that is outside quotes and parentheses,
// so url(http://...) survives.
func stripLineComment(s string) string {
	var quote rune
	depth := 0
	for i, c := range s {
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}
		case c == '/' && depth == 0 && strings.HasPrefix(s[i:], "//"):
			return s[:i]
		}
	}
	return s
}
