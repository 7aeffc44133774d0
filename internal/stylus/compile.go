package stylus

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const maxImportDepth = 16

var (
	assignRe   = regexp.MustCompile(`^(\$?[A-Za-z_][\w-]*)\s*=\s*(.+)$`)
	propNameRe = regexp.MustCompile(`^(\*|-)?[A-Za-z_][\w-]*$`)
	identRe    = regexp.MustCompile(`\$?[A-Za-z_][\w$-]*`)
)

// item is one top-level output block.
type item struct {
	media     string   // empty for unscoped items
	selectors []string // nil for statements and bare at-rule declarations
	decls     []string
	statement string // e.g. @import url(x.css), @charset "utf-8"
	atRule    string // e.g. @font-face, wraps decls without a selector
}

type compiler struct {
	vars  map[string]string
	items []item
	depth int
}

// Compile compiles src to CSS. file is used to resolve relative @import
// paths and in error messages; it may be empty.
func Compile(src []byte, file string) ([]byte, error) {
	c := &compiler{vars: make(map[string]string)}
	root, err := parse(string(src), file)
	if err != nil {
		return nil, err
	}
	if err := c.block(root.children, nil, "", file); err != nil {
		return nil, err
	}
	return c.render(), nil
}

// block compiles the children of a node under the given selector context.
func (c *compiler) block(nodes []*node, selectors []string, media, file string) error {
	idx := -1
	if selectors != nil {
		c.items = append(c.items, item{media: media, selectors: selectors})
		idx = len(c.items) - 1
	}

	for _, n := range nodes {
		switch {
		case strings.HasPrefix(n.text, "@import") && len(n.children) == 0:
			if err := c.importFile(n, selectors, media, file); err != nil {
				return err
			}

		case strings.HasPrefix(n.text, "@media") && len(n.children) > 0:
			query := c.substitute(strings.TrimSpace(strings.TrimPrefix(n.text, "@media")))
			if media != "" {
				query = media + " and " + query
			}
			if err := c.block(n.children, selectors, query, file); err != nil {
				return err
			}

		case strings.HasPrefix(n.text, "@") && len(n.children) > 0:
			if err := c.atRule(n, media, file); err != nil {
				return err
			}

		case strings.HasPrefix(n.text, "@"):
			c.items = append(c.items, item{media: media, statement: c.substitute(n.text)})

		case len(n.children) > 0:
			if err := c.block(n.children, combine(selectors, n.text), media, file); err != nil {
				return err
			}

		default:
			if m := assignRe.FindStringSubmatch(n.text); m != nil {
				c.vars[m[1]] = c.substitute(strings.TrimSpace(m[2]))
				continue
			}
			decl, ok, err := c.declaration(n, file)
			if err != nil {
				return err
			}
			if !ok {
				// Childless selector: an empty rule
				continue
			}
			if idx < 0 {
				return &SyntaxError{File: file, Line: n.line, Msg: fmt.Sprintf("property %q outside of a selector", n.text)}
			}
			c.items[idx].decls = append(c.items[idx].decls, decl)
		}
	}
	return nil
}

// atRule compiles at-rules with bodies such as @font-face or @keyframes.
// Declarations directly in the body belong to the at-rule itself.
func (c *compiler) atRule(n *node, media, file string) error {
	it := item{media: media, atRule: c.substitute(n.text)}
	var nested []*node
	for _, ch := range n.children {
		if len(ch.children) > 0 {
			nested = append(nested, ch)
			continue
		}
		decl, ok, err := c.declaration(ch, file)
		if err != nil {
			return err
		}
		if ok {
			it.decls = append(it.decls, decl)
		}
	}

	if len(nested) == 0 {
		c.items = append(c.items, it)
		return nil
	}

	// Keyframes and similar: render the nested blocks inside the at-rule
	inner := &compiler{vars: c.vars, depth: c.depth}
	if err := inner.block(nested, nil, "", file); err != nil {
		return err
	}
	body := strings.TrimRight(string(inner.render()), "\n")
	it.statement = it.atRule + " {\n" + indentLines(body, "  ") + "\n}"
	it.atRule = ""
	c.items = append(c.items, it)
	return nil
}

func (c *compiler) declaration(n *node, file string) (string, bool, error) {
	var prop, value string
	if i := strings.Index(n.text, ":"); i > 0 && propNameRe.MatchString(strings.TrimSpace(n.text[:i])) {
		prop, value = strings.TrimSpace(n.text[:i]), strings.TrimSpace(n.text[i+1:])
	} else if f := strings.Fields(n.text); len(f) > 0 && propNameRe.MatchString(f[0]) {
		prop = f[0]
		value = strings.TrimSpace(strings.TrimPrefix(n.text, f[0]))
	} else {
		return "", false, nil
	}

	if value == "" {
		return "", false, &SyntaxError{File: file, Line: n.line, Msg: fmt.Sprintf("missing value for property %q", prop)}
	}
	return prop + ": " + c.substitute(value) + ";", true, nil
}

func (c *compiler) importFile(n *node, selectors []string, media, file string) error {
	target := strings.TrimSpace(strings.TrimPrefix(n.text, "@import"))
	name := strings.Trim(target, `"'`)

	if strings.HasSuffix(name, ".css") || strings.HasPrefix(target, "url(") || strings.Contains(name, "://") {
		stmt := "@import " + target
		if !strings.HasPrefix(target, "url(") && !strings.HasPrefix(target, `"`) && !strings.HasPrefix(target, "'") {
			stmt = fmt.Sprintf("@import %q", target)
		}
		c.items = append(c.items, item{media: media, statement: stmt})
		return nil
	}

	if c.depth >= maxImportDepth {
		return &SyntaxError{File: file, Line: n.line, Msg: "import depth exceeded (circular @import?)"}
	}

	path, data, err := resolveImport(filepath.Dir(file), name)
	if err != nil {
		return &SyntaxError{File: file, Line: n.line, Msg: err.Error()}
	}

	sub, err := parse(string(data), path)
	if err != nil {
		return err
	}

	c.depth++
	defer func() { c.depth-- }()
	return c.block(sub.children, selectors, media, path)
}

func resolveImport(dir, name string) (string, []byte, error) {
	candidates := []string{name, name + ".styl", filepath.Join(name, "index.styl")}
	for _, cand := range candidates {
		p := cand
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, filepath.FromSlash(cand))
		}
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return "", nil, fmt.Errorf("import %q: %w", name, err)
		}
		return p, data, nil
	}
	return "", nil, fmt.Errorf("failed to locate @import file %q", name)
}

// substitute replaces variable references outside of quotes.
func (c *compiler) substitute(s string) string {
	if len(c.vars) == 0 {
		return s
	}
	var b strings.Builder
	var quote byte
	start := 0
	flush := func(end int) {
		seg := s[start:end]
		if quote == 0 {
			seg = identRe.ReplaceAllStringFunc(seg, func(id string) string {
				if v, ok := c.vars[id]; ok {
					return v
				}
				return id
			})
		}
		b.WriteString(seg)
		start = end
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case quote == 0 && (ch == '"' || ch == '\''):
			flush(i)
			quote = ch
		case quote != 0 && ch == quote:
			flush(i + 1)
			quote = 0
		}
	}
	flush(len(s))
	return b.String()
}

// combine nests a selector line under its parent selectors.
func combine(parents []string, line string) []string {
	var children []string
	for _, part := range strings.Split(line, ",") {
		if p := strings.TrimSpace(part); p != "" {
			children = append(children, p)
		}
	}

	if len(parents) == 0 {
		out := make([]string, 0, len(children))
		for _, ch := range children {
			out = append(out, strings.TrimSpace(strings.ReplaceAll(ch, "&", "")))
		}
		return out
	}

	out := make([]string, 0, len(parents)*len(children))
	for _, p := range parents {
		for _, ch := range children {
			if strings.Contains(ch, "&") {
				out = append(out, strings.ReplaceAll(ch, "&", p))
			} else {
				out = append(out, p+" "+ch)
			}
		}
	}
	return out
}

func (c *compiler) render() []byte {
	var b strings.Builder
	for _, it := range c.items {
		var block string
		switch {
		case it.statement != "":
			block = it.statement
			if !strings.HasSuffix(block, "}") {
				block += ";"
			}
		case it.atRule != "":
			if len(it.decls) == 0 {
				continue
			}
			block = it.atRule + " {\n" + indentLines(strings.Join(it.decls, "\n"), "  ") + "\n}"
		default:
			if len(it.decls) == 0 {
				continue
			}
			block = strings.Join(it.selectors, ",\n") + " {\n" + indentLines(strings.Join(it.decls, "\n"), "  ") + "\n}"
		}

		if it.media != "" {
			block = "@media " + it.media + " {\n" + indentLines(block, "  ") + "\n}"
		}
		b.WriteString(block)
		b.WriteString("\n")
	}
	return []byte(b.String())
}

func indentLines(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}
