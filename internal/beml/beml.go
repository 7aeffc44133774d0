// Package beml expands BEM attributes in HTML into class names.
//
//	<div block="btn" mod="size:big disabled">   -> class="btn btn_size_big btn_disabled"
//	  <span elem="text">                        -> class="btn__text"
//
// Tags without BEM attributes are copied byte for byte.
package beml

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/Alex-f1/poly-bem/internal/transform"
)

const (
	elemSep = "__"
	modSep  = "_"
)

// Attribute names consumed by the processor.
const (
	attrBlock = "block"
	attrElem  = "elem"
	attrMod   = "mod"
	attrMix   = "mix"
)

// ErrNoBlock is returned for an elem or mod that has no enclosing block.
var ErrNoBlock = errors.New("no enclosing block")

var voidElements = map[atom.Atom]bool{
	atom.Area: true, atom.Base: true, atom.Br: true, atom.Col: true,
	atom.Embed: true, atom.Hr: true, atom.Img: true, atom.Input: true,
	atom.Link: true, atom.Meta: true, atom.Param: true, atom.Source: true,
	atom.Track: true, atom.Wbr: true,
}

type frame struct {
	tag   string
	block string
}

// Process rewrites block, elem, mod and mix attributes of src into BEM
// class names.
func Process(src []byte) ([]byte, error) {
	z := html.NewTokenizer(bytes.NewReader(src))
	var out bytes.Buffer
	var stack []frame
	offset := 0

	current := func() string {
		if len(stack) == 0 {
			return ""
		}
		return stack[len(stack)-1].block
	}

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); err != io.EOF {
				return nil, err
			}
			return out.Bytes(), nil
		}

		raw := append([]byte(nil), z.Raw()...)
		start := min(offset, len(src))
		offset += len(raw)

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			block := current()

			classes, own, err := bemClasses(tok, block)
			if err != nil {
				line := bytes.Count(src[:start], []byte("\n")) + 1
				return nil, fmt.Errorf("line %d: <%s>: %w", line, tok.Data, err)
			}
			if classes == nil {
				out.Write(raw)
			} else {
				writeTag(&out, tok, classes, tt == html.SelfClosingTagToken)
			}

			if own != "" {
				block = own
			}
			if tt == html.StartTagToken && !voidElements[tok.DataAtom] {
				stack = append(stack, frame{tag: tok.Data, block: block})
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i].tag == string(name) {
					stack = stack[:i]
					break
				}
			}
			out.Write(raw)

		default:
			out.Write(raw)
		}
	}
}

// bemClasses returns the classes produced by the tag's BEM attributes (nil
// when it has none) and the block it opens, if any.
func bemClasses(tok html.Token, parent string) ([]string, string, error) {
	var block, elem, mods, mix string
	var hasBEM bool
	for _, a := range tok.Attr {
		if a.Namespace != "" {
			continue
		}
		switch a.Key {
		case attrBlock:
			block, hasBEM = strings.TrimSpace(a.Val), true
		case attrElem:
			elem, hasBEM = strings.TrimSpace(a.Val), true
		case attrMod:
			mods, hasBEM = a.Val, true
		case attrMix:
			mix, hasBEM = a.Val, true
		}
	}
	if !hasBEM {
		return nil, "", nil
	}

	classes := []string{}
	var base string

	if block != "" {
		classes = append(classes, block)
		base = block
	}
	if elem != "" {
		if parent == "" {
			return nil, "", fmt.Errorf("elem %q: %w", elem, ErrNoBlock)
		}
		name := parent + elemSep + elem
		classes = append(classes, name)
		if base == "" {
			base = name
		}
	}

	modTokens := splitList(mods)
	if len(modTokens) > 0 && base == "" {
		return nil, "", fmt.Errorf("mod %q: %w", mods, ErrNoBlock)
	}
	for _, m := range modTokens {
		key, val, _ := strings.Cut(m, ":")
		cls := base + modSep + strings.TrimSpace(key)
		if v := strings.TrimSpace(val); v != "" {
			cls += modSep + v
		}
		classes = append(classes, cls)
	}

	for _, m := range splitList(mix) {
		b, e, ok := strings.Cut(m, ":")
		if ok && e != "" {
			classes = append(classes, b+elemSep+e)
		} else {
			classes = append(classes, b)
		}
	}

	return classes, block, nil
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

// writeTag renders a tag with BEM attributes removed and classes merged
// into its class attribute.
func writeTag(w *bytes.Buffer, tok html.Token, classes []string, selfClosing bool) {
	w.WriteByte('<')
	w.WriteString(tok.Data)

	merged := false
	for _, a := range tok.Attr {
		if a.Namespace == "" {
			switch a.Key {
			case attrBlock, attrElem, attrMod, attrMix:
				continue
			case "class":
				if !merged {
					a.Val = strings.TrimSpace(strings.Join(append(strings.Fields(a.Val), classes...), " "))
					merged = true
				}
			}
		}
		writeAttr(w, a)
	}
	if !merged && len(classes) > 0 {
		writeAttr(w, html.Attribute{Key: "class", Val: strings.Join(classes, " ")})
	}

	if selfClosing {
		w.WriteString(" /")
	}
	w.WriteByte('>')
}

func writeAttr(w *bytes.Buffer, a html.Attribute) {
	w.WriteByte(' ')
	if a.Namespace != "" {
		w.WriteString(a.Namespace)
		w.WriteByte(':')
	}
	w.WriteString(a.Key)
	if a.Val == "" {
		return
	}
	w.WriteString(`="`)
	w.WriteString(html.EscapeString(a.Val))
	w.WriteByte('"')
}

// Step applies Process to every record.
func Step() transform.Step {
	return transform.EachFunc("beml", func(r transform.Record) (transform.Record, error) {
		out, err := Process(r.Contents)
		if err != nil {
			return r, err
		}
		r.Contents = out
		return r, nil
	})
}
