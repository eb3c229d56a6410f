// Package xmltree turns raw XML into a navigable element tree. It offers the
// small set of queries CDA extraction needs: first descendant, all
// descendants, direct children, attribute lookup and text content. Element
// names are matched by local name so default-namespace and prefixed HL7
// elements are found the same way.
package xmltree

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxDepth bounds element nesting accepted by Parse.
const MaxDepth = 512

// Well-known namespace URIs used when a prefix is not declared in scope.
const (
	NamespaceXSI = "http://www.w3.org/2001/XMLSchema-instance"
	NamespaceXML = "http://www.w3.org/XML/1998/namespace"
)

var wellKnownPrefixes = map[string]string{
	"xsi": NamespaceXSI,
	"xml": NamespaceXML,
}

// MalformedDocumentError reports input that is not well-formed XML.
type MalformedDocumentError struct {
	Msg string
	Err error
}

func (e *MalformedDocumentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("xmltree: malformed document: %s: %v", e.Msg, e.Err)
	}
	return "xmltree: malformed document: " + e.Msg
}

func (e *MalformedDocumentError) Unwrap() error { return e.Err }

// IsMalformed reports whether err is (or wraps) a MalformedDocumentError.
func IsMalformed(err error) bool {
	var me *MalformedDocumentError
	return errors.As(err, &me)
}

// Document is a parsed XML document.
type Document struct {
	Root *Element
}

// Element is a single XML element. Content keeps character data and child
// elements in document order.
type Element struct {
	Space    string
	Name     string
	Attrs    []xml.Attr
	Children []*Element
	Parent   *Element

	content []node
	depth   int
}

type node struct {
	text string
	elem *Element
}

// ParseBytes parses data into a Document.
func ParseBytes(data []byte) (*Document, error) {
	return Parse(bytes.NewReader(data))
}

// Parse reads a complete XML document from r.
func Parse(r io.Reader) (*Document, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = true

	var (
		root  *Element
		stack []*Element
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &MalformedDocumentError{Msg: "decode", Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) >= MaxDepth {
				return nil, &MalformedDocumentError{Msg: fmt.Sprintf("nesting exceeds %d levels", MaxDepth)}
			}
			el := &Element{
				Space: t.Name.Space,
				Name:  t.Name.Local,
				Attrs: append([]xml.Attr(nil), t.Attr...),
				depth: len(stack),
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, &MalformedDocumentError{Msg: "multiple root elements"}
				}
				root = el
			} else {
				parent := stack[len(stack)-1]
				el.Parent = parent
				parent.Children = append(parent.Children, el)
				parent.content = append(parent.content, node{elem: el})
			}
			stack = append(stack, el)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) == 0 {
				if len(bytes.TrimSpace(t)) > 0 {
					return nil, &MalformedDocumentError{Msg: "character data outside root element"}
				}
				continue
			}
			cur := stack[len(stack)-1]
			cur.content = append(cur.content, node{text: string(t)})
		}
	}

	if root == nil {
		return nil, &MalformedDocumentError{Msg: "no root element"}
	}
	return &Document{Root: root}, nil
}

// Depth returns the element's nesting level; the root is 0.
func (e *Element) Depth() int {
	if e == nil {
		return 0
	}
	return e.depth
}

// Is reports whether the element's local name equals name.
func (e *Element) Is(name string) bool {
	return e != nil && e.Name == name
}

// FirstMatch returns the first descendant named name in document order, or
// nil. The element itself is not considered.
func (e *Element) FirstMatch(name string) *Element {
	if e == nil {
		return nil
	}
	for _, c := range e.Children {
		if c.Name == name {
			return c
		}
		if found := c.FirstMatch(name); found != nil {
			return found
		}
	}
	return nil
}

// AllMatches returns every descendant named name in document order.
func (e *Element) AllMatches(name string) []*Element {
	if e == nil {
		return nil
	}
	var out []*Element
	e.Walk(func(el *Element) bool {
		if el != e && el.Name == name {
			out = append(out, el)
		}
		return true
	})
	return out
}

// ChildMatches returns the direct children named name.
func (e *Element) ChildMatches(name string) []*Element {
	if e == nil {
		return nil
	}
	var out []*Element
	for _, c := range e.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// FirstPath follows names as nested descendant queries, returning the first
// element reached by "a b c" style selection.
func (e *Element) FirstPath(names ...string) *Element {
	if e == nil || len(names) == 0 {
		return nil
	}
	for _, el := range e.AllMatches(names[0]) {
		if len(names) == 1 {
			return el
		}
		if found := el.FirstPath(names[1:]...); found != nil {
			return found
		}
	}
	return nil
}

// Select returns the descendants matching a descendant-combinator path such
// as ("patient", "name", "given"), in document order. Each match is reported
// once.
func (e *Element) Select(path ...string) []*Element {
	return selectFrom(e, e, false, path)
}

// SelectFirst returns the first element Select would return, or nil.
func (e *Element) SelectFirst(path ...string) *Element {
	if m := selectFrom(e, e, true, path); len(m) > 0 {
		return m[0]
	}
	return nil
}

// Select is Element.Select over the whole document, root included.
func (d *Document) Select(path ...string) []*Element {
	if d == nil {
		return nil
	}
	return selectFrom(d.Root, nil, false, path)
}

// SelectFirst is Element.SelectFirst over the whole document, root included.
func (d *Document) SelectFirst(path ...string) *Element {
	if d == nil {
		return nil
	}
	if m := selectFrom(d.Root, nil, true, path); len(m) > 0 {
		return m[0]
	}
	return nil
}

// selectFrom walks start in document order. A nil scope lets start itself
// and every ancestor take part in matching.
func selectFrom(start, scope *Element, first bool, path []string) []*Element {
	if start == nil || len(path) == 0 {
		return nil
	}
	last, outer := path[len(path)-1], path[:len(path)-1]
	var out []*Element
	start.Walk(func(el *Element) bool {
		if first && len(out) > 0 {
			return false
		}
		if el != scope && el.Name == last && el.hasAncestors(scope, outer) {
			out = append(out, el)
		}
		return true
	})
	return out
}

// hasAncestors reports whether names appear, innermost last, among the
// ancestors of e strictly below scope.
func (e *Element) hasAncestors(scope *Element, names []string) bool {
	i := len(names) - 1
	for p := e.Parent; p != nil && p != scope && i >= 0; p = p.Parent {
		if p.Name == names[i] {
			i--
		}
	}
	return i < 0
}

// Walk visits e and its descendants in pre-order. Returning false from fn
// skips the element's subtree.
func (e *Element) Walk(fn func(*Element) bool) {
	if e == nil {
		return
	}
	if !fn(e) {
		return
	}
	for _, c := range e.Children {
		c.Walk(fn)
	}
}

// Attr returns the value of the named attribute. Names may carry a prefix
// ("xsi:type"), which is resolved through in-scope xmlns declarations.
func (e *Element) Attr(name string) (string, bool) {
	if e == nil {
		return "", false
	}
	prefix, local := splitQName(name)
	var uri string
	if prefix != "" {
		uri = e.LookupNamespace(prefix)
	}
	for _, a := range e.Attrs {
		if a.Name.Local != local {
			continue
		}
		if prefix == "" {
			if a.Name.Space == "" {
				return a.Value, true
			}
			continue
		}
		if a.Name.Space == prefix || (uri != "" && a.Name.Space == uri) {
			return a.Value, true
		}
	}
	return "", false
}

// AttrOr returns the named attribute or def when it is absent or empty.
func (e *Element) AttrOr(name, def string) string {
	if v, ok := e.Attr(name); ok && v != "" {
		return v
	}
	return def
}

// LookupNamespace resolves prefix against xmlns declarations on e and its
// ancestors, then the well-known prefixes.
func (e *Element) LookupNamespace(prefix string) string {
	for el := e; el != nil; el = el.Parent {
		for _, a := range el.Attrs {
			if a.Name.Space == "xmlns" && a.Name.Local == prefix {
				return a.Value
			}
		}
	}
	return wellKnownPrefixes[prefix]
}

// Namespaces returns the namespace declarations made on e, keyed by prefix;
// the default namespace uses the empty prefix.
func (e *Element) Namespaces() map[string]string {
	if e == nil {
		return nil
	}
	out := make(map[string]string)
	for _, a := range e.Attrs {
		switch {
		case a.Name.Space == "xmlns":
			out[a.Name.Local] = a.Value
		case a.Name.Space == "" && a.Name.Local == "xmlns":
			out[""] = a.Value
		}
	}
	return out
}

// Text returns the concatenated character data of e and its descendants.
func (e *Element) Text() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	e.writeText(&b)
	return b.String()
}

func (e *Element) writeText(b *strings.Builder) {
	for _, n := range e.content {
		if n.elem != nil {
			n.elem.writeText(b)
			continue
		}
		b.WriteString(n.text)
	}
}

// TrimmedText returns Text with surrounding whitespace removed.
func (e *Element) TrimmedText() string {
	return strings.TrimSpace(e.Text())
}

func splitQName(name string) (prefix, local string) {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}
