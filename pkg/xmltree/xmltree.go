// Package xmltree wraps etree with the small set of lookups the bundle reader needs.
//
// Gateway exports encode "one or many" by repeating an element, and frequently
// leave optional elements out or present but empty. Every helper here folds
// those three shapes (absent, empty, present) into plain Go values so callers
// never branch on them.
package xmltree

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/beevik/etree"
)

// ErrNoRoot is returned when a document parses but has no root element.
var ErrNoRoot = errors.New("xml document has no root element")

// Load reads and parses the XML file at path.
func Load(path string) (*etree.Document, error) {
	doc := etree.NewDocument()
	// #nosec G304 -- bundle paths come from the configured export tree.
	if err := doc.ReadFromFile(path); err != nil {
		return nil, fmt.Errorf("parse xml %q: %w", path, err)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("parse xml %q: %w", path, ErrNoRoot)
	}
	return doc, nil
}

// LoadRoot reads path and returns its root element.
func LoadRoot(path string) (*etree.Element, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}
	return doc.Root(), nil
}

// NewDocument returns a document with an XML declaration and root as its root element.
// A root still attached to another document is copied, leaving that document intact.
func NewDocument(root *etree.Element) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8" standalone="yes"`)
	if root != nil {
		if root.Parent() != nil {
			root = root.Copy()
		}
		doc.SetRoot(root)
	}
	return doc
}

// Render serializes doc with two-space indentation.
func Render(doc *etree.Document) ([]byte, error) {
	doc.Indent(2)
	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save renders root into a fresh document and writes it to path.
func Save(path string, root *etree.Element) error {
	b, err := Render(NewDocument(root))
	if err != nil {
		return fmt.Errorf("render xml %q: %w", path, err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write xml %q: %w", path, err)
	}
	return nil
}

// Child returns the first direct child named tag, or nil.
func Child(el *etree.Element, tag string) *etree.Element {
	if el == nil {
		return nil
	}
	return el.SelectElement(tag)
}

// Children returns every direct child named tag. Absent parents and absent
// children both yield an empty slice.
func Children(el *etree.Element, tag string) []*etree.Element {
	if el == nil {
		return nil
	}
	return el.SelectElements(tag)
}

// Path walks a chain of child tags, returning nil as soon as a link is missing.
func Path(el *etree.Element, tags ...string) *etree.Element {
	cur := el
	for _, tag := range tags {
		cur = Child(cur, tag)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Has reports whether el has a direct child named tag.
func Has(el *etree.Element, tag string) bool {
	return Child(el, tag) != nil
}

// ChildText returns the trimmed text of the first child named tag.
// Missing and empty elements both produce "".
func ChildText(el *etree.Element, tag string) string {
	return Text(Child(el, tag))
}

// Text returns the trimmed text content of el.
func Text(el *etree.Element) string {
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.Text())
}

// ChildTexts returns the non-empty trimmed texts of every child named tag.
func ChildTexts(el *etree.Element, tag string) []string {
	children := Children(el, tag)
	out := make([]string, 0, len(children))
	for _, c := range children {
		if v := Text(c); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Attr returns the value of attribute key on el, or "".
func Attr(el *etree.Element, key string) string {
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.SelectAttrValue(key, ""))
}

// CopyOf returns a deep copy of el, or nil when el is nil.
func CopyOf(el *etree.Element) *etree.Element {
	if el == nil {
		return nil
	}
	return el.Copy()
}

// AddText appends a child named tag with text value to parent.
func AddText(parent *etree.Element, tag, value string) *etree.Element {
	c := parent.CreateElement(tag)
	if value != "" {
		c.SetText(value)
	}
	return c
}

// RemoveChildren drops every direct child named tag from el.
func RemoveChildren(el *etree.Element, tag string) {
	if el == nil {
		return
	}
	for _, c := range el.SelectElements(tag) {
		el.RemoveChild(c)
	}
}

// ReplaceChildren removes every child named tag and appends one child per value.
func ReplaceChildren(el *etree.Element, tag string, values []string) {
	RemoveChildren(el, tag)
	for _, v := range values {
		AddText(el, tag, v)
	}
}
