package controller

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/plugin"
	apperrors "github.com/rcarvalho-pb/payment_orchestrator-go/internal/errors"
)

// GenericErrorMessage is shown when a failed Result carries no error detail.
const GenericErrorMessage = "form.error.invalid_payment_instruction"

// Global errors of instructions whose payment method cannot be used.
const (
	PaymentMethodRequiredMessage = "form.error.payment_method_required"
	InvalidPaymentMethodMessage  = "form.error.invalid_payment_method"
)

// ErrorTarget is a nested field structure able to display errors, e.g. a
// form. Child returns false when the structure has no such field.
type ErrorTarget interface {
	AddError(message string)
	Child(name string) (ErrorTarget, bool)
}

// ApplyErrors routes the plugin errors of res onto target: global errors to
// the root, data errors by descending one path segment at a time. Without
// any error the generic message is added to the root so a failure is never
// shown as success. Paths target cannot resolve are reported together.
func ApplyErrors(target ErrorTarget, res *Result) error {
	if target == nil || res == nil {
		return apperrors.Argument("an error target and a result are required")
	}
	perr := res.PluginError()
	if perr == nil || !perr.HasErrors() {
		target.AddError(GenericErrorMessage)
		return nil
	}

	tree := perr.Tree()
	for _, msg := range tree.Errors {
		target.AddError(msg)
	}
	return applyNode(target, tree, nil)
}

func applyNode(target ErrorTarget, node *plugin.FieldNode, path []string) error {
	var errs []error
	for _, name := range node.Names() {
		childPath := append(append([]string(nil), path...), name)
		child, ok := target.Child(name)
		if !ok {
			errs = append(errs, apperrors.Argument("the form has no field %q", strings.Join(childPath, ".")))
			continue
		}
		sub := node.Child(name)
		for _, msg := range sub.Errors {
			child.AddError(msg)
		}
		if err := applyNode(child, sub, childPath); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FieldSet is an ErrorTarget tree. A strict set only knows the fields added
// with Add; a dynamic one creates fields on first use.
type FieldSet struct {
	name     string
	dynamic  bool
	errors   []string
	children []*FieldSet
}

func NewFieldSet(name string) *FieldSet {
	return &FieldSet{name: name}
}

func NewDynamicFieldSet(name string) *FieldSet {
	return &FieldSet{name: name, dynamic: true}
}

func (f *FieldSet) Name() string { return f.name }

// Add declares a child field and returns it. Adding an existing name
// returns the existing child.
func (f *FieldSet) Add(name string) *FieldSet {
	if c := f.find(name); c != nil {
		return c
	}
	c := &FieldSet{name: name, dynamic: f.dynamic}
	f.children = append(f.children, c)
	return c
}

func (f *FieldSet) find(name string) *FieldSet {
	for _, c := range f.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (f *FieldSet) AddError(message string) {
	f.errors = append(f.errors, message)
}

func (f *FieldSet) Child(name string) (ErrorTarget, bool) {
	if c := f.find(name); c != nil {
		return c, true
	}
	if f.dynamic {
		return f.Add(name), true
	}
	return nil, false
}

// Errors returns the errors attached to this field only.
func (f *FieldSet) Errors() []string {
	return append([]string(nil), f.errors...)
}

// Field walks down path and returns the field it leads to, or nil.
func (f *FieldSet) Field(path ...string) *FieldSet {
	cur := f
	for _, seg := range path {
		if cur = cur.find(seg); cur == nil {
			return nil
		}
	}
	return cur
}

// FieldErrors flattens every nested error below the root into dot paths.
func (f *FieldSet) FieldErrors() map[string][]string {
	out := make(map[string][]string)
	var walk func(*FieldSet, string)
	walk = func(n *FieldSet, prefix string) {
		for _, c := range n.children {
			p := c.name
			if prefix != "" {
				p = prefix + "." + c.name
			}
			if len(c.errors) > 0 {
				out[p] = c.Errors()
			}
			walk(c, p)
		}
	}
	walk(f, "")
	return out
}

// MarshalJSON renders {"errors": [...], "children": {...}} keeping only
// branches that carry errors.
func (f *FieldSet) MarshalJSON() ([]byte, error) {
	type node struct {
		Errors   []string         `json:"errors,omitempty"`
		Children map[string]*node `json:"children,omitempty"`
	}
	var build func(*FieldSet) *node
	build = func(fs *FieldSet) *node {
		n := &node{Errors: fs.errors}
		for _, c := range fs.children {
			if cn := build(c); cn != nil {
				if n.Children == nil {
					n.Children = make(map[string]*node)
				}
				n.Children[c.name] = cn
			}
		}
		if len(n.Errors) == 0 && len(n.Children) == 0 {
			return nil
		}
		return n
	}
	root := build(f)
	if root == nil {
		root = &node{}
	}
	return json.Marshal(root)
}
