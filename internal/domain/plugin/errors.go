package plugin

import (
	"fmt"
	"slices"
	"strings"
)

// FieldPath addresses a nested field, e.g. data_creditcard.number.
type FieldPath []string

// ParseFieldPath splits a dot-separated path and rejects empty segments.
func ParseFieldPath(s string) (FieldPath, error) {
	if s == "" {
		return nil, fmt.Errorf("empty field path")
	}
	segments := strings.Split(s, ".")
	for _, seg := range segments {
		if strings.TrimSpace(seg) == "" {
			return nil, fmt.Errorf("malformed field path %q", s)
		}
	}
	return FieldPath(segments), nil
}

func (p FieldPath) String() string {
	return strings.Join(p, ".")
}

type FieldError struct {
	Path    FieldPath
	Message string
}

// Error is the rejection detail a backend attaches to a failed check,
// validation or operation. Global errors concern the instruction as a whole;
// data errors are routed to the field they originate from.
type Error struct {
	Message      string
	ReasonCode   string
	ResponseCode string

	global []string
	fields []FieldError
}

func NewError(message string) *Error {
	return &Error{Message: message}
}

func (e *Error) Error() string {
	if e.ReasonCode != "" {
		return fmt.Sprintf("plugin: %s (reason: %s)", e.Message, e.ReasonCode)
	}
	return "plugin: " + e.Message
}

func (e *Error) AddGlobalError(message string) *Error {
	e.global = append(e.global, message)
	return e
}

// AddDataError sets the message for path. A path holds a single message;
// setting it again replaces the previous one in place.
func (e *Error) AddDataError(path, message string) error {
	p, err := ParseFieldPath(path)
	if err != nil {
		return err
	}
	for i := range e.fields {
		if slices.Equal(e.fields[i].Path, p) {
			e.fields[i].Message = message
			return nil
		}
	}
	e.fields = append(e.fields, FieldError{Path: p, Message: message})
	return nil
}

func (e *Error) GlobalErrors() []string {
	return slices.Clone(e.global)
}

func (e *Error) DataErrors() []FieldError {
	return slices.Clone(e.fields)
}

func (e *Error) HasErrors() bool {
	return len(e.global) > 0 || len(e.fields) > 0
}

// Tree arranges the errors by path segment: the root holds global errors,
// every data error sits at the node its path leads to.
func (e *Error) Tree() *FieldNode {
	root := &FieldNode{}
	root.Errors = slices.Clone(e.global)
	for _, fe := range e.fields {
		node := root
		for _, seg := range fe.Path {
			node = node.child(seg)
		}
		node.Errors = append(node.Errors, fe.Message)
	}
	return root
}

type FieldNode struct {
	Errors   []string
	children map[string]*FieldNode
	order    []string
}

func (n *FieldNode) child(name string) *FieldNode {
	if n.children == nil {
		n.children = make(map[string]*FieldNode)
	}
	c, ok := n.children[name]
	if !ok {
		c = &FieldNode{}
		n.children[name] = c
		n.order = append(n.order, name)
	}
	return c
}

// Child returns the named sub-node, or nil.
func (n *FieldNode) Child(name string) *FieldNode {
	if n == nil || n.children == nil {
		return nil
	}
	return n.children[name]
}

// Names lists child names in the order errors were added.
func (n *FieldNode) Names() []string {
	if n == nil {
		return nil
	}
	return slices.Clone(n.order)
}
