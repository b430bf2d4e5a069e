package resolve

import (
	"strings"

	"github.com/wippyai/isolator/errors"
	"github.com/wippyai/isolator/vm"
)

// aliases maps descriptor keywords to runtime type names.
var aliases = map[string]string{
	"object": "System.Object",
	"string": "System.String",
	"int":    "System.Int32",
	"long":   "System.Int64",
	"bool":   "System.Boolean",
	"double": "System.Double",
	"byte[]": "System.Byte[]",
}

// Descriptor selects a method by declaring type, name and optionally parameter types:
//
//	[Namespace.]Type:Method[(T1,T2,...)]
//
// Type "*" matches any type. Without a parameter list any overload matches; "()" matches
// only parameterless overloads.
type Descriptor struct {
	Namespace string
	Type      string
	Method    string
	Params    []string
	// HasParams is false when the descriptor has no parameter list.
	HasParams bool
	// Qualified reports whether Namespace takes part in matching.
	Qualified bool
}

// ParseDescriptor parses desc. When includesNamespace is set the type part is split at
// its last dot into namespace and type name.
func ParseDescriptor(desc string, includesNamespace bool) (*Descriptor, error) {
	s := strings.TrimSpace(desc)
	d := &Descriptor{Qualified: includesNamespace}

	if open := strings.IndexByte(s, '('); open >= 0 {
		if !strings.HasSuffix(s, ")") {
			return nil, errors.InvalidDescriptor(desc, "unterminated parameter list")
		}
		params, err := splitParams(s[open+1 : len(s)-1])
		if err != nil {
			return nil, errors.InvalidDescriptor(desc, err.Error())
		}
		d.Params = params
		d.HasParams = true
		s = strings.TrimSpace(s[:open])
	}

	colon := strings.LastIndexByte(s, ':')
	if colon < 0 {
		return nil, errors.InvalidDescriptor(desc, "missing ':' between type and method")
	}
	typePart := strings.TrimSpace(strings.TrimSuffix(s[:colon], ":"))
	d.Method = strings.TrimSpace(s[colon+1:])
	if typePart == "" {
		return nil, errors.InvalidDescriptor(desc, "empty type name")
	}
	if d.Method == "" {
		return nil, errors.InvalidDescriptor(desc, "empty method name")
	}

	d.Type = typePart
	if includesNamespace && typePart != "*" {
		if dot := strings.LastIndexByte(typePart, '.'); dot >= 0 {
			d.Namespace = typePart[:dot]
			d.Type = typePart[dot+1:]
		}
		if d.Type == "" {
			return nil, errors.InvalidDescriptor(desc, "empty type name")
		}
	}
	return d, nil
}

// splitParams splits at top-level commas, leaving bracketed type arguments intact.
func splitParams(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{}, nil
	}
	var out []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[', '<':
			depth++
		case ']', '>':
			depth--
			if depth < 0 {
				return nil, errUnbalanced
			}
		case ',':
			if depth == 0 {
				out = append(out, normalize(s[start:i]))
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, errUnbalanced
	}
	out = append(out, normalize(s[start:]))
	for _, p := range out {
		if p == "" {
			return nil, errEmptyParam
		}
	}
	return out, nil
}

type descError string

func (e descError) Error() string { return string(e) }

const (
	errUnbalanced descError = "unbalanced brackets in parameter list"
	errEmptyParam descError = "empty parameter type"
)

func normalize(p string) string {
	p = strings.TrimSpace(p)
	if full, ok := aliases[p]; ok {
		return full
	}
	return p
}

// MatchClass reports whether c satisfies the type part.
func (d *Descriptor) MatchClass(c vm.Class) bool {
	if d.Type == "*" {
		return true
	}
	if c.Name() != d.Type {
		return false
	}
	return !d.Qualified || c.Namespace() == d.Namespace
}

// Match reports whether m satisfies the method name and parameter list.
func (d *Descriptor) Match(m vm.Method) bool {
	if m.Name() != d.Method {
		return false
	}
	if !d.HasParams {
		return true
	}
	params := m.Params()
	if len(params) != len(d.Params) {
		return false
	}
	for i, p := range params {
		if !matchParam(p, d.Params[i]) {
			return false
		}
	}
	return true
}

func matchParam(c vm.Class, want string) bool {
	if c == nil {
		return false
	}
	full := typeName(c)
	return full == want || c.Name() == want
}

// typeName renders the full name including type arguments when the runtime provides them.
func typeName(c vm.Class) string {
	if s, ok := c.(interface{ String() string }); ok {
		return s.String()
	}
	return vm.FullName(c)
}

// Arity returns the parameter count the descriptor pins, or -1.
func (d *Descriptor) Arity() int {
	if !d.HasParams {
		return -1
	}
	return len(d.Params)
}

// String renders the descriptor back in its canonical form.
func (d *Descriptor) String() string {
	var b strings.Builder
	if d.Namespace != "" {
		b.WriteString(d.Namespace)
		b.WriteByte('.')
	}
	b.WriteString(d.Type)
	b.WriteByte(':')
	b.WriteString(d.Method)
	if d.HasParams {
		b.WriteByte('(')
		b.WriteString(strings.Join(d.Params, ","))
		b.WriteByte(')')
	}
	return b.String()
}
