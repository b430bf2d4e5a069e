package main

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/wippyai/isolator"
	"github.com/wippyai/isolator/client"
	"github.com/wippyai/isolator/errors"
	"github.com/wippyai/isolator/vm"
)

type typeInfo struct {
	namespace string
	name      string
	methods   []methodInfo
}

func (t typeInfo) fullName() string {
	if t.namespace == "" {
		return t.name
	}
	return t.namespace + "." + t.name
}

type methodInfo struct {
	name    string
	static  bool
	generic bool
	params  []string
}

func (m methodInfo) signature() string {
	s := m.name + "(" + strings.Join(m.params, ", ") + ")"
	if m.static {
		s = "static " + s
	}
	return s
}

// describe lists the types of assembly, loading it through the search hook if needed.
func describe(b *isolator.Bridge, assembly string) ([]typeInfo, error) {
	asm, ok := b.Runtime().LoadAssembly(assembly)
	if !ok {
		return nil, errors.AssemblyNotFound(assembly)
	}
	var types []typeInfo
	for _, c := range asm.Classes() {
		if c.GenericArity() > 0 {
			continue
		}
		ti := typeInfo{namespace: c.Namespace(), name: c.Name()}
		for _, m := range c.Methods() {
			mi := methodInfo{name: m.Name(), static: m.IsStatic(), generic: m.GenericArity() > 0}
			for _, p := range m.Params() {
				mi.params = append(mi.params, vm.FullName(p))
			}
			ti.methods = append(ti.methods, mi)
		}
		sort.SliceStable(ti.methods, func(i, j int) bool { return ti.methods[i].name < ti.methods[j].name })
		types = append(types, ti)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].fullName() < types[j].fullName() })
	return types, nil
}

func findMethod(types []typeInfo, typeName, method string, arity int) (typeInfo, methodInfo, error) {
	for _, t := range types {
		if t.fullName() != typeName {
			continue
		}
		for _, m := range t.methods {
			if m.name == method && len(m.params) == arity && !m.generic {
				return t, m, nil
			}
		}
		ns, name := isolator.SplitTypeName(typeName)
		return t, methodInfo{}, errors.MethodNotFound(ns, name, method, arity)
	}
	return typeInfo{}, methodInfo{}, errors.New(errors.PhaseResolve, errors.KindTypeNotFound).
		Value(typeName).
		Detail("type %q not found", typeName).
		Build()
}

// convertArg parses a command line value for a parameter of the named type.
func convertArg(value, typeName string) (any, error) {
	switch typeName {
	case "System.String":
		return value, nil
	case "System.Int32":
		v, err := strconv.ParseInt(value, 10, 32)
		return int32(v), argError(value, typeName, err)
	case "System.Int64":
		v, err := strconv.ParseInt(value, 10, 64)
		return v, argError(value, typeName, err)
	case "System.Double":
		v, err := strconv.ParseFloat(value, 64)
		return v, argError(value, typeName, err)
	case "System.Boolean":
		v, err := strconv.ParseBool(value)
		return v, argError(value, typeName, err)
	case "System.Byte[]":
		return []byte(value), nil
	default:
		if value == "" || value == "null" {
			return nil, nil
		}
		return value, nil
	}
}

func argError(value, typeName string, err error) error {
	if err == nil {
		return nil
	}
	return errors.New(errors.PhaseMarshal, errors.KindInvalidInput).
		Value(value).
		Cause(err).
		Detail("cannot use %q as %s", value, typeName).
		Build()
}

func convertArgs(values []string, m methodInfo) ([]any, error) {
	args := make([]any, len(values))
	for i, v := range values {
		a, err := convertArg(v, m.params[i])
		if err != nil {
			return nil, err
		}
		args[i] = a
	}
	return args, nil
}

// call invokes m on t, creating a throwaway instance for instance methods. With handle set
// the result stays in the guest and is described by its string form and hash.
func call(b *isolator.Bridge, assembly string, t typeInfo, m methodInfo, args []any, handle bool) (string, error) {
	c, err := b.Client().Class(assembly, t.namespace, t.name)
	if err != nil {
		return "", err
	}
	method, err := c.Method(m.name, len(args))
	if err != nil {
		return "", err
	}

	var target *client.Object
	if !m.static {
		if target, err = c.New(); err != nil {
			return "", err
		}
		defer target.Release()
	}

	if handle {
		obj, err := method.InvokeHandle(target, args...)
		if err != nil {
			return "", describeError(err)
		}
		if obj == nil {
			return "null", nil
		}
		defer obj.Release()
		return fmt.Sprintf("%s (ref %#x, hash %d)", obj.String(), obj.Ref(), obj.Hash()), nil
	}

	v, err := method.Invoke(target, args...)
	if err != nil {
		return "", describeError(err)
	}
	return formatValue(v), nil
}

// describeError releases the exception reference a guest error may carry.
func describeError(err error) error {
	var ge *client.GuestError
	if stderrors.As(err, &ge) {
		ge.Release()
	}
	return err
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(x)
	case []byte:
		return fmt.Sprintf("bytes(%d) %q", len(x), x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
