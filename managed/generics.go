package managed

import (
	"fmt"
	"strings"

	"github.com/wippyai/isolator/vm"
)

// InflateClass instantiates a generic class definition. Instances are cached, so equal
// arguments yield the same Class. Returns nil on arity or constraint mismatch.
func (r *Runtime) InflateClass(class vm.Class, args []vm.Class) vm.Class {
	def, ok := class.(*Class)
	if !ok || def == nil || def.definition != nil || len(def.constraints) == 0 {
		return nil
	}
	targs, ok := r.typeArgs(def.constraints, args)
	if !ok {
		return nil
	}

	key := cacheKey(targs)
	if inst := def.inflated[key]; inst != nil {
		return inst
	}

	inst := &Class{
		name:       def.name,
		namespace:  def.namespace,
		assembly:   def.assembly,
		parent:     def.parent,
		valueType:  def.valueType,
		definition: def,
		typeArgs:   targs,
	}
	for _, f := range def.fields {
		inst.fields = append(inst.fields, Field{Name: f.Name, Type: substitute(f.Type, targs, nil)})
	}
	for _, m := range def.methods {
		inst.methods = append(inst.methods, &Method{
			name:        m.name,
			class:       inst,
			params:      substituteAll(m.params, targs, nil),
			static:      m.static,
			virtual:     m.virtual,
			internal:    m.internal,
			body:        m.body,
			constraints: m.constraints,
		})
	}

	if def.inflated == nil {
		def.inflated = make(map[string]*Class)
	}
	def.inflated[key] = inst
	return inst
}

// InflateMethod instantiates a generic method definition. Returns nil on arity or
// constraint mismatch.
func (r *Runtime) InflateMethod(method vm.Method, args []vm.Class) vm.Method {
	def, ok := method.(*Method)
	if !ok || def == nil || def.definition != nil || len(def.constraints) == 0 {
		return nil
	}
	targs, ok := r.typeArgs(def.constraints, args)
	if !ok {
		return nil
	}

	key := cacheKey(targs)
	if inst := def.inflated[key]; inst != nil {
		return inst
	}

	inst := &Method{
		name:       def.name,
		class:      def.class,
		params:     substituteAll(def.params, nil, targs),
		static:     def.static,
		virtual:    def.virtual,
		internal:   def.internal,
		body:       def.body,
		definition: def,
		typeArgs:   targs,
	}
	if def.inflated == nil {
		def.inflated = make(map[string]*Method)
	}
	def.inflated[key] = inst
	return inst
}

func (r *Runtime) typeArgs(constraints []Constraint, args []vm.Class) ([]*Class, bool) {
	if len(args) != len(constraints) {
		return nil, false
	}
	out := make([]*Class, len(args))
	for i, a := range args {
		c, ok := a.(*Class)
		if !ok || c == nil || c.param != 0 || c.GenericArity() > 0 {
			return nil, false
		}
		switch constraints[i] {
		case ConstraintValueType:
			if !c.valueType {
				return nil, false
			}
		case ConstraintClass:
			if c.valueType {
				return nil, false
			}
		}
		out[i] = c
	}
	return out, true
}

func cacheKey(args []*Class) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprintf("%p", a)
	}
	return strings.Join(parts, ",")
}

func substitute(p *Class, classArgs, methodArgs []*Class) *Class {
	switch {
	case p == nil:
		return nil
	case p.param > 0 && p.param <= len(classArgs):
		return classArgs[p.param-1]
	case p.param < 0 && -p.param <= len(methodArgs):
		return methodArgs[-p.param-1]
	}
	return p
}

func substituteAll(params []*Class, classArgs, methodArgs []*Class) []*Class {
	out := make([]*Class, len(params))
	for i, p := range params {
		out[i] = substitute(p, classArgs, methodArgs)
	}
	return out
}
