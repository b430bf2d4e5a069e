package managed

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/wippyai/isolator/errors"
	"github.com/wippyai/isolator/vm"
)

// imageMagic prefixes every encoded image.
var imageMagic = []byte("ISLIMG\x00\x01")

var imageEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("managed: failed to create CBOR enc mode: %v", err))
	}
	imageEncMode = em
}

// Image is the serialized form of an assembly. Method bodies are not carried in the image;
// each method names an intrinsic registered on the runtime or an internal call.
type Image struct {
	AssemblyName string    `cbor:"1,keyasint"`
	References   []string  `cbor:"2,keyasint,omitempty"`
	Types        []TypeDef `cbor:"3,keyasint"`
}

// Name implements vm.Image.
func (img *Image) Name() string { return img.AssemblyName }

// TypeDef describes one class. Type names are "Namespace.Name"; generic parameters are
// written "!0" for the class and "!!0" for the method.
type TypeDef struct {
	Namespace   string       `cbor:"1,keyasint"`
	Name        string       `cbor:"2,keyasint"`
	Parent      string       `cbor:"3,keyasint,omitempty"`
	ValueType   bool         `cbor:"4,keyasint,omitempty"`
	Constraints []Constraint `cbor:"5,keyasint,omitempty"`
	Fields      []FieldDef   `cbor:"6,keyasint,omitempty"`
	Methods     []MethodDef  `cbor:"7,keyasint,omitempty"`
}

// FieldDef describes an instance field.
type FieldDef struct {
	Name string `cbor:"1,keyasint"`
	Type string `cbor:"2,keyasint"`
}

// MethodDef describes a method.
type MethodDef struct {
	Name        string       `cbor:"1,keyasint"`
	Params      []string     `cbor:"2,keyasint,omitempty"`
	Static      bool         `cbor:"3,keyasint,omitempty"`
	Virtual     bool         `cbor:"4,keyasint,omitempty"`
	Constraints []Constraint `cbor:"5,keyasint,omitempty"`
	Intrinsic   string       `cbor:"6,keyasint,omitempty"`
	Internal    string       `cbor:"7,keyasint,omitempty"`
}

// EncodeImage serializes img.
func EncodeImage(img *Image) ([]byte, error) {
	body, err := imageEncMode.Marshal(img)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "encode image")
	}
	return append(append([]byte(nil), imageMagic...), body...), nil
}

// OpenImage parses an encoded image without loading it.
func (r *Runtime) OpenImage(data []byte) (vm.Image, error) {
	if !bytes.HasPrefix(data, imageMagic) {
		return nil, errors.Load("not an assembly image", nil)
	}
	var img Image
	if err := cbor.Unmarshal(data[len(imageMagic):], &img); err != nil {
		return nil, errors.Load("decode assembly image", err)
	}
	if img.AssemblyName == "" {
		return nil, errors.Load("assembly image has no name", nil)
	}
	return &img, nil
}

// LoadImage loads an opened image under name. Referenced assemblies are loaded first
// through LoadAssembly, so loading may re-enter the search hooks.
func (r *Runtime) LoadImage(image vm.Image, name string) (vm.Assembly, error) {
	img, ok := image.(*Image)
	if !ok || img == nil {
		return nil, errors.Load("image does not belong to this runtime", nil)
	}
	name = normalizeName(name)
	if name == "" {
		name = img.AssemblyName
	}
	if a, ok := r.assemblies[name]; ok {
		return a, nil
	}

	for _, ref := range img.References {
		if _, ok := r.LoadAssembly(ref); !ok {
			return nil, errors.Load(fmt.Sprintf("assembly %q references missing assembly %q", name, ref), nil)
		}
	}

	asm := &Assembly{rt: r, name: name, byName: make(map[string]*Class)}
	// classes first, so signatures may reference any type in the image
	for _, td := range img.Types {
		c := &Class{name: td.Name, namespace: td.Namespace, assembly: asm, valueType: td.ValueType, constraints: td.Constraints}
		asm.classes = append(asm.classes, c)
		asm.byName[qualify(td.Namespace, td.Name)] = c
	}

	for i, td := range img.Types {
		c := asm.classes[i]
		switch {
		case td.Parent != "":
			if c.parent = r.lookupImageType(asm, td.Parent); c.parent == nil {
				return nil, errors.TypeNotFound(name, "", td.Parent)
			}
		case c.valueType:
			c.parent = r.valueType
		default:
			c.parent = r.object
		}
		for _, fd := range td.Fields {
			ft := r.lookupImageType(asm, fd.Type)
			if ft == nil {
				return nil, errors.TypeNotFound(name, "", fd.Type)
			}
			c.fields = append(c.fields, Field{Name: fd.Name, Type: ft})
		}
		for _, md := range td.Methods {
			m, err := r.loadMethod(asm, c, md)
			if err != nil {
				return nil, err
			}
			c.methods = append(c.methods, m)
		}
	}

	r.assemblies[name] = asm
	r.order = append(r.order, asm)
	r.log.Debug("assembly image loaded",
		zap.String("assembly", name),
		zap.Int("types", len(asm.classes)),
		zap.Strings("references", img.References))
	return asm, nil
}

func (r *Runtime) loadMethod(asm *Assembly, c *Class, md MethodDef) (*Method, error) {
	m := &Method{
		name:        md.Name,
		class:       c,
		static:      md.Static,
		virtual:     md.Virtual,
		internal:    md.Internal,
		constraints: md.Constraints,
	}
	for _, p := range md.Params {
		pt := r.lookupImageType(asm, p)
		if pt == nil {
			return nil, errors.TypeNotFound(asm.name, "", p)
		}
		m.params = append(m.params, pt)
	}
	if md.Internal == "" {
		key := md.Intrinsic
		if key == "" {
			key = qualify(c.namespace, c.name) + "::" + md.Name
		}
		body, ok := r.intrinsics[key]
		if !ok {
			return nil, errors.New(errors.PhaseLoad, errors.KindNotFound).
				Assembly(asm.name).
				Type(c.namespace, c.name).
				Member(md.Name).
				Detail("intrinsic %q not registered", key).
				Build()
		}
		m.body = body
	}
	return m, nil
}

func (r *Runtime) lookupImageType(asm *Assembly, name string) *Class {
	if strings.HasPrefix(name, "!!") {
		if i, ok := parseIndex(name[2:]); ok {
			return MethodParam(i)
		}
		return nil
	}
	if strings.HasPrefix(name, "!") {
		if i, ok := parseIndex(name[1:]); ok {
			return TypeParam(i)
		}
		return nil
	}
	if c := asm.byName[name]; c != nil {
		return c
	}
	return r.FindClass(name)
}

func parseIndex(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return 0, false
		}
		n = n*10 + int(ch-'0')
	}
	return n, true
}

// ImageOf renders a loaded assembly back to its image form, naming each method body by
// its default intrinsic key.
func ImageOf(a *Assembly, references ...string) *Image {
	img := &Image{AssemblyName: a.name, References: references}
	for _, c := range a.classes {
		td := TypeDef{
			Namespace:   c.namespace,
			Name:        c.name,
			ValueType:   c.valueType,
			Constraints: c.constraints,
		}
		if c.parent != nil && c.parent != a.rt.object && c.parent != a.rt.valueType {
			td.Parent = c.parent.String()
		}
		for _, f := range c.fields {
			td.Fields = append(td.Fields, FieldDef{Name: f.Name, Type: f.Type.String()})
		}
		for _, m := range c.methods {
			md := MethodDef{
				Name:        m.name,
				Static:      m.static,
				Virtual:     m.virtual,
				Constraints: m.constraints,
				Internal:    m.internal,
			}
			for _, p := range m.params {
				md.Params = append(md.Params, p.String())
			}
			td.Methods = append(td.Methods, md)
		}
		img.Types = append(img.Types, td)
	}
	return img
}
