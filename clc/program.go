package clc

import (
	"strings"
)

// Program is a compiled translation unit.
type Program struct {
	kernels map[string]*Kernel
	names   []string
}

// Param describes a kernel parameter.
type Param struct {
	Name string
	Type *Type

	// Space pointed to, for pointer parameters. Private for parameters passed by value.
	Space AddressSpace

	// Type qualifiers: for pointers Const refers to the pointed type.
	Const, Volatile, Restrict bool
}

// TypeName returns the type as it is reported in kernel argument info, e.g. "float*".
func (p *Param) TypeName() string {
	return p.Type.unqualified().String()
}

// IsPointer returns whether the parameter is a pointer to memory.
func (p *Param) IsPointer() bool {
	return p.Type.isPointer()
}

// Kernel is an entry point of a Program.
type Kernel struct {
	Name   string
	Params []Param

	// Attributes declared with __attribute__, e.g. "__attribute__((reqd_work_group_size(64,1,1)))".
	Attributes []string

	fn *function
}

// UsesBarriers returns whether the kernel, or a function it calls, synchronizes the work-items of a
// work-group.
func (k *Kernel) UsesBarriers() bool {
	return k.fn.callsBarrier
}

// Compile preprocesses, parses and compiles the sources, concatenated in order with new lines.
//
// It always returns the diagnostics, including warnings for successful compilations, and returns a nil
// Program if there are errors. A failure of the compiler itself is reported as an error diagnostic.
func Compile(sources []string, opts Options) (p *Program, diags *Diagnostics) {
	src := strings.Join(sources, "\n")
	diags = &Diagnostics{lines: strings.Split(src, "\n")}
	defer func() {
		if r := recover(); r != nil {
			diags.errorf(Pos{}, "internal compiler error: %v", r)
			p = nil
		}
	}()
	p = compile(src, &opts, diags)
	applyWarningOptions(diags, &opts)
	if diags.HasErrors() {
		return nil, diags
	}
	return p, diags
}

func compile(src string, opts *Options, diags *Diagnostics) *Program {
	text := stripComments(src, diags)
	pp := newPreprocessor(diags, opts.predefinedMacros())
	text = pp.run(text)
	tokens := pp.expand(newLexer(text, diags).all())
	if diags.HasErrors() {
		return nil
	}
	file := newParser(tokens, diags).parseFile()
	if file == nil {
		return nil
	}

	c := newCompiler(diags, opts)
	funcs := c.compileFile(file)
	p := &Program{kernels: make(map[string]*Kernel)}
	for _, fn := range funcs {
		if !fn.decl.Kernel || fn.decl.Body == nil {
			continue
		}
		k := &Kernel{Name: fn.name, Attributes: fn.decl.Attributes, fn: fn}
		for _, param := range fn.decl.Params {
			kp := Param{Name: param.Name, Type: param.Type, Volatile: param.Volatile, Restrict: param.Restrict}
			if param.Type.isPointer() {
				kp.Space = param.Type.Space
				kp.Const = param.Type.Elem.Const || kp.Space == Constant
			} else {
				kp.Const = param.Type.Const
			}
			k.Params = append(k.Params, kp)
		}
		p.kernels[k.Name] = k
		p.names = append(p.names, k.Name)
	}
	return p
}

// applyWarningOptions implements -w and -Werror.
func applyWarningOptions(diags *Diagnostics, opts *Options) {
	switch {
	case opts.NoWarnings:
		kept := diags.List[:0]
		for _, d := range diags.List {
			if d.Severity == SeverityError {
				kept = append(kept, d)
			}
		}
		diags.List = kept
	case opts.WarningsAsErrors:
		for i := range diags.List {
			diags.List[i].Severity = SeverityError
		}
	}
}

// KernelNames returns the names of the kernels, in declaration order.
func (p *Program) KernelNames() []string {
	return append([]string(nil), p.names...)
}

// Kernel returns the kernel with the given name, or nil if there is none.
func (p *Program) Kernel(name string) *Kernel {
	return p.kernels[name]
}
