package host

import (
	"strings"
	"sync"

	"github.com/gomlx/gocl/cl/driver"
	"github.com/gomlx/gocl/clc"
)

// accessQualifierNone is the CL_KERNEL_ARG_ACCESS_NONE value, the only one for non-image arguments.
const accessQualifierNone = 0x11A3

type kernel struct {
	id      driver.KernelID
	program *program
	ck      *clc.Kernel

	mu   sync.Mutex
	args []driver.KernelArg
	set  []bool
}

func (d *Driver) kernel(id driver.KernelID) *kernel {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := d.kernels[id]
	if k == nil || k.program.ctx.released.Load() {
		return nil
	}
	return k
}

func (d *Driver) newKernel(p *program, ck *clc.Kernel) *kernel {
	k := &kernel{
		id:      driver.KernelID(d.newHandle()),
		program: p,
		ck:      ck,
		args:    make([]driver.KernelArg, len(ck.Params)),
		set:     make([]bool, len(ck.Params)),
	}
	d.mu.Lock()
	d.kernels[k.id] = k
	p.numKernels++
	d.mu.Unlock()
	return k
}

// CreateKernel implements driver.Driver.
func (d *Driver) CreateKernel(id driver.ProgramID, name string) (driver.KernelID, driver.Status) {
	p := d.program(id)
	if p == nil {
		return 0, driver.InvalidProgram
	}
	exe := p.executable()
	if exe == nil {
		return 0, driver.InvalidProgramExecutable
	}
	ck := exe.compiled.Kernel(name)
	if ck == nil {
		return 0, driver.InvalidKernelName
	}
	return d.newKernel(p, ck).id, driver.Success
}

// CreateKernelsInProgram implements driver.Driver. Kernels are only created if dst can hold all of them.
func (d *Driver) CreateKernelsInProgram(id driver.ProgramID, dst []driver.KernelID) (int, driver.Status) {
	p := d.program(id)
	if p == nil {
		return 0, driver.InvalidProgram
	}
	exe := p.executable()
	if exe == nil {
		return 0, driver.InvalidProgramExecutable
	}
	names := exe.compiled.KernelNames()
	if dst == nil {
		return len(names), driver.Success
	}
	if len(dst) < len(names) {
		return 0, driver.InvalidValue
	}
	for i, name := range names {
		dst[i] = d.newKernel(p, exe.compiled.Kernel(name)).id
	}
	return len(names), driver.Success
}

// GetKernelInfo implements driver.Driver.
func (d *Driver) GetKernelInfo(id driver.KernelID, param driver.KernelInfo, dst []byte) (int, driver.Status) {
	k := d.kernel(id)
	if k == nil {
		return 0, driver.InvalidKernel
	}
	var value []byte
	switch param {
	case driver.KernelFunctionName:
		value = driver.InfoString(k.ck.Name)
	case driver.KernelNumArgs:
		value = driver.InfoUint32(uint32(len(k.ck.Params)))
	case driver.KernelReferenceCount:
		value = driver.InfoUint32(1)
	case driver.KernelAttributes:
		value = driver.InfoString(strings.Join(k.ck.Attributes, " "))
	default:
		return 0, driver.InvalidValue
	}
	return driver.FillInfo(value, dst)
}

var addressQualifiers = map[clc.AddressSpace]driver.AddressQualifier{
	clc.Global:   driver.AddressGlobal,
	clc.Local:    driver.AddressLocal,
	clc.Constant: driver.AddressConstant,
	clc.Private:  driver.AddressPrivate,
}

// GetKernelArgInfo implements driver.Driver. The host driver always keeps the argument information.
func (d *Driver) GetKernelArgInfo(id driver.KernelID, index int, param driver.KernelArgInfo, dst []byte) (int, driver.Status) {
	k := d.kernel(id)
	if k == nil {
		return 0, driver.InvalidKernel
	}
	if index < 0 || index >= len(k.ck.Params) {
		return 0, driver.InvalidArgIndex
	}
	p := &k.ck.Params[index]
	var value []byte
	switch param {
	case driver.KernelArgAddressQualifier:
		value = driver.InfoUint32(uint32(addressQualifiers[p.Space]))
	case driver.KernelArgAccessQualifier:
		value = driver.InfoUint32(accessQualifierNone)
	case driver.KernelArgTypeName:
		value = driver.InfoString(p.TypeName())
	case driver.KernelArgTypeQualifier:
		var q uint64
		if p.Const {
			q |= driver.TypeQualifierConst
		}
		if p.Restrict {
			q |= driver.TypeQualifierRestrict
		}
		if p.Volatile {
			q |= driver.TypeQualifierVolatile
		}
		value = driver.InfoUint64(q)
	case driver.KernelArgName:
		value = driver.InfoString(p.Name)
	default:
		return 0, driver.InvalidValue
	}
	return driver.FillInfo(value, dst)
}

// SetKernelArg implements driver.Driver.
func (d *Driver) SetKernelArg(id driver.KernelID, index int, arg driver.KernelArg) driver.Status {
	k := d.kernel(id)
	if k == nil {
		return driver.InvalidKernel
	}
	if index < 0 || index >= len(k.ck.Params) {
		return driver.InvalidArgIndex
	}
	p := &k.ck.Params[index]
	switch {
	case p.IsPointer() && p.Space == clc.Local:
		if arg.LocalSize <= 0 || arg.Mem != 0 || arg.Value != nil {
			return driver.InvalidArgSize
		}
	case p.IsPointer():
		if arg.Value != nil || arg.LocalSize != 0 {
			return driver.InvalidArgValue
		}
		// Mem 0 is a null pointer.
		if arg.Mem != 0 {
			m := d.mem(arg.Mem)
			if m == nil || m.ctx != k.program.ctx {
				return driver.InvalidMemObject
			}
		}
	default:
		if arg.Mem != 0 || arg.LocalSize != 0 {
			return driver.InvalidArgValue
		}
		if len(arg.Value) != p.Type.Size() {
			return driver.InvalidArgSize
		}
		arg.Value = append([]byte(nil), arg.Value...)
	}
	k.mu.Lock()
	k.args[index] = arg
	k.set[index] = true
	k.mu.Unlock()
	return driver.Success
}

// snapshotArgs returns a copy of the arguments, or false if some are not set.
func (k *kernel) snapshotArgs() ([]driver.KernelArg, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, set := range k.set {
		if !set {
			return nil, false
		}
	}
	return append([]driver.KernelArg(nil), k.args...), true
}

// ReleaseKernel implements driver.Driver.
func (d *Driver) ReleaseKernel(id driver.KernelID) driver.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	k, found := d.kernels[id]
	if !found {
		return driver.InvalidKernel
	}
	delete(d.kernels, id)
	k.program.numKernels--
	return driver.Success
}
