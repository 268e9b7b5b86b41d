package cl

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/gomlx/gocl/cl/driver"
	"github.com/gomlx/gocl/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// MaxKernelNameLength is the longest kernel name FindKernel accepts.
const MaxKernelNameLength = 255

// Kernel is an entry point of a built Module, with its arguments.
//
// Arguments are set by position with SetArg, and all of them must be set before the kernel is enqueued. They
// keep their values across launches.
type Kernel struct {
	module  *Module
	h       *handle[driver.KernelID]
	name    string
	numArgs int

	mu sync.Mutex
	// bound marks the arguments set, and buffers holds the buffers bound to pointer arguments.
	bound   []bool
	buffers []*Buffer
}

// LocalMemory is the size in bytes of a __local pointer argument, allocated by the driver for each work-group.
type LocalMemory int

func newKernel(m *Module, id driver.KernelID) (*Kernel, error) {
	drv := m.ctx.state.drv
	k := &Kernel{module: m}
	k.h = newHandle(k, m.ctx.state, id, &kernelsAlive, "ReleaseKernel", drv.ReleaseKernel)
	var err error
	k.name, err = queryString("GetKernelInfo", func(dst []byte) (int, driver.Status) {
		return drv.GetKernelInfo(id, driver.KernelFunctionName, dst)
	})
	if err != nil {
		_ = k.h.destroy()
		return nil, err
	}
	numArgs, err := queryUint("GetKernelInfo", func(dst []byte) (int, driver.Status) {
		return drv.GetKernelInfo(id, driver.KernelNumArgs, dst)
	})
	if err != nil {
		_ = k.h.destroy()
		return nil, err
	}
	k.numArgs = int(numArgs)
	k.bound = make([]bool, k.numArgs)
	k.buffers = make([]*Buffer, k.numArgs)
	return k, nil
}

// NewKernel creates the kernel with the given name. The module must have been built successfully, otherwise
// it fails with ErrInvalidModuleState.
func (m *Module) NewKernel(name string) (*Kernel, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	id, status := m.ctx.state.drv.CreateKernel(m.h.id, name)
	if err := m.checkBuilt(status, "CreateKernel"); err != nil {
		return nil, errors.WithMessagef(err, "failed to create kernel %q", name)
	}
	return newKernel(m, id)
}

// Kernels creates one Kernel for each entry point of the module, which must have been built successfully,
// otherwise it fails with ErrInvalidModuleState.
func (m *Module) Kernels() ([]*Kernel, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	drv := m.ctx.state.drv
	count, status := drv.CreateKernelsInProgram(m.h.id, nil)
	if err := m.checkBuilt(status, "CreateKernelsInProgram"); err != nil {
		return nil, err
	}
	ids := make([]driver.KernelID, count)
	if count > 0 {
		if _, status = drv.CreateKernelsInProgram(m.h.id, ids); !status.Ok() {
			return nil, m.checkBuilt(status, "CreateKernelsInProgram")
		}
	}
	kernels := make([]*Kernel, 0, count)
	for i, id := range ids {
		k, err := newKernel(m, id)
		if err != nil {
			for _, created := range kernels {
				_ = created.Release()
			}
			for _, remaining := range ids[i+1:] {
				drv.ReleaseKernel(remaining)
			}
			return nil, err
		}
		kernels = append(kernels, k)
	}
	return kernels, nil
}

// FindKernel returns the kernel with the given name, or nil if the module has none.
//
// Names longer than MaxKernelNameLength are rejected with ErrNameTooLong. Kernels are compared by the full
// name reported by the driver.
func (m *Module) FindKernel(name string) (*Kernel, error) {
	if len(name) > MaxKernelNameLength {
		return nil, errors.Wrapf(ErrNameTooLong, "kernel name of %d bytes, the maximum is %d", len(name), MaxKernelNameLength)
	}
	kernels, err := m.Kernels()
	if err != nil {
		return nil, err
	}
	var found *Kernel
	for _, k := range kernels {
		if found == nil && k.name == name {
			found = k
			continue
		}
		if err := k.Release(); err != nil {
			klog.Errorf("cl: failed to release kernel %q: %+v", k.name, err)
		}
	}
	return found, nil
}

// check returns an error if the kernel or its context were released.
func (k *Kernel) check() error {
	if k == nil || !k.h.valid() {
		return releasedError("Kernel")
	}
	return nil
}

// Name of the kernel function.
func (k *Kernel) Name() string { return k.name }

// NumArgs is the number of arguments of the kernel.
func (k *Kernel) NumArgs() int { return k.numArgs }

// Module the kernel was created from.
func (k *Kernel) Module() *Module { return k.module }

// Release the kernel. It is a no-op if already released.
func (k *Kernel) Release() error {
	if k == nil {
		return nil
	}
	return k.h.destroy()
}

// String implements fmt.Stringer.
func (k *Kernel) String() string {
	if k == nil {
		return "Kernel(nil)"
	}
	return fmt.Sprintf("Kernel(%s, %d args)", k.name, k.numArgs)
}

// SetArg sets the argument at the given index. value can be:
//
//   - *Buffer: for __global and __constant pointers. A nil *Buffer is a null pointer.
//   - LocalMemory: the size of a __local pointer argument.
//   - []byte: the raw bytes of a scalar argument, in host byte order.
//   - A scalar of a Go type with a dtypes.DType, e.g. float32 or int32. Notice that Go int is 64 bits, while
//     the kernel int is 32 bits.
func (k *Kernel) SetArg(index int, value any) error {
	if err := k.check(); err != nil {
		return err
	}
	if index < 0 || index >= k.numArgs {
		return errors.Errorf("kernel %q has %d arguments, can't set argument #%d", k.name, k.numArgs, index)
	}
	var arg driver.KernelArg
	var buffer *Buffer
	switch v := value.(type) {
	case *Buffer:
		if v != nil {
			if err := v.check(); err != nil {
				return errors.WithMessagef(err, "kernel %q argument #%d", k.name, index)
			}
			if v.ctx != k.module.ctx {
				return errors.Errorf("kernel %q argument #%d: buffer belongs to a different context", k.name, index)
			}
			arg.Mem = v.h.id
			buffer = v
		}
	case LocalMemory:
		arg.LocalSize = int(v)
	case []byte:
		arg.Value = v
	default:
		raw, err := scalarToRaw(value)
		if err != nil {
			return errors.WithMessagef(err, "kernel %q argument #%d", k.name, index)
		}
		arg.Value = raw
	}
	status := k.module.ctx.state.drv.SetKernelArg(k.h.id, index, arg)
	if err := statusError("SetKernelArg", status); err != nil {
		return errors.WithMessagef(err, "kernel %q argument #%d (%T)", k.name, index, value)
	}
	k.mu.Lock()
	k.bound[index] = true
	k.buffers[index] = buffer
	k.mu.Unlock()
	return nil
}

// SetArgs sets all the arguments, in order. See SetArg.
func (k *Kernel) SetArgs(values ...any) error {
	if len(values) != k.numArgs {
		return errors.Errorf("kernel %q takes %d arguments, %d given", k.name, k.numArgs, len(values))
	}
	for i, v := range values {
		if err := k.SetArg(i, v); err != nil {
			return err
		}
	}
	return nil
}

// SetScalarArg sets a scalar argument of type T.
func SetScalarArg[T dtypes.Supported](k *Kernel, index int, value T) error {
	raw, _ := dtypes.ScalarToRaw(value)
	return k.SetArg(index, raw)
}

// scalarToRaw converts a scalar of a supported type to its bytes.
func scalarToRaw(value any) ([]byte, error) {
	if value == nil {
		return nil, errors.New("nil is not a valid scalar argument, use (*cl.Buffer)(nil) for null pointers")
	}
	v := reflect.ValueOf(value)
	if dtypes.FromGoType(v.Type()) == dtypes.InvalidDType {
		return nil, errors.Errorf("unsupported argument type %T", value)
	}
	slice := reflect.MakeSlice(reflect.SliceOf(v.Type()), 1, 1)
	slice.Index(0).Set(v)
	raw, _, err := dtypes.AnyFlatToRaw(slice.Interface())
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), raw...), nil
}

// unbound returns the indices of the arguments not set.
func (k *Kernel) unbound() []int {
	k.mu.Lock()
	defer k.mu.Unlock()
	var indices []int
	for i, bound := range k.bound {
		if !bound {
			indices = append(indices, i)
		}
	}
	return indices
}

// checkBuffers returns an error if a buffer bound to an argument was released since.
func (k *Kernel) checkBuffers() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for i, b := range k.buffers {
		if b != nil && !b.h.valid() {
			return errors.WithMessagef(releasedError("Buffer"), "kernel %q argument #%d", k.name, i)
		}
	}
	return nil
}

// ArgInfo describes one kernel argument.
type ArgInfo struct {
	Name     string
	TypeName string
	Address  driver.AddressQualifier

	// TypeQualifier bits: driver.TypeQualifierConst, driver.TypeQualifierRestrict, driver.TypeQualifierVolatile.
	TypeQualifier uint64
}

// String implements fmt.Stringer, e.g. "__global float* a".
func (info ArgInfo) String() string {
	var qualifiers string
	if info.TypeQualifier&driver.TypeQualifierConst != 0 {
		qualifiers += "const "
	}
	if info.TypeQualifier&driver.TypeQualifierVolatile != 0 {
		qualifiers += "volatile "
	}
	s := fmt.Sprintf("%s %s%s", info.Address, qualifiers, info.TypeName)
	if info.TypeQualifier&driver.TypeQualifierRestrict != 0 {
		s += " restrict"
	}
	return s + " " + info.Name
}

// ArgInfo returns the description of the argument at the given index. Drivers may not keep this information,
// in which case it fails with a *StatusError with driver.KernelArgInfoNotAvailable.
func (k *Kernel) ArgInfo(index int) (ArgInfo, error) {
	var info ArgInfo
	if err := k.check(); err != nil {
		return info, err
	}
	drv := k.module.ctx.state.drv
	query := func(param driver.KernelArgInfo) infoQuery {
		return func(dst []byte) (int, driver.Status) {
			return drv.GetKernelArgInfo(k.h.id, index, param, dst)
		}
	}
	var err error
	if info.Name, err = queryString("GetKernelArgInfo", query(driver.KernelArgName)); err != nil {
		return info, err
	}
	if info.TypeName, err = queryString("GetKernelArgInfo", query(driver.KernelArgTypeName)); err != nil {
		return info, err
	}
	address, err := queryUint("GetKernelArgInfo", query(driver.KernelArgAddressQualifier))
	if err != nil {
		return info, err
	}
	info.Address = driver.AddressQualifier(address)
	if info.TypeQualifier, err = queryUint("GetKernelArgInfo", query(driver.KernelArgTypeQualifier)); err != nil {
		return info, err
	}
	return info, nil
}
