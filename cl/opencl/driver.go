//go:build opencl && linux

package opencl

// #cgo CFLAGS: -DCL_TARGET_OPENCL_VERSION=120 -DCL_USE_DEPRECATED_OPENCL_1_2_APIS
/*
#include <stdint.h>
#include <stdlib.h>
#include <CL/cl.h>

// Entry points resolved with dlsym, in the order of symbolNames.
enum {
	fnGetPlatformIDs, fnGetPlatformInfo, fnGetDeviceIDs, fnGetDeviceInfo,
	fnCreateContext, fnRetainContext, fnReleaseContext, fnGetContextInfo,
	fnCreateProgramWithSource, fnCreateProgramWithBinary, fnBuildProgram, fnGetProgramInfo,
	fnGetProgramBuildInfo, fnReleaseProgram,
	fnCreateKernel, fnCreateKernelsInProgram, fnGetKernelInfo, fnGetKernelArgInfo, fnSetKernelArg,
	fnReleaseKernel,
	fnCreateBuffer, fnGetMemObjectInfo, fnReleaseMemObject,
	fnCreateCommandQueue, fnReleaseCommandQueue,
	fnEnqueueNDRangeKernel, fnEnqueueReadBuffer, fnEnqueueWriteBuffer, fnEnqueueBarrierWithWaitList,
	fnFlush, fnFinish,
	fnWaitForEvents, fnGetEventInfo, fnReleaseEvent,
	gocl_num_fns
};

static void* gocl_fns[gocl_num_fns];

static void gocl_set_fn(int i, void* fn) { gocl_fns[i] = fn; }

// All handles are pointers, passed from Go as uintptr_t.
typedef cl_int (*gocl_info_fn)(void*, cl_uint, size_t, void*, size_t*);
typedef cl_int (*gocl_obj_fn)(void*);

static cl_int gocl_get_info(int fn, uintptr_t obj, cl_uint param, size_t size, void* value, size_t* size_ret) {
	return ((gocl_info_fn)gocl_fns[fn])((void*)obj, param, size, value, size_ret);
}

static cl_int gocl_call_obj(int fn, uintptr_t obj) {
	return ((gocl_obj_fn)gocl_fns[fn])((void*)obj);
}

static cl_int gocl_get_platform_ids(cl_uint n, void* ids, cl_uint* count) {
	return ((cl_int (*)(cl_uint, cl_platform_id*, cl_uint*))gocl_fns[fnGetPlatformIDs])(n, (cl_platform_id*)ids, count);
}

static cl_int gocl_get_device_ids(uintptr_t platform, cl_device_type type, cl_uint n, void* ids, cl_uint* count) {
	return ((cl_int (*)(cl_platform_id, cl_device_type, cl_uint, cl_device_id*, cl_uint*))gocl_fns[fnGetDeviceIDs])(
		(cl_platform_id)platform, type, n, (cl_device_id*)ids, count);
}

extern void goclNotify(char*, void*, size_t, void*);

static void CL_CALLBACK gocl_notify(const char* errinfo, const void* private_info, size_t cb, void* user_data) {
	goclNotify((char*)errinfo, (void*)private_info, cb, user_data);
}

typedef void (CL_CALLBACK *gocl_notify_fn)(const char*, const void*, size_t, void*);

static uintptr_t gocl_create_context(cl_uint n, void* devices, uintptr_t handle, cl_int* status) {
	return (uintptr_t)((cl_context (*)(const cl_context_properties*, cl_uint, const cl_device_id*, gocl_notify_fn, void*, cl_int*))
		gocl_fns[fnCreateContext])(NULL, n, (const cl_device_id*)devices, handle ? gocl_notify : NULL, (void*)handle, status);
}

static uintptr_t gocl_create_program_with_source(uintptr_t ctx, cl_uint n, char** sources, size_t* lengths, cl_int* status) {
	return (uintptr_t)((cl_program (*)(cl_context, cl_uint, const char**, const size_t*, cl_int*))gocl_fns[fnCreateProgramWithSource])(
		(cl_context)ctx, n, (const char**)sources, lengths, status);
}

static uintptr_t gocl_create_program_with_binary(uintptr_t ctx, cl_uint n, void* devices, size_t* lengths, void** binaries, cl_int* status) {
	return (uintptr_t)((cl_program (*)(cl_context, cl_uint, const cl_device_id*, const size_t*, const unsigned char**, cl_int*, cl_int*))
		gocl_fns[fnCreateProgramWithBinary])((cl_context)ctx, n, (const cl_device_id*)devices, lengths,
		(const unsigned char**)binaries, NULL, status);
}

static cl_int gocl_build_program(uintptr_t program, cl_uint n, void* devices, char* options) {
	return ((cl_int (*)(cl_program, cl_uint, const cl_device_id*, const char*, void*, void*))gocl_fns[fnBuildProgram])(
		(cl_program)program, n, (const cl_device_id*)devices, options, NULL, NULL);
}

static cl_int gocl_get_program_build_info(uintptr_t program, uintptr_t device, cl_uint param, size_t size, void* value, size_t* size_ret) {
	return ((cl_int (*)(cl_program, cl_device_id, cl_uint, size_t, void*, size_t*))gocl_fns[fnGetProgramBuildInfo])(
		(cl_program)program, (cl_device_id)device, param, size, value, size_ret);
}

static uintptr_t gocl_create_kernel(uintptr_t program, char* name, cl_int* status) {
	return (uintptr_t)((cl_kernel (*)(cl_program, const char*, cl_int*))gocl_fns[fnCreateKernel])((cl_program)program, name, status);
}

static cl_int gocl_create_kernels_in_program(uintptr_t program, cl_uint n, void* kernels, cl_uint* count) {
	return ((cl_int (*)(cl_program, cl_uint, cl_kernel*, cl_uint*))gocl_fns[fnCreateKernelsInProgram])(
		(cl_program)program, n, (cl_kernel*)kernels, count);
}

static cl_int gocl_get_kernel_arg_info(uintptr_t kernel, cl_uint index, cl_uint param, size_t size, void* value, size_t* size_ret) {
	return ((cl_int (*)(cl_kernel, cl_uint, cl_uint, size_t, void*, size_t*))gocl_fns[fnGetKernelArgInfo])(
		(cl_kernel)kernel, index, param, size, value, size_ret);
}

typedef cl_int (*gocl_set_arg_fn)(cl_kernel, cl_uint, size_t, const void*);

static cl_int gocl_set_kernel_arg(uintptr_t kernel, cl_uint index, size_t size, void* value) {
	return ((gocl_set_arg_fn)gocl_fns[fnSetKernelArg])((cl_kernel)kernel, index, size, value);
}

static cl_int gocl_set_kernel_arg_mem(uintptr_t kernel, cl_uint index, uintptr_t mem) {
	cl_mem m = (cl_mem)mem;
	return ((gocl_set_arg_fn)gocl_fns[fnSetKernelArg])((cl_kernel)kernel, index, sizeof(cl_mem), &m);
}

static uintptr_t gocl_create_buffer(uintptr_t ctx, cl_mem_flags flags, size_t size, void* host, cl_int* status) {
	return (uintptr_t)((cl_mem (*)(cl_context, cl_mem_flags, size_t, void*, cl_int*))gocl_fns[fnCreateBuffer])(
		(cl_context)ctx, flags, size, host, status);
}

static uintptr_t gocl_create_command_queue(uintptr_t ctx, uintptr_t device, cl_command_queue_properties props, cl_int* status) {
	return (uintptr_t)((cl_command_queue (*)(cl_context, cl_device_id, cl_command_queue_properties, cl_int*))
		gocl_fns[fnCreateCommandQueue])((cl_context)ctx, (cl_device_id)device, props, status);
}

static cl_int gocl_enqueue_nd_range_kernel(uintptr_t queue, uintptr_t kernel, cl_uint dims, size_t* offset, size_t* global,
	size_t* local, cl_uint numWait, void* waitList, uintptr_t* event) {
	cl_event e = NULL;
	cl_int status = ((cl_int (*)(cl_command_queue, cl_kernel, cl_uint, const size_t*, const size_t*, const size_t*, cl_uint,
		const cl_event*, cl_event*))gocl_fns[fnEnqueueNDRangeKernel])((cl_command_queue)queue, (cl_kernel)kernel, dims,
		offset, global, local, numWait, (const cl_event*)waitList, &e);
	*event = (uintptr_t)e;
	return status;
}

typedef cl_int (*gocl_transfer_fn)(cl_command_queue, cl_mem, cl_bool, size_t, size_t, void*, cl_uint, const cl_event*, cl_event*);

static cl_int gocl_enqueue_transfer(int fn, uintptr_t queue, uintptr_t mem, cl_bool blocking, size_t offset, size_t size,
	void* ptr, cl_uint numWait, void* waitList, uintptr_t* event) {
	cl_event e = NULL;
	cl_int status = ((gocl_transfer_fn)gocl_fns[fn])((cl_command_queue)queue, (cl_mem)mem, blocking, offset, size, ptr,
		numWait, (const cl_event*)waitList, &e);
	*event = (uintptr_t)e;
	return status;
}

static cl_int gocl_enqueue_barrier(uintptr_t queue, cl_uint numWait, void* waitList, uintptr_t* event) {
	cl_event e = NULL;
	cl_int status = ((cl_int (*)(cl_command_queue, cl_uint, const cl_event*, cl_event*))gocl_fns[fnEnqueueBarrierWithWaitList])(
		(cl_command_queue)queue, numWait, (const cl_event*)waitList, &e);
	*event = (uintptr_t)e;
	return status;
}

static cl_int gocl_wait_for_events(cl_uint n, void* events) {
	return ((cl_int (*)(cl_uint, const cl_event*))gocl_fns[fnWaitForEvents])(n, (const cl_event*)events);
}
*/
import "C"

import (
	"runtime"
	"sync"
	"unsafe"

	"github.com/gomlx/gocl/cl/driver"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// symbolNames must follow the order of the fn* enum.
var symbolNames = []string{
	"clGetPlatformIDs", "clGetPlatformInfo", "clGetDeviceIDs", "clGetDeviceInfo",
	"clCreateContext", "clRetainContext", "clReleaseContext", "clGetContextInfo",
	"clCreateProgramWithSource", "clCreateProgramWithBinary", "clBuildProgram", "clGetProgramInfo",
	"clGetProgramBuildInfo", "clReleaseProgram",
	"clCreateKernel", "clCreateKernelsInProgram", "clGetKernelInfo", "clGetKernelArgInfo", "clSetKernelArg",
	"clReleaseKernel",
	"clCreateBuffer", "clGetMemObjectInfo", "clReleaseMemObject",
	"clCreateCommandQueue", "clReleaseCommandQueue",
	"clEnqueueNDRangeKernel", "clEnqueueReadBuffer", "clEnqueueWriteBuffer", "clEnqueueBarrierWithWaitList",
	"clFlush", "clFinish",
	"clWaitForEvents", "clGetEventInfo", "clReleaseEvent",
}

// Program attributes only used internally, to implement GetProgramBinary.
const (
	programBinarySizes = 0x1165
	programBinaries    = 0x1166
)

// Driver forwards the driver calls to the OpenCL ICD loader.
type Driver struct {
	lib *library

	mu sync.Mutex

	// contexts holds the references taken through this driver and the key of the error callback of each
	// context. The runtime may hold more references, for objects not yet destroyed.
	contexts map[driver.ContextID]*contextRefs

	// pinned holds the host memory of non-blocking transfers, until their events are released.
	pinned map[driver.EventID]*runtime.Pinner
}

// Assert Driver implements driver.Driver.
var _ driver.Driver = (*Driver)(nil)

// New loads the OpenCL ICD loader and resolves its entry points.
//
// Only one Driver should be created per process, use driver.Open(DriverName) instead.
func New() (*Driver, error) {
	if len(symbolNames) != int(C.gocl_num_fns) {
		return nil, errors.Errorf("opencl: %d symbol names for %d entry points", len(symbolNames), int(C.gocl_num_fns))
	}
	lib, err := openLibrary()
	if err != nil {
		return nil, err
	}
	for i, name := range symbolNames {
		fn, err := lib.symbol(name)
		if err != nil {
			lib.close()
			return nil, errors.WithMessage(err, "OpenCL 1.2 or later is required")
		}
		C.gocl_set_fn(C.int(i), fn)
	}
	return &Driver{
		lib:      lib,
		contexts: make(map[driver.ContextID]*contextRefs),
		pinned:   make(map[driver.EventID]*runtime.Pinner),
	}, nil
}

func init() {
	driver.Register(DriverName, func() (driver.Driver, error) {
		return New()
	})
}

// Name implements driver.Driver.
func (d *Driver) Name() string { return DriverName }

func bytesPtr(b []byte) unsafe.Pointer {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Pointer(&b[0])
}

// handlesPtr returns a pointer to the first handle, or nil for an empty list.
func handlesPtr[H ~uintptr](handles []H) unsafe.Pointer {
	if len(handles) == 0 {
		return nil
	}
	return unsafe.Pointer(&handles[0])
}

func sizes(values []int) []C.size_t {
	if values == nil {
		return nil
	}
	converted := make([]C.size_t, len(values))
	for i, v := range values {
		converted[i] = C.size_t(v)
	}
	return converted
}

func sizesPtr(values []C.size_t) *C.size_t {
	if len(values) == 0 {
		return nil
	}
	return &values[0]
}

// info calls one of the clGet*Info functions with the size-then-fetch protocol.
func info(fn C.int, obj uintptr, param uint32, dst []byte) (int, driver.Status) {
	var size C.size_t
	status := C.gocl_get_info(fn, C.uintptr_t(obj), C.cl_uint(param), C.size_t(len(dst)), bytesPtr(dst), &size)
	return int(size), driver.Status(status)
}

// GetPlatformIDs implements driver.Driver. A missing ICD (CL_PLATFORM_NOT_FOUND_KHR) is reported as no platforms.
func (d *Driver) GetPlatformIDs(dst []driver.PlatformID) (int, driver.Status) {
	var count C.cl_uint
	status := driver.Status(C.gocl_get_platform_ids(C.cl_uint(len(dst)), handlesPtr(dst), &count))
	if status == driver.PlatformNotFoundKHR {
		return 0, driver.Success
	}
	return int(count), status
}

// GetPlatformInfo implements driver.Driver.
func (d *Driver) GetPlatformInfo(platform driver.PlatformID, param driver.PlatformInfo, dst []byte) (int, driver.Status) {
	return info(C.fnGetPlatformInfo, uintptr(platform), uint32(param), dst)
}

// GetDeviceIDs implements driver.Driver.
func (d *Driver) GetDeviceIDs(platform driver.PlatformID, deviceType driver.DeviceType, dst []driver.DeviceID) (int, driver.Status) {
	var count C.cl_uint
	status := C.gocl_get_device_ids(C.uintptr_t(platform), C.cl_device_type(deviceType), C.cl_uint(len(dst)),
		handlesPtr(dst), &count)
	return int(count), driver.Status(status)
}

// GetDeviceInfo implements driver.Driver.
func (d *Driver) GetDeviceInfo(device driver.DeviceID, param driver.DeviceInfo, dst []byte) (int, driver.Status) {
	return info(C.fnGetDeviceInfo, uintptr(device), uint32(param), dst)
}

// CreateContext implements driver.Driver. The notify function is called from the runtime threads.
func (d *Driver) CreateContext(devices []driver.DeviceID, notify driver.NotifyFunc) (driver.ContextID, driver.Status) {
	if len(devices) == 0 {
		return 0, driver.InvalidValue
	}
	var key uintptr
	if notify != nil {
		key = registerNotifier(notify)
	}
	var status C.cl_int
	ctx := driver.ContextID(C.gocl_create_context(C.cl_uint(len(devices)), handlesPtr(devices), C.uintptr_t(key), &status))
	if driver.Status(status) != driver.Success {
		unregisterNotifier(key)
		return 0, driver.Status(status)
	}
	d.mu.Lock()
	d.contexts[ctx] = &contextRefs{refs: 1, notifierKey: key}
	d.mu.Unlock()
	return ctx, driver.Success
}

type contextRefs struct {
	refs        int
	notifierKey uintptr
}

// RetainContext implements driver.Driver.
func (d *Driver) RetainContext(ctx driver.ContextID) driver.Status {
	status := driver.Status(C.gocl_call_obj(C.fnRetainContext, C.uintptr_t(ctx)))
	if status == driver.Success {
		d.mu.Lock()
		if refs, found := d.contexts[ctx]; found {
			refs.refs++
		}
		d.mu.Unlock()
	}
	return status
}

// ReleaseContext implements driver.Driver. The error callback is unregistered with the last reference taken through
// the driver: callbacks the runtime issues afterward are dropped.
func (d *Driver) ReleaseContext(ctx driver.ContextID) driver.Status {
	status := driver.Status(C.gocl_call_obj(C.fnReleaseContext, C.uintptr_t(ctx)))
	if status != driver.Success {
		return status
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if refs, found := d.contexts[ctx]; found {
		refs.refs--
		if refs.refs <= 0 {
			unregisterNotifier(refs.notifierKey)
			delete(d.contexts, ctx)
		}
	}
	return status
}

// GetContextInfo implements driver.Driver.
func (d *Driver) GetContextInfo(ctx driver.ContextID, param driver.ContextInfo, dst []byte) (int, driver.Status) {
	return info(C.fnGetContextInfo, uintptr(ctx), uint32(param), dst)
}

// CreateProgramWithSource implements driver.Driver.
func (d *Driver) CreateProgramWithSource(ctx driver.ContextID, sources []string) (driver.ProgramID, driver.Status) {
	if len(sources) == 0 {
		return 0, driver.InvalidValue
	}
	strs := make([]*C.char, len(sources))
	lengths := make([]C.size_t, len(sources))
	for i, source := range sources {
		strs[i] = C.CString(source)
		lengths[i] = C.size_t(len(source))
	}
	defer func() {
		for _, s := range strs {
			C.free(unsafe.Pointer(s))
		}
	}()
	var status C.cl_int
	program := C.gocl_create_program_with_source(C.uintptr_t(ctx), C.cl_uint(len(sources)), &strs[0], &lengths[0], &status)
	return driver.ProgramID(program), driver.Status(status)
}

// CreateProgramWithBinary implements driver.Driver.
func (d *Driver) CreateProgramWithBinary(ctx driver.ContextID, devices []driver.DeviceID, binaries [][]byte) (driver.ProgramID, driver.Status) {
	if len(devices) == 0 || len(devices) != len(binaries) {
		return 0, driver.InvalidValue
	}
	ptrs := make([]unsafe.Pointer, len(binaries))
	lengths := make([]C.size_t, len(binaries))
	for i, binary := range binaries {
		if len(binary) == 0 {
			return 0, driver.InvalidValue
		}
		ptrs[i] = C.CBytes(binary)
		lengths[i] = C.size_t(len(binary))
	}
	defer func() {
		for _, p := range ptrs {
			C.free(p)
		}
	}()
	var status C.cl_int
	program := C.gocl_create_program_with_binary(C.uintptr_t(ctx), C.cl_uint(len(devices)), handlesPtr(devices),
		&lengths[0], &ptrs[0], &status)
	return driver.ProgramID(program), driver.Status(status)
}

// BuildProgram implements driver.Driver. It blocks until the build finishes.
func (d *Driver) BuildProgram(program driver.ProgramID, devices []driver.DeviceID, options string) driver.Status {
	optionsC := C.CString(options)
	defer C.free(unsafe.Pointer(optionsC))
	return driver.Status(C.gocl_build_program(C.uintptr_t(program), C.cl_uint(len(devices)), handlesPtr(devices), optionsC))
}

// GetProgramInfo implements driver.Driver.
func (d *Driver) GetProgramInfo(program driver.ProgramID, param driver.ProgramInfo, dst []byte) (int, driver.Status) {
	return info(C.fnGetProgramInfo, uintptr(program), uint32(param), dst)
}

// GetProgramBuildInfo implements driver.Driver.
func (d *Driver) GetProgramBuildInfo(program driver.ProgramID, device driver.DeviceID, param driver.ProgramBuildInfo, dst []byte) (int, driver.Status) {
	var size C.size_t
	status := C.gocl_get_program_build_info(C.uintptr_t(program), C.uintptr_t(device), C.cl_uint(param),
		C.size_t(len(dst)), bytesPtr(dst), &size)
	return int(size), driver.Status(status)
}

// GetProgramBinary implements driver.Driver, over CL_PROGRAM_BINARY_SIZES and CL_PROGRAM_BINARIES, which
// return the binaries of all the devices of the program.
func (d *Driver) GetProgramBinary(program driver.ProgramID, device driver.DeviceID, dst []byte) (int, driver.Status) {
	size, status := d.GetProgramInfo(program, driver.ProgramDevices, nil)
	if status != driver.Success {
		return 0, status
	}
	devices := make([]driver.DeviceID, size/int(unsafe.Sizeof(driver.DeviceID(0))))
	if len(devices) == 0 {
		return 0, driver.InvalidProgram
	}
	if _, status = info(C.fnGetProgramInfo, uintptr(program), uint32(driver.ProgramDevices),
		unsafe.Slice((*byte)(unsafe.Pointer(&devices[0])), size)); status != driver.Success {
		return 0, status
	}
	index := -1
	for i, candidate := range devices {
		if candidate == device {
			index = i
			break
		}
	}
	if index < 0 {
		return 0, driver.InvalidDevice
	}

	binarySizes := make([]C.size_t, len(devices))
	if _, status = info(C.fnGetProgramInfo, uintptr(program), programBinarySizes,
		unsafe.Slice((*byte)(unsafe.Pointer(&binarySizes[0])), len(binarySizes)*int(unsafe.Sizeof(C.size_t(0))))); status != driver.Success {
		return 0, status
	}
	binarySize := int(binarySizes[index])
	if binarySize == 0 {
		// Not built for the device.
		return 0, driver.InvalidProgramExecutable
	}
	if dst == nil {
		return binarySize, driver.Success
	}
	if len(dst) < binarySize {
		return binarySize, driver.InvalidValue
	}

	// Only the entry of the requested device is non-NULL, the others are skipped by the runtime.
	binaries := make([]unsafe.Pointer, len(devices))
	binaries[index] = C.malloc(C.size_t(binarySize))
	defer C.free(binaries[index])
	if _, status = info(C.fnGetProgramInfo, uintptr(program), programBinaries,
		unsafe.Slice((*byte)(unsafe.Pointer(&binaries[0])), len(binaries)*int(unsafe.Sizeof(binaries[0])))); status != driver.Success {
		return 0, status
	}
	copy(dst, unsafe.Slice((*byte)(binaries[index]), binarySize))
	return binarySize, driver.Success
}

// ReleaseProgram implements driver.Driver.
func (d *Driver) ReleaseProgram(program driver.ProgramID) driver.Status {
	return driver.Status(C.gocl_call_obj(C.fnReleaseProgram, C.uintptr_t(program)))
}

// CreateKernel implements driver.Driver.
func (d *Driver) CreateKernel(program driver.ProgramID, name string) (driver.KernelID, driver.Status) {
	nameC := C.CString(name)
	defer C.free(unsafe.Pointer(nameC))
	var status C.cl_int
	kernel := C.gocl_create_kernel(C.uintptr_t(program), nameC, &status)
	return driver.KernelID(kernel), driver.Status(status)
}

// CreateKernelsInProgram implements driver.Driver.
func (d *Driver) CreateKernelsInProgram(program driver.ProgramID, dst []driver.KernelID) (int, driver.Status) {
	var count C.cl_uint
	status := C.gocl_create_kernels_in_program(C.uintptr_t(program), C.cl_uint(len(dst)), handlesPtr(dst), &count)
	return int(count), driver.Status(status)
}

// GetKernelInfo implements driver.Driver.
func (d *Driver) GetKernelInfo(kernel driver.KernelID, param driver.KernelInfo, dst []byte) (int, driver.Status) {
	return info(C.fnGetKernelInfo, uintptr(kernel), uint32(param), dst)
}

// GetKernelArgInfo implements driver.Driver. Most runtimes only have the information if the program was built
// with the option "-cl-kernel-arg-info".
func (d *Driver) GetKernelArgInfo(kernel driver.KernelID, index int, param driver.KernelArgInfo, dst []byte) (int, driver.Status) {
	var size C.size_t
	status := C.gocl_get_kernel_arg_info(C.uintptr_t(kernel), C.cl_uint(index), C.cl_uint(param),
		C.size_t(len(dst)), bytesPtr(dst), &size)
	return int(size), driver.Status(status)
}

// SetKernelArg implements driver.Driver. Scalar values are copied by the runtime during the call.
func (d *Driver) SetKernelArg(kernel driver.KernelID, index int, arg driver.KernelArg) driver.Status {
	k, i := C.uintptr_t(kernel), C.cl_uint(index)
	switch {
	case arg.Value != nil:
		return driver.Status(C.gocl_set_kernel_arg(k, i, C.size_t(len(arg.Value)), bytesPtr(arg.Value)))
	case arg.LocalSize > 0:
		return driver.Status(C.gocl_set_kernel_arg(k, i, C.size_t(arg.LocalSize), nil))
	default:
		// Mem 0 is a null pointer.
		return driver.Status(C.gocl_set_kernel_arg_mem(k, i, C.uintptr_t(arg.Mem)))
	}
}

// ReleaseKernel implements driver.Driver.
func (d *Driver) ReleaseKernel(kernel driver.KernelID) driver.Status {
	return driver.Status(C.gocl_call_obj(C.fnReleaseKernel, C.uintptr_t(kernel)))
}

// CreateBuffer implements driver.Driver. Go memory can't be used by the runtime after the call, so
// MemUseHostPtr is not supported.
func (d *Driver) CreateBuffer(ctx driver.ContextID, flags driver.MemFlags, size int, host []byte) (driver.MemID, driver.Status) {
	if flags&driver.MemUseHostPtr != 0 {
		return 0, driver.InvalidHostPtr
	}
	var hostPtr unsafe.Pointer
	if flags&driver.MemCopyHostPtr != 0 {
		if len(host) < size {
			return 0, driver.InvalidHostPtr
		}
		hostPtr = bytesPtr(host)
	}
	var status C.cl_int
	mem := C.gocl_create_buffer(C.uintptr_t(ctx), C.cl_mem_flags(flags), C.size_t(size), hostPtr, &status)
	return driver.MemID(mem), driver.Status(status)
}

// GetMemObjectInfo implements driver.Driver.
func (d *Driver) GetMemObjectInfo(mem driver.MemID, param driver.MemInfo, dst []byte) (int, driver.Status) {
	return info(C.fnGetMemObjectInfo, uintptr(mem), uint32(param), dst)
}

// ReleaseMemObject implements driver.Driver.
func (d *Driver) ReleaseMemObject(mem driver.MemID) driver.Status {
	return driver.Status(C.gocl_call_obj(C.fnReleaseMemObject, C.uintptr_t(mem)))
}

// CreateCommandQueue implements driver.Driver.
func (d *Driver) CreateCommandQueue(ctx driver.ContextID, device driver.DeviceID, properties driver.QueueProperties) (driver.QueueID, driver.Status) {
	var status C.cl_int
	queue := C.gocl_create_command_queue(C.uintptr_t(ctx), C.uintptr_t(device), C.cl_command_queue_properties(properties), &status)
	return driver.QueueID(queue), driver.Status(status)
}

// ReleaseCommandQueue implements driver.Driver. It finishes the queue first, so pending commands don't outlive
// the Go memory they use.
func (d *Driver) ReleaseCommandQueue(queue driver.QueueID) driver.Status {
	if status := d.Finish(queue); status != driver.Success {
		return status
	}
	return driver.Status(C.gocl_call_obj(C.fnReleaseCommandQueue, C.uintptr_t(queue)))
}

// EnqueueNDRangeKernel implements driver.Driver.
func (d *Driver) EnqueueNDRangeKernel(queue driver.QueueID, kernel driver.KernelID, globalOffset, globalSize, localSize []int,
	waitList []driver.EventID) (driver.EventID, driver.Status) {
	offset, global, local := sizes(globalOffset), sizes(globalSize), sizes(localSize)
	var event C.uintptr_t
	status := C.gocl_enqueue_nd_range_kernel(C.uintptr_t(queue), C.uintptr_t(kernel), C.cl_uint(len(global)),
		sizesPtr(offset), sizesPtr(global), sizesPtr(local), C.cl_uint(len(waitList)), handlesPtr(waitList), &event)
	return driver.EventID(event), driver.Status(status)
}

// transfer enqueues a read or a write. For non-blocking transfers the host memory is pinned until the event is
// released.
func (d *Driver) transfer(fn C.int, queue driver.QueueID, mem driver.MemID, blocking bool, offset int, host []byte,
	waitList []driver.EventID) (driver.EventID, driver.Status) {
	if len(host) == 0 {
		return 0, driver.InvalidValue
	}
	var pinner *runtime.Pinner
	if !blocking {
		pinner = &runtime.Pinner{}
		pinner.Pin(&host[0])
	}
	var blockingC C.cl_bool = C.CL_FALSE
	if blocking {
		blockingC = C.CL_TRUE
	}
	var event C.uintptr_t
	status := driver.Status(C.gocl_enqueue_transfer(fn, C.uintptr_t(queue), C.uintptr_t(mem), blockingC, C.size_t(offset),
		C.size_t(len(host)), unsafe.Pointer(&host[0]), C.cl_uint(len(waitList)), handlesPtr(waitList), &event))
	if pinner != nil {
		if status != driver.Success || event == 0 {
			pinner.Unpin()
		} else {
			d.mu.Lock()
			d.pinned[driver.EventID(event)] = pinner
			d.mu.Unlock()
		}
	}
	return driver.EventID(event), status
}

// EnqueueReadBuffer implements driver.Driver.
func (d *Driver) EnqueueReadBuffer(queue driver.QueueID, mem driver.MemID, blocking bool, offset int, dst []byte,
	waitList []driver.EventID) (driver.EventID, driver.Status) {
	return d.transfer(C.fnEnqueueReadBuffer, queue, mem, blocking, offset, dst, waitList)
}

// EnqueueWriteBuffer implements driver.Driver.
func (d *Driver) EnqueueWriteBuffer(queue driver.QueueID, mem driver.MemID, blocking bool, offset int, src []byte,
	waitList []driver.EventID) (driver.EventID, driver.Status) {
	return d.transfer(C.fnEnqueueWriteBuffer, queue, mem, blocking, offset, src, waitList)
}

// EnqueueBarrier implements driver.Driver.
func (d *Driver) EnqueueBarrier(queue driver.QueueID, waitList []driver.EventID) (driver.EventID, driver.Status) {
	var event C.uintptr_t
	status := C.gocl_enqueue_barrier(C.uintptr_t(queue), C.cl_uint(len(waitList)), handlesPtr(waitList), &event)
	return driver.EventID(event), driver.Status(status)
}

// Flush implements driver.Driver.
func (d *Driver) Flush(queue driver.QueueID) driver.Status {
	return driver.Status(C.gocl_call_obj(C.fnFlush, C.uintptr_t(queue)))
}

// Finish implements driver.Driver.
func (d *Driver) Finish(queue driver.QueueID) driver.Status {
	return driver.Status(C.gocl_call_obj(C.fnFinish, C.uintptr_t(queue)))
}

// WaitForEvents implements driver.Driver.
func (d *Driver) WaitForEvents(events []driver.EventID) driver.Status {
	if len(events) == 0 {
		return driver.InvalidValue
	}
	return driver.Status(C.gocl_wait_for_events(C.cl_uint(len(events)), handlesPtr(events)))
}

// GetEventInfo implements driver.Driver.
func (d *Driver) GetEventInfo(event driver.EventID, param driver.EventInfo, dst []byte) (int, driver.Status) {
	return info(C.fnGetEventInfo, uintptr(event), uint32(param), dst)
}

// ReleaseEvent implements driver.Driver. If the event is of a non-blocking transfer, it first waits for the
// transfer to finish and unpins its host memory.
func (d *Driver) ReleaseEvent(event driver.EventID) driver.Status {
	d.mu.Lock()
	pinner := d.pinned[event]
	delete(d.pinned, event)
	d.mu.Unlock()
	if pinner != nil {
		if status := d.WaitForEvents([]driver.EventID{event}); status != driver.Success {
			// A failed transfer is finished too.
			klog.V(1).Infof("opencl: transfer of event 0x%x failed: %s", uintptr(event), status)
		}
		pinner.Unpin()
	}
	return driver.Status(C.gocl_call_obj(C.fnReleaseEvent, C.uintptr_t(event)))
}
