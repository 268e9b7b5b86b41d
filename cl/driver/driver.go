// Package driver defines the low-level interface between the cl package and a compute runtime.
//
// A Driver is a function table with the semantics of the OpenCL host API: opaque handles, numeric Status codes,
// list calls that take the requested capacity as the destination length, and the two-call size-then-fetch
// protocol for variable sized attributes (see FillInfo).
//
// Users usually don't need this package directly, except to register a new driver (see Register) or to write
// a test double.
package driver

// Opaque handles to runtime objects. The zero value is never a valid handle.
type (
	PlatformID uintptr
	DeviceID   uintptr
	ContextID  uintptr
	ProgramID  uintptr
	KernelID   uintptr
	MemID      uintptr
	QueueID    uintptr
	EventID    uintptr
)

// NotifyFunc receives asynchronous error reports of a context. It may be called from any goroutine.
type NotifyFunc func(errInfo string)

// KernelArg is the value of one kernel argument slot. Exactly one of the fields should be set.
type KernelArg struct {
	// Mem is set for buffer (pointer) arguments.
	Mem MemID

	// Value holds the bytes of a scalar argument, in host byte order.
	Value []byte

	// LocalSize is the number of bytes to allocate per work-group for a __local pointer argument.
	LocalSize int
}

// Driver is the table of runtime calls. Implementations must be safe for concurrent use.
type Driver interface {
	// Name of the driver, e.g. "host" or "opencl".
	Name() string

	// GetPlatformIDs fills up to len(dst) platforms and returns the number of available platforms.
	// dst may be nil to only count.
	GetPlatformIDs(dst []PlatformID) (numPlatforms int, status Status)
	GetPlatformInfo(platform PlatformID, param PlatformInfo, dst []byte) (size int, status Status)

	// GetDeviceIDs fills up to len(dst) devices of the platform matching deviceType and returns the number of
	// matching devices. It returns DeviceNotFound if there are none.
	GetDeviceIDs(platform PlatformID, deviceType DeviceType, dst []DeviceID) (numDevices int, status Status)
	GetDeviceInfo(device DeviceID, param DeviceInfo, dst []byte) (size int, status Status)

	// CreateContext creates a context with reference count 1.
	CreateContext(devices []DeviceID, notify NotifyFunc) (ContextID, Status)
	RetainContext(ctx ContextID) Status
	ReleaseContext(ctx ContextID) Status
	GetContextInfo(ctx ContextID, param ContextInfo, dst []byte) (size int, status Status)

	CreateProgramWithSource(ctx ContextID, sources []string) (ProgramID, Status)
	CreateProgramWithBinary(ctx ContextID, devices []DeviceID, binaries [][]byte) (ProgramID, Status)
	BuildProgram(program ProgramID, devices []DeviceID, options string) Status
	GetProgramInfo(program ProgramID, param ProgramInfo, dst []byte) (size int, status Status)
	GetProgramBuildInfo(program ProgramID, device DeviceID, param ProgramBuildInfo, dst []byte) (size int, status Status)

	// GetProgramBinary follows the size-then-fetch protocol for the binary of the program built for device.
	GetProgramBinary(program ProgramID, device DeviceID, dst []byte) (size int, status Status)
	ReleaseProgram(program ProgramID) Status

	CreateKernel(program ProgramID, name string) (KernelID, Status)

	// CreateKernelsInProgram fills up to len(dst) kernels, one per entry point, and returns the number of entry
	// points of the program.
	CreateKernelsInProgram(program ProgramID, dst []KernelID) (numKernels int, status Status)
	GetKernelInfo(kernel KernelID, param KernelInfo, dst []byte) (size int, status Status)
	GetKernelArgInfo(kernel KernelID, index int, param KernelArgInfo, dst []byte) (size int, status Status)
	SetKernelArg(kernel KernelID, index int, arg KernelArg) Status
	ReleaseKernel(kernel KernelID) Status

	// CreateBuffer allocates size bytes. If flags has MemCopyHostPtr, host is copied into the buffer.
	CreateBuffer(ctx ContextID, flags MemFlags, size int, host []byte) (MemID, Status)
	GetMemObjectInfo(mem MemID, param MemInfo, dst []byte) (size int, status Status)
	ReleaseMemObject(mem MemID) Status

	CreateCommandQueue(ctx ContextID, device DeviceID, properties QueueProperties) (QueueID, Status)
	ReleaseCommandQueue(queue QueueID) Status

	// EnqueueNDRangeKernel launches the kernel over globalSize work-items. globalOffset and localSize may be nil.
	EnqueueNDRangeKernel(queue QueueID, kernel KernelID, globalOffset, globalSize, localSize []int, waitList []EventID) (EventID, Status)

	// EnqueueReadBuffer copies len(dst) bytes starting at offset from the buffer to dst.
	// If blocking is false, dst must not be accessed until the returned event completes.
	EnqueueReadBuffer(queue QueueID, mem MemID, blocking bool, offset int, dst []byte, waitList []EventID) (EventID, Status)

	// EnqueueWriteBuffer copies src to the buffer starting at offset.
	// If blocking is false, src must not be modified until the returned event completes.
	EnqueueWriteBuffer(queue QueueID, mem MemID, blocking bool, offset int, src []byte, waitList []EventID) (EventID, Status)

	// EnqueueBarrier returns an event that completes when the events in waitList (or, if empty, every command
	// enqueued before it) complete. Later commands don't start before it completes.
	EnqueueBarrier(queue QueueID, waitList []EventID) (EventID, Status)
	Flush(queue QueueID) Status
	Finish(queue QueueID) Status

	WaitForEvents(events []EventID) Status
	GetEventInfo(event EventID, param EventInfo, dst []byte) (size int, status Status)
	ReleaseEvent(event EventID) Status
}
