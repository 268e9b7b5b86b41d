package driver

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// The info parameter names take the numeric values of the OpenCL API, so drivers binding a real runtime can
// forward them untouched.

// PlatformInfo selects the platform attribute to query with Driver.GetPlatformInfo. All are strings.
type PlatformInfo uint32

const (
	PlatformProfile    PlatformInfo = 0x0900
	PlatformVersion    PlatformInfo = 0x0901
	PlatformName       PlatformInfo = 0x0902
	PlatformVendor     PlatformInfo = 0x0903
	PlatformExtensions PlatformInfo = 0x0904
)

// DeviceType is a bit-field of device kinds, used both as a device attribute and as a filter.
type DeviceType uint64

const (
	DeviceTypeDefault     DeviceType = 1 << 0
	DeviceTypeCPU         DeviceType = 1 << 1
	DeviceTypeGPU         DeviceType = 1 << 2
	DeviceTypeAccelerator DeviceType = 1 << 3
	DeviceTypeCustom      DeviceType = 1 << 4
	DeviceTypeAll         DeviceType = 0xFFFFFFFF
)

// String implements fmt.Stringer.
func (t DeviceType) String() string {
	if t == DeviceTypeAll {
		return "ALL"
	}
	var parts []string
	for _, entry := range []struct {
		bit  DeviceType
		name string
	}{
		{DeviceTypeDefault, "DEFAULT"},
		{DeviceTypeCPU, "CPU"},
		{DeviceTypeGPU, "GPU"},
		{DeviceTypeAccelerator, "ACCELERATOR"},
		{DeviceTypeCustom, "CUSTOM"},
	} {
		if t&entry.bit != 0 {
			parts = append(parts, entry.name)
		}
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

// DeviceInfo selects the device attribute to query with Driver.GetDeviceInfo.
type DeviceInfo uint32

const (
	DeviceTypeInfo              DeviceInfo = 0x1000 // DeviceType, uint64.
	DeviceVendorID              DeviceInfo = 0x1001 // uint32.
	DeviceMaxComputeUnits       DeviceInfo = 0x1002 // uint32.
	DeviceMaxWorkItemDimensions DeviceInfo = 0x1003 // uint32.
	DeviceMaxWorkGroupSize      DeviceInfo = 0x1004 // size_t.
	DeviceAddressBits           DeviceInfo = 0x100D // uint32.
	DeviceMaxMemAllocSize       DeviceInfo = 0x1010 // uint64.
	DeviceGlobalMemSize         DeviceInfo = 0x101F // uint64.
	DeviceLocalMemSize          DeviceInfo = 0x1023 // uint64.
	DeviceAvailable             DeviceInfo = 0x1027 // bool, uint32.
	DeviceCompilerAvailable     DeviceInfo = 0x1028 // bool, uint32.
	DeviceName                  DeviceInfo = 0x102B // string.
	DeviceVendor                DeviceInfo = 0x102C // string.
	DriverVersion               DeviceInfo = 0x102D // string.
	DeviceProfile               DeviceInfo = 0x102E // string.
	DeviceVersion               DeviceInfo = 0x102F // string.
	DeviceExtensions            DeviceInfo = 0x1030 // string.
	DevicePlatform              DeviceInfo = 0x1031 // PlatformID.
)

// ContextInfo selects the context attribute to query with Driver.GetContextInfo.
type ContextInfo uint32

const (
	ContextReferenceCount ContextInfo = 0x1080 // uint32.
	ContextDevices        ContextInfo = 0x1081 // []DeviceID.
	ContextNumDevices     ContextInfo = 0x1083 // uint32.
)

// ProgramInfo selects the program attribute to query with Driver.GetProgramInfo.
type ProgramInfo uint32

const (
	ProgramReferenceCount ProgramInfo = 0x1160 // uint32.
	ProgramNumDevices     ProgramInfo = 0x1162 // uint32.
	ProgramDevices        ProgramInfo = 0x1163 // []DeviceID.
	ProgramSource         ProgramInfo = 0x1164 // string.
	ProgramNumKernels     ProgramInfo = 0x1167 // size_t.
	ProgramKernelNames    ProgramInfo = 0x1168 // string, ";" separated.
)

// ProgramBuildInfo selects the per-device build attribute to query with Driver.GetProgramBuildInfo.
type ProgramBuildInfo uint32

const (
	ProgramBuildStatus  ProgramBuildInfo = 0x1181 // BuildStatus, int32.
	ProgramBuildOptions ProgramBuildInfo = 0x1182 // string.
	ProgramBuildLog     ProgramBuildInfo = 0x1183 // string.
)

// BuildStatus of a program for one device.
type BuildStatus int32

const (
	BuildSuccess    BuildStatus = 0
	BuildNone       BuildStatus = -1
	BuildError      BuildStatus = -2
	BuildInProgress BuildStatus = -3
)

// String implements fmt.Stringer.
func (s BuildStatus) String() string {
	switch s {
	case BuildSuccess:
		return "CL_BUILD_SUCCESS"
	case BuildNone:
		return "CL_BUILD_NONE"
	case BuildError:
		return "CL_BUILD_ERROR"
	case BuildInProgress:
		return "CL_BUILD_IN_PROGRESS"
	default:
		return "CL_BUILD_UNKNOWN"
	}
}

// KernelInfo selects the kernel attribute to query with Driver.GetKernelInfo.
type KernelInfo uint32

const (
	KernelFunctionName   KernelInfo = 0x1190 // string.
	KernelNumArgs        KernelInfo = 0x1191 // uint32.
	KernelReferenceCount KernelInfo = 0x1192 // uint32.
	KernelAttributes     KernelInfo = 0x1195 // string.
)

// KernelArgInfo selects the kernel argument attribute to query with Driver.GetKernelArgInfo.
type KernelArgInfo uint32

const (
	KernelArgAddressQualifier KernelArgInfo = 0x1196 // AddressQualifier, uint32.
	KernelArgAccessQualifier  KernelArgInfo = 0x1197 // uint32.
	KernelArgTypeName         KernelArgInfo = 0x1198 // string.
	KernelArgTypeQualifier    KernelArgInfo = 0x1199 // uint64 bit-field.
	KernelArgName             KernelArgInfo = 0x119A // string.
)

// AddressQualifier of a kernel argument.
type AddressQualifier uint32

const (
	AddressGlobal   AddressQualifier = 0x119B
	AddressLocal    AddressQualifier = 0x119C
	AddressConstant AddressQualifier = 0x119D
	AddressPrivate  AddressQualifier = 0x119E
)

// String implements fmt.Stringer.
func (q AddressQualifier) String() string {
	switch q {
	case AddressGlobal:
		return "__global"
	case AddressLocal:
		return "__local"
	case AddressConstant:
		return "__constant"
	case AddressPrivate:
		return "__private"
	default:
		return "unknown"
	}
}

// Kernel argument type qualifiers, bits of KernelArgTypeQualifier.
const (
	TypeQualifierNone     uint64 = 0
	TypeQualifierConst    uint64 = 1 << 0
	TypeQualifierRestrict uint64 = 1 << 1
	TypeQualifierVolatile uint64 = 1 << 2
)

// MemInfo selects the memory object attribute to query with Driver.GetMemObjectInfo.
type MemInfo uint32

const (
	MemFlagsInfo      MemInfo = 0x1101 // MemFlags, uint64.
	MemSize           MemInfo = 0x1102 // size_t.
	MemReferenceCount MemInfo = 0x1105 // uint32.
)

// MemFlags is a bit-field of buffer creation flags.
type MemFlags uint64

const (
	MemReadWrite    MemFlags = 1 << 0
	MemWriteOnly    MemFlags = 1 << 1
	MemReadOnly     MemFlags = 1 << 2
	MemUseHostPtr   MemFlags = 1 << 3
	MemAllocHostPtr MemFlags = 1 << 4
	MemCopyHostPtr  MemFlags = 1 << 5
)

// QueueProperties is a bit-field of command-queue properties.
type QueueProperties uint64

const (
	QueueOutOfOrderExecModeEnable QueueProperties = 1 << 0
	QueueProfilingEnable          QueueProperties = 1 << 1
)

// EventInfo selects the event attribute to query with Driver.GetEventInfo.
type EventInfo uint32

const (
	EventCommandType            EventInfo = 0x11D1 // CommandType, uint32.
	EventReferenceCount         EventInfo = 0x11D2 // uint32.
	EventCommandExecutionStatus EventInfo = 0x11D3 // ExecutionStatus, int32.
)

// ExecutionStatus of the command associated with an event. Negative values are error Status codes.
type ExecutionStatus int32

const (
	ExecComplete  ExecutionStatus = 0
	ExecRunning   ExecutionStatus = 1
	ExecSubmitted ExecutionStatus = 2
	ExecQueued    ExecutionStatus = 3
)

// String implements fmt.Stringer.
func (s ExecutionStatus) String() string {
	switch {
	case s == ExecComplete:
		return "CL_COMPLETE"
	case s == ExecRunning:
		return "CL_RUNNING"
	case s == ExecSubmitted:
		return "CL_SUBMITTED"
	case s == ExecQueued:
		return "CL_QUEUED"
	default:
		return Status(s).String()
	}
}

// CommandType of an event.
type CommandType uint32

const (
	CommandNDRangeKernel CommandType = 0x11F0
	CommandReadBuffer    CommandType = 0x11F3
	CommandWriteBuffer   CommandType = 0x11F4
	CommandMarker        CommandType = 0x11FE
	CommandBarrier       CommandType = 0x1205
)

// String implements fmt.Stringer.
func (t CommandType) String() string {
	switch t {
	case CommandNDRangeKernel:
		return "CL_COMMAND_NDRANGE_KERNEL"
	case CommandReadBuffer:
		return "CL_COMMAND_READ_BUFFER"
	case CommandWriteBuffer:
		return "CL_COMMAND_WRITE_BUFFER"
	case CommandMarker:
		return "CL_COMMAND_MARKER"
	case CommandBarrier:
		return "CL_COMMAND_BARRIER"
	}
	return fmt.Sprintf("CommandType(0x%X)", uint32(t))
}

// Helpers to encode info values, used by drivers implemented in Go.

// InfoString encodes s as a NUL-terminated string.
func InfoString(s string) []byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b
}

// InfoUint32 encodes v as a little-endian uint32.
func InfoUint32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

// InfoUint64 encodes v as a little-endian uint64. size_t values are also encoded with 8 bytes.
func InfoUint64(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, v)
}

// InfoBool encodes v as a uint32 0 or 1.
func InfoBool(v bool) []byte {
	if v {
		return InfoUint32(1)
	}
	return InfoUint32(0)
}

// InfoHandles encodes a list of handles as little-endian uint64 values.
func InfoHandles[H ~uintptr](handles []H) []byte {
	b := make([]byte, 0, 8*len(handles))
	for _, h := range handles {
		b = binary.LittleEndian.AppendUint64(b, uint64(h))
	}
	return b
}

// FillInfo implements the size-then-fetch protocol for drivers in Go: if dst is nil it only returns the size of
// value, otherwise it copies value to dst, failing with InvalidValue if dst is too small.
func FillInfo(value []byte, dst []byte) (int, Status) {
	if dst == nil {
		return len(value), Success
	}
	if len(dst) < len(value) {
		return len(value), InvalidValue
	}
	copy(dst, value)
	return len(value), Success
}
