package cl

import (
	"fmt"
	"strings"

	"github.com/gomlx/gocl/cl/driver"
	"github.com/pkg/errors"
)

// Error categories. Errors returned by the package can be tested against them with errors.Is.
var (
	// ErrDiscovery is returned when no platform or device is found, or querying them fails.
	ErrDiscovery = errors.New("platform/device discovery failed")

	// ErrContextCreation is returned when the device list of a new context is empty, spans more than one
	// platform, or the driver fails to create the context.
	ErrContextCreation = errors.New("context creation failed")

	// ErrModuleCreation is returned when the module source is empty or rejected by the driver.
	ErrModuleCreation = errors.New("module creation failed")

	// ErrBuildFailure is wrapped by *BuildError.
	ErrBuildFailure = errors.New("module build failed")

	// ErrInvalidModuleState is returned for operations that require a module built successfully.
	ErrInvalidModuleState = errors.New("module not built successfully")

	// ErrUnboundArgument is returned when a kernel is enqueued with some arguments not set.
	ErrUnboundArgument = errors.New("unbound kernel argument")

	// ErrNameTooLong is returned when looking up a kernel name longer than MaxKernelNameLength.
	ErrNameTooLong = errors.New("kernel name too long")

	// ErrTransfer is returned when a buffer read or write fails.
	ErrTransfer = errors.New("buffer transfer failed")

	// ErrReleased is returned when using an object after it (or its Context) was released.
	ErrReleased = errors.New("object used after release")
)

// StatusError is an error status returned by a driver call.
type StatusError struct {
	Call   string
	Status driver.Status
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %s (%d)", e.Call, e.Status, int32(e.Status))
}

// statusError returns a *StatusError with a stack trace, or nil if status is Success.
func statusError(call string, status driver.Status) error {
	if status.Ok() {
		return nil
	}
	return errors.WithStack(&StatusError{Call: call, Status: status})
}

// categorized places an error in one of the error categories, while keeping the original error (e.g. a
// *StatusError) available to errors.As.
type categorized struct {
	category error
	cause    error
}

func (e *categorized) Error() string {
	return e.category.Error() + ": " + e.cause.Error()
}

func (e *categorized) Unwrap() []error {
	return []error{e.category, e.cause}
}

// Format implements fmt.Formatter, so "%+v" prints the stack trace of the cause.
func (e *categorized) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		_, _ = fmt.Fprintf(s, "%s: %+v", e.category.Error(), e.cause)
		return
	}
	_, _ = fmt.Fprint(s, e.Error())
}

// inCategory returns err in the given category, or nil if err is nil.
func inCategory(category, err error) error {
	if err == nil {
		return nil
	}
	return &categorized{category: category, cause: err}
}

// releasedError reports the use of a released object.
func releasedError(what string) error {
	return errors.Wrapf(ErrReleased, "%s is nil or released -- has it been released already?", what)
}

// DeviceLog is the build log of a module for one device.
type DeviceLog struct {
	Device *Device
	Status driver.BuildStatus
	Log    string
}

// BuildError is returned when a module fails to build. It holds the build log of every device the module
// was built for.
type BuildError struct {
	// Status returned by the build call, usually CL_BUILD_PROGRAM_FAILURE.
	Status driver.Status
	Logs   []DeviceLog
}

// Error implements error. It includes the logs of the devices where the build failed.
func (e *BuildError) Error() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "%s (%s)", ErrBuildFailure, e.Status)
	for _, l := range e.Logs {
		if l.Status == driver.BuildSuccess {
			continue
		}
		_, _ = fmt.Fprintf(&sb, "\n%s (%s):\n%s", l.Device.Name(), l.Status, strings.TrimRight(l.Log, "\n"))
	}
	return sb.String()
}

// Unwrap makes errors.Is(err, ErrBuildFailure) true.
func (e *BuildError) Unwrap() error {
	return ErrBuildFailure
}

// Log returns the build log for the given device, or "" if there is none.
func (e *BuildError) Log(device *Device) string {
	for _, l := range e.Logs {
		if l.Device == device {
			return l.Log
		}
	}
	return ""
}
