// Package opencl registers the "opencl" driver (alias "icd"), a binding to the system OpenCL ICD loader.
//
// The loader library (libOpenCL.so.1) is loaded with dlopen the first time the driver is opened, so binaries
// don't link against it and run on machines without OpenCL, as long as the driver isn't used. The library is
// searched in the paths of LD_LIBRARY_PATH and /etc/ld.so.conf, or taken from the environment variable
// GOCL_OPENCL_LIBRARY if set.
//
// The binding requires cgo and the OpenCL headers (CL/cl.h), and is only compiled with the build tag "opencl":
//
//	go build -tags opencl ./...
//
// Only Linux is supported. Without the tag the driver is still registered, but opening it returns ErrNotBuilt.
//
// Import it for its side effect:
//
//	import _ "github.com/gomlx/gocl/cl/opencl"
package opencl

// DriverName under which the driver is registered.
const DriverName = "opencl"

// LibraryEnv is the environment variable with the path of the OpenCL ICD loader library.
const LibraryEnv = "GOCL_OPENCL_LIBRARY"

// LibraryNames are tried in order, in each of the library paths, when LibraryEnv is not set.
var LibraryNames = []string{"libOpenCL.so.1", "libOpenCL.so"}
