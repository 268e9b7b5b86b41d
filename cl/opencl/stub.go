//go:build !opencl

package opencl

import (
	"github.com/gomlx/gocl/cl/driver"
	"github.com/pkg/errors"
)

// ErrNotBuilt is returned when opening the driver in a binary built without the "opencl" build tag.
var ErrNotBuilt = errors.New("the opencl driver requires building with '-tags opencl' (and cgo)")

func init() {
	driver.Register(DriverName, func() (driver.Driver, error) {
		return nil, errors.WithStack(ErrNotBuilt)
	})
}
