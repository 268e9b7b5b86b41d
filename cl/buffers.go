package cl

import (
	"fmt"

	"github.com/gomlx/gocl/cl/driver"
	"github.com/gomlx/gocl/dtypes"
	"github.com/pkg/errors"
)

// AccessMode of a Buffer, as seen by kernels.
type AccessMode int

const (
	ReadWrite AccessMode = iota
	ReadOnly
	WriteOnly
)

// String implements fmt.Stringer.
func (m AccessMode) String() string {
	switch m {
	case ReadWrite:
		return "ReadWrite"
	case ReadOnly:
		return "ReadOnly"
	case WriteOnly:
		return "WriteOnly"
	}
	return fmt.Sprintf("AccessMode(%d)", int(m))
}

func (m AccessMode) flags() (driver.MemFlags, error) {
	switch m {
	case ReadWrite:
		return driver.MemReadWrite, nil
	case ReadOnly:
		return driver.MemReadOnly, nil
	case WriteOnly:
		return driver.MemWriteOnly, nil
	}
	return 0, errors.Errorf("invalid access mode %s", m)
}

// Buffer is a region of memory owned by a Context, accessible to kernels of the context's devices.
//
// Its contents are moved to and from the host with Queue.EnqueueWrite and Queue.EnqueueRead.
type Buffer struct {
	ctx    *Context
	h      *handle[driver.MemID]
	size   int
	access AccessMode
	dtype  dtypes.DType
}

// BufferConfig configures the creation of a Buffer. It is created with Context.NewBuffer, and the buffer is
// created when Done is called.
type BufferConfig struct {
	ctx    *Context
	access AccessMode
	size   int
	data   []byte
	dtype  dtypes.DType

	// err stores the first error that happened during configuration.
	// If it is not nil, it is immediately returned by the Done call.
	err error
}

// NewBuffer returns a builder to configure and create a new Buffer. The access mode defaults to ReadWrite.
//
// Either the size (WithSize) or the initial contents (FromRawData or FromFlatData) must be given.
func (c *Context) NewBuffer() *BufferConfig {
	return &BufferConfig{ctx: c}
}

// WithAccess sets the access mode of the buffer.
func (cfg *BufferConfig) WithAccess(mode AccessMode) *BufferConfig {
	cfg.access = mode
	return cfg
}

// WithSize sets the size of the buffer in bytes. If initial contents are also given, they must be no larger.
func (cfg *BufferConfig) WithSize(size int) *BufferConfig {
	if cfg.err != nil {
		return cfg
	}
	if size <= 0 {
		cfg.err = errors.Errorf("NewBuffer().WithSize(%d): size must be positive", size)
		return cfg
	}
	cfg.size = size
	return cfg
}

// WithDType sets the dtype of the buffer elements, returned by Buffer.DType. It is informative only.
func (cfg *BufferConfig) WithDType(dtype dtypes.DType) *BufferConfig {
	cfg.dtype = dtype
	return cfg
}

// FromRawData sets the initial contents of the buffer, copied once when the buffer is created.
// The dtype is informative, it is returned by Buffer.DType.
func (cfg *BufferConfig) FromRawData(data []byte, dtype dtypes.DType) *BufferConfig {
	if cfg.err != nil {
		return cfg
	}
	if len(data) == 0 {
		cfg.err = errors.New("NewBuffer().FromRawData() given no data")
		return cfg
	}
	cfg.data = data
	cfg.dtype = dtype
	return cfg
}

// FromFlatData sets the initial contents of the buffer from a slice of a supported type, e.g. []float32.
func (cfg *BufferConfig) FromFlatData(flat any) *BufferConfig {
	if cfg.err != nil {
		return cfg
	}
	data, dtype, err := dtypes.AnyFlatToRaw(flat)
	if err != nil {
		cfg.err = errors.WithMessage(err, "NewBuffer().FromFlatData()")
		return cfg
	}
	return cfg.FromRawData(data, dtype)
}

// Done creates the buffer.
//
// Write-only buffers can't be given initial contents, and their contents are undefined until written by a
// kernel.
func (cfg *BufferConfig) Done() (*Buffer, error) {
	if cfg.err != nil {
		return nil, cfg.err
	}
	c := cfg.ctx
	if err := c.check(); err != nil {
		return nil, err
	}
	flags, err := cfg.access.flags()
	if err != nil {
		return nil, err
	}
	size := cfg.size
	if cfg.data != nil {
		if cfg.access == WriteOnly {
			return nil, errors.New("write-only buffers can't be created with initial contents")
		}
		if size == 0 {
			size = len(cfg.data)
		} else if len(cfg.data) > size {
			return nil, errors.Errorf("initial contents of %d bytes larger than the buffer size %d", len(cfg.data), size)
		}
		flags |= driver.MemCopyHostPtr
	}
	if size == 0 {
		return nil, errors.New("NewBuffer() requires WithSize or initial contents")
	}
	host := cfg.data
	if host != nil && len(host) < size {
		// Zero-padded to the full size.
		host = make([]byte, size)
		copy(host, cfg.data)
	}
	id, status := c.state.drv.CreateBuffer(c.state.id, flags, size, host)
	if err := statusError("CreateBuffer", status); err != nil {
		return nil, errors.WithMessagef(err, "failed to create %s buffer of %d bytes", cfg.access, size)
	}
	b := &Buffer{ctx: c, size: size, access: cfg.access, dtype: cfg.dtype}
	b.h = newHandle(b, c.state, id, &buffersAlive, "ReleaseMemObject", c.state.drv.ReleaseMemObject)
	return b, nil
}

// NewBufferOfSize creates a buffer of size bytes with undefined contents.
func (c *Context) NewBufferOfSize(mode AccessMode, size int) (*Buffer, error) {
	return c.NewBuffer().WithAccess(mode).WithSize(size).Done()
}

// ArrayToBuffer creates a buffer initialized with a copy of flat.
func ArrayToBuffer[T dtypes.Supported](c *Context, mode AccessMode, flat []T) (*Buffer, error) {
	if len(flat) == 0 {
		return nil, errors.New("ArrayToBuffer given an empty slice")
	}
	data, dtype := dtypes.FlatToRaw(flat)
	return c.NewBuffer().WithAccess(mode).FromRawData(data, dtype).Done()
}

// NewArrayBuffer creates a buffer to hold n values of type T, with undefined contents.
func NewArrayBuffer[T dtypes.Supported](c *Context, mode AccessMode, n int) (*Buffer, error) {
	dtype := dtypes.FromGenericsType[T]()
	return c.NewBuffer().WithAccess(mode).WithDType(dtype).WithSize(n * dtype.Size()).Done()
}

// check returns an error if the buffer or its context were released.
func (b *Buffer) check() error {
	if b == nil || !b.h.valid() {
		return releasedError("Buffer")
	}
	return nil
}

// Size of the buffer in bytes.
func (b *Buffer) Size() int { return b.size }

// Access mode of the buffer.
func (b *Buffer) Access() AccessMode { return b.access }

// DType of the buffer elements, if it was created from typed data. Otherwise, it is dtypes.InvalidDType.
func (b *Buffer) DType() dtypes.DType { return b.dtype }

// Context owning the buffer.
func (b *Buffer) Context() *Context { return b.ctx }

// Release the buffer. It is a no-op if already released.
//
// Kernels that had the buffer bound to an argument fail to be enqueued until the argument is set again.
func (b *Buffer) Release() error {
	if b == nil {
		return nil
	}
	return b.h.destroy()
}

// String implements fmt.Stringer.
func (b *Buffer) String() string {
	if b == nil {
		return "Buffer(nil)"
	}
	if b.dtype != dtypes.InvalidDType {
		return fmt.Sprintf("Buffer(%s, %d x %s)", b.access, b.size/b.dtype.Size(), b.dtype)
	}
	return fmt.Sprintf("Buffer(%s, %d bytes)", b.access, b.size)
}
